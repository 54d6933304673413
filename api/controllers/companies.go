package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/billingz-backend/api/middleware"
	"github.com/angelmondragon/billingz-backend/api/responses"
	"github.com/angelmondragon/billingz-backend/api/validators"
	"github.com/angelmondragon/billingz-backend/internal/companies"
	"github.com/angelmondragon/billingz-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/billingz-backend/pkg/errors"
	"github.com/angelmondragon/billingz-backend/pkg/logger"
)

// CompanyService describes the company methods used by the HTTP controllers.
type CompanyService interface {
	Create(ctx context.Context, input companies.CreateCompanyInput) (*companies.CreatedCompany, error)
	Get(ctx context.Context, callerID, id uuid.UUID) (*models.Company, error)
	Update(ctx context.Context, callerID uuid.UUID, input companies.UpdateCompanyInput) (*models.Company, error)
	Delete(ctx context.Context, callerID, id uuid.UUID) error
}

type companyResponse struct {
	ID        string `json:"guid"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

type companyCreatedResponse struct {
	companyResponse
	APIKey      string `json:"api_key"`
	CallbackKey string `json:"callback_key"`
}

// CompanyCreate registers a tenant. This is the only unauthenticated write;
// the API key in the response is shown exactly once.
func CompanyCreate(svc CompanyService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var payload companies.CreateCompanyInput
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		created, err := svc.Create(ctx, payload)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, companyCreatedResponse{
			companyResponse: companyToResponse(created.Company),
			APIKey:          created.APIKey,
			CallbackKey:     created.CallbackKey,
		})
	}
}

func CompanyDetail(svc CompanyService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		caller := middleware.CompanyFromContext(ctx)
		if caller == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
			return
		}

		id, err := parseUUIDParam(r, "companyId")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		company, err := svc.Get(ctx, caller.ID, id)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, companyToResponse(company))
	}
}

func CompanyUpdate(svc CompanyService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		caller := middleware.CompanyFromContext(ctx)
		if caller == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
			return
		}

		id, err := parseUUIDParam(r, "companyId")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		var payload companies.UpdateCompanyInput
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		payload.ID = id

		company, err := svc.Update(ctx, caller.ID, payload)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, companyToResponse(company))
	}
}

func CompanyDelete(svc CompanyService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		caller := middleware.CompanyFromContext(ctx)
		if caller == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
			return
		}

		id, err := parseUUIDParam(r, "companyId")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		if err := svc.Delete(ctx, caller.ID, id); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

func companyToResponse(company *models.Company) companyResponse {
	return companyResponse{
		ID:        company.ID.String(),
		Name:      company.Name,
		CreatedAt: company.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt: company.UpdatedAt.UTC().Format(time.RFC3339),
	}
}
