package controllers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/billingz-backend/api/middleware"
	"github.com/angelmondragon/billingz-backend/api/responses"
	"github.com/angelmondragon/billingz-backend/api/validators"
	"github.com/angelmondragon/billingz-backend/internal/customers"
	"github.com/angelmondragon/billingz-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/billingz-backend/pkg/errors"
	"github.com/angelmondragon/billingz-backend/pkg/logger"
	"github.com/angelmondragon/billingz-backend/pkg/pagination"
)

// CustomerService describes the customer methods used by the HTTP controllers.
type CustomerService interface {
	Create(ctx context.Context, companyID uuid.UUID, input customers.CreateCustomerInput) (*models.Customer, error)
	Get(ctx context.Context, companyID, id uuid.UUID) (*models.Customer, error)
	List(ctx context.Context, companyID uuid.UUID, params pagination.Params) ([]models.Customer, string, error)
	Delete(ctx context.Context, companyID, id uuid.UUID) error
}

type customerResponse struct {
	ID           string  `json:"guid"`
	CompanyID    string  `json:"company_guid"`
	ProcessorURI *string `json:"processor_uri,omitempty"`
	CreatedAt    string  `json:"created_at"`
	UpdatedAt    string  `json:"updated_at"`
}

type customerListResponse struct {
	Customers  []customerResponse `json:"customers"`
	NextCursor string             `json:"next_cursor,omitempty"`
}

func CustomerCreate(svc CustomerService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		company := middleware.CompanyFromContext(ctx)
		if company == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
			return
		}

		var payload customers.CreateCustomerInput
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		customer, err := svc.Create(ctx, company.ID, payload)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, customerToResponse(customer))
	}
}

func CustomerDetail(svc CustomerService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		company := middleware.CompanyFromContext(ctx)
		if company == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
			return
		}

		id, err := parseUUIDParam(r, "customerId")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		customer, err := svc.Get(ctx, company.ID, id)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, customerToResponse(customer))
	}
}

func CustomerList(svc CustomerService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		company := middleware.CompanyFromContext(ctx)
		if company == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
			return
		}

		limit, err := validators.ParseQueryInt(r, "limit", 0, 0, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		rows, next, err := svc.List(ctx, company.ID, pagination.Params{
			Limit:  limit,
			Cursor: strings.TrimSpace(r.URL.Query().Get("cursor")),
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		out := customerListResponse{Customers: make([]customerResponse, 0, len(rows)), NextCursor: next}
		for i := range rows {
			out.Customers = append(out.Customers, customerToResponse(&rows[i]))
		}
		responses.WriteSuccess(w, out)
	}
}

func CustomerDelete(svc CustomerService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		company := middleware.CompanyFromContext(ctx)
		if company == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
			return
		}

		id, err := parseUUIDParam(r, "customerId")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		if err := svc.Delete(ctx, company.ID, id); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

func customerToResponse(customer *models.Customer) customerResponse {
	return customerResponse{
		ID:           customer.ID.String(),
		CompanyID:    customer.CompanyID.String(),
		ProcessorURI: customer.ProcessorURI,
		CreatedAt:    customer.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:    customer.UpdatedAt.UTC().Format(time.RFC3339),
	}
}
