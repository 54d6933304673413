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
	"github.com/angelmondragon/billingz-backend/internal/plans"
	"github.com/angelmondragon/billingz-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/billingz-backend/pkg/errors"
	"github.com/angelmondragon/billingz-backend/pkg/logger"
	"github.com/angelmondragon/billingz-backend/pkg/pagination"
)

// PlanService describes the plan methods used by the HTTP controllers.
type PlanService interface {
	Create(ctx context.Context, companyID uuid.UUID, input plans.CreatePlanInput) (*models.Plan, error)
	Get(ctx context.Context, companyID, id uuid.UUID) (*models.Plan, error)
	List(ctx context.Context, companyID uuid.UUID, params pagination.Params) ([]models.Plan, string, error)
	Delete(ctx context.Context, companyID, id uuid.UUID) error
}

type planResponse struct {
	ID          string   `json:"guid"`
	CompanyID   string   `json:"company_guid"`
	Name        string   `json:"name"`
	PlanType    string   `json:"plan_type"`
	Frequency   string   `json:"frequency"`
	Amount      string   `json:"amount"`
	AmountCents int64    `json:"amount_cents"`
	Features    []string `json:"features,omitempty"`
	CreatedAt   string   `json:"created_at"`
	UpdatedAt   string   `json:"updated_at"`
}

type planListResponse struct {
	Plans      []planResponse `json:"plans"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

func PlanCreate(svc PlanService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		company := middleware.CompanyFromContext(ctx)
		if company == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
			return
		}

		var payload plans.CreatePlanInput
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		plan, err := svc.Create(ctx, company.ID, payload)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, planToResponse(plan))
	}
}

func PlanDetail(svc PlanService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		company := middleware.CompanyFromContext(ctx)
		if company == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
			return
		}

		id, err := parseUUIDParam(r, "planId")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		plan, err := svc.Get(ctx, company.ID, id)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, planToResponse(plan))
	}
}

func PlanList(svc PlanService, logg *logger.Logger) http.HandlerFunc {
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

		out := planListResponse{Plans: make([]planResponse, 0, len(rows)), NextCursor: next}
		for i := range rows {
			out.Plans = append(out.Plans, planToResponse(&rows[i]))
		}
		responses.WriteSuccess(w, out)
	}
}

func PlanDelete(svc PlanService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		company := middleware.CompanyFromContext(ctx)
		if company == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
			return
		}

		id, err := parseUUIDParam(r, "planId")
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

func planToResponse(plan *models.Plan) planResponse {
	return planResponse{
		ID:          plan.ID.String(),
		CompanyID:   plan.CompanyID.String(),
		Name:        plan.Name,
		PlanType:    string(plan.PlanType),
		Frequency:   string(plan.Frequency),
		Amount:      plans.FormatAmount(plan.AmountCents),
		AmountCents: plan.AmountCents,
		Features:    plan.Features,
		CreatedAt:   plan.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:   plan.UpdatedAt.UTC().Format(time.RFC3339),
	}
}
