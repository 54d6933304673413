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
	subscriptionsvc "github.com/angelmondragon/billingz-backend/internal/subscriptions"
	"github.com/angelmondragon/billingz-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/billingz-backend/pkg/errors"
	"github.com/angelmondragon/billingz-backend/pkg/logger"
	"github.com/angelmondragon/billingz-backend/pkg/pagination"
)

// SubscriptionService describes the subscription methods used by the HTTP
// controllers.
type SubscriptionService interface {
	Create(ctx context.Context, input subscriptionsvc.CreateSubscriptionInput) (*models.Subscription, error)
	Get(ctx context.Context, companyID, subID uuid.UUID) (*models.Subscription, error)
	List(ctx context.Context, companyID uuid.UUID, limit int, cursor *pagination.Cursor) ([]models.Subscription, *pagination.Cursor, error)
	Cancel(ctx context.Context, companyID, subID uuid.UUID, refundAmountCents *int64) (*models.Subscription, error)
}

type subscriptionCreateRequest struct {
	CustomerGUID         string  `json:"customer_guid" validate:"required,uuid4"`
	PlanGUID             string  `json:"plan_guid" validate:"required,uuid4"`
	Amount               *string `json:"amount"`
	FundingInstrumentURI string  `json:"funding_instrument_uri" validate:"required,max=255"`
	AppearsOnStatementAs *string `json:"appears_on_statement_as" validate:"omitempty,max=255"`
	StartedAt            *string `json:"started_at"`
}

type subscriptionCancelRequest struct {
	RefundAmount *string `json:"refund_amount"`
}

type subscriptionResponse struct {
	ID                   string  `json:"guid"`
	CompanyID            string  `json:"company_guid"`
	CustomerID           string  `json:"customer_guid"`
	PlanID               string  `json:"plan_guid"`
	Amount               *string `json:"amount,omitempty"`
	FundingInstrumentURI string  `json:"funding_instrument_uri"`
	AppearsOnStatementAs *string `json:"appears_on_statement_as,omitempty"`
	Period               int     `json:"period"`
	StartedAt            string  `json:"started_at"`
	NextTransactionAt    string  `json:"next_transaction_at"`
	Canceled             bool    `json:"canceled"`
	CanceledAt           *string `json:"canceled_at,omitempty"`
	CreatedAt            string  `json:"created_at"`
	UpdatedAt            string  `json:"updated_at"`
}

type subscriptionListResponse struct {
	Subscriptions []subscriptionResponse `json:"subscriptions"`
	NextCursor    string                 `json:"next_cursor,omitempty"`
}

func SubscriptionCreate(svc SubscriptionService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		company := middleware.CompanyFromContext(ctx)
		if company == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
			return
		}

		var payload subscriptionCreateRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		customerID, err := uuid.Parse(payload.CustomerGUID)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid customer_guid"))
			return
		}
		planID, err := uuid.Parse(payload.PlanGUID)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid plan_guid"))
			return
		}

		input := subscriptionsvc.CreateSubscriptionInput{
			CompanyID:            company.ID,
			CustomerID:           customerID,
			PlanID:               planID,
			FundingInstrumentURI: payload.FundingInstrumentURI,
			AppearsOnStatementAs: payload.AppearsOnStatementAs,
		}

		if payload.Amount != nil {
			cents, err := plans.ParseAmountCents(*payload.Amount)
			if err != nil {
				responses.WriteError(ctx, logg, w, err)
				return
			}
			input.AmountCents = &cents
		}

		if payload.StartedAt != nil && strings.TrimSpace(*payload.StartedAt) != "" {
			startedAt, err := time.Parse(time.RFC3339, strings.TrimSpace(*payload.StartedAt))
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "started_at must be RFC3339"))
				return
			}
			input.StartedAt = &startedAt
		}

		sub, err := svc.Create(ctx, input)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, subscriptionToResponse(sub))
	}
}

func SubscriptionDetail(svc SubscriptionService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		company := middleware.CompanyFromContext(ctx)
		if company == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
			return
		}

		id, err := parseUUIDParam(r, "subscriptionId")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		sub, err := svc.Get(ctx, company.ID, id)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, subscriptionToResponse(sub))
	}
}

func SubscriptionList(svc SubscriptionService, logg *logger.Logger) http.HandlerFunc {
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
		cursor, err := pagination.ParseCursor(strings.TrimSpace(r.URL.Query().Get("cursor")))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor"))
			return
		}

		rows, next, err := svc.List(ctx, company.ID, limit, cursor)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		out := subscriptionListResponse{Subscriptions: make([]subscriptionResponse, 0, len(rows))}
		for i := range rows {
			out.Subscriptions = append(out.Subscriptions, subscriptionToResponse(&rows[i]))
		}
		if next != nil {
			out.NextCursor = pagination.EncodeCursor(*next)
		}
		responses.WriteSuccess(w, out)
	}
}

// SubscriptionCancel stops billing. An optional refund_amount refunds that
// portion of the subscription's most recent settled invoice first; the
// cancellation is aborted when the refund cannot be applied.
func SubscriptionCancel(svc SubscriptionService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		company := middleware.CompanyFromContext(ctx)
		if company == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
			return
		}

		id, err := parseUUIDParam(r, "subscriptionId")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		var payload subscriptionCancelRequest
		if r.ContentLength > 0 {
			if err := validators.DecodeJSONBody(r, &payload); err != nil {
				responses.WriteError(ctx, logg, w, err)
				return
			}
		}

		var refundCents *int64
		if payload.RefundAmount != nil {
			cents, err := plans.ParseAmountCents(*payload.RefundAmount)
			if err != nil {
				responses.WriteError(ctx, logg, w, err)
				return
			}
			refundCents = &cents
		}

		sub, err := svc.Cancel(ctx, company.ID, id, refundCents)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, subscriptionToResponse(sub))
	}
}

func subscriptionToResponse(sub *models.Subscription) subscriptionResponse {
	out := subscriptionResponse{
		ID:                   sub.ID.String(),
		CompanyID:            sub.CompanyID.String(),
		CustomerID:           sub.CustomerID.String(),
		PlanID:               sub.PlanID.String(),
		FundingInstrumentURI: sub.FundingInstrumentURI,
		AppearsOnStatementAs: sub.AppearsOnStatementAs,
		Period:               sub.Period,
		StartedAt:            sub.StartedAt.UTC().Format(time.RFC3339),
		NextTransactionAt:    sub.NextTransactionAt.UTC().Format(time.RFC3339),
		Canceled:             sub.Canceled,
		CreatedAt:            sub.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:            sub.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if sub.AmountCents != nil {
		amount := plans.FormatAmount(*sub.AmountCents)
		out.Amount = &amount
	}
	if sub.CanceledAt != nil {
		canceledAt := sub.CanceledAt.UTC().Format(time.RFC3339)
		out.CanceledAt = &canceledAt
	}
	return out
}
