package controllers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/billingz-backend/api/middleware"
	"github.com/angelmondragon/billingz-backend/api/responses"
	"github.com/angelmondragon/billingz-backend/api/validators"
	invoicesvc "github.com/angelmondragon/billingz-backend/internal/invoices"
	"github.com/angelmondragon/billingz-backend/internal/plans"
	"github.com/angelmondragon/billingz-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/billingz-backend/pkg/errors"
	"github.com/angelmondragon/billingz-backend/pkg/logger"
	"github.com/angelmondragon/billingz-backend/pkg/pagination"
)

// InvoiceService describes the invoice methods used by the HTTP controllers.
type InvoiceService interface {
	Create(ctx context.Context, input invoicesvc.CreateInvoiceInput) (*models.Invoice, error)
	Process(ctx context.Context, invoiceID uuid.UUID) (*models.Invoice, error)
	Refund(ctx context.Context, companyID, invoiceID uuid.UUID, amountCents int64) (*models.Invoice, error)
	Get(ctx context.Context, companyID, invoiceID uuid.UUID) (*models.Invoice, error)
	List(ctx context.Context, companyID uuid.UUID, limit int, cursor *pagination.Cursor) ([]models.Invoice, *pagination.Cursor, error)
}

type invoiceCreateRequest struct {
	CustomerGUID         string                       `json:"customer_guid" validate:"required,uuid4"`
	FundingInstrumentURI string                       `json:"funding_instrument_uri" validate:"required,max=255"`
	AppearsOnStatementAs *string                      `json:"appears_on_statement_as" validate:"omitempty,max=255"`
	Items                []invoicesvc.ItemInput       `json:"items" validate:"required,min=1,dive"`
	Adjustments          []invoicesvc.AdjustmentInput `json:"adjustments" validate:"omitempty,dive"`
}

type invoiceRefundRequest struct {
	Amount string `json:"amount" validate:"required"`
}

type invoiceItemResponse struct {
	Name        string `json:"name"`
	Amount      string `json:"amount"`
	AmountCents int64  `json:"amount_cents"`
}

type invoiceAdjustmentResponse struct {
	Amount      string  `json:"amount"`
	AmountCents int64   `json:"amount_cents"`
	Reason      *string `json:"reason,omitempty"`
}

type invoiceResponse struct {
	ID                   string                      `json:"guid"`
	CompanyID            string                      `json:"company_guid"`
	CustomerID           string                      `json:"customer_guid"`
	SubscriptionID       *string                     `json:"subscription_guid,omitempty"`
	Period               *int                        `json:"period,omitempty"`
	Amount               string                      `json:"amount"`
	EffectiveAmount      string                      `json:"effective_amount"`
	FundingInstrumentURI string                      `json:"funding_instrument_uri"`
	AppearsOnStatementAs *string                     `json:"appears_on_statement_as,omitempty"`
	Status               string                      `json:"status"`
	FailureReason        *string                     `json:"failure_reason,omitempty"`
	Items                []invoiceItemResponse       `json:"items,omitempty"`
	Adjustments          []invoiceAdjustmentResponse `json:"adjustments,omitempty"`
	CreatedAt            string                      `json:"created_at"`
	UpdatedAt            string                      `json:"updated_at"`
}

type invoiceListResponse struct {
	Invoices   []invoiceResponse `json:"invoices"`
	NextCursor string            `json:"next_cursor,omitempty"`
}

// InvoiceCreate persists a standalone invoice and immediately moves the
// money. A processor failure still leaves the invoice and its failed
// transaction behind before the error response.
func InvoiceCreate(svc InvoiceService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		company := middleware.CompanyFromContext(ctx)
		if company == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
			return
		}

		var payload invoiceCreateRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		customerID, err := uuid.Parse(payload.CustomerGUID)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid customer_guid"))
			return
		}

		for i := range payload.Items {
			cents, err := plans.ParseAmountCents(payload.Items[i].Amount)
			if err != nil {
				responses.WriteError(ctx, logg, w, err)
				return
			}
			payload.Items[i].AmountCents = cents
		}
		for i := range payload.Adjustments {
			cents, err := parseSignedAmountCents(payload.Adjustments[i].Amount)
			if err != nil {
				responses.WriteError(ctx, logg, w, err)
				return
			}
			payload.Adjustments[i].AmountCents = cents
		}

		invoice, err := svc.Create(ctx, invoicesvc.CreateInvoiceInput{
			CompanyID:            company.ID,
			CustomerID:           customerID,
			FundingInstrumentURI: payload.FundingInstrumentURI,
			AppearsOnStatementAs: payload.AppearsOnStatementAs,
			Items:                payload.Items,
			Adjustments:          payload.Adjustments,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		processed, err := svc.Process(ctx, invoice.ID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, invoiceToResponse(processed))
	}
}

func InvoiceDetail(svc InvoiceService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		company := middleware.CompanyFromContext(ctx)
		if company == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
			return
		}

		id, err := parseUUIDParam(r, "invoiceId")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		invoice, err := svc.Get(ctx, company.ID, id)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, invoiceToResponse(invoice))
	}
}

func InvoiceList(svc InvoiceService, logg *logger.Logger) http.HandlerFunc {
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

		out := invoiceListResponse{Invoices: make([]invoiceResponse, 0, len(rows))}
		for i := range rows {
			out.Invoices = append(out.Invoices, invoiceToResponse(&rows[i]))
		}
		if next != nil {
			out.NextCursor = pagination.EncodeCursor(*next)
		}
		responses.WriteSuccess(w, out)
	}
}

func InvoiceRefund(svc InvoiceService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		company := middleware.CompanyFromContext(ctx)
		if company == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
			return
		}

		id, err := parseUUIDParam(r, "invoiceId")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		var payload invoiceRefundRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		cents, err := plans.ParseAmountCents(payload.Amount)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		invoice, err := svc.Refund(ctx, company.ID, id, cents)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, invoiceToResponse(invoice))
	}
}

// parseSignedAmountCents accepts negative amounts; adjustments may discount
// an invoice below its item total.
func parseSignedAmountCents(raw string) (int64, error) {
	amount, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "amount must be a decimal string")
	}
	cents := amount.Mul(decimal.NewFromInt(100))
	if !cents.IsInteger() {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "amount cannot carry sub-cent precision")
	}
	if cents.IsZero() {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "amount cannot be zero")
	}
	return cents.IntPart(), nil
}

func invoiceToResponse(invoice *models.Invoice) invoiceResponse {
	out := invoiceResponse{
		ID:                   invoice.ID.String(),
		CompanyID:            invoice.CompanyID.String(),
		CustomerID:           invoice.CustomerID.String(),
		Period:               invoice.Period,
		Amount:               plans.FormatAmount(invoice.AmountCents),
		EffectiveAmount:      plans.FormatAmount(invoice.EffectiveAmountCents),
		FundingInstrumentURI: invoice.FundingInstrumentURI,
		AppearsOnStatementAs: invoice.AppearsOnStatementAs,
		Status:               string(invoice.Status),
		FailureReason:        invoice.FailureReason,
		CreatedAt:            invoice.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:            invoice.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if invoice.SubscriptionID != nil {
		subID := invoice.SubscriptionID.String()
		out.SubscriptionID = &subID
	}
	for _, item := range invoice.Items {
		out.Items = append(out.Items, invoiceItemResponse{
			Name:        item.Name,
			Amount:      plans.FormatAmount(item.AmountCents),
			AmountCents: item.AmountCents,
		})
	}
	for _, adj := range invoice.Adjustments {
		out.Adjustments = append(out.Adjustments, invoiceAdjustmentResponse{
			Amount:      plans.FormatAmount(adj.AmountCents),
			AmountCents: adj.AmountCents,
			Reason:      adj.Reason,
		})
	}
	return out
}
