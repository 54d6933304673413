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
	"github.com/angelmondragon/billingz-backend/internal/ledger"
	"github.com/angelmondragon/billingz-backend/internal/plans"
	"github.com/angelmondragon/billingz-backend/pkg/db/models"
	"github.com/angelmondragon/billingz-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/billingz-backend/pkg/errors"
	"github.com/angelmondragon/billingz-backend/pkg/logger"
	"github.com/angelmondragon/billingz-backend/pkg/pagination"
)

// TransactionService describes the ledger methods used by the HTTP
// controllers.
type TransactionService interface {
	Get(ctx context.Context, companyID, txnID uuid.UUID) (*models.Transaction, error)
	List(ctx context.Context, query ledger.ListTransactionsQuery) ([]models.Transaction, *pagination.Cursor, error)
}

type transactionResponse struct {
	ID                   string  `json:"guid"`
	CompanyID            string  `json:"company_guid"`
	InvoiceID            string  `json:"invoice_guid"`
	Type                 string  `json:"type"`
	Amount               string  `json:"amount"`
	AmountCents          int64   `json:"amount_cents"`
	FundingInstrumentURI string  `json:"funding_instrument_uri"`
	Status               string  `json:"status"`
	SubmitStatus         string  `json:"submit_status"`
	ProcessorURI         *string `json:"processor_uri,omitempty"`
	FailureReason        *string `json:"failure_reason,omitempty"`
	AttemptCount         int     `json:"attempt_count"`
	CreatedAt            string  `json:"created_at"`
	UpdatedAt            string  `json:"updated_at"`
}

type transactionListResponse struct {
	Transactions []transactionResponse `json:"transactions"`
	NextCursor   string                `json:"next_cursor,omitempty"`
}

func TransactionDetail(svc TransactionService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		company := middleware.CompanyFromContext(ctx)
		if company == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
			return
		}

		id, err := parseUUIDParam(r, "transactionId")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		txn, err := svc.Get(ctx, company.ID, id)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, transactionToResponse(txn))
	}
}

func TransactionList(svc TransactionService, logg *logger.Logger) http.HandlerFunc {
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

		query := ledger.ListTransactionsQuery{
			CompanyID: company.ID,
			Limit:     limit,
			Cursor:    cursor,
		}

		if raw := strings.TrimSpace(r.URL.Query().Get("invoice_guid")); raw != "" {
			invoiceID, err := uuid.Parse(raw)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid invoice_guid"))
				return
			}
			query.InvoiceID = &invoiceID
		}
		if raw := strings.TrimSpace(r.URL.Query().Get("type")); raw != "" {
			txType, err := enums.ParseTransactionType(raw)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid type"))
				return
			}
			query.Type = &txType
		}
		if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
			status, err := enums.ParseTransactionStatus(raw)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status"))
				return
			}
			query.Status = &status
		}

		rows, next, err := svc.List(ctx, query)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		out := transactionListResponse{Transactions: make([]transactionResponse, 0, len(rows))}
		for i := range rows {
			out.Transactions = append(out.Transactions, transactionToResponse(&rows[i]))
		}
		if next != nil {
			out.NextCursor = pagination.EncodeCursor(*next)
		}
		responses.WriteSuccess(w, out)
	}
}

func transactionToResponse(txn *models.Transaction) transactionResponse {
	return transactionResponse{
		ID:                   txn.ID.String(),
		CompanyID:            txn.CompanyID.String(),
		InvoiceID:            txn.InvoiceID.String(),
		Type:                 string(txn.Type),
		Amount:               plans.FormatAmount(txn.AmountCents),
		AmountCents:          txn.AmountCents,
		FundingInstrumentURI: txn.FundingInstrumentURI,
		Status:               string(txn.Status),
		SubmitStatus:         string(txn.SubmitStatus),
		ProcessorURI:         txn.ProcessorURI,
		FailureReason:        txn.FailureReason,
		AttemptCount:         txn.AttemptCount,
		CreatedAt:            txn.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:            txn.UpdatedAt.UTC().Format(time.RFC3339),
	}
}
