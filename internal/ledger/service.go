package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"gorm.io/gorm"

	"github.com/angelmondragon/billingz-backend/internal/processor"
	"github.com/angelmondragon/billingz-backend/pkg/db/models"
	"github.com/angelmondragon/billingz-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/billingz-backend/pkg/errors"
	"github.com/angelmondragon/billingz-backend/pkg/logger"
	"github.com/angelmondragon/billingz-backend/pkg/metrics"
	"github.com/angelmondragon/billingz-backend/pkg/pagination"
)

// Service stages transactions against invoices and submits them to the
// payment processor.
type Service interface {
	Stage(ctx context.Context, tx *gorm.DB, input StageInput) (*models.Transaction, error)
	Submit(ctx context.Context, txnID uuid.UUID) (*models.Transaction, error)
	ApplyResolution(ctx context.Context, tx *gorm.DB, txn *models.Transaction, status enums.TransactionStatus) error
	Get(ctx context.Context, companyID, txnID uuid.UUID) (*models.Transaction, error)
	FindByProcessorURI(ctx context.Context, uri string) (*models.Transaction, error)
	FindByCorrelationID(ctx context.Context, id uuid.UUID) (*models.Transaction, error)
	List(ctx context.Context, query ListTransactionsQuery) ([]models.Transaction, *pagination.Cursor, error)
	ListByInvoice(ctx context.Context, companyID, invoiceID uuid.UUID) ([]models.Transaction, error)
	RefundableAmountCents(ctx context.Context, invoiceID uuid.UUID) (int64, error)
}

// StageInput describes a transaction to stage. For refunds ProcessorURI
// carries the settled debit's processor reference; for debits and credits
// FundingInstrumentURI names the instrument to move money against.
type StageInput struct {
	CompanyID            uuid.UUID
	InvoiceID            uuid.UUID
	Type                 enums.TransactionType
	AmountCents          int64
	FundingInstrumentURI string
	ProcessorURI         *string
	AppearsOnStatementAs *string
}

// ServiceParams groups dependencies for the ledger service.
type ServiceParams struct {
	Repo              Repository
	Processor         processor.Processor
	Logger            *logger.Logger
	Metrics           *metrics.BillingMetrics
	SubmitMaxAttempts int
	SubmitBackoffBase time.Duration
}

type service struct {
	repo        Repository
	processor   processor.Processor
	logg        *logger.Logger
	metrics     *metrics.BillingMetrics
	maxAttempts int
	backoffBase time.Duration
}

// NewService builds a ledger service.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "repo is required")
	}
	if params.Processor == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "processor is required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger is required")
	}
	if params.SubmitMaxAttempts <= 0 {
		params.SubmitMaxAttempts = 4
	}
	if params.SubmitBackoffBase <= 0 {
		params.SubmitBackoffBase = 500 * time.Millisecond
	}
	return &service{
		repo:        params.Repo,
		processor:   params.Processor,
		logg:        params.Logger,
		metrics:     params.Metrics,
		maxAttempts: params.SubmitMaxAttempts,
		backoffBase: params.SubmitBackoffBase,
	}, nil
}

// Stage records a transaction row inside the caller's database transaction.
// The row is created with a fresh correlation id; the invoice mutation and
// the staged transaction therefore commit or roll back together.
func (s *service) Stage(ctx context.Context, tx *gorm.DB, input StageInput) (*models.Transaction, error) {
	if input.AmountCents <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "transaction amount must be positive")
	}
	repo := s.repo.WithTx(tx)

	if input.Type == enums.TransactionTypeDebit {
		settled, err := repo.HasSucceeded(ctx, input.InvoiceID, enums.TransactionTypeDebit)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "failed to check settled debits")
		}
		if settled {
			return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "invoice already has a succeeded debit")
		}
	}
	if input.Type == enums.TransactionTypeRefund && (input.ProcessorURI == nil || *input.ProcessorURI == "") {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "refund requires the settled debit's processor reference")
	}

	txn := &models.Transaction{
		CompanyID:            input.CompanyID,
		InvoiceID:            input.InvoiceID,
		Type:                 input.Type,
		AmountCents:          input.AmountCents,
		FundingInstrumentURI: input.FundingInstrumentURI,
		AppearsOnStatementAs: input.AppearsOnStatementAs,
		Status:               enums.TransactionStatusPending,
		SubmitStatus:         enums.SubmitStatusStaged,
		ProcessorURI:         input.ProcessorURI,
		CorrelationID:        uuid.New(),
	}
	if err := repo.Create(ctx, txn); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "failed to stage transaction")
	}
	return txn, nil
}

// Submit sends a staged transaction to the processor, retrying transient
// failures with exponential backoff. Submitting an already-done transaction
// is a no-op and returns the stored row.
func (s *service) Submit(ctx context.Context, txnID uuid.UUID) (*models.Transaction, error) {
	txn, err := s.repo.FindByID(ctx, txnID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "failed to load transaction")
	}
	if txn == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "transaction not found")
	}
	switch txn.SubmitStatus {
	case enums.SubmitStatusDone:
		return txn, nil
	case enums.SubmitStatusFailed:
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "transaction submission has already failed")
	}

	baseAttempts := txn.AttemptCount
	attempts := 0
	var result *processor.SubmitResult
	backoff := retry.WithMaxRetries(uint64(s.maxAttempts-1), retry.NewExponential(s.backoffBase))
	submitErr := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempts++
		res, err := s.dispatch(ctx, txn)
		if err != nil {
			if pkgerrors.IsRetryable(err) {
				txn.SubmitStatus = enums.SubmitStatusRetrying
				txn.AttemptCount = baseAttempts + attempts
				if updErr := s.repo.Update(ctx, txn); updErr != nil {
					s.logg.Error(ctx, "failed to persist retry state", updErr)
				}
				attemptCtx := s.logg.WithFields(ctx, map[string]any{
					"transaction_id": txn.ID.String(),
					"attempt":        attempts,
				})
				s.logg.Warn(attemptCtx, "processor submission failed, will retry")
				return retry.RetryableError(err)
			}
			return err
		}
		result = res
		return nil
	})

	txn.AttemptCount = baseAttempts + attempts
	if s.metrics != nil {
		s.metrics.ObserveSubmitAttempts(attempts)
	}

	if submitErr != nil {
		reason := submitErr.Error()
		if pkgerrors.IsRetryable(submitErr) {
			reason = "processor_unavailable"
		}
		txn.Status = enums.TransactionStatusFailed
		txn.SubmitStatus = enums.SubmitStatusFailed
		txn.FailureReason = &reason
		if err := s.repo.Update(ctx, txn); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "failed to record submission failure")
		}
		if s.metrics != nil {
			s.metrics.IncTransaction(string(txn.Type), "failed")
		}
		return txn, submitErr
	}

	txn.Status = result.Status
	txn.SubmitStatus = enums.SubmitStatusDone
	if result.ProcessorURI != "" {
		uri := result.ProcessorURI
		txn.ProcessorURI = &uri
	}
	if result.FailureReason != "" {
		reason := result.FailureReason
		txn.FailureReason = &reason
	}
	if err := s.repo.Update(ctx, txn); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "failed to record submission result")
	}
	if s.metrics != nil {
		s.metrics.IncTransaction(string(txn.Type), string(txn.Status))
	}
	return txn, nil
}

func (s *service) dispatch(ctx context.Context, txn *models.Transaction) (*processor.SubmitResult, error) {
	statement := ""
	if txn.AppearsOnStatementAs != nil {
		statement = *txn.AppearsOnStatementAs
	}
	switch txn.Type {
	case enums.TransactionTypeDebit:
		return s.processor.Debit(ctx, processor.SubmitInput{
			CorrelationID:        txn.CorrelationID,
			AmountCents:          txn.AmountCents,
			FundingInstrumentURI: txn.FundingInstrumentURI,
			AppearsOnStatementAs: statement,
		})
	case enums.TransactionTypeCredit:
		return s.processor.Credit(ctx, processor.SubmitInput{
			CorrelationID:        txn.CorrelationID,
			AmountCents:          txn.AmountCents,
			FundingInstrumentURI: txn.FundingInstrumentURI,
			AppearsOnStatementAs: statement,
		})
	case enums.TransactionTypeRefund:
		uri := ""
		if txn.ProcessorURI != nil {
			uri = *txn.ProcessorURI
		}
		return s.processor.Refund(ctx, processor.RefundInput{
			CorrelationID: txn.CorrelationID,
			ProcessorURI:  uri,
			AmountCents:   txn.AmountCents,
		})
	default:
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "unknown transaction type")
	}
}

// ApplyResolution finalizes a pending transaction from a processor callback.
// Runs inside the caller's database transaction so the invoice update and
// the transaction update commit together.
func (s *service) ApplyResolution(ctx context.Context, tx *gorm.DB, txn *models.Transaction, status enums.TransactionStatus) error {
	if txn.Status == status {
		return nil
	}
	if txn.Status != enums.TransactionStatusPending {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "transaction is already resolved")
	}
	txn.Status = status
	if err := s.repo.WithTx(tx).Update(ctx, txn); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "failed to resolve transaction")
	}
	return nil
}

func (s *service) Get(ctx context.Context, companyID, txnID uuid.UUID) (*models.Transaction, error) {
	txn, err := s.repo.FindByID(ctx, txnID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "failed to load transaction")
	}
	if txn == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "transaction not found")
	}
	if txn.CompanyID != companyID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "transaction belongs to another company")
	}
	return txn, nil
}

// FindByProcessorURI resolves a transaction from the processor's reference,
// or nil when the callback does not match anything we staged.
func (s *service) FindByProcessorURI(ctx context.Context, uri string) (*models.Transaction, error) {
	txn, err := s.repo.FindByProcessorURI(ctx, uri)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "failed to resolve processor reference")
	}
	return txn, nil
}

// FindByCorrelationID resolves a transaction from the correlation id we
// attached to the submission as processor-side metadata. It keeps working
// even when the processor's reference was never written back locally.
func (s *service) FindByCorrelationID(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	txn, err := s.repo.FindByCorrelationID(ctx, id)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "failed to resolve correlation id")
	}
	return txn, nil
}

func (s *service) List(ctx context.Context, query ListTransactionsQuery) ([]models.Transaction, *pagination.Cursor, error) {
	txns, cursor, err := s.repo.ListByCompany(ctx, query)
	if err != nil {
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "failed to list transactions")
	}
	return txns, cursor, nil
}

func (s *service) ListByInvoice(ctx context.Context, companyID, invoiceID uuid.UUID) ([]models.Transaction, error) {
	txns, err := s.repo.ListByInvoice(ctx, invoiceID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "failed to list invoice transactions")
	}
	for _, txn := range txns {
		if txn.CompanyID != companyID {
			return nil, pkgerrors.New(pkgerrors.CodeForbidden, "invoice belongs to another company")
		}
	}
	return txns, nil
}

// RefundableAmountCents is the settled debit total minus the settled refund
// total for an invoice.
func (s *service) RefundableAmountCents(ctx context.Context, invoiceID uuid.UUID) (int64, error) {
	debited, err := s.repo.SumSucceededCents(ctx, invoiceID, enums.TransactionTypeDebit)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "failed to sum debits")
	}
	refunded, err := s.repo.SumSucceededCents(ctx, invoiceID, enums.TransactionTypeRefund)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "failed to sum refunds")
	}
	return debited - refunded, nil
}
