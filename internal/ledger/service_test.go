package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/billingz-backend/internal/processor"
	"github.com/angelmondragon/billingz-backend/pkg/db/models"
	"github.com/angelmondragon/billingz-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/billingz-backend/pkg/errors"
	"github.com/angelmondragon/billingz-backend/pkg/logger"
	"github.com/angelmondragon/billingz-backend/pkg/pagination"
)

type stubRepo struct {
	txns map[uuid.UUID]*models.Transaction
}

func newStubRepo() *stubRepo {
	return &stubRepo{txns: make(map[uuid.UUID]*models.Transaction)}
}

func (r *stubRepo) WithTx(_ *gorm.DB) Repository { return r }

func (r *stubRepo) Create(_ context.Context, txn *models.Transaction) error {
	if txn.ID == uuid.Nil {
		txn.ID = uuid.New()
	}
	txn.CreatedAt = time.Now().UTC()
	copied := *txn
	r.txns[txn.ID] = &copied
	return nil
}

func (r *stubRepo) Update(_ context.Context, txn *models.Transaction) error {
	copied := *txn
	r.txns[txn.ID] = &copied
	return nil
}

func (r *stubRepo) FindByID(_ context.Context, id uuid.UUID) (*models.Transaction, error) {
	txn, ok := r.txns[id]
	if !ok {
		return nil, nil
	}
	copied := *txn
	return &copied, nil
}

func (r *stubRepo) FindByProcessorURI(_ context.Context, uri string) (*models.Transaction, error) {
	for _, txn := range r.txns {
		if txn.ProcessorURI != nil && *txn.ProcessorURI == uri {
			copied := *txn
			return &copied, nil
		}
	}
	return nil, nil
}

func (r *stubRepo) FindByCorrelationID(_ context.Context, id uuid.UUID) (*models.Transaction, error) {
	for _, txn := range r.txns {
		if txn.CorrelationID == id {
			copied := *txn
			return &copied, nil
		}
	}
	return nil, nil
}

func (r *stubRepo) ListByInvoice(_ context.Context, invoiceID uuid.UUID) ([]models.Transaction, error) {
	var out []models.Transaction
	for _, txn := range r.txns {
		if txn.InvoiceID == invoiceID {
			out = append(out, *txn)
		}
	}
	return out, nil
}

func (r *stubRepo) ListByCompany(_ context.Context, query ListTransactionsQuery) ([]models.Transaction, *pagination.Cursor, error) {
	var out []models.Transaction
	for _, txn := range r.txns {
		if txn.CompanyID == query.CompanyID {
			out = append(out, *txn)
		}
	}
	return out, nil, nil
}

func (r *stubRepo) SumSucceededCents(_ context.Context, invoiceID uuid.UUID, txType enums.TransactionType) (int64, error) {
	var total int64
	for _, txn := range r.txns {
		if txn.InvoiceID == invoiceID && txn.Type == txType && txn.Status == enums.TransactionStatusSucceeded {
			total += txn.AmountCents
		}
	}
	return total, nil
}

func (r *stubRepo) HasSucceeded(_ context.Context, invoiceID uuid.UUID, txType enums.TransactionType) (bool, error) {
	for _, txn := range r.txns {
		if txn.InvoiceID == invoiceID && txn.Type == txType && txn.Status == enums.TransactionStatusSucceeded {
			return true, nil
		}
	}
	return false, nil
}

func newTestService(t *testing.T, repo Repository, proc processor.Processor) Service {
	t.Helper()
	svc, err := NewService(ServiceParams{
		Repo:              repo,
		Processor:         proc,
		Logger:            logger.New(logger.Options{ServiceName: "ledger-test"}),
		SubmitMaxAttempts: 3,
		SubmitBackoffBase: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

func TestStageRejectsNonPositiveAmount(t *testing.T) {
	svc := newTestService(t, newStubRepo(), processor.NewFake())

	_, err := svc.Stage(context.Background(), nil, StageInput{
		CompanyID:   uuid.New(),
		InvoiceID:   uuid.New(),
		Type:        enums.TransactionTypeDebit,
		AmountCents: 0,
	})
	if appErr := pkgerrors.As(err); appErr == nil || appErr.Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestStageRejectsSecondDebitAfterSettlement(t *testing.T) {
	repo := newStubRepo()
	svc := newTestService(t, repo, processor.NewFake())
	invoiceID := uuid.New()

	repo.txns[uuid.New()] = &models.Transaction{
		ID:        uuid.New(),
		InvoiceID: invoiceID,
		Type:      enums.TransactionTypeDebit,
		Status:    enums.TransactionStatusSucceeded,
	}

	_, err := svc.Stage(context.Background(), nil, StageInput{
		CompanyID:            uuid.New(),
		InvoiceID:            invoiceID,
		Type:                 enums.TransactionTypeDebit,
		AmountCents:          1000,
		FundingInstrumentURI: "cards/ok",
	})
	if appErr := pkgerrors.As(err); appErr == nil || appErr.Code() != pkgerrors.CodeStateConflict {
		t.Fatalf("expected state conflict, got %v", err)
	}
}

func TestStageAssignsFreshCorrelationIDs(t *testing.T) {
	repo := newStubRepo()
	svc := newTestService(t, repo, processor.NewFake())

	first, err := svc.Stage(context.Background(), nil, StageInput{
		CompanyID:            uuid.New(),
		InvoiceID:            uuid.New(),
		Type:                 enums.TransactionTypeDebit,
		AmountCents:          500,
		FundingInstrumentURI: "cards/ok",
	})
	if err != nil {
		t.Fatalf("first stage: %v", err)
	}
	second, err := svc.Stage(context.Background(), nil, StageInput{
		CompanyID:            uuid.New(),
		InvoiceID:            uuid.New(),
		Type:                 enums.TransactionTypeCredit,
		AmountCents:          500,
		FundingInstrumentURI: "banks/ok",
	})
	if err != nil {
		t.Fatalf("second stage: %v", err)
	}
	if first.CorrelationID == second.CorrelationID {
		t.Fatal("staged transactions share a correlation id")
	}
	if first.SubmitStatus != enums.SubmitStatusStaged {
		t.Fatalf("submit status = %s", first.SubmitStatus)
	}
}

func TestSubmitSucceeds(t *testing.T) {
	repo := newStubRepo()
	fake := processor.NewFake()
	svc := newTestService(t, repo, fake)

	staged, err := svc.Stage(context.Background(), nil, StageInput{
		CompanyID:            uuid.New(),
		InvoiceID:            uuid.New(),
		Type:                 enums.TransactionTypeDebit,
		AmountCents:          1299,
		FundingInstrumentURI: "cards/ok",
	})
	if err != nil {
		t.Fatalf("stage: %v", err)
	}

	done, err := svc.Submit(context.Background(), staged.ID)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if done.Status != enums.TransactionStatusSucceeded {
		t.Fatalf("status = %s", done.Status)
	}
	if done.SubmitStatus != enums.SubmitStatusDone {
		t.Fatalf("submit status = %s", done.SubmitStatus)
	}
	if done.ProcessorURI == nil || *done.ProcessorURI == "" {
		t.Fatal("processor uri not recorded")
	}
	if done.AttemptCount != 1 {
		t.Fatalf("attempt count = %d", done.AttemptCount)
	}
}

func TestSubmitRetriesTransientFailures(t *testing.T) {
	repo := newStubRepo()
	fake := processor.NewFake()
	svc := newTestService(t, repo, fake)

	staged, err := svc.Stage(context.Background(), nil, StageInput{
		CompanyID:            uuid.New(),
		InvoiceID:            uuid.New(),
		Type:                 enums.TransactionTypeDebit,
		AmountCents:          1299,
		FundingInstrumentURI: "cards/flaky",
	})
	if err != nil {
		t.Fatalf("stage: %v", err)
	}

	done, err := svc.Submit(context.Background(), staged.ID)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if done.Status != enums.TransactionStatusSucceeded {
		t.Fatalf("status = %s", done.Status)
	}
	if done.AttemptCount != 2 {
		t.Fatalf("attempt count = %d", done.AttemptCount)
	}
	if fake.SubmissionCount() != 1 {
		t.Fatalf("processor settled %d submissions", fake.SubmissionCount())
	}
}

type downProcessor struct {
	*processor.Fake
	calls int
}

func (p *downProcessor) Debit(_ context.Context, _ processor.SubmitInput) (*processor.SubmitResult, error) {
	p.calls++
	return nil, pkgerrors.New(pkgerrors.CodeDependency, "processor temporarily unavailable")
}

func TestSubmitExhaustsRetriesOnOutage(t *testing.T) {
	repo := newStubRepo()
	proc := &downProcessor{Fake: processor.NewFake()}
	svc := newTestService(t, repo, proc)

	staged, err := svc.Stage(context.Background(), nil, StageInput{
		CompanyID:            uuid.New(),
		InvoiceID:            uuid.New(),
		Type:                 enums.TransactionTypeDebit,
		AmountCents:          1299,
		FundingInstrumentURI: "cards/ok",
	})
	if err != nil {
		t.Fatalf("stage: %v", err)
	}

	failed, err := svc.Submit(context.Background(), staged.ID)
	if err == nil {
		t.Fatal("expected submission error")
	}
	if proc.calls != 3 {
		t.Fatalf("processor called %d times, want 3", proc.calls)
	}
	if failed.SubmitStatus != enums.SubmitStatusFailed {
		t.Fatalf("submit status = %s", failed.SubmitStatus)
	}
	if failed.FailureReason == nil || *failed.FailureReason != "processor_unavailable" {
		t.Fatalf("failure reason = %v", failed.FailureReason)
	}
}

func TestSubmitFailsFastOnInvalidInstrument(t *testing.T) {
	repo := newStubRepo()
	svc := newTestService(t, repo, processor.NewFake())

	staged, err := svc.Stage(context.Background(), nil, StageInput{
		CompanyID:            uuid.New(),
		InvoiceID:            uuid.New(),
		Type:                 enums.TransactionTypeDebit,
		AmountCents:          1299,
		FundingInstrumentURI: "cards/bad",
	})
	if err != nil {
		t.Fatalf("stage: %v", err)
	}

	failed, err := svc.Submit(context.Background(), staged.ID)
	if appErr := pkgerrors.As(err); appErr == nil || appErr.Code() != pkgerrors.CodeInvalidInstrument {
		t.Fatalf("expected invalid instrument error, got %v", err)
	}
	if failed.Status != enums.TransactionStatusFailed {
		t.Fatalf("status = %s", failed.Status)
	}
	if failed.SubmitStatus != enums.SubmitStatusFailed {
		t.Fatalf("submit status = %s", failed.SubmitStatus)
	}
	if failed.AttemptCount != 1 {
		t.Fatalf("attempt count = %d", failed.AttemptCount)
	}
	if failed.FailureReason == nil {
		t.Fatal("failure reason not recorded")
	}
}

func TestSubmitIsIdempotentOnDone(t *testing.T) {
	repo := newStubRepo()
	fake := processor.NewFake()
	svc := newTestService(t, repo, fake)

	staged, err := svc.Stage(context.Background(), nil, StageInput{
		CompanyID:            uuid.New(),
		InvoiceID:            uuid.New(),
		Type:                 enums.TransactionTypeCredit,
		AmountCents:          2500,
		FundingInstrumentURI: "banks/ok",
	})
	if err != nil {
		t.Fatalf("stage: %v", err)
	}
	if _, err := svc.Submit(context.Background(), staged.ID); err != nil {
		t.Fatalf("first submit: %v", err)
	}

	again, err := svc.Submit(context.Background(), staged.ID)
	if err != nil {
		t.Fatalf("second submit: %v", err)
	}
	if again.AttemptCount != 1 {
		t.Fatalf("attempt count grew to %d on replay", again.AttemptCount)
	}
	if fake.SubmissionCount() != 1 {
		t.Fatalf("processor settled %d submissions", fake.SubmissionCount())
	}
}

func TestApplyResolutionRequiresPending(t *testing.T) {
	repo := newStubRepo()
	svc := newTestService(t, repo, processor.NewFake())

	txn := &models.Transaction{
		ID:     uuid.New(),
		Status: enums.TransactionStatusSucceeded,
	}
	err := svc.ApplyResolution(context.Background(), nil, txn, enums.TransactionStatusFailed)
	if appErr := pkgerrors.As(err); appErr == nil || appErr.Code() != pkgerrors.CodeStateConflict {
		t.Fatalf("expected state conflict, got %v", err)
	}

	// Same-status resolution is a no-op.
	if err := svc.ApplyResolution(context.Background(), nil, txn, enums.TransactionStatusSucceeded); err != nil {
		t.Fatalf("same-status resolution: %v", err)
	}
}

func TestRefundableAmountCents(t *testing.T) {
	repo := newStubRepo()
	svc := newTestService(t, repo, processor.NewFake())
	invoiceID := uuid.New()

	repo.txns[uuid.New()] = &models.Transaction{
		ID: uuid.New(), InvoiceID: invoiceID,
		Type: enums.TransactionTypeDebit, Status: enums.TransactionStatusSucceeded, AmountCents: 5000,
	}
	repo.txns[uuid.New()] = &models.Transaction{
		ID: uuid.New(), InvoiceID: invoiceID,
		Type: enums.TransactionTypeRefund, Status: enums.TransactionStatusSucceeded, AmountCents: 1500,
	}
	repo.txns[uuid.New()] = &models.Transaction{
		ID: uuid.New(), InvoiceID: invoiceID,
		Type: enums.TransactionTypeRefund, Status: enums.TransactionStatusFailed, AmountCents: 9999,
	}

	remaining, err := svc.RefundableAmountCents(context.Background(), invoiceID)
	if err != nil {
		t.Fatalf("RefundableAmountCents: %v", err)
	}
	if remaining != 3500 {
		t.Fatalf("refundable = %d, want 3500", remaining)
	}
}
