package invoices

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/billingz-backend/internal/ledger"
	"github.com/angelmondragon/billingz-backend/internal/processor"
	"github.com/angelmondragon/billingz-backend/pkg/db/models"
	"github.com/angelmondragon/billingz-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/billingz-backend/pkg/errors"
	"github.com/angelmondragon/billingz-backend/pkg/logger"
	"github.com/angelmondragon/billingz-backend/pkg/outbox"
)

func setupInvoicesTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:invoices_%s?mode=memory&cache=shared&_busy_timeout=5000", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	invoices := `
CREATE TABLE IF NOT EXISTS invoices (
  id TEXT PRIMARY KEY DEFAULT (lower(hex(randomblob(4)) || '-' || hex(randomblob(2)) || '-' || hex(randomblob(2)) || '-' || hex(randomblob(2)) || '-' || hex(randomblob(6)))),
  company_id TEXT NOT NULL,
  customer_id TEXT NOT NULL,
  subscription_id TEXT,
  period INTEGER,
  amount_cents INTEGER NOT NULL,
  effective_amount_cents INTEGER NOT NULL,
  funding_instrument_uri TEXT NOT NULL,
  appears_on_statement_as TEXT,
  status TEXT NOT NULL DEFAULT 'pending',
  failure_reason TEXT,
  created_at DATETIME,
  updated_at DATETIME
);`
	items := `
CREATE TABLE IF NOT EXISTS invoice_items (
  id TEXT PRIMARY KEY DEFAULT (lower(hex(randomblob(4)) || '-' || hex(randomblob(2)) || '-' || hex(randomblob(2)) || '-' || hex(randomblob(2)) || '-' || hex(randomblob(6)))),
  invoice_id TEXT NOT NULL,
  name TEXT NOT NULL,
  amount_cents INTEGER NOT NULL,
  ordinal INTEGER NOT NULL DEFAULT 0,
  created_at DATETIME
);`
	adjustments := `
CREATE TABLE IF NOT EXISTS invoice_adjustments (
  id TEXT PRIMARY KEY DEFAULT (lower(hex(randomblob(4)) || '-' || hex(randomblob(2)) || '-' || hex(randomblob(2)) || '-' || hex(randomblob(2)) || '-' || hex(randomblob(6)))),
  invoice_id TEXT NOT NULL,
  amount_cents INTEGER NOT NULL,
  reason TEXT,
  ordinal INTEGER NOT NULL DEFAULT 0,
  created_at DATETIME
);`
	transactions := `
CREATE TABLE IF NOT EXISTS transactions (
  id TEXT PRIMARY KEY DEFAULT (lower(hex(randomblob(4)) || '-' || hex(randomblob(2)) || '-' || hex(randomblob(2)) || '-' || hex(randomblob(2)) || '-' || hex(randomblob(6)))),
  company_id TEXT NOT NULL,
  invoice_id TEXT NOT NULL,
  type TEXT NOT NULL,
  amount_cents INTEGER NOT NULL,
  funding_instrument_uri TEXT NOT NULL,
  appears_on_statement_as TEXT,
  status TEXT NOT NULL DEFAULT 'pending',
  submit_status TEXT NOT NULL DEFAULT 'staged',
  processor_uri TEXT,
  correlation_id TEXT NOT NULL UNIQUE,
  failure_reason TEXT,
  attempt_count INTEGER NOT NULL DEFAULT 0,
  created_at DATETIME,
  updated_at DATETIME
);`
	outboxEvents := `
CREATE TABLE IF NOT EXISTS outbox_events (
  id TEXT PRIMARY KEY DEFAULT (lower(hex(randomblob(4)) || '-' || hex(randomblob(2)) || '-' || hex(randomblob(2)) || '-' || hex(randomblob(2)) || '-' || hex(randomblob(6)))),
  event_type TEXT NOT NULL,
  aggregate_type TEXT NOT NULL,
  aggregate_id TEXT NOT NULL,
  payload TEXT NOT NULL,
  created_at DATETIME,
  published_at DATETIME,
  attempt_count INTEGER NOT NULL DEFAULT 0,
  last_error TEXT
);`
	require.NoError(t, db.Exec(invoices).Error)
	require.NoError(t, db.Exec(items).Error)
	require.NoError(t, db.Exec(adjustments).Error)
	require.NoError(t, db.Exec(transactions).Error)
	require.NoError(t, db.Exec(outboxEvents).Error)
	return db
}

type stubCustomers struct {
	customers map[uuid.UUID]*models.Customer
}

func (s *stubCustomers) FindByID(_ context.Context, id uuid.UUID) (*models.Customer, error) {
	return s.customers[id], nil
}

type stubSubs struct {
	subs map[uuid.UUID]*models.Subscription
}

func (s *stubSubs) FindByID(_ context.Context, id uuid.UUID) (*models.Subscription, error) {
	return s.subs[id], nil
}

type stubPlans struct {
	plans map[uuid.UUID]*models.Plan
}

func (s *stubPlans) FindByID(_ context.Context, id uuid.UUID) (*models.Plan, error) {
	return s.plans[id], nil
}

type invoiceFixture struct {
	db        *gorm.DB
	svc       Service
	repo      Repository
	fake      *processor.Fake
	companyID uuid.UUID
	customer  *models.Customer
	subs      *stubSubs
	plans     *stubPlans
}

func newInvoiceFixture(t *testing.T) *invoiceFixture {
	t.Helper()

	db := setupInvoicesTestDB(t)
	logg := logger.New(logger.Options{ServiceName: "invoices-test"})
	fake := processor.NewFake()

	ledgerSvc, err := ledger.NewService(ledger.ServiceParams{
		Repo:              ledger.NewRepository(db),
		Processor:         fake,
		Logger:            logg,
		SubmitMaxAttempts: 2,
		SubmitBackoffBase: time.Millisecond,
	})
	require.NoError(t, err)

	companyID := uuid.New()
	customer := &models.Customer{ID: uuid.New(), CompanyID: companyID}
	customers := &stubCustomers{customers: map[uuid.UUID]*models.Customer{customer.ID: customer}}
	subs := &stubSubs{subs: map[uuid.UUID]*models.Subscription{}}
	plans := &stubPlans{plans: map[uuid.UUID]*models.Plan{}}

	repo := NewRepository(db)
	svc, err := NewService(ServiceParams{
		DB:            db,
		Repo:          repo,
		Ledger:        ledgerSvc,
		Outbox:        outbox.NewService(outbox.NewRepository(db), logg),
		Processor:     fake,
		Customers:     customers,
		Subscriptions: subs,
		Plans:         plans,
		Logger:        logg,
	})
	require.NoError(t, err)

	return &invoiceFixture{
		db:        db,
		svc:       svc,
		repo:      repo,
		fake:      fake,
		companyID: companyID,
		customer:  customer,
		subs:      subs,
		plans:     plans,
	}
}

func (f *invoiceFixture) outboxEventTypes(t *testing.T) []string {
	t.Helper()
	var types []string
	require.NoError(t, f.db.Model(&models.OutboxEvent{}).
		Order("created_at ASC").
		Pluck("event_type", &types).Error)
	return types
}

func TestCreateComputesAmounts(t *testing.T) {
	f := newInvoiceFixture(t)

	discount := "loyalty discount"
	invoice, err := f.svc.Create(context.Background(), CreateInvoiceInput{
		CompanyID:            f.companyID,
		CustomerID:           f.customer.ID,
		FundingInstrumentURI: "cards/ok",
		Items: []ItemInput{
			{Name: "setup fee", AmountCents: 5000},
			{Name: "first month", AmountCents: 1999},
		},
		Adjustments: []AdjustmentInput{
			{AmountCents: -1000, Reason: &discount},
		},
	})
	require.NoError(t, err)
	require.Equal(t, int64(6999), invoice.AmountCents)
	require.Equal(t, int64(5999), invoice.EffectiveAmountCents)
	require.Equal(t, enums.InvoiceStatusPending, invoice.Status)

	loaded, err := f.repo.FindByID(context.Background(), invoice.ID)
	require.NoError(t, err)
	require.Len(t, loaded.Items, 2)
	require.Equal(t, "setup fee", loaded.Items[0].Name)
	require.Len(t, loaded.Adjustments, 1)
}

func TestCreateRejectsNonPositiveEffectiveAmount(t *testing.T) {
	f := newInvoiceFixture(t)

	_, err := f.svc.Create(context.Background(), CreateInvoiceInput{
		CompanyID:            f.companyID,
		CustomerID:           f.customer.ID,
		FundingInstrumentURI: "cards/ok",
		Items:                []ItemInput{{Name: "fee", AmountCents: 1000}},
		Adjustments:          []AdjustmentInput{{AmountCents: -1000}},
	})
	appErr := pkgerrors.As(err)
	require.NotNil(t, appErr)
	require.Equal(t, pkgerrors.CodeValidation, appErr.Code())
}

func TestCreateRejectsForeignCustomer(t *testing.T) {
	f := newInvoiceFixture(t)

	_, err := f.svc.Create(context.Background(), CreateInvoiceInput{
		CompanyID:            uuid.New(),
		CustomerID:           f.customer.ID,
		FundingInstrumentURI: "cards/ok",
		Items:                []ItemInput{{Name: "fee", AmountCents: 1000}},
	})
	appErr := pkgerrors.As(err)
	require.NotNil(t, appErr)
	require.Equal(t, pkgerrors.CodeForbidden, appErr.Code())
}

func TestProcessSettlesInvoice(t *testing.T) {
	f := newInvoiceFixture(t)

	invoice, err := f.svc.Create(context.Background(), CreateInvoiceInput{
		CompanyID:            f.companyID,
		CustomerID:           f.customer.ID,
		FundingInstrumentURI: "cards/ok",
		Items:                []ItemInput{{Name: "widget", AmountCents: 2500}},
	})
	require.NoError(t, err)

	processed, err := f.svc.Process(context.Background(), invoice.ID)
	require.NoError(t, err)
	require.Equal(t, enums.InvoiceStatusSettled, processed.Status)
	require.Equal(t, 1, f.fake.SubmissionCount())

	types := f.outboxEventTypes(t)
	require.Contains(t, types, string(enums.EventInvoiceSettled))
	require.Contains(t, types, string(enums.EventTransactionSucceeded))
}

func TestProcessFailsInvoiceOnInvalidInstrument(t *testing.T) {
	f := newInvoiceFixture(t)

	invoice := &models.Invoice{
		CompanyID:            f.companyID,
		CustomerID:           f.customer.ID,
		AmountCents:          2500,
		EffectiveAmountCents: 2500,
		FundingInstrumentURI: "cards/bad",
		Status:               enums.InvoiceStatusPending,
	}
	require.NoError(t, f.repo.Create(context.Background(), invoice))

	processed, err := f.svc.Process(context.Background(), invoice.ID)
	appErr := pkgerrors.As(err)
	require.NotNil(t, appErr)
	require.Equal(t, pkgerrors.CodeInvalidInstrument, appErr.Code())
	require.Equal(t, enums.InvoiceStatusFailed, processed.Status)
	require.NotNil(t, processed.FailureReason)

	types := f.outboxEventTypes(t)
	require.Contains(t, types, string(enums.EventInvoiceFailed))
	require.Contains(t, types, string(enums.EventTransactionFailed))
}

func TestProcessRejectsSettledInvoice(t *testing.T) {
	f := newInvoiceFixture(t)

	invoice, err := f.svc.Create(context.Background(), CreateInvoiceInput{
		CompanyID:            f.companyID,
		CustomerID:           f.customer.ID,
		FundingInstrumentURI: "cards/ok",
		Items:                []ItemInput{{Name: "widget", AmountCents: 2500}},
	})
	require.NoError(t, err)
	_, err = f.svc.Process(context.Background(), invoice.ID)
	require.NoError(t, err)

	_, err = f.svc.Process(context.Background(), invoice.ID)
	appErr := pkgerrors.As(err)
	require.NotNil(t, appErr)
	require.Equal(t, pkgerrors.CodeStateConflict, appErr.Code())
	require.Equal(t, 1, f.fake.SubmissionCount())
}

func TestRefundPartialThenFull(t *testing.T) {
	f := newInvoiceFixture(t)

	invoice, err := f.svc.Create(context.Background(), CreateInvoiceInput{
		CompanyID:            f.companyID,
		CustomerID:           f.customer.ID,
		FundingInstrumentURI: "cards/ok",
		Items:                []ItemInput{{Name: "widget", AmountCents: 5000}},
	})
	require.NoError(t, err)
	_, err = f.svc.Process(context.Background(), invoice.ID)
	require.NoError(t, err)

	partial, err := f.svc.Refund(context.Background(), f.companyID, invoice.ID, 1500)
	require.NoError(t, err)
	require.Equal(t, enums.InvoiceStatusSettled, partial.Status)

	full, err := f.svc.Refund(context.Background(), f.companyID, invoice.ID, 3500)
	require.NoError(t, err)
	require.Equal(t, enums.InvoiceStatusRefunded, full.Status)

	types := f.outboxEventTypes(t)
	count := 0
	for _, typ := range types {
		if typ == string(enums.EventInvoiceRefunded) {
			count++
		}
	}
	require.Equal(t, 2, count)
}

func TestRefundRejectsOverRefund(t *testing.T) {
	f := newInvoiceFixture(t)

	invoice, err := f.svc.Create(context.Background(), CreateInvoiceInput{
		CompanyID:            f.companyID,
		CustomerID:           f.customer.ID,
		FundingInstrumentURI: "cards/ok",
		Items:                []ItemInput{{Name: "widget", AmountCents: 5000}},
	})
	require.NoError(t, err)
	_, err = f.svc.Process(context.Background(), invoice.ID)
	require.NoError(t, err)

	_, err = f.svc.Refund(context.Background(), f.companyID, invoice.ID, 5001)
	appErr := pkgerrors.As(err)
	require.NotNil(t, appErr)
	require.Equal(t, pkgerrors.CodeInsufficientAmount, appErr.Code())
}

func TestRefundRequiresSettledInvoice(t *testing.T) {
	f := newInvoiceFixture(t)

	invoice, err := f.svc.Create(context.Background(), CreateInvoiceInput{
		CompanyID:            f.companyID,
		CustomerID:           f.customer.ID,
		FundingInstrumentURI: "cards/ok",
		Items:                []ItemInput{{Name: "widget", AmountCents: 5000}},
	})
	require.NoError(t, err)

	_, err = f.svc.Refund(context.Background(), f.companyID, invoice.ID, 1000)
	appErr := pkgerrors.As(err)
	require.NotNil(t, appErr)
	require.Equal(t, pkgerrors.CodeStateConflict, appErr.Code())
}

func TestCreateCycleInvoiceIsIdempotentPerPeriod(t *testing.T) {
	f := newInvoiceFixture(t)

	plan := &models.Plan{
		ID:          uuid.New(),
		CompanyID:   f.companyID,
		Name:        "gold monthly",
		PlanType:    enums.PlanTypeCharge,
		Frequency:   enums.PlanFrequencyMonthly,
		AmountCents: 999,
	}
	sub := &models.Subscription{
		ID:                   uuid.New(),
		CompanyID:            f.companyID,
		CustomerID:           f.customer.ID,
		PlanID:               plan.ID,
		FundingInstrumentURI: "cards/ok",
		Period:               0,
	}

	var first, second *models.Invoice
	require.NoError(t, f.db.Transaction(func(tx *gorm.DB) error {
		var err error
		first, err = f.svc.CreateCycleInvoice(context.Background(), tx, sub, plan)
		return err
	}))
	require.NoError(t, f.db.Transaction(func(tx *gorm.DB) error {
		var err error
		second, err = f.svc.CreateCycleInvoice(context.Background(), tx, sub, plan)
		return err
	}))

	require.Equal(t, first.ID, second.ID)
	require.NotNil(t, first.Period)
	require.Equal(t, 1, *first.Period)
	require.Equal(t, int64(999), first.EffectiveAmountCents)
}
