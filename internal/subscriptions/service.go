package subscriptions

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/angelmondragon/billingz-backend/internal/processor"
	"github.com/angelmondragon/billingz-backend/pkg/db/models"
	"github.com/angelmondragon/billingz-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/billingz-backend/pkg/errors"
	"github.com/angelmondragon/billingz-backend/pkg/logger"
	"github.com/angelmondragon/billingz-backend/pkg/metrics"
	"github.com/angelmondragon/billingz-backend/pkg/outbox"
	"github.com/angelmondragon/billingz-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/billingz-backend/pkg/pagination"
)

// InvoiceEngine is the slice of the invoice service the scheduler needs.
type InvoiceEngine interface {
	CreateCycleInvoice(ctx context.Context, tx *gorm.DB, sub *models.Subscription, plan *models.Plan) (*models.Invoice, error)
	Process(ctx context.Context, invoiceID uuid.UUID) (*models.Invoice, error)
	Refund(ctx context.Context, companyID, invoiceID uuid.UUID, amountCents int64) (*models.Invoice, error)
	LatestSettled(ctx context.Context, subscriptionID uuid.UUID) (*models.Invoice, error)
}

// CustomerSource resolves customers without binding to the customers package.
type CustomerSource interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.Customer, error)
}

// PlanSource resolves plans without binding to the plans package.
type PlanSource interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.Plan, error)
}

// Service manages the subscription lifecycle and drives the recurring
// billing tick.
type Service interface {
	Create(ctx context.Context, input CreateSubscriptionInput) (*models.Subscription, error)
	Get(ctx context.Context, companyID, subID uuid.UUID) (*models.Subscription, error)
	List(ctx context.Context, companyID uuid.UUID, limit int, cursor *pagination.Cursor) ([]models.Subscription, *pagination.Cursor, error)
	Cancel(ctx context.Context, companyID, subID uuid.UUID, refundAmountCents *int64) (*models.Subscription, error)
	Tick(ctx context.Context) error
}

// CreateSubscriptionInput binds a customer to a plan. StartedAt may be nil
// (bill now), in the future (first cycle waits), but never in the past.
type CreateSubscriptionInput struct {
	CompanyID            uuid.UUID
	CustomerID           uuid.UUID
	PlanID               uuid.UUID
	AmountCents          *int64
	FundingInstrumentURI string
	AppearsOnStatementAs *string
	StartedAt            *time.Time
}

// ServiceParams groups dependencies for the subscription service.
type ServiceParams struct {
	DB        *gorm.DB
	Repo      Repository
	Invoices  InvoiceEngine
	Customers CustomerSource
	Plans     PlanSource
	Processor processor.Processor
	Outbox    *outbox.Service
	Logger    *logger.Logger
	Metrics   *metrics.BillingMetrics

	ClaimTTL          time.Duration
	BatchSize         int
	Parallelism       int
	RetryFailedCycles bool
	Now               func() time.Time
}

type service struct {
	db        *gorm.DB
	repo      Repository
	invoices  InvoiceEngine
	customers CustomerSource
	plans     PlanSource
	processor processor.Processor
	outbox    *outbox.Service
	logg      *logger.Logger
	metrics   *metrics.BillingMetrics

	claimTTL          time.Duration
	batchSize         int
	parallelism       int
	retryFailedCycles bool
	now               func() time.Time
}

// NewService builds a subscription service.
func NewService(params ServiceParams) (Service, error) {
	if params.DB == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "db is required")
	}
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "repo is required")
	}
	if params.Invoices == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "invoice engine is required")
	}
	if params.Customers == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "customer source is required")
	}
	if params.Plans == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "plan source is required")
	}
	if params.Processor == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "processor is required")
	}
	if params.Outbox == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "outbox is required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger is required")
	}
	if params.ClaimTTL <= 0 {
		params.ClaimTTL = 5 * time.Minute
	}
	if params.BatchSize <= 0 {
		params.BatchSize = 100
	}
	if params.Parallelism <= 0 {
		params.Parallelism = 8
	}
	if params.Now == nil {
		params.Now = time.Now
	}
	return &service{
		db:                params.DB,
		repo:              params.Repo,
		invoices:          params.Invoices,
		customers:         params.Customers,
		plans:             params.Plans,
		processor:         params.Processor,
		outbox:            params.Outbox,
		logg:              params.Logger,
		metrics:           params.Metrics,
		claimTTL:          params.ClaimTTL,
		batchSize:         params.BatchSize,
		parallelism:       params.Parallelism,
		retryFailedCycles: params.RetryFailedCycles,
		now:               params.Now,
	}, nil
}

func (s *service) Create(ctx context.Context, input CreateSubscriptionInput) (*models.Subscription, error) {
	if strings.TrimSpace(input.FundingInstrumentURI) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "funding instrument uri is required")
	}

	customer, err := s.customers.FindByID(ctx, input.CustomerID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "failed to load customer")
	}
	if customer == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "customer not found")
	}
	if customer.CompanyID != input.CompanyID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "customer belongs to another company")
	}

	plan, err := s.plans.FindByID(ctx, input.PlanID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "failed to load plan")
	}
	if plan == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "plan not found")
	}
	if plan.CompanyID != input.CompanyID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "plan belongs to another company")
	}

	if input.AmountCents != nil && *input.AmountCents <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount override must be positive")
	}

	if err := s.processor.ValidateFundingInstrument(ctx, input.FundingInstrumentURI); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	startedAt := now
	if input.StartedAt != nil {
		startedAt = input.StartedAt.UTC()
		if startedAt.Before(now) {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "started_at cannot be in the past")
		}
	}

	sub := &models.Subscription{
		CompanyID:            input.CompanyID,
		CustomerID:           input.CustomerID,
		PlanID:               input.PlanID,
		AmountCents:          input.AmountCents,
		FundingInstrumentURI: input.FundingInstrumentURI,
		AppearsOnStatementAs: input.AppearsOnStatementAs,
		Period:               0,
		StartedAt:            startedAt,
		NextTransactionAt:    startedAt,
	}
	if err := s.repo.Create(ctx, sub); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "failed to create subscription")
	}

	// With no explicit start the first period is due right now, so it is
	// billed before the caller sees the subscription: the response already
	// carries period 1 and the advanced due time.
	if input.StartedAt == nil {
		claimed, err := s.repo.Claim(ctx, sub, now, s.claimTTL)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "failed to claim first billing cycle")
		}
		if claimed {
			if err := s.cycle(ctx, sub); err != nil {
				s.logg.Warn(s.logg.WithSubscriptionID(ctx, sub.ID.String()), "first billing cycle did not settle")
			}
		}
	}
	return sub, nil
}

func (s *service) Get(ctx context.Context, companyID, subID uuid.UUID) (*models.Subscription, error) {
	sub, err := s.repo.FindByID(ctx, subID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "failed to load subscription")
	}
	if sub == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "subscription not found")
	}
	if sub.CompanyID != companyID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "subscription belongs to another company")
	}
	return sub, nil
}

func (s *service) List(ctx context.Context, companyID uuid.UUID, limit int, cursor *pagination.Cursor) ([]models.Subscription, *pagination.Cursor, error) {
	subs, next, err := s.repo.ListByCompany(ctx, companyID, limit, cursor)
	if err != nil {
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "failed to list subscriptions")
	}
	return subs, next, nil
}

// Cancel stops future billing. When a refund amount is given, the most
// recent settled invoice is refunded first; an over-refund aborts the
// cancellation entirely.
func (s *service) Cancel(ctx context.Context, companyID, subID uuid.UUID, refundAmountCents *int64) (*models.Subscription, error) {
	sub, err := s.Get(ctx, companyID, subID)
	if err != nil {
		return nil, err
	}
	if sub.Canceled {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "subscription is already canceled")
	}

	var refundedInvoiceID *uuid.UUID
	if refundAmountCents != nil {
		latest, err := s.invoices.LatestSettled(ctx, sub.ID)
		if err != nil {
			return nil, err
		}
		if latest == nil {
			return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "subscription has no settled invoice to refund")
		}
		if _, err := s.invoices.Refund(ctx, companyID, latest.ID, *refundAmountCents); err != nil {
			return nil, err
		}
		refundedInvoiceID = &latest.ID
	}

	canceledAt := s.now().UTC()
	err = s.db.Transaction(func(tx *gorm.DB) error {
		sub.Canceled = true
		sub.CanceledAt = &canceledAt
		sub.ClaimExpiresAt = nil
		if err := s.repo.WithTx(tx).Update(ctx, sub); err != nil {
			return err
		}
		companyRef := sub.CompanyID
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventSubscriptionCanceled,
			AggregateType: enums.AggregateSubscription,
			AggregateID:   sub.ID,
			CompanyID:     &companyRef,
			Data: payloads.SubscriptionCanceledEvent{
				SubscriptionID:    sub.ID,
				CompanyID:         sub.CompanyID,
				CustomerID:        sub.CustomerID,
				CanceledAt:        canceledAt,
				RefundedInvoiceID: refundedInvoiceID,
			},
			Version: 1,
		})
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "failed to cancel subscription")
	}
	return sub, nil
}

// Tick bills every due subscription once. Each row is cycled under an
// exclusive claim, so concurrent ticks and worker crashes cannot double-bill
// a period.
func (s *service) Tick(ctx context.Context) error {
	now := s.now().UTC()

	if s.metrics != nil {
		if due, err := s.repo.CountDue(ctx, now); err == nil {
			s.metrics.SetDueSubscriptions(int(due))
		}
	}

	due, err := s.repo.ListDue(ctx, now, s.batchSize)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "failed to list due subscriptions")
	}
	if len(due) == 0 {
		return nil
	}

	var mu sync.Mutex
	var errs error
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.parallelism)
	for i := range due {
		sub := due[i]
		g.Go(func() error {
			claimed, err := s.repo.Claim(gctx, &sub, now, s.claimTTL)
			if err != nil {
				mu.Lock()
				errs = multierr.Append(errs, err)
				mu.Unlock()
				return nil
			}
			if !claimed {
				return nil
			}
			if err := s.cycle(gctx, &sub); err != nil {
				mu.Lock()
				errs = multierr.Append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		errs = multierr.Append(errs, err)
	}
	return errs
}

func (s *service) cycle(ctx context.Context, sub *models.Subscription) error {
	start := time.Now()
	cycleCtx := s.logg.WithSubscriptionID(ctx, sub.ID.String())

	plan, err := s.plans.FindByID(ctx, sub.PlanID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "failed to load plan for cycle")
	}
	if plan == nil {
		return pkgerrors.New(pkgerrors.CodeInternal, "subscription references a missing plan")
	}

	var invoice *models.Invoice
	err = s.db.Transaction(func(tx *gorm.DB) error {
		invoice, err = s.invoices.CreateCycleInvoice(ctx, tx, sub, plan)
		return err
	})
	if err != nil {
		s.releaseClaim(ctx, sub.ID)
		s.observeCycle("error", start)
		return err
	}

	var procErr error
	if invoice.Status == enums.InvoiceStatusPending || invoice.Status == enums.InvoiceStatusFailed {
		_, procErr = s.invoices.Process(ctx, invoice.ID)
	}

	if procErr != nil && s.retryFailedCycles {
		// Keep the due time; the claim is released so a later tick
		// retries this period.
		s.logg.Warn(cycleCtx, "billing cycle failed; leaving period due for retry")
		s.releaseClaim(ctx, sub.ID)
		s.observeCycle("failed", start)
		return procErr
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if invoice.Period != nil {
			sub.Period = *invoice.Period
		} else {
			sub.Period++
		}
		sub.NextTransactionAt = NextTransactionTime(plan.Frequency, sub.NextTransactionAt)
		sub.ClaimExpiresAt = nil
		return s.repo.WithTx(tx).Update(ctx, sub)
	})
	if err != nil {
		s.observeCycle("error", start)
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "failed to advance subscription")
	}

	if procErr != nil {
		s.logg.Warn(cycleCtx, "billing cycle charge failed; period advanced")
		s.observeCycle("failed", start)
		return procErr
	}
	s.observeCycle("settled", start)
	return nil
}

func (s *service) releaseClaim(ctx context.Context, subID uuid.UUID) {
	if err := s.repo.ReleaseClaim(ctx, nil, subID); err != nil {
		s.logg.Error(ctx, "failed to release cycle claim", err)
	}
}

func (s *service) observeCycle(outcome string, start time.Time) {
	if s.metrics != nil {
		s.metrics.ObserveCycle(outcome, time.Since(start))
	}
}
