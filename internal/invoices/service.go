package invoices

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/billingz-backend/internal/ledger"
	"github.com/angelmondragon/billingz-backend/internal/processor"
	"github.com/angelmondragon/billingz-backend/pkg/db/models"
	"github.com/angelmondragon/billingz-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/billingz-backend/pkg/errors"
	"github.com/angelmondragon/billingz-backend/pkg/logger"
	"github.com/angelmondragon/billingz-backend/pkg/outbox"
	"github.com/angelmondragon/billingz-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/billingz-backend/pkg/pagination"
)

// CustomerSource resolves customers without binding to the customers package.
type CustomerSource interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.Customer, error)
}

// PlanSource resolves plans without binding to the plans package.
type PlanSource interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.Plan, error)
}

// SubscriptionSource resolves subscriptions without binding to the
// subscriptions package.
type SubscriptionSource interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.Subscription, error)
}

// Service drives the invoice lifecycle: creation, charge processing and
// refunds.
type Service interface {
	Create(ctx context.Context, input CreateInvoiceInput) (*models.Invoice, error)
	CreateCycleInvoice(ctx context.Context, tx *gorm.DB, sub *models.Subscription, plan *models.Plan) (*models.Invoice, error)
	Process(ctx context.Context, invoiceID uuid.UUID) (*models.Invoice, error)
	Refund(ctx context.Context, companyID, invoiceID uuid.UUID, amountCents int64) (*models.Invoice, error)
	Get(ctx context.Context, companyID, invoiceID uuid.UUID) (*models.Invoice, error)
	List(ctx context.Context, companyID uuid.UUID, limit int, cursor *pagination.Cursor) ([]models.Invoice, *pagination.Cursor, error)
	LatestSettled(ctx context.Context, subscriptionID uuid.UUID) (*models.Invoice, error)
	ApplyTransactionResolution(ctx context.Context, tx *gorm.DB, invoice *models.Invoice, txn *models.Transaction) error
}

// ItemInput is one invoice line.
type ItemInput struct {
	Name        string `json:"name" validate:"required,max=255"`
	AmountCents int64  `json:"-"`
	Amount      string `json:"amount" validate:"required"`
}

// AdjustmentInput is a signed amount applied on top of the item sum.
type AdjustmentInput struct {
	AmountCents int64   `json:"-"`
	Amount      string  `json:"amount" validate:"required"`
	Reason      *string `json:"reason" validate:"omitempty,max=255"`
}

// CreateInvoiceInput creates a standalone invoice.
type CreateInvoiceInput struct {
	CompanyID            uuid.UUID
	CustomerID           uuid.UUID
	FundingInstrumentURI string
	AppearsOnStatementAs *string
	Items                []ItemInput
	Adjustments          []AdjustmentInput
}

// ServiceParams groups dependencies for the invoice service.
type ServiceParams struct {
	DB            *gorm.DB
	Repo          Repository
	Ledger        ledger.Service
	Outbox        *outbox.Service
	Processor     processor.Processor
	Customers     CustomerSource
	Subscriptions SubscriptionSource
	Plans         PlanSource
	Logger        *logger.Logger
}

type service struct {
	db            *gorm.DB
	repo          Repository
	ledger        ledger.Service
	outbox        *outbox.Service
	processor     processor.Processor
	customers     CustomerSource
	subscriptions SubscriptionSource
	plans         PlanSource
	logg          *logger.Logger
}

// NewService builds an invoice service.
func NewService(params ServiceParams) (Service, error) {
	if params.DB == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "db is required")
	}
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "repo is required")
	}
	if params.Ledger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "ledger is required")
	}
	if params.Outbox == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "outbox is required")
	}
	if params.Processor == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "processor is required")
	}
	if params.Customers == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "customer source is required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger is required")
	}
	return &service{
		db:            params.DB,
		repo:          params.Repo,
		ledger:        params.Ledger,
		outbox:        params.Outbox,
		processor:     params.Processor,
		customers:     params.Customers,
		subscriptions: params.Subscriptions,
		plans:         params.Plans,
		logg:          params.Logger,
	}, nil
}

// Create persists a standalone invoice with its items and adjustments in one
// transaction. The invoice starts pending; Process moves the money.
func (s *service) Create(ctx context.Context, input CreateInvoiceInput) (*models.Invoice, error) {
	if len(input.Items) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invoice requires at least one item")
	}
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

	if err := s.processor.ValidateFundingInstrument(ctx, input.FundingInstrumentURI); err != nil {
		return nil, err
	}

	var amount int64
	items := make([]models.InvoiceItem, 0, len(input.Items))
	for i, item := range input.Items {
		if item.AmountCents <= 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "item amount must be positive")
		}
		amount += item.AmountCents
		items = append(items, models.InvoiceItem{
			Name:        item.Name,
			AmountCents: item.AmountCents,
			Ordinal:     i,
		})
	}

	effective := amount
	adjustments := make([]models.InvoiceAdjustment, 0, len(input.Adjustments))
	for i, adj := range input.Adjustments {
		effective += adj.AmountCents
		adjustments = append(adjustments, models.InvoiceAdjustment{
			AmountCents: adj.AmountCents,
			Reason:      adj.Reason,
			Ordinal:     i,
		})
	}
	if effective <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "effective invoice amount must be positive")
	}

	invoice := &models.Invoice{
		CompanyID:            input.CompanyID,
		CustomerID:           input.CustomerID,
		AmountCents:          amount,
		EffectiveAmountCents: effective,
		FundingInstrumentURI: input.FundingInstrumentURI,
		AppearsOnStatementAs: input.AppearsOnStatementAs,
		Status:               enums.InvoiceStatusPending,
		Items:                items,
		Adjustments:          adjustments,
	}
	err = s.db.Transaction(func(tx *gorm.DB) error {
		return s.repo.WithTx(tx).Create(ctx, invoice)
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "failed to create invoice")
	}
	return invoice, nil
}

// CreateCycleInvoice writes the invoice for one subscription billing cycle
// inside the scheduler's transaction. The (subscription, period) pair is
// unique, so a replayed cycle returns the existing invoice instead of
// billing twice.
func (s *service) CreateCycleInvoice(ctx context.Context, tx *gorm.DB, sub *models.Subscription, plan *models.Plan) (*models.Invoice, error) {
	repo := s.repo.WithTx(tx)
	period := sub.Period + 1

	existing, err := repo.FindBySubscriptionPeriod(ctx, sub.ID, period)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "failed to check existing cycle invoice")
	}
	if existing != nil {
		return existing, nil
	}

	amount := sub.EffectiveAmountCents(plan)
	if amount <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "subscription amount must be positive")
	}
	subID := sub.ID
	invoice := &models.Invoice{
		CompanyID:            sub.CompanyID,
		CustomerID:           sub.CustomerID,
		SubscriptionID:       &subID,
		Period:               &period,
		AmountCents:          amount,
		EffectiveAmountCents: amount,
		FundingInstrumentURI: sub.FundingInstrumentURI,
		AppearsOnStatementAs: sub.AppearsOnStatementAs,
		Status:               enums.InvoiceStatusPending,
		Items: []models.InvoiceItem{
			{Name: plan.Name, AmountCents: amount, Ordinal: 0},
		},
	}
	if err := repo.Create(ctx, invoice); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "failed to create cycle invoice")
	}
	return invoice, nil
}

// Process moves an invoice's money: stages exactly one transaction, submits
// it, and settles or fails the invoice on the outcome. A processor-pending
// result leaves the invoice processing until the callback resolves it.
func (s *service) Process(ctx context.Context, invoiceID uuid.UUID) (*models.Invoice, error) {
	invoice, err := s.repo.FindByID(ctx, invoiceID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "failed to load invoice")
	}
	if invoice == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "invoice not found")
	}
	if invoice.Status != enums.InvoiceStatusPending && invoice.Status != enums.InvoiceStatusFailed {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "invoice is not processable")
	}

	txType, err := s.polarity(ctx, invoice)
	if err != nil {
		return nil, err
	}

	var staged *models.Transaction
	err = s.db.Transaction(func(tx *gorm.DB) error {
		invoice.Status = enums.InvoiceStatusProcessing
		invoice.FailureReason = nil
		if err := s.repo.WithTx(tx).Update(ctx, invoice); err != nil {
			return err
		}
		staged, err = s.ledger.Stage(ctx, tx, ledger.StageInput{
			CompanyID:            invoice.CompanyID,
			InvoiceID:            invoice.ID,
			Type:                 txType,
			AmountCents:          invoice.EffectiveAmountCents,
			FundingInstrumentURI: invoice.FundingInstrumentURI,
			AppearsOnStatementAs: invoice.AppearsOnStatementAs,
		})
		return err
	})
	if err != nil {
		if appErr := pkgerrors.As(err); appErr != nil {
			return nil, appErr
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "failed to stage invoice transaction")
	}

	submitted, submitErr := s.ledger.Submit(ctx, staged.ID)
	if submitted == nil {
		return nil, submitErr
	}

	if err := s.finishProcessing(ctx, invoice, submitted); err != nil {
		return nil, err
	}
	return invoice, submitErr
}

func (s *service) finishProcessing(ctx context.Context, invoice *models.Invoice, txn *models.Transaction) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		switch txn.Status {
		case enums.TransactionStatusSucceeded:
			invoice.Status = enums.InvoiceStatusSettled
			if err := s.emitSettled(ctx, tx, invoice); err != nil {
				return err
			}
		case enums.TransactionStatusFailed:
			invoice.Status = enums.InvoiceStatusFailed
			invoice.FailureReason = txn.FailureReason
			if err := s.emitFailed(ctx, tx, invoice); err != nil {
				return err
			}
		default:
			// Processor accepted but has not resolved; the callback
			// reconciler finishes this invoice.
			return nil
		}
		if err := s.emitTransactionResolved(ctx, tx, invoice, txn); err != nil {
			return err
		}
		return s.repo.WithTx(tx).Update(ctx, invoice)
	})
}

func (s *service) polarity(ctx context.Context, invoice *models.Invoice) (enums.TransactionType, error) {
	if invoice.SubscriptionID == nil {
		return enums.TransactionTypeDebit, nil
	}
	if s.subscriptions == nil || s.plans == nil {
		return "", pkgerrors.New(pkgerrors.CodeInternal, "subscription sources not configured")
	}
	sub, err := s.subscriptions.FindByID(ctx, *invoice.SubscriptionID)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "failed to load subscription")
	}
	if sub == nil {
		return "", pkgerrors.New(pkgerrors.CodeInternal, "invoice references a missing subscription")
	}
	plan, err := s.plans.FindByID(ctx, sub.PlanID)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "failed to load plan")
	}
	if plan == nil {
		return "", pkgerrors.New(pkgerrors.CodeInternal, "subscription references a missing plan")
	}
	if plan.PlanType == enums.PlanTypePayout {
		return enums.TransactionTypeCredit, nil
	}
	return enums.TransactionTypeDebit, nil
}

// Refund moves money back against a settled invoice. Partial refunds leave
// the invoice settled; refunding the full remaining balance marks it
// refunded.
func (s *service) Refund(ctx context.Context, companyID, invoiceID uuid.UUID, amountCents int64) (*models.Invoice, error) {
	if amountCents <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "refund amount must be positive")
	}
	invoice, err := s.Get(ctx, companyID, invoiceID)
	if err != nil {
		return nil, err
	}
	if invoice.Status != enums.InvoiceStatusSettled {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "only settled invoices can be refunded")
	}

	refundable, err := s.ledger.RefundableAmountCents(ctx, invoice.ID)
	if err != nil {
		return nil, err
	}
	if amountCents > refundable {
		return nil, pkgerrors.New(pkgerrors.CodeInsufficientAmount, "refund exceeds the refundable balance").
			WithDetails(map[string]int64{"refundable_cents": refundable})
	}

	debitURI, err := s.settledDebitURI(ctx, invoice)
	if err != nil {
		return nil, err
	}

	var staged *models.Transaction
	err = s.db.Transaction(func(tx *gorm.DB) error {
		staged, err = s.ledger.Stage(ctx, tx, ledger.StageInput{
			CompanyID:            invoice.CompanyID,
			InvoiceID:            invoice.ID,
			Type:                 enums.TransactionTypeRefund,
			AmountCents:          amountCents,
			FundingInstrumentURI: invoice.FundingInstrumentURI,
			ProcessorURI:         &debitURI,
		})
		return err
	})
	if err != nil {
		if appErr := pkgerrors.As(err); appErr != nil {
			return nil, appErr
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "failed to stage refund")
	}

	submitted, submitErr := s.ledger.Submit(ctx, staged.ID)
	if submitted == nil {
		return nil, submitErr
	}
	if submitted.Status != enums.TransactionStatusSucceeded {
		return invoice, submitErr
	}

	fully := amountCents == refundable
	err = s.db.Transaction(func(tx *gorm.DB) error {
		if fully {
			invoice.Status = enums.InvoiceStatusRefunded
			if err := s.repo.WithTx(tx).Update(ctx, invoice); err != nil {
				return err
			}
		}
		companyRef := invoice.CompanyID
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventInvoiceRefunded,
			AggregateType: enums.AggregateInvoice,
			AggregateID:   invoice.ID,
			CompanyID:     &companyRef,
			Data: payloads.InvoiceRefundedEvent{
				InvoiceID:         invoice.ID,
				CompanyID:         invoice.CompanyID,
				RefundAmountCents: amountCents,
				FullyRefunded:     fully,
			},
			Version: 1,
		})
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "failed to record refund")
	}
	return invoice, nil
}

func (s *service) settledDebitURI(ctx context.Context, invoice *models.Invoice) (string, error) {
	txns, err := s.ledger.ListByInvoice(ctx, invoice.CompanyID, invoice.ID)
	if err != nil {
		return "", err
	}
	for _, txn := range txns {
		if txn.Type == enums.TransactionTypeDebit &&
			txn.Status == enums.TransactionStatusSucceeded &&
			txn.ProcessorURI != nil {
			return *txn.ProcessorURI, nil
		}
	}
	return "", pkgerrors.New(pkgerrors.CodeStateConflict, "invoice has no settled debit to refund")
}

func (s *service) Get(ctx context.Context, companyID, invoiceID uuid.UUID) (*models.Invoice, error) {
	invoice, err := s.repo.FindByID(ctx, invoiceID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "failed to load invoice")
	}
	if invoice == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "invoice not found")
	}
	if invoice.CompanyID != companyID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "invoice belongs to another company")
	}
	return invoice, nil
}

// LatestSettled returns the most recent settled invoice of a subscription,
// or nil when none has settled yet.
func (s *service) LatestSettled(ctx context.Context, subscriptionID uuid.UUID) (*models.Invoice, error) {
	invoice, err := s.repo.FindLatestSettledBySubscription(ctx, subscriptionID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "failed to load settled invoice")
	}
	return invoice, nil
}

func (s *service) List(ctx context.Context, companyID uuid.UUID, limit int, cursor *pagination.Cursor) ([]models.Invoice, *pagination.Cursor, error) {
	invoices, next, err := s.repo.ListByCompany(ctx, companyID, limit, cursor)
	if err != nil {
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "failed to list invoices")
	}
	return invoices, next, nil
}

// ApplyTransactionResolution ripples a callback-driven transaction outcome to
// the owning invoice inside the caller's transaction.
func (s *service) ApplyTransactionResolution(ctx context.Context, tx *gorm.DB, invoice *models.Invoice, txn *models.Transaction) error {
	repo := s.repo.WithTx(tx)
	switch txn.Type {
	case enums.TransactionTypeDebit, enums.TransactionTypeCredit:
		switch txn.Status {
		case enums.TransactionStatusSucceeded:
			if invoice.Status == enums.InvoiceStatusSettled {
				return nil
			}
			invoice.Status = enums.InvoiceStatusSettled
			invoice.FailureReason = nil
			if err := s.emitSettled(ctx, tx, invoice); err != nil {
				return err
			}
		case enums.TransactionStatusFailed:
			if invoice.Status == enums.InvoiceStatusFailed {
				return nil
			}
			invoice.Status = enums.InvoiceStatusFailed
			invoice.FailureReason = txn.FailureReason
			if err := s.emitFailed(ctx, tx, invoice); err != nil {
				return err
			}
		default:
			return nil
		}
	case enums.TransactionTypeRefund:
		if txn.Status != enums.TransactionStatusSucceeded {
			return nil
		}
		refundable, err := s.ledger.RefundableAmountCents(ctx, invoice.ID)
		if err != nil {
			return err
		}
		fully := txn.AmountCents >= refundable
		if fully {
			invoice.Status = enums.InvoiceStatusRefunded
		}
		companyRef := invoice.CompanyID
		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventInvoiceRefunded,
			AggregateType: enums.AggregateInvoice,
			AggregateID:   invoice.ID,
			CompanyID:     &companyRef,
			Data: payloads.InvoiceRefundedEvent{
				InvoiceID:         invoice.ID,
				CompanyID:         invoice.CompanyID,
				RefundAmountCents: txn.AmountCents,
				FullyRefunded:     fully,
			},
			Version: 1,
		}); err != nil {
			return err
		}
		if !fully {
			return nil
		}
	default:
		return nil
	}
	if err := s.emitTransactionResolved(ctx, tx, invoice, txn); err != nil {
		return err
	}
	return repo.Update(ctx, invoice)
}

func (s *service) emitSettled(ctx context.Context, tx *gorm.DB, invoice *models.Invoice) error {
	companyRef := invoice.CompanyID
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventInvoiceSettled,
		AggregateType: enums.AggregateInvoice,
		AggregateID:   invoice.ID,
		CompanyID:     &companyRef,
		Data: payloads.InvoiceSettledEvent{
			InvoiceID:      invoice.ID,
			CompanyID:      invoice.CompanyID,
			CustomerID:     invoice.CustomerID,
			SubscriptionID: invoice.SubscriptionID,
			AmountCents:    invoice.EffectiveAmountCents,
			SettledAt:      time.Now().UTC(),
		},
		Version: 1,
	})
}

func (s *service) emitFailed(ctx context.Context, tx *gorm.DB, invoice *models.Invoice) error {
	reason := ""
	if invoice.FailureReason != nil {
		reason = *invoice.FailureReason
	}
	companyRef := invoice.CompanyID
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventInvoiceFailed,
		AggregateType: enums.AggregateInvoice,
		AggregateID:   invoice.ID,
		CompanyID:     &companyRef,
		Data: payloads.InvoiceFailedEvent{
			InvoiceID:      invoice.ID,
			CompanyID:      invoice.CompanyID,
			CustomerID:     invoice.CustomerID,
			SubscriptionID: invoice.SubscriptionID,
			AmountCents:    invoice.EffectiveAmountCents,
			FailureReason:  reason,
		},
		Version: 1,
	})
}

func (s *service) emitTransactionResolved(ctx context.Context, tx *gorm.DB, invoice *models.Invoice, txn *models.Transaction) error {
	eventType := enums.EventTransactionSucceeded
	if txn.Status == enums.TransactionStatusFailed {
		eventType = enums.EventTransactionFailed
	}
	uri := ""
	if txn.ProcessorURI != nil {
		uri = *txn.ProcessorURI
	}
	reason := ""
	if txn.FailureReason != nil {
		reason = *txn.FailureReason
	}
	companyRef := invoice.CompanyID
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregateTransaction,
		AggregateID:   txn.ID,
		CompanyID:     &companyRef,
		Data: payloads.TransactionResolvedEvent{
			TransactionID: txn.ID,
			InvoiceID:     invoice.ID,
			CompanyID:     invoice.CompanyID,
			Type:          txn.Type,
			Status:        txn.Status,
			AmountCents:   txn.AmountCents,
			ProcessorURI:  uri,
			FailureReason: reason,
		},
		Version: 1,
	})
}
