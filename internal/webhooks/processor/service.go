package processorwebhook

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/billingz-backend/internal/invoices"
	"github.com/angelmondragon/billingz-backend/internal/ledger"
	"github.com/angelmondragon/billingz-backend/internal/processor"
	"github.com/angelmondragon/billingz-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/billingz-backend/pkg/errors"
	"github.com/angelmondragon/billingz-backend/pkg/logger"
	"github.com/angelmondragon/billingz-backend/pkg/metrics"
)

// Disposition reports what the reconciler did with a callback delivery.
type Disposition string

const (
	DispositionProcessed Disposition = "processed"
	DispositionReplayed  Disposition = "replayed"
	DispositionIgnored   Disposition = "ignored"
)

// ServiceParams groups dependencies for the callback reconciler.
type ServiceParams struct {
	DB        *gorm.DB
	Processor processor.Processor
	Ledger    ledger.Service
	Invoices  invoices.Service
	Guard     *IdempotencyGuard
	Logger    *logger.Logger
	Metrics   *metrics.BillingMetrics
}

// Service reconciles asynchronous processor callbacks with the ledger and
// the owning invoice.
type Service struct {
	db        *gorm.DB
	processor processor.Processor
	ledger    ledger.Service
	invoices  invoices.Service
	guard     *IdempotencyGuard
	logg      *logger.Logger
	metrics   *metrics.BillingMetrics
}

func NewService(params ServiceParams) (*Service, error) {
	if params.DB == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "db is required")
	}
	if params.Processor == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "processor is required")
	}
	if params.Ledger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "ledger is required")
	}
	if params.Invoices == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "invoice service is required")
	}
	if params.Guard == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "idempotency guard is required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger is required")
	}
	return &Service{
		db:        params.DB,
		processor: params.Processor,
		ledger:    params.Ledger,
		invoices:  params.Invoices,
		guard:     params.Guard,
		logg:      params.Logger,
		metrics:   params.Metrics,
	}, nil
}

// Handle reconciles one callback delivery. Unparseable, unrelated and
// replayed deliveries are ignored without error so the processor stops
// redelivering them; only infrastructure failures propagate.
func (s *Service) Handle(ctx context.Context, company *models.Company, payload []byte, signature string) (Disposition, error) {
	event, err := s.processor.ParseCallback(payload, signature)
	if err != nil {
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "ignoring unparseable processor callback")
		s.incCallback("ignored")
		return DispositionIgnored, nil
	}
	if event.CorrelationID == "" && event.ProcessorURI == "" {
		s.incCallback("ignored")
		return DispositionIgnored, nil
	}

	txn, err := s.lookup(ctx, event)
	if err != nil {
		return DispositionIgnored, err
	}
	if txn == nil || txn.CompanyID != company.ID {
		s.logg.Warn(s.logg.WithField(ctx, "processor_uri", event.ProcessorURI), "callback does not match a staged transaction")
		s.incCallback("ignored")
		return DispositionIgnored, nil
	}
	if txn.ProcessorURI == nil && event.ProcessorURI != "" {
		// The submission was accepted but its reference never made it to
		// the ledger row; the callback supplies it.
		uri := event.ProcessorURI
		txn.ProcessorURI = &uri
	}

	seen, err := s.guard.CheckAndMark(ctx, company.ID.String(), event.EventID)
	if err != nil {
		return DispositionIgnored, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "callback dedupe check failed")
	}
	if seen {
		s.incCallback("replayed")
		return DispositionReplayed, nil
	}

	if err := s.apply(ctx, company.ID, txn, event); err != nil {
		if delErr := s.guard.Delete(ctx, company.ID.String(), event.EventID); delErr != nil {
			s.logg.Error(ctx, "failed to release callback dedupe key", delErr)
		}
		if appErr := pkgerrors.As(err); appErr != nil && appErr.Code() == pkgerrors.CodeStateConflict {
			// Late contradictory delivery for an already-resolved
			// transaction; swallow it so the processor stops retrying.
			s.logg.Warn(s.logg.WithField(ctx, "transaction_id", txn.ID.String()), "callback conflicts with resolved transaction")
			s.incCallback("ignored")
			return DispositionIgnored, nil
		}
		return DispositionIgnored, err
	}

	s.incCallback("processed")
	return DispositionProcessed, nil
}

// lookup resolves the callback's transaction by the correlation id we
// embedded in the processor-side metadata, falling back to the processor's
// own reference for events that do not carry our metadata.
func (s *Service) lookup(ctx context.Context, event *processor.CallbackEvent) (*models.Transaction, error) {
	if event.CorrelationID != "" {
		if correlationID, err := uuid.Parse(event.CorrelationID); err == nil {
			txn, err := s.ledger.FindByCorrelationID(ctx, correlationID)
			if err != nil || txn != nil {
				return txn, err
			}
		}
	}
	if event.ProcessorURI == "" {
		return nil, nil
	}
	return s.ledger.FindByProcessorURI(ctx, event.ProcessorURI)
}

func (s *Service) apply(ctx context.Context, companyID uuid.UUID, txn *models.Transaction, event *processor.CallbackEvent) error {
	invoice, err := s.invoices.Get(ctx, companyID, txn.InvoiceID)
	if err != nil {
		return err
	}
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.ledger.ApplyResolution(ctx, tx, txn, event.Status); err != nil {
			return err
		}
		return s.invoices.ApplyTransactionResolution(ctx, tx, invoice, txn)
	})
}

func (s *Service) incCallback(outcome string) {
	if s.metrics != nil {
		s.metrics.IncCallback(outcome)
	}
}
