package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/billingz-backend/pkg/enums"
)

// Transaction is one attempted movement of money against an invoice. It is
// staged in the same database transaction that mutates the invoice, then
// submitted to the processor out of band. CorrelationID is sent to the
// processor as the idempotency key so a crash between submit and record
// cannot double-charge.
type Transaction struct {
	ID                   uuid.UUID               `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	CompanyID            uuid.UUID               `gorm:"column:company_id;type:uuid;not null;index"`
	InvoiceID            uuid.UUID               `gorm:"column:invoice_id;type:uuid;not null;index"`
	Type                 enums.TransactionType   `gorm:"column:type;type:transaction_type;not null"`
	AmountCents          int64                   `gorm:"column:amount_cents;not null"`
	FundingInstrumentURI string                  `gorm:"column:funding_instrument_uri;not null"`
	AppearsOnStatementAs *string                 `gorm:"column:appears_on_statement_as"`
	Status               enums.TransactionStatus `gorm:"column:status;type:transaction_status;not null;default:'pending'"`
	SubmitStatus         enums.SubmitStatus      `gorm:"column:submit_status;type:submit_status;not null;default:'staged'"`
	ProcessorURI         *string                 `gorm:"column:processor_uri;index"`
	CorrelationID        uuid.UUID               `gorm:"column:correlation_id;type:uuid;not null;uniqueIndex"`
	FailureReason        *string                 `gorm:"column:failure_reason"`
	AttemptCount         int                     `gorm:"column:attempt_count;not null;default:0"`
	CreatedAt            time.Time               `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt            time.Time               `gorm:"column:updated_at;autoUpdateTime"`
}
