package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/billingz-backend/pkg/enums"
)

// Invoice is one billing event, either generated by a subscription cycle or
// created standalone. AmountCents is the sum of its items;
// EffectiveAmountCents adds the adjustments and is what actually moves.
// Settled invoices are immutable except for refund/callback-driven status
// transitions.
type Invoice struct {
	ID                   uuid.UUID           `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	CompanyID            uuid.UUID           `gorm:"column:company_id;type:uuid;not null;index"`
	CustomerID           uuid.UUID           `gorm:"column:customer_id;type:uuid;not null;index"`
	SubscriptionID       *uuid.UUID          `gorm:"column:subscription_id;type:uuid;index"`
	Period               *int                `gorm:"column:period"`
	AmountCents          int64               `gorm:"column:amount_cents;not null"`
	EffectiveAmountCents int64               `gorm:"column:effective_amount_cents;not null"`
	FundingInstrumentURI string              `gorm:"column:funding_instrument_uri;not null"`
	AppearsOnStatementAs *string             `gorm:"column:appears_on_statement_as"`
	Status               enums.InvoiceStatus `gorm:"column:status;type:invoice_status;not null;default:'pending'"`
	FailureReason        *string             `gorm:"column:failure_reason"`
	Items                []InvoiceItem       `gorm:"foreignKey:InvoiceID"`
	Adjustments          []InvoiceAdjustment `gorm:"foreignKey:InvoiceID"`
	CreatedAt            time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt            time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

// InvoiceItem is one ordered line on an invoice.
type InvoiceItem struct {
	ID          uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	InvoiceID   uuid.UUID `gorm:"column:invoice_id;type:uuid;not null;index"`
	Name        string    `gorm:"column:name;not null"`
	AmountCents int64     `gorm:"column:amount_cents;not null"`
	Ordinal     int       `gorm:"column:ordinal;not null;default:0"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
}

// InvoiceAdjustment is an extra signed amount applied on top of the item sum.
type InvoiceAdjustment struct {
	ID          uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	InvoiceID   uuid.UUID `gorm:"column:invoice_id;type:uuid;not null;index"`
	AmountCents int64     `gorm:"column:amount_cents;not null"`
	Reason      *string   `gorm:"column:reason"`
	Ordinal     int       `gorm:"column:ordinal;not null;default:0"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
}
