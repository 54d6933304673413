package payloads

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/billingz-backend/pkg/enums"
)

// InvoiceSettledEvent is emitted when every cent of an invoice has cleared.
type InvoiceSettledEvent struct {
	InvoiceID      uuid.UUID  `json:"invoice_id"`
	CompanyID      uuid.UUID  `json:"company_id"`
	CustomerID     uuid.UUID  `json:"customer_id"`
	SubscriptionID *uuid.UUID `json:"subscription_id,omitempty"`
	AmountCents    int64      `json:"amount_cents"`
	SettledAt      time.Time  `json:"settled_at"`
}

// InvoiceFailedEvent is emitted when an invoice exhausts its processing attempts.
type InvoiceFailedEvent struct {
	InvoiceID      uuid.UUID  `json:"invoice_id"`
	CompanyID      uuid.UUID  `json:"company_id"`
	CustomerID     uuid.UUID  `json:"customer_id"`
	SubscriptionID *uuid.UUID `json:"subscription_id,omitempty"`
	AmountCents    int64      `json:"amount_cents"`
	FailureReason  string     `json:"failure_reason,omitempty"`
}

// InvoiceRefundedEvent reports a partial or full refund against a settled invoice.
type InvoiceRefundedEvent struct {
	InvoiceID         uuid.UUID `json:"invoice_id"`
	CompanyID         uuid.UUID `json:"company_id"`
	RefundAmountCents int64     `json:"refund_amount_cents"`
	FullyRefunded     bool      `json:"fully_refunded"`
}

// TransactionResolvedEvent reports a transaction reaching a terminal status.
type TransactionResolvedEvent struct {
	TransactionID uuid.UUID               `json:"transaction_id"`
	InvoiceID     uuid.UUID               `json:"invoice_id"`
	CompanyID     uuid.UUID               `json:"company_id"`
	Type          enums.TransactionType   `json:"type"`
	Status        enums.TransactionStatus `json:"status"`
	AmountCents   int64                   `json:"amount_cents"`
	ProcessorURI  string                  `json:"processor_uri,omitempty"`
	FailureReason string                  `json:"failure_reason,omitempty"`
}

// SubscriptionCanceledEvent is emitted when a subscription stops billing.
type SubscriptionCanceledEvent struct {
	SubscriptionID    uuid.UUID  `json:"subscription_id"`
	CompanyID         uuid.UUID  `json:"company_id"`
	CustomerID        uuid.UUID  `json:"customer_id"`
	CanceledAt        time.Time  `json:"canceled_at"`
	RefundedInvoiceID *uuid.UUID `json:"refunded_invoice_id,omitempty"`
}
