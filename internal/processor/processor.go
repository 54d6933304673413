package processor

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/billingz-backend/pkg/enums"
)

// SubmitInput carries one money movement to the processor. CorrelationID is
// forwarded as the processor-side idempotency key, so replaying the same
// input cannot move money twice.
type SubmitInput struct {
	CorrelationID        uuid.UUID
	AmountCents          int64
	FundingInstrumentURI string
	AppearsOnStatementAs string
}

// RefundInput reverses part or all of a previously settled debit.
type RefundInput struct {
	CorrelationID uuid.UUID
	ProcessorURI  string
	AmountCents   int64
}

// SubmitResult is the processor's answer to a submission.
type SubmitResult struct {
	ProcessorURI  string
	Status        enums.TransactionStatus
	FailureReason string
}

// CallbackEvent is the normalized form of a processor callback.
// CorrelationID echoes the id we attached as processor-side metadata on
// submission; it resolves the local transaction even when the processor's
// own reference was never persisted.
type CallbackEvent struct {
	EventID       string
	CorrelationID string
	ProcessorURI  string
	Type          enums.TransactionType
	Status        enums.TransactionStatus
	OccurredAt    time.Time
	RawType       string
}

// Processor is the boundary to the external payment processor. Implementations
// must be safe for concurrent use.
type Processor interface {
	ValidateCustomer(ctx context.Context, uri string) error
	ValidateFundingInstrument(ctx context.Context, uri string) error
	Debit(ctx context.Context, in SubmitInput) (*SubmitResult, error)
	Credit(ctx context.Context, in SubmitInput) (*SubmitResult, error)
	Refund(ctx context.Context, in RefundInput) (*SubmitResult, error)
	ParseCallback(payload []byte, signature string) (*CallbackEvent, error)
}
