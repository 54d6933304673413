package processor

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"

	"github.com/angelmondragon/billingz-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/billingz-backend/pkg/errors"
)

func TestFakeDebitIsIdempotentOnCorrelationID(t *testing.T) {
	fake := NewFake()
	ctx := context.Background()
	in := SubmitInput{
		CorrelationID:        uuid.New(),
		AmountCents:          5000,
		FundingInstrumentURI: "cards/ok-1",
	}

	first, err := fake.Debit(ctx, in)
	if err != nil {
		t.Fatalf("first debit: %v", err)
	}
	second, err := fake.Debit(ctx, in)
	if err != nil {
		t.Fatalf("second debit: %v", err)
	}
	if first.ProcessorURI != second.ProcessorURI {
		t.Fatalf("replayed debit must return the original result, got %q vs %q", first.ProcessorURI, second.ProcessorURI)
	}
	if fake.SubmissionCount() != 1 {
		t.Fatalf("expected exactly one settlement, got %d", fake.SubmissionCount())
	}
}

func TestFakeDebitRejectsBadInstrument(t *testing.T) {
	fake := NewFake()
	_, err := fake.Debit(context.Background(), SubmitInput{
		CorrelationID:        uuid.New(),
		AmountCents:          100,
		FundingInstrumentURI: "cards/bad-card",
	})
	if err == nil {
		t.Fatal("expected error")
	}
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeInvalidInstrument {
		t.Fatalf("expected invalid instrument error, got %v", err)
	}
	if pkgerrors.IsRetryable(err) {
		t.Fatal("invalid instrument must not be retryable")
	}
}

func TestFakeFlakyInstrumentFailsOnceThenSucceeds(t *testing.T) {
	fake := NewFake()
	ctx := context.Background()
	in := SubmitInput{
		CorrelationID:        uuid.New(),
		AmountCents:          100,
		FundingInstrumentURI: "cards/flaky-1",
	}

	_, err := fake.Debit(ctx, in)
	if err == nil {
		t.Fatal("expected first attempt to fail")
	}
	if !pkgerrors.IsRetryable(err) {
		t.Fatalf("flaky failure must be retryable, got %v", err)
	}

	result, err := fake.Debit(ctx, in)
	if err != nil {
		t.Fatalf("retry should succeed: %v", err)
	}
	if result.Status != enums.TransactionStatusSucceeded {
		t.Fatalf("unexpected status %s", result.Status)
	}
}

func TestFakeParseCallback(t *testing.T) {
	fake := NewFake()
	payload, err := json.Marshal(CallbackEvent{
		EventID:      "evt-1",
		ProcessorURI: "fake/debit/1",
		Type:         enums.TransactionTypeDebit,
		Status:       enums.TransactionStatusSucceeded,
	})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}

	event, err := fake.ParseCallback(payload, fake.Signature)
	if err != nil {
		t.Fatalf("parse callback: %v", err)
	}
	if event.ProcessorURI != "fake/debit/1" {
		t.Fatalf("unexpected processor uri %q", event.ProcessorURI)
	}
	if event.OccurredAt.IsZero() {
		t.Fatal("expected occurred_at to be defaulted")
	}

	if _, err := fake.ParseCallback(payload, "wrong"); err == nil {
		t.Fatal("expected signature rejection")
	} else if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeUnauthorized {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}
