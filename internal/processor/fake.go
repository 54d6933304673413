package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/angelmondragon/billingz-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/billingz-backend/pkg/errors"
)

// Fake is an in-memory Processor for tests and local development. Submissions
// are replay-safe on CorrelationID, mirroring the real processor's
// idempotency-key behavior. URIs containing "bad" are rejected as invalid
// instruments and URIs containing "flaky" fail with a retryable error once
// per correlation id.
type Fake struct {
	mu         sync.Mutex
	seq        int
	submitted  map[string]*SubmitResult
	flakySeen  map[string]bool
	Signature  string
	CustomerOK func(uri string) bool
}

func NewFake() *Fake {
	return &Fake{
		submitted: make(map[string]*SubmitResult),
		flakySeen: make(map[string]bool),
		Signature: "fake-signature",
	}
}

func (f *Fake) ValidateCustomer(_ context.Context, uri string) error {
	if strings.TrimSpace(uri) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "customer uri is required")
	}
	if f.CustomerOK != nil && !f.CustomerOK(uri) {
		return pkgerrors.New(pkgerrors.CodeNotFound, "customer not found")
	}
	return nil
}

func (f *Fake) ValidateFundingInstrument(_ context.Context, uri string) error {
	if strings.TrimSpace(uri) == "" || strings.Contains(uri, "bad") {
		return pkgerrors.New(pkgerrors.CodeInvalidInstrument, "funding instrument is not chargeable")
	}
	return nil
}

func (f *Fake) Debit(_ context.Context, in SubmitInput) (*SubmitResult, error) {
	return f.submit("debit", in)
}

func (f *Fake) Credit(_ context.Context, in SubmitInput) (*SubmitResult, error) {
	return f.submit("credit", in)
}

func (f *Fake) Refund(_ context.Context, in RefundInput) (*SubmitResult, error) {
	return f.submit("refund", SubmitInput{
		CorrelationID:        in.CorrelationID,
		AmountCents:          in.AmountCents,
		FundingInstrumentURI: in.ProcessorURI,
	})
}

func (f *Fake) submit(kind string, in SubmitInput) (*SubmitResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := in.CorrelationID.String()
	if prior, ok := f.submitted[key]; ok {
		return prior, nil
	}
	if strings.Contains(in.FundingInstrumentURI, "bad") {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidInstrument, "funding instrument is not chargeable")
	}
	if strings.Contains(in.FundingInstrumentURI, "flaky") && !f.flakySeen[key] {
		f.flakySeen[key] = true
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "processor temporarily unavailable")
	}

	f.seq++
	result := &SubmitResult{
		ProcessorURI: fmt.Sprintf("fake/%s/%d", kind, f.seq),
		Status:       enums.TransactionStatusSucceeded,
	}
	f.submitted[key] = result
	return result, nil
}

// SubmissionCount reports how many distinct correlation ids have settled.
func (f *Fake) SubmissionCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.submitted)
}

// ParseCallback decodes a fake callback: a JSON-encoded CallbackEvent signed
// with the fake's static signature.
func (f *Fake) ParseCallback(payload []byte, signature string) (*CallbackEvent, error) {
	if signature != f.Signature {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "callback signature verification failed")
	}
	var event CallbackEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode callback payload")
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	return &event, nil
}

var _ Processor = (*Fake)(nil)
