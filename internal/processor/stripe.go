package processor

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/customer"
	"github.com/stripe/stripe-go/v84/paymentintent"
	"github.com/stripe/stripe-go/v84/paymentmethod"
	"github.com/stripe/stripe-go/v84/refund"
	"github.com/stripe/stripe-go/v84/transfer"
	"github.com/stripe/stripe-go/v84/webhook"

	"github.com/angelmondragon/billingz-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/billingz-backend/pkg/errors"
	pkgstripe "github.com/angelmondragon/billingz-backend/pkg/stripe"
)

const (
	currencyUSD           = "usd"
	metadataCorrelationID = "correlation_id"
)

type stripeProcessor struct {
	client *pkgstripe.Client
}

// NewStripeProcessor adapts the shared Stripe client to the Processor boundary.
// Debits map to confirmed PaymentIntents, credits to Transfers, refunds to
// Refunds against the original intent.
func NewStripeProcessor(client *pkgstripe.Client) (Processor, error) {
	if client == nil {
		return nil, errors.New("stripe client required")
	}
	return &stripeProcessor{client: client}, nil
}

func (p *stripeProcessor) ValidateCustomer(ctx context.Context, uri string) error {
	if strings.TrimSpace(uri) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "customer uri is required")
	}
	params := &stripe.CustomerParams{}
	params.Context = ctx
	if _, err := customer.Get(uri, params); err != nil {
		return mapStripeError(err, "customer lookup failed")
	}
	return nil
}

func (p *stripeProcessor) ValidateFundingInstrument(ctx context.Context, uri string) error {
	if strings.TrimSpace(uri) == "" {
		return pkgerrors.New(pkgerrors.CodeInvalidInstrument, "funding instrument uri is required")
	}
	params := &stripe.PaymentMethodParams{}
	params.Context = ctx
	if _, err := paymentmethod.Get(uri, params); err != nil {
		return mapStripeError(err, "funding instrument lookup failed")
	}
	return nil
}

func (p *stripeProcessor) Debit(ctx context.Context, in SubmitInput) (*SubmitResult, error) {
	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(in.AmountCents),
		Currency:      stripe.String(currencyUSD),
		PaymentMethod: stripe.String(in.FundingInstrumentURI),
		Confirm:       stripe.Bool(true),
		OffSession:    stripe.Bool(true),
	}
	params.Context = ctx
	params.SetIdempotencyKey(in.CorrelationID.String())
	params.AddMetadata(metadataCorrelationID, in.CorrelationID.String())
	if in.AppearsOnStatementAs != "" {
		params.StatementDescriptorSuffix = stripe.String(in.AppearsOnStatementAs)
	}

	intent, err := paymentintent.New(params)
	if err != nil {
		return nil, mapStripeError(err, "debit submission failed")
	}
	return &SubmitResult{
		ProcessorURI: intent.ID,
		Status:       debitStatus(intent.Status),
	}, nil
}

func (p *stripeProcessor) Credit(ctx context.Context, in SubmitInput) (*SubmitResult, error) {
	params := &stripe.TransferParams{
		Amount:      stripe.Int64(in.AmountCents),
		Currency:    stripe.String(currencyUSD),
		Destination: stripe.String(in.FundingInstrumentURI),
	}
	params.Context = ctx
	params.SetIdempotencyKey(in.CorrelationID.String())
	params.AddMetadata(metadataCorrelationID, in.CorrelationID.String())

	tr, err := transfer.New(params)
	if err != nil {
		return nil, mapStripeError(err, "credit submission failed")
	}
	return &SubmitResult{
		ProcessorURI: tr.ID,
		Status:       enums.TransactionStatusSucceeded,
	}, nil
}

func (p *stripeProcessor) Refund(ctx context.Context, in RefundInput) (*SubmitResult, error) {
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(in.ProcessorURI),
		Amount:        stripe.Int64(in.AmountCents),
	}
	params.Context = ctx
	params.SetIdempotencyKey(in.CorrelationID.String())
	params.AddMetadata(metadataCorrelationID, in.CorrelationID.String())

	rf, err := refund.New(params)
	if err != nil {
		return nil, mapStripeError(err, "refund submission failed")
	}
	return &SubmitResult{
		ProcessorURI: rf.ID,
		Status:       refundStatus(rf.Status),
	}, nil
}

func (p *stripeProcessor) ParseCallback(payload []byte, signature string) (*CallbackEvent, error) {
	event, err := webhook.ConstructEvent(payload, signature, p.client.SigningSecret())
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "callback signature verification failed")
	}

	callback := &CallbackEvent{
		EventID:       event.ID,
		CorrelationID: event.GetObjectValue("metadata", metadataCorrelationID),
		ProcessorURI:  event.GetObjectValue("id"),
		OccurredAt:    timeFromUnix(event.Created),
		RawType:       string(event.Type),
	}

	switch event.Type {
	case stripe.EventTypePaymentIntentSucceeded:
		callback.Type = enums.TransactionTypeDebit
		callback.Status = enums.TransactionStatusSucceeded
	case stripe.EventTypePaymentIntentPaymentFailed:
		callback.Type = enums.TransactionTypeDebit
		callback.Status = enums.TransactionStatusFailed
	case stripe.EventTypeTransferCreated:
		callback.Type = enums.TransactionTypeCredit
		callback.Status = enums.TransactionStatusSucceeded
	case stripe.EventTypeTransferReversed:
		callback.Type = enums.TransactionTypeCredit
		callback.Status = enums.TransactionStatusFailed
	case stripe.EventTypeRefundCreated:
		callback.Type = enums.TransactionTypeRefund
		callback.Status = enums.TransactionStatusSucceeded
	case stripe.EventTypeRefundFailed:
		callback.Type = enums.TransactionTypeRefund
		callback.Status = enums.TransactionStatusFailed
	default:
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unsupported callback event type").
			WithDetails(map[string]any{"event_type": string(event.Type)})
	}

	return callback, nil
}

func debitStatus(status stripe.PaymentIntentStatus) enums.TransactionStatus {
	switch status {
	case stripe.PaymentIntentStatusSucceeded:
		return enums.TransactionStatusSucceeded
	case stripe.PaymentIntentStatusProcessing, stripe.PaymentIntentStatusRequiresAction:
		return enums.TransactionStatusPending
	default:
		return enums.TransactionStatusFailed
	}
}

func refundStatus(status stripe.RefundStatus) enums.TransactionStatus {
	switch status {
	case stripe.RefundStatusSucceeded:
		return enums.TransactionStatusSucceeded
	case stripe.RefundStatusPending:
		return enums.TransactionStatusPending
	default:
		return enums.TransactionStatusFailed
	}
}

func timeFromUnix(sec int64) time.Time {
	if sec <= 0 {
		return time.Now().UTC()
	}
	return time.Unix(sec, 0).UTC()
}

func mapStripeError(err error, message string) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		switch stripeErr.Type {
		case stripe.ErrorTypeCard:
			return pkgerrors.Wrap(pkgerrors.CodeInvalidInstrument, err, message)
		case stripe.ErrorTypeInvalidRequest:
			if stripeErr.HTTPStatusCode == 404 {
				return pkgerrors.Wrap(pkgerrors.CodeNotFound, err, message)
			}
			return pkgerrors.Wrap(pkgerrors.CodeValidation, err, message)
		}
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, message)
}
