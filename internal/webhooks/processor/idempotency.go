package processorwebhook

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// CallbackStore is the slice of the redis client the guard needs.
type CallbackStore interface {
	SetNX(context.Context, string, any, time.Duration) (bool, error)
	CallbackKey(companyID, eventID string) string
	Del(context.Context, ...string) error
}

// IdempotencyGuard deduplicates processor callback deliveries per company.
type IdempotencyGuard struct {
	store CallbackStore
	ttl   time.Duration
}

func NewIdempotencyGuard(store CallbackStore, ttl time.Duration) (*IdempotencyGuard, error) {
	if store == nil {
		return nil, errors.New("callback store is required")
	}
	if ttl < 0 {
		return nil, errors.New("ttl must be non-negative")
	}
	return &IdempotencyGuard{store: store, ttl: ttl}, nil
}

// CheckAndMark reports whether the event was already seen, marking it seen
// otherwise.
func (g *IdempotencyGuard) CheckAndMark(ctx context.Context, companyID, eventID string) (bool, error) {
	if eventID == "" {
		return false, errors.New("event id is required")
	}
	key := g.store.CallbackKey(companyID, eventID)
	set, err := g.store.SetNX(ctx, key, "1", g.ttl)
	if err != nil {
		return false, fmt.Errorf("set callback key: %w", err)
	}
	return !set, nil
}

// Delete releases the seen marker so a failed handling attempt can be
// redelivered.
func (g *IdempotencyGuard) Delete(ctx context.Context, companyID, eventID string) error {
	if eventID == "" {
		return errors.New("event id is required")
	}
	return g.store.Del(ctx, g.store.CallbackKey(companyID, eventID))
}
