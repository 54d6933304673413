package models

import (
	"time"

	"github.com/google/uuid"
)

// Subscription binds a customer to a plan. NextTransactionAt is the only
// mutable scheduling field; it advances by exactly one plan-frequency
// increment per billing cycle. ClaimExpiresAt implements the scheduler's
// exclusive claim: a row with a live claim is skipped by concurrent ticks,
// and a crashed worker's claim lapses after the TTL.
type Subscription struct {
	ID                   uuid.UUID  `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	CompanyID            uuid.UUID  `gorm:"column:company_id;type:uuid;not null;index"`
	CustomerID           uuid.UUID  `gorm:"column:customer_id;type:uuid;not null;index"`
	PlanID               uuid.UUID  `gorm:"column:plan_id;type:uuid;not null;index"`
	AmountCents          *int64     `gorm:"column:amount_cents"`
	FundingInstrumentURI string     `gorm:"column:funding_instrument_uri;not null"`
	AppearsOnStatementAs *string    `gorm:"column:appears_on_statement_as"`
	Period               int        `gorm:"column:period;not null;default:0"`
	StartedAt            time.Time  `gorm:"column:started_at;not null"`
	NextTransactionAt    time.Time  `gorm:"column:next_transaction_at;not null;index"`
	ClaimExpiresAt       *time.Time `gorm:"column:claim_expires_at"`
	Canceled             bool       `gorm:"column:canceled;not null;default:false"`
	CanceledAt           *time.Time `gorm:"column:canceled_at"`
	CreatedAt            time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt            time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

// EffectiveAmountCents returns the subscription override when present,
// otherwise the plan amount.
func (s *Subscription) EffectiveAmountCents(plan *Plan) int64 {
	if s.AmountCents != nil {
		return *s.AmountCents
	}
	if plan != nil {
		return plan.AmountCents
	}
	return 0
}
