package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/angelmondragon/billingz-backend/pkg/enums"
)

// Plan is a billing template. Plans are immutable once a subscription
// references them; removal is a soft delete only.
type Plan struct {
	ID          uuid.UUID           `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	CompanyID   uuid.UUID           `gorm:"column:company_id;type:uuid;not null;index"`
	Name        string              `gorm:"column:name;not null"`
	PlanType    enums.PlanType      `gorm:"column:plan_type;type:plan_type;not null"`
	Frequency   enums.PlanFrequency `gorm:"column:frequency;type:plan_frequency;not null"`
	AmountCents int64               `gorm:"column:amount_cents;not null"`
	Features    pq.StringArray      `gorm:"column:features;type:text[]"`
	DeletedAt   *time.Time          `gorm:"column:deleted_at;index"`
	CreatedAt   time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}
