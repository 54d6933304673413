package models

import (
	"time"

	"github.com/google/uuid"
)

// Customer is a billable party owned by a company. ProcessorURI points at the
// processor-side customer object once one has been provisioned.
type Customer struct {
	ID           uuid.UUID  `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	CompanyID    uuid.UUID  `gorm:"column:company_id;type:uuid;not null;index"`
	ProcessorURI *string    `gorm:"column:processor_uri"`
	DeletedAt    *time.Time `gorm:"column:deleted_at;index"`
	CreatedAt    time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}
