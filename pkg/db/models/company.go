package models

import (
	"time"

	"github.com/google/uuid"
)

// Company is the tenant boundary. Every other entity hangs off exactly one
// company, and cross-company references are rejected as permission violations.
type Company struct {
	ID           uuid.UUID  `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Name         string     `gorm:"column:name;not null"`
	ProcessorKey string     `gorm:"column:processor_key;not null"`
	APIKeyDigest string     `gorm:"column:api_key_digest;not null;uniqueIndex"`
	CallbackKey  string     `gorm:"column:callback_key;not null"`
	DeletedAt    *time.Time `gorm:"column:deleted_at;index"`
	CreatedAt    time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}
