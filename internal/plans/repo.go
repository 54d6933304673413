package plans

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/billingz-backend/pkg/db/models"
	"github.com/angelmondragon/billingz-backend/pkg/pagination"
)

// Repository handles plan persistence.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, plan *models.Plan) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Plan, error)
	ListByCompany(ctx context.Context, companyID uuid.UUID, limit int, cursor *pagination.Cursor) ([]models.Plan, *pagination.Cursor, error)
	CountSubscriptions(ctx context.Context, planID uuid.UUID) (int64, error)
	SoftDelete(ctx context.Context, id uuid.UUID) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a plan repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, plan *models.Plan) error {
	return r.db.WithContext(ctx).Create(plan).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Plan, error) {
	var plan models.Plan
	if err := r.db.WithContext(ctx).
		Where("id = ? AND deleted_at IS NULL", id).
		First(&plan).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &plan, nil
}

func (r *repository) ListByCompany(ctx context.Context, companyID uuid.UUID, limit int, cursor *pagination.Cursor) ([]models.Plan, *pagination.Cursor, error) {
	normalized := pagination.NormalizeLimit(limit)
	query := r.db.WithContext(ctx).
		Model(&models.Plan{}).
		Where("company_id = ? AND deleted_at IS NULL", companyID)
	if cursor != nil {
		query = query.Where("(created_at, id) < (?, ?)", cursor.CreatedAt, cursor.ID)
	}

	var plans []models.Plan
	if err := query.Order("created_at DESC, id DESC").
		Limit(pagination.LimitWithBuffer(normalized)).
		Find(&plans).Error; err != nil {
		return nil, nil, err
	}

	if len(plans) > normalized {
		next := plans[normalized]
		plans = plans[:normalized]
		return plans, &pagination.Cursor{CreatedAt: next.CreatedAt, ID: next.ID}, nil
	}
	return plans, nil, nil
}

func (r *repository) CountSubscriptions(ctx context.Context, planID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Subscription{}).
		Where("plan_id = ? AND NOT canceled", planID).
		Count(&count).Error
	return count, err
}

func (r *repository) SoftDelete(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&models.Plan{}).
		Where("id = ? AND deleted_at IS NULL", id).
		Update("deleted_at", time.Now().UTC()).Error
}
