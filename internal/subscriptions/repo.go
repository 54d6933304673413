package subscriptions

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/billingz-backend/pkg/db/models"
	"github.com/angelmondragon/billingz-backend/pkg/pagination"
)

// Repository handles subscription persistence. Claim and ReleaseClaim
// implement the scheduler's exclusive claim protocol.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, sub *models.Subscription) error
	Update(ctx context.Context, sub *models.Subscription) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Subscription, error)
	ListByCompany(ctx context.Context, companyID uuid.UUID, limit int, cursor *pagination.Cursor) ([]models.Subscription, *pagination.Cursor, error)
	ListDue(ctx context.Context, now time.Time, limit int) ([]models.Subscription, error)
	CountDue(ctx context.Context, now time.Time) (int64, error)
	Claim(ctx context.Context, sub *models.Subscription, now time.Time, ttl time.Duration) (bool, error)
	ReleaseClaim(ctx context.Context, tx *gorm.DB, subID uuid.UUID) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a subscription repository bound to the provided
// database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, sub *models.Subscription) error {
	return r.db.WithContext(ctx).Create(sub).Error
}

func (r *repository) Update(ctx context.Context, sub *models.Subscription) error {
	return r.db.WithContext(ctx).Save(sub).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Subscription, error) {
	var sub models.Subscription
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&sub).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

func (r *repository) ListByCompany(ctx context.Context, companyID uuid.UUID, limit int, cursor *pagination.Cursor) ([]models.Subscription, *pagination.Cursor, error) {
	limit = pagination.NormalizeLimit(limit)
	q := r.db.WithContext(ctx).
		Model(&models.Subscription{}).
		Where("company_id = ?", companyID)
	if cursor != nil {
		q = q.Where("(created_at, id) < (?, ?)", cursor.CreatedAt, cursor.ID)
	}

	var subs []models.Subscription
	if err := q.Order("created_at DESC, id DESC").
		Limit(pagination.LimitWithBuffer(limit)).
		Find(&subs).Error; err != nil {
		return nil, nil, err
	}

	if len(subs) > limit {
		next := subs[limit]
		subs = subs[:limit]
		return subs, &pagination.Cursor{CreatedAt: next.CreatedAt, ID: next.ID}, nil
	}
	return subs, nil, nil
}

func (r *repository) ListDue(ctx context.Context, now time.Time, limit int) ([]models.Subscription, error) {
	var subs []models.Subscription
	err := r.db.WithContext(ctx).
		Where("canceled = ?", false).
		Where("next_transaction_at <= ?", now).
		Where("claim_expires_at IS NULL OR claim_expires_at < ?", now).
		Order("next_transaction_at ASC").
		Limit(limit).
		Find(&subs).Error
	if err != nil {
		return nil, err
	}
	return subs, nil
}

func (r *repository) CountDue(ctx context.Context, now time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Subscription{}).
		Where("canceled = ?", false).
		Where("next_transaction_at <= ?", now).
		Count(&count).Error
	return count, err
}

// Claim takes the exclusive cycle claim with a compare-and-set on
// next_transaction_at: a concurrent tick that already advanced the row makes
// this update match zero rows.
func (r *repository) Claim(ctx context.Context, sub *models.Subscription, now time.Time, ttl time.Duration) (bool, error) {
	expires := now.Add(ttl)
	res := r.db.WithContext(ctx).
		Model(&models.Subscription{}).
		Where("id = ?", sub.ID).
		Where("canceled = ?", false).
		Where("next_transaction_at = ?", sub.NextTransactionAt).
		Where("claim_expires_at IS NULL OR claim_expires_at < ?", now).
		Update("claim_expires_at", expires)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		return false, nil
	}
	sub.ClaimExpiresAt = &expires
	return true, nil
}

func (r *repository) ReleaseClaim(ctx context.Context, tx *gorm.DB, subID uuid.UUID) error {
	db := r.db
	if tx != nil {
		db = tx
	}
	return db.WithContext(ctx).
		Model(&models.Subscription{}).
		Where("id = ?", subID).
		Update("claim_expires_at", nil).Error
}
