package invoices

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/billingz-backend/pkg/db/models"
	"github.com/angelmondragon/billingz-backend/pkg/enums"
	"github.com/angelmondragon/billingz-backend/pkg/pagination"
)

// Repository handles invoice persistence.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, invoice *models.Invoice) error
	Update(ctx context.Context, invoice *models.Invoice) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Invoice, error)
	FindBySubscriptionPeriod(ctx context.Context, subscriptionID uuid.UUID, period int) (*models.Invoice, error)
	FindLatestSettledBySubscription(ctx context.Context, subscriptionID uuid.UUID) (*models.Invoice, error)
	ListByCompany(ctx context.Context, companyID uuid.UUID, limit int, cursor *pagination.Cursor) ([]models.Invoice, *pagination.Cursor, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns an invoice repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, invoice *models.Invoice) error {
	return r.db.WithContext(ctx).Create(invoice).Error
}

func (r *repository) Update(ctx context.Context, invoice *models.Invoice) error {
	return r.db.WithContext(ctx).Omit("Items", "Adjustments").Save(invoice).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Invoice, error) {
	var invoice models.Invoice
	err := r.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("ordinal ASC") }).
		Preload("Adjustments", func(db *gorm.DB) *gorm.DB { return db.Order("ordinal ASC") }).
		Where("id = ?", id).
		First(&invoice).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &invoice, nil
}

func (r *repository) FindBySubscriptionPeriod(ctx context.Context, subscriptionID uuid.UUID, period int) (*models.Invoice, error) {
	var invoice models.Invoice
	err := r.db.WithContext(ctx).
		Where("subscription_id = ? AND period = ?", subscriptionID, period).
		First(&invoice).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &invoice, nil
}

func (r *repository) FindLatestSettledBySubscription(ctx context.Context, subscriptionID uuid.UUID) (*models.Invoice, error) {
	var invoice models.Invoice
	err := r.db.WithContext(ctx).
		Where("subscription_id = ? AND status = ?", subscriptionID, enums.InvoiceStatusSettled).
		Order("period DESC").
		First(&invoice).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &invoice, nil
}

func (r *repository) ListByCompany(ctx context.Context, companyID uuid.UUID, limit int, cursor *pagination.Cursor) ([]models.Invoice, *pagination.Cursor, error) {
	limit = pagination.NormalizeLimit(limit)
	q := r.db.WithContext(ctx).
		Model(&models.Invoice{}).
		Where("company_id = ?", companyID)
	if cursor != nil {
		q = q.Where("(created_at, id) < (?, ?)", cursor.CreatedAt, cursor.ID)
	}

	var invoices []models.Invoice
	if err := q.Order("created_at DESC, id DESC").
		Limit(pagination.LimitWithBuffer(limit)).
		Find(&invoices).Error; err != nil {
		return nil, nil, err
	}

	if len(invoices) > limit {
		next := invoices[limit]
		invoices = invoices[:limit]
		return invoices, &pagination.Cursor{CreatedAt: next.CreatedAt, ID: next.ID}, nil
	}
	return invoices, nil, nil
}
