package customers

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/billingz-backend/pkg/db/models"
	"github.com/angelmondragon/billingz-backend/pkg/pagination"
)

// Repository handles customer persistence.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, customer *models.Customer) error
	Update(ctx context.Context, customer *models.Customer) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Customer, error)
	ListByCompany(ctx context.Context, companyID uuid.UUID, limit int, cursor *pagination.Cursor) ([]models.Customer, *pagination.Cursor, error)
	SoftDelete(ctx context.Context, id uuid.UUID) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a customer repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, customer *models.Customer) error {
	return r.db.WithContext(ctx).Create(customer).Error
}

func (r *repository) Update(ctx context.Context, customer *models.Customer) error {
	return r.db.WithContext(ctx).Save(customer).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Customer, error) {
	var customer models.Customer
	if err := r.db.WithContext(ctx).
		Where("id = ? AND deleted_at IS NULL", id).
		First(&customer).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &customer, nil
}

func (r *repository) ListByCompany(ctx context.Context, companyID uuid.UUID, limit int, cursor *pagination.Cursor) ([]models.Customer, *pagination.Cursor, error) {
	normalized := pagination.NormalizeLimit(limit)
	query := r.db.WithContext(ctx).
		Model(&models.Customer{}).
		Where("company_id = ? AND deleted_at IS NULL", companyID)
	if cursor != nil {
		query = query.Where("(created_at, id) < (?, ?)", cursor.CreatedAt, cursor.ID)
	}

	var customers []models.Customer
	if err := query.Order("created_at DESC, id DESC").
		Limit(pagination.LimitWithBuffer(normalized)).
		Find(&customers).Error; err != nil {
		return nil, nil, err
	}

	if len(customers) > normalized {
		next := customers[normalized]
		customers = customers[:normalized]
		return customers, &pagination.Cursor{CreatedAt: next.CreatedAt, ID: next.ID}, nil
	}
	return customers, nil, nil
}

func (r *repository) SoftDelete(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&models.Customer{}).
		Where("id = ? AND deleted_at IS NULL", id).
		Update("deleted_at", time.Now().UTC()).Error
}
