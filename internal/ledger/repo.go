package ledger

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/billingz-backend/pkg/db/models"
	"github.com/angelmondragon/billingz-backend/pkg/enums"
	"github.com/angelmondragon/billingz-backend/pkg/pagination"
)

// Repository handles transaction persistence.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, txn *models.Transaction) error
	Update(ctx context.Context, txn *models.Transaction) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Transaction, error)
	FindByProcessorURI(ctx context.Context, uri string) (*models.Transaction, error)
	FindByCorrelationID(ctx context.Context, id uuid.UUID) (*models.Transaction, error)
	ListByInvoice(ctx context.Context, invoiceID uuid.UUID) ([]models.Transaction, error)
	ListByCompany(ctx context.Context, query ListTransactionsQuery) ([]models.Transaction, *pagination.Cursor, error)
	SumSucceededCents(ctx context.Context, invoiceID uuid.UUID, txType enums.TransactionType) (int64, error)
	HasSucceeded(ctx context.Context, invoiceID uuid.UUID, txType enums.TransactionType) (bool, error)
}

// ListTransactionsQuery configures transaction list queries.
type ListTransactionsQuery struct {
	CompanyID uuid.UUID
	InvoiceID *uuid.UUID
	Type      *enums.TransactionType
	Status    *enums.TransactionStatus
	Limit     int
	Cursor    *pagination.Cursor
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a transaction repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, txn *models.Transaction) error {
	return r.db.WithContext(ctx).Create(txn).Error
}

func (r *repository) Update(ctx context.Context, txn *models.Transaction) error {
	return r.db.WithContext(ctx).Save(txn).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	var txn models.Transaction
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&txn).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &txn, nil
}

func (r *repository) FindByProcessorURI(ctx context.Context, uri string) (*models.Transaction, error) {
	if uri == "" {
		return nil, nil
	}
	var txn models.Transaction
	if err := r.db.WithContext(ctx).Where("processor_uri = ?", uri).First(&txn).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &txn, nil
}

func (r *repository) FindByCorrelationID(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	var txn models.Transaction
	if err := r.db.WithContext(ctx).Where("correlation_id = ?", id).First(&txn).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &txn, nil
}

func (r *repository) ListByInvoice(ctx context.Context, invoiceID uuid.UUID) ([]models.Transaction, error) {
	var txns []models.Transaction
	if err := r.db.WithContext(ctx).
		Where("invoice_id = ?", invoiceID).
		Order("created_at ASC, id ASC").
		Find(&txns).Error; err != nil {
		return nil, err
	}
	return txns, nil
}

func (r *repository) ListByCompany(ctx context.Context, query ListTransactionsQuery) ([]models.Transaction, *pagination.Cursor, error) {
	limit := pagination.NormalizeLimit(query.Limit)
	q := r.db.WithContext(ctx).
		Model(&models.Transaction{}).
		Where("company_id = ?", query.CompanyID)
	if query.InvoiceID != nil {
		q = q.Where("invoice_id = ?", *query.InvoiceID)
	}
	if query.Type != nil {
		q = q.Where("type = ?", *query.Type)
	}
	if query.Status != nil {
		q = q.Where("status = ?", *query.Status)
	}
	if query.Cursor != nil {
		q = q.Where("(created_at, id) < (?, ?)", query.Cursor.CreatedAt, query.Cursor.ID)
	}

	var txns []models.Transaction
	if err := q.Order("created_at DESC, id DESC").
		Limit(pagination.LimitWithBuffer(limit)).
		Find(&txns).Error; err != nil {
		return nil, nil, err
	}

	if len(txns) > limit {
		next := txns[limit]
		txns = txns[:limit]
		return txns, &pagination.Cursor{CreatedAt: next.CreatedAt, ID: next.ID}, nil
	}
	return txns, nil, nil
}

func (r *repository) SumSucceededCents(ctx context.Context, invoiceID uuid.UUID, txType enums.TransactionType) (int64, error) {
	var total *int64
	err := r.db.WithContext(ctx).
		Model(&models.Transaction{}).
		Select("SUM(amount_cents)").
		Where("invoice_id = ? AND type = ? AND status = ?", invoiceID, txType, enums.TransactionStatusSucceeded).
		Scan(&total).Error
	if err != nil {
		return 0, err
	}
	if total == nil {
		return 0, nil
	}
	return *total, nil
}

func (r *repository) HasSucceeded(ctx context.Context, invoiceID uuid.UUID, txType enums.TransactionType) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Transaction{}).
		Where("invoice_id = ? AND type = ? AND status = ?", invoiceID, txType, enums.TransactionStatusSucceeded).
		Count(&count).Error
	return count > 0, err
}
