package customers

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/billingz-backend/internal/processor"
	"github.com/angelmondragon/billingz-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/billingz-backend/pkg/errors"
	"github.com/angelmondragon/billingz-backend/pkg/pagination"
)

// Service defines customer operations scoped to one tenant.
type Service interface {
	Create(ctx context.Context, companyID uuid.UUID, input CreateCustomerInput) (*models.Customer, error)
	Get(ctx context.Context, companyID, id uuid.UUID) (*models.Customer, error)
	List(ctx context.Context, companyID uuid.UUID, params pagination.Params) ([]models.Customer, string, error)
	Delete(ctx context.Context, companyID, id uuid.UUID) error
}

// ServiceParams groups dependencies for the customer service.
type ServiceParams struct {
	Repo      Repository
	Processor processor.Processor
}

type service struct {
	repo      Repository
	processor processor.Processor
}

// CreateCustomerInput registers a billable party.
type CreateCustomerInput struct {
	ProcessorURI *string `json:"processor_uri" validate:"omitempty,max=255"`
}

// NewService builds a customer service.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "repo is required")
	}
	if params.Processor == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "processor is required")
	}
	return &service{repo: params.Repo, processor: params.Processor}, nil
}

func (s *service) Create(ctx context.Context, companyID uuid.UUID, input CreateCustomerInput) (*models.Customer, error) {
	if companyID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "company scope required")
	}

	customer := &models.Customer{CompanyID: companyID}
	if input.ProcessorURI != nil {
		uri := strings.TrimSpace(*input.ProcessorURI)
		if uri != "" {
			if err := s.processor.ValidateCustomer(ctx, uri); err != nil {
				return nil, err
			}
			customer.ProcessorURI = &uri
		}
	}

	if err := s.repo.Create(ctx, customer); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create customer")
	}
	return customer, nil
}

func (s *service) Get(ctx context.Context, companyID, id uuid.UUID) (*models.Customer, error) {
	customer, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load customer")
	}
	if customer == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "customer not found")
	}
	if customer.CompanyID != companyID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "customer belongs to another company")
	}
	return customer, nil
}

func (s *service) List(ctx context.Context, companyID uuid.UUID, params pagination.Params) ([]models.Customer, string, error) {
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, "", pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}

	customers, next, err := s.repo.ListByCompany(ctx, companyID, params.Limit, cursor)
	if err != nil {
		return nil, "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list customers")
	}

	nextCursor := ""
	if next != nil {
		nextCursor = pagination.EncodeCursor(*next)
	}
	return customers, nextCursor, nil
}

func (s *service) Delete(ctx context.Context, companyID, id uuid.UUID) error {
	if _, err := s.Get(ctx, companyID, id); err != nil {
		return err
	}
	if err := s.repo.SoftDelete(ctx, id); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "delete customer")
	}
	return nil
}
