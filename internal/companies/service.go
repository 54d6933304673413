package companies

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/billingz-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/billingz-backend/pkg/errors"
	"github.com/angelmondragon/billingz-backend/pkg/security"
)

// Service defines the company tenant operations.
type Service interface {
	Create(ctx context.Context, input CreateCompanyInput) (*CreatedCompany, error)
	Get(ctx context.Context, callerID, id uuid.UUID) (*models.Company, error)
	Update(ctx context.Context, callerID uuid.UUID, input UpdateCompanyInput) (*models.Company, error)
	Delete(ctx context.Context, callerID, id uuid.UUID) error
	Authenticate(ctx context.Context, rawAPIKey string) (*models.Company, error)
}

// ServiceParams groups dependencies for the company service.
type ServiceParams struct {
	Repo Repository
}

type service struct {
	repo Repository
}

// CreateCompanyInput registers a new tenant.
type CreateCompanyInput struct {
	Name         string `json:"name" validate:"required,max=255"`
	ProcessorKey string `json:"processor_key" validate:"required"`
}

// UpdateCompanyInput mutates mutable tenant fields.
type UpdateCompanyInput struct {
	ID           uuid.UUID
	Name         *string `json:"name" validate:"omitempty,max=255"`
	ProcessorKey *string `json:"processor_key"`
}

// CreatedCompany is the creation result. APIKey and CallbackKey are returned
// exactly once; only the key digest is persisted.
type CreatedCompany struct {
	Company     *models.Company
	APIKey      string
	CallbackKey string
}

// NewService builds a company service.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "repo is required")
	}
	return &service{repo: params.Repo}, nil
}

func (s *service) Create(ctx context.Context, input CreateCompanyInput) (*CreatedCompany, error) {
	if strings.TrimSpace(input.Name) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "company name is required")
	}
	if strings.TrimSpace(input.ProcessorKey) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "processor key is required")
	}

	apiKey, err := security.GenerateAPIKey()
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "generate api key")
	}
	callbackKey, err := security.GenerateCallbackKey()
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "generate callback key")
	}

	company := &models.Company{
		Name:         strings.TrimSpace(input.Name),
		ProcessorKey: strings.TrimSpace(input.ProcessorKey),
		APIKeyDigest: security.DigestAPIKey(apiKey),
		CallbackKey:  callbackKey,
	}
	if err := s.repo.Create(ctx, company); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create company")
	}

	return &CreatedCompany{
		Company:     company,
		APIKey:      apiKey,
		CallbackKey: callbackKey,
	}, nil
}

func (s *service) Get(ctx context.Context, callerID, id uuid.UUID) (*models.Company, error) {
	company, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load company")
	}
	if company == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "company not found")
	}
	if company.ID != callerID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "company belongs to another tenant")
	}
	return company, nil
}

func (s *service) Update(ctx context.Context, callerID uuid.UUID, input UpdateCompanyInput) (*models.Company, error) {
	company, err := s.Get(ctx, callerID, input.ID)
	if err != nil {
		return nil, err
	}

	if input.Name != nil {
		name := strings.TrimSpace(*input.Name)
		if name == "" {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "company name cannot be empty")
		}
		company.Name = name
	}
	if input.ProcessorKey != nil {
		key := strings.TrimSpace(*input.ProcessorKey)
		if key == "" {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "processor key cannot be empty")
		}
		company.ProcessorKey = key
	}

	if err := s.repo.Update(ctx, company); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update company")
	}
	return company, nil
}

func (s *service) Delete(ctx context.Context, callerID, id uuid.UUID) error {
	if _, err := s.Get(ctx, callerID, id); err != nil {
		return err
	}
	if err := s.repo.SoftDelete(ctx, id); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "delete company")
	}
	return nil
}

func (s *service) Authenticate(ctx context.Context, rawAPIKey string) (*models.Company, error) {
	if strings.TrimSpace(rawAPIKey) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "api key required")
	}
	company, err := s.repo.FindByAPIKeyDigest(ctx, security.DigestAPIKey(rawAPIKey))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup api key")
	}
	if company == nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid api key")
	}
	return company, nil
}
