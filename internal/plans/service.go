package plans

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/billingz-backend/pkg/db/models"
	"github.com/angelmondragon/billingz-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/billingz-backend/pkg/errors"
	"github.com/angelmondragon/billingz-backend/pkg/pagination"
)

// Service defines plan operations scoped to one tenant.
type Service interface {
	Create(ctx context.Context, companyID uuid.UUID, input CreatePlanInput) (*models.Plan, error)
	Get(ctx context.Context, companyID, id uuid.UUID) (*models.Plan, error)
	List(ctx context.Context, companyID uuid.UUID, params pagination.Params) ([]models.Plan, string, error)
	Delete(ctx context.Context, companyID, id uuid.UUID) error
}

// ServiceParams groups dependencies for the plan service.
type ServiceParams struct {
	Repo Repository
}

type service struct {
	repo Repository
}

// CreatePlanInput describes a billing template. Amount is a decimal string
// in major units ("12.34"); it is converted to cents for storage.
type CreatePlanInput struct {
	Name      string   `json:"name" validate:"required,max=255"`
	PlanType  string   `json:"plan_type" validate:"required"`
	Frequency string   `json:"frequency" validate:"required"`
	Amount    string   `json:"amount" validate:"required"`
	Features  []string `json:"features" validate:"omitempty,dive,max=255"`
}

// NewService builds a plan service.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "repo is required")
	}
	return &service{repo: params.Repo}, nil
}

// ParseAmountCents converts a major-unit decimal string to cents, rejecting
// sub-cent precision and non-positive values.
func ParseAmountCents(raw string) (int64, error) {
	amount, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "amount must be a decimal string")
	}
	cents := amount.Mul(decimal.NewFromInt(100))
	if !cents.IsInteger() {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "amount cannot carry sub-cent precision")
	}
	if !cents.IsPositive() {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "amount must be greater than zero")
	}
	return cents.IntPart(), nil
}

// FormatAmount renders cents back into a major-unit decimal string.
func FormatAmount(cents int64) string {
	return decimal.NewFromInt(cents).Div(decimal.NewFromInt(100)).StringFixed(2)
}

func (s *service) Create(ctx context.Context, companyID uuid.UUID, input CreatePlanInput) (*models.Plan, error) {
	if companyID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "company scope required")
	}
	if strings.TrimSpace(input.Name) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "plan name is required")
	}

	planType, err := enums.ParsePlanType(input.PlanType)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid plan type")
	}
	frequency, err := enums.ParsePlanFrequency(input.Frequency)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid plan frequency")
	}
	amountCents, err := ParseAmountCents(input.Amount)
	if err != nil {
		return nil, err
	}

	plan := &models.Plan{
		CompanyID:   companyID,
		Name:        strings.TrimSpace(input.Name),
		PlanType:    planType,
		Frequency:   frequency,
		AmountCents: amountCents,
		Features:    pq.StringArray(input.Features),
	}
	if err := s.repo.Create(ctx, plan); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create plan")
	}
	return plan, nil
}

func (s *service) Get(ctx context.Context, companyID, id uuid.UUID) (*models.Plan, error) {
	plan, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load plan")
	}
	if plan == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "plan not found")
	}
	if plan.CompanyID != companyID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "plan belongs to another company")
	}
	return plan, nil
}

func (s *service) List(ctx context.Context, companyID uuid.UUID, params pagination.Params) ([]models.Plan, string, error) {
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, "", pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}

	plans, next, err := s.repo.ListByCompany(ctx, companyID, params.Limit, cursor)
	if err != nil {
		return nil, "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list plans")
	}

	nextCursor := ""
	if next != nil {
		nextCursor = pagination.EncodeCursor(*next)
	}
	return plans, nextCursor, nil
}

func (s *service) Delete(ctx context.Context, companyID, id uuid.UUID) error {
	if _, err := s.Get(ctx, companyID, id); err != nil {
		return err
	}
	count, err := s.repo.CountSubscriptions(ctx, id)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count plan subscriptions")
	}
	if count > 0 {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "plan has active subscriptions").
			WithDetails(map[string]any{"active_subscriptions": count})
	}
	if err := s.repo.SoftDelete(ctx, id); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "delete plan")
	}
	return nil
}
