package plans

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/billingz-backend/pkg/db/models"
	"github.com/angelmondragon/billingz-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/billingz-backend/pkg/errors"
	"github.com/angelmondragon/billingz-backend/pkg/pagination"
)

type stubRepo struct {
	byID          map[uuid.UUID]*models.Plan
	subscriptions map[uuid.UUID]int64
	deleted       []uuid.UUID
}

func newStubRepo() *stubRepo {
	return &stubRepo{
		byID:          make(map[uuid.UUID]*models.Plan),
		subscriptions: make(map[uuid.UUID]int64),
	}
}

func (s *stubRepo) WithTx(tx *gorm.DB) Repository { return s }

func (s *stubRepo) Create(ctx context.Context, plan *models.Plan) error {
	if plan.ID == uuid.Nil {
		plan.ID = uuid.New()
	}
	s.byID[plan.ID] = plan
	return nil
}

func (s *stubRepo) FindByID(ctx context.Context, id uuid.UUID) (*models.Plan, error) {
	return s.byID[id], nil
}

func (s *stubRepo) ListByCompany(ctx context.Context, companyID uuid.UUID, limit int, cursor *pagination.Cursor) ([]models.Plan, *pagination.Cursor, error) {
	var out []models.Plan
	for _, plan := range s.byID {
		if plan.CompanyID == companyID {
			out = append(out, *plan)
		}
	}
	return out, nil, nil
}

func (s *stubRepo) CountSubscriptions(ctx context.Context, planID uuid.UUID) (int64, error) {
	return s.subscriptions[planID], nil
}

func (s *stubRepo) SoftDelete(ctx context.Context, id uuid.UUID) error {
	s.deleted = append(s.deleted, id)
	delete(s.byID, id)
	return nil
}

func newTestService(t *testing.T) (Service, *stubRepo) {
	t.Helper()
	repo := newStubRepo()
	svc, err := NewService(ServiceParams{Repo: repo})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc, repo
}

func TestCreateConvertsAmountToCents(t *testing.T) {
	svc, _ := newTestService(t)
	companyID := uuid.New()

	plan, err := svc.Create(context.Background(), companyID, CreatePlanInput{
		Name:      "hosting",
		PlanType:  "charge",
		Frequency: "monthly",
		Amount:    "55.66",
		Features:  []string{"backups"},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if plan.AmountCents != 5566 {
		t.Fatalf("expected 5566 cents got %d", plan.AmountCents)
	}
	if plan.PlanType != enums.PlanTypeCharge || plan.Frequency != enums.PlanFrequencyMonthly {
		t.Fatalf("unexpected type/frequency: %s/%s", plan.PlanType, plan.Frequency)
	}
	if len(plan.Features) != 1 || plan.Features[0] != "backups" {
		t.Fatalf("unexpected features: %v", plan.Features)
	}
}

func TestCreateRejectsBadAmounts(t *testing.T) {
	svc, _ := newTestService(t)
	companyID := uuid.New()

	for _, amount := range []string{"0", "-1.00", "10.005", "not-a-number"} {
		_, err := svc.Create(context.Background(), companyID, CreatePlanInput{
			Name:      "hosting",
			PlanType:  "charge",
			Frequency: "monthly",
			Amount:    amount,
		})
		if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeValidation {
			t.Fatalf("amount %q: expected validation error, got %v", amount, err)
		}
	}
}

func TestCreateRejectsUnknownFrequency(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Create(context.Background(), uuid.New(), CreatePlanInput{
		Name:      "hosting",
		PlanType:  "charge",
		Frequency: "fortnightly",
		Amount:    "10.00",
	})
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestGetRejectsCrossTenantAccess(t *testing.T) {
	svc, repo := newTestService(t)
	owner := uuid.New()
	plan := &models.Plan{CompanyID: owner, Name: "hosting", PlanType: enums.PlanTypeCharge, Frequency: enums.PlanFrequencyMonthly, AmountCents: 1000}
	if err := repo.Create(context.Background(), plan); err != nil {
		t.Fatalf("seed plan: %v", err)
	}

	_, err := svc.Get(context.Background(), uuid.New(), plan.ID)
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeForbidden {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestDeleteBlockedByActiveSubscriptions(t *testing.T) {
	svc, repo := newTestService(t)
	companyID := uuid.New()
	plan := &models.Plan{CompanyID: companyID, Name: "hosting", PlanType: enums.PlanTypeCharge, Frequency: enums.PlanFrequencyMonthly, AmountCents: 1000}
	if err := repo.Create(context.Background(), plan); err != nil {
		t.Fatalf("seed plan: %v", err)
	}
	repo.subscriptions[plan.ID] = 2

	err := svc.Delete(context.Background(), companyID, plan.ID)
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeStateConflict {
		t.Fatalf("expected state conflict, got %v", err)
	}
	if len(repo.deleted) != 0 {
		t.Fatalf("plan should not have been deleted")
	}

	repo.subscriptions[plan.ID] = 0
	if err := svc.Delete(context.Background(), companyID, plan.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if len(repo.deleted) != 1 || repo.deleted[0] != plan.ID {
		t.Fatalf("expected soft delete of %s", plan.ID)
	}
}

func TestFormatAmountRoundTrips(t *testing.T) {
	cases := map[string]int64{
		"55.66": 5566,
		"0.01":  1,
		"10.00": 1000,
	}
	for want, cents := range cases {
		if got := FormatAmount(cents); got != want {
			t.Fatalf("FormatAmount(%d) = %s, want %s", cents, got, want)
		}
		parsed, err := ParseAmountCents(want)
		if err != nil {
			t.Fatalf("ParseAmountCents(%s): %v", want, err)
		}
		if parsed != cents {
			t.Fatalf("ParseAmountCents(%s) = %d, want %d", want, parsed, cents)
		}
	}
}
