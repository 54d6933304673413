package companies

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/billingz-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/billingz-backend/pkg/errors"
	"github.com/angelmondragon/billingz-backend/pkg/security"
)

type stubRepo struct {
	created    *models.Company
	byID       map[uuid.UUID]*models.Company
	byDigest   map[string]*models.Company
	deleted    []uuid.UUID
	createErr  error
	lastUpdate *models.Company
}

func newStubRepo() *stubRepo {
	return &stubRepo{
		byID:     make(map[uuid.UUID]*models.Company),
		byDigest: make(map[string]*models.Company),
	}
}

func (s *stubRepo) WithTx(tx *gorm.DB) Repository { return s }

func (s *stubRepo) Create(ctx context.Context, company *models.Company) error {
	if s.createErr != nil {
		return s.createErr
	}
	if company.ID == uuid.Nil {
		company.ID = uuid.New()
	}
	s.created = company
	s.byID[company.ID] = company
	s.byDigest[company.APIKeyDigest] = company
	return nil
}

func (s *stubRepo) Update(ctx context.Context, company *models.Company) error {
	s.lastUpdate = company
	s.byID[company.ID] = company
	return nil
}

func (s *stubRepo) FindByID(ctx context.Context, id uuid.UUID) (*models.Company, error) {
	return s.byID[id], nil
}

func (s *stubRepo) FindByAPIKeyDigest(ctx context.Context, digest string) (*models.Company, error) {
	return s.byDigest[digest], nil
}

func (s *stubRepo) SoftDelete(ctx context.Context, id uuid.UUID) error {
	s.deleted = append(s.deleted, id)
	delete(s.byID, id)
	return nil
}

func TestCreateReturnsRawKeysOnce(t *testing.T) {
	repo := newStubRepo()
	svc, err := NewService(ServiceParams{Repo: repo})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	created, err := svc.Create(context.Background(), CreateCompanyInput{
		Name:         "Acme Corp",
		ProcessorKey: "proc-key-1",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if created.APIKey == "" || created.CallbackKey == "" {
		t.Fatal("expected raw keys in creation result")
	}
	if repo.created.APIKeyDigest != security.DigestAPIKey(created.APIKey) {
		t.Fatal("stored digest must match the returned key")
	}
	if repo.created.APIKeyDigest == created.APIKey {
		t.Fatal("raw key must not be persisted")
	}
}

func TestCreateValidatesInput(t *testing.T) {
	svc, _ := NewService(ServiceParams{Repo: newStubRepo()})

	_, err := svc.Create(context.Background(), CreateCompanyInput{ProcessorKey: "k"})
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}

	_, err = svc.Create(context.Background(), CreateCompanyInput{Name: "Acme"})
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestGetRejectsCrossTenantAccess(t *testing.T) {
	repo := newStubRepo()
	svc, _ := NewService(ServiceParams{Repo: repo})

	created, err := svc.Create(context.Background(), CreateCompanyInput{Name: "Acme", ProcessorKey: "k"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	_, err = svc.Get(context.Background(), uuid.New(), created.Company.ID)
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeForbidden {
		t.Fatalf("expected forbidden, got %v", err)
	}

	got, err := svc.Get(context.Background(), created.Company.ID, created.Company.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ID != created.Company.ID {
		t.Fatalf("unexpected company %s", got.ID)
	}
}

func TestAuthenticate(t *testing.T) {
	repo := newStubRepo()
	svc, _ := NewService(ServiceParams{Repo: repo})

	created, err := svc.Create(context.Background(), CreateCompanyInput{Name: "Acme", ProcessorKey: "k"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	company, err := svc.Authenticate(context.Background(), created.APIKey)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if company.ID != created.Company.ID {
		t.Fatalf("unexpected company %s", company.ID)
	}

	_, err = svc.Authenticate(context.Background(), "bzk_wrong")
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeUnauthorized {
		t.Fatalf("expected unauthorized, got %v", err)
	}

	_, err = svc.Authenticate(context.Background(), "")
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeUnauthorized {
		t.Fatalf("expected unauthorized for empty key, got %v", err)
	}
}

func TestDeleteScopesToTenant(t *testing.T) {
	repo := newStubRepo()
	svc, _ := NewService(ServiceParams{Repo: repo})

	created, err := svc.Create(context.Background(), CreateCompanyInput{Name: "Acme", ProcessorKey: "k"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := svc.Delete(context.Background(), uuid.New(), created.Company.ID); err == nil {
		t.Fatal("expected forbidden for foreign tenant")
	}
	if err := svc.Delete(context.Background(), created.Company.ID, created.Company.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if len(repo.deleted) != 1 || repo.deleted[0] != created.Company.ID {
		t.Fatalf("unexpected deletions %v", repo.deleted)
	}
}
