package controllers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/billingz-backend/api/middleware"
	"github.com/angelmondragon/billingz-backend/internal/companies"
	"github.com/angelmondragon/billingz-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/billingz-backend/pkg/errors"
)

type stubCompanyService struct {
	created *companies.CreatedCompany
	company *models.Company
	err     error
}

func (s stubCompanyService) Create(_ context.Context, _ companies.CreateCompanyInput) (*companies.CreatedCompany, error) {
	return s.created, s.err
}

func (s stubCompanyService) Get(_ context.Context, _, _ uuid.UUID) (*models.Company, error) {
	return s.company, s.err
}

func (s stubCompanyService) Update(_ context.Context, _ uuid.UUID, _ companies.UpdateCompanyInput) (*models.Company, error) {
	return s.company, s.err
}

func (s stubCompanyService) Delete(_ context.Context, _, _ uuid.UUID) error {
	return s.err
}

func TestCompanyCreateReturnsKeysOnce(t *testing.T) {
	company := &models.Company{ID: uuid.New(), Name: "Acme Billing"}
	handler := CompanyCreate(stubCompanyService{created: &companies.CreatedCompany{
		Company:     company,
		APIKey:      "bk_live_test123",
		CallbackKey: "cb_live_test456",
	}}, nil)

	body := bytes.NewBufferString(`{"name":"Acme Billing","processor_key":"sk_test_abc"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/companies", body)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d", rec.Code)
	}

	var envelope struct {
		Data companyCreatedResponse `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if envelope.Data.APIKey != "bk_live_test123" {
		t.Fatalf("expected api key in creation response, got %q", envelope.Data.APIKey)
	}
	if envelope.Data.CallbackKey != "cb_live_test456" {
		t.Fatalf("expected callback key in creation response, got %q", envelope.Data.CallbackKey)
	}
	if envelope.Data.ID != company.ID.String() {
		t.Fatalf("expected guid %s got %s", company.ID, envelope.Data.ID)
	}
}

func TestCompanyCreateRejectsMissingName(t *testing.T) {
	handler := CompanyCreate(stubCompanyService{}, nil)

	body := bytes.NewBufferString(`{"processor_key":"sk_test_abc"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/companies", body)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rec.Code)
	}
}

func TestCompanyDetailRequiresAuth(t *testing.T) {
	handler := CompanyDetail(stubCompanyService{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/companies/"+uuid.NewString(), nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", rec.Code)
	}
}

func TestCompanyDetailForbiddenForOtherTenant(t *testing.T) {
	caller := &models.Company{ID: uuid.New()}
	handler := CompanyDetail(stubCompanyService{
		err: pkgerrors.New(pkgerrors.CodeForbidden, "company belongs to another tenant"),
	}, nil)

	other := uuid.New()
	req := httptest.NewRequest(http.MethodGet, "/v1/companies/"+other.String(), nil)
	routeCtx := chi.NewRouteContext()
	routeCtx.URLParams.Add("companyId", other.String())
	ctx := context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx)
	req = req.WithContext(middleware.WithCompany(ctx, caller))
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 got %d", rec.Code)
	}
}
