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
	invoicesvc "github.com/angelmondragon/billingz-backend/internal/invoices"
	"github.com/angelmondragon/billingz-backend/pkg/db/models"
	"github.com/angelmondragon/billingz-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/billingz-backend/pkg/errors"
	"github.com/angelmondragon/billingz-backend/pkg/pagination"
)

type stubInvoiceService struct {
	created   *models.Invoice
	processed *models.Invoice
	refunded  *models.Invoice
	err       error

	lastCreate invoicesvc.CreateInvoiceInput
	refundArgs struct {
		invoiceID   uuid.UUID
		amountCents int64
	}
}

func (s *stubInvoiceService) Create(_ context.Context, input invoicesvc.CreateInvoiceInput) (*models.Invoice, error) {
	s.lastCreate = input
	return s.created, s.err
}

func (s *stubInvoiceService) Process(_ context.Context, _ uuid.UUID) (*models.Invoice, error) {
	return s.processed, s.err
}

func (s *stubInvoiceService) Refund(_ context.Context, _, invoiceID uuid.UUID, amountCents int64) (*models.Invoice, error) {
	s.refundArgs.invoiceID = invoiceID
	s.refundArgs.amountCents = amountCents
	return s.refunded, s.err
}

func (s *stubInvoiceService) Get(_ context.Context, _, _ uuid.UUID) (*models.Invoice, error) {
	return s.created, s.err
}

func (s *stubInvoiceService) List(_ context.Context, _ uuid.UUID, _ int, _ *pagination.Cursor) ([]models.Invoice, *pagination.Cursor, error) {
	return nil, nil, s.err
}

func authedRequest(method, target string, body *bytes.Buffer, company *models.Company, params map[string]string) *http.Request {
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, target, body)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	routeCtx := chi.NewRouteContext()
	for key, value := range params {
		routeCtx.URLParams.Add(key, value)
	}
	ctx := context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx)
	return req.WithContext(middleware.WithCompany(ctx, company))
}

func TestInvoiceCreateParsesDecimalAmounts(t *testing.T) {
	company := &models.Company{ID: uuid.New()}
	customerID := uuid.New()
	invoice := &models.Invoice{
		ID:                   uuid.New(),
		CompanyID:            company.ID,
		CustomerID:           customerID,
		AmountCents:          5689,
		EffectiveAmountCents: 5689,
		FundingInstrumentURI: "cards/ok",
		Status:               enums.InvoiceStatusSettled,
	}
	svc := &stubInvoiceService{created: invoice, processed: invoice}
	handler := InvoiceCreate(svc, nil)

	body := bytes.NewBufferString(`{
		"customer_guid": "` + customerID.String() + `",
		"funding_instrument_uri": "cards/ok",
		"items": [{"name": "hosting", "amount": "55.66"}, {"name": "support", "amount": "1.23"}]
	}`)
	req := authedRequest(http.MethodPost, "/v1/invoices", body, company, nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d: %s", rec.Code, rec.Body.String())
	}
	if len(svc.lastCreate.Items) != 2 {
		t.Fatalf("expected 2 items got %d", len(svc.lastCreate.Items))
	}
	if svc.lastCreate.Items[0].AmountCents != 5566 || svc.lastCreate.Items[1].AmountCents != 123 {
		t.Fatalf("unexpected item cents: %+v", svc.lastCreate.Items)
	}

	var envelope struct {
		Data invoiceResponse `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if envelope.Data.EffectiveAmount != "56.89" {
		t.Fatalf("expected effective amount 56.89 got %s", envelope.Data.EffectiveAmount)
	}
}

func TestInvoiceCreateRejectsSubCentAmounts(t *testing.T) {
	company := &models.Company{ID: uuid.New()}
	handler := InvoiceCreate(&stubInvoiceService{}, nil)

	body := bytes.NewBufferString(`{
		"customer_guid": "` + uuid.NewString() + `",
		"funding_instrument_uri": "cards/ok",
		"items": [{"name": "hosting", "amount": "10.005"}]
	}`)
	req := authedRequest(http.MethodPost, "/v1/invoices", body, company, nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rec.Code)
	}
}

func TestInvoiceRefundConvertsAmountToCents(t *testing.T) {
	company := &models.Company{ID: uuid.New()}
	invoiceID := uuid.New()
	refunded := &models.Invoice{
		ID:        invoiceID,
		CompanyID: company.ID,
		Status:    enums.InvoiceStatusSettled,
	}
	svc := &stubInvoiceService{refunded: refunded}
	handler := InvoiceRefund(svc, nil)

	body := bytes.NewBufferString(`{"amount": "15.00"}`)
	req := authedRequest(http.MethodPost, "/v1/invoices/"+invoiceID.String()+"/refund", body, company, map[string]string{
		"invoiceId": invoiceID.String(),
	})
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rec.Code, rec.Body.String())
	}
	if svc.refundArgs.amountCents != 1500 {
		t.Fatalf("expected 1500 cents got %d", svc.refundArgs.amountCents)
	}
}

func TestInvoiceRefundMapsInsufficientAmountToConflict(t *testing.T) {
	company := &models.Company{ID: uuid.New()}
	invoiceID := uuid.New()
	svc := &stubInvoiceService{
		err: pkgerrors.New(pkgerrors.CodeInsufficientAmount, "refund exceeds the refundable balance"),
	}
	handler := InvoiceRefund(svc, nil)

	body := bytes.NewBufferString(`{"amount": "999.00"}`)
	req := authedRequest(http.MethodPost, "/v1/invoices/"+invoiceID.String()+"/refund", body, company, map[string]string{
		"invoiceId": invoiceID.String(),
	})
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 got %d", rec.Code)
	}
}
