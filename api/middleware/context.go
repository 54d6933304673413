package middleware

import (
	"context"

	"github.com/angelmondragon/billingz-backend/pkg/db/models"
)

type contextKey string

const ctxCompany contextKey = "company"

// CompanyFromContext returns the authenticated tenant, or nil when the
// request was not authenticated.
func CompanyFromContext(ctx context.Context) *models.Company {
	if ctx == nil {
		return nil
	}
	if v, ok := ctx.Value(ctxCompany).(*models.Company); ok {
		return v
	}
	return nil
}

// WithCompany injects the authenticated company into the context.
func WithCompany(ctx context.Context, company *models.Company) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxCompany, company)
}
