package middleware

import (
	"context"
	"net/http"

	"github.com/angelmondragon/billingz-backend/api/responses"
	"github.com/angelmondragon/billingz-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/billingz-backend/pkg/errors"
	"github.com/angelmondragon/billingz-backend/pkg/logger"
)

// APIKeyAuthenticator resolves a raw API key to its owning company.
type APIKeyAuthenticator interface {
	Authenticate(ctx context.Context, rawAPIKey string) (*models.Company, error)
}

// APIKeyAuth validates the company API key carried as the HTTP Basic
// username and seeds the request context with the company. The password
// field is ignored.
func APIKeyAuth(companies APIKeyAuthenticator, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key, _, ok := r.BasicAuth()
			if !ok || key == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}

			company, err := companies.Authenticate(r.Context(), key)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}

			ctx := WithCompany(r.Context(), company)
			if logg != nil {
				ctx = logg.WithCompanyID(ctx, company.ID.String())
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
