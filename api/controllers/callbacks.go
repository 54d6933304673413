package controllers

import (
	"context"
	"crypto/subtle"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/billingz-backend/api/responses"
	processorwebhook "github.com/angelmondragon/billingz-backend/internal/webhooks/processor"
	"github.com/angelmondragon/billingz-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/billingz-backend/pkg/errors"
	"github.com/angelmondragon/billingz-backend/pkg/logger"
)

const callbackSignatureHeader = "Stripe-Signature"

// CompanyFinder loads a tenant for callback-key verification.
type CompanyFinder interface {
	Get(ctx context.Context, callerID, id uuid.UUID) (*models.Company, error)
}

// ProcessorCallback receives asynchronous processor notifications. The route
// embeds the per-company callback key instead of an API key; a wrong key is
// answered with not-found so the URL space cannot be probed. The reconciler
// treats replays and unrelated events as successes so the processor stops
// redelivering them.
func ProcessorCallback(companies CompanyFinder, svc *processorwebhook.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		companyID, err := parseUUIDParam(r, "companyId")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		key := strings.TrimSpace(chi.URLParam(r, "callbackKey"))
		if key == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "not found"))
			return
		}

		company, err := companies.Get(ctx, companyID, companyID)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "not found"))
			return
		}
		if subtle.ConstantTimeCompare([]byte(key), []byte(company.CallbackKey)) != 1 {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "not found"))
			return
		}

		payload, err := io.ReadAll(r.Body)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read callback payload"))
			return
		}

		disposition, err := svc.Handle(ctx, company, payload, r.Header.Get(callbackSignatureHeader))
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"status": string(disposition)})
	}
}
