package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/billingz-backend/api/controllers"
	"github.com/angelmondragon/billingz-backend/api/middleware"
	"github.com/angelmondragon/billingz-backend/internal/companies"
	"github.com/angelmondragon/billingz-backend/internal/customers"
	"github.com/angelmondragon/billingz-backend/internal/invoices"
	"github.com/angelmondragon/billingz-backend/internal/ledger"
	"github.com/angelmondragon/billingz-backend/internal/plans"
	subscriptionsvc "github.com/angelmondragon/billingz-backend/internal/subscriptions"
	processorwebhook "github.com/angelmondragon/billingz-backend/internal/webhooks/processor"
	"github.com/angelmondragon/billingz-backend/pkg/config"
	"github.com/angelmondragon/billingz-backend/pkg/db"
	"github.com/angelmondragon/billingz-backend/pkg/logger"
	pkgredis "github.com/angelmondragon/billingz-backend/pkg/redis"
)

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisClient *pkgredis.Client,
	companyService companies.Service,
	customerService customers.Service,
	planService plans.Service,
	subscriptionService subscriptionsvc.Service,
	invoiceService invoices.Service,
	ledgerService ledger.Service,
	callbackService *processorwebhook.Service,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, dbP, redisClient))
	})

	// tenant bootstrap and processor callbacks carry their own credentials
	r.Post("/v1/companies", controllers.CompanyCreate(companyService, logg))
	r.Post("/v1/companies/{companyId}/callbacks/{callbackKey}", controllers.ProcessorCallback(companyService, callbackService, logg))

	r.Group(func(r chi.Router) {
		r.Use(middleware.APIKeyAuth(companyService, logg))
		r.Use(middleware.Idempotency(redisClient, logg))

		r.Get("/v1/companies/{companyId}", controllers.CompanyDetail(companyService, logg))
		r.Put("/v1/companies/{companyId}", controllers.CompanyUpdate(companyService, logg))
		r.Delete("/v1/companies/{companyId}", controllers.CompanyDelete(companyService, logg))

		r.Route("/v1/customers", func(r chi.Router) {
			r.Post("/", controllers.CustomerCreate(customerService, logg))
			r.Get("/", controllers.CustomerList(customerService, logg))
			r.Get("/{customerId}", controllers.CustomerDetail(customerService, logg))
			r.Delete("/{customerId}", controllers.CustomerDelete(customerService, logg))
		})

		r.Route("/v1/plans", func(r chi.Router) {
			r.Post("/", controllers.PlanCreate(planService, logg))
			r.Get("/", controllers.PlanList(planService, logg))
			r.Get("/{planId}", controllers.PlanDetail(planService, logg))
			r.Delete("/{planId}", controllers.PlanDelete(planService, logg))
		})

		r.Route("/v1/subscriptions", func(r chi.Router) {
			r.Post("/", controllers.SubscriptionCreate(subscriptionService, logg))
			r.Get("/", controllers.SubscriptionList(subscriptionService, logg))
			r.Get("/{subscriptionId}", controllers.SubscriptionDetail(subscriptionService, logg))
			r.Post("/{subscriptionId}/cancel", controllers.SubscriptionCancel(subscriptionService, logg))
		})

		r.Route("/v1/invoices", func(r chi.Router) {
			r.Post("/", controllers.InvoiceCreate(invoiceService, logg))
			r.Get("/", controllers.InvoiceList(invoiceService, logg))
			r.Get("/{invoiceId}", controllers.InvoiceDetail(invoiceService, logg))
			r.Post("/{invoiceId}/refund", controllers.InvoiceRefund(invoiceService, logg))
		})

		r.Route("/v1/transactions", func(r chi.Router) {
			r.Get("/", controllers.TransactionList(ledgerService, logg))
			r.Get("/{transactionId}", controllers.TransactionDetail(ledgerService, logg))
		})
	})

	return r
}
