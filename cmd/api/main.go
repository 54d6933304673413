package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/billingz-backend/api/routes"
	"github.com/angelmondragon/billingz-backend/internal/companies"
	"github.com/angelmondragon/billingz-backend/internal/customers"
	"github.com/angelmondragon/billingz-backend/internal/invoices"
	"github.com/angelmondragon/billingz-backend/internal/ledger"
	"github.com/angelmondragon/billingz-backend/internal/plans"
	"github.com/angelmondragon/billingz-backend/internal/processor"
	"github.com/angelmondragon/billingz-backend/internal/subscriptions"
	processorwebhook "github.com/angelmondragon/billingz-backend/internal/webhooks/processor"
	"github.com/angelmondragon/billingz-backend/pkg/config"
	"github.com/angelmondragon/billingz-backend/pkg/db"
	"github.com/angelmondragon/billingz-backend/pkg/logger"
	"github.com/angelmondragon/billingz-backend/pkg/metrics"
	"github.com/angelmondragon/billingz-backend/pkg/migrate"
	"github.com/angelmondragon/billingz-backend/pkg/outbox"
	"github.com/angelmondragon/billingz-backend/pkg/redis"
	pkgstripe "github.com/angelmondragon/billingz-backend/pkg/stripe"
)

// callbackDedupTTL bounds how long a processor callback delivery is
// remembered for replay detection.
const callbackDedupTTL = 72 * time.Hour

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	var proc processor.Processor
	if cfg.Stripe.APIKey != "" {
		stripeClient, err := pkgstripe.NewClient(context.Background(), cfg.Stripe, logg)
		if err != nil {
			logg.Error(context.Background(), "failed to create stripe client", err)
			os.Exit(1)
		}
		proc, err = processor.NewStripeProcessor(stripeClient)
		if err != nil {
			logg.Error(context.Background(), "failed to create stripe processor", err)
			os.Exit(1)
		}
	} else {
		logg.Warn(context.Background(), "no stripe api key configured, using the in-memory processor")
		proc = processor.NewFake()
	}

	billingMetrics := metrics.NewBillingMetrics(prometheus.DefaultRegisterer)
	outboxService := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)

	companyService, err := companies.NewService(companies.ServiceParams{
		Repo: companies.NewRepository(dbClient.DB()),
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create company service", err)
		os.Exit(1)
	}

	customerRepo := customers.NewRepository(dbClient.DB())
	customerService, err := customers.NewService(customers.ServiceParams{
		Repo:      customerRepo,
		Processor: proc,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create customer service", err)
		os.Exit(1)
	}

	planRepo := plans.NewRepository(dbClient.DB())
	planService, err := plans.NewService(plans.ServiceParams{Repo: planRepo})
	if err != nil {
		logg.Error(context.Background(), "failed to create plan service", err)
		os.Exit(1)
	}

	ledgerService, err := ledger.NewService(ledger.ServiceParams{
		Repo:              ledger.NewRepository(dbClient.DB()),
		Processor:         proc,
		Logger:            logg,
		Metrics:           billingMetrics,
		SubmitMaxAttempts: cfg.Ledger.SubmitMaxAttempts,
		SubmitBackoffBase: cfg.Ledger.SubmitBackoffBase,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create ledger service", err)
		os.Exit(1)
	}

	subscriptionRepo := subscriptions.NewRepository(dbClient.DB())
	invoiceService, err := invoices.NewService(invoices.ServiceParams{
		DB:            dbClient.DB(),
		Repo:          invoices.NewRepository(dbClient.DB()),
		Ledger:        ledgerService,
		Outbox:        outboxService,
		Processor:     proc,
		Customers:     customerRepo,
		Subscriptions: subscriptionRepo,
		Plans:         planRepo,
		Logger:        logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create invoice service", err)
		os.Exit(1)
	}

	subscriptionService, err := subscriptions.NewService(subscriptions.ServiceParams{
		DB:                dbClient.DB(),
		Repo:              subscriptionRepo,
		Invoices:          invoiceService,
		Customers:         customerRepo,
		Plans:             planRepo,
		Processor:         proc,
		Outbox:            outboxService,
		Logger:            logg,
		Metrics:           billingMetrics,
		ClaimTTL:          cfg.Scheduler.ClaimTTL,
		BatchSize:         cfg.Scheduler.BatchSize,
		Parallelism:       cfg.Scheduler.Parallelism,
		RetryFailedCycles: cfg.Scheduler.RetryFailedCycles,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create subscription service", err)
		os.Exit(1)
	}

	callbackGuard, err := processorwebhook.NewIdempotencyGuard(redisClient, callbackDedupTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create callback guard", err)
		os.Exit(1)
	}
	callbackService, err := processorwebhook.NewService(processorwebhook.ServiceParams{
		DB:        dbClient.DB(),
		Processor: proc,
		Ledger:    ledgerService,
		Invoices:  invoiceService,
		Guard:     callbackGuard,
		Logger:    logg,
		Metrics:   billingMetrics,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create callback service", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	id := os.Getenv("DYNO")
	if id == "" {
		id = "local"
	}
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":      cfg.App.Env,
		"addr":     addr,
		"instance": id,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(
			cfg,
			logg,
			dbClient,
			redisClient,
			companyService,
			customerService,
			planService,
			subscriptionService,
			invoiceService,
			ledgerService,
			callbackService,
		),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}
