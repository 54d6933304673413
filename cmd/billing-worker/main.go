package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/billingz-backend/internal/cron"
	"github.com/angelmondragon/billingz-backend/internal/customers"
	"github.com/angelmondragon/billingz-backend/internal/invoices"
	"github.com/angelmondragon/billingz-backend/internal/ledger"
	"github.com/angelmondragon/billingz-backend/internal/plans"
	"github.com/angelmondragon/billingz-backend/internal/processor"
	"github.com/angelmondragon/billingz-backend/internal/subscriptions"
	"github.com/angelmondragon/billingz-backend/pkg/config"
	"github.com/angelmondragon/billingz-backend/pkg/db"
	"github.com/angelmondragon/billingz-backend/pkg/logger"
	"github.com/angelmondragon/billingz-backend/pkg/metrics"
	"github.com/angelmondragon/billingz-backend/pkg/migrate"
	"github.com/angelmondragon/billingz-backend/pkg/outbox"
	"github.com/angelmondragon/billingz-backend/pkg/redis"
	pkgstripe "github.com/angelmondragon/billingz-backend/pkg/stripe"
)

const lockKeyFormat = "bz:billing-worker:lock:%s"

func main() {
	logg := logger.New(logger.Options{ServiceName: "billing-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "billing-worker"

	logg = logger.New(logger.Options{
		ServiceName: "billing-worker",
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
	outboxRepo := outbox.NewRepository(dbClient.DB())
	outboxService := outbox.NewService(outboxRepo, logg)

	customerRepo := customers.NewRepository(dbClient.DB())
	planRepo := plans.NewRepository(dbClient.DB())
	subscriptionRepo := subscriptions.NewRepository(dbClient.DB())

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

	billingCycleJob, err := cron.NewBillingCycleJob(cron.BillingCycleJobParams{
		Logger:    logg,
		Scheduler: subscriptionService,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create billing cycle job", err)
		os.Exit(1)
	}
	retentionJob, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:     logg,
		Repository: outboxRepo,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create outbox retention job", err)
		os.Exit(1)
	}

	metricsCollector := metrics.NewCronJobMetrics(prometheus.DefaultRegisterer)
	lock, err := cron.NewRedisLock(redisClient, lockKey(cfg.App.Env), 0)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: cron.NewRegistry(billingCycleJob, retentionJob),
		Lock:     lock,
		Metrics:  metricsCollector,
		Interval: cfg.Scheduler.TickInterval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})

	go serveMetrics(ctx, logg, cfg.App.Port)

	logg.Info(ctx, "starting cron worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

// serveMetrics exposes the prometheus registry on the worker's port.
func serveMetrics(ctx context.Context, logg *logger.Logger, port string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{Addr: ":" + port, Handler: mux}
	go func() {
		<-ctx.Done()
		_ = server.Close()
	}()
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logg.Error(ctx, "metrics listener stopped unexpectedly", err)
	}
}

func lockKey(env string) string {
	if env == "" {
		env = "local"
	}
	return fmt.Sprintf(lockKeyFormat, env)
}
