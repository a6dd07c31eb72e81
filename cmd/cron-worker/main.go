package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/quickbrush-backend/internal/balance"
	"github.com/angelmondragon/quickbrush-backend/internal/billing"
	"github.com/angelmondragon/quickbrush-backend/internal/cron"
	"github.com/angelmondragon/quickbrush-backend/internal/ledger"
	"github.com/angelmondragon/quickbrush-backend/pkg/config"
	"github.com/angelmondragon/quickbrush-backend/pkg/db"
	"github.com/angelmondragon/quickbrush-backend/pkg/instance"
	"github.com/angelmondragon/quickbrush-backend/pkg/logger"
	"github.com/angelmondragon/quickbrush-backend/pkg/metrics"
	"github.com/angelmondragon/quickbrush-backend/pkg/migrate"
	"github.com/angelmondragon/quickbrush-backend/pkg/redis"
	pkgstripe "github.com/angelmondragon/quickbrush-backend/pkg/stripe"
)

const lockName = "cron-worker"

func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
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

	stripeClient, err := pkgstripe.NewClient(context.Background(), cfg.Stripe, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap stripe", err)
		os.Exit(1)
	}

	billingMetrics := metrics.NewBillingMetrics(prometheus.DefaultRegisterer)
	cronMetrics := metrics.NewCronJobMetrics(prometheus.DefaultRegisterer)

	accountsRepo := balance.NewRepository(dbClient.DB())
	ledgerRepo := ledger.NewRepository(dbClient.DB())

	provider, err := billing.NewStripeProvider(billing.NewStripeGateway(stripeClient), billing.NewCatalog(cfg.Stripe))
	if err != nil {
		logg.Error(context.Background(), "failed to create billing provider", err)
		os.Exit(1)
	}
	reconciler, err := billing.NewReconciler(billing.ReconcilerParams{
		Accounts:        accountsRepo,
		Ledger:          ledgerRepo,
		Tx:              dbClient,
		Provider:        provider,
		Logger:          logg,
		Metrics:         billingMetrics,
		ProviderTimeout: cfg.Billing.ProviderTimeout,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create reconciler", err)
		os.Exit(1)
	}
	auditor, err := ledger.NewService(ledgerRepo, accountsRepo)
	if err != nil {
		logg.Error(context.Background(), "failed to create ledger service", err)
		os.Exit(1)
	}

	reconcileJob, err := cron.NewSubscriptionReconcileJob(cron.SubscriptionReconcileJobParams{
		Logger:     logg,
		Accounts:   accountsRepo,
		Reconciler: reconciler,
		Limit:      cfg.Cron.ReconcileLimit,
		Lookback:   cfg.Cron.ReconcileLookback,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create subscription reconcile job", err)
		os.Exit(1)
	}
	auditJob, err := cron.NewLedgerAuditJob(cron.LedgerAuditJobParams{
		Logger:   logg,
		Accounts: accountsRepo,
		Auditor:  auditor,
		Metrics:  billingMetrics,
		Limit:    cfg.Cron.AuditLimit,
		Lookback: cfg.Cron.AuditLookback,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create ledger audit job", err)
		os.Exit(1)
	}

	registry := cron.NewRegistry()
	registry.Register(reconcileJob)
	registry.Register(auditJob)

	lock, err := cron.NewRedisLock(redisClient, lockName, cfg.Cron.LockTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  cronMetrics,
		Interval: cfg.Cron.Interval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"instance":    instance.GetID(),
		"jobs":        registry.Names(),
		"lock_key":    lock.Key(),
	})
	logg.Info(ctx, "starting cron worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}
