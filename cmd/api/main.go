package main

import (
	"context"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/quickbrush-backend/api"
	"github.com/angelmondragon/quickbrush-backend/api/routes"
	"github.com/angelmondragon/quickbrush-backend/internal/archive"
	"github.com/angelmondragon/quickbrush-backend/internal/balance"
	"github.com/angelmondragon/quickbrush-backend/internal/billing"
	"github.com/angelmondragon/quickbrush-backend/internal/generation"
	"github.com/angelmondragon/quickbrush-backend/internal/ledger"
	"github.com/angelmondragon/quickbrush-backend/internal/ratelimit"
	"github.com/angelmondragon/quickbrush-backend/pkg/config"
	"github.com/angelmondragon/quickbrush-backend/pkg/db"
	"github.com/angelmondragon/quickbrush-backend/pkg/instance"
	"github.com/angelmondragon/quickbrush-backend/pkg/logger"
	"github.com/angelmondragon/quickbrush-backend/pkg/metrics"
	"github.com/angelmondragon/quickbrush-backend/pkg/migrate"
	"github.com/angelmondragon/quickbrush-backend/pkg/redis"
	"github.com/angelmondragon/quickbrush-backend/pkg/storage/s3"
	pkgstripe "github.com/angelmondragon/quickbrush-backend/pkg/stripe"
)

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

	bootCtx := context.Background()

	dbClient, err := db.New(bootCtx, cfg.DB, logg)
	requireResource(bootCtx, logg, "database", err)
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(bootCtx, "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(bootCtx, cfg, logg, dbClient); err != nil {
		logg.Error(bootCtx, "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(bootCtx, cfg.Redis, logg)
	requireResource(bootCtx, logg, "redis", err)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(bootCtx, "error closing redis", err)
		}
	}()

	stripeClient, err := pkgstripe.NewClient(bootCtx, cfg.Stripe, logg)
	requireResource(bootCtx, logg, "stripe", err)

	blobs, err := s3.NewClient(bootCtx, cfg.Storage, logg)
	requireResource(bootCtx, logg, "object storage", err)

	reg := prometheus.DefaultRegisterer
	generationMetrics := metrics.NewGenerationMetrics(reg)
	billingMetrics := metrics.NewBillingMetrics(reg)

	accountsRepo := balance.NewRepository(dbClient.DB())
	ledgerRepo := ledger.NewRepository(dbClient.DB())

	balanceService, err := balance.NewService(accountsRepo, ledgerRepo, dbClient)
	requireResource(bootCtx, logg, "balance service", err)

	ledgerService, err := ledger.NewService(ledgerRepo, accountsRepo)
	requireResource(bootCtx, logg, "ledger service", err)

	catalog := billing.NewCatalog(cfg.Stripe)
	gateway := billing.NewStripeGateway(stripeClient)
	provider, err := billing.NewStripeProvider(gateway, catalog)
	requireResource(bootCtx, logg, "billing provider", err)

	reconciler, err := billing.NewReconciler(billing.ReconcilerParams{
		Accounts:        accountsRepo,
		Ledger:          ledgerRepo,
		Tx:              dbClient,
		Provider:        provider,
		Logger:          logg,
		Metrics:         billingMetrics,
		MinInterval:     cfg.Billing.ReconcileMinInterval,
		ProviderTimeout: cfg.Billing.ProviderTimeout,
	})
	requireResource(bootCtx, logg, "billing reconciler", err)

	purchases, err := billing.NewPurchaseService(billing.PurchaseParams{
		Gateway:  gateway,
		Catalog:  catalog,
		Balances: balanceService,
		Logger:   logg,
		Metrics:  billingMetrics,
	})
	requireResource(bootCtx, logg, "purchase service", err)

	archiveService, err := archive.NewService(archive.ServiceParams{
		Repo:   archive.NewRepository(dbClient.DB()),
		Blobs:  blobs,
		Logger: logg,
		Config: cfg.Archive,
	})
	requireResource(bootCtx, logg, "archive service", err)

	limiter, err := ratelimit.NewLimiter(redisClient, ratelimit.PolicyFromConfig(cfg.RateLimit), logg,
		ratelimit.WithMetrics(generationMetrics))
	requireResource(bootCtx, logg, "rate limiter", err)

	generator, err := generation.NewHTTPGenerator(cfg.Generation, nil)
	requireResource(bootCtx, logg, "image generator", err)

	generationService, err := generation.NewService(generation.ServiceParams{
		Limiter:    limiter,
		Reconciler: reconciler,
		Balances:   balanceService,
		Archive:    archiveService,
		Generator:  generator,
		Tariff:     generation.TariffFromConfig(cfg.Generation),
		Timeout:    cfg.Generation.Timeout,
		Logger:     logg,
		Metrics:    generationMetrics,
	})
	requireResource(bootCtx, logg, "generation service", err)

	handler := routes.NewRouter(cfg, logg, routes.Dependencies{
		DB:         dbClient,
		Redis:      redisClient,
		Storage:    blobs,
		Generation: generationService,
		Ledger:     ledgerService,
		Archive:    archiveService,
		Purchases:  purchases,
		Gatherer:   prometheus.DefaultGatherer,
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":        cfg.App.Env,
		"addr":       addr,
		"instance":   instance.GetID(),
		"stripe_env": stripeClient.Environment(),
	})

	ln, err := net.Listen("tcp", addr)
	requireResource(ctx, logg, "listener", err)
	logg.Info(ctx, "starting api server")

	server := api.NewServer(addr, handler, cfg.Generation.Timeout)
	if err := api.Serve(ctx, server, ln, logg, 0); err != nil {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(ctx, "api server stopped")
}

func requireResource(ctx context.Context, logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, "resource not working: "+resource, err)
	os.Exit(1)
}
