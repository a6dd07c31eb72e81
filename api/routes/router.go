package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/quickbrush-backend/api/controllers"
	"github.com/angelmondragon/quickbrush-backend/api/middleware"
	"github.com/angelmondragon/quickbrush-backend/internal/archive"
	"github.com/angelmondragon/quickbrush-backend/internal/ledger"
	"github.com/angelmondragon/quickbrush-backend/pkg/config"
	"github.com/angelmondragon/quickbrush-backend/pkg/logger"
)

// Dependencies are the services and health checks the router exposes.
type Dependencies struct {
	DB      controllers.Pinger
	Redis   controllers.Pinger
	Storage controllers.Pinger

	Generation controllers.GenerationService
	Ledger     ledger.Service
	Archive    archive.Service
	Purchases  controllers.PurchaseService

	// Gatherer backs /metrics; nil falls back to the default registry.
	Gatherer prometheus.Gatherer
}

func NewRouter(cfg *config.Config, logg *logger.Logger, deps Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, map[string]controllers.Pinger{
			"db":      deps.DB,
			"redis":   deps.Redis,
			"storage": deps.Storage,
		}))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))

		r.Post("/generations", controllers.RequestGeneration(deps.Generation, logg))
		r.Get("/balance", controllers.GetBalance(deps.Generation, logg))
		r.Get("/rate-limit", controllers.GetRateLimitStatus(deps.Generation, logg))
		r.Get("/transactions", controllers.ListTransactions(deps.Ledger, logg))

		r.Route("/artifacts", func(r chi.Router) {
			r.Get("/", controllers.ListArtifacts(deps.Archive, logg))
			r.Get("/{artifactId}", controllers.GetArtifactPayload(deps.Archive, logg))
		})

		r.Route("/billing", func(r chi.Router) {
			r.Get("/packs", controllers.ListPacks(deps.Purchases))
			r.Post("/purchases", controllers.CompletePurchase(deps.Purchases, logg))
		})
	})

	return r
}
