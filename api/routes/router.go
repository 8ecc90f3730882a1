package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/paywatch/payhook-backend/api/controllers"
	webhookcontrollers "github.com/paywatch/payhook-backend/api/controllers/webhooks"
	"github.com/paywatch/payhook-backend/api/middleware"
	"github.com/paywatch/payhook-backend/internal/ledger"
	"github.com/paywatch/payhook-backend/internal/orders"
	portalpkg "github.com/paywatch/payhook-backend/internal/portal"
	"github.com/paywatch/payhook-backend/internal/recon"
	"github.com/paywatch/payhook-backend/pkg/config"
	"github.com/paywatch/payhook-backend/pkg/db"
	"github.com/paywatch/payhook-backend/pkg/logger"
	"github.com/paywatch/payhook-backend/pkg/redis"
)

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	database db.Pinger,
	redisClient redis.Pinger,
	rateLimiter middleware.RateLimiter,
	adapters *portalpkg.Registry,
	scheduler *recon.Scheduler,
	ordersService orders.Service,
	ledgerService ledger.Service,
	metricsGatherer prometheus.Gatherer,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, database, redisClient))
	})

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.With(middleware.PortalRateLimit(rateLimiter, cfg.RateLimit.WebhookLimit, cfg.RateLimit.WebhookWindow, logg)).
			Post("/{portal}", webhookcontrollers.PortalWebhook(adapters, scheduler, logg))
	})

	r.Route("/api/v1/orders", func(r chi.Router) {
		r.Post("/", controllers.CreateOrder(ordersService, logg))
		r.Get("/{reference}", controllers.GetOrder(ordersService, logg))
	})

	r.Route("/api/v1/ledger", func(r chi.Router) {
		r.Get("/", controllers.ListLedger(ledgerService, logg))
	})

	if metricsGatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(metricsGatherer, promhttp.HandlerOpts{}))
	}

	return r
}
