package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"stockledger-backend/internal/config"
	"stockledger-backend/internal/domain"
	"stockledger-backend/internal/handler"
)

// Handlers groups every HTTP handler mounted by NewRouter.
type Handlers struct {
	Health       handler.HealthHandler
	Docs         handler.DocsHandler
	Stock        handler.StockHandler
	Orders       handler.OrderHandler
	Catalog      handler.CatalogHandler
	SkuMappings  handler.SkuMappingHandler
	Webhooks     handler.WebhookHandler
	WebhookAdmin handler.WebhookAdminHandler
	Imports      handler.ImportHandler
}

// NewRouter wires HTTP routes and middleware.
func NewRouter(cfg config.Config, logger *zap.Logger, h Handlers) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(NewLoggerMiddleware(logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token", "X-Webhook-Secret", "X-Signature"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	h.Health.RegisterRoutes(r)
	h.Docs.RegisterRoutes(r)
	r.Method("GET", "/metrics", promhttp.Handler())

	// marketplaces authenticate with a channel secret, not a user token
	r.Group(func(wr chi.Router) {
		wr.Use(httprate.LimitByIP(cfg.WebhookRateLimit, 1*time.Minute))
		h.Webhooks.RegisterRoutes(wr)
	})

	r.Group(func(pr chi.Router) {
		pr.Use(httprate.LimitByIP(cfg.RateLimit, 1*time.Minute))
		pr.Use(AuthMiddleware(cfg.JWTSecret))
		// staff-level (staff/manager/admin); admin-only mutators are checked by the services
		pr.Group(func(sr chi.Router) {
			sr.Use(RequireRole(domain.RoleAdmin, domain.RoleManager, domain.RoleStaff))
			h.Stock.RegisterRoutes(sr)
			h.Orders.RegisterRoutes(sr)
			h.Catalog.RegisterRoutes(sr)
			h.SkuMappings.RegisterRoutes(sr)
		})
		// admin-level
		pr.Group(func(ar chi.Router) {
			ar.Use(RequireRole(domain.RoleAdmin))
			h.WebhookAdmin.RegisterRoutes(ar)
			h.Imports.RegisterRoutes(ar)
		})
	})

	return r
}
