package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wolfman30/clinicdesk/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/clinicdesk/internal/http/middleware"
	"github.com/wolfman30/clinicdesk/internal/messaging"
	"github.com/wolfman30/clinicdesk/pkg/logging"
)

const (
	defaultWebhookRateLimit = 300
	defaultAPIRateLimit     = 120
)

// Config holds router configuration
type Config struct {
	Logger        *logging.Logger
	Health        http.Handler
	Webhook       *messaging.Handler
	Conversations *handlers.ConversationsHandler
	AIConfig      *handlers.AIConfigHandler

	MetricsHandler     http.Handler
	AdminAuthSecret    string
	AdminAuthIssuer    string
	CORSAllowedOrigins []string

	// Requests per minute per client IP. Zero uses the defaults.
	WebhookRateLimit int
	APIRateLimit     int
}

// New creates the chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}
	r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))

	health := cfg.Health
	if health == nil {
		health = handlers.NewHealthHandler(nil)
	}

	// Public endpoints (webhooks, health checks)
	r.Group(func(public chi.Router) {
		public.Method(http.MethodGet, "/health", health)
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
		if cfg.Webhook != nil {
			public.With(httpmiddleware.RateLimit(orDefault(cfg.WebhookRateLimit, defaultWebhookRateLimit), time.Minute)).
				Post("/webhooks/whatsapp/messages", cfg.Webhook.WhatsAppWebhook)
		}
	})

	// Admin API, protected by an HMAC JWT when a secret is configured
	r.Route("/api", func(api chi.Router) {
		api.Use(httpmiddleware.RateLimit(orDefault(cfg.APIRateLimit, defaultAPIRateLimit), time.Minute))
		api.Use(middleware.Compress(5))
		if cfg.AdminAuthSecret != "" {
			api.Use(httpmiddleware.AdminJWT(cfg.AdminAuthSecret, httpmiddleware.WithIssuer(cfg.AdminAuthIssuer)))
		} else if cfg.Logger != nil {
			cfg.Logger.Warn("ADMIN_JWT_SECRET not set; admin API is unauthenticated")
		}

		if cfg.Conversations != nil {
			api.Route("/conversations", func(r chi.Router) {
				r.Get("/", cfg.Conversations.List)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", cfg.Conversations.Get)
					r.Post("/tag", cfg.Conversations.Tag)
					r.Delete("/tag", cfg.Conversations.Untag)
					r.Get("/tags", cfg.Conversations.Tags)
					r.Post("/analyze", cfg.Conversations.Analyze)
				})
			})
		}
		if cfg.AIConfig != nil {
			api.Route("/ai-config", func(r chi.Router) {
				r.Get("/", cfg.AIConfig.Get)
				r.Put("/", cfg.AIConfig.Update)
				r.Get("/status", cfg.AIConfig.Status)
			})
		}
	})

	return r
}

func orDefault(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}
