package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wolfman30/messaging-service/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/messaging-service/internal/http/middleware"
	"github.com/wolfman30/messaging-service/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger         *logging.Logger
	Messages       *handlers.MessagesHandler
	MetricsHandler http.Handler

	// APIAuthSecret enables bearer JWT auth on /api routes when set.
	// Provider webhooks stay public.
	APIAuthSecret string
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	r.Get("/health", cfg.Messages.HealthCheck)
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	r.Route("/api", func(api chi.Router) {
		api.Route("/webhooks", func(webhooks chi.Router) {
			webhooks.Post("/sms", cfg.Messages.ReceiveSMS)
			webhooks.Post("/email", cfg.Messages.ReceiveEmail)
		})

		api.Group(func(protected chi.Router) {
			if cfg.APIAuthSecret != "" {
				protected.Use(httpmiddleware.BearerJWT(cfg.APIAuthSecret))
			}
			protected.Post("/messages/sms", cfg.Messages.SendSMS)
			protected.Post("/messages/email", cfg.Messages.SendEmail)
			protected.Get("/messages/{id}/status", cfg.Messages.GetStatus)
			protected.Get("/conversations", cfg.Messages.ListConversations)
			protected.Get("/conversations/{id}/messages", cfg.Messages.ListMessages)
		})
	})

	return r
}
