// Package dashboard provides the upload, generate and app pages of the UI.
package dashboard

import (
	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/sessions"

	"github.com/leapstack-labs/leapdash/internal/session"
	"github.com/leapstack-labs/leapdash/internal/ui/notifier"
)

// SetupRoutes configures routes for the dashboard feature.
func SetupRoutes(
	router chi.Router,
	registry *session.Registry,
	sessionStore sessions.Store,
	notify *notifier.Notifier,
	logger *slog.Logger,
	isDev bool,
) error {
	handlers := NewHandlers(registry, sessionStore, notify, logger, isDev)

	router.Get("/", handlers.Page)
	router.Get("/updates", handlers.Updates)
	router.Post("/upload", handlers.Upload)
	router.Post("/generate", handlers.Generate)
	router.Post("/exploration", handlers.Exploration)
	router.Post("/app/render", handlers.RenderApp)
	router.Get("/download", handlers.Download)

	return nil
}
