// Package ui serves the dashboard generator web UI.
package ui

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/sessions"
	"golang.org/x/sync/errgroup"

	"github.com/leapstack-labs/leapdash/internal/session"
	"github.com/leapstack-labs/leapdash/internal/ui/notifier"
	"github.com/leapstack-labs/leapdash/internal/ui/router"
)

// Server is the main UI server.
type Server struct {
	registry     *session.Registry
	sessionStore *sessions.CookieStore
	notifier     *notifier.Notifier
	host         string
	port         int
	logPath      string
	dev          bool
	logger       *slog.Logger
}

// Config holds configuration for the UI server.
type Config struct {
	Registry *session.Registry
	// Notifier must be the one the registry's sessions notify through.
	Notifier      *notifier.Notifier
	Host          string
	Port          int
	SessionSecret string
	// SecureCookies marks the session cookie Secure. Only enable it when the
	// UI is served over HTTPS, browsers drop Secure cookies on plain HTTP.
	SecureCookies bool
	// LogPath is the app process log to watch. Empty disables watching.
	LogPath string
	Dev     bool
	Logger  *slog.Logger
}

// NewServer creates a new UI server instance.
func NewServer(cfg Config) *Server {
	sessionStore := sessions.NewCookieStore([]byte(cfg.SessionSecret))
	sessionStore.MaxAge(int(session.DefaultTTL / time.Second))
	sessionStore.Options.Path = "/"
	sessionStore.Options.HttpOnly = true
	sessionStore.Options.SameSite = http.SameSiteLaxMode
	sessionStore.Options.Secure = cfg.SecureCookies

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	notify := cfg.Notifier
	if notify == nil {
		notify = notifier.New()
	}

	return &Server{
		registry:     cfg.Registry,
		sessionStore: sessionStore,
		notifier:     notify,
		host:         cfg.Host,
		port:         cfg.Port,
		logPath:      cfg.LogPath,
		dev:          cfg.Dev,
		logger:       logger,
	}
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.host, fmt.Sprint(s.port))
}

// Handler builds the HTTP handler with middleware and all routes.
func (s *Server) Handler() (http.Handler, error) {
	r := chi.NewMux()
	r.Use(
		middleware.Logger,
		middleware.Recoverer,
		middleware.Compress(5),
	)

	if err := router.SetupRoutes(r, s.registry, s.sessionStore, s.notifier, s.logger, s.IsDev()); err != nil {
		return nil, fmt.Errorf("failed to setup routes: %w", err)
	}
	return r, nil
}

// Serve starts the UI server and blocks until the context is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	handler, err := s.Handler()
	if err != nil {
		return err
	}

	host := s.host
	if host == "" || host == "0.0.0.0" {
		host = "localhost"
	}
	s.logger.Info("starting UI server", "addr", fmt.Sprintf("http://%s", net.JoinHostPort(host, fmt.Sprint(s.port))))

	eg, egctx := errgroup.WithContext(ctx)

	srv := &http.Server{
		Addr:    s.Addr(),
		Handler: handler,
		BaseContext: func(_ net.Listener) context.Context {
			return egctx
		},
		ReadHeaderTimeout: 10 * time.Second,
	}

	eg.Go(func() error {
		return s.registry.Run(egctx)
	})

	if s.logPath != "" {
		eg.Go(func() error {
			return s.watchLog(egctx)
		})
	}

	eg.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown
	eg.Go(func() error {
		<-egctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		s.logger.Debug("shutting down UI server...")
		return srv.Shutdown(shutdownCtx)
	})

	return eg.Wait()
}

// IsDev reports whether the live reload hook is served.
func (s *Server) IsDev() bool {
	return s.dev
}

// Notifier returns the server's notifier for SSE updates.
func (s *Server) Notifier() *notifier.Notifier {
	return s.notifier
}

// watchLog pings every open page when the app process log changes. The
// directory is watched because the file is recreated on each run.
func (s *Server) watchLog(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = watcher.Close() }()

	target, err := filepath.Abs(s.logPath)
	if err != nil {
		return err
	}
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		s.logger.Error("failed to watch app log", "path", target, "error", err)
		// Keep serving without live log updates.
		<-ctx.Done()
		return nil
	}

	var debounceTimer *time.Timer
	defer func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 || filepath.Clean(event.Name) != target {
				continue
			}

			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(100*time.Millisecond, func() {
				s.logger.Debug("app log changed", "path", target)
				s.notifier.BroadcastAll()
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Error("watcher error", "error", err)
		}
	}
}
