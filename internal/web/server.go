// Package web serves the table and query surface over HTTP.
package web

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/leapstack-labs/laketower/internal/cli/config"
	"github.com/leapstack-labs/laketower/internal/ingest"
	"github.com/leapstack-labs/laketower/internal/query"
)

// LoadFunc reloads the configuration.
type LoadFunc func() (*config.Config, error)

// Config holds configuration for the web server.
type Config struct {
	// Cfg is the initial configuration.
	Cfg *config.Config
	// ConfigPath is the file watched for changes when Watch is set.
	ConfigPath string
	// Load reloads the configuration after ConfigPath changes.
	Load   LoadFunc
	Host   string
	Port   int
	Watch  bool
	Logger *slog.Logger
}

// Server is the HTTP server.
type Server struct {
	cfg        atomic.Pointer[config.Config]
	configPath string
	load       LoadFunc
	addr       string
	watch      bool
	logger     *slog.Logger
	executor   *query.Executor
	importer   *ingest.Importer
	notifier   *Notifier
}

// NewServer creates a new server instance.
func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	s := &Server{
		configPath: cfg.ConfigPath,
		load:       cfg.Load,
		addr:       net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		watch:      cfg.Watch,
		logger:     logger,
		executor:   query.NewExecutor(logger),
		importer:   ingest.NewImporter(logger),
		notifier:   NewNotifier(),
	}
	s.cfg.Store(cfg.Cfg)
	return s
}

// Config returns the active configuration.
func (s *Server) Config() *config.Config {
	return s.cfg.Load()
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return s.addr
}

// Watching reports whether configuration reloads are enabled.
func (s *Server) Watching() bool {
	return s.watch
}

// Notifier returns the notifier signalled on every configuration reload.
func (s *Server) Notifier() *Notifier {
	return s.notifier
}

// Handler returns the HTTP handler serving the API.
func (s *Server) Handler() http.Handler {
	r := chi.NewMux()
	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Logger,
		middleware.Recoverer,
		middleware.Compress(5),
		s.withConfig,
	)
	s.routes(r)
	return r
}

// withConfig pins one configuration snapshot for the whole request.
func (s *Server) withConfig(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(config.WithConfig(r.Context(), s.cfg.Load())))
	})
}

// Serve starts the server and blocks until the context is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	s.logger.Info("starting web server", "addr", "http://"+s.addr)

	eg, egctx := errgroup.WithContext(ctx)

	srv := &http.Server{
		Addr:    s.addr,
		Handler: s.Handler(),
		BaseContext: func(_ net.Listener) context.Context {
			return egctx
		},
		ReadHeaderTimeout: 10 * time.Second,
	}

	switch {
	case !s.watch:
	case s.configPath == "" || s.load == nil:
		s.logger.Warn("no config file to watch")
	default:
		eg.Go(func() error {
			return s.watchConfig(egctx)
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

		s.logger.Debug("shutting down web server")
		return srv.Shutdown(shutdownCtx)
	})

	return eg.Wait()
}
