// CLAUDE:SUMMARY Fixture HTTP server: chi routes for fixture pages, raw fixtures, assets, cached map library, results, report viewer.
// Package server exposes fixture pages and their supporting files over HTTP
// for the render harness and the report viewer.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/rendercheck/fixture"
	"github.com/hazyhaar/rendercheck/localize"
	"github.com/hazyhaar/rendercheck/report"
	"github.com/hazyhaar/rendercheck/shield"
)

// DefaultPort is the port fixture URLs are localized against.
const DefaultPort = 3900

// Config configures the fixture server.
type Config struct {
	// Host is the listen host. Default: all interfaces.
	Host string `yaml:"host"`
	// Port is both the listen port and the port written into localized URLs.
	Port int `yaml:"port"`
	// FixturesDir holds <id>/style.json, expected images and manifest.json.
	FixturesDir string `yaml:"fixtures_dir"`
	// AssetsDir is the shared asset tree served under /assets/.
	AssetsDir string `yaml:"assets_dir"`
	// ResultsDir receives summary.json and diff artifacts.
	ResultsDir string `yaml:"results_dir"`
	// CDNDir caches the map library files served under /cdn/.
	CDNDir string `yaml:"cdn_dir"`
	// EventTimeout bounds in-page event waits.
	EventTimeout time.Duration `yaml:"event_timeout"`
}

func (c *Config) defaults() {
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.FixturesDir == "" {
		c.FixturesDir = "fixtures"
	}
	if c.AssetsDir == "" {
		c.AssetsDir = filepath.Join(c.FixturesDir, "assets")
	}
	if c.ResultsDir == "" {
		c.ResultsDir = "results"
	}
	if c.CDNDir == "" {
		c.CDNDir = filepath.Join(".cache", "cdn")
	}
}

// Server serves fixtures. It holds no mutable state beyond the
// underlying http.Server.
type Server struct {
	cfg       Config
	logger    *slog.Logger
	repo      *fixture.Repository
	localizer *localize.Localizer
	router    chi.Router
}

// New builds the server and its routes.
func New(cfg Config, logger *slog.Logger) *Server {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:       cfg,
		logger:    logger,
		repo:      fixture.NewRepository(cfg.FixturesDir),
		localizer: localize.New(cfg.Port, cfg.AssetsDir, logger),
	}
	s.router = s.routes()
	return s
}

// Config returns the effective configuration.
func (s *Server) Config() Config { return s.cfg }

// BaseURL is the origin pages and localized URLs point at.
func (s *Server) BaseURL() string {
	return "http://localhost:" + strconv.Itoa(s.cfg.Port)
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	for _, mw := range shield.Stack(s.logger) {
		r.Use(mw)
	}

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte("ok"))
	})
	r.Get("/report", report.ServeViewer)
	r.Get("/manifest.json", s.handleManifest)
	r.Get("/fixture/*", s.handleFixture)
	r.Get("/fixtures/*", s.fileHandler("/fixtures/", s.cfg.FixturesDir, cacheLong))
	r.Get("/assets/*", s.fileHandler("/assets/", s.cfg.AssetsDir, cacheLong))
	r.Get("/results/*", s.fileHandler("/results/", s.cfg.ResultsDir, cacheNone))
	r.Get("/cdn/{name}", s.fileHandler("/cdn/", s.cfg.CDNDir, cacheLong))
	r.Get("/sparse204/*", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "Not Found", http.StatusNotFound)
	})
	return r
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port)))
	if err != nil {
		return fmt.Errorf("server: listen: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	s.logger.Info("fixture server listening", "addr", ln.Addr().String(), "base_url", s.BaseURL())

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	<-errCh
	return nil
}
