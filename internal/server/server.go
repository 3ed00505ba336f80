// Package server provides the HTTP API.
package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/bryan-buckman/gleaner/internal/database"
	"github.com/bryan-buckman/gleaner/internal/metrics"
	"github.com/bryan-buckman/gleaner/internal/retention"
	"github.com/bryan-buckman/gleaner/internal/rss"
)

// refreshTimeout bounds a manual refresh of every feed.
const refreshTimeout = 5 * time.Minute

// Server is the main HTTP server.
type Server struct {
	db          database.Store
	engine      *retention.Engine
	fetcher     *rss.Fetcher
	collector   *metrics.Collector
	metricsPath string
	journal     *journal
	logger      *logrus.Entry
	router      chi.Router

	mu         sync.Mutex
	httpServer *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithMetrics exposes the collector on path.
func WithMetrics(c *metrics.Collector, path string) Option {
	return func(s *Server) {
		s.collector = c
		s.metricsPath = path
	}
}

// WithLogger sets the logger.
func WithLogger(l *logrus.Entry) Option {
	return func(s *Server) { s.logger = l }
}

// WithJournalSize sets how many retention runs can be undone.
func WithJournalSize(n int) Option {
	return func(s *Server) { s.journal = newJournal(n) }
}

// New creates a new server.
func New(db database.Store, engine *retention.Engine, fetcher *rss.Fetcher, opts ...Option) *Server {
	s := &Server{
		db:      db,
		engine:  engine,
		fetcher: fetcher,
		journal: newJournal(defaultJournalSize),
		logger:  logrus.NewEntry(logrus.StandardLogger()),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.WithField("component", "server")
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))

	r.Route("/api", func(r chi.Router) {
		r.Get("/tree", s.handleTree)

		r.Get("/feeds/{feedID}/items", s.handleFeedItems)
		r.Get("/feeds/{feedID}/preferences", s.handleGetFeedPreferences)
		r.Put("/feeds/{feedID}/preferences", s.handlePutFeedPreferences)
		r.Delete("/feeds/{feedID}/preferences", s.handleDeleteFeedPreferences)

		r.Post("/items/read", s.handleMarkRead)
		r.Post("/items/{itemID}/pin", s.handlePin)
		r.Put("/items/{itemID}/labels", s.handleLabels)

		r.Get("/preferences", s.handleGetPreferences)
		r.Put("/preferences", s.handlePutPreferences)

		r.Route("/retention", func(r chi.Router) {
			r.Post("/run", s.handleRunAll)
			r.Post("/folders/{folderID}/run", s.handleRunFolder)
			r.Post("/feeds/{feedID}/run", s.handleRunFeed)
			r.Post("/undo/{runID}", s.handleUndo)
		})

		r.Post("/import-opml", s.handleImportOPML)
		r.Get("/export-opml", s.handleExportOPML)
		r.Post("/refresh", s.handleRefresh)
		r.Get("/settings", s.handleGetSettings)
		r.Post("/settings", s.handleSaveSettings)
	})

	if s.collector != nil && s.metricsPath != "" {
		r.Method(http.MethodGet, s.metricsPath, s.collector.Handler())
	}

	s.router = r
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.router }

// Start serves on addr until Shutdown is called.
func (s *Server) Start(addr string) error {
	hs := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Lock()
	s.httpServer = hs
	s.mu.Unlock()

	s.logger.WithField("address", addr).Info("server starting")
	err := hs.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return errors.Wrap(err, "listen")
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	hs := s.httpServer
	s.mu.Unlock()
	if hs == nil {
		return nil
	}
	return errors.Wrap(hs.Shutdown(ctx), "shutdown")
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.WithFields(logrus.Fields{
			"request_id": middleware.GetReqID(r.Context()),
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     ww.Status(),
			"bytes":      ww.BytesWritten(),
			"duration":   time.Since(start).String(),
		}).Debug("request")
	})
}
