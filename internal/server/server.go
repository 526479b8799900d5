package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/felixge/httpsnoop"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/harryneopotter/teacher-website-public/internal/applications"
	"github.com/harryneopotter/teacher-website-public/internal/cache"
	"github.com/harryneopotter/teacher-website-public/internal/consts"
	"github.com/harryneopotter/teacher-website-public/internal/database"
	"github.com/harryneopotter/teacher-website-public/internal/logger"
	"github.com/harryneopotter/teacher-website-public/internal/metrics"
	"github.com/harryneopotter/teacher-website-public/internal/storage"
)

const (
	maxWebhookBody     = 1 << 20
	maxApplicationBody = 64 << 10
	healthProbeTimeout = 5 * time.Second
	signConcurrency    = 8

	// ShutdownTimeout bounds graceful shutdown of the HTTP server.
	ShutdownTimeout = 30 * time.Second
)

// UpdateHandler processes one decoded messaging update.
type UpdateHandler interface {
	HandleUpdate(ctx context.Context, update tgbotapi.Update) error
}

// ShowcaseStore is the persistence surface the public routes read.
type ShowcaseStore interface {
	ListPublishedShowcases(ctx context.Context, limit int) ([]*database.ShowcaseItem, error)
	Kind() string
	Ping(ctx context.Context) error
}

// Deps are the server collaborators. Files, Applications, Recorder and
// Collector may be nil.
type Deps struct {
	Updates      UpdateHandler
	Store        ShowcaseStore
	Storage      *storage.Orchestrator
	Files        *storage.LocalStore
	Applications *applications.Service
	Recorder     *metrics.Recorder
	Collector    *metrics.Collector
	Gatherer     prometheus.Gatherer
	ThumbnailDir string
	Thumbnails   *cache.Cache
}

type Server struct {
	updates      UpdateHandler
	store        ShowcaseStore
	storage      *storage.Orchestrator
	files        *storage.LocalStore
	applications *applications.Service
	recorder     *metrics.Recorder
	collector    *metrics.Collector
	gatherer     prometheus.Gatherer
	thumbDir     string
	thumbs       *cache.Cache
	now          func() time.Time

	router *mux.Router
}

func New(deps Deps) (*Server, error) {
	if deps.Updates == nil || deps.Store == nil || deps.Storage == nil {
		return nil, errors.New("server requires an update handler, store and storage")
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}
	if deps.Thumbnails == nil {
		deps.Thumbnails = cache.New()
	}

	s := &Server{
		updates:      deps.Updates,
		store:        deps.Store,
		storage:      deps.Storage,
		files:        deps.Files,
		applications: deps.Applications,
		recorder:     deps.Recorder,
		collector:    deps.Collector,
		gatherer:     deps.Gatherer,
		thumbDir:     deps.ThumbnailDir,
		thumbs:       deps.Thumbnails,
		now:          time.Now,
	}
	s.router = s.buildRouter()
	return s, nil
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() *mux.Router {
	root := mux.NewRouter()
	root.Use(s.recoverMiddleware)
	root.Use(s.metricsMiddleware)

	root.HandleFunc("/webhook", s.handleWebhook).Methods(http.MethodPost)
	root.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	root.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	root.HandleFunc("/api/showcase", s.handleShowcase).Methods(http.MethodGet)
	root.HandleFunc("/api/pdfs/{filename}", s.handlePDFRedirect).Methods(http.MethodGet)
	root.HandleFunc("/api/thumbnails/{filename}", s.handleThumbnail).Methods(http.MethodGet)
	root.HandleFunc("/api/applications", s.handleApplication).Methods(http.MethodPost)

	// Offline object store only
	if s.files != nil {
		root.HandleFunc("/files/{bucket}/{name}", s.handleFile).Methods(http.MethodGet)
	}
	return root
}

// recoverMiddleware turns handler panics into a 500 JSON response.
func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				logger.Error("Recovered from panic in HTTP handler", map[string]interface{}{
					"panic":  fmt.Sprint(rec),
					"method": r.Method,
					"path":   r.URL.Path,
					"remote": r.RemoteAddr,
					"stack":  string(debug.Stack()),
				})
				s.recorder.IncrementMetric(r.Context(), consts.MetricErrors)
				writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
					"error": "Internal Server Error",
					"code":  http.StatusInternalServerError,
				})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := "unmatched"
		if current := mux.CurrentRoute(r); current != nil {
			if tpl, err := current.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		m := httpsnoop.CaptureMetrics(next, w, r)
		s.collector.RecordHTTPRequest(route, strconv.Itoa(m.Code))
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Warn("Failed to write JSON response", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

// NewHTTPServer wraps handler with the timeouts used in production. Writes
// get a long budget since a webhook call covers a full file upload.
func NewHTTPServer(ctx context.Context, port string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
}

// Serve runs srv until ctx is cancelled, then shuts it down gracefully.
func Serve(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server starting", map[string]interface{}{"addr": srv.Addr})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.InfoMsg("Shutting down HTTP server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server forced to shutdown: %w", err)
	}
	logger.InfoMsg("HTTP server stopped")
	return nil
}
