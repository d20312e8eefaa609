// Package api provides the HTTP REST API server for The Stoic Leek.
//
// It exposes endpoints for prescriptions, fund quotes, sector and news
// data, the daily market roast, per-user settings and WebSocket streaming
// of prescription progress.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/sirupsen/logrus"

	"github.com/Dxboy266/The-Stoic-Leek/internal/config"
	"github.com/Dxboy266/The-Stoic-Leek/internal/datasource"
	"github.com/Dxboy266/The-Stoic-Leek/internal/llm"
	"github.com/Dxboy266/The-Stoic-Leek/internal/market"
	"github.com/Dxboy266/The-Stoic-Leek/internal/prescription"
	"github.com/Dxboy266/The-Stoic-Leek/internal/store"
	"github.com/Dxboy266/The-Stoic-Leek/pkg/utils"
)

// Version is reported by /health. Overridden at link time.
var Version = "dev"

// UserHeader carries the caller's user id. Requests without it act as
// AnonymousUser.
const (
	UserHeader    = "X-User-ID"
	AnonymousUser = "anonymous"
)

// Server is the HTTP API server.
type Server struct {
	router  chi.Router
	cfg     *config.Config
	cfgMu   sync.RWMutex
	cfgPath string
	svc     *prescription.Service
	market  *datasource.Aggregator
	summary *market.Summarizer
	store   store.Store
	wsHub   *WSHub
	log     logrus.FieldLogger

	aiTestTimeout time.Duration
}

// Options wires a Server from prebuilt components. Tests use it to inject
// fakes; NewServer builds the real ones from config.
type Options struct {
	Config     *config.Config
	ConfigPath string // where PUT /config persists; defaults to config.ConfigFilePath()
	Service    *prescription.Service
	Market     *datasource.Aggregator
	Summarizer *market.Summarizer
	Store      store.Store
	Hub        *WSHub
	Logger     logrus.FieldLogger
}

// NewServer creates a configured API server with all routes and middleware.
func NewServer(cfg *config.Config, log logrus.FieldLogger) (*Server, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	client := llm.NewClient(
		llm.WithBaseURL(cfg.LLM.BaseURL),
		llm.WithTimeout(cfg.LLM.Timeout()),
		llm.WithLogger(log),
	)

	hub := NewWSHub(log)
	svc, err := prescription.NewServiceFromConfig(client, cfg, log, hub.Observer())
	if err != nil {
		return nil, fmt.Errorf("prescription setup failed: %w", err)
	}

	agg := datasource.NewAggregator(cfg.Fund, cfg.Market, log)
	sum := market.NewSummarizer(client, agg, cfg.LLM.Model, cfg.Market.SectorTopN, cfg.LLM.Timeout(), log)

	st, err := store.Open(cfg.Store, log)
	if err != nil {
		return nil, fmt.Errorf("store setup failed: %w", err)
	}

	return New(Options{
		Config:     cfg,
		Service:    svc,
		Market:     agg,
		Summarizer: sum,
		Store:      st,
		Hub:        hub,
		Logger:     log,
	}), nil
}

// New assembles a Server from opts. Nil Hub and Logger get defaults.
func New(opts Options) *Server {
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	hub := opts.Hub
	if hub == nil {
		hub = NewWSHub(log)
	}
	cfgPath := opts.ConfigPath
	if cfgPath == "" {
		cfgPath = config.ConfigFilePath()
	}
	s := &Server{
		cfg:           opts.Config,
		cfgPath:       cfgPath,
		svc:           opts.Service,
		market:        opts.Market,
		summary:       opts.Summarizer,
		store:         opts.Store,
		wsHub:         hub,
		log:           log.WithField("component", "api"),
		aiTestTimeout: 10 * time.Second,
	}
	s.router = s.buildRouter()
	return s
}

// Router returns the chi router for testing.
func (s *Server) Router() chi.Router {
	return s.router
}

// Market exposes the data aggregator so callers can schedule refreshes.
func (s *Server) Market() *datasource.Aggregator {
	return s.market
}

// Hub returns the WebSocket hub.
func (s *Server) Hub() *WSHub {
	return s.wsHub
}

// Close stops the hub and releases the store.
func (s *Server) Close() error {
	s.wsHub.Close()
	if s.store != nil {
		return s.store.Close()
	}
	return nil
}

// ListenAndServe starts the HTTP server and blocks until SIGINT/SIGTERM,
// then shuts down gracefully.
func (s *Server) ListenAndServe(addr string) error {
	httpSrv := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go s.wsHub.Run()

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(done)

	errc := make(chan error, 1)
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()
	s.log.WithField("addr", addr).Info("api server listening")

	select {
	case err := <-errc:
		return fmt.Errorf("http server: %w", err)
	case <-done:
	}
	s.log.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return httpSrv.Shutdown(ctx)
}

// buildRouter configures all routes and middleware.
func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(120 * time.Second))

	origins := []string{"*"}
	if s.cfg != nil && len(s.cfg.API.CORSOrigins) > 0 {
		origins = s.cfg.API.CORSOrigins
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID", UserHeader},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		// Prescriptions
		r.Post("/prescription/generate", s.handleGenerate)
		r.Post("/prescription/generate-anonymous", s.handleGenerateAnonymous)
		r.Get("/prescription/history", s.handleHistory)
		r.Post("/ai/test", s.handleAITest)

		// Funds
		r.Get("/fund/batch", s.handleFundBatch)
		r.Get("/fund/search", s.handleFundSearch)
		r.Get("/fund/{code}", s.handleFundQuote)

		// Market
		r.Get("/market/hot-sectors", s.handleHotSectors)
		r.Get("/market/news", s.handleNews)
		r.Get("/market/daily-summary", s.handleDailySummary)

		// Settings and client save data
		r.Get("/settings", s.handleGetSettings)
		r.Put("/settings", s.handleUpdateSettings)
		r.Get("/persistence/load", s.handleLoadSnapshot)
		r.Post("/persistence/save", s.handleSaveSnapshot)

		// Configuration
		r.Get("/config", s.handleGetConfig)
		r.Put("/config", s.handleUpdateConfig)
		r.Get("/config/keys", s.handleGetConfigKeys)

		r.Get("/ws", s.handleWebSocket)
	})

	return r
}

// requestLogger logs one line per request through logrus.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.WithFields(logrus.Fields{
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     ww.Status(),
			"bytes":      ww.BytesWritten(),
			"latency":    time.Since(start).Round(time.Millisecond),
			"request_id": middleware.GetReqID(r.Context()),
		}).Debug("request")
	})
}

// ============================================================
// Request/Response Types
// ============================================================

// APIResponse is the standard API response envelope.
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Code    string      `json:"code,omitempty"`
}

// HealthResponse is returned by /health.
type HealthResponse struct {
	Status       string `json:"status"`
	Version      string `json:"version"`
	MarketStatus string `json:"market_status"`
	TimeCST      string `json:"time_cst"`
	WSClients    int    `json:"ws_clients"`
}

// ============================================================
// Handlers
// ============================================================

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data: HealthResponse{
			Status:       "ok",
			Version:      Version,
			MarketStatus: utils.MarketStatus(),
			TimeCST:      utils.FormatDateTimeCST(utils.NowCST()),
			WSClients:    s.wsHub.ClientCount(),
		},
	})
}

// userID returns the caller from the X-User-ID header.
func userID(r *http.Request) string {
	if id := r.Header.Get(UserHeader); id != "" {
		return id
	}
	return AnonymousUser
}

func (s *Server) config() *config.Config {
	s.cfgMu.RLock()
	defer s.cfgMu.RUnlock()
	return s.cfg
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.WithError(err).Warn("failed to write JSON response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, APIResponse{
		Success: false,
		Error:   msg,
	})
}

// writeFailure maps a domain error to a status code and a stable code.
func (s *Server) writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	entry := s.log.WithError(err).WithFields(logrus.Fields{
		"path":   r.URL.Path,
		"status": status,
	})
	if status >= http.StatusInternalServerError {
		entry.Warn("request failed")
	} else {
		entry.Debug("request rejected")
	}
	writeJSON(w, status, APIResponse{Success: false, Error: err.Error(), Code: code})
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, prescription.ErrValidation):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, market.ErrNoCredential):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, llm.ErrInvalidCredential):
		return http.StatusUnauthorized, llm.Code(err)
	case errors.Is(err, llm.ErrRateLimited):
		return http.StatusTooManyRequests, llm.Code(err)
	case errors.Is(err, llm.ErrTimeout):
		return http.StatusGatewayTimeout, llm.Code(err)
	case errors.Is(err, llm.ErrTransport), errors.Is(err, llm.ErrUpstream), errors.Is(err, llm.ErrEmptyResponse):
		return http.StatusBadGateway, llm.Code(err)
	case errors.Is(err, datasource.ErrInvalidCode), errors.Is(err, datasource.ErrEmptyQuery),
		errors.Is(err, datasource.ErrBatchTooLarge):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, datasource.ErrFundNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, store.ErrInvalidSnapshot):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	}
	return http.StatusInternalServerError, "internal"
}
