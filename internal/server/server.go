// Package server exposes the interceptor's audit log and runtime toggle over
// HTTP, with a live feed of redaction events on a WebSocket.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	jsoniter "github.com/json-iterator/go"
	"github.com/raaihank/browser-sentinel/internal/config"
	"github.com/raaihank/browser-sentinel/internal/logger"
	"github.com/raaihank/browser-sentinel/internal/web"
	"github.com/raaihank/browser-sentinel/internal/websocket"
	"github.com/raaihank/browser-sentinel/pkg/agent"
	"github.com/raaihank/browser-sentinel/pkg/privacy"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Auditor is the interceptor surface the server exposes.
type Auditor interface {
	Entries() []agent.AuditEntry
	Stats() privacy.Stats
	ClearAudit()
	PrivacyEnabled() bool
	SetPrivacyEnabled(enabled bool)
	Filter() privacy.Filter
}

// Server represents the audit HTTP server
type Server struct {
	config  *config.Config
	logger  *logger.Logger
	auditor Auditor
	hub     *websocket.Hub
	limiter *RateLimiter
	router  *mux.Router
	server  *http.Server
	version string
	started time.Time

	ctx     context.Context
	cancel  context.CancelFunc
	running atomic.Bool
	done    chan struct{}
}

// New creates a new audit server. A nil hub disables the event feed.
func New(cfg *config.Config, log *logger.Logger, auditor Auditor, hub *websocket.Hub, version string) *Server {
	s := &Server{
		config:  cfg,
		logger:  log.WithComponent("server"),
		auditor: auditor,
		hub:     hub,
		limiter: NewRateLimiter(cfg.RateLimit),
		router:  mux.NewRouter(),
		version: version,
		started: time.Now(),
		done:    make(chan struct{}),
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, fmt.Sprintf("%d", cfg.Server.Port)),
		Handler:      s.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	return s
}

// setupRoutes configures all HTTP routes. Routes live on the root router
// so a method mismatch answers 405.
func (s *Server) setupRoutes() {
	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.rateLimitMiddleware)

	if s.hub != nil && s.config.WebSocket.Enabled {
		s.router.HandleFunc(s.config.WebSocket.Path, s.hub.HandleWebSocket).Methods(http.MethodGet)
	}

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/info", s.handleInfo).Methods(http.MethodGet)
	s.router.HandleFunc("/audit", s.handleAudit).Methods(http.MethodGet)
	s.router.HandleFunc("/audit/stats", s.handleAuditStats).Methods(http.MethodGet)
	s.router.HandleFunc("/audit", s.guard(s.handleClearAudit)).Methods(http.MethodDelete)
	s.router.HandleFunc("/privacy", s.guard(s.handleSetPrivacy)).Methods(http.MethodPut)
	s.router.HandleFunc("/", web.ServeDashboard).Methods(http.MethodGet)
	s.router.HandleFunc("/dashboard", web.ServeDashboard).Methods(http.MethodGet)
}

// Handler returns the routed handler
func (s *Server) Handler() http.Handler { return s.router }

// Start runs the hub and serves HTTP until Stop is called
func (s *Server) Start() error {
	s.logger.Info("Starting audit server",
		zap.String("addr", s.server.Addr),
		zap.Bool("websocket", s.hub != nil && s.config.WebSocket.Enabled),
		zap.Bool("rate_limit", s.config.RateLimit.Enabled),
	)

	if s.running.CompareAndSwap(false, true) {
		go s.runBackground()
	}

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping audit server")
	err := s.server.Shutdown(ctx)
	s.cancel()
	if s.running.Load() {
		<-s.done
	}
	return err
}

// runBackground drives the hub and bucket cleanup until Stop.
func (s *Server) runBackground() {
	defer close(s.done)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.limiter.Run(s.ctx)
	}()
	if s.hub != nil {
		s.hub.Run(s.ctx)
	}
	wg.Wait()
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

type infoResponse struct {
	Name           string `json:"name"`
	Version        string `json:"version"`
	Filter         string `json:"filter"`
	PrivacyEnabled bool   `json:"privacy_enabled"`
	AuditEntries   int    `json:"audit_entries"`
	Clients        int    `json:"ws_clients"`
	Uptime         string `json:"uptime"`
}

// handleInfo handles info requests
func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	info := infoResponse{
		Name:           "privacyctl",
		Version:        s.version,
		Filter:         s.auditor.Filter().Name(),
		PrivacyEnabled: s.auditor.PrivacyEnabled(),
		AuditEntries:   len(s.auditor.Entries()),
		Uptime:         time.Since(s.started).Round(time.Second).String(),
	}
	if s.hub != nil {
		info.Clients = s.hub.ClientCount()
	}
	writeJSON(w, http.StatusOK, info)
}

// auditView is the wire form of an audit entry. It carries no content.
type auditView struct {
	ID          string        `json:"id"`
	Step        int           `json:"step"`
	Timestamp   time.Time     `json:"timestamp"`
	URL         string        `json:"url"`
	WasFiltered bool          `json:"was_filtered"`
	Stats       privacy.Stats `json:"stats"`
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	entries := s.auditor.Entries()

	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		if limit < len(entries) {
			entries = entries[len(entries)-limit:]
		}
	}

	views := make([]auditView, 0, len(entries))
	for _, e := range entries {
		v := auditView{ID: e.ID, Step: e.Step, Timestamp: e.Timestamp, Stats: privacy.Stats{}}
		if e.Result != nil {
			v.WasFiltered = e.Result.WasFiltered
			v.Stats = e.Result.Stats
			if e.Result.FilteredData != nil {
				v.URL = e.Result.FilteredData.URL
			}
		}
		views = append(views, v)
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleAuditStats(w http.ResponseWriter, r *http.Request) {
	stats := s.auditor.Stats()
	writeJSON(w, http.StatusOK, map[string]any{
		"steps": len(s.auditor.Entries()),
		"total": stats.Total(),
		"stats": stats,
	})
}

func (s *Server) handleClearAudit(w http.ResponseWriter, r *http.Request) {
	s.auditor.ClearAudit()
	s.logger.WithRequestID(getRequestID(r.Context())).Info("Audit log cleared")
	if s.hub != nil {
		s.hub.BroadcastAuditCleared()
	}
	w.WriteHeader(http.StatusNoContent)
}

type privacyToggle struct {
	Enabled *bool `json:"enabled"`
}

func (s *Server) handleSetPrivacy(w http.ResponseWriter, r *http.Request) {
	var req privacyToggle
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Enabled == nil {
		writeError(w, http.StatusBadRequest, `body must be {"enabled": true|false}`)
		return
	}

	s.auditor.SetPrivacyEnabled(*req.Enabled)
	s.logger.WithRequestID(getRequestID(r.Context())).Info("Privacy filtering set",
		zap.Bool("enabled", *req.Enabled),
	)
	if s.hub != nil {
		s.hub.BroadcastPrivacyStatus(*req.Enabled)
	}
	writeJSON(w, http.StatusOK, map[string]bool{"enabled": s.auditor.PrivacyEnabled()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
