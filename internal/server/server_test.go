package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	gorillaws "github.com/gorilla/websocket"
	"github.com/raaihank/browser-sentinel/internal/config"
	"github.com/raaihank/browser-sentinel/internal/logger"
	"github.com/raaihank/browser-sentinel/internal/websocket"
	"github.com/raaihank/browser-sentinel/pkg/agent"
	"github.com/raaihank/browser-sentinel/pkg/privacy"
	"github.com/raaihank/browser-sentinel/pkg/snapshot"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type stubAuditor struct {
	mu      sync.Mutex
	entries []agent.AuditEntry
	enabled bool
}

func (a *stubAuditor) Entries() []agent.AuditEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]agent.AuditEntry(nil), a.entries...)
}

func (a *stubAuditor) Stats() privacy.Stats {
	total := privacy.Stats{}
	for _, e := range a.Entries() {
		total.Merge(e.Result.Stats)
	}
	return total
}

func (a *stubAuditor) ClearAudit() {
	a.mu.Lock()
	a.entries = nil
	a.mu.Unlock()
}

func (a *stubAuditor) PrivacyEnabled() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.enabled
}

func (a *stubAuditor) SetPrivacyEnabled(enabled bool) {
	a.mu.Lock()
	a.enabled = enabled
	a.mu.Unlock()
}

func (a *stubAuditor) Filter() privacy.Filter { return privacy.NewRegexFilter(nil, nil) }

func newAuditor() *stubAuditor {
	entry := func(step int, url string, stats privacy.Stats) agent.AuditEntry {
		return agent.AuditEntry{
			ID:        "id-" + url,
			Step:      step,
			Timestamp: time.Now(),
			Result: &privacy.Result{
				FilteredData: &snapshot.BrowserSnapshot{URL: url},
				OriginalData: &snapshot.BrowserSnapshot{URL: url, Title: "secret@example.com"},
				Stats:        stats,
				WasFiltered:  stats.Total() > 0,
			},
		}
	}
	return &stubAuditor{
		enabled: true,
		entries: []agent.AuditEntry{
			entry(1, "https://a.com", privacy.Stats{"email": 2}),
			entry(2, "https://b.com", privacy.Stats{}),
			entry(3, "https://c.com", privacy.Stats{"email": 1, "ssn": 1}),
		},
	}
}

func newTestServer(t *testing.T, mutate func(*config.Config)) (*Server, *stubAuditor) {
	t.Helper()
	cfg := config.GetDefaults()
	cfg.WebSocket.Enabled = false
	if mutate != nil {
		mutate(cfg)
	}
	auditor := newAuditor()
	return New(cfg, logger.Nop(), auditor, nil, "test"), auditor
}

// do sends a request from a loopback peer.
func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.RemoteAddr = "127.0.0.1:40000"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

func TestHealthAndInfo(t *testing.T) {
	s, _ := newTestServer(t, nil)

	rec := do(t, s.Handler(), http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"healthy"`)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = do(t, s.Handler(), http.MethodGet, "/info", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var info infoResponse
	decode(t, rec, &info)
	assert.Equal(t, "privacyctl", info.Name)
	assert.Equal(t, "test", info.Version)
	assert.Equal(t, "regex", info.Filter)
	assert.True(t, info.PrivacyEnabled)
	assert.Equal(t, 3, info.AuditEntries)
}

func TestAudit(t *testing.T) {
	s, _ := newTestServer(t, nil)

	rec := do(t, s.Handler(), http.MethodGet, "/audit", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var views []auditView
	decode(t, rec, &views)
	require.Len(t, views, 3)
	assert.Equal(t, "https://a.com", views[0].URL)
	assert.True(t, views[0].WasFiltered)
	assert.False(t, views[1].WasFiltered)
	assert.NotContains(t, rec.Body.String(), "secret@example.com")

	rec = do(t, s.Handler(), http.MethodGet, "/audit?limit=1", "")
	decode(t, rec, &views)
	require.Len(t, views, 1)
	assert.Equal(t, 3, views[0].Step)

	rec = do(t, s.Handler(), http.MethodGet, "/audit?limit=abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s.Handler(), http.MethodGet, "/audit/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var stats struct {
		Steps int           `json:"steps"`
		Total int           `json:"total"`
		Stats privacy.Stats `json:"stats"`
	}
	decode(t, rec, &stats)
	assert.Equal(t, 3, stats.Steps)
	assert.Equal(t, 4, stats.Total)
	assert.Equal(t, privacy.Stats{"email": 3, "ssn": 1}, stats.Stats)
}

func TestClearAudit(t *testing.T) {
	s, auditor := newTestServer(t, nil)

	rec := do(t, s.Handler(), http.MethodDelete, "/audit", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, auditor.Entries())
	assert.True(t, auditor.PrivacyEnabled())
}

func TestSetPrivacy(t *testing.T) {
	s, auditor := newTestServer(t, nil)

	rec := do(t, s.Handler(), http.MethodPut, "/privacy", `{"enabled":false}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"enabled":false}`, rec.Body.String())
	assert.False(t, auditor.PrivacyEnabled())

	for _, body := range []string{``, `{}`, `{"enabled":"yes"}`, `not json`} {
		rec = do(t, s.Handler(), http.MethodPut, "/privacy", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
	assert.False(t, auditor.PrivacyEnabled())

	rec = do(t, s.Handler(), http.MethodPost, "/privacy", `{"enabled":true}`)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	rec = do(t, s.Handler(), http.MethodPost, "/audit", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	rec = do(t, s.Handler(), http.MethodGet, "/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStateChangesRequireLoopbackOrAuth(t *testing.T) {
	remote := func(method, path, body string, setup func(*http.Request)) *http.Request {
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		req.RemoteAddr = "203.0.113.7:51234"
		req.Header.Set("X-Forwarded-For", "127.0.0.1")
		if setup != nil {
			setup(req)
		}
		return req
	}
	serve := func(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	t.Run("no auth", func(t *testing.T) {
		s, auditor := newTestServer(t, func(c *config.Config) { c.Server.Host = "0.0.0.0" })

		rec := serve(s.Handler(), remote(http.MethodPut, "/privacy", `{"enabled":false}`, nil))
		assert.Equal(t, http.StatusForbidden, rec.Code)
		rec = serve(s.Handler(), remote(http.MethodDelete, "/audit", "", nil))
		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.True(t, auditor.PrivacyEnabled())
		assert.Len(t, auditor.Entries(), 3)

		// Reads stay open.
		rec = serve(s.Handler(), remote(http.MethodGet, "/audit", "", nil))
		assert.Equal(t, http.StatusOK, rec.Code)

		rec = serve(s.Handler(), remote(http.MethodPut, "/privacy", `{"enabled":false}`, func(r *http.Request) {
			r.RemoteAddr = "[::1]:40000"
		}))
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("basic auth", func(t *testing.T) {
		s, auditor := newTestServer(t, func(c *config.Config) {
			c.Server.Host = "0.0.0.0"
			c.Server.Auth = config.AuthConfig{Enabled: true, Username: "admin", Password: "s3cret"}
		})

		rec := serve(s.Handler(), remote(http.MethodPut, "/privacy", `{"enabled":false}`, nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "Basic")

		// Loopback peers need credentials too once auth is on.
		rec = do(t, s.Handler(), http.MethodDelete, "/audit", "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)

		rec = serve(s.Handler(), remote(http.MethodPut, "/privacy", `{"enabled":false}`, func(r *http.Request) {
			r.SetBasicAuth("admin", "wrong")
		}))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.True(t, auditor.PrivacyEnabled())

		rec = serve(s.Handler(), remote(http.MethodPut, "/privacy", `{"enabled":false}`, func(r *http.Request) {
			r.SetBasicAuth("admin", "s3cret")
		}))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.False(t, auditor.PrivacyEnabled())
	})
}

func TestWebSocketUpgradeThroughMiddleware(t *testing.T) {
	cfg := config.GetDefaults()
	hub := websocket.NewHub(cfg.WebSocket, nil)
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(stopped)
	}()
	s := New(cfg, logger.Nop(), newAuditor(), hub, "test")
	srv := httptest.NewServer(s.Handler())
	defer func() {
		cancel()
		<-stopped
		srv.Close()
	}()

	conn, resp, err := gorillaws.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+cfg.WebSocket.Path, nil)
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)
}

func TestDashboard(t *testing.T) {
	s, _ := newTestServer(t, nil)
	rec := do(t, s.Handler(), http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "Redaction audit")
}

func TestRateLimit(t *testing.T) {
	s, _ := newTestServer(t, func(c *config.Config) {
		c.RateLimit = config.RateLimitConfig{Enabled: true, RequestsPerMinute: 1, Burst: 2}
	})

	assert.Equal(t, http.StatusOK, do(t, s.Handler(), http.MethodGet, "/health", "").Code)
	assert.Equal(t, http.StatusOK, do(t, s.Handler(), http.MethodGet, "/health", "").Code)
	rec := do(t, s.Handler(), http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))

	// A different client has its own bucket.
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Real-IP", "10.0.0.9")
	other := httptest.NewRecorder()
	s.Handler().ServeHTTP(other, req)
	assert.Equal(t, http.StatusOK, other.Code)
}

func TestRateLimiter_Cleanup(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(config.RateLimitConfig{Enabled: true, RequestsPerMinute: 60, Burst: 1})
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))
	now = now.Add(time.Second)
	assert.True(t, rl.Allow("a"))

	now = now.Add(2 * time.Hour)
	assert.True(t, rl.Allow("b"))
	assert.Equal(t, 1, rl.CleanupOldBuckets(time.Hour))

	disabled := NewRateLimiter(config.RateLimitConfig{})
	for i := 0; i < 10; i++ {
		assert.True(t, disabled.Allow("a"))
	}
}

func TestStartStop(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreAnyFunction("github.com/dlclark/regexp2.runClock"))

	cfg := config.GetDefaults()
	cfg.Server.Port = 0
	hub := websocket.NewHub(cfg.WebSocket, nil)
	s := New(cfg, logger.Nop(), newAuditor(), hub, "test")

	errc := make(chan error, 1)
	go func() { errc <- s.Start() }()
	time.Sleep(50 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	require.NoError(t, <-errc)
}
