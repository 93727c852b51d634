// Package integration provides a reusable test harness for end-to-end
// testing of the work-session API server. It starts a full HTTP server with
// in-memory stores, a controllable clock, and a test JWT issuer.
package integration

import (
	"context"
	"encoding/json"
	"io"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/MikeGii/vomm-sub003/internal/catalog"
	"github.com/MikeGii/vomm-sub003/internal/config"
	"github.com/MikeGii/vomm-sub003/internal/idempotency"
	"github.com/MikeGii/vomm-sub003/internal/observability"
	"github.com/MikeGii/vomm-sub003/internal/player"
	"github.com/MikeGii/vomm-sub003/internal/transport"
	"github.com/MikeGii/vomm-sub003/internal/work"
	"github.com/MikeGii/vomm-sub003/model"
)

// Clock is the controllable time source the harness feeds to the engine.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the fake clock forward.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// TestHarness encapsulates a fully wired server instance for integration
// testing.
type TestHarness struct {
	t      *testing.T
	server *httptest.Server
	issuer *tokenIssuer

	// Internal components exposed for advanced test scenarios.
	Engine   *work.Engine
	Sessions *work.MemorySessionStore
	Events   *work.MemoryEventStore
	Players  *player.MemoryStore
	History  *work.MemoryHistory
	Clock    *Clock

	cfg *config.Config
}

// HarnessOption configures the test harness.
type HarnessOption func(*harnessConfig)

type harnessConfig struct {
	eventChance      float64
	allowAccelerated bool
	handlerTimeout   time.Duration
	seed             int64
}

// WithEventChance sets the event injection probability. Zero means events
// never fire; one means every eligible boundary injects.
func WithEventChance(p float64) HarnessOption {
	return func(c *harnessConfig) {
		c.eventChance = p
	}
}

// WithAcceleratedSessions enables the accelerated testing mode.
func WithAcceleratedSessions() HarnessOption {
	return func(c *harnessConfig) {
		c.allowAccelerated = true
	}
}

// WithHandlerTimeout sets the per-request handler timeout.
func WithHandlerTimeout(d time.Duration) HarnessOption {
	return func(c *harnessConfig) {
		c.handlerTimeout = d
	}
}

// NewTestHarness creates and starts a full server test instance. The server
// is automatically cleaned up when the test completes.
func NewTestHarness(t *testing.T, opts ...HarnessOption) *TestHarness {
	t.Helper()

	hc := &harnessConfig{
		handlerTimeout: 10 * time.Second,
		seed:           1,
	}
	for _, opt := range opts {
		opt(hc)
	}

	cat, err := catalog.New(
		[]model.Activity{
			{ID: "patrol", Name: "Patrol", Type: "patrol", MinLevel: 1, BaseExpPerHour: 50, BaseMoneyPerHour: 30, GrowthRate: 0.15, MaxHours: 10},
			{ID: "office", Name: "Desk Duty", Type: "office", MinLevel: 1, BaseExpPerHour: 20, BaseMoneyPerHour: 40, GrowthRate: 0.1, MaxHours: 8},
		},
		[]model.WorkEvent{
			{
				ID: "evt-stop", Title: "Routine stop", Text: "A car refuses to pull over.",
				ActivityTypes: []string{"patrol"}, MinLevel: 1,
				Choices: []model.EventChoice{
					{ID: "pursue", Label: "Pursue", ResultText: "You catch the driver.", Consequences: model.Consequences{Health: -10, Money: 50, Reputation: 2}},
					{ID: "radio", Label: "Radio it in", ResultText: "Dispatch takes over.", Consequences: model.Consequences{Experience: -20}},
				},
			},
		},
	)
	if err != nil {
		t.Fatalf("catalog.New: %v", err)
	}

	h := &TestHarness{
		t:        t,
		Sessions: work.NewMemorySessionStore(),
		Events:   work.NewMemoryEventStore(),
		Players:  player.NewMemoryStore(),
		History:  work.NewMemoryHistory(),
		Clock:    &Clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
	}

	opts2 := work.DefaultOptions()
	opts2.EventChance = hc.eventChance

	h.Engine = work.NewEngine(work.EngineConfig{
		Sessions: h.Sessions,
		Events:   h.Events,
		Players:  h.Players,
		History:  h.History,
		Catalog:  cat,
		Injector: work.NewInjector(cat, hc.eventChance, rand.New(rand.NewSource(hc.seed))),
		Logger:   zap.NewNop(),
		Options:  opts2,
		Now:      h.Clock.Now,
	})

	h.issuer = newTokenIssuer(t)

	h.cfg = config.Defaults()
	h.cfg.Server.HandlerTimeout = hc.handlerTimeout
	h.cfg.Server.CORS.AllowedOrigins = []string{"http://localhost:3000"}
	h.cfg.Work.EventChance = hc.eventChance
	h.cfg.Work.AllowAccelerated = hc.allowAccelerated
	h.cfg.Identity = config.IdentityConfig{
		Issuer:     h.issuer.Issuer(),
		Audience:   h.issuer.Audience(),
		JWKSURL:    h.issuer.JWKSURL(),
		Algorithms: []string{"RS256"},
		ClaimPaths: map[string]string{
			"player_id": "sub",
			"email":     "email",
			"roles":     "roles",
		},
	}

	jwks := transport.NewJWKSClient(h.issuer.JWKSURL(), 1*time.Hour, nil)

	router := transport.NewRouter(transport.Dependencies{
		Config:      h.cfg,
		Logger:      zap.NewNop(),
		Engine:      h.Engine,
		Idempotency: idempotency.NewMemoryStore(),
		Ready: observability.ReadinessChecks{
			CatalogLoaded: func() bool {
				n, _ := cat.Len()
				return n > 0
			},
		},
		Authenticate: transport.JWTAuthenticator(h.cfg.Identity, jwks),
	})

	h.server = httptest.NewServer(router)
	t.Cleanup(h.server.Close)

	return h
}

// BaseURL returns the test server's base URL.
func (h *TestHarness) BaseURL() string {
	return h.server.URL
}

// SeedPlayer creates a player record ready to work.
func (h *TestHarness) SeedPlayer(playerID string) {
	h.t.Helper()
	err := h.Players.Create(context.Background(), model.PlayerAttributes{
		PlayerID:       playerID,
		Health:         model.Health{Current: 80, Max: 100},
		Money:          200,
		Experience:     1000,
		Level:          5,
		Reputation:     10,
		TrainingBudget: 50,
	})
	if err != nil {
		h.t.Fatalf("seed player %s: %v", playerID, err)
	}
}

// GenerateToken creates a valid JWT token with the given claims.
func (h *TestHarness) GenerateToken(claims TestClaims) string {
	return h.issuer.GenerateToken(claims)
}

// GenerateExpiredToken creates a JWT that has already expired.
func (h *TestHarness) GenerateExpiredToken(claims TestClaims) string {
	return h.issuer.GenerateExpiredToken(claims)
}

// --- HTTP client helpers ---

// GET performs an authenticated GET request.
func (h *TestHarness) GET(path, token string) *http.Response {
	h.t.Helper()
	return h.doRequest("GET", path, nil, token, nil)
}

// POST performs an authenticated POST request with a JSON body.
func (h *TestHarness) POST(path string, body any, token string) *http.Response {
	h.t.Helper()
	return h.doRequest("POST", path, body, token, nil)
}

// POSTWithHeaders performs an authenticated POST request with additional headers.
func (h *TestHarness) POSTWithHeaders(path string, body any, token string, headers map[string]string) *http.Response {
	h.t.Helper()
	return h.doRequest("POST", path, body, token, headers)
}

func (h *TestHarness) doRequest(method, path string, body any, token string, headers map[string]string) *http.Response {
	h.t.Helper()

	url := h.server.URL + path

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			h.t.Fatalf("marshal request body: %v", err)
		}
		bodyReader = strings.NewReader(string(data))
	}

	req, err := http.NewRequestWithContext(context.Background(), method, url, bodyReader)
	if err != nil {
		h.t.Fatalf("create request: %v", err)
	}

	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		h.t.Fatalf("%s %s failed: %v", method, path, err)
	}
	return resp
}

// ParseJSON reads the response body and unmarshals it into the target.
func (h *TestHarness) ParseJSON(resp *http.Response, target any) {
	h.t.Helper()
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		h.t.Fatalf("read response body: %v", err)
	}
	if err := json.Unmarshal(data, target); err != nil {
		h.t.Fatalf("unmarshal response body: %v\nbody: %s", err, string(data))
	}
}

// AssertStatus checks that the response has the expected status code.
func (h *TestHarness) AssertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Errorf("status = %d, want %d\nbody: %s", resp.StatusCode, expected, string(body))
	}
}

// AssertJSON checks that the response has the expected status and parses the body.
func (h *TestHarness) AssertJSON(t *testing.T, resp *http.Response, expected int, target any) {
	t.Helper()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("status = %d, want %d\nbody: %s", resp.StatusCode, expected, string(body))
	}
	h.ParseJSON(resp, target)
}

// PlayerClaims returns TestClaims for a regular player.
func PlayerClaims(playerID string) TestClaims {
	return TestClaims{
		PlayerID: playerID,
		Email:    playerID + "@vomm.example.com",
		Roles:    []string{"player"},
	}
}
