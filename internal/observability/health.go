package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"
)

// Build-time variables injected via ldflags.
var (
	Version = "dev"
	Commit  = "unknown"
)

// HealthResponse is the JSON response for the liveness endpoint.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Commit  string `json:"commit"`
}

// ReadinessResponse is the JSON response for the readiness endpoint.
type ReadinessResponse struct {
	Status string                 `json:"status"`
	Checks map[string]CheckResult `json:"checks"`
}

// CheckResult is the result of a single readiness check.
type CheckResult struct {
	Status    string `json:"status"`
	LatencyMs int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

// HealthChecker can verify its own health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// ReadinessChecks holds the dependency checkers for the readiness endpoint.
// CatalogLoaded always runs; the store checks run only when non-nil.
type ReadinessChecks struct {
	CatalogLoaded    func() bool
	SessionStore     HealthChecker
	IdempotencyStore HealthChecker
}

const checkTimeout = 2 * time.Second

// HandleHealth returns an HTTP handler for the liveness endpoint.
func HandleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(HealthResponse{
			Status:  "ok",
			Version: Version,
			Commit:  Commit,
		})
	}
}

type namedCheck struct {
	name    string
	checker HealthChecker
}

// checkerFunc adapts a plain function to HealthChecker.
type checkerFunc func(ctx context.Context) error

func (f checkerFunc) HealthCheck(ctx context.Context) error { return f(ctx) }

// HandleReady returns an HTTP handler for the readiness endpoint. The
// response reports every check individually; any failing check makes the
// whole endpoint 503.
func HandleReady(checks ReadinessChecks) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pending := []namedCheck{
			{"catalog", checkerFunc(func(context.Context) error {
				if checks.CatalogLoaded == nil || !checks.CatalogLoaded() {
					return errors.New("no activity definitions loaded")
				}
				return nil
			})},
		}
		if checks.SessionStore != nil {
			pending = append(pending, namedCheck{"session_store", checks.SessionStore})
		}
		if checks.IdempotencyStore != nil {
			pending = append(pending, namedCheck{"idempotency_store", checks.IdempotencyStore})
		}

		results := make(map[string]CheckResult, len(pending))
		status, httpStatus := "ready", http.StatusOK
		for _, c := range pending {
			res := runCheck(r.Context(), c.checker)
			results[c.name] = res
			if res.Status != "ok" {
				status, httpStatus = "not_ready", http.StatusServiceUnavailable
			}
		}

		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(httpStatus)
		json.NewEncoder(w).Encode(ReadinessResponse{
			Status: status,
			Checks: results,
		})
	}
}

// runCheck executes a health check with a per-check timeout.
func runCheck(parent context.Context, checker HealthChecker) CheckResult {
	ctx, cancel := context.WithTimeout(parent, checkTimeout)
	defer cancel()

	start := time.Now()
	err := checker.HealthCheck(ctx)
	latency := time.Since(start).Milliseconds()

	if err != nil {
		return CheckResult{Status: "error", LatencyMs: latency, Error: err.Error()}
	}
	return CheckResult{Status: "ok", LatencyMs: latency}
}
