package integration

import (
	"context"
	"net/http"
	"testing"
	"time"
)

func assertEqual(t *testing.T, got, want any, label string) {
	t.Helper()
	if got != want {
		t.Errorf("%s = %v, want %v", label, got, want)
	}
}

// ==========================================================================
// Shift lifecycle
// ==========================================================================

func TestWorkLifecycle_fullShift(t *testing.T) {
	h := NewTestHarness(t)
	h.SeedPlayer("player-1")
	token := h.GenerateToken(PlayerClaims("player-1"))

	t.Run("start returns the committed session", func(t *testing.T) {
		resp := h.POST("/api/work", map[string]any{
			"activity_id": "patrol",
			"hours":       3,
			"region":      "harju",
			"department":  "patrol-1",
		}, token)

		var body map[string]any
		h.AssertJSON(t, resp, http.StatusCreated, &body)
		assertEqual(t, body["status"], "working", "status")

		sess := body["session"].(map[string]any)
		assertEqual(t, sess["activity_id"], "patrol", "activity")
		reward := sess["expected_reward"].(map[string]any)
		assertEqual(t, reward["experience"], float64(172), "expected experience")
		assertEqual(t, reward["money"], float64(103), "expected money")
	})

	t.Run("poll mid-shift reports remaining time", func(t *testing.T) {
		h.Clock.Advance(1 * time.Hour)

		var body map[string]any
		h.AssertJSON(t, h.GET("/api/work", token), http.StatusOK, &body)
		assertEqual(t, body["status"], "working", "status")
		assertEqual(t, body["remaining_seconds"], float64(2*3600), "remaining seconds")
	})

	t.Run("poll past the boundary completes and pays out", func(t *testing.T) {
		h.Clock.Advance(2 * time.Hour)

		var body map[string]any
		h.AssertJSON(t, h.GET("/api/work", token), http.StatusOK, &body)
		assertEqual(t, body["status"], "completed", "status")

		reward := body["reward"].(map[string]any)
		assertEqual(t, reward["experience"], float64(172), "experience")
		assertEqual(t, reward["money"], float64(103), "money")
	})

	t.Run("player attributes are credited once", func(t *testing.T) {
		attrs, err := h.Players.Get(context.Background(), "player-1")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		assertEqual(t, attrs.Experience, 1172, "experience")
		assertEqual(t, attrs.Money, 303, "money")
		assertEqual(t, attrs.TotalHoursWorked, 3, "hours worked")
		assertEqual(t, attrs.IsWorking, false, "is working")
	})

	t.Run("history records the completed shift", func(t *testing.T) {
		var body map[string]any
		h.AssertJSON(t, h.GET("/api/work/history", token), http.StatusOK, &body)

		entries := body["entries"].([]any)
		if len(entries) != 1 {
			t.Fatalf("len(entries) = %d, want 1", len(entries))
		}
		entry := entries[0].(map[string]any)
		assertEqual(t, entry["activity_name"], "Patrol", "activity name")
		assertEqual(t, entry["outcome"], "completed", "outcome")
	})

	t.Run("a new shift can start after the old one settled", func(t *testing.T) {
		resp := h.POST("/api/work", map[string]any{
			"activity_id": "office",
			"hours":       2,
		}, token)
		h.AssertStatus(t, resp, http.StatusCreated)
		resp.Body.Close()
	})
}

func TestWorkLifecycle_startRejections(t *testing.T) {
	h := NewTestHarness(t)
	h.SeedPlayer("player-1")
	token := h.GenerateToken(PlayerClaims("player-1"))

	t.Run("unknown activity", func(t *testing.T) {
		resp := h.POST("/api/work", map[string]any{"activity_id": "pilot", "hours": 2}, token)
		h.AssertStatus(t, resp, http.StatusUnprocessableEntity)
		resp.Body.Close()
	})

	t.Run("hours above the activity maximum", func(t *testing.T) {
		resp := h.POST("/api/work", map[string]any{"activity_id": "patrol", "hours": 11}, token)
		h.AssertStatus(t, resp, http.StatusBadRequest)
		resp.Body.Close()
	})

	t.Run("second concurrent shift", func(t *testing.T) {
		resp := h.POST("/api/work", map[string]any{"activity_id": "patrol", "hours": 3}, token)
		h.AssertStatus(t, resp, http.StatusCreated)
		resp.Body.Close()

		resp = h.POST("/api/work", map[string]any{"activity_id": "office", "hours": 1}, token)
		h.AssertStatus(t, resp, http.StatusUnprocessableEntity)
		resp.Body.Close()
	})
}

// ==========================================================================
// Event injection and resolution
// ==========================================================================

func TestWorkLifecycle_eventFlow(t *testing.T) {
	h := NewTestHarness(t, WithEventChance(1))
	h.SeedPlayer("player-1")
	token := h.GenerateToken(PlayerClaims("player-1"))

	resp := h.POST("/api/work", map[string]any{"activity_id": "patrol", "hours": 3}, token)
	h.AssertStatus(t, resp, http.StatusCreated)
	resp.Body.Close()

	h.Clock.Advance(3 * time.Hour)

	t.Run("boundary parks the session on a pending event", func(t *testing.T) {
		var body map[string]any
		h.AssertJSON(t, h.GET("/api/work", token), http.StatusOK, &body)
		assertEqual(t, body["status"], "pending_event", "status")

		event := body["event"].(map[string]any)
		assertEqual(t, event["id"], "evt-stop", "event id")
		if body["reward"] != nil {
			t.Error("reward must not be paid before the event is resolved")
		}
	})

	t.Run("repeated polls do not inject twice", func(t *testing.T) {
		for i := 0; i < 3; i++ {
			var body map[string]any
			h.AssertJSON(t, h.GET("/api/work", token), http.StatusOK, &body)
			assertEqual(t, body["status"], "pending_event", "status")
		}
		if h.Events.Len() != 1 {
			t.Errorf("Events.Len() = %d, want 1", h.Events.Len())
		}
	})

	t.Run("resolve applies the choice and pays the full reward", func(t *testing.T) {
		var body map[string]any
		resp := h.POST("/api/work/events/resolve", map[string]any{
			"event_id":  "evt-stop",
			"choice_id": "pursue",
		}, token)
		h.AssertJSON(t, resp, http.StatusOK, &body)

		assertEqual(t, body["result_text"], "You catch the driver.", "result text")
		applied := body["applied"].(map[string]any)
		assertEqual(t, applied["health"], float64(-10), "applied health")
		reward := body["reward"].(map[string]any)
		assertEqual(t, reward["experience"], float64(172), "experience")

		attrs, err := h.Players.Get(context.Background(), "player-1")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		assertEqual(t, attrs.Health.Current, 70, "health")
		assertEqual(t, attrs.Money, 200+50+103, "money")
	})

	t.Run("resolving again is rejected", func(t *testing.T) {
		resp := h.POST("/api/work/events/resolve", map[string]any{
			"event_id":  "evt-stop",
			"choice_id": "pursue",
		}, token)
		if resp.StatusCode != http.StatusNotFound && resp.StatusCode != http.StatusConflict {
			t.Errorf("status = %d, want 404 or 409", resp.StatusCode)
		}
		resp.Body.Close()
	})
}

// ==========================================================================
// Early cancellation
// ==========================================================================

func TestWorkLifecycle_cancelEarly(t *testing.T) {
	h := NewTestHarness(t)
	h.SeedPlayer("player-1")
	token := h.GenerateToken(PlayerClaims("player-1"))

	resp := h.POST("/api/work", map[string]any{"activity_id": "patrol", "hours": 10}, token)
	h.AssertStatus(t, resp, http.StatusCreated)
	resp.Body.Close()

	h.Clock.Advance(4 * time.Hour)

	var body map[string]any
	h.AssertJSON(t, h.POST("/api/work/cancel", nil, token), http.StatusOK, &body)
	assertEqual(t, body["status"], "idle", "status")

	// Half pay for the elapsed fraction of a 10 hour shift.
	reward := body["reward"].(map[string]any)
	assertEqual(t, reward["experience"], float64(167), "experience")
	assertEqual(t, reward["money"], float64(100), "money")

	attrs, err := h.Players.Get(context.Background(), "player-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	assertEqual(t, attrs.TotalHoursWorked, 4, "hours worked")
}

// ==========================================================================
// Accelerated sessions
// ==========================================================================

func TestWorkLifecycle_accelerated(t *testing.T) {
	h := NewTestHarness(t, WithAcceleratedSessions(), WithEventChance(1))
	h.SeedPlayer("player-1")
	token := h.GenerateToken(PlayerClaims("player-1"))

	resp := h.POST("/api/work", map[string]any{
		"activity_id": "patrol",
		"hours":       3,
		"accelerated": true,
	}, token)
	h.AssertStatus(t, resp, http.StatusCreated)
	resp.Body.Close()

	h.Clock.Advance(61 * time.Second)

	// Accelerated sessions never receive events, even at chance 1, and
	// still pay the full committed reward.
	var body map[string]any
	h.AssertJSON(t, h.GET("/api/work", token), http.StatusOK, &body)
	assertEqual(t, body["status"], "completed", "status")
	reward := body["reward"].(map[string]any)
	assertEqual(t, reward["experience"], float64(172), "experience")
}
