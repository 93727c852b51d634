package transport

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/MikeGii/vomm-sub003/internal/idempotency"
	"github.com/MikeGii/vomm-sub003/internal/observability"
	"github.com/MikeGii/vomm-sub003/internal/work"
	"github.com/MikeGii/vomm-sub003/model"
)

// maxBodySize bounds mutation request bodies.
const maxBodySize = 64 << 10

// WorkHandlers holds the handlers for the work-session API.
type WorkHandlers struct {
	engine           *work.Engine
	idem             idempotency.Store
	idemTTL          time.Duration
	allowAccelerated bool
	logger           *zap.Logger
}

// NewWorkHandlers creates the handler set. idem may be nil, in which case
// the X-Idempotency-Key header is ignored.
func NewWorkHandlers(engine *work.Engine, idem idempotency.Store, idemTTL time.Duration, allowAccelerated bool, logger *zap.Logger) *WorkHandlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WorkHandlers{
		engine:           engine,
		idem:             idem,
		idemTTL:          idemTTL,
		allowAccelerated: allowAccelerated,
		logger:           logger,
	}
}

// handleStartWork starts a new work session.
//
// POST /api/work
func (h *WorkHandlers) handleStartWork(w http.ResponseWriter, r *http.Request) {
	rctx := model.RequestContextFrom(r.Context())
	if rctx == nil {
		WriteError(w, model.NewUnauthorizedError("missing request context"))
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		WriteError(w, model.NewBadRequestError("request body too large or unreadable"))
		return
	}

	var req work.StartRequest
	if err := json.Unmarshal(body, &req); err != nil {
		WriteError(w, model.NewBadRequestError("invalid JSON body"))
		return
	}
	if req.Accelerated && !h.allowAccelerated {
		WriteError(w, model.NewBadRequestError("accelerated sessions are disabled"))
		return
	}

	if ce := h.logger.Check(zap.DebugLevel, "work start requested"); ce != nil {
		var raw map[string]any
		if json.Unmarshal(body, &raw) == nil {
			ce.Write(zap.Any("body", observability.RedactBody(raw, nil)))
		}
	}

	h.withIdempotency(w, r, rctx.PlayerID, body, http.StatusCreated, func() (any, error) {
		sess, err := h.engine.Start(r.Context(), rctx.PlayerID, req)
		if err != nil {
			return nil, err
		}
		return startResponse{Status: work.StatusWorking, Session: sess}, nil
	})
}

type startResponse struct {
	Status  string            `json:"status"`
	Session model.WorkSession `json:"session"`
}

// handlePollWork reports the caller's current session state, applying any
// completion that is due.
//
// GET /api/work
func (h *WorkHandlers) handlePollWork(w http.ResponseWriter, r *http.Request) {
	rctx := model.RequestContextFrom(r.Context())
	if rctx == nil {
		WriteError(w, model.NewUnauthorizedError("missing request context"))
		return
	}

	res, err := h.engine.Poll(r.Context(), rctx.PlayerID)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, res)
}

// handleCancelWork cancels the caller's in-progress session early for a
// reduced payout.
//
// POST /api/work/cancel
func (h *WorkHandlers) handleCancelWork(w http.ResponseWriter, r *http.Request) {
	rctx := model.RequestContextFrom(r.Context())
	if rctx == nil {
		WriteError(w, model.NewUnauthorizedError("missing request context"))
		return
	}

	h.withIdempotency(w, r, rctx.PlayerID, nil, http.StatusOK, func() (any, error) {
		return h.engine.CancelEarly(r.Context(), rctx.PlayerID)
	})
}

// handleResolveEvent resolves a pending event with the caller's choice.
//
// POST /api/work/events/resolve
func (h *WorkHandlers) handleResolveEvent(w http.ResponseWriter, r *http.Request) {
	rctx := model.RequestContextFrom(r.Context())
	if rctx == nil {
		WriteError(w, model.NewUnauthorizedError("missing request context"))
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		WriteError(w, model.NewBadRequestError("request body too large or unreadable"))
		return
	}

	var req work.ResolveRequest
	if err := json.Unmarshal(body, &req); err != nil {
		WriteError(w, model.NewBadRequestError("invalid JSON body"))
		return
	}
	if req.ChoiceID == "" {
		WriteError(w, model.NewBadRequestError("choiceId is required"))
		return
	}

	h.withIdempotency(w, r, rctx.PlayerID, body, http.StatusOK, func() (any, error) {
		return h.engine.ResolveEvent(r.Context(), rctx.PlayerID, req)
	})
}

// handleWorkHistory lists the caller's finished shifts, newest first.
//
// GET /api/work/history?limit=N
func (h *WorkHandlers) handleWorkHistory(w http.ResponseWriter, r *http.Request) {
	rctx := model.RequestContextFrom(r.Context())
	if rctx == nil {
		WriteError(w, model.NewUnauthorizedError("missing request context"))
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			WriteError(w, model.NewBadRequestError("limit must be a positive integer"))
			return
		}
		limit = n
	}

	entries, err := h.engine.History(r.Context(), rctx.PlayerID, limit)
	if err != nil {
		WriteError(w, err)
		return
	}
	if entries == nil {
		entries = []model.WorkHistoryEntry{}
	}
	WriteJSON(w, http.StatusOK, historyResponse{Entries: entries})
}

type historyResponse struct {
	Entries []model.WorkHistoryEntry `json:"entries"`
}

// withIdempotency executes fn, replaying a cached response when the request
// carries an X-Idempotency-Key the caller has used before. Only successful
// responses are cached; a failed attempt may be retried with the same key.
func (h *WorkHandlers) withIdempotency(w http.ResponseWriter, r *http.Request, playerID string, body []byte, status int, fn func() (any, error)) {
	key := r.Header.Get("X-Idempotency-Key")
	if key == "" || h.idem == nil {
		h.execute(w, status, fn)
		return
	}

	fullKey := idempotency.FormatKey(playerID, key)
	hash := hashRequest(r.Method, r.URL.Path, body)

	cached, found, err := h.idem.Check(r.Context(), fullKey, hash)
	if err != nil {
		WriteError(w, err)
		return
	}
	if found {
		WriteJSON(w, cached.Status, json.RawMessage(cached.Body))
		return
	}

	result, err := fn()
	if err != nil {
		WriteError(w, err)
		return
	}

	encoded, err := json.Marshal(result)
	if err != nil {
		WriteError(w, model.NewInternalError())
		return
	}

	stored := idempotency.StoredResponse{Status: status, Body: encoded}
	if err := h.idem.Store(r.Context(), fullKey, hash, stored, h.idemTTL); err != nil {
		h.logger.Warn("idempotency store failed", zap.String("key", fullKey), zap.Error(err))
	}
	WriteJSON(w, status, json.RawMessage(encoded))
}

func (h *WorkHandlers) execute(w http.ResponseWriter, status int, fn func() (any, error)) {
	result, err := fn()
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, status, result)
}

func hashRequest(method, path string, body []byte) string {
	sum := sha256.New()
	sum.Write([]byte(method))
	sum.Write([]byte{0})
	sum.Write([]byte(path))
	sum.Write([]byte{0})
	sum.Write(body)
	return hex.EncodeToString(sum.Sum(nil))
}
