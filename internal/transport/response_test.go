package transport

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MikeGii/vomm-sub003/model"
)

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()
	WriteJSON(w, http.StatusCreated, map[string]string{"status": "working"})

	if w.Code != http.StatusCreated {
		t.Errorf("status = %d, want 201", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}

	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["status"] != "working" {
		t.Errorf("body = %v", body)
	}
}

func TestWriteError_envelope(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(w, model.NewPreconditionFailedError("health too low to start a shift"))

	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422", w.Code)
	}

	var body struct {
		Error *model.ErrorEnvelope `json:"error"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body.Error.Code != model.ErrPreconditionFailed {
		t.Errorf("code = %q, want %q", body.Error.Code, model.ErrPreconditionFailed)
	}
	if body.Error.Message != "health too low to start a shift" {
		t.Errorf("message = %q", body.Error.Message)
	}
}

func TestWriteError_non_envelope(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(w, errors.New("database exploded"))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}

	var body struct {
		Error *model.ErrorEnvelope `json:"error"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body.Error.Code != model.ErrInternalError {
		t.Errorf("code = %q, want %q", body.Error.Code, model.ErrInternalError)
	}
	// The raw error must not leak to clients.
	if body.Error.Message == "database exploded" {
		t.Error("internal error message leaked")
	}
}

func TestWriteNotFound(t *testing.T) {
	w := httptest.NewRecorder()
	WriteNotFound(w, "no such activity")
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestStatusForCode_coverage(t *testing.T) {
	cases := map[string]int{
		model.ErrBadRequest:         400,
		model.ErrUnauthorized:       401,
		model.ErrNotFound:           404,
		model.ErrConflict:           409,
		model.ErrPreconditionFailed: 422,
		model.ErrInternalError:      500,
	}
	for code, want := range cases {
		if got := statusForCode[code]; got != want {
			t.Errorf("statusForCode[%s] = %d, want %d", code, got, want)
		}
	}
}
