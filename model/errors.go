package model

import "fmt"

// Standard error codes.
const (
	ErrBadRequest         = "BAD_REQUEST"
	ErrUnauthorized       = "UNAUTHORIZED"
	ErrNotFound           = "NOT_FOUND"
	ErrConflict           = "CONFLICT"
	ErrPreconditionFailed = "PRECONDITION_FAILED"
	ErrInternalError      = "INTERNAL_ERROR"
)

// ErrorEnvelope is the standard error response envelope returned by the API.
// It implements the error interface.
//
// CONFLICT deserves a note: it is produced by the stores when an atomic
// conditional transition loses its race. The work engine treats it as a
// silent no-op, so it only reaches a client when a store is used directly.
type ErrorEnvelope struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	TraceID string `json:"trace_id,omitempty"`
}

// Error implements the error interface.
func (e *ErrorEnvelope) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewBadRequestError returns a BAD_REQUEST error.
func NewBadRequestError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrBadRequest, Message: msg}
}

// NewUnauthorizedError returns an UNAUTHORIZED error.
func NewUnauthorizedError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrUnauthorized, Message: msg}
}

// NewNotFoundError returns a NOT_FOUND error.
func NewNotFoundError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrNotFound, Message: msg}
}

// NewConflictError returns a CONFLICT error.
func NewConflictError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrConflict, Message: msg}
}

// NewPreconditionFailedError returns a PRECONDITION_FAILED error. These are
// user-facing rejections: already working, blocking course, health too low,
// unknown activity.
func NewPreconditionFailedError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrPreconditionFailed, Message: msg}
}

// NewInternalError returns an INTERNAL_ERROR. Without a message the
// client-facing text stays generic.
func NewInternalError(msg ...string) *ErrorEnvelope {
	m := "An unexpected error occurred"
	if len(msg) > 0 && msg[0] != "" {
		m = msg[0]
	}
	return &ErrorEnvelope{
		Code:    ErrInternalError,
		Message: m,
	}
}

// IsConflict reports whether err is a CONFLICT envelope. The engine uses this
// to recognize a lost conditional write and downgrade it to a no-op.
func IsConflict(err error) bool {
	ee, ok := err.(*ErrorEnvelope)
	return ok && ee.Code == ErrConflict
}

// IsNotFound reports whether err is a NOT_FOUND envelope.
func IsNotFound(err error) bool {
	ee, ok := err.(*ErrorEnvelope)
	return ok && ee.Code == ErrNotFound
}

// IsPreconditionFailed reports whether err is a PRECONDITION_FAILED envelope.
func IsPreconditionFailed(err error) bool {
	ee, ok := err.(*ErrorEnvelope)
	return ok && ee.Code == ErrPreconditionFailed
}
