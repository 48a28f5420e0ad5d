package httpx

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/oceanbutterfly/shop-api/internal/platform/requestctx"
)

const (
	codeLimit    = 80
	messageLimit = 512
	traceLimit   = 64
)

// Error is the JSON error envelope: {"error", "message", "status"} plus request/trace ids and
// any details flattened next to them.
type Error struct {
	Code      string
	Message   string
	Status    int
	RequestID string
	TraceID   string
	Details   map[string]any
}

// Common envelopes shared by handlers.
var (
	ErrUnauthenticated = NewError("unauthenticated", "authentication required", http.StatusUnauthorized)
	ErrInternal        = NewError("internal_server_error", "internal server error", http.StatusInternalServerError)
)

// NewError builds an envelope. A zero status means 500.
func NewError(code, message string, status int) Error {
	if status == 0 {
		status = http.StatusInternalServerError
	}
	return Error{
		Code:    singleLine(code, codeLimit),
		Message: singleLine(message, messageLimit),
		Status:  status,
	}
}

func (e Error) Error() string {
	return fmt.Sprintf("%d %s: %s", e.Status, e.Code, e.Message)
}

func (e Error) WithRequestID(id string) Error {
	e.RequestID = singleLine(id, codeLimit)
	return e
}

func (e Error) WithTraceID(id string) Error {
	e.TraceID = singleLine(id, traceLimit)
	return e
}

// WithDetails attaches extra fields. Keys that collide with the envelope are ignored on write.
func (e Error) WithDetails(details map[string]any) Error {
	if len(details) == 0 {
		return e
	}
	merged := make(map[string]any, len(e.Details)+len(details))
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	e.Details = merged
	return e
}

// WriteError renders err, filling request and trace ids from ctx when unset.
func WriteError(ctx context.Context, w http.ResponseWriter, err Error) {
	if err.Status == 0 {
		err.Status = http.StatusInternalServerError
	}
	if err.RequestID == "" {
		err.RequestID = singleLine(middleware.GetReqID(ctx), codeLimit)
	}
	if err.TraceID == "" {
		err.TraceID = singleLine(requestctx.TraceID(ctx), traceLimit)
	}
	WriteJSON(w, err.Status, err.payload())
}

func (e Error) payload() map[string]any {
	out := make(map[string]any, len(e.Details)+5)
	for k, v := range e.Details {
		out[k] = v
	}
	out["error"] = e.Code
	out["message"] = e.Message
	out["status"] = e.Status
	if e.RequestID != "" {
		out["request_id"] = e.RequestID
	}
	if e.TraceID != "" {
		out["trace_id"] = e.TraceID
	}
	return out
}

// WriteJSON encodes payload with the given status. A nil payload writes headers only.
func WriteJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		_ = json.NewEncoder(w).Encode(payload)
	}
}

func singleLine(value string, limit int) string {
	value = strings.TrimSpace(strings.NewReplacer("\r", " ", "\n", " ").Replace(value))
	if len(value) > limit {
		value = value[:limit]
	}
	return value
}
