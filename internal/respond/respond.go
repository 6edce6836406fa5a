// Package respond writes JSON bodies and structured error payloads, and
// carries the per-request ID through the request context.
package respond

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	apperrors "github.com/Brownie44l1/food-ai-api/internal/errors"
	"github.com/google/uuid"
)

type contextKey string

const contextKeyRequestID contextKey = "requestID"

// ErrorResponse is the body of every non-2xx API response.
type ErrorResponse struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	RequestID string         `json:"requestId"`
	Timestamp time.Time      `json:"timestamp"`
	Retryable bool           `json:"retryable"`
}

// WithRequestID stores a request ID in ctx.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, contextKeyRequestID, id)
}

// RequestID returns the request ID stored in ctx, or "" when there is none.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(contextKeyRequestID).(string)
	return id
}

// JSON writes data with the given status code. The body is encoded before
// any header is written so an encoding failure never yields a partial response.
func JSON(w http.ResponseWriter, statusCode int, data any) {
	buf := &bytes.Buffer{}
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(data); err != nil {
		slog.Error("json encoding failed", "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if _, err := w.Write(buf.Bytes()); err != nil {
		slog.Warn("response write failed", "error", err)
	}
}

// Error writes err as an ErrorResponse, deriving status, code and
// retryability from its structured error code. Messages of internal errors
// are not exposed.
func Error(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatus(err)

	message := http.StatusText(status)
	var details map[string]any
	var se *apperrors.StructuredError
	if errors.As(err, &se) && se.Code != apperrors.ErrCodeInternal {
		message = se.Message
		details = se.Context
	}

	Status(w, r, status, string(apperrors.Code(err)), message, apperrors.Retryable(err), details)
}

// Status writes an ErrorResponse with explicit fields.
func Status(w http.ResponseWriter, r *http.Request, statusCode int, code, message string,
	retryable bool, details map[string]any) {

	requestID := RequestID(r.Context())
	if requestID == "" {
		requestID = uuid.New().String()
	}

	JSON(w, statusCode, ErrorResponse{
		Code:      code,
		Message:   message,
		Details:   details,
		RequestID: requestID,
		Timestamp: time.Now().UTC(),
		Retryable: retryable,
	})
}
