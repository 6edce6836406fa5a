package respond

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	apperrors "github.com/Brownie44l1/food-ai-api/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSON(t *testing.T) {
	rec := httptest.NewRecorder()

	JSON(rec, http.StatusOK, map[string]string{"message": "Welcome to Food Recognition AI API 🚀"})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"message":"Welcome to Food Recognition AI API 🚀"}`, rec.Body.String())
}

func TestJSON_EncodingFailure(t *testing.T) {
	rec := httptest.NewRecorder()

	JSON(rec, http.StatusOK, map[string]any{"bad": make(chan int)})

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRequestID(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Empty(t, RequestID(req.Context()))

	ctx := WithRequestID(req.Context(), "abc")
	assert.Equal(t, "abc", RequestID(ctx))
}

func TestError(t *testing.T) {
	tests := []struct {
		name          string
		err           error
		wantStatus    int
		wantCode      string
		wantMessage   string
		wantRetryable bool
	}{
		{
			name:        "validation error exposes message",
			err:         apperrors.New(apperrors.ErrCodeInvalidRequest, "uploaded file is not a supported image"),
			wantStatus:  http.StatusBadRequest,
			wantCode:    "INVALID_REQUEST",
			wantMessage: "uploaded file is not a supported image",
		},
		{
			name:        "internal error hides cause",
			err:         apperrors.Wrap(apperrors.ErrCodeInternal, "inference failed", errors.New("onnx: bad shape")),
			wantStatus:  http.StatusInternalServerError,
			wantCode:    "INTERNAL",
			wantMessage: "Internal Server Error",
		},
		{
			name:          "upstream error is retryable",
			err:           apperrors.New(apperrors.ErrCodeUpstream, "recipe service unavailable"),
			wantStatus:    http.StatusBadGateway,
			wantCode:      "UPSTREAM_FAILURE",
			wantMessage:   "recipe service unavailable",
			wantRetryable: true,
		},
		{
			name:        "plain error is internal",
			err:         errors.New("unexpected"),
			wantStatus:  http.StatusInternalServerError,
			wantCode:    "INTERNAL",
			wantMessage: "Internal Server Error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/predict", nil)
			req = req.WithContext(WithRequestID(req.Context(), "req-1"))
			rec := httptest.NewRecorder()

			Error(rec, req, tt.err)

			assert.Equal(t, tt.wantStatus, rec.Code)

			var body ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.wantCode, body.Code)
			assert.Equal(t, tt.wantMessage, body.Message)
			assert.Equal(t, tt.wantRetryable, body.Retryable)
			assert.Equal(t, "req-1", body.RequestID)
			assert.False(t, body.Timestamp.IsZero())
		})
	}
}

func TestStatus_GeneratesRequestID(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()

	Status(rec, req, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "not ready", true, nil)

	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotEmpty(t, body.RequestID)
	assert.True(t, body.Retryable)
}
