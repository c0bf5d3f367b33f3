package errors

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, rec *httptest.ResponseRecorder) HTTPErrorResponse {
	t.Helper()
	var body HTTPErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestRespondWithError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
		wantMsg    string
	}{
		{
			name:       "bad request",
			err:        NewBadRequest("invalid body", nil),
			wantStatus: http.StatusBadRequest,
			wantCode:   CodeBadRequest,
			wantMsg:    "invalid body",
		},
		{
			name:       "wrapped app error",
			err:        fmt.Errorf("handler: %w", NewNotFound("no such job")),
			wantStatus: http.StatusNotFound,
			wantCode:   CodeNotFound,
			wantMsg:    "no such job",
		},
		{
			name:       "cause included in message",
			err:        WrapInternal(assert.AnError, "store failed"),
			wantStatus: http.StatusInternalServerError,
			wantCode:   CodeInternal,
			wantMsg:    "store failed: " + assert.AnError.Error(),
		},
		{
			name:       "plain error",
			err:        assert.AnError,
			wantStatus: http.StatusInternalServerError,
			wantCode:   CodeInternal,
			wantMsg:    assert.AnError.Error(),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			rec := httptest.NewRecorder()
			RespondWithError(rec, req, tt.err)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			body := decode(t, rec)
			assert.Equal(t, tt.wantCode, body.Error.Code)
			assert.Equal(t, tt.wantMsg, body.Error.Message)
		})
	}
}

func TestWriteErrorIncludesRequestIDAndDetails(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(WithRequestID(req.Context(), "req-42"))
	rec := httptest.NewRecorder()

	WriteError(rec, req, http.StatusTooManyRequests, CodeRateLimited, "slow down", map[string]any{"retry_after": "1s"})

	body := decode(t, rec)
	assert.Equal(t, "req-42", body.Error.RequestID)
	assert.Equal(t, "1s", body.Error.Details["retry_after"])
}

func TestWriteErrorNestedDetails(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/health/ready", nil)
	rec := httptest.NewRecorder()

	checks := map[string]any{"store": map[string]any{"status": "unhealthy"}}
	WriteError(rec, req, http.StatusServiceUnavailable, CodeServiceUnavailable, "not ready", map[string]any{"checks": checks})

	body := decode(t, rec)
	assert.Equal(t, "/health/ready", body.Error.Path)
	nested, ok := body.Error.Details["checks"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, nested, "store")
}

func TestNewEnvelopeCorrelatesRequest(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/run-simulation", nil)
	req = req.WithContext(WithRequestID(req.Context(), "req-7"))

	env := NewEnvelope(req, CodeBadRequest, "invalid body")
	assert.Equal(t, "req-7", env.CorrelationID)
	assert.Equal(t, "/run-simulation", env.Path)
	assert.Equal(t, CodeBadRequest, env.Code)

	env = NewEnvelope(nil, CodeInternal, "boom")
	assert.Empty(t, env.CorrelationID)
}

func TestRequestIDFromEmptyContext(t *testing.T) {
	assert.Empty(t, RequestIDFromContext(context.Background()))
}

func TestExitCode(t *testing.T) {
	err := fmt.Errorf("run: %w", &ExitError{Code: 64, Message: "bad flag"})
	assert.Equal(t, 64, ExitCode(err, 1))
	assert.Equal(t, 1, ExitCode(assert.AnError, 1))
	assert.Equal(t, "bad flag", (&ExitError{Code: 64, Message: "bad flag"}).Error())
}
