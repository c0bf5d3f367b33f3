// Package errors defines the HTTP error envelope and the error types the
// server and CLI map onto it.
package errors

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"

	gferrors "github.com/fulmenhq/gofulmen/errors"
)

// Error codes used in envelopes.
const (
	CodeBadRequest         = "BAD_REQUEST"
	CodeNotFound           = "NOT_FOUND"
	CodeMethodNotAllowed   = "METHOD_NOT_ALLOWED"
	CodeRateLimited        = "RATE_LIMITED"
	CodeInternal           = "INTERNAL_ERROR"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	CodeConfiguration      = "CONFIGURATION_ERROR"
)

// HTTPErrorResponse is the only body shape the HTTP layer emits for
// protocol faults.
type HTTPErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// ErrorBody is the wire view of a gofulmen error envelope. The envelope's
// correlation id is the request id; its context and details share one map.
type ErrorBody struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	RequestID string         `json:"request_id,omitempty"`
	Path      string         `json:"path,omitempty"`
	Timestamp string         `json:"timestamp,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

func bodyFrom(env *gferrors.ErrorEnvelope) ErrorBody {
	body := ErrorBody{
		Code:      env.Code,
		Message:   env.Message,
		RequestID: env.CorrelationID,
		Path:      env.Path,
		Timestamp: env.Timestamp,
	}
	if len(env.Context)+len(env.Details) > 0 {
		body.Details = make(map[string]any, len(env.Context)+len(env.Details))
		for k, v := range env.Context {
			body.Details[k] = v
		}
		for k, v := range env.Details {
			body.Details[k] = v
		}
	}
	return body
}

// AppError carries an HTTP status and envelope code alongside the cause.
type AppError struct {
	Status  int
	Code    string
	Message string
	Details map[string]any
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error { return e.Err }

// WithDetails returns a copy of e with details attached.
func (e *AppError) WithDetails(details map[string]any) *AppError {
	cp := *e
	cp.Details = details
	return &cp
}

func NewBadRequest(msg string, err error) *AppError {
	return &AppError{Status: http.StatusBadRequest, Code: CodeBadRequest, Message: msg, Err: err}
}

func NewNotFound(msg string) *AppError {
	return &AppError{Status: http.StatusNotFound, Code: CodeNotFound, Message: msg}
}

func NewConfigurationError(msg string, err error) *AppError {
	return &AppError{Status: http.StatusInternalServerError, Code: CodeConfiguration, Message: msg, Err: err}
}

func NewServiceUnavailable(msg string) *AppError {
	return &AppError{Status: http.StatusServiceUnavailable, Code: CodeServiceUnavailable, Message: msg}
}

// NewExternalServiceError reports a dependency outside the process failing.
func NewExternalServiceError(msg string) *AppError {
	return &AppError{Status: http.StatusBadGateway, Code: CodeServiceUnavailable, Message: msg}
}

// WrapInternal wraps err as a 500.
func WrapInternal(err error, msg string) *AppError {
	return &AppError{Status: http.StatusInternalServerError, Code: CodeInternal, Message: msg, Err: err}
}

type requestIDKey struct{}

// WithRequestID stores a request id on ctx.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFromContext returns the request id stored on ctx, if any.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// NewEnvelope starts an envelope correlated with r's request id.
func NewEnvelope(r *http.Request, code, msg string) *gferrors.ErrorEnvelope {
	env := gferrors.NewErrorEnvelope(code, msg)
	if r != nil {
		env = env.WithCorrelationID(RequestIDFromContext(r.Context())).WithPath(r.URL.Path)
	}
	return env
}

// WriteEnvelope writes env with the given status.
func WriteEnvelope(w http.ResponseWriter, env *gferrors.ErrorEnvelope, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(HTTPErrorResponse{Error: bodyFrom(env)})
}

// WriteError writes an envelope with the given status. Flat details become
// envelope context; anything nested is carried as details.
func WriteError(w http.ResponseWriter, r *http.Request, status int, code, msg string, details map[string]any) {
	env := NewEnvelope(r, code, msg)
	if details != nil {
		if _, err := env.WithContext(details); err != nil {
			env.Context = nil
			env = env.WithDetails(details)
		}
	}
	WriteEnvelope(w, env, status)
}

// RespondWithError maps err onto an envelope. Errors that are not an
// *AppError become a 500 with the error text.
func RespondWithError(w http.ResponseWriter, r *http.Request, err error) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		msg := appErr.Message
		if appErr.Err != nil {
			msg = appErr.Error()
		}
		WriteError(w, r, appErr.Status, appErr.Code, msg, appErr.Details)
		return
	}
	WriteError(w, r, http.StatusInternalServerError, CodeInternal, err.Error(), nil)
}

// ExitError is returned by CLI commands that must exit with a specific code.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error { return e.Err }

// ExitCode returns the exit code carried by err, or fallback.
func ExitCode(err error, fallback int) int {
	var exitErr *ExitError
	if stderrors.As(err, &exitErr) {
		return exitErr.Code
	}
	return fallback
}
