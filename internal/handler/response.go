package handler

// RESPONSE HELPERS:
// Every handler answers through writeJSON and Responder.Error, so all
// responses share one shape.
//
// CONSISTENT ERROR FORMAT:
//
//	{"code": "not_found", "message": "project not found with id abc123"}
//
// Validation failures add "fields" (field → message). With DEBUG=true a
// "detail" field carries the full error chain; it is never sent otherwise.

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/sakif/teamspace/internal/apperror"
)

// ErrorResponse is the standard error body returned by all endpoints.
type ErrorResponse struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Field   string            `json:"field,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
	Detail  string            `json:"detail,omitempty"`
}

// MessageResponse is the body of endpoints that only confirm an action.
type MessageResponse struct {
	Message string `json:"message"`
}

// writeJSON sends a JSON response with the given status code.
//
// HEADER ORDER MATTERS:
// Headers and status must be set before the body; once Encode writes, any
// header change is silently ignored.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			// Headers are already sent; all we can do is log.
			slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

// Responder is the single place where errors become HTTP statuses.
type Responder struct {
	logger *slog.Logger
	debug  bool
}

func NewResponder(logger *slog.Logger, debug bool) *Responder {
	return &Responder{logger: logger, debug: debug}
}

// errorKinds maps each apperror kind to its status and body code.
var errorKinds = []struct {
	kind   error
	status int
	code   string
}{
	{apperror.ErrValidation, http.StatusBadRequest, "validation_error"},
	{apperror.ErrInvalidToken, http.StatusBadRequest, "invalid_token"},
	{apperror.ErrUnauthorized, http.StatusUnauthorized, "unauthorized"},
	{apperror.ErrForbidden, http.StatusForbidden, "forbidden"},
	{apperror.ErrNotFound, http.StatusNotFound, "not_found"},
	{apperror.ErrConflict, http.StatusConflict, "conflict"},
	{apperror.ErrRateLimited, http.StatusTooManyRequests, "rate_limited"},
}

// Error maps a domain error to its HTTP status and writes the error body.
//
// errors.As finds the *AppError anywhere in the chain, so services can wrap
// freely with fmt.Errorf("...: %w", err). Errors without a known kind are
// logged with full detail and answered with a generic 500.
func (rs *Responder) Error(w http.ResponseWriter, r *http.Request, err error) {
	resp := ErrorResponse{Code: "internal_error", Message: "An internal error occurred"}
	status := http.StatusInternalServerError

	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		for _, k := range errorKinds {
			if errors.Is(err, k.kind) {
				status, resp.Code = k.status, k.code
				resp.Message = appErr.Message
				resp.Field = appErr.Field
				break
			}
		}
	}

	var invalid *invalidRequest
	if errors.As(err, &invalid) {
		resp.Fields = invalid.fields
	}

	if status >= http.StatusInternalServerError {
		rs.logger.Error("request failed",
			slog.String("requestID", chimw.GetReqID(r.Context())),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
	}
	if rs.debug {
		resp.Detail = err.Error()
	}

	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer realm="teamspace"`)
	}
	writeJSON(w, status, resp)
}
