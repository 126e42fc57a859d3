// Package respond provides utilities for sending HTTP responses in JSON format.
// It includes error handling with sanitization to prevent leaking sensitive information.
package respond

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
)

// JSON writes a JSON response with the given status code and data.
func JSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Headers are already sent; nothing left to do but log.
		slog.Default().Error("failed to encode JSON response",
			slog.Int("status_code", code),
			slog.Any("error", err))
	}
}

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// AppError is an error type that carries a user-facing message.
type AppError struct {
	UserMsg string // Message to display to users
	Err     error  // Internal error (logged for debugging)
	Code    int    // HTTP status code
}

// Error returns the error message, implementing the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.UserMsg
}

// Unwrap returns the underlying error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError creates a new AppError with the given parameters.
func NewAppError(code int, userMsg string, err error) *AppError {
	return &AppError{Code: code, UserMsg: userMsg, Err: err}
}

// NotFound is shorthand for a 404 AppError.
func NotFound(userMsg string) *AppError {
	return &AppError{Code: http.StatusNotFound, UserMsg: userMsg}
}

// BadRequest is shorthand for a 400 AppError.
func BadRequest(userMsg string, err error) *AppError {
	return &AppError{Code: http.StatusBadRequest, UserMsg: userMsg, Err: err}
}

// Status returns the HTTP status code err maps to.
func Status(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.Code != 0 {
		return appErr.Code
	}
	return http.StatusInternalServerError
}

// Error writes err as a JSON error response.
//
// An *AppError anywhere in the chain contributes its status code and user
// message. Anything else is reported as a generic 500 and logged with secrets
// masked, so internal details never reach the client.
func Error(w http.ResponseWriter, requestID string, err error) {
	if err == nil {
		return
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		code := Status(err)
		if appErr.Err != nil || code >= http.StatusInternalServerError {
			slog.Default().Error("application error",
				slog.String("request_id", requestID),
				slog.Int("code", code),
				slog.String("user_message", appErr.UserMsg),
				slog.String("error", SanitizeError(err)))
		}
		msg := appErr.UserMsg
		if msg == "" {
			msg = http.StatusText(code)
		}
		JSON(w, code, ErrorBody{Error: msg, RequestID: requestID})
		return
	}

	slog.Default().Error("internal server error",
		slog.String("request_id", requestID),
		slog.String("error", SanitizeError(err)))
	JSON(w, http.StatusInternalServerError, ErrorBody{Error: "internal server error", RequestID: requestID})
}
