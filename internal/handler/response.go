package handler

// RESPONSE HELPERS:
// These functions standardise how we send JSON responses and errors.
//
// CONSISTENT ERROR FORMAT:
// Every error response from our API has the same shape:
//   {"error": "account_not_found", "message": "Account not found. Please create a new account."}
//
// "error" is a stable machine-readable code. "message" is meant for people
// and follows the request's Accept-Language (Japanese or English).

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/sakif/checkinn/internal/apperror"
	"github.com/sakif/checkinn/internal/locale"
)

// maxBodyBytes caps request bodies. Stays and credentials are tiny.
const maxBodyBytes = 1 << 20

// ErrorResponse is the standard error format returned by all API endpoints.
type ErrorResponse struct {
	Error   string `json:"error"`   // Machine-readable code (e.g., "not_found", "invalid_credentials")
	Message string `json:"message"` // Human-readable, localized description
	Field   string `json:"field,omitempty"`
}

// writeJSON sends a JSON response with the given status code.
//
// HEADER ORDER MATTERS:
// Headers and status must be set before the body; once Encode writes,
// later header changes are silently ignored.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

// writeError maps a domain error to the appropriate HTTP status code and sends it.
//
// ERROR MAPPING:
//
//	ErrValidation   → 400
//	ErrUnauthorized → 401
//	ErrForbidden    → 403
//	ErrNotFound     → 404
//	ErrConflict     → 409
//	anything else   → 500, with a generic message
//
// errors.Is walks the wrap chain, so a service error wrapped with
// fmt.Errorf("...: %w", appErr) still maps correctly.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	lang := requestLanguage(r)

	var appErr *apperror.AppError
	if !errors.As(err, &appErr) {
		// NEVER expose internal error details to the client: they may contain
		// file paths, bucket names or SQL.
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: apperror.Localize(err, lang),
		})
		return
	}

	status, errorType := http.StatusInternalServerError, "internal_error"
	switch {
	case errors.Is(err, apperror.ErrValidation):
		status, errorType = http.StatusBadRequest, "validation_error"
	case errors.Is(err, apperror.ErrUnauthorized):
		status, errorType = http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, apperror.ErrForbidden):
		status, errorType = http.StatusForbidden, "forbidden"
	case errors.Is(err, apperror.ErrNotFound):
		status, errorType = http.StatusNotFound, "not_found"
	case errors.Is(err, apperror.ErrConflict):
		status, errorType = http.StatusConflict, "conflict"
	}
	if appErr.Code != "" {
		errorType = appErr.Code
	}

	writeJSON(w, status, ErrorResponse{
		Error:   errorType,
		Message: apperror.Localize(err, lang),
		Field:   appErr.Field,
	})
}

// decodeJSON reads a JSON body into dst. Unknown fields are rejected so
// typos in field names surface as 400s instead of silently empty values.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return apperror.ValidationFailed("body", fmt.Sprintf("invalid JSON body: %v", err))
	}
	return nil
}

func requestLanguage(r *http.Request) locale.Language {
	return locale.FromAcceptLanguage(r.Header.Get("Accept-Language"))
}

// logFailure logs expected rejections (wrong password, bad date) at Info
// and everything else at Error.
func logFailure(logger *slog.Logger, action string, err error) {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		logger.Info(action+" rejected", slog.String("code", appErr.Code), slog.String("message", appErr.Message))
		return
	}
	logger.Error(action+" failed", slog.String("error", err.Error()))
}
