package handler

// RESPONSE HELPERS:
// These functions standardise how we send JSON responses and errors.
//
// WHY HELPERS?
// Without helpers, every handler repeats the same boilerplate:
//   w.Header().Set("Content-Type", "application/json")
//   w.WriteHeader(statusCode)
//   json.NewEncoder(w).Encode(data)
//
// With helpers, handlers are cleaner and more consistent:
//   writeJSON(w, http.StatusOK, data)
//   writeError(w, err)
//
// CONSISTENT ERROR FORMAT:
// Every error response from our API has the same shape:
//   {"error": "not_found", "message": "channel not found with id abc123"}
//
// The "error" field is one of the wire codes of apperror.Code, the same codes
// the WebSocket error frames use.
//
// This makes it easy for the frontend to parse errors: it always knows
// what fields to expect, regardless of whether it's a 400, 404, or 500.

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/sakif/chef-chat/internal/apperror"
)

// ErrorResponse is the standard error format returned by all API endpoints.
// Having a struct ensures consistent JSON shape across all error responses.
type ErrorResponse struct {
	Error   string `json:"error"`   // Machine-readable error type (e.g., "not_found")
	Message string `json:"message"` // Human-readable description
}

// writeJSON sends a JSON response with the given status code.
//
// HEADER ORDER MATTERS:
// You MUST set headers and status code BEFORE writing the body.
// Once you call w.Write() (which Encode does internally), the headers are sent.
// Any header changes after that are silently ignored.
//
// That's why we do:
//  1. w.Header().Set(...)     ← set headers
//  2. w.WriteHeader(status)   ← send status + headers
//  3. json.Encode(data)       ← send body
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			// If encoding fails, the headers are already sent; we can only log it.
			// This is rare (usually means the data has an unencodable type like a channel).
			slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

// maxJSONBody caps request bodies decoded by decodeJSON.
const maxJSONBody = 1 << 20

// writeError maps a domain error to the appropriate HTTP status code and sends it.
//
// ERROR MAPPING:
// This is where domain errors (from the service layer) get translated to HTTP.
// apperror.Code classifies the error; the status follows from the code:
//
//	unauthenticated  → 401
//	invalid_argument → 400
//	not_found        → 404
//	conflict         → 409
//	internal         → 500
//
// errors.Is() UNWRAPPING:
// Code uses errors.Is, which walks the entire error chain (via Unwrap()):
//
//	service returns: fmt.Errorf("service/chat: sendMessage: %w", apperror.NotFound(...))
//	which wraps:     AppError{Err: ErrNotFound, Message: "..."}
//	errors.Is walks: outer error → AppError → ErrNotFound ✓ match!
func writeError(w http.ResponseWriter, err error) {
	code := apperror.Code(err)
	if code == apperror.CodeInternal {
		// NEVER expose internal error details to the client.
		// The raw error message might contain SQL queries or file paths.
		slog.Error("request failed", slog.String("error", err.Error()))
	}

	writeJSON(w, statusFor(code), ErrorResponse{
		Error:   code,
		Message: apperror.PublicMessage(err),
	})
}

func statusFor(code string) int {
	switch code {
	case apperror.CodeUnauthenticated:
		return http.StatusUnauthorized // 401
	case apperror.CodeInvalidArgument:
		return http.StatusBadRequest // 400
	case apperror.CodeNotFound:
		return http.StatusNotFound // 404
	case apperror.CodeConflict:
		return http.StatusConflict // 409
	default:
		return http.StatusInternalServerError // 500
	}
}

// decodeJSON reads a JSON request body into dst. Malformed or oversized bodies
// are an invalid_argument error.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			return apperror.ValidationFailed("body", "request body too large")
		case errors.Is(err, io.EOF):
			return apperror.ValidationFailed("body", "request body is empty")
		default:
			return apperror.ValidationFailed("body", "invalid JSON body")
		}
	}
	return nil
}
