package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/tierlist-core/internal/auth"
	"github.com/nerrad567/tierlist-core/internal/tierlist"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes.
const (
	ErrCodeBadRequest      = "bad_request"
	ErrCodeNotFound        = "not_found"
	ErrCodeUnauthorized    = "unauthorised"
	ErrCodeForbidden       = "forbidden"
	ErrCodeConflict        = "conflict"
	ErrCodeInternal        = "internal_error"
	ErrCodeValidation      = "validation_error"
	ErrCodeTooManyRequests = "rate_limited"
)

// msgUnauthorised is the single body for every token or credential failure,
// so clients cannot tell a bad token from a missing one or an unknown user
// from a wrong password.
const (
	msgUnauthorised       = "authentication required"
	msgInvalidCredentials = "invalid username or password"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

func writeValidationError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeValidation, message)
}

func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

func writeForbidden(w http.ResponseWriter, message string) {
	writeError(w, http.StatusForbidden, ErrCodeForbidden, message)
}

func writeConflict(w http.ResponseWriter, message string) {
	writeError(w, http.StatusConflict, ErrCodeConflict, message)
}

func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeAuthzError maps a Policy denial to 401 or 403.
func writeAuthzError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, auth.ErrUnauthenticated):
		writeUnauthorized(w, msgUnauthorised)
	case errors.Is(err, auth.ErrSelfModification):
		writeForbidden(w, "cannot perform this action on your own account")
	default:
		writeForbidden(w, "insufficient permissions")
	}
}

// validationErrors are domain errors reported as 400 validation_error.
var validationErrors = []error{
	tierlist.ErrInvalidName,
	tierlist.ErrInvalidDescription,
	tierlist.ErrInvalidColor,
	tierlist.ErrInvalidRank,
	tierlist.ErrInvalidImageURL,
	auth.ErrInvalidRole,
}

// writeDomainError maps repository and validation errors to responses.
// It reports whether err was recognised; unrecognised errors are left to
// the caller, which logs them and writes a 500.
func writeDomainError(w http.ResponseWriter, err error) bool {
	for _, v := range validationErrors {
		if errors.Is(err, v) {
			writeValidationError(w, err.Error())
			return true
		}
	}

	switch {
	case errors.Is(err, auth.ErrUserNotFound), errors.Is(err, tierlist.ErrOwnerNotFound):
		writeNotFound(w, "user not found")
	case errors.Is(err, tierlist.ErrTierNotFound):
		writeNotFound(w, "tier not found")
	case errors.Is(err, tierlist.ErrItemNotFound):
		writeNotFound(w, "item not found")
	case errors.Is(err, auth.ErrUsernameExists),
		errors.Is(err, auth.ErrEmailExists),
		errors.Is(err, tierlist.ErrTierNameExists),
		errors.Is(err, tierlist.ErrTierHasItems):
		writeConflict(w, err.Error())
	case errors.Is(err, auth.ErrUnauthenticated), errors.Is(err, auth.ErrForbidden):
		writeAuthzError(w, err)
	default:
		return false
	}
	return true
}
