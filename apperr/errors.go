package apperr

import (
	"errors"
	"net/http"
)

var (
	// ErrInvalid is returned when the input fails validation.
	ErrInvalid = errors.New("invalid input")
	// ErrNotFound indicates that the requested resource does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict indicates a state conflict (HTTP 409).
	ErrConflict = errors.New("conflict")
	// ErrAlreadyAccepted is returned to every courier that loses the accept race.
	ErrAlreadyAccepted = errors.New("assignment already accepted")
	// ErrUnauthorized means the caller has no valid session.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden means the caller is authenticated but not allowed.
	ErrForbidden = errors.New("forbidden")
	// ErrExpired marks an offer or code that outlived its horizon.
	ErrExpired = errors.New("expired")
	// ErrInvalidCode is returned for a wrong delivery code; the code stays valid.
	ErrInvalidCode = errors.New("invalid delivery code")
	// ErrNotConnected is returned by emits while the realtime channel is down.
	ErrNotConnected = errors.New("not connected")
)

// HTTPStatus maps an error to the status code the REST layer answers with.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrInvalid), errors.Is(err, ErrInvalidCode):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrAlreadyAccepted), errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrExpired):
		return http.StatusGone
	default:
		return http.StatusInternalServerError
	}
}

// Code is the machine-readable code sent next to the message in error bodies.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrInvalidCode):
		return "INVALID_CODE"
	case errors.Is(err, ErrInvalid):
		return "INVALID_INPUT"
	case errors.Is(err, ErrUnauthorized):
		return "UNAUTHORIZED"
	case errors.Is(err, ErrForbidden):
		return "FORBIDDEN"
	case errors.Is(err, ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, ErrAlreadyAccepted):
		return "ALREADY_ACCEPTED"
	case errors.Is(err, ErrConflict):
		return "CONFLICT"
	case errors.Is(err, ErrExpired):
		return "EXPIRED"
	default:
		return "INTERNAL_ERROR"
	}
}

// FromCode restores the sentinel behind a code produced by Code.
// Unknown codes fall back to the status-based sentinel.
func FromCode(code string, status int) error {
	switch code {
	case "INVALID_CODE":
		return ErrInvalidCode
	case "INVALID_INPUT":
		return ErrInvalid
	case "UNAUTHORIZED":
		return ErrUnauthorized
	case "FORBIDDEN":
		return ErrForbidden
	case "NOT_FOUND":
		return ErrNotFound
	case "ALREADY_ACCEPTED":
		return ErrAlreadyAccepted
	case "CONFLICT":
		return ErrConflict
	case "EXPIRED":
		return ErrExpired
	}
	switch status {
	case http.StatusBadRequest:
		return ErrInvalid
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusConflict:
		return ErrConflict
	case http.StatusGone:
		return ErrExpired
	}
	return nil
}
