// Package apperr defines the domain error taxonomy: typed errors with a
// stable string code and the HTTP status they map to at the API boundary.
package apperr

import (
	"errors"
	"net/http"
)

// Error is a domain error with a stable code. Two Errors match under
// errors.Is when their codes are equal, so wrapped copies with a more
// specific message still match the sentinel.
type Error struct {
	Code    string `json:"code"`
	Status  int    `json:"-"`
	Message string `json:"message"`
}

func (e *Error) Error() string { return e.Message }

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// New creates a domain error.
func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// With returns a copy of e carrying a more specific message.
func (e *Error) With(message string) *Error {
	return &Error{Code: e.Code, Status: e.Status, Message: message}
}

var (
	// Business-rule conflicts.
	ErrReservationLimit = New("RESERVATION_LIMIT_EXCEEDED", http.StatusConflict, "seller has too many reserved broadcasts")
	ErrSlotFull         = New("SLOT_FULL", http.StatusConflict, "time slot has no remaining capacity")
	ErrInvalidStatus    = New("INVALID_STATUS", http.StatusConflict, "operation not allowed in current broadcast status")
	ErrBeforeSchedule   = New("BEFORE_SCHEDULED_TIME", http.StatusConflict, "broadcast cannot start before its scheduled time")
	ErrBroadcastStopped = New("BROADCAST_STOPPED", http.StatusConflict, "broadcast was stopped by an administrator")
	ErrReservationBusy  = New("RESERVATION_BUSY", http.StatusConflict, "another reservation for this seller is in progress")

	// Not found.
	ErrBroadcastNotFound = New("BROADCAST_NOT_FOUND", http.StatusNotFound, "broadcast not found")
	ErrProductNotFound   = New("PRODUCT_NOT_FOUND", http.StatusNotFound, "broadcast product not found")
	ErrCategoryNotFound  = New("CATEGORY_NOT_FOUND", http.StatusNotFound, "category not found")
	ErrSellerNotFound    = New("SELLER_NOT_FOUND", http.StatusNotFound, "seller not found")
	ErrResultNotFound    = New("RESULT_NOT_FOUND", http.StatusNotFound, "broadcast result not found")

	// Permission.
	ErrForbidden    = New("FORBIDDEN", http.StatusForbidden, "actor is not allowed to perform this operation")
	ErrViewerBanned = New("VIEWER_BANNED", http.StatusForbidden, "viewer is under a forced-exit sanction for this broadcast")

	// Validation.
	ErrInvalidRequest = New("INVALID_REQUEST", http.StatusBadRequest, "invalid request")
	ErrReasonRequired = New("REASON_REQUIRED", http.StatusBadRequest, "a non-blank reason is required")

	// Upstream provider.
	ErrOpenVidu = New("OPENVIDU_ERROR", http.StatusBadGateway, "media session provider request failed")
)

var internal = New("INTERNAL", http.StatusInternalServerError, "internal server error")

// From extracts the domain error from err, or returns a generic internal error.
func From(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return internal
}
