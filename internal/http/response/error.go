package response

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/rezkam/flow7/internal/domain"
)

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error information.
type ErrorDetail struct {
	Code    string   `json:"code"`
	Message string   `json:"message"`
	Field   string   `json:"field,omitempty"`
	PlanIDs []string `json:"plan_ids,omitempty"`
	Limit   string   `json:"limit_date,omitempty"`
}

// BadRequest sends a 400 Bad Request error.
func BadRequest(w http.ResponseWriter, message string) {
	Error(w, "INVALID_REQUEST", message, http.StatusBadRequest)
}

// ValidationError sends a 400 validation error naming the failing field.
func ValidationError(w http.ResponseWriter, field, issue string) {
	write(w, http.StatusBadRequest, ErrorDetail{
		Code:    "VALIDATION_ERROR",
		Message: issue,
		Field:   field,
	})
}

// NotFound sends a 404 Not Found error.
func NotFound(w http.ResponseWriter, resource string) {
	Error(w, "NOT_FOUND", resource+" not found", http.StatusNotFound)
}

// Unauthorized sends a 401 Unauthorized error.
func Unauthorized(w http.ResponseWriter, message string) {
	Error(w, "UNAUTHORIZED", message, http.StatusUnauthorized)
}

// Forbidden sends a 403 Forbidden error.
func Forbidden(w http.ResponseWriter, message string) {
	Error(w, "FORBIDDEN", message, http.StatusForbidden)
}

// InternalError sends a 500. The underlying error is logged server-side
// only.
func InternalError(w http.ResponseWriter, r *http.Request, err error) {
	if err != nil {
		slog.ErrorContext(r.Context(), "internal server error", "error", err)
	}
	Error(w, "INTERNAL_ERROR", "an internal error occurred", http.StatusInternalServerError)
}

// Error sends a generic error response.
func Error(w http.ResponseWriter, code, message string, statusCode int) {
	write(w, statusCode, ErrorDetail{Code: code, Message: message})
}

func write(w http.ResponseWriter, statusCode int, detail ErrorDetail) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponse{Error: detail})
}

// FromDomainError maps domain errors to HTTP responses.
func FromDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		conflict  *domain.ConflictError
		tierLimit *domain.TierLimitError
	)
	switch {
	// Validation errors (400)
	case errors.Is(err, domain.ErrTitleRequired):
		ValidationError(w, "title", "required field missing")
	case errors.Is(err, domain.ErrTitleTooLong):
		ValidationError(w, "title", "must be 100 characters or less")
	case errors.Is(err, domain.ErrDescriptionTooLong):
		ValidationError(w, "description", "must be 500 characters or less")
	case errors.Is(err, domain.ErrInvalidDate):
		ValidationError(w, "date", "must be YYYY-MM-DD")
	case errors.Is(err, domain.ErrInvalidTime):
		ValidationError(w, "time", "must be HH:MM")
	case errors.Is(err, domain.ErrInvalidTimeRange):
		ValidationError(w, "end_time", "must be after start_time")
	case errors.Is(err, domain.ErrInvalidRange):
		ValidationError(w, "range", "from must not be after to")
	case errors.Is(err, domain.ErrInvalidTimezone):
		ValidationError(w, "timezone", "unknown IANA zone")
	case errors.Is(err, domain.ErrInvalidSubscription):
		ValidationError(w, "level", "must be FREE, PRO or ULTRA")
	case errors.Is(err, domain.ErrTokenRequired):
		ValidationError(w, "token", "required field missing")

	// Conflict with existing plans (409), collider ids included so the
	// client can offer a force retry.
	case errors.As(err, &conflict):
		write(w, http.StatusConflict, ErrorDetail{
			Code:    "PLAN_CONFLICT",
			Message: "plan overlaps existing plans",
			PlanIDs: conflict.PlanIDs,
		})

	// Tier horizon exceeded (403).
	case errors.As(err, &tierLimit):
		write(w, http.StatusForbidden, ErrorDetail{
			Code:    "TIER_LIMIT",
			Message: "date exceeds the " + string(tierLimit.Level) + " planning horizon",
			Limit:   tierLimit.LimitDate.String(),
		})

	// Not found (404)
	case errors.Is(err, domain.ErrPlanNotFound):
		NotFound(w, "plan")
	case errors.Is(err, domain.ErrDeviceNotFound):
		NotFound(w, "device")
	case errors.Is(err, domain.ErrSettingsNotFound):
		NotFound(w, "settings")

	// Auth (401 / 403)
	case errors.Is(err, domain.ErrUnauthenticated):
		Unauthorized(w, "invalid or missing bearer token")
	case errors.Is(err, domain.ErrForbidden):
		Forbidden(w, "plan belongs to another user")

	// Unknown errors (500), logged server-side with a generic body.
	default:
		InternalError(w, r, err)
	}
}
