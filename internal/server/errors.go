package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	apikeydomain "github.com/smallbiznis/valkyrie/internal/apikey/domain"
	authdomain "github.com/smallbiznis/valkyrie/internal/auth/domain"
	"github.com/smallbiznis/valkyrie/internal/auth/password"
	"github.com/smallbiznis/valkyrie/internal/authorization"
	billingdomain "github.com/smallbiznis/valkyrie/internal/billing/domain"
	"github.com/smallbiznis/valkyrie/internal/gateway"
	geofencedomain "github.com/smallbiznis/valkyrie/internal/geofence/domain"
	"github.com/smallbiznis/valkyrie/internal/geometry"
	"github.com/smallbiznis/valkyrie/internal/orderclient"
	partnerdomain "github.com/smallbiznis/valkyrie/internal/partner/domain"
	"github.com/smallbiznis/valkyrie/internal/ratelimit"
	usagedomain "github.com/smallbiznis/valkyrie/internal/usage/domain"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
	Details map[string]any    `json:"details,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrConflict           = errors.New("conflict")
	ErrInternal           = errors.New("internal_error")
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrTooManyRequests    = errors.New("too_many_requests")
	ErrServiceUnavailable = errors.New("service_unavailable")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		if status == http.StatusTooManyRequests {
			if retry, ok := payload.Details["retry_after"].(int64); ok {
				c.Header("Retry-After", strconv.FormatInt(retry, 10))
			}
		}
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

// bindError turns a gin binding failure into field-level validation errors.
func bindError(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return invalidRequestError()
	}
	out := &ValidationErrors{}
	for _, fe := range fieldErrs {
		out.Errors = append(out.Errors, ValidationError{
			Field:   fe.Field(),
			Code:    "invalid_" + fe.Field(),
			Message: fieldMessage(fe),
		})
	}
	return out
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "metric":
		return "must be one of orders, api_calls, km, drivers"
	case "period":
		return "must be daily or monthly"
	case "month":
		return "must be a month in YYYY-MM form"
	case "oneof":
		return "must be one of " + fe.Param()
	case "email":
		return "must be an email address"
	default:
		return "invalid value"
	}
}

var validationSentinels = []error{
	ErrInvalidRequest,
	gateway.ErrInvalidLocation,
	geometry.ErrInvalidGeometry,
	geofencedomain.ErrInvalidName,
	geofencedomain.ErrInvalidSource,
	geofencedomain.ErrInvalidPartner,
	geofencedomain.ErrGeometryRequired,
	geofencedomain.ErrInvalidCoordinates,
	partnerdomain.ErrInvalidName,
	partnerdomain.ErrInvalidStatus,
	partnerdomain.ErrInvalidRateLimit,
	partnerdomain.ErrInvalidPlan,
	usagedomain.ErrInvalidPartner,
	usagedomain.ErrInvalidMetric,
	usagedomain.ErrInvalidPeriod,
	usagedomain.ErrInvalidAmount,
	usagedomain.ErrInvalidRange,
	usagedomain.ErrInvalidReason,
	apikeydomain.ErrInvalidPartner,
	authdomain.ErrInvalidEmail,
	authdomain.ErrInvalidRole,
	authdomain.ErrInvalidPartner,
	authdomain.ErrInvalidInvite,
	password.ErrWeakPassword,
	billingdomain.ErrInvalidPeriod,
	billingdomain.ErrInvalidPartner,
	billingdomain.ErrInvalidPaidDate,
	billingdomain.ErrInvalidStatus,
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	var geomErr *geometry.ValidationError
	if errors.As(err, &geomErr) {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{Field: "geometry", Code: "invalid_geometry", Message: geomErr.Reason},
			},
		}
	}

	if code, ok := validationErrorCode(err); ok {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: validationErrorMessage(code),
				},
			},
		}
	}

	var outOfBounds *geofencedomain.OutOfBoundsError
	if errors.As(err, &outOfBounds) {
		return http.StatusUnprocessableEntity, errorPayload{
			Type:    "geometry_out_of_bounds",
			Message: outOfBounds.Error(),
			Details: map[string]any{"geometry": outOfBounds.Geometry},
		}
	}

	var outside *gateway.OutsideZoneError
	if errors.As(err, &outside) {
		return http.StatusConflict, errorPayload{
			Type:    "order_outside_zone",
			Message: "delivery point is outside every active zone",
			Details: map[string]any{"latitude": outside.Lat, "longitude": outside.Lng},
		}
	}

	var limited *ratelimit.LimitedError
	if errors.As(err, &limited) {
		return http.StatusTooManyRequests, errorPayload{
			Type:    "rate_limited",
			Message: "rate limit exceeded",
			Details: map[string]any{
				"retry_after": limited.RetryAfterSeconds(),
				"limit":       limited.Limit,
			},
		}
	}

	switch {
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, authdomain.ErrUnauthenticated),
		errors.Is(err, authorization.ErrUnauthenticated),
		errors.Is(err, apikeydomain.ErrInvalidKey):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthenticated",
			Message: "unauthenticated",
		}
	case errors.Is(err, ErrForbidden),
		errors.Is(err, authorization.ErrForbidden),
		errors.Is(err, authdomain.ErrForbidden),
		errors.Is(err, geofencedomain.ErrForbidden):
		return http.StatusForbidden, errorPayload{
			Type:    "forbidden",
			Message: "forbidden",
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, billingdomain.ErrInvalidTransition):
		return http.StatusConflict, errorPayload{
			Type:    "invalid_transition",
			Message: "invoice cannot move to the requested status",
		}
	case errors.Is(err, ErrConflict),
		errors.Is(err, geofencedomain.ErrVersionConflict),
		errors.Is(err, partnerdomain.ErrDuplicateName),
		errors.Is(err, authdomain.ErrUserExists),
		errors.Is(err, usagedomain.ErrNegativeBalance),
		errors.Is(err, billingdomain.ErrPeriodOpen):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: conflictMessage(err),
		}
	case errors.Is(err, ErrTooManyRequests):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "rate_limited",
			Message: "too many requests",
			Details: map[string]any{"retry_after": int64(1)},
		}
	case errors.Is(err, gateway.ErrForwardFailed),
		errors.Is(err, orderclient.ErrUpstream):
		return http.StatusBadGateway, errorPayload{
			Type:    "forward_failed",
			Message: "upstream service unavailable",
		}
	case errors.Is(err, ErrServiceUnavailable),
		errors.Is(err, orderclient.ErrNotConfigured),
		errors.Is(err, authdomain.ErrAuthNotConfigured):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "service unavailable",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

// classifyErrorForLog feeds the request logger the same taxonomy clients see.
func classifyErrorForLog(err error) (string, string) {
	status, payload := mapError(err)
	return payload.Type, strconv.Itoa(status)
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func validationErrorCode(err error) (string, bool) {
	for _, sentinel := range validationSentinels {
		if errors.Is(err, sentinel) {
			return sentinel.Error(), true
		}
	}
	return "", false
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, partnerdomain.ErrNotFound),
		errors.Is(err, geofencedomain.ErrNotFound),
		errors.Is(err, billingdomain.ErrNotFound),
		errors.Is(err, apikeydomain.ErrNotFound),
		errors.Is(err, authdomain.ErrUserNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func conflictMessage(err error) string {
	switch {
	case errors.Is(err, geofencedomain.ErrVersionConflict):
		return "zone was modified concurrently"
	case errors.Is(err, billingdomain.ErrPeriodOpen):
		return "billing period has not ended"
	case errors.Is(err, usagedomain.ErrNegativeBalance):
		return "correction would make usage negative"
	default:
		return "conflict"
	}
}

func validationErrorField(code string) string {
	switch code {
	case "invalid_request":
		return "request"
	case "geometry_required", "invalid_geometry", "invalid_coordinates":
		return "geometry"
	case "invalid_location":
		return "location"
	case "weak_password":
		return "password"
	}
	if strings.HasPrefix(code, "invalid_") {
		return strings.TrimPrefix(code, "invalid_")
	}
	return ""
}

func validationErrorMessage(code string) string {
	switch code {
	case "invalid_request":
		return "invalid request"
	case "geometry_required":
		return "geometry is required"
	case "weak_password":
		return "password is too short"
	default:
		return "invalid value"
	}
}
