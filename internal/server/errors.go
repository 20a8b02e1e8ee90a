package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	balancedomain "github.com/smallbiznis/aitime/internal/balance/domain"
	"github.com/smallbiznis/aitime/internal/billing"
	consumptiondomain "github.com/smallbiznis/aitime/internal/consumption/domain"
	trackingdomain "github.com/smallbiznis/aitime/internal/tracking/domain"
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
	Detail  any               `json:"detail,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrNotFound       = errors.New("not_found")
	ErrInvalidRequest = errors.New("invalid_request")
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

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if ie, ok := billing.IsInsufficientAITime(err); ok {
		return http.StatusPaymentRequired, errorPayload{
			Type:    "insufficient_ai_time",
			Message: ie.Error(),
			Detail:  ie,
		}
	}

	var bErr *billing.Error
	if errors.As(err, &bErr) {
		return billingErrorStatus(bErr.Code), errorPayload{
			Type:    strings.ToLower(string(bErr.Code)),
			Message: bErr.Message,
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	if isValidationError(err) {
		code := validationErrorCode(err)
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: "invalid value",
				},
			},
		}
	}

	switch {
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

func billingErrorStatus(code billing.ErrorCode) int {
	switch code {
	case billing.CodeInvalidTrackingID, billing.CodeInvalidOperationType:
		return http.StatusBadRequest
	case billing.CodeUserBalanceNotFound:
		return http.StatusNotFound
	case billing.CodeDBNotAvailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, balancedomain.ErrInvalidUser),
		errors.Is(err, balancedomain.ErrInvalidMinutes),
		errors.Is(err, balancedomain.ErrInvalidPurchaseSource),
		errors.Is(err, consumptiondomain.ErrInvalidUser),
		errors.Is(err, consumptiondomain.ErrInvalidBuildID),
		errors.Is(err, consumptiondomain.ErrInvalidOperationID),
		errors.Is(err, consumptiondomain.ErrInvalidDuration),
		errors.Is(err, trackingdomain.ErrInvalidUser),
		errors.Is(err, trackingdomain.ErrInvalidBuildID),
		errors.Is(err, trackingdomain.ErrInvalidStartedAt):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func validationErrorCode(err error) string {
	if errors.Is(err, ErrInvalidRequest) {
		return "invalid_request"
	}
	return err.Error()
}

func validationErrorField(code string) string {
	if code == "invalid_request" {
		return "request"
	}
	return strings.TrimPrefix(code, "invalid_")
}
