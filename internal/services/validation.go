package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
	"github.com/zagdebate/backend/internal/apperr"
)

// ErrorResponse represents error response structure
type ErrorResponse struct {
	Error     string            `json:"error"`             // Error message
	Code      string            `json:"code,omitempty"`    // Stable machine-readable code
	Retryable bool              `json:"retryable"`         // Whether the client may retry
	Details   map[string]string `json:"details,omitempty"` // Validation details
}

// ValidationHelper provides shared validation functionality
type ValidationHelper struct {
	validator *validator.Validate
}

// NewValidationHelper creates a new validation helper
func NewValidationHelper() *ValidationHelper {
	return &ValidationHelper{
		validator: validator.New(),
	}
}

// ValidateStruct validates a struct and returns validation errors
func (vh *ValidationHelper) ValidateStruct(s any) error {
	return vh.validator.Struct(s)
}

// SendErrorResponse sends a JSON error response
func SendErrorResponse(w http.ResponseWriter, message string, statusCode int, validationErr error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	errorResp := ErrorResponse{Error: message}
	var verrs validator.ValidationErrors
	if errors.As(validationErr, &verrs) {
		errorResp.Code = "validation_failed"
		errorResp.Details = make(map[string]string)
		for _, err := range verrs {
			errorResp.Details[err.Field()] = fmt.Sprintf("Field Validation Failed on '%s' tag", err.Tag())
		}
	}

	json.NewEncoder(w).Encode(errorResp)
}

// SendAppError writes a classified error. Invariant violations are logged at
// error level with the full cause and reported to the client generically.
func SendAppError(w http.ResponseWriter, err error) {
	e := apperr.From(err)
	status := e.Kind.Status()

	resp := ErrorResponse{
		Error:     e.Detail,
		Code:      e.Code,
		Retryable: e.Retryable(),
	}
	switch e.Kind {
	case apperr.KindInvariant:
		log.Error().Err(err).Str("module", "http").Str("code", e.Code).Msg("invariant violation")
		resp.Error = "internal server error"
	case apperr.KindRetryable:
		w.Header().Set("Retry-After", strconv.Itoa(1))
	default:
		// Causes stay in the log; they can carry driver or upstream text.
		if e.Err != nil {
			log.Debug().Err(e.Err).Str("module", "http").Str("code", e.Code).Msg("request failed")
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}
