package validation

import "strings"

// FieldError represents a validation error on a specific field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

const maxFieldLength = 4096

// ExchangeRequest mirrors the fields needed for token exchange validation.
type ExchangeRequest struct {
	ExchangeRequestToken string
	ExchangeRequestID    string
}

// ValidateExchangeRequest validates the fields of a token exchange request.
func ValidateExchangeRequest(req ExchangeRequest) []FieldError {
	var errs []FieldError
	errs = appendRequired(errs, "exchangeRequestToken", req.ExchangeRequestToken)
	errs = appendRequired(errs, "exchangeRequestId", req.ExchangeRequestID)
	return errs
}

// StateRequest mirrors the fields needed for auth state validation.
type StateRequest struct {
	State string
}

// ValidateStateRequest validates the fields of an auth state request.
func ValidateStateRequest(req StateRequest) []FieldError {
	return appendRequired(nil, "state", req.State)
}

func appendRequired(errs []FieldError, field, value string) []FieldError {
	v := strings.TrimSpace(value)
	switch {
	case v == "":
		return append(errs, FieldError{Field: field, Message: field + " is required"})
	case len(v) > maxFieldLength:
		return append(errs, FieldError{Field: field, Message: field + " must be at most 4096 characters"})
	}
	return errs
}
