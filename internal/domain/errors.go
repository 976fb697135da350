package domain

import (
	"errors"
	"fmt"
)

// Error codes carried by AppError.
const (
	CodeNotFound          = "NOT_FOUND"
	CodeConflict          = "CONFLICT"
	CodeValidation        = "VALIDATION_ERROR"
	CodeUnauthorized      = "UNAUTHORIZED"
	CodeForbidden         = "FORBIDDEN"
	CodeInsufficientFunds = "INSUFFICIENT_FUNDS"
	CodeUnknownPayment    = "UNKNOWN_PAYMENT"
	CodeInvalidState      = "INVALID_STATE"
	CodeAuthentication    = "AUTHENTICATION_FAILURE"
	CodeTimeout           = "TIMEOUT"
	CodeRateLimited       = "RATE_LIMITED"
	CodeUnavailable       = "UNAVAILABLE"
	CodeMalformedResponse = "MALFORMED_RESPONSE"
	CodeProviderRejected  = "PROVIDER_REJECTED"
	CodeInternal          = "INTERNAL_ERROR"
)

// AppError is the base domain error type.
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
	Cause   error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error { return e.Cause }

// Standard domain error constructors.

func ErrNotFound(entity, id string) *AppError {
	return &AppError{Code: CodeNotFound, Message: fmt.Sprintf("%s %s not found", entity, id), Status: 404}
}

func ErrConflict(msg string) *AppError {
	return &AppError{Code: CodeConflict, Message: msg, Status: 409}
}

func ErrValidation(msg string) *AppError {
	return &AppError{Code: CodeValidation, Message: msg, Status: 400}
}

func ErrUnauthorized(msg string) *AppError {
	return &AppError{Code: CodeUnauthorized, Message: msg, Status: 401}
}

func ErrForbidden(msg string) *AppError {
	return &AppError{Code: CodeForbidden, Message: msg, Status: 403}
}

func ErrInsufficientFunds() *AppError {
	return &AppError{Code: CodeInsufficientFunds, Message: "insufficient funds", Status: 422}
}

func ErrUnknownPayment(paymentID string) *AppError {
	return &AppError{Code: CodeUnknownPayment, Message: fmt.Sprintf("unknown payment %s", paymentID), Status: 404}
}

func ErrInvalidState(entity, id, current string) *AppError {
	return &AppError{
		Code:    CodeInvalidState,
		Message: fmt.Sprintf("%s %s is %s", entity, id, current),
		Status:  409,
	}
}

func ErrAuthenticationFailure(msg string) *AppError {
	return &AppError{Code: CodeAuthentication, Message: msg, Status: 400}
}

func ErrTimeout(op string, cause error) *AppError {
	return &AppError{Code: CodeTimeout, Message: op + " timed out", Status: 504, Cause: cause}
}

func ErrRateLimited(op string) *AppError {
	return &AppError{Code: CodeRateLimited, Message: op + " rate limited", Status: 503}
}

func ErrUnavailable(op string, cause error) *AppError {
	return &AppError{Code: CodeUnavailable, Message: op + " unavailable", Status: 503, Cause: cause}
}

func ErrMalformedResponse(msg string) *AppError {
	return &AppError{Code: CodeMalformedResponse, Message: msg, Status: 400}
}

// ErrProviderRejected covers non-retryable processor refusals (401/403, bad request).
func ErrProviderRejected(op string, httpStatus int) *AppError {
	return &AppError{
		Code:    CodeProviderRejected,
		Message: fmt.Sprintf("%s rejected with status %d", op, httpStatus),
		Status:  502,
	}
}

func ErrInternal(msg string, cause error) *AppError {
	return &AppError{Code: CodeInternal, Message: msg, Status: 500, Cause: cause}
}

// HasCode reports whether err is (or wraps) an AppError with the given code.
func HasCode(err error, code string) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// IsRetryable reports whether err is a transient failure worth retrying later.
func IsRetryable(err error) bool {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		return false
	}
	switch appErr.Code {
	case CodeTimeout, CodeRateLimited, CodeUnavailable:
		return true
	}
	return false
}

const (
	msgTryLater = "The payment service is temporarily unavailable. Please try again later."
	msgApology  = "Sorry, something went wrong. Please contact support if the problem persists."
)

// UserMessage maps an error to text safe to show an end user.
func UserMessage(err error) string {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		return msgApology
	}
	switch appErr.Code {
	case CodeInsufficientFunds, CodeValidation, CodeInvalidState:
		return appErr.Message
	case CodeTimeout, CodeRateLimited, CodeUnavailable:
		return msgTryLater
	}
	return msgApology
}
