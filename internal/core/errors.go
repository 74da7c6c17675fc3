package core

import (
	"errors"
	"fmt"
)

// Kind classifies an error for the transport layer.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	KindConflict
	KindForbidden
	KindUnauthorized
	KindUpstream
	KindNotImplemented
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindForbidden:
		return "forbidden"
	case KindUnauthorized:
		return "unauthorized"
	case KindUpstream:
		return "upstream"
	case KindNotImplemented:
		return "not_implemented"
	default:
		return "internal"
	}
}

// Error codes surfaced to API clients.
const (
	CodeInvalidItems         = "INVALID_ITEMS"
	CodeInvalidShipping      = "INVALID_SHIPPING"
	CodeInvalidPaymentMethod = "INVALID_PAYMENT_METHOD"
	CodeInvalidTotal         = "INVALID_TOTAL"
	CodeInvalidStatus        = "INVALID_STATUS"
	CodeInvalidRequest       = "INVALID_REQUEST"
	CodeRequestTooLarge      = "REQUEST_TOO_LARGE"
	CodeInvalidProduct       = "INVALID_PRODUCT"
	CodeProductNotFound      = "PRODUCT_NOT_FOUND"
	CodeItemsUnavailable     = "ITEMS_UNAVAILABLE"
	CodeTotalMismatch        = "TOTAL_MISMATCH"
	CodeCannotCancel         = "CANNOT_CANCEL"
	CodeInvalidTransition    = "INVALID_TRANSITION"
	CodeOrderNotFound        = "ORDER_NOT_FOUND"
	CodePaymentNotFound      = "PAYMENT_NOT_FOUND"
	CodePaymentInProgress    = "PAYMENT_IN_PROGRESS"
	CodePaymentNotRetryable  = "PAYMENT_NOT_RETRYABLE"
	CodeForbidden            = "FORBIDDEN"
	CodeUnauthorized         = "UNAUTHORIZED"
	CodeInvalidToken         = "INVALID_TOKEN"
	CodeConfigIncomplete     = "CONFIG_INCOMPLETE"
	CodePhoneRequired        = "PHONE_REQUIRED"
	CodeInvalidPhone         = "INVALID_PHONE"
	CodeEventNotFound        = "EVENT_NOT_FOUND"
	CodeNotImplemented       = "NOT_IMPLEMENTED"
	CodeGatewayError         = "GATEWAY_ERROR"
	CodeEmailTaken           = "EMAIL_TAKEN"
	CodeInvalidCredentials   = "INVALID_CREDENTIALS"
	CodeInvalidRefreshToken  = "INVALID_REFRESH_TOKEN"
	CodeRefreshTokenRevoked  = "REFRESH_TOKEN_REVOKED"
	CodeRefreshTokenExpired  = "REFRESH_TOKEN_EXPIRED"
	CodeServerError          = "SERVER_ERROR"
)

// Error is the application error type returned by services and domain code.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Details map[string]any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// WithDetails attaches diagnostic fields and returns the same error.
func (e *Error) WithDetails(details map[string]any) *Error {
	e.Details = details
	return e
}

// Wrap attaches a cause and returns the same error.
func (e *Error) Wrap(err error) *Error {
	e.Err = err
	return e
}

func newError(kind Kind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Message: msg}
}

func Validation(code, msg string) *Error     { return newError(KindValidation, code, msg) }
func NotFound(code, msg string) *Error       { return newError(KindNotFound, code, msg) }
func Conflict(code, msg string) *Error       { return newError(KindConflict, code, msg) }
func Forbidden(code, msg string) *Error      { return newError(KindForbidden, code, msg) }
func Unauthorized(code, msg string) *Error   { return newError(KindUnauthorized, code, msg) }
func Upstream(code, msg string) *Error       { return newError(KindUpstream, code, msg) }
func NotImplemented(code, msg string) *Error { return newError(KindNotImplemented, code, msg) }

// KindOf reports the kind of err, or KindInternal for foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// CodeOf reports the code of err, or CodeServerError for foreign errors.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeServerError
}

// MessageOf returns the client-facing message of err.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}
