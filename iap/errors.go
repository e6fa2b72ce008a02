package iap

import (
	"fmt"

	"github.com/pkg/errors"
)

type ErrorKind uint8

const (
	KindUnknown ErrorKind = iota

	// KindTransport means the request could not be completed: network
	// failure, timeout or an unusable HTTP exchange.
	KindTransport

	// KindMalformedResponse means the storefront answered with a body that
	// does not have the expected JSON shape.
	KindMalformedResponse

	// KindStoreRejected means the storefront explicitly rejected the receipt
	// or the request.
	KindStoreRejected

	// KindConfiguration means credentials are missing or unusable. Retrying
	// will not help.
	KindConfiguration

	// KindInput means the caller-supplied receipt is missing required data.
	KindInput
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransport:
		return "transport_error"
	case KindMalformedResponse:
		return "malformed_response"
	case KindStoreRejected:
		return "store_rejected"
	case KindConfiguration:
		return "configuration_error"
	case KindInput:
		return "input_error"
	default:
		return "unknown"
	}
}

// ValidationError is the outcome of a failed validation.
type ValidationError struct {
	Kind    ErrorKind
	Code    int
	Message string

	cause error
}

func (e *ValidationError) Error() string {
	msg := fmt.Sprintf("%s (%d): %s", e.Kind, e.Code, e.Message)
	if e.cause != nil {
		msg += ": " + e.cause.Error()
	}
	return msg
}

func (e *ValidationError) Unwrap() error {
	return e.cause
}

func NewTransportError(code int, message string, cause error) *ValidationError {
	return &ValidationError{Kind: KindTransport, Code: code, Message: message, cause: cause}
}

func NewMalformedResponseError(message string, cause error) *ValidationError {
	return &ValidationError{Kind: KindMalformedResponse, Message: message, cause: cause}
}

func NewStoreRejectedError(code int, message string) *ValidationError {
	return &ValidationError{Kind: KindStoreRejected, Code: code, Message: message}
}

func NewConfigurationError(message string, cause error) *ValidationError {
	return &ValidationError{Kind: KindConfiguration, Message: message, cause: cause}
}

func NewInputError(message string, cause error) *ValidationError {
	return &ValidationError{Kind: KindInput, Message: message, cause: cause}
}

// KindOf returns the kind of the first ValidationError in err's chain.
func KindOf(err error) ErrorKind {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return verr.Kind
	}
	return KindUnknown
}

func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}
