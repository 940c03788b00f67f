package types

import "errors"

// Machine-readable error categories carried in ResourceError.Error and
// ProtocolError.Code. Requester-side codes (KEY_MISMATCH,
// INSUFFICIENT_FUNDS) never cross the wire.
const (
	ErrResourceNotFound    = "RESOURCE_NOT_FOUND"
	ErrUnknownPayment      = "UNKNOWN_PAYMENT"
	ErrResourceMismatch    = "RESOURCE_MISMATCH"
	ErrRequesterMismatch   = "REQUESTER_MISMATCH"
	ErrKeyMismatch         = "KEY_MISMATCH"
	ErrInsufficientFunds   = "INSUFFICIENT_FUNDS"
	ErrSubmissionRejected  = "SUBMISSION_REJECTED"
	ErrConfirmationTimeout = "CONFIRMATION_TIMEOUT"
	ErrVerificationFailed  = "VERIFICATION_FAILED"
	ErrUnsupportedNetwork  = "UNSUPPORTED_NETWORK"
	ErrInvalidMessage      = "INVALID_MESSAGE"
)

// ProtocolError is the typed error returned by protocol operations.
type ProtocolError struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e *ProtocolError) Error() string {
	return e.Message
}

// NewProtocolError builds a ProtocolError with the given code.
func NewProtocolError(code, message string) *ProtocolError {
	return &ProtocolError{Code: code, Message: message}
}

// ErrorCode extracts the protocol error code from err, or
// VERIFICATION_FAILED when err carries no code.
func ErrorCode(err error) string {
	var pe *ProtocolError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ErrVerificationFailed
}
