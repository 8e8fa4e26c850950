package tx

import "fmt"

// ErrorKind classifies every failure the wallet backend can surface. The
// kind, not the concrete error value, decides UI treatment and retry policy.
type ErrorKind string

const (
	ErrChainDisconnected           ErrorKind = "CHAIN_DISCONNECTED"
	ErrNotEnoughBalance            ErrorKind = "NOT_ENOUGH_BALANCE"
	ErrNotEnoughExistentialDeposit ErrorKind = "NOT_ENOUGH_EXISTENTIAL_DEPOSIT"
	ErrDuplicateTransaction        ErrorKind = "DUPLICATE_TRANSACTION"
	ErrInvalidParams               ErrorKind = "INVALID_PARAMS"
	ErrUnableToSign                ErrorKind = "UNABLE_TO_SIGN"
	ErrUserRejected                ErrorKind = "USER_REJECTED"
	ErrUnableToSend                ErrorKind = "UNABLE_TO_SEND"
	ErrSendTransactionFailed       ErrorKind = "SEND_TRANSACTION_FAILED"
	ErrInternalError               ErrorKind = "INTERNAL_ERROR"
	ErrUnsupported                 ErrorKind = "UNSUPPORTED"
	ErrTimeout                     ErrorKind = "TIMEOUT"
)

// Error is a kind-tagged transaction error.
type Error struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message,omitempty"`
}

// NewError builds an Error with an optional message.
func NewError(kind ErrorKind, message string) Error {
	return Error{Kind: kind, Message: message}
}

// Error implements the error interface.
func (e Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Warning is a kind-tagged advisory finding that does not block submission
// unless the caller opts into strict handling.
type Warning struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message,omitempty"`
}

// NewWarning builds a Warning with an optional message.
func NewWarning(kind ErrorKind, message string) Warning {
	return Warning{Kind: kind, Message: message}
}
