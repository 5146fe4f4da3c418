package picocash

import "fmt"

// Status is the business-level outcome of a transaction operation. It is
// orthogonal to the error return: a non-Success Status means the call
// completed but the requested operation was declined.
type Status int

const (
	StatusInvalid Status = iota - 1
	StatusSuccess
	StatusExistingTransaction
	StatusInsufficientBalance
	StatusTransactionAmountMismatch
	StatusTransactionTypeNotFound
	StatusInvalidTokens
	StatusInvalidCredentials
	StatusBadRequest
	StatusServerError
)

func (s Status) String() string {
	switch s {
	case StatusInvalid:
		return "INVALID"
	case StatusSuccess:
		return "SUCCESS"
	case StatusExistingTransaction:
		return "EXISTING_TRANSACTION"
	case StatusInsufficientBalance:
		return "INSUFFICIENT_BALANCE"
	case StatusTransactionAmountMismatch:
		return "TRANSACTION_AMOUNT_MISMATCH"
	case StatusTransactionTypeNotFound:
		return "TRANSACTION_TYPE_NOT_FOUND"
	case StatusInvalidTokens:
		return "INVALID_TOKENS"
	case StatusInvalidCredentials:
		return "INVALID_CREDENTIALS"
	case StatusBadRequest:
		return "BAD_REQUEST"
	case StatusServerError:
		return "SERVER_ERROR"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}
