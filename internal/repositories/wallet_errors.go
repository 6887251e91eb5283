package repositories

import "fmt"

// WalletErrorCode enumerates repository error causes for wallet operations.
type WalletErrorCode string

const (
	// WalletErrorUnknown represents an unspecified failure.
	WalletErrorUnknown WalletErrorCode = "wallet_unknown"
	// WalletErrorInsufficientFunds indicates the debit exceeds the balance.
	WalletErrorInsufficientFunds WalletErrorCode = "wallet_insufficient_funds"
	// WalletErrorAccountNotFound indicates the owner has no wallet document.
	WalletErrorAccountNotFound WalletErrorCode = "wallet_account_not_found"
	// WalletErrorInvalidAmount indicates a non-positive mutation amount.
	WalletErrorInvalidAmount WalletErrorCode = "wallet_invalid_amount"
)

// WalletError wraps wallet-specific failures with machine readable codes.
type WalletError struct {
	Op      string
	Code    WalletErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *WalletError) Error() string {
	if e == nil {
		return ""
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

// Unwrap exposes the underlying error, if any.
func (e *WalletError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewWalletError constructs a typed wallet error.
func NewWalletError(code WalletErrorCode, message string, err error) *WalletError {
	if message == "" {
		message = string(code)
	}
	return &WalletError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}
