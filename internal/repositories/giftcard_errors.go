package repositories

import "fmt"

// GiftCardErrorCode enumerates repository error causes for gift card operations.
type GiftCardErrorCode string

const (
	// GiftCardErrorUnknown represents an unspecified failure.
	GiftCardErrorUnknown GiftCardErrorCode = "gift_card_unknown"
	// GiftCardErrorNotFound indicates no card exists for the code.
	GiftCardErrorNotFound GiftCardErrorCode = "gift_card_not_found"
	// GiftCardErrorAlreadyRedeemed indicates the card has been consumed.
	GiftCardErrorAlreadyRedeemed GiftCardErrorCode = "gift_card_already_redeemed"
	// GiftCardErrorCodeExists indicates an issue collided with an existing code.
	GiftCardErrorCodeExists GiftCardErrorCode = "gift_card_code_exists"
)

// GiftCardError wraps gift-card-specific failures with machine readable codes.
type GiftCardError struct {
	Op      string
	Code    GiftCardErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *GiftCardError) Error() string {
	if e == nil {
		return ""
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

// Unwrap exposes the underlying error, if any.
func (e *GiftCardError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewGiftCardError constructs a typed gift card error.
func NewGiftCardError(code GiftCardErrorCode, message string, err error) *GiftCardError {
	if message == "" {
		message = string(code)
	}
	return &GiftCardError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}
