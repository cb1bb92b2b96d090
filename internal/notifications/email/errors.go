// Package email renders payment-failure notices and delivers them through
// an external.EmailProvider.
package email

import (
	"errors"

	"recoverly/internal/types"
)

// ErrNoRecipient means the payment has no customer email to send to.
var ErrNoRecipient = errors.New("payment has no recipient email")

// IsBlocklistError reports whether the provider refused the recipient or
// the sending key. Such failures will not succeed on a later attempt.
func IsBlocklistError(err error) bool {
	return types.CodeOf(err) == types.ErrCodeEmailBlocked
}
