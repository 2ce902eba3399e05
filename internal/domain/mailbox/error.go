package mailbox

import "errors"

var (
	ErrInvalidEnvelope = errors.New("invalid envelope")
	ErrInvalidCursor   = errors.New("invalid cursor")
	ErrInvalidDevice   = errors.New("device id is required")
	ErrInvalidMessage  = errors.New("invalid mailbox message")
	ErrTooLarge        = errors.New("payload too large")
)

// IsValidation ошибка во входных данных клиента, а не в хранилище
func IsValidation(err error) bool {
	for _, target := range []error{ErrInvalidEnvelope, ErrInvalidCursor, ErrInvalidDevice, ErrInvalidMessage, ErrTooLarge} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
