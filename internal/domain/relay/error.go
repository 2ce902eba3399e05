package relay

import "errors"

var (
	ErrNotConfigured = errors.New("relay endpoint is not configured")
	ErrClosed        = errors.New("relay coordinator is closed")
)
