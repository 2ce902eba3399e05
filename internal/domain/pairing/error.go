package pairing

import "errors"

var (
	ErrNoTransports  = errors.New("no transports registered")
	ErrInvalidDevice = errors.New("device id is required")
)
