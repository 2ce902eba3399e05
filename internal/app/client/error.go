package client

import "errors"

var (
	ErrNotInitialized = errors.New("sync engine is not initialized")
	ErrClosed         = errors.New("sync engine is closed")
	ErrLocked         = errors.New("sync key is locked, run init or unlock first")
)
