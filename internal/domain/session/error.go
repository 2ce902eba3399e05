package session

import "errors"

var (
	ErrSessionInProgress  = errors.New("device already has a live sync session")
	ErrDeviceNotPaired    = errors.New("device is not paired")
	ErrSessionNotFound    = errors.New("sync session not found")
	ErrNoPendingConflicts = errors.New("session is not waiting for conflict resolution")
	ErrSessionClosed      = errors.New("sync session already finished")
	ErrProtocol           = errors.New("unexpected sync frame")
	ErrRejected           = errors.New("remote device rejected the session")
	ErrUnknownPolicy      = errors.New("unknown conflict policy")
)
