package model

import (
	"errors"
	"fmt"
)

// ErrNotFound общий признак отсутствующей записи в хранилищах
var ErrNotFound = errors.New("not found")

// ErrorKind машинно-проверяемый вид ошибки синхронизации
type ErrorKind string

const (
	ErrSyncUnavailable    ErrorKind = "SYNC_UNAVAILABLE"
	ErrPushFailed         ErrorKind = "PUSH_FAILED"
	ErrPullFailed         ErrorKind = "PULL_FAILED"
	ErrConnectionFailed   ErrorKind = "CONNECTION_FAILED"
	ErrTimeout            ErrorKind = "TIMEOUT"
	ErrConflictUnresolved ErrorKind = "CONFLICT_UNRESOLVED"
	ErrUnknown            ErrorKind = "UNKNOWN"
)

// SyncError ошибка с видом и человекочитаемым сообщением
type SyncError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

// NewSyncError создает ошибку синхронизации
func NewSyncError(kind ErrorKind, message string, err error) *SyncError {
	return &SyncError{Kind: kind, Message: message, Err: err}
}

func (e *SyncError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

// KindOf извлекает вид ошибки, UNKNOWN если это не SyncError
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var se *SyncError
	if errors.As(err, &se) {
		return se.Kind
	}
	return ErrUnknown
}
