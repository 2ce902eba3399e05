package model

import (
	"fmt"
	"time"
)

// SyncStatus состояние сессии прямой синхронизации
type SyncStatus int

const (
	StatusPreparing SyncStatus = iota + 1
	StatusConnecting
	StatusTransferring
	StatusVerifying
	StatusCompleted
	StatusFailed
	StatusCancelled
)

var statusNames = map[SyncStatus]string{
	StatusPreparing:    "PREPARING",
	StatusConnecting:   "CONNECTING",
	StatusTransferring: "TRANSFERRING",
	StatusVerifying:    "VERIFYING",
	StatusCompleted:    "COMPLETED",
	StatusFailed:       "FAILED",
	StatusCancelled:    "CANCELLED",
}

func (s SyncStatus) String() string {
	if n, ok := statusNames[s]; ok {
		return n
	}
	return fmt.Sprintf("SyncStatus(%d)", int(s))
}

// MarshalText сериализует статус по имени
func (s SyncStatus) MarshalText() ([]byte, error) {
	if _, ok := statusNames[s]; !ok {
		return nil, fmt.Errorf("invalid sync status %d", int(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText разбирает статус по имени
func (s *SyncStatus) UnmarshalText(b []byte) error {
	for k, v := range statusNames {
		if v == string(b) {
			*s = k
			return nil
		}
	}
	return fmt.Errorf("invalid sync status %q", string(b))
}

// IsTerminal COMPLETED, FAILED и CANCELLED конечные
func (s SyncStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	case StatusPreparing, StatusConnecting, StatusTransferring, StatusVerifying:
		return false
	}
	return false
}

// CanTransitionTo проверяет допустимость перехода.
// Из любого неконечного состояния можно перейти в FAILED или CANCELLED.
func (s SyncStatus) CanTransitionTo(next SyncStatus) bool {
	switch s {
	case StatusPreparing:
		return next == StatusConnecting || next == StatusFailed || next == StatusCancelled
	case StatusConnecting:
		return next == StatusTransferring || next == StatusFailed || next == StatusCancelled
	case StatusTransferring:
		return next == StatusVerifying || next == StatusFailed || next == StatusCancelled
	case StatusVerifying:
		return next == StatusCompleted || next == StatusFailed || next == StatusCancelled
	case StatusCompleted, StatusFailed, StatusCancelled:
		return false
	}
	return false
}

// SyncSession снимок состояния сессии
type SyncSession struct {
	ID               string        `json:"id"`
	RemoteDeviceID   string        `json:"remote_device_id"`
	RemoteDeviceName string        `json:"remote_device_name"`
	Status           SyncStatus    `json:"status"`
	Transport        TransportKind `json:"transport"`
	Progress         int           `json:"progress"`
	StartTime        time.Time     `json:"start_time"`
	EndTime          *time.Time    `json:"end_time,omitempty"`
	Error            string        `json:"error,omitempty"`
	ErrorKind        ErrorKind     `json:"error_kind,omitempty"`
}

// ConflictChoice сторона, победившая в конфликте
type ConflictChoice string

const (
	ChooseLocal  ConflictChoice = "local"
	ChooseRemote ConflictChoice = "remote"
)

// Conflict одна запись, измененная на обеих сторонах
type Conflict struct {
	RecordKey string         `json:"record_key"`
	Local     SyncOperation  `json:"local"`
	Remote    SyncOperation  `json:"remote"`
	Winner    ConflictChoice `json:"winner,omitempty"`
}
