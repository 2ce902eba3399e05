package model

import "time"

// SyncResult итог одной попытки синхронизации с ретранслятором.
// Rejected считает конверты, которые не удалось расшифровать или разобрать; курсор их пропускает.
type SyncResult struct {
	Success         bool      `json:"success"`
	Timestamp       time.Time `json:"timestamp"`
	Message         string    `json:"message"`
	OperationsCount int       `json:"operations_count"`
	Pulled          int       `json:"pulled"`
	Rejected        int       `json:"rejected,omitempty"`
	ErrorKind       ErrorKind `json:"error_kind,omitempty"`
}

// FailedResult результат неудачной попытки
func FailedResult(kind ErrorKind, message string) SyncResult {
	return SyncResult{
		Success:   false,
		Timestamp: time.Now().UTC(),
		Message:   message,
		ErrorKind: kind,
	}
}
