package model

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
)

// Категории полезной нагрузки
const (
	KindMemory      = "memory"
	KindPreferences = "preferences"
	KindPersonality = "personality"
)

// BatchVersion версия формата пакета
const BatchVersion = 1

// SyncOperation одна локальная мутация, ожидающая доставки. Неизменяема после постановки в очередь.
type SyncOperation struct {
	OperationID string    `json:"operation_id"`
	Kind        string    `json:"kind"`
	RecordKey   string    `json:"record_key,omitempty"`
	Payload     []byte    `json:"payload"`
	Checksum    string    `json:"checksum,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// NewOperation создает операцию с новым идентификатором
func NewOperation(kind, recordKey string, payload []byte) SyncOperation {
	op := SyncOperation{
		OperationID: uuid.NewString(),
		Kind:        kind,
		RecordKey:   recordKey,
		Payload:     payload,
		CreatedAt:   time.Now().UTC(),
	}
	op.Checksum = PayloadChecksum(payload)
	return op
}

// PayloadChecksum sha256 полезной нагрузки в hex
func PayloadChecksum(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// Verify сверяет сохраненную контрольную сумму. Пустая сумма считается валидной.
func (o SyncOperation) Verify() bool {
	return o.Checksum == "" || o.Checksum == PayloadChecksum(o.Payload)
}

// Size размер полезной нагрузки в байтах
func (o SyncOperation) Size() int {
	return len(o.Payload)
}

// Batch незашифрованный пакет операций с метаданными отправителя
type Batch struct {
	Version    int             `json:"version"`
	DeviceID   string          `json:"device_id"`
	DeviceName string          `json:"device_name"`
	SessionID  string          `json:"session_id"`
	Timestamp  time.Time       `json:"timestamp"`
	Operations []SyncOperation `json:"operations"`
}

// Envelope зашифрованный пакет, как он хранится на ретрансляторе
type Envelope struct {
	ID        string    `json:"id"`
	DeviceID  string    `json:"device_id"`
	Data      []byte    `json:"data"`
	Count     int       `json:"count"`
	CreatedAt time.Time `json:"created_at"`
}

// OperationIDs идентификаторы операций в исходном порядке
func OperationIDs(ops []SyncOperation) []string {
	ids := make([]string, len(ops))
	for i, op := range ops {
		ids[i] = op.OperationID
	}
	return ids
}

// AppliedOperation запись журнала принятых удаленных операций
type AppliedOperation struct {
	Operation SyncOperation `json:"operation"`
	Source    string        `json:"source"`
	Skipped   bool          `json:"skipped"`
	AppliedAt time.Time     `json:"applied_at"`
}
