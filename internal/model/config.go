package model

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// DefaultAutoSyncInterval период автоматической синхронизации с ретранслятором
const DefaultAutoSyncInterval = 15 * time.Minute

// MaxAutoSyncIntervalMs наибольший период, который помещается в time.Duration
const MaxAutoSyncIntervalMs = uint64(math.MaxInt64 / int64(time.Millisecond))

// SyncConfiguration пользовательские настройки синхронизации
type SyncConfiguration struct {
	SyncMemory          bool   `json:"sync_memory"`
	SyncPreferences     bool   `json:"sync_preferences"`
	SyncPersonality     bool   `json:"sync_personality"`
	WifiOnlyOrUnmetered bool   `json:"wifi_only_or_unmetered"`
	AutoSync            bool   `json:"auto_sync"`
	AutoSyncIntervalMs  uint64 `json:"auto_sync_interval_ms"`
}

// DefaultSyncConfiguration все категории включены, только безлимитная сеть
func DefaultSyncConfiguration() SyncConfiguration {
	return SyncConfiguration{
		SyncMemory:          true,
		SyncPreferences:     true,
		SyncPersonality:     true,
		WifiOnlyOrUnmetered: true,
		AutoSync:            true,
		AutoSyncIntervalMs:  uint64(DefaultAutoSyncInterval / time.Millisecond),
	}
}

// Interval период автосинхронизации. Слишком большие значения ограничиваются сверху.
func (c SyncConfiguration) Interval() time.Duration {
	if c.AutoSyncIntervalMs > MaxAutoSyncIntervalMs {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(c.AutoSyncIntervalMs) * time.Millisecond
}

// Validate проверяет корректность настроек
func (c SyncConfiguration) Validate() error {
	if c.AutoSync && c.AutoSyncIntervalMs == 0 {
		return errors.New("auto sync interval must be positive")
	}
	if c.AutoSyncIntervalMs > MaxAutoSyncIntervalMs {
		return fmt.Errorf("auto sync interval %d ms is too large, max %d", c.AutoSyncIntervalMs, MaxAutoSyncIntervalMs)
	}
	return nil
}

// Allows проверяет, разрешена ли синхронизация операций данного вида.
// Виды вне трех категорий синхронизируются всегда.
func (c SyncConfiguration) Allows(kind string) bool {
	switch kind {
	case KindMemory:
		return c.SyncMemory
	case KindPreferences:
		return c.SyncPreferences
	case KindPersonality:
		return c.SyncPersonality
	default:
		return true
	}
}
