package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"golang.org/x/exp/slog"

	"companionsync/internal/model"
)

const (
	keySyncEnabled  = "sync_enabled"
	keySyncInterval = "sync_interval"
	keySyncConfig   = "sync_config"
	keyLastSync     = "last_sync"
	keyRelayCursor  = "relay_cursor"
)

// Repository key/value хранилище
type Repository interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, keys ...string) error
}

// Service хранилище настроек синхронизации. Все изменения сразу сохраняются.
type Service struct {
	repo Repository
	log  *slog.Logger

	mu      sync.RWMutex
	config  model.SyncConfiguration
	enabled bool
}

// NewService создает хранилище настроек со значениями по умолчанию
func NewService(repo Repository, log *slog.Logger) *Service {
	return &Service{
		repo:   repo,
		log:    log.With(slog.String("component", "settings")),
		config: model.DefaultSyncConfiguration(),
	}
}

// Load читает сохраненные настройки; отсутствующие ключи оставляют значения по умолчанию
func (s *Service) Load(ctx context.Context) error {
	cfg := model.DefaultSyncConfiguration()

	raw, err := s.repo.Get(ctx, keySyncConfig)
	switch {
	case err == nil:
		if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
			s.log.Warn("stored sync config is corrupted, using defaults", slog.String("error", err.Error()))
			cfg = model.DefaultSyncConfiguration()
		}
	case !errors.Is(err, model.ErrNotFound):
		return fmt.Errorf("failed to read sync config: %w", err)
	}

	// отдельный ключ интервала имеет приоритет
	if raw, err := s.repo.Get(ctx, keySyncInterval); err == nil {
		if ms, perr := strconv.ParseUint(raw, 10, 64); perr == nil && ms > 0 {
			cfg.AutoSyncIntervalMs = ms
		}
	} else if !errors.Is(err, model.ErrNotFound) {
		return fmt.Errorf("failed to read sync interval: %w", err)
	}

	enabled := false
	if raw, err := s.repo.Get(ctx, keySyncEnabled); err == nil {
		enabled, _ = strconv.ParseBool(raw)
	} else if !errors.Is(err, model.ErrNotFound) {
		return fmt.Errorf("failed to read sync flag: %w", err)
	}

	s.mu.Lock()
	s.config = cfg
	s.enabled = enabled
	s.mu.Unlock()

	return nil
}

// Config текущие настройки
func (s *Service) Config() model.SyncConfiguration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config
}

// Update проверяет и сохраняет настройки
func (s *Service) Update(ctx context.Context, cfg model.SyncConfiguration) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid sync config: %w", err)
	}

	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode sync config: %w", err)
	}
	if err := s.repo.Set(ctx, keySyncConfig, string(data)); err != nil {
		return fmt.Errorf("failed to persist sync config: %w", err)
	}
	if err := s.repo.Set(ctx, keySyncInterval, strconv.FormatUint(cfg.AutoSyncIntervalMs, 10)); err != nil {
		return fmt.Errorf("failed to persist sync interval: %w", err)
	}

	s.mu.Lock()
	s.config = cfg
	s.mu.Unlock()

	return nil
}

// Enabled включена ли синхронизация
func (s *Service) Enabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.enabled
}

// SetEnabled сохраняет флаг синхронизации
func (s *Service) SetEnabled(ctx context.Context, enabled bool) error {
	if err := s.repo.Set(ctx, keySyncEnabled, strconv.FormatBool(enabled)); err != nil {
		return fmt.Errorf("failed to persist sync flag: %w", err)
	}

	s.mu.Lock()
	s.enabled = enabled
	s.mu.Unlock()

	return nil
}

// LastSync время последней успешной синхронизации с ретранслятором
func (s *Service) LastSync(ctx context.Context) (time.Time, bool, error) {
	raw, err := s.repo.Get(ctx, keyLastSync)
	if errors.Is(err, model.ErrNotFound) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to read last sync: %w", err)
	}

	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to parse last sync %q: %w", raw, err)
	}
	return t, true, nil
}

// SetLastSync сохраняет время последней синхронизации
func (s *Service) SetLastSync(ctx context.Context, t time.Time) error {
	if err := s.repo.Set(ctx, keyLastSync, t.UTC().Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("failed to persist last sync: %w", err)
	}
	return nil
}

// RelayCursor позиция чтения с ретранслятора
func (s *Service) RelayCursor(ctx context.Context) (string, error) {
	raw, err := s.repo.Get(ctx, keyRelayCursor)
	if errors.Is(err, model.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read relay cursor: %w", err)
	}
	return raw, nil
}

// SetRelayCursor сохраняет позицию чтения
func (s *Service) SetRelayCursor(ctx context.Context, cursor string) error {
	if err := s.repo.Set(ctx, keyRelayCursor, cursor); err != nil {
		return fmt.Errorf("failed to persist relay cursor: %w", err)
	}
	return nil
}

// ClearSyncState удаляет отметку последней синхронизации и курсор
func (s *Service) ClearSyncState(ctx context.Context) error {
	if err := s.repo.Delete(ctx, keyLastSync, keyRelayCursor); err != nil {
		return fmt.Errorf("failed to clear sync state: %w", err)
	}
	return nil
}
