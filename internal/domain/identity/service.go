package identity

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/exp/slog"

	"companionsync/internal/model"
)

const (
	keyDeviceID   = "device_id"
	keyDeviceName = "device_name"

	defaultDeviceName = "companion-device"
	maxDeviceNameLen  = 64
)

var (
	ErrNotLoaded   = errors.New("identity not loaded")
	ErrInvalidName = errors.New("device name must be 1-64 printable characters")
)

// Repository key/value хранилище
type Repository interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
}

// Service хранит постоянный идентификатор устройства и его имя
type Service struct {
	repo     Repository
	log      *slog.Logger
	hostname func() (string, error)

	mu       sync.RWMutex
	identity model.DeviceIdentity
	loaded   bool
}

// NewService создает хранилище идентичности
func NewService(repo Repository, log *slog.Logger) *Service {
	return &Service{
		repo:     repo,
		log:      log.With(slog.String("component", "identity")),
		hostname: os.Hostname,
	}
}

// Load читает идентификатор устройства или создает новый; sessionId генерируется при каждом вызове
func (s *Service) Load(ctx context.Context) (model.DeviceIdentity, error) {
	deviceID, err := s.repo.Get(ctx, keyDeviceID)
	switch {
	case errors.Is(err, model.ErrNotFound):
		deviceID = uuid.NewString()
		if err := s.repo.Set(ctx, keyDeviceID, deviceID); err != nil {
			return model.DeviceIdentity{}, fmt.Errorf("failed to persist device id: %w", err)
		}
		s.log.Info("generated device id", slog.String("device_id", deviceID))
	case err != nil:
		return model.DeviceIdentity{}, fmt.Errorf("failed to read device id: %w", err)
	}

	name, err := s.repo.Get(ctx, keyDeviceName)
	if errors.Is(err, model.ErrNotFound) {
		name = s.defaultName()
	} else if err != nil {
		return model.DeviceIdentity{}, fmt.Errorf("failed to read device name: %w", err)
	}

	id := model.DeviceIdentity{
		DeviceID:   deviceID,
		DeviceName: name,
		Platform:   model.CurrentPlatform(),
		SessionID:  uuid.NewString(),
	}

	s.mu.Lock()
	s.identity = id
	s.loaded = true
	s.mu.Unlock()

	return id, nil
}

// Identity текущая идентичность; пустая до Load
func (s *Service) Identity() model.DeviceIdentity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.identity
}

func (s *Service) DeviceID() string {
	return s.Identity().DeviceID
}

func (s *Service) DeviceName() string {
	return s.Identity().DeviceName
}

func (s *Service) SessionID() string {
	return s.Identity().SessionID
}

// SetDeviceName сохраняет новое имя устройства
func (s *Service) SetDeviceName(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if name == "" || len(name) > maxDeviceNameLen {
		return ErrInvalidName
	}

	s.mu.RLock()
	loaded := s.loaded
	s.mu.RUnlock()
	if !loaded {
		return ErrNotLoaded
	}

	if err := s.repo.Set(ctx, keyDeviceName, name); err != nil {
		return fmt.Errorf("failed to persist device name: %w", err)
	}

	s.mu.Lock()
	s.identity.DeviceName = name
	s.mu.Unlock()

	return nil
}

func (s *Service) defaultName() string {
	host, err := s.hostname()
	if err != nil || host == "" {
		return defaultDeviceName
	}
	return host
}
