// Package pairing обнаружение устройств поблизости и хранение доверенных устройств.
package pairing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/exp/slog"
	"golang.org/x/sync/errgroup"

	"companionsync/internal/domain/event"
	"companionsync/internal/domain/transport"
	"companionsync/internal/model"
)

// DefaultDiscoveryTimeout ограничение одного сканирования
const DefaultDiscoveryTimeout = 10 * time.Second

// Repository таблица сопряженных устройств
type Repository interface {
	// Upsert создает запись или обновляет имя, вид и транспорт существующей; true если создана
	Upsert(ctx context.Context, d model.PairedDevice) (bool, error)
	Get(ctx context.Context, id string) (model.PairedDevice, error)
	List(ctx context.Context) ([]model.PairedDevice, error)
	Delete(ctx context.Context, id string) (bool, error)
	UpdateStatus(ctx context.Context, id string, status model.DeviceStatus, lastSync *time.Time) error
}

// SessionCanceller отменяет живые сессии устройства перед удалением
type SessionCanceller interface {
	CancelDeviceSessions(deviceID string) bool
}

// Registry реестр доверенных устройств
type Registry struct {
	repo       Repository
	transports *transport.Registry
	events     event.Publisher
	log        *slog.Logger
	timeout    time.Duration

	mu         sync.RWMutex
	sessions   SessionCanceller
	discovered map[string]model.DiscoveredDevice

	wg sync.WaitGroup
}

// NewRegistry создает реестр; timeout <= 0 заменяется на DefaultDiscoveryTimeout
func NewRegistry(repo Repository, transports *transport.Registry, events event.Publisher, log *slog.Logger, timeout time.Duration) *Registry {
	if timeout <= 0 {
		timeout = DefaultDiscoveryTimeout
	}
	return &Registry{
		repo:       repo,
		transports: transports,
		events:     events,
		log:        log.With(slog.String("component", "pairing")),
		timeout:    timeout,
		discovered: make(map[string]model.DiscoveredDevice),
	}
}

// AttachSessions подключает координатор сессий. Вызывается после его создания.
func (r *Registry) AttachSessions(s SessionCanceller) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions = s
}

// StartDiscovery запускает сканирование в фоне и сразу возвращает его id.
// Результаты приходят событиями DevicesDiscovered, по одному на транспорт.
func (r *Registry) StartDiscovery(ctx context.Context) (string, error) {
	if len(r.transports.All()) == 0 {
		return "", ErrNoTransports
	}
	id := uuid.NewString()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.scan(context.WithoutCancel(ctx), id)
	}()
	return id, nil
}

// Discover сканирует все транспорты и ждет результатов
func (r *Registry) Discover(ctx context.Context) (string, []model.DiscoveredDevice, error) {
	if len(r.transports.All()) == 0 {
		return "", nil, ErrNoTransports
	}
	id := uuid.NewString()
	return id, r.scan(ctx, id), nil
}

// Wait дожидается фоновых сканирований
func (r *Registry) Wait() {
	r.wg.Wait()
}

func (r *Registry) scan(ctx context.Context, discoveryID string) []model.DiscoveredDevice {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var (
		mu  sync.Mutex
		all []model.DiscoveredDevice
		g   errgroup.Group
	)
	for _, c := range r.transports.All() {
		c := c
		g.Go(func() error {
			devices, err := c.Scan(ctx)
			if err != nil && !errors.Is(err, context.DeadlineExceeded) {
				// сбой одного транспорта не прерывает остальные
				r.log.Warn("scan failed",
					slog.String("transport", string(c.Kind())),
					slog.String("error", err.Error()))
				return nil
			}
			if len(devices) == 0 {
				return nil
			}

			r.remember(devices)
			mu.Lock()
			all = append(all, devices...)
			mu.Unlock()

			r.events.Publish(model.DevicesDiscovered{
				DiscoveryID: discoveryID,
				Transport:   c.Kind(),
				Devices:     devices,
			})
			return nil
		})
	}
	_ = g.Wait()

	r.log.Info("discovery finished", slog.String("discovery_id", discoveryID), slog.Int("devices", len(all)))
	return all
}

func (r *Registry) remember(devices []model.DiscoveredDevice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range devices {
		r.discovered[d.ID] = d
	}
}

// PairDevice сохраняет доверенное устройство со статусом PAIRED.
// Повторное сопряжение обновляет имя и транспорт.
func (r *Registry) PairDevice(ctx context.Context, id, name string, kind model.TransportKind) (bool, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return false, ErrInvalidDevice
	}
	if name == "" {
		name = id
	}

	r.mu.RLock()
	seen, ok := r.discovered[id]
	r.mu.RUnlock()
	deviceKind := model.InferDeviceKind(name)
	if ok && seen.Kind != "" {
		deviceKind = seen.Kind
	}

	created, err := r.repo.Upsert(ctx, model.PairedDevice{
		ID:        id,
		Name:      name,
		Kind:      deviceKind,
		Transport: kind,
		Status:    model.DeviceStatusPaired,
		PairedAt:  time.Now().UTC(),
	})
	if err != nil {
		return false, fmt.Errorf("failed to pair device %s: %w", id, err)
	}

	device, err := r.repo.Get(ctx, id)
	if err != nil {
		return false, fmt.Errorf("failed to read paired device %s: %w", id, err)
	}

	r.log.Info("device paired",
		slog.String("device_id", id),
		slog.String("transport", string(kind)),
		slog.Bool("created", created))
	r.events.Publish(model.DevicePaired{Device: device})
	return true, nil
}

// UnpairDevice отменяет живые сессии устройства и удаляет его. false если устройство не было сопряжено.
func (r *Registry) UnpairDevice(ctx context.Context, id string) (bool, error) {
	device, err := r.repo.Get(ctx, id)
	if errors.Is(err, model.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read device %s: %w", id, err)
	}

	r.mu.RLock()
	sessions := r.sessions
	r.mu.RUnlock()
	if sessions != nil && sessions.CancelDeviceSessions(id) {
		r.log.Info("live session cancelled before unpairing", slog.String("device_id", id))
	}

	removed, err := r.repo.Delete(ctx, id)
	if err != nil {
		return false, fmt.Errorf("failed to unpair device %s: %w", id, err)
	}
	if removed {
		r.events.Publish(model.DeviceUnpaired{Device: device})
	}
	return removed, nil
}

// GetPairedDevices все доверенные устройства
func (r *Registry) GetPairedDevices(ctx context.Context) ([]model.PairedDevice, error) {
	devices, err := r.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list paired devices: %w", err)
	}
	return devices, nil
}

// Device доверенное устройство по id; model.ErrNotFound если его нет
func (r *Registry) Device(ctx context.Context, id string) (model.PairedDevice, error) {
	return r.repo.Get(ctx, id)
}

// MarkSynced отмечает успешную сессию
func (r *Registry) MarkSynced(ctx context.Context, id string, at time.Time) error {
	at = at.UTC()
	return r.repo.UpdateStatus(ctx, id, model.DeviceStatusSynced, &at)
}

// MarkError отмечает неудачную сессию
func (r *Registry) MarkError(ctx context.Context, id string) error {
	return r.repo.UpdateStatus(ctx, id, model.DeviceStatusError, nil)
}
