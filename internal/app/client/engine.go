package client

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/exp/slog"

	"companionsync/internal/domain/conditions"
	"companionsync/internal/domain/event"
	"companionsync/internal/domain/identity"
	"companionsync/internal/domain/inbox"
	"companionsync/internal/domain/pairing"
	"companionsync/internal/domain/queue"
	"companionsync/internal/domain/relay"
	"companionsync/internal/domain/session"
	"companionsync/internal/domain/settings"
	"companionsync/internal/domain/transport"
	"companionsync/internal/model"
)

const (
	DefaultBackgroundInterval = 6 * time.Hour
	DefaultRetention          = 30 * 24 * time.Hour
	defaultStatusPoll         = 200 * time.Millisecond
)

// Deps готовые компоненты движка
type Deps struct {
	Identity   *identity.Service
	Settings   *settings.Service
	Queue      *queue.Service
	Inbox      *inbox.Inbox
	Registry   *pairing.Registry
	Sessions   *session.Coordinator
	Relay      *relay.Coordinator
	Transports *transport.Registry
	Conditions conditions.Provider
	Bus        *event.Bus
	Log        *slog.Logger
}

type Options struct {
	BackgroundInterval time.Duration
	Retention          time.Duration
	// StatusPoll период опроса сессий при фоновой синхронизации
	StatusPoll time.Duration
	// Passive не принимать входящие сессии (разовые команды CLI)
	Passive bool
}

// LastSyncInfo сводка состояния синхронизации
type LastSyncInfo struct {
	Enabled        bool       `json:"enabled"`
	LastSync       *time.Time `json:"last_sync,omitempty"`
	Pending        int        `json:"pending"`
	Scheduled      bool       `json:"scheduled"`
	ActiveSessions int        `json:"active_sessions"`
}

// Engine точка входа движка синхронизации: связывает хранилища, координаторы и шину событий
type Engine struct {
	identity   *identity.Service
	settings   *settings.Service
	queue      *queue.Service
	inbox      *inbox.Inbox
	registry   *pairing.Registry
	sessions   *session.Coordinator
	relay      *relay.Coordinator
	transports *transport.Registry
	cond       conditions.Provider
	bus        *event.Bus
	log        *slog.Logger
	opts       Options

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu          sync.Mutex
	initialized bool
	closed      bool
	bgStop      chan struct{}
}

func NewEngine(d Deps, opts Options) *Engine {
	if opts.BackgroundInterval <= 0 {
		opts.BackgroundInterval = DefaultBackgroundInterval
	}
	if opts.Retention <= 0 {
		opts.Retention = DefaultRetention
	}
	if opts.StatusPoll <= 0 {
		opts.StatusPoll = defaultStatusPoll
	}
	if d.Conditions == nil {
		d.Conditions = conditions.NewStatic(false, 100)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		identity:   d.Identity,
		settings:   d.Settings,
		queue:      d.Queue,
		inbox:      d.Inbox,
		registry:   d.Registry,
		sessions:   d.Sessions,
		relay:      d.Relay,
		transports: d.Transports,
		cond:       d.Conditions,
		bus:        d.Bus,
		log:        d.Log.With(slog.String("component", "engine")),
		opts:       opts,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Initialize загружает идентичность и настройки, запускает прием входящих сессий
// и, если синхронизация включена, планировщики. Повторный вызов ничего не делает.
func (e *Engine) Initialize(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	if e.initialized {
		return nil
	}

	if e.identity.Identity().DeviceID == "" {
		if _, err := e.identity.Load(ctx); err != nil {
			return fmt.Errorf("failed to load identity: %w", err)
		}
	}
	if err := e.settings.Load(ctx); err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}

	if !e.opts.Passive {
		for _, l := range e.transports.Listeners() {
			e.wg.Add(1)
			go func(l transport.Listener) {
				defer e.wg.Done()
				if err := l.Listen(e.ctx, e.sessions.HandleIncoming); err != nil {
					e.log.Error("transport listener stopped", slog.String("error", err.Error()))
				}
			}(l)
		}
	}

	enabled := e.settings.Enabled()
	if enabled {
		e.relay.EnableSync(true)
		e.scheduleBackgroundLocked()
	}
	e.initialized = true

	e.log.Info("sync engine initialized",
		slog.String("device_id", e.identity.DeviceID()),
		slog.Bool("sync_enabled", enabled))
	e.bus.Publish(model.SystemInitialized{SyncEnabled: enabled})
	return nil
}

func (e *Engine) IsSyncEnabled() bool {
	return e.settings.Enabled()
}

// SetSyncEnabled включает или выключает синхронизацию. Повтор текущего значения ничего не меняет.
func (e *Engine) SetSyncEnabled(ctx context.Context, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	if e.settings.Enabled() == enabled {
		return nil
	}
	if err := e.settings.SetEnabled(ctx, enabled); err != nil {
		return err
	}

	e.relay.EnableSync(enabled)
	if enabled {
		e.scheduleBackgroundLocked()
	} else {
		e.stopBackgroundLocked()
	}

	e.log.Info("sync toggled", slog.Bool("enabled", enabled))
	e.bus.Publish(model.SyncEnabledChanged{Enabled: enabled})
	return nil
}

func (e *Engine) GetSyncConfig() model.SyncConfiguration {
	return e.settings.Config()
}

// UpdateSyncConfig сохраняет настройки и перезапускает таймеры
func (e *Engine) UpdateSyncConfig(ctx context.Context, cfg model.SyncConfiguration) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	if err := e.settings.Update(ctx, cfg); err != nil {
		return err
	}

	e.relay.Reconfigure()
	e.stopBackgroundLocked()
	if e.settings.Enabled() {
		e.scheduleBackgroundLocked()
	}

	e.bus.Publish(model.SyncConfigChanged{Config: cfg})
	return nil
}

func (e *Engine) GetDeviceID() string {
	return e.identity.DeviceID()
}

func (e *Engine) GetDeviceName() string {
	return e.identity.DeviceName()
}

func (e *Engine) SetDeviceName(ctx context.Context, name string) error {
	if err := e.identity.SetDeviceName(ctx, name); err != nil {
		return err
	}
	e.bus.Publish(model.DeviceNameChanged{Name: e.identity.DeviceName()})
	return nil
}

// StartDeviceDiscovery запускает сканирование всех транспортов; результат приходит событием DevicesDiscovered
func (e *Engine) StartDeviceDiscovery(ctx context.Context) (string, error) {
	return e.registry.StartDiscovery(ctx)
}

// DiscoverDevices сканирует транспорты и дожидается результата
func (e *Engine) DiscoverDevices(ctx context.Context) (string, []model.DiscoveredDevice, error) {
	return e.registry.Discover(ctx)
}

func (e *Engine) PairDevice(ctx context.Context, id, name string, kind model.TransportKind) (bool, error) {
	return e.registry.PairDevice(ctx, id, name, kind)
}

func (e *Engine) UnpairDevice(ctx context.Context, id string) (bool, error) {
	return e.registry.UnpairDevice(ctx, id)
}

func (e *Engine) GetPairedDevices(ctx context.Context) ([]model.PairedDevice, error) {
	return e.registry.GetPairedDevices(ctx)
}

func (e *Engine) SyncWithDevice(ctx context.Context, deviceID string) (string, error) {
	return e.sessions.SyncWithDevice(ctx, deviceID)
}

func (e *Engine) SyncWithAllDevices(ctx context.Context) ([]string, error) {
	return e.sessions.SyncWithAllDevices(ctx)
}

// GetSyncSessionStatus снимок сессии; nil если сессия неизвестна или уже удалена из истории
func (e *Engine) GetSyncSessionStatus(sessionID string) *model.SyncSession {
	return e.sessions.GetSyncSessionStatus(sessionID)
}

func (e *Engine) CancelSync(sessionID string) bool {
	return e.sessions.CancelSync(sessionID)
}

// WaitSessions дожидается конечного состояния всех перечисленных сессий
func (e *Engine) WaitSessions(ctx context.Context, ids []string) ([]model.SyncSession, error) {
	ticker := time.NewTicker(e.opts.StatusPoll)
	defer ticker.Stop()

	last := make(map[string]model.SyncSession, len(ids))
	for {
		done := true
		for _, id := range ids {
			snap := e.sessions.GetSyncSessionStatus(id)
			if snap == nil {
				// nil только у архивированной сессии: она завершилась
				continue
			}
			last[id] = *snap
			if !snap.Status.IsTerminal() {
				done = false
			}
		}
		if done {
			out := make([]model.SyncSession, 0, len(last))
			for _, id := range ids {
				if s, ok := last[id]; ok {
					out = append(out, s)
				}
			}
			return out, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-e.ctx.Done():
			return nil, ErrClosed
		case <-ticker.C:
		}
	}
}

func (e *Engine) PendingConflicts(sessionID string) []model.Conflict {
	return e.sessions.PendingConflicts(sessionID)
}

// ResolveConflicts решение пользователя для сессии, ожидающей разрешения конфликтов
func (e *Engine) ResolveConflicts(sessionID string, choice model.ConflictChoice) error {
	return e.sessions.ResolveConflicts(sessionID, choice)
}

func (e *Engine) AddSyncEventListener(fn event.Listener) event.Handle {
	return e.bus.AddListener(fn)
}

func (e *Engine) RemoveSyncEventListener(h event.Handle) bool {
	return e.bus.RemoveListener(h)
}

// EnqueueOperation ставит локальное изменение в очередь и планирует отложенную отправку
func (e *Engine) EnqueueOperation(ctx context.Context, op model.SyncOperation) (bool, error) {
	return e.relay.EnqueueAndNotify(ctx, op)
}

// ForceSync немедленная синхронизация с ретранслятором
func (e *Engine) ForceSync(ctx context.Context) model.SyncResult {
	return e.relay.ForceSync(ctx)
}

func (e *Engine) LastSyncInfo(ctx context.Context) (LastSyncInfo, error) {
	info := LastSyncInfo{
		Enabled:        e.settings.Enabled(),
		Scheduled:      e.relay.Scheduled(),
		ActiveSessions: e.sessions.ActiveSessions(),
	}

	last, ok, err := e.settings.LastSync(ctx)
	if err != nil {
		return info, err
	}
	if ok {
		info.LastSync = &last
	}

	info.Pending, err = e.queue.Len(ctx)
	if err != nil {
		return info, err
	}
	return info, nil
}

// ClearSyncData очищает очередь, отметку последней синхронизации и курсор ретранслятора.
// Сопряженные устройства и журнал принятых операций сохраняются.
func (e *Engine) ClearSyncData(ctx context.Context) error {
	if err := e.queue.Clear(ctx); err != nil {
		return err
	}
	if err := e.settings.ClearSyncState(ctx); err != nil {
		return err
	}
	e.log.Info("sync data cleared")
	return nil
}

// Cleanup удаляет из журнала принятые операции старше срока хранения
func (e *Engine) Cleanup(ctx context.Context) (int64, error) {
	n, err := e.inbox.Purge(ctx, time.Now().UTC().Add(-e.opts.Retention))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		e.log.Info("applied log purged", slog.Int64("removed", n))
	}
	return n, nil
}

// AppliedOperations последние принятые удаленные операции
func (e *Engine) AppliedOperations(ctx context.Context, limit int) ([]model.AppliedOperation, error) {
	return e.inbox.List(ctx, limit)
}

// Close останавливает планировщики, прием входящих сессий и текущие сессии
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.stopBackgroundLocked()
	e.mu.Unlock()

	e.cancel()
	relayErr := e.relay.Close()
	sessionErr := e.sessions.Close()
	e.registry.Wait()
	e.wg.Wait()

	if relayErr != nil {
		return relayErr
	}
	return sessionErr
}
