package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/exp/slog"

	"companionsync/internal/app/client/config"
	"companionsync/internal/app/client/crypto"
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
	"companionsync/internal/infrastructure/storage/memory"
	"companionsync/internal/infrastructure/storage/sqlite"
	"companionsync/internal/infrastructure/transport/cloud"
	"companionsync/internal/infrastructure/transport/lan"
	"companionsync/internal/model"
)

const relayCheckTimeout = 10 * time.Second

// App собранный клиент: хранилище, ключ группы, транспорты и движок
type App struct {
	config     *config.Config
	log        *slog.Logger
	keys       *crypto.KeyManager
	storage    *sqlite.Storage
	relay      *cloud.Client
	cloud      *cloud.Transport
	conditions *conditions.Static
	engine     *Engine
}

type stores struct {
	kv      settings.Repository
	queue   queue.Repository
	devices pairing.Repository
	applied inbox.Repository
}

// New собирает клиент по конфигурации. Движок создается, но не инициализируется.
func New(cfg *config.Config, log *slog.Logger) (*App, error) {
	if err := cfg.EnsureDirs(); err != nil {
		return nil, fmt.Errorf("ошибка создания каталога конфигурации: %w", err)
	}

	keys, err := crypto.NewKeyManager(cfg.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("ошибка инициализации ключа синхронизации: %w", err)
	}
	cipher, err := crypto.ParseCipher(cfg.Cipher)
	if err != nil {
		return nil, err
	}
	policy, err := session.ParsePolicy(cfg.ConflictPolicy)
	if err != nil {
		return nil, err
	}

	app := &App{
		config:     cfg,
		log:        log,
		keys:       keys,
		conditions: conditions.NewStatic(cfg.NetworkMetered, cfg.BatteryLevel),
	}

	// SQLite, при ошибке открытия работаем в памяти
	var st stores
	db, err := sqlite.Open(cfg.DataPath)
	if err != nil {
		log.Warn("failed to open sqlite storage, falling back to memory", slog.String("error", err.Error()))
		st = stores{kv: memory.NewKV(), queue: memory.NewQueue(), devices: memory.NewDevices(), applied: memory.NewApplied()}
	} else {
		app.storage = db
		st = stores{kv: db.KV(), queue: db.Queue(), devices: db.Devices(), applied: db.Applied()}
	}

	ident := identity.NewService(st.kv, log)
	id, err := ident.Load(context.Background())
	if err != nil {
		app.closeStorage()
		return nil, err
	}

	transports, err := app.buildTransports(id)
	if err != nil {
		app.closeStorage()
		return nil, err
	}

	bus := event.NewBus(log)
	sets := settings.NewService(st.kv, log)
	q := queue.NewService(st.queue, log)
	codec := crypto.NewCodec(keys, cipher)
	in := inbox.New(st.applied, logSink(log), log).WithPending(q)
	registry := pairing.NewRegistry(st.devices, transports, bus, log, cfg.DiscoveryTimeout)

	sessions := session.NewCoordinator(session.Deps{
		Registry:   registry,
		Transports: transports,
		Queue:      q,
		Settings:   sets,
		Inbox:      in,
		Identity:   ident,
		Codec:      codec,
		Events:     bus,
		Log:        log,
	}, session.Options{
		ConnectTimeout:  cfg.ConnectTimeout,
		TransferTimeout: cfg.TransferTimeout,
		MaxConcurrent:   cfg.MaxConcurrent,
		Policy:          policy,
	})

	deps := relay.Deps{
		Queue:      q,
		Settings:   sets,
		Inbox:      in,
		Identity:   ident,
		Codec:      codec,
		Conditions: app.conditions,
		Events:     bus,
		Log:        log,
	}
	if app.relay != nil {
		deps.Endpoint = app.relay
	}
	relayCoord := relay.NewCoordinator(deps, relay.Options{Debounce: cfg.Debounce})

	app.engine = NewEngine(Deps{
		Identity:   ident,
		Settings:   sets,
		Queue:      q,
		Inbox:      in,
		Registry:   registry,
		Sessions:   sessions,
		Relay:      relayCoord,
		Transports: transports,
		Conditions: app.conditions,
		Bus:        bus,
		Log:        log,
	}, Options{
		BackgroundInterval: cfg.BackgroundInterval,
		Retention:          cfg.Retention,
		Passive:            cfg.Passive,
	})

	return app, nil
}

func (a *App) buildTransports(id model.DeviceIdentity) (*transport.Registry, error) {
	var caps []transport.Capability
	if !a.config.DisableLAN {
		caps = append(caps, lan.New(lan.Config{
			ListenAddr: a.config.ListenAddr,
			Peers:      a.config.LANPeers,
			DeviceID:   id.DeviceID,
			DeviceName: id.DeviceName,
		}, a.log))
	}
	if a.config.RelayEnabled() {
		a.relay = cloud.NewClient(a.config.RelayURL, a.config.RelayToken, id.DeviceID, a.log)
		a.cloud = cloud.NewTransport(a.relay, id.DeviceID, id.DeviceName, a.config.RelayPoll, a.log)
		caps = append(caps, a.cloud)
	}
	return transport.NewRegistry(caps...)
}

// logSink получатель принятых операций по умолчанию: данные принадлежат приложению-компаньону,
// клиент командной строки их только журналирует
func logSink(log *slog.Logger) inbox.Sink {
	log = log.With(slog.String("component", "sink"))
	return inbox.SinkFunc(func(_ context.Context, ops []model.SyncOperation) error {
		for _, op := range ops {
			log.Info("remote operation applied",
				slog.String("operation_id", op.OperationID),
				slog.String("kind", op.Kind),
				slog.String("record_key", op.RecordKey),
				slog.Int("size", op.Size()))
		}
		return nil
	})
}

func (a *App) Engine() *Engine {
	return a.engine
}

func (a *App) Config() *config.Config {
	return a.config
}

// Conditions условия сети и питания, изменяемые на лету
func (a *App) Conditions() *conditions.Static {
	return a.conditions
}

// IsInitialized создан ли ключ группы
func (a *App) IsInitialized() bool {
	return a.keys.IsInitialized()
}

// InitKey создает ключ группы из парольной фразы
func (a *App) InitKey(passphrase string) error {
	if err := a.keys.Generate(passphrase, a.config.SyncGroup, ""); err != nil {
		return fmt.Errorf("ошибка генерации ключа: %w", err)
	}
	return nil
}

// Unlock разблокирует ключ группы
func (a *App) Unlock(passphrase string) error {
	if !a.keys.IsInitialized() {
		return crypto.ErrNotInitialized
	}
	if err := a.keys.Unlock(passphrase); err != nil {
		return fmt.Errorf("ошибка разблокировки ключа: %w", err)
	}
	return nil
}

func (a *App) IsUnlocked() bool {
	return !a.keys.IsLocked()
}

func (a *App) KeyHeader() crypto.KeyHeader {
	return a.keys.Header()
}

// CheckRelay проверяет доступность ретранслятора
func (a *App) CheckRelay(ctx context.Context) error {
	if a.relay == nil {
		return relay.ErrNotConfigured
	}
	ctx, cancel := context.WithTimeout(ctx, relayCheckTimeout)
	defer cancel()
	return a.relay.HealthCheck(ctx)
}

// Start инициализирует движок и чистит устаревший журнал
func (a *App) Start(ctx context.Context) error {
	if err := a.engine.Initialize(ctx); err != nil {
		return err
	}
	if _, err := a.engine.Cleanup(ctx); err != nil {
		a.log.Warn("failed to purge applied log", slog.String("error", err.Error()))
	}
	return nil
}

// Run работает до отмены ctx: принимает входящие сессии и выполняет синхронизацию по расписанию
func (a *App) Run(ctx context.Context) error {
	if !a.IsUnlocked() {
		return ErrLocked
	}
	if err := a.Start(ctx); err != nil {
		return err
	}
	a.log.Info("sync daemon started",
		slog.String("device_id", a.engine.GetDeviceID()),
		slog.String("env", a.config.Env),
		slog.Bool("relay", a.config.RelayEnabled()))

	<-ctx.Done()
	a.log.Info("sync daemon stopping")
	return nil
}

// Close останавливает движок, транспорты и закрывает хранилище
func (a *App) Close() error {
	var errs []error
	if err := a.engine.Close(); err != nil {
		errs = append(errs, err)
	}
	if a.cloud != nil {
		if err := a.cloud.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.keys.Lock()
	if err := a.closeStorage(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (a *App) closeStorage() error {
	if a.storage == nil {
		return nil
	}
	return a.storage.Close()
}
