// Package relay синхронизация через единственную удаленную точку: push очереди, затем pull.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/exp/slog"

	"companionsync/internal/domain/conditions"
	"companionsync/internal/domain/event"
	"companionsync/internal/domain/inbox"
	"companionsync/internal/domain/queue"
	"companionsync/internal/domain/settings"
	"companionsync/internal/model"
)

// DefaultMaxBatchBytes ограничение размера одного отправляемого пакета
const DefaultMaxBatchBytes = 1 << 20

// Endpoint удаленная точка синхронизации
type Endpoint interface {
	Push(ctx context.Context, env model.Envelope) error
	// Pull возвращает конверты после cursor и новый курсор
	Pull(ctx context.Context, cursor string) ([]model.Envelope, string, error)
}

// Codec шифрование пакетов
type Codec interface {
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(data []byte) ([]byte, error)
}

// Identity источник метаданных устройства для пакета
type Identity interface {
	Identity() model.DeviceIdentity
}

// Options параметры координатора
type Options struct {
	Debounce      time.Duration
	MaxBatchBytes int
}

// Deps зависимости координатора
type Deps struct {
	Queue      *queue.Service
	Settings   *settings.Service
	Inbox      *inbox.Inbox
	Identity   Identity
	Codec      Codec
	Endpoint   Endpoint
	Conditions conditions.Provider
	Events     event.Publisher
	Log        *slog.Logger
}

// Coordinator отложенная и периодическая синхронизация с ретранслятором
type Coordinator struct {
	queue    *queue.Service
	settings *settings.Service
	inbox    *inbox.Inbox
	identity Identity
	codec    Codec
	endpoint Endpoint
	cond     conditions.Provider
	events   event.Publisher
	log      *slog.Logger

	maxBatch  int
	debouncer *Debouncer
	inFlight  atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	tickerStop chan struct{}
	closed     bool
}

// NewCoordinator создает координатор. Таймер не запущен до EnableSync(true).
func NewCoordinator(d Deps, opts Options) *Coordinator {
	if opts.MaxBatchBytes <= 0 {
		opts.MaxBatchBytes = DefaultMaxBatchBytes
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		queue:    d.Queue,
		settings: d.Settings,
		inbox:    d.Inbox,
		identity: d.Identity,
		codec:    d.Codec,
		endpoint: d.Endpoint,
		cond:     d.Conditions,
		events:   d.Events,
		log:      d.Log.With(slog.String("component", "relay_sync")),
		maxBatch: opts.MaxBatchBytes,
		ctx:      ctx,
		cancel:   cancel,
	}
	c.debouncer = NewDebouncer(opts.Debounce, c.runBackground)
	return c
}

// EnableSync включает или выключает автоматическую синхронизацию.
// Включение запускает периодический таймер (при AutoSync) и одну отложенную попытку.
func (c *Coordinator) EnableSync(enabled bool) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.stopTickerLocked()
	if enabled {
		cfg := c.settings.Config()
		if cfg.AutoSync && cfg.Interval() > 0 {
			c.startTickerLocked(cfg.Interval())
		}
	}
	c.mu.Unlock()

	if enabled {
		c.debouncer.Trigger()
		return
	}
	c.debouncer.Cancel()
}

// Reconfigure перезапускает таймер после изменения настроек
func (c *Coordinator) Reconfigure() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.stopTickerLocked()
	cfg := c.settings.Config()
	if c.settings.Enabled() && cfg.AutoSync && cfg.Interval() > 0 {
		c.startTickerLocked(cfg.Interval())
	}
}

// Scheduled запущен ли периодический таймер
func (c *Coordinator) Scheduled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tickerStop != nil
}

// EnqueueAndNotify ставит операцию в очередь и запускает отложенную синхронизацию
func (c *Coordinator) EnqueueAndNotify(ctx context.Context, op model.SyncOperation) (bool, error) {
	added, err := c.queue.Enqueue(ctx, op)
	if err != nil {
		return false, err
	}
	if c.settings.Enabled() {
		c.debouncer.Trigger()
	}
	return added, nil
}

// ForceSync отменяет ожидание и синхронизирует немедленно
func (c *Coordinator) ForceSync(ctx context.Context) model.SyncResult {
	c.debouncer.Cancel()
	return c.PerformSync(ctx)
}

// PendingSync ожидается ли отложенная попытка
func (c *Coordinator) PendingSync() bool {
	return c.debouncer.Pending()
}

// PerformSync одна попытка: отправка очереди, затем получение удаленных изменений.
// Параллельный вызов сразу получает SYNC_UNAVAILABLE.
func (c *Coordinator) PerformSync(ctx context.Context) model.SyncResult {
	if !c.settings.Enabled() {
		return c.finish(model.FailedResult(model.ErrSyncUnavailable, "sync is disabled"))
	}
	cfg := c.settings.Config()
	if cfg.WifiOnlyOrUnmetered && c.cond != nil && c.cond.Metered() {
		return c.finish(model.FailedResult(model.ErrSyncUnavailable, "metered network, waiting for wifi"))
	}
	if c.endpoint == nil {
		return c.finish(model.FailedResult(model.ErrSyncUnavailable, ErrNotConfigured.Error()))
	}
	if !c.inFlight.CompareAndSwap(false, true) {
		return c.finish(model.FailedResult(model.ErrSyncUnavailable, "sync already in progress"))
	}
	defer c.inFlight.Store(false)

	return c.finish(c.sync(ctx, cfg))
}

func (c *Coordinator) sync(ctx context.Context, cfg model.SyncConfiguration) model.SyncResult {
	batch, err := c.queue.PeekMatching(ctx, c.maxBatch, func(op model.SyncOperation) bool {
		return cfg.Allows(op.Kind)
	})
	if err != nil {
		return model.FailedResult(model.ErrPushFailed, err.Error())
	}

	pushed := 0
	if len(batch) > 0 {
		if err := c.push(ctx, batch); err != nil {
			// операции не удалялись; RequeueFront восстанавливает голову, если их успели забрать
			if rqErr := c.queue.RequeueFront(ctx, batch); rqErr != nil {
				c.log.Error("failed to requeue batch", slog.String("error", rqErr.Error()))
			}
			c.log.Warn("push failed", slog.Int("operations", len(batch)), slog.String("error", err.Error()))
			return model.FailedResult(model.ErrPushFailed, err.Error())
		}
		n, err := c.queue.Acknowledge(ctx, model.OperationIDs(batch))
		if err != nil {
			c.log.Error("failed to acknowledge pushed operations", slog.String("error", err.Error()))
		}
		pushed = n
	}

	pulled, rejected, err := c.pull(ctx, cfg)
	if err != nil {
		c.log.Warn("pull failed", slog.String("error", err.Error()))
		res := model.FailedResult(model.ErrPullFailed, err.Error())
		res.OperationsCount = pushed
		return res
	}

	now := time.Now().UTC()
	if err := c.settings.SetLastSync(ctx, now); err != nil {
		c.log.Error("failed to store last sync time", slog.String("error", err.Error()))
	}

	msg := fmt.Sprintf("pushed %d, pulled %d", pushed, pulled)
	if rejected > 0 {
		msg += fmt.Sprintf(", %d unreadable envelopes skipped", rejected)
	}
	return model.SyncResult{
		Success:         true,
		Timestamp:       now,
		Message:         msg,
		OperationsCount: pushed,
		Pulled:          pulled,
		Rejected:        rejected,
	}
}

func (c *Coordinator) push(ctx context.Context, ops []model.SyncOperation) error {
	id := c.identity.Identity()
	plain, err := json.Marshal(model.Batch{
		Version:    model.BatchVersion,
		DeviceID:   id.DeviceID,
		DeviceName: id.DeviceName,
		SessionID:  id.SessionID,
		Timestamp:  time.Now().UTC(),
		Operations: ops,
	})
	if err != nil {
		return fmt.Errorf("failed to encode batch: %w", err)
	}
	data, err := c.codec.Encrypt(plain)
	if err != nil {
		return fmt.Errorf("failed to encrypt batch: %w", err)
	}

	return c.endpoint.Push(ctx, model.Envelope{
		ID:        uuid.NewString(),
		DeviceID:  id.DeviceID,
		Data:      data,
		Count:     len(ops),
		CreatedAt: time.Now().UTC(),
	})
}

// pull возвращает число примененных операций и число нечитаемых конвертов
func (c *Coordinator) pull(ctx context.Context, cfg model.SyncConfiguration) (int, int, error) {
	cursor, err := c.settings.RelayCursor(ctx)
	if err != nil {
		return 0, 0, err
	}
	envelopes, next, err := c.endpoint.Pull(ctx, cursor)
	if err != nil {
		return 0, 0, err
	}

	self := c.identity.Identity().DeviceID
	applied, rejected := 0, 0
	for _, env := range envelopes {
		if env.DeviceID == self {
			continue
		}
		batch, err := c.open(env)
		if err != nil {
			c.log.Warn("skipping unreadable envelope",
				slog.String("envelope_id", env.ID),
				slog.String("device_id", env.DeviceID),
				slog.String("error", err.Error()))
			rejected++
			continue
		}
		ops := make([]model.SyncOperation, 0, len(batch.Operations))
		for _, op := range batch.Operations {
			if cfg.Allows(op.Kind) {
				ops = append(ops, op)
			}
		}
		rep, err := c.inbox.Apply(ctx, "relay:"+batch.DeviceID, ops)
		if err != nil {
			return applied, rejected, err
		}
		applied += rep.Applied
	}

	if next != "" && next != cursor {
		if err := c.settings.SetRelayCursor(ctx, next); err != nil {
			return applied, rejected, err
		}
	}
	return applied, rejected, nil
}

func (c *Coordinator) open(env model.Envelope) (model.Batch, error) {
	var b model.Batch
	plain, err := c.codec.Decrypt(env.Data)
	if err != nil {
		return b, err
	}
	if err := json.Unmarshal(plain, &b); err != nil {
		return b, fmt.Errorf("failed to decode batch: %w", err)
	}
	if b.Version != model.BatchVersion {
		return b, fmt.Errorf("unsupported batch version %d", b.Version)
	}
	return b, nil
}

func (c *Coordinator) finish(res model.SyncResult) model.SyncResult {
	if res.Success {
		c.log.Info("relay sync finished",
			slog.Int("pushed", res.OperationsCount),
			slog.Int("pulled", res.Pulled))
	} else {
		c.log.Debug("relay sync not completed",
			slog.String("kind", string(res.ErrorKind)),
			slog.String("message", res.Message))
	}
	if c.events != nil {
		c.events.Publish(model.RelaySyncFinished{Result: res})
	}
	return res
}

func (c *Coordinator) runBackground() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.wg.Add(1)
	c.mu.Unlock()
	defer c.wg.Done()

	c.PerformSync(c.ctx)
}

func (c *Coordinator) startTickerLocked(interval time.Duration) {
	stop := make(chan struct{})
	c.tickerStop = stop
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-stop:
				return
			case <-c.ctx.Done():
				return
			case <-t.C:
				c.PerformSync(c.ctx)
			}
		}
	}()
	c.log.Debug("periodic sync scheduled", slog.Duration("interval", interval))
}

func (c *Coordinator) stopTickerLocked() {
	if c.tickerStop != nil {
		close(c.tickerStop)
		c.tickerStop = nil
	}
}

// Close останавливает таймеры и дожидается текущей попытки
func (c *Coordinator) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.stopTickerLocked()
	c.mu.Unlock()

	c.debouncer.Stop()
	c.cancel()
	c.wg.Wait()
	return nil
}
