// Package session прямая синхронизация с сопряженными устройствами.
// Каждая сессия проходит PREPARING → CONNECTING → TRANSFERRING → VERIFYING → COMPLETED.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/exp/slog"
	"golang.org/x/sync/semaphore"

	"companionsync/internal/domain/event"
	"companionsync/internal/domain/inbox"
	"companionsync/internal/domain/pairing"
	"companionsync/internal/domain/queue"
	"companionsync/internal/domain/settings"
	"companionsync/internal/domain/transport"
	"companionsync/internal/model"
)

const (
	DefaultConnectTimeout  = 30 * time.Second
	DefaultTransferTimeout = 2 * time.Minute
	DefaultConflictTimeout = 5 * time.Minute
	DefaultRetention       = time.Minute
	DefaultMaxConcurrent   = 3
	DefaultMaxChunkBytes   = 256 << 10
)

// Codec шифрование пакетов
type Codec interface {
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(data []byte) ([]byte, error)
}

// Identity данные текущего устройства
type Identity interface {
	Identity() model.DeviceIdentity
}

// Options параметры координатора; нулевые значения заменяются значениями по умолчанию
type Options struct {
	ConnectTimeout  time.Duration
	TransferTimeout time.Duration
	ConflictTimeout time.Duration
	Retention       time.Duration
	MaxConcurrent   int
	MaxChunkBytes   int
	Policy          Policy
}

func (o Options) withDefaults() Options {
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = DefaultConnectTimeout
	}
	if o.TransferTimeout <= 0 {
		o.TransferTimeout = DefaultTransferTimeout
	}
	if o.ConflictTimeout <= 0 {
		o.ConflictTimeout = DefaultConflictTimeout
	}
	if o.Retention <= 0 {
		o.Retention = DefaultRetention
	}
	if o.MaxConcurrent <= 0 {
		o.MaxConcurrent = DefaultMaxConcurrent
	}
	if o.MaxChunkBytes <= 0 {
		o.MaxChunkBytes = DefaultMaxChunkBytes
	}
	if o.Policy == "" {
		o.Policy = PolicyTimestamp
	}
	return o
}

// Deps зависимости координатора
type Deps struct {
	Registry   *pairing.Registry
	Transports *transport.Registry
	Queue      *queue.Service
	Settings   *settings.Service
	Inbox      *inbox.Inbox
	Identity   Identity
	Codec      Codec
	Events     event.Publisher
	Log        *slog.Logger
}

type liveSession struct {
	snap      model.SyncSession
	ctx       context.Context
	cancel    context.CancelFunc
	link      transport.Link
	conflicts []model.Conflict
	resolved  chan model.ConflictChoice
}

// Coordinator ведет сессии с сопряженными устройствами, не более одной живой на устройство
type Coordinator struct {
	registry   *pairing.Registry
	transports *transport.Registry
	queue      *queue.Service
	settings   *settings.Service
	inbox      *inbox.Inbox
	identity   Identity
	codec      Codec
	events     event.Publisher
	log        *slog.Logger
	opts       Options

	sem    *semaphore.Weighted
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	sessions map[string]*liveSession
	// byDevice живая или зарезервированная сессия устройства
	byDevice map[string]string
	// reserved id, выданные SyncWithAllDevices до появления слота
	reserved map[string]queued
}

// queued сессия, которая ждет слота
type queued struct {
	device model.PairedDevice
	since  time.Time
}

// NewCoordinator создает координатор и подключает его к реестру для отмены при отвязке
func NewCoordinator(d Deps, opts Options) *Coordinator {
	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		registry:   d.Registry,
		transports: d.Transports,
		queue:      d.Queue,
		settings:   d.Settings,
		inbox:      d.Inbox,
		identity:   d.Identity,
		codec:      d.Codec,
		events:     d.Events,
		log:        d.Log.With(slog.String("component", "peer_sync")),
		opts:       opts,
		sem:        semaphore.NewWeighted(int64(opts.MaxConcurrent)),
		ctx:        ctx,
		cancel:     cancel,
		sessions:   make(map[string]*liveSession),
		byDevice:   make(map[string]string),
		reserved:   make(map[string]queued),
	}
	d.Registry.AttachSessions(c)
	return c
}

// Policy действующая политика конфликтов
func (c *Coordinator) Policy() Policy {
	return c.opts.Policy
}

// SyncWithDevice запускает сессию с устройством и возвращает ее id.
// Если у устройства уже есть живая сессия, возвращается ErrSessionInProgress.
func (c *Coordinator) SyncWithDevice(ctx context.Context, deviceID string) (string, error) {
	device, err := c.pairedDevice(ctx, deviceID)
	if err != nil {
		return "", err
	}

	s, err := c.open(uuid.NewString(), device, "")
	if err != nil {
		return "", err
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.runInitiator(s, device)
	}()
	return s.snap.ID, nil
}

// SyncWithAllDevices запускает сессии со всеми сопряженными устройствами.
// Одновременно живут не более MaxConcurrent сессий, остальные ждут слота.
// Устройства с живой сессией пропускаются.
func (c *Coordinator) SyncWithAllDevices(ctx context.Context) ([]string, error) {
	devices, err := c.registry.GetPairedDevices(ctx)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(devices))
	for _, device := range devices {
		id, ok := c.reserve(device)
		if !ok {
			c.log.Debug("device already syncing, skipped", slog.String("device_id", device.ID))
			continue
		}
		ids = append(ids, id)

		c.wg.Add(1)
		go func(device model.PairedDevice, id string) {
			defer c.wg.Done()
			if err := c.sem.Acquire(c.ctx, 1); err != nil {
				c.dropReservation(id)
				return
			}
			defer c.sem.Release(1)

			s, err := c.open(id, device, id)
			if err != nil {
				return
			}
			c.runInitiator(s, device)
		}(device, id)
	}
	return ids, nil
}

// Wait дожидается завершения всех запущенных сессий
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

// CancelSync отменяет сессию в любом неконечном состоянии
func (c *Coordinator) CancelSync(sessionID string) bool {
	c.mu.Lock()
	if q, ok := c.reserved[sessionID]; ok {
		delete(c.reserved, sessionID)
		if c.byDevice[q.device.ID] == sessionID {
			delete(c.byDevice, q.device.ID)
		}
		// снимок остается видимым до архивации, как у начатых сессий
		s := &liveSession{snap: queuedSnapshot(sessionID, q), cancel: func() {}}
		c.sessions[sessionID] = s
		c.finishLocked(s, model.StatusCancelled, "cancelled", "")
		c.mu.Unlock()
		c.events.Publish(model.SyncCancelled{SessionID: sessionID})
		c.archiveLater(sessionID)
		return true
	}

	s, ok := c.sessions[sessionID]
	if !ok || !s.snap.Status.CanTransitionTo(model.StatusCancelled) {
		c.mu.Unlock()
		return false
	}
	c.finishLocked(s, model.StatusCancelled, "cancelled", "")
	link := s.link
	c.mu.Unlock()

	s.cancel()
	if link != nil {
		_ = link.Disconnect()
	}
	c.log.Info("sync session cancelled", slog.String("session_id", sessionID))
	c.events.Publish(model.SyncCancelled{SessionID: sessionID})
	c.archiveLater(sessionID)
	return true
}

// CancelDeviceSessions отменяет живую сессию устройства
func (c *Coordinator) CancelDeviceSessions(deviceID string) bool {
	c.mu.Lock()
	id, ok := c.byDevice[deviceID]
	c.mu.Unlock()
	if !ok {
		return false
	}
	return c.CancelSync(id)
}

// GetSyncSessionStatus копия состояния сессии; nil если ее нет или она уже в архиве.
// Сессия, ждущая слота, видна в PREPARING с нулевым прогрессом.
func (c *Coordinator) GetSyncSessionStatus(sessionID string) *model.SyncSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	if q, ok := c.reserved[sessionID]; ok {
		snap := queuedSnapshot(sessionID, q)
		return &snap
	}
	s, ok := c.sessions[sessionID]
	if !ok {
		return nil
	}
	snap := s.snap
	if snap.EndTime != nil {
		t := *snap.EndTime
		snap.EndTime = &t
	}
	return &snap
}

// ActiveSessions число начатых сессий в неконечных состояниях; ждущие слота не считаются
func (c *Coordinator) ActiveSessions() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, s := range c.sessions {
		if !s.snap.Status.IsTerminal() {
			n++
		}
	}
	return n
}

// PendingConflicts конфликты сессии, ожидающей ручного решения
func (c *Coordinator) PendingConflicts(sessionID string) []model.Conflict {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[sessionID]
	if !ok || s.resolved == nil {
		return nil
	}
	return append([]model.Conflict(nil), s.conflicts...)
}

// ResolveConflicts решение по конфликтам сессии с политикой manual
func (c *Coordinator) ResolveConflicts(sessionID string, choice model.ConflictChoice) error {
	if choice != model.ChooseLocal && choice != model.ChooseRemote {
		return fmt.Errorf("invalid conflict choice %q", choice)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	if s.resolved == nil || s.snap.Status != model.StatusVerifying {
		return ErrNoPendingConflicts
	}
	select {
	case s.resolved <- choice:
		return nil
	default:
		return ErrNoPendingConflicts
	}
}

// Close отменяет все сессии и ждет их завершения
func (c *Coordinator) Close() error {
	c.mu.Lock()
	ids := make([]string, 0, len(c.sessions)+len(c.reserved))
	for id := range c.sessions {
		ids = append(ids, id)
	}
	for id := range c.reserved {
		ids = append(ids, id)
	}
	c.mu.Unlock()

	for _, id := range ids {
		c.CancelSync(id)
	}
	c.cancel()
	c.wg.Wait()
	return nil
}

func (c *Coordinator) pairedDevice(ctx context.Context, deviceID string) (model.PairedDevice, error) {
	device, err := c.registry.Device(ctx, deviceID)
	if errors.Is(err, model.ErrNotFound) {
		return device, fmt.Errorf("%w: %s", ErrDeviceNotPaired, deviceID)
	}
	if err != nil {
		return device, fmt.Errorf("failed to read device %s: %w", deviceID, err)
	}
	return device, nil
}

// reserve выдает id будущей сессии и занимает устройство
func (c *Coordinator) reserve(device model.PairedDevice) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, busy := c.byDevice[device.ID]; busy {
		return "", false
	}
	id := uuid.NewString()
	c.byDevice[device.ID] = id
	c.reserved[id] = queued{device: device, since: time.Now().UTC()}
	return id, true
}

func (c *Coordinator) dropReservation(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if q, ok := c.reserved[id]; ok {
		delete(c.reserved, id)
		if c.byDevice[q.device.ID] == id {
			delete(c.byDevice, q.device.ID)
		}
	}
}

func queuedSnapshot(id string, q queued) model.SyncSession {
	return model.SyncSession{
		ID:               id,
		RemoteDeviceID:   q.device.ID,
		RemoteDeviceName: q.device.Name,
		Status:           model.StatusPreparing,
		Transport:        q.device.Transport,
		StartTime:        q.since,
	}
}

// open создает сессию в PREPARING. reservation это id ранее зарезервированной сессии или "".
func (c *Coordinator) open(id string, device model.PairedDevice, reservation string) (*liveSession, error) {
	c.mu.Lock()
	if reservation != "" {
		if _, ok := c.reserved[reservation]; !ok {
			// резерв отменен до появления слота
			c.mu.Unlock()
			return nil, ErrSessionClosed
		}
		delete(c.reserved, reservation)
	} else if _, busy := c.byDevice[device.ID]; busy {
		c.mu.Unlock()
		return nil, model.NewSyncError(model.ErrSyncUnavailable,
			fmt.Sprintf("device %s is already syncing", device.ID), ErrSessionInProgress)
	}

	ctx, cancel := context.WithCancel(c.ctx)
	s := &liveSession{
		snap: model.SyncSession{
			ID:               id,
			RemoteDeviceID:   device.ID,
			RemoteDeviceName: device.Name,
			Status:           model.StatusPreparing,
			Transport:        device.Transport,
			StartTime:        time.Now().UTC(),
		},
		ctx:    ctx,
		cancel: cancel,
	}
	c.sessions[id] = s
	c.byDevice[device.ID] = id
	c.mu.Unlock()

	c.log.Info("sync session started",
		slog.String("session_id", id),
		slog.String("device_id", device.ID),
		slog.String("transport", string(device.Transport)))
	c.events.Publish(model.SyncStarted{SessionID: id, DeviceID: device.ID})
	return s, nil
}

// advance переводит сессию в следующее состояние; ErrSessionClosed если сессия уже завершена
func (c *Coordinator) advance(s *liveSession, next model.SyncStatus) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !s.snap.Status.CanTransitionTo(next) {
		return ErrSessionClosed
	}
	s.snap.Status = next
	return nil
}

// attach запоминает соединение, чтобы CancelSync мог его разорвать
func (c *Coordinator) attach(s *liveSession, link transport.Link) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s.snap.Status.IsTerminal() {
		return ErrSessionClosed
	}
	s.link = link
	return nil
}

// reportProgress публикует прогресс неконечной сессии. Для завершенных сессий ничего не делает.
func (c *Coordinator) reportProgress(sessionID string, progress int) {
	if progress > 100 {
		progress = 100
	}
	c.mu.Lock()
	s, ok := c.sessions[sessionID]
	if !ok || s.snap.Status.IsTerminal() || progress <= s.snap.Progress {
		c.mu.Unlock()
		return
	}
	s.snap.Progress = progress
	c.mu.Unlock()

	c.events.Publish(model.SyncProgress{SessionID: sessionID, Progress: progress})
}

func (c *Coordinator) finishLocked(s *liveSession, status model.SyncStatus, msg string, kind model.ErrorKind) {
	now := time.Now().UTC()
	s.snap.Status = status
	s.snap.EndTime = &now
	if status == model.StatusCompleted {
		s.snap.Progress = 100
	} else {
		s.snap.Error = msg
		s.snap.ErrorKind = kind
	}
	s.resolved = nil
	if c.byDevice[s.snap.RemoteDeviceID] == s.snap.ID {
		delete(c.byDevice, s.snap.RemoteDeviceID)
	}
}

// archiveLater убирает завершенную сессию после Retention
func (c *Coordinator) archiveLater(sessionID string) {
	time.AfterFunc(c.opts.Retention, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if s, ok := c.sessions[sessionID]; ok && s.snap.Status.IsTerminal() {
			delete(c.sessions, sessionID)
		}
	})
}
