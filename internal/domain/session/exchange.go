package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/exp/slog"

	"companionsync/internal/domain/transport"
	"companionsync/internal/model"
)

// прогресс: 0..10 подготовка, 10..90 передача, 90 проверка, 100 завершено
const (
	progressConnected = 10
	progressTransfer  = 80
	progressVerifying = 90
)

// exchange одна передача данных в рамках сессии
type exchange struct {
	s        *liveSession
	w        *wire
	remoteID string
	local    []model.SyncOperation
	chunks   [][]byte
	remote   []model.SyncOperation
	total    int
	done     int
	applied  int
}

// runInitiator сторона, открывшая сессию: соединение, затем обмен
func (c *Coordinator) runInitiator(s *liveSession, device model.PairedDevice) {
	x, err := c.initiate(s, device)
	c.conclude(s, x, err)
}

func (c *Coordinator) initiate(s *liveSession, device model.PairedDevice) (*exchange, error) {
	ctx := s.ctx
	if err := c.advance(s, model.StatusConnecting); err != nil {
		return nil, err
	}

	capability, ok := c.transports.Get(device.Transport)
	if !ok {
		return nil, model.NewSyncError(model.ErrConnectionFailed,
			fmt.Sprintf("transport %s is not available", device.Transport), transport.ErrUnsupported)
	}

	connectCtx, cancel := context.WithTimeout(ctx, c.opts.ConnectTimeout)
	link, err := capability.Connect(connectCtx, device.ID)
	cancel()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, model.NewSyncError(model.ErrTimeout, "connection timed out", err)
		}
		return nil, model.NewSyncError(model.ErrConnectionFailed, "failed to connect", err)
	}
	defer link.Disconnect()

	if err := c.attach(s, link); err != nil {
		return nil, err
	}
	if err := c.advance(s, model.StatusTransferring); err != nil {
		return nil, err
	}
	c.reportProgress(s.snap.ID, progressConnected)

	transferCtx, cancelTransfer := context.WithTimeout(ctx, c.opts.TransferTimeout)
	defer cancelTransfer()

	x := &exchange{s: s, w: &wire{link: link}, remoteID: device.ID}
	if err := c.prepare(transferCtx, x); err != nil {
		return x, err
	}

	hello, err := c.hello(len(x.chunks))
	if err != nil {
		return x, err
	}
	if err := x.w.send(transferCtx, hello); err != nil {
		return x, err
	}
	reply, err := x.w.expect(transferCtx, frameHello)
	if err != nil {
		return x, err
	}
	if reply.DeviceID != device.ID {
		return x, fmt.Errorf("%w: hello from %s, expected %s", ErrProtocol, reply.DeviceID, device.ID)
	}
	if err := c.checkProof(reply); err != nil {
		x.w.reject(transferCtx, "key mismatch")
		return x, model.NewSyncError(model.ErrConnectionFailed, "peer failed group key check", err)
	}
	x.total = len(x.chunks) + reply.Chunks

	// инициатор отправляет первым
	if err := c.sendChunks(transferCtx, x); err != nil {
		return x, err
	}
	if err := c.receiveChunks(transferCtx, x); err != nil {
		return x, err
	}
	_ = link.Disconnect()

	return x, c.verify(ctx, x)
}

// HandleIncoming ответная сторона сессии, открытой сопряженным устройством.
// Несопряженные и занятые устройства получают кадр с ошибкой.
func (c *Coordinator) HandleIncoming(ctx context.Context, link transport.Link) {
	defer link.Disconnect()

	helloCtx, cancel := context.WithTimeout(ctx, c.opts.TransferTimeout)
	defer cancel()

	w := &wire{link: link}
	hello, err := w.expect(helloCtx, frameHello)
	if err != nil {
		c.log.Warn("incoming session without hello", slog.String("error", err.Error()))
		return
	}
	if err := c.checkProof(hello); err != nil {
		c.log.Warn("incoming session rejected", slog.String("device_id", hello.DeviceID), slog.String("error", err.Error()))
		w.reject(helloCtx, "key mismatch")
		return
	}

	device, err := c.pairedDevice(ctx, hello.DeviceID)
	if err != nil {
		c.log.Warn("incoming session from unknown device", slog.String("device_id", hello.DeviceID))
		w.reject(helloCtx, "device not paired")
		return
	}

	s, err := c.open(uuid.NewString(), device, "")
	if err != nil {
		w.reject(helloCtx, "busy")
		return
	}

	x, err := c.respond(s, w, hello)
	c.conclude(s, x, err)
}

func (c *Coordinator) respond(s *liveSession, w *wire, hello frame) (*exchange, error) {
	ctx := s.ctx
	if err := c.advance(s, model.StatusConnecting); err != nil {
		return nil, err
	}
	if err := c.attach(s, w.link); err != nil {
		return nil, err
	}
	if err := c.advance(s, model.StatusTransferring); err != nil {
		return nil, err
	}
	c.reportProgress(s.snap.ID, progressConnected)

	transferCtx, cancel := context.WithTimeout(ctx, c.opts.TransferTimeout)
	defer cancel()

	x := &exchange{s: s, w: w, remoteID: hello.DeviceID}
	if err := c.prepare(transferCtx, x); err != nil {
		w.reject(transferCtx, "internal error")
		return x, err
	}
	x.total = hello.Chunks + len(x.chunks)

	reply, err := c.hello(len(x.chunks))
	if err != nil {
		return x, err
	}
	if err := w.send(transferCtx, reply); err != nil {
		return x, err
	}
	if err := c.receiveChunks(transferCtx, x); err != nil {
		return x, err
	}
	if err := c.sendChunks(transferCtx, x); err != nil {
		return x, err
	}

	return x, c.verify(ctx, x)
}

func (c *Coordinator) hello(chunks int) (frame, error) {
	id := c.identity.Identity()
	proof, err := c.codec.Encrypt([]byte(id.DeviceID))
	if err != nil {
		return frame{}, model.NewSyncError(model.ErrUnknown, "failed to encrypt hello", err)
	}
	return frame{
		Type:       frameHello,
		Version:    protocolVersion,
		DeviceID:   id.DeviceID,
		DeviceName: id.DeviceName,
		Chunks:     chunks,
		Proof:      proof,
	}, nil
}

func (c *Coordinator) checkProof(hello frame) error {
	if hello.Version != protocolVersion {
		return fmt.Errorf("%w: protocol version %d", ErrProtocol, hello.Version)
	}
	plain, err := c.codec.Decrypt(hello.Proof)
	if err != nil {
		return err
	}
	if string(plain) != hello.DeviceID {
		return fmt.Errorf("%w: proof does not match device id", ErrProtocol)
	}
	return nil
}

// prepare снимок очереди, отфильтрованный по категориям и разбитый на зашифрованные пакеты
func (c *Coordinator) prepare(ctx context.Context, x *exchange) error {
	cfg := c.settings.Config()
	ops, err := c.queue.PeekMatching(ctx, 0, func(op model.SyncOperation) bool {
		return cfg.Allows(op.Kind)
	})
	if err != nil {
		return err
	}
	x.local = ops

	id := c.identity.Identity()
	for _, part := range split(ops, c.opts.MaxChunkBytes) {
		plain, err := json.Marshal(model.Batch{
			Version:    model.BatchVersion,
			DeviceID:   id.DeviceID,
			DeviceName: id.DeviceName,
			SessionID:  x.s.snap.ID,
			Timestamp:  time.Now().UTC(),
			Operations: part,
		})
		if err != nil {
			return fmt.Errorf("failed to encode batch: %w", err)
		}
		data, err := c.codec.Encrypt(plain)
		if err != nil {
			return model.NewSyncError(model.ErrUnknown, "failed to encrypt batch", err)
		}
		x.chunks = append(x.chunks, data)
	}
	return nil
}

// sendChunks отмена проверяется между пакетами: начатый пакет отправляется целиком
func (c *Coordinator) sendChunks(ctx context.Context, x *exchange) error {
	for i, data := range x.chunks {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := x.w.send(ctx, frame{Type: frameChunk, Seq: i, Data: data}); err != nil {
			return err
		}
		c.step(x)
	}
	return x.w.send(ctx, frame{Type: frameEnd})
}

func (c *Coordinator) receiveChunks(ctx context.Context, x *exchange) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		f, err := x.w.receive(ctx)
		if err != nil {
			return err
		}
		switch f.Type {
		case frameEnd:
			return nil
		case frameChunk:
		default:
			return fmt.Errorf("%w: %s during transfer", ErrProtocol, f.Type)
		}

		plain, err := c.codec.Decrypt(f.Data)
		if err != nil {
			return model.NewSyncError(model.ErrUnknown, "failed to decrypt batch", err)
		}
		var b model.Batch
		if err := json.Unmarshal(plain, &b); err != nil {
			return fmt.Errorf("%w: %v", ErrProtocol, err)
		}
		if b.DeviceID != x.remoteID {
			return fmt.Errorf("%w: batch from %s", ErrProtocol, b.DeviceID)
		}
		x.remote = append(x.remote, b.Operations...)
		c.step(x)
	}
}

func (c *Coordinator) step(x *exchange) {
	x.done++
	if x.total == 0 {
		return
	}
	c.reportProgress(x.s.snap.ID, progressConnected+progressTransfer*x.done/x.total)
}

// verify разрешает конфликты и применяет принятые операции через Inbox
func (c *Coordinator) verify(ctx context.Context, x *exchange) error {
	if err := c.advance(x.s, model.StatusVerifying); err != nil {
		return err
	}
	c.reportProgress(x.s.snap.ID, progressVerifying)

	cfg := c.settings.Config()
	remote := make([]model.SyncOperation, 0, len(x.remote))
	for _, op := range x.remote {
		if cfg.Allows(op.Kind) {
			remote = append(remote, op)
		}
	}

	resolved := resolve(c.opts.Policy, detectConflicts(x.local, remote))
	if c.opts.Policy == PolicyManual && len(resolved) > 0 {
		choice, err := c.awaitResolution(ctx, x, resolved)
		if err != nil {
			return err
		}
		resolved = choose(resolved, choice)
	}

	accepted := acceptedRemote(remote, resolved)
	rep, err := c.inbox.Apply(ctx, "peer:"+x.remoteID, accepted)
	if err != nil {
		return model.NewSyncError(model.ErrUnknown, "failed to apply remote operations", err)
	}
	x.applied = rep.Applied
	return nil
}

func (c *Coordinator) awaitResolution(ctx context.Context, x *exchange, conflicts []model.Conflict) (model.ConflictChoice, error) {
	ch := make(chan model.ConflictChoice, 1)
	c.mu.Lock()
	if x.s.snap.Status.IsTerminal() {
		c.mu.Unlock()
		return "", ErrSessionClosed
	}
	x.s.conflicts = conflicts
	x.s.resolved = ch
	c.mu.Unlock()

	c.log.Info("waiting for manual conflict resolution",
		slog.String("session_id", x.s.snap.ID),
		slog.Int("conflicts", len(conflicts)))
	c.events.Publish(model.ConflictDetected{
		SessionID: x.s.snap.ID,
		DeviceID:  x.remoteID,
		Conflicts: conflicts,
	})

	timer := time.NewTimer(c.opts.ConflictTimeout)
	defer timer.Stop()
	select {
	case choice := <-ch:
		return choice, nil
	case <-timer.C:
		return "", model.NewSyncError(model.ErrConflictUnresolved,
			fmt.Sprintf("%d conflicts left unresolved", len(conflicts)), nil)
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// conclude переводит сессию в конечное состояние и сообщает итог
func (c *Coordinator) conclude(s *liveSession, x *exchange, runErr error) {
	id := s.snap.ID
	deviceID := s.snap.RemoteDeviceID

	if runErr == nil {
		c.mu.Lock()
		if !s.snap.Status.CanTransitionTo(model.StatusCompleted) {
			c.mu.Unlock()
			return
		}
		c.finishLocked(s, model.StatusCompleted, "", "")
		c.mu.Unlock()
		s.cancel()

		if err := c.registry.MarkSynced(context.Background(), deviceID, time.Now()); err != nil {
			c.log.Warn("failed to update device status", slog.String("device_id", deviceID), slog.String("error", err.Error()))
		}
		c.log.Info("sync session completed",
			slog.String("session_id", id),
			slog.String("device_id", deviceID),
			slog.Int("sent", len(x.local)),
			slog.Int("applied", x.applied))
		c.events.Publish(model.SyncCompleted{
			SessionID:     id,
			DeviceID:      deviceID,
			BytesSent:     x.w.sent,
			BytesReceived: x.w.received,
			ItemsSynced:   len(x.local) + x.applied,
		})
		c.archiveLater(id)
		return
	}

	kind := classify(runErr)
	c.mu.Lock()
	if !s.snap.Status.CanTransitionTo(model.StatusFailed) {
		// уже отменена
		c.mu.Unlock()
		return
	}
	c.finishLocked(s, model.StatusFailed, runErr.Error(), kind)
	c.mu.Unlock()
	s.cancel()

	if err := c.registry.MarkError(context.Background(), deviceID); err != nil && !errors.Is(err, model.ErrNotFound) {
		c.log.Warn("failed to update device status", slog.String("device_id", deviceID), slog.String("error", err.Error()))
	}
	c.log.Warn("sync session failed",
		slog.String("session_id", id),
		slog.String("device_id", deviceID),
		slog.String("kind", string(kind)),
		slog.String("error", runErr.Error()))
	c.events.Publish(model.SyncFailed{SessionID: id, Error: runErr.Error(), Kind: kind})
	c.archiveLater(id)
}

// classify вид ошибки сессии
func classify(err error) model.ErrorKind {
	var se *model.SyncError
	switch {
	case errors.As(err, &se):
		return se.Kind
	case errors.Is(err, context.DeadlineExceeded):
		return model.ErrTimeout
	default:
		// ошибки канала и протокола
		return model.ErrConnectionFailed
	}
}

// split делит операции на части не больше maxBytes; каждая часть содержит хотя бы одну операцию
func split(ops []model.SyncOperation, maxBytes int) [][]model.SyncOperation {
	var out [][]model.SyncOperation
	var cur []model.SyncOperation
	size := 0
	for _, op := range ops {
		if len(cur) > 0 && size+op.Size() > maxBytes {
			out = append(out, cur)
			cur, size = nil, 0
		}
		cur = append(cur, op)
		size += op.Size()
	}
	if len(cur) > 0 {
		out = append(out, cur)
	}
	return out
}
