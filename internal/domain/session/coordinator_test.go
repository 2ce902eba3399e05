package session

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"

	"companionsync/internal/app/client/crypto"
	"companionsync/internal/domain/event"
	"companionsync/internal/domain/inbox"
	"companionsync/internal/domain/pairing"
	"companionsync/internal/domain/queue"
	"companionsync/internal/domain/settings"
	"companionsync/internal/domain/transport"
	"companionsync/internal/infrastructure/storage/memory"
	"companionsync/internal/infrastructure/transport/loopback"
	"companionsync/internal/model"
)

var groupKey = crypto.StaticKey(bytes.Repeat([]byte{42}, 32))

type staticIdentity model.DeviceIdentity

func (s staticIdentity) Identity() model.DeviceIdentity { return model.DeviceIdentity(s) }

// recorder собирает события шины
type recorder struct {
	mu     sync.Mutex
	events []model.SyncEvent
}

func (r *recorder) listen(ev model.SyncEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) count(match func(model.SyncEvent) bool) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if match(ev) {
			n++
		}
	}
	return n
}

func (r *recorder) progressFor(sessionID string) int {
	return r.count(func(ev model.SyncEvent) bool {
		p, ok := ev.(model.SyncProgress)
		return ok && p.SessionID == sessionID
	})
}

type node struct {
	id        string
	coord     *Coordinator
	registry  *pairing.Registry
	queue     *queue.Service
	settings  *settings.Service
	applied   *memory.Applied
	transport *loopback.Transport
	bus       *event.Bus
	events    *recorder
	delivered *[]model.SyncOperation
}

func newNode(t *testing.T, net *loopback.Network, id string, opts Options) *node {
	t.Helper()
	log := slog.Default()

	tr := loopback.New(net, model.TransportWifi, id, id)
	treg, err := transport.NewRegistry(tr)
	require.NoError(t, err)

	bus := event.NewBus(log)
	rec := &recorder{}
	bus.AddListener(rec.listen)

	var mu sync.Mutex
	delivered := &[]model.SyncOperation{}
	applied := memory.NewApplied()
	in := inbox.New(applied, inbox.SinkFunc(func(_ context.Context, ops []model.SyncOperation) error {
		mu.Lock()
		defer mu.Unlock()
		*delivered = append(*delivered, ops...)
		return nil
	}), log)

	reg := pairing.NewRegistry(memory.NewDevices(), treg, bus, log, time.Second)
	q := queue.NewService(memory.NewQueue(), log)
	st := settings.NewService(memory.NewKV(), log)

	coord := NewCoordinator(Deps{
		Registry:   reg,
		Transports: treg,
		Queue:      q,
		Settings:   st,
		Inbox:      in,
		Identity:   staticIdentity{DeviceID: id, DeviceName: id, SessionID: id + "-process"},
		Codec:      crypto.NewCodec(groupKey, crypto.CipherXChaCha20),
		Events:     bus,
		Log:        log,
	}, opts)

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = tr.Listen(ctx, coord.HandleIncoming) }()
	t.Cleanup(func() {
		cancel()
		_ = coord.Close()
	})
	// дождаться регистрации обработчика
	time.Sleep(5 * time.Millisecond)

	return &node{
		id: id, coord: coord, registry: reg, queue: q, settings: st, applied: applied,
		transport: tr, bus: bus, events: rec, delivered: delivered,
	}
}

func pair(t *testing.T, a, b *node) {
	t.Helper()
	_, err := a.registry.PairDevice(context.Background(), b.id, b.id, model.TransportWifi)
	require.NoError(t, err)
	_, err = b.registry.PairDevice(context.Background(), a.id, a.id, model.TransportWifi)
	require.NoError(t, err)
}

func enqueue(t *testing.T, n *node, key, payload string, at time.Time) model.SyncOperation {
	t.Helper()
	op := model.NewOperation(model.KindMemory, key, []byte(payload))
	op.CreatedAt = at
	_, err := n.queue.Enqueue(context.Background(), op)
	require.NoError(t, err)
	return op
}

func waitStatus(t *testing.T, c *Coordinator, id string, want model.SyncStatus) {
	t.Helper()
	require.Eventually(t, func() bool {
		s := c.GetSyncSessionStatus(id)
		return s != nil && s.Status == want
	}, 2*time.Second, 5*time.Millisecond, "session %s never reached %s", id, want)
}

// silentPeer принимает соединения и ничего не отвечает
func silentPeer(t *testing.T, net *loopback.Network, id string) {
	t.Helper()
	tr := loopback.New(net, model.TransportWifi, id, id)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() {
		_ = tr.Listen(ctx, func(ctx context.Context, link transport.Link) {
			<-ctx.Done()
		})
	}()
	time.Sleep(5 * time.Millisecond)
}

func TestSyncWithDevice_Completes(t *testing.T) {
	net := loopback.NewNetwork()
	a := newNode(t, net, "A", Options{})
	b := newNode(t, net, "B", Options{})
	pair(t, a, b)

	now := time.Now().UTC()
	opA := enqueue(t, a, "note-a", "from a", now)
	opB := enqueue(t, b, "note-b", "from b", now)

	id, err := a.coord.SyncWithDevice(context.Background(), "B")
	require.NoError(t, err)
	waitStatus(t, a.coord, id, model.StatusCompleted)

	s := a.coord.GetSyncSessionStatus(id)
	assert.Equal(t, 100, s.Progress)
	assert.NotNil(t, s.EndTime)
	assert.Equal(t, "B", s.RemoteDeviceID)

	assert.Eventually(t, func() bool {
		return b.events.count(func(ev model.SyncEvent) bool { _, ok := ev.(model.SyncCompleted); return ok }) == 1
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, []string{opB.OperationID}, model.OperationIDs(*a.delivered))
	assert.Equal(t, []string{opA.OperationID}, model.OperationIDs(*b.delivered))

	// очередь не подтверждается прямой сессией
	n, err := a.queue.Len(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	dev, err := a.registry.Device(context.Background(), "B")
	require.NoError(t, err)
	assert.Equal(t, model.DeviceStatusSynced, dev.Status)
	assert.NotNil(t, dev.LastSyncTime)

	var completed model.SyncCompleted
	a.events.count(func(ev model.SyncEvent) bool {
		if c, ok := ev.(model.SyncCompleted); ok {
			completed = c
			return true
		}
		return false
	})
	assert.Equal(t, 2, completed.ItemsSynced)
	assert.Positive(t, completed.BytesSent)
	assert.Positive(t, completed.BytesReceived)
	assert.Positive(t, a.events.progressFor(id))
}

func TestSyncWithDevice_NotPaired(t *testing.T) {
	net := loopback.NewNetwork()
	a := newNode(t, net, "A", Options{})

	_, err := a.coord.SyncWithDevice(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrDeviceNotPaired)
}

func TestSyncWithDevice_Exclusive(t *testing.T) {
	net := loopback.NewNetwork()
	a := newNode(t, net, "A", Options{TransferTimeout: time.Minute})
	silentPeer(t, net, "S")
	_, err := a.registry.PairDevice(context.Background(), "S", "silent", model.TransportWifi)
	require.NoError(t, err)

	id, err := a.coord.SyncWithDevice(context.Background(), "S")
	require.NoError(t, err)

	_, err = a.coord.SyncWithDevice(context.Background(), "S")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSessionInProgress)
	assert.Equal(t, model.ErrSyncUnavailable, model.KindOf(err))

	var se *model.SyncError
	assert.True(t, errors.As(err, &se))
	assert.True(t, a.coord.CancelSync(id))
}

func TestCancelSync_FromTransferring(t *testing.T) {
	net := loopback.NewNetwork()
	a := newNode(t, net, "A", Options{TransferTimeout: time.Minute})
	silentPeer(t, net, "S")
	_, err := a.registry.PairDevice(context.Background(), "S", "silent", model.TransportWifi)
	require.NoError(t, err)

	id, err := a.coord.SyncWithDevice(context.Background(), "S")
	require.NoError(t, err)
	waitStatus(t, a.coord, id, model.StatusTransferring)

	assert.True(t, a.coord.CancelSync(id))
	s := a.coord.GetSyncSessionStatus(id)
	require.NotNil(t, s)
	assert.Equal(t, model.StatusCancelled, s.Status)

	before := a.events.progressFor(id)
	a.coord.reportProgress(id, 75)
	a.coord.reportProgress(id, 99)
	assert.Equal(t, before, a.events.progressFor(id))

	assert.False(t, a.coord.CancelSync(id), "cancel of a terminal session")

	a.coord.Wait()
	s = a.coord.GetSyncSessionStatus(id)
	assert.Equal(t, model.StatusCancelled, s.Status, "runner must not overwrite CANCELLED")
	assert.Equal(t, 1, a.events.count(func(ev model.SyncEvent) bool { _, ok := ev.(model.SyncCancelled); return ok }))
	assert.Zero(t, a.events.count(func(ev model.SyncEvent) bool { _, ok := ev.(model.SyncFailed); return ok }))
}

func TestSyncWithDevice_TransferTimeout(t *testing.T) {
	net := loopback.NewNetwork()
	a := newNode(t, net, "A", Options{TransferTimeout: 50 * time.Millisecond})
	silentPeer(t, net, "S")
	_, err := a.registry.PairDevice(context.Background(), "S", "silent", model.TransportWifi)
	require.NoError(t, err)

	id, err := a.coord.SyncWithDevice(context.Background(), "S")
	require.NoError(t, err)
	waitStatus(t, a.coord, id, model.StatusFailed)

	s := a.coord.GetSyncSessionStatus(id)
	assert.Equal(t, model.ErrTimeout, s.ErrorKind)

	dev, err := a.registry.Device(context.Background(), "S")
	require.NoError(t, err)
	assert.Equal(t, model.DeviceStatusError, dev.Status)
}

func TestSyncWithDevice_MissingTransport(t *testing.T) {
	net := loopback.NewNetwork()
	a := newNode(t, net, "A", Options{})
	_, err := a.registry.PairDevice(context.Background(), "BT", "headset", model.TransportBluetooth)
	require.NoError(t, err)

	id, err := a.coord.SyncWithDevice(context.Background(), "BT")
	require.NoError(t, err)
	waitStatus(t, a.coord, id, model.StatusFailed)
	assert.Equal(t, model.ErrConnectionFailed, a.coord.GetSyncSessionStatus(id).ErrorKind)
}

func TestHandleIncoming_RejectsUnpaired(t *testing.T) {
	net := loopback.NewNetwork()
	a := newNode(t, net, "A", Options{})
	b := newNode(t, net, "B", Options{})
	// только A доверяет B
	_, err := a.registry.PairDevice(context.Background(), "B", "B", model.TransportWifi)
	require.NoError(t, err)

	id, err := a.coord.SyncWithDevice(context.Background(), "B")
	require.NoError(t, err)
	waitStatus(t, a.coord, id, model.StatusFailed)

	s := a.coord.GetSyncSessionStatus(id)
	assert.Contains(t, s.Error, "device not paired")
	assert.Empty(t, *b.delivered)
}

func TestSyncWithDevice_RejectsResponderWithoutGroupKey(t *testing.T) {
	net := loopback.NewNetwork()
	a := newNode(t, net, "A", Options{})
	enqueue(t, a, "mood", "calm", time.Now())

	// отвечает корректным hello, но подтверждение зашифровано чужим ключом
	foreign := crypto.NewCodec(crypto.StaticKey(bytes.Repeat([]byte{9}, 32)), crypto.CipherXChaCha20)
	tr := loopback.New(net, model.TransportWifi, "F", "F")
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() {
		_ = tr.Listen(ctx, func(ctx context.Context, link transport.Link) {
			w := &wire{link: link}
			if _, err := w.expect(ctx, frameHello); err != nil {
				return
			}
			proof, err := foreign.Encrypt([]byte("F"))
			if err != nil {
				return
			}
			_ = w.send(ctx, frame{Type: frameHello, Version: protocolVersion, DeviceID: "F", DeviceName: "F", Proof: proof})
			<-ctx.Done()
		})
	}()
	time.Sleep(5 * time.Millisecond)

	_, err := a.registry.PairDevice(context.Background(), "F", "F", model.TransportWifi)
	require.NoError(t, err)

	id, err := a.coord.SyncWithDevice(context.Background(), "F")
	require.NoError(t, err)
	waitStatus(t, a.coord, id, model.StatusFailed)

	s := a.coord.GetSyncSessionStatus(id)
	assert.Equal(t, model.ErrConnectionFailed, s.ErrorKind)
	assert.Contains(t, s.Error, "group key")

	device, err := a.registry.Device(context.Background(), "F")
	require.NoError(t, err)
	assert.NotEqual(t, model.DeviceStatusSynced, device.Status)
	assert.Nil(t, device.LastSyncTime)
}

func TestSyncWithAllDevices_Bounded(t *testing.T) {
	net := loopback.NewNetwork()
	a := newNode(t, net, "A", Options{MaxConcurrent: 3})
	a.transport.ConnectDelay = 30 * time.Millisecond

	var (
		mu            sync.Mutex
		active, peak  int
		terminalCount int
	)
	a.bus.AddListener(func(ev model.SyncEvent) {
		mu.Lock()
		defer mu.Unlock()
		switch ev.(type) {
		case model.SyncStarted:
			active++
			if active > peak {
				peak = active
			}
		case model.SyncCompleted, model.SyncFailed, model.SyncCancelled:
			active--
			terminalCount++
		}
	})

	for _, id := range []string{"P1", "P2", "P3", "P4", "P5"} {
		p := newNode(t, net, id, Options{})
		pair(t, a, p)
	}

	ids, err := a.coord.SyncWithAllDevices(context.Background())
	require.NoError(t, err)
	require.Len(t, ids, 5)

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return terminalCount == 5
	}, 5*time.Second, 10*time.Millisecond)

	mu.Lock()
	assert.LessOrEqual(t, peak, 3)
	assert.Positive(t, peak)
	mu.Unlock()

	for _, id := range ids {
		s := a.coord.GetSyncSessionStatus(id)
		require.NotNil(t, s)
		assert.Equal(t, model.StatusCompleted, s.Status)
	}
}

func TestSyncWithAllDevices_QueuedVisible(t *testing.T) {
	net := loopback.NewNetwork()
	a := newNode(t, net, "A", Options{MaxConcurrent: 3})
	a.transport.ConnectDelay = 200 * time.Millisecond

	for _, id := range []string{"P1", "P2", "P3", "P4", "P5"} {
		p := newNode(t, net, id, Options{})
		pair(t, a, p)
	}

	ids, err := a.coord.SyncWithAllDevices(context.Background())
	require.NoError(t, err)
	require.Len(t, ids, 5)

	time.Sleep(20 * time.Millisecond)
	devices := make(map[string]bool)
	for _, id := range ids {
		s := a.coord.GetSyncSessionStatus(id)
		require.NotNil(t, s, "session %s", id)
		assert.Equal(t, id, s.ID)
		assert.False(t, s.Status.IsTerminal())
		assert.NotEmpty(t, s.RemoteDeviceID)
		devices[s.RemoteDeviceID] = true
	}
	assert.Len(t, devices, 5)
	assert.LessOrEqual(t, a.coord.ActiveSessions(), 3)

	for _, id := range ids {
		waitStatus(t, a.coord, id, model.StatusCompleted)
	}
}

func TestCancelSync_Queued(t *testing.T) {
	net := loopback.NewNetwork()
	a := newNode(t, net, "A", Options{MaxConcurrent: 1, TransferTimeout: time.Minute})
	for _, id := range []string{"S1", "S2"} {
		silentPeer(t, net, id)
		_, err := a.registry.PairDevice(context.Background(), id, "silent "+id, model.TransportWifi)
		require.NoError(t, err)
	}

	ids, err := a.coord.SyncWithAllDevices(context.Background())
	require.NoError(t, err)
	require.Len(t, ids, 2)

	var running, waiting string
	require.Eventually(t, func() bool {
		for i, id := range ids {
			if s := a.coord.GetSyncSessionStatus(id); s != nil && s.Status == model.StatusTransferring {
				running, waiting = id, ids[1-i]
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)

	s := a.coord.GetSyncSessionStatus(waiting)
	require.NotNil(t, s)
	assert.Equal(t, model.StatusPreparing, s.Status)
	assert.Zero(t, s.Progress)
	assert.Equal(t, 1, a.coord.ActiveSessions())

	require.True(t, a.coord.CancelSync(waiting))
	s = a.coord.GetSyncSessionStatus(waiting)
	require.NotNil(t, s, "cancelled queued session stays visible until archived")
	assert.Equal(t, model.StatusCancelled, s.Status)
	assert.NotNil(t, s.EndTime)
	assert.False(t, a.coord.CancelSync(waiting))
	assert.Equal(t, 1, a.events.count(func(ev model.SyncEvent) bool {
		c, ok := ev.(model.SyncCancelled)
		return ok && c.SessionID == waiting
	}))

	require.True(t, a.coord.CancelSync(running))
	// освободившийся слот не запускает отмененную сессию
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, model.StatusCancelled, a.coord.GetSyncSessionStatus(waiting).Status)
}

func TestSyncWithAllDevices_SkipsLive(t *testing.T) {
	net := loopback.NewNetwork()
	a := newNode(t, net, "A", Options{TransferTimeout: time.Minute})
	silentPeer(t, net, "S")
	_, err := a.registry.PairDevice(context.Background(), "S", "silent", model.TransportWifi)
	require.NoError(t, err)

	first, err := a.coord.SyncWithDevice(context.Background(), "S")
	require.NoError(t, err)

	ids, err := a.coord.SyncWithAllDevices(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ids)
	assert.True(t, a.coord.CancelSync(first))
}

func TestUnpair_CancelsLiveSession(t *testing.T) {
	net := loopback.NewNetwork()
	a := newNode(t, net, "A", Options{TransferTimeout: time.Minute})
	silentPeer(t, net, "S")
	_, err := a.registry.PairDevice(context.Background(), "S", "silent", model.TransportWifi)
	require.NoError(t, err)

	id, err := a.coord.SyncWithDevice(context.Background(), "S")
	require.NoError(t, err)
	waitStatus(t, a.coord, id, model.StatusTransferring)

	ok, err := a.registry.UnpairDevice(context.Background(), "S")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, model.StatusCancelled, a.coord.GetSyncSessionStatus(id).Status)
}

func TestManualConflict(t *testing.T) {
	net := loopback.NewNetwork()
	a := newNode(t, net, "A", Options{Policy: PolicyManual, ConflictTimeout: 5 * time.Second})
	b := newNode(t, net, "B", Options{Policy: PolicyLocalWins})
	pair(t, a, b)

	now := time.Now().UTC()
	enqueue(t, a, "theme", "dark", now)
	remote := enqueue(t, b, "theme", "light", now.Add(-time.Minute))

	id, err := a.coord.SyncWithDevice(context.Background(), "B")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return a.events.count(func(ev model.SyncEvent) bool { _, ok := ev.(model.ConflictDetected); return ok }) == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, model.StatusVerifying, a.coord.GetSyncSessionStatus(id).Status)
	require.Len(t, a.coord.PendingConflicts(id), 1)

	require.NoError(t, a.coord.ResolveConflicts(id, model.ChooseRemote))
	waitStatus(t, a.coord, id, model.StatusCompleted)
	assert.Equal(t, []string{remote.OperationID}, model.OperationIDs(*a.delivered))

	// B оставил свою версию
	assert.Empty(t, *b.delivered)
	assert.ErrorIs(t, a.coord.ResolveConflicts(id, model.ChooseLocal), ErrNoPendingConflicts)
}

func TestManualConflict_Unresolved(t *testing.T) {
	net := loopback.NewNetwork()
	a := newNode(t, net, "A", Options{Policy: PolicyManual, ConflictTimeout: 50 * time.Millisecond})
	b := newNode(t, net, "B", Options{})
	pair(t, a, b)

	now := time.Now().UTC()
	enqueue(t, a, "theme", "dark", now)
	enqueue(t, b, "theme", "light", now)

	id, err := a.coord.SyncWithDevice(context.Background(), "B")
	require.NoError(t, err)
	waitStatus(t, a.coord, id, model.StatusFailed)
	assert.Equal(t, model.ErrConflictUnresolved, a.coord.GetSyncSessionStatus(id).ErrorKind)
	assert.Empty(t, *a.delivered)
}

func TestSessionArchived(t *testing.T) {
	net := loopback.NewNetwork()
	a := newNode(t, net, "A", Options{Retention: 20 * time.Millisecond})
	b := newNode(t, net, "B", Options{})
	pair(t, a, b)

	id, err := a.coord.SyncWithDevice(context.Background(), "B")
	require.NoError(t, err)
	assert.Eventually(t, func() bool {
		return a.events.count(func(ev model.SyncEvent) bool { _, ok := ev.(model.SyncCompleted); return ok }) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return a.coord.GetSyncSessionStatus(id) == nil }, time.Second, 5*time.Millisecond)
}
