package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"

	"companionsync/internal/app/client/crypto"
	"companionsync/internal/domain/conditions"
	"companionsync/internal/domain/event"
	"companionsync/internal/domain/inbox"
	"companionsync/internal/domain/queue"
	"companionsync/internal/domain/settings"
	"companionsync/internal/infrastructure/storage/memory"
	"companionsync/internal/model"
)

// MockEndpoint мок удаленной точки
type MockEndpoint struct {
	mock.Mock
}

func (m *MockEndpoint) Push(ctx context.Context, env model.Envelope) error {
	return m.Called(ctx, env).Error(0)
}

func (m *MockEndpoint) Pull(ctx context.Context, cursor string) ([]model.Envelope, string, error) {
	args := m.Called(ctx, cursor)
	envs, _ := args.Get(0).([]model.Envelope)
	return envs, args.String(1), args.Error(2)
}

type staticIdentity model.DeviceIdentity

func (s staticIdentity) Identity() model.DeviceIdentity { return model.DeviceIdentity(s) }

type recorder struct {
	mu     sync.Mutex
	events []model.SyncEvent
}

func (r *recorder) Publish(ev model.SyncEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) results() []model.SyncResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.SyncResult
	for _, ev := range r.events {
		if f, ok := ev.(model.RelaySyncFinished); ok {
			out = append(out, f.Result)
		}
	}
	return out
}

type fixture struct {
	coord    *Coordinator
	queue    *queue.Service
	settings *settings.Service
	endpoint *MockEndpoint
	cond     *conditions.Static
	events   *recorder
	codec    *crypto.Codec
}

func newFixture(t *testing.T, debounce time.Duration) *fixture {
	t.Helper()
	log := slog.Default()
	kv := memory.NewKV()
	st := settings.NewService(kv, log)
	require.NoError(t, st.SetEnabled(context.Background(), true))

	f := &fixture{
		queue:    queue.NewService(memory.NewQueue(), log),
		settings: st,
		endpoint: new(MockEndpoint),
		cond:     conditions.NewStatic(false, 100),
		events:   &recorder{},
		codec:    crypto.NewCodec(crypto.StaticKey(bytes.Repeat([]byte{1}, 32)), crypto.CipherXChaCha20),
	}
	f.coord = NewCoordinator(Deps{
		Queue:      f.queue,
		Settings:   st,
		Inbox:      inbox.New(memory.NewApplied(), nil, log),
		Identity:   staticIdentity{DeviceID: "self", DeviceName: "laptop", SessionID: "s1"},
		Codec:      f.codec,
		Endpoint:   f.endpoint,
		Conditions: f.cond,
		Events:     f.events,
		Log:        log,
	}, Options{Debounce: debounce})
	t.Cleanup(func() { _ = f.coord.Close() })
	return f
}

func (f *fixture) enqueue(t *testing.T, kind string) model.SyncOperation {
	t.Helper()
	op := model.NewOperation(kind, "", []byte(kind+"-payload"))
	_, err := f.queue.Enqueue(context.Background(), op)
	require.NoError(t, err)
	return op
}

func (f *fixture) queued(t *testing.T) []string {
	t.Helper()
	ops, err := f.queue.PeekBatch(context.Background(), 0)
	require.NoError(t, err)
	return model.OperationIDs(ops)
}

func (f *fixture) envelopeFrom(t *testing.T, deviceID string, ops ...model.SyncOperation) model.Envelope {
	t.Helper()
	plain, err := json.Marshal(model.Batch{Version: model.BatchVersion, DeviceID: deviceID, Operations: ops})
	require.NoError(t, err)
	data, err := f.codec.Encrypt(plain)
	require.NoError(t, err)
	return model.Envelope{ID: deviceID + "-env", DeviceID: deviceID, Data: data, Count: len(ops)}
}

func TestPerformSync_Success(t *testing.T) {
	f := newFixture(t, time.Hour)
	f.enqueue(t, model.KindMemory)

	remote := model.NewOperation(model.KindPreferences, "theme", []byte("dark"))
	f.endpoint.On("Push", mock.Anything, mock.MatchedBy(func(env model.Envelope) bool {
		return env.DeviceID == "self" && env.Count == 1
	})).Return(nil).Once()
	f.endpoint.On("Pull", mock.Anything, "").
		Return([]model.Envelope{f.envelopeFrom(t, "phone", remote)}, "c1", nil).Once()

	res := f.coord.PerformSync(context.Background())
	require.True(t, res.Success, res.Message)
	assert.Equal(t, 1, res.OperationsCount)
	assert.Equal(t, 1, res.Pulled)
	assert.Empty(t, f.queued(t))

	cursor, err := f.settings.RelayCursor(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "c1", cursor)

	_, ok, err := f.settings.LastSync(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)

	require.Len(t, f.events.results(), 1)
	assert.True(t, f.events.results()[0].Success)
	f.endpoint.AssertExpectations(t)
}

func TestPerformSync_PushFailurePreservesOrder(t *testing.T) {
	f := newFixture(t, time.Hour)
	a := f.enqueue(t, model.KindMemory)
	b := f.enqueue(t, model.KindMemory)

	f.endpoint.On("Push", mock.Anything, mock.Anything).Return(errors.New("503")).Once()

	res := f.coord.PerformSync(context.Background())
	assert.False(t, res.Success)
	assert.Equal(t, model.ErrPushFailed, res.ErrorKind)
	assert.Equal(t, []string{a.OperationID, b.OperationID}, f.queued(t))
	f.endpoint.AssertNotCalled(t, "Pull", mock.Anything, mock.Anything)
}

func TestPerformSync_AtLeastOnce(t *testing.T) {
	f := newFixture(t, time.Hour)
	a := f.enqueue(t, model.KindMemory)
	b := f.enqueue(t, model.KindPersonality)

	var pushedIDs []string
	f.endpoint.On("Push", mock.Anything, mock.Anything).Return(errors.New("offline")).Twice()
	f.endpoint.On("Push", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		env := args.Get(1).(model.Envelope)
		plain, err := f.codec.Decrypt(env.Data)
		require.NoError(t, err)
		var batch model.Batch
		require.NoError(t, json.Unmarshal(plain, &batch))
		pushedIDs = model.OperationIDs(batch.Operations)
	}).Return(nil).Once()
	f.endpoint.On("Pull", mock.Anything, mock.Anything).Return(nil, "", nil)

	for i := 0; i < 2; i++ {
		assert.Equal(t, model.ErrPushFailed, f.coord.PerformSync(context.Background()).ErrorKind)
	}
	res := f.coord.PerformSync(context.Background())
	require.True(t, res.Success)
	assert.Equal(t, []string{a.OperationID, b.OperationID}, pushedIDs)
	assert.Equal(t, 2, res.OperationsCount)
	assert.Empty(t, f.queued(t))
}

func TestPerformSync_PullFailureKeepsAck(t *testing.T) {
	f := newFixture(t, time.Hour)
	f.enqueue(t, model.KindMemory)

	f.endpoint.On("Push", mock.Anything, mock.Anything).Return(nil).Once()
	f.endpoint.On("Pull", mock.Anything, "").Return(nil, "", errors.New("timeout")).Once()

	res := f.coord.PerformSync(context.Background())
	assert.Equal(t, model.ErrPullFailed, res.ErrorKind)
	assert.Equal(t, 1, res.OperationsCount)
	assert.Empty(t, f.queued(t))

	_, ok, err := f.settings.LastSync(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPerformSync_SingleFlight(t *testing.T) {
	f := newFixture(t, time.Hour)
	f.enqueue(t, model.KindMemory)

	entered := make(chan struct{})
	release := make(chan struct{})
	f.endpoint.On("Push", mock.Anything, mock.Anything).Run(func(mock.Arguments) {
		close(entered)
		<-release
	}).Return(nil).Once()
	f.endpoint.On("Pull", mock.Anything, mock.Anything).Return(nil, "", nil).Once()

	done := make(chan model.SyncResult)
	go func() { done <- f.coord.PerformSync(context.Background()) }()
	<-entered

	second := f.coord.PerformSync(context.Background())
	assert.False(t, second.Success)
	assert.Equal(t, model.ErrSyncUnavailable, second.ErrorKind)

	close(release)
	first := <-done
	assert.True(t, first.Success)
	f.endpoint.AssertNumberOfCalls(t, "Push", 1)
}

func TestPerformSync_Unavailable(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		f := newFixture(t, time.Hour)
		require.NoError(t, f.settings.SetEnabled(context.Background(), false))
		res := f.coord.PerformSync(context.Background())
		assert.Equal(t, model.ErrSyncUnavailable, res.ErrorKind)
	})

	t.Run("metered with wifi only keeps debounce", func(t *testing.T) {
		f := newFixture(t, time.Hour)
		f.cond.Set(true, 100)
		f.enqueue(t, model.KindMemory)
		f.coord.debouncer.Trigger()

		res := f.coord.PerformSync(context.Background())
		assert.Equal(t, model.ErrSyncUnavailable, res.ErrorKind)
		assert.True(t, f.coord.PendingSync())
		f.endpoint.AssertNotCalled(t, "Push", mock.Anything, mock.Anything)
	})

	t.Run("metered allowed", func(t *testing.T) {
		f := newFixture(t, time.Hour)
		cfg := model.DefaultSyncConfiguration()
		cfg.WifiOnlyOrUnmetered = false
		require.NoError(t, f.settings.Update(context.Background(), cfg))
		f.cond.Set(true, 100)
		f.endpoint.On("Pull", mock.Anything, mock.Anything).Return(nil, "", nil).Once()

		res := f.coord.PerformSync(context.Background())
		assert.True(t, res.Success)
	})
}

func TestPerformSync_CategoryFilter(t *testing.T) {
	f := newFixture(t, time.Hour)
	cfg := model.DefaultSyncConfiguration()
	cfg.SyncMemory = false
	require.NoError(t, f.settings.Update(context.Background(), cfg))

	mem := f.enqueue(t, model.KindMemory)
	f.enqueue(t, model.KindPreferences)

	f.endpoint.On("Push", mock.Anything, mock.MatchedBy(func(env model.Envelope) bool {
		return env.Count == 1
	})).Return(nil).Once()
	f.endpoint.On("Pull", mock.Anything, mock.Anything).Return(nil, "", nil).Once()

	res := f.coord.PerformSync(context.Background())
	require.True(t, res.Success)
	assert.Equal(t, []string{mem.OperationID}, f.queued(t))
}

func TestPerformSync_PullCategoryFilter(t *testing.T) {
	f := newFixture(t, time.Hour)
	cfg := model.DefaultSyncConfiguration()
	cfg.SyncPersonality = false
	require.NoError(t, f.settings.Update(context.Background(), cfg))

	env := f.envelopeFrom(t, "tablet",
		model.NewOperation(model.KindPersonality, "", []byte("p")),
		model.NewOperation(model.KindMemory, "", []byte("m")))
	f.endpoint.On("Pull", mock.Anything, "").Return([]model.Envelope{env}, "c1", nil).Once()

	res := f.coord.PerformSync(context.Background())
	require.True(t, res.Success)
	assert.Equal(t, 1, res.Pulled)
}

func TestPerformSync_SkipsOwnAndUnreadableEnvelopes(t *testing.T) {
	f := newFixture(t, time.Hour)
	own := f.envelopeFrom(t, "self", model.NewOperation(model.KindMemory, "", []byte("x")))
	garbage := model.Envelope{ID: "bad", DeviceID: "tablet", Data: []byte("not encrypted")}

	f.endpoint.On("Pull", mock.Anything, "").Return([]model.Envelope{own, garbage}, "c9", nil).Once()

	res := f.coord.PerformSync(context.Background())
	require.True(t, res.Success)
	assert.Equal(t, 0, res.Pulled)
	assert.Equal(t, 1, res.Rejected, "own envelope is not counted")
	assert.Contains(t, res.Message, "1 unreadable")

	results := f.events.results()
	require.Len(t, results, 1)
	assert.Equal(t, 1, results[0].Rejected)

	cursor, err := f.settings.RelayCursor(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "c9", cursor)
}

func TestEnqueueAndNotify_Debounces(t *testing.T) {
	f := newFixture(t, 50*time.Millisecond)

	var pushes atomic.Int32
	f.endpoint.On("Push", mock.Anything, mock.Anything).Run(func(mock.Arguments) {
		pushes.Add(1)
	}).Return(nil)
	f.endpoint.On("Pull", mock.Anything, mock.Anything).Return(nil, "", nil)

	for i := 0; i < 5; i++ {
		_, err := f.coord.EnqueueAndNotify(context.Background(), model.NewOperation(model.KindMemory, "", []byte{byte(i)}))
		require.NoError(t, err)
	}

	assert.Eventually(t, func() bool { return len(f.events.results()) == 1 }, time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), pushes.Load())
	assert.Len(t, f.events.results(), 1)
}

func TestEnableSync_Toggling(t *testing.T) {
	f := newFixture(t, 30*time.Millisecond)
	cfg := model.DefaultSyncConfiguration()
	cfg.AutoSync = true
	cfg.AutoSyncIntervalMs = 900000
	require.NoError(t, f.settings.Update(context.Background(), cfg))
	f.endpoint.On("Pull", mock.Anything, mock.Anything).Return(nil, "", nil)

	f.coord.EnableSync(true)
	assert.True(t, f.coord.Scheduled())
	assert.Eventually(t, func() bool { return len(f.events.results()) == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, f.settings.SetEnabled(context.Background(), false))
	f.coord.EnableSync(false)
	assert.False(t, f.coord.Scheduled())
	assert.False(t, f.coord.PendingSync())

	time.Sleep(80 * time.Millisecond)
	assert.Len(t, f.events.results(), 1)

	require.NoError(t, f.settings.SetEnabled(context.Background(), true))
	f.coord.EnableSync(true)
	assert.True(t, f.coord.PendingSync())
	assert.Eventually(t, func() bool { return len(f.events.results()) == 2 }, time.Second, 5*time.Millisecond)

	time.Sleep(80 * time.Millisecond)
	assert.Len(t, f.events.results(), 2)
	f.endpoint.AssertNumberOfCalls(t, "Pull", 2)
}

func TestForceSync_CancelsPending(t *testing.T) {
	f := newFixture(t, time.Hour)
	f.endpoint.On("Pull", mock.Anything, mock.Anything).Return(nil, "", nil).Once()

	f.coord.debouncer.Trigger()
	res := f.coord.ForceSync(context.Background())
	assert.True(t, res.Success)
	assert.False(t, f.coord.PendingSync())
}

func TestCoordinator_CloseStopsTimers(t *testing.T) {
	f := newFixture(t, 20*time.Millisecond)
	f.coord.EnableSync(true)
	require.NoError(t, f.coord.Close())

	assert.False(t, f.coord.Scheduled())
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, f.events.results())
}

var _ event.Publisher = (*recorder)(nil)
