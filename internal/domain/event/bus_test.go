package event

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"

	"companionsync/internal/model"
)

func TestBus_ListenerIsolation(t *testing.T) {
	bus := NewBus(slog.Default())

	bus.AddListener(func(model.SyncEvent) {
		panic("listener failure")
	})

	var got []model.EventType
	bus.AddListener(func(ev model.SyncEvent) {
		got = append(got, ev.EventType())
	})

	events := []model.SyncEvent{
		model.SystemInitialized{SyncEnabled: true},
		model.SyncStarted{SessionID: "s1", DeviceID: "d1"},
		model.SyncProgress{SessionID: "s1", Progress: 50},
		model.SyncCompleted{SessionID: "s1", DeviceID: "d1", ItemsSynced: 2},
	}
	for _, ev := range events {
		assert.NotPanics(t, func() { bus.Publish(ev) })
	}

	assert.Equal(t, []model.EventType{
		model.EventSystemInitialized,
		model.EventSyncStarted,
		model.EventSyncProgress,
		model.EventSyncCompleted,
	}, got)
}

func TestBus_RemoveListener(t *testing.T) {
	bus := NewBus(slog.Default())

	calls := 0
	h := bus.AddListener(func(model.SyncEvent) { calls++ })
	require.Equal(t, 1, bus.Len())

	bus.Publish(model.DeviceNameChanged{Name: "laptop"})
	assert.True(t, bus.RemoveListener(h))
	assert.False(t, bus.RemoveListener(h))
	bus.Publish(model.DeviceNameChanged{Name: "desktop"})

	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, bus.Len())
}

func TestBus_HandlesAreUnique(t *testing.T) {
	bus := NewBus(slog.Default())
	h1 := bus.AddListener(func(model.SyncEvent) {})
	h2 := bus.AddListener(func(model.SyncEvent) {})
	assert.NotEqual(t, h1, h2)
}

func TestBus_ListenerMayUnsubscribeDuringDelivery(t *testing.T) {
	bus := NewBus(slog.Default())

	var h Handle
	calls := 0
	h = bus.AddListener(func(model.SyncEvent) {
		calls++
		bus.RemoveListener(h)
	})

	bus.Publish(model.SyncEnabledChanged{Enabled: true})
	bus.Publish(model.SyncEnabledChanged{Enabled: false})
	assert.Equal(t, 1, calls)
}

func TestBus_ConcurrentPublish(t *testing.T) {
	bus := NewBus(slog.Default())

	var mu sync.Mutex
	count := 0
	bus.AddListener(func(model.SyncEvent) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			bus.Publish(model.SyncProgress{SessionID: "s", Progress: i})
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 20, count)
}
