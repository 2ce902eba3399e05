package event

import (
	"fmt"
	"sync"

	"golang.org/x/exp/slog"

	"companionsync/internal/model"
)

// Listener получатель событий синхронизации
type Listener func(model.SyncEvent)

// Handle непрозрачный идентификатор подписки
type Handle uint64

// Publisher публикует события; его принимают координаторы
type Publisher interface {
	Publish(ev model.SyncEvent)
}

type subscription struct {
	handle Handle
	fn     Listener
}

// Bus рассылает события всем подписчикам
type Bus struct {
	mu        sync.RWMutex
	listeners []subscription
	next      Handle
	log       *slog.Logger
}

// NewBus создает шину событий
func NewBus(log *slog.Logger) *Bus {
	return &Bus{
		log: log.With(slog.String("component", "event_bus")),
	}
}

// AddListener регистрирует подписчика и возвращает handle для отписки
func (b *Bus) AddListener(fn Listener) Handle {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.next++
	b.listeners = append(b.listeners, subscription{handle: b.next, fn: fn})
	return b.next
}

// RemoveListener снимает подписку. Возвращает false для неизвестного handle.
func (b *Bus) RemoveListener(h Handle) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, s := range b.listeners {
		if s.handle == h {
			b.listeners = append(b.listeners[:i:i], b.listeners[i+1:]...)
			return true
		}
	}
	return false
}

// Len количество подписчиков
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners)
}

// Publish доставляет событие каждому подписчику в порядке регистрации.
// Паника подписчика логируется и не мешает остальным.
func (b *Bus) Publish(ev model.SyncEvent) {
	b.mu.RLock()
	snapshot := make([]subscription, len(b.listeners))
	copy(snapshot, b.listeners)
	b.mu.RUnlock()

	for _, s := range snapshot {
		b.deliver(s, ev)
	}
}

func (b *Bus) deliver(s subscription, ev model.SyncEvent) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("listener panicked",
				slog.Uint64("handle", uint64(s.handle)),
				slog.String("event", string(ev.EventType())),
				slog.String("panic", fmt.Sprint(r)),
			)
		}
	}()
	s.fn(ev)
}
