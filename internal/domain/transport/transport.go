// Package transport описывает минимальный контракт канала связи:
// сканирование, соединение, отправка, прием и разрыв.
package transport

import (
	"context"
	"errors"
	"sort"
	"sync"

	"companionsync/internal/model"
)

var (
	ErrUnsupported  = errors.New("transport not registered")
	ErrUnknownPeer  = errors.New("peer not reachable over this transport")
	ErrLinkClosed   = errors.New("link closed")
	ErrDuplicateKey = errors.New("transport already registered")
)

// Link установленное соединение с удаленным устройством. Сообщения доставляются целиком.
type Link interface {
	Send(ctx context.Context, msg []byte) error
	Receive(ctx context.Context) ([]byte, error)
	Disconnect() error
}

// Capability реализация одного вида транспорта
type Capability interface {
	Kind() model.TransportKind
	Scan(ctx context.Context) ([]model.DiscoveredDevice, error)
	Connect(ctx context.Context, deviceID string) (Link, error)
}

// IncomingHandler обрабатывает входящее соединение
type IncomingHandler func(ctx context.Context, link Link)

// Listener транспорт, умеющий принимать входящие соединения
type Listener interface {
	Listen(ctx context.Context, handler IncomingHandler) error
}

// Registry таблица транспортов по виду
type Registry struct {
	mu    sync.RWMutex
	table map[model.TransportKind]Capability
}

// NewRegistry создает таблицу и регистрирует переданные транспорты
func NewRegistry(caps ...Capability) (*Registry, error) {
	r := &Registry{table: make(map[model.TransportKind]Capability)}
	for _, c := range caps {
		if err := r.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register добавляет транспорт; второй транспорт того же вида отклоняется
func (r *Registry) Register(c Capability) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.table[c.Kind()]; ok {
		return ErrDuplicateKey
	}
	r.table[c.Kind()] = c
	return nil
}

// Get транспорт по виду
func (r *Registry) Get(kind model.TransportKind) (Capability, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.table[kind]
	return c, ok
}

// All все транспорты в стабильном порядке
func (r *Registry) All() []Capability {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Capability, 0, len(r.table))
	for _, c := range r.table {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Kind() < out[j].Kind() })
	return out
}

// Kinds зарегистрированные виды
func (r *Registry) Kinds() []model.TransportKind {
	all := r.All()
	kinds := make([]model.TransportKind, len(all))
	for i, c := range all {
		kinds[i] = c.Kind()
	}
	return kinds
}

// Listeners транспорты, принимающие входящие соединения
func (r *Registry) Listeners() []Listener {
	var out []Listener
	for _, c := range r.All() {
		if l, ok := c.(Listener); ok {
			out = append(out, l)
		}
	}
	return out
}
