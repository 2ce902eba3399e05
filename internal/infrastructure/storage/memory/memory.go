// Package memory: временное in-memory хранилище. Используется в тестах и
// как запасной вариант, если SQLite недоступна.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"companionsync/internal/model"
)

// KV key/value хранилище
type KV struct {
	mu   sync.RWMutex
	data map[string]string
}

func NewKV() *KV {
	return &KV{data: make(map[string]string)}
}

func (m *KV) Get(_ context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return "", model.ErrNotFound
	}
	return v, nil
}

func (m *KV) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *KV) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}

// Queue очередь операций в памяти
type Queue struct {
	mu  sync.Mutex
	ops []model.SyncOperation
}

func NewQueue() *Queue {
	return &Queue{}
}

func (q *Queue) Insert(_ context.Context, op model.SyncOperation) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.indexOf(op.OperationID) >= 0 {
		return false, nil
	}
	q.ops = append(q.ops, op)
	return true, nil
}

func (q *Queue) InsertFront(_ context.Context, ops []model.SyncOperation) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	front := make([]model.SyncOperation, 0, len(ops))
	seen := make(map[string]struct{}, len(ops))
	for _, op := range ops {
		if _, dup := seen[op.OperationID]; dup || q.indexOf(op.OperationID) >= 0 {
			continue
		}
		seen[op.OperationID] = struct{}{}
		front = append(front, op)
	}
	q.ops = append(front, q.ops...)
	return len(front), nil
}

func (q *Queue) List(_ context.Context, limit int) ([]model.SyncOperation, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.ops)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]model.SyncOperation, n)
	copy(out, q.ops[:n])
	return out, nil
}

func (q *Queue) Delete(_ context.Context, ids []string) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}
	kept := q.ops[:0]
	removed := 0
	for _, op := range q.ops {
		if _, ok := drop[op.OperationID]; ok {
			removed++
			continue
		}
		kept = append(kept, op)
	}
	q.ops = kept
	return removed, nil
}

func (q *Queue) Count(_ context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ops), nil
}

func (q *Queue) Clear(_ context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ops = nil
	return nil
}

func (q *Queue) indexOf(id string) int {
	for i, op := range q.ops {
		if op.OperationID == id {
			return i
		}
	}
	return -1
}

// Devices таблица сопряженных устройств
type Devices struct {
	mu      sync.RWMutex
	devices map[string]model.PairedDevice
}

func NewDevices() *Devices {
	return &Devices{devices: make(map[string]model.PairedDevice)}
}

func (m *Devices) Upsert(_ context.Context, d model.PairedDevice) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.devices[d.ID]
	if ok {
		existing.Name = d.Name
		existing.Transport = d.Transport
		existing.Kind = d.Kind
		m.devices[d.ID] = existing
		return false, nil
	}
	m.devices[d.ID] = d
	return true, nil
}

func (m *Devices) Get(_ context.Context, id string) (model.PairedDevice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.devices[id]
	if !ok {
		return model.PairedDevice{}, model.ErrNotFound
	}
	return d, nil
}

func (m *Devices) List(_ context.Context) ([]model.PairedDevice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.PairedDevice, 0, len(m.devices))
	for _, d := range m.devices {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PairedAt.Equal(out[j].PairedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].PairedAt.Before(out[j].PairedAt)
	})
	return out, nil
}

func (m *Devices) Delete(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.devices[id]; !ok {
		return false, nil
	}
	delete(m.devices, id)
	return true, nil
}

func (m *Devices) UpdateStatus(_ context.Context, id string, status model.DeviceStatus, lastSync *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.devices[id]
	if !ok {
		return model.ErrNotFound
	}
	d.Status = status
	if lastSync != nil {
		t := *lastSync
		d.LastSyncTime = &t
	}
	m.devices[id] = d
	return nil
}

// Applied журнал принятых удаленных операций
type Applied struct {
	mu      sync.RWMutex
	entries []model.AppliedOperation
	byID    map[string]int
}

func NewApplied() *Applied {
	return &Applied{byID: make(map[string]int)}
}

func (m *Applied) Seen(_ context.Context, operationID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.byID[operationID]
	return ok, nil
}

func (m *Applied) Latest(_ context.Context, recordKey string) (time.Time, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var latest time.Time
	found := false
	for _, e := range m.entries {
		if e.Skipped || e.Operation.RecordKey != recordKey {
			continue
		}
		if !found || e.Operation.CreatedAt.After(latest) {
			latest = e.Operation.CreatedAt
			found = true
		}
	}
	return latest, found, nil
}

func (m *Applied) Save(_ context.Context, entries []model.AppliedOperation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range entries {
		if _, ok := m.byID[e.Operation.OperationID]; ok {
			continue
		}
		m.byID[e.Operation.OperationID] = len(m.entries)
		m.entries = append(m.entries, e)
	}
	return nil
}

func (m *Applied) List(_ context.Context, limit int) ([]model.AppliedOperation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.AppliedOperation, 0, len(m.entries))
	for i := len(m.entries) - 1; i >= 0; i-- {
		out = append(out, m.entries[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *Applied) Purge(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := make([]model.AppliedOperation, 0, len(m.entries))
	var removed int64
	for _, e := range m.entries {
		if e.AppliedAt.Before(before) {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	m.entries = kept
	m.byID = make(map[string]int, len(kept))
	for i, e := range kept {
		m.byID[e.Operation.OperationID] = i
	}
	return removed, nil
}
