// Package inbox единая точка применения удаленных операций.
// И ретранслятор, и прямые сессии передают принятые операции сюда.
package inbox

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/exp/slog"

	"companionsync/internal/model"
)

// Repository журнал принятых операций
type Repository interface {
	Seen(ctx context.Context, operationID string) (bool, error)
	// Latest время самой поздней примененной операции для ключа записи
	Latest(ctx context.Context, recordKey string) (time.Time, bool, error)
	Save(ctx context.Context, entries []model.AppliedOperation) error
	List(ctx context.Context, limit int) ([]model.AppliedOperation, error)
	Purge(ctx context.Context, before time.Time) (int64, error)
}

// Pending локальные операции, еще не доставленные другим устройствам
type Pending interface {
	LatestFor(ctx context.Context, recordKey string) (time.Time, bool, error)
}

// Sink получатель примененных операций: подсистема, владеющая данными
type Sink interface {
	Deliver(ctx context.Context, ops []model.SyncOperation) error
}

// SinkFunc адаптер функции к Sink
type SinkFunc func(ctx context.Context, ops []model.SyncOperation) error

func (f SinkFunc) Deliver(ctx context.Context, ops []model.SyncOperation) error {
	return f(ctx, ops)
}

// Report итог применения пакета
type Report struct {
	Applied   int
	Duplicate int
	Stale     int
	Corrupted int
}

// Inbox применяет удаленные операции последовательно
type Inbox struct {
	repo    Repository
	sink    Sink
	pending Pending
	log     *slog.Logger
	mu      sync.Mutex
	now     func() time.Time
}

// New создает Inbox; sink может быть nil, тогда операции только журналируются
func New(repo Repository, sink Sink, log *slog.Logger) *Inbox {
	return &Inbox{
		repo: repo,
		sink: sink,
		log:  log.With(slog.String("component", "inbox")),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// WithPending подключает локальную очередь: удаленная операция старше
// локальной правки той же записи, ожидающей отправки, считается устаревшей.
func (in *Inbox) WithPending(p Pending) *Inbox {
	in.pending = p
	return in
}

// Apply применяет операции, пришедшие из source.
// Повторные id пропускаются. Операция старше уже примененной или ожидающей
// отправки локальной для того же ключа записи журналируется как пропущенная
// и в sink не передается.
func (in *Inbox) Apply(ctx context.Context, source string, ops []model.SyncOperation) (Report, error) {
	var rep Report
	if len(ops) == 0 {
		return rep, nil
	}

	in.mu.Lock()
	defer in.mu.Unlock()

	now := in.now()
	fresh := make([]model.SyncOperation, 0, len(ops))
	entries := make([]model.AppliedOperation, 0, len(ops))
	// ключи, уже принятые в этом пакете
	batchLatest := make(map[string]time.Time)
	batchIDs := make(map[string]struct{}, len(ops))

	for _, op := range ops {
		if !op.Verify() {
			rep.Corrupted++
			in.log.Warn("dropping operation with bad checksum",
				slog.String("operation_id", op.OperationID),
				slog.String("source", source))
			continue
		}
		if _, dup := batchIDs[op.OperationID]; dup {
			rep.Duplicate++
			continue
		}
		seen, err := in.repo.Seen(ctx, op.OperationID)
		if err != nil {
			return rep, fmt.Errorf("failed to check operation %s: %w", op.OperationID, err)
		}
		if seen {
			rep.Duplicate++
			continue
		}
		batchIDs[op.OperationID] = struct{}{}

		stale, err := in.isStale(ctx, op, batchLatest)
		if err != nil {
			return rep, err
		}
		entry := model.AppliedOperation{Operation: op, Source: source, AppliedAt: now}
		if stale {
			entry.Skipped = true
			rep.Stale++
			entries = append(entries, entry)
			continue
		}
		if op.RecordKey != "" {
			batchLatest[op.RecordKey] = op.CreatedAt
		}
		fresh = append(fresh, op)
		entries = append(entries, entry)
	}

	if len(fresh) > 0 && in.sink != nil {
		if err := in.sink.Deliver(ctx, fresh); err != nil {
			return Report{}, fmt.Errorf("failed to deliver operations: %w", err)
		}
	}
	if err := in.repo.Save(ctx, entries); err != nil {
		return Report{}, fmt.Errorf("failed to record applied operations: %w", err)
	}

	rep.Applied = len(fresh)
	if rep.Applied > 0 || rep.Stale > 0 {
		in.log.Info("remote operations applied",
			slog.String("source", source),
			slog.Int("applied", rep.Applied),
			slog.Int("stale", rep.Stale),
			slog.Int("duplicate", rep.Duplicate))
	}
	return rep, nil
}

func (in *Inbox) isStale(ctx context.Context, op model.SyncOperation, batch map[string]time.Time) (bool, error) {
	if op.RecordKey == "" {
		return false, nil
	}
	if t, ok := batch[op.RecordKey]; ok && op.CreatedAt.Before(t) {
		return true, nil
	}
	latest, ok, err := in.repo.Latest(ctx, op.RecordKey)
	if err != nil {
		return false, fmt.Errorf("failed to read record %s: %w", op.RecordKey, err)
	}
	if ok && op.CreatedAt.Before(latest) {
		return true, nil
	}
	if in.pending == nil {
		return false, nil
	}
	local, ok, err := in.pending.LatestFor(ctx, op.RecordKey)
	if err != nil {
		return false, fmt.Errorf("failed to read queued record %s: %w", op.RecordKey, err)
	}
	return ok && op.CreatedAt.Before(local), nil
}

// Latest время последней примененной версии записи
func (in *Inbox) Latest(ctx context.Context, recordKey string) (time.Time, bool, error) {
	return in.repo.Latest(ctx, recordKey)
}

// List последние записи журнала, новые первыми
func (in *Inbox) List(ctx context.Context, limit int) ([]model.AppliedOperation, error) {
	return in.repo.List(ctx, limit)
}

// Purge удаляет записи журнала старше before
func (in *Inbox) Purge(ctx context.Context, before time.Time) (int64, error) {
	in.mu.Lock()
	defer in.mu.Unlock()
	n, err := in.repo.Purge(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("failed to purge applied log: %w", err)
	}
	return n, nil
}
