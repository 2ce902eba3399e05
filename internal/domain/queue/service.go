package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/exp/slog"

	"companionsync/internal/model"
)

var (
	ErrInvalidOperation = errors.New("operation must have a valid id and kind")
	ErrChecksumMismatch = errors.New("operation checksum mismatch")
)

// Repository долговременное хранилище очереди в порядке FIFO
type Repository interface {
	// Insert добавляет в хвост; false если id уже в очереди
	Insert(ctx context.Context, op model.SyncOperation) (bool, error)
	// InsertFront вставляет в голову с сохранением порядка, пропуская id, уже находящиеся в очереди
	InsertFront(ctx context.Context, ops []model.SyncOperation) (int, error)
	// List возвращает операции в порядке очереди; при limit <= 0 все
	List(ctx context.Context, limit int) ([]model.SyncOperation, error)
	Delete(ctx context.Context, ids []string) (int, error)
	Count(ctx context.Context) (int, error)
	Clear(ctx context.Context) error
}

// Service очередь операций, ожидающих доставки
type Service struct {
	repo Repository
	log  *slog.Logger
	mu   sync.Mutex
}

// NewService создает очередь операций
func NewService(repo Repository, log *slog.Logger) *Service {
	return &Service{
		repo: repo,
		log:  log.With(slog.String("component", "operation_queue")),
	}
}

// Enqueue добавляет операцию. Повторная постановка того же id ничего не делает.
func (s *Service) Enqueue(ctx context.Context, op model.SyncOperation) (bool, error) {
	if err := validate(op); err != nil {
		return false, err
	}
	if op.Checksum == "" {
		op.Checksum = model.PayloadChecksum(op.Payload)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	added, err := s.repo.Insert(ctx, op)
	if err != nil {
		return false, fmt.Errorf("failed to enqueue operation %s: %w", op.OperationID, err)
	}
	if !added {
		s.log.Debug("operation already queued", slog.String("operation_id", op.OperationID))
	}
	return added, nil
}

// PeekBatch снимок головы очереди суммарным размером не более maxBytes.
// Первая операция возвращается всегда, даже если она больше лимита.
func (s *Service) PeekBatch(ctx context.Context, maxBytes int) ([]model.SyncOperation, error) {
	return s.PeekMatching(ctx, maxBytes, nil)
}

// PeekMatching как PeekBatch, но учитывает только операции, прошедшие keep.
// Отброшенные фильтром операции остаются в очереди.
func (s *Service) PeekMatching(ctx context.Context, maxBytes int, keep func(model.SyncOperation) bool) ([]model.SyncOperation, error) {
	s.mu.Lock()
	ops, err := s.repo.List(ctx, 0)
	s.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("failed to read queue: %w", err)
	}

	batch := make([]model.SyncOperation, 0, len(ops))
	total := 0
	for _, op := range ops {
		if keep != nil && !keep(op) {
			continue
		}
		if maxBytes > 0 && len(batch) > 0 && total+op.Size() > maxBytes {
			break
		}
		batch = append(batch, op)
		total += op.Size()
	}
	return batch, nil
}

// LatestFor время самой поздней операции в очереди для ключа записи
func (s *Service) LatestFor(ctx context.Context, recordKey string) (time.Time, bool, error) {
	s.mu.Lock()
	ops, err := s.repo.List(ctx, 0)
	s.mu.Unlock()
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to read queue: %w", err)
	}

	var latest time.Time
	found := false
	for _, op := range ops {
		if op.RecordKey != recordKey {
			continue
		}
		if !found || op.CreatedAt.After(latest) {
			latest = op.CreatedAt
			found = true
		}
	}
	return latest, found, nil
}

// Acknowledge удаляет доставленные операции. Неизвестные id игнорируются.
func (s *Service) Acknowledge(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := s.repo.Delete(ctx, ids)
	if err != nil {
		return 0, fmt.Errorf("failed to acknowledge operations: %w", err)
	}
	return n, nil
}

// RequeueFront возвращает операции в голову очереди в исходном порядке.
// Операции, которые еще в очереди, не дублируются.
func (s *Service) RequeueFront(ctx context.Context, ops []model.SyncOperation) error {
	if len(ops) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := s.repo.InsertFront(ctx, ops)
	if err != nil {
		return fmt.Errorf("failed to requeue operations: %w", err)
	}
	if n > 0 {
		s.log.Info("operations returned to queue head", slog.Int("count", n))
	}
	return nil
}

// Len длина очереди
func (s *Service) Len(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.repo.Count(ctx)
}

// Clear очищает очередь (clearSyncData)
func (s *Service) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.repo.Clear(ctx); err != nil {
		return fmt.Errorf("failed to clear queue: %w", err)
	}
	s.log.Warn("operation queue cleared")
	return nil
}

func validate(op model.SyncOperation) error {
	if op.Kind == "" {
		return ErrInvalidOperation
	}
	if _, err := uuid.Parse(op.OperationID); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidOperation, err)
	}
	if !op.Verify() {
		return ErrChecksumMismatch
	}
	return nil
}
