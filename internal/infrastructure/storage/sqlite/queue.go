package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"companionsync/internal/model"
)

// Queue таблица operations, порядок задает столбец seq
type Queue struct {
	db *sql.DB
}

const operationColumns = `operation_id, kind, record_key, payload, checksum, created_at`

func (r *Queue) Insert(ctx context.Context, op model.SyncOperation) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO operations (seq, `+operationColumns+`)
		SELECT COALESCE(MAX(seq), 0) + 1, ?, ?, ?, ?, ?, ? FROM operations
	`, op.OperationID, op.Kind, op.RecordKey, op.Payload, checksumOf(op), toNanos(op.CreatedAt))
	if err != nil {
		return false, fmt.Errorf("failed to enqueue operation %s: %w", op.OperationID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// InsertFront операции получают seq меньше текущей головы, относительный порядок сохраняется
func (r *Queue) InsertFront(ctx context.Context, ops []model.SyncOperation) (int, error) {
	if len(ops) == 0 {
		return 0, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var head sql.NullInt64
	if err := tx.QueryRowContext(ctx, `SELECT MIN(seq) FROM operations`).Scan(&head); err != nil {
		return 0, fmt.Errorf("failed to read queue head: %w", err)
	}
	start := int64(1)
	if head.Valid {
		start = head.Int64
	}
	start -= int64(len(ops))

	inserted := 0
	for i, op := range ops {
		res, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO operations (seq, `+operationColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, start+int64(i), op.OperationID, op.Kind, op.RecordKey, op.Payload, checksumOf(op), toNanos(op.CreatedAt))
		if err != nil {
			return 0, fmt.Errorf("failed to requeue operation %s: %w", op.OperationID, err)
		}
		if n, _ := res.RowsAffected(); n == 1 {
			inserted++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return inserted, nil
}

func (r *Queue) List(ctx context.Context, limit int) ([]model.SyncOperation, error) {
	query := `SELECT ` + operationColumns + ` FROM operations ORDER BY seq`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to read queue: %w", err)
	}
	defer rows.Close()

	var ops []model.SyncOperation
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

func (r *Queue) Delete(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM operations WHERE operation_id IN (`+placeholders(len(ids))+`)`, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to acknowledge operations: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (r *Queue) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM operations`).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (r *Queue) Clear(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM operations`)
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOperation(row scanner, extra ...any) (model.SyncOperation, error) {
	var (
		op      model.SyncOperation
		created int64
	)
	dest := append([]any{&op.OperationID, &op.Kind, &op.RecordKey, &op.Payload, &op.Checksum, &created}, extra...)
	if err := row.Scan(dest...); err != nil {
		return op, fmt.Errorf("failed to scan operation: %w", err)
	}
	op.CreatedAt = fromNanos(created)
	return op, nil
}

func checksumOf(op model.SyncOperation) string {
	if op.Checksum != "" {
		return op.Checksum
	}
	return model.PayloadChecksum(op.Payload)
}
