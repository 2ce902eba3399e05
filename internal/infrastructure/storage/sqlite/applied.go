package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"companionsync/internal/model"
)

// Applied журнал принятых удаленных операций
type Applied struct {
	db *sql.DB
}

func (r *Applied) Seen(ctx context.Context, operationID string) (bool, error) {
	var seen bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM applied_operations WHERE operation_id = ?)`, operationID).Scan(&seen)
	if err != nil {
		return false, fmt.Errorf("failed to check applied operation: %w", err)
	}
	return seen, nil
}

// Latest время самой поздней примененной операции по ключу записи
func (r *Applied) Latest(ctx context.Context, recordKey string) (time.Time, bool, error) {
	var latest sql.NullInt64
	err := r.db.QueryRowContext(ctx, `
		SELECT MAX(created_at) FROM applied_operations WHERE record_key = ? AND skipped = 0
	`, recordKey).Scan(&latest)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to read latest version of %s: %w", recordKey, err)
	}
	if !latest.Valid {
		return time.Time{}, false, nil
	}
	return fromNanos(latest.Int64), true, nil
}

func (r *Applied) Save(ctx context.Context, entries []model.AppliedOperation) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO applied_operations
			(`+operationColumns+`, source, skipped, applied_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, e := range entries {
		op := e.Operation
		if _, err := stmt.ExecContext(ctx, op.OperationID, op.Kind, op.RecordKey, op.Payload,
			checksumOf(op), toNanos(op.CreatedAt), e.Source, e.Skipped, toNanos(e.AppliedAt)); err != nil {
			return fmt.Errorf("failed to record applied operation %s: %w", op.OperationID, err)
		}
	}
	return tx.Commit()
}

// List последние записи журнала, новые первыми
func (r *Applied) List(ctx context.Context, limit int) ([]model.AppliedOperation, error) {
	query := `SELECT ` + operationColumns + `, source, skipped, applied_at
		FROM applied_operations ORDER BY applied_at DESC, rowid DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to read applied operations: %w", err)
	}
	defer rows.Close()

	var out []model.AppliedOperation
	for rows.Next() {
		var (
			e         model.AppliedOperation
			appliedAt int64
		)
		op, err := scanOperation(rows, &e.Source, &e.Skipped, &appliedAt)
		if err != nil {
			return nil, err
		}
		e.Operation = op
		e.AppliedAt = fromNanos(appliedAt)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *Applied) Purge(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM applied_operations WHERE applied_at < ?`, toNanos(before))
	if err != nil {
		return 0, fmt.Errorf("failed to purge applied operations: %w", err)
	}
	return res.RowsAffected()
}
