package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"companionsync/internal/model"
)

// Devices таблица сопряженных устройств
type Devices struct {
	db *sql.DB
}

const deviceColumns = `id, name, kind, transport, status, last_sync, paired_at`

// Upsert повторное сопряжение обновляет только имя, вид и транспорт
func (r *Devices) Upsert(ctx context.Context, d model.PairedDevice) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	var exists bool
	if err := tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM paired_devices WHERE id = ?)`, d.ID).Scan(&exists); err != nil {
		return false, fmt.Errorf("ошибка проверки существования устройства: %w", err)
	}

	if exists {
		_, err = tx.ExecContext(ctx, `
			UPDATE paired_devices SET name = ?, kind = ?, transport = ? WHERE id = ?
		`, d.Name, d.Kind, d.Transport, d.ID)
	} else {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO paired_devices (`+deviceColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)
		`, d.ID, d.Name, d.Kind, d.Transport, d.Status, nullableNanos(d.LastSyncTime), toNanos(d.PairedAt))
	}
	if err != nil {
		return false, fmt.Errorf("ошибка сохранения устройства: %w", err)
	}
	return !exists, tx.Commit()
}

func (r *Devices) Get(ctx context.Context, id string) (model.PairedDevice, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+deviceColumns+` FROM paired_devices WHERE id = ?`, id)
	d, err := scanDevice(row)
	if errors.Is(err, sql.ErrNoRows) {
		return d, model.ErrNotFound
	}
	return d, err
}

func (r *Devices) List(ctx context.Context) ([]model.PairedDevice, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+deviceColumns+` FROM paired_devices ORDER BY paired_at, id`)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения устройств: %w", err)
	}
	defer rows.Close()

	out := []model.PairedDevice{}
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (r *Devices) Delete(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM paired_devices WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("ошибка удаления устройства: %w", err)
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (r *Devices) UpdateStatus(ctx context.Context, id string, status model.DeviceStatus, lastSync *time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE paired_devices SET status = ?, last_sync = COALESCE(?, last_sync) WHERE id = ?
	`, status, nullableNanos(lastSync), id)
	if err != nil {
		return fmt.Errorf("ошибка обновления статуса устройства: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.ErrNotFound
	}
	return nil
}

func scanDevice(row scanner) (model.PairedDevice, error) {
	var (
		d        model.PairedDevice
		lastSync sql.NullInt64
		pairedAt int64
	)
	if err := row.Scan(&d.ID, &d.Name, &d.Kind, &d.Transport, &d.Status, &lastSync, &pairedAt); err != nil {
		return d, err
	}
	if lastSync.Valid {
		t := fromNanos(lastSync.Int64)
		d.LastSyncTime = &t
	}
	d.PairedAt = fromNanos(pairedAt)
	return d, nil
}

func nullableNanos(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}
