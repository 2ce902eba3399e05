package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/exp/slog"

	"companionsync/internal/domain/mailbox"
	"companionsync/internal/model"
)

// MailboxRepository конверты, каталог и ящики в PostgreSQL
type MailboxRepository struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

func NewMailboxRepository(pool *pgxpool.Pool, log *slog.Logger) *MailboxRepository {
	return &MailboxRepository{
		pool: pool,
		log:  log,
	}
}

func (r *MailboxRepository) SaveEnvelope(ctx context.Context, accountID int64, env model.Envelope) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO envelopes (account_id, envelope_id, device_id, data, op_count, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (account_id, envelope_id) DO NOTHING`,
		accountID, env.ID, env.DeviceID, env.Data, env.Count, env.CreatedAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *MailboxRepository) EnvelopesAfter(ctx context.Context, accountID, after int64, exclude string, limit int) ([]mailbox.StoredEnvelope, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT seq, envelope_id, device_id, data, op_count, created_at
		FROM envelopes
		WHERE account_id = $1 AND seq > $2 AND device_id <> $3
		ORDER BY seq
		LIMIT $4`,
		accountID, after, exclude, limit)
	if err != nil {
		return nil, err
	}

	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (mailbox.StoredEnvelope, error) {
		var e mailbox.StoredEnvelope
		err := row.Scan(&e.Seq, &e.ID, &e.DeviceID, &e.Data, &e.Count, &e.CreatedAt)
		return e, err
	})
}

// TouchDevice обновляет last_seen; пустое имя не затирает сохраненное
func (r *MailboxRepository) TouchDevice(ctx context.Context, accountID int64, deviceID, name string, at time.Time) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO devices (account_id, device_id, name, last_seen)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (account_id, device_id) DO UPDATE SET
			name = CASE WHEN EXCLUDED.name = '' THEN devices.name ELSE EXCLUDED.name END,
			last_seen = EXCLUDED.last_seen`,
		accountID, deviceID, name, at)
	if err != nil {
		return fmt.Errorf("touch device: %w", err)
	}
	return nil
}

func (r *MailboxRepository) Devices(ctx context.Context, accountID int64) ([]model.DirectoryEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT device_id, name, last_seen FROM devices
		WHERE account_id = $1
		ORDER BY last_seen DESC, device_id`, accountID)
	if err != nil {
		return nil, err
	}

	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.DirectoryEntry, error) {
		var d model.DirectoryEntry
		err := row.Scan(&d.DeviceID, &d.Name, &d.LastSeen)
		return d, err
	})
}

func (r *MailboxRepository) PutMessage(ctx context.Context, accountID int64, m model.MailboxMessage) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `
		INSERT INTO messages (account_id, recipient, sender, link_id, type, data, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		accountID, m.To, m.From, m.LinkID, m.Type, m.Data, m.CreatedAt).Scan(&id)
	return id, err
}

func (r *MailboxRepository) MessagesAfter(ctx context.Context, accountID int64, deviceID string, after int64, limit int) ([]model.MailboxMessage, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, sender, recipient, link_id, type, data, created_at
		FROM messages
		WHERE account_id = $1 AND recipient = $2 AND id > $3
		ORDER BY id
		LIMIT $4`,
		accountID, deviceID, after, limit)
	if err != nil {
		return nil, err
	}

	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.MailboxMessage, error) {
		var m model.MailboxMessage
		err := row.Scan(&m.ID, &m.From, &m.To, &m.LinkID, &m.Type, &m.Data, &m.CreatedAt)
		return m, err
	})
}

func (r *MailboxRepository) DeleteMessages(ctx context.Context, accountID int64, deviceID string, upto int64) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM messages WHERE account_id = $1 AND recipient = $2 AND id <= $3`,
		accountID, deviceID, upto)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
