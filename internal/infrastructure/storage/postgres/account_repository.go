package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/exp/slog"

	"companionsync/internal/domain/account"
)

const uniqueViolation = "23505"

func NewAccountRepository(pool *pgxpool.Pool, log *slog.Logger) *AccountRepository {
	return &AccountRepository{
		pool: pool,
		log:  log,
	}
}

type AccountRepository struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

func (r *AccountRepository) Create(ctx context.Context, name, tokenHash string) (account.Account, error) {
	acc := account.Account{Name: name}
	err := r.pool.QueryRow(ctx,
		`INSERT INTO accounts (name, token_hash) VALUES ($1, $2) RETURNING id, created_at`,
		name, tokenHash).Scan(&acc.ID, &acc.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return account.Account{}, account.ErrNameTaken
		}
		return account.Account{}, err
	}
	return acc, nil
}

func (r *AccountRepository) ByTokenHash(ctx context.Context, tokenHash string) (account.Account, error) {
	var acc account.Account
	err := r.pool.QueryRow(ctx,
		`SELECT id, name, created_at FROM accounts WHERE token_hash = $1`, tokenHash).
		Scan(&acc.ID, &acc.Name, &acc.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return acc, account.ErrInvalidToken
	}
	if err != nil {
		return acc, fmt.Errorf("find account: %w", err)
	}
	return acc, nil
}

func (r *AccountRepository) UpdateTokenHash(ctx context.Context, id int64, tokenHash string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE accounts SET token_hash = $1 WHERE id = $2`, tokenHash, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("account %d not found", id)
	}
	return nil
}
