// Package postgres: хранилище ретранслятора: аккаунты, конверты, каталог устройств и почтовые ящики.
package postgres

import (
	"context"
	"embed"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"companionsync/internal/infrastructure/migration"
)

//go:embed migrations/*.sql
var Migrations embed.FS

type Storage struct {
	pool *pgxpool.Pool
}

// New подключается к базе и применяет миграции. Пустой migrationsPath означает встроенные скрипты.
func New(ctx context.Context, databaseURI, migrationsPath string) (*Storage, error) {
	pool, err := pgxpool.New(ctx, databaseURI)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	source, dir := migration.FromDir(migrationsPath, Migrations, "migrations")
	mg := migration.NewMigration(source, dir, databaseURI, nil)
	if err := mg.Up(); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migration error: %w", err)
	}
	return &Storage{pool: pool}, nil
}

func (s *Storage) Close() error {
	s.pool.Close()
	return nil
}

func (s *Storage) Pool() *pgxpool.Pool {
	return s.pool
}

func (s *Storage) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
