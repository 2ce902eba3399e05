// Package sqlite: локальное долговременное хранилище движка синхронизации.
package sqlite

import (
	"database/sql"
	"embed"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"companionsync/internal/infrastructure/migration"
)

// Migrations встроенные SQL-скрипты схемы
//
//go:embed migrations/*.sql
var Migrations embed.FS

const migrationsDir = "migrations"

type Storage struct {
	db   *sql.DB
	path string
}

// Open открывает базу и применяет миграции
func Open(path string) (*Storage, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("ошибка открытия базы данных: %w", err)
	}
	// один писатель: sqlite не любит конкурентные транзакции
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ошибка открытия базы данных: %w", err)
	}

	mg := migration.NewMigration(Migrations, migrationsDir, "sqlite3://"+path, nil)
	if err := mg.Up(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ошибка инициализации таблиц: %w", err)
	}

	return &Storage{db: db, path: path}, nil
}

func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) Path() string {
	return s.path
}

func (s *Storage) KV() *KV {
	return &KV{db: s.db}
}

func (s *Storage) Queue() *Queue {
	return &Queue{db: s.db}
}

func (s *Storage) Devices() *Devices {
	return &Devices{db: s.db}
}

func (s *Storage) Applied() *Applied {
	return &Applied{db: s.db}
}

func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
