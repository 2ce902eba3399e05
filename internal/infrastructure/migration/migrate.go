package migration

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/golang-migrate/migrate/v4"
	// Blank imports register database drivers for both stores
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// Migrator подмножество migrate.Migrate, которое нужно для наката схемы
type Migrator interface {
	Up() error
	Close() (error, error)
}

// MigrationEngine открывает мигратор для источника скриптов и базы
type MigrationEngine func(source fs.FS, dir, databaseURL string) (Migrator, error)

// Migration набор SQL-скриптов и база, к которой они применяются
type Migration struct {
	source      fs.FS
	dir         string
	databaseURL string
	engine      MigrationEngine
}

func NewMigration(source fs.FS, dir, databaseURL string, engine MigrationEngine) *Migration {
	if engine == nil {
		engine = DefaultEngine
	}
	return &Migration{
		source:      source,
		dir:         dir,
		databaseURL: databaseURL,
		engine:      engine,
	}
}

// FromDir миграции из каталога на диске; пустой путь означает встроенные скрипты
func FromDir(path string, embedded fs.FS, embeddedDir string) (fs.FS, string) {
	if path == "" {
		return embedded, embeddedDir
	}
	return os.DirFS(path), "."
}

// DefaultEngine мигратор golang-migrate поверх iofs
func DefaultEngine(source fs.FS, dir, databaseURL string) (Migrator, error) {
	d, err := iofs.New(source, dir)
	if err != nil {
		return nil, err
	}
	return migrate.NewWithSourceInstance("iofs", d, databaseURL)
}

func (mg *Migration) Up() (err error) {
	m, err := mg.engine(mg.source, mg.dir, mg.databaseURL)
	if err != nil {
		return err
	}
	defer func() {
		serr, dberr := m.Close()
		if serr != nil {
			if err != nil {
				err = fmt.Errorf("%w; migration source error: %v", err, serr)
			} else {
				err = serr
			}
		}
		if dberr != nil {
			if err != nil {
				err = fmt.Errorf("%w; migration database error: %v", err, dberr)
			} else {
				err = dberr
			}
		}
	}()
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("%w; migration up error", err)
	}
	return nil
}
