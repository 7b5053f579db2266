// Package migrations применяет встроенные SQL-миграции к хранилищу подписок.
package migrations

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	pgxv5 "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed postgres/*.sql sqlite/*.sql
var files embed.FS

// Dialect диалект SQL, для которого применяются миграции.
type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

// Run применяет все миграции диалекта. Отсутствие новых миграций ошибкой не считается.
func Run(db *sql.DB, dialect Dialect) error {
	const op = "migrations.Run"

	var (
		driver database.Driver
		name   string
		err    error
	)
	switch dialect {
	case Postgres:
		name = "pgx_v5"
		driver, err = pgxv5.WithInstance(db, &pgxv5.Config{})
	case SQLite:
		name = "sqlite"
		driver, err = sqlite.WithInstance(db, &sqlite.Config{})
	default:
		return fmt.Errorf("%s: unknown dialect %q", op, dialect)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	src, err := iofs.New(files, string(dialect))
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	m, err := migrate.NewWithInstance("iofs", src, name, driver)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if err = m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
