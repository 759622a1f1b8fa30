// migrate применяет встроенные SQL-миграции через golang-migrate.
package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	pgxmigrate "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/pribylovaa/go-trip-planner/auth-service/migrations"
)

// Направления применения миграций.
const (
	DirectionUp   = "up"
	DirectionDown = "down"
)

// Run применяет встроенные миграции к базе в заданном направлении.
// dsn — обычный postgres-DSN; подключение идёт через database/sql
// поверх pgx/v5. Возвращает версию схемы после применения.
func Run(ctx context.Context, dsn, direction string) (version uint, dirty bool, err error) {
	const op = "storage.migrate.Run"

	if dsn == "" {
		return 0, false, fmt.Errorf("%s: empty dsn", op)
	}

	if direction != DirectionUp && direction != DirectionDown {
		return 0, false, fmt.Errorf("%s: direction must be %q or %q, got %q", op, DirectionUp, DirectionDown, direction)
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return 0, false, fmt.Errorf("%s: open database: %w", op, err)
	}
	defer func() { _ = db.Close() }()

	if err := db.PingContext(ctx); err != nil {
		return 0, false, fmt.Errorf("%s: ping database: %w", op, err)
	}

	driver, err := pgxmigrate.WithInstance(db, &pgxmigrate.Config{})
	if err != nil {
		return 0, false, fmt.Errorf("%s: migration driver: %w", op, err)
	}

	src, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return 0, false, fmt.Errorf("%s: migration source: %w", op, err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "pgx5", driver)
	if err != nil {
		return 0, false, fmt.Errorf("%s: migrator: %w", op, err)
	}

	switch direction {
	case DirectionUp:
		err = m.Up()
	case DirectionDown:
		err = m.Down()
	}

	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return 0, false, fmt.Errorf("%s: apply: %w", op, err)
	}

	version, dirty, err = m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, fmt.Errorf("%s: read version: %w", op, err)
	}

	return version, dirty, nil
}
