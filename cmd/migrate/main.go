package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"time"

	"github.com/pribylovaa/go-trip-planner/auth-service/internal/storage/migrate"
)

// migrate применяет встроенные SQL-миграции к базе сервиса.
// Бинарь самодостаточен: файлы миграций зашиты через go:embed,
// из окружения нужен только адрес базы.
func main() {
	var (
		dbURL     string
		direction string
	)
	flag.StringVar(&dbURL, "db-url", os.Getenv("DATABASE_URL"), "postgres connection url")
	flag.StringVar(&direction, "direction", migrate.DirectionUp, "migration direction: up|down")
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	version, dirty, err := migrate.Run(ctx, dbURL, direction)
	if err != nil {
		log.Error("migrate_failed", slog.String("err", err.Error()))
		os.Exit(1)
	}

	log.Info("migrations_applied",
		slog.String("direction", direction),
		slog.Uint64("version", uint64(version)),
		slog.Bool("dirty", dirty),
	)
}
