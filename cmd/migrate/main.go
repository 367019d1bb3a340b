package main

import (
	"context"
	"flag"
	"io/fs"
	"log/slog"
	"os"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/better-wallet/custody-wallets/internal/logger"
	"github.com/better-wallet/custody-wallets/migrations"
)

// migration is one SQL file selected for execution.
type migration struct {
	version string
	file    string
}

// plan picks the files to run for direction, skipping versions already in
// the desired state. steps <= 0 means all.
func plan(files []string, applied map[string]bool, direction string, steps int) []migration {
	suffix := ".up.sql"
	if direction == "down" {
		suffix = ".down.sql"
	}

	var candidates []string
	for _, f := range files {
		if strings.HasSuffix(f, suffix) {
			candidates = append(candidates, f)
		}
	}
	sort.Strings(candidates)
	if direction == "down" {
		for i, j := 0, len(candidates)-1; i < j; i, j = i+1, j-1 {
			candidates[i], candidates[j] = candidates[j], candidates[i]
		}
	}

	var out []migration
	for _, f := range candidates {
		version := strings.TrimSuffix(f, suffix)
		if applied[version] == (direction == "up") {
			continue
		}
		if steps > 0 && len(out) >= steps {
			break
		}
		out = append(out, migration{version: version, file: f})
	}
	return out
}

func main() {
	var (
		dsn       = flag.String("dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string")
		direction = flag.String("direction", "up", "Migration direction: up or down")
		steps     = flag.Int("steps", 0, "Number of migrations to run (0 = all)")
	)
	flag.Parse()

	if err := logger.Init(os.Getenv("LOG_FORMAT"), os.Getenv("LOG_LEVEL")); err != nil {
		slog.Error("failed to initialize logger", slog.String("error", err.Error()))
		os.Exit(1)
	}
	log := slog.Default()

	if *dsn == "" {
		log.Error("POSTGRES_DSN is required")
		os.Exit(1)
	}
	if *direction != "up" && *direction != "down" {
		log.Error("invalid direction", slog.String("direction", *direction))
		os.Exit(1)
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, *dsn)
	if err != nil {
		log.Error("failed to connect to database", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()

	if err := run(ctx, pool, *direction, *steps, log); err != nil {
		log.Error("migration failed", slog.String("error", err.Error()))
		pool.Close()
		os.Exit(1)
	}
}

func run(ctx context.Context, pool *pgxpool.Pool, direction string, steps int, log *slog.Logger) error {
	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return err
	}

	rows, err := pool.Query(ctx, "SELECT version FROM schema_migrations ORDER BY version")
	if err != nil {
		return err
	}
	applied := make(map[string]bool)
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return err
		}
		applied[version] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	files, err := fs.Glob(migrations.FS, "*.sql")
	if err != nil {
		return err
	}

	pending := plan(files, applied, direction, steps)
	if len(pending) == 0 {
		log.Info("no migrations to apply")
		return nil
	}

	for _, m := range pending {
		content, err := migrations.FS.ReadFile(m.file)
		if err != nil {
			return err
		}

		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}

		if _, err := tx.Exec(ctx, string(content)); err != nil {
			_ = tx.Rollback(ctx)
			return err
		}

		if direction == "up" {
			_, err = tx.Exec(ctx, "INSERT INTO schema_migrations (version) VALUES ($1)", m.version)
		} else {
			_, err = tx.Exec(ctx, "DELETE FROM schema_migrations WHERE version = $1", m.version)
		}
		if err != nil {
			_ = tx.Rollback(ctx)
			return err
		}

		if err := tx.Commit(ctx); err != nil {
			return err
		}

		log.Info("applied migration", slog.String("version", m.version), slog.String("direction", direction))
	}

	log.Info("migrations complete", slog.Int("count", len(pending)))
	return nil
}
