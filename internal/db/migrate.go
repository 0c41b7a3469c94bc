// Package db applies the run-store schema to Postgres.
package db

import (
	"context"
	"crypto/sha256"
	"embed"
	"encoding/hex"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Migration is one schema file and its checksum.
type Migration struct {
	Name     string
	SQL      string
	Checksum string
}

// Migrations returns the embedded files in name order.
func Migrations() ([]Migration, error) {
	names, err := fs.Glob(migrationFS, "migrations/*.sql")
	if err != nil {
		return nil, fmt.Errorf("glob migrations: %w", err)
	}
	sort.Strings(names)

	out := make([]Migration, 0, len(names))
	for _, n := range names {
		b, err := migrationFS.ReadFile(n)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", n, err)
		}
		sum := sha256.Sum256(b)
		out = append(out, Migration{Name: n, SQL: string(b), Checksum: hex.EncodeToString(sum[:])})
	}
	return out, nil
}

// Migrate applies pending migrations, each in its own transaction. A file
// that was applied with a different checksum aborts the run.
func Migrate(ctx context.Context, conn *pgx.Conn, logger *slog.Logger) (applied int, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	if _, err := conn.Exec(ctx, `
CREATE TABLE IF NOT EXISTS schema_migrations (
  filename text PRIMARY KEY,
  checksum text NOT NULL,
  applied_at timestamptz NOT NULL DEFAULT now()
)`); err != nil {
		return 0, fmt.Errorf("create schema_migrations: %w", err)
	}

	files, err := Migrations()
	if err != nil {
		return 0, err
	}

	done := map[string]string{}
	rows, err := conn.Query(ctx, `SELECT filename, checksum FROM schema_migrations`)
	if err != nil {
		return 0, fmt.Errorf("select schema_migrations: %w", err)
	}
	for rows.Next() {
		var fn, sum string
		if err := rows.Scan(&fn, &sum); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan schema_migrations: %w", err)
		}
		done[fn] = sum
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("read schema_migrations: %w", err)
	}

	for _, m := range files {
		if prev, ok := done[m.Name]; ok {
			if prev != m.Checksum {
				return applied, fmt.Errorf("migration %s already applied with different checksum (got %s, have %s)", m.Name, m.Checksum, prev)
			}
			logger.Debug("migration already applied", "file", m.Name)
			continue
		}

		start := time.Now()
		err := pgx.BeginFunc(ctx, conn, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, m.SQL); err != nil {
				return fmt.Errorf("exec %s: %w", m.Name, err)
			}
			if _, err := tx.Exec(ctx, `INSERT INTO schema_migrations (filename, checksum) VALUES ($1,$2)`, m.Name, m.Checksum); err != nil {
				return fmt.Errorf("record %s: %w", m.Name, err)
			}
			return nil
		})
		if err != nil {
			return applied, err
		}
		applied++
		logger.Info("migration applied", "file", m.Name, "took", time.Since(start).Round(time.Millisecond))
	}
	return applied, nil
}
