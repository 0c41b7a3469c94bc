// Command migrate applies the run store schema to the Postgres database in
// RUN_STORE_DSN.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/rishansujesh/ads-warehouse/internal/config"
	"github.com/rishansujesh/ads-warehouse/internal/db"
	"github.com/rishansujesh/ads-warehouse/internal/observability"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "migrate error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if !cfg.RunStore.Enabled() {
		return errors.New("RUN_STORE_DSN is not set")
	}
	logger := observability.NewLogger(cfg.LogLevel)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	conn, err := pgx.Connect(ctx, cfg.RunStore.DSN)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer conn.Close(ctx)

	applied, err := db.Migrate(ctx, conn, logger)
	if err != nil {
		return err
	}
	logger.Info("migrations done", "applied", applied)
	return nil
}
