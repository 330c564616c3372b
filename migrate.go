package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/johndosdos/dmchat/internal/config"
	"github.com/johndosdos/dmchat/internal/database"
)

func newMigrateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the embedded database migrations",
		Example: `  dmchat migrate up
  dmchat migrate down
  dmchat migrate status`,
	}

	for _, sub := range []struct{ name, short string }{
		{"up", "Migrate the database to the most recent version"},
		{"down", "Roll back the most recent migration"},
		{"status", "Print the status of every migration"},
	} {
		command := sub.name
		cmd.AddCommand(&cobra.Command{
			Use:   command,
			Short: sub.short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runMigrate(cmd.Context(), command)
			},
		})
	}

	return cmd
}

func runMigrate(ctx context.Context, command string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	slog.SetDefault(cfg.Logger())

	if cfg.DBURL == "" {
		return fmt.Errorf("DB_URL environment variable is not set")
	}

	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DBURL)
	if err != nil {
		return fmt.Errorf("could not connect to the postgresql database: %w", err)
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool, command); err != nil {
		return err
	}

	slog.InfoContext(ctx, "migration finished", "command", command)
	return nil
}
