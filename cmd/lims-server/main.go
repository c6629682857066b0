package main

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/lims/lims/internal/config"
	"github.com/lims/lims/internal/platform/db"
	"github.com/lims/lims/migrations"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "lims-server",
		Short:        "LIMS report API server",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(labCmd())
	rootCmd.AddCommand(catalogCmd())
	rootCmd.AddCommand(reportCmd())
	rootCmd.AddCommand(statusCmd())
	return rootCmd
}

// newLogger writes JSON lines, or human readable output in development.
func newLogger(env string, w io.Writer) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: w}).With().Timestamp().Logger()
	}
	return zerolog.New(w).With().Timestamp().Logger()
}

// migrationsFS returns the embedded migrations unless MIGRATIONS_DIR points
// at a directory on disk.
func migrationsFS(cfg *config.Config) fs.FS {
	if cfg.MigrationsDir != "" {
		return os.DirFS(cfg.MigrationsDir)
	}
	return migrations.FS
}

// connect loads the configuration and opens the database pool.
func connect(ctx context.Context) (*config.Config, *pgxpool.Pool, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, nil, err
	}
	return cfg, pool, nil
}

// labFlag returns the --lab flag or the configured default lab.
func labFlag(cmd *cobra.Command, cfg *config.Config) (string, error) {
	lab, _ := cmd.Flags().GetString("lab")
	if lab == "" {
		lab = cfg.DefaultLab
	}
	if !db.ValidLabID(lab) {
		return "", fmt.Errorf("invalid lab identifier: %q", lab)
	}
	return lab, nil
}
