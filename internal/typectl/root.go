// Package typectl is the operator CLI for the device type catalog. It
// talks straight to the records database; the gateway never mutates the
// catalog itself.
package typectl

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"

	"github.com/iomt-labs/telemetry-gateway/internal/pgdb"
)

type ExitCode int

const (
	exitCodeSuccess = 0
	exitCodeError   = 1
)

func Run() ExitCode {
	rootCmd := &cobra.Command{
		Use:   "typectl",
		Short: "Manage the telemetry gateway device type catalog.",
		RunE: func(cmd *cobra.Command, args []string) error {
			err := cmd.Help()
			if err != nil {
				return fmt.Errorf("failed to show help: %w", err)
			}
			return nil
		},
	}

	var verbose bool
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "set debug logging level")

	rootCmd.PersistentFlags().String("postgres-host", getenv("POSTGRES_HOST", "localhost"), "postgres host (env: POSTGRES_HOST)")
	rootCmd.PersistentFlags().String("postgres-database", getenv("POSTGRES_DATABASE", "telemetry"), "postgres database (env: POSTGRES_DATABASE)")
	rootCmd.PersistentFlags().String("postgres-username", getenv("POSTGRES_USERNAME", "postgres"), "postgres username (env: POSTGRES_USERNAME)")
	rootCmd.PersistentFlags().String("postgres-password", getenv("POSTGRES_PASSWORD", ""), "postgres password (env: POSTGRES_PASSWORD)")

	rootCmd.AddCommand(
		NewListCmd().Command(),
		NewAddCmd().Command(),
		NewDeleteCmd().Command(),
	)

	if err := rootCmd.Execute(); err != nil {
		return exitCodeError
	}

	return exitCodeSuccess
}

func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(tint.NewHandler(os.Stdout, &tint.Options{
		Level:      level,
		TimeFormat: time.Kitchen,
	}))
}

func getenv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

// connect builds the records-database pool from the root command's
// persistent flags.
func connect(cmd *cobra.Command, log *slog.Logger) (context.Context, context.CancelFunc, *pgxpool.Pool, error) {
	flags := cmd.Root().PersistentFlags()
	host, err := flags.GetString("postgres-host")
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to get postgres-host flag: %w", err)
	}
	database, err := flags.GetString("postgres-database")
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to get postgres-database flag: %w", err)
	}
	username, err := flags.GetString("postgres-username")
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to get postgres-username flag: %w", err)
	}
	password, err := flags.GetString("postgres-password")
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to get postgres-password flag: %w", err)
	}

	port := 5432
	if v := os.Getenv("POSTGRES_PORT"); v != "" {
		port, err = strconv.Atoi(v)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("invalid POSTGRES_PORT=%q: %w", v, err)
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	pool, err := pgdb.Connect(ctx, pgdb.Config{
		Host:     host,
		Port:     port,
		Database: database,
		Username: username,
		Password: password,
	}, log)
	if err != nil {
		cancel()
		return nil, nil, nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	return ctx, cancel, pool, nil
}

func loggerFrom(cmd *cobra.Command) (*slog.Logger, error) {
	verbose, err := cmd.Root().PersistentFlags().GetBool("verbose")
	if err != nil {
		return nil, fmt.Errorf("failed to get verbose flag: %w", err)
	}
	return newLogger(verbose), nil
}
