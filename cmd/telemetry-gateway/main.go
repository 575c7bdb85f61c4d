package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"

	"github.com/iomt-labs/telemetry-gateway/internal/authgate"
	"github.com/iomt-labs/telemetry-gateway/internal/catalog"
	"github.com/iomt-labs/telemetry-gateway/internal/export"
	"github.com/iomt-labs/telemetry-gateway/internal/gateway"
	"github.com/iomt-labs/telemetry-gateway/internal/metrics"
	"github.com/iomt-labs/telemetry-gateway/internal/pgdb"
	"github.com/iomt-labs/telemetry-gateway/internal/registry"
	"github.com/iomt-labs/telemetry-gateway/internal/timeseries"

	_ "net/http/pprof"
)

var (
	// Set by LDFLAGS
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const (
	defaultListenAddr     = ":8000"
	defaultMetricsAddr    = ":8080"
	defaultClickHouseAddr = "localhost:9000"
	defaultClickHouseDB   = "default"
	defaultPostgresPort   = 5432
	defaultExportDir      = "/var/lib/telemetry-gateway/exports"
	defaultCatalogTTL     = time.Minute
	defaultSweepInterval  = 10 * time.Minute

	shutdownTimeout = 10 * time.Second
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if cfg.ShowVersion {
		fmt.Printf("version: %s, commit: %s, date: %s\n", version, commit, date)
		return nil
	}

	log := newLogger(cfg.Verbose)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Start pprof server
	if cfg.EnablePprof {
		go func() {
			log.Info("starting pprof server", "address", "localhost:6060")
			err := http.ListenAndServe("localhost:6060", nil)
			if err != nil {
				log.Error("failed to start pprof server", "error", err)
			}
		}()
	}

	// Start prometheus metrics server
	if cfg.MetricsAddr != "" {
		metrics.BuildInfo.WithLabelValues(version, commit, date).Set(1)
		go func() {
			listener, err := net.Listen("tcp", cfg.MetricsAddr)
			if err != nil {
				log.Error("failed to start prometheus metrics server listener", "error", err)
				os.Exit(1)
			}
			log.Info("prometheus metrics server listening", "address", listener.Addr().String())
			http.Handle("/metrics", promhttp.Handler())
			if err := http.Serve(listener, nil); err != nil {
				log.Error("failed to start prometheus metrics server", "error", err)
				os.Exit(1)
			}
		}()
	}

	pool, err := pgdb.Connect(ctx, pgdb.Config{
		Host:     cfg.PostgresHost,
		Port:     cfg.PostgresPort,
		Database: cfg.PostgresDB,
		Username: cfg.PostgresUser,
		Password: cfg.PostgresPassword,
	}, log)
	if err != nil {
		return fmt.Errorf("failed to connect to postgres: %w", err)
	}
	defer pool.Close()

	chClient, err := timeseries.NewClient(
		timeseries.WithAddr(cfg.ClickHouseAddr),
		timeseries.WithDatabase(cfg.ClickHouseDB),
		timeseries.WithUser(cfg.ClickHouseUser),
		timeseries.WithPassword(cfg.ClickHousePassword),
		timeseries.WithSecure(cfg.ClickHouseSecure),
		timeseries.WithLogger(log),
	)
	if err != nil {
		return fmt.Errorf("failed to create clickhouse client: %w", err)
	}
	defer chClient.Close()

	types := catalog.NewCached(catalog.NewPostgresStore(pool), cfg.CatalogCacheTTL)
	defer types.Stop()

	regStore := registry.NewPostgresStore(pool)
	devices := registry.NewService(regStore, types, chClient, log)

	artifacts := export.NewPostgresStore(pool)
	exporter, err := export.New(export.Config{
		Logger:        log,
		Clock:         clockwork.NewRealClock(),
		Registrations: regStore,
		Types:         types,
		Reader:        chClient,
		Artifacts:     artifacts,
		Dir:           cfg.ExportDir,
		QueryTimeout:  cfg.ExportQueryTimeout,
	})
	if err != nil {
		return fmt.Errorf("failed to create exporter: %w", err)
	}

	if cfg.ArtifactTTL > 0 {
		janitor := export.NewJanitor(artifacts, cfg.ExportDir, cfg.ArtifactTTL, cfg.SweepInterval, clockwork.NewRealClock(), log)
		go janitor.Run(ctx)
	}

	validator, err := newValidator(cfg)
	if err != nil {
		return err
	}

	gw, err := gateway.New(gateway.Config{
		Logger:    log,
		Validator: validator,
		Devices:   devices,
		Types:     types,
		Exporter:  exporter,
		Telemetry: chClient,
		Records:   pool,
	})
	if err != nil {
		return fmt.Errorf("failed to create gateway: %w", err)
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           gw.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("telemetry gateway listening", "address", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func newValidator(cfg Config) (authgate.Validator, error) {
	if cfg.AuthURL != "" {
		return authgate.NewRemoteValidator(cfg.AuthURL, nil), nil
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("token validation is unconfigured (set JWT_SECRET or AUTH_URL)")
	}
	return authgate.NewJWTValidator([]byte(cfg.JWTSecret)), nil
}

type Config struct {
	ShowVersion bool
	Verbose     bool
	EnablePprof bool
	MetricsAddr string

	ListenAddr string

	ClickHouseAddr     string
	ClickHouseDB       string
	ClickHouseUser     string
	ClickHousePassword string
	ClickHouseSecure   bool

	PostgresHost     string
	PostgresPort     int
	PostgresDB       string
	PostgresUser     string
	PostgresPassword string

	JWTSecret string
	AuthURL   string

	ExportDir          string
	ExportQueryTimeout time.Duration
	ArtifactTTL        time.Duration
	SweepInterval      time.Duration
	CatalogCacheTTL    time.Duration
}

func getenv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getenvInt(key string, def int) (int, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s=%q: %w", key, v, err)
	}
	return i, nil
}

func getenvDuration(key string, def time.Duration) (time.Duration, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s=%q: %w", key, v, err)
	}
	return d, nil
}

func loadConfig() (Config, error) {
	_ = godotenv.Load()

	var cfg Config

	flag.BoolVar(&cfg.ShowVersion, "version", false, "show version and exit")
	flag.BoolVar(&cfg.Verbose, "verbose", false, "verbose mode - show debug logs")
	flag.BoolVar(&cfg.EnablePprof, "enable-pprof", false, "enable pprof server")

	flag.StringVar(&cfg.MetricsAddr, "metrics-addr", getenv("METRICS_ADDR", defaultMetricsAddr), "address to listen on for prometheus metrics (env: METRICS_ADDR)")
	flag.StringVar(&cfg.ListenAddr, "listen-addr", getenv("LISTEN_ADDR", defaultListenAddr), "address to listen on for device traffic (env: LISTEN_ADDR)")

	flag.StringVar(&cfg.ClickHouseAddr, "clickhouse-addr", getenv("CLICKHOUSE_ADDR", defaultClickHouseAddr), "clickhouse native address (env: CLICKHOUSE_ADDR)")
	flag.StringVar(&cfg.ClickHouseDB, "clickhouse-database", getenv("CLICKHOUSE_DATABASE", defaultClickHouseDB), "clickhouse database (env: CLICKHOUSE_DATABASE)")
	flag.StringVar(&cfg.ClickHouseUser, "clickhouse-username", getenv("CLICKHOUSE_USERNAME", "default"), "clickhouse username (env: CLICKHOUSE_USERNAME)")
	flag.StringVar(&cfg.ClickHousePassword, "clickhouse-password", getenv("CLICKHOUSE_PASSWORD", ""), "clickhouse password (env: CLICKHOUSE_PASSWORD)")
	flag.BoolVar(&cfg.ClickHouseSecure, "clickhouse-secure", getenvBool("CLICKHOUSE_SECURE", false), "use TLS for clickhouse (env: CLICKHOUSE_SECURE)")

	flag.StringVar(&cfg.PostgresHost, "postgres-host", getenv("POSTGRES_HOST", "localhost"), "postgres host (env: POSTGRES_HOST)")
	flag.StringVar(&cfg.PostgresDB, "postgres-database", getenv("POSTGRES_DATABASE", "telemetry"), "postgres database (env: POSTGRES_DATABASE)")
	flag.StringVar(&cfg.PostgresUser, "postgres-username", getenv("POSTGRES_USERNAME", "postgres"), "postgres username (env: POSTGRES_USERNAME)")
	flag.StringVar(&cfg.PostgresPassword, "postgres-password", getenv("POSTGRES_PASSWORD", ""), "postgres password (env: POSTGRES_PASSWORD)")

	flag.StringVar(&cfg.JWTSecret, "jwt-secret", getenv("JWT_SECRET", ""), "HMAC secret for local token validation (env: JWT_SECRET)")
	flag.StringVar(&cfg.AuthURL, "auth-url", getenv("AUTH_URL", ""), "base URL of the remote token validation service; overrides jwt-secret (env: AUTH_URL)")

	flag.StringVar(&cfg.ExportDir, "export-dir", getenv("EXPORT_DIR", defaultExportDir), "directory export artifacts are published to (env: EXPORT_DIR)")

	flag.Parse()

	if cfg.ShowVersion {
		return cfg, nil
	}

	var err error
	cfg.PostgresPort, err = getenvInt("POSTGRES_PORT", defaultPostgresPort)
	if err != nil {
		return Config{}, err
	}
	cfg.ExportQueryTimeout, err = getenvDuration("EXPORT_QUERY_TIMEOUT", 0)
	if err != nil {
		return Config{}, err
	}
	// ARTIFACT_TTL=0 keeps artifacts forever.
	cfg.ArtifactTTL, err = getenvDuration("ARTIFACT_TTL", 0)
	if err != nil {
		return Config{}, err
	}
	cfg.SweepInterval, err = getenvDuration("ARTIFACT_SWEEP_INTERVAL", defaultSweepInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.CatalogCacheTTL, err = getenvDuration("CATALOG_CACHE_TTL", defaultCatalogTTL)
	if err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func newLogger(verbose bool) *slog.Logger {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	return slog.New(tint.NewHandler(os.Stdout, &tint.Options{
		Level: logLevel,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				t := a.Value.Time().UTC()
				a.Value = slog.StringValue(formatRFC3339Millis(t))
			}
			if s, ok := a.Value.Any().(string); ok && s == "" {
				return slog.Attr{}
			}
			return a
		},
	}))
}

func formatRFC3339Millis(t time.Time) string {
	t = t.UTC()
	base := t.Format("2006-01-02T15:04:05")
	ms := t.Nanosecond() / 1_000_000
	return fmt.Sprintf("%s.%03dZ", base, ms)
}
