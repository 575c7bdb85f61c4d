// Package timeseries wraps the analytical store holding per-device telemetry
// tables: one dynamically provisioned table per registered (user, device)
// pair, created from the device type's template and read back by the export
// pipeline.
package timeseries

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

const (
	defaultDialTimeout      = 10 * time.Second
	defaultMaxExecutionTime = 60
)

// ClickHouse server exception codes this package reacts to.
const (
	chErrCodeTableAlreadyExists = 57
	chErrCodeUnknownTable       = 60
)

// ErrInconsistentTable marks a query against a registered device whose
// backing table does not exist: the registration outlived (or never got) its
// table. Surfaced distinctly so the gap is visible instead of masked as a
// generic store error.
var ErrInconsistentTable = errors.New("registration exists but backing table does not")

// validIdentifier is the allow-list every table and column name must pass
// before being substituted into a statement. Names derived by the registry
// satisfy it by construction; this guards every other path.
var validIdentifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Conn is the slice of the ClickHouse driver this package uses.
type Conn interface {
	Exec(ctx context.Context, query string, args ...any) error
	Query(ctx context.Context, query string, args ...any) (driver.Rows, error)
	Ping(ctx context.Context) error
	Close() error
}

// Client wraps a pooled ClickHouse connection.
type Client struct {
	conn   Conn
	logger *slog.Logger
}

// Option configures the Client.
type Option func(*config)

type config struct {
	addr     string
	database string
	username string
	password string
	secure   bool
	logger   *slog.Logger
}

// WithAddr sets the ClickHouse address.
func WithAddr(addr string) Option {
	return func(c *config) { c.addr = addr }
}

// WithDatabase sets the ClickHouse database.
func WithDatabase(database string) Option {
	return func(c *config) { c.database = database }
}

// WithUser sets the ClickHouse username.
func WithUser(username string) Option {
	return func(c *config) { c.username = username }
}

// WithPassword sets the ClickHouse password.
func WithPassword(password string) Option {
	return func(c *config) { c.password = password }
}

// WithSecure enables TLS for the connection.
func WithSecure(secure bool) Option {
	return func(c *config) { c.secure = secure }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) { c.logger = logger }
}

// NewClient opens a pooled ClickHouse connection. The connection is shared
// across requests and held only for the duration of each call.
func NewClient(opts ...Option) (*Client, error) {
	cfg := &config{
		addr:     "localhost:9000",
		database: "default",
		username: "default",
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}

	chOpts := &clickhouse.Options{
		Addr: []string{cfg.addr},
		Auth: clickhouse.Auth{
			Database: cfg.database,
			Username: cfg.username,
			Password: cfg.password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": defaultMaxExecutionTime,
		},
		DialTimeout: defaultDialTimeout,
	}
	if cfg.secure {
		chOpts.TLS = &tls.Config{}
	}

	conn, err := clickhouse.Open(chOpts)
	if err != nil {
		return nil, fmt.Errorf("opening clickhouse connection: %w", err)
	}

	return &Client{conn: conn, logger: cfg.logger}, nil
}

// NewClientWithConn wraps an existing connection. Used by tests.
func NewClientWithConn(conn Conn, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{conn: conn, logger: logger}
}

// Ping tests the connection.
func (c *Client) Ping(ctx context.Context) error {
	return c.conn.Ping(ctx)
}

// Close closes the underlying connection pool.
func (c *Client) Close() error {
	return c.conn.Close()
}

// exceptionCode extracts the server exception code from a driver error,
// or -1 when the error is not a server exception.
func exceptionCode(err error) int32 {
	var exception *clickhouse.Exception
	if errors.As(err, &exception) {
		return exception.Code
	}
	return -1
}
