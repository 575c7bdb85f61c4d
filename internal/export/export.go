package export

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/xid"

	"github.com/iomt-labs/telemetry-gateway/internal/catalog"
	"github.com/iomt-labs/telemetry-gateway/internal/metrics"
	"github.com/iomt-labs/telemetry-gateway/internal/registry"
)

const defaultQueryTimeout = 60 * time.Second

// RegistrationGetter resolves a (user, device) pair to its registration.
type RegistrationGetter interface {
	Get(ctx context.Context, userID, deviceID string) (registry.Registration, error)
}

// TypeResolver resolves a device type tag to its column schema.
type TypeResolver interface {
	Resolve(ctx context.Context, deviceType string) (catalog.DeviceType, error)
}

// RangeReader reads a time-bounded slice of a telemetry table as textual
// rows in store-return order.
type RangeReader interface {
	ReadRange(ctx context.Context, table, timeColumn string, begin, end time.Time) ([][]string, error)
}

// Config holds Exporter dependencies.
type Config struct {
	Logger        *slog.Logger
	Clock         clockwork.Clock
	Registrations RegistrationGetter
	Types         TypeResolver
	Reader        RangeReader
	Artifacts     ArtifactStore
	Dir           string

	// Optional with defaults.
	QueryTimeout time.Duration
}

func (c *Config) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Registrations == nil {
		return errors.New("registration getter is required")
	}
	if c.Types == nil {
		return errors.New("type resolver is required")
	}
	if c.Reader == nil {
		return errors.New("range reader is required")
	}
	if c.Artifacts == nil {
		return errors.New("artifact store is required")
	}
	if c.Dir == "" {
		return errors.New("export directory is required")
	}
	if c.QueryTimeout == 0 {
		c.QueryTimeout = defaultQueryTimeout
	}
	if c.QueryTimeout <= 0 {
		return errors.New("query timeout must be > 0")
	}
	return nil
}

// Exporter runs the export pipeline.
type Exporter struct {
	cfg Config
}

// New creates an Exporter and ensures the export directory exists.
func New(cfg Config) (*Exporter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating export directory: %w", err)
	}
	return &Exporter{cfg: cfg}, nil
}

// Export materializes the telemetry of (userID, deviceID) in [begin, end],
// inclusive on both ends, into a CSV artifact.
//
// The registration lookup is scoped to userID, so a caller can only ever
// export devices it owns. A registration whose device type has vanished
// from the catalog is a hard failure, not a partial export. The file is
// written under a temporary name and renamed into place only after every
// row is flushed; a failure anywhere leaves nothing servable.
func (e *Exporter) Export(ctx context.Context, userID, deviceID string, begin, end time.Time) (Artifact, error) {
	timer := prometheus.NewTimer(metrics.ExportDuration)
	defer timer.ObserveDuration()

	reg, err := e.cfg.Registrations.Get(ctx, userID, deviceID)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			metrics.Exports.WithLabelValues("device_not_found").Inc()
		} else {
			metrics.Exports.WithLabelValues("store_error").Inc()
		}
		return Artifact{}, fmt.Errorf("resolving registration: %w", err)
	}

	dt, err := e.cfg.Types.Resolve(ctx, reg.DeviceType)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			metrics.Exports.WithLabelValues("schema_not_found").Inc()
		} else {
			metrics.Exports.WithLabelValues("store_error").Inc()
		}
		return Artifact{}, fmt.Errorf("resolving device type %q: %w", reg.DeviceType, err)
	}

	// Same pure derivation registration used, so the table provisioned
	// then is exactly the table read now.
	table := registry.TableName(userID, deviceID)

	queryCtx, cancel := context.WithTimeout(ctx, e.cfg.QueryTimeout)
	defer cancel()

	rows, err := e.cfg.Reader.ReadRange(queryCtx, table, dt.TimeColumn(), begin, end)
	if err != nil {
		metrics.Exports.WithLabelValues("store_error").Inc()
		return Artifact{}, fmt.Errorf("reading telemetry range: %w", err)
	}

	fileName := table + "_" + xid.New().String() + ".csv"
	if err := e.writeArtifactFile(fileName, dt.Columns, rows); err != nil {
		metrics.Exports.WithLabelValues("write_error").Inc()
		return Artifact{}, err
	}

	artifact := Artifact{
		ID:        uuid.New(),
		FileName:  fileName,
		UserID:    userID,
		DeviceID:  deviceID,
		Begin:     begin,
		End:       end,
		CreatedAt: e.cfg.Clock.Now().UTC(),
	}
	if err := e.cfg.Artifacts.Create(ctx, artifact); err != nil {
		// Without a record the file is unreachable; remove it rather
		// than leak an orphan.
		_ = os.Remove(filepath.Join(e.cfg.Dir, fileName))
		metrics.Exports.WithLabelValues("store_error").Inc()
		return Artifact{}, fmt.Errorf("recording artifact: %w", err)
	}

	metrics.Exports.WithLabelValues("ok").Inc()
	metrics.ExportRows.Add(float64(len(rows)))
	e.cfg.Logger.Info("export complete",
		"user_id", userID, "device_id", deviceID, "file", fileName, "rows", len(rows))
	return artifact, nil
}

// writeArtifactFile writes header and rows to a temporary file and publishes
// it atomically. An empty row set still produces the header line.
func (e *Exporter) writeArtifactFile(fileName string, header []string, rows [][]string) (err error) {
	tmp := filepath.Join(e.cfg.Dir, fileName+".partial")
	defer func() {
		if err != nil {
			_ = os.Remove(tmp)
		}
	}()

	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("creating artifact file: %w", err)
	}

	w := csv.NewWriter(f)
	if err = w.Write(header); err != nil {
		_ = f.Close()
		return fmt.Errorf("writing header row: %w", err)
	}
	for _, row := range rows {
		if err = w.Write(row); err != nil {
			_ = f.Close()
			return fmt.Errorf("writing telemetry row: %w", err)
		}
	}
	w.Flush()
	if err = w.Error(); err != nil {
		_ = f.Close()
		return fmt.Errorf("flushing artifact file: %w", err)
	}
	if err = f.Close(); err != nil {
		return fmt.Errorf("closing artifact file: %w", err)
	}

	if err = os.Rename(tmp, filepath.Join(e.cfg.Dir, fileName)); err != nil {
		return fmt.Errorf("publishing artifact file: %w", err)
	}
	return nil
}

// Open returns the artifact and an open handle for a file name produced by
// this pipeline. Names outside the naming scheme are rejected before any
// lookup, which also closes path traversal.
func (e *Exporter) Open(ctx context.Context, fileName string) (*os.File, Artifact, error) {
	if !ValidFileName(fileName) {
		return nil, Artifact{}, ErrNotFound
	}

	artifact, err := e.cfg.Artifacts.GetByFileName(ctx, fileName)
	if err != nil {
		return nil, Artifact{}, err
	}

	f, err := os.Open(filepath.Join(e.cfg.Dir, fileName))
	if errors.Is(err, os.ErrNotExist) {
		// Record without file: surface the inconsistency instead of a
		// bare not-found.
		e.cfg.Logger.Error("artifact record exists but file is missing", "file", fileName)
		return nil, Artifact{}, fmt.Errorf("artifact file missing for recorded export %s: %w", fileName, ErrNotFound)
	}
	if err != nil {
		return nil, Artifact{}, fmt.Errorf("opening artifact file: %w", err)
	}
	return f, artifact, nil
}
