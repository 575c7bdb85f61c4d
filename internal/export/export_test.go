package export

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/iomt-labs/telemetry-gateway/internal/catalog"
	"github.com/iomt-labs/telemetry-gateway/internal/metrics"
	"github.com/iomt-labs/telemetry-gateway/internal/registry"
)

type fakeRegistrations struct {
	regs map[string]registry.Registration
}

func regKey(userID, deviceID string) string { return userID + "\x00" + deviceID }

func (f *fakeRegistrations) Get(_ context.Context, userID, deviceID string) (registry.Registration, error) {
	reg, ok := f.regs[regKey(userID, deviceID)]
	if !ok {
		return registry.Registration{}, registry.ErrNotFound
	}
	return reg, nil
}

type fakeTypes struct {
	types map[string]catalog.DeviceType
}

func (f *fakeTypes) Resolve(_ context.Context, deviceType string) (catalog.DeviceType, error) {
	dt, ok := f.types[deviceType]
	if !ok {
		return catalog.DeviceType{}, catalog.ErrNotFound
	}
	return dt, nil
}

type fakeReader struct {
	rows [][]string
	err  error
}

func (f *fakeReader) ReadRange(_ context.Context, _, _ string, _, _ time.Time) ([][]string, error) {
	return f.rows, f.err
}

type memArtifacts struct {
	mu        sync.Mutex
	byName    map[string]Artifact
	createErr error
}

func newMemArtifacts() *memArtifacts {
	return &memArtifacts{byName: make(map[string]Artifact)}
}

func (m *memArtifacts) Create(_ context.Context, a Artifact) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byName[a.FileName] = a
	return nil
}

func (m *memArtifacts) GetByFileName(_ context.Context, fileName string) (Artifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.byName[fileName]
	if !ok {
		return Artifact{}, ErrNotFound
	}
	return a, nil
}

func (m *memArtifacts) DeleteOlderThan(_ context.Context, cutoff time.Time) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var names []string
	for name, a := range m.byName {
		if a.CreatedAt.Before(cutoff) {
			names = append(names, name)
			delete(m.byName, name)
		}
	}
	return names, nil
}

type testEnv struct {
	exporter  *Exporter
	artifacts *memArtifacts
	dir       string
}

func newTestEnv(t *testing.T, mutate func(*Config)) *testEnv {
	t.Helper()
	dir := t.TempDir()
	artifacts := newMemArtifacts()
	cfg := Config{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Clock:  clockwork.NewFakeClockAt(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)),
		Registrations: &fakeRegistrations{regs: map[string]registry.Registration{
			regKey("u1", "AA:BB:CC"): {
				UserID: "u1", DeviceID: "AA:BB:CC", DeviceName: "bathroom scale", DeviceType: "scale",
			},
		}},
		Types: &fakeTypes{types: map[string]catalog.DeviceType{
			"scale": {
				DeviceType:     "scale",
				Columns:        []string{"ts", "weight"},
				CreateTemplate: "CREATE TABLE IF NOT EXISTS %s (ts DateTime, weight Float64) ENGINE = MergeTree ORDER BY ts",
			},
		}},
		Reader:    &fakeReader{},
		Artifacts: artifacts,
		Dir:       dir,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	exporter, err := New(cfg)
	require.NoError(t, err)
	return &testEnv{exporter: exporter, artifacts: artifacts, dir: dir}
}

func dirEntries(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

var (
	begin = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end   = time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
)

func TestExport(t *testing.T) {
	env := newTestEnv(t, func(c *Config) {
		c.Reader = &fakeReader{rows: [][]string{
			{"2024-01-01 08:30:00", "81.4"},
			{"2024-01-01 20:15:00", "81.1"},
		}}
	})

	artifact, err := env.exporter.Export(context.Background(), "u1", "AA:BB:CC", begin, end)
	require.NoError(t, err)
	require.True(t, ValidFileName(artifact.FileName), "file name %q must match the naming scheme", artifact.FileName)
	require.True(t, strings.HasPrefix(artifact.FileName, "u1_AABBCC_"))

	data, err := os.ReadFile(filepath.Join(env.dir, artifact.FileName))
	require.NoError(t, err)
	require.Equal(t, "ts,weight\n2024-01-01 08:30:00,81.4\n2024-01-01 20:15:00,81.1\n", string(data))

	stored, err := env.artifacts.GetByFileName(context.Background(), artifact.FileName)
	require.NoError(t, err)
	require.Equal(t, "u1", stored.UserID)
}

func TestExportEmptyWindowIsHeaderOnly(t *testing.T) {
	env := newTestEnv(t, nil)

	artifact, err := env.exporter.Export(context.Background(), "u1", "AA:BB:CC", begin, end)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(env.dir, artifact.FileName))
	require.NoError(t, err)
	require.Equal(t, "ts,weight\n", string(data))
}

func TestExportUnregisteredDevice(t *testing.T) {
	env := newTestEnv(t, nil)

	_, err := env.exporter.Export(context.Background(), "u1", "11:22:33", begin, end)
	require.ErrorIs(t, err, registry.ErrNotFound)
	require.Empty(t, dirEntries(t, env.dir))
}

func TestExportOtherUsersDevice(t *testing.T) {
	env := newTestEnv(t, func(c *Config) {
		c.Reader = &fakeReader{rows: [][]string{{"2024-01-01 08:30:00", "81.4"}}}
	})

	// u2 never registered AA:BB:CC; the lookup is scoped to the caller.
	_, err := env.exporter.Export(context.Background(), "u2", "AA:BB:CC", begin, end)
	require.ErrorIs(t, err, registry.ErrNotFound)
	require.Empty(t, dirEntries(t, env.dir))
}

func TestExportDanglingTypeIsHardFailure(t *testing.T) {
	env := newTestEnv(t, func(c *Config) {
		c.Types = &fakeTypes{types: map[string]catalog.DeviceType{}}
	})

	_, err := env.exporter.Export(context.Background(), "u1", "AA:BB:CC", begin, end)
	require.ErrorIs(t, err, catalog.ErrNotFound)
	require.Empty(t, dirEntries(t, env.dir))
}

type errRegistrations struct{ err error }

func (e *errRegistrations) Get(_ context.Context, _, _ string) (registry.Registration, error) {
	return registry.Registration{}, e.err
}

type errTypes struct{ err error }

func (e *errTypes) Resolve(_ context.Context, _ string) (catalog.DeviceType, error) {
	return catalog.DeviceType{}, e.err
}

// A record-store outage must count as a store error, not as a flood of
// not-found lookups.
func TestExportMetricsDistinguishOutageFromNotFound(t *testing.T) {
	storeErrBefore := testutil.ToFloat64(metrics.Exports.WithLabelValues("store_error"))
	notFoundBefore := testutil.ToFloat64(metrics.Exports.WithLabelValues("device_not_found"))
	schemaBefore := testutil.ToFloat64(metrics.Exports.WithLabelValues("schema_not_found"))

	env := newTestEnv(t, func(c *Config) {
		c.Registrations = &errRegistrations{err: errors.New("connection refused")}
	})
	_, err := env.exporter.Export(context.Background(), "u1", "AA:BB:CC", begin, end)
	require.Error(t, err)

	env = newTestEnv(t, func(c *Config) {
		c.Types = &errTypes{err: errors.New("connection refused")}
	})
	_, err = env.exporter.Export(context.Background(), "u1", "AA:BB:CC", begin, end)
	require.Error(t, err)

	require.Equal(t, storeErrBefore+2, testutil.ToFloat64(metrics.Exports.WithLabelValues("store_error")))
	require.Equal(t, notFoundBefore, testutil.ToFloat64(metrics.Exports.WithLabelValues("device_not_found")))
	require.Equal(t, schemaBefore, testutil.ToFloat64(metrics.Exports.WithLabelValues("schema_not_found")))
}

func TestExportStoreErrorLeavesNoFile(t *testing.T) {
	env := newTestEnv(t, func(c *Config) {
		c.Reader = &fakeReader{err: errors.New("store unreachable")}
	})

	_, err := env.exporter.Export(context.Background(), "u1", "AA:BB:CC", begin, end)
	require.Error(t, err)
	require.Empty(t, dirEntries(t, env.dir))
}

func TestExportArtifactRecordFailureRemovesFile(t *testing.T) {
	env := newTestEnv(t, nil)
	env.artifacts.createErr = errors.New("record store down")

	_, err := env.exporter.Export(context.Background(), "u1", "AA:BB:CC", begin, end)
	require.Error(t, err)
	require.Empty(t, dirEntries(t, env.dir))
}

func TestExportArtifactsAreNeverDeduplicated(t *testing.T) {
	env := newTestEnv(t, nil)

	first, err := env.exporter.Export(context.Background(), "u1", "AA:BB:CC", begin, end)
	require.NoError(t, err)
	second, err := env.exporter.Export(context.Background(), "u1", "AA:BB:CC", begin, end)
	require.NoError(t, err)

	require.NotEqual(t, first.FileName, second.FileName)
	require.Len(t, dirEntries(t, env.dir), 2)
}

func TestOpen(t *testing.T) {
	env := newTestEnv(t, nil)

	artifact, err := env.exporter.Export(context.Background(), "u1", "AA:BB:CC", begin, end)
	require.NoError(t, err)

	f, got, err := env.exporter.Open(context.Background(), artifact.FileName)
	require.NoError(t, err)
	defer f.Close()
	require.Equal(t, artifact.FileName, got.FileName)

	data, err := io.ReadAll(f)
	require.NoError(t, err)
	require.Equal(t, "ts,weight\n", string(data))
}

func TestOpenRejectsNamesOutsideTheScheme(t *testing.T) {
	env := newTestEnv(t, nil)

	names := []string{
		"../etc/passwd",
		"..%2f..%2fetc%2fpasswd",
		"u1_AABBCC_c0ffee.csv.partial",
		"/etc/passwd",
		"u1_AABBCC.csv",
		"u1_AABBCC_" + strings.Repeat("z", 20) + ".csv", // 'z' outside xid alphabet
	}
	for _, name := range names {
		_, _, err := env.exporter.Open(context.Background(), name)
		require.ErrorIs(t, err, ErrNotFound, "name %q must be rejected", name)
	}
}

func TestOpenUnknownArtifact(t *testing.T) {
	env := newTestEnv(t, nil)

	_, _, err := env.exporter.Open(context.Background(), "u1_AABBCC_9m4e2mr0ui3e8a215n4g.csv")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestOpenRecordWithoutFile(t *testing.T) {
	env := newTestEnv(t, nil)

	artifact, err := env.exporter.Export(context.Background(), "u1", "AA:BB:CC", begin, end)
	require.NoError(t, err)
	require.NoError(t, os.Remove(filepath.Join(env.dir, artifact.FileName)))

	_, _, err = env.exporter.Open(context.Background(), artifact.FileName)
	require.ErrorIs(t, err, ErrNotFound)
}
