package timeseries

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/stretchr/testify/require"

	"github.com/iomt-labs/telemetry-gateway/internal/catalog"
	"github.com/iomt-labs/telemetry-gateway/internal/registry"
)

// mockConn implements Conn for testing.
type mockConn struct {
	mu    sync.Mutex
	execs []string

	execErr  error
	queryErr error
	rows     *mockRows
}

func (m *mockConn) Exec(_ context.Context, query string, _ ...any) error {
	m.mu.Lock()
	m.execs = append(m.execs, query)
	m.mu.Unlock()
	return m.execErr
}

func (m *mockConn) Query(_ context.Context, query string, _ ...any) (driver.Rows, error) {
	if m.queryErr != nil {
		return nil, m.queryErr
	}
	return m.rows, nil
}

func (m *mockConn) Ping(_ context.Context) error { return nil }
func (m *mockConn) Close() error                 { return nil }

type mockColumnType struct {
	name     string
	scanType reflect.Type
}

func (m mockColumnType) Name() string             { return m.name }
func (m mockColumnType) Nullable() bool           { return false }
func (m mockColumnType) ScanType() reflect.Type   { return m.scanType }
func (m mockColumnType) DatabaseTypeName() string { return "" }

// mockRows implements driver.Rows for testing.
type mockRows struct {
	data  [][]any
	types []driver.ColumnType
	index int
}

func (m *mockRows) Next() bool {
	if m.index >= len(m.data) {
		return false
	}
	m.index++
	return true
}

func (m *mockRows) Scan(dest ...any) error {
	if m.index == 0 || m.index > len(m.data) {
		return errors.New("no current row")
	}
	row := m.data[m.index-1]
	for i, d := range dest {
		reflect.ValueOf(d).Elem().Set(reflect.ValueOf(row[i]))
	}
	return nil
}

func (m *mockRows) Close() error { return nil }
func (m *mockRows) Columns() []string {
	names := make([]string, len(m.types))
	for i, t := range m.types {
		names[i] = t.Name()
	}
	return names
}
func (m *mockRows) ColumnTypes() []driver.ColumnType { return m.types }
func (m *mockRows) Err() error                       { return nil }
func (m *mockRows) Totals(_ ...any) error            { return nil }
func (m *mockRows) ScanStruct(_ any) error           { return nil }

func newTestClient(conn Conn) *Client {
	return NewClientWithConn(conn, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

var scaleType = catalog.DeviceType{
	DeviceType:     "scale",
	Columns:        []string{"ts", "weight"},
	CreateTemplate: "CREATE TABLE IF NOT EXISTS %s (ts DateTime, weight Float64) ENGINE = MergeTree ORDER BY ts",
}

func TestProvision(t *testing.T) {
	conn := &mockConn{}
	client := newTestClient(conn)

	err := client.Provision(context.Background(), "u1_AABBCC", scaleType)
	require.NoError(t, err)
	require.Len(t, conn.execs, 1)
	require.Contains(t, conn.execs[0], "CREATE TABLE IF NOT EXISTS u1_AABBCC ")
}

func TestProvisionAcceptsDerivedTableNames(t *testing.T) {
	conn := &mockConn{}
	client := newTestClient(conn)

	// Names the registry derives must pass the allow-list, digit-leading
	// user ids included.
	for _, pair := range [][2]string{
		{"u1", "AA:BB:CC"},
		{"4f3c2a9b0d8e4c1fa6b2", "AA:BB:CC"},
		{"пользователь7", "d-1"},
	} {
		name := registry.TableName(pair[0], pair[1])
		err := client.Provision(context.Background(), name, scaleType)
		require.NoError(t, err, "derived name %q must be accepted", name)
	}
}

func TestProvisionAlreadyExistsIsSuccess(t *testing.T) {
	conn := &mockConn{execErr: &clickhouse.Exception{Code: 57, Message: "table already exists"}}
	client := newTestClient(conn)

	err := client.Provision(context.Background(), "u1_AABBCC", scaleType)
	require.NoError(t, err)
}

func TestProvisionStoreErrorIsFatal(t *testing.T) {
	conn := &mockConn{execErr: &clickhouse.Exception{Code: 241, Message: "memory limit exceeded"}}
	client := newTestClient(conn)

	err := client.Provision(context.Background(), "u1_AABBCC", scaleType)
	require.Error(t, err)
}

func TestProvisionRejectsBadIdentifiers(t *testing.T) {
	conn := &mockConn{}
	client := newTestClient(conn)

	for _, name := range []string{"", "u1;DROP TABLE x", "u1 AABBCC", "тбл", "a.b"} {
		err := client.Provision(context.Background(), name, scaleType)
		require.Error(t, err, "table name %q must be rejected", name)
	}
	require.Empty(t, conn.execs, "no statement reaches the store for a rejected name")
}

func TestProvisionRejectsBadTemplate(t *testing.T) {
	conn := &mockConn{}
	client := newTestClient(conn)

	bad := scaleType
	bad.CreateTemplate = "CREATE TABLE %s (%s DateTime)"
	err := client.Provision(context.Background(), "u1_AABBCC", bad)
	require.Error(t, err)
	require.Empty(t, conn.execs)
}

func TestReadRange(t *testing.T) {
	ts := time.Date(2024, 1, 1, 8, 30, 0, 0, time.UTC)
	conn := &mockConn{rows: &mockRows{
		types: []driver.ColumnType{
			mockColumnType{name: "ts", scanType: reflect.TypeOf(time.Time{})},
			mockColumnType{name: "weight", scanType: reflect.TypeOf(float64(0))},
		},
		data: [][]any{
			{ts, 81.4},
			{ts.Add(time.Hour), 81.1},
		},
	}}
	client := newTestClient(conn)

	rows, err := client.ReadRange(context.Background(), "u1_AABBCC", "ts",
		ts.Add(-time.Hour), ts.Add(2*time.Hour))
	require.NoError(t, err)
	require.Equal(t, [][]string{
		{"2024-01-01 08:30:00", "81.4"},
		{"2024-01-01 09:30:00", "81.1"},
	}, rows)
}

func TestReadRangeEmptyWindow(t *testing.T) {
	conn := &mockConn{rows: &mockRows{
		types: []driver.ColumnType{
			mockColumnType{name: "ts", scanType: reflect.TypeOf(time.Time{})},
		},
	}}
	client := newTestClient(conn)

	rows, err := client.ReadRange(context.Background(), "u1_AABBCC", "ts",
		time.Now().Add(-time.Hour), time.Now())
	require.NoError(t, err)
	require.Empty(t, rows)
}

func TestReadRangeUnknownTableIsInconsistentState(t *testing.T) {
	conn := &mockConn{queryErr: &clickhouse.Exception{Code: 60, Message: "table does not exist"}}
	client := newTestClient(conn)

	_, err := client.ReadRange(context.Background(), "u1_AABBCC", "ts",
		time.Now().Add(-time.Hour), time.Now())
	require.ErrorIs(t, err, ErrInconsistentTable)
}

func TestReadRangeRejectsBadIdentifiers(t *testing.T) {
	conn := &mockConn{}
	client := newTestClient(conn)

	_, err := client.ReadRange(context.Background(), "u1_AABBCC; DROP TABLE x", "ts",
		time.Now().Add(-time.Hour), time.Now())
	require.Error(t, err)

	_, err = client.ReadRange(context.Background(), "u1_AABBCC", "ts=1 OR 1",
		time.Now().Add(-time.Hour), time.Now())
	require.Error(t, err)
}
