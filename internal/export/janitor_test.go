package export

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

func TestJanitorSweep(t *testing.T) {
	dir := t.TempDir()
	artifacts := newMemArtifacts()
	clock := clockwork.NewFakeClockAt(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	old := Artifact{
		ID:        uuid.New(),
		FileName:  "u1_AABBCC_9m4e2mr0ui3e8a215n4g.csv",
		UserID:    "u1",
		DeviceID:  "AA:BB:CC",
		CreatedAt: clock.Now().Add(-48 * time.Hour),
	}
	fresh := Artifact{
		ID:        uuid.New(),
		FileName:  "u1_AABBCC_9m4e2mr0ui3e8a215n4h.csv",
		UserID:    "u1",
		DeviceID:  "AA:BB:CC",
		CreatedAt: clock.Now().Add(-time.Hour),
	}
	for _, a := range []Artifact{old, fresh} {
		require.NoError(t, artifacts.Create(context.Background(), a))
		require.NoError(t, os.WriteFile(filepath.Join(dir, a.FileName), []byte("ts,weight\n"), 0o644))
	}

	j := NewJanitor(artifacts, dir, 24*time.Hour, time.Minute, clock, log)
	j.Sweep(context.Background())

	_, err := os.Stat(filepath.Join(dir, old.FileName))
	require.ErrorIs(t, err, os.ErrNotExist)
	_, err = os.Stat(filepath.Join(dir, fresh.FileName))
	require.NoError(t, err)

	_, err = artifacts.GetByFileName(context.Background(), old.FileName)
	require.ErrorIs(t, err, ErrNotFound)
	_, err = artifacts.GetByFileName(context.Background(), fresh.FileName)
	require.NoError(t, err)
}

func TestJanitorRunStopsOnCancel(t *testing.T) {
	dir := t.TempDir()
	clock := clockwork.NewFakeClock()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	j := NewJanitor(newMemArtifacts(), dir, time.Hour, time.Minute, clock, log)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		j.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("janitor did not stop on context cancellation")
	}
}
