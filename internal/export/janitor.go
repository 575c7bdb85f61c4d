package export

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/iomt-labs/telemetry-gateway/internal/metrics"
)

// Janitor deletes export artifacts once they outlive their retention TTL.
// Artifacts are one-shot downloads; without the sweep the export directory
// grows without bound.
type Janitor struct {
	artifacts ArtifactStore
	dir       string
	ttl       time.Duration
	interval  time.Duration
	clock     clockwork.Clock
	log       *slog.Logger
}

// NewJanitor creates a Janitor sweeping every interval, removing artifacts
// older than ttl.
func NewJanitor(artifacts ArtifactStore, dir string, ttl, interval time.Duration, clock clockwork.Clock, log *slog.Logger) *Janitor {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Janitor{
		artifacts: artifacts,
		dir:       dir,
		ttl:       ttl,
		interval:  interval,
		clock:     clock,
		log:       log,
	}
}

// Run sweeps until the context is cancelled.
func (j *Janitor) Run(ctx context.Context) {
	ticker := j.clock.NewTicker(j.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			j.Sweep(ctx)
		}
	}
}

// Sweep removes one batch of expired artifacts, records first so an
// interrupted sweep never leaves a servable record pointing at a deleted
// file for long: a record-less file is unreachable either way.
func (j *Janitor) Sweep(ctx context.Context) {
	cutoff := j.clock.Now().Add(-j.ttl)
	names, err := j.artifacts.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		j.log.Error("artifact retention sweep failed", "error", err)
		return
	}
	for _, name := range names {
		if err := os.Remove(filepath.Join(j.dir, name)); err != nil && !os.IsNotExist(err) {
			j.log.Error("removing expired artifact file", "file", name, "error", err)
			continue
		}
		metrics.ArtifactsReaped.Inc()
	}
	if len(names) > 0 {
		j.log.Info("expired artifacts removed", "count", len(names))
	}
}
