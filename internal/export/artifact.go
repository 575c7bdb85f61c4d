// Package export materializes time-bounded slices of a device's telemetry
// table into downloadable CSV artifacts.
package export

import (
	"context"
	"errors"
	"regexp"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a requested artifact does not exist or its
// name was not produced by this pipeline.
var ErrNotFound = errors.New("export artifact not found")

// Artifact is one generated export file. Artifacts are never deduplicated;
// every export request produces a new one.
type Artifact struct {
	ID        uuid.UUID `json:"id"`
	FileName  string    `json:"file_name"`
	UserID    string    `json:"user_id"`
	DeviceID  string    `json:"device_id"`
	Begin     time.Time `json:"begin"`
	End       time.Time `json:"end"`
	CreatedAt time.Time `json:"created_at"`
}

// ArtifactStore records which files the pipeline produced. The download
// endpoint serves nothing that is not in this store.
type ArtifactStore interface {
	Create(ctx context.Context, a Artifact) error
	GetByFileName(ctx context.Context, fileName string) (Artifact, error)
	// DeleteOlderThan removes artifact records created before the cutoff
	// and returns the file names of the removed records.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) ([]string, error)
}

// fileNamePattern matches names this pipeline generates: a sanitized table
// name, an xid disambiguator, and the csv extension. Anything else,
// path separators included, is rejected at retrieval time.
var fileNamePattern = regexp.MustCompile(`^[A-Za-z0-9_]+_[0-9a-v]{20}\.csv$`)

// ValidFileName reports whether name could have been produced by the
// pipeline's naming scheme.
func ValidFileName(name string) bool {
	return fileNamePattern.MatchString(name)
}
