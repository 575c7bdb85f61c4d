package export

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists artifact records in the export_artifacts table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a PostgresStore backed by the given pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Create(ctx context.Context, a Artifact) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO export_artifacts (id, file_name, user_id, device_id, range_begin, range_end, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, a.ID, a.FileName, a.UserID, a.DeviceID, a.Begin, a.End, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting artifact record: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetByFileName(ctx context.Context, fileName string) (Artifact, error) {
	var a Artifact
	err := s.pool.QueryRow(ctx, `
		SELECT id, file_name, user_id, device_id, range_begin, range_end, created_at
		FROM export_artifacts
		WHERE file_name = $1
	`, fileName).Scan(&a.ID, &a.FileName, &a.UserID, &a.DeviceID, &a.Begin, &a.End, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Artifact{}, ErrNotFound
	}
	if err != nil {
		return Artifact{}, fmt.Errorf("fetching artifact record: %w", err)
	}
	return a, nil
}

func (s *PostgresStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		DELETE FROM export_artifacts
		WHERE created_at < $1
		RETURNING file_name
	`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("deleting expired artifact records: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scanning expired artifact name: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating expired artifact names: %w", err)
	}
	return names, nil
}
