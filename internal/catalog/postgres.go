package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists catalog entries in the device_types table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a PostgresStore backed by the given pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Resolve returns the device type for the given tag, or ErrNotFound.
func (s *PostgresStore) Resolve(ctx context.Context, deviceType string) (DeviceType, error) {
	var dt DeviceType
	err := s.pool.QueryRow(ctx, `
		SELECT device_type, columns, create_template, prefix
		FROM device_types
		WHERE device_type = $1
	`, deviceType).Scan(&dt.DeviceType, &dt.Columns, &dt.CreateTemplate, &dt.Prefix)
	if errors.Is(err, pgx.ErrNoRows) {
		return DeviceType{}, ErrNotFound
	}
	if err != nil {
		return DeviceType{}, fmt.Errorf("resolving device type %q: %w", deviceType, err)
	}
	return dt, nil
}

// List returns every catalog entry, each type exactly once.
func (s *PostgresStore) List(ctx context.Context) ([]DeviceType, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT device_type, columns, create_template, prefix
		FROM device_types
		ORDER BY device_type
	`)
	if err != nil {
		return nil, fmt.Errorf("listing device types: %w", err)
	}
	defer rows.Close()

	var types []DeviceType
	for rows.Next() {
		var dt DeviceType
		if err := rows.Scan(&dt.DeviceType, &dt.Columns, &dt.CreateTemplate, &dt.Prefix); err != nil {
			return nil, fmt.Errorf("scanning device type row: %w", err)
		}
		types = append(types, dt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating device type rows: %w", err)
	}
	return types, nil
}

// Put inserts or replaces a catalog entry after validating it.
func (s *PostgresStore) Put(ctx context.Context, dt DeviceType) error {
	if err := dt.Validate(); err != nil {
		return fmt.Errorf("invalid device type %q: %w", dt.DeviceType, err)
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO device_types (device_type, columns, create_template, prefix)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (device_type) DO UPDATE
		SET columns = EXCLUDED.columns,
		    create_template = EXCLUDED.create_template,
		    prefix = EXCLUDED.prefix
	`, dt.DeviceType, dt.Columns, dt.CreateTemplate, dt.Prefix)
	if err != nil {
		return fmt.Errorf("storing device type %q: %w", dt.DeviceType, err)
	}
	return nil
}

// Delete removes a catalog entry. Registrations referencing the type become
// dangling; exports for them fail hard rather than partially.
func (s *PostgresStore) Delete(ctx context.Context, deviceType string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM device_types WHERE device_type = $1`, deviceType)
	if err != nil {
		return fmt.Errorf("deleting device type %q: %w", deviceType, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
