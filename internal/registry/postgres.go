package registry

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists registrations in the device_registrations table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a PostgresStore backed by the given pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Create(ctx context.Context, reg Registration) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO device_registrations (user_id, device_id, device_name, device_type)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, device_id) DO UPDATE
		SET device_name = EXCLUDED.device_name,
		    device_type = EXCLUDED.device_type
	`, reg.UserID, reg.DeviceID, reg.DeviceName, reg.DeviceType)
	if err != nil {
		return fmt.Errorf("inserting registration: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, userID, deviceID string) (Registration, error) {
	var reg Registration
	err := s.pool.QueryRow(ctx, `
		SELECT user_id, device_id, device_name, device_type, created_at
		FROM device_registrations
		WHERE user_id = $1 AND device_id = $2
	`, userID, deviceID).Scan(&reg.UserID, &reg.DeviceID, &reg.DeviceName, &reg.DeviceType, &reg.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Registration{}, ErrNotFound
	}
	if err != nil {
		return Registration{}, fmt.Errorf("fetching registration: %w", err)
	}
	return reg, nil
}

func (s *PostgresStore) List(ctx context.Context, userID string) ([]Registration, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT user_id, device_id, device_name, device_type, created_at
		FROM device_registrations
		WHERE user_id = $1
		ORDER BY created_at
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("listing registrations: %w", err)
	}
	defer rows.Close()

	var regs []Registration
	for rows.Next() {
		var reg Registration
		if err := rows.Scan(&reg.UserID, &reg.DeviceID, &reg.DeviceName, &reg.DeviceType, &reg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning registration row: %w", err)
		}
		regs = append(regs, reg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating registration rows: %w", err)
	}
	return regs, nil
}

func (s *PostgresStore) Delete(ctx context.Context, userID, deviceID string) error {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM device_registrations
		WHERE user_id = $1 AND device_id = $2
	`, userID, deviceID)
	if err != nil {
		return fmt.Errorf("deleting registration: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
