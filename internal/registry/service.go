package registry

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/iomt-labs/telemetry-gateway/internal/catalog"
	"github.com/iomt-labs/telemetry-gateway/internal/metrics"
)

// TypeResolver is the slice of the catalog the registry needs.
type TypeResolver interface {
	Resolve(ctx context.Context, deviceType string) (catalog.DeviceType, error)
}

// Provisioner creates the backing table for a registration.
type Provisioner interface {
	Provision(ctx context.Context, tableName string, dt catalog.DeviceType) error
}

// Service runs the registration workflow: resolve the schema, persist the
// registration, provision the backing table.
type Service struct {
	store       Store
	types       TypeResolver
	provisioner Provisioner
	log         *slog.Logger
}

// NewService creates a registration Service.
func NewService(store Store, types TypeResolver, provisioner Provisioner, log *slog.Logger) *Service {
	return &Service{store: store, types: types, provisioner: provisioner, log: log}
}

// Register validates the device type, persists the registration, and
// provisions the telemetry table.
//
// The record store and the analytical store share no transaction
// coordinator. If provisioning fails the registration row already exists
// without a backing table; the row is left in place and the failure is
// returned to the caller, logged, and counted, so the caller retries or an
// operator reconciles. The next successful registration of the same pair
// provisions the missing table.
func (s *Service) Register(ctx context.Context, userID, deviceID, deviceName, deviceType string) error {
	// Unknown type rejects before any write: no record, no table.
	dt, err := s.types.Resolve(ctx, deviceType)
	if err != nil {
		metrics.Registrations.WithLabelValues("unknown_type").Inc()
		return fmt.Errorf("resolving device type: %w", err)
	}

	reg := Registration{
		UserID:     userID,
		DeviceID:   deviceID,
		DeviceName: deviceName,
		DeviceType: deviceType,
	}
	if err := s.store.Create(ctx, reg); err != nil {
		metrics.Registrations.WithLabelValues("store_error").Inc()
		return fmt.Errorf("persisting registration: %w", err)
	}

	table := TableName(userID, deviceID)
	if err := s.provisioner.Provision(ctx, table, dt); err != nil {
		metrics.Registrations.WithLabelValues("provision_error").Inc()
		s.log.Error("registration persisted but table provisioning failed",
			"user_id", userID, "device_id", deviceID, "table", table, "error", err)
		return fmt.Errorf("provisioning table %s: %w", table, err)
	}

	metrics.Registrations.WithLabelValues("ok").Inc()
	s.log.Info("device registered",
		"user_id", userID, "device_id", deviceID, "device_type", deviceType, "table", table)
	return nil
}

// Devices lists the registrations belonging to a user.
func (s *Service) Devices(ctx context.Context, userID string) ([]Registration, error) {
	return s.store.List(ctx, userID)
}

// Remove deletes a registration row. The backing table and its telemetry
// survive; dropping data is never automatic.
func (s *Service) Remove(ctx context.Context, userID, deviceID string) error {
	if err := s.store.Delete(ctx, userID, deviceID); err != nil {
		return err
	}
	s.log.Info("device registration removed", "user_id", userID, "device_id", deviceID)
	return nil
}
