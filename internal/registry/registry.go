// Package registry records which devices belong to which users and derives
// the per-device telemetry table name the provisioner creates and the export
// pipeline reads.
package registry

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrNotFound is returned when no registration exists for a
// (user, device) pair.
var ErrNotFound = errors.New("device registration not found")

// Registration associates a physical device with a user. The pair
// (UserID, DeviceID) is the unique key; DeviceID is free-form and commonly a
// hardware address such as "AA:BB:CC:11:22:33".
type Registration struct {
	UserID     string    `json:"user_id"`
	DeviceID   string    `json:"device_id"`
	DeviceName string    `json:"device_name"`
	DeviceType string    `json:"device_type"`
	CreatedAt  time.Time `json:"created_at"`
}

// Store persists device registrations.
type Store interface {
	// Create inserts a registration, replacing any existing row for the
	// same (user, device) pair. Re-registering a device after an app
	// reinstall is expected and must not fail.
	Create(ctx context.Context, reg Registration) error
	Get(ctx context.Context, userID, deviceID string) (Registration, error)
	List(ctx context.Context, userID string) ([]Registration, error)
	// Delete removes the registration row only; the backing telemetry
	// table is never dropped automatically.
	Delete(ctx context.Context, userID, deviceID string) error
}

// TableName derives the analytical-store table backing a (user, device)
// pair. It is a pure function: registration and export must agree on it
// exactly, so whatever table registration provisions is what export reads.
//
// Distinct identities that sanitize to the same string collide; the
// derivation is kept deliberately simple and the risk is accepted.
//
// Store identifiers must not lead with a digit, and hex user ids often do;
// those names get a fixed "t_" prefix so every derived name is a legal
// identifier.
func TableName(userID, deviceID string) string {
	name := sanitizeIdentifier(userID) + "_" + sanitizeIdentifier(deviceID)
	if name[0] >= '0' && name[0] <= '9' {
		name = "t_" + name
	}
	return name
}

// sanitizeIdentifier keeps only characters legal in the store's naming
// grammar. Everything else, colons in hardware addresses included, is
// stripped rather than escaped.
func sanitizeIdentifier(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		}
	}
	return b.String()
}
