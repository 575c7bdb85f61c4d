package timeseries

import (
	"context"
	"fmt"

	"github.com/iomt-labs/telemetry-gateway/internal/catalog"
	"github.com/iomt-labs/telemetry-gateway/internal/metrics"
)

// Provision creates the backing table for a registration by substituting the
// table name into the device type's create template.
//
// "Table already exists" is success: devices are re-registered after app
// reinstalls, and concurrent duplicate registrations of the same pair race
// to create the same table. Both must succeed without manual cleanup. Any
// other store error is fatal to the registration call.
func (c *Client) Provision(ctx context.Context, tableName string, dt catalog.DeviceType) error {
	if !validIdentifier.MatchString(tableName) {
		metrics.Provisions.WithLabelValues("bad_name").Inc()
		return fmt.Errorf("table name %q fails the identifier allow-list", tableName)
	}
	if err := catalog.ValidateTemplate(dt.CreateTemplate); err != nil {
		metrics.Provisions.WithLabelValues("bad_template").Inc()
		return fmt.Errorf("device type %q: %w", dt.DeviceType, err)
	}

	stmt := fmt.Sprintf(dt.CreateTemplate, tableName)
	if err := c.conn.Exec(ctx, stmt); err != nil {
		if exceptionCode(err) == chErrCodeTableAlreadyExists {
			metrics.Provisions.WithLabelValues("already_exists").Inc()
			c.logger.Debug("table already provisioned", "table", tableName)
			return nil
		}
		metrics.Provisions.WithLabelValues("error").Inc()
		return fmt.Errorf("creating table %s: %w", tableName, err)
	}

	metrics.Provisions.WithLabelValues("ok").Inc()
	c.logger.Info("provisioned telemetry table", "table", tableName, "device_type", dt.DeviceType)
	return nil
}
