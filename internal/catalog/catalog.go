// Package catalog holds the device type catalog: the mapping from a device
// type tag to its telemetry column schema and the statement template used to
// provision a backing table for a registered device.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned when a device type is not present in the catalog.
// Callers must abort the dependent registration or export; a missing type
// never falls back to an empty schema.
var ErrNotFound = errors.New("device type not found")

// DeviceType describes one catalog entry. Columns is the ordered column list
// of every table provisioned for this type; CreateTemplate is the store's
// native create statement with a single %s placeholder for the table name.
type DeviceType struct {
	DeviceType     string
	Columns        []string
	CreateTemplate string
	Prefix         string
}

// TimeColumn returns the column the export range predicate applies to.
// Tables are created with the timestamp as the first declared column.
func (d DeviceType) TimeColumn() string {
	if len(d.Columns) == 0 {
		return ""
	}
	return d.Columns[0]
}

// Catalog resolves device types. Implementations are read-only from the
// perspective of registration and export.
type Catalog interface {
	Resolve(ctx context.Context, deviceType string) (DeviceType, error)
	List(ctx context.Context) ([]DeviceType, error)
}

// ValidateTemplate checks that a create template carries exactly one %s
// placeholder and no other formatting verbs, so the only substituted value
// is the sanitized table name.
func ValidateTemplate(tmpl string) error {
	if strings.Count(tmpl, "%s") != 1 {
		return fmt.Errorf("create template must contain exactly one %%s placeholder")
	}
	stripped := strings.ReplaceAll(tmpl, "%%", "")
	stripped = strings.Replace(stripped, "%s", "", 1)
	if strings.Contains(stripped, "%") {
		return fmt.Errorf("create template contains unexpected formatting verbs")
	}
	return nil
}

// Validate checks a device type entry before it is stored.
func (d DeviceType) Validate() error {
	if d.DeviceType == "" {
		return errors.New("device type name is required")
	}
	if len(d.Columns) == 0 {
		return errors.New("device type needs at least one column")
	}
	for _, c := range d.Columns {
		if strings.TrimSpace(c) == "" {
			return errors.New("device type has an empty column name")
		}
	}
	return ValidateTemplate(d.CreateTemplate)
}
