package timeseries

import (
	"context"
	"fmt"
	"reflect"
	"time"
)

// timeLayout is how timestamps are rendered in exported rows.
const timeLayout = "2006-01-02 15:04:05"

// ReadRange selects every row of table whose timeColumn falls inside
// [begin, end], inclusive on both ends (DateTime comparison semantics of the
// store). Rows come back textually serialized in store-return order, one
// string per physical column, with no re-ordering or coercion beyond
// formatting.
//
// The caller bounds the call with its context; a timeout is a store error.
func (c *Client) ReadRange(ctx context.Context, table, timeColumn string, begin, end time.Time) ([][]string, error) {
	if !validIdentifier.MatchString(table) {
		return nil, fmt.Errorf("table name %q fails the identifier allow-list", table)
	}
	if !validIdentifier.MatchString(timeColumn) {
		return nil, fmt.Errorf("time column %q fails the identifier allow-list", timeColumn)
	}

	query := fmt.Sprintf("SELECT * FROM %s WHERE %s >= ? AND %s <= ?", table, timeColumn, timeColumn)
	rows, err := c.conn.Query(ctx, query, begin, end)
	if err != nil {
		if exceptionCode(err) == chErrCodeUnknownTable {
			return nil, fmt.Errorf("table %s: %w", table, ErrInconsistentTable)
		}
		return nil, fmt.Errorf("querying %s: %w", table, err)
	}
	defer rows.Close()

	columnTypes := rows.ColumnTypes()
	var out [][]string
	for rows.Next() {
		dest := make([]any, len(columnTypes))
		for i, ct := range columnTypes {
			dest[i] = reflect.New(ct.ScanType()).Interface()
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scanning row from %s: %w", table, err)
		}

		record := make([]string, len(dest))
		for i, d := range dest {
			record[i] = formatValue(reflect.ValueOf(d).Elem())
		}
		out = append(out, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows from %s: %w", table, err)
	}
	return out, nil
}

// formatValue renders a scanned column value as text. Nullable columns scan
// into pointers; nil renders empty.
func formatValue(v reflect.Value) string {
	if v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return ""
		}
		v = v.Elem()
	}
	switch value := v.Interface().(type) {
	case time.Time:
		return value.Format(timeLayout)
	case []byte:
		return string(value)
	default:
		return fmt.Sprint(value)
	}
}
