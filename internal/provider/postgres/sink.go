package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Well-known record fields lifted into columns.
const (
	FieldIdentifier = "identifier"
	FieldTimestamp  = "ts"
	FieldMetric     = "metric"
)

// indexedFields holds the column values extracted from a record.
type indexedFields struct {
	identifier *string
	ts         *time.Time
	metric     *float64
}

// extractFields reads the well-known fields from a record. Absent or
// mistyped fields stay nil; ts also accepts RFC3339 strings.
func extractFields(record map[string]interface{}) indexedFields {
	var f indexedFields

	if v, ok := record[FieldIdentifier].(string); ok && v != "" {
		f.identifier = &v
	}

	switch v := record[FieldTimestamp].(type) {
	case time.Time:
		t := v.UTC()
		f.ts = &t
	case string:
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			t = t.UTC()
			f.ts = &t
		}
	}

	switch v := record[FieldMetric].(type) {
	case float64:
		f.metric = &v
	case float32:
		m := float64(v)
		f.metric = &m
	case int:
		m := float64(v)
		f.metric = &m
	case int64:
		m := float64(v)
		f.metric = &m
	case json.Number:
		if m, err := v.Float64(); err == nil {
			f.metric = &m
		}
	}
	return f
}

// Insert appends a record to a logical table.
func (s *Store) Insert(ctx context.Context, table string, record map[string]interface{}) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal %s record: %w", table, err)
	}
	f := extractFields(record)

	_, err = s.pool.Exec(ctx, `
		INSERT INTO records (table_name, identifier, ts, metric, data)
		VALUES ($1, $2, COALESCE($3, NOW()), $4, $5)
	`, table, f.identifier, f.ts, f.metric, data)
	if err != nil {
		return fmt.Errorf("insert %s record: %w", table, err)
	}
	return nil
}
