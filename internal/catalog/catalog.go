// Package catalog reads table metadata from information_schema.
package catalog

import (
	"context"
	"fmt"

	"github.com/timetrail/timetrail/internal/db"
)

// Column describes one column of a live table, in declaration order.
type Column struct {
	Name             string
	DataType         string
	CharMaxLength    *int
	NumericPrecision *int
	NumericScale     *int
	Nullable         bool
}

type Reader struct {
	driver db.Driver
}

func NewReader(driver db.Driver) *Reader {
	return &Reader{driver: driver}
}

// Columns returns the table's columns in ordinal order. An empty result
// means the table does not exist.
func (r *Reader) Columns(ctx context.Context, schema, table string) ([]Column, error) {
	rows, err := r.driver.Query(ctx,
		`SELECT column_name, data_type, character_maximum_length,
		        numeric_precision, numeric_scale, is_nullable
		 FROM information_schema.columns
		 WHERE table_schema = $1 AND table_name = $2
		 ORDER BY ordinal_position`,
		schema, table,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to read columns for %s.%s: %w", schema, table, err)
	}

	columns := make([]Column, 0, len(rows))
	for _, row := range rows {
		columns = append(columns, Column{
			Name:             asString(row["column_name"]),
			DataType:         asString(row["data_type"]),
			CharMaxLength:    asIntPtr(row["character_maximum_length"]),
			NumericPrecision: asIntPtr(row["numeric_precision"]),
			NumericScale:     asIntPtr(row["numeric_scale"]),
			Nullable:         asString(row["is_nullable"]) == "YES",
		})
	}
	return columns, nil
}

// PrimaryKey returns the primary key column names in key order, or an
// empty slice when the table has no primary key.
func (r *Reader) PrimaryKey(ctx context.Context, schema, table string) ([]string, error) {
	rows, err := r.driver.Query(ctx,
		`SELECT kcu.column_name
		 FROM information_schema.table_constraints tc
		 JOIN information_schema.key_column_usage kcu
		   ON tc.constraint_name = kcu.constraint_name
		  AND tc.table_schema = kcu.table_schema
		 WHERE tc.table_schema = $1 AND tc.table_name = $2
		   AND tc.constraint_type = 'PRIMARY KEY'
		 ORDER BY kcu.ordinal_position`,
		schema, table,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to read primary key for %s.%s: %w", schema, table, err)
	}

	key := make([]string, 0, len(rows))
	for _, row := range rows {
		key = append(key, asString(row["column_name"]))
	}
	return key, nil
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asIntPtr(v any) *int {
	switch n := v.(type) {
	case int:
		return &n
	case int32:
		i := int(n)
		return &i
	case int64:
		i := int(n)
		return &i
	}
	return nil
}
