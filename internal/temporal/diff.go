package temporal

import (
	"context"
	"reflect"

	"github.com/timetrail/timetrail/internal/db"
)

// Compare reconstructs the table at two instants and classifies rows by
// identity: present only at t2 is added, only at t1 is removed, present at
// both with differing row images is modified. Each category is truncated
// to limit independently.
func (q *Query) Compare(ctx context.Context, schema, table, timestamp1, timestamp2 string, limit int) (*DiffResult, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}

	state1, sctx, err := q.snapshotAt(ctx, schema, table, timestamp1, unboundedLimit)
	if err != nil {
		return nil, err
	}
	state2, _, err := q.snapshotAt(ctx, schema, table, timestamp2, unboundedLimit)
	if err != nil {
		return nil, err
	}

	identity := sctx.IdentityColumn
	rows1 := indexByIdentity(state1.Rows, identity)
	rows2 := indexByIdentity(state2.Rows, identity)

	var added, removed []db.Row
	var modified []ModifiedRow

	// Walk in snapshot order so truncation is deterministic.
	for _, row2 := range state2.Rows {
		key := identityKey(row2[identity])
		row1, ok := rows1[key]
		if !ok {
			added = append(added, row2)
			continue
		}
		if !rowImagesEqual(row1, row2, sctx.Columns) {
			modified = append(modified, ModifiedRow{Before: row1, After: row2})
		}
	}
	for _, row1 := range state1.Rows {
		if _, ok := rows2[identityKey(row1[identity])]; !ok {
			removed = append(removed, row1)
		}
	}

	if len(added) > limit {
		added = added[:limit]
	}
	if len(removed) > limit {
		removed = removed[:limit]
	}
	if len(modified) > limit {
		modified = modified[:limit]
	}

	return &DiffResult{
		SchemaName: schema,
		TableName:  table,
		Timestamp1: timestamp1,
		Timestamp2: timestamp2,
		Summary: DiffSummary{
			RowsAdded:    len(added),
			RowsRemoved:  len(removed),
			RowsModified: len(modified),
		},
		Added:    added,
		Removed:  removed,
		Modified: modified,
	}, nil
}

func indexByIdentity(rows []db.Row, identity string) map[string]db.Row {
	indexed := make(map[string]db.Row, len(rows))
	for _, row := range rows {
		indexed[identityKey(row[identity])] = row
	}
	return indexed
}

// rowImagesEqual compares two snapshot rows across the tracked columns
// only; the snapshot's event metadata differs per event and is not part of
// the row image.
func rowImagesEqual(a, b db.Row, columns []string) bool {
	for _, col := range columns {
		if !reflect.DeepEqual(a[col], b[col]) {
			return false
		}
	}
	return true
}
