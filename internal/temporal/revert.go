package temporal

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"

	"github.com/timetrail/timetrail/internal/db"
)

// Revert replaces the live table's contents with its reconstructed state
// at the given timestamp. With dryRun (the default callers should start
// from) nothing is mutated and a bounded preview is returned. The
// destructive path deletes every live row and reinserts the snapshot in a
// single transaction, so a failure midway rolls the whole revert back.
func (q *Query) Revert(ctx context.Context, schema, table, timestamp string, dryRun bool) (*RevertResult, error) {
	snap, sctx, err := q.snapshotAt(ctx, schema, table, timestamp, unboundedLimit)
	if err != nil {
		return nil, err
	}

	qualifiedTable := pgx.Identifier{schema, table}.Sanitize()

	countRows, err := q.driver.Query(ctx, fmt.Sprintf("SELECT COUNT(*) AS count FROM %s", qualifiedTable))
	if err != nil {
		return nil, storeErr("count current rows", err)
	}
	currentCount := 0
	if len(countRows) > 0 {
		currentCount = int(rowInt64(countRows[0], "count"))
	}

	result := &RevertResult{
		SchemaName:      schema,
		TableName:       table,
		Timestamp:       timestamp,
		CurrentRowCount: currentCount,
		TargetRowCount:  snap.RowCount,
		RowsToDelete:    currentCount,
		RowsToInsert:    snap.RowCount,
		DryRun:          dryRun,
	}

	if dryRun {
		preview := snap.Rows
		if len(preview) > previewRows {
			preview = preview[:previewRows]
		}
		result.Preview = preview
		result.Message = "DRY RUN: no changes made; re-run with dry_run=false to execute the revert"
		return result, nil
	}

	quoted := make([]string, len(sctx.Columns))
	placeholders := make([]string, len(sctx.Columns))
	for i, name := range sctx.Columns {
		quoted[i] = pgx.Identifier{name}.Sanitize()
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	insertSQL := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		qualifiedTable, strings.Join(quoted, ", "), strings.Join(placeholders, ", "))

	err = q.driver.WithTx(ctx, func(tx db.Driver) error {
		if err := tx.Exec(ctx, fmt.Sprintf("DELETE FROM %s", qualifiedTable)); err != nil {
			return fmt.Errorf("failed to clear table: %w", err)
		}
		for _, row := range snap.Rows {
			values := make([]any, len(sctx.Columns))
			for i, col := range sctx.Columns {
				values[i] = row[col]
			}
			if err := tx.Exec(ctx, insertSQL, values...); err != nil {
				return fmt.Errorf("failed to restore row: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, storeErr("revert table", err)
	}

	q.logger.WithFields(logrus.Fields{
		"schema":    schema,
		"table":     table,
		"timestamp": timestamp,
		"deleted":   currentCount,
		"restored":  snap.RowCount,
	}).Info("table reverted")

	result.Reverted = true
	result.Message = fmt.Sprintf("reverted %s.%s to state at %s", schema, table, timestamp)
	return result, nil
}
