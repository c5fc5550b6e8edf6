package temporal

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/timetrail/timetrail/internal/db"
)

// Changes reads the raw change log, newest first, optionally bounded by a
// time range and filtered by operation. No reconstruction is involved.
func (q *Query) Changes(ctx context.Context, schema, table, startTime, endTime, operation string, limit int) (*ChangesResult, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}

	var opFilter string
	if operation != "" {
		op, err := ParseOperation(strings.ToUpper(operation))
		if err != nil {
			return nil, err
		}
		opFilter = string(op)
	}

	info, err := q.trackedInfo(ctx, schema, table)
	if err != nil {
		return nil, err
	}
	columns, err := q.liveColumns(ctx, schema, table)
	if err != nil {
		return nil, err
	}

	fromCol := pgx.Identifier{q.conv.ValidFromColumn()}.Sanitize()
	opCol := pgx.Identifier{q.conv.OperationColumn()}.Sanitize()

	var conditions []string
	var args []any
	if startTime != "" {
		args = append(args, startTime)
		conditions = append(conditions, fmt.Sprintf("%s >= $%d::timestamp", fromCol, len(args)))
	}
	if endTime != "" {
		args = append(args, endTime)
		conditions = append(conditions, fmt.Sprintf("%s <= $%d::timestamp", fromCol, len(args)))
	}
	if opFilter != "" {
		args = append(args, opFilter)
		conditions = append(conditions, fmt.Sprintf("%s = $%d", opCol, len(args)))
	}
	whereClause := "TRUE"
	if len(conditions) > 0 {
		whereClause = strings.Join(conditions, " AND ")
	}

	args = append(args, limit)
	rows, err := q.driver.Query(ctx,
		q.eventSelectSQL(info.HistoryTable, columns, whereClause, len(args)), args...)
	if err != nil {
		return nil, storeErr("read change history", err)
	}

	return &ChangesResult{
		SchemaName:      schema,
		TableName:       table,
		StartTime:       startTime,
		EndTime:         endTime,
		OperationFilter: opFilter,
		ChangeCount:     len(rows),
		Changes:         q.eventsFromRows(rows, columns),
	}, nil
}

// RowHistory reads every event whose row image has keyColumn = keyValue,
// newest first. The key column is caller-supplied and need not be the
// identity column reconstruction uses.
func (q *Query) RowHistory(ctx context.Context, schema, table, keyColumn string, keyValue any, limit int) (*RowHistoryResult, error) {
	if strings.TrimSpace(keyColumn) == "" {
		return nil, &ValidationError{Field: "key_column", Msg: "key column is required"}
	}
	if limit <= 0 {
		limit = DefaultLimit
	}

	info, err := q.trackedInfo(ctx, schema, table)
	if err != nil {
		return nil, err
	}
	columns, err := q.liveColumns(ctx, schema, table)
	if err != nil {
		return nil, err
	}
	if !containsColumn(columns, keyColumn) {
		return nil, &ValidationError{
			Field: "key_column",
			Msg:   fmt.Sprintf("column %q does not exist on %s.%s", keyColumn, schema, table),
		}
	}

	whereClause := fmt.Sprintf("%s = $1", pgx.Identifier{keyColumn}.Sanitize())
	rows, err := q.driver.Query(ctx,
		q.eventSelectSQL(info.HistoryTable, columns, whereClause, 2), keyValue, limit)
	if err != nil {
		return nil, storeErr("read row history", err)
	}

	return &RowHistoryResult{
		SchemaName:  schema,
		TableName:   table,
		KeyColumn:   keyColumn,
		KeyValue:    keyValue,
		ChangeCount: len(rows),
		History:     q.eventsFromRows(rows, columns),
	}, nil
}

func (q *Query) eventSelectSQL(historyTable string, columns []string, whereClause string, limitArg int) string {
	quoted := make([]string, len(columns))
	for i, name := range columns {
		quoted[i] = pgx.Identifier{name}.Sanitize()
	}
	seqCol := pgx.Identifier{q.conv.SequenceColumn()}.Sanitize()
	opCol := pgx.Identifier{q.conv.OperationColumn()}.Sanitize()
	fromCol := pgx.Identifier{q.conv.ValidFromColumn()}.Sanitize()
	txCol := pgx.Identifier{q.conv.TxIDColumn()}.Sanitize()

	return fmt.Sprintf(`
		SELECT %s, %s, %s::text AS %s, %s, %s
		FROM %s
		WHERE %s
		ORDER BY %s DESC, %s DESC
		LIMIT $%d`,
		seqCol, opCol, fromCol, fromCol, txCol, strings.Join(quoted, ", "),
		q.conv.QualifiedHistory(historyTable),
		whereClause,
		fromCol, seqCol,
		limitArg,
	)
}

// eventsFromRows splits each result row into event metadata and the row
// image restricted to the live columns.
func (q *Query) eventsFromRows(rows []db.Row, columns []string) []ChangeEvent {
	events := make([]ChangeEvent, 0, len(rows))
	for _, row := range rows {
		image := make(db.Row, len(columns))
		for _, col := range columns {
			if v, ok := row[col]; ok {
				image[col] = v
			}
		}
		events = append(events, ChangeEvent{
			SequenceID:    rowInt64(row, q.conv.SequenceColumn()),
			Operation:     Operation(rowString(row, q.conv.OperationColumn())),
			ValidFrom:     rowString(row, q.conv.ValidFromColumn()),
			TransactionID: rowInt64(row, q.conv.TxIDColumn()),
			Row:           image,
		})
	}
	return events
}
