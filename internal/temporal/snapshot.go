package temporal

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"

	"github.com/timetrail/timetrail/internal/catalog"
	"github.com/timetrail/timetrail/internal/db"
)

// Query is the read side of the engine: snapshot reconstruction, diffing,
// revert, and raw log browsing over history tables written by the capture
// trigger.
type Query struct {
	driver  db.Driver
	catalog *catalog.Reader
	conv    Convention
	logger  *logrus.Logger
}

func NewQuery(driver db.Driver, conv Convention, logger *logrus.Logger) *Query {
	return &Query{
		driver:  driver,
		catalog: catalog.NewReader(driver),
		conv:    conv,
		logger:  logger,
	}
}

// trackedInfo is the registry entry a read operation resolves first.
type trackedInfo struct {
	HistoryTable   string
	IdentityColumn string
}

func (q *Query) trackedInfo(ctx context.Context, schema, table string) (*trackedInfo, error) {
	rows, err := q.driver.Query(ctx, fmt.Sprintf(
		"SELECT history_table_name, identity_column FROM %s WHERE schema_name = $1 AND table_name = $2 AND enabled = TRUE",
		q.conv.QualifiedRegistry(),
	), schema, table)
	if err != nil {
		return nil, storeErr("check tracking registry", err)
	}
	if len(rows) == 0 {
		return nil, &NotVersionedError{Schema: schema, Table: table}
	}
	return &trackedInfo{
		HistoryTable:   rowString(rows[0], "history_table_name"),
		IdentityColumn: rowString(rows[0], "identity_column"),
	}, nil
}

// liveColumns reads the live table's column names, which define the row
// image projected out of the history table.
func (q *Query) liveColumns(ctx context.Context, schema, table string) ([]string, error) {
	columns, err := q.catalog.Columns(ctx, schema, table)
	if err != nil {
		return nil, storeErr("read table columns", err)
	}
	if len(columns) == 0 {
		return nil, &NotFoundError{Schema: schema, Table: table}
	}
	names := make([]string, len(columns))
	for i, col := range columns {
		names[i] = col.Name
	}
	return names, nil
}

// At reconstructs the table's logical row set as of the given timestamp:
// the most recent event at or before it per identity (appended order breaks
// ties), excluding identities whose selected event is a DELETE.
func (q *Query) At(ctx context.Context, schema, table, timestamp string, limit int) (*SnapshotResult, error) {
	snap, _, err := q.snapshotAt(ctx, schema, table, timestamp, limit)
	return snap, err
}

func (q *Query) snapshotAt(ctx context.Context, schema, table, timestamp string, limit int) (*SnapshotResult, *snapshotContext, error) {
	if strings.TrimSpace(timestamp) == "" {
		return nil, nil, &ValidationError{Field: "timestamp", Msg: "timestamp is required"}
	}
	if limit <= 0 {
		limit = DefaultLimit
	}

	info, err := q.trackedInfo(ctx, schema, table)
	if err != nil {
		return nil, nil, err
	}
	columns, err := q.liveColumns(ctx, schema, table)
	if err != nil {
		return nil, nil, err
	}

	identity := info.IdentityColumn
	if !containsColumn(columns, identity) {
		// Stored identity no longer resolves (schema drift); fall back to
		// the first declared column rather than failing the read.
		q.logger.WithFields(logrus.Fields{
			"schema": schema, "table": table, "identity": identity,
		}).Warn("registered identity column not found on live table; using first column")
		identity = columns[0]
	}

	quoted := make([]string, len(columns))
	for i, name := range columns {
		quoted[i] = pgx.Identifier{name}.Sanitize()
	}
	columnList := strings.Join(quoted, ", ")
	seqCol := pgx.Identifier{q.conv.SequenceColumn()}.Sanitize()
	opCol := pgx.Identifier{q.conv.OperationColumn()}.Sanitize()
	fromCol := pgx.Identifier{q.conv.ValidFromColumn()}.Sanitize()

	query := fmt.Sprintf(`
		WITH latest_changes AS (
			SELECT %s, %s, %s,
			       ROW_NUMBER() OVER (
			           PARTITION BY %s
			           ORDER BY %s DESC, %s DESC
			       ) AS rn
			FROM %s
			WHERE %s <= $1::timestamp
		)
		SELECT %s, %s, %s::text AS %s
		FROM latest_changes
		WHERE rn = 1 AND %s != 'DELETE'
		ORDER BY %s DESC
		LIMIT $2`,
		columnList, opCol, fromCol,
		pgx.Identifier{identity}.Sanitize(),
		fromCol, seqCol,
		q.conv.QualifiedHistory(info.HistoryTable),
		fromCol,
		columnList, opCol, fromCol, fromCol,
		opCol,
		fromCol,
	)

	rows, err := q.driver.Query(ctx, query, timestamp, limit)
	if err != nil {
		return nil, nil, storeErr("reconstruct table state", err)
	}
	if rows == nil {
		rows = []db.Row{}
	}

	snap := &SnapshotResult{
		SchemaName: schema,
		TableName:  table,
		Timestamp:  timestamp,
		RowCount:   len(rows),
		Rows:       rows,
	}
	sctx := &snapshotContext{Columns: columns, IdentityColumn: identity, Info: info}
	return snap, sctx, nil
}

// snapshotContext carries the resolved metadata a composed operation
// (diff, revert) needs alongside the snapshot itself.
type snapshotContext struct {
	Columns        []string
	IdentityColumn string
	Info           *trackedInfo
}

func containsColumn(columns []string, name string) bool {
	for _, c := range columns {
		if c == name {
			return true
		}
	}
	return false
}
