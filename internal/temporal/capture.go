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

// Manager enables and disables change tracking on tables. Enabling derives
// a history table from the live table's column definitions, installs a
// row-level trigger that appends one change event per mutation, and records
// the table in the registry.
type Manager struct {
	driver  db.Driver
	catalog *catalog.Reader
	conv    Convention
	logger  *logrus.Logger
}

func NewManager(driver db.Driver, conv Convention, logger *logrus.Logger) *Manager {
	return &Manager{
		driver:  driver,
		catalog: catalog.NewReader(driver),
		conv:    conv,
		logger:  logger,
	}
}

func (m *Manager) ensureRegistry(ctx context.Context, d db.Driver) error {
	if err := d.Exec(ctx, fmt.Sprintf(
		"CREATE SCHEMA IF NOT EXISTS %s", pgx.Identifier{m.conv.Schema}.Sanitize(),
	)); err != nil {
		return err
	}

	return d.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id SERIAL PRIMARY KEY,
			schema_name TEXT NOT NULL,
			table_name TEXT NOT NULL,
			history_table_name TEXT NOT NULL,
			identity_column TEXT NOT NULL,
			enabled BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE (schema_name, table_name)
		)`, m.conv.QualifiedRegistry(),
	))
}

// Enable turns on change tracking for schema.table. identityColumn names
// the column used to group events into logical rows; when empty the
// table's single-column primary key is used, falling back to the first
// declared column. Calling Enable on an already-enabled table is a no-op
// reporting already_enabled.
func (m *Manager) Enable(ctx context.Context, schema, table, suffix, identityColumn string) (*EnableResult, error) {
	if suffix == "" {
		suffix = DefaultHistorySuffix
	}
	historyTable := m.conv.HistoryTableName(table, suffix)
	qualifiedTable := pgx.Identifier{schema, table}.Sanitize()
	qualifiedHistory := m.conv.QualifiedHistory(historyTable)

	if err := m.ensureRegistry(ctx, m.driver); err != nil {
		return nil, storeErr("initialize tracking registry", err)
	}

	existing, err := m.driver.Query(ctx, fmt.Sprintf(
		"SELECT enabled FROM %s WHERE schema_name = $1 AND table_name = $2",
		m.conv.QualifiedRegistry(),
	), schema, table)
	if err != nil {
		return nil, storeErr("check tracking registry", err)
	}
	if len(existing) > 0 && rowBool(existing[0], "enabled") {
		return &EnableResult{
			Status:       "already_enabled",
			HistoryTable: fmt.Sprintf("%s.%s", m.conv.Schema, historyTable),
			Message:      fmt.Sprintf("change tracking is already enabled for %s.%s", schema, table),
		}, nil
	}

	columns, err := m.catalog.Columns(ctx, schema, table)
	if err != nil {
		return nil, storeErr("read table columns", err)
	}
	if len(columns) == 0 {
		return nil, &NotFoundError{Schema: schema, Table: table}
	}

	identity, err := m.resolveIdentity(ctx, schema, table, identityColumn, columns)
	if err != nil {
		return nil, err
	}

	columnNames := make([]string, len(columns))
	for i, col := range columns {
		columnNames[i] = col.Name
	}

	// Steps below run in one transaction so a DDL failure midway never
	// leaves an enabled registry entry pointing at a half-built history
	// table.
	err = m.driver.WithTx(ctx, func(tx db.Driver) error {
		if err := tx.Exec(ctx, m.createHistorySQL(qualifiedHistory, columns)); err != nil {
			return fmt.Errorf("failed to create history table: %w", err)
		}

		if err := tx.Exec(ctx, fmt.Sprintf(
			"CREATE INDEX IF NOT EXISTS %s ON %s (%s, %s)",
			pgx.Identifier{m.conv.indexName(historyTable)}.Sanitize(),
			qualifiedHistory,
			pgx.Identifier{m.conv.ValidFromColumn()}.Sanitize(),
			pgx.Identifier{m.conv.ValidToColumn()}.Sanitize(),
		)); err != nil {
			return fmt.Errorf("failed to create history index: %w", err)
		}

		if err := tx.Exec(ctx, m.captureFunctionSQL(table, qualifiedHistory, columnNames)); err != nil {
			return fmt.Errorf("failed to create capture routine: %w", err)
		}

		triggerName := m.conv.TriggerName(table)
		if err := tx.Exec(ctx, fmt.Sprintf(
			"DROP TRIGGER IF EXISTS %s ON %s",
			pgx.Identifier{triggerName}.Sanitize(), qualifiedTable,
		)); err != nil {
			return fmt.Errorf("failed to drop stale trigger: %w", err)
		}
		if err := tx.Exec(ctx, fmt.Sprintf(
			"CREATE TRIGGER %s AFTER INSERT OR UPDATE OR DELETE ON %s FOR EACH ROW EXECUTE FUNCTION %s()",
			pgx.Identifier{triggerName}.Sanitize(), qualifiedTable, m.conv.TriggerFunction(table),
		)); err != nil {
			return fmt.Errorf("failed to create trigger: %w", err)
		}

		if err := tx.Exec(ctx, fmt.Sprintf(`
			INSERT INTO %s (schema_name, table_name, history_table_name, identity_column, enabled)
			VALUES ($1, $2, $3, $4, TRUE)
			ON CONFLICT (schema_name, table_name)
			DO UPDATE SET enabled = TRUE,
			              history_table_name = EXCLUDED.history_table_name,
			              identity_column = EXCLUDED.identity_column`,
			m.conv.QualifiedRegistry(),
		), schema, table, historyTable, identity); err != nil {
			return fmt.Errorf("failed to register tracked table: %w", err)
		}

		return nil
	})
	if err != nil {
		return nil, storeErr("enable change tracking", err)
	}

	m.logger.WithFields(logrus.Fields{
		"schema":   schema,
		"table":    table,
		"history":  historyTable,
		"identity": identity,
	}).Info("change tracking enabled")

	return &EnableResult{
		Status:         "enabled",
		HistoryTable:   fmt.Sprintf("%s.%s", m.conv.Schema, historyTable),
		TriggerName:    m.conv.TriggerName(table),
		IdentityColumn: identity,
		ColumnsTracked: len(columns),
		Message:        fmt.Sprintf("change tracking enabled for %s.%s", schema, table),
	}, nil
}

// resolveIdentity picks and validates the identity column stored in the
// registry. A declared column must exist on the live table; a declared
// column that is not the primary key is accepted with a warning.
func (m *Manager) resolveIdentity(ctx context.Context, schema, table, declared string, columns []catalog.Column) (string, error) {
	names := make(map[string]bool, len(columns))
	for _, col := range columns {
		names[col.Name] = true
	}

	pk, err := m.catalog.PrimaryKey(ctx, schema, table)
	if err != nil {
		return "", storeErr("read primary key", err)
	}

	if declared != "" {
		if !names[declared] {
			return "", &ValidationError{
				Field: "identity_column",
				Msg:   fmt.Sprintf("column %q does not exist on %s.%s", declared, schema, table),
			}
		}
		if len(pk) != 1 || pk[0] != declared {
			m.logger.WithFields(logrus.Fields{
				"schema": schema, "table": table, "identity": declared,
			}).Warn("identity column is not the table's primary key; reconstruction assumes it is stable and unique")
		}
		return declared, nil
	}

	if len(pk) == 1 && names[pk[0]] {
		return pk[0], nil
	}

	first := columns[0].Name
	m.logger.WithFields(logrus.Fields{
		"schema": schema, "table": table, "identity": first,
	}).Warn("no single-column primary key; using first declared column as row identity")
	return first, nil
}

// createHistorySQL builds the history table DDL: the live columns re-typed
// verbatim plus the metadata columns of the convention.
func (m *Manager) createHistorySQL(qualifiedHistory string, columns []catalog.Column) string {
	defs := make([]string, 0, len(columns)+5)
	for _, col := range columns {
		defs = append(defs, fmt.Sprintf("%s %s", pgx.Identifier{col.Name}.Sanitize(), columnType(col)))
	}
	p := func(name string) string { return pgx.Identifier{name}.Sanitize() }
	defs = append(defs,
		p(m.conv.SequenceColumn())+" BIGSERIAL PRIMARY KEY",
		p(m.conv.OperationColumn())+" VARCHAR(10) NOT NULL",
		p(m.conv.ValidFromColumn())+" TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP",
		p(m.conv.ValidToColumn())+" TIMESTAMP",
		p(m.conv.TxIDColumn())+" BIGINT NOT NULL DEFAULT txid_current()",
	)

	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", qualifiedHistory, strings.Join(defs, ", "))
}

// captureFunctionSQL builds the trigger routine. UPDATE and DELETE append
// the old row image, INSERT the new one, all inside the mutating
// transaction.
func (m *Manager) captureFunctionSQL(table, qualifiedHistory string, columnNames []string) string {
	quoted := make([]string, len(columnNames))
	for i, name := range columnNames {
		quoted[i] = pgx.Identifier{name}.Sanitize()
	}
	columnList := strings.Join(quoted, ", ")
	opCol := pgx.Identifier{m.conv.OperationColumn()}.Sanitize()
	fromCol := pgx.Identifier{m.conv.ValidFromColumn()}.Sanitize()

	return fmt.Sprintf(`
		CREATE OR REPLACE FUNCTION %s()
		RETURNS TRIGGER AS $$
		BEGIN
			IF (TG_OP = 'DELETE') THEN
				INSERT INTO %s (%s, %s, %s)
				VALUES (OLD.*, 'DELETE', CURRENT_TIMESTAMP);
				RETURN OLD;
			ELSIF (TG_OP = 'UPDATE') THEN
				INSERT INTO %s (%s, %s, %s)
				VALUES (OLD.*, 'UPDATE', CURRENT_TIMESTAMP);
				RETURN NEW;
			ELSIF (TG_OP = 'INSERT') THEN
				INSERT INTO %s (%s, %s, %s)
				VALUES (NEW.*, 'INSERT', CURRENT_TIMESTAMP);
				RETURN NEW;
			END IF;
			RETURN NULL;
		END;
		$$ LANGUAGE plpgsql`,
		m.conv.TriggerFunction(table),
		qualifiedHistory, columnList, opCol, fromCol,
		qualifiedHistory, columnList, opCol, fromCol,
		qualifiedHistory, columnList, opCol, fromCol,
	)
}

// Disable removes the capture trigger. History and registry entry are
// preserved unless dropHistory is set, which irreversibly deletes all
// recorded events.
func (m *Manager) Disable(ctx context.Context, schema, table string, dropHistory bool) (*DisableResult, error) {
	if err := m.ensureRegistry(ctx, m.driver); err != nil {
		return nil, storeErr("initialize tracking registry", err)
	}

	rows, err := m.driver.Query(ctx, fmt.Sprintf(
		"SELECT history_table_name FROM %s WHERE schema_name = $1 AND table_name = $2",
		m.conv.QualifiedRegistry(),
	), schema, table)
	if err != nil {
		return nil, storeErr("check tracking registry", err)
	}
	if len(rows) == 0 {
		return &DisableResult{
			Status:  "not_tracked",
			Message: fmt.Sprintf("change tracking is not enabled for %s.%s", schema, table),
		}, nil
	}

	historyTable := rowString(rows[0], "history_table_name")
	qualifiedTable := pgx.Identifier{schema, table}.Sanitize()
	qualifiedHistory := m.conv.QualifiedHistory(historyTable)

	result := &DisableResult{
		Status:       "disabled",
		HistoryTable: fmt.Sprintf("%s.%s", m.conv.Schema, historyTable),
	}

	err = m.driver.WithTx(ctx, func(tx db.Driver) error {
		if err := tx.Exec(ctx, fmt.Sprintf(
			"DROP TRIGGER IF EXISTS %s ON %s",
			pgx.Identifier{m.conv.TriggerName(table)}.Sanitize(), qualifiedTable,
		)); err != nil {
			return fmt.Errorf("failed to drop trigger: %w", err)
		}
		if err := tx.Exec(ctx, fmt.Sprintf(
			"DROP FUNCTION IF EXISTS %s()", m.conv.TriggerFunction(table),
		)); err != nil {
			return fmt.Errorf("failed to drop capture routine: %w", err)
		}

		if dropHistory {
			if err := tx.Exec(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", qualifiedHistory)); err != nil {
				return fmt.Errorf("failed to drop history table: %w", err)
			}
			if err := tx.Exec(ctx, fmt.Sprintf(
				"DELETE FROM %s WHERE schema_name = $1 AND table_name = $2",
				m.conv.QualifiedRegistry(),
			), schema, table); err != nil {
				return fmt.Errorf("failed to deregister tracked table: %w", err)
			}
			result.HistoryDropped = true
			return nil
		}

		if err := tx.Exec(ctx, fmt.Sprintf(
			"UPDATE %s SET enabled = FALSE WHERE schema_name = $1 AND table_name = $2",
			m.conv.QualifiedRegistry(),
		), schema, table); err != nil {
			return fmt.Errorf("failed to update registry: %w", err)
		}
		result.HistoryPreserved = true
		return nil
	})
	if err != nil {
		return nil, storeErr("disable change tracking", err)
	}

	if dropHistory {
		result.Message = fmt.Sprintf("change tracking disabled for %s.%s (history table dropped)", schema, table)
	} else {
		result.Message = fmt.Sprintf("change tracking disabled for %s.%s (history table preserved)", schema, table)
	}

	m.logger.WithFields(logrus.Fields{
		"schema": schema, "table": table, "history_dropped": dropHistory,
	}).Info("change tracking disabled")

	return result, nil
}

// List returns all registry entries ordered by (schema, table). A registry
// that was never initialized means nothing is tracked, not an error.
func (m *Manager) List(ctx context.Context) ([]TrackedTable, error) {
	if err := m.ensureRegistry(ctx, m.driver); err != nil {
		m.logger.WithError(err).Debug("tracking registry unavailable; reporting no tracked tables")
		return []TrackedTable{}, nil
	}

	rows, err := m.driver.Query(ctx, fmt.Sprintf(`
		SELECT schema_name, table_name, history_table_name, identity_column,
		       enabled, created_at::text AS created_at
		FROM %s
		ORDER BY schema_name, table_name`,
		m.conv.QualifiedRegistry(),
	))
	if err != nil {
		return nil, storeErr("list tracked tables", err)
	}

	tables := make([]TrackedTable, 0, len(rows))
	for _, row := range rows {
		tables = append(tables, TrackedTable{
			SchemaName:       rowString(row, "schema_name"),
			TableName:        rowString(row, "table_name"),
			HistoryTableName: rowString(row, "history_table_name"),
			IdentityColumn:   rowString(row, "identity_column"),
			Enabled:          rowBool(row, "enabled"),
			CreatedAt:        rowString(row, "created_at"),
		})
	}
	return tables, nil
}

// Status reports whether schema.table is tracked, and if so, aggregate
// statistics over its history.
func (m *Manager) Status(ctx context.Context, schema, table string) (*StatusResult, error) {
	if err := m.ensureRegistry(ctx, m.driver); err != nil {
		return &StatusResult{Tracked: false, Message: "change tracking not initialized"}, nil
	}

	rows, err := m.driver.Query(ctx, fmt.Sprintf(`
		SELECT schema_name, table_name, history_table_name, identity_column,
		       enabled, created_at::text AS created_at
		FROM %s WHERE schema_name = $1 AND table_name = $2`,
		m.conv.QualifiedRegistry(),
	), schema, table)
	if err != nil {
		return nil, storeErr("check tracking registry", err)
	}
	if len(rows) == 0 {
		return &StatusResult{
			Tracked: false,
			Message: fmt.Sprintf("table %s.%s is not tracked", schema, table),
		}, nil
	}

	info := rows[0]
	historyTable := rowString(info, "history_table_name")
	qualifiedHistory := m.conv.QualifiedHistory(historyTable)
	opCol := pgx.Identifier{m.conv.OperationColumn()}.Sanitize()

	statRows, err := m.driver.Query(ctx, fmt.Sprintf(`
		SELECT COUNT(*) AS total_changes,
		       COUNT(DISTINCT %s) AS total_transactions,
		       MIN(%s)::text AS first_change,
		       MAX(%s)::text AS last_change,
		       SUM(CASE WHEN %s = 'INSERT' THEN 1 ELSE 0 END) AS inserts,
		       SUM(CASE WHEN %s = 'UPDATE' THEN 1 ELSE 0 END) AS updates,
		       SUM(CASE WHEN %s = 'DELETE' THEN 1 ELSE 0 END) AS deletes
		FROM %s`,
		pgx.Identifier{m.conv.TxIDColumn()}.Sanitize(),
		pgx.Identifier{m.conv.ValidFromColumn()}.Sanitize(),
		pgx.Identifier{m.conv.ValidFromColumn()}.Sanitize(),
		opCol, opCol, opCol,
		qualifiedHistory,
	))
	if err != nil {
		return nil, storeErr("aggregate history statistics", err)
	}

	var stats *Statistics
	if len(statRows) > 0 {
		s := statRows[0]
		stats = &Statistics{
			TotalChanges:      rowInt64(s, "total_changes"),
			TotalTransactions: rowInt64(s, "total_transactions"),
			FirstChange:       rowString(s, "first_change"),
			LastChange:        rowString(s, "last_change"),
			Inserts:           rowInt64(s, "inserts"),
			Updates:           rowInt64(s, "updates"),
			Deletes:           rowInt64(s, "deletes"),
		}
	}

	return &StatusResult{
		Tracked:        true,
		Enabled:        rowBool(info, "enabled"),
		SchemaName:     rowString(info, "schema_name"),
		TableName:      rowString(info, "table_name"),
		HistoryTable:   fmt.Sprintf("%s.%s", m.conv.Schema, historyTable),
		IdentityColumn: rowString(info, "identity_column"),
		CreatedAt:      rowString(info, "created_at"),
		Statistics:     stats,
	}, nil
}

// columnType renders a live column's declared type for the history DDL,
// preserving varchar length and numeric precision/scale.
func columnType(col catalog.Column) string {
	switch {
	case col.DataType == "character varying" && col.CharMaxLength != nil:
		return fmt.Sprintf("VARCHAR(%d)", *col.CharMaxLength)
	case col.DataType == "numeric" && col.NumericPrecision != nil:
		if col.NumericScale != nil {
			return fmt.Sprintf("NUMERIC(%d, %d)", *col.NumericPrecision, *col.NumericScale)
		}
		return fmt.Sprintf("NUMERIC(%d)", *col.NumericPrecision)
	default:
		return strings.ToUpper(col.DataType)
	}
}
