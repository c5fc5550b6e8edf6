package temporal

import (
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
)

// Convention fixes the naming of the tracking infrastructure: the schema
// the registry and history tables live in, the registry table name, and
// the prefix of the metadata columns appended to each history table.
// Two conventions exist for compatibility with previously deployed
// installations; both drive the same engine.
type Convention struct {
	Schema        string
	RegistryTable string
	ColumnPrefix  string
}

var (
	// TemporalConvention is the default naming.
	TemporalConvention = Convention{
		Schema:        "temporal_versioning",
		RegistryTable: "versioned_tables",
		ColumnPrefix:  "temporal_",
	}

	// HistoryConvention matches installations created by the older
	// history_tracking deployment.
	HistoryConvention = Convention{
		Schema:        "history_tracking",
		RegistryTable: "tracked_tables",
		ColumnPrefix:  "history_",
	}
)

func ConventionByName(name string) (Convention, error) {
	switch name {
	case "", "temporal":
		return TemporalConvention, nil
	case "history":
		return HistoryConvention, nil
	}
	return Convention{}, fmt.Errorf("unknown convention %q (valid options: temporal, history)", name)
}

func (c Convention) SequenceColumn() string  { return c.ColumnPrefix + "id" }
func (c Convention) OperationColumn() string { return c.ColumnPrefix + "operation" }
func (c Convention) ValidFromColumn() string { return c.ColumnPrefix + "valid_from" }
func (c Convention) ValidToColumn() string   { return c.ColumnPrefix + "valid_to" }
func (c Convention) TxIDColumn() string      { return c.ColumnPrefix + "tx_id" }

// HistoryTableName derives the unqualified history table name.
func (c Convention) HistoryTableName(table, suffix string) string {
	if suffix == "" {
		suffix = DefaultHistorySuffix
	}
	return table + suffix
}

// QualifiedRegistry returns the quoted, schema-qualified registry table.
func (c Convention) QualifiedRegistry() string {
	return pgx.Identifier{c.Schema, c.RegistryTable}.Sanitize()
}

// QualifiedHistory returns the quoted, schema-qualified history table.
func (c Convention) QualifiedHistory(historyTable string) string {
	return pgx.Identifier{c.Schema, historyTable}.Sanitize()
}

func (c Convention) TriggerName(table string) string {
	return fmt.Sprintf("%s_%s_trigger", table, strings.TrimSuffix(c.ColumnPrefix, "_"))
}

// TriggerFunction returns the quoted, schema-qualified capture routine name.
func (c Convention) TriggerFunction(table string) string {
	return pgx.Identifier{c.Schema, table + "_capture"}.Sanitize()
}

func (c Convention) indexName(historyTable string) string {
	return fmt.Sprintf("%s_%sidx", historyTable, c.ColumnPrefix)
}

// metadataColumns reports the column names appended to every history
// table, in declaration order.
func (c Convention) metadataColumns() []string {
	return []string{
		c.SequenceColumn(),
		c.OperationColumn(),
		c.ValidFromColumn(),
		c.ValidToColumn(),
		c.TxIDColumn(),
	}
}
