// Package temporal turns ordinary PostgreSQL tables into append-only-logged,
// time-travelable tables. Enabling tracking derives a history table from the
// live table's schema and installs a trigger that appends one change event
// per row mutation inside the mutating transaction. Read-side operations
// reconstruct point-in-time snapshots, diff them, browse the raw log, and
// revert the live table to a past state.
package temporal

import (
	"fmt"

	"github.com/timetrail/timetrail/internal/db"
)

const (
	// DefaultHistorySuffix names history tables {table}{suffix}.
	DefaultHistorySuffix = "_history"

	// DefaultLimit bounds read results when the caller gives none.
	DefaultLimit = 100

	// unboundedLimit is used where an operation needs the full snapshot.
	unboundedLimit = 999999

	// previewRows bounds the dry-run revert preview.
	previewRows = 10
)

type Operation string

const (
	OperationInsert Operation = "INSERT"
	OperationUpdate Operation = "UPDATE"
	OperationDelete Operation = "DELETE"
)

// ParseOperation validates a caller-supplied operation filter.
func ParseOperation(s string) (Operation, error) {
	switch Operation(s) {
	case OperationInsert, OperationUpdate, OperationDelete:
		return Operation(s), nil
	}
	return "", &ValidationError{
		Field: "operation",
		Msg:   fmt.Sprintf("unsupported operation %q (valid options: INSERT, UPDATE, DELETE)", s),
	}
}

// TrackedTable is one registry entry.
type TrackedTable struct {
	SchemaName       string `json:"schema_name"`
	TableName        string `json:"table_name"`
	HistoryTableName string `json:"history_table"`
	IdentityColumn   string `json:"identity_column"`
	Enabled          bool   `json:"enabled"`
	CreatedAt        string `json:"created_at,omitempty"`
}

// ChangeEvent is one row of a history table: the operation, when it
// happened, the enclosing transaction, and the captured row image
// (the old row for UPDATE/DELETE, the new row for INSERT).
type ChangeEvent struct {
	SequenceID    int64     `json:"sequence_id"`
	Operation     Operation `json:"operation"`
	ValidFrom     string    `json:"valid_from"`
	TransactionID int64     `json:"transaction_id"`
	Row           db.Row    `json:"row"`
}

type EnableResult struct {
	Status         string `json:"status"` // "enabled" or "already_enabled"
	HistoryTable   string `json:"history_table"`
	TriggerName    string `json:"trigger_name,omitempty"`
	IdentityColumn string `json:"identity_column,omitempty"`
	ColumnsTracked int    `json:"columns_tracked,omitempty"`
	Message        string `json:"message"`
}

type DisableResult struct {
	Status           string `json:"status"` // "disabled" or "not_tracked"
	HistoryTable     string `json:"history_table,omitempty"`
	HistoryDropped   bool   `json:"history_dropped,omitempty"`
	HistoryPreserved bool   `json:"history_preserved,omitempty"`
	Message          string `json:"message"`
}

// Statistics aggregates a table's history.
type Statistics struct {
	TotalChanges      int64  `json:"total_changes"`
	TotalTransactions int64  `json:"total_transactions"`
	FirstChange       string `json:"first_change,omitempty"`
	LastChange        string `json:"last_change,omitempty"`
	Inserts           int64  `json:"inserts"`
	Updates           int64  `json:"updates"`
	Deletes           int64  `json:"deletes"`
}

type StatusResult struct {
	Tracked        bool        `json:"tracked"`
	Enabled        bool        `json:"enabled,omitempty"`
	SchemaName     string      `json:"schema_name,omitempty"`
	TableName      string      `json:"table_name,omitempty"`
	HistoryTable   string      `json:"history_table,omitempty"`
	IdentityColumn string      `json:"identity_column,omitempty"`
	CreatedAt      string      `json:"created_at,omitempty"`
	Statistics     *Statistics `json:"statistics,omitempty"`
	Message        string      `json:"message,omitempty"`
}

// SnapshotResult is the reconstructed row set at one instant.
type SnapshotResult struct {
	SchemaName string   `json:"schema_name"`
	TableName  string   `json:"table_name"`
	Timestamp  string   `json:"timestamp"`
	RowCount   int      `json:"row_count"`
	Rows       []db.Row `json:"rows"`
}

type ModifiedRow struct {
	Before db.Row `json:"before"`
	After  db.Row `json:"after"`
}

type DiffSummary struct {
	RowsAdded    int `json:"rows_added"`
	RowsRemoved  int `json:"rows_removed"`
	RowsModified int `json:"rows_modified"`
}

type DiffResult struct {
	SchemaName string        `json:"schema_name"`
	TableName  string        `json:"table_name"`
	Timestamp1 string        `json:"timestamp1"`
	Timestamp2 string        `json:"timestamp2"`
	Summary    DiffSummary   `json:"summary"`
	Added      []db.Row      `json:"added_rows"`
	Removed    []db.Row      `json:"removed_rows"`
	Modified   []ModifiedRow `json:"modified_rows"`
}

type RevertResult struct {
	SchemaName      string   `json:"schema_name"`
	TableName       string   `json:"table_name"`
	Timestamp       string   `json:"revert_to_timestamp"`
	CurrentRowCount int      `json:"current_row_count"`
	TargetRowCount  int      `json:"target_row_count"`
	RowsToDelete    int      `json:"rows_to_delete"`
	RowsToInsert    int      `json:"rows_to_insert"`
	DryRun          bool     `json:"dry_run"`
	Preview         []db.Row `json:"preview,omitempty"`
	Reverted        bool     `json:"reverted,omitempty"`
	Message         string   `json:"message"`
}

type ChangesResult struct {
	SchemaName      string        `json:"schema_name"`
	TableName       string        `json:"table_name"`
	StartTime       string        `json:"start_time,omitempty"`
	EndTime         string        `json:"end_time,omitempty"`
	OperationFilter string        `json:"operation_filter,omitempty"`
	ChangeCount     int           `json:"change_count"`
	Changes         []ChangeEvent `json:"changes"`
}

type RowHistoryResult struct {
	SchemaName  string        `json:"schema_name"`
	TableName   string        `json:"table_name"`
	KeyColumn   string        `json:"key_column"`
	KeyValue    any           `json:"key_value"`
	ChangeCount int           `json:"change_count"`
	History     []ChangeEvent `json:"history"`
}
