package temporal

import (
	"context"
	"io"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/timetrail/timetrail/internal/db"
	"github.com/timetrail/timetrail/internal/db/dbtest"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func userColumns() []db.Row {
	return []db.Row{
		{"column_name": "id", "data_type": "integer", "is_nullable": "NO"},
		{"column_name": "name", "data_type": "character varying", "character_maximum_length": int32(50), "is_nullable": "YES"},
	}
}

func TestEnableCreatesTrackingInfrastructure(t *testing.T) {
	driver := &dbtest.Driver{}
	driver.On("information_schema.columns", userColumns()...)
	driver.On("table_constraints", db.Row{"column_name": "id"})

	mgr := NewManager(driver, TemporalConvention, testLogger())

	result, err := mgr.Enable(context.Background(), "public", "users", "", "")
	if err != nil {
		t.Fatalf("Enable failed: %v", err)
	}

	if result.Status != "enabled" {
		t.Errorf("Expected status enabled, got %s", result.Status)
	}
	if result.HistoryTable != "temporal_versioning.users_history" {
		t.Errorf("Unexpected history table: %s", result.HistoryTable)
	}
	if result.TriggerName != "users_temporal_trigger" {
		t.Errorf("Unexpected trigger name: %s", result.TriggerName)
	}
	if result.IdentityColumn != "id" {
		t.Errorf("Expected identity column id, got %s", result.IdentityColumn)
	}
	if result.ColumnsTracked != 2 {
		t.Errorf("Expected 2 tracked columns, got %d", result.ColumnsTracked)
	}

	for _, want := range []string{
		"CREATE SCHEMA IF NOT EXISTS",
		`CREATE TABLE IF NOT EXISTS "temporal_versioning"."users_history"`,
		"VARCHAR(50)",
		"BIGSERIAL PRIMARY KEY",
		"txid_current()",
		"CREATE INDEX IF NOT EXISTS",
		"CREATE OR REPLACE FUNCTION",
		"AFTER INSERT OR UPDATE OR DELETE",
		"ON CONFLICT (schema_name, table_name)",
		"COMMIT",
	} {
		if !driver.Executed(want) {
			t.Errorf("Expected a statement containing %q", want)
		}
	}
}

func TestEnableCaptureRoutineRowImages(t *testing.T) {
	driver := &dbtest.Driver{}
	driver.On("information_schema.columns", userColumns()...)
	driver.On("table_constraints", db.Row{"column_name": "id"})

	mgr := NewManager(driver, TemporalConvention, testLogger())
	if _, err := mgr.Enable(context.Background(), "public", "users", "", ""); err != nil {
		t.Fatalf("Enable failed: %v", err)
	}

	// UPDATE and DELETE must capture the old row image, INSERT the new one.
	fns := driver.CallsMatching("CREATE OR REPLACE FUNCTION")
	if len(fns) != 1 {
		t.Fatalf("Expected 1 capture routine, got %d", len(fns))
	}
	body := fns[0].SQL
	for _, want := range []string{
		"VALUES (OLD.*, 'DELETE'",
		"VALUES (OLD.*, 'UPDATE'",
		"VALUES (NEW.*, 'INSERT'",
	} {
		if !contains(body, want) {
			t.Errorf("Capture routine missing %q", want)
		}
	}
}

func TestEnableIdempotent(t *testing.T) {
	driver := &dbtest.Driver{}
	driver.On("SELECT enabled FROM", db.Row{"enabled": true})

	mgr := NewManager(driver, TemporalConvention, testLogger())

	result, err := mgr.Enable(context.Background(), "public", "users", "", "")
	if err != nil {
		t.Fatalf("Enable failed: %v", err)
	}
	if result.Status != "already_enabled" {
		t.Errorf("Expected already_enabled, got %s", result.Status)
	}
	if driver.Executed("CREATE TABLE IF NOT EXISTS \"temporal_versioning\".\"users_history\"") {
		t.Error("Already-enabled table must not be re-registered")
	}
	if driver.Executed("CREATE TRIGGER") {
		t.Error("Already-enabled table must not get a new trigger")
	}
}

func TestEnableTableNotFound(t *testing.T) {
	driver := &dbtest.Driver{}

	mgr := NewManager(driver, TemporalConvention, testLogger())

	_, err := mgr.Enable(context.Background(), "public", "missing", "", "")
	if !IsNotFound(err) {
		t.Fatalf("Expected NotFoundError, got %v", err)
	}
}

func TestEnableRejectsUnknownIdentityColumn(t *testing.T) {
	driver := &dbtest.Driver{}
	driver.On("information_schema.columns", userColumns()...)
	driver.On("table_constraints", db.Row{"column_name": "id"})

	mgr := NewManager(driver, TemporalConvention, testLogger())

	_, err := mgr.Enable(context.Background(), "public", "users", "", "nope")
	if !IsValidation(err) {
		t.Fatalf("Expected ValidationError, got %v", err)
	}
}

func TestEnableIdentityFallsBackToFirstColumn(t *testing.T) {
	driver := &dbtest.Driver{}
	driver.On("information_schema.columns", userColumns()...)
	// No primary key rows.

	mgr := NewManager(driver, TemporalConvention, testLogger())

	result, err := mgr.Enable(context.Background(), "public", "users", "", "")
	if err != nil {
		t.Fatalf("Enable failed: %v", err)
	}
	if result.IdentityColumn != "id" {
		t.Errorf("Expected fallback to first column id, got %s", result.IdentityColumn)
	}
}

func TestEnableFailureRollsBack(t *testing.T) {
	driver := &dbtest.Driver{}
	driver.On("information_schema.columns", userColumns()...)
	driver.On("table_constraints", db.Row{"column_name": "id"})
	driver.FailOn("CREATE TABLE IF NOT EXISTS \"temporal_versioning\".\"users_history\"", errTest)

	mgr := NewManager(driver, TemporalConvention, testLogger())

	_, err := mgr.Enable(context.Background(), "public", "users", "", "")
	if err == nil {
		t.Fatal("Expected enable to fail")
	}
	if !driver.Executed("ROLLBACK") {
		t.Error("Expected the transaction to roll back")
	}
	if driver.Executed("ON CONFLICT") {
		t.Error("Registry must not be touched after a DDL failure")
	}
}

func TestEnableCustomSuffix(t *testing.T) {
	driver := &dbtest.Driver{}
	driver.On("information_schema.columns", userColumns()...)
	driver.On("table_constraints", db.Row{"column_name": "id"})

	mgr := NewManager(driver, TemporalConvention, testLogger())

	result, err := mgr.Enable(context.Background(), "public", "users", "_audit", "")
	if err != nil {
		t.Fatalf("Enable failed: %v", err)
	}
	if result.HistoryTable != "temporal_versioning.users_audit" {
		t.Errorf("Unexpected history table: %s", result.HistoryTable)
	}
}

func TestDisableNotTracked(t *testing.T) {
	driver := &dbtest.Driver{}

	mgr := NewManager(driver, TemporalConvention, testLogger())

	result, err := mgr.Disable(context.Background(), "public", "users", false)
	if err != nil {
		t.Fatalf("Disable failed: %v", err)
	}
	if result.Status != "not_tracked" {
		t.Errorf("Expected not_tracked, got %s", result.Status)
	}
}

func TestDisablePreservesHistory(t *testing.T) {
	driver := &dbtest.Driver{}
	driver.On("SELECT history_table_name FROM", db.Row{"history_table_name": "users_history"})

	mgr := NewManager(driver, TemporalConvention, testLogger())

	result, err := mgr.Disable(context.Background(), "public", "users", false)
	if err != nil {
		t.Fatalf("Disable failed: %v", err)
	}
	if result.Status != "disabled" {
		t.Errorf("Expected disabled, got %s", result.Status)
	}
	if !result.HistoryPreserved {
		t.Error("Expected history to be preserved")
	}
	if !driver.Executed("DROP TRIGGER IF EXISTS") {
		t.Error("Expected the trigger to be dropped")
	}
	if !driver.Executed("SET enabled = FALSE") {
		t.Error("Expected the registry entry to be disabled")
	}
	if driver.Executed("DROP TABLE") {
		t.Error("History table must survive disable without drop_history")
	}
}

func TestDisableDropsHistory(t *testing.T) {
	driver := &dbtest.Driver{}
	driver.On("SELECT history_table_name FROM", db.Row{"history_table_name": "users_history"})

	mgr := NewManager(driver, TemporalConvention, testLogger())

	result, err := mgr.Disable(context.Background(), "public", "users", true)
	if err != nil {
		t.Fatalf("Disable failed: %v", err)
	}
	if !result.HistoryDropped {
		t.Error("Expected history to be dropped")
	}
	if !driver.Executed(`DROP TABLE IF EXISTS "temporal_versioning"."users_history"`) {
		t.Error("Expected the history table to be dropped")
	}
	if !driver.Executed("DELETE FROM \"temporal_versioning\".\"versioned_tables\"") {
		t.Error("Expected the registry entry to be removed")
	}
}

func TestListEmptyWhenRegistryMissing(t *testing.T) {
	driver := &dbtest.Driver{}
	driver.FailOn("CREATE SCHEMA", errTest)

	mgr := NewManager(driver, TemporalConvention, testLogger())

	tables, err := mgr.List(context.Background())
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(tables) != 0 {
		t.Errorf("Expected no tables, got %d", len(tables))
	}
}

func TestListOrderedRegistry(t *testing.T) {
	driver := &dbtest.Driver{}
	driver.On("ORDER BY schema_name, table_name",
		db.Row{"schema_name": "public", "table_name": "orders", "history_table_name": "orders_history", "identity_column": "order_id", "enabled": true, "created_at": "2026-01-02 10:00:00"},
		db.Row{"schema_name": "public", "table_name": "users", "history_table_name": "users_history", "identity_column": "id", "enabled": false, "created_at": "2026-01-01 09:00:00"},
	)

	mgr := NewManager(driver, TemporalConvention, testLogger())

	tables, err := mgr.List(context.Background())
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(tables) != 2 {
		t.Fatalf("Expected 2 tables, got %d", len(tables))
	}
	if tables[0].TableName != "orders" || tables[1].TableName != "users" {
		t.Errorf("Unexpected ordering: %s, %s", tables[0].TableName, tables[1].TableName)
	}
	if tables[0].IdentityColumn != "order_id" {
		t.Errorf("Unexpected identity column: %s", tables[0].IdentityColumn)
	}
	if tables[1].Enabled {
		t.Error("Disabled entry should report enabled=false")
	}
}

func TestStatusUntracked(t *testing.T) {
	driver := &dbtest.Driver{}

	mgr := NewManager(driver, TemporalConvention, testLogger())

	status, err := mgr.Status(context.Background(), "public", "users")
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if status.Tracked {
		t.Error("Expected untracked status")
	}
}

func TestStatusStatistics(t *testing.T) {
	driver := &dbtest.Driver{}
	driver.On("SELECT schema_name, table_name, history_table_name", db.Row{
		"schema_name":        "public",
		"table_name":         "users",
		"history_table_name": "users_history",
		"identity_column":    "id",
		"enabled":            true,
		"created_at":         "2026-01-01 09:00:00",
	})
	driver.On("total_changes", db.Row{
		"total_changes":      int64(7),
		"total_transactions": int64(3),
		"first_change":       "2026-01-01 09:00:00",
		"last_change":        "2026-01-05 17:30:00",
		"inserts":            int64(4),
		"updates":            int64(2),
		"deletes":            int64(1),
	})

	mgr := NewManager(driver, TemporalConvention, testLogger())

	status, err := mgr.Status(context.Background(), "public", "users")
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if !status.Tracked || !status.Enabled {
		t.Error("Expected tracked and enabled")
	}
	if status.Statistics == nil {
		t.Fatal("Expected statistics")
	}
	if status.Statistics.TotalChanges != 7 {
		t.Errorf("Expected 7 total changes, got %d", status.Statistics.TotalChanges)
	}
	if status.Statistics.TotalTransactions != 3 {
		t.Errorf("Expected 3 transactions, got %d", status.Statistics.TotalTransactions)
	}
	if status.Statistics.Inserts != 4 || status.Statistics.Updates != 2 || status.Statistics.Deletes != 1 {
		t.Errorf("Unexpected per-operation counts: %+v", status.Statistics)
	}
}

func TestHistoryConventionNaming(t *testing.T) {
	driver := &dbtest.Driver{}
	driver.On("information_schema.columns", userColumns()...)
	driver.On("table_constraints", db.Row{"column_name": "id"})

	mgr := NewManager(driver, HistoryConvention, testLogger())

	result, err := mgr.Enable(context.Background(), "public", "users", "", "")
	if err != nil {
		t.Fatalf("Enable failed: %v", err)
	}
	if result.HistoryTable != "history_tracking.users_history" {
		t.Errorf("Unexpected history table: %s", result.HistoryTable)
	}
	if result.TriggerName != "users_history_trigger" {
		t.Errorf("Unexpected trigger name: %s", result.TriggerName)
	}
	if !driver.Executed(`"history_tracking"."tracked_tables"`) {
		t.Error("Expected the history_tracking registry to be used")
	}
	if !driver.Executed("history_operation") {
		t.Error("Expected history_-prefixed metadata columns")
	}
}
