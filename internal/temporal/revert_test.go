package temporal

import (
	"context"
	"testing"

	"github.com/timetrail/timetrail/internal/db"
	"github.com/timetrail/timetrail/internal/db/dbtest"
)

func revertDriver(snapshot []db.Row, currentCount int64) *dbtest.Driver {
	driver := &dbtest.Driver{}
	trackedUsers(driver)
	driver.On("latest_changes", snapshot...)
	driver.On("COUNT(*) AS count", db.Row{"count": currentCount})
	return driver
}

func TestRevertDryRunDoesNotMutate(t *testing.T) {
	snapshot := []db.Row{
		{"id": int64(1), "name": "a", "temporal_operation": "INSERT", "temporal_valid_from": "t"},
		{"id": int64(2), "name": "b", "temporal_operation": "INSERT", "temporal_valid_from": "t"},
	}
	driver := revertDriver(snapshot, 5)

	q := NewQuery(driver, TemporalConvention, testLogger())

	result, err := q.Revert(context.Background(), "public", "users", "2026-01-15 10:30:00", true)
	if err != nil {
		t.Fatalf("Revert failed: %v", err)
	}

	if !result.DryRun {
		t.Error("Expected dry_run to be reported")
	}
	if result.Reverted {
		t.Error("Dry run must not revert")
	}
	if result.CurrentRowCount != 5 || result.RowsToDelete != 5 {
		t.Errorf("Expected 5 current rows, got %+v", result)
	}
	if result.TargetRowCount != 2 || result.RowsToInsert != 2 {
		t.Errorf("Expected 2 target rows, got %+v", result)
	}
	if len(result.Preview) != 2 {
		t.Errorf("Expected 2 preview rows, got %d", len(result.Preview))
	}
	if driver.Executed("DELETE FROM \"public\".\"users\"") {
		t.Error("Dry run must not delete")
	}
	if driver.Executed("INSERT INTO \"public\".\"users\"") {
		t.Error("Dry run must not insert")
	}
	if driver.Executed("BEGIN") {
		t.Error("Dry run must not open a transaction")
	}
}

func TestRevertPreviewBounded(t *testing.T) {
	var snapshot []db.Row
	for i := int64(1); i <= 25; i++ {
		snapshot = append(snapshot, db.Row{"id": i, "name": "n", "temporal_operation": "INSERT", "temporal_valid_from": "t"})
	}
	driver := revertDriver(snapshot, 0)

	q := NewQuery(driver, TemporalConvention, testLogger())

	result, err := q.Revert(context.Background(), "public", "users", "2026-01-15 10:30:00", true)
	if err != nil {
		t.Fatalf("Revert failed: %v", err)
	}
	if len(result.Preview) != previewRows {
		t.Errorf("Expected preview bounded to %d rows, got %d", previewRows, len(result.Preview))
	}
	if result.TargetRowCount != 25 {
		t.Errorf("Expected full target count, got %d", result.TargetRowCount)
	}
}

func TestRevertExecutesInOneTransaction(t *testing.T) {
	snapshot := []db.Row{
		{"id": int64(1), "name": "a", "temporal_operation": "INSERT", "temporal_valid_from": "t"},
		{"id": int64(2), "name": "b", "temporal_operation": "INSERT", "temporal_valid_from": "t"},
	}
	driver := revertDriver(snapshot, 3)

	q := NewQuery(driver, TemporalConvention, testLogger())

	result, err := q.Revert(context.Background(), "public", "users", "2026-01-15 10:30:00", false)
	if err != nil {
		t.Fatalf("Revert failed: %v", err)
	}

	if !result.Reverted {
		t.Error("Expected reverted to be reported")
	}
	if !driver.Executed("BEGIN") || !driver.Executed("COMMIT") {
		t.Error("Revert must run inside a transaction")
	}
	if !driver.Executed("DELETE FROM \"public\".\"users\"") {
		t.Error("Expected the live table to be cleared")
	}

	inserts := driver.CallsMatching("INSERT INTO \"public\".\"users\"")
	if len(inserts) != 2 {
		t.Fatalf("Expected 2 inserts, got %d", len(inserts))
	}
	if !contains(inserts[0].SQL, `("id", "name") VALUES ($1, $2)`) {
		t.Errorf("Unexpected insert statement: %s", inserts[0].SQL)
	}
	if inserts[0].Args[0] != int64(1) || inserts[0].Args[1] != "a" {
		t.Errorf("Unexpected insert arguments: %v", inserts[0].Args)
	}
	if inserts[1].Args[0] != int64(2) || inserts[1].Args[1] != "b" {
		t.Errorf("Unexpected insert arguments: %v", inserts[1].Args)
	}
}

func TestRevertInsertFailureRollsBack(t *testing.T) {
	snapshot := []db.Row{
		{"id": int64(1), "name": "a", "temporal_operation": "INSERT", "temporal_valid_from": "t"},
	}
	driver := revertDriver(snapshot, 3)
	driver.FailOn("INSERT INTO \"public\".\"users\"", errTest)

	q := NewQuery(driver, TemporalConvention, testLogger())

	_, err := q.Revert(context.Background(), "public", "users", "2026-01-15 10:30:00", false)
	if err == nil {
		t.Fatal("Expected revert to fail")
	}
	if !driver.Executed("ROLLBACK") {
		t.Error("A failed revert must roll back")
	}
}

func TestRevertNotVersioned(t *testing.T) {
	driver := &dbtest.Driver{}

	q := NewQuery(driver, TemporalConvention, testLogger())

	_, err := q.Revert(context.Background(), "public", "users", "2026-01-15 10:30:00", true)
	if !IsNotVersioned(err) {
		t.Fatalf("Expected NotVersionedError, got %v", err)
	}
}
