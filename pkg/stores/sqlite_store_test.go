package stores

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/openconveyor/conveyor/pkg/dispatch"
)

// setupTestStore creates an in-memory SQLite store for testing.
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}

	t.Cleanup(func() { store.Close() })
	return store
}

func sampleRecord(requestID string, startedAt time.Time) dispatch.ExecutionRecord {
	return dispatch.ExecutionRecord{
		ModuleID:    "http.fetch",
		RequestID:   requestID,
		Status:      "success",
		Attempts:    1,
		DurationMS:  42,
		Environment: "staging",
		StartedAt:   startedAt,
	}
}

func TestStoreLifecycle(t *testing.T) {
	store, err := NewSQLiteStore(Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}
	if err := store.HealthCheck(ctx); err != nil {
		t.Errorf("health check failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Errorf("failed to close store: %v", err)
	}
}

func TestStoreRequiresPath(t *testing.T) {
	if _, err := NewSQLiteStore(Config{}); err == nil {
		t.Error("NewSQLiteStore() with empty path succeeded")
	}
}

func TestRecordAndGetExecution(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	rec := dispatch.ExecutionRecord{
		ModuleID:    "browser.navigate",
		RequestID:   "req-123",
		Status:      "failure",
		ErrorCode:   "ELEMENT_NOT_FOUND",
		Attempts:    3,
		DurationMS:  1200,
		Environment: "production",
		StartedAt:   time.Now().Add(-time.Minute),
	}
	if err := store.RecordExecution(ctx, rec); err != nil {
		t.Fatalf("RecordExecution() error = %v", err)
	}

	got, err := store.GetExecution(ctx, "req-123")
	if err != nil {
		t.Fatalf("GetExecution() error = %v", err)
	}
	if got.ModuleID != rec.ModuleID || got.Status != ExecutionStatusFailure {
		t.Errorf("got %+v, want module %s with failure status", got, rec.ModuleID)
	}
	if got.ErrorCode != "ELEMENT_NOT_FOUND" || got.Attempts != 3 || got.DurationMS != 1200 {
		t.Errorf("got %+v, want error code, attempts, and duration preserved", got)
	}
	if got.Environment != "production" {
		t.Errorf("Environment = %s, want production", got.Environment)
	}
}

func TestGetExecutionNotFound(t *testing.T) {
	store := setupTestStore(t)

	if _, err := store.GetExecution(context.Background(), "missing"); err == nil {
		t.Error("GetExecution() for unknown id succeeded")
	}
}

func TestDuplicateRequestIDRejected(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	rec := sampleRecord("dup", time.Now())
	if err := store.RecordExecution(ctx, rec); err != nil {
		t.Fatal(err)
	}
	if err := store.RecordExecution(ctx, rec); err == nil {
		t.Error("duplicate request id was accepted")
	}
}

func TestListExecutionsFilters(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	now := time.Now()

	for i := 0; i < 3; i++ {
		rec := sampleRecord(fmt.Sprintf("ok-%d", i), now.Add(time.Duration(i)*time.Second))
		if err := store.RecordExecution(ctx, rec); err != nil {
			t.Fatal(err)
		}
	}
	failed := dispatch.ExecutionRecord{
		ModuleID:    "shell.run",
		RequestID:   "denied-1",
		Status:      "failure",
		ErrorCode:   "FORBIDDEN",
		Attempts:    1,
		Environment: "production",
		StartedAt:   now.Add(10 * time.Second),
	}
	if err := store.RecordExecution(ctx, failed); err != nil {
		t.Fatal(err)
	}

	all, err := store.ListExecutions(ctx, ExecutionFilter{}, 10, 0)
	if err != nil {
		t.Fatalf("ListExecutions() error = %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("listed %d executions, want 4", len(all))
	}
	// Newest first.
	if all[0].RequestID != "denied-1" {
		t.Errorf("first listed = %s, want denied-1", all[0].RequestID)
	}

	moduleID := "shell.run"
	byModule, err := store.ListExecutions(ctx, ExecutionFilter{ModuleID: &moduleID}, 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(byModule) != 1 || byModule[0].RequestID != "denied-1" {
		t.Errorf("module filter returned %d rows, want just denied-1", len(byModule))
	}

	status := ExecutionStatusSuccess
	byStatus, err := store.ListExecutions(ctx, ExecutionFilter{Status: &status}, 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(byStatus) != 3 {
		t.Errorf("status filter returned %d rows, want 3", len(byStatus))
	}

	page, err := store.ListExecutions(ctx, ExecutionFilter{}, 2, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 2 {
		t.Errorf("pagination returned %d rows, want 2", len(page))
	}
}

func TestPruneExecutions(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	now := time.Now()

	old := sampleRecord("old", now.Add(-48*time.Hour))
	recent := sampleRecord("recent", now)
	if err := store.RecordExecution(ctx, old); err != nil {
		t.Fatal(err)
	}
	if err := store.RecordExecution(ctx, recent); err != nil {
		t.Fatal(err)
	}

	pruned, err := store.PruneExecutions(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("PruneExecutions() error = %v", err)
	}
	if pruned != 1 {
		t.Errorf("pruned %d rows, want 1", pruned)
	}
	if _, err := store.GetExecution(ctx, "old"); err == nil {
		t.Error("pruned execution is still readable")
	}
	if _, err := store.GetExecution(ctx, "recent"); err != nil {
		t.Errorf("recent execution was pruned: %v", err)
	}
}

func TestZeroAttemptsNormalizedToOne(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	rec := sampleRecord("zero", time.Now())
	rec.Attempts = 0
	if err := store.RecordExecution(ctx, rec); err != nil {
		t.Fatal(err)
	}
	got, err := store.GetExecution(ctx, "zero")
	if err != nil {
		t.Fatal(err)
	}
	if got.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", got.Attempts)
	}
}
