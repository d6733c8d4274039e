package automation

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// setupTestDB creates an in-memory SQLite database with the engine schema.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	schema := `
		CREATE TABLE automations (
			id          TEXT PRIMARY KEY,
			name        TEXT NOT NULL,
			enabled     INTEGER NOT NULL DEFAULT 1,
			priority    INTEGER NOT NULL DEFAULT 10,
			data        TEXT NOT NULL,
			created_at  TEXT NOT NULL,
			updated_at  TEXT NOT NULL
		);
		CREATE TABLE automation_executions (
			id            TEXT PRIMARY KEY,
			automation_id TEXT NOT NULL REFERENCES automations(id) ON DELETE CASCADE,
			triggered_by  TEXT NOT NULL,
			status        TEXT NOT NULL,
			actions       TEXT NOT NULL DEFAULT '[]',
			error         TEXT,
			started_at    TEXT NOT NULL,
			completed_at  TEXT
		);
		CREATE TABLE conflicts (
			id             TEXT PRIMARY KEY,
			type           TEXT NOT NULL,
			severity       TEXT NOT NULL,
			automation_ids TEXT NOT NULL,
			device_id      TEXT NOT NULL DEFAULT '',
			description    TEXT NOT NULL,
			resolution     TEXT,
			resolved       INTEGER NOT NULL DEFAULT 0,
			detected_at    TEXT NOT NULL,
			resolved_at    TEXT
		);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		t.Fatalf("failed to create test schema: %v", err)
	}

	t.Cleanup(func() { db.Close() })
	return db
}

func storedAutomation(name string, priority int) *Automation {
	a := deviceTriggered(name, "motion-1", priority, deviceAct("light-01", "turnOn", nil))
	a.ID = GenerateID()
	a.Triggers[0].ID = GenerateID()
	a.Actions[0].ID = GenerateID()
	return a
}

// ─── Automations ────────────────────────────────────────────────────────────

func TestSQLiteRepositoryAutomationRoundTrip(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	a := storedAutomation("round trip", 7)
	a.CooldownPeriod = intPtr(120)
	a.Conditions = []Condition{{
		Type:   ConditionTime,
		Config: map[string]any{"timeStart": "20:00", "timeEnd": "23:00"},
	}}

	if err := repo.Create(ctx, a); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	got, err := repo.GetByID(ctx, a.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got.Name != "round trip" || got.Priority != 7 {
		t.Errorf("unexpected automation %+v", got)
	}
	if got.CooldownPeriod == nil || *got.CooldownPeriod != 120 {
		t.Errorf("cooldown lost in round trip: %v", got.CooldownPeriod)
	}
	if len(got.Triggers) != 1 || len(got.Conditions) != 1 || len(got.Actions) != 1 {
		t.Errorf("rule clauses lost in round trip: %+v", got)
	}
	if got.Conditions[0].Config["timeStart"] != "20:00" {
		t.Errorf("condition config lost: %v", got.Conditions[0].Config)
	}
}

func TestSQLiteRepositoryDuplicateCreate(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	a := storedAutomation("dupe", 10)
	if err := repo.Create(ctx, a); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := repo.Create(ctx, a); !errors.Is(err, ErrAutomationExists) {
		t.Errorf("expected ErrAutomationExists, got %v", err)
	}
}

func TestSQLiteRepositoryUpdate(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	a := storedAutomation("before", 10)
	if err := repo.Create(ctx, a); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	a.Name = "after"
	a.Priority = 3
	if err := repo.Update(ctx, a); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	got, err := repo.GetByID(ctx, a.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got.Name != "after" || got.Priority != 3 {
		t.Errorf("update not applied: %+v", got)
	}

	missing := storedAutomation("ghost", 10)
	if err := repo.Update(ctx, missing); !errors.Is(err, ErrAutomationNotFound) {
		t.Errorf("expected ErrAutomationNotFound, got %v", err)
	}
}

func TestSQLiteRepositoryListOrdering(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	for _, spec := range []struct {
		name     string
		priority int
	}{
		{"beta", 5},
		{"alpha", 5},
		{"first", 1},
	} {
		if err := repo.Create(ctx, storedAutomation(spec.name, spec.priority)); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	}

	list, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	want := []string{"first", "alpha", "beta"}
	if len(list) != len(want) {
		t.Fatalf("expected %d automations, got %d", len(want), len(list))
	}
	for i, name := range want {
		if list[i].Name != name {
			t.Errorf("list[%d] = %s, want %s", i, list[i].Name, name)
		}
	}
}

func TestSQLiteRepositoryDelete(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	a := storedAutomation("goner", 10)
	if err := repo.Create(ctx, a); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := repo.Delete(ctx, a.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := repo.GetByID(ctx, a.ID); !errors.Is(err, ErrAutomationNotFound) {
		t.Errorf("expected ErrAutomationNotFound, got %v", err)
	}
	if err := repo.Delete(ctx, a.ID); !errors.Is(err, ErrAutomationNotFound) {
		t.Errorf("expected ErrAutomationNotFound on double delete, got %v", err)
	}
}

// ─── Executions ─────────────────────────────────────────────────────────────

func TestSQLiteRepositoryExecutionLifecycle(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	a := storedAutomation("runner", 10)
	if err := repo.Create(ctx, a); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	exec := &AutomationExecution{
		ID:           GenerateID(),
		AutomationID: a.ID,
		TriggeredBy:  "device:motion-1",
		Status:       StatusRunning,
		Actions: []ActionExecution{
			{ActionID: a.Actions[0].ID, Status: ActionPending},
		},
		StartedAt: time.Now().UTC().Truncate(time.Second),
	}
	if err := repo.CreateExecution(ctx, exec); err != nil {
		t.Fatalf("CreateExecution failed: %v", err)
	}

	completed := exec.StartedAt.Add(2 * time.Second)
	exec.Status = StatusCompleted
	exec.CompletedAt = &completed
	exec.Actions[0].Status = ActionCompleted
	if err := repo.UpdateExecution(ctx, exec); err != nil {
		t.Fatalf("UpdateExecution failed: %v", err)
	}

	got, err := repo.GetExecution(ctx, exec.ID)
	if err != nil {
		t.Fatalf("GetExecution failed: %v", err)
	}
	if got.Status != StatusCompleted || got.CompletedAt == nil {
		t.Errorf("unexpected execution %+v", got)
	}
	if len(got.Actions) != 1 || got.Actions[0].Status != ActionCompleted {
		t.Errorf("action results lost: %+v", got.Actions)
	}

	if _, err := repo.GetExecution(ctx, "missing"); !errors.Is(err, ErrExecutionNotFound) {
		t.Errorf("expected ErrExecutionNotFound, got %v", err)
	}
}

func TestSQLiteRepositoryListExecutionsNewestFirst(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	a := storedAutomation("history", 10)
	if err := repo.Create(ctx, a); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	base := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		exec := &AutomationExecution{
			ID:           GenerateID(),
			AutomationID: a.ID,
			TriggeredBy:  "manual",
			Status:       StatusCompleted,
			StartedAt:    base.Add(time.Duration(i) * time.Minute),
		}
		if err := repo.CreateExecution(ctx, exec); err != nil {
			t.Fatalf("CreateExecution failed: %v", err)
		}
	}

	list, err := repo.ListExecutions(ctx, a.ID, 2)
	if err != nil {
		t.Fatalf("ListExecutions failed: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected limit applied, got %d", len(list))
	}
	if !list[0].StartedAt.After(list[1].StartedAt) {
		t.Error("expected newest-first ordering")
	}
}

// ─── Conflicts ──────────────────────────────────────────────────────────────

func TestSQLiteRepositoryConflictRoundTrip(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	c := &Conflict{
		ID:            GenerateID(),
		Type:          ConflictDevice,
		Severity:      SeverityHigh,
		AutomationIDs: []string{"a", "b"},
		DeviceID:      "light-01",
		Description:   "2 automations target device light-01",
		DetectedAt:    time.Now().UTC().Truncate(time.Second),
	}
	if err := repo.CreateConflict(ctx, c); err != nil {
		t.Fatalf("CreateConflict failed: %v", err)
	}

	got, err := repo.GetConflict(ctx, c.ID)
	if err != nil {
		t.Fatalf("GetConflict failed: %v", err)
	}
	if got.DeviceID != "light-01" || got.Resolved {
		t.Errorf("unexpected conflict %+v", got)
	}
	if len(got.AutomationIDs) != 2 {
		t.Errorf("automation ids lost: %v", got.AutomationIDs)
	}

	selected := "b"
	got.Resolved = true
	got.Resolution = &ConflictResolution{
		Strategy:     StrategyManual,
		SelectedRule: &selected,
		Timestamp:    time.Now().UTC().Truncate(time.Second),
	}
	if err := repo.UpdateConflict(ctx, got); err != nil {
		t.Fatalf("UpdateConflict failed: %v", err)
	}

	final, err := repo.GetConflict(ctx, c.ID)
	if err != nil {
		t.Fatalf("GetConflict failed: %v", err)
	}
	if !final.Resolved || final.Resolution == nil || *final.Resolution.SelectedRule != "b" {
		t.Errorf("resolution lost: %+v", final)
	}

	if _, err := repo.GetConflict(ctx, "missing"); !errors.Is(err, ErrConflictNotFound) {
		t.Errorf("expected ErrConflictNotFound, got %v", err)
	}
}

func TestSQLiteRepositoryListConflicts(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	base := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		c := &Conflict{
			ID:            GenerateID(),
			Type:          ConflictDevice,
			Severity:      SeverityLow,
			AutomationIDs: []string{"a", "b"},
			Description:   "test",
			DetectedAt:    base.Add(time.Duration(i) * time.Minute),
		}
		if err := repo.CreateConflict(ctx, c); err != nil {
			t.Fatalf("CreateConflict failed: %v", err)
		}
	}

	all, err := repo.ListConflicts(ctx, 0)
	if err != nil {
		t.Fatalf("ListConflicts failed: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("limit 0 must return all, got %d", len(all))
	}

	limited, err := repo.ListConflicts(ctx, 2)
	if err != nil {
		t.Fatalf("ListConflicts failed: %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("expected limit applied, got %d", len(limited))
	}
	if !limited[0].DetectedAt.After(limited[1].DetectedAt) {
		t.Error("expected newest-first ordering")
	}
}
