package automation

import (
	"context"
	"errors"
	"testing"
	"time"
)

func candidate(id string, priority int, strategy ResolutionStrategy, actions ...Action) Candidate {
	return Candidate{
		Automation: &Automation{
			ID:                 id,
			Name:               id,
			Enabled:            true,
			Priority:           priority,
			ConflictResolution: strategy,
		},
		Actions: actions,
	}
}

func intPtr(v int) *int { return &v }

// ─── Detection ──────────────────────────────────────────────────────────────

func TestResolveNoConflictPassesThrough(t *testing.T) {
	r := NewResolver(newMockRepository())

	result := r.Resolve(context.Background(), []Candidate{
		candidate("a", 1, "", deviceAct("light-01", "turnOn", nil)),
		candidate("b", 2, "", deviceAct("light-02", "turnOn", nil)),
	})

	if len(result.Conflicts) != 0 {
		t.Fatalf("expected no conflicts, got %d", len(result.Conflicts))
	}
	if len(result.Actions["a"]) != 1 || len(result.Actions["b"]) != 1 {
		t.Errorf("expected actions unchanged, got %v", result.Actions)
	}
}

func TestResolveDetectsDeviceConflict(t *testing.T) {
	repo := newMockRepository()
	r := NewResolver(repo)

	result := r.Resolve(context.Background(), []Candidate{
		candidate("a", 1, "", deviceAct("light-01", "setBrightness", map[string]any{"brightness": 50})),
		candidate("b", 2, "", deviceAct("light-01", "turnOn", nil)),
	})

	if len(result.Conflicts) == 0 {
		t.Fatal("expected device conflict")
	}
	c := result.Conflicts[0]
	if c.Type != ConflictDevice || c.DeviceID != "light-01" {
		t.Errorf("unexpected conflict %+v", c)
	}
	if len(c.AutomationIDs) != 2 {
		t.Errorf("expected both participants recorded, got %v", c.AutomationIDs)
	}

	// Conflicts are persisted.
	persisted, _ := repo.ListConflicts(context.Background(), 0)
	if len(persisted) != len(result.Conflicts) {
		t.Errorf("expected %d persisted conflicts, got %d", len(result.Conflicts), len(persisted))
	}
}

func TestResolveDetectsStateConflict(t *testing.T) {
	r := NewResolver(newMockRepository())

	result := r.Resolve(context.Background(), []Candidate{
		candidate("a", 1, "", deviceAct("door", "lock", nil)),
		candidate("b", 2, "", deviceAct("door", "unlock", nil)),
	})

	var found bool
	for _, c := range result.Conflicts {
		if c.Type == ConflictState {
			found = true
			if c.Severity != SeverityHigh {
				t.Errorf("state conflicts are always high severity, got %s", c.Severity)
			}
		}
	}
	if !found {
		t.Error("expected contradictory lock/unlock to raise a state conflict")
	}
}

func TestResolveDetectsSetParameterDivergence(t *testing.T) {
	r := NewResolver(newMockRepository())

	result := r.Resolve(context.Background(), []Candidate{
		candidate("a", 1, "", deviceAct("thermostat", "setTemperature", map[string]any{"target": 22})),
		candidate("b", 2, "", deviceAct("thermostat", "setTemperature", map[string]any{"target": 18})),
	})

	var found bool
	for _, c := range result.Conflicts {
		if c.Type == ConflictState {
			found = true
		}
	}
	if !found {
		t.Error("expected diverging set parameters to raise a state conflict")
	}
}

func TestResolveDetectsTimingConflict(t *testing.T) {
	r := NewResolver(newMockRepository())

	slow := deviceAct("light-01", "turnOn", nil)
	slow.DelayMS = intPtr(5000)
	fast := deviceAct("light-01", "turnOn", nil)
	fast.DelayMS = intPtr(100)

	result := r.Resolve(context.Background(), []Candidate{
		candidate("a", 1, "", slow),
		candidate("b", 2, "", fast),
	})

	var found bool
	for _, c := range result.Conflicts {
		if c.Type == ConflictTiming {
			found = true
			if c.Severity != SeverityMedium {
				t.Errorf("timing conflicts are medium severity, got %s", c.Severity)
			}
		}
	}
	if !found {
		t.Error("expected differing delays to raise a timing conflict")
	}
}

func TestSeverityFromSpread(t *testing.T) {
	tests := []struct {
		spread int
		want   ConflictSeverity
	}{
		{0, SeverityHigh},
		{2, SeverityHigh},
		{3, SeverityMedium},
		{5, SeverityMedium},
		{6, SeverityLow},
		{50, SeverityLow},
	}
	for _, tt := range tests {
		if got := severityFromSpread(tt.spread); got != tt.want {
			t.Errorf("severityFromSpread(%d) = %s, want %s", tt.spread, got, tt.want)
		}
	}
}

// ─── Strategies ─────────────────────────────────────────────────────────────

func TestResolvePriorityStrategy(t *testing.T) {
	r := NewResolver(newMockRepository())

	result := r.Resolve(context.Background(), []Candidate{
		candidate("loser", 9, "", deviceAct("light-01", "turnOff", nil)),
		candidate("winner", 1, StrategyPriority, deviceAct("light-01", "turnOn", nil)),
	})

	if len(result.Actions["winner"]) != 1 {
		t.Error("winner must keep its action")
	}
	if len(result.Actions["loser"]) != 0 {
		t.Error("loser's conflicted action must be dropped")
	}
	for _, c := range result.Conflicts {
		if !c.Resolved || c.Resolution == nil {
			t.Errorf("expected automatic resolution, got %+v", c)
			continue
		}
		if c.Resolution.SelectedRule == nil || *c.Resolution.SelectedRule != "winner" {
			t.Errorf("expected winner selected, got %+v", c.Resolution)
		}
		if !c.Resolution.Automatic {
			t.Error("automatic resolutions must be flagged automatic")
		}
	}
}

func TestResolveMergeStrategy(t *testing.T) {
	r := NewResolver(newMockRepository())

	result := r.Resolve(context.Background(), []Candidate{
		candidate("a", 1, StrategyMerge,
			deviceAct("light-01", "setBrightness", map[string]any{"brightness": 50, "scene": "dusk"})),
		candidate("b", 5, "",
			deviceAct("light-01", "setBrightness", map[string]any{"brightness": 90, "transition": 2})),
	})

	merged := result.Actions["a"]
	if len(merged) != 1 {
		t.Fatalf("expected one merged action for the most urgent automation, got %d", len(merged))
	}
	if len(result.Actions["b"]) != 0 {
		t.Error("other participants contribute nothing after a merge")
	}

	action := merged[0]
	if action.Command != "setBrightness" {
		t.Errorf("merged command comes from the most urgent participant, got %q", action.Command)
	}
	if got := action.Parameters["brightness"]; got != 70.0 {
		t.Errorf("numeric parameters are averaged: want 70, got %v", got)
	}
	if got := action.Parameters["scene"]; got != "dusk" {
		t.Errorf("non-numeric parameters keep the first value, got %v", got)
	}
	if got := action.Parameters["transition"]; got != 2.0 {
		t.Errorf("single numeric value averages to itself, got %v", got)
	}
}

func TestResolveMergeTakesMinimumDelay(t *testing.T) {
	r := NewResolver(newMockRepository())

	a := deviceAct("light-01", "setBrightness", map[string]any{"brightness": 40})
	a.DelayMS = intPtr(3000)
	b := deviceAct("light-01", "setBrightness", map[string]any{"brightness": 60})
	b.DelayMS = intPtr(500)

	result := r.Resolve(context.Background(), []Candidate{
		candidate("a", 1, StrategyMerge, a),
		candidate("b", 2, "", b),
	})

	merged := result.Actions["a"]
	if len(merged) != 1 || merged[0].DelayMS == nil || *merged[0].DelayMS != 500 {
		t.Errorf("expected minimum delay 500, got %+v", merged)
	}
}

func TestResolveCancelStrategy(t *testing.T) {
	r := NewResolver(newMockRepository())

	result := r.Resolve(context.Background(), []Candidate{
		candidate("a", 1, StrategyCancel,
			deviceAct("light-01", "turnOn", nil),
			deviceAct("light-02", "turnOn", nil)),
		candidate("b", 2, "", deviceAct("light-01", "turnOff", nil)),
	})

	// Conflicted device actions are all dropped; unrelated actions survive.
	if len(result.Actions["a"]) != 1 || result.Actions["a"][0].Target != "light-02" {
		t.Errorf("expected only the unconflicted action to survive, got %v", result.Actions["a"])
	}
	if len(result.Actions["b"]) != 0 {
		t.Errorf("expected b's actions cancelled, got %v", result.Actions["b"])
	}

	// Both participants still count as triggered for statistics.
	if len(result.Cancelled) != 2 || result.Cancelled[0] != "a" || result.Cancelled[1] != "b" {
		t.Errorf("expected both participants reported cancelled, got %v", result.Cancelled)
	}
}

func TestResolveUserPromptWithholds(t *testing.T) {
	r := NewResolver(newMockRepository())

	result := r.Resolve(context.Background(), []Candidate{
		candidate("a", 1, StrategyUserPrompt, deviceAct("light-01", "turnOn", nil)),
		candidate("b", 2, "", deviceAct("light-01", "turnOff", nil)),
	})

	if len(result.AwaitingInput) == 0 {
		t.Fatal("expected conflicts awaiting input")
	}
	if len(result.Actions["a"]) != 0 || len(result.Actions["b"]) != 0 {
		t.Error("conflicted actions must be withheld pending input")
	}
	for _, c := range result.Conflicts {
		if c.Resolved {
			t.Errorf("user_prompt conflicts stay unresolved, got %+v", c)
		}
	}
}

func TestResolveTieBreaksOnUrgency(t *testing.T) {
	r := NewResolver(newMockRepository())

	// Equal priorities: stable sort keeps declaration order, so the first
	// candidate's strategy applies and it wins.
	result := r.Resolve(context.Background(), []Candidate{
		candidate("first", 5, StrategyPriority, deviceAct("light-01", "turnOn", nil)),
		candidate("second", 5, "", deviceAct("light-01", "turnOff", nil)),
	})

	if len(result.Actions["first"]) != 1 || len(result.Actions["second"]) != 0 {
		t.Errorf("expected first declared automation to win the tie, got %v", result.Actions)
	}
}

// ─── Manual Resolution ──────────────────────────────────────────────────────

func TestResolveManually(t *testing.T) {
	repo := newMockRepository()
	r := NewResolver(repo)
	ctx := context.Background()

	conflict := &Conflict{
		ID:            "c1",
		Type:          ConflictDevice,
		Severity:      SeverityHigh,
		AutomationIDs: []string{"a", "b"},
		DeviceID:      "light-01",
		Description:   "2 automations target device light-01",
		DetectedAt:    time.Now().UTC(),
	}
	if err := repo.CreateConflict(ctx, conflict); err != nil {
		t.Fatalf("CreateConflict failed: %v", err)
	}

	resolved, err := r.ResolveManually(ctx, "c1", "b")
	if err != nil {
		t.Fatalf("ResolveManually failed: %v", err)
	}
	if !resolved.Resolved {
		t.Error("expected conflict marked resolved")
	}
	if resolved.Resolution.Strategy != StrategyManual || resolved.Resolution.Automatic {
		t.Errorf("unexpected resolution %+v", resolved.Resolution)
	}
	if *resolved.Resolution.SelectedRule != "b" {
		t.Errorf("expected selected rule b, got %q", *resolved.Resolution.SelectedRule)
	}

	// Resolving twice is an error.
	if _, err := r.ResolveManually(ctx, "c1", "b"); !errors.Is(err, ErrConflictResolved) {
		t.Errorf("expected ErrConflictResolved, got %v", err)
	}
}

func TestResolveManuallyRejectsNonParticipant(t *testing.T) {
	repo := newMockRepository()
	r := NewResolver(repo)
	ctx := context.Background()

	conflict := &Conflict{
		ID:            "c1",
		AutomationIDs: []string{"a", "b"},
		DetectedAt:    time.Now().UTC(),
	}
	if err := repo.CreateConflict(ctx, conflict); err != nil {
		t.Fatalf("CreateConflict failed: %v", err)
	}

	if _, err := r.ResolveManually(ctx, "c1", "intruder"); !errors.Is(err, ErrNotParticipant) {
		t.Errorf("expected ErrNotParticipant, got %v", err)
	}
	if _, err := r.ResolveManually(ctx, "missing", "a"); !errors.Is(err, ErrConflictNotFound) {
		t.Errorf("expected ErrConflictNotFound, got %v", err)
	}
}

// ─── Statistics ─────────────────────────────────────────────────────────────

func TestConflictStatistics(t *testing.T) {
	repo := newMockRepository()
	r := NewResolver(repo)
	ctx := context.Background()

	detected := time.Now().UTC().Add(-time.Minute)
	conflicts := []*Conflict{
		{
			ID: "c1", Type: ConflictDevice, Severity: SeverityHigh,
			AutomationIDs: []string{"a", "b"}, DetectedAt: detected,
			Resolved: true,
			Resolution: &ConflictResolution{
				Strategy:  StrategyPriority,
				Timestamp: detected.Add(30 * time.Second),
				Automatic: true,
			},
		},
		{
			ID: "c2", Type: ConflictTiming, Severity: SeverityMedium,
			AutomationIDs: []string{"a", "b"}, DetectedAt: detected,
		},
	}
	for _, c := range conflicts {
		if err := repo.CreateConflict(ctx, c); err != nil {
			t.Fatalf("CreateConflict failed: %v", err)
		}
	}

	stats, err := r.Statistics(ctx)
	if err != nil {
		t.Fatalf("Statistics failed: %v", err)
	}
	if stats.Total != 2 || stats.Resolved != 1 || stats.Unresolved != 1 {
		t.Errorf("unexpected totals %+v", stats)
	}
	if stats.ByType[ConflictDevice] != 1 || stats.BySeverity[SeverityMedium] != 1 {
		t.Errorf("unexpected grouping %+v", stats)
	}
	if stats.MeanTimeToResolution != 30*time.Second {
		t.Errorf("expected 30s mean resolution, got %v", stats.MeanTimeToResolution)
	}
}
