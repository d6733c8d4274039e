package location

import "testing"

func TestEnterExit(t *testing.T) {
	tr := NewTracker()

	tr.Enter("user-1", "home")
	if !tr.Contains("user-1", "home") {
		t.Error("expected user inside home")
	}
	if tr.Contains("user-1", "work") {
		t.Error("unexpected zone membership")
	}
	if tr.Contains("user-2", "home") {
		t.Error("users must be isolated")
	}

	tr.Exit("user-1", "home")
	if tr.Contains("user-1", "home") {
		t.Error("expected user outside after exit")
	}

	// Exit for an unknown user is a no-op.
	tr.Exit("ghost", "home")
}

func TestOverlappingZones(t *testing.T) {
	tr := NewTracker()
	tr.Enter("user-1", "home")
	tr.Enter("user-1", "garden")

	zones := tr.Zones("user-1")
	if len(zones) != 2 || zones[0] != "garden" || zones[1] != "home" {
		t.Errorf("expected sorted overlapping zones, got %v", zones)
	}

	tr.Exit("user-1", "garden")
	if !tr.Contains("user-1", "home") {
		t.Error("leaving one zone must not clear the others")
	}
}

func TestEnterIgnoresEmptyValues(t *testing.T) {
	tr := NewTracker()
	tr.Enter("", "home")
	tr.Enter("user-1", "")
	if tr.Contains("", "home") || tr.Contains("user-1", "") {
		t.Error("empty identifiers must not be tracked")
	}
}

func TestHandleLocationEvent(t *testing.T) {
	tr := NewTracker()

	if err := tr.HandleLocationEvent("user-1", []byte(`{"zone":"home","event":"enter"}`)); err != nil {
		t.Fatalf("enter event failed: %v", err)
	}
	if !tr.Contains("user-1", "home") {
		t.Error("expected enter applied")
	}

	if err := tr.HandleLocationEvent("user-1", []byte(`{"zone":"home","event":"exit"}`)); err != nil {
		t.Fatalf("exit event failed: %v", err)
	}
	if tr.Contains("user-1", "home") {
		t.Error("expected exit applied")
	}

	if err := tr.HandleLocationEvent("user-1", []byte(`{"zone":"home","event":"teleport"}`)); err == nil {
		t.Error("expected error for unknown event kind")
	}
	if err := tr.HandleLocationEvent("user-1", []byte(`{"event":"enter"}`)); err == nil {
		t.Error("expected error for missing zone")
	}
	if err := tr.HandleLocationEvent("user-1", []byte("{bad")); err == nil {
		t.Error("expected error for malformed payload")
	}
}
