package location

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// Logger defines the logging interface used by the tracker.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// Event is the wire format of a presence event on
// hearth/event/location/{userId}.
type Event struct {
	Zone  string `json:"zone"`
	Event string `json:"event"` // "enter" or "exit"
}

// Tracker maintains each user's current zone memberships from presence
// events. It answers the automation engine's geofence queries: a location
// condition holds while its user is inside the named zone.
//
// Zone membership is not exclusive; overlapping zones ("home" containing
// "garden") can both be occupied at once.
//
// Thread Safety: all methods are safe for concurrent use.
type Tracker struct {
	mu     sync.RWMutex
	zones  map[string]map[string]struct{} // userID -> occupied zones
	logger Logger
}

// NewTracker creates an empty presence tracker.
func NewTracker() *Tracker {
	return &Tracker{
		zones:  make(map[string]map[string]struct{}),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the tracker.
func (t *Tracker) SetLogger(logger Logger) {
	if logger != nil {
		t.logger = logger
	}
}

// Enter records a user entering a zone.
func (t *Tracker) Enter(userID, zone string) {
	if userID == "" || zone == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.zones[userID] == nil {
		t.zones[userID] = make(map[string]struct{})
	}
	t.zones[userID][zone] = struct{}{}
	t.logger.Debug("zone entered", "user_id", userID, "zone", zone)
}

// Exit records a user leaving a zone.
func (t *Tracker) Exit(userID, zone string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	set, ok := t.zones[userID]
	if !ok {
		return
	}
	delete(set, zone)
	if len(set) == 0 {
		delete(t.zones, userID)
	}
	t.logger.Debug("zone exited", "user_id", userID, "zone", zone)
}

// Contains reports whether a user is currently inside a zone.
// Implements the automation engine's geofence interface.
func (t *Tracker) Contains(userID, zone string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.zones[userID][zone]
	return ok
}

// Zones returns a sorted snapshot of the zones a user occupies.
func (t *Tracker) Zones(userID string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	set := t.zones[userID]
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for zone := range set {
		out = append(out, zone)
	}
	sort.Strings(out)
	return out
}

// HandleLocationEvent applies a presence event received over MQTT.
func (t *Tracker) HandleLocationEvent(userID string, payload []byte) error {
	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return fmt.Errorf("decoding location event: %w", err)
	}
	if ev.Zone == "" {
		return fmt.Errorf("location event missing zone")
	}

	switch ev.Event {
	case "enter":
		t.Enter(userID, ev.Zone)
	case "exit":
		t.Exit(userID, ev.Zone)
	default:
		return fmt.Errorf("unknown location event %q", ev.Event)
	}
	return nil
}
