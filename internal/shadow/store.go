package shadow

import (
	"reflect"
	"sync"
	"time"
)

// Logger is the minimal logging interface the store needs.
type Logger interface {
	Debug(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}

// Recorder receives numeric reported-state changes for history recording.
// Satisfied by the influxdb client; may be nil when history is disabled.
type Recorder interface {
	WriteShadowField(deviceID string, field string, value float64, version int64)
}

// Store holds device shadows in memory.
//
// Shadows are created lazily and idempotently on first touch (version 1,
// empty state maps). Every mutation, including an empty partial update,
// increments the version and refreshes the shadow timestamp.
//
// Thread Safety: all methods are safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	shadows map[string]*Shadow

	logger   Logger
	recorder Recorder
}

// NewStore creates an empty shadow store.
func NewStore() *Store {
	return &Store{
		shadows: make(map[string]*Shadow),
		logger:  noopLogger{},
	}
}

// SetLogger sets the logger for delta observability output.
func (s *Store) SetLogger(logger Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// SetRecorder wires a time-series recorder for numeric reported changes.
func (s *Store) SetRecorder(recorder Recorder) {
	s.recorder = recorder
}

// Get returns the shadow for a device, creating it if it does not exist.
// The returned shadow is a deep copy; callers can safely modify it.
func (s *Store) Get(deviceID string) *Shadow {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getOrCreate(deviceID).DeepCopy()
}

// UpdateReported shallow-merges a partial state into the reported map.
//
// Per-field metadata timestamps are refreshed for every key in the partial,
// the version increments, and the current delta is recomputed and logged.
// Numeric fields are forwarded to the recorder when one is wired.
func (s *Store) UpdateReported(deviceID string, partial map[string]any) *Shadow {
	s.mu.Lock()
	shadow := s.getOrCreate(deviceID)
	now := time.Now().UTC()

	for k, v := range partial {
		shadow.Reported[k] = deepCopyValue(v)
		shadow.Metadata.Reported[k] = AttributeMeta{Timestamp: now}
	}
	shadow.Version++
	shadow.Timestamp = now

	delta := computeDelta(shadow)
	cpy := shadow.DeepCopy()
	s.mu.Unlock()

	s.logger.Debug("shadow reported state updated",
		"device_id", deviceID,
		"version", cpy.Version,
		"fields", len(partial),
		"delta_size", len(delta),
	)

	if s.recorder != nil {
		for k, v := range partial {
			if f, ok := toFloat(v); ok {
				s.recorder.WriteShadowField(deviceID, k, f, cpy.Version)
			}
		}
	}

	return cpy
}

// UpdateDesired shallow-merges a partial state into the desired map.
//
// Metadata and version semantics match UpdateReported; no delta is logged
// here since desired updates are the engine's own intent.
func (s *Store) UpdateDesired(deviceID string, partial map[string]any) *Shadow {
	s.mu.Lock()
	defer s.mu.Unlock()

	shadow := s.getOrCreate(deviceID)
	now := time.Now().UTC()

	for k, v := range partial {
		shadow.Desired[k] = deepCopyValue(v)
		shadow.Metadata.Desired[k] = AttributeMeta{Timestamp: now}
	}
	shadow.Version++
	shadow.Timestamp = now

	return shadow.DeepCopy()
}

// Delta returns the desired attributes the device has not yet confirmed:
// every desired key whose value deep-differs from the reported value.
//
// A device with no shadow yields an empty delta (and lazily creates the
// shadow, matching Get).
func (s *Store) Delta(deviceID string) map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()

	shadow := s.getOrCreate(deviceID)
	return computeDelta(shadow)
}

// Delete removes a device's shadow. Deleting a missing shadow is a no-op.
func (s *Store) Delete(deviceID string) {
	s.mu.Lock()
	delete(s.shadows, deviceID)
	s.mu.Unlock()
}

// Count returns the number of shadows in the store.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.shadows)
}

// getOrCreate returns the live shadow for a device, creating version 1 with
// empty maps on first touch. Caller must hold s.mu.
func (s *Store) getOrCreate(deviceID string) *Shadow {
	if shadow, ok := s.shadows[deviceID]; ok {
		return shadow
	}

	shadow := &Shadow{
		DeviceID: deviceID,
		Reported: make(map[string]any),
		Desired:  make(map[string]any),
		Metadata: Metadata{
			Reported: make(map[string]AttributeMeta),
			Desired:  make(map[string]AttributeMeta),
		},
		Version:   1,
		Timestamp: time.Now().UTC(),
	}
	s.shadows[deviceID] = shadow
	return shadow
}

// computeDelta returns deep copies of desired values that differ from the
// reported side. Caller must hold s.mu.
func computeDelta(shadow *Shadow) map[string]any {
	delta := make(map[string]any)
	for k, desired := range shadow.Desired {
		reported, ok := shadow.Reported[k]
		if !ok || !reflect.DeepEqual(desired, reported) {
			delta[k] = deepCopyValue(desired)
		}
	}
	return delta
}

// toFloat converts numeric JSON values to float64 for history recording.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
