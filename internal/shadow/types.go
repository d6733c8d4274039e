package shadow

import "time"

// Shadow is the reported vs. desired state record for a single device.
//
// Reported holds the last state the device told us about itself; Desired
// holds the state automations want it to be in. The delta between them is
// the set of desired attributes the device has not yet confirmed.
type Shadow struct {
	DeviceID string `json:"device_id"`

	// Reported is the actual device state, attribute -> value.
	Reported map[string]any `json:"reported"`

	// Desired is the intended device state, attribute -> value.
	Desired map[string]any `json:"desired"`

	// Metadata records when each attribute was last written, per side.
	Metadata Metadata `json:"metadata"`

	// Version increments on every mutation to either side, including
	// empty partial updates. Strictly monotonic per device.
	Version int64 `json:"version"`

	// Timestamp is when the shadow was last mutated.
	Timestamp time.Time `json:"timestamp"`
}

// Metadata holds per-attribute update timestamps for both state maps.
type Metadata struct {
	Reported map[string]AttributeMeta `json:"reported"`
	Desired  map[string]AttributeMeta `json:"desired"`
}

// AttributeMeta records when a single attribute was last written.
type AttributeMeta struct {
	Timestamp time.Time `json:"timestamp"`
}

// DeepCopy creates a complete independent copy of the Shadow.
// Callers can safely modify the copy without affecting the store.
func (s *Shadow) DeepCopy() *Shadow {
	if s == nil {
		return nil
	}

	cpy := *s
	cpy.Reported = deepCopyMap(s.Reported)
	cpy.Desired = deepCopyMap(s.Desired)
	cpy.Metadata = Metadata{
		Reported: copyMetaMap(s.Metadata.Reported),
		Desired:  copyMetaMap(s.Metadata.Desired),
	}
	return &cpy
}

func copyMetaMap(m map[string]AttributeMeta) map[string]AttributeMeta {
	if m == nil {
		return nil
	}
	cpy := make(map[string]AttributeMeta, len(m))
	for k, v := range m {
		cpy[k] = v
	}
	return cpy
}

// deepCopyMap creates a deep copy of a map[string]any.
// Nested maps and slices are recursively copied.
func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	cpy := make(map[string]any, len(m))
	for k, v := range m {
		cpy[k] = deepCopyValue(v)
	}
	return cpy
}

// deepCopyValue recursively copies a value, handling nested maps and slices.
func deepCopyValue(v any) any {
	if v == nil {
		return nil
	}
	switch val := v.(type) {
	case map[string]any:
		return deepCopyMap(val)
	case []any:
		cpy := make([]any, len(val))
		for i, elem := range val {
			cpy[i] = deepCopyValue(elem)
		}
		return cpy
	default:
		return v // Primitives are immutable
	}
}
