// Package shadow implements the device shadow store for Hearth Core.
//
// A shadow is the durable "reported vs. desired" state record for a device:
// reported is what the device last told us, desired is what automations
// intend, and the delta is every desired attribute the device has not yet
// confirmed. The conflict resolver reads shadows to detect state conflicts;
// the engine writes desired state when device actions execute.
//
// Shadows are created lazily on first touch and versioned monotonically:
// every mutation to either side, including an empty partial update, bumps
// the version. Reported updates recompute and log the delta, and forward
// numeric fields to an optional time-series recorder.
//
// Usage:
//
//	store := shadow.NewStore()
//	store.UpdateReported("light-living", map[string]any{"on": true})
//	store.UpdateDesired("light-living", map[string]any{"on": true, "brightness": 80})
//	delta := store.Delta("light-living") // {"brightness": 80}
package shadow
