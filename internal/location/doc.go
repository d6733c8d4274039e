// Package location tracks user presence for Hearth Core.
//
// Presence sources (phone apps, BLE beacons, router integrations) publish
// enter/exit events to hearth/event/location/{userId}. The Tracker folds
// them into per-user zone sets and serves the automation engine's
// geofence queries during condition evaluation.
package location
