package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteShadowField records a single numeric shadow field change.
//
// Called by the shadow store whenever a reported field carries a numeric
// value, so dashboards can chart device state over time. Non-numeric fields
// are not recorded here.
//
// Parameters:
//   - deviceID: Device whose shadow changed
//   - field: Top-level shadow field name (e.g., "temperature", "brightness")
//   - value: The numeric value reported
//   - version: Shadow document version after the update
func (c *Client) WriteShadowField(deviceID string, field string, value float64, version int64) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"shadow_state",
		map[string]string{
			"device_id": deviceID,
			"field":     field,
		},
		map[string]interface{}{
			"value":   value,
			"version": version,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteExecutionMetric records the outcome of an automation execution.
//
// Parameters:
//   - automationID: The automation that ran
//   - success: Whether all actions completed
//   - durationMS: Wall-clock execution time in milliseconds
func (c *Client) WriteExecutionMetric(automationID string, success bool, durationMS float64) {
	if !c.IsConnected() {
		return
	}

	result := "failure"
	if success {
		result = "success"
	}

	point := write.NewPoint(
		"automation_executions",
		map[string]string{
			"automation_id": automationID,
			"result":        result,
		},
		map[string]interface{}{
			"duration_ms": durationMS,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteConflictMetric records a detected conflict between automations.
//
// Parameters:
//   - conflictType: Detection category ("device_conflict", "state_conflict", "timing_conflict")
//   - severity: Assessed severity ("low", "medium", "high")
//   - automationCount: Number of automations involved
func (c *Client) WriteConflictMetric(conflictType string, severity string, automationCount int) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"conflicts",
		map[string]string{
			"type":     conflictType,
			"severity": severity,
		},
		map[string]interface{}{
			"automation_count": automationCount,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Tags should stay low cardinality; fields carry the actual data.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}

// WritePointWithTime writes a custom point with a specific timestamp.
//
// Use when the timestamp is not "now", e.g. replayed or delayed data.
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, timestamp)
	c.writeAPI.WritePoint(point)
}
