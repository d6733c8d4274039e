// Package influxdb provides time-series recording for Hearth Core.
//
// It wraps influxdb-client-go with batched non-blocking writes for three
// measurement families:
//
//	shadow_state          - numeric device shadow field history
//	automation_executions - execution outcomes and durations
//	conflicts             - detected conflict counts by type and severity
//
// Writes never block the automation engine; points are buffered and flushed
// on an interval, and async write errors surface through SetOnError.
//
// InfluxDB is optional. When disabled in config, Connect returns ErrDisabled
// and the engine runs without history recording.
package influxdb
