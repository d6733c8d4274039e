package mqtt

import "fmt"

// Topic structure constants.
const (
	// topicPrefix is the root namespace for all Hearth topics.
	topicPrefix = "hearth"
)

// Topics provides type-safe builders for the Hearth MQTT topic hierarchy.
//
// Topic structure:
//
//	hearth/event/{type}/{key}          - inbound events (device, sensor, location, weather)
//	hearth/command/{protocol}/{device} - outbound device commands
//	hearth/engine/event/{name}         - engine lifecycle events (conflicts, executions)
//	hearth/system/status               - online/offline status (retained, LWT)
//
// Usage:
//
//	topics := mqtt.Topics{}
//	client.Subscribe(topics.AllEvents(), 1, handler)
//	client.Publish(topics.DeviceCommand("zigbee", "light-living"), payload, 1, false)
type Topics struct{}

// SystemStatus returns the system status topic (retained online/offline messages).
func (Topics) SystemStatus() string {
	return topicPrefix + "/system/status"
}

// DeviceEvent returns the inbound event topic for a device state change.
func (Topics) DeviceEvent(deviceID string) string {
	return fmt.Sprintf("%s/event/device/%s", topicPrefix, deviceID)
}

// SensorEvent returns the inbound event topic for a sensor reading.
func (Topics) SensorEvent(sensorID string) string {
	return fmt.Sprintf("%s/event/sensor/%s", topicPrefix, sensorID)
}

// LocationEvent returns the inbound event topic for a user location update.
func (Topics) LocationEvent(userID string) string {
	return fmt.Sprintf("%s/event/location/%s", topicPrefix, userID)
}

// WeatherEvent returns the inbound event topic for a weather update.
func (Topics) WeatherEvent(homeID string) string {
	return fmt.Sprintf("%s/event/weather/%s", topicPrefix, homeID)
}

// AllEvents returns a wildcard pattern matching every inbound event topic.
func (Topics) AllEvents() string {
	return topicPrefix + "/event/+/+"
}

// DeviceCommand returns the outbound command topic for a device.
//
// Parameters:
//   - protocol: Transport protocol handling the device (e.g., "zigbee", "knx", "zwave")
//   - deviceID: Unique device identifier
func (Topics) DeviceCommand(protocol, deviceID string) string {
	return fmt.Sprintf("%s/command/%s/%s", topicPrefix, protocol, deviceID)
}

// EngineEvent returns the topic for engine lifecycle events.
//
// Event names: conflict.detected, conflict.resolved, conflict.user_input_required,
// execution.started, execution.completed, execution.failed.
func (Topics) EngineEvent(name string) string {
	return fmt.Sprintf("%s/engine/event/%s", topicPrefix, name)
}
