package device

import "time"

// Device is a controllable or monitorable entity known to the gateway.
// Hearth does not own protocol bridges; it addresses devices over MQTT and
// the bridge for the device's protocol translates commands on the far side.
type Device struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Room     string   `json:"room,omitempty"`
	Protocol Protocol `json:"protocol"`

	// Capabilities advertise what commands the device accepts
	// (on_off, dim, colour, lock, temperature_set, ...).
	Capabilities []string `json:"capabilities,omitempty"`

	// LastSeen is the time of the device's most recent reported event.
	LastSeen time.Time `json:"last_seen,omitempty"`
}

// Protocol identifies the bridge a device's commands route through.
type Protocol string

const (
	ProtocolZigbee Protocol = "zigbee"
	ProtocolZWave  Protocol = "zwave"
	ProtocolWiFi   Protocol = "wifi"
	ProtocolMQTT   Protocol = "mqtt"
)

// Command is the wire format published to a device's command topic.
type Command struct {
	Command    string         `json:"command"`
	Parameters map[string]any `json:"parameters,omitempty"`
	IssuedAt   time.Time      `json:"issued_at"`
}
