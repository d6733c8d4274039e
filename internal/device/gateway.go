package device

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hearthd/hearth-core/internal/infrastructure/mqtt"
	"github.com/hearthd/hearth-core/internal/shadow"
)

// ErrDeviceNotFound is returned when a device ID is not registered.
var ErrDeviceNotFound = errors.New("device: not found")

// Publisher sends a payload to an MQTT topic.
// Satisfied by the mqtt client.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// Logger defines the logging interface used by the gateway.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// Gateway is Hearth's device boundary.
//
// Outbound, it publishes commands to the per-protocol command topics that
// the protocol bridges subscribe to. Inbound, it folds reported device
// events into the shadow store, which is also where condition evaluation
// reads current state from.
//
// Thread Safety: all methods are safe for concurrent use.
type Gateway struct {
	publisher Publisher
	shadows   *shadow.Store
	logger    Logger

	mu      sync.RWMutex
	devices map[string]Device
}

// NewGateway creates a device gateway.
func NewGateway(publisher Publisher, shadows *shadow.Store) *Gateway {
	return &Gateway{
		publisher: publisher,
		shadows:   shadows,
		logger:    noopLogger{},
		devices:   make(map[string]Device),
	}
}

// SetLogger sets the logger for the gateway.
func (g *Gateway) SetLogger(logger Logger) {
	if logger != nil {
		g.logger = logger
	}
}

// RegisterDevice adds or replaces a device in the gateway's catalogue.
func (g *Gateway) RegisterDevice(d Device) {
	g.mu.Lock()
	g.devices[d.ID] = d
	g.mu.Unlock()
}

// RemoveDevice forgets a device and drops its shadow.
func (g *Gateway) RemoveDevice(id string) {
	g.mu.Lock()
	delete(g.devices, id)
	g.mu.Unlock()
	g.shadows.Delete(id)
}

// Device returns a registered device by ID.
func (g *Gateway) Device(id string) (Device, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	d, ok := g.devices[id]
	if !ok {
		return Device{}, ErrDeviceNotFound
	}
	return d, nil
}

// Devices returns all registered devices sorted by ID.
func (g *Gateway) Devices() []Device {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]Device, 0, len(g.devices))
	for _, d := range g.devices {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SendCommand publishes a command to a device's command topic.
// Implements the automation engine's device dispatch.
func (g *Gateway) SendCommand(_ context.Context, deviceID, command string, parameters map[string]any) error {
	d, err := g.Device(deviceID)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(Command{
		Command:    command,
		Parameters: parameters,
		IssuedAt:   time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshalling command: %w", err)
	}

	topic := mqtt.Topics{}.DeviceCommand(string(d.Protocol), deviceID)
	if err := g.publisher.Publish(topic, payload, 1, false); err != nil {
		return fmt.Errorf("publishing command to %s: %w", topic, err)
	}

	g.logger.Debug("device command sent",
		"device_id", deviceID,
		"command", command,
		"topic", topic,
	)
	return nil
}

// GetDeviceState returns a device's reported attributes from its shadow.
// Implements the automation engine's condition state source.
func (g *Gateway) GetDeviceState(_ context.Context, deviceID string) (map[string]any, error) {
	if _, err := g.Device(deviceID); err != nil {
		return nil, err
	}
	return g.shadows.Get(deviceID).Reported, nil
}

// HandleDeviceEvent folds an inbound device event into the shadow store.
// The payload is the reported attribute partial; unknown devices are
// tracked shadow-only so late registration loses nothing.
func (g *Gateway) HandleDeviceEvent(deviceID string, payload []byte) error {
	var partial map[string]any
	if err := json.Unmarshal(payload, &partial); err != nil {
		return fmt.Errorf("decoding device event: %w", err)
	}

	g.shadows.UpdateReported(deviceID, partial)

	g.mu.Lock()
	if d, ok := g.devices[deviceID]; ok {
		d.LastSeen = time.Now().UTC()
		g.devices[deviceID] = d
	}
	g.mu.Unlock()

	return nil
}
