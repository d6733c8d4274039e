package device

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/hearthd/hearth-core/internal/shadow"
)

// mockPublisher captures published MQTT messages.
type mockPublisher struct {
	mu       sync.Mutex
	messages []published
	err      error
}

type published struct {
	Topic   string
	Payload []byte
}

func (m *mockPublisher) Publish(topic string, payload []byte, _ byte, _ bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.messages = append(m.messages, published{Topic: topic, Payload: payload})
	return nil
}

func fixture() (*Gateway, *mockPublisher, *shadow.Store) {
	pub := &mockPublisher{}
	shadows := shadow.NewStore()
	gw := NewGateway(pub, shadows)
	gw.RegisterDevice(Device{ID: "light-01", Name: "Hall Light", Protocol: ProtocolZigbee})
	return gw, pub, shadows
}

func TestSendCommand(t *testing.T) {
	gw, pub, _ := fixture()

	err := gw.SendCommand(context.Background(), "light-01", "setBrightness", map[string]any{"brightness": 80})
	if err != nil {
		t.Fatalf("SendCommand failed: %v", err)
	}

	if len(pub.messages) != 1 {
		t.Fatalf("expected 1 publish, got %d", len(pub.messages))
	}
	msg := pub.messages[0]
	if msg.Topic != "hearth/command/zigbee/light-01" {
		t.Errorf("unexpected topic %q", msg.Topic)
	}

	var cmd Command
	if err := json.Unmarshal(msg.Payload, &cmd); err != nil {
		t.Fatalf("payload not valid JSON: %v", err)
	}
	if cmd.Command != "setBrightness" || cmd.Parameters["brightness"] != 80.0 {
		t.Errorf("unexpected command payload %+v", cmd)
	}
	if cmd.IssuedAt.IsZero() {
		t.Error("expected issued_at stamped")
	}
}

func TestSendCommandUnknownDevice(t *testing.T) {
	gw, _, _ := fixture()
	err := gw.SendCommand(context.Background(), "ghost", "turnOn", nil)
	if !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("expected ErrDeviceNotFound, got %v", err)
	}
}

func TestSendCommandPublishFailure(t *testing.T) {
	gw, pub, _ := fixture()
	pub.err = errors.New("broker down")

	if err := gw.SendCommand(context.Background(), "light-01", "turnOn", nil); err == nil {
		t.Error("expected publish failure to surface")
	}
}

func TestHandleDeviceEventUpdatesShadow(t *testing.T) {
	gw, _, shadows := fixture()

	if err := gw.HandleDeviceEvent("light-01", []byte(`{"on":true,"brightness":55}`)); err != nil {
		t.Fatalf("HandleDeviceEvent failed: %v", err)
	}

	state, err := gw.GetDeviceState(context.Background(), "light-01")
	if err != nil {
		t.Fatalf("GetDeviceState failed: %v", err)
	}
	if state["on"] != true || state["brightness"] != 55.0 {
		t.Errorf("unexpected state %v", state)
	}
	if shadows.Get("light-01").Version == 0 {
		t.Error("expected shadow version to advance")
	}

	d, err := gw.Device("light-01")
	if err != nil {
		t.Fatalf("Device failed: %v", err)
	}
	if d.LastSeen.IsZero() {
		t.Error("expected last_seen stamped")
	}
}

func TestHandleDeviceEventUnregisteredDevice(t *testing.T) {
	gw, _, shadows := fixture()

	// Events for unknown devices still feed the shadow store.
	if err := gw.HandleDeviceEvent("new-sensor", []byte(`{"lux":120}`)); err != nil {
		t.Fatalf("HandleDeviceEvent failed: %v", err)
	}
	if shadows.Get("new-sensor").Reported["lux"] != 120.0 {
		t.Error("expected shadow tracked for unregistered device")
	}

	if err := gw.HandleDeviceEvent("light-01", []byte("{bad")); err == nil {
		t.Error("expected error for malformed payload")
	}
}

func TestRemoveDevice(t *testing.T) {
	gw, _, shadows := fixture()

	if err := gw.HandleDeviceEvent("light-01", []byte(`{"on":true}`)); err != nil {
		t.Fatalf("HandleDeviceEvent failed: %v", err)
	}
	gw.RemoveDevice("light-01")

	if _, err := gw.Device("light-01"); !errors.Is(err, ErrDeviceNotFound) {
		t.Error("expected device removed")
	}
	if shadows.Count() != 0 {
		t.Error("expected shadow dropped with device")
	}
}

func TestDevicesSorted(t *testing.T) {
	gw, _, _ := fixture()
	gw.RegisterDevice(Device{ID: "a-blind", Protocol: ProtocolZWave})

	devices := gw.Devices()
	if len(devices) != 2 || devices[0].ID != "a-blind" || devices[1].ID != "light-01" {
		t.Errorf("expected sorted devices, got %+v", devices)
	}
}
