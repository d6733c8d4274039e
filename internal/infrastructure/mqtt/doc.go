// Package mqtt provides the MQTT transport layer for Hearth Core.
//
// It wraps paho.mqtt.golang with connection lifecycle management, tracked
// subscriptions that survive reconnects, Last Will and Testament for offline
// detection, and panic-isolated message handlers.
//
// Topic hierarchy (see Topics):
//
//	hearth/event/{type}/{key}          - inbound events feeding the automation engine
//	hearth/command/{protocol}/{device} - outbound device commands from executed actions
//	hearth/engine/event/{name}         - engine lifecycle events for external observers
//	hearth/system/status               - retained online/offline status
//
// Connection Management:
//
// The client auto-reconnects with exponential backoff. Subscriptions made via
// Subscribe are tracked and restored after every reconnect. On connect (and
// reconnect) an online status message is published; the broker publishes the
// LWT offline message on unexpected disconnect.
//
// Usage:
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return fmt.Errorf("mqtt connect: %w", err)
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.AllEvents(), 1, engine.HandleMessage)
package mqtt
