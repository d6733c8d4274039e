// Package device provides the device gateway for Hearth Core.
//
// Hearth does not speak device protocols itself. Protocol bridges
// (Zigbee, Z-Wave, WiFi) live outside the core and meet it on MQTT:
// bridges publish reported state to hearth/event/device/{deviceId}, and
// subscribe to hearth/command/{protocol}/{deviceId} for commands.
//
// The Gateway keeps the device catalogue, routes automation commands to
// the right command topic, and folds inbound events into the shadow
// store, which doubles as the state source for condition evaluation.
//
// # Usage
//
//	gw := device.NewGateway(mqttClient, shadows)
//	gw.RegisterDevice(device.Device{
//	    ID:       "light-living",
//	    Name:     "Living Room Light",
//	    Protocol: device.ProtocolZigbee,
//	})
//
//	// From the automation engine:
//	gw.SendCommand(ctx, "light-living", "setBrightness", map[string]any{"brightness": 80})
//
// # Thread Safety
//
// The Gateway is safe for concurrent use.
package device
