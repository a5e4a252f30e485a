// Package mqtt provides the broker connection for the fleet's state
// mirror and command ingestion.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Retained state publishing under knxfleet/state/{room}/{device}
//   - Command subscription under knxfleet/command/+/+
//   - Last Will and Testament on knxfleet/system/status for offline detection
//
// Device state snapshots are mirrored to retained topics so integrations
// joining late immediately see the last known state of every device.
// Commands arriving on the command topics are dispatched to the same
// device command path the WebSocket control channel uses.
//
// Usage:
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	topic := mqtt.Topics{}.DeviceState("living-room", "ceiling-light")
//	client.PublishRetained(topic, payload)
package mqtt
