package mqtt

import (
	"fmt"
	"strings"
)

// Topic prefixes for the fleet MQTT namespace.
//
// State and command topics follow the two-level scheme
// knxfleet/{category}/{room}/{device}, so a broker-side consumer can
// filter on either the room or the device with a single wildcard.
const (
	// TopicPrefix is the base for all fleet topics.
	TopicPrefix = "knxfleet"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "knxfleet/system"
)

// Topics provides builders for fleet MQTT topics.
// Using these helpers keeps topic naming consistent across the codebase.
//
//	topics := mqtt.Topics{}
//	stateTopic := topics.DeviceState("living-room", "ceiling-light")
//	// Returns: "knxfleet/state/living-room/ceiling-light"
type Topics struct{}

// DeviceState returns the retained state topic for a device.
//
// Example: knxfleet/state/living-room/ceiling-light
func (Topics) DeviceState(roomID, device string) string {
	return fmt.Sprintf("%s/state/%s/%s", TopicPrefix, roomID, device)
}

// DeviceCommand returns the command topic for a device.
//
// Example: knxfleet/command/living-room/ceiling-light
func (Topics) DeviceCommand(roomID, device string) string {
	return fmt.Sprintf("%s/command/%s/%s", TopicPrefix, roomID, device)
}

// SystemStatus returns the service status topic. The client's Last Will
// and online announcements are published here, retained.
//
// Example: knxfleet/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// AllDeviceCommands returns a pattern matching all device command topics.
//
// Pattern: knxfleet/command/+/+
func (Topics) AllDeviceCommands() string {
	return fmt.Sprintf("%s/command/+/+", TopicPrefix)
}

// AllDeviceStates returns a pattern matching all device state topics.
//
// Pattern: knxfleet/state/+/+
func (Topics) AllDeviceStates() string {
	return fmt.Sprintf("%s/state/+/+", TopicPrefix)
}

// ParseDeviceCommand extracts the room and device from a command topic.
// Returns ok=false if the topic is not a well-formed device command topic.
func (Topics) ParseDeviceCommand(topic string) (roomID, device string, ok bool) {
	parts := strings.Split(topic, "/")
	if len(parts) != 4 || parts[0] != TopicPrefix || parts[1] != "command" {
		return "", "", false
	}
	if parts[2] == "" || parts[3] == "" {
		return "", "", false
	}
	return parts[2], parts[3], true
}
