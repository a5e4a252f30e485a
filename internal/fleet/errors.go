package fleet

import "errors"

// Domain errors for the fleet package.
var (
	// ErrRoomNotFound is returned when an operation names a room that is
	// not in the registry.
	ErrRoomNotFound = errors.New("fleet: room not found")

	// ErrDeviceNotFound is returned when an operation names a device the
	// room does not own.
	ErrDeviceNotFound = errors.New("fleet: device not found")

	// ErrRoomUnreachable is returned when a room's gateway cannot be
	// reached during initialization.
	ErrRoomUnreachable = errors.New("fleet: room gateway unreachable")

	// ErrNotConnected is returned when an operation needs a live room
	// connection but the room is disconnected.
	ErrNotConnected = errors.New("fleet: room not connected")

	// ErrUnknownAction is returned when a command names an action the
	// target device type does not support.
	ErrUnknownAction = errors.New("fleet: unknown action for device type")

	// ErrInvalidValue is returned when a command value has the wrong type
	// for the requested action.
	ErrInvalidValue = errors.New("fleet: invalid command value")
)
