package fleet

import (
	"context"
	"fmt"

	"github.com/fernwood-systems/knxfleet/internal/knx"
)

// Command is a single device command request. The same shape arrives
// from the WebSocket control channel and from MQTT command topics.
type Command struct {
	Device string `json:"device"`
	Action string `json:"action"`
	Value  any    `json:"value,omitempty"`
}

// Execute dispatches a command to one of the room's devices.
//
// Supported actions per device type:
//
//	switch:        on, off
//	light:         on, off, brightness (value 0-100)
//	sensor:        read
//	numeric_value: set (value float)
//	climate:       setpoint (value float)
//	cover:         open, close, position (value 0-100)
//	fan:           speed (value 0-100), off
//	scene:         recall (value 0-63)
//
// Binary sensors accept no commands. Unknown device names return
// ErrDeviceNotFound; unsupported actions return ErrUnknownAction.
func (r *Room) Execute(ctx context.Context, cmd Command) error {
	dev, ok := r.DeviceByName(cmd.Device)
	if !ok {
		return fmt.Errorf("%w: %q", ErrDeviceNotFound, cmd.Device)
	}

	switch d := dev.(type) {
	case *knx.Switch:
		switch cmd.Action {
		case "on":
			return d.TurnOn(ctx)
		case "off":
			return d.TurnOff(ctx)
		}
	case *knx.Light:
		switch cmd.Action {
		case "on":
			return d.TurnOn(ctx)
		case "off":
			return d.TurnOff(ctx)
		case "brightness":
			v, err := floatValue(cmd.Value)
			if err != nil {
				return err
			}
			return d.SetBrightness(ctx, v)
		}
	case *knx.Sensor:
		if cmd.Action == "read" {
			return d.Read(ctx)
		}
	case *knx.NumericValue:
		if cmd.Action == "set" {
			v, err := floatValue(cmd.Value)
			if err != nil {
				return err
			}
			return d.SetValue(ctx, v)
		}
	case *knx.Climate:
		if cmd.Action == "setpoint" {
			v, err := floatValue(cmd.Value)
			if err != nil {
				return err
			}
			return d.SetSetpoint(ctx, v)
		}
	case *knx.Cover:
		switch cmd.Action {
		case "open":
			return d.Open(ctx)
		case "close":
			return d.Close(ctx)
		case "position":
			v, err := floatValue(cmd.Value)
			if err != nil {
				return err
			}
			return d.SetPosition(ctx, v)
		}
	case *knx.Fan:
		switch cmd.Action {
		case "speed":
			v, err := floatValue(cmd.Value)
			if err != nil {
				return err
			}
			return d.SetSpeed(ctx, v)
		case "off":
			return d.TurnOff(ctx)
		}
	case *knx.Scene:
		if cmd.Action == "recall" {
			v, err := floatValue(cmd.Value)
			if err != nil {
				return err
			}
			if v < 0 || v > 63 {
				return fmt.Errorf("%w: scene number %v out of range 0-63", ErrInvalidValue, v)
			}
			return d.Recall(ctx, uint8(v))
		}
	}

	return fmt.Errorf("%w: %q on %s", ErrUnknownAction, cmd.Action, dev.Type())
}

// floatValue coerces a decoded JSON command value to a float64.
func floatValue(v any) (float64, error) {
	switch val := v.(type) {
	case float64:
		return val, nil
	case int:
		return float64(val), nil
	case nil:
		return 0, fmt.Errorf("%w: value required", ErrInvalidValue)
	default:
		return 0, fmt.Errorf("%w: expected number, got %T", ErrInvalidValue, v)
	}
}
