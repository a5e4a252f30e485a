package knx

import (
	"encoding/json"
	"fmt"
)

// DeviceConfig is one flat device record from a room configuration.
//
// Records carry "name" and "type" plus type-specific group address fields
// ("address", "state_address", ...). Fields a type does not recognize are
// kept so stored configurations round-trip unchanged.
type DeviceConfig struct {
	Name string
	Type DeviceType

	// Fields holds every record key except name and type, including
	// extension fields from other tooling.
	Fields map[string]any
}

// UnmarshalJSON decodes a flat device record, splitting name/type from the
// remaining fields.
func (c *DeviceConfig) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	name, _ := raw["name"].(string)
	typ, _ := raw["type"].(string)
	delete(raw, "name")
	delete(raw, "type")

	c.Name = name
	c.Type = DeviceType(typ)
	c.Fields = raw
	return nil
}

// MarshalJSON re-emits the flat record, extension fields included.
func (c DeviceConfig) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(c.Fields)+2)
	for k, v := range c.Fields {
		out[k] = v
	}
	out["name"] = c.Name
	out["type"] = string(c.Type)
	return json.Marshal(out)
}

// Address returns the group address stored under the given field.
// Returns ErrMissingAddress when the field is absent or empty.
func (c DeviceConfig) Address(field string) (GroupAddress, error) {
	s, ok := c.Fields[field].(string)
	if !ok || s == "" {
		return GroupAddress{}, fmt.Errorf("%w: device %q needs %q", ErrMissingAddress, c.Name, field)
	}
	return ParseGroupAddress(s)
}

// OptionalAddress returns the group address under the given field, or the
// zero address when the field is absent. A present but malformed value is
// an error.
func (c DeviceConfig) OptionalAddress(field string) (GroupAddress, error) {
	s, ok := c.Fields[field].(string)
	if !ok || s == "" {
		return GroupAddress{}, nil
	}
	return ParseGroupAddress(s)
}

// RoomConfig describes one room: its gateway endpoint and device records.
type RoomConfig struct {
	RoomID         string         `json:"room_id"`
	GatewayAddress string         `json:"gateway_address"`
	Devices        []DeviceConfig `json:"devices"`
}

// Validate checks structural requirements before a room is built.
func (c RoomConfig) Validate() error {
	if c.RoomID == "" {
		return fmt.Errorf("room config: room_id is required")
	}
	if c.GatewayAddress == "" {
		return fmt.Errorf("room config %q: gateway_address is required", c.RoomID)
	}
	seen := make(map[string]struct{}, len(c.Devices))
	for _, d := range c.Devices {
		if d.Name == "" {
			return fmt.Errorf("room config %q: device name is required", c.RoomID)
		}
		if _, dup := seen[d.Name]; dup {
			return fmt.Errorf("room config %q: duplicate device name %q", c.RoomID, d.Name)
		}
		seen[d.Name] = struct{}{}
	}
	return nil
}

// NewDevice instantiates a device model from its record.
//
// Returns ErrUnsupportedDeviceType for tags outside the supported set and
// ErrMissingAddress / ErrInvalidGroupAddress for bad address fields.
func NewDevice(cfg DeviceConfig, bus Sender) (Device, error) {

	switch cfg.Type {
	case TypeSwitch:
		addr, err := cfg.Address("address")
		if err != nil {
			return nil, err
		}
		state, err := cfg.OptionalAddress("state_address")
		if err != nil {
			return nil, err
		}
		return &Switch{baseDevice: baseDevice{name: cfg.Name, typ: cfg.Type, bus: bus}, Address: addr, StateAddress: state}, nil

	case TypeLight:
		sw, err := cfg.Address("switch_address")
		if err != nil {
			return nil, err
		}
		swState, err := cfg.OptionalAddress("switch_state_address")
		if err != nil {
			return nil, err
		}
		br, err := cfg.OptionalAddress("brightness_address")
		if err != nil {
			return nil, err
		}
		brState, err := cfg.OptionalAddress("brightness_state_address")
		if err != nil {
			return nil, err
		}
		return &Light{
			baseDevice:             baseDevice{name: cfg.Name, typ: cfg.Type, bus: bus},
			SwitchAddress:          sw,
			SwitchStateAddress:     swState,
			BrightnessAddress:      br,
			BrightnessStateAddress: brState,
		}, nil

	case TypeSensor:
		addr, err := cfg.Address("address")
		if err != nil {
			return nil, err
		}
		return &Sensor{baseDevice: baseDevice{name: cfg.Name, typ: cfg.Type, bus: bus}, Address: addr}, nil

	case TypeBinarySensor:
		addr, err := cfg.Address("address")
		if err != nil {
			return nil, err
		}
		return &BinarySensor{baseDevice: baseDevice{name: cfg.Name, typ: cfg.Type, bus: bus}, Address: addr}, nil

	case TypeNumericValue:
		addr, err := cfg.Address("address")
		if err != nil {
			return nil, err
		}
		return &NumericValue{baseDevice: baseDevice{name: cfg.Name, typ: cfg.Type, bus: bus}, Address: addr}, nil

	case TypeClimate:
		temp, err := cfg.Address("temperature_address")
		if err != nil {
			return nil, err
		}
		setpoint, err := cfg.OptionalAddress("setpoint_address")
		if err != nil {
			return nil, err
		}
		setpointState, err := cfg.OptionalAddress("setpoint_state_address")
		if err != nil {
			return nil, err
		}
		return &Climate{
			baseDevice:           baseDevice{name: cfg.Name, typ: cfg.Type, bus: bus},
			TemperatureAddress:   temp,
			SetpointAddress:      setpoint,
			SetpointStateAddress: setpointState,
		}, nil

	case TypeCover:
		upDown, err := cfg.Address("up_down_address")
		if err != nil {
			return nil, err
		}
		pos, err := cfg.OptionalAddress("position_address")
		if err != nil {
			return nil, err
		}
		posState, err := cfg.OptionalAddress("position_state_address")
		if err != nil {
			return nil, err
		}
		return &Cover{
			baseDevice:           baseDevice{name: cfg.Name, typ: cfg.Type, bus: bus},
			UpDownAddress:        upDown,
			PositionAddress:      pos,
			PositionStateAddress: posState,
		}, nil

	case TypeFan:
		speed, err := cfg.Address("speed_address")
		if err != nil {
			return nil, err
		}
		speedState, err := cfg.OptionalAddress("speed_state_address")
		if err != nil {
			return nil, err
		}
		return &Fan{baseDevice: baseDevice{name: cfg.Name, typ: cfg.Type, bus: bus}, SpeedAddress: speed, SpeedStateAddress: speedState}, nil

	case TypeScene:
		addr, err := cfg.Address("address")
		if err != nil {
			return nil, err
		}
		return &Scene{baseDevice: baseDevice{name: cfg.Name, typ: cfg.Type, bus: bus}, Address: addr}, nil

	default:
		return nil, fmt.Errorf("%w: %q (device %q)", ErrUnsupportedDeviceType, cfg.Type, cfg.Name)
	}
}
