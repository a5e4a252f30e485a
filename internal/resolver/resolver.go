package resolver

import (
	"fmt"

	"github.com/fernwood-systems/knxfleet/internal/knx"
)

// Func builds a state snapshot for one device. Snapshot values may include
// knx.GroupAddress; serialization to canonical strings happens at the
// delivery boundary, not here.
type Func func(d knx.Device) map[string]any

// Registry maps device type tags to snapshot functions. The table is built
// once at construction and never mutated, so lookups need no locking.
type Registry struct {
	funcs map[knx.DeviceType]Func
}

// NewRegistry builds the registry with a resolver for every supported
// device type.
func NewRegistry() *Registry {
	return &Registry{
		funcs: map[knx.DeviceType]Func{
			knx.TypeSwitch:       resolveSwitch,
			knx.TypeLight:        resolveLight,
			knx.TypeSensor:       resolveSensor,
			knx.TypeBinarySensor: resolveBinarySensor,
			knx.TypeNumericValue: resolveNumericValue,
			knx.TypeClimate:      resolveClimate,
			knx.TypeCover:        resolveCover,
			knx.TypeFan:          resolveFan,
			knx.TypeScene:        resolveScene,
		},
	}
}

// Resolve returns the state snapshot for a device. A device whose type has
// no registered resolver yields a placeholder snapshot instead of an error
// so one odd device never aborts a room-wide state dump.
func (r *Registry) Resolve(d knx.Device) map[string]any {
	fn, ok := r.funcs[d.Type()]
	if !ok {
		return map[string]any{
			"warning": fmt.Sprintf("no resolver for %s", d.Type()),
		}
	}
	return fn(d)
}

// Has reports whether a resolver is registered for the given tag.
func (r *Registry) Has(t knx.DeviceType) bool {
	_, ok := r.funcs[t]
	return ok
}

// known returns the value when the flag is set, nil otherwise. Snapshots
// use nil for state that has not been observed on the bus yet.
func known[T any](v T, ok bool) any {
	if !ok {
		return nil
	}
	return v
}

func resolveSwitch(d knx.Device) map[string]any {
	sw, ok := d.(*knx.Switch)
	if !ok {
		return typeMismatch(d)
	}
	on, haveState := sw.State()

	snap := map[string]any{
		"type":    string(knx.TypeSwitch),
		"address": sw.Address,
		"on":      known(on, haveState),
	}
	if !sw.StateAddress.IsZero() {
		snap["state_address"] = sw.StateAddress
	}
	return snap
}

func resolveLight(d knx.Device) map[string]any {
	l, ok := d.(*knx.Light)
	if !ok {
		return typeMismatch(d)
	}
	on, brightness, haveState := l.State()

	snap := map[string]any{
		"type":           string(knx.TypeLight),
		"switch_address": l.SwitchAddress,
		"dimmable":       l.Dimmable(),
		"on":             known(on, haveState),
	}
	if l.Dimmable() {
		snap["brightness_address"] = l.BrightnessAddress
		snap["brightness"] = known(brightness, haveState)
	}
	return snap
}

func resolveSensor(d knx.Device) map[string]any {
	s, ok := d.(*knx.Sensor)
	if !ok {
		return typeMismatch(d)
	}
	v, haveValue := s.Value()

	return map[string]any{
		"type":    string(knx.TypeSensor),
		"address": s.Address,
		"value":   known(v, haveValue),
	}
}

func resolveBinarySensor(d knx.Device) map[string]any {
	b, ok := d.(*knx.BinarySensor)
	if !ok {
		return typeMismatch(d)
	}
	on, haveState := b.State()

	return map[string]any{
		"type":    string(knx.TypeBinarySensor),
		"address": b.Address,
		"on":      known(on, haveState),
	}
}

func resolveNumericValue(d knx.Device) map[string]any {
	n, ok := d.(*knx.NumericValue)
	if !ok {
		return typeMismatch(d)
	}
	v, haveValue := n.Value()

	return map[string]any{
		"type":    string(knx.TypeNumericValue),
		"address": n.Address,
		"value":   known(v, haveValue),
	}
}

func resolveClimate(d knx.Device) map[string]any {
	c, ok := d.(*knx.Climate)
	if !ok {
		return typeMismatch(d)
	}
	temp, tempKnown, setpoint, setpointKnown := c.State()

	snap := map[string]any{
		"type":                string(knx.TypeClimate),
		"temperature_address": c.TemperatureAddress,
		"temperature":         known(temp, tempKnown),
	}
	if !c.SetpointAddress.IsZero() {
		snap["setpoint_address"] = c.SetpointAddress
		snap["setpoint"] = known(setpoint, setpointKnown)
	}
	return snap
}

func resolveCover(d knx.Device) map[string]any {
	c, ok := d.(*knx.Cover)
	if !ok {
		return typeMismatch(d)
	}
	pos, haveState := c.Position()

	snap := map[string]any{
		"type":            string(knx.TypeCover),
		"up_down_address": c.UpDownAddress,
	}
	if !c.PositionAddress.IsZero() {
		snap["position_address"] = c.PositionAddress
	}
	if !c.PositionStateAddress.IsZero() || !c.PositionAddress.IsZero() {
		snap["position"] = known(pos, haveState)
	}
	return snap
}

func resolveFan(d knx.Device) map[string]any {
	f, ok := d.(*knx.Fan)
	if !ok {
		return typeMismatch(d)
	}
	speed, haveState := f.Speed()

	return map[string]any{
		"type":          string(knx.TypeFan),
		"speed_address": f.SpeedAddress,
		"speed":         known(speed, haveState),
		"on":            known(speed > 0, haveState),
	}
}

func resolveScene(d knx.Device) map[string]any {
	s, ok := d.(*knx.Scene)
	if !ok {
		return typeMismatch(d)
	}
	last, haveState := s.LastScene()

	return map[string]any{
		"type":       string(knx.TypeScene),
		"address":    s.Address,
		"last_scene": known(last, haveState),
	}
}

// typeMismatch covers a registered tag whose device is not the expected
// concrete model. It should not happen with devices built by knx.NewDevice.
func typeMismatch(d knx.Device) map[string]any {
	return map[string]any{
		"warning": fmt.Sprintf("unexpected model for %s", d.Type()),
	}
}
