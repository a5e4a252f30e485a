package knx

import (
	"context"
	"sync"
)

// Sender sends group telegrams to the bus. *Gateway implements it; tests
// substitute a mock.
type Sender interface {
	Send(ctx context.Context, ga GroupAddress, data []byte) error
	SendRead(ctx context.Context, ga GroupAddress) error
}

// DeviceType is a device type tag from the supported set.
type DeviceType string

// Supported device type tags. The set is closed: records with any other
// tag are skipped at room initialization.
const (
	TypeSwitch       DeviceType = "switch"
	TypeLight        DeviceType = "light"
	TypeSensor       DeviceType = "sensor"
	TypeBinarySensor DeviceType = "binary_sensor"
	TypeNumericValue DeviceType = "numeric_value"
	TypeClimate      DeviceType = "climate"
	TypeCover        DeviceType = "cover"
	TypeFan          DeviceType = "fan"
	TypeScene        DeviceType = "scene"
)

// SupportedTypes lists every recognized device type tag.
var SupportedTypes = []DeviceType{
	TypeSwitch, TypeLight, TypeSensor, TypeBinarySensor, TypeNumericValue,
	TypeClimate, TypeCover, TypeFan, TypeScene,
}

// Supported reports whether the tag is in the recognized set.
func (t DeviceType) Supported() bool {
	for _, s := range SupportedTypes {
		if t == s {
			return true
		}
	}
	return false
}

// Device is a stateful model of one bus device.
//
// Thread Safety:
//   - HandleTelegram is called from a single dispatch goroutine per room.
//   - State accessors may be called concurrently from other goroutines.
type Device interface {
	Name() string
	Type() DeviceType

	// HandleTelegram updates device state from a bus telegram and reports
	// whether visible state changed. Read requests never change state.
	HandleTelegram(t Telegram) bool

	// Addresses returns the group addresses the device listens on.
	Addresses() []GroupAddress
}

// baseDevice carries the identity and bus handle shared by all models.
type baseDevice struct {
	name string
	typ  DeviceType
	bus  Sender
	mu   sync.RWMutex
}

func (d *baseDevice) Name() string     { return d.name }
func (d *baseDevice) Type() DeviceType { return d.typ }

// match reports whether the telegram is a state-bearing frame (write or
// response) addressed to one of the given non-zero group addresses.
func match(t Telegram, addrs ...GroupAddress) bool {
	if !t.IsWrite() && !t.IsResponse() {
		return false
	}
	for _, a := range addrs {
		if !a.IsZero() && t.Destination == a {
			return true
		}
	}
	return false
}

// collectAddrs filters out zero (unconfigured) addresses.
func collectAddrs(addrs ...GroupAddress) []GroupAddress {
	out := make([]GroupAddress, 0, len(addrs))
	for _, a := range addrs {
		if !a.IsZero() {
			out = append(out, a)
		}
	}
	return out
}

// Switch is an on/off actuator.
type Switch struct {
	baseDevice

	// Address receives on/off commands.
	Address GroupAddress
	// StateAddress is an optional dedicated status address.
	StateAddress GroupAddress

	on    bool
	known bool
}

func (s *Switch) HandleTelegram(t Telegram) bool {
	if !match(t, s.Address, s.StateAddress) {
		return false
	}
	v, err := DecodeDPT1(t.Data)
	if err != nil {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	changed := !s.known || s.on != v
	s.on = v
	s.known = true
	return changed
}

func (s *Switch) Addresses() []GroupAddress {
	return collectAddrs(s.Address, s.StateAddress)
}

// State returns the current on/off state and whether it is known yet.
func (s *Switch) State() (on, known bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.on, s.known
}

func (s *Switch) TurnOn(ctx context.Context) error {
	return s.bus.Send(ctx, s.Address, EncodeDPT1(true))
}

func (s *Switch) TurnOff(ctx context.Context) error {
	return s.bus.Send(ctx, s.Address, EncodeDPT1(false))
}

// Light is a lamp or lighting circuit. It is dimmable when a brightness
// address is configured; otherwise it behaves like a switch.
type Light struct {
	baseDevice

	SwitchAddress          GroupAddress
	SwitchStateAddress     GroupAddress
	BrightnessAddress      GroupAddress
	BrightnessStateAddress GroupAddress

	on         bool
	brightness float64 // percent, 0-100
	known      bool
}

// Dimmable reports whether the light accepts brightness commands.
func (l *Light) Dimmable() bool {
	return !l.BrightnessAddress.IsZero()
}

func (l *Light) HandleTelegram(t Telegram) bool {
	switch {
	case match(t, l.SwitchAddress, l.SwitchStateAddress):
		v, err := DecodeDPT1(t.Data)
		if err != nil {
			return false
		}
		l.mu.Lock()
		defer l.mu.Unlock()
		changed := !l.known || l.on != v
		l.on = v
		l.known = true
		return changed

	case match(t, l.BrightnessAddress, l.BrightnessStateAddress):
		v, err := DecodeDPT5(t.Data)
		if err != nil {
			return false
		}
		l.mu.Lock()
		defer l.mu.Unlock()
		changed := !l.known || l.brightness != v
		l.brightness = v
		l.on = v > 0
		l.known = true
		return changed
	}
	return false
}

func (l *Light) Addresses() []GroupAddress {
	return collectAddrs(l.SwitchAddress, l.SwitchStateAddress,
		l.BrightnessAddress, l.BrightnessStateAddress)
}

// State returns on/off, brightness percent and whether state is known.
func (l *Light) State() (on bool, brightness float64, known bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.on, l.brightness, l.known
}

func (l *Light) TurnOn(ctx context.Context) error {
	return l.bus.Send(ctx, l.SwitchAddress, EncodeDPT1(true))
}

func (l *Light) TurnOff(ctx context.Context) error {
	return l.bus.Send(ctx, l.SwitchAddress, EncodeDPT1(false))
}

// SetBrightness dims the light to the given percentage (0-100).
func (l *Light) SetBrightness(ctx context.Context, percent float64) error {
	if !l.Dimmable() {
		return ErrMissingAddress
	}
	return l.bus.Send(ctx, l.BrightnessAddress, EncodeDPT5(percent))
}

// Sensor is a read-only numeric sensor (temperature, lux, humidity)
// reporting 2-byte float values.
type Sensor struct {
	baseDevice

	Address GroupAddress

	value float64
	known bool
}

func (s *Sensor) HandleTelegram(t Telegram) bool {
	if !match(t, s.Address) {
		return false
	}
	v, err := DecodeDPT9(t.Data)
	if err != nil {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	changed := !s.known || s.value != v
	s.value = v
	s.known = true
	return changed
}

func (s *Sensor) Addresses() []GroupAddress { return collectAddrs(s.Address) }

// Value returns the last reported reading and whether one has arrived.
func (s *Sensor) Value() (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.value, s.known
}

// Read requests the current value from the bus.
func (s *Sensor) Read(ctx context.Context) error {
	return s.bus.SendRead(ctx, s.Address)
}

// BinarySensor is a read-only boolean input (presence, window contact).
type BinarySensor struct {
	baseDevice

	Address GroupAddress

	on    bool
	known bool
}

func (b *BinarySensor) HandleTelegram(t Telegram) bool {
	if !match(t, b.Address) {
		return false
	}
	v, err := DecodeDPT1(t.Data)
	if err != nil {
		return false
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	changed := !b.known || b.on != v
	b.on = v
	b.known = true
	return changed
}

func (b *BinarySensor) Addresses() []GroupAddress { return collectAddrs(b.Address) }

func (b *BinarySensor) State() (on, known bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.on, b.known
}

// NumericValue is a writable numeric datapoint (setpoints, thresholds)
// carried as a 2-byte float.
type NumericValue struct {
	baseDevice

	Address GroupAddress

	value float64
	known bool
}

func (n *NumericValue) HandleTelegram(t Telegram) bool {
	if !match(t, n.Address) {
		return false
	}
	v, err := DecodeDPT9(t.Data)
	if err != nil {
		return false
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	changed := !n.known || n.value != v
	n.value = v
	n.known = true
	return changed
}

func (n *NumericValue) Addresses() []GroupAddress { return collectAddrs(n.Address) }

func (n *NumericValue) Value() (float64, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.value, n.known
}

// SetValue writes a new value to the bus.
func (n *NumericValue) SetValue(ctx context.Context, value float64) error {
	data, err := EncodeDPT9(value)
	if err != nil {
		return err
	}
	return n.bus.Send(ctx, n.Address, data)
}

// Climate pairs a temperature reading with a writable setpoint.
type Climate struct {
	baseDevice

	TemperatureAddress   GroupAddress
	SetpointAddress      GroupAddress
	SetpointStateAddress GroupAddress

	temperature   float64
	tempKnown     bool
	setpoint      float64
	setpointKnown bool
}

func (c *Climate) HandleTelegram(t Telegram) bool {
	switch {
	case match(t, c.TemperatureAddress):
		v, err := DecodeDPT9(t.Data)
		if err != nil {
			return false
		}
		c.mu.Lock()
		defer c.mu.Unlock()
		changed := !c.tempKnown || c.temperature != v
		c.temperature = v
		c.tempKnown = true
		return changed

	case match(t, c.SetpointAddress, c.SetpointStateAddress):
		v, err := DecodeDPT9(t.Data)
		if err != nil {
			return false
		}
		c.mu.Lock()
		defer c.mu.Unlock()
		changed := !c.setpointKnown || c.setpoint != v
		c.setpoint = v
		c.setpointKnown = true
		return changed
	}
	return false
}

func (c *Climate) Addresses() []GroupAddress {
	return collectAddrs(c.TemperatureAddress, c.SetpointAddress, c.SetpointStateAddress)
}

// State returns temperature and setpoint with per-field known flags.
func (c *Climate) State() (temperature float64, tempKnown bool, setpoint float64, setpointKnown bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.temperature, c.tempKnown, c.setpoint, c.setpointKnown
}

// SetSetpoint writes a new target temperature to the bus.
func (c *Climate) SetSetpoint(ctx context.Context, value float64) error {
	if c.SetpointAddress.IsZero() {
		return ErrMissingAddress
	}
	data, err := EncodeDPT9(value)
	if err != nil {
		return err
	}
	return c.bus.Send(ctx, c.SetpointAddress, data)
}

// Cover is a blind or shutter with optional position control.
// Position is percent closed: 0 fully open, 100 fully closed.
type Cover struct {
	baseDevice

	UpDownAddress        GroupAddress
	PositionAddress      GroupAddress
	PositionStateAddress GroupAddress

	position float64
	known    bool
}

func (c *Cover) HandleTelegram(t Telegram) bool {
	if !match(t, c.PositionAddress, c.PositionStateAddress) {
		return false
	}
	v, err := DecodeDPT5(t.Data)
	if err != nil {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	changed := !c.known || c.position != v
	c.position = v
	c.known = true
	return changed
}

func (c *Cover) Addresses() []GroupAddress {
	return collectAddrs(c.UpDownAddress, c.PositionAddress, c.PositionStateAddress)
}

func (c *Cover) Position() (float64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.position, c.known
}

// Open drives the cover fully open (up).
func (c *Cover) Open(ctx context.Context) error {
	return c.bus.Send(ctx, c.UpDownAddress, EncodeDPT1(false))
}

// Close drives the cover fully closed (down).
func (c *Cover) Close(ctx context.Context) error {
	return c.bus.Send(ctx, c.UpDownAddress, EncodeDPT1(true))
}

// SetPosition moves the cover to the given percent closed (0-100).
func (c *Cover) SetPosition(ctx context.Context, percent float64) error {
	if c.PositionAddress.IsZero() {
		return ErrMissingAddress
	}
	return c.bus.Send(ctx, c.PositionAddress, EncodeDPT5(percent))
}

// Fan is a speed-controlled fan. Speed is percent (0-100); 0 is off.
type Fan struct {
	baseDevice

	SpeedAddress      GroupAddress
	SpeedStateAddress GroupAddress

	speed float64
	known bool
}

func (f *Fan) HandleTelegram(t Telegram) bool {
	if !match(t, f.SpeedAddress, f.SpeedStateAddress) {
		return false
	}
	v, err := DecodeDPT5(t.Data)
	if err != nil {
		return false
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	changed := !f.known || f.speed != v
	f.speed = v
	f.known = true
	return changed
}

func (f *Fan) Addresses() []GroupAddress {
	return collectAddrs(f.SpeedAddress, f.SpeedStateAddress)
}

func (f *Fan) Speed() (float64, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.speed, f.known
}

// SetSpeed sets the fan speed in percent (0-100).
func (f *Fan) SetSpeed(ctx context.Context, percent float64) error {
	return f.bus.Send(ctx, f.SpeedAddress, EncodeDPT5(percent))
}

// TurnOff stops the fan.
func (f *Fan) TurnOff(ctx context.Context) error {
	return f.SetSpeed(ctx, 0)
}

// Scene recalls numbered scenes. State is the last scene observed on the
// bus, if any.
type Scene struct {
	baseDevice

	Address GroupAddress

	lastScene uint8
	known     bool
}

func (s *Scene) HandleTelegram(t Telegram) bool {
	if !match(t, s.Address) {
		return false
	}
	v, err := DecodeDPT17(t.Data)
	if err != nil {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	changed := !s.known || s.lastScene != v
	s.lastScene = v
	s.known = true
	return changed
}

func (s *Scene) Addresses() []GroupAddress { return collectAddrs(s.Address) }

func (s *Scene) LastScene() (uint8, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastScene, s.known
}

// Recall activates the given scene number (0-63).
func (s *Scene) Recall(ctx context.Context, scene uint8) error {
	data, err := EncodeDPT17(scene)
	if err != nil {
		return err
	}
	return s.bus.Send(ctx, s.Address, data)
}
