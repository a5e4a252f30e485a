package knx

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
)

// mockSender records telegrams instead of sending them.
type mockSender struct {
	mu    sync.Mutex
	sends []sentTelegram
	reads []GroupAddress
	err   error
}

type sentTelegram struct {
	ga   GroupAddress
	data []byte
}

func (m *mockSender) Send(_ context.Context, ga GroupAddress, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sends = append(m.sends, sentTelegram{ga: ga, data: append([]byte{}, data...)})
	return nil
}

func (m *mockSender) SendRead(_ context.Context, ga GroupAddress) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.reads = append(m.reads, ga)
	return nil
}

func (m *mockSender) lastSend(t *testing.T) sentTelegram {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sends) == 0 {
		t.Fatal("no telegram was sent")
	}
	return m.sends[len(m.sends)-1]
}

func writeTelegram(ga GroupAddress, data []byte) Telegram {
	return NewWriteTelegram(ga, data)
}

func TestDeviceTypeSupported(t *testing.T) {
	for _, typ := range SupportedTypes {
		if !typ.Supported() {
			t.Errorf("%q should be supported", typ)
		}
	}
	if DeviceType("toaster").Supported() {
		t.Error("unknown tag reported as supported")
	}
}

func TestSwitchHandleTelegram(t *testing.T) {
	sw := &Switch{
		baseDevice:   baseDevice{name: "lamp", typ: TypeSwitch},
		Address:      GroupAddress{1, 0, 1},
		StateAddress: GroupAddress{1, 0, 2},
	}

	// First telegram always counts as a change.
	if !sw.HandleTelegram(writeTelegram(GroupAddress{1, 0, 1}, EncodeDPT1(true))) {
		t.Error("first telegram should report change")
	}
	on, known := sw.State()
	if !on || !known {
		t.Errorf("State() = (%v, %v), want (true, true)", on, known)
	}

	// Same value again is not a change.
	if sw.HandleTelegram(writeTelegram(GroupAddress{1, 0, 1}, EncodeDPT1(true))) {
		t.Error("repeat value should not report change")
	}

	// Status address updates too.
	if !sw.HandleTelegram(writeTelegram(GroupAddress{1, 0, 2}, EncodeDPT1(false))) {
		t.Error("state address telegram should report change")
	}

	// Unrelated address is ignored.
	if sw.HandleTelegram(writeTelegram(GroupAddress{7, 7, 7}, EncodeDPT1(true))) {
		t.Error("unrelated telegram should be ignored")
	}

	// Read requests never change state.
	if sw.HandleTelegram(NewReadTelegram(GroupAddress{1, 0, 1})) {
		t.Error("read request should be ignored")
	}
}

func TestSwitchCommands(t *testing.T) {
	bus := &mockSender{}
	sw := &Switch{
		baseDevice: baseDevice{name: "lamp", typ: TypeSwitch, bus: bus},
		Address:    GroupAddress{1, 0, 1},
	}

	if err := sw.TurnOn(context.Background()); err != nil {
		t.Fatalf("TurnOn() error: %v", err)
	}
	sent := bus.lastSend(t)
	if sent.ga != sw.Address || !bytes.Equal(sent.data, []byte{0x01}) {
		t.Errorf("TurnOn sent %v %X", sent.ga, sent.data)
	}

	if err := sw.TurnOff(context.Background()); err != nil {
		t.Fatalf("TurnOff() error: %v", err)
	}
	sent = bus.lastSend(t)
	if !bytes.Equal(sent.data, []byte{0x00}) {
		t.Errorf("TurnOff sent %X", sent.data)
	}
}

func TestLightBrightness(t *testing.T) {
	bus := &mockSender{}
	light := &Light{
		baseDevice:             baseDevice{name: "spot", typ: TypeLight, bus: bus},
		SwitchAddress:          GroupAddress{1, 1, 1},
		BrightnessAddress:      GroupAddress{1, 1, 2},
		BrightnessStateAddress: GroupAddress{1, 1, 3},
	}

	if !light.Dimmable() {
		t.Fatal("light with brightness address should be dimmable")
	}

	if err := light.SetBrightness(context.Background(), 50); err != nil {
		t.Fatalf("SetBrightness() error: %v", err)
	}
	sent := bus.lastSend(t)
	if sent.ga != light.BrightnessAddress || !bytes.Equal(sent.data, []byte{0x80}) {
		t.Errorf("SetBrightness sent %v %X", sent.ga, sent.data)
	}

	// Brightness feedback updates state and implies on.
	if !light.HandleTelegram(writeTelegram(GroupAddress{1, 1, 3}, []byte{0xFF})) {
		t.Error("brightness feedback should report change")
	}
	on, brightness, known := light.State()
	if !on || brightness != 100 || !known {
		t.Errorf("State() = (%v, %v, %v)", on, brightness, known)
	}
}

func TestLightNotDimmable(t *testing.T) {
	light := &Light{
		baseDevice:    baseDevice{name: "plain", typ: TypeLight, bus: &mockSender{}},
		SwitchAddress: GroupAddress{1, 1, 1},
	}
	if light.Dimmable() {
		t.Error("light without brightness address reported dimmable")
	}
	if err := light.SetBrightness(context.Background(), 50); !errors.Is(err, ErrMissingAddress) {
		t.Errorf("SetBrightness() error = %v, want ErrMissingAddress", err)
	}
}

func TestSensorHandleTelegram(t *testing.T) {
	data, err := EncodeDPT9(21.5)
	if err != nil {
		t.Fatal(err)
	}

	sensor := &Sensor{
		baseDevice: baseDevice{name: "temp", typ: TypeSensor},
		Address:    GroupAddress{2, 0, 1},
	}

	if !sensor.HandleTelegram(writeTelegram(GroupAddress{2, 0, 1}, data)) {
		t.Error("sensor telegram should report change")
	}
	v, known := sensor.Value()
	if !known || v != 21.5 {
		t.Errorf("Value() = (%v, %v), want (21.5, true)", v, known)
	}

	// Malformed payload leaves state untouched.
	if sensor.HandleTelegram(writeTelegram(GroupAddress{2, 0, 1}, []byte{0x01})) {
		t.Error("short DPT9 payload should be ignored")
	}
}

func TestSensorRead(t *testing.T) {
	bus := &mockSender{}
	sensor := &Sensor{
		baseDevice: baseDevice{name: "temp", typ: TypeSensor, bus: bus},
		Address:    GroupAddress{2, 0, 1},
	}

	if err := sensor.Read(context.Background()); err != nil {
		t.Fatalf("Read() error: %v", err)
	}
	if len(bus.reads) != 1 || bus.reads[0] != sensor.Address {
		t.Errorf("reads = %v", bus.reads)
	}
}

func TestClimate(t *testing.T) {
	bus := &mockSender{}
	climate := &Climate{
		baseDevice:         baseDevice{name: "hvac", typ: TypeClimate, bus: bus},
		TemperatureAddress: GroupAddress{3, 0, 1},
		SetpointAddress:    GroupAddress{3, 0, 2},
	}

	tempData, _ := EncodeDPT9(19.0)
	if !climate.HandleTelegram(writeTelegram(GroupAddress{3, 0, 1}, tempData)) {
		t.Error("temperature telegram should report change")
	}

	temp, tempKnown, _, setpointKnown := climate.State()
	if !tempKnown || temp != 19.0 {
		t.Errorf("temperature = (%v, %v)", temp, tempKnown)
	}
	if setpointKnown {
		t.Error("setpoint should still be unknown")
	}

	if err := climate.SetSetpoint(context.Background(), 21.0); err != nil {
		t.Fatalf("SetSetpoint() error: %v", err)
	}
	want, _ := EncodeDPT9(21.0)
	sent := bus.lastSend(t)
	if sent.ga != climate.SetpointAddress || !bytes.Equal(sent.data, want) {
		t.Errorf("SetSetpoint sent %v %X", sent.ga, sent.data)
	}
}

func TestClimateSetpointNotConfigured(t *testing.T) {
	climate := &Climate{
		baseDevice:         baseDevice{name: "hvac", typ: TypeClimate, bus: &mockSender{}},
		TemperatureAddress: GroupAddress{3, 0, 1},
	}
	if err := climate.SetSetpoint(context.Background(), 21.0); !errors.Is(err, ErrMissingAddress) {
		t.Errorf("SetSetpoint() error = %v, want ErrMissingAddress", err)
	}
}

func TestCover(t *testing.T) {
	bus := &mockSender{}
	cover := &Cover{
		baseDevice:           baseDevice{name: "blind", typ: TypeCover, bus: bus},
		UpDownAddress:        GroupAddress{4, 0, 1},
		PositionAddress:      GroupAddress{4, 0, 2},
		PositionStateAddress: GroupAddress{4, 0, 3},
	}

	if err := cover.Open(context.Background()); err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	if sent := bus.lastSend(t); !bytes.Equal(sent.data, []byte{0x00}) {
		t.Errorf("Open sent %X, want 00", sent.data)
	}

	if err := cover.Close(context.Background()); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if sent := bus.lastSend(t); !bytes.Equal(sent.data, []byte{0x01}) {
		t.Errorf("Close sent %X, want 01", sent.data)
	}

	if err := cover.SetPosition(context.Background(), 100); err != nil {
		t.Fatalf("SetPosition() error: %v", err)
	}
	sent := bus.lastSend(t)
	if sent.ga != cover.PositionAddress || !bytes.Equal(sent.data, []byte{0xFF}) {
		t.Errorf("SetPosition sent %v %X", sent.ga, sent.data)
	}

	if !cover.HandleTelegram(writeTelegram(GroupAddress{4, 0, 3}, []byte{0xFF})) {
		t.Error("position feedback should report change")
	}
	pos, known := cover.Position()
	if !known || pos != 100 {
		t.Errorf("Position() = (%v, %v)", pos, known)
	}
}

func TestFan(t *testing.T) {
	bus := &mockSender{}
	fan := &Fan{
		baseDevice:   baseDevice{name: "extract", typ: TypeFan, bus: bus},
		SpeedAddress: GroupAddress{5, 0, 1},
	}

	if err := fan.SetSpeed(context.Background(), 100); err != nil {
		t.Fatalf("SetSpeed() error: %v", err)
	}
	if sent := bus.lastSend(t); !bytes.Equal(sent.data, []byte{0xFF}) {
		t.Errorf("SetSpeed sent %X", sent.data)
	}

	if err := fan.TurnOff(context.Background()); err != nil {
		t.Fatalf("TurnOff() error: %v", err)
	}
	if sent := bus.lastSend(t); !bytes.Equal(sent.data, []byte{0x00}) {
		t.Errorf("TurnOff sent %X", sent.data)
	}
}

func TestSceneRecall(t *testing.T) {
	bus := &mockSender{}
	scene := &Scene{
		baseDevice: baseDevice{name: "evening", typ: TypeScene, bus: bus},
		Address:    GroupAddress{6, 0, 1},
	}

	if err := scene.Recall(context.Background(), 4); err != nil {
		t.Fatalf("Recall() error: %v", err)
	}
	if sent := bus.lastSend(t); !bytes.Equal(sent.data, []byte{0x04}) {
		t.Errorf("Recall sent %X", sent.data)
	}

	if err := scene.Recall(context.Background(), 99); err == nil {
		t.Error("Recall(99) expected error")
	}

	if !scene.HandleTelegram(writeTelegram(GroupAddress{6, 0, 1}, []byte{0x04})) {
		t.Error("scene telegram should report change")
	}
	last, known := scene.LastScene()
	if !known || last != 4 {
		t.Errorf("LastScene() = (%v, %v)", last, known)
	}
}

func TestDeviceAddresses(t *testing.T) {
	light := &Light{
		SwitchAddress:     GroupAddress{1, 1, 1},
		BrightnessAddress: GroupAddress{1, 1, 2},
	}
	addrs := light.Addresses()
	if len(addrs) != 2 {
		t.Errorf("Addresses() = %v, want 2 entries", addrs)
	}
	for _, a := range addrs {
		if a.IsZero() {
			t.Error("Addresses() included zero address")
		}
	}
}
