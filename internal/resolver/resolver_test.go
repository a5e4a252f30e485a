package resolver

import (
	"strings"
	"testing"

	"github.com/fernwood-systems/knxfleet/internal/knx"
)

func mustDevice(t *testing.T, cfg knx.DeviceConfig) knx.Device {
	t.Helper()
	d, err := knx.NewDevice(cfg, nil)
	if err != nil {
		t.Fatalf("NewDevice(%q): %v", cfg.Name, err)
	}
	return d
}

func TestRegistryCoversAllSupportedTypes(t *testing.T) {
	r := NewRegistry()
	for _, typ := range knx.SupportedTypes {
		if !r.Has(typ) {
			t.Errorf("no resolver registered for %q", typ)
		}
	}
}

func TestResolveSwitch(t *testing.T) {
	r := NewRegistry()
	dev := mustDevice(t, knx.DeviceConfig{
		Name: "lamp", Type: knx.TypeSwitch,
		Fields: map[string]any{"address": "1/0/1"},
	})

	snap := r.Resolve(dev)
	if snap["type"] != "switch" {
		t.Errorf("type = %v", snap["type"])
	}
	if snap["on"] != nil {
		t.Errorf("on = %v, want nil before first telegram", snap["on"])
	}
	ga, ok := snap["address"].(knx.GroupAddress)
	if !ok || ga.String() != "1/0/1" {
		t.Errorf("address = %v", snap["address"])
	}

	dev.HandleTelegram(knx.NewWriteTelegram(knx.GroupAddress{Main: 1, Sub: 1}, knx.EncodeDPT1(true)))
	snap = r.Resolve(dev)
	if snap["on"] != true {
		t.Errorf("on = %v, want true after telegram", snap["on"])
	}
}

func TestResolveDimmableLight(t *testing.T) {
	r := NewRegistry()
	dev := mustDevice(t, knx.DeviceConfig{
		Name: "spot", Type: knx.TypeLight,
		Fields: map[string]any{
			"switch_address":     "1/1/1",
			"brightness_address": "1/1/2",
		},
	})

	snap := r.Resolve(dev)
	if snap["dimmable"] != true {
		t.Errorf("dimmable = %v", snap["dimmable"])
	}
	if _, ok := snap["brightness_address"]; !ok {
		t.Error("brightness_address missing from snapshot")
	}

	dev.HandleTelegram(knx.NewWriteTelegram(knx.GroupAddress{Main: 1, Middle: 1, Sub: 2}, []byte{0xFF}))
	snap = r.Resolve(dev)
	if snap["brightness"] != 100.0 {
		t.Errorf("brightness = %v, want 100", snap["brightness"])
	}
	if snap["on"] != true {
		t.Errorf("on = %v, want true", snap["on"])
	}
}

func TestResolveSensor(t *testing.T) {
	r := NewRegistry()
	dev := mustDevice(t, knx.DeviceConfig{
		Name: "temp", Type: knx.TypeSensor,
		Fields: map[string]any{"address": "2/0/1"},
	})

	data, err := knx.EncodeDPT9(21.5)
	if err != nil {
		t.Fatal(err)
	}
	dev.HandleTelegram(knx.NewWriteTelegram(knx.GroupAddress{Main: 2, Sub: 1}, data))

	snap := r.Resolve(dev)
	if snap["value"] != 21.5 {
		t.Errorf("value = %v, want 21.5", snap["value"])
	}
}

func TestResolveClimate(t *testing.T) {
	r := NewRegistry()
	dev := mustDevice(t, knx.DeviceConfig{
		Name: "hvac", Type: knx.TypeClimate,
		Fields: map[string]any{
			"temperature_address": "3/0/1",
			"setpoint_address":    "3/0/2",
		},
	})

	snap := r.Resolve(dev)
	if snap["temperature"] != nil || snap["setpoint"] != nil {
		t.Errorf("fresh climate snapshot should have nil readings: %v", snap)
	}
	if _, ok := snap["setpoint_address"]; !ok {
		t.Error("setpoint_address missing")
	}
}

func TestResolveUnknownTagPlaceholder(t *testing.T) {
	r := NewRegistry()
	snap := r.Resolve(fakeDevice{})

	warning, ok := snap["warning"].(string)
	if !ok {
		t.Fatalf("snapshot = %v, want warning placeholder", snap)
	}
	if !strings.Contains(warning, "exotic") {
		t.Errorf("warning = %q, should name the tag", warning)
	}
	if len(snap) != 1 {
		t.Errorf("placeholder should carry only the warning, got %v", snap)
	}
}

// fakeDevice carries a tag outside the supported set.
type fakeDevice struct{}

func (fakeDevice) Name() string                      { return "odd" }
func (fakeDevice) Type() knx.DeviceType              { return "exotic" }
func (fakeDevice) HandleTelegram(knx.Telegram) bool  { return false }
func (fakeDevice) Addresses() []knx.GroupAddress     { return nil }
