package tsdb

import (
	"context"
	"errors"
	"testing"

	"github.com/fernwood-systems/knxfleet/internal/infrastructure/config"
)

func testConfig() config.InfluxDBConfig {
	return config.InfluxDBConfig{
		Enabled:       true,
		URL:           "http://127.0.0.1:8086",
		Token:         "dev-token",
		Org:           "fernwood",
		Bucket:        "knxfleet",
		BatchSize:     100,
		FlushInterval: 1,
	}
}

func TestConnectDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false

	_, err := Connect(cfg)
	if !errors.Is(err, ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestConnectUnreachable(t *testing.T) {
	cfg := testConfig()
	cfg.URL = "http://127.0.0.1:59999"

	_, err := Connect(cfg)
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestNumericValue(t *testing.T) {
	tests := []struct {
		name   string
		in     any
		want   float64
		wantOK bool
	}{
		{"float64", 21.5, 21.5, true},
		{"float32", float32(2.0), 2.0, true},
		{"int", 42, 42, true},
		{"int64", int64(7), 7, true},
		{"uint8", uint8(100), 100, true},
		{"bool true", true, 1, true},
		{"bool false", false, 0, true},
		{"string skipped", "switch", 0, false},
		{"nil skipped", nil, 0, false},
		{"map skipped", map[string]any{}, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := numericValue(tt.in)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if got != tt.want {
				t.Errorf("value = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDisconnectedWritesAreNoOps(t *testing.T) {
	c := &Client{}

	// Must not panic with no underlying write API.
	c.WriteDeviceState("living-room", "lamp", map[string]any{"on": true})
	c.WritePoint("device_state", nil, map[string]interface{}{"value": 1.0})
	c.Flush()

	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() = %v, want ErrNotConnected", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close() on zero client: %v", err)
	}
}
