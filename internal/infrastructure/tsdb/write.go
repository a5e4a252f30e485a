package tsdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// measurementDeviceState is the measurement device snapshots land in.
const measurementDeviceState = "device_state"

// WriteDeviceState records the numeric and boolean fields of a device
// state snapshot.
//
// One point is written per recordable field, tagged with room, device
// and field name so queries can slice by any of the three. Booleans are
// stored as 0/1 so every point carries a float value. Addresses, strings
// and unobserved (nil) readings are skipped.
//
// The write is non-blocking; data is batched and sent asynchronously.
func (c *Client) WriteDeviceState(roomID, device string, state map[string]any) {
	if !c.IsConnected() {
		return
	}

	now := time.Now()
	for name, raw := range state {
		value, ok := numericValue(raw)
		if !ok {
			continue
		}
		point := write.NewPoint(
			measurementDeviceState,
			map[string]string{
				"room":   roomID,
				"device": device,
				"field":  name,
			},
			map[string]interface{}{
				"value": value,
			},
			now,
		)
		c.writeAPI.WritePoint(point)
	}
}

// WritePoint writes a custom point with full control over tags and fields.
// Use for measurements that do not fit the device state helper.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, time.Now()))
}

// numericValue coerces a snapshot field to a float64 if it is recordable.
func numericValue(v any) (float64, bool) {
	switch val := v.(type) {
	case bool:
		if val {
			return 1, true
		}
		return 0, true
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case uint8:
		return float64(val), true
	default:
		return 0, false
	}
}
