// Package tsdb records device state history in InfluxDB.
//
// It wraps the official influxdb-client-go v2 library with connection
// management, batched non-blocking writes, and health monitoring.
//
// Every resolved device snapshot is flattened into points in the
// device_state measurement, tagged with room, device and field name.
// Only numeric and boolean readings are recorded.
//
// Usage:
//
//	client, err := tsdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteDeviceState("living-room", "thermostat", snapshot)
//
// Writes are batched per config (batch_size, flush_interval); async
// write failures surface via SetOnError.
package tsdb
