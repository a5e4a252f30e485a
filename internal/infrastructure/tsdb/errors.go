package tsdb

import "errors"

// Sentinel errors for time-series operations. Check with errors.Is().
var (
	// ErrNotConnected indicates the client is not connected to InfluxDB.
	ErrNotConnected = errors.New("tsdb: not connected")

	// ErrConnectionFailed indicates the initial connection attempt failed.
	ErrConnectionFailed = errors.New("tsdb: connection failed")

	// ErrDisabled indicates time-series recording is disabled in config.
	ErrDisabled = errors.New("tsdb: disabled in configuration")
)
