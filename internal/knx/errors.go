package knx

import "errors"

// Domain errors for the knx package.
var (
	// ErrConnectionFailed is returned when the gateway cannot be reached
	// within the configured dial budget.
	ErrConnectionFailed = errors.New("knx: gateway connection failed")

	// ErrNotConnected is returned when an operation requires a live
	// gateway connection but none exists.
	ErrNotConnected = errors.New("knx: not connected to gateway")

	// ErrInvalidGroupAddress is returned when a group address string
	// cannot be parsed.
	ErrInvalidGroupAddress = errors.New("knx: invalid group address")

	// ErrInvalidTelegram is returned when a received frame is malformed.
	ErrInvalidTelegram = errors.New("knx: invalid telegram")

	// ErrTelegramFailed is returned when sending a telegram fails.
	ErrTelegramFailed = errors.New("knx: telegram send failed")

	// ErrEncodingFailed is returned when encoding a value to bus format fails.
	ErrEncodingFailed = errors.New("knx: encoding failed")

	// ErrDecodingFailed is returned when decoding bus data to a value fails.
	ErrDecodingFailed = errors.New("knx: decoding failed")

	// ErrUnsupportedDeviceType is returned when a device record carries a
	// type tag outside the supported set.
	ErrUnsupportedDeviceType = errors.New("knx: unsupported device type")

	// ErrMissingAddress is returned when a device record lacks a group
	// address field its type requires.
	ErrMissingAddress = errors.New("knx: missing group address field")

	// ErrProtocolDesync is returned when the gateway stream can no longer
	// be framed safely and must be reconnected.
	ErrProtocolDesync = errors.New("knx: protocol desync")
)
