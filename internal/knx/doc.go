// Package knx implements the gateway transport and device models for KNX
// building automation.
//
// # Transport
//
// Gateway speaks the eibd group-socket protocol (knxd and compatible
// daemons) over TCP or Unix sockets. Dial makes a bounded number of
// attempts with doubling delay; an established connection reconnects in
// the background. Received telegrams are delivered to registered
// listeners from a single dispatch goroutine, so listeners observe bus
// order.
//
// # Devices
//
// The device model is a closed set of type tags (switch, light, sensor,
// binary_sensor, numeric_value, climate, cover, fan, scene). NewDevice
// instantiates a model from a flat configuration record; each model
// decodes its datapoint types from incoming telegrams and offers typed
// command methods that encode and send.
//
// # Encoding
//
// Group addresses use 3-level notation ("1/2/3"). Datapoint codecs cover
// DPT 1 (boolean), DPT 5 (scaled percentage), DPT 9 (2-byte float) and
// DPT 17 (scene number).
package knx
