// Package fleet manages the set of room gateway connections.
//
// A Room is one gateway connection plus the device models configured
// behind it; its dispatch listener routes every received telegram through
// the room's devices and pushes snapshots for state that changed. The
// Manager owns the room registry and applies configuration changes
// best-effort: rooms succeed or fail independently, and the outcome of a
// full apply is reported per room rather than rolled back.
package fleet
