// Package resolver turns device models into state snapshots.
//
// The registry is a closed table from device type tag to snapshot
// function, built once at startup. Every type the knx package supports has
// an entry; an unregistered tag resolves to a placeholder snapshot with a
// warning field rather than failing, so room-wide state dumps always
// complete.
package resolver
