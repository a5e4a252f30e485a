// Package store persists the applied fleet configuration in SQLite.
//
// The store holds one row per room with its configuration record as raw
// JSON, so exactly what was applied is what comes back at the next boot,
// extension fields included. SaveRooms replaces the whole snapshot in one
// transaction; LoadRooms returns it in its saved order.
package store
