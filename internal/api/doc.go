// Package api provides the HTTP REST API and WebSocket endpoints for the
// fleet service.
//
// It exposes the orchestrator operations (setup, per-room add/replace and
// remove, room listing), on-demand device state reads, ticket-based
// WebSocket authentication, and three WebSocket channel kinds per room:
//
//	/ws/device/{roomID}   named-device state pushes with subscribe acks
//	/ws/group/{roomID}    raw group-address and device telegram taps
//	/ws/control/{roomID}  duplex device command channel
//
// The server follows the same lifecycle pattern as the other
// infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
package api
