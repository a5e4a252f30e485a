package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/fernwood-systems/knxfleet/internal/broadcast"
	"github.com/fernwood-systems/knxfleet/internal/fleet"
	"github.com/fernwood-systems/knxfleet/internal/knx"
)

// setupRequest is the request body for POST /api/v1/knx/setup.
type setupRequest struct {
	Rooms []knx.RoomConfig `json:"rooms"`
}

// roomSummary is one entry in the GET /api/v1/knx/rooms response.
type roomSummary struct {
	RoomID         string `json:"room_id"`
	GatewayAddress string `json:"gateway_address"`
	Connected      bool   `json:"connected"`
	Devices        int    `json:"devices"`
}

// handleSetup replaces the entire fleet with the posted room list.
//
// Configuration is applied best-effort: rooms that fail to come up are
// reported in failed_rooms and the rest stay connected.
func (s *Server) handleSetup(w http.ResponseWriter, r *http.Request) {
	var req setupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	result := s.manager.Apply(r.Context(), req.Rooms)
	writeJSON(w, http.StatusOK, result)
}

// handleListRooms returns the live room set with connection state.
func (s *Server) handleListRooms(w http.ResponseWriter, _ *http.Request) {
	rooms := s.manager.Rooms()
	out := make([]roomSummary, 0, len(rooms))
	for _, room := range rooms {
		cfg := room.Config()
		out = append(out, roomSummary{
			RoomID:         room.ID(),
			GatewayAddress: cfg.GatewayAddress,
			Connected:      room.Connected(),
			Devices:        len(room.Devices()),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"rooms": out})
}

// handleAddOrReplaceRoom connects or reconnects a single room.
func (s *Server) handleAddOrReplaceRoom(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomID")

	var cfg knx.RoomConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if cfg.RoomID == "" {
		cfg.RoomID = roomID
	}
	if cfg.RoomID != roomID {
		writeBadRequest(w, "room_id in body does not match URL")
		return
	}

	if err := s.manager.AddOrReplace(r.Context(), cfg); err != nil {
		if errors.Is(err, fleet.ErrRoomUnreachable) {
			writeError(w, http.StatusBadGateway, "room_unreachable", err.Error())
			return
		}
		writeBadRequest(w, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"status": "connected", "room_id": roomID})
}

// handleRemoveRoom disconnects and forgets a room.
func (s *Server) handleRemoveRoom(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomID")

	if err := s.manager.Remove(r.Context(), roomID); err != nil {
		if errors.Is(err, fleet.ErrRoomNotFound) {
			writeNotFound(w, err.Error())
			return
		}
		writeInternalError(w, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"status": "disconnected", "room_id": roomID})
}

// handleListDevices returns the device names and types of one room.
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	room, ok := s.manager.Room(chi.URLParam(r, "roomID"))
	if !ok {
		writeNotFound(w, "room not found")
		return
	}

	devices := room.Devices()
	out := make([]map[string]any, 0, len(devices))
	for _, dev := range devices {
		out = append(out, map[string]any{
			"name": dev.Name(),
			"type": string(dev.Type()),
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"room_id": room.ID(),
		"devices": out,
	})
}

// handleDeviceState returns the resolved snapshot of one device.
func (s *Server) handleDeviceState(w http.ResponseWriter, r *http.Request) {
	room, ok := s.manager.Room(chi.URLParam(r, "roomID"))
	if !ok {
		writeNotFound(w, "room not found")
		return
	}

	name := chi.URLParam(r, "name")
	dev, ok := room.DeviceByName(name)
	if !ok {
		writeNotFound(w, "device not found")
		return
	}

	state := broadcast.SerializeSnapshot(s.resolvers.Resolve(dev))
	writeJSON(w, http.StatusOK, map[string]any{
		"room_id": room.ID(),
		"device":  name,
		"state":   state,
	})
}
