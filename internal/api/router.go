package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	// Health check (no auth required)
	r.Get("/health", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Post("/auth/ws-ticket", s.handleWSTicket)

			r.Route("/knx", func(r chi.Router) {
				r.Post("/setup", s.handleSetup)

				r.Route("/rooms", func(r chi.Router) {
					r.Get("/", s.handleListRooms)

					r.Route("/{roomID}", func(r chi.Router) {
						r.Put("/", s.handleAddOrReplaceRoom)
						r.Delete("/", s.handleRemoveRoom)
						r.Get("/devices", s.handleListDevices)
						r.Get("/devices/{name}/state", s.handleDeviceState)
					})
				})
			})
		})
	})

	// WebSocket endpoints (auth via single-use ticket, validated in handler)
	r.Get("/ws/device/{roomID}", s.handleDeviceWS)
	r.Get("/ws/group/{roomID}", s.handleGroupWS)
	r.Get("/ws/control/{roomID}", s.handleControlWS)

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
		"rooms":   len(s.manager.Rooms()),
	})
}
