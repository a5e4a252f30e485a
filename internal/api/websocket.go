package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/fernwood-systems/knxfleet/internal/broadcast"
	"github.com/fernwood-systems/knxfleet/internal/fleet"
	"github.com/fernwood-systems/knxfleet/internal/infrastructure/config"
	"github.com/fernwood-systems/knxfleet/internal/knx"
)

// Fallbacks for unset WebSocket config values.
const (
	defaultMaxMessageSize = 4096
	defaultPingInterval   = 30 * time.Second
	defaultPongTimeout    = 60 * time.Second
	defaultSendBuffer     = 256
)

var (
	errChannelClosed = errors.New("api: websocket channel closed")
	errBufferFull    = errors.New("api: websocket send buffer full")
)

// upgrader configures the WebSocket upgrader.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

// wsConn is one WebSocket subscriber connection.
//
// Outbound frames go through a buffered send channel drained by writePump,
// so a stalled client never blocks the caller. It satisfies
// broadcast.Channel: Send fails once the buffer is full or the connection
// is closed, which makes the broadcaster prune this subscriber.
type wsConn struct {
	conn *websocket.Conn
	send chan []byte

	maxMessageSize int
	pingInterval   time.Duration
	pongTimeout    time.Duration

	done      chan struct{}
	closeOnce sync.Once
}

var _ broadcast.Channel = (*wsConn)(nil)

func newWSConn(conn *websocket.Conn, cfg config.WebSocketConfig) *wsConn {
	c := &wsConn{
		conn:           conn,
		maxMessageSize: cfg.MaxMessageSize,
		pingInterval:   time.Duration(cfg.PingInterval) * time.Second,
		pongTimeout:    time.Duration(cfg.PongTimeout) * time.Second,
		done:           make(chan struct{}),
	}
	if c.maxMessageSize <= 0 {
		c.maxMessageSize = defaultMaxMessageSize
	}
	if c.pingInterval <= 0 {
		c.pingInterval = defaultPingInterval
	}
	if c.pongTimeout <= 0 {
		c.pongTimeout = defaultPongTimeout
	}
	buffer := cfg.SendBuffer
	if buffer <= 0 {
		buffer = defaultSendBuffer
	}
	c.send = make(chan []byte, buffer)
	return c
}

// Send queues a payload without blocking. It reports failure for closed
// connections and full buffers so the broadcaster drops this channel.
func (c *wsConn) Send(payload []byte) error {
	select {
	case <-c.done:
		return errChannelClosed
	default:
	}

	select {
	case c.send <- payload:
		return nil
	case <-c.done:
		return errChannelClosed
	default:
		return errBufferFull
	}
}

// sendJSON marshals and queues a frame, best-effort.
func (c *wsConn) sendJSON(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	//nolint:errcheck // Best-effort frame; a dead connection is pruned elsewhere
	c.Send(data)
}

// sendError sends an error frame. The connection stays open.
func (c *wsConn) sendError(message string) {
	c.sendJSON(map[string]string{"error": message})
}

func (c *wsConn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// writePump drains the send channel onto the wire and keeps the
// connection alive with periodic pings.
func (c *wsConn) writePump() {
	ticker := time.NewTicker(c.pingInterval)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case message := <-c.send:
			//nolint:errcheck // Write error caught on the next call
			c.conn.SetWriteDeadline(time.Now().Add(c.pongTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			//nolint:errcheck // Write error caught on the next call
			c.conn.SetWriteDeadline(time.Now().Add(c.pongTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			//nolint:errcheck // Best-effort close message
			c.conn.WriteMessage(websocket.CloseMessage, nil)
			return
		}
	}
}

// readMessage reads one frame, maintaining the read deadline. It returns
// false when the connection is gone.
func (c *wsConn) readMessage() ([]byte, bool) {
	_, message, err := c.conn.ReadMessage()
	if err != nil {
		return nil, false
	}
	//nolint:errcheck // Best-effort deadline reset
	c.conn.SetReadDeadline(time.Now().Add(c.pingInterval + c.pongTimeout))
	return message, true
}

// upgrade authenticates the ticket, upgrades the connection, and resolves
// the room. A missing room is reported as an error frame on the socket,
// matching the subscriber protocol.
func (s *Server) upgrade(w http.ResponseWriter, r *http.Request) (*wsConn, *fleet.Room, bool) {
	ticket := r.URL.Query().Get("ticket")
	if ticket == "" {
		writeUnauthorized(w, "ticket query parameter is required")
		return nil, nil, false
	}
	if !s.validateTicket(ticket) {
		writeUnauthorized(w, "invalid or expired ticket")
		return nil, nil, false
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return nil, nil, false
	}

	client := newWSConn(conn, s.wsCfg)

	roomID := chi.URLParam(r, "roomID")
	room, ok := s.manager.Room(roomID)
	if !ok {
		// Write pump not started yet, so the frame goes out synchronously.
		//nolint:errcheck // Client may already be gone
		conn.WriteJSON(map[string]string{"error": "room " + roomID + " not found"})
		client.close()
		return nil, nil, false
	}

	conn.SetReadLimit(int64(client.maxMessageSize))
	//nolint:errcheck // Best-effort deadline on connection setup
	conn.SetReadDeadline(time.Now().Add(client.pingInterval + client.pongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(client.pingInterval + client.pongTimeout))
	})
	go client.writePump()

	return client, room, true
}

// deviceSubscribeFrame is the inbound frame on the device channel.
type deviceSubscribeFrame struct {
	Subscribe []string `json:"subscribe"`
}

// handleDeviceWS serves the named-device state channel.
//
// Clients send {"subscribe":["name",...]} and receive one
// {"subscribed_device":"name"} ack per device, then state pushes of the
// form {"device":..., "room_id":..., "state":{...}} whenever a subscribed
// device changes.
func (s *Server) handleDeviceWS(w http.ResponseWriter, r *http.Request) {
	client, room, ok := s.upgrade(w, r)
	if !ok {
		return
	}
	defer func() {
		s.broadcaster.Unsubscribe(client)
		client.close()
	}()

	s.logger.Debug("device websocket connected", "room", room.ID())

	for {
		message, ok := client.readMessage()
		if !ok {
			return
		}

		var frame deviceSubscribeFrame
		if err := json.Unmarshal(message, &frame); err != nil {
			client.sendError("invalid JSON message")
			continue
		}

		for _, name := range frame.Subscribe {
			if _, ok := room.DeviceByName(name); !ok {
				client.sendError("device '" + name + "' not found")
				continue
			}
			s.broadcaster.Subscribe(room.ID(), name, client)
			client.sendJSON(map[string]string{"subscribed_device": name})
		}
	}
}

// groupSubscribeFrame is the inbound frame on the group channel.
type groupSubscribeFrame struct {
	Subscribe        []string `json:"subscribe"`
	SubscribeDevices []string `json:"subscribe_devices"`
}

// handleGroupWS serves the raw telegram tap channel.
//
// Clients subscribe to group addresses ({"subscribe":["1/2/3"]}) and
// device names ({"subscribe_devices":["lamp"]}); there are no acks.
// Matching write telegrams push {"group_address":..., "value":...} and
// changed subscribed devices push {"device":..., "state":{...}}.
func (s *Server) handleGroupWS(w http.ResponseWriter, r *http.Request) {
	client, room, ok := s.upgrade(w, r)
	if !ok {
		return
	}

	var mu sync.RWMutex
	gas := make(map[string]struct{})
	devices := make(map[string]struct{})

	listenerID, err := room.AddListener(func(t knx.Telegram) {
		if !t.IsWrite() && !t.IsResponse() {
			return
		}

		mu.RLock()
		_, gaWatched := gas[t.Destination.String()]
		watchedDevices := make([]string, 0, len(devices))
		for name := range devices {
			watchedDevices = append(watchedDevices, name)
		}
		mu.RUnlock()

		if gaWatched && t.IsWrite() {
			client.sendJSON(map[string]any{
				"group_address": t.Destination.String(),
				"value":         groupValue(t.Data),
			})
		}

		for _, name := range watchedDevices {
			dev, ok := room.DeviceByName(name)
			if !ok || !deviceOwns(dev, t.Destination) {
				continue
			}
			client.sendJSON(map[string]any{
				"device": name,
				"state":  broadcast.SerializeSnapshot(s.resolvers.Resolve(dev)),
			})
		}
	})
	if err != nil {
		client.sendError("room " + room.ID() + " not connected")
		client.close()
		return
	}

	defer func() {
		room.RemoveListener(listenerID)
		client.close()
	}()

	s.logger.Debug("group websocket connected", "room", room.ID())

	for {
		message, ok := client.readMessage()
		if !ok {
			return
		}

		var frame groupSubscribeFrame
		if err := json.Unmarshal(message, &frame); err != nil {
			client.sendError("invalid JSON message")
			continue
		}

		mu.Lock()
		for _, addr := range frame.Subscribe {
			gas[addr] = struct{}{}
		}
		for _, name := range frame.SubscribeDevices {
			devices[name] = struct{}{}
		}
		mu.Unlock()
	}
}

// handleControlWS serves the duplex device command channel.
//
// Clients send {"device":..., "action":..., "value":...} frames and
// receive {"status":"ok", ...} or {"error":...} replies. The channel
// stays open after command failures.
func (s *Server) handleControlWS(w http.ResponseWriter, r *http.Request) {
	client, room, ok := s.upgrade(w, r)
	if !ok {
		return
	}
	defer client.close()

	s.logger.Debug("control websocket connected", "room", room.ID())

	for {
		message, ok := client.readMessage()
		if !ok {
			return
		}

		var cmd fleet.Command
		if err := json.Unmarshal(message, &cmd); err != nil {
			client.sendError("invalid JSON message")
			continue
		}
		if cmd.Device == "" || cmd.Action == "" {
			client.sendError("missing 'device' or 'action'")
			continue
		}

		if err := room.Execute(r.Context(), cmd); err != nil {
			client.sendError(err.Error())
			continue
		}

		client.sendJSON(map[string]any{
			"status": "ok",
			"device": cmd.Device,
			"action": cmd.Action,
			"value":  cmd.Value,
		})
	}
}

// groupValue renders a telegram payload the way monitoring clients expect:
// a bare integer for one-byte payloads, an integer list otherwise.
func groupValue(data []byte) any {
	switch len(data) {
	case 0:
		return nil
	case 1:
		return int(data[0])
	default:
		values := make([]int, len(data))
		for i, b := range data {
			values[i] = int(b)
		}
		return values
	}
}

// deviceOwns reports whether a device is configured with the given
// group address.
func deviceOwns(dev knx.Device, addr knx.GroupAddress) bool {
	for _, a := range dev.Addresses() {
		if a == addr {
			return true
		}
	}
	return false
}
