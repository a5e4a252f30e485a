package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fernwood-systems/knxfleet/internal/broadcast"
	"github.com/fernwood-systems/knxfleet/internal/fleet"
	"github.com/fernwood-systems/knxfleet/internal/infrastructure/config"
	"github.com/fernwood-systems/knxfleet/internal/infrastructure/logging"
	"github.com/fernwood-systems/knxfleet/internal/knx"
	"github.com/fernwood-systems/knxfleet/internal/resolver"
)

const testAPIToken = "test-api-token"

// stubConn is an in-memory gateway connection for API tests.
type stubConn struct {
	mu        sync.Mutex
	listeners map[int]func(knx.Telegram)
	nextID    int
	closed    bool
}

func newStubConn() *stubConn {
	return &stubConn{listeners: make(map[int]func(knx.Telegram))}
}

func (c *stubConn) Send(context.Context, knx.GroupAddress, []byte) error { return nil }
func (c *stubConn) SendRead(context.Context, knx.GroupAddress) error     { return nil }

func (c *stubConn) AddListener(fn func(knx.Telegram)) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	c.listeners[c.nextID] = fn
	return c.nextID
}

func (c *stubConn) RemoveListener(id int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.listeners, id)
}

func (c *stubConn) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

func (c *stubConn) Stats() knx.GatewayStats {
	return knx.GatewayStats{Connected: c.IsConnected()}
}

func (c *stubConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// deliver invokes listeners in registration order, matching the gateway's
// single dispatch goroutine.
func (c *stubConn) deliver(t knx.Telegram) {
	c.mu.Lock()
	ids := make([]int, 0, len(c.listeners))
	for id := range c.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(knx.Telegram), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, c.listeners[id])
	}
	c.mu.Unlock()
	for _, fn := range fns {
		fn(t)
	}
}

// stubDialer hands out stubConns, failing for addresses in down.
type stubDialer struct {
	mu    sync.Mutex
	down  map[string]bool
	conns map[string]*stubConn
}

func newStubDialer(down ...string) *stubDialer {
	d := &stubDialer{down: make(map[string]bool), conns: make(map[string]*stubConn)}
	for _, addr := range down {
		d.down[addr] = true
	}
	return d
}

func (d *stubDialer) dial(_ context.Context, cfg knx.GatewayConfig) (fleet.GatewayConn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.down[cfg.Address] {
		return nil, fmt.Errorf("%w: %s", knx.ErrConnectionFailed, cfg.Address)
	}
	conn := newStubConn()
	d.conns[cfg.Address] = conn
	return conn, nil
}

func (d *stubDialer) conn(addr string) *stubConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conns[addr]
}

type testEnv struct {
	server      *Server
	ts          *httptest.Server
	manager     *fleet.Manager
	broadcaster *broadcast.Broadcaster
	dialer      *stubDialer
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	logger := logging.Default()
	b := broadcast.New(nil)
	reg := resolver.NewRegistry()
	dialer := newStubDialer("tcp://down:6720")

	manager := fleet.NewManager(fleet.ManagerOptions{
		Room: fleet.RoomOptions{
			Dialer:      dialer.dial,
			Broadcaster: b,
			Resolvers:   reg,
		},
	})

	server, err := New(Deps{
		WS:          config.WebSocketConfig{PingInterval: 30, PongTimeout: 60, SendBuffer: 16},
		Security:    config.SecurityConfig{APIToken: testAPIToken, TicketTTL: 60},
		Logger:      logger,
		Manager:     manager,
		Broadcaster: b,
		Resolvers:   reg,
		Version:     "test",
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ts := httptest.NewServer(server.buildRouter())
	t.Cleanup(func() {
		ts.Close()
		manager.Shutdown()
	})

	return &testEnv{server: server, ts: ts, manager: manager, broadcaster: b, dialer: dialer}
}

func livingRoomConfig() knx.RoomConfig {
	return knx.RoomConfig{
		RoomID:         "living-room",
		GatewayAddress: "tcp://gw1:6720",
		Devices: []knx.DeviceConfig{
			{Name: "lamp", Type: "switch", Fields: map[string]any{"address": "1/1/1"}},
			{Name: "temp", Type: "sensor", Fields: map[string]any{"address": "2/1/1"}},
		},
	}
}

func (e *testEnv) applyLivingRoom(t *testing.T) {
	t.Helper()
	result := e.manager.Apply(context.Background(), []knx.RoomConfig{livingRoomConfig()})
	if result.Status != fleet.StatusComplete {
		t.Fatalf("Apply() status = %q", result.Status)
	}
}

func (e *testEnv) request(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encoding request body: %v", err)
		}
	}

	req, err := http.NewRequest(method, e.ts.URL+path, &buf)
	if err != nil {
		t.Fatalf("building request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+testAPIToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	return body
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.Get(env.ts.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["status"] != "ok" || body["version"] != "test" {
		t.Errorf("unexpected body: %v", body)
	}
}

func TestAuthRequired(t *testing.T) {
	env := newTestEnv(t)

	for _, header := range []string{"", "Bearer wrong-token", "Basic abc"} {
		req, _ := http.NewRequest(http.MethodGet, env.ts.URL+"/api/v1/knx/rooms", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("request: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("header %q: status = %d, want 401", header, resp.StatusCode)
		}
	}
}

func TestSetup(t *testing.T) {
	env := newTestEnv(t)

	rooms := []knx.RoomConfig{
		livingRoomConfig(),
		{
			RoomID:         "cellar",
			GatewayAddress: "tcp://down:6720",
			Devices: []knx.DeviceConfig{
				{Name: "pump", Type: "switch", Fields: map[string]any{"address": "9/1/1"}},
			},
		},
	}

	resp := env.request(t, http.MethodPost, "/api/v1/knx/setup", map[string]any{"rooms": rooms})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["status"] != "partial" {
		t.Errorf("status = %v, want partial", body["status"])
	}
	if body["configured"] != 1.0 {
		t.Errorf("configured = %v, want 1", body["configured"])
	}
	failed, _ := body["failed_rooms"].([]any)
	if len(failed) != 1 || failed[0] != "cellar" {
		t.Errorf("failed_rooms = %v", body["failed_rooms"])
	}
}

func TestListRooms(t *testing.T) {
	env := newTestEnv(t)
	env.applyLivingRoom(t)

	resp := env.request(t, http.MethodGet, "/api/v1/knx/rooms", nil)
	body := decodeBody(t, resp)

	rooms, _ := body["rooms"].([]any)
	if len(rooms) != 1 {
		t.Fatalf("rooms = %v", body["rooms"])
	}
	room := rooms[0].(map[string]any)
	if room["room_id"] != "living-room" || room["connected"] != true || room["devices"] != 2.0 {
		t.Errorf("unexpected room summary: %v", room)
	}
}

func TestAddAndRemoveRoom(t *testing.T) {
	env := newTestEnv(t)

	cfg := livingRoomConfig()
	resp := env.request(t, http.MethodPut, "/api/v1/knx/rooms/living-room", cfg)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("PUT status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	if _, ok := env.manager.Room("living-room"); !ok {
		t.Fatal("room not registered after PUT")
	}

	resp = env.request(t, http.MethodDelete, "/api/v1/knx/rooms/living-room", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("DELETE status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = env.request(t, http.MethodDelete, "/api/v1/knx/rooms/living-room", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("second DELETE status = %d, want 404", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestAddRoomUnreachable(t *testing.T) {
	env := newTestEnv(t)

	cfg := livingRoomConfig()
	cfg.GatewayAddress = "tcp://down:6720"
	resp := env.request(t, http.MethodPut, "/api/v1/knx/rooms/living-room", cfg)
	if resp.StatusCode != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestListDevicesAndState(t *testing.T) {
	env := newTestEnv(t)
	env.applyLivingRoom(t)

	resp := env.request(t, http.MethodGet, "/api/v1/knx/rooms/living-room/devices", nil)
	body := decodeBody(t, resp)
	devices, _ := body["devices"].([]any)
	if len(devices) != 2 {
		t.Fatalf("devices = %v", body["devices"])
	}

	resp = env.request(t, http.MethodGet, "/api/v1/knx/rooms/living-room/devices/lamp/state", nil)
	body = decodeBody(t, resp)
	state, _ := body["state"].(map[string]any)
	if state["type"] != "switch" {
		t.Errorf("state = %v", state)
	}
	if _, present := state["on"]; !present {
		t.Errorf("state missing 'on' reading: %v", state)
	}

	resp = env.request(t, http.MethodGet, "/api/v1/knx/rooms/living-room/devices/ghost/state", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown device status = %d, want 404", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestWSTicketSingleUse(t *testing.T) {
	env := newTestEnv(t)

	resp := env.request(t, http.MethodPost, "/api/v1/auth/ws-ticket", nil)
	body := decodeBody(t, resp)
	ticket, _ := body["ticket"].(string)
	if ticket == "" {
		t.Fatal("empty ticket")
	}

	if !env.server.validateTicket(ticket) {
		t.Fatal("fresh ticket rejected")
	}
	if env.server.validateTicket(ticket) {
		t.Error("ticket accepted twice")
	}
	if env.server.validateTicket("not-a-jwt") {
		t.Error("garbage ticket accepted")
	}
}

func (e *testEnv) getTicket(t *testing.T) string {
	t.Helper()
	resp := e.request(t, http.MethodPost, "/api/v1/auth/ws-ticket", nil)
	body := decodeBody(t, resp)
	ticket, _ := body["ticket"].(string)
	if ticket == "" {
		t.Fatal("empty ticket")
	}
	return ticket
}

func (e *testEnv) dialWS(t *testing.T, path string) *websocket.Conn {
	t.Helper()
	wsURL := strings.Replace(e.ts.URL, "http://", "ws://", 1) + path + "?ticket=" + url.QueryEscape(e.getTicket(t))
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dialing %s: %v", path, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	//nolint:errcheck // Deadline on a test connection
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("reading frame: %v", err)
	}
	var frame map[string]any
	if err := json.Unmarshal(data, &frame); err != nil {
		t.Fatalf("frame is not JSON: %v", err)
	}
	return frame
}

func writeFrame(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	if err := conn.WriteJSON(v); err != nil {
		t.Fatalf("writing frame: %v", err)
	}
}

func TestWSRequiresTicket(t *testing.T) {
	env := newTestEnv(t)
	env.applyLivingRoom(t)

	wsURL := strings.Replace(env.ts.URL, "http://", "ws://", 1) + "/ws/device/living-room"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatal("dial without ticket succeeded")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 handshake response, got %v", resp)
	}
}

func TestDeviceWS(t *testing.T) {
	env := newTestEnv(t)
	env.applyLivingRoom(t)

	conn := env.dialWS(t, "/ws/device/living-room")

	writeFrame(t, conn, map[string]any{"subscribe": []string{"lamp"}})
	ack := readFrame(t, conn)
	if ack["subscribed_device"] != "lamp" {
		t.Fatalf("ack = %v", ack)
	}

	// Unknown device names produce an error frame but keep the channel open.
	writeFrame(t, conn, map[string]any{"subscribe": []string{"ghost"}})
	errFrame := readFrame(t, conn)
	if _, ok := errFrame["error"]; !ok {
		t.Fatalf("expected error frame, got %v", errFrame)
	}

	env.broadcaster.Broadcast("living-room", "lamp", map[string]any{"type": "switch", "on": true})

	push := readFrame(t, conn)
	if push["device"] != "lamp" || push["room_id"] != "living-room" {
		t.Fatalf("push = %v", push)
	}
	state, _ := push["state"].(map[string]any)
	if state["on"] != true {
		t.Errorf("state = %v", state)
	}
}

func TestControlWS(t *testing.T) {
	env := newTestEnv(t)
	env.applyLivingRoom(t)

	conn := env.dialWS(t, "/ws/control/living-room")

	writeFrame(t, conn, map[string]any{"device": "lamp", "action": "on"})
	reply := readFrame(t, conn)
	if reply["status"] != "ok" || reply["device"] != "lamp" {
		t.Fatalf("reply = %v", reply)
	}

	// Errors keep the channel open.
	writeFrame(t, conn, map[string]any{"device": "lamp", "action": "explode"})
	reply = readFrame(t, conn)
	if _, ok := reply["error"]; !ok {
		t.Fatalf("expected error frame, got %v", reply)
	}

	writeFrame(t, conn, map[string]any{"device": "lamp", "action": "off"})
	reply = readFrame(t, conn)
	if reply["status"] != "ok" {
		t.Fatalf("reply after error = %v", reply)
	}
}

func TestGroupWS(t *testing.T) {
	env := newTestEnv(t)
	env.applyLivingRoom(t)

	conn := env.dialWS(t, "/ws/group/living-room")
	writeFrame(t, conn, map[string]any{
		"subscribe":         []string{"1/1/1"},
		"subscribe_devices": []string{"lamp"},
	})

	// The subscription frame is processed asynchronously; give the
	// handler a moment before delivering the telegram.
	time.Sleep(200 * time.Millisecond)

	ga, err := knx.ParseGroupAddress("1/1/1")
	if err != nil {
		t.Fatalf("parsing address: %v", err)
	}
	gw := env.dialer.conn("tcp://gw1:6720")
	gw.deliver(knx.NewWriteTelegram(ga, []byte{0x01}))

	sawGA := false
	sawDevice := false
	for i := 0; i < 2; i++ {
		frame := readFrame(t, conn)
		switch {
		case frame["group_address"] == "1/1/1":
			sawGA = true
			if frame["value"] != 1.0 {
				t.Errorf("value = %v, want 1", frame["value"])
			}
		case frame["device"] == "lamp":
			sawDevice = true
			state, _ := frame["state"].(map[string]any)
			if state["on"] != true {
				t.Errorf("device state = %v", state)
			}
			// Addresses serialize to canonical strings, same as the
			// device channel and the state endpoint.
			if state["address"] != "1/1/1" {
				t.Errorf("state address = %v (%T), want \"1/1/1\"", state["address"], state["address"])
			}
		default:
			t.Errorf("unexpected frame: %v", frame)
		}
	}
	if !sawGA || !sawDevice {
		t.Errorf("sawGA=%v sawDevice=%v", sawGA, sawDevice)
	}
}

func TestWSUnknownRoom(t *testing.T) {
	env := newTestEnv(t)

	conn := env.dialWS(t, "/ws/device/nowhere")
	frame := readFrame(t, conn)
	if _, ok := frame["error"]; !ok {
		t.Fatalf("expected error frame, got %v", frame)
	}
}
