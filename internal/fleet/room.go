package fleet

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/fernwood-systems/knxfleet/internal/broadcast"
	"github.com/fernwood-systems/knxfleet/internal/knx"
	"github.com/fernwood-systems/knxfleet/internal/resolver"
)

// Logger is the minimal logging interface this package needs.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// GatewayConn is the bus connection a room operates on. *knx.Gateway
// implements it; tests substitute a mock.
type GatewayConn interface {
	knx.Sender
	AddListener(fn func(knx.Telegram)) int
	RemoveListener(id int)
	IsConnected() bool
	Stats() knx.GatewayStats
	Close() error
}

// Dialer opens a gateway connection for a room.
type Dialer func(ctx context.Context, cfg knx.GatewayConfig) (GatewayConn, error)

// defaultDialer connects through the real gateway client.
func defaultDialer(logger Logger) Dialer {
	return func(ctx context.Context, cfg knx.GatewayConfig) (GatewayConn, error) {
		return knx.Dial(ctx, cfg, logger)
	}
}

// StateSink receives resolved device snapshots for mirroring (MQTT,
// time-series). Called from the room dispatch goroutine; must not block.
type StateSink func(roomID, device string, state map[string]any)

// RoomOptions carries the collaborators a room needs.
type RoomOptions struct {
	// Dialer opens the gateway connection. Defaults to the real client.
	Dialer Dialer

	// Gateway carries dial tuning (attempts, delays). Address is taken
	// from the room configuration.
	Gateway knx.GatewayConfig

	// Broadcaster receives state changes for subscribed devices.
	Broadcaster *broadcast.Broadcaster

	// Resolvers computes device snapshots.
	Resolvers *resolver.Registry

	// StateSink, when set, receives every changed-device snapshot
	// regardless of subscriptions.
	StateSink StateSink

	Logger Logger
}

// Room is one gateway connection plus the devices configured behind it.
//
// Invariant: the device list is non-empty only while the gateway handle
// exists. Disconnect clears both together.
//
// Thread Safety:
//   - Initialize and Disconnect may be called from any goroutine.
//   - Device state updates run on the gateway's dispatch goroutine.
type Room struct {
	cfg  knx.RoomConfig
	opts RoomOptions

	mu         sync.RWMutex
	gateway    GatewayConn
	devices    []knx.Device
	listenerID int
}

// NewRoom builds a room from its configuration. No connection is made
// until Initialize.
func NewRoom(cfg knx.RoomConfig, opts RoomOptions) *Room {
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}
	if opts.Dialer == nil {
		opts.Dialer = defaultDialer(opts.Logger)
	}
	return &Room{cfg: cfg, opts: opts}
}

// ID returns the room identifier.
func (r *Room) ID() string { return r.cfg.RoomID }

// Config returns the room's configuration record.
func (r *Room) Config() knx.RoomConfig { return r.cfg }

// Initialize dials the gateway and instantiates the configured devices.
//
// Device records with unsupported type tags are logged and skipped; the
// rest of the room still comes up. Any other instantiation failure (bad
// group address, missing field) aborts initialization and tears the
// connection back down. Dial failures are wrapped in ErrRoomUnreachable.
func (r *Room) Initialize(ctx context.Context) error {
	gwCfg := r.opts.Gateway
	gwCfg.Address = r.cfg.GatewayAddress

	conn, err := r.opts.Dialer(ctx, gwCfg)
	if err != nil {
		return fmt.Errorf("%w: room %q: %w", ErrRoomUnreachable, r.cfg.RoomID, err)
	}

	devices := make([]knx.Device, 0, len(r.cfg.Devices))
	for _, dc := range r.cfg.Devices {
		dev, err := knx.NewDevice(dc, conn)
		if err != nil {
			if errors.Is(err, knx.ErrUnsupportedDeviceType) {
				r.opts.Logger.Warn("skipping device with unsupported type",
					"room", r.cfg.RoomID, "device", dc.Name, "type", string(dc.Type))
				continue
			}
			conn.Close()
			return fmt.Errorf("room %q device %q: %w", r.cfg.RoomID, dc.Name, err)
		}
		devices = append(devices, dev)
	}

	r.mu.Lock()
	r.gateway = conn
	r.devices = devices
	r.listenerID = conn.AddListener(r.dispatch)
	r.mu.Unlock()

	r.opts.Logger.Info("room initialized",
		"room", r.cfg.RoomID, "gateway", r.cfg.GatewayAddress, "devices", len(devices))
	return nil
}

// dispatch routes one telegram to every device in the room and pushes
// snapshots for the ones whose state changed. Runs on the gateway's
// dispatch goroutine.
func (r *Room) dispatch(t knx.Telegram) {
	r.mu.RLock()
	devices := r.devices
	r.mu.RUnlock()

	for _, dev := range devices {
		if !dev.HandleTelegram(t) {
			continue
		}

		watched := r.opts.Broadcaster != nil && r.opts.Broadcaster.HasSubscribers(r.cfg.RoomID, dev.Name())
		if !watched && r.opts.StateSink == nil {
			continue
		}

		snapshot := r.opts.Resolvers.Resolve(dev)
		if watched {
			r.opts.Broadcaster.Enqueue(r.cfg.RoomID, dev.Name(), snapshot)
		}
		if r.opts.StateSink != nil {
			r.opts.StateSink(r.cfg.RoomID, dev.Name(), snapshot)
		}
	}
}

// Disconnect tears the room down: unregisters the dispatch listener,
// closes the gateway and clears the device list. Idempotent.
func (r *Room) Disconnect() error {
	r.mu.Lock()
	conn := r.gateway
	listenerID := r.listenerID
	r.gateway = nil
	r.devices = nil
	r.listenerID = 0
	r.mu.Unlock()

	if conn == nil {
		return nil
	}

	conn.RemoveListener(listenerID)
	if err := conn.Close(); err != nil {
		r.opts.Logger.Warn("gateway close failed", "room", r.cfg.RoomID, "error", err)
		return err
	}

	r.opts.Logger.Info("room disconnected", "room", r.cfg.RoomID)
	return nil
}

// DeviceByName finds a device by name.
func (r *Room) DeviceByName(name string) (knx.Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, dev := range r.devices {
		if dev.Name() == name {
			return dev, true
		}
	}
	return nil, false
}

// Devices returns the room's device list.
func (r *Room) Devices() []knx.Device {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]knx.Device, len(r.devices))
	copy(out, r.devices)
	return out
}

// Connected reports whether the room's gateway connection is up.
func (r *Room) Connected() bool {
	r.mu.RLock()
	conn := r.gateway
	r.mu.RUnlock()
	return conn != nil && conn.IsConnected()
}

// Stats returns gateway counters, or zeroes when disconnected.
func (r *Room) Stats() knx.GatewayStats {
	r.mu.RLock()
	conn := r.gateway
	r.mu.RUnlock()
	if conn == nil {
		return knx.GatewayStats{}
	}
	return conn.Stats()
}

// AddListener registers an extra telegram listener on the room's gateway.
// Used by group-level subscription channels.
func (r *Room) AddListener(fn func(knx.Telegram)) (int, error) {
	r.mu.RLock()
	conn := r.gateway
	r.mu.RUnlock()
	if conn == nil {
		return 0, fmt.Errorf("%w: room %q", ErrNotConnected, r.cfg.RoomID)
	}
	return conn.AddListener(fn), nil
}

// RemoveListener unregisters a listener added with AddListener. A no-op
// once the room is disconnected.
func (r *Room) RemoveListener(id int) {
	r.mu.RLock()
	conn := r.gateway
	r.mu.RUnlock()
	if conn != nil {
		conn.RemoveListener(id)
	}
}
