package fleet

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/fernwood-systems/knxfleet/internal/knx"
)

// Apply outcome statuses.
const (
	StatusComplete = "complete"
	StatusPartial  = "partial"
)

// ApplyResult reports the outcome of applying a fleet configuration.
type ApplyResult struct {
	// Status is "complete" when every requested room came up, "partial"
	// otherwise.
	Status string `json:"status"`

	// Configured counts rooms that initialized successfully.
	Configured int `json:"configured"`

	// FailedRooms lists the rooms that failed, in request order.
	FailedRooms []string `json:"failed_rooms"`
}

// ConfigStore persists the applied fleet configuration across restarts.
type ConfigStore interface {
	SaveRooms(ctx context.Context, rooms []knx.RoomConfig) error
}

// ManagerOptions carries the collaborators shared by all rooms plus the
// optional persistence hook.
type ManagerOptions struct {
	Room RoomOptions

	// Store, when set, receives the applied configuration after every
	// successful mutation. Persistence failures are logged, not fatal.
	Store ConfigStore

	Logger Logger
}

// Manager owns the fleet of rooms and orchestrates configuration changes.
//
// Configuration application is best-effort: each room succeeds or fails
// independently, and one unreachable gateway never blocks the others. A
// full Apply is not atomic; callers see the outcome in ApplyResult.
//
// Thread Safety:
//   - All methods are safe for concurrent use. Mutations serialize on an
//     internal mutex.
type Manager struct {
	mu       sync.Mutex
	rooms    map[string]*Room
	snapshot []knx.RoomConfig

	opts ManagerOptions
}

// NewManager creates an empty fleet manager.
func NewManager(opts ManagerOptions) *Manager {
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}
	if opts.Room.Logger == nil {
		opts.Room.Logger = opts.Logger
	}
	return &Manager{
		rooms: make(map[string]*Room),
		opts:  opts,
	}
}

// Apply replaces the entire fleet with the requested configuration.
//
// Existing rooms are torn down first (teardown failures are logged and do
// not stop the pass). Each requested room is then built and initialized in
// order; a room that fails validation or initialization is recorded in
// FailedRooms and leaves no registry entry. The requested configuration is
// persisted as the new snapshot even when some rooms failed, so a restart
// retries them.
func (m *Manager) Apply(ctx context.Context, cfgs []knx.RoomConfig) ApplyResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, room := range m.rooms {
		if err := room.Disconnect(); err != nil {
			m.opts.Logger.Warn("room teardown failed", "room", id, "error", err)
		}
		delete(m.rooms, id)
	}

	result := ApplyResult{FailedRooms: []string{}}
	for _, cfg := range cfgs {
		if err := m.bringUpLocked(ctx, cfg); err != nil {
			m.opts.Logger.Error("room configuration failed",
				"room", cfg.RoomID, "error", err)
			result.FailedRooms = append(result.FailedRooms, cfg.RoomID)
			continue
		}
		result.Configured++
	}

	result.Status = StatusComplete
	if len(result.FailedRooms) > 0 {
		result.Status = StatusPartial
	}

	m.snapshot = append([]knx.RoomConfig{}, cfgs...)
	m.persistLocked(ctx)

	m.opts.Logger.Info("fleet configuration applied",
		"status", result.Status,
		"configured", result.Configured,
		"failed", len(result.FailedRooms))
	return result
}

// bringUpLocked validates, builds and initializes one room, replacing any
// existing entry with the same ID.
func (m *Manager) bringUpLocked(ctx context.Context, cfg knx.RoomConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	if existing, ok := m.rooms[cfg.RoomID]; ok {
		if err := existing.Disconnect(); err != nil {
			m.opts.Logger.Warn("room teardown failed", "room", cfg.RoomID, "error", err)
		}
		delete(m.rooms, cfg.RoomID)
	}

	room := NewRoom(cfg, m.opts.Room)
	if err := room.Initialize(ctx); err != nil {
		return err
	}

	m.rooms[cfg.RoomID] = room
	return nil
}

// AddOrReplace connects a single room, replacing any existing room with
// the same ID. On success the stored snapshot is updated; on failure the
// registry keeps no entry for the ID and the snapshot is unchanged.
func (m *Manager) AddOrReplace(ctx context.Context, cfg knx.RoomConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.bringUpLocked(ctx, cfg); err != nil {
		return err
	}

	replaced := false
	for i := range m.snapshot {
		if m.snapshot[i].RoomID == cfg.RoomID {
			m.snapshot[i] = cfg
			replaced = true
			break
		}
	}
	if !replaced {
		m.snapshot = append(m.snapshot, cfg)
	}
	m.persistLocked(ctx)
	return nil
}

// Remove disconnects a room and drops it from the fleet.
func (m *Manager) Remove(ctx context.Context, roomID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	room, ok := m.rooms[roomID]
	if !ok {
		return fmt.Errorf("%w: %q", ErrRoomNotFound, roomID)
	}

	if err := room.Disconnect(); err != nil {
		m.opts.Logger.Warn("room teardown failed", "room", roomID, "error", err)
	}
	delete(m.rooms, roomID)

	kept := m.snapshot[:0]
	for _, cfg := range m.snapshot {
		if cfg.RoomID != roomID {
			kept = append(kept, cfg)
		}
	}
	m.snapshot = kept
	m.persistLocked(ctx)
	return nil
}

// persistLocked saves the current snapshot when a store is configured.
func (m *Manager) persistLocked(ctx context.Context) {
	if m.opts.Store == nil {
		return
	}
	if err := m.opts.Store.SaveRooms(ctx, m.snapshot); err != nil {
		m.opts.Logger.Error("configuration snapshot save failed", "error", err)
	}
}

// Room looks a live room up by ID.
func (m *Manager) Room(roomID string) (*Room, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	room, ok := m.rooms[roomID]
	return room, ok
}

// Rooms returns the live rooms sorted by ID.
func (m *Manager) Rooms() []*Room {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*Room, 0, len(m.rooms))
	for _, room := range m.rooms {
		out = append(out, room)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Snapshot returns the applied configuration.
func (m *Manager) Snapshot() []knx.RoomConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]knx.RoomConfig{}, m.snapshot...)
}

// Shutdown disconnects every room. The snapshot is left untouched so the
// fleet comes back on the next start.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, room := range m.rooms {
		if err := room.Disconnect(); err != nil {
			m.opts.Logger.Warn("room teardown failed", "room", id, "error", err)
		}
		delete(m.rooms, id)
	}
}
