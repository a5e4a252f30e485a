package broadcast

import (
	"context"
	"encoding/json"
	"sync"
)

// Channel is one subscriber endpoint. Send must not block indefinitely;
// a closed or stalled endpoint returns an error and is pruned.
type Channel interface {
	Send(payload []byte) error
}

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

// key identifies one device within one room.
type key struct {
	roomID string
	device string
}

// event is one queued state change awaiting delivery.
type event struct {
	roomID string
	device string
	state  map[string]any
}

// Broadcaster fans device state changes out to subscribed channels.
//
// Registry invariant: after any public call returns, no key maps to an
// empty channel set. Emptied entries are deleted immediately so an idle
// fleet holds no subscription garbage.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Delivery runs on the single Run goroutine, so frames for one device
//     arrive in enqueue order.
type Broadcaster struct {
	mu   sync.RWMutex
	subs map[key]map[Channel]struct{}

	queueMu sync.Mutex
	queue   []event
	notify  chan struct{}

	logger Logger
}

// New creates a Broadcaster. Run must be started for queued events to be
// delivered.
func New(logger Logger) *Broadcaster {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Broadcaster{
		subs:   make(map[key]map[Channel]struct{}),
		notify: make(chan struct{}, 1),
		logger: logger,
	}
}

// Subscribe registers a channel for one (room, device) pair. Subscribing
// the same channel twice is a no-op.
func (b *Broadcaster) Subscribe(roomID, device string, ch Channel) {
	k := key{roomID: roomID, device: device}

	b.mu.Lock()
	defer b.mu.Unlock()

	set, ok := b.subs[k]
	if !ok {
		set = make(map[Channel]struct{})
		b.subs[k] = set
	}
	set[ch] = struct{}{}
}

// Unsubscribe removes a channel from every key it appears under, deleting
// entries that become empty. Safe to call for channels that were never
// subscribed.
func (b *Broadcaster) Unsubscribe(ch Channel) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.unsubscribeLocked(ch)
}

func (b *Broadcaster) unsubscribeLocked(ch Channel) {
	for k, set := range b.subs {
		if _, ok := set[ch]; ok {
			delete(set, ch)
			if len(set) == 0 {
				delete(b.subs, k)
			}
		}
	}
}

// HasSubscribers reports whether any channel is subscribed to the pair.
// Callers use it to skip snapshot computation for unwatched devices.
func (b *Broadcaster) HasSubscribers(roomID, device string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.subs[key{roomID: roomID, device: device}]
	return ok
}

// Enqueue queues a state change for asynchronous delivery. It never
// blocks, so bus dispatch paths can call it freely.
func (b *Broadcaster) Enqueue(roomID, device string, state map[string]any) {
	b.queueMu.Lock()
	b.queue = append(b.queue, event{roomID: roomID, device: device, state: state})
	b.queueMu.Unlock()

	select {
	case b.notify <- struct{}{}:
	default:
	}
}

// Run consumes the queue until the context is cancelled. Exactly one Run
// goroutine should be active per Broadcaster.
func (b *Broadcaster) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-b.notify:
			for {
				ev, ok := b.dequeue()
				if !ok {
					break
				}
				b.Broadcast(ev.roomID, ev.device, ev.state)
			}
		}
	}
}

func (b *Broadcaster) dequeue() (event, bool) {
	b.queueMu.Lock()
	defer b.queueMu.Unlock()
	if len(b.queue) == 0 {
		return event{}, false
	}
	ev := b.queue[0]
	b.queue = b.queue[1:]
	return ev, true
}

// Broadcast delivers one state change to every channel subscribed to the
// pair. The payload is serialized once; channels failing to accept it are
// removed after the delivery pass. A missing key is a no-op.
func (b *Broadcaster) Broadcast(roomID, device string, state map[string]any) {
	k := key{roomID: roomID, device: device}

	b.mu.RLock()
	set, ok := b.subs[k]
	channels := make([]Channel, 0, len(set))
	for ch := range set {
		channels = append(channels, ch)
	}
	b.mu.RUnlock()

	if !ok || len(channels) == 0 {
		return
	}

	payload, err := json.Marshal(map[string]any{
		"device":  device,
		"room_id": roomID,
		"state":   SerializeSnapshot(state),
	})
	if err != nil {
		b.logger.Error("state payload marshal failed",
			"room", roomID, "device", device, "error", err)
		return
	}

	var failed []Channel
	for _, ch := range channels {
		if err := ch.Send(payload); err != nil {
			failed = append(failed, ch)
		}
	}

	if len(failed) > 0 {
		b.mu.Lock()
		for _, ch := range failed {
			b.unsubscribeLocked(ch)
		}
		b.mu.Unlock()
		b.logger.Debug("pruned dead subscriber channels",
			"room", roomID, "device", device, "count", len(failed))
	}
}

// SubscriberCount returns the number of channels subscribed to the pair.
func (b *Broadcaster) SubscriberCount(roomID, device string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[key{roomID: roomID, device: device}])
}
