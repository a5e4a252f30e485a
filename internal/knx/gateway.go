package knx

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"sync"
	"sync/atomic"
	"time"
)

// closeOnce wraps a channel with sync.Once to prevent double-close panics.
type closeOnce struct {
	ch   chan struct{}
	once sync.Once
}

func newCloseOnce() *closeOnce {
	return &closeOnce{ch: make(chan struct{})}
}

func (c *closeOnce) Close() {
	c.once.Do(func() { close(c.ch) })
}

func (c *closeOnce) Done() <-chan struct{} {
	return c.ch
}

// Defaults for gateway communication.
const (
	defaultDialAttempts    = 3
	defaultDialBaseDelay   = 500 * time.Millisecond
	defaultConnectTimeout  = 10 * time.Second
	defaultReadTimeout     = 30 * time.Second
	defaultWriteTimeout    = 5 * time.Second
	maxReconnectInterval   = 30 * time.Second
	readBufferSize         = 256
	dispatchQueueSize      = 256
)

// GatewayConfig holds connection settings for one gateway.
type GatewayConfig struct {
	// Address is the gateway endpoint URL:
	//   - "tcp://host:6720"
	//   - "unix:///run/knxd"
	Address string

	// DialAttempts bounds the number of connection attempts before Dial
	// gives up. Default: 3.
	DialAttempts int

	// DialBaseDelay is the wait after the first failed attempt; it
	// doubles after each subsequent failure. Default: 500ms.
	DialBaseDelay time.Duration

	// ConnectTimeout bounds each individual attempt. Default: 10s.
	ConnectTimeout time.Duration

	// ReadTimeout is the timeout for read operations on the established
	// connection. Default: 30s.
	ReadTimeout time.Duration
}

func (cfg *GatewayConfig) applyDefaults() {
	if cfg.DialAttempts <= 0 {
		cfg.DialAttempts = defaultDialAttempts
	}
	if cfg.DialBaseDelay <= 0 {
		cfg.DialBaseDelay = defaultDialBaseDelay
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = defaultReadTimeout
	}
}

// GatewayStats holds operational counters for one gateway connection.
type GatewayStats struct {
	TelegramsTx      uint64
	TelegramsRx      uint64
	TelegramsDropped uint64
	ErrorsTotal      uint64
	ReconnectsTotal  uint64
	LastActivity     time.Time
	Connected        bool
	Reconnecting     bool
}

// Logger is the minimal logging interface this package needs.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// noopLogger discards everything.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Gateway is a connection to one KNX gateway daemon speaking the eibd
// group-socket protocol.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Listeners run on a single dispatch goroutine, so each listener sees
//     telegrams in bus order.
//
// Reconnection:
//   - Dial makes a bounded number of attempts and fails hard afterwards.
//   - Once established, a lost connection is re-established in the
//     background with doubling backoff capped at 30s, until Close.
type Gateway struct {
	cfg GatewayConfig

	conn      net.Conn
	connMu    sync.RWMutex
	connected bool

	reconnecting atomic.Bool

	listeners  map[int]func(Telegram)
	nextID     int
	listenerMu sync.RWMutex

	// queue feeds the single dispatch goroutine.
	queue chan Telegram

	done *closeOnce
	wg   sync.WaitGroup

	logger Logger

	telegramsTx      atomic.Uint64
	telegramsRx      atomic.Uint64
	telegramsDropped atomic.Uint64
	errorsTotal      atomic.Uint64
	reconnectsTotal  atomic.Uint64
	lastActivity     atomic.Int64
}

var _ Sender = (*Gateway)(nil)

// Dial connects to a gateway, making at most cfg.DialAttempts attempts
// with doubling delay between failures.
//
// On success the returned Gateway is receiving telegrams. On exhaustion it
// returns ErrConnectionFailed wrapping the last attempt's error.
func Dial(ctx context.Context, cfg GatewayConfig, logger Logger) (*Gateway, error) {
	cfg.applyDefaults()
	if logger == nil {
		logger = noopLogger{}
	}

	network, address, err := parseGatewayURL(cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	var lastErr error
	delay := cfg.DialBaseDelay
	for attempt := 1; attempt <= cfg.DialAttempts; attempt++ {
		conn, err := dialAndOpen(ctx, network, address, cfg)
		if err == nil {
			g := &Gateway{
				cfg:       cfg,
				conn:      conn,
				connected: true,
				listeners: make(map[int]func(Telegram)),
				queue:     make(chan Telegram, dispatchQueueSize),
				done:      newCloseOnce(),
				logger:    logger,
			}
			g.lastActivity.Store(time.Now().Unix())

			g.wg.Add(1)
			go g.dispatchLoop()
			g.wg.Add(1)
			go g.receiveLoop()

			return g, nil
		}

		lastErr = err
		logger.Warn("gateway dial attempt failed",
			"address", cfg.Address, "attempt", attempt, "error", err)

		if attempt == cfg.DialAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, ctx.Err())
		case <-time.After(delay):
		}
		delay *= 2
	}

	return nil, fmt.Errorf("%w: %s after %d attempts: %w",
		ErrConnectionFailed, cfg.Address, cfg.DialAttempts, lastErr)
}

// parseGatewayURL splits a gateway URL into network and address.
func parseGatewayURL(raw string) (network, address string, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", fmt.Errorf("invalid gateway URL: %w", err)
	}

	switch u.Scheme {
	case "unix":
		return "unix", u.Path, nil
	case "tcp":
		host := u.Host
		if host == "" {
			return "", "", fmt.Errorf("gateway URL %q has no host", raw)
		}
		return "tcp", host, nil
	default:
		return "", "", fmt.Errorf("unsupported scheme %q (use tcp or unix)", u.Scheme)
	}
}

// dialAndOpen makes one connection attempt including the group-socket
// handshake.
func dialAndOpen(ctx context.Context, network, address string, cfg GatewayConfig) (net.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	var dialer net.Dialer
	conn, err := dialer.DialContext(dialCtx, network, address)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	if err := openGroupSocket(dialCtx, conn, cfg.ReadTimeout); err != nil {
		conn.Close()
		return nil, fmt.Errorf("handshake: %w", err)
	}
	return conn, nil
}

// openGroupSocket performs the MsgOpenGroupCon handshake on a fresh
// connection. write_only=0x00 selects bidirectional group communication.
func openGroupSocket(ctx context.Context, conn net.Conn, readTimeout time.Duration) error {
	msg := EncodeFrame(MsgOpenGroupCon, []byte{0x00, 0x00, 0x00})

	writeDeadline := time.Now().Add(defaultWriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(writeDeadline) {
		writeDeadline = d
	}
	if err := conn.SetWriteDeadline(writeDeadline); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if _, err := conn.Write(msg); err != nil {
		return fmt.Errorf("write: %w", err)
	}

	readDeadline := time.Now().Add(readTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(readDeadline) {
		readDeadline = d
	}
	if err := conn.SetReadDeadline(readDeadline); err != nil {
		return fmt.Errorf("set read deadline: %w", err)
	}

	sizeBytes := make([]byte, 2)
	if _, err := io.ReadFull(conn, sizeBytes); err != nil {
		return fmt.Errorf("read response size: %w", err)
	}
	msgSize := binary.BigEndian.Uint16(sizeBytes)
	if msgSize < 2 {
		return fmt.Errorf("invalid response size %d", msgSize)
	}

	resp := make([]byte, 2+int(msgSize))
	copy(resp[:2], sizeBytes)
	if _, err := io.ReadFull(conn, resp[2:]); err != nil {
		return fmt.Errorf("read response body: %w", err)
	}

	msgType, _, err := ParseFrame(resp)
	if err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	if msgType != MsgOpenGroupCon {
		return fmt.Errorf("unexpected response type 0x%04X", msgType)
	}
	return nil
}

// AddListener registers a telegram listener and returns its id for later
// removal. The listener runs on the dispatch goroutine; it must not block.
func (g *Gateway) AddListener(fn func(Telegram)) int {
	g.listenerMu.Lock()
	defer g.listenerMu.Unlock()
	g.nextID++
	id := g.nextID
	g.listeners[id] = fn
	return id
}

// RemoveListener unregisters a listener. Unknown ids are ignored.
func (g *Gateway) RemoveListener(id int) {
	g.listenerMu.Lock()
	defer g.listenerMu.Unlock()
	delete(g.listeners, id)
}

// receiveLoop reads frames until shutdown, reconnecting on fatal errors.
func (g *Gateway) receiveLoop() {
	defer g.wg.Done()

	buf := make([]byte, readBufferSize)

	for {
		select {
		case <-g.done.Done():
			return
		default:
		}

		msgType, payload, err := g.readFrame(buf)
		if err != nil {
			if !g.handleReadError(err) {
				continue
			}
			if g.isClosed() {
				return
			}
			if !g.reconnect() {
				return
			}
			continue
		}

		// Receive format: src(2) + GA(2) + APDU(2+).
		if msgType == MsgGroupPacket && len(payload) >= 6 {
			g.handleGroupPacket(payload)
		}
	}
}

// readFrame reads one gateway message into buf.
// An oversized frame means the stream can no longer be framed safely and
// returns ErrProtocolDesync, which forces a reconnect.
func (g *Gateway) readFrame(buf []byte) (uint16, []byte, error) {
	conn := g.currentConn()
	if conn == nil {
		return 0, nil, ErrNotConnected
	}

	if err := conn.SetReadDeadline(time.Now().Add(g.cfg.ReadTimeout)); err != nil {
		return 0, nil, fmt.Errorf("set deadline: %w", err)
	}

	if _, err := io.ReadFull(conn, buf[:2]); err != nil {
		return 0, nil, fmt.Errorf("read size: %w", err)
	}

	msgSize := binary.BigEndian.Uint16(buf[:2])
	if msgSize < 2 {
		g.errorsTotal.Add(1)
		return 0, nil, fmt.Errorf("invalid frame size %d", msgSize)
	}

	totalLen := 2 + int(msgSize)
	if totalLen > len(buf) {
		g.errorsTotal.Add(1)
		return 0, nil, ErrProtocolDesync
	}

	if _, err := io.ReadFull(conn, buf[2:totalLen]); err != nil {
		return 0, nil, fmt.Errorf("read frame: %w", err)
	}

	msgType, payload, err := ParseFrame(buf[:totalLen])
	if err != nil {
		g.logger.Error("frame parse failed", "error", err)
		g.errorsTotal.Add(1)
		return 0, nil, nil // recoverable
	}
	return msgType, payload, nil
}

// handleReadError reports whether the error is fatal for the current
// connection.
func (g *Gateway) handleReadError(err error) bool {
	if err == nil {
		return false
	}
	if g.isClosed() {
		return true
	}

	if errors.Is(err, ErrProtocolDesync) {
		g.logger.Error("protocol desync, closing connection", "error", err)
		if conn := g.currentConn(); conn != nil {
			conn.Close()
		}
		g.markDisconnected()
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return false // idle bus, keep reading
	}

	g.logger.Error("gateway read failed", "error", err)
	g.errorsTotal.Add(1)
	g.markDisconnected()
	return true
}

// handleGroupPacket parses a received telegram and queues it for dispatch.
// A full queue drops the telegram rather than stalling the read loop.
func (g *Gateway) handleGroupPacket(payload []byte) {
	telegram, err := ParseTelegram(payload)
	if err != nil {
		g.logger.Error("telegram parse failed", "error", err)
		g.errorsTotal.Add(1)
		return
	}

	g.telegramsRx.Add(1)
	g.lastActivity.Store(time.Now().Unix())

	select {
	case g.queue <- telegram:
	default:
		g.logger.Warn("dispatch queue full, dropping telegram", "destination", telegram.Destination.String())
		g.telegramsDropped.Add(1)
		g.errorsTotal.Add(1)
	}
}

// dispatchLoop delivers queued telegrams to listeners. A single goroutine
// keeps every listener's view in bus order.
func (g *Gateway) dispatchLoop() {
	defer g.wg.Done()

	for {
		select {
		case <-g.done.Done():
			return
		case telegram := <-g.queue:
			g.listenerMu.RLock()
			fns := make([]func(Telegram), 0, len(g.listeners))
			for _, fn := range g.listeners {
				fns = append(fns, fn)
			}
			g.listenerMu.RUnlock()

			for _, fn := range fns {
				g.invokeListener(fn, telegram)
			}
		}
	}
}

func (g *Gateway) invokeListener(fn func(Telegram), t Telegram) {
	defer func() {
		if r := recover(); r != nil {
			g.logger.Error("telegram listener panic", "panic", fmt.Sprintf("%v", r))
		}
	}()
	fn(t)
}

// reconnect re-establishes a lost connection with doubling backoff.
// Returns false when shutdown was signalled.
func (g *Gateway) reconnect() bool {
	if !g.reconnecting.CompareAndSwap(false, true) {
		return !g.isClosed()
	}
	defer g.reconnecting.Store(false)

	network, address, err := parseGatewayURL(g.cfg.Address)
	if err != nil {
		g.logger.Error("reconnect: invalid gateway URL", "error", err)
		return false
	}

	backoff := g.cfg.DialBaseDelay
	for attempt := 1; ; attempt++ {
		if g.isClosed() {
			return false
		}

		g.logger.Info("attempting gateway reconnection",
			"address", g.cfg.Address, "attempt", attempt, "backoff", backoff.String())

		g.closeCurrentConn()

		conn, err := dialAndOpen(context.Background(), network, address, g.cfg)
		if err != nil {
			g.errorsTotal.Add(1)
			select {
			case <-g.done.Done():
				return false
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxReconnectInterval {
				backoff = maxReconnectInterval
			}
			continue
		}

		if !g.installConn(conn) {
			return false
		}

		g.reconnectsTotal.Add(1)
		g.lastActivity.Store(time.Now().Unix())
		g.logger.Info("gateway reconnected", "address", g.cfg.Address)
		return true
	}
}

// installConn publishes a freshly dialled connection. Close may race the
// dial; the shutdown check runs under connMu so a connection dialled
// after Close swept g.conn is discarded instead of leaking.
func (g *Gateway) installConn(conn net.Conn) bool {
	g.connMu.Lock()
	if g.isClosed() {
		g.connMu.Unlock()
		conn.Close()
		return false
	}
	g.conn = conn
	g.connected = true
	g.connMu.Unlock()
	return true
}

func (g *Gateway) currentConn() net.Conn {
	g.connMu.RLock()
	defer g.connMu.RUnlock()
	return g.conn
}

func (g *Gateway) closeCurrentConn() {
	g.connMu.Lock()
	if g.conn != nil {
		g.conn.Close()
		g.conn = nil
	}
	g.connMu.Unlock()
}

func (g *Gateway) markDisconnected() {
	g.connMu.Lock()
	wasConnected := g.connected
	g.connected = false
	g.connMu.Unlock()

	if wasConnected {
		g.logger.Info("gateway connection lost", "address", g.cfg.Address)
	}
}

func (g *Gateway) isClosed() bool {
	select {
	case <-g.done.Done():
		return true
	default:
		return false
	}
}

// Close shuts the connection down. Safe to call multiple times.
func (g *Gateway) Close() error {
	g.done.Close()

	g.connMu.Lock()
	g.connected = false
	conn := g.conn
	g.connMu.Unlock()

	if conn != nil {
		conn.Close()
	}

	g.wg.Wait()
	return nil
}

// Send sends a group write telegram.
func (g *Gateway) Send(ctx context.Context, ga GroupAddress, data []byte) error {
	if !g.IsConnected() {
		return ErrNotConnected
	}
	return g.sendTelegram(ctx, NewWriteTelegram(ga, data))
}

// SendRead sends a group read request.
func (g *Gateway) SendRead(ctx context.Context, ga GroupAddress) error {
	if !g.IsConnected() {
		return ErrNotConnected
	}
	return g.sendTelegram(ctx, NewReadTelegram(ga))
}

func (g *Gateway) sendTelegram(ctx context.Context, t Telegram) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrTelegramFailed, ctx.Err())
	default:
	}

	msg := EncodeFrame(MsgGroupPacket, t.Encode())

	conn := g.currentConn()
	if conn == nil {
		return ErrNotConnected
	}

	deadline := time.Now().Add(defaultWriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("%w: set deadline: %w", ErrTelegramFailed, err)
	}

	if _, err := conn.Write(msg); err != nil {
		g.errorsTotal.Add(1)
		return fmt.Errorf("%w: write: %w", ErrTelegramFailed, err)
	}

	g.telegramsTx.Add(1)
	g.lastActivity.Store(time.Now().Unix())
	return nil
}

// IsConnected reports whether the gateway connection is up.
func (g *Gateway) IsConnected() bool {
	g.connMu.RLock()
	defer g.connMu.RUnlock()
	return g.connected
}

// Stats returns current operational counters.
func (g *Gateway) Stats() GatewayStats {
	return GatewayStats{
		TelegramsTx:      g.telegramsTx.Load(),
		TelegramsRx:      g.telegramsRx.Load(),
		TelegramsDropped: g.telegramsDropped.Load(),
		ErrorsTotal:      g.errorsTotal.Load(),
		ReconnectsTotal:  g.reconnectsTotal.Load(),
		LastActivity:     time.Unix(g.lastActivity.Load(), 0),
		Connected:        g.IsConnected(),
		Reconnecting:     g.reconnecting.Load(),
	}
}
