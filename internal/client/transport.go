// Package client implements the dashboard-side resilient push channel: it
// dials the bridge's WebSocket endpoint, dispatches inbound frames to typed
// listeners, keeps the channel alive with periodic pings, and reconnects
// with exponential backoff when the connection drops. Commands issued while
// the channel is down are dropped with a warning; there is no outbound
// queueing across disconnects.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/secretary/wa-bridge/internal/metrics"
	"github.com/secretary/wa-bridge/internal/protocol"
)

// ErrNotConnected is returned by Send when the channel is not open. The
// frame is dropped, not queued.
var ErrNotConnected = errors.New("client: channel not open")

// DefaultPingInterval is the keepalive cadence. Its purpose is to keep
// intermediary proxies from timing the channel out; pong arrival is
// recorded but no pong timeout is enforced.
const DefaultPingInterval = 30 * time.Second

// Listener receives frames of one type. Panics inside a listener are
// recovered and logged so one faulty listener cannot break dispatch to the
// others.
type Listener func(frame *protocol.Frame)

// ConnectionInfo is the payload of locally synthesized connection frames.
type ConnectionInfo struct {
	Connected bool   `json:"connected"`
	Code      int    `json:"code,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Error     string `json:"error,omitempty"`
	Attempts  int    `json:"attempts,omitempty"`
}

// Config tunes a Transport.
type Config struct {
	Endpoint     string // resolved via ResolveEndpoint when empty
	Policy       ReconnectPolicy
	PingInterval time.Duration
}

// Transport is the client side of the push channel. Zero value is not
// usable; construct with New.
type Transport struct {
	endpoint     string
	policy       ReconnectPolicy
	pingInterval time.Duration

	mu             sync.Mutex
	conn           net.Conn
	dialing        bool
	closed         bool
	listeners      map[string][]Listener
	attempts       int
	reconnectTimer *time.Timer
	pingCancel     context.CancelFunc
	lastErr        error

	writeMu sync.Mutex

	lastSeq      atomic.Uint64
	lastPingSent atomic.Int64
	lastPongSeen atomic.Int64
}

// New creates a Transport. The endpoint is resolved by the fixed override →
// environment → default precedence.
func New(cfg Config) *Transport {
	policy := cfg.Policy
	if policy.BaseDelay <= 0 {
		policy = DefaultReconnectPolicy()
	}
	interval := cfg.PingInterval
	if interval <= 0 {
		interval = DefaultPingInterval
	}
	return &Transport{
		endpoint:     ResolveEndpoint(cfg.Endpoint),
		policy:       policy,
		pingInterval: interval,
		listeners:    make(map[string][]Listener),
	}
}

// Endpoint returns the resolved WebSocket endpoint.
func (t *Transport) Endpoint() string { return t.endpoint }

// On registers a listener for the given frame type. Locally synthesized
// types ("connection", "connection_error", "connection_failed") can be
// subscribed the same way as wire types.
func (t *Transport) On(frameType string, l Listener) {
	t.mu.Lock()
	t.listeners[frameType] = append(t.listeners[frameType], l)
	t.mu.Unlock()
}

// Connected reports whether the channel is currently open.
func (t *Transport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn != nil
}

// LastSeq returns the highest event sequence number seen on this channel.
func (t *Transport) LastSeq() uint64 { return t.lastSeq.Load() }

// LastError returns the most recent channel failure: a *CloseError after an
// unexpected closure, ErrMaxReconnects once the attempt limit is reached, nil
// while connected.
func (t *Transport) LastError() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastErr
}

// HeartbeatState returns the last ping-sent and pong-received times (zero
// when none yet).
func (t *Transport) HeartbeatState() (pingSent, pongSeen time.Time) {
	if v := t.lastPingSent.Load(); v != 0 {
		pingSent = time.Unix(0, v)
	}
	if v := t.lastPongSeen.Load(); v != 0 {
		pongSeen = time.Unix(0, v)
	}
	return pingSent, pongSeen
}

// Connect opens the channel. It is a no-op when already open or while a
// dial is in flight. On success the reconnect attempt counter resets, the
// heartbeat starts, and a local connection{connected:true} frame is
// dispatched. A dial failure emits connection_error and schedules a
// reconnect.
func (t *Transport) Connect(ctx context.Context) error {
	t.mu.Lock()
	if t.conn != nil || t.dialing {
		t.mu.Unlock()
		return nil
	}
	t.dialing = true
	t.closed = false
	t.mu.Unlock()

	conn, _, _, err := ws.Dial(ctx, t.endpoint)

	t.mu.Lock()
	t.dialing = false
	if err != nil {
		t.mu.Unlock()
		log.Printf("client: dial %s failed: %v", t.endpoint, err)
		t.emitLocal(protocol.TypeConnectionError, ConnectionInfo{Error: err.Error()})
		t.scheduleReconnect()
		return err
	}
	if t.closed {
		// Disconnect won the race; discard the fresh connection silently.
		t.mu.Unlock()
		conn.Close()
		return ErrNotConnected
	}
	t.conn = conn
	t.attempts = 0
	t.lastErr = nil
	pingCtx, cancel := context.WithCancel(context.Background())
	t.pingCancel = cancel
	t.mu.Unlock()

	go t.readLoop(conn)
	go t.pingLoop(pingCtx, conn)

	log.Printf("client: connected to %s", t.endpoint)
	t.emitLocal(protocol.TypeConnection, ConnectionInfo{Connected: true})
	return nil
}

// Send serializes and writes a frame immediately if the channel is open.
// When it is not, the frame is dropped with a warning and ErrNotConnected.
func (t *Transport) Send(frameType string, data interface{}) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()

	if conn == nil {
		log.Printf("client: send %q dropped, channel not open", frameType)
		return ErrNotConnected
	}

	frame, err := protocol.New(frameType, data)
	if err != nil {
		return err
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return wsutil.WriteClientMessage(conn, ws.OpText, frame)
}

// Disconnect performs an intentional shutdown: it cancels any pending
// reconnect timer, stops the heartbeat, closes the transport with the
// normal closure code, clears all listeners, and resets the attempt
// counter. After it returns no further frames or reconnect attempts fire.
func (t *Transport) Disconnect() {
	t.mu.Lock()
	t.closed = true
	if t.reconnectTimer != nil {
		t.reconnectTimer.Stop()
		t.reconnectTimer = nil
	}
	if t.pingCancel != nil {
		t.pingCancel()
		t.pingCancel = nil
	}
	conn := t.conn
	t.conn = nil
	t.listeners = make(map[string][]Listener)
	t.attempts = 0
	t.mu.Unlock()

	if conn != nil {
		t.writeMu.Lock()
		_ = ws.WriteFrame(conn, ws.NewCloseFrame(ws.NewCloseFrameBody(ws.StatusNormalClosure, "")))
		t.writeMu.Unlock()
		conn.Close()
		log.Printf("client: disconnected")
	}
}

// readLoop consumes frames until the connection fails or closes, then
// decides whether to reconnect based on the close code.
func (t *Transport) readLoop(conn net.Conn) {
	for {
		data, err := wsutil.ReadServerText(conn)
		if err != nil {
			code, reason := closeInfo(err)

			t.mu.Lock()
			intentional := t.closed
			if !intentional {
				t.lastErr = &CloseError{Code: code, Reason: reason}
			}
			if t.conn == conn {
				t.conn = nil
			}
			if t.pingCancel != nil {
				t.pingCancel()
				t.pingCancel = nil
			}
			t.mu.Unlock()
			conn.Close()

			if intentional {
				return
			}

			log.Printf("client: channel closed code=%d reason=%q", code, reason)
			t.emitLocal(protocol.TypeConnection, ConnectionInfo{
				Connected: false,
				Code:      code,
				Reason:    reason,
			})

			if shouldReconnect(code) {
				t.scheduleReconnect()
			}
			return
		}

		t.handleFrame(data)
	}
}

// handleFrame parses and dispatches one inbound frame. Malformed frames are
// logged and dropped; the channel stays open.
func (t *Transport) handleFrame(data []byte) {
	frame, err := protocol.Parse(data)
	if err != nil {
		log.Printf("client: dropping malformed frame: %v", err)
		return
	}

	if frame.Seq > 0 {
		for {
			cur := t.lastSeq.Load()
			if frame.Seq <= cur || t.lastSeq.CompareAndSwap(cur, frame.Seq) {
				break
			}
		}
	}

	if frame.Type == protocol.TypePong {
		// Bookkeeping only: pong arrival is recorded, but absence does not
		// trigger a reconnect.
		t.lastPongSeen.Store(time.Now().UnixNano())
	}

	t.dispatch(frame)
}

// dispatch invokes every listener registered for the frame type, isolating
// panics per listener.
func (t *Transport) dispatch(frame *protocol.Frame) {
	t.mu.Lock()
	listeners := make([]Listener, len(t.listeners[frame.Type]))
	copy(listeners, t.listeners[frame.Type])
	t.mu.Unlock()

	for _, l := range listeners {
		invoke(l, frame)
	}
}

func invoke(l Listener, frame *protocol.Frame) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("client: listener for %q panicked: %v", frame.Type, r)
		}
	}()
	l(frame)
}

// emitLocal dispatches a locally synthesized frame (never sent on the wire).
func (t *Transport) emitLocal(frameType string, info ConnectionInfo) {
	data, err := json.Marshal(info)
	if err != nil {
		return
	}
	t.dispatch(&protocol.Frame{
		Type:      frameType,
		Data:      data,
		Timestamp: time.Now().UnixMilli(),
	})
}

// scheduleReconnect arms the backoff timer for the next attempt. At most
// one timer is pending at a time; once the attempt limit is exhausted a
// terminal connection_failed frame is emitted and no further attempts are
// made.
func (t *Transport) scheduleReconnect() {
	t.mu.Lock()
	if t.closed || t.reconnectTimer != nil {
		t.mu.Unlock()
		return
	}

	t.attempts++
	attempt := t.attempts
	if attempt > t.policy.MaxAttempts {
		t.lastErr = ErrMaxReconnects
		t.mu.Unlock()
		log.Printf("client: giving up after %d reconnect attempts", t.policy.MaxAttempts)
		t.emitLocal(protocol.TypeConnectionFailed, ConnectionInfo{
			Error:    ErrMaxReconnects.Error(),
			Attempts: t.policy.MaxAttempts,
		})
		return
	}

	delay := t.policy.Delay(attempt - 1)
	log.Printf("client: reconnect attempt %d/%d in %s", attempt, t.policy.MaxAttempts, delay)
	metrics.ReconnectAttempts.Inc()

	t.reconnectTimer = time.AfterFunc(delay, func() {
		t.mu.Lock()
		t.reconnectTimer = nil
		closed := t.closed
		t.mu.Unlock()
		if closed {
			return
		}
		// A failed dial schedules the next attempt itself.
		_ = t.Connect(context.Background())
	})
	t.mu.Unlock()
}

// pingLoop sends a keepalive ping frame at the configured interval while
// the connection is open. Each ping echoes the last seen event sequence
// number so the server can track how far behind this client is.
func (t *Transport) pingLoop(ctx context.Context, conn net.Conn) {
	ticker := time.NewTicker(t.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.mu.Lock()
			current := t.conn
			t.mu.Unlock()
			if current != conn {
				return
			}
			if err := t.Send(protocol.TypePing, protocol.PingData{Seq: t.lastSeq.Load()}); err != nil {
				return
			}
			t.lastPingSent.Store(time.Now().UnixNano())
		}
	}
}

// shouldReconnect reports whether a close code warrants automatic
// reconnection. Only a normal, intentional closure does not.
func shouldReconnect(code int) bool {
	return code != int(ws.StatusNormalClosure)
}

// closeInfo extracts the close code and reason from a read error. An error
// without a close frame (connection reset, EOF) maps to the abnormal
// closure code 1006.
func closeInfo(err error) (int, string) {
	var ce wsutil.ClosedError
	if errors.As(err, &ce) {
		return int(ce.Code), ce.Reason
	}
	return int(ws.StatusAbnormalClosure), err.Error()
}
