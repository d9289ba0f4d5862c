package ws

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/secretary/wa-bridge/internal/broadcast"
)

// Connection represents a single dashboard WebSocket connection together
// with its broadcast subscription and a write mutex serializing outbound
// frames.
type Connection struct {
	ID        string
	Conn      net.Conn
	Sub       *broadcast.Subscriber
	CreatedAt time.Time

	writeMu    sync.Mutex
	lastActive atomic.Int64 // unix nanos of last inbound frame
}

// Touch records inbound activity for heartbeat staleness checks.
func (c *Connection) Touch() { c.lastActive.Store(time.Now().UnixNano()) }

// LastActive returns the time of the last inbound frame.
func (c *Connection) LastActive() time.Time { return time.Unix(0, c.lastActive.Load()) }

// WriteMessage sends a WebSocket text frame to this connection. The write
// mutex ensures concurrent goroutines do not interleave frame bytes.
func (c *Connection) WriteMessage(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return wsutil.WriteServerMessage(c.Conn, ws.OpText, data)
}

// WritePing sends a WebSocket protocol-level ping frame (opcode 0x9).
func (c *Connection) WritePing() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return ws.WriteFrame(c.Conn, ws.NewPingFrame(nil))
}

// Close closes the underlying network connection.
func (c *Connection) Close() error {
	return c.Conn.Close()
}

// Manager is a thread-safe registry of active dashboard connections.
type Manager struct {
	mu   sync.RWMutex
	byID map[string]*Connection
}

// NewManager creates an empty connection registry.
func NewManager() *Manager {
	return &Manager{byID: make(map[string]*Connection)}
}

// Add registers a connection.
func (m *Manager) Add(c *Connection) {
	m.mu.Lock()
	m.byID[c.ID] = c
	m.mu.Unlock()
}

// Remove removes a connection by ID and closes it. Returns true if the
// connection was found, false if it was already gone. The guard prevents
// double cleanup when a read error and the heartbeat race to remove the
// same connection.
func (m *Manager) Remove(id string) bool {
	m.mu.Lock()
	conn, ok := m.byID[id]
	if ok {
		delete(m.byID, id)
	}
	m.mu.Unlock()

	if ok {
		conn.Close()
	}
	return ok
}

// Get returns the connection for the given ID, or nil.
func (m *Manager) Get(id string) *Connection {
	m.mu.RLock()
	conn := m.byID[id]
	m.mu.RUnlock()
	return conn
}

// Count returns the number of active connections.
func (m *Manager) Count() int {
	m.mu.RLock()
	n := len(m.byID)
	m.mu.RUnlock()
	return n
}

// All returns a snapshot of all current connections, safe to iterate
// without holding the lock.
func (m *Manager) All() []*Connection {
	m.mu.RLock()
	conns := make([]*Connection, 0, len(m.byID))
	for _, conn := range m.byID {
		conns = append(conns, conn)
	}
	m.mu.RUnlock()
	return conns
}
