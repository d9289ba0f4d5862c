// Package ws implements the dashboard push channel: it upgrades HTTP
// connections, registers each client as a broadcast subscriber, pumps the
// normalized event stream to it, and dispatches the few frames clients send
// back (keepalive pings). One reader and one writer goroutine per
// connection; dashboard fan-out is small, so no readiness polling is used.
package ws

import (
	"context"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"

	"github.com/secretary/wa-bridge/internal/broadcast"
	"github.com/secretary/wa-bridge/internal/metrics"
	"github.com/secretary/wa-bridge/internal/protocol"
)

// Presence records dashboard connections in an external store so that
// liveness survives process restarts. Implemented by presence.Store; a nil
// Presence disables recording.
type Presence interface {
	Create(ctx context.Context, id string) error
	Touch(ctx context.Context, id string, lastSeq uint64) error
	Delete(ctx context.Context, id string) error
}

// ServerConfig holds tunable parameters for the push server.
type ServerConfig struct {
	MaxConnections    int           // hard cap on concurrent dashboard clients
	WriteTimeout      time.Duration // per-frame write deadline
	HeartbeatInterval time.Duration // server-side ping cadence
	HeartbeatTimeout  time.Duration // extra slack before eviction
}

// DefaultServerConfig returns production defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		MaxConnections:    256,
		WriteTimeout:      10 * time.Second,
		HeartbeatInterval: 30 * time.Second,
		HeartbeatTimeout:  10 * time.Second,
	}
}

// Server owns the dashboard connection registry and bridges the broadcaster
// to each client socket.
type Server struct {
	config      ServerConfig
	broadcaster *broadcast.Broadcaster
	conns       *Manager
	presence    Presence
	dispatcher  *Dispatcher

	// AllowConnect, when set, vetoes upgrades (rate limiting by remote IP).
	AllowConnect func(ctx context.Context, remoteIP string) bool

	// OnConnect, when set, runs after a client is registered; used to send
	// the initial status and QR snapshot frames.
	OnConnect func(c *Connection)

	done chan struct{}
}

// NewServer creates a push server bound to the broadcaster. Presence may be
// nil.
func NewServer(config ServerConfig, b *broadcast.Broadcaster, presence Presence) *Server {
	s := &Server{
		config:      config,
		broadcaster: b,
		conns:       NewManager(),
		presence:    presence,
		done:        make(chan struct{}),
	}
	s.dispatcher = NewDispatcher(s)
	StartHeartbeat(s, config.HeartbeatInterval, config.HeartbeatTimeout)
	return s
}

// Dispatcher returns the frame dispatcher for handler registration.
func (s *Server) Dispatcher() *Dispatcher { return s.dispatcher }

// Connections returns the connection registry.
func (s *Server) Connections() *Manager { return s.conns }

// HandleUpgrade upgrades an HTTP request to a WebSocket connection and
// starts the per-connection pump goroutines. Mount it on the router's /ws
// route.
func (s *Server) HandleUpgrade(w http.ResponseWriter, r *http.Request) {
	if s.conns.Count() >= s.config.MaxConnections {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	if s.AllowConnect != nil {
		ip, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			ip = r.RemoteAddr
		}
		if !s.AllowConnect(r.Context(), ip) {
			http.Error(w, "rate limited", http.StatusTooManyRequests)
			return
		}
	}

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		log.Printf("ws: upgrade failed: %v", err)
		return
	}

	c := &Connection{
		ID:        uuid.New().String(),
		Conn:      conn,
		Sub:       s.broadcaster.Attach(),
		CreatedAt: time.Now(),
	}
	c.Touch()
	s.conns.Add(c)
	metrics.DashboardClients.Set(float64(s.conns.Count()))

	if s.presence != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := s.presence.Create(ctx, c.ID); err != nil {
			log.Printf("ws: presence create for %s: %v", c.ID, err)
		}
		cancel()
	}

	if s.OnConnect != nil {
		s.OnConnect(c)
	}

	go s.writeLoop(c)
	go s.readLoop(c)

	log.Printf("ws: dashboard connected id=%s (total=%d)", c.ID, s.conns.Count())
}

// writeLoop drains the connection's broadcast queue onto the socket in
// order. It exits when the subscriber is detached or a write fails.
func (s *Server) writeLoop(c *Connection) {
	for {
		select {
		case <-s.done:
			return
		case <-c.Sub.Done():
			return
		case ev := <-c.Sub.Events():
			frame, err := protocol.FromEvent(ev)
			if err != nil {
				log.Printf("ws: encode event seq=%d: %v", ev.Seq, err)
				continue
			}
			if s.config.WriteTimeout > 0 {
				_ = c.Conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
			}
			if err := c.WriteMessage(frame); err != nil {
				log.Printf("ws: write to %s failed: %v", c.ID, err)
				s.RemoveConnection(c)
				return
			}
			_ = c.Conn.SetWriteDeadline(time.Time{})
		}
	}
}

// readLoop consumes client frames. Control frames (ping, pong, close) are
// handled by the wsutil reader; data frames go to the dispatcher. Any read
// error removes the connection.
func (s *Server) readLoop(c *Connection) {
	for {
		data, err := wsutil.ReadClientText(c.Conn)
		if err != nil {
			s.RemoveConnection(c)
			return
		}
		c.Touch()
		if len(data) == 0 {
			continue
		}
		s.dispatcher.Dispatch(c, data)
	}
}

// RemoveConnection removes a connection from the registry, detaches its
// broadcast subscription, clears presence, and closes the socket. Safe to
// call multiple times.
func (s *Server) RemoveConnection(c *Connection) {
	if !s.conns.Remove(c.ID) {
		return
	}
	metrics.DashboardClients.Set(float64(s.conns.Count()))

	s.broadcaster.Detach(c.Sub.ID)

	if s.presence != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := s.presence.Delete(ctx, c.ID); err != nil {
			log.Printf("ws: presence delete for %s: %v", c.ID, err)
		}
		cancel()
	}

	log.Printf("ws: dashboard disconnected id=%s (total=%d)", c.ID, s.conns.Count())
}

// Shutdown closes every active connection and stops the heartbeat.
func (s *Server) Shutdown() {
	close(s.done)
	for _, c := range s.conns.All() {
		s.RemoveConnection(c)
	}
	log.Printf("ws: push server stopped")
}
