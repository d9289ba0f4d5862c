package ws

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/secretary/wa-bridge/internal/protocol"
)

// FrameHandler handles one parsed client frame.
type FrameHandler func(c *Connection, frame *protocol.Frame)

// Dispatcher routes inbound dashboard frames by type. The keepalive ping is
// handled internally; malformed frames are logged and dropped without
// closing the channel.
type Dispatcher struct {
	server   *Server
	handlers map[string]FrameHandler
}

// NewDispatcher creates a Dispatcher bound to the given server.
func NewDispatcher(server *Server) *Dispatcher {
	return &Dispatcher{
		server:   server,
		handlers: make(map[string]FrameHandler),
	}
}

// Register associates a handler with a frame type, replacing any previous
// handler for that type.
func (d *Dispatcher) Register(frameType string, handler FrameHandler) {
	d.handlers[frameType] = handler
}

// Dispatch parses the raw bytes and routes the frame. Parse errors are soft:
// the client gets an error frame and the connection stays open.
func (d *Dispatcher) Dispatch(c *Connection, data []byte) {
	frame, err := protocol.Parse(data)
	if err != nil {
		log.Printf("ws: dispatch parse error id=%s: %v", c.ID, err)
		d.sendError(c, "parse_error", "invalid frame format")
		return
	}

	if frame.Type == protocol.TypePing {
		d.handlePing(c, frame)
		return
	}

	handler, ok := d.handlers[frame.Type]
	if !ok {
		log.Printf("ws: unsupported frame type=%q id=%s", frame.Type, c.ID)
		d.sendError(c, "unsupported_type", "unsupported frame type")
		return
	}

	handler(c, frame)
}

// handlePing answers the keepalive, records the client's last seen sequence
// number, and refreshes presence.
func (d *Dispatcher) handlePing(c *Connection, frame *protocol.Frame) {
	var ping protocol.PingData
	if len(frame.Data) > 0 {
		_ = json.Unmarshal(frame.Data, &ping)
	}
	if ping.Seq > 0 {
		c.Sub.Ack(ping.Seq)
	}
	c.Sub.Touch()

	if d.server.presence != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := d.server.presence.Touch(ctx, c.ID, ping.Seq); err != nil {
			log.Printf("ws: presence touch for %s: %v", c.ID, err)
		}
		cancel()
	}

	pong, err := protocol.New(protocol.TypePong, nil)
	if err != nil {
		log.Printf("ws: build pong id=%s: %v", c.ID, err)
		return
	}
	if err := c.WriteMessage(pong); err != nil {
		log.Printf("ws: send pong id=%s: %v", c.ID, err)
	}
}

// sendError sends a structured error frame back to the client. Failures are
// logged, not propagated.
func (d *Dispatcher) sendError(c *Connection, code, message string) {
	data, err := protocol.New(protocol.TypeError, protocol.ErrorData{
		Code:    code,
		Message: message,
	})
	if err != nil {
		log.Printf("ws: build error frame id=%s: %v", c.ID, err)
		return
	}
	if err := c.WriteMessage(data); err != nil {
		log.Printf("ws: send error frame id=%s: %v", c.ID, err)
	}
}
