package ws

import (
	"net"
	"testing"
	"time"

	"github.com/gobwas/ws/wsutil"

	"github.com/secretary/wa-bridge/internal/broadcast"
	"github.com/secretary/wa-bridge/internal/protocol"
)

// readFrame reads one server frame from the client side of the pipe with a
// deadline so a missing reply fails the test instead of hanging it.
func readFrame(t *testing.T, client net.Conn) *protocol.Frame {
	t.Helper()
	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	data, err := wsutil.ReadServerText(client)
	if err != nil {
		t.Fatalf("read server frame: %v", err)
	}
	frame, err := protocol.Parse(data)
	if err != nil {
		t.Fatalf("parse server frame: %v", err)
	}
	return frame
}

func TestDispatch_PingGetsPongAndAck(t *testing.T) {
	b := broadcast.New(8)
	d := NewDispatcher(&Server{})
	c, client := newPipeConnection("conn-1", b)
	defer client.Close()

	go d.Dispatch(c, []byte(`{"type":"ping","data":{"seq":17},"timestamp":1}`))

	frame := readFrame(t, client)
	if frame.Type != protocol.TypePong {
		t.Fatalf("reply type = %q, want pong", frame.Type)
	}
	if got := c.Sub.LastAck(); got != 17 {
		t.Fatalf("ping seq not acked: LastAck = %d, want 17", got)
	}
}

func TestDispatch_MalformedFrameSoftError(t *testing.T) {
	b := broadcast.New(8)
	d := NewDispatcher(&Server{})
	c, client := newPipeConnection("conn-1", b)
	defer client.Close()

	go d.Dispatch(c, []byte(`{broken`))

	frame := readFrame(t, client)
	if frame.Type != protocol.TypeError {
		t.Fatalf("reply type = %q, want error", frame.Type)
	}

	// The channel stays open: a valid ping afterwards still works.
	go d.Dispatch(c, []byte(`{"type":"ping","timestamp":2}`))
	frame = readFrame(t, client)
	if frame.Type != protocol.TypePong {
		t.Fatalf("reply after soft error = %q, want pong", frame.Type)
	}
}

func TestDispatch_UnsupportedTypeError(t *testing.T) {
	b := broadcast.New(8)
	d := NewDispatcher(&Server{})
	c, client := newPipeConnection("conn-1", b)
	defer client.Close()

	go d.Dispatch(c, []byte(`{"type":"mystery","timestamp":1}`))

	frame := readFrame(t, client)
	if frame.Type != protocol.TypeError {
		t.Fatalf("reply type = %q, want error", frame.Type)
	}
}

func TestDispatch_RegisteredHandlerInvoked(t *testing.T) {
	b := broadcast.New(8)
	d := NewDispatcher(&Server{})
	c, client := newPipeConnection("conn-1", b)
	defer client.Close()

	got := make(chan *protocol.Frame, 1)
	d.Register("subscribe", func(conn *Connection, frame *protocol.Frame) {
		got <- frame
	})

	d.Dispatch(c, []byte(`{"type":"subscribe","timestamp":1}`))

	select {
	case frame := <-got:
		if frame.Type != "subscribe" {
			t.Fatalf("handler got type %q", frame.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("handler not invoked")
	}
}
