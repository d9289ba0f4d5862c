package ws

import (
	"net"
	"testing"
	"time"

	"github.com/secretary/wa-bridge/internal/broadcast"
)

func newPipeConnection(id string, b *broadcast.Broadcaster) (*Connection, net.Conn) {
	server, client := net.Pipe()
	c := &Connection{
		ID:        id,
		Conn:      server,
		Sub:       b.Attach(),
		CreatedAt: time.Now(),
	}
	c.Touch()
	return c, client
}

func TestManager_AddRemoveCount(t *testing.T) {
	b := broadcast.New(8)
	m := NewManager()

	c1, _ := newPipeConnection("conn-1", b)
	c2, _ := newPipeConnection("conn-2", b)
	m.Add(c1)
	m.Add(c2)

	if m.Count() != 2 {
		t.Fatalf("Count = %d, want 2", m.Count())
	}
	if got := m.Get("conn-1"); got != c1 {
		t.Fatal("Get returned wrong connection")
	}
	if got := m.Get("missing"); got != nil {
		t.Fatal("Get for unknown id should return nil")
	}

	if !m.Remove("conn-1") {
		t.Fatal("first Remove should report found")
	}
	if m.Remove("conn-1") {
		t.Fatal("second Remove should report already gone")
	}
	if m.Count() != 1 {
		t.Fatalf("Count after remove = %d, want 1", m.Count())
	}
}

func TestManager_AllReturnsSnapshot(t *testing.T) {
	b := broadcast.New(8)
	m := NewManager()

	c1, _ := newPipeConnection("conn-1", b)
	m.Add(c1)

	snapshot := m.All()
	if len(snapshot) != 1 {
		t.Fatalf("All = %d connections, want 1", len(snapshot))
	}

	// Mutating the registry after the snapshot must not affect it.
	m.Remove("conn-1")
	if len(snapshot) != 1 {
		t.Fatal("snapshot changed after Remove")
	}
}

func TestConnection_TouchUpdatesLastActive(t *testing.T) {
	b := broadcast.New(8)
	c, _ := newPipeConnection("conn-1", b)

	first := c.LastActive()
	time.Sleep(5 * time.Millisecond)
	c.Touch()
	if !c.LastActive().After(first) {
		t.Error("Touch should advance LastActive")
	}
}
