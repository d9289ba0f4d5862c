package client

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/secretary/wa-bridge/internal/protocol"
)

func newTestTransport() *Transport {
	return New(Config{Endpoint: "ws://test.invalid/ws"})
}

func TestHandleFrame_MalformedFrameDoesNotStopDispatch(t *testing.T) {
	tr := newTestTransport()

	var mu sync.Mutex
	var got []uint64
	tr.On(protocol.TypeNewMessage, func(frame *protocol.Frame) {
		mu.Lock()
		got = append(got, frame.Seq)
		mu.Unlock()
	})

	tr.handleFrame([]byte(`{"type":"new_message","seq":1,"data":{"body":"a"},"timestamp":1}`))
	tr.handleFrame([]byte(`{not json`))
	tr.handleFrame([]byte(`{"data":{"body":"missing type"}}`))
	tr.handleFrame([]byte(`{"type":"new_message","seq":2,"data":{"body":"b"},"timestamp":2}`))

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Fatalf("dispatched seqs = %v, want [1 2] with malformed frames dropped", got)
	}
}

func TestHandleFrame_TracksHighestSeq(t *testing.T) {
	tr := newTestTransport()

	tr.handleFrame([]byte(`{"type":"new_message","seq":5,"timestamp":1}`))
	tr.handleFrame([]byte(`{"type":"new_message","seq":3,"timestamp":2}`))
	tr.handleFrame([]byte(`{"type":"whatsapp_status","seq":7,"timestamp":3}`))

	if got := tr.LastSeq(); got != 7 {
		t.Fatalf("LastSeq = %d, want 7 (highest seen, never regressing)", got)
	}
}

func TestHandleFrame_PongRecordsHeartbeat(t *testing.T) {
	tr := newTestTransport()

	_, pongBefore := tr.HeartbeatState()
	if !pongBefore.IsZero() {
		t.Fatal("pong timestamp should start zero")
	}

	tr.handleFrame([]byte(`{"type":"pong","timestamp":1}`))

	_, pongAfter := tr.HeartbeatState()
	if pongAfter.IsZero() {
		t.Fatal("pong frame should record a heartbeat timestamp")
	}
}

func TestDispatch_ListenerPanicIsolated(t *testing.T) {
	tr := newTestTransport()

	var mu sync.Mutex
	calls := 0
	tr.On(protocol.TypeStatus, func(frame *protocol.Frame) {
		panic("listener bug")
	})
	tr.On(protocol.TypeStatus, func(frame *protocol.Frame) {
		mu.Lock()
		calls++
		mu.Unlock()
	})

	tr.handleFrame([]byte(`{"type":"whatsapp_status","seq":1,"timestamp":1}`))
	tr.handleFrame([]byte(`{"type":"whatsapp_status","seq":2,"timestamp":2}`))

	mu.Lock()
	defer mu.Unlock()
	if calls != 2 {
		t.Fatalf("second listener ran %d times, want 2 (panics in siblings isolated)", calls)
	}
}

func TestDispatch_UnknownTypeIgnored(t *testing.T) {
	tr := newTestTransport()
	// No listener registered; must not panic.
	tr.handleFrame([]byte(`{"type":"never_seen","timestamp":1}`))
}

func TestSend_FailsWhenNotConnected(t *testing.T) {
	tr := newTestTransport()
	if err := tr.Send(protocol.TypePing, protocol.PingData{}); err != ErrNotConnected {
		t.Fatalf("Send without connection = %v, want ErrNotConnected", err)
	}
}

func TestScheduleReconnect_ExhaustionIsTerminal(t *testing.T) {
	tr := New(Config{
		Endpoint: "ws://test.invalid/ws",
		Policy:   ReconnectPolicy{BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, MaxAttempts: 2},
	})

	failed := make(chan struct{}, 1)
	tr.On(protocol.TypeConnectionFailed, func(frame *protocol.Frame) {
		failed <- struct{}{}
	})

	tr.mu.Lock()
	tr.attempts = tr.policy.MaxAttempts // limit already reached
	tr.mu.Unlock()

	tr.scheduleReconnect()

	select {
	case <-failed:
	case <-time.After(time.Second):
		t.Fatal("no connection_failed frame after exhausting attempts")
	}
	if err := tr.LastError(); err != ErrMaxReconnects {
		t.Fatalf("LastError = %v, want ErrMaxReconnects", err)
	}
}

func TestCloseError_Message(t *testing.T) {
	e := &CloseError{Code: 1006, Reason: "connection reset"}
	if got := e.Error(); !strings.Contains(got, "1006") || !strings.Contains(got, "connection reset") {
		t.Errorf("Error() = %q", got)
	}
	bare := &CloseError{Code: 1001}
	if got := bare.Error(); !strings.Contains(got, "1001") {
		t.Errorf("Error() = %q", got)
	}
}

func TestShouldReconnect_CloseCodes(t *testing.T) {
	cases := []struct {
		code int
		want bool
	}{
		{1000, false}, // normal closure: stay down
		{1001, true},
		{1006, true}, // abnormal closure: reconnect
		{1011, true},
	}
	for _, c := range cases {
		if got := shouldReconnect(c.code); got != c.want {
			t.Errorf("shouldReconnect(%d) = %v, want %v", c.code, got, c.want)
		}
	}
}

func TestEmitLocal_SynthesizesConnectionFrames(t *testing.T) {
	tr := newTestTransport()

	var mu sync.Mutex
	var infos []string
	tr.On(protocol.TypeConnectionError, func(frame *protocol.Frame) {
		mu.Lock()
		infos = append(infos, string(frame.Data))
		mu.Unlock()
	})

	tr.emitLocal(protocol.TypeConnectionError, ConnectionInfo{
		Error:    "dial tcp: refused",
		Attempts: 2,
	})

	mu.Lock()
	defer mu.Unlock()
	if len(infos) != 1 {
		t.Fatalf("got %d connection_error frames, want 1", len(infos))
	}
}
