package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/secretary/wa-bridge/internal/event"
	"github.com/secretary/wa-bridge/internal/wa"
)

// fakeAdapter is a scripted adapter: tests drive authentication by pushing
// callbacks through the handler the factory captured.
type fakeAdapter struct {
	mu         sync.Mutex
	initErr    error
	sendErr    error
	destroyed  bool
	sentTo     []string
	chats      []wa.Chat
	messages   map[string][]wa.Message
	chatCalls  int
	fetchCalls int
}

func (f *fakeAdapter) Initialize(ctx context.Context) error { return f.initErr }

func (f *fakeAdapter) SendMessage(ctx context.Context, chatID, text, mediaPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sentTo = append(f.sentTo, chatID)
	return nil
}

func (f *fakeAdapter) GetChats(ctx context.Context) ([]wa.Chat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chatCalls++
	return f.chats, nil
}

func (f *fakeAdapter) GetChatMessages(ctx context.Context, chatID string, limit int) ([]wa.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchCalls++
	msgs := f.messages[chatID]
	if len(msgs) > limit {
		msgs = msgs[:limit]
	}
	return msgs, nil
}

func (f *fakeAdapter) Destroy() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.destroyed = true
	return nil
}

// capturePublisher records every published event in order.
type capturePublisher struct {
	mu     sync.Mutex
	events []event.Event
}

func (p *capturePublisher) Publish(ev event.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

func (p *capturePublisher) all() []event.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]event.Event, len(p.events))
	copy(out, p.events)
	return out
}

func (p *capturePublisher) statuses() []event.StatusChange {
	var out []event.StatusChange
	for _, ev := range p.all() {
		if ev.Kind == event.KindStatus {
			out = append(out, *ev.Status)
		}
	}
	return out
}

// newTestManager wires a manager to a fake adapter and capture publisher.
// The returned callback handle pushes adapter events as if the runner did.
func newTestManager(t *testing.T, adapter *fakeAdapter) (*Manager, *capturePublisher, *wa.CallbackHandler) {
	t.Helper()
	pub := &capturePublisher{}
	var handler wa.CallbackHandler
	factory := func(onEvent wa.CallbackHandler) (wa.Adapter, error) {
		handler = onEvent
		return adapter, nil
	}
	m := NewManager(factory, pub)
	return m, pub, &handler
}

func push(t *testing.T, handler *wa.CallbackHandler, eventName string, payload interface{}) {
	t.Helper()
	var data json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		data = b
	}
	(*handler)(wa.Callback{Event: eventName, Data: data})
}

func TestInitialize_HappyPathStateSequence(t *testing.T) {
	adapter := &fakeAdapter{}
	m, pub, handler := newTestManager(t, adapter)

	if err := m.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if s, _ := m.State(); s != StateConnecting {
		t.Fatalf("state after initialize = %v, want connecting", s)
	}

	push(t, handler, wa.EventQR, wa.QRPayload{QR: "qr-data-1"})
	if s, _ := m.State(); s != StateConnecting {
		t.Errorf("state after qr = %v, want connecting (qr is not a transition)", s)
	}
	if m.QRCode() != "qr-data-1" {
		t.Errorf("QRCode = %q, want qr-data-1", m.QRCode())
	}

	push(t, handler, wa.EventAuthenticated, nil)
	if s, _ := m.State(); s != StateAwaitingAuth {
		t.Errorf("state after authenticated = %v, want awaiting_auth", s)
	}

	push(t, handler, wa.EventReady, nil)
	if s, _ := m.State(); s != StateReady {
		t.Errorf("state after ready = %v, want ready", s)
	}
	if m.QRCode() != "" {
		t.Errorf("QR should be cleared once ready, got %q", m.QRCode())
	}

	// connecting, awaiting_auth, ready: one status per transition, and the
	// QR challenge emitted exactly once in between.
	statuses := pub.statuses()
	wantStates := []string{"connecting", "awaiting_auth", "ready"}
	if len(statuses) != len(wantStates) {
		t.Fatalf("got %d status events, want %d: %+v", len(statuses), len(wantStates), statuses)
	}
	for i, want := range wantStates {
		if statuses[i].State != want {
			t.Errorf("status[%d].State = %q, want %q", i, statuses[i].State, want)
		}
	}
	if !statuses[2].Connected {
		t.Error("ready status should report connected=true")
	}

	qrCount := 0
	for _, ev := range pub.all() {
		if ev.Kind == event.KindQR {
			qrCount++
		}
	}
	if qrCount != 1 {
		t.Errorf("got %d qr events, want 1", qrCount)
	}
}

func TestInitialize_RejectsWhileActive(t *testing.T) {
	adapter := &fakeAdapter{}
	m, _, handler := newTestManager(t, adapter)

	if err := m.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if err := m.Initialize(context.Background()); !errors.Is(err, ErrAlreadyActive) {
		t.Fatalf("second initialize = %v, want ErrAlreadyActive", err)
	}

	push(t, handler, wa.EventReady, nil)
	if err := m.Initialize(context.Background()); !errors.Is(err, ErrAlreadyActive) {
		t.Fatalf("initialize while ready = %v, want ErrAlreadyActive", err)
	}
}

func TestInitialize_FactoryFailureResetsToDisconnected(t *testing.T) {
	pub := &capturePublisher{}
	boom := fmt.Errorf("no runner binary")
	failCount := 0
	factory := func(onEvent wa.CallbackHandler) (wa.Adapter, error) {
		failCount++
		if failCount == 1 {
			return nil, boom
		}
		return &fakeAdapter{}, nil
	}
	m := NewManager(factory, pub)

	if err := m.Initialize(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("initialize = %v, want factory error", err)
	}
	if s, _ := m.State(); s != StateDisconnected {
		t.Fatalf("state after factory failure = %v, want disconnected", s)
	}

	// Failure must leave the machine retryable.
	if err := m.Initialize(context.Background()); err != nil {
		t.Fatalf("retry after failure: %v", err)
	}
	if s, _ := m.State(); s != StateConnecting {
		t.Fatalf("state after retry = %v, want connecting", s)
	}
}

func TestInitialize_StartupFailureTearsDownAdapter(t *testing.T) {
	adapter := &fakeAdapter{initErr: fmt.Errorf("spawn failed")}
	m, _, _ := newTestManager(t, adapter)

	if err := m.Initialize(context.Background()); err == nil {
		t.Fatal("initialize should surface startup error")
	}
	if s, _ := m.State(); s != StateDisconnected {
		t.Fatalf("state after startup failure = %v, want disconnected", s)
	}
	if !adapter.destroyed {
		t.Error("failed adapter should be destroyed")
	}
	if m.Status().HasActiveSession {
		t.Error("no active session should remain after startup failure")
	}
}

func TestCommands_RejectedOutsideReady(t *testing.T) {
	adapter := &fakeAdapter{}
	m, _, _ := newTestManager(t, adapter)

	ctx := context.Background()
	if err := m.SendMessage(ctx, "chat-1", "hi", ""); !errors.Is(err, ErrNotReady) {
		t.Errorf("SendMessage while idle = %v, want ErrNotReady", err)
	}
	if _, err := m.ListChats(ctx); !errors.Is(err, ErrNotReady) {
		t.Errorf("ListChats while idle = %v, want ErrNotReady", err)
	}
	if _, err := m.ListMessages(ctx, "chat-1", 10); !errors.Is(err, ErrNotReady) {
		t.Errorf("ListMessages while idle = %v, want ErrNotReady", err)
	}
	if _, err := m.SearchMessages(ctx, "q", ""); !errors.Is(err, ErrNotReady) {
		t.Errorf("SearchMessages while idle = %v, want ErrNotReady", err)
	}

	// The guard must fire before any adapter interaction.
	if len(adapter.sentTo) != 0 || adapter.chatCalls != 0 || adapter.fetchCalls != 0 {
		t.Error("rejected commands must not touch the adapter")
	}
}

func TestSendMessage_WrapsDeliveryFailure(t *testing.T) {
	cause := fmt.Errorf("runner timeout")
	adapter := &fakeAdapter{sendErr: cause}
	m, _, handler := newTestManager(t, adapter)

	if err := m.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	push(t, handler, wa.EventReady, nil)

	err := m.SendMessage(context.Background(), "chat-1", "hi", "")
	var derr *DeliveryError
	if !errors.As(err, &derr) {
		t.Fatalf("SendMessage = %v, want DeliveryError", err)
	}
	if !errors.Is(err, cause) {
		t.Error("DeliveryError should wrap the adapter cause")
	}
}

func TestHandleCallback_ExactlyOneEventPerMessage(t *testing.T) {
	adapter := &fakeAdapter{}
	m, pub, handler := newTestManager(t, adapter)
	if err := m.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	push(t, handler, wa.EventReady, nil)
	before := len(pub.all())

	push(t, handler, wa.EventNewMessage, wa.Message{
		ID: "m1", ChatID: "chat-1", Body: "hello", FromMe: false,
	})
	push(t, handler, wa.EventNewMessage, wa.Message{
		ID: "m2", ChatID: "chat-1", Body: "echo of own send", FromMe: true,
	})
	push(t, handler, wa.EventMessageSent, wa.AckPayload{
		ChatID: "chat-1", MessageID: "m3", Body: "sent",
	})

	evs := pub.all()[before:]
	if len(evs) != 3 {
		t.Fatalf("got %d events for 3 callbacks, want 3", len(evs))
	}
	if evs[0].Kind != event.KindInbound {
		t.Errorf("evs[0].Kind = %s, want new_message", evs[0].Kind)
	}
	if evs[1].Kind != event.KindOutboundAck {
		t.Errorf("fromMe message should become an ack, got %s", evs[1].Kind)
	}
	if evs[2].Kind != event.KindOutboundAck {
		t.Errorf("evs[2].Kind = %s, want message_sent", evs[2].Kind)
	}
}

func TestHandleCallback_AuthFailure(t *testing.T) {
	adapter := &fakeAdapter{}
	m, pub, handler := newTestManager(t, adapter)
	if err := m.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	push(t, handler, wa.EventQR, wa.QRPayload{QR: "qr-1"})
	push(t, handler, wa.EventAuthFailure, wa.FailurePayload{Message: "bad session"})

	s, reason := m.State()
	if s != StateDisconnected {
		t.Fatalf("state after auth failure = %v, want disconnected", s)
	}
	if reason != "auth_failed" {
		t.Errorf("reason = %q, want auth_failed", reason)
	}
	if m.QRCode() != "" {
		t.Error("QR should be cleared on auth failure")
	}

	statuses := pub.statuses()
	last := statuses[len(statuses)-1]
	if last.State != "disconnected" || last.Connected || last.Connecting {
		t.Errorf("last status = %+v, want disconnected with both booleans false", last)
	}
}

func TestSearchMessages_BoundedContainment(t *testing.T) {
	adapter := &fakeAdapter{
		chats: []wa.Chat{{ID: "c1"}, {ID: "c2"}},
		messages: map[string][]wa.Message{
			"c1": {
				{ID: "a1", ChatID: "c1", Body: "Lunch tomorrow?"},
				{ID: "a2", ChatID: "c1", Body: "about the INVOICE"},
				{ID: "a3", ChatID: "c1", Body: "invoice attached"},
			},
			"c2": {
				{ID: "b1", ChatID: "c2", Body: "hello"},
				{ID: "b2", ChatID: "c2", Body: "nothing relevant"},
			},
		},
	}
	m, _, handler := newTestManager(t, adapter)
	if err := m.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	push(t, handler, wa.EventReady, nil)

	results, err := m.SearchMessages(context.Background(), "invoice", "")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2 (case-insensitive containment)", len(results))
	}
	for _, r := range results {
		if r.ChatID != "c1" {
			t.Errorf("result tagged with chat %q, want c1", r.ChatID)
		}
	}

	// Scoped search only touches the named chat.
	scoped, err := m.SearchMessages(context.Background(), "hello", "c2")
	if err != nil {
		t.Fatalf("scoped search: %v", err)
	}
	if len(scoped) != 1 || scoped[0].Message.ID != "b1" {
		t.Fatalf("scoped results = %+v, want exactly b1", scoped)
	}
}

func TestSearchMessages_ResultCap(t *testing.T) {
	msgs := make([]wa.Message, 30)
	for i := range msgs {
		msgs[i] = wa.Message{ID: fmt.Sprintf("m%d", i), ChatID: "c1", Body: "match me"}
	}
	adapter := &fakeAdapter{
		chats:    []wa.Chat{{ID: "c1"}},
		messages: map[string][]wa.Message{"c1": msgs},
	}

	pub := &capturePublisher{}
	var handler wa.CallbackHandler
	factory := func(onEvent wa.CallbackHandler) (wa.Adapter, error) {
		handler = onEvent
		return adapter, nil
	}
	m := NewManager(factory, pub, WithSearchLimits(100, 10))

	if err := m.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	push(t, &handler, wa.EventReady, nil)

	results, err := m.SearchMessages(context.Background(), "match", "")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 10 {
		t.Fatalf("got %d results, want cap of 10", len(results))
	}
}

func TestDisconnect_IdempotentTeardown(t *testing.T) {
	adapter := &fakeAdapter{}
	m, pub, handler := newTestManager(t, adapter)

	// Disconnect with nothing running is a silent no-op.
	if err := m.Disconnect(); err != nil {
		t.Fatalf("idle disconnect: %v", err)
	}
	if len(pub.all()) != 0 {
		t.Errorf("idle disconnect emitted %d events, want 0", len(pub.all()))
	}

	if err := m.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	push(t, handler, wa.EventReady, nil)

	if err := m.Disconnect(); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	if !adapter.destroyed {
		t.Error("disconnect should destroy the adapter")
	}
	if s, _ := m.State(); s != StateIdle {
		t.Fatalf("state after disconnect = %v, want idle", s)
	}

	countBefore := len(pub.all())
	if err := m.Disconnect(); err != nil {
		t.Fatalf("second disconnect: %v", err)
	}
	if len(pub.all()) != countBefore {
		t.Error("repeated disconnect should not emit further events")
	}
}

func TestEmit_SequenceNumbersMonotonic(t *testing.T) {
	adapter := &fakeAdapter{}
	m, pub, handler := newTestManager(t, adapter)
	if err := m.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	push(t, handler, wa.EventQR, wa.QRPayload{QR: "qr"})
	push(t, handler, wa.EventAuthenticated, nil)
	push(t, handler, wa.EventReady, nil)
	push(t, handler, wa.EventNewMessage, wa.Message{ID: "m1", ChatID: "c1", Body: "x"})

	evs := pub.all()
	if len(evs) < 5 {
		t.Fatalf("expected at least 5 events, got %d", len(evs))
	}
	for i, ev := range evs {
		if ev.Seq != uint64(i+1) {
			t.Fatalf("event %d has seq %d, want %d", i, ev.Seq, i+1)
		}
	}
}

func TestStatus_BooleanView(t *testing.T) {
	adapter := &fakeAdapter{}
	m, _, handler := newTestManager(t, adapter)

	st := m.Status()
	if st.Connected || st.Connecting || st.HasActiveSession {
		t.Errorf("idle status = %+v, want all false", st)
	}

	if err := m.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	st = m.Status()
	if !st.Connecting || st.Connected {
		t.Errorf("connecting status = %+v", st)
	}
	if !st.HasActiveSession {
		t.Error("active adapter should report hasActiveSession")
	}

	push(t, handler, wa.EventReady, nil)
	st = m.Status()
	if !st.Connected || st.Connecting {
		t.Errorf("ready status = %+v", st)
	}
}
