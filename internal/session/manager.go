// Package session owns the single external WhatsApp session. The Manager
// serializes every lifecycle transition, rejects concurrent initialization,
// translates adapter callbacks into normalized events, and guards command
// operations on the current state. One Manager instance is created per
// process and passed explicitly to its collaborators.
package session

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/secretary/wa-bridge/internal/event"
	"github.com/secretary/wa-bridge/internal/metrics"
	"github.com/secretary/wa-bridge/internal/wa"
)

// Search bounds: how many messages are fetched per chat as candidates, and
// the cap on the aggregate result. Containment match, no ranking.
const (
	DefaultSearchFetchLimit = 100
	DefaultSearchResultCap  = 50
)

// Publisher receives every normalized event the manager emits. Satisfied by
// *broadcast.Broadcaster.
type Publisher interface {
	Publish(ev event.Event)
}

// AdapterFactory constructs a fresh adapter wired to the given callback
// handler. Called once per Initialize so a failed session leaves no stale
// runner behind.
type AdapterFactory func(onEvent wa.CallbackHandler) (wa.Adapter, error)

// SearchResult is one message matched by SearchMessages, tagged with the
// chat it came from.
type SearchResult struct {
	ChatID  string     `json:"chat_id"`
	Message wa.Message `json:"message"`
}

// Manager enforces the session state machine. All state reads and writes go
// through mu; events are emitted outside the lock in transition order.
type Manager struct {
	factory AdapterFactory
	pub     Publisher

	searchFetchLimit int
	searchResultCap  int

	mu      sync.Mutex
	state   State
	reason  string // detail for the disconnected state
	adapter wa.Adapter
	qr      string // last QR payload, cleared once ready

	seq atomic.Uint64
}

// Option tunes a Manager.
type Option func(*Manager)

// WithSearchLimits overrides the per-chat fetch bound and aggregate cap
// used by SearchMessages.
func WithSearchLimits(fetchLimit, resultCap int) Option {
	return func(m *Manager) {
		if fetchLimit > 0 {
			m.searchFetchLimit = fetchLimit
		}
		if resultCap > 0 {
			m.searchResultCap = resultCap
		}
	}
}

// NewManager creates a Manager in the idle state.
func NewManager(factory AdapterFactory, pub Publisher, opts ...Option) *Manager {
	m := &Manager{
		factory:          factory,
		pub:              pub,
		state:            StateIdle,
		searchFetchLimit: DefaultSearchFetchLimit,
		searchResultCap:  DefaultSearchResultCap,
	}
	for _, opt := range opts {
		opt(m)
	}
	metrics.SetSessionState(m.state.String())
	return m
}

// Initialize starts a new session attempt. It fails with ErrAlreadyActive
// unless the state is idle or disconnected. The connecting state is claimed
// atomically before any blocking work begins, and every failure path resets
// the state to disconnected so a retry is always possible.
func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	if m.state != StateIdle && m.state != StateDisconnected {
		m.mu.Unlock()
		return ErrAlreadyActive
	}
	m.state = StateConnecting
	m.reason = ""
	m.mu.Unlock()

	m.emitStatus(StateConnecting, "")

	adapter, err := m.factory(m.handleCallback)
	if err != nil {
		log.Printf("session: adapter construction failed: %v", err)
		m.fail("adapter construction failed")
		return err
	}

	m.mu.Lock()
	m.adapter = adapter
	m.mu.Unlock()

	if err := adapter.Initialize(ctx); err != nil {
		log.Printf("session: adapter startup failed: %v", err)
		m.mu.Lock()
		m.adapter = nil
		m.mu.Unlock()
		if derr := adapter.Destroy(); derr != nil {
			log.Printf("session: teardown after failed startup: %v", derr)
		}
		m.fail("startup failed")
		return err
	}

	log.Printf("session: initializing, waiting for authentication")
	return nil
}

// fail moves the machine to disconnected with the given reason and emits
// the transition.
func (m *Manager) fail(reason string) {
	m.mu.Lock()
	m.state = StateDisconnected
	m.reason = reason
	m.mu.Unlock()
	m.emitStatus(StateDisconnected, reason)
}

// handleCallback translates one adapter callback into at most one state
// transition plus exactly one normalized event per underlying message.
func (m *Manager) handleCallback(cb wa.Callback) {
	switch cb.Event {
	case wa.EventQR:
		var p wa.QRPayload
		if err := json.Unmarshal(cb.Data, &p); err != nil {
			log.Printf("session: bad qr payload: %v", err)
			return
		}
		m.mu.Lock()
		m.qr = p.QR
		m.mu.Unlock()
		// State stays connecting; the QR challenge is not a transition.
		m.emit(event.NewQR(p.QR))

	case wa.EventAuthenticated:
		m.transition(StateAwaitingAuth, "authenticated")

	case wa.EventReady:
		m.mu.Lock()
		m.qr = "" // consumed
		m.mu.Unlock()
		m.transition(StateReady, "")
		log.Printf("session: whatsapp ready")

	case wa.EventAuthFailure:
		var p wa.FailurePayload
		_ = json.Unmarshal(cb.Data, &p)
		log.Printf("session: %v", &AuthError{Detail: p.Message})
		m.mu.Lock()
		m.state = StateDisconnected
		m.reason = "auth_failed"
		m.qr = ""
		m.mu.Unlock()
		m.emitStatus(StateDisconnected, "auth_failed: "+p.Message)

	case wa.EventDisconnected:
		var p wa.FailurePayload
		_ = json.Unmarshal(cb.Data, &p)
		log.Printf("session: disconnected: %s", p.Reason)
		m.mu.Lock()
		m.state = StateDisconnected
		m.reason = p.Reason
		m.qr = ""
		m.mu.Unlock()
		m.emitStatus(StateDisconnected, p.Reason)

	case wa.EventNewMessage:
		var msg wa.Message
		if err := json.Unmarshal(cb.Data, &msg); err != nil {
			log.Printf("session: bad message payload: %v", err)
			return
		}
		// Exactly one normalized event per adapter message: an echo of our
		// own send becomes an ack, everything else an inbound message.
		if msg.FromMe {
			m.emit(event.NewOutboundAck(event.MessageAck{
				ChatID:    msg.ChatID,
				MessageID: msg.ID,
				Body:      msg.Body,
				Timestamp: msg.Timestamp,
			}))
			return
		}
		m.emit(event.NewInbound(event.Message{
			ID:        msg.ID,
			ChatID:    msg.ChatID,
			Body:      msg.Body,
			Timestamp: msg.Timestamp,
			FromMe:    msg.FromMe,
			HasMedia:  msg.HasMedia,
			Author:    msg.Author,
			MediaPath: msg.MediaPath,
		}))

	case wa.EventMessageSent:
		var p wa.AckPayload
		if err := json.Unmarshal(cb.Data, &p); err != nil {
			log.Printf("session: bad ack payload: %v", err)
			return
		}
		m.emit(event.NewOutboundAck(event.MessageAck{
			ChatID:    p.ChatID,
			MessageID: p.MessageID,
			Body:      p.Body,
			Timestamp: p.Timestamp,
		}))

	default:
		log.Printf("session: unknown adapter event %q", cb.Event)
	}
}

// transition sets the state and emits the matching status event.
func (m *Manager) transition(to State, detail string) {
	m.mu.Lock()
	m.state = to
	m.reason = ""
	m.mu.Unlock()
	m.emitStatus(to, detail)
}

// emitStatus publishes a status change for the given state.
func (m *Manager) emitStatus(s State, detail string) {
	m.emit(event.NewStatus(event.StatusChange{
		State:      s.String(),
		Connected:  s == StateReady,
		Connecting: s == StateConnecting || s == StateAwaitingAuth,
		Detail:     detail,
	}))
	metrics.SetSessionState(s.String())
}

// emit assigns the sequence number and publishes. Called in transition
// order; the broadcaster preserves that order per subscriber.
func (m *Manager) emit(ev event.Event) {
	if m.pub == nil {
		return
	}
	ev.Seq = m.seq.Add(1)
	m.pub.Publish(ev)
}

// readyAdapter returns the adapter if and only if the state is ready.
func (m *Manager) readyAdapter() (wa.Adapter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateReady || m.adapter == nil {
		return nil, ErrNotReady
	}
	return m.adapter, nil
}

// SendMessage delivers a text (and optional media file) to a chat. Fails
// with ErrNotReady outside the ready state; adapter failures surface as a
// DeliveryError.
func (m *Manager) SendMessage(ctx context.Context, chatID, text, mediaPath string) error {
	adapter, err := m.readyAdapter()
	if err != nil {
		return err
	}
	if err := adapter.SendMessage(ctx, chatID, text, mediaPath); err != nil {
		return &DeliveryError{Cause: err}
	}
	metrics.MessagesSent.Inc()
	return nil
}

// ListChats lists all chats on the active session.
func (m *Manager) ListChats(ctx context.Context) ([]wa.Chat, error) {
	adapter, err := m.readyAdapter()
	if err != nil {
		return nil, err
	}
	return adapter.GetChats(ctx)
}

// ListMessages fetches up to limit recent messages from a chat.
func (m *Manager) ListMessages(ctx context.Context, chatID string, limit int) ([]wa.Message, error) {
	adapter, err := m.readyAdapter()
	if err != nil {
		return nil, err
	}
	return adapter.GetChatMessages(ctx, chatID, limit)
}

// SearchMessages scans candidate messages (a bounded fetch per chat) for
// case-insensitive body containment and truncates the aggregate result.
// Result order follows the underlying fetch order; this is not a ranked
// search. An empty chatID searches every chat.
func (m *Manager) SearchMessages(ctx context.Context, query, chatID string) ([]SearchResult, error) {
	adapter, err := m.readyAdapter()
	if err != nil {
		return nil, err
	}

	var chatIDs []string
	if chatID != "" {
		chatIDs = []string{chatID}
	} else {
		chats, err := adapter.GetChats(ctx)
		if err != nil {
			return nil, err
		}
		for _, c := range chats {
			chatIDs = append(chatIDs, c.ID)
		}
	}

	needle := strings.ToLower(query)
	results := make([]SearchResult, 0, m.searchResultCap)

	for _, id := range chatIDs {
		msgs, err := adapter.GetChatMessages(ctx, id, m.searchFetchLimit)
		if err != nil {
			log.Printf("session: search fetch chat=%s: %v", id, err)
			continue
		}
		for _, msg := range msgs {
			if !strings.Contains(strings.ToLower(msg.Body), needle) {
				continue
			}
			results = append(results, SearchResult{ChatID: id, Message: msg})
			if len(results) >= m.searchResultCap {
				return results, nil
			}
		}
	}
	return results, nil
}

// Disconnect tears the session down and returns to idle. Idempotent: with
// no active adapter it is a no-op.
func (m *Manager) Disconnect() error {
	m.mu.Lock()
	adapter := m.adapter
	m.adapter = nil
	wasIdle := m.state == StateIdle && adapter == nil
	m.state = StateIdle
	m.reason = ""
	m.qr = ""
	m.mu.Unlock()

	if wasIdle {
		return nil
	}

	if adapter != nil {
		if err := adapter.Destroy(); err != nil {
			log.Printf("session: adapter teardown: %v", err)
		}
	}
	m.emitStatus(StateIdle, "disconnected by request")
	log.Printf("session: disconnected")
	return nil
}

// State returns the current state and, for disconnected, its reason.
func (m *Manager) State() (State, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state, m.reason
}

// Status returns the boolean status view exposed to REST callers.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{
		State:            m.state.String(),
		Connected:        m.state == StateReady,
		Connecting:       m.state == StateConnecting || m.state == StateAwaitingAuth,
		HasActiveSession: m.adapter != nil,
		Reason:           m.reason,
	}
}

// QRCode returns the most recent QR challenge payload, or an empty string
// when none is pending.
func (m *Manager) QRCode() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.qr
}
