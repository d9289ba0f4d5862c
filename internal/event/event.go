// Package event defines the normalized event stream emitted by the session
// manager. Adapter callbacks (QR codes, lifecycle changes, messages) are
// translated into these events, stamped with a monotonically increasing
// sequence number, and fanned out to every attached dashboard client.
package event

import "time"

// Kind discriminates the event payload type. The values double as the wire
// frame "type" field sent to dashboard clients.
type Kind string

const (
	KindQR          Kind = "qr_code"
	KindStatus      Kind = "whatsapp_status"
	KindInbound     Kind = "new_message"
	KindOutboundAck Kind = "message_sent"
)

// Event is one normalized event. Exactly one payload field is non-nil,
// selected by Kind. Events are immutable once constructed; Seq is assigned
// by the session manager at emission time so clients can detect gaps after
// a reconnect.
type Event struct {
	Seq  uint64
	Kind Kind
	Time time.Time

	QR      *QRChallenge
	Status  *StatusChange
	Message *Message
	Ack     *MessageAck
}

// QRChallenge carries the QR payload the user must scan to authenticate.
type QRChallenge struct {
	QR string `json:"qr"`
}

// StatusChange reports a session state transition. Connected/Connecting give
// the dashboard the boolean view it renders; State is the authoritative name.
type StatusChange struct {
	State      string `json:"state"`
	Connected  bool   `json:"connected"`
	Connecting bool   `json:"connecting"`
	Detail     string `json:"detail,omitempty"`
}

// Message is an inbound message received on the external session.
type Message struct {
	ID        string `json:"id"`
	ChatID    string `json:"chatId"`
	Body      string `json:"body"`
	Timestamp int64  `json:"timestamp"`
	FromMe    bool   `json:"fromMe"`
	HasMedia  bool   `json:"hasMedia"`
	Author    string `json:"author,omitempty"`
	MediaPath string `json:"mediaPath,omitempty"`
}

// MessageAck confirms that a message sent from the local account went out.
type MessageAck struct {
	ChatID    string `json:"chatId"`
	MessageID string `json:"messageId,omitempty"`
	Body      string `json:"body"`
	Timestamp int64  `json:"timestamp"`
}

// NewQR constructs a QR challenge event. Seq is left for the emitter.
func NewQR(qr string) Event {
	return Event{Kind: KindQR, Time: time.Now(), QR: &QRChallenge{QR: qr}}
}

// NewStatus constructs a status change event.
func NewStatus(s StatusChange) Event {
	return Event{Kind: KindStatus, Time: time.Now(), Status: &s}
}

// NewInbound constructs an inbound message event.
func NewInbound(m Message) Event {
	return Event{Kind: KindInbound, Time: time.Now(), Message: &m}
}

// NewOutboundAck constructs an outbound message acknowledgement event.
func NewOutboundAck(a MessageAck) Event {
	return Event{Kind: KindOutboundAck, Time: time.Now(), Ack: &a}
}

// Payload returns the populated payload for wire serialization.
func (e Event) Payload() interface{} {
	switch e.Kind {
	case KindQR:
		return e.QR
	case KindStatus:
		return e.Status
	case KindInbound:
		return e.Message
	case KindOutboundAck:
		return e.Ack
	}
	return nil
}
