// Package protocol defines the push-channel wire format exchanged with
// dashboard clients. Every frame is one JSON object with a type
// discriminator, an opaque data payload, and a millisecond timestamp.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/secretary/wa-bridge/internal/event"
)

// Server -> client frame types. The event kinds map one to one onto their
// wire names; connection frames are synthesized locally by the client
// transport and never cross the wire.
const (
	TypeStatus      = "whatsapp_status"
	TypeQR          = "qr_code"
	TypeNewMessage  = "new_message"
	TypeMessageSent = "message_sent"
	TypePong        = "pong"
	TypeError       = "error"
)

// Client -> server frame types.
const (
	TypePing = "ping"
)

// Client-local frame types emitted by the transport itself.
const (
	TypeConnection       = "connection"
	TypeConnectionError  = "connection_error"
	TypeConnectionFailed = "connection_failed"
)

// Frame is the wire envelope. Seq is set on frames derived from the
// normalized event stream so clients can detect gaps after a reconnect.
type Frame struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Seq       uint64          `json:"seq,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// PingData is the payload of a client keepalive ping. Seq echoes the last
// event sequence number the client has seen (zero if none).
type PingData struct {
	Seq uint64 `json:"seq,omitempty"`
}

// ErrorData is the payload of an error frame.
type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// New builds a serialized frame of the given type around the payload.
func New(frameType string, data interface{}) ([]byte, error) {
	var raw json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("protocol: marshal %s payload: %w", frameType, err)
		}
		raw = b
	}
	return json.Marshal(Frame{
		Type:      frameType,
		Data:      raw,
		Timestamp: time.Now().UnixMilli(),
	})
}

// FromEvent serializes a normalized event into its wire frame.
func FromEvent(ev event.Event) ([]byte, error) {
	payload := ev.Payload()
	if payload == nil {
		return nil, fmt.Errorf("protocol: event kind %q has no payload", ev.Kind)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: marshal %s payload: %w", ev.Kind, err)
	}
	return json.Marshal(Frame{
		Type:      string(ev.Kind),
		Data:      raw,
		Seq:       ev.Seq,
		Timestamp: ev.Time.UnixMilli(),
	})
}

// Parse decodes a wire frame. A missing or empty type field is an error;
// callers treat parse failures as soft (log and drop, channel stays open).
func Parse(data []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("protocol: parse frame: %w", err)
	}
	if f.Type == "" {
		return nil, fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	return &f, nil
}
