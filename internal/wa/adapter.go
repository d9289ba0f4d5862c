// Package wa defines the contract with the external WhatsApp session runner
// and provides the subprocess-backed implementation that drives a Node.js
// whatsapp-web.js script over a JSON line protocol.
package wa

import (
	"context"
	"encoding/json"
)

// Callback event names delivered by the runner.
const (
	EventQR            = "qr_code"
	EventAuthenticated = "authenticated"
	EventReady         = "ready"
	EventAuthFailure   = "auth_failure"
	EventDisconnected  = "disconnected"
	EventNewMessage    = "new_message"
	EventMessageSent   = "message_sent"
)

// Callback is one event pushed by the runner. Data is decoded lazily by the
// consumer because the shape depends on Event.
type Callback struct {
	Event     string          `json:"event"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
}

// CallbackHandler receives runner callbacks. Handlers are invoked from the
// adapter's read goroutine and must not block for extended periods.
type CallbackHandler func(cb Callback)

// Message is a WhatsApp message as reported by the runner.
type Message struct {
	ID        string `json:"id"`
	ChatID    string `json:"chatId"`
	Body      string `json:"body"`
	Timestamp int64  `json:"timestamp"`
	FromMe    bool   `json:"fromMe"`
	HasMedia  bool   `json:"hasMedia"`
	Type      string `json:"type,omitempty"`
	Author    string `json:"author,omitempty"`
	MediaPath string `json:"mediaPath,omitempty"`
	MimeType  string `json:"mimeType,omitempty"`
}

// LastMessage is the preview attached to a chat listing.
type LastMessage struct {
	Body      string `json:"body"`
	Timestamp int64  `json:"timestamp"`
	FromMe    bool   `json:"fromMe"`
}

// Chat is a WhatsApp chat as reported by the runner.
type Chat struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	IsGroup     bool         `json:"isGroup"`
	UnreadCount int          `json:"unreadCount"`
	LastMessage *LastMessage `json:"lastMessage,omitempty"`
}

// QRPayload is the data attached to a qr_code callback.
type QRPayload struct {
	QR string `json:"qr"`
}

// FailurePayload is the data attached to auth_failure and disconnected
// callbacks.
type FailurePayload struct {
	Message string `json:"message,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// AckPayload is the data attached to a message_sent callback.
type AckPayload struct {
	ChatID    string `json:"chatId"`
	MessageID string `json:"messageId"`
	Body      string `json:"body"`
	Timestamp int64  `json:"timestamp"`
}

// Adapter is the opaque capability representing one external WhatsApp
// session. Implementations push lifecycle and message callbacks to the
// handler supplied at construction time.
type Adapter interface {
	// Initialize starts the session. It returns once startup has been
	// delegated to the runner; authentication progress arrives as callbacks.
	Initialize(ctx context.Context) error

	// SendMessage delivers a text (and optional media file) to a chat.
	SendMessage(ctx context.Context, chatID, text, mediaPath string) error

	// GetChats lists all chats known to the session.
	GetChats(ctx context.Context) ([]Chat, error)

	// GetChatMessages fetches up to limit recent messages from a chat.
	GetChatMessages(ctx context.Context, chatID string, limit int) ([]Message, error)

	// Destroy tears the session down and releases the runner.
	Destroy() error
}
