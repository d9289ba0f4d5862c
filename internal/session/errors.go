package session

import (
	"errors"
	"fmt"
)

// ErrAlreadyActive is returned by Initialize when a session is already
// connecting, authenticating, or ready.
var ErrAlreadyActive = errors.New("session: connection already active")

// ErrNotReady is returned by command operations issued outside the ready
// state. No adapter interaction happens in that case.
var ErrNotReady = errors.New("session: whatsapp session not ready")

// DeliveryError wraps an adapter failure while sending a message.
type DeliveryError struct {
	Cause error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("session: delivery failed: %v", e.Cause)
}

func (e *DeliveryError) Unwrap() error { return e.Cause }

// AuthError marks an authentication failure. It is terminal for the current
// attempt; recovery requires an explicit re-initialize.
type AuthError struct {
	Detail string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("session: authentication failed: %s", e.Detail)
}
