package client

import (
	"errors"
	"fmt"
)

// ErrMaxReconnects is reported once the reconnect attempt limit is
// exhausted. The transport stays down until Connect is called again.
var ErrMaxReconnects = errors.New("client: reconnect attempts exhausted")

// CloseError describes an unexpected channel closure by code and reason.
type CloseError struct {
	Code   int
	Reason string
}

func (e *CloseError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("client: channel closed (code %d)", e.Code)
	}
	return fmt.Sprintf("client: channel closed (code %d): %s", e.Code, e.Reason)
}
