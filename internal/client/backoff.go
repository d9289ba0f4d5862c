package client

import "time"

// ReconnectPolicy computes exponential backoff delays for reconnect
// attempts. It is a pure value: the transport owns the attempt counter and
// resets it on a successful connect.
type ReconnectPolicy struct {
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int
}

// DefaultReconnectPolicy returns the defaults used by the dashboard
// transport.
func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{
		BaseDelay:   1 * time.Second,
		MaxDelay:    30 * time.Second,
		MaxAttempts: 10,
	}
}

// Delay returns the backoff delay for the given zero-based attempt number:
// min(BaseDelay * 2^attempt, MaxDelay).
func (p ReconnectPolicy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := p.BaseDelay
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}
