package client

import (
	"testing"
	"time"
)

func TestDelay_ExponentialWithCap(t *testing.T) {
	p := ReconnectPolicy{BaseDelay: 1 * time.Second, MaxDelay: 10 * time.Second}

	want := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		10 * time.Second,
		10 * time.Second,
	}
	for attempt, w := range want {
		if got := p.Delay(attempt); got != w {
			t.Errorf("Delay(%d) = %s, want %s", attempt, got, w)
		}
	}
}

func TestDelay_NegativeAttemptClamped(t *testing.T) {
	p := DefaultReconnectPolicy()
	if got := p.Delay(-3); got != p.BaseDelay {
		t.Errorf("Delay(-3) = %s, want base %s", got, p.BaseDelay)
	}
}

func TestDelay_LargeAttemptStaysAtMax(t *testing.T) {
	p := DefaultReconnectPolicy()
	if got := p.Delay(1000); got != p.MaxDelay {
		t.Errorf("Delay(1000) = %s, want max %s", got, p.MaxDelay)
	}
}
