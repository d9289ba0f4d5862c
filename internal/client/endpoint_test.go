package client

import "testing"

func TestResolveEndpoint_Precedence(t *testing.T) {
	t.Setenv(EnvEndpoint, "ws://from-env:9000/ws")

	if got := ResolveEndpoint("ws://explicit:8000/ws"); got != "ws://explicit:8000/ws" {
		t.Errorf("explicit override lost: %s", got)
	}
	if got := ResolveEndpoint(""); got != "ws://from-env:9000/ws" {
		t.Errorf("env fallback lost: %s", got)
	}

	t.Setenv(EnvEndpoint, "")
	if got := ResolveEndpoint(""); got != DefaultEndpoint {
		t.Errorf("default fallback lost: %s", got)
	}
}

func TestResolveEndpoint_SchemeRewrite(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"https://bridge.example.com/ws", "wss://bridge.example.com/ws"},
		{"http://bridge.example.com/ws", "ws://bridge.example.com/ws"},
		{"wss://bridge.example.com/ws", "wss://bridge.example.com/ws"},
		{"bridge.example.com/ws", "ws://bridge.example.com/ws"},
	}
	for _, c := range cases {
		if got := ResolveEndpoint(c.in); got != c.want {
			t.Errorf("ResolveEndpoint(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}
