package client

import (
	"os"
	"strings"
)

// EnvEndpoint is the environment variable consulted when no explicit
// endpoint override is given.
const EnvEndpoint = "BRIDGE_WS_URL"

// DefaultEndpoint is the local development fallback.
const DefaultEndpoint = "ws://localhost:8080/ws"

// ResolveEndpoint picks the WebSocket endpoint by fixed precedence: the
// explicit override, then BRIDGE_WS_URL, then the local default. http(s)
// schemes are rewritten to their WebSocket equivalents, so a secure base
// URL yields a secure channel.
func ResolveEndpoint(override string) string {
	endpoint := override
	if endpoint == "" {
		endpoint = os.Getenv(EnvEndpoint)
	}
	if endpoint == "" {
		return DefaultEndpoint
	}

	switch {
	case strings.HasPrefix(endpoint, "https://"):
		endpoint = "wss://" + strings.TrimPrefix(endpoint, "https://")
	case strings.HasPrefix(endpoint, "http://"):
		endpoint = "ws://" + strings.TrimPrefix(endpoint, "http://")
	case !strings.HasPrefix(endpoint, "ws://") && !strings.HasPrefix(endpoint, "wss://"):
		endpoint = "ws://" + endpoint
	}

	return endpoint
}
