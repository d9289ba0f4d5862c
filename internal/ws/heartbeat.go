package ws

import (
	"log"
	"time"
)

// StartHeartbeat begins a background goroutine that periodically pings all
// dashboard connections and evicts those with no inbound activity within
// interval + timeout. It returns immediately; the goroutine exits when the
// server shuts down.
func StartHeartbeat(server *Server, interval, timeout time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-server.done:
				return
			case <-ticker.C:
				checkConnections(server, interval+timeout)
			}
		}
	}()
}

// checkConnections evicts stale connections and sends a protocol-level ping
// frame to the rest. Browsers answer the ping automatically with a pong,
// which counts as inbound activity on the next read.
func checkConnections(server *Server, deadline time.Duration) {
	now := time.Now()

	for _, c := range server.Connections().All() {
		if now.Sub(c.LastActive()) > deadline {
			log.Printf("ws: heartbeat timeout id=%s last_activity=%s ago",
				c.ID, now.Sub(c.LastActive()).Round(time.Second))
			server.RemoveConnection(c)
			continue
		}

		if err := c.WritePing(); err != nil {
			log.Printf("ws: heartbeat ping failed id=%s: %v", c.ID, err)
			server.RemoveConnection(c)
		}
	}
}
