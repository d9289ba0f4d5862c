// Command watch tails the bridge's event stream from a terminal. It connects
// to the /ws endpoint with the resilient transport (automatic reconnect with
// backoff, keepalive pings) and prints every frame as it arrives.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/secretary/wa-bridge/internal/client"
	"github.com/secretary/wa-bridge/internal/protocol"
)

func main() {
	url := flag.String("url", "", "bridge WebSocket URL (default: $BRIDGE_WS_URL or ws://localhost:8080/ws)")
	pingInterval := flag.Duration("ping", client.DefaultPingInterval, "keepalive ping interval")
	flag.Parse()

	transport := client.New(client.Config{
		Endpoint:     client.ResolveEndpoint(*url),
		PingInterval: *pingInterval,
	})

	printFrame := func(label string) client.Listener {
		return func(frame *protocol.Frame) {
			var pretty string
			if len(frame.Data) > 0 {
				var buf map[string]interface{}
				if err := json.Unmarshal(frame.Data, &buf); err == nil {
					b, _ := json.Marshal(buf)
					pretty = string(b)
				} else {
					pretty = string(frame.Data)
				}
			}
			if frame.Seq > 0 {
				log.Printf("[%s] seq=%d %s", label, frame.Seq, pretty)
			} else {
				log.Printf("[%s] %s", label, pretty)
			}
		}
	}

	transport.On(protocol.TypeStatus, printFrame("status"))
	transport.On(protocol.TypeQR, printFrame("qr"))
	transport.On(protocol.TypeNewMessage, printFrame("message"))
	transport.On(protocol.TypeMessageSent, printFrame("sent"))
	transport.On(protocol.TypeError, printFrame("error"))

	transport.On(protocol.TypeConnection, func(frame *protocol.Frame) {
		var info client.ConnectionInfo
		_ = json.Unmarshal(frame.Data, &info)
		if info.Connected {
			log.Printf("[conn] connected to %s", transport.Endpoint())
		} else {
			log.Printf("[conn] closed code=%d reason=%q", info.Code, info.Reason)
		}
	})
	transport.On(protocol.TypeConnectionError, func(frame *protocol.Frame) {
		var info client.ConnectionInfo
		_ = json.Unmarshal(frame.Data, &info)
		log.Printf("[conn] error: %s (attempt %d)", info.Error, info.Attempts)
	})
	transport.On(protocol.TypeConnectionFailed, func(frame *protocol.Frame) {
		log.Printf("[conn] gave up reconnecting")
		os.Exit(1)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := transport.Connect(ctx); err != nil {
		// Not fatal: the transport schedules reconnects on its own.
		log.Printf("initial connect failed: %v (retrying)", err)
	}
	cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Printf("shutting down")
	transport.Disconnect()
}
