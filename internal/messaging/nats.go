// Package messaging republishes the normalized event stream on NATS so
// sibling services (notifiers, archivers) can consume bridge events without
// holding a dashboard connection. Local fan-out never depends on NATS; the
// relay is an optional subscriber like any other.
package messaging

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/secretary/wa-bridge/internal/broadcast"
	"github.com/secretary/wa-bridge/internal/protocol"
)

// SubjectEvent is the subject prefix for bridge events; the event type is
// appended (e.g. wa.event.new_message).
const SubjectEvent = "wa.event"

// NATSConfig holds NATS connection settings.
type NATSConfig struct {
	URL           string
	Name          string
	ReconnectWait time.Duration
	MaxReconnects int
}

// DefaultNATSConfig returns sensible defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           "nats://localhost:4222",
		Name:          "wa-bridge",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1,
	}
}

// NATSClient wraps the NATS connection with helpers for the bridge's
// subjects.
type NATSClient struct {
	conn *nats.Conn
	mu   sync.Mutex
	subs map[string]*nats.Subscription
}

// NewNATSClient connects to NATS and returns a ready client.
func NewNATSClient(config NATSConfig) (*NATSClient, error) {
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("nats: disconnected: %v", err)
			} else {
				log.Printf("nats: disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("nats: reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Printf("nats: connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	log.Printf("nats: connected to %s", nc.ConnectedUrl())

	return &NATSClient{
		conn: nc,
		subs: make(map[string]*nats.Subscription),
	}, nil
}

// PublishEvent publishes a serialized event frame on wa.event.<type>.
func (c *NATSClient) PublishEvent(eventType string, frame []byte) error {
	return c.conn.Publish(SubjectEvent+"."+eventType, frame)
}

// SubscribeEvents registers a handler for events of one type ("*" for all).
func (c *NATSClient) SubscribeEvents(eventType string, handler func(data []byte)) error {
	subject := SubjectEvent + "." + eventType
	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}

	c.mu.Lock()
	c.subs[subject] = sub
	c.mu.Unlock()
	return nil
}

// Close drains all active subscriptions and closes the connection.
func (c *NATSClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for subject, sub := range c.subs {
		if err := sub.Drain(); err != nil {
			log.Printf("nats: drain %s: %v", subject, err)
		}
	}
	c.subs = make(map[string]*nats.Subscription)

	if err := c.conn.Drain(); err != nil {
		log.Printf("nats: connection drain: %v", err)
	}
	log.Printf("nats: client closed")
}

// Relay consumes a broadcast subscription and republishes every event on
// NATS. Stop detaches the subscription and waits for the pump to exit.
type Relay struct {
	nc          *NATSClient
	broadcaster *broadcast.Broadcaster
	sub         *broadcast.Subscriber
	done        chan struct{}
}

// NewRelay attaches to the broadcaster and starts relaying.
func NewRelay(nc *NATSClient, b *broadcast.Broadcaster) *Relay {
	r := &Relay{
		nc:          nc,
		broadcaster: b,
		sub:         b.Attach(),
		done:        make(chan struct{}),
	}
	go r.run()
	return r
}

func (r *Relay) run() {
	defer close(r.done)
	for {
		select {
		case <-r.sub.Done():
			return
		case ev := <-r.sub.Events():
			frame, err := protocol.FromEvent(ev)
			if err != nil {
				log.Printf("nats: encode event seq=%d: %v", ev.Seq, err)
				continue
			}
			if err := r.nc.PublishEvent(string(ev.Kind), frame); err != nil {
				log.Printf("nats: publish event seq=%d: %v", ev.Seq, err)
			}
		}
	}
}

// Stop detaches from the broadcaster and waits for the relay to drain.
func (r *Relay) Stop() {
	r.broadcaster.Detach(r.sub.ID)
	<-r.done
}
