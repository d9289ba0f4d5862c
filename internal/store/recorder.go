package store

import (
	"context"
	"log"
	"time"

	"github.com/secretary/wa-bridge/internal/broadcast"
	"github.com/secretary/wa-bridge/internal/event"
	"github.com/secretary/wa-bridge/internal/wa"
)

// Recorder consumes a broadcast subscription and mirrors message traffic
// into PostgreSQL. It is an ordinary subscriber, so a slow database can at
// worst drop its own events and never stalls dashboard delivery.
type Recorder struct {
	store       *Store
	broadcaster *broadcast.Broadcaster
	sub         *broadcast.Subscriber
	done        chan struct{}
}

// NewRecorder attaches to the broadcaster and starts persisting.
func NewRecorder(s *Store, b *broadcast.Broadcaster) *Recorder {
	r := &Recorder{
		store:       s,
		broadcaster: b,
		sub:         b.Attach(),
		done:        make(chan struct{}),
	}
	go r.run()
	return r
}

func (r *Recorder) run() {
	defer close(r.done)
	for {
		select {
		case <-r.sub.Done():
			return
		case ev := <-r.sub.Events():
			r.record(ev)
		}
	}
}

func (r *Recorder) record(ev event.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	switch ev.Kind {
	case event.KindInbound:
		m := ev.Message
		err := r.store.SaveMessage(ctx, wa.Message{
			ID:        m.ID,
			ChatID:    m.ChatID,
			Body:      m.Body,
			Timestamp: m.Timestamp,
			FromMe:    m.FromMe,
			HasMedia:  m.HasMedia,
			Author:    m.Author,
			MediaPath: m.MediaPath,
		})
		if err != nil {
			log.Printf("store: record inbound seq=%d: %v", ev.Seq, err)
		}
	case event.KindOutboundAck:
		a := ev.Ack
		if a.MessageID == "" {
			return
		}
		err := r.store.SaveMessage(ctx, wa.Message{
			ID:        a.MessageID,
			ChatID:    a.ChatID,
			Body:      a.Body,
			Timestamp: a.Timestamp,
			FromMe:    true,
		})
		if err != nil {
			log.Printf("store: record ack seq=%d: %v", ev.Seq, err)
		}
	}
}

// Stop detaches from the broadcaster and waits for the pump to exit.
func (r *Recorder) Stop() {
	r.broadcaster.Detach(r.sub.ID)
	<-r.done
}
