// internal/events/events.go
package events

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"feedline/internal/config"
)

// Event types pushed to subscribers.
const (
	TypePost     = "post"
	TypeComments = "comments"
)

// Event is one committed change for a topic. Subscribers only ever care about
// the latest event per topic and type.
type Event struct {
	Type  string          `json:"type"`
	Topic string          `json:"topic"`
	Data  json.RawMessage `json:"data"`
	// Redacted is what anonymous subscribers receive. Empty means Data is public.
	Redacted json.RawMessage `json:"redacted,omitempty"`
}

// PostTopic names the topic carrying a post and its comment list.
func PostTopic(postID string) string {
	return "post:" + postID
}

// PostIDFromTopic is the inverse of PostTopic.
func PostIDFromTopic(topic string) (string, bool) {
	id, ok := strings.CutPrefix(topic, "post:")
	return id, ok && id != ""
}

// NewEvent marshals data (and the optional redacted form) into an Event.
func NewEvent(typ, topic string, data, redacted any) (Event, error) {
	ev := Event{Type: typ, Topic: topic}
	raw, err := json.Marshal(data)
	if err != nil {
		return ev, err
	}
	ev.Data = raw
	if redacted != nil {
		if ev.Redacted, err = json.Marshal(redacted); err != nil {
			return ev, err
		}
	}
	return ev, nil
}

// PayloadFor returns the payload for an authenticated or anonymous viewer.
func (e Event) PayloadFor(authenticated bool) json.RawMessage {
	if !authenticated && len(e.Redacted) > 0 {
		return e.Redacted
	}
	return e.Data
}

// Handler must not block; it runs on the publisher's or the broker's goroutine.
type Handler func(Event)

// Broker fans committed changes out to every subscriber, across instances
// when backed by NATS.
type Broker interface {
	Publish(ctx context.Context, ev Event) error
	Subscribe(h Handler) (unsubscribe func(), err error)
	Close() error
}

// Open returns a NATS broker when cfg.NATSURL is set, otherwise an in-process one.
func Open(cfg *config.EventsConfig) (Broker, error) {
	if cfg == nil || cfg.NATSURL == "" {
		return NewLocalBroker(), nil
	}
	return NewNATSBroker(cfg.NATSURL)
}

// LocalBroker delivers events synchronously to in-process handlers.
type LocalBroker struct {
	mu       sync.RWMutex
	next     int
	handlers map[int]Handler
}

func NewLocalBroker() *LocalBroker {
	return &LocalBroker{handlers: make(map[int]Handler)}
}

func (b *LocalBroker) Publish(_ context.Context, ev Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, h := range b.handlers {
		h(ev)
	}
	return nil
}

func (b *LocalBroker) Subscribe(h Handler) (func(), error) {
	b.mu.Lock()
	id := b.next
	b.next++
	b.handlers[id] = h
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.handlers, id)
			b.mu.Unlock()
		})
	}, nil
}

func (b *LocalBroker) Close() error {
	b.mu.Lock()
	b.handlers = make(map[int]Handler)
	b.mu.Unlock()
	return nil
}
