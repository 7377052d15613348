package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"feedline/internal/api"
	"feedline/internal/events"
)

// Hub maintains the set of active clients and the topics they watch.
type Hub struct {
	// Registered clients.
	clients map[*Client]bool

	// Topic subscriptions: topic -> set of clients.
	topics map[string]map[*Client]bool

	// Register requests from the clients.
	Register chan *Client

	// Unregister requests from clients.
	Unregister chan *Client

	// Mutex to protect concurrent access to the maps.
	mu sync.RWMutex

	// stopped is closed when Run returns.
	stopped chan struct{}
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		topics:     make(map[string]map[*Client]bool),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		stopped:    make(chan struct{}),
	}
}

// Done is closed once the hub has stopped and accepts no more clients.
func (h *Hub) Done() <-chan struct{} {
	return h.stopped
}

// Run processes registrations until ctx is done, then closes every client.
func (h *Hub) Run(ctx context.Context) {
	slog.Info("websocket hub started")
	defer close(h.stopped)
	for {
		select {
		case client := <-h.Register:
			h.mu.Lock()
			h.clients[client] = true
			n := len(h.clients)
			h.mu.Unlock()
			slog.Debug("websocket client registered", "user", client.UserID, "connections", n)

		case client := <-h.Unregister:
			h.remove(client)

		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				client.close()
			}
			h.clients = make(map[*Client]bool)
			h.topics = make(map[string]map[*Client]bool)
			h.mu.Unlock()
			slog.Info("websocket hub stopped")
			return
		}
	}
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.clients[client] {
		return
	}
	delete(h.clients, client)
	for topic, subs := range h.topics {
		delete(subs, client)
		if len(subs) == 0 {
			delete(h.topics, topic)
		}
	}
	client.close()
	slog.Debug("websocket client unregistered", "user", client.UserID, "connections", len(h.clients))
}

func (h *Hub) Subscribe(client *Client, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs, ok := h.topics[topic]
	if !ok {
		subs = make(map[*Client]bool)
		h.topics[topic] = subs
	}
	subs[client] = true
}

func (h *Hub) Unsubscribe(client *Client, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if subs, ok := h.topics[topic]; ok {
		delete(subs, client)
		if len(subs) == 0 {
			delete(h.topics, topic)
		}
	}
}

// Subscribers reports how many clients watch topic.
func (h *Hub) Subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}

// Deliver queues ev for every subscriber of its topic. It never blocks: each
// client keeps only the newest undelivered message per topic and type.
// Anonymous clients get the redacted payload.
func (h *Hub) Deliver(ev events.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	subs := h.topics[ev.Topic]
	if len(subs) == 0 {
		return
	}

	var authMsg, anonMsg []byte
	key := ev.Type + "|" + ev.Topic
	for client := range subs {
		authenticated := client.UserID != ""
		msg := &authMsg
		if !authenticated {
			msg = &anonMsg
		}
		if *msg == nil {
			raw, err := json.Marshal(api.StreamMessage{Type: ev.Type, Topic: ev.Topic, Data: ev.PayloadFor(authenticated)})
			if err != nil {
				slog.Error("failed to encode stream message", "topic", ev.Topic, "error", err)
				return
			}
			*msg = raw
		}
		client.enqueue(key, *msg)
	}
}
