package websocket

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"feedline/internal/api"
	"feedline/internal/events"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 512
)

// Client is a middleman between the websocket connection and the hub.
type Client struct {
	Hub *Hub

	// UserID is empty for anonymous viewers.
	UserID string

	// The websocket connection.
	Conn *websocket.Conn

	mu      sync.Mutex
	pending map[string][]byte
	order   []string
	notify  chan struct{}

	done      chan struct{}
	closeOnce sync.Once
}

// ErrHubStopped is returned by Upgrade once the hub has shut down.
var ErrHubStopped = errors.New("websocket hub stopped")

func NewClient(hub *Hub, conn *websocket.Conn, userID string) *Client {
	return &Client{
		Hub:     hub,
		UserID:  userID,
		Conn:    conn,
		pending: make(map[string][]byte),
		notify:  make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

// Upgrade upgrades the request, registers the client and starts its pumps.
func Upgrade(hub *Hub, upgrader *websocket.Upgrader, w http.ResponseWriter, r *http.Request, userID string) error {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	client := NewClient(hub, conn, userID)
	select {
	case hub.Register <- client:
	case <-hub.Done():
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(writeWait))
		conn.Close()
		return ErrHubStopped
	}
	go client.WritePump()
	go client.ReadPump()
	return nil
}

// enqueue replaces any undelivered message with the same key.
func (c *Client) enqueue(key string, msg []byte) {
	c.mu.Lock()
	if _, ok := c.pending[key]; !ok {
		c.order = append(c.order, key)
	}
	c.pending[key] = msg
	c.mu.Unlock()

	select {
	case c.notify <- struct{}{}:
	default:
	}
}

func (c *Client) drain() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, 0, len(c.order))
	for _, key := range c.order {
		out = append(out, c.pending[key])
	}
	c.order = c.order[:0]
	clear(c.pending)
	return out
}

func (c *Client) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *Client) sendError(text string) {
	raw, _ := json.Marshal(api.StreamMessage{Type: "error", Error: text})
	c.enqueue("error", raw)
}

// ReadPump handles subscribe and unsubscribe requests from the peer.
func (c *Client) ReadPump() {
	defer func() {
		select {
		case c.Hub.Unregister <- c:
		case <-c.done:
		case <-c.Hub.Done():
		}
		c.Conn.Close()
	}()
	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error { c.Conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Warn("websocket read error", "user", c.UserID, "error", err)
			}
			return
		}

		var msg api.SubscribeMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.sendError("malformed message")
			continue
		}
		if _, ok := events.PostIDFromTopic(msg.Topic); !ok {
			c.sendError("unknown topic " + msg.Topic)
			continue
		}
		switch msg.Action {
		case api.ActionSubscribe:
			c.Hub.Subscribe(c, msg.Topic)
		case api.ActionUnsubscribe:
			c.Hub.Unsubscribe(c, msg.Topic)
		default:
			c.sendError("unknown action " + msg.Action)
		}
	}
}

// WritePump flushes coalesced messages to the websocket connection.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()
	for {
		select {
		case <-c.notify:
			for _, msg := range c.drain() {
				c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := c.Conn.WriteMessage(websocket.TextMessage, msg); err != nil {
					slog.Debug("websocket write error", "user", c.UserID, "error", err)
					return
				}
			}
		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}
