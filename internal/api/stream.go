package api

import "encoding/json"

// Subscription actions sent by websocket clients.
const (
	ActionSubscribe   = "subscribe"
	ActionUnsubscribe = "unsubscribe"
)

type SubscribeMessage struct {
	Action string `json:"action"`
	Topic  string `json:"topic"`
}

// StreamMessage is pushed to subscribers. Type is "post", "comments" or "error".
type StreamMessage struct {
	Type  string          `json:"type"`
	Topic string          `json:"topic,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error string          `json:"error,omitempty"`
}
