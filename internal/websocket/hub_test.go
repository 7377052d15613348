package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"feedline/internal/api"
	"feedline/internal/events"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type postSnapshot struct {
	ID         string `json:"id"`
	LikesCount int    `json:"likesCount"`
	MediaURL   string `json:"mediaUrl,omitempty"`
}

func postEvent(t *testing.T, id string, likes int, gated bool) events.Event {
	t.Helper()
	full := postSnapshot{ID: id, LikesCount: likes, MediaURL: "https://cdn.example/x.jpg"}
	var redacted any
	if gated {
		redacted = postSnapshot{ID: id, LikesCount: likes}
	}
	ev, err := events.NewEvent(events.TypePost, events.PostTopic(id), full, redacted)
	require.NoError(t, err)
	return ev
}

func decode(t *testing.T, raw []byte) (api.StreamMessage, postSnapshot) {
	t.Helper()
	var msg api.StreamMessage
	require.NoError(t, json.Unmarshal(raw, &msg))
	var snap postSnapshot
	if len(msg.Data) > 0 {
		require.NoError(t, json.Unmarshal(msg.Data, &snap))
	}
	return msg, snap
}

func TestDeliverCoalescesToLatest(t *testing.T) {
	hub := NewHub()
	client := NewClient(hub, nil, "user-1")
	hub.Subscribe(client, events.PostTopic("p1"))

	for likes := 1; likes <= 5; likes++ {
		hub.Deliver(postEvent(t, "p1", likes, false))
	}

	msgs := client.drain()
	require.Len(t, msgs, 1)
	_, snap := decode(t, msgs[0])
	assert.Equal(t, 5, snap.LikesCount)
	assert.Empty(t, client.drain())
}

func TestDeliverKeepsTopicsAndTypesApart(t *testing.T) {
	hub := NewHub()
	client := NewClient(hub, nil, "user-1")
	hub.Subscribe(client, events.PostTopic("p1"))
	hub.Subscribe(client, events.PostTopic("p2"))

	hub.Deliver(postEvent(t, "p1", 1, false))
	hub.Deliver(postEvent(t, "p2", 7, false))
	comments, err := events.NewEvent(events.TypeComments, events.PostTopic("p1"), []string{"c1"}, nil)
	require.NoError(t, err)
	hub.Deliver(comments)
	hub.Deliver(postEvent(t, "p1", 2, false))

	msgs := client.drain()
	require.Len(t, msgs, 3)
	first, snap := decode(t, msgs[0])
	assert.Equal(t, "post:p1", first.Topic)
	assert.Equal(t, 2, snap.LikesCount)
	var third api.StreamMessage
	require.NoError(t, json.Unmarshal(msgs[2], &third))
	assert.Equal(t, events.TypeComments, third.Type)
	assert.JSONEq(t, `["c1"]`, string(third.Data))
}

func TestDeliverRedactsForAnonymous(t *testing.T) {
	hub := NewHub()
	anon := NewClient(hub, nil, "")
	member := NewClient(hub, nil, "user-1")
	topic := events.PostTopic("gated")
	hub.Subscribe(anon, topic)
	hub.Subscribe(member, topic)

	hub.Deliver(postEvent(t, "gated", 3, true))

	_, anonSnap := decode(t, anon.drain()[0])
	_, memberSnap := decode(t, member.drain()[0])
	assert.Empty(t, anonSnap.MediaURL)
	assert.Equal(t, 3, anonSnap.LikesCount)
	assert.NotEmpty(t, memberSnap.MediaURL)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	hub := NewHub()
	client := NewClient(hub, nil, "")
	topic := events.PostTopic("p1")
	hub.Subscribe(client, topic)
	assert.Equal(t, 1, hub.Subscribers(topic))

	hub.Unsubscribe(client, topic)
	assert.Equal(t, 0, hub.Subscribers(topic))
	hub.Deliver(postEvent(t, "p1", 1, false))
	assert.Empty(t, client.drain())
}

func TestWebsocketSubscribeAndReceive(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub := NewHub()
	go hub.Run(ctx)

	upgrader := &websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, Upgrade(hub, upgrader, w, r, "user-1"))
	}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	topic := events.PostTopic("p1")
	require.NoError(t, conn.WriteJSON(api.SubscribeMessage{Action: api.ActionSubscribe, Topic: topic}))
	require.Eventually(t, func() bool { return hub.Subscribers(topic) == 1 }, 2*time.Second, 10*time.Millisecond)

	hub.Deliver(postEvent(t, "p1", 4, false))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	msg, snap := decode(t, raw)
	assert.Equal(t, events.TypePost, msg.Type)
	assert.Equal(t, 4, snap.LikesCount)

	require.NoError(t, conn.WriteJSON(api.SubscribeMessage{Action: api.ActionSubscribe, Topic: "bogus"}))
	_, raw, err = conn.ReadMessage()
	require.NoError(t, err)
	msg, _ = decode(t, raw)
	assert.Equal(t, "error", msg.Type)
}

func TestUpgradeAfterHubStopped(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub()
	go hub.Run(ctx)
	cancel()
	select {
	case <-hub.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("hub did not stop")
	}

	result := make(chan error, 1)
	upgrader := &websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		result <- Upgrade(hub, upgrader, w, r, "user-1")
	}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	select {
	case err := <-result:
		assert.ErrorIs(t, err, ErrHubStopped)
	case <-time.After(2 * time.Second):
		t.Fatal("Upgrade blocked on a stopped hub")
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway))
}
