package events

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type snapshot struct {
	ID    string `json:"id"`
	Likes int    `json:"likes"`
}

func TestPostTopicRoundTrip(t *testing.T) {
	id, ok := PostIDFromTopic(PostTopic("abc"))
	assert.True(t, ok)
	assert.Equal(t, "abc", id)

	_, ok = PostIDFromTopic("user:abc")
	assert.False(t, ok)
	assert.Equal(t, "feed.post.abc", subjectFor(PostTopic("abc")))
}

func TestPayloadForRedactsAnonymous(t *testing.T) {
	ev, err := NewEvent(TypePost, PostTopic("p"), snapshot{ID: "p", Likes: 3}, snapshot{ID: "p"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"p","likes":3}`, string(ev.PayloadFor(true)))
	assert.JSONEq(t, `{"id":"p","likes":0}`, string(ev.PayloadFor(false)))

	public, err := NewEvent(TypePost, PostTopic("p"), snapshot{ID: "p", Likes: 3}, nil)
	require.NoError(t, err)
	assert.Equal(t, public.Data, public.PayloadFor(false))
}

func TestLocalBrokerFanOut(t *testing.T) {
	b := NewLocalBroker()
	var got []string
	unsub, err := b.Subscribe(func(ev Event) { got = append(got, ev.Topic) })
	require.NoError(t, err)

	ev, _ := NewEvent(TypePost, PostTopic("a"), snapshot{ID: "a"}, nil)
	require.NoError(t, b.Publish(context.Background(), ev))
	unsub()
	unsub()
	require.NoError(t, b.Publish(context.Background(), ev))

	assert.Equal(t, []string{"post:a"}, got)
}

func TestNATSBrokerDeliversOwnEvents(t *testing.T) {
	url := os.Getenv("NATS_URL")
	if url == "" {
		t.Skip("NATS_URL not set")
	}
	b, err := NewNATSBroker(url)
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })

	received := make(chan Event, 1)
	unsub, err := b.Subscribe(func(ev Event) { received <- ev })
	require.NoError(t, err)
	defer unsub()
	require.NoError(t, b.conn.Flush())

	ev, _ := NewEvent(TypePost, PostTopic("n1"), snapshot{ID: "n1", Likes: 1}, nil)
	require.NoError(t, b.Publish(context.Background(), ev))

	select {
	case got := <-received:
		assert.Equal(t, "post:n1", got.Topic)
		assert.JSONEq(t, `{"id":"n1","likes":1}`, string(got.Data))
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}
}
