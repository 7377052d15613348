package client

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"runtime"
	"sync"
	"testing"
	"time"

	"feedline/internal/api"
	"feedline/internal/events"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// frameRecorder is a stream server that only records the frames it receives.
type frameRecorder struct {
	mu     sync.Mutex
	frames []api.SubscribeMessage
}

func (f *frameRecorder) serve(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	for {
		var msg api.SubscribeMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		f.mu.Lock()
		f.frames = append(f.frames, msg)
		f.mu.Unlock()
	}
}

func (f *frameRecorder) last(topic string) (api.SubscribeMessage, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var last api.SubscribeMessage
	n := 0
	for _, m := range f.frames {
		if m.Topic == topic {
			last = m
			n++
		}
	}
	return last, n
}

func dialRecorder(t *testing.T) (*Subscriber, *frameRecorder) {
	t.Helper()
	rec := &frameRecorder{}
	srv := httptest.NewServer(http.HandlerFunc(rec.serve))
	t.Cleanup(srv.Close)

	sub, err := Dial(context.Background(), New(srv.URL))
	require.NoError(t, err)
	t.Cleanup(func() { sub.Close() })
	return sub, rec
}

func TestWatchHandOverKeepsTopicSubscribed(t *testing.T) {
	sub, rec := dialRecorder(t)
	topic := events.PostTopic("p1")
	noop := func(api.StreamMessage) {}

	for i := 0; i < 50; i++ {
		cancelOld, err := sub.Watch(context.Background(), "p1", noop)
		require.NoError(t, err)

		var (
			wg        sync.WaitGroup
			cancelNew func()
			watchErr  error
		)
		wg.Add(2)
		go func() {
			defer wg.Done()
			cancelOld()
		}()
		go func() {
			defer wg.Done()
			cancelNew, watchErr = sub.Watch(context.Background(), "p1", noop)
		}()
		wg.Wait()
		require.NoError(t, watchErr)

		// Frames arrive in order, so once the marker is in every frame
		// before it is too.
		marker := fmt.Sprintf("marker-%d", i)
		cancelMarker, err := sub.Watch(context.Background(), marker, noop)
		require.NoError(t, err)
		require.Eventually(t, func() bool {
			_, n := rec.last(events.PostTopic(marker))
			return n > 0
		}, time.Second, 5*time.Millisecond)

		// One watcher is left, so the last frame sent must be a subscribe.
		last, _ := rec.last(topic)
		assert.Equal(t, api.ActionSubscribe, last.Action, "round %d", i)

		cancelNew()
		cancelMarker()
	}
}

func TestWatchCancelReleasesGoroutine(t *testing.T) {
	sub, _ := dialRecorder(t)
	before := runtime.NumGoroutine()

	ctx := context.Background() // never done
	for i := 0; i < 100; i++ {
		cancel, err := sub.Watch(ctx, "p1", func(api.StreamMessage) {})
		require.NoError(t, err)
		cancel()
	}

	assert.Eventually(t, func() bool {
		return runtime.NumGoroutine() <= before+5
	}, 2*time.Second, 20*time.Millisecond)
}
