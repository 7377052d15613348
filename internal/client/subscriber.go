package client

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"feedline/internal/api"
	"feedline/internal/events"
	"feedline/internal/models"

	"github.com/gorilla/websocket"
)

const writeWait = 5 * time.Second

// Subscriber holds one websocket to the live update stream and fans
// messages out to watchers by topic. The server only ever sends the latest
// snapshot per topic, so a slow watcher sees fewer updates, never stale ones.
type Subscriber struct {
	conn *websocket.Conn

	writeMu sync.Mutex
	// topicMu orders watcher-set changes together with the subscribe or
	// unsubscribe frame they cause.
	topicMu sync.Mutex

	mu       sync.Mutex
	watchers map[string]map[uint64]func(api.StreamMessage)
	nextID   uint64

	done chan struct{}
	err  error
}

// Dial opens the stream for c's session. A signed-out client gets an
// anonymous stream that receives gated posts redacted.
func Dial(ctx context.Context, c *Client) (*Subscriber, error) {
	url := "ws" + strings.TrimPrefix(c.BaseURL(), "http") + "/ws"
	header := http.Header{}
	if tok := c.token(); tok != "" {
		header.Set("Authorization", "Bearer "+tok)
	}
	dialer := websocket.Dialer{HandshakeTimeout: c.Timeout()}
	conn, _, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, err
	}

	s := &Subscriber{
		conn:     conn,
		watchers: make(map[string]map[uint64]func(api.StreamMessage)),
		done:     make(chan struct{}),
	}
	go s.readLoop()
	return s, nil
}

func (s *Subscriber) readLoop() {
	defer close(s.done)
	for {
		var msg api.StreamMessage
		if err := s.conn.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				s.err = err
			}
			return
		}
		if msg.Type == "error" {
			slog.Warn("stream error", "error", msg.Error)
			continue
		}

		s.mu.Lock()
		fns := make([]func(api.StreamMessage), 0, len(s.watchers[msg.Topic]))
		for _, fn := range s.watchers[msg.Topic] {
			fns = append(fns, fn)
		}
		s.mu.Unlock()
		for _, fn := range fns {
			fn(msg)
		}
	}
}

func (s *Subscriber) send(action, topic string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteJSON(api.SubscribeMessage{Action: action, Topic: topic})
}

// Watch delivers every update for postID to fn until the returned cancel
// func is called or ctx is done. fn runs on the read goroutine.
func (s *Subscriber) Watch(ctx context.Context, postID string, fn func(api.StreamMessage)) (func(), error) {
	topic := events.PostTopic(postID)

	s.topicMu.Lock()
	s.mu.Lock()
	set, ok := s.watchers[topic]
	if !ok {
		set = make(map[uint64]func(api.StreamMessage))
		s.watchers[topic] = set
	}
	s.nextID++
	id := s.nextID
	set[id] = fn
	s.mu.Unlock()

	if !ok {
		if err := s.send(api.ActionSubscribe, topic); err != nil {
			s.remove(topic, id)
			s.topicMu.Unlock()
			return nil, err
		}
	}
	s.topicMu.Unlock()

	stop := make(chan struct{})
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(stop)
			s.topicMu.Lock()
			defer s.topicMu.Unlock()
			if !s.remove(topic, id) {
				return
			}
			select {
			case <-s.done:
			default:
				if err := s.send(api.ActionUnsubscribe, topic); err != nil {
					slog.Debug("unsubscribe failed", "topic", topic, "error", err)
				}
			}
		})
	}
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-stop:
		case <-s.done:
		}
	}()
	return cancel, nil
}

// remove drops a watcher and reports whether it was the topic's last.
func (s *Subscriber) remove(topic string, id uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := s.watchers[topic]
	delete(set, id)
	if len(set) == 0 {
		delete(s.watchers, topic)
		return true
	}
	return false
}

// WatchPost feeds live post snapshots into view. Only the displayed count changes.
func (s *Subscriber) WatchPost(ctx context.Context, view *PostView) (func(), error) {
	return s.Watch(ctx, view.PostID(), func(msg api.StreamMessage) {
		if msg.Type != events.TypePost {
			return
		}
		var post models.Post
		if err := json.Unmarshal(msg.Data, &post); err != nil {
			slog.Warn("undecodable post snapshot", "topic", msg.Topic, "error", err)
			return
		}
		view.ApplySnapshot(&post)
	})
}

// WatchComments feeds live comment lists into thread.
func (s *Subscriber) WatchComments(ctx context.Context, thread *CommentThread) (func(), error) {
	return s.Watch(ctx, thread.postID, func(msg api.StreamMessage) {
		if msg.Type != events.TypeComments {
			return
		}
		var comments []*models.Comment
		if err := json.Unmarshal(msg.Data, &comments); err != nil {
			slog.Warn("undecodable comment list", "topic", msg.Topic, "error", err)
			return
		}
		thread.ApplySnapshot(comments)
	})
}

// Done is closed when the stream ends.
func (s *Subscriber) Done() <-chan struct{} {
	return s.done
}

// Err returns why the stream ended, or nil after a clean Close.
func (s *Subscriber) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// Close ends the stream and waits for the read loop to exit.
func (s *Subscriber) Close() error {
	s.writeMu.Lock()
	err := s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
	s.writeMu.Unlock()

	select {
	case <-s.done:
	case <-time.After(writeWait):
	}
	if cerr := s.conn.Close(); err == nil && !errors.Is(cerr, net.ErrClosed) {
		err = cerr
	}
	return err
}
