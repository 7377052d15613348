package client

import (
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"feedline/internal/api"
	"feedline/internal/config"
	"feedline/internal/database"
	"feedline/internal/engine"
	"feedline/internal/engine/actors"
	"feedline/internal/events"
	"feedline/internal/handlers"
	"feedline/internal/middleware"
	"feedline/internal/utils"
	"feedline/internal/websocket"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func newServer(t *testing.T) string {
	t.Helper()
	store, err := database.NewSQLiteStore(filepath.Join(t.TempDir(), "client.db"))
	require.NoError(t, err)
	require.NoError(t, store.InitializeTables(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	hub := websocket.NewHub()
	go hub.Run(ctx)
	broker := events.NewLocalBroker()
	_, err = broker.Subscribe(hub.Deliver)
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	metrics := utils.NewMetricsCollector()
	deps := &actors.Deps{DB: store, Broker: broker, Metrics: metrics, PasswordCost: bcrypt.MinCost}
	eng := engine.NewEngine(engine.NewActorSystem(logger), deps, 5*time.Second)
	tokens := middleware.NewTokenIssuer(&config.AuthConfig{JWTSecret: "client-test", TokenTTL: time.Hour})
	server := handlers.NewServer(eng, store, metrics, hub, tokens)
	server.Logger = logger

	srv := httptest.NewServer(server.Routes())
	t.Cleanup(func() {
		srv.Close()
		eng.Shutdown()
		cancel()
		store.Close(context.Background())
	})
	return srv.URL
}

func signedIn(t *testing.T, url, name string) *Client {
	t.Helper()
	ctx := context.Background()
	c := New(url)
	_, err := c.Register(ctx, name, name+"@example.com", "password123")
	require.NoError(t, err)
	s, err := c.Login(ctx, name+"@example.com", "password123")
	require.NoError(t, err)
	require.True(t, s.Valid())
	return c
}

func TestSignedOutCallFailsLocally(t *testing.T) {
	c := New("http://127.0.0.1:1")
	_, err := c.SetLike(context.Background(), "p1", true)
	assert.True(t, utils.IsErrorCode(err, utils.ErrUnauthenticated))
}

func TestClientRoundTrip(t *testing.T) {
	url := newServer(t)
	ctx := context.Background()
	alice := signedIn(t, url, "alice")
	bob := signedIn(t, url, "bob")

	postID, err := alice.CreatePost(ctx, api.CreatePostInput{
		Title: "tide", MediaURL: "https://cdn.example/tide.jpg", MediaType: "image",
	})
	require.NoError(t, err)

	view, err := LoadPostView(ctx, bob, nil, postID)
	require.NoError(t, err)
	assert.Equal(t, LikeState{}, view.Likes())

	require.NoError(t, view.ToggleLike(ctx))
	assert.Equal(t, LikeState{Liked: true, LikesCount: 1}, view.Likes())
	require.NoError(t, view.ToggleSave(ctx))

	saved, err := bob.SavedPosts(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, saved, 1)

	// A fresh view reads the same state back.
	again, err := LoadPostView(ctx, bob, nil, postID)
	require.NoError(t, err)
	assert.Equal(t, LikeState{Liked: true, LikesCount: 1}, again.Likes())
	assert.True(t, again.Saved())

	err = alice.DeleteComment(ctx, postID, "missing")
	assert.True(t, utils.IsErrorCode(err, utils.ErrNotFound))

	bob.Logout()
	assert.Nil(t, bob.Session())
	_, err = bob.SavedPosts(ctx, 0, 0)
	assert.True(t, utils.IsErrorCode(err, utils.ErrUnauthenticated))
}

func TestSubscriberDeliversOtherUsersLikes(t *testing.T) {
	url := newServer(t)
	ctx := context.Background()
	alice := signedIn(t, url, "alice")
	bob := signedIn(t, url, "bob")

	postID, err := alice.CreatePost(ctx, api.CreatePostInput{
		Title: "tide", MediaURL: "https://cdn.example/tide.jpg", MediaType: "image",
	})
	require.NoError(t, err)

	view, err := LoadPostView(ctx, alice, nil, postID)
	require.NoError(t, err)
	thread, err := LoadCommentThread(ctx, alice, nil, postID)
	require.NoError(t, err)

	sub, err := Dial(ctx, alice)
	require.NoError(t, err)
	defer sub.Close()

	stopPost, err := sub.WatchPost(ctx, view)
	require.NoError(t, err)
	defer stopPost()
	stopComments, err := sub.WatchComments(ctx, thread)
	require.NoError(t, err)
	defer stopComments()

	bobView, err := LoadPostView(ctx, bob, nil, postID)
	require.NoError(t, err)
	require.NoError(t, bobView.ToggleLike(ctx))

	// Subscribe frames are applied asynchronously by the hub, so the like may
	// have been published before the subscription existed. Each comment
	// republishes the post with its current likesCount.
	require.Eventually(t, func() bool {
		if view.Likes().LikesCount == 1 {
			return true
		}
		_, _ = bob.AddComment(ctx, postID, "ping")
		return false
	}, 3*time.Second, 100*time.Millisecond)

	assert.False(t, view.Likes().Liked)
	require.Eventually(t, func() bool { return len(thread.Comments()) > 0 }, 3*time.Second, 20*time.Millisecond)
	assert.Equal(t, "bob", thread.Comments()[0].Username)
}
