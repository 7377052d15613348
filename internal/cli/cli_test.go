package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"feedline/internal/database"
	"feedline/internal/events"
	"feedline/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	store  *database.SQLStore
	broker *events.LocalBroker
	open   func(ctx context.Context) (*Backend, error)
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := database.NewSQLiteStore(filepath.Join(t.TempDir(), "feedctl.db"))
	require.NoError(t, err)
	require.NoError(t, store.InitializeTables(context.Background()))
	t.Cleanup(func() { store.Close(context.Background()) })

	f := &fixture{store: store, broker: events.NewLocalBroker()}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.open = func(ctx context.Context) (*Backend, error) {
		return NewBackend(store, f.broker, logger), nil
	}
	return f
}

func (f *fixture) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommandWithBackend(f.open)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func (f *fixture) seedPost(t *testing.T) *models.Post {
	t.Helper()
	post := &models.Post{
		ID:        uuid.NewString(),
		Title:     "lighthouse",
		MediaURL:  "https://cdn.example/lighthouse.jpg",
		MediaType: models.MediaImage,
		CreatedBy: "alice",
	}
	require.NoError(t, f.store.CreatePost(context.Background(), post))
	return post
}

func (f *fixture) seedUser(t *testing.T, name string) *models.UserProfile {
	t.Helper()
	user := &models.UserProfile{ID: uuid.NewString(), Username: name, Email: name + "@example.com", HashedPassword: "x"}
	require.NoError(t, f.store.SaveUser(context.Background(), user))
	return user
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	assert.Equal(t, "feedctl", cmd.Use)
	for _, name := range []string{"migrate", "reconcile", "promote", "requests"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)
			assert.Equal(t, name, sub.Name())
		})
	}

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)
}

func TestInvalidFormat(t *testing.T) {
	f := newFixture(t)
	_, err := f.run(t, "migrate", "--format", "yaml")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestMigrate(t *testing.T) {
	f := newFixture(t)
	f.seedPost(t)
	out, err := f.run(t, "migrate")
	require.NoError(t, err)
	assert.Contains(t, out, "1 posts")
}

func TestReconcileReportsAndRepairs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	post := f.seedPost(t)
	_, err := f.store.SetLike(ctx, post.ID, "bob", true)
	require.NoError(t, err)

	out, err := f.run(t, "reconcile")
	require.NoError(t, err)
	assert.Contains(t, out, "all counters match")

	_, err = f.store.DB.ExecContext(ctx, `UPDATE posts SET likes_count = 7 WHERE id = ?`, post.ID)
	require.NoError(t, err)

	out, err = f.run(t, "reconcile", "--format", "json")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	var result ReconcileResult
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	require.Len(t, result.Drifts, 1)
	assert.Equal(t, 7, result.Drifts[0].LikesCount)
	assert.Equal(t, 1, result.Drifts[0].LikeRecords)

	published := make(chan events.Event, 4)
	_, err = f.broker.Subscribe(func(ev events.Event) { published <- ev })
	require.NoError(t, err)

	out, err = f.run(t, "reconcile", "--repair", "--post", post.ID)
	require.NoError(t, err)
	assert.Contains(t, out, "repaired 1 posts")

	got, err := f.store.GetPost(ctx, post.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.LikesCount)

	select {
	case ev := <-published:
		assert.Equal(t, events.PostTopic(post.ID), ev.Topic)
		assert.Contains(t, string(ev.Data), `"likesCount":1`)
	case <-time.After(2 * time.Second):
		t.Fatal("repaired post was not published")
	}
}

func TestPromoteAndReview(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := f.seedUser(t, "root")
	alice := f.seedUser(t, "alice")

	_, err := f.run(t, "promote", admin.ID)
	require.NoError(t, err)
	got, err := f.store.GetUser(ctx, admin.ID)
	require.NoError(t, err)
	assert.True(t, got.IsAdmin())

	req := &models.VerificationRequest{ID: uuid.NewString(), UserID: alice.ID, DocURL: "https://cdn.example/id.png", Status: models.StatusPending}
	require.NoError(t, f.store.CreateVerificationRequest(ctx, req))

	out, err := f.run(t, "requests", "list")
	require.NoError(t, err)
	assert.Contains(t, out, req.ID)

	_, err = f.run(t, "requests", "review", req.ID, "--as", admin.ID)
	require.Error(t, err)

	_, err = f.run(t, "requests", "review", req.ID, "--as", alice.ID, "--approve")
	require.Error(t, err)

	_, err = f.run(t, "requests", "review", req.ID, "--as", admin.ID, "--approve")
	require.NoError(t, err)
	got, err = f.store.GetUser(ctx, alice.ID)
	require.NoError(t, err)
	assert.True(t, got.Verified)
}
