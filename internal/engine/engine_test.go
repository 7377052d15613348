package engine

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"feedline/internal/database"
	"feedline/internal/engine/actors"
	"feedline/internal/models"
	"feedline/internal/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestEngineRoutesToActors(t *testing.T) {
	store, err := database.NewSQLiteStore(filepath.Join(t.TempDir(), "engine.db"))
	require.NoError(t, err)
	require.NoError(t, store.InitializeTables(context.Background()))
	defer store.Close(context.Background())

	var logs bytes.Buffer
	system := NewActorSystem(utils.NewLogger(&logs, true))
	eng := NewEngine(system, &actors.Deps{DB: store, PasswordCost: bcrypt.MinCost}, time.Second)
	defer eng.Shutdown()

	res, err := eng.Users(&actors.RegisterUserMsg{Username: "alice", Email: "alice@example.com", Password: "password123"})
	require.NoError(t, err)
	user := res.(*models.UserProfile)

	res, err = eng.Posts(&actors.CreatePostMsg{
		AuthorID:  user.ID,
		Title:     "hello",
		MediaURL:  "https://cdn.example/a.jpg",
		MediaType: models.MediaImage,
	})
	require.NoError(t, err)
	post := res.(*models.Post)

	_, err = eng.Comments(&actors.AddCommentMsg{PostID: post.ID, AuthorID: user.ID, Text: "hi"})
	require.NoError(t, err)

	_, err = eng.Posts(&actors.GetPostMsg{PostID: "missing"})
	assert.True(t, utils.IsErrorCode(err, utils.ErrNotFound))
}
