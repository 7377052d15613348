package client

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"feedline/internal/api"
	"feedline/internal/models"
	"feedline/internal/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRemote answers SetLike and SetSaved from a script. When gate (or
// saveGate) is set each SetLike (or SetSaved) call blocks until a value is
// sent on it.
type fakeRemote struct {
	mu        sync.Mutex
	calls     int
	likes     int
	gate      chan struct{}
	saveGate  chan struct{}
	err       error
	lastCtxOK bool
}

func (f *fakeRemote) SetLike(ctx context.Context, postID string, like bool) (*api.LikeResult, error) {
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastCtxOK = ctx.Err() == nil
	if f.err != nil {
		return nil, f.err
	}
	if like {
		f.likes++
	} else {
		f.likes--
	}
	return &api.LikeResult{Success: true, Liked: like, LikesCount: f.likes}, nil
}

func (f *fakeRemote) SetSaved(ctx context.Context, postID string, save bool) (*api.SaveResult, error) {
	if f.saveGate != nil {
		<-f.saveGate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &api.SaveResult{Success: true, Saved: save}, nil
}

func (f *fakeRemote) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestToggleLikeSettlesOnCommittedCount(t *testing.T) {
	// Someone else liked the post since our status read.
	remote := &fakeRemote{likes: 6}
	view := NewPostView(remote, nil, api.PostStatus{PostID: "p1", LikesCount: 5})

	require.NoError(t, view.ToggleLike(context.Background()))
	assert.Equal(t, LikeState{Liked: true, LikesCount: 7}, view.Likes())

	require.NoError(t, view.ToggleLike(context.Background()))
	assert.Equal(t, LikeState{Liked: false, LikesCount: 6}, view.Likes())
}

func TestToggleLikeIsSingleFlight(t *testing.T) {
	remote := &fakeRemote{likes: 10, gate: make(chan struct{})}
	view := NewPostView(remote, nil, api.PostStatus{PostID: "p1", LikesCount: 10})

	done := make(chan error, 1)
	go func() { done <- view.ToggleLike(context.Background()) }()
	require.Eventually(t, func() bool { return view.likes.Pending() }, time.Second, time.Millisecond)

	// Optimistic state is visible while the commit is pending.
	assert.Equal(t, LikeState{Liked: true, LikesCount: 11}, view.Likes())
	assert.ErrorIs(t, view.ToggleLike(context.Background()), ErrInFlight)

	remote.gate <- struct{}{}
	require.NoError(t, <-done)
	assert.Equal(t, 1, remote.callCount())
	assert.Equal(t, LikeState{Liked: true, LikesCount: 11}, view.Likes())
}

func TestToggleLikeRevertsAndNotifies(t *testing.T) {
	remote := &fakeRemote{err: utils.NewAppError(utils.ErrTransactionFailure, "commit failed", nil)}
	notes := NewChanNotifier(4)
	view := NewPostView(remote, notes, api.PostStatus{PostID: "p1", Liked: true, LikesCount: 3})

	err := view.ToggleLike(context.Background())
	require.Error(t, err)
	assert.True(t, IsRecoverable(err))
	assert.Equal(t, LikeState{Liked: true, LikesCount: 3}, view.Likes())

	select {
	case note := <-notes.C:
		assert.Equal(t, "like", note.Action)
		assert.Equal(t, utils.ErrTransactionFailure, note.Code)
	default:
		t.Fatal("expected a notification")
	}

	// The guard is released after a failure.
	remote.err = nil
	remote.likes = 3
	require.NoError(t, view.ToggleLike(context.Background()))
	assert.Equal(t, LikeState{Liked: false, LikesCount: 2}, view.Likes())
}

func TestCommitSurvivesCallerCancellation(t *testing.T) {
	remote := &fakeRemote{gate: make(chan struct{})}
	view := NewPostView(remote, nil, api.PostStatus{PostID: "p1"})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- view.ToggleLike(ctx) }()
	require.Eventually(t, func() bool { return view.likes.Pending() }, time.Second, time.Millisecond)

	cancel()
	remote.gate <- struct{}{}
	require.NoError(t, <-done)
	assert.True(t, remote.lastCtxOK)
	assert.Equal(t, LikeState{Liked: true, LikesCount: 1}, view.Likes())
}

func TestApplySnapshotOnlyMovesCount(t *testing.T) {
	view := NewPostView(&fakeRemote{}, nil, api.PostStatus{PostID: "p1", Liked: true, LikesCount: 1})
	var seen []LikeState
	view.OnLikesChange(func(s LikeState) { seen = append(seen, s) })

	view.ApplySnapshot(&models.Post{ID: "p1", LikesCount: 9})
	view.ApplySnapshot(&models.Post{ID: "other", LikesCount: 100})

	assert.Equal(t, LikeState{Liked: true, LikesCount: 9}, view.Likes())
	assert.Equal(t, []LikeState{{Liked: true, LikesCount: 9}}, seen)
}

func TestToggleSave(t *testing.T) {
	remote := &fakeRemote{}
	view := NewPostView(remote, nil, api.PostStatus{PostID: "p1"})
	require.NoError(t, view.ToggleSave(context.Background()))
	assert.True(t, view.Saved())

	remote.err = errors.New("offline")
	require.Error(t, view.ToggleSave(context.Background()))
	assert.True(t, view.Saved())
}

func TestToggleSaveIsSingleFlight(t *testing.T) {
	remote := &fakeRemote{likes: 2, saveGate: make(chan struct{})}
	view := NewPostView(remote, nil, api.PostStatus{PostID: "p1", LikesCount: 2})

	done := make(chan error, 1)
	go func() { done <- view.ToggleSave(context.Background()) }()
	require.Eventually(t, func() bool { return view.saved.Pending() }, time.Second, time.Millisecond)

	assert.True(t, view.Saved())
	assert.ErrorIs(t, view.ToggleSave(context.Background()), ErrInFlight)

	// Likes have their own guard and go through while the save waits.
	require.NoError(t, view.ToggleLike(context.Background()))
	assert.Equal(t, 1, remote.callCount())

	remote.saveGate <- struct{}{}
	require.NoError(t, <-done)
	assert.Equal(t, 2, remote.callCount())
	assert.True(t, view.Saved())
	assert.False(t, view.Pending())
}

type fakeComments struct {
	next int
	err  error
}

func (f *fakeComments) AddComment(ctx context.Context, postID, text string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.next++
	return "c" + string(rune('0'+f.next)), nil
}

func (f *fakeComments) EditComment(ctx context.Context, postID, commentID, text string) error {
	return f.err
}

func (f *fakeComments) DeleteComment(ctx context.Context, postID, commentID string) error {
	return f.err
}

func TestCommentThread(t *testing.T) {
	remote := &fakeComments{}
	author := func() (string, string) { return "u1", "alice" }
	thread := NewCommentThread(remote, nil, "p1", nil, author)

	id, err := thread.Add(context.Background(), "first")
	require.NoError(t, err)
	assert.Equal(t, "c1", id)
	comments := thread.Comments()
	require.Len(t, comments, 1)
	assert.Equal(t, "c1", comments[0].ID)
	assert.Equal(t, "alice", comments[0].Username)

	require.NoError(t, thread.Edit(context.Background(), "c1", "edited"))
	assert.Equal(t, "edited", thread.Comments()[0].Text)
	assert.NotNil(t, thread.Comments()[0].EditedAt)

	remote.err = utils.NewPermissionDeniedError("only the author can delete this comment")
	require.Error(t, thread.Delete(context.Background(), "c1"))
	assert.Len(t, thread.Comments(), 1)

	remote.err = nil
	require.NoError(t, thread.Delete(context.Background(), "c1"))
	assert.Empty(t, thread.Comments())

	_, err = thread.Add(context.Background(), "   ")
	assert.True(t, utils.IsErrorCode(err, utils.ErrInvalidInput))
}

func TestCommentSnapshotBeforeSettle(t *testing.T) {
	thread := NewCommentThread(&fakeComments{}, nil, "p1", nil, nil)
	// The live list can arrive before the add call returns.
	thread.comments.Update(func(list []models.Comment) []models.Comment {
		return append(list, models.Comment{ID: pendingPrefix + "x", Text: "hi"})
	})
	thread.ApplySnapshot([]*models.Comment{{ID: "c9", Text: "hi"}})
	comments := thread.Comments()
	require.Len(t, comments, 2)
	assert.Equal(t, "c9", comments[0].ID)
	assert.Equal(t, pendingPrefix+"x", comments[1].ID)
}
