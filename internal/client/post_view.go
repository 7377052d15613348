package client

import (
	"context"
	"errors"
	"time"

	"feedline/internal/api"
	"feedline/internal/models"
)

// Remote is the part of the API a PostView needs. *Client implements it.
type Remote interface {
	SetLike(ctx context.Context, postID string, like bool) (*api.LikeResult, error)
	SetSaved(ctx context.Context, postID string, save bool) (*api.SaveResult, error)
}

// LikeState is what a post card displays for likes.
type LikeState struct {
	Liked      bool
	LikesCount int
}

// PostView is one user's view of one post: the liked and saved flags and the
// displayed likesCount. Likes and saves are guarded separately, so a save can
// run while a like is in flight but never two likes.
type PostView struct {
	postID   string
	remote   Remote
	notifier Notifier

	likes *Optimistic[LikeState]
	saved *Optimistic[bool]
}

// NewPostView seeds a view from a one-time status read.
func NewPostView(remote Remote, notifier Notifier, status api.PostStatus, opts ...ViewOption) *PostView {
	if notifier == nil {
		notifier = discardNotifier{}
	}
	cfg := viewConfig{timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &PostView{
		postID:   status.PostID,
		remote:   remote,
		notifier: notifier,
		likes:    NewOptimistic(LikeState{Liked: status.Liked, LikesCount: status.LikesCount}, cfg.timeout),
		saved:    NewOptimistic(status.Saved, cfg.timeout),
	}
}

type viewConfig struct {
	timeout time.Duration
}

type ViewOption func(*viewConfig)

// WithCommitTimeout bounds how long a toggle waits for the server.
func WithCommitTimeout(d time.Duration) ViewOption {
	return func(c *viewConfig) { c.timeout = d }
}

// LoadPostView reads the caller's status for postID and builds a view on it.
func LoadPostView(ctx context.Context, c *Client, notifier Notifier, postID string) (*PostView, error) {
	status, err := c.PostStatus(ctx, postID)
	if err != nil {
		return nil, err
	}
	return NewPostView(c, notifier, *status, WithCommitTimeout(c.Timeout())), nil
}

func (v *PostView) PostID() string {
	return v.postID
}

func (v *PostView) Likes() LikeState {
	return v.likes.Get()
}

// Pending reports whether a like or save is waiting on the server.
func (v *PostView) Pending() bool {
	return v.likes.Pending() || v.saved.Pending()
}

func (v *PostView) Saved() bool {
	return v.saved.Get()
}

// OnLikesChange registers a render callback for the like state.
func (v *PostView) OnLikesChange(fn func(LikeState)) {
	v.likes.OnChange(fn)
}

func (v *PostView) OnSavedChange(fn func(bool)) {
	v.saved.OnChange(fn)
}

// ToggleLike flips the liked flag and moves the count by one at once, then
// asks the server to apply the same change. The server's committed count
// replaces the displayed one on success; on failure both values go back to
// what they were and the notifier is told. A call while a like is pending
// returns ErrInFlight and sends nothing.
func (v *PostView) ToggleLike(ctx context.Context) error {
	err := v.likes.Mutate(ctx,
		func(s LikeState) LikeState {
			if s.Liked {
				s.LikesCount = max(s.LikesCount-1, 0)
			} else {
				s.LikesCount++
			}
			s.Liked = !s.Liked
			return s
		},
		func(ctx context.Context, before LikeState) (func(LikeState) LikeState, error) {
			res, err := v.remote.SetLike(ctx, v.postID, !before.Liked)
			if err != nil {
				return nil, err
			}
			return func(LikeState) LikeState {
				return LikeState{Liked: res.Liked, LikesCount: res.LikesCount}
			}, nil
		})
	v.report("like", err)
	return err
}

// ToggleSave flips the saved flag with the same guard and revert rules as
// ToggleLike.
func (v *PostView) ToggleSave(ctx context.Context) error {
	err := v.saved.Mutate(ctx,
		func(saved bool) bool { return !saved },
		func(ctx context.Context, before bool) (func(bool) bool, error) {
			res, err := v.remote.SetSaved(ctx, v.postID, !before)
			if err != nil {
				return nil, err
			}
			return func(bool) bool { return res.Saved }, nil
		})
	v.report("save", err)
	return err
}

// ApplySnapshot takes the authoritative likesCount from a live update. The
// liked flag only ever changes through the user's own toggles.
func (v *PostView) ApplySnapshot(post *models.Post) {
	if post == nil || post.ID != v.postID {
		return
	}
	v.likes.Update(func(s LikeState) LikeState {
		s.LikesCount = post.LikesCount
		return s
	})
}

func (v *PostView) report(action string, err error) {
	if err == nil || errors.Is(err, ErrInFlight) {
		return
	}
	v.notifier.Notify(notificationFor(action, err))
}
