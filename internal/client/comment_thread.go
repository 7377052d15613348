package client

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	"feedline/internal/models"
	"feedline/internal/utils"

	"github.com/google/uuid"
)

// CommentRemote is the part of the API a CommentThread needs.
type CommentRemote interface {
	AddComment(ctx context.Context, postID, text string) (string, error)
	EditComment(ctx context.Context, postID, commentID, text string) error
	DeleteComment(ctx context.Context, postID, commentID string) error
}

// pendingPrefix marks comments shown locally before the server assigned an id.
const pendingPrefix = "pending-"

// CommentThread is the displayed comment list of one post, oldest first.
// Add, edit and delete show their effect at once and are rolled back when
// the server refuses them.
type CommentThread struct {
	postID   string
	author   func() (id, username string)
	remote   CommentRemote
	notifier Notifier

	comments *Optimistic[[]models.Comment]
}

// NewCommentThread builds a thread from an initial list. author reports the
// signed-in user for optimistic entries.
func NewCommentThread(remote CommentRemote, notifier Notifier, postID string, initial []*models.Comment, author func() (string, string)) *CommentThread {
	if notifier == nil {
		notifier = discardNotifier{}
	}
	if author == nil {
		author = func() (string, string) { return "", "" }
	}
	return &CommentThread{
		postID:   postID,
		author:   author,
		remote:   remote,
		notifier: notifier,
		comments: NewOptimistic(copyComments(initial), DefaultTimeout),
	}
}

// LoadCommentThread reads the comments of postID and builds a thread for c's session.
func LoadCommentThread(ctx context.Context, c *Client, notifier Notifier, postID string) (*CommentThread, error) {
	initial, err := c.GetComments(ctx, postID)
	if err != nil {
		return nil, err
	}
	author := func() (string, string) {
		if s := c.Session(); s != nil {
			return s.UserID, s.Username
		}
		return "", ""
	}
	return NewCommentThread(c, notifier, postID, initial, author), nil
}

func copyComments(in []*models.Comment) []models.Comment {
	out := make([]models.Comment, 0, len(in))
	for _, c := range in {
		if c != nil {
			out = append(out, *c)
		}
	}
	return out
}

// Comments returns a copy of the displayed list.
func (t *CommentThread) Comments() []models.Comment {
	return slices.Clone(t.comments.Get())
}

func (t *CommentThread) OnChange(fn func([]models.Comment)) {
	t.comments.OnChange(fn)
}

// Add appends the comment locally, then replaces its placeholder id with the
// server's on success.
func (t *CommentThread) Add(ctx context.Context, text string) (string, error) {
	if err := models.ValidateCommentText(text); err != nil {
		return "", utils.NewInvalidInputError(err.Error())
	}
	authorID, username := t.author()
	placeholder := pendingPrefix + uuid.NewString()
	var committedID string

	err := t.comments.Mutate(ctx,
		func(list []models.Comment) []models.Comment {
			return append(slices.Clone(list), models.Comment{
				ID:        placeholder,
				PostID:    t.postID,
				AuthorID:  authorID,
				Username:  username,
				Text:      text,
				CreatedAt: time.Now().UTC(),
			})
		},
		func(ctx context.Context, _ []models.Comment) (func([]models.Comment) []models.Comment, error) {
			id, err := t.remote.AddComment(ctx, t.postID, text)
			if err != nil {
				return nil, err
			}
			committedID = id
			return func(list []models.Comment) []models.Comment {
				// A live snapshot may already carry the committed comment.
				if slices.ContainsFunc(list, func(c models.Comment) bool { return c.ID == id }) {
					return slices.DeleteFunc(slices.Clone(list), func(c models.Comment) bool { return c.ID == placeholder })
				}
				out := slices.Clone(list)
				for i := range out {
					if out[i].ID == placeholder {
						out[i].ID = id
					}
				}
				return out
			}, nil
		})
	t.report("add_comment", err)
	return committedID, err
}

func (t *CommentThread) Edit(ctx context.Context, commentID, text string) error {
	if err := models.ValidateCommentText(text); err != nil {
		return utils.NewInvalidInputError(err.Error())
	}
	err := t.comments.Mutate(ctx,
		func(list []models.Comment) []models.Comment {
			out := slices.Clone(list)
			now := time.Now().UTC()
			for i := range out {
				if out[i].ID == commentID {
					out[i].Text = text
					out[i].EditedAt = &now
				}
			}
			return out
		},
		func(ctx context.Context, _ []models.Comment) (func([]models.Comment) []models.Comment, error) {
			return nil, t.remote.EditComment(ctx, t.postID, commentID, text)
		})
	t.report("edit_comment", err)
	return err
}

func (t *CommentThread) Delete(ctx context.Context, commentID string) error {
	err := t.comments.Mutate(ctx,
		func(list []models.Comment) []models.Comment {
			return slices.DeleteFunc(slices.Clone(list), func(c models.Comment) bool { return c.ID == commentID })
		},
		func(ctx context.Context, _ []models.Comment) (func([]models.Comment) []models.Comment, error) {
			return nil, t.remote.DeleteComment(ctx, t.postID, commentID)
		})
	t.report("delete_comment", err)
	return err
}

// ApplySnapshot replaces the list with a live update from the server.
// Placeholders for an add still in flight are kept at the end.
func (t *CommentThread) ApplySnapshot(comments []*models.Comment) {
	t.comments.Update(func(list []models.Comment) []models.Comment {
		out := copyComments(comments)
		for _, c := range list {
			if strings.HasPrefix(c.ID, pendingPrefix) {
				out = append(out, c)
			}
		}
		return out
	})
}

func (t *CommentThread) report(action string, err error) {
	if err == nil || errors.Is(err, ErrInFlight) {
		return
	}
	t.notifier.Notify(notificationFor(action, err))
}
