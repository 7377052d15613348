package actors

import (
	stdctx "context"
	"log/slog"
	"strings"
	"time"

	"feedline/internal/models"
	"feedline/internal/utils"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/google/uuid"
)

// Message types for CommentActor
type (
	AddCommentMsg struct {
		PostID   string
		AuthorID string
		// Username is used only when the author's profile cannot be read.
		Username string
		Text     string
	}

	EditCommentMsg struct {
		PostID    string
		CommentID string
		AuthorID  string
		Text      string
	}

	DeleteCommentMsg struct {
		PostID    string
		CommentID string
		AuthorID  string
	}

	GetCommentsForPostMsg struct {
		PostID string
	}
)

// CommentActor manages comment operations. Post counters it changes are
// handed to the post actor for publishing.
type CommentActor struct {
	deps  *Deps
	posts *actor.PID
}

func NewCommentActor(deps *Deps, posts *actor.PID) actor.Actor {
	return &CommentActor{deps: deps, posts: posts}
}

func (a *CommentActor) Receive(context actor.Context) {
	switch msg := context.Message().(type) {
	case *actor.Started:
		slog.Debug("CommentActor started", "pid", context.Self().Id)
	case *AddCommentMsg:
		a.handleAddComment(context, msg)
	case *EditCommentMsg:
		a.handleEditComment(context, msg)
	case *DeleteCommentMsg:
		a.handleDeleteComment(context, msg)
	case *GetCommentsForPostMsg:
		a.handleGetPostComments(context, msg)
	}
}

// getUsername reads the author's current username. Profiles can be renamed,
// so it is not cached.
func (a *CommentActor) getUsername(ctx stdctx.Context, userID, fallback string) string {
	user, err := a.deps.DB.GetUser(ctx, userID)
	if err != nil {
		slog.Debug("username lookup failed", "user", userID, "error", err)
		if fallback = strings.TrimSpace(fallback); fallback != "" {
			return fallback
		}
		return "[unknown]"
	}
	return user.Username
}

// postChanged drops the cached post and lets the post actor refill and
// publish it.
func (a *CommentActor) postChanged(context actor.Context, postID string) {
	ctx, cancel := a.deps.storeContext()
	defer cancel()
	if err := a.deps.Cache.Invalidate(ctx, postID); err != nil {
		slog.Warn("cache invalidate failed", "post", postID, "error", err)
	}
	if a.posts != nil {
		context.Send(a.posts, &PostChangedMsg{PostID: postID})
	}
}

func (a *CommentActor) handleAddComment(context actor.Context, msg *AddCommentMsg) {
	startTime := time.Now()
	if err := requireCaller(msg.AuthorID); err != nil {
		a.deps.respondErr(context, "add_comment", err)
		return
	}
	if err := models.ValidateCommentText(msg.Text); err != nil {
		a.deps.respondErr(context, "add_comment", utils.NewInvalidInputError(err.Error()))
		return
	}

	ctx, cancel := a.deps.storeContext()
	defer cancel()
	comment := &models.Comment{
		ID:       uuid.NewString(),
		PostID:   msg.PostID,
		AuthorID: msg.AuthorID,
		Username: a.getUsername(ctx, msg.AuthorID, msg.Username),
		Text:     msg.Text,
	}
	if err := a.deps.DB.AddComment(ctx, comment); err != nil {
		a.deps.respondErr(context, "add_comment", err)
		return
	}
	a.deps.publishComments(ctx, msg.PostID)
	a.postChanged(context, msg.PostID)

	a.deps.observe("add_comment", startTime)
	context.Respond(comment)
}

func (a *CommentActor) handleEditComment(context actor.Context, msg *EditCommentMsg) {
	startTime := time.Now()
	if err := requireCaller(msg.AuthorID); err != nil {
		a.deps.respondErr(context, "edit_comment", err)
		return
	}
	if err := models.ValidateCommentText(msg.Text); err != nil {
		a.deps.respondErr(context, "edit_comment", utils.NewInvalidInputError(err.Error()))
		return
	}

	ctx, cancel := a.deps.storeContext()
	defer cancel()
	comment, err := a.deps.DB.EditComment(ctx, msg.PostID, msg.CommentID, msg.AuthorID, msg.Text)
	if err != nil {
		a.deps.respondErr(context, "edit_comment", err)
		return
	}
	a.deps.publishComments(ctx, msg.PostID)

	a.deps.observe("edit_comment", startTime)
	context.Respond(comment)
}

func (a *CommentActor) handleDeleteComment(context actor.Context, msg *DeleteCommentMsg) {
	startTime := time.Now()
	if err := requireCaller(msg.AuthorID); err != nil {
		a.deps.respondErr(context, "delete_comment", err)
		return
	}

	ctx, cancel := a.deps.storeContext()
	defer cancel()
	if err := a.deps.DB.DeleteComment(ctx, msg.PostID, msg.CommentID, msg.AuthorID); err != nil {
		a.deps.respondErr(context, "delete_comment", err)
		return
	}
	a.deps.publishComments(ctx, msg.PostID)
	a.postChanged(context, msg.PostID)

	a.deps.observe("delete_comment", startTime)
	context.Respond(true)
}

func (a *CommentActor) handleGetPostComments(context actor.Context, msg *GetCommentsForPostMsg) {
	ctx, cancel := a.deps.storeContext()
	defer cancel()
	if _, err := a.deps.peekPost(ctx, msg.PostID); err != nil {
		a.deps.respondErr(context, "get_comments", err)
		return
	}
	comments, err := a.deps.DB.GetPostComments(ctx, msg.PostID)
	if err != nil {
		a.deps.respondErr(context, "get_comments", err)
		return
	}
	context.Respond(comments)
}
