package actors

import (
	stdctx "context"
	"log/slog"
	"time"

	"feedline/internal/api"
	"feedline/internal/models"
	"feedline/internal/utils"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/google/uuid"
)

// Message types for Post operations
type (
	CreatePostMsg struct {
		AuthorID     string
		Title        string
		Description  string
		MediaURL     string
		ThumbnailURL string
		MediaType    models.MediaType
		IsGated      bool
	}

	EditPostMsg struct {
		PostID string
		UserID string
		Update models.PostUpdate
	}

	DeletePostMsg struct {
		PostID string
		UserID string
	}

	// GetPostMsg returns the post redacted when ViewerID is empty.
	GetPostMsg struct {
		PostID   string
		ViewerID string
	}

	// ListPostsMsg lists the feed, or one author's posts when AuthorID is set.
	ListPostsMsg struct {
		ViewerID string
		AuthorID string
		Limit    int
		Offset   int
	}

	ListSavedPostsMsg struct {
		UserID string
		Limit  int
		Offset int
	}

	// ToggleLikeMsg sets the caller's like to Like. Request fills Deadline;
	// a message still queued past it is refused without writing.
	ToggleLikeMsg struct {
		PostID   string
		UserID   string
		Like     bool
		Deadline time.Time
	}

	ToggleSaveMsg struct {
		PostID   string
		UserID   string
		Save     bool
		Deadline time.Time
	}

	// PostChangedMsg tells the post actor that a write elsewhere changed the
	// post's counters. It refreshes the cache and publishes the post.
	PostChangedMsg struct {
		PostID string
	}

	GetPostStatusMsg struct {
		PostID string
		UserID string
	}

	ReconcileMsg struct {
		PostID string
		Repair bool
	}
)

// PostActor handles post, like and save operations. It keeps no state of
// its own: every decision is made against the store inside a transaction.
type PostActor struct {
	deps *Deps
}

// NewPostActor creates a new PostActor instance
func NewPostActor(deps *Deps) actor.Actor {
	return &PostActor{deps: deps}
}

// Receive handles incoming messages
func (a *PostActor) Receive(context actor.Context) {
	switch msg := context.Message().(type) {
	case *actor.Started:
		slog.Debug("PostActor started", "pid", context.Self().Id)
	case *actor.Stopping:
		slog.Debug("PostActor stopping")
	case *CreatePostMsg:
		a.handleCreatePost(context, msg)
	case *EditPostMsg:
		a.handleEditPost(context, msg)
	case *DeletePostMsg:
		a.handleDeletePost(context, msg)
	case *GetPostMsg:
		a.handleGetPost(context, msg)
	case *ListPostsMsg:
		a.handleListPosts(context, msg)
	case *ListSavedPostsMsg:
		a.handleListSaved(context, msg)
	case *PostChangedMsg:
		a.handlePostChanged(msg)
	case *ToggleLikeMsg:
		a.handleToggleLike(context, msg)
	case *ToggleSaveMsg:
		a.handleToggleSave(context, msg)
	case *GetPostStatusMsg:
		a.handleGetStatus(context, msg)
	case *ReconcileMsg:
		a.handleReconcile(context, msg)
	}
}

func (a *PostActor) handleCreatePost(context actor.Context, msg *CreatePostMsg) {
	startTime := time.Now()
	if err := requireCaller(msg.AuthorID); err != nil {
		a.deps.respondErr(context, "create_post", err)
		return
	}

	post := &models.Post{
		ID:           uuid.NewString(),
		Title:        msg.Title,
		Description:  msg.Description,
		MediaURL:     msg.MediaURL,
		ThumbnailURL: msg.ThumbnailURL,
		MediaType:    msg.MediaType,
		IsGated:      msg.IsGated,
		CreatedBy:    msg.AuthorID,
	}
	if err := validatePostInput(post); err != nil {
		a.deps.respondErr(context, "create_post", err)
		return
	}

	ctx, cancel := a.deps.storeContext()
	defer cancel()
	if err := a.deps.DB.CreatePost(ctx, post); err != nil {
		a.deps.respondErr(context, "create_post", err)
		return
	}
	slog.Info("post created", "post", post.ID, "author", post.CreatedBy)

	a.deps.observe("create_post", startTime)
	context.Respond(post)
}

func validatePostInput(post *models.Post) error {
	if err := post.Validate(); err != nil {
		return utils.NewInvalidInputError(err.Error())
	}
	if !models.ValidMediaURL(post.MediaURL) {
		return utils.NewInvalidInputError("mediaUrl must be an http(s) URL")
	}
	if post.ThumbnailURL != "" && !models.ValidMediaURL(post.ThumbnailURL) {
		return utils.NewInvalidInputError("thumbnailUrl must be an http(s) URL")
	}
	return nil
}

// loadOwned fetches the post and checks that userID may change it. Admins
// pass only when allowAdmin is set.
func (a *PostActor) loadOwned(ctx stdctx.Context, postID, userID string, allowAdmin bool) (*models.Post, error) {
	if err := requireCaller(userID); err != nil {
		return nil, err
	}
	post, err := a.deps.DB.GetPost(ctx, postID)
	if err != nil {
		return nil, err
	}
	if post.CreatedBy == userID {
		return post, nil
	}
	if allowAdmin {
		admin, err := a.deps.isAdmin(ctx, userID)
		if err != nil {
			return nil, err
		}
		if admin {
			return post, nil
		}
	}
	return nil, utils.NewPermissionDeniedError("not the owner of this post")
}

func (a *PostActor) handleEditPost(context actor.Context, msg *EditPostMsg) {
	startTime := time.Now()
	if msg.Update.Empty() {
		a.deps.respondErr(context, "edit_post", utils.NewInvalidInputError("nothing to update"))
		return
	}

	ctx, cancel := a.deps.storeContext()
	defer cancel()
	post, err := a.loadOwned(ctx, msg.PostID, msg.UserID, false)
	if err != nil {
		a.deps.respondErr(context, "edit_post", err)
		return
	}
	preview := *post
	msg.Update.Apply(&preview)
	if err := validatePostInput(&preview); err != nil {
		a.deps.respondErr(context, "edit_post", err)
		return
	}

	updated, err := a.deps.DB.UpdatePost(ctx, msg.PostID, msg.Update)
	if err != nil {
		a.deps.respondErr(context, "edit_post", err)
		return
	}
	if err := a.deps.Cache.Invalidate(ctx, msg.PostID); err != nil {
		slog.Warn("cache invalidate failed", "post", msg.PostID, "error", err)
	}
	a.deps.publishPost(ctx, updated)

	a.deps.observe("edit_post", startTime)
	context.Respond(updated)
}

func (a *PostActor) handleDeletePost(context actor.Context, msg *DeletePostMsg) {
	startTime := time.Now()
	ctx, cancel := a.deps.storeContext()
	defer cancel()

	if _, err := a.loadOwned(ctx, msg.PostID, msg.UserID, true); err != nil {
		a.deps.respondErr(context, "delete_post", err)
		return
	}
	if err := a.deps.DB.DeletePost(ctx, msg.PostID); err != nil {
		a.deps.respondErr(context, "delete_post", err)
		return
	}
	if err := a.deps.Cache.Invalidate(ctx, msg.PostID); err != nil {
		slog.Warn("cache invalidate failed", "post", msg.PostID, "error", err)
	}
	slog.Info("post deleted", "post", msg.PostID, "by", msg.UserID)

	a.deps.observe("delete_post", startTime)
	context.Respond(true)
}

func viewAs(post *models.Post, viewerID string) *models.Post {
	if viewerID == "" {
		return post.Redacted()
	}
	return post
}

func (a *PostActor) handleGetPost(context actor.Context, msg *GetPostMsg) {
	ctx, cancel := a.deps.storeContext()
	defer cancel()
	post, err := a.deps.getPost(ctx, msg.PostID)
	if err != nil {
		a.deps.respondErr(context, "get_post", err)
		return
	}
	context.Respond(viewAs(post, msg.ViewerID))
}

func (a *PostActor) handleListPosts(context actor.Context, msg *ListPostsMsg) {
	startTime := time.Now()
	ctx, cancel := a.deps.storeContext()
	defer cancel()

	var (
		posts []*models.Post
		err   error
	)
	if msg.AuthorID != "" {
		posts, err = a.deps.DB.GetPostsByUser(ctx, msg.AuthorID, msg.Limit, msg.Offset)
	} else {
		posts, err = a.deps.DB.GetRecentPosts(ctx, msg.Limit, msg.Offset)
	}
	if err != nil {
		a.deps.respondErr(context, "list_posts", err)
		return
	}
	out := make([]*models.Post, len(posts))
	for i, p := range posts {
		out[i] = viewAs(p, msg.ViewerID)
	}

	a.deps.observe("list_posts", startTime)
	context.Respond(out)
}

func (a *PostActor) handleListSaved(context actor.Context, msg *ListSavedPostsMsg) {
	if err := requireCaller(msg.UserID); err != nil {
		a.deps.respondErr(context, "list_saved", err)
		return
	}
	ctx, cancel := a.deps.storeContext()
	defer cancel()
	posts, err := a.deps.DB.GetSavedPosts(ctx, msg.UserID, msg.Limit, msg.Offset)
	if err != nil {
		a.deps.respondErr(context, "list_saved", err)
		return
	}
	context.Respond(posts)
}

func (m *ToggleLikeMsg) setDeadline(t time.Time) { m.Deadline = t }
func (m *ToggleSaveMsg) setDeadline(t time.Time) { m.Deadline = t }

func toggleOutcome(res *models.ToggleResult) string {
	if !res.Changed {
		return "noop"
	}
	if res.Active {
		return "on"
	}
	return "off"
}

func (a *PostActor) handleToggleLike(context actor.Context, msg *ToggleLikeMsg) {
	startTime := time.Now()
	if err := requireCaller(msg.UserID); err != nil {
		a.deps.respondErr(context, "toggle_like", err)
		return
	}

	ctx, cancel, err := a.deps.writeContext("toggle_like", msg.Deadline)
	if err != nil {
		a.deps.respondErr(context, "toggle_like", err)
		return
	}
	res, err := a.deps.DB.SetLike(ctx, msg.PostID, msg.UserID, msg.Like)
	cancel()
	if err != nil {
		a.deps.respondErr(context, "toggle_like", err)
		return
	}
	if a.deps.Metrics != nil {
		a.deps.Metrics.RecordToggle(string(models.ToggleLike), toggleOutcome(res))
	}
	a.deps.observe("toggle_like", startTime)
	context.Respond(res)

	// The reply goes out first; the caller's deadline does not cover publishing.
	if res.Changed {
		pubCtx, cancelPub := a.deps.storeContext()
		defer cancelPub()
		a.deps.refreshAndPublish(pubCtx, msg.PostID)
	}
}

func (a *PostActor) handleToggleSave(context actor.Context, msg *ToggleSaveMsg) {
	startTime := time.Now()
	if err := requireCaller(msg.UserID); err != nil {
		a.deps.respondErr(context, "toggle_save", err)
		return
	}

	ctx, cancel, err := a.deps.writeContext("toggle_save", msg.Deadline)
	if err != nil {
		a.deps.respondErr(context, "toggle_save", err)
		return
	}
	defer cancel()
	res, err := a.deps.DB.SetSaved(ctx, msg.UserID, msg.PostID, msg.Save)
	if err != nil {
		a.deps.respondErr(context, "toggle_save", err)
		return
	}
	if a.deps.Metrics != nil {
		a.deps.Metrics.RecordToggle(string(models.ToggleSave), toggleOutcome(res))
	}

	a.deps.observe("toggle_save", startTime)
	context.Respond(res)
}

func (a *PostActor) handlePostChanged(msg *PostChangedMsg) {
	ctx, cancel := a.deps.storeContext()
	defer cancel()
	a.deps.refreshAndPublish(ctx, msg.PostID)
}

func (a *PostActor) handleGetStatus(context actor.Context, msg *GetPostStatusMsg) {
	ctx, cancel := a.deps.storeContext()
	defer cancel()

	post, err := a.deps.getPost(ctx, msg.PostID)
	if err != nil {
		a.deps.respondErr(context, "post_status", err)
		return
	}
	status := &api.PostStatus{PostID: post.ID, LikesCount: post.LikesCount}
	if msg.UserID != "" {
		if status.Liked, err = a.deps.DB.HasLiked(ctx, msg.PostID, msg.UserID); err != nil {
			a.deps.respondErr(context, "post_status", err)
			return
		}
		if status.Saved, err = a.deps.DB.HasSaved(ctx, msg.UserID, msg.PostID); err != nil {
			a.deps.respondErr(context, "post_status", err)
			return
		}
	}
	context.Respond(status)
}

func (a *PostActor) handleReconcile(context actor.Context, msg *ReconcileMsg) {
	startTime := time.Now()
	// Reconciling every post can take far longer than one store call.
	ctx, cancel := stdctx.WithTimeout(stdctx.Background(), 5*time.Minute)
	defer cancel()

	drifts, err := a.deps.DB.Reconcile(ctx, msg.PostID, msg.Repair)
	if err != nil {
		a.deps.respondErr(context, "reconcile", err)
		return
	}
	for _, d := range drifts {
		slog.Warn("counter drift", "post", d.PostID,
			"likes", d.LikesCount, "likeRecords", d.LikeRecords,
			"comments", d.CommentsCount, "commentRecords", d.CommentRecords,
			"repaired", d.Repaired)
		if d.Repaired {
			a.deps.refreshAndPublish(ctx, d.PostID)
		}
	}

	a.deps.observe("reconcile", startTime)
	context.Respond(drifts)
}
