package actors

import (
	stdctx "context"
	"errors"
	"log/slog"
	"time"

	"feedline/internal/cache"
	"feedline/internal/database"
	"feedline/internal/events"
	"feedline/internal/models"
	"feedline/internal/utils"

	"github.com/asynkron/protoactor-go/actor"
)

// Deps are the shared services every actor works against. Cache and Broker
// may be nil.
type Deps struct {
	DB           database.DBAdapter
	Cache        *cache.PostCache
	Broker       events.Broker
	Metrics      *utils.MetricsCollector
	PasswordCost int
	// StoreTimeout bounds each store call made while handling a message.
	StoreTimeout time.Duration
}

func (d *Deps) storeContext() (stdctx.Context, stdctx.CancelFunc) {
	timeout := d.StoreTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return stdctx.WithTimeout(stdctx.Background(), timeout)
}

// errCallerGone is the origin of ACTOR_TIMEOUT replies for writes refused
// because their caller had already stopped waiting.
var errCallerGone = errors.New("request deadline passed before the write started")

// deadlined messages carry the time by which their write must be finished.
type deadlined interface {
	setDeadline(time.Time)
}

// writeShare is the part of a request timeout a write may use. The rest is
// left for the reply to reach the waiting future.
const writeShare = 0.8

// writeContext is storeContext cut short at deadline. A write whose deadline
// has passed is refused: the caller has already been told ACTOR_TIMEOUT and
// must not see the change commit afterwards.
func (d *Deps) writeContext(op string, deadline time.Time) (stdctx.Context, stdctx.CancelFunc, error) {
	if !deadline.IsZero() && !time.Now().Before(deadline) {
		return nil, nil, utils.NewActorTimeoutError(op, errCallerGone)
	}
	ctx, cancel := d.storeContext()
	if deadline.IsZero() {
		return ctx, cancel, nil
	}
	ctx, cancelDeadline := stdctx.WithDeadline(ctx, deadline)
	return ctx, func() {
		cancelDeadline()
		cancel()
	}, nil
}

// Request sends msg to pid and waits for the reply. A reply that is an
// AppError is returned as the error; a missed deadline becomes ACTOR_TIMEOUT.
// Deadlined messages get a write deadline inside timeout, so a write either
// finishes while the caller still waits or does not happen.
func Request(root *actor.RootContext, pid *actor.PID, msg interface{}, timeout time.Duration, name string) (interface{}, error) {
	if m, ok := msg.(deadlined); ok {
		m.setDeadline(time.Now().Add(time.Duration(float64(timeout) * writeShare)))
	}
	result, err := root.RequestFuture(pid, msg, timeout).Result()
	if err != nil {
		return nil, utils.NewActorTimeoutError(name, err)
	}
	if appErr, ok := result.(*utils.AppError); ok {
		return nil, appErr
	}
	return result, nil
}

// respondErr replies with err as an AppError and counts it.
func (d *Deps) respondErr(context actor.Context, op string, err error) {
	appErr := utils.AsAppError(err)
	if d.Metrics != nil {
		d.Metrics.IncrementErrors()
		if appErr.Code == utils.ErrTransactionFailure {
			d.Metrics.IncrementTransactionFailures(op)
		}
	}
	if appErr.Code == utils.ErrInternal || appErr.Code == utils.ErrDatabase || appErr.Code == utils.ErrDecode {
		slog.Error("operation failed", "op", op, "error", appErr)
	} else {
		slog.Debug("operation rejected", "op", op, "code", appErr.Code, "message", appErr.Message)
	}
	context.Respond(appErr)
}

func (d *Deps) observe(op string, start time.Time) {
	if d.Metrics != nil {
		d.Metrics.AddOperationLatency(op, time.Since(start))
	}
}

// loadFreshPost reads the committed post, bypassing and then refreshing the
// cache. Only the post actor fills the cache: its fills run one at a time, so
// an older read can never overwrite a newer one.
func (d *Deps) loadFreshPost(ctx stdctx.Context, postID string) (*models.Post, error) {
	if err := d.Cache.Invalidate(ctx, postID); err != nil {
		slog.Warn("cache invalidate failed", "post", postID, "error", err)
	}
	post, err := d.DB.GetPost(ctx, postID)
	if err != nil {
		return nil, err
	}
	if err := d.Cache.SetPost(ctx, post); err != nil {
		slog.Warn("cache write failed", "post", postID, "error", err)
	}
	return post, nil
}

// getPost is the cached read path of the post actor.
func (d *Deps) getPost(ctx stdctx.Context, postID string) (*models.Post, error) {
	post, err := d.peekPost(ctx, postID)
	if err != nil || post.cached {
		return post.Post, err
	}
	if err := d.Cache.SetPost(ctx, post.Post); err != nil {
		slog.Warn("cache write failed", "post", postID, "error", err)
	}
	return post.Post, nil
}

type peeked struct {
	*models.Post
	cached bool
}

// peekPost reads through the cache without filling it. Actors other than the
// post actor use it.
func (d *Deps) peekPost(ctx stdctx.Context, postID string) (peeked, error) {
	if cached, err := d.Cache.GetPost(ctx, postID); err != nil {
		slog.Warn("cache read failed", "post", postID, "error", err)
	} else if cached != nil {
		return peeked{Post: cached, cached: true}, nil
	}
	post, err := d.DB.GetPost(ctx, postID)
	if err != nil {
		return peeked{}, err
	}
	return peeked{Post: post}, nil
}

// publishPost pushes the committed post snapshot to its topic. Gated posts
// carry a redacted form for anonymous subscribers.
func (d *Deps) publishPost(ctx stdctx.Context, post *models.Post) {
	if d.Broker == nil {
		return
	}
	var redacted any
	if post.IsGated {
		redacted = post.Redacted()
	}
	ev, err := events.NewEvent(events.TypePost, events.PostTopic(post.ID), post, redacted)
	if err == nil {
		err = d.Broker.Publish(ctx, ev)
	}
	if err != nil {
		slog.Warn("failed to publish post event", "post", post.ID, "error", err)
	}
}

// refreshAndPublish reloads a post after a committed change and publishes it.
// A post deleted in the meantime is not an error.
func (d *Deps) refreshAndPublish(ctx stdctx.Context, postID string) {
	post, err := d.loadFreshPost(ctx, postID)
	if err != nil {
		if !utils.IsErrorCode(err, utils.ErrNotFound) {
			slog.Warn("failed to reload post for publish", "post", postID, "error", err)
		}
		return
	}
	d.publishPost(ctx, post)
}

func (d *Deps) publishComments(ctx stdctx.Context, postID string) {
	if d.Broker == nil {
		return
	}
	comments, err := d.DB.GetPostComments(ctx, postID)
	if err != nil {
		slog.Warn("failed to load comments for publish", "post", postID, "error", err)
		return
	}
	ev, err := events.NewEvent(events.TypeComments, events.PostTopic(postID), comments, nil)
	if err == nil {
		err = d.Broker.Publish(ctx, ev)
	}
	if err != nil {
		slog.Warn("failed to publish comments event", "post", postID, "error", err)
	}
}

// isAdmin reads the caller's role from the store on every check.
func (d *Deps) isAdmin(ctx stdctx.Context, userID string) (bool, error) {
	user, err := d.DB.GetUser(ctx, userID)
	if err != nil {
		if utils.IsErrorCode(err, utils.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return user.IsAdmin(), nil
}

func (d *Deps) requireAdmin(ctx stdctx.Context, userID string) error {
	ok, err := d.isAdmin(ctx, userID)
	if err != nil {
		return err
	}
	if !ok {
		return utils.NewPermissionDeniedError("admin only")
	}
	return nil
}

func requireCaller(userID string) error {
	if userID == "" {
		return utils.NewUnauthenticatedError("sign in required")
	}
	return nil
}
