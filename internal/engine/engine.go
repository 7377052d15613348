package engine

import (
	"log/slog"
	"time"

	"feedline/internal/engine/actors"

	"github.com/asynkron/protoactor-go/actor"
)

// NewActorSystem creates an actor system that logs through logger.
func NewActorSystem(logger *slog.Logger) *actor.ActorSystem {
	config := actor.Configure(actor.WithLoggerFactory(func(system *actor.ActorSystem) *slog.Logger {
		return logger.With("lib", "protoactor", "system", system.ID)
	}))
	return actor.NewActorSystemWithConfig(config)
}

// Engine coordinates communication between actors
type Engine struct {
	System  *actor.ActorSystem
	Timeout time.Duration

	postActor      *actor.PID
	commentActor   *actor.PID
	userSupervisor *actor.PID
}

func NewEngine(system *actor.ActorSystem, deps *actors.Deps, timeout time.Duration) *Engine {
	root := system.Root
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	postPID := root.Spawn(actor.PropsFromProducer(func() actor.Actor {
		return actors.NewPostActor(deps)
	}))
	commentPID := root.Spawn(actor.PropsFromProducer(func() actor.Actor {
		return actors.NewCommentActor(deps, postPID)
	}))
	userPID := root.Spawn(actor.PropsFromProducer(func() actor.Actor {
		return actors.NewUserSupervisor(deps)
	}))

	return &Engine{
		System:         system,
		Timeout:        timeout,
		postActor:      postPID,
		commentActor:   commentPID,
		userSupervisor: userPID,
	}
}

// GetPostActor returns the PID of the post actor
func (e *Engine) GetPostActor() *actor.PID {
	return e.postActor
}

// GetCommentActor returns the PID of the comment actor
func (e *Engine) GetCommentActor() *actor.PID {
	return e.commentActor
}

// GetUserSupervisor returns the PID of the user supervisor
func (e *Engine) GetUserSupervisor() *actor.PID {
	return e.userSupervisor
}

// Posts sends msg to the post actor and waits for its reply.
func (e *Engine) Posts(msg interface{}) (interface{}, error) {
	return actors.Request(e.System.Root, e.postActor, msg, e.Timeout, "PostActor")
}

// Comments sends msg to the comment actor and waits for its reply.
func (e *Engine) Comments(msg interface{}) (interface{}, error) {
	return actors.Request(e.System.Root, e.commentActor, msg, e.Timeout, "CommentActor")
}

// Users sends msg to the user supervisor and waits for its reply.
func (e *Engine) Users(msg interface{}) (interface{}, error) {
	return actors.Request(e.System.Root, e.userSupervisor, msg, e.Timeout, "UserSupervisor")
}

// Shutdown stops every actor.
func (e *Engine) Shutdown() {
	root := e.System.Root
	for _, pid := range []*actor.PID{e.postActor, e.commentActor, e.userSupervisor} {
		if err := root.StopFuture(pid).Wait(); err != nil {
			slog.Warn("actor did not stop cleanly", "pid", pid.Id, "error", err)
		}
	}
	e.System.Shutdown()
}
