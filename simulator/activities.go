package simulator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"feedline/internal/api"
	"feedline/internal/client"
)

var commentTexts = []string{
	"great shot",
	"where was this taken?",
	"love the colours",
	"saving this for later",
	"again!",
}

// SimulateActivities runs one loop per user until ctx is done, then waits
// for every action it started to settle.
func (s *Simulator) SimulateActivities(ctx context.Context) {
	s.mu.RLock()
	users := append([]*SimulatedUser(nil), s.users...)
	s.mu.RUnlock()

	var loops, actions sync.WaitGroup
	for _, user := range users {
		user.subscribe(ctx, s)
		loops.Add(1)
		go func(u *SimulatedUser) {
			defer loops.Done()
			s.userLoop(ctx, u, &actions)
		}(user)
	}
	loops.Wait()
	actions.Wait()

	for _, user := range users {
		user.closeStream()
	}
}

func (s *Simulator) userLoop(ctx context.Context, user *SimulatedUser, actions *sync.WaitGroup) {
	ticker := time.NewTicker(s.config.TickInterval)
	defer ticker.Stop()

	perTick := s.config.TickInterval.Minutes()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		s.mu.RLock()
		connected := user.IsConnected
		s.mu.RUnlock()
		if !connected {
			continue
		}

		if s.chance(s.config.LikeFrequency * perTick) {
			s.spawn(actions, func() { s.simulateLike(user, s.pickPost(), actions) })
		}
		if s.chance(s.config.SaveFrequency * perTick) {
			s.spawn(actions, func() { s.simulateSave(user, s.pickPost()) })
		}
		if s.chance(s.config.CommentFrequency * perTick) {
			s.spawn(actions, func() { s.simulateComment(user, s.pickPost()) })
		}
	}
}

func (s *Simulator) spawn(wg *sync.WaitGroup, fn func()) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		fn()
	}()
}

// actionContext bounds a single action. Actions outlive the run context so
// a toggle started just before shutdown still settles.
func (s *Simulator) actionContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 30*time.Second)
}

func (s *Simulator) simulateLike(user *SimulatedUser, postID string, actions *sync.WaitGroup) {
	ctx, cancel := s.actionContext()
	defer cancel()

	view, err := user.view(ctx, postID)
	if err != nil {
		s.recordAction(time.Now(), err)
		return
	}

	start := time.Now()
	if s.chance(s.config.DoubleTapRate) {
		s.spawn(actions, func() { s.tapAgain(view) })
	}
	err = view.ToggleLike(ctx)
	if errors.Is(err, client.ErrInFlight) {
		s.countSuppressed()
		return
	}
	s.recordAction(start, err)
	if err == nil {
		s.stats.mu.Lock()
		s.stats.TotalLikes++
		s.stats.mu.Unlock()
	}
}

// tapAgain is the second half of a double tap. It either loses to the
// pending toggle or starts its own once the first has settled.
func (s *Simulator) tapAgain(view *client.PostView) {
	ctx, cancel := s.actionContext()
	defer cancel()
	start := time.Now()
	err := view.ToggleLike(ctx)
	if errors.Is(err, client.ErrInFlight) {
		s.countSuppressed()
		return
	}
	s.recordAction(start, err)
}

func (s *Simulator) countSuppressed() {
	s.stats.mu.Lock()
	s.stats.SuppressedTaps++
	s.stats.mu.Unlock()
}

func (s *Simulator) simulateSave(user *SimulatedUser, postID string) {
	ctx, cancel := s.actionContext()
	defer cancel()

	view, err := user.view(ctx, postID)
	if err != nil {
		s.recordAction(time.Now(), err)
		return
	}
	start := time.Now()
	err = view.ToggleSave(ctx)
	if errors.Is(err, client.ErrInFlight) {
		s.countSuppressed()
		return
	}
	s.recordAction(start, err)
	if err == nil {
		s.stats.mu.Lock()
		s.stats.TotalSaves++
		s.stats.mu.Unlock()
	}
}

func (s *Simulator) simulateComment(user *SimulatedUser, postID string) {
	ctx, cancel := s.actionContext()
	defer cancel()

	thread, err := user.thread(ctx, postID)
	if err != nil {
		s.recordAction(time.Now(), err)
		return
	}
	s.rngMu.Lock()
	text := commentTexts[s.rng.Intn(len(commentTexts))]
	s.rngMu.Unlock()

	start := time.Now()
	_, err = thread.Add(ctx, fmt.Sprintf("%s (%s)", text, user.Username))
	s.recordAction(start, err)
	if err == nil {
		s.stats.mu.Lock()
		s.stats.TotalComments++
		s.stats.mu.Unlock()
	}
}

// subscribe opens the user's live stream. A user without one still acts;
// its displayed counts just only move on its own toggles.
func (u *SimulatedUser) subscribe(ctx context.Context, s *Simulator) {
	stream, err := client.Dial(ctx, u.Client)
	if err != nil {
		s.logger.Warn("live stream unavailable", "user", u.Username, "error", err)
		return
	}
	u.mu.Lock()
	u.stream = stream
	u.onUpdate = func() {
		s.stats.mu.Lock()
		s.stats.LiveUpdates++
		s.stats.mu.Unlock()
	}
	u.mu.Unlock()
}

func (u *SimulatedUser) closeStream() {
	u.mu.Lock()
	stream := u.stream
	u.stream = nil
	u.mu.Unlock()
	if stream != nil {
		stream.Close()
	}
}

// view returns the user's view of postID, loading it on first use.
func (u *SimulatedUser) view(ctx context.Context, postID string) (*client.PostView, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if v, ok := u.views[postID]; ok {
		return v, nil
	}
	v, err := client.LoadPostView(ctx, u.Client, u.notifier(), postID)
	if err != nil {
		return nil, err
	}
	u.views[postID] = v
	if u.stream != nil {
		onUpdate := u.onUpdate
		if _, err := u.stream.Watch(context.Background(), postID, func(api.StreamMessage) { onUpdate() }); err != nil {
			u.logger.Debug("watch failed", "post", postID, "error", err)
		} else if _, err := u.stream.WatchPost(context.Background(), v); err != nil {
			u.logger.Debug("watch failed", "post", postID, "error", err)
		}
	}
	return v, nil
}

func (u *SimulatedUser) thread(ctx context.Context, postID string) (*client.CommentThread, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if t, ok := u.threads[postID]; ok {
		return t, nil
	}
	t, err := client.LoadCommentThread(ctx, u.Client, u.notifier(), postID)
	if err != nil {
		return nil, err
	}
	u.threads[postID] = t
	if u.stream != nil {
		if _, err := u.stream.WatchComments(context.Background(), t); err != nil {
			u.logger.Debug("watch failed", "post", postID, "error", err)
		}
	}
	return t, nil
}

func (u *SimulatedUser) notifier() client.Notifier {
	return client.LogNotifier{Logger: u.logger}
}
