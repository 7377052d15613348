package simulator

import (
	"context"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
)

// PostDrift compares a post's stored likesCount with how many simulated
// users ended the run liking it.
type PostDrift struct {
	PostID        string `json:"postId"`
	ServerLikes   int    `json:"serverLikes"`
	ExpectedLikes int    `json:"expectedLikes"`
	Pending       int    `json:"pending"`
}

func (d PostDrift) Drifted() bool {
	return d.ServerLikes != d.ExpectedLikes
}

type Report struct {
	Metrics SimulationMetrics `json:"metrics"`
	Posts   []PostDrift       `json:"posts"`
}

// Drifts returns only the posts whose counts disagree.
func (r *Report) Drifts() []PostDrift {
	var out []PostDrift
	for _, p := range r.Posts {
		if p.Drifted() {
			out = append(out, p)
		}
	}
	return out
}

// BuildReport reads every post back and counts the users whose settled view
// says Liked.
func (s *Simulator) BuildReport(ctx context.Context) (*Report, error) {
	s.mu.RLock()
	users := append([]*SimulatedUser(nil), s.users...)
	posts := append([]string(nil), s.posts...)
	s.mu.RUnlock()
	if len(users) == 0 {
		return nil, fmt.Errorf("no simulated users")
	}

	report := &Report{Metrics: s.GetMetrics()}
	reader := users[0].Client
	for _, postID := range posts {
		post, err := reader.GetPost(ctx, postID)
		if err != nil {
			return nil, fmt.Errorf("read post %s: %w", postID, err)
		}
		drift := PostDrift{PostID: postID, ServerLikes: post.LikesCount}
		for _, user := range users {
			user.mu.Lock()
			view, ok := user.views[postID]
			user.mu.Unlock()
			if !ok {
				continue
			}
			if view.Likes().Liked {
				drift.ExpectedLikes++
			}
			if view.Pending() {
				drift.Pending++
			}
		}
		report.Posts = append(report.Posts, drift)
	}
	sort.Slice(report.Posts, func(i, j int) bool {
		return report.Posts[i].ServerLikes > report.Posts[j].ServerLikes
	})

	if drifts := report.Drifts(); len(drifts) > 0 {
		s.logger.Warn("likes drift detected", "posts", len(drifts))
	} else {
		s.logger.Info("no likes drift", "posts", len(report.Posts))
	}
	return report, nil
}

func (r *Report) Print(w io.Writer) {
	m := r.Metrics
	fmt.Fprintf(w, "actions: %d (%.2f/s), failed: %d, suppressed taps: %d, live updates: %d\n",
		m.TotalActions, m.ActionsPerSecond, m.ErrorCount, m.SuppressedTaps, m.LiveUpdates)
	fmt.Fprintf(w, "likes: %d, saves: %d, comments: %d, avg latency: %s\n\n",
		m.TotalLikes, m.TotalSaves, m.TotalComments, m.AverageLatency)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "POST\tSERVER\tEXPECTED\tPENDING\tSTATUS")
	for _, p := range r.Posts {
		status := "ok"
		if p.Drifted() {
			status = "DRIFT"
		}
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%s\n", p.PostID, p.ServerLikes, p.ExpectedLikes, p.Pending, status)
	}
	tw.Flush()
}
