package models

// ToggleKind names the per-user relationship being toggled.
type ToggleKind string

const (
	ToggleLike ToggleKind = "like"
	ToggleSave ToggleKind = "save"
)

// ToggleResult is the committed outcome of a like or save toggle.
type ToggleResult struct {
	Kind   ToggleKind `json:"kind"`
	PostID string     `json:"postId"`
	UserID string     `json:"userId"`
	// Active is the committed relationship: liked or saved.
	Active bool `json:"active"`
	// Changed is false when the record was already in the requested state;
	// no counter delta was applied in that case.
	Changed bool `json:"changed"`
	// LikesCount is the committed counter after the transaction. Zero for saves.
	LikesCount int `json:"likesCount"`
}

// CounterDrift reports a post whose stored counters disagree with its records.
type CounterDrift struct {
	PostID         string `json:"postId"`
	LikesCount     int    `json:"likesCount"`
	LikeRecords    int    `json:"likeRecords"`
	CommentsCount  int    `json:"commentsCount"`
	CommentRecords int    `json:"commentRecords"`
	Repaired       bool   `json:"repaired"`
}

func (d CounterDrift) Drifted() bool {
	return d.LikesCount != d.LikeRecords || d.CommentsCount != d.CommentRecords
}
