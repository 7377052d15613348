package models

import (
	"fmt"
	"strings"
	"time"
)

const MaxCommentLength = 2000

type Comment struct {
	ID        string     `json:"id" db:"id"`
	PostID    string     `json:"postId" db:"post_id"`
	AuthorID  string     `json:"authorId" db:"author_id"`
	Username  string     `json:"username" db:"username"`
	Text      string     `json:"text" db:"text"`
	CreatedAt time.Time  `json:"createdAt" db:"created_at"`
	EditedAt  *time.Time `json:"editedAt,omitempty" db:"edited_at"`
}

func (c *Comment) Validate() error {
	if c.ID == "" || c.PostID == "" {
		return fmt.Errorf("comment is missing its key")
	}
	if c.AuthorID == "" {
		return fmt.Errorf("comment %s: authorId is empty", c.ID)
	}
	return ValidateCommentText(c.Text)
}

// ValidateCommentText rejects empty and oversized comment bodies.
func ValidateCommentText(text string) error {
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("comment text is empty")
	}
	if len(text) > MaxCommentLength {
		return fmt.Errorf("comment exceeds %d characters", MaxCommentLength)
	}
	return nil
}
