package models

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// MediaType is the kind of media a post references.
type MediaType string

const (
	MediaImage MediaType = "image"
	MediaVideo MediaType = "video"
)

func (m MediaType) Valid() bool {
	return m == MediaImage || m == MediaVideo
}

const (
	MaxTitleLength       = 200
	MaxDescriptionLength = 5000
)

type Post struct {
	ID            string    `json:"id" db:"id"`
	Title         string    `json:"title" db:"title"`
	Description   string    `json:"description,omitempty" db:"description"`
	MediaURL      string    `json:"mediaUrl,omitempty" db:"media_url"`
	ThumbnailURL  string    `json:"thumbnailUrl,omitempty" db:"thumbnail_url"`
	MediaType     MediaType `json:"mediaType" db:"media_type"`
	IsGated       bool      `json:"isGated" db:"is_gated"`
	LikesCount    int       `json:"likesCount" db:"likes_count"`
	CommentsCount int       `json:"commentsCount" db:"comments_count"`
	CreatedBy     string    `json:"createdBy" db:"created_by"`
	CreatedAt     time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt     time.Time `json:"updatedAt" db:"updated_at"`

	// Locked is set on gated posts served to anonymous callers; media fields are stripped.
	Locked bool `json:"locked,omitempty" db:"-"`
}

// Validate checks a post as it is stored. It is used both for new posts and
// for documents read back from a store.
func (p *Post) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("post id is empty")
	}
	if strings.TrimSpace(p.Title) == "" {
		return fmt.Errorf("post %s: title is required", p.ID)
	}
	if len(p.Title) > MaxTitleLength {
		return fmt.Errorf("post %s: title exceeds %d characters", p.ID, MaxTitleLength)
	}
	if len(p.Description) > MaxDescriptionLength {
		return fmt.Errorf("post %s: description exceeds %d characters", p.ID, MaxDescriptionLength)
	}
	if p.MediaURL == "" {
		return fmt.Errorf("post %s: mediaUrl is required", p.ID)
	}
	if !p.MediaType.Valid() {
		return fmt.Errorf("post %s: unknown mediaType %q", p.ID, p.MediaType)
	}
	if p.LikesCount < 0 || p.CommentsCount < 0 {
		return fmt.Errorf("post %s: negative counter", p.ID)
	}
	if p.CreatedBy == "" {
		return fmt.Errorf("post %s: createdBy is empty", p.ID)
	}
	return nil
}

// Redacted returns a copy suitable for anonymous viewers. Non-gated posts are
// returned unchanged.
func (p *Post) Redacted() *Post {
	if !p.IsGated {
		return p
	}
	cp := *p
	cp.MediaURL = ""
	cp.ThumbnailURL = ""
	cp.Description = ""
	cp.Locked = true
	return &cp
}

// PostUpdate carries the owner-editable fields; nil means unchanged.
type PostUpdate struct {
	Title        *string    `json:"title,omitempty"`
	Description  *string    `json:"description,omitempty"`
	MediaURL     *string    `json:"mediaUrl,omitempty"`
	ThumbnailURL *string    `json:"thumbnailUrl,omitempty"`
	MediaType    *MediaType `json:"mediaType,omitempty"`
	IsGated      *bool      `json:"isGated,omitempty"`
}

func (u PostUpdate) Empty() bool {
	return u.Title == nil && u.Description == nil && u.MediaURL == nil &&
		u.ThumbnailURL == nil && u.MediaType == nil && u.IsGated == nil
}

// Apply writes the set fields onto p.
func (u PostUpdate) Apply(p *Post) {
	if u.Title != nil {
		p.Title = *u.Title
	}
	if u.Description != nil {
		p.Description = *u.Description
	}
	if u.MediaURL != nil {
		p.MediaURL = *u.MediaURL
	}
	if u.ThumbnailURL != nil {
		p.ThumbnailURL = *u.ThumbnailURL
	}
	if u.MediaType != nil {
		p.MediaType = *u.MediaType
	}
	if u.IsGated != nil {
		p.IsGated = *u.IsGated
	}
}

// ValidMediaURL accepts absolute http(s) URLs.
func ValidMediaURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
