package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func validPost() *Post {
	return &Post{
		ID:        "p1",
		Title:     "Sunset",
		MediaURL:  "https://cdn.example/p1.jpg",
		MediaType: MediaImage,
		CreatedBy: "u1",
	}
}

func TestPostValidate(t *testing.T) {
	assert.NoError(t, validPost().Validate())

	p := validPost()
	p.MediaType = "gif"
	assert.Error(t, p.Validate())

	p = validPost()
	p.LikesCount = -1
	assert.Error(t, p.Validate())

	p = validPost()
	p.Title = "   "
	assert.Error(t, p.Validate())
}

func TestPostRedacted(t *testing.T) {
	p := validPost()
	assert.Same(t, p, p.Redacted())

	p.IsGated = true
	p.ThumbnailURL = "https://cdn.example/t.jpg"
	r := p.Redacted()
	assert.True(t, r.Locked)
	assert.Empty(t, r.MediaURL)
	assert.Empty(t, r.ThumbnailURL)
	assert.Equal(t, "https://cdn.example/p1.jpg", p.MediaURL, "original untouched")
}

func TestPostUpdateApply(t *testing.T) {
	title := "New"
	gated := true
	u := PostUpdate{Title: &title, IsGated: &gated}
	assert.False(t, u.Empty())

	p := validPost()
	u.Apply(p)
	assert.Equal(t, "New", p.Title)
	assert.True(t, p.IsGated)
	assert.Equal(t, MediaImage, p.MediaType)
	assert.True(t, PostUpdate{}.Empty())
}

func TestCommentText(t *testing.T) {
	assert.NoError(t, ValidateCommentText("nice"))
	assert.Error(t, ValidateCommentText(" \n"))
	assert.Error(t, ValidateCommentText(string(make([]byte, MaxCommentLength+1))))
}

func TestUserValidation(t *testing.T) {
	assert.NoError(t, ValidateUsername("jane_doe"))
	assert.Error(t, ValidateUsername("x"))
	assert.Error(t, ValidateUsername("has space"))
	assert.NoError(t, ValidateEmail("jane@example.com"))
	assert.Error(t, ValidateEmail("Jane <jane@example.com>"))

	u := &UserProfile{ID: "u1", Username: "jane", Permissions: "root"}
	assert.Error(t, u.Validate())
	u.Permissions = PermissionAdmin
	assert.NoError(t, u.Validate())
	assert.True(t, u.IsAdmin())
}

func TestMembershipValidate(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r := &MembershipRequest{
		ID:               "m1",
		UserID:           "u1",
		FirstName:        "Jane",
		LastName:         "Doe",
		DateOfBirth:      "1990-05-17",
		EstimatedMonthly: 4,
		DocumentURL:      "https://docs.example/id.pdf",
		Status:           StatusPending,
	}
	assert.NoError(t, r.Validate(now))

	r.EstimatedMonthly = 32
	assert.Error(t, r.Validate(now))
	r.EstimatedMonthly = 4

	r.DateOfBirth = "2010-01-01"
	assert.Error(t, r.Validate(now), "under 18")

	r.DateOfBirth = "17/05/1990"
	assert.Error(t, r.Validate(now))
}

func TestCounterDrift(t *testing.T) {
	assert.False(t, CounterDrift{LikesCount: 2, LikeRecords: 2}.Drifted())
	assert.True(t, CounterDrift{LikesCount: 3, LikeRecords: 2}.Drifted())
	assert.True(t, CounterDrift{CommentsCount: 0, CommentRecords: 1}.Drifted())
}
