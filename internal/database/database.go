// internal/database/database.go
package database

import (
	"context"
	"fmt"
	"time"

	"feedline/internal/config"
	"feedline/internal/models"
)

// DBAdapter defines the common interface for database operations.
// SQLStore (PostgreSQL, SQLite) and MongoDB both implement it.
//
// Every method returns *utils.AppError on failure so callers can map the
// code straight onto a response.
type DBAdapter interface {
	// Connection
	Close(ctx context.Context) error
	InitializeTables(ctx context.Context) error
	Ping(ctx context.Context) error

	// User methods
	SaveUser(ctx context.Context, user *models.UserProfile) error
	GetUser(ctx context.Context, id string) (*models.UserProfile, error)
	GetUserByEmail(ctx context.Context, email string) (*models.UserProfile, error)
	GetUserByUsername(ctx context.Context, username string) (*models.UserProfile, error)
	UpdateProfile(ctx context.Context, id string, update models.ProfileUpdate) (*models.UserProfile, error)
	SetPermissions(ctx context.Context, id string, perm models.Permission) error

	// Post methods
	CreatePost(ctx context.Context, post *models.Post) error
	GetPost(ctx context.Context, id string) (*models.Post, error)
	UpdatePost(ctx context.Context, id string, update models.PostUpdate) (*models.Post, error)
	DeletePost(ctx context.Context, id string) error
	GetRecentPosts(ctx context.Context, limit, offset int) ([]*models.Post, error)
	GetPostsByUser(ctx context.Context, userID string, limit, offset int) ([]*models.Post, error)
	CountPosts(ctx context.Context) (int, error)

	// Like methods. SetLike writes the LikeRecord and applies the likesCount
	// delta in one transaction; the delta is skipped when the record was
	// already in the requested state.
	SetLike(ctx context.Context, postID, userID string, liked bool) (*models.ToggleResult, error)
	HasLiked(ctx context.Context, postID, userID string) (bool, error)

	// Saved post methods
	SetSaved(ctx context.Context, userID, postID string, saved bool) (*models.ToggleResult, error)
	HasSaved(ctx context.Context, userID, postID string) (bool, error)
	GetSavedPosts(ctx context.Context, userID string, limit, offset int) ([]*models.Post, error)

	// Comment methods. Add and delete keep commentsCount in the same transaction.
	AddComment(ctx context.Context, comment *models.Comment) error
	GetComment(ctx context.Context, postID, commentID string) (*models.Comment, error)
	GetPostComments(ctx context.Context, postID string) ([]*models.Comment, error)
	EditComment(ctx context.Context, postID, commentID, authorID, text string) (*models.Comment, error)
	DeleteComment(ctx context.Context, postID, commentID, authorID string) error

	// Reconcile recomputes counters from records for one post, or all posts
	// when postID is empty. With repair set, drifted counters are rewritten.
	Reconcile(ctx context.Context, postID string, repair bool) ([]models.CounterDrift, error)

	// Approval workflow
	CreateVerificationRequest(ctx context.Context, req *models.VerificationRequest) error
	GetVerificationRequests(ctx context.Context, status models.RequestStatus) ([]*models.VerificationRequest, error)
	ReviewVerificationRequest(ctx context.Context, id, reviewerID string, approve bool) (*models.VerificationRequest, error)
	CreateMembershipRequest(ctx context.Context, req *models.MembershipRequest) error
	GetMembershipRequests(ctx context.Context, status models.RequestStatus) ([]*models.MembershipRequest, error)
	ReviewMembershipRequest(ctx context.Context, id, reviewerID string, approve bool) (*models.MembershipRequest, error)
}

// Open connects to the backend selected by cfg and makes sure its schema exists.
func Open(ctx context.Context, cfg *config.DatabaseConfig) (DBAdapter, error) {
	var (
		db  DBAdapter
		err error
	)
	switch cfg.Type {
	case "postgres":
		db, err = NewPostgresStore(cfg.URI)
	case "sqlite":
		db, err = NewSQLiteStore(cfg.SQLitePath)
	case "mongo":
		db, err = NewMongoDB(ctx, cfg.MongoURI, cfg.MongoDatabase)
	default:
		return nil, fmt.Errorf("unsupported database type %q", cfg.Type)
	}
	if err != nil {
		return nil, err
	}

	initCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := db.InitializeTables(initCtx); err != nil {
		db.Close(ctx)
		return nil, err
	}
	return db, nil
}

// now returns the store clock: UTC, truncated to what every backend can round-trip.
func now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
