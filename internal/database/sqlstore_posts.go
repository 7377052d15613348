// internal/database/sqlstore_posts.go
package database

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"feedline/internal/models"
	"feedline/internal/utils"

	"github.com/jmoiron/sqlx"
)

const postColumns = `id, title, description, media_url, thumbnail_url, media_type, is_gated, likes_count, comments_count, created_by, created_at, updated_at`

func decodePosts(posts []*models.Post) ([]*models.Post, error) {
	for _, p := range posts {
		if err := p.Validate(); err != nil {
			return nil, utils.NewAppError(utils.ErrDecode, "stored post failed validation", err)
		}
	}
	return posts, nil
}

// CreatePost inserts a new post with zeroed counters.
func (s *SQLStore) CreatePost(ctx context.Context, post *models.Post) error {
	if post.CreatedAt.IsZero() {
		post.CreatedAt = now()
	}
	post.CreatedAt = post.CreatedAt.UTC()
	post.UpdatedAt = post.CreatedAt
	post.LikesCount = 0
	post.CommentsCount = 0

	query := `
		INSERT INTO posts (` + postColumns + `)
		VALUES (:id, :title, :description, :media_url, :thumbnail_url, :media_type, :is_gated, :likes_count, :comments_count, :created_by, :created_at, :updated_at)
	`
	if _, err := s.DB.NamedExecContext(ctx, query, post); err != nil {
		if isUniqueViolation(err) {
			return utils.NewAppError(utils.ErrDuplicate, "post already exists", err)
		}
		return utils.NewAppError(utils.ErrDatabase, "failed to create post", err)
	}
	return nil
}

func getPost(ctx context.Context, q sqlx.QueryerContext, rebind func(string) string, id string) (*models.Post, error) {
	var post models.Post
	err := sqlx.GetContext(ctx, q, &post, rebind(`SELECT `+postColumns+` FROM posts WHERE id = ?`), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, utils.NewNotFoundError("post", id)
		}
		return nil, utils.NewAppError(utils.ErrDatabase, "failed to query post", err)
	}
	if err := post.Validate(); err != nil {
		return nil, utils.NewAppError(utils.ErrDecode, "stored post failed validation", err)
	}
	return &post, nil
}

func (s *SQLStore) GetPost(ctx context.Context, id string) (*models.Post, error) {
	return getPost(ctx, s.DB, s.q, id)
}

// UpdatePost applies the owner-editable fields. Counters are never touched here.
func (s *SQLStore) UpdatePost(ctx context.Context, id string, update models.PostUpdate) (*models.Post, error) {
	var updated *models.Post
	err := s.withTx(ctx, "update post", func(tx *sqlx.Tx) error {
		post, err := getPost(ctx, tx, s.q, id)
		if err != nil {
			return err
		}
		update.Apply(post)
		post.UpdatedAt = now()
		if err := post.Validate(); err != nil {
			return utils.NewInvalidInputError(err.Error())
		}

		_, err = tx.ExecContext(ctx, s.q(`
			UPDATE posts
			SET title = ?, description = ?, media_url = ?, thumbnail_url = ?, media_type = ?, is_gated = ?, updated_at = ?
			WHERE id = ?`),
			post.Title, post.Description, post.MediaURL, post.ThumbnailURL, post.MediaType, post.IsGated, post.UpdatedAt, id)
		if err != nil {
			return utils.NewAppError(utils.ErrDatabase, "failed to update post", err)
		}
		updated = post
		return nil
	})
	return updated, err
}

// DeletePost removes the post together with its likes, comments and saved records.
func (s *SQLStore) DeletePost(ctx context.Context, id string) error {
	return s.withTx(ctx, "delete post", func(tx *sqlx.Tx) error {
		for _, table := range []string{"likes", "comments", "saved_posts"} {
			if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM `+table+` WHERE post_id = ?`), id); err != nil {
				return utils.NewAppError(utils.ErrDatabase, "failed to delete "+table+" of post", err)
			}
		}
		res, err := tx.ExecContext(ctx, s.q(`DELETE FROM posts WHERE id = ?`), id)
		if err != nil {
			return utils.NewAppError(utils.ErrDatabase, "failed to delete post", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return utils.NewNotFoundError("post", id)
		}
		return nil
	})
}

// GetRecentPosts returns posts newest first.
func (s *SQLStore) GetRecentPosts(ctx context.Context, limit, offset int) ([]*models.Post, error) {
	limit, offset = clampPage(limit, offset)
	var posts []*models.Post
	query := s.q(`SELECT ` + postColumns + ` FROM posts ORDER BY created_at DESC, id LIMIT ? OFFSET ?`)
	if err := s.DB.SelectContext(ctx, &posts, query, limit, offset); err != nil {
		return nil, utils.NewAppError(utils.ErrDatabase, "failed to query recent posts", err)
	}
	return decodePosts(posts)
}

func (s *SQLStore) GetPostsByUser(ctx context.Context, userID string, limit, offset int) ([]*models.Post, error) {
	limit, offset = clampPage(limit, offset)
	var posts []*models.Post
	query := s.q(`SELECT ` + postColumns + ` FROM posts WHERE created_by = ? ORDER BY created_at DESC, id LIMIT ? OFFSET ?`)
	if err := s.DB.SelectContext(ctx, &posts, query, userID, limit, offset); err != nil {
		return nil, utils.NewAppError(utils.ErrDatabase, "failed to query user posts", err)
	}
	return decodePosts(posts)
}

func (s *SQLStore) CountPosts(ctx context.Context) (int, error) {
	var n int
	if err := s.DB.GetContext(ctx, &n, `SELECT COUNT(*) FROM posts`); err != nil {
		return 0, utils.NewAppError(utils.ErrDatabase, "failed to count posts", err)
	}
	return n, nil
}

// SetLike creates or deletes the LikeRecord for (postID, userID) and moves
// likes_count by exactly one in the same transaction. The increment is done
// by the database, so concurrent likes from different users never overwrite
// each other. A request that matches the stored state changes nothing.
func (s *SQLStore) SetLike(ctx context.Context, postID, userID string, liked bool) (*models.ToggleResult, error) {
	result := &models.ToggleResult{Kind: models.ToggleLike, PostID: postID, UserID: userID, Active: liked}

	err := s.withTx(ctx, "like", func(tx *sqlx.Tx) error {
		if err := tx.GetContext(ctx, &result.LikesCount, s.q(`SELECT likes_count FROM posts WHERE id = ?`), postID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return utils.NewNotFoundError("post", postID)
			}
			return utils.NewAppError(utils.ErrTransactionFailure, "failed to read post in like transaction", err)
		}

		var (
			res   sql.Result
			err   error
			delta int
		)
		if liked {
			delta = 1
			res, err = tx.ExecContext(ctx, s.q(`
				INSERT INTO likes (post_id, user_id, created_at) VALUES (?, ?, ?)
				ON CONFLICT (post_id, user_id) DO NOTHING`), postID, userID, now())
		} else {
			delta = -1
			res, err = tx.ExecContext(ctx, s.q(`DELETE FROM likes WHERE post_id = ? AND user_id = ?`), postID, userID)
		}
		if err != nil {
			return utils.NewAppError(utils.ErrTransactionFailure, "failed to write like record", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil
		}

		result.Changed = true
		err = tx.GetContext(ctx, &result.LikesCount,
			s.q(`UPDATE posts SET likes_count = likes_count + ? WHERE id = ? RETURNING likes_count`), delta, postID)
		if err != nil {
			return utils.NewAppError(utils.ErrTransactionFailure, "failed to update likes_count", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *SQLStore) exists(ctx context.Context, query string, args ...interface{}) (bool, error) {
	var n int
	if err := s.DB.GetContext(ctx, &n, s.q(query), args...); err != nil {
		return false, utils.NewAppError(utils.ErrDatabase, "failed existence check", err)
	}
	return n > 0, nil
}

func (s *SQLStore) HasLiked(ctx context.Context, postID, userID string) (bool, error) {
	return s.exists(ctx, `SELECT COUNT(*) FROM likes WHERE post_id = ? AND user_id = ?`, postID, userID)
}

// SetSaved creates or deletes the SavedPostRecord for (userID, postID).
func (s *SQLStore) SetSaved(ctx context.Context, userID, postID string, saved bool) (*models.ToggleResult, error) {
	result := &models.ToggleResult{Kind: models.ToggleSave, PostID: postID, UserID: userID, Active: saved}

	err := s.withTx(ctx, "save", func(tx *sqlx.Tx) error {
		var (
			res sql.Result
			err error
		)
		if saved {
			if _, err := getPost(ctx, tx, s.q, postID); err != nil {
				return err
			}
			res, err = tx.ExecContext(ctx, s.q(`
				INSERT INTO saved_posts (user_id, post_id, saved_at) VALUES (?, ?, ?)
				ON CONFLICT (user_id, post_id) DO NOTHING`), userID, postID, now())
		} else {
			res, err = tx.ExecContext(ctx, s.q(`DELETE FROM saved_posts WHERE user_id = ? AND post_id = ?`), userID, postID)
		}
		if err != nil {
			return utils.NewAppError(utils.ErrTransactionFailure, "failed to write saved record", err)
		}
		n, _ := res.RowsAffected()
		result.Changed = n > 0
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *SQLStore) HasSaved(ctx context.Context, userID, postID string) (bool, error) {
	return s.exists(ctx, `SELECT COUNT(*) FROM saved_posts WHERE user_id = ? AND post_id = ?`, userID, postID)
}

// GetSavedPosts returns the user's saved posts, most recently saved first.
func (s *SQLStore) GetSavedPosts(ctx context.Context, userID string, limit, offset int) ([]*models.Post, error) {
	limit, offset = clampPage(limit, offset)
	cols := "p." + strings.ReplaceAll(postColumns, ", ", ", p.")
	query := s.q(`
		SELECT ` + cols + `
		FROM saved_posts sp
		JOIN posts p ON p.id = sp.post_id
		WHERE sp.user_id = ?
		ORDER BY sp.saved_at DESC, p.id
		LIMIT ? OFFSET ?`)
	var posts []*models.Post
	if err := s.DB.SelectContext(ctx, &posts, query, userID, limit, offset); err != nil {
		return nil, utils.NewAppError(utils.ErrDatabase, "failed to query saved posts", err)
	}
	return decodePosts(posts)
}

// Reconcile compares stored counters against record counts.
func (s *SQLStore) Reconcile(ctx context.Context, postID string, repair bool) ([]models.CounterDrift, error) {
	query := `
		SELECT p.id AS post_id, p.likes_count, p.comments_count,
			(SELECT COUNT(*) FROM likes l WHERE l.post_id = p.id) AS like_records,
			(SELECT COUNT(*) FROM comments c WHERE c.post_id = p.id) AS comment_records
		FROM posts p`
	var args []interface{}
	if postID != "" {
		query += ` WHERE p.id = ?`
		args = append(args, postID)
	}
	query += ` ORDER BY p.id`

	type row struct {
		PostID         string `db:"post_id"`
		LikesCount     int    `db:"likes_count"`
		CommentsCount  int    `db:"comments_count"`
		LikeRecords    int    `db:"like_records"`
		CommentRecords int    `db:"comment_records"`
	}
	var rows []row
	if err := s.DB.SelectContext(ctx, &rows, s.q(query), args...); err != nil {
		return nil, utils.NewAppError(utils.ErrDatabase, "failed to scan counters", err)
	}
	if postID != "" && len(rows) == 0 {
		return nil, utils.NewNotFoundError("post", postID)
	}

	var drifts []models.CounterDrift
	for _, r := range rows {
		d := models.CounterDrift{
			PostID:         r.PostID,
			LikesCount:     r.LikesCount,
			LikeRecords:    r.LikeRecords,
			CommentsCount:  r.CommentsCount,
			CommentRecords: r.CommentRecords,
		}
		if !d.Drifted() {
			continue
		}
		if repair {
			// Recount inside the update so a concurrent toggle cannot reintroduce drift.
			_, err := s.DB.ExecContext(ctx, s.q(`
				UPDATE posts SET
					likes_count = (SELECT COUNT(*) FROM likes WHERE post_id = ?),
					comments_count = (SELECT COUNT(*) FROM comments WHERE post_id = ?)
				WHERE id = ?`), r.PostID, r.PostID, r.PostID)
			if err != nil {
				return nil, utils.NewAppError(utils.ErrDatabase, "failed to repair counters", err)
			}
			d.Repaired = true
		}
		drifts = append(drifts, d)
	}
	return drifts, nil
}
