// internal/database/sqlstore_comments.go
package database

import (
	"context"
	"database/sql"
	"errors"

	"feedline/internal/models"
	"feedline/internal/utils"

	"github.com/jmoiron/sqlx"
)

const commentColumns = `id, post_id, author_id, username, text, created_at, edited_at`

// AddComment inserts the comment and increments the post's comments_count in one transaction.
func (s *SQLStore) AddComment(ctx context.Context, comment *models.Comment) error {
	if comment.CreatedAt.IsZero() {
		comment.CreatedAt = now()
	}
	comment.CreatedAt = comment.CreatedAt.UTC()
	comment.EditedAt = nil

	return s.withTx(ctx, "add comment", func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, s.q(`UPDATE posts SET comments_count = comments_count + 1 WHERE id = ?`), comment.PostID)
		if err != nil {
			return utils.NewAppError(utils.ErrTransactionFailure, "failed to update post comments_count", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return utils.NewNotFoundError("post", comment.PostID)
		}

		query := `
			INSERT INTO comments (` + commentColumns + `)
			VALUES (:id, :post_id, :author_id, :username, :text, :created_at, :edited_at)
		`
		if _, err := tx.NamedExecContext(ctx, query, comment); err != nil {
			return utils.NewAppError(utils.ErrTransactionFailure, "failed to save comment", err)
		}
		return nil
	})
}

func getComment(ctx context.Context, q sqlx.QueryerContext, rebind func(string) string, postID, commentID string) (*models.Comment, error) {
	var comment models.Comment
	err := sqlx.GetContext(ctx, q, &comment, rebind(`SELECT `+commentColumns+` FROM comments WHERE post_id = ? AND id = ?`), postID, commentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, utils.NewNotFoundError("comment", commentID)
		}
		return nil, utils.NewAppError(utils.ErrDatabase, "failed to query comment", err)
	}
	if err := comment.Validate(); err != nil {
		return nil, utils.NewAppError(utils.ErrDecode, "stored comment failed validation", err)
	}
	return &comment, nil
}

// GetComment fetches a single comment by its key.
func (s *SQLStore) GetComment(ctx context.Context, postID, commentID string) (*models.Comment, error) {
	return getComment(ctx, s.DB, s.q, postID, commentID)
}

// GetPostComments fetches all comments for a post, oldest first.
func (s *SQLStore) GetPostComments(ctx context.Context, postID string) ([]*models.Comment, error) {
	var comments []*models.Comment
	query := s.q(`SELECT ` + commentColumns + ` FROM comments WHERE post_id = ? ORDER BY created_at ASC, id`)
	if err := s.DB.SelectContext(ctx, &comments, query, postID); err != nil {
		return nil, utils.NewAppError(utils.ErrDatabase, "failed to query post comments", err)
	}
	for _, c := range comments {
		if err := c.Validate(); err != nil {
			return nil, utils.NewAppError(utils.ErrDecode, "stored comment failed validation", err)
		}
	}
	return comments, nil
}

// EditComment replaces the text when authorID wrote the comment. createdAt is
// preserved and editedAt stamped.
func (s *SQLStore) EditComment(ctx context.Context, postID, commentID, authorID, text string) (*models.Comment, error) {
	var edited *models.Comment
	err := s.withTx(ctx, "edit comment", func(tx *sqlx.Tx) error {
		comment, err := getComment(ctx, tx, s.q, postID, commentID)
		if err != nil {
			return err
		}
		if comment.AuthorID != authorID {
			return utils.NewPermissionDeniedError("only the author can edit this comment")
		}

		editedAt := now()
		_, err = tx.ExecContext(ctx, s.q(`UPDATE comments SET text = ?, edited_at = ? WHERE post_id = ? AND id = ?`),
			text, editedAt, postID, commentID)
		if err != nil {
			return utils.NewAppError(utils.ErrTransactionFailure, "failed to edit comment", err)
		}
		comment.Text = text
		comment.EditedAt = &editedAt
		edited = comment
		return nil
	})
	return edited, err
}

// DeleteComment removes the comment when authorID wrote it and decrements comments_count.
func (s *SQLStore) DeleteComment(ctx context.Context, postID, commentID, authorID string) error {
	return s.withTx(ctx, "delete comment", func(tx *sqlx.Tx) error {
		comment, err := getComment(ctx, tx, s.q, postID, commentID)
		if err != nil {
			return err
		}
		if comment.AuthorID != authorID {
			return utils.NewPermissionDeniedError("only the author can delete this comment")
		}

		if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM comments WHERE post_id = ? AND id = ?`), postID, commentID); err != nil {
			return utils.NewAppError(utils.ErrTransactionFailure, "failed to delete comment", err)
		}
		_, err = tx.ExecContext(ctx, s.q(`
			UPDATE posts
			SET comments_count = CASE WHEN comments_count > 0 THEN comments_count - 1 ELSE 0 END
			WHERE id = ?`), postID)
		if err != nil {
			return utils.NewAppError(utils.ErrTransactionFailure, "failed to update post comments_count", err)
		}
		return nil
	})
}
