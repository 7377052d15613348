// internal/database/mongo_comments.go
package database

import (
	"context"
	"errors"
	"time"

	"feedline/internal/models"
	"feedline/internal/utils"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// CommentDocument represents comment data in MongoDB
type CommentDocument struct {
	ID        string     `bson:"_id"`
	PostID    string     `bson:"postId"`
	AuthorID  string     `bson:"authorId"`
	Username  string     `bson:"username"`
	Text      string     `bson:"text"`
	CreatedAt time.Time  `bson:"createdAt"`
	EditedAt  *time.Time `bson:"editedAt,omitempty"`
}

func (doc *CommentDocument) toModel() (*models.Comment, error) {
	comment := &models.Comment{
		ID:        doc.ID,
		PostID:    doc.PostID,
		AuthorID:  doc.AuthorID,
		Username:  doc.Username,
		Text:      doc.Text,
		CreatedAt: doc.CreatedAt,
		EditedAt:  doc.EditedAt,
	}
	if err := comment.Validate(); err != nil {
		return nil, utils.NewAppError(utils.ErrDecode, "stored comment failed validation", err)
	}
	return comment, nil
}

// AddComment inserts the comment and bumps commentsCount in one transaction.
func (m *MongoDB) AddComment(ctx context.Context, comment *models.Comment) error {
	if comment.CreatedAt.IsZero() {
		comment.CreatedAt = now()
	}
	comment.CreatedAt = comment.CreatedAt.UTC()
	comment.EditedAt = nil

	_, err := m.withTransaction(ctx, "add comment", func(sc mongo.SessionContext) (interface{}, error) {
		res, err := m.Posts.UpdateOne(sc, bson.M{"_id": comment.PostID}, bson.M{"$inc": bson.M{"commentsCount": 1}})
		if err != nil {
			return nil, err
		}
		if res.MatchedCount == 0 {
			return nil, utils.NewNotFoundError("post", comment.PostID)
		}
		doc := CommentDocument{
			ID:        comment.ID,
			PostID:    comment.PostID,
			AuthorID:  comment.AuthorID,
			Username:  comment.Username,
			Text:      comment.Text,
			CreatedAt: comment.CreatedAt,
		}
		_, err = m.Comments.InsertOne(sc, doc)
		return nil, err
	})
	return err
}

func (m *MongoDB) GetComment(ctx context.Context, postID, commentID string) (*models.Comment, error) {
	var doc CommentDocument
	if err := m.Comments.FindOne(ctx, bson.M{"_id": commentID, "postId": postID}).Decode(&doc); err != nil {
		return nil, notFoundOr(err, "comment", commentID, "failed to query comment")
	}
	return doc.toModel()
}

// GetPostComments returns the comments of a post, oldest first.
func (m *MongoDB) GetPostComments(ctx context.Context, postID string) ([]*models.Comment, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}})
	cursor, err := m.Comments.Find(ctx, bson.M{"postId": postID}, opts)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrDatabase, "failed to query post comments", err)
	}
	defer cursor.Close(ctx)

	var docs []CommentDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, utils.NewAppError(utils.ErrDecode, "failed to decode comments", err)
	}
	comments := make([]*models.Comment, 0, len(docs))
	for i := range docs {
		c, err := docs[i].toModel()
		if err != nil {
			return nil, err
		}
		comments = append(comments, c)
	}
	return comments, nil
}

// loadOwnedComment reads the comment inside a transaction and checks authorship.
func (m *MongoDB) loadOwnedComment(sc mongo.SessionContext, postID, commentID, authorID, verb string) (*CommentDocument, error) {
	var doc CommentDocument
	if err := m.Comments.FindOne(sc, bson.M{"_id": commentID, "postId": postID}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, utils.NewNotFoundError("comment", commentID)
		}
		return nil, err
	}
	if doc.AuthorID != authorID {
		return nil, utils.NewPermissionDeniedError("only the author can " + verb + " this comment")
	}
	return &doc, nil
}

func (m *MongoDB) EditComment(ctx context.Context, postID, commentID, authorID, text string) (*models.Comment, error) {
	res, err := m.withTransaction(ctx, "edit comment", func(sc mongo.SessionContext) (interface{}, error) {
		doc, err := m.loadOwnedComment(sc, postID, commentID, authorID, "edit")
		if err != nil {
			return nil, err
		}
		editedAt := now()
		_, err = m.Comments.UpdateOne(sc, bson.M{"_id": commentID}, bson.M{"$set": bson.M{"text": text, "editedAt": editedAt}})
		if err != nil {
			return nil, err
		}
		doc.Text = text
		doc.EditedAt = &editedAt
		return doc, nil
	})
	if err != nil {
		return nil, err
	}
	return res.(*CommentDocument).toModel()
}

func (m *MongoDB) DeleteComment(ctx context.Context, postID, commentID, authorID string) error {
	_, err := m.withTransaction(ctx, "delete comment", func(sc mongo.SessionContext) (interface{}, error) {
		if _, err := m.loadOwnedComment(sc, postID, commentID, authorID, "delete"); err != nil {
			return nil, err
		}
		if _, err := m.Comments.DeleteOne(sc, bson.M{"_id": commentID}); err != nil {
			return nil, err
		}
		filter := bson.M{"_id": postID, "commentsCount": bson.M{"$gt": 0}}
		_, err := m.Posts.UpdateOne(sc, filter, bson.M{"$inc": bson.M{"commentsCount": -1}})
		return nil, err
	})
	return err
}
