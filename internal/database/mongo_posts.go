// internal/database/mongo_posts.go
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

// PostDocument represents the MongoDB schema for a post.
type PostDocument struct {
	ID            string    `bson:"_id"`
	Title         string    `bson:"title"`
	Description   string    `bson:"description,omitempty"`
	MediaURL      string    `bson:"mediaUrl"`
	ThumbnailURL  string    `bson:"thumbnailUrl,omitempty"`
	MediaType     string    `bson:"mediaType"`
	IsGated       bool      `bson:"isGated"`
	LikesCount    int       `bson:"likesCount"`
	CommentsCount int       `bson:"commentsCount"`
	CreatedBy     string    `bson:"createdBy"`
	CreatedAt     time.Time `bson:"createdAt"`
	UpdatedAt     time.Time `bson:"updatedAt"`
}

// LikeDocument is keyed by "postId/userId".
type LikeDocument struct {
	ID        string    `bson:"_id"`
	PostID    string    `bson:"postId"`
	UserID    string    `bson:"userId"`
	CreatedAt time.Time `bson:"createdAt"`
}

// SavedPostDocument is keyed by "userId/postId".
type SavedPostDocument struct {
	ID      string    `bson:"_id"`
	UserID  string    `bson:"userId"`
	PostID  string    `bson:"postId"`
	SavedAt time.Time `bson:"savedAt"`
}

func likeKey(postID, userID string) string { return postID + "/" + userID }
func saveKey(userID, postID string) string { return userID + "/" + postID }

func newPostDocument(post *models.Post) *PostDocument {
	return &PostDocument{
		ID:            post.ID,
		Title:         post.Title,
		Description:   post.Description,
		MediaURL:      post.MediaURL,
		ThumbnailURL:  post.ThumbnailURL,
		MediaType:     string(post.MediaType),
		IsGated:       post.IsGated,
		LikesCount:    post.LikesCount,
		CommentsCount: post.CommentsCount,
		CreatedBy:     post.CreatedBy,
		CreatedAt:     post.CreatedAt,
		UpdatedAt:     post.UpdatedAt,
	}
}

// toModel converts the document and validates it; shape problems are DECODE_ERRORs.
func (doc *PostDocument) toModel() (*models.Post, error) {
	post := &models.Post{
		ID:            doc.ID,
		Title:         doc.Title,
		Description:   doc.Description,
		MediaURL:      doc.MediaURL,
		ThumbnailURL:  doc.ThumbnailURL,
		MediaType:     models.MediaType(doc.MediaType),
		IsGated:       doc.IsGated,
		LikesCount:    doc.LikesCount,
		CommentsCount: doc.CommentsCount,
		CreatedBy:     doc.CreatedBy,
		CreatedAt:     doc.CreatedAt,
		UpdatedAt:     doc.UpdatedAt,
	}
	if err := post.Validate(); err != nil {
		return nil, utils.NewAppError(utils.ErrDecode, "stored post failed validation", err)
	}
	return post, nil
}

func (m *MongoDB) CreatePost(ctx context.Context, post *models.Post) error {
	if post.CreatedAt.IsZero() {
		post.CreatedAt = now()
	}
	post.CreatedAt = post.CreatedAt.UTC()
	post.UpdatedAt = post.CreatedAt
	post.LikesCount = 0
	post.CommentsCount = 0

	if _, err := m.Posts.InsertOne(ctx, newPostDocument(post)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return utils.NewAppError(utils.ErrDuplicate, "post already exists", err)
		}
		return utils.NewAppError(utils.ErrDatabase, "failed to create post", err)
	}
	return nil
}

func (m *MongoDB) GetPost(ctx context.Context, id string) (*models.Post, error) {
	var doc PostDocument
	if err := m.Posts.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		return nil, notFoundOr(err, "post", id, "failed to query post")
	}
	return doc.toModel()
}

func (m *MongoDB) UpdatePost(ctx context.Context, id string, update models.PostUpdate) (*models.Post, error) {
	post, err := m.GetPost(ctx, id)
	if err != nil {
		return nil, err
	}
	update.Apply(post)
	post.UpdatedAt = now()
	if err := post.Validate(); err != nil {
		return nil, utils.NewInvalidInputError(err.Error())
	}

	set := bson.M{
		"title":        post.Title,
		"description":  post.Description,
		"mediaUrl":     post.MediaURL,
		"thumbnailUrl": post.ThumbnailURL,
		"mediaType":    string(post.MediaType),
		"isGated":      post.IsGated,
		"updatedAt":    post.UpdatedAt,
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var doc PostDocument
	if err := m.Posts.FindOneAndUpdate(ctx, bson.M{"_id": id}, bson.M{"$set": set}, opts).Decode(&doc); err != nil {
		return nil, notFoundOr(err, "post", id, "failed to update post")
	}
	return doc.toModel()
}

// DeletePost removes the post and everything that points at it in one transaction.
func (m *MongoDB) DeletePost(ctx context.Context, id string) error {
	_, err := m.withTransaction(ctx, "delete post", func(sc mongo.SessionContext) (interface{}, error) {
		for _, coll := range []*mongo.Collection{m.Likes, m.Comments, m.SavedPosts} {
			if _, err := coll.DeleteMany(sc, bson.M{"postId": id}); err != nil {
				return nil, err
			}
		}
		res, err := m.Posts.DeleteOne(sc, bson.M{"_id": id})
		if err != nil {
			return nil, err
		}
		if res.DeletedCount == 0 {
			return nil, utils.NewNotFoundError("post", id)
		}
		return nil, nil
	})
	return err
}

func (m *MongoDB) findPosts(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]*models.Post, error) {
	cursor, err := m.Posts.Find(ctx, filter, opts)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrDatabase, "failed to query posts", err)
	}
	defer cursor.Close(ctx)

	var docs []PostDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, utils.NewAppError(utils.ErrDecode, "failed to decode posts", err)
	}
	posts := make([]*models.Post, 0, len(docs))
	for i := range docs {
		post, err := docs[i].toModel()
		if err != nil {
			return nil, err
		}
		posts = append(posts, post)
	}
	return posts, nil
}

var newestFirst = bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: 1}}

func (m *MongoDB) GetRecentPosts(ctx context.Context, limit, offset int) ([]*models.Post, error) {
	return m.findPosts(ctx, bson.M{}, pageOptions(limit, offset, newestFirst))
}

func (m *MongoDB) GetPostsByUser(ctx context.Context, userID string, limit, offset int) ([]*models.Post, error) {
	return m.findPosts(ctx, bson.M{"createdBy": userID}, pageOptions(limit, offset, newestFirst))
}

func (m *MongoDB) CountPosts(ctx context.Context) (int, error) {
	n, err := m.Posts.CountDocuments(ctx, bson.M{})
	if err != nil {
		return 0, utils.NewAppError(utils.ErrDatabase, "failed to count posts", err)
	}
	return int(n), nil
}

// SetLike writes the like document and applies $inc to likesCount inside one
// session transaction. Concurrent inserts of the same key surface as a
// transient write conflict and are retried by the driver.
func (m *MongoDB) SetLike(ctx context.Context, postID, userID string, liked bool) (*models.ToggleResult, error) {
	res, err := m.withTransaction(ctx, "like", func(sc mongo.SessionContext) (interface{}, error) {
		result := &models.ToggleResult{Kind: models.ToggleLike, PostID: postID, UserID: userID, Active: liked}

		var post PostDocument
		if err := m.Posts.FindOne(sc, bson.M{"_id": postID}).Decode(&post); err != nil {
			if errors.Is(err, mongo.ErrNoDocuments) {
				return nil, utils.NewNotFoundError("post", postID)
			}
			return nil, err
		}
		result.LikesCount = post.LikesCount

		key := likeKey(postID, userID)
		delta := 0
		if liked {
			n, err := m.Likes.CountDocuments(sc, bson.M{"_id": key})
			if err != nil {
				return nil, err
			}
			if n == 0 {
				doc := LikeDocument{ID: key, PostID: postID, UserID: userID, CreatedAt: now()}
				if _, err := m.Likes.InsertOne(sc, doc); err != nil {
					return nil, err
				}
				delta = 1
			}
		} else {
			del, err := m.Likes.DeleteOne(sc, bson.M{"_id": key})
			if err != nil {
				return nil, err
			}
			if del.DeletedCount > 0 {
				delta = -1
			}
		}
		if delta == 0 {
			return result, nil
		}

		result.Changed = true
		opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
		var updated PostDocument
		err := m.Posts.FindOneAndUpdate(sc, bson.M{"_id": postID}, bson.M{"$inc": bson.M{"likesCount": delta}}, opts).Decode(&updated)
		if err != nil {
			return nil, err
		}
		result.LikesCount = updated.LikesCount
		return result, nil
	})
	if err != nil {
		return nil, err
	}
	return res.(*models.ToggleResult), nil
}

func (m *MongoDB) exists(ctx context.Context, coll *mongo.Collection, key string) (bool, error) {
	n, err := coll.CountDocuments(ctx, bson.M{"_id": key}, options.Count().SetLimit(1))
	if err != nil {
		return false, utils.NewAppError(utils.ErrDatabase, "failed existence check", err)
	}
	return n > 0, nil
}

func (m *MongoDB) HasLiked(ctx context.Context, postID, userID string) (bool, error) {
	return m.exists(ctx, m.Likes, likeKey(postID, userID))
}

// SetSaved upserts or deletes the saved record; a single-document write needs no transaction.
func (m *MongoDB) SetSaved(ctx context.Context, userID, postID string, saved bool) (*models.ToggleResult, error) {
	result := &models.ToggleResult{Kind: models.ToggleSave, PostID: postID, UserID: userID, Active: saved}
	key := saveKey(userID, postID)

	if !saved {
		res, err := m.SavedPosts.DeleteOne(ctx, bson.M{"_id": key})
		if err != nil {
			return nil, utils.NewAppError(utils.ErrTransactionFailure, "failed to delete saved record", err)
		}
		result.Changed = res.DeletedCount > 0
		return result, nil
	}

	if _, err := m.GetPost(ctx, postID); err != nil {
		return nil, err
	}
	doc := SavedPostDocument{ID: key, UserID: userID, PostID: postID, SavedAt: now()}
	res, err := m.SavedPosts.UpdateOne(ctx, bson.M{"_id": key}, bson.M{"$setOnInsert": doc}, options.Update().SetUpsert(true))
	if err != nil {
		return nil, utils.NewAppError(utils.ErrTransactionFailure, "failed to write saved record", err)
	}
	result.Changed = res.UpsertedCount > 0
	return result, nil
}

func (m *MongoDB) HasSaved(ctx context.Context, userID, postID string) (bool, error) {
	return m.exists(ctx, m.SavedPosts, saveKey(userID, postID))
}

func (m *MongoDB) GetSavedPosts(ctx context.Context, userID string, limit, offset int) ([]*models.Post, error) {
	sort := bson.D{{Key: "savedAt", Value: -1}, {Key: "postId", Value: 1}}
	cursor, err := m.SavedPosts.Find(ctx, bson.M{"userId": userID}, pageOptions(limit, offset, sort))
	if err != nil {
		return nil, utils.NewAppError(utils.ErrDatabase, "failed to query saved posts", err)
	}
	defer cursor.Close(ctx)

	var saved []SavedPostDocument
	if err := cursor.All(ctx, &saved); err != nil {
		return nil, utils.NewAppError(utils.ErrDecode, "failed to decode saved posts", err)
	}
	if len(saved) == 0 {
		return []*models.Post{}, nil
	}

	ids := make([]string, len(saved))
	for i, s := range saved {
		ids[i] = s.PostID
	}
	posts, err := m.findPosts(ctx, bson.M{"_id": bson.M{"$in": ids}}, options.Find())
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*models.Post, len(posts))
	for _, p := range posts {
		byID[p.ID] = p
	}
	ordered := make([]*models.Post, 0, len(posts))
	for _, id := range ids {
		if p, ok := byID[id]; ok {
			ordered = append(ordered, p)
		}
	}
	return ordered, nil
}

func (m *MongoDB) Reconcile(ctx context.Context, postID string, repair bool) ([]models.CounterDrift, error) {
	filter := bson.M{}
	if postID != "" {
		filter["_id"] = postID
	}
	cursor, err := m.Posts.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, utils.NewAppError(utils.ErrDatabase, "failed to scan posts", err)
	}
	var docs []PostDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, utils.NewAppError(utils.ErrDecode, "failed to decode posts", err)
	}
	if postID != "" && len(docs) == 0 {
		return nil, utils.NewNotFoundError("post", postID)
	}

	var drifts []models.CounterDrift
	for _, doc := range docs {
		likes, err := m.Likes.CountDocuments(ctx, bson.M{"postId": doc.ID})
		if err != nil {
			return nil, utils.NewAppError(utils.ErrDatabase, "failed to count likes", err)
		}
		comments, err := m.Comments.CountDocuments(ctx, bson.M{"postId": doc.ID})
		if err != nil {
			return nil, utils.NewAppError(utils.ErrDatabase, "failed to count comments", err)
		}
		d := models.CounterDrift{
			PostID:         doc.ID,
			LikesCount:     doc.LikesCount,
			LikeRecords:    int(likes),
			CommentsCount:  doc.CommentsCount,
			CommentRecords: int(comments),
		}
		if !d.Drifted() {
			continue
		}
		if repair {
			set := bson.M{"likesCount": d.LikeRecords, "commentsCount": d.CommentRecords}
			if _, err := m.Posts.UpdateOne(ctx, bson.M{"_id": doc.ID}, bson.M{"$set": set}); err != nil {
				return nil, utils.NewAppError(utils.ErrDatabase, "failed to repair counters", err)
			}
			d.Repaired = true
		}
		drifts = append(drifts, d)
	}
	return drifts, nil
}
