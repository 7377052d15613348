// internal/database/mongo.go
package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"feedline/internal/utils"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoDB stores each logical collection in its own Mongo collection. Like
// and saved records use composite string ids ("post/user", "user/post") so
// existence is a primary-key lookup. Multi-document writes need a replica set.
type MongoDB struct {
	Client               *mongo.Client
	Users                *mongo.Collection
	Posts                *mongo.Collection
	Likes                *mongo.Collection
	SavedPosts           *mongo.Collection
	Comments             *mongo.Collection
	VerificationRequests *mongo.Collection
	MembershipRequests   *mongo.Collection
}

func NewMongoDB(ctx context.Context, uri, dbName string) (*MongoDB, error) {
	serverAPI := options.ServerAPI(options.ServerAPIVersion1)
	opts := options.Client().ApplyURI(uri).SetServerAPIOptions(serverAPI)

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	// Ping the database to verify connection
	if err := client.Database("admin").RunCommand(ctx, bson.D{{Key: "ping", Value: 1}}).Err(); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	slog.Info("connected to MongoDB", "database", dbName)

	db := client.Database(dbName)
	return &MongoDB{
		Client:               client,
		Users:                db.Collection("users"),
		Posts:                db.Collection("posts"),
		Likes:                db.Collection("likes"),
		SavedPosts:           db.Collection("savedPosts"),
		Comments:             db.Collection("comments"),
		VerificationRequests: db.Collection("verificationRequests"),
		MembershipRequests:   db.Collection("membershipRequests"),
	}, nil
}

func (m *MongoDB) Close(ctx context.Context) error {
	return m.Client.Disconnect(ctx)
}

func (m *MongoDB) Ping(ctx context.Context) error {
	if err := m.Client.Ping(ctx, nil); err != nil {
		return utils.NewAppError(utils.ErrDatabase, "database ping failed", err)
	}
	return nil
}

// InitializeTables creates the indexes every query relies on.
func (m *MongoDB) InitializeTables(ctx context.Context) error {
	pendingOnly := options.Index().SetUnique(true).SetPartialFilterExpression(bson.M{"status": "pending"})
	indexes := map[*mongo.Collection][]mongo.IndexModel{
		m.Users: {
			{Keys: bson.D{{Key: "username", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true)},
		},
		m.Posts: {
			{Keys: bson.D{{Key: "createdAt", Value: -1}}},
			{Keys: bson.D{{Key: "createdBy", Value: 1}, {Key: "createdAt", Value: -1}}},
		},
		m.Likes: {
			{Keys: bson.D{{Key: "postId", Value: 1}}},
		},
		m.SavedPosts: {
			{Keys: bson.D{{Key: "userId", Value: 1}, {Key: "savedAt", Value: -1}}},
			{Keys: bson.D{{Key: "postId", Value: 1}}},
		},
		m.Comments: {
			{Keys: bson.D{{Key: "postId", Value: 1}, {Key: "createdAt", Value: 1}}},
		},
		m.VerificationRequests: {
			{Keys: bson.D{{Key: "userId", Value: 1}}, Options: pendingOnly},
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "createdAt", Value: -1}}},
		},
		m.MembershipRequests: {
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "createdAt", Value: -1}}},
		},
	}
	for coll, idx := range indexes {
		if _, err := coll.Indexes().CreateMany(ctx, idx); err != nil {
			return fmt.Errorf("failed to create %s indexes: %w", coll.Name(), err)
		}
	}
	return nil
}

// withTransaction runs fn in a session transaction. AppErrors raised by fn
// are returned unchanged; anything else becomes TRANSACTION_FAILURE.
func (m *MongoDB) withTransaction(ctx context.Context, op string, fn func(sc mongo.SessionContext) (interface{}, error)) (interface{}, error) {
	sess, err := m.Client.StartSession()
	if err != nil {
		return nil, utils.NewAppError(utils.ErrTransactionFailure, "failed to start "+op+" session", err)
	}
	defer sess.EndSession(ctx)

	res, err := sess.WithTransaction(ctx, fn)
	if err != nil {
		var appErr *utils.AppError
		if errors.As(err, &appErr) {
			return nil, appErr
		}
		return nil, utils.NewAppError(utils.ErrTransactionFailure, op+" transaction failed", err)
	}
	return res, nil
}

func notFoundOr(err error, what, id, msg string) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return utils.NewNotFoundError(what, id)
	}
	return utils.NewAppError(utils.ErrDatabase, msg, err)
}

func pageOptions(limit, offset int, sort bson.D) *options.FindOptions {
	limit, offset = clampPage(limit, offset)
	return options.Find().SetSort(sort).SetSkip(int64(offset)).SetLimit(int64(limit))
}
