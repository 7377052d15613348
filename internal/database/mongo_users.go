// internal/database/mongo_users.go
package database

import (
	"context"
	"errors"
	"strings"
	"time"

	"feedline/internal/models"
	"feedline/internal/utils"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// UserDocument represents the MongoDB schema for a user
type UserDocument struct {
	ID             string    `bson:"_id"`
	Username       string    `bson:"username"`
	Email          string    `bson:"email"`
	HashedPassword string    `bson:"hashedPassword"`
	Permissions    string    `bson:"permissions"`
	Verified       bool      `bson:"verified"`
	PhotoURL       string    `bson:"photoUrl,omitempty"`
	Bio            string    `bson:"bio,omitempty"`
	CreatedAt      time.Time `bson:"createdAt"`
	UpdatedAt      time.Time `bson:"updatedAt"`
}

func (doc *UserDocument) toModel() (*models.UserProfile, error) {
	user := &models.UserProfile{
		ID:             doc.ID,
		Username:       doc.Username,
		Email:          doc.Email,
		HashedPassword: doc.HashedPassword,
		Permissions:    models.Permission(doc.Permissions),
		Verified:       doc.Verified,
		PhotoURL:       doc.PhotoURL,
		Bio:            doc.Bio,
		CreatedAt:      doc.CreatedAt,
		UpdatedAt:      doc.UpdatedAt,
	}
	return decodeUser(user)
}

func duplicateField(err error) string {
	if strings.Contains(err.Error(), "username") {
		return "username"
	}
	if strings.Contains(err.Error(), "email") {
		return "email"
	}
	return "record"
}

func (m *MongoDB) SaveUser(ctx context.Context, user *models.UserProfile) error {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now()
	}
	user.UpdatedAt = user.CreatedAt
	if user.Permissions == "" {
		user.Permissions = models.PermissionUser
	}

	doc := UserDocument{
		ID:             user.ID,
		Username:       user.Username,
		Email:          user.Email,
		HashedPassword: user.HashedPassword,
		Permissions:    string(user.Permissions),
		Verified:       user.Verified,
		PhotoURL:       user.PhotoURL,
		Bio:            user.Bio,
		CreatedAt:      user.CreatedAt,
		UpdatedAt:      user.UpdatedAt,
	}
	if _, err := m.Users.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return utils.NewAppError(utils.ErrDuplicate, duplicateField(err)+" already taken", err)
		}
		return utils.NewAppError(utils.ErrDatabase, "failed to save user", err)
	}
	return nil
}

func (m *MongoDB) getUserBy(ctx context.Context, field, value string) (*models.UserProfile, error) {
	var doc UserDocument
	if err := m.Users.FindOne(ctx, bson.M{field: value}).Decode(&doc); err != nil {
		return nil, notFoundOr(err, "user", value, "failed to query user by "+field)
	}
	return doc.toModel()
}

func (m *MongoDB) GetUser(ctx context.Context, id string) (*models.UserProfile, error) {
	return m.getUserBy(ctx, "_id", id)
}

func (m *MongoDB) GetUserByEmail(ctx context.Context, email string) (*models.UserProfile, error) {
	return m.getUserBy(ctx, "email", email)
}

func (m *MongoDB) GetUserByUsername(ctx context.Context, username string) (*models.UserProfile, error) {
	return m.getUserBy(ctx, "username", username)
}

func (m *MongoDB) UpdateProfile(ctx context.Context, id string, update models.ProfileUpdate) (*models.UserProfile, error) {
	set := bson.M{"updatedAt": now()}
	if update.Username != nil {
		set["username"] = *update.Username
	}
	if update.Bio != nil {
		set["bio"] = *update.Bio
	}
	if update.PhotoURL != nil {
		set["photoUrl"] = *update.PhotoURL
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var doc UserDocument
	err := m.Users.FindOneAndUpdate(ctx, bson.M{"_id": id}, bson.M{"$set": set}, opts).Decode(&doc)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, utils.NewAppError(utils.ErrDuplicate, "username already taken", err)
		}
		return nil, notFoundOr(err, "user", id, "failed to update profile")
	}
	return doc.toModel()
}

func (m *MongoDB) SetPermissions(ctx context.Context, id string, perm models.Permission) error {
	res, err := m.Users.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{"permissions": string(perm), "updatedAt": now()}})
	if err != nil {
		return utils.NewAppError(utils.ErrDatabase, "failed to update permissions", err)
	}
	if res.MatchedCount == 0 {
		return utils.NewNotFoundError("user", id)
	}
	return nil
}

// VerificationDocument represents a verification request in MongoDB
type VerificationDocument struct {
	ID         string     `bson:"_id"`
	UserID     string     `bson:"userId"`
	DocURL     string     `bson:"docUrl"`
	Status     string     `bson:"status"`
	CreatedAt  time.Time  `bson:"createdAt"`
	ReviewedAt *time.Time `bson:"reviewedAt,omitempty"`
	ReviewedBy string     `bson:"reviewedBy,omitempty"`
}

func (doc *VerificationDocument) toModel() (*models.VerificationRequest, error) {
	req := &models.VerificationRequest{
		ID:         doc.ID,
		UserID:     doc.UserID,
		DocURL:     doc.DocURL,
		Status:     models.RequestStatus(doc.Status),
		CreatedAt:  doc.CreatedAt,
		ReviewedAt: doc.ReviewedAt,
		ReviewedBy: doc.ReviewedBy,
	}
	if err := req.Validate(); err != nil {
		return nil, utils.NewAppError(utils.ErrDecode, "stored verification request failed validation", err)
	}
	return req, nil
}

func (m *MongoDB) CreateVerificationRequest(ctx context.Context, req *models.VerificationRequest) error {
	if req.CreatedAt.IsZero() {
		req.CreatedAt = now()
	}
	req.Status = models.StatusPending
	doc := VerificationDocument{
		ID:        req.ID,
		UserID:    req.UserID,
		DocURL:    req.DocURL,
		Status:    string(req.Status),
		CreatedAt: req.CreatedAt,
	}
	if _, err := m.VerificationRequests.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return utils.NewAppError(utils.ErrDuplicate, "a verification request is already pending", err)
		}
		return utils.NewAppError(utils.ErrDatabase, "failed to save verification request", err)
	}
	return nil
}

func (m *MongoDB) GetVerificationRequests(ctx context.Context, status models.RequestStatus) ([]*models.VerificationRequest, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: 1}})
	cursor, err := m.VerificationRequests.Find(ctx, bson.M{"status": string(status)}, opts)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrDatabase, "failed to query verification requests", err)
	}
	var docs []VerificationDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, utils.NewAppError(utils.ErrDecode, "failed to decode verification requests", err)
	}
	reqs := make([]*models.VerificationRequest, 0, len(docs))
	for i := range docs {
		r, err := docs[i].toModel()
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, r)
	}
	return reqs, nil
}

func (m *MongoDB) ReviewVerificationRequest(ctx context.Context, id, reviewerID string, approve bool) (*models.VerificationRequest, error) {
	res, err := m.withTransaction(ctx, "review verification", func(sc mongo.SessionContext) (interface{}, error) {
		var doc VerificationDocument
		if err := m.VerificationRequests.FindOne(sc, bson.M{"_id": id}).Decode(&doc); err != nil {
			if errors.Is(err, mongo.ErrNoDocuments) {
				return nil, utils.NewNotFoundError("verification request", id)
			}
			return nil, err
		}
		if doc.Status != string(models.StatusPending) {
			return nil, utils.NewInvalidInputError("verification request already " + doc.Status)
		}

		reviewedAt := now()
		doc.Status = string(reviewStatus(approve))
		doc.ReviewedAt = &reviewedAt
		doc.ReviewedBy = reviewerID
		set := bson.M{"status": doc.Status, "reviewedAt": reviewedAt, "reviewedBy": reviewerID}
		if _, err := m.VerificationRequests.UpdateOne(sc, bson.M{"_id": id}, bson.M{"$set": set}); err != nil {
			return nil, err
		}
		if approve {
			upd, err := m.Users.UpdateOne(sc, bson.M{"_id": doc.UserID}, bson.M{"$set": bson.M{"verified": true, "updatedAt": reviewedAt}})
			if err != nil {
				return nil, err
			}
			if upd.MatchedCount == 0 {
				return nil, utils.NewNotFoundError("user", doc.UserID)
			}
		}
		return &doc, nil
	})
	if err != nil {
		return nil, err
	}
	return res.(*VerificationDocument).toModel()
}

// MembershipDocument represents a membership application in MongoDB
type MembershipDocument struct {
	ID               string     `bson:"_id"`
	UserID           string     `bson:"userId"`
	FirstName        string     `bson:"firstName"`
	LastName         string     `bson:"lastName"`
	DateOfBirth      string     `bson:"dateOfBirth"`
	EstimatedMonthly int        `bson:"estimatedMonthly"`
	DocumentURL      string     `bson:"documentUrl"`
	FoundVia         string     `bson:"foundVia,omitempty"`
	Reason           string     `bson:"reason,omitempty"`
	Status           string     `bson:"status"`
	CreatedAt        time.Time  `bson:"createdAt"`
	ReviewedAt       *time.Time `bson:"reviewedAt,omitempty"`
	ReviewedBy       string     `bson:"reviewedBy,omitempty"`
}

func (doc *MembershipDocument) toModel() (*models.MembershipRequest, error) {
	req := &models.MembershipRequest{
		ID:               doc.ID,
		UserID:           doc.UserID,
		FirstName:        doc.FirstName,
		LastName:         doc.LastName,
		DateOfBirth:      doc.DateOfBirth,
		EstimatedMonthly: doc.EstimatedMonthly,
		DocumentURL:      doc.DocumentURL,
		FoundVia:         doc.FoundVia,
		Reason:           doc.Reason,
		Status:           models.RequestStatus(doc.Status),
		CreatedAt:        doc.CreatedAt,
		ReviewedAt:       doc.ReviewedAt,
		ReviewedBy:       doc.ReviewedBy,
	}
	if !req.Status.Valid() || req.UserID == "" {
		return nil, utils.NewAppError(utils.ErrDecode, "stored membership request failed validation", nil)
	}
	return req, nil
}

func (m *MongoDB) CreateMembershipRequest(ctx context.Context, req *models.MembershipRequest) error {
	if req.CreatedAt.IsZero() {
		req.CreatedAt = now()
	}
	req.Status = models.StatusPending
	doc := MembershipDocument{
		ID:               req.ID,
		UserID:           req.UserID,
		FirstName:        req.FirstName,
		LastName:         req.LastName,
		DateOfBirth:      req.DateOfBirth,
		EstimatedMonthly: req.EstimatedMonthly,
		DocumentURL:      req.DocumentURL,
		FoundVia:         req.FoundVia,
		Reason:           req.Reason,
		Status:           string(req.Status),
		CreatedAt:        req.CreatedAt,
	}
	if _, err := m.MembershipRequests.InsertOne(ctx, doc); err != nil {
		return utils.NewAppError(utils.ErrDatabase, "failed to save membership request", err)
	}
	return nil
}

func (m *MongoDB) GetMembershipRequests(ctx context.Context, status models.RequestStatus) ([]*models.MembershipRequest, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: 1}})
	cursor, err := m.MembershipRequests.Find(ctx, bson.M{"status": string(status)}, opts)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrDatabase, "failed to query membership requests", err)
	}
	var docs []MembershipDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, utils.NewAppError(utils.ErrDecode, "failed to decode membership requests", err)
	}
	reqs := make([]*models.MembershipRequest, 0, len(docs))
	for i := range docs {
		r, err := docs[i].toModel()
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, r)
	}
	return reqs, nil
}

func (m *MongoDB) ReviewMembershipRequest(ctx context.Context, id, reviewerID string, approve bool) (*models.MembershipRequest, error) {
	reviewedAt := now()
	status := string(reviewStatus(approve))
	filter := bson.M{"_id": id, "status": string(models.StatusPending)}
	set := bson.M{"status": status, "reviewedAt": reviewedAt, "reviewedBy": reviewerID}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var doc MembershipDocument
	err := m.MembershipRequests.FindOneAndUpdate(ctx, filter, bson.M{"$set": set}, opts).Decode(&doc)
	if err == nil {
		return doc.toModel()
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, utils.NewAppError(utils.ErrDatabase, "failed to update membership request", err)
	}

	// Distinguish a missing request from one that was already settled.
	if err := m.MembershipRequests.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		return nil, notFoundOr(err, "membership request", id, "failed to query membership request")
	}
	return nil, utils.NewInvalidInputError("membership request already " + doc.Status)
}
