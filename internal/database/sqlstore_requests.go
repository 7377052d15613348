// internal/database/sqlstore_requests.go
package database

import (
	"context"
	"database/sql"
	"errors"

	"feedline/internal/models"
	"feedline/internal/utils"

	"github.com/jmoiron/sqlx"
)

const (
	verificationColumns = `id, user_id, doc_url, status, created_at, reviewed_at, reviewed_by`
	membershipColumns   = `id, user_id, first_name, last_name, date_of_birth, estimated_monthly, document_url, found_via, reason, status, created_at, reviewed_at, reviewed_by`
)

// CreateVerificationRequest stores a pending request. A user may only have one pending request.
func (s *SQLStore) CreateVerificationRequest(ctx context.Context, req *models.VerificationRequest) error {
	if req.CreatedAt.IsZero() {
		req.CreatedAt = now()
	}
	req.Status = models.StatusPending

	query := `
		INSERT INTO verification_requests (` + verificationColumns + `)
		VALUES (:id, :user_id, :doc_url, :status, :created_at, :reviewed_at, :reviewed_by)
	`
	if _, err := s.DB.NamedExecContext(ctx, query, req); err != nil {
		if isUniqueViolation(err) {
			return utils.NewAppError(utils.ErrDuplicate, "a verification request is already pending", err)
		}
		return utils.NewAppError(utils.ErrDatabase, "failed to save verification request", err)
	}
	return nil
}

// GetVerificationRequests lists requests with the given status, newest first.
func (s *SQLStore) GetVerificationRequests(ctx context.Context, status models.RequestStatus) ([]*models.VerificationRequest, error) {
	var reqs []*models.VerificationRequest
	query := s.q(`SELECT ` + verificationColumns + ` FROM verification_requests WHERE status = ? ORDER BY created_at DESC, id`)
	if err := s.DB.SelectContext(ctx, &reqs, query, status); err != nil {
		return nil, utils.NewAppError(utils.ErrDatabase, "failed to query verification requests", err)
	}
	for _, r := range reqs {
		if err := r.Validate(); err != nil {
			return nil, utils.NewAppError(utils.ErrDecode, "stored verification request failed validation", err)
		}
	}
	return reqs, nil
}

// ReviewVerificationRequest settles a pending request. Approval marks the user
// verified in the same transaction.
func (s *SQLStore) ReviewVerificationRequest(ctx context.Context, id, reviewerID string, approve bool) (*models.VerificationRequest, error) {
	var reviewed models.VerificationRequest
	err := s.withTx(ctx, "review verification", func(tx *sqlx.Tx) error {
		err := tx.GetContext(ctx, &reviewed, s.q(`SELECT `+verificationColumns+` FROM verification_requests WHERE id = ?`), id)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return utils.NewNotFoundError("verification request", id)
			}
			return utils.NewAppError(utils.ErrDatabase, "failed to query verification request", err)
		}
		if reviewed.Status != models.StatusPending {
			return utils.NewInvalidInputError("verification request already " + string(reviewed.Status))
		}

		reviewedAt := now()
		reviewed.Status = reviewStatus(approve)
		reviewed.ReviewedAt = &reviewedAt
		reviewed.ReviewedBy = reviewerID

		_, err = tx.ExecContext(ctx, s.q(`UPDATE verification_requests SET status = ?, reviewed_at = ?, reviewed_by = ? WHERE id = ?`),
			reviewed.Status, reviewedAt, reviewerID, id)
		if err != nil {
			return utils.NewAppError(utils.ErrTransactionFailure, "failed to update verification request", err)
		}
		if !approve {
			return nil
		}

		res, err := tx.ExecContext(ctx, s.q(`UPDATE users SET verified = ?, updated_at = ? WHERE id = ?`), true, reviewedAt, reviewed.UserID)
		if err != nil {
			return utils.NewAppError(utils.ErrTransactionFailure, "failed to mark user verified", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return utils.NewNotFoundError("user", reviewed.UserID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &reviewed, nil
}

func (s *SQLStore) CreateMembershipRequest(ctx context.Context, req *models.MembershipRequest) error {
	if req.CreatedAt.IsZero() {
		req.CreatedAt = now()
	}
	req.Status = models.StatusPending

	query := `
		INSERT INTO membership_requests (` + membershipColumns + `)
		VALUES (:id, :user_id, :first_name, :last_name, :date_of_birth, :estimated_monthly, :document_url, :found_via, :reason, :status, :created_at, :reviewed_at, :reviewed_by)
	`
	if _, err := s.DB.NamedExecContext(ctx, query, req); err != nil {
		return utils.NewAppError(utils.ErrDatabase, "failed to save membership request", err)
	}
	return nil
}

func (s *SQLStore) GetMembershipRequests(ctx context.Context, status models.RequestStatus) ([]*models.MembershipRequest, error) {
	var reqs []*models.MembershipRequest
	query := s.q(`SELECT ` + membershipColumns + ` FROM membership_requests WHERE status = ? ORDER BY created_at DESC, id`)
	if err := s.DB.SelectContext(ctx, &reqs, query, status); err != nil {
		return nil, utils.NewAppError(utils.ErrDatabase, "failed to query membership requests", err)
	}
	for _, r := range reqs {
		if !r.Status.Valid() || r.UserID == "" {
			return nil, utils.NewAppError(utils.ErrDecode, "stored membership request failed validation", nil)
		}
	}
	return reqs, nil
}

func (s *SQLStore) ReviewMembershipRequest(ctx context.Context, id, reviewerID string, approve bool) (*models.MembershipRequest, error) {
	var reviewed models.MembershipRequest
	err := s.withTx(ctx, "review membership", func(tx *sqlx.Tx) error {
		err := tx.GetContext(ctx, &reviewed, s.q(`SELECT `+membershipColumns+` FROM membership_requests WHERE id = ?`), id)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return utils.NewNotFoundError("membership request", id)
			}
			return utils.NewAppError(utils.ErrDatabase, "failed to query membership request", err)
		}
		if reviewed.Status != models.StatusPending {
			return utils.NewInvalidInputError("membership request already " + string(reviewed.Status))
		}

		reviewedAt := now()
		reviewed.Status = reviewStatus(approve)
		reviewed.ReviewedAt = &reviewedAt
		reviewed.ReviewedBy = reviewerID
		_, err = tx.ExecContext(ctx, s.q(`UPDATE membership_requests SET status = ?, reviewed_at = ?, reviewed_by = ? WHERE id = ?`),
			reviewed.Status, reviewedAt, reviewerID, id)
		if err != nil {
			return utils.NewAppError(utils.ErrTransactionFailure, "failed to update membership request", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &reviewed, nil
}

func reviewStatus(approve bool) models.RequestStatus {
	if approve {
		return models.StatusApproved
	}
	return models.StatusRejected
}
