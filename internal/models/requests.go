package models

import (
	"fmt"
	"strings"
	"time"
)

// RequestStatus tracks an approval workflow record.
type RequestStatus string

const (
	StatusPending  RequestStatus = "pending"
	StatusApproved RequestStatus = "approved"
	StatusRejected RequestStatus = "rejected"
)

func (s RequestStatus) Valid() bool {
	return s == StatusPending || s == StatusApproved || s == StatusRejected
}

type VerificationRequest struct {
	ID         string        `json:"id" db:"id"`
	UserID     string        `json:"userId" db:"user_id"`
	DocURL     string        `json:"docUrl" db:"doc_url"`
	Status     RequestStatus `json:"status" db:"status"`
	CreatedAt  time.Time     `json:"createdAt" db:"created_at"`
	ReviewedAt *time.Time    `json:"reviewedAt,omitempty" db:"reviewed_at"`
	ReviewedBy string        `json:"reviewedBy,omitempty" db:"reviewed_by"`
}

func (r *VerificationRequest) Validate() error {
	if r.ID == "" || r.UserID == "" {
		return fmt.Errorf("verification request is missing its key")
	}
	if !r.Status.Valid() {
		return fmt.Errorf("verification request %s: unknown status %q", r.ID, r.Status)
	}
	if !ValidMediaURL(r.DocURL) {
		return fmt.Errorf("verification request %s: docUrl must be an http(s) URL", r.ID)
	}
	return nil
}

type MembershipRequest struct {
	ID               string        `json:"id" db:"id"`
	UserID           string        `json:"userId" db:"user_id"`
	FirstName        string        `json:"firstName" db:"first_name"`
	LastName         string        `json:"lastName" db:"last_name"`
	DateOfBirth      string        `json:"dateOfBirth" db:"date_of_birth"`
	EstimatedMonthly int           `json:"estimatedMonthly" db:"estimated_monthly"`
	DocumentURL      string        `json:"documentUrl" db:"document_url"`
	FoundVia         string        `json:"foundVia,omitempty" db:"found_via"`
	Reason           string        `json:"reason,omitempty" db:"reason"`
	Status           RequestStatus `json:"status" db:"status"`
	CreatedAt        time.Time     `json:"createdAt" db:"created_at"`
	ReviewedAt       *time.Time    `json:"reviewedAt,omitempty" db:"reviewed_at"`
	ReviewedBy       string        `json:"reviewedBy,omitempty" db:"reviewed_by"`
}

// Validate enforces the membership form rules. now is used for the age check.
func (r *MembershipRequest) Validate(now time.Time) error {
	if r.ID == "" || r.UserID == "" {
		return fmt.Errorf("membership request is missing its key")
	}
	if strings.TrimSpace(r.FirstName) == "" || strings.TrimSpace(r.LastName) == "" {
		return fmt.Errorf("first and last name are required")
	}
	dob, err := time.Parse(time.DateOnly, r.DateOfBirth)
	if err != nil {
		return fmt.Errorf("dateOfBirth must be YYYY-MM-DD")
	}
	if dob.AddDate(18, 0, 0).After(now) {
		return fmt.Errorf("applicant must be at least 18")
	}
	if r.EstimatedMonthly < 1 || r.EstimatedMonthly > 31 {
		return fmt.Errorf("estimatedMonthly must be between 1 and 31")
	}
	if !ValidMediaURL(r.DocumentURL) {
		return fmt.Errorf("documentUrl must be an http(s) URL")
	}
	if !r.Status.Valid() {
		return fmt.Errorf("membership request %s: unknown status %q", r.ID, r.Status)
	}
	return nil
}
