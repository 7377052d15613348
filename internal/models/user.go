package models

import (
	"fmt"
	"net/mail"
	"regexp"
	"time"
)

// Permission is the role stored on a profile.
type Permission string

const (
	PermissionUser  Permission = "user"
	PermissionAdmin Permission = "admin"
)

func (p Permission) Valid() bool {
	return p == PermissionUser || p == PermissionAdmin
}

// MaxBioLength bounds the free-text profile bio.
const MaxBioLength = 500

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_.]{3,30}$`)

type UserProfile struct {
	ID             string     `json:"id" db:"id"`
	Username       string     `json:"username" db:"username"`
	Email          string     `json:"email,omitempty" db:"email"`
	HashedPassword string     `json:"-" db:"password_hash"`
	Permissions    Permission `json:"permissions" db:"permissions"`
	Verified       bool       `json:"verified" db:"verified"`
	PhotoURL       string     `json:"photoUrl,omitempty" db:"photo_url"`
	Bio            string     `json:"bio,omitempty" db:"bio"`
	CreatedAt      time.Time  `json:"createdAt" db:"created_at"`
	UpdatedAt      time.Time  `json:"updatedAt" db:"updated_at"`
}

func (u *UserProfile) IsAdmin() bool {
	return u.Permissions == PermissionAdmin
}

func (u *UserProfile) Validate() error {
	if u.ID == "" {
		return fmt.Errorf("user id is empty")
	}
	if err := ValidateUsername(u.Username); err != nil {
		return fmt.Errorf("user %s: %w", u.ID, err)
	}
	if !u.Permissions.Valid() {
		return fmt.Errorf("user %s: unknown permissions %q", u.ID, u.Permissions)
	}
	return nil
}

// Public strips fields other users must not see.
func (u *UserProfile) Public() *UserProfile {
	cp := *u
	cp.Email = ""
	return &cp
}

func ValidateUsername(name string) error {
	if !usernamePattern.MatchString(name) {
		return fmt.Errorf("username must be 3-30 letters, digits, '_' or '.'")
	}
	return nil
}

func ValidateEmail(email string) error {
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return fmt.Errorf("invalid email address")
	}
	return nil
}

// ProfileUpdate carries the self-editable profile fields; nil means unchanged.
type ProfileUpdate struct {
	Username *string `json:"username,omitempty"`
	Bio      *string `json:"bio,omitempty"`
	PhotoURL *string `json:"photoUrl,omitempty"`
}

func (u ProfileUpdate) Empty() bool {
	return u.Username == nil && u.Bio == nil && u.PhotoURL == nil
}
