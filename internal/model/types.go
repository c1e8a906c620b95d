package model

import (
	"time"

	"github.com/google/uuid"
)

// Role is the coarse access level of a user.
type Role string

const (
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
)

// User represents an account in the system. PasswordHash never leaves the
// process; API responses use the Public() projection.
type User struct {
	ID            uuid.UUID
	Email         string
	PasswordHash  string
	FirstName     string
	LastName      string
	Role          Role
	EmailVerified bool
	Disabled      bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// PublicUser is the outward-facing shape of a user record.
type PublicUser struct {
	ID            uuid.UUID `json:"id"`
	Email         string    `json:"email"`
	FirstName     string    `json:"firstName"`
	LastName      string    `json:"lastName"`
	Role          Role      `json:"role"`
	EmailVerified bool      `json:"emailVerified"`
	Disabled      bool      `json:"disabled"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// Public strips the password hash from a user record.
func (u User) Public() PublicUser {
	return PublicUser{
		ID:            u.ID,
		Email:         u.Email,
		FirstName:     u.FirstName,
		LastName:      u.LastName,
		Role:          u.Role,
		EmailVerified: u.EmailVerified,
		Disabled:      u.Disabled,
		CreatedAt:     u.CreatedAt,
		UpdatedAt:     u.UpdatedAt,
	}
}

// FullName joins first and last name for email salutations.
func (u User) FullName() string {
	return u.FirstName + " " + u.LastName
}

// Session represents one login instance (device/browser). Valid is the sole
// authority for whether refresh tokens bound to the session may be honored.
// Sessions are invalidated, never deleted, so past logins stay auditable.
type Session struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"userId"`
	UserAgent string    `json:"userAgent"`
	Valid     bool      `json:"valid"`
	CreatedAt time.Time `json:"createdAt"`
}

// CredentialRecord is a single-use expiring token record. At most one active
// record exists per (user, purpose); re-issuing overwrites token and expiry.
// NewEmail is populated only for the email-change purpose.
type CredentialRecord struct {
	ID         uuid.UUID
	UserID     uuid.UUID
	Token      string
	ValidUntil time.Time
	NewEmail   string
	CreatedAt  time.Time
}

// Expired reports whether the record is past its validity window. A stored
// record past ValidUntil is logically dead; consumers must check this
// explicitly rather than rely on the row still existing.
func (r CredentialRecord) Expired(now time.Time) bool {
	return now.After(r.ValidUntil)
}
