package models

import (
	"time"

	"github.com/google/uuid"
)

// User represents a local identity provisioned from a validated token on
// first sight. The record is keyed by the normalized identity-provider
// subject ("auth0.507f..."), unique per subject. Profile fields track the
// token claims; the authorization flags are managed by operators and are
// never written from claims.
type User struct {
	ID          uuid.UUID `json:"id" db:"id"`
	Subject     string    `json:"subject" db:"subject"` // normalized provider subject
	Email       string    `json:"email" db:"email"`
	FirstName   string    `json:"first_name" db:"first_name"`
	LastName    string    `json:"last_name" db:"last_name"`
	IsStaff     bool      `json:"is_staff" db:"is_staff"`
	IsSuperuser bool      `json:"is_superuser" db:"is_superuser"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// TableName returns the table name for the User model
func (User) TableName() string {
	return "users"
}

// NewUser creates a new User from a normalized subject and profile fields.
// Authorization flags start false; they are never derived from claims.
func NewUser(subject, email, firstName, lastName string) *User {
	now := time.Now()
	return &User{
		ID:        uuid.New(),
		Subject:   subject,
		Email:     email,
		FirstName: firstName,
		LastName:  lastName,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// ProfileMatches reports whether the stored profile fields already equal the
// given claim values.
func (u *User) ProfileMatches(email, firstName, lastName string) bool {
	return u.Email == email && u.FirstName == firstName && u.LastName == lastName
}

// FullName returns the user's display name.
func (u *User) FullName() string {
	switch {
	case u.FirstName == "":
		return u.LastName
	case u.LastName == "":
		return u.FirstName
	default:
		return u.FirstName + " " + u.LastName
	}
}

// IsAdmin returns true if the user has superuser privileges
func (u *User) IsAdmin() bool {
	return u.IsSuperuser
}
