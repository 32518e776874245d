package model

import (
	"time"

	"github.com/google/uuid"
)

type TokenKind string

const (
	TokenKindOptOut    TokenKind = "opt_out"
	TokenKindMagicLink TokenKind = "magic_link"
)

// Token is the persisted half of an emailed link. Only the hash of the
// secret is stored.
type Token struct {
	Hash      string     `db:"token_hash"`
	Kind      TokenKind  `db:"kind"`
	UserID    uuid.UUID  `db:"user_id"`
	PersonID  *uuid.UUID `db:"person_id"`
	ExpiresAt time.Time  `db:"expires_at"`
	RevokedAt *time.Time `db:"revoked_at"`
	CreatedAt time.Time  `db:"created_at"`
}

// Usable reports whether the token can still be verified at now.
func (t *Token) Usable(now time.Time) bool {
	return t.RevokedAt == nil && now.Before(t.ExpiresAt)
}

// TokenScope is what a verified token grants.
type TokenScope struct {
	Kind     TokenKind  `json:"kind"`
	UserID   uuid.UUID  `json:"user_id"`
	PersonID *uuid.UUID `json:"person_id,omitempty"`
}

// AllPersons reports whether the scope covers every person.
func (s TokenScope) AllPersons() bool {
	return s.PersonID == nil
}

// OptOut silences notifications to a user, for all persons or just one.
type OptOut struct {
	UserID    uuid.UUID  `json:"user_id" db:"user_id"`
	PersonID  *uuid.UUID `json:"person_id,omitempty" db:"person_id"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
}
