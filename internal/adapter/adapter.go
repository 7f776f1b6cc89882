// Package adapter defines the storage contract a deployment supplies to
// persist users, linked accounts, database sessions, and verification
// tokens. The core Adapter interface is required for the database
// session strategy; optional capabilities are separate interfaces
// checked once at configuration time, not per call.
package adapter

import (
	"context"
	"errors"
	"time"
)

// ErrUserNotFound is returned when a user doesn't exist
var ErrUserNotFound = errors.New("user not found")

// ErrSessionNotFound is returned when a session doesn't exist
var ErrSessionNotFound = errors.New("session not found")

// ErrAccountNotFound is returned when a linked account doesn't exist
var ErrAccountNotFound = errors.New("account not found")

// ErrTokenNotFound is returned when a verification token doesn't exist
var ErrTokenNotFound = errors.New("verification token not found")

// User is the identity record persisted by the adapter.
type User struct {
	ID            string     `json:"id"`
	Name          string     `json:"name,omitempty"`
	Email         string     `json:"email,omitempty"`
	EmailVerified *time.Time `json:"emailVerified,omitempty"`
	Image         string     `json:"image,omitempty"`
}

// Account links a user to one external provider identity and carries the
// raw token set from the most recent exchange.
type Account struct {
	UserID            string     `json:"userId"`
	Type              string     `json:"type"` // "oauth", "oidc", "email", "credentials"
	Provider          string     `json:"provider"`
	ProviderAccountID string     `json:"providerAccountId"`
	AccessToken       string     `json:"access_token,omitempty"`
	RefreshToken      string     `json:"refresh_token,omitempty"`
	TokenType         string     `json:"token_type,omitempty"`
	Scope             string     `json:"scope,omitempty"`
	IDToken           string     `json:"id_token,omitempty"`
	ExpiresAt         *time.Time `json:"expires_at,omitempty"`
}

// Session is the authoritative record behind an opaque session token
// under the database strategy.
type Session struct {
	SessionToken string    `json:"sessionToken"`
	UserID       string    `json:"userId"`
	Expires      time.Time `json:"expires"`
}

// VerificationToken is a single-use email sign-in token. Token holds the
// hashed form; the raw token only ever travels in the magic link.
type VerificationToken struct {
	Identifier string    `json:"identifier"`
	Token      string    `json:"token"`
	Expires    time.Time `json:"expires"`
}

// Adapter is the required storage capability set. Lookups return the
// package sentinels when a record is absent, never (nil, nil).
type Adapter interface {
	CreateUser(ctx context.Context, user *User) (*User, error)
	GetUser(ctx context.Context, id string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	GetUserByAccount(ctx context.Context, provider, providerAccountID string) (*User, error)
	UpdateUser(ctx context.Context, user *User) (*User, error)
	DeleteUser(ctx context.Context, id string) error

	LinkAccount(ctx context.Context, account *Account) error
	UnlinkAccount(ctx context.Context, provider, providerAccountID string) error
	ListAccounts(ctx context.Context, userID string) ([]Account, error)

	CreateSession(ctx context.Context, session *Session) (*Session, error)
	GetSessionAndUser(ctx context.Context, sessionToken string) (*Session, *User, error)
	UpdateSession(ctx context.Context, session *Session) (*Session, error)
	DeleteSession(ctx context.Context, sessionToken string) error
}

// VerificationTokenStore is the optional capability required by the
// email magic-link flow.
type VerificationTokenStore interface {
	CreateVerificationToken(ctx context.Context, token *VerificationToken) error

	// UseVerificationToken consumes the token: it is deleted whether or
	// not it matches, so a second use always fails.
	UseVerificationToken(ctx context.Context, identifier, token string) (*VerificationToken, error)
}

// SupportsVerificationTokens reports whether the innermost adapter can
// store verification tokens. Decorators implementing Unwrap are peeled
// off first so the check reflects the real storage capability.
func SupportsVerificationTokens(a Adapter) bool {
	for {
		if u, ok := a.(interface{ Unwrap() Adapter }); ok {
			a = u.Unwrap()
			continue
		}
		_, ok := a.(VerificationTokenStore)
		return ok
	}
}

// IsNotFound reports whether err is any of the absence sentinels.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrUserNotFound) ||
		errors.Is(err, ErrSessionNotFound) ||
		errors.Is(err, ErrAccountNotFound) ||
		errors.Is(err, ErrTokenNotFound)
}
