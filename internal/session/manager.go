// Package session mints, reads, refreshes, and destroys sessions under
// the two mutually exclusive strategies: self-contained sealed tokens
// ("jwt") and opaque tokens backed by adapter storage ("database").
package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/dgellow/authgate/internal/adapter"
	"github.com/dgellow/authgate/internal/cookie"
	"github.com/dgellow/authgate/internal/log"
	"github.com/dgellow/authgate/internal/sealed"
)

// Strategy selects where session state lives.
type Strategy string

const (
	StrategyJWT      Strategy = "jwt"
	StrategyDatabase Strategy = "database"
)

const (
	// DefaultMaxAge is the default session lifetime.
	DefaultMaxAge = 30 * 24 * time.Hour

	// DefaultUpdateAge throttles expiry-extension writes: a session is
	// refreshed at most once per this window, so reads don't turn into
	// write amplification.
	DefaultUpdateAge = 24 * time.Hour
)

// ErrSignin is returned when session persistence fails during sign-in.
// Unlike read-path failures, this aborts the attempt: credentials are
// not considered authenticated if the record may not exist.
var ErrSignin = errors.New("failed to persist session at sign-in")

// User is the client-visible slice of the session's identity.
type User struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	Image string `json:"image,omitempty"`
}

// Session is the client-visible session state.
type Session struct {
	User    User      `json:"user"`
	Expires time.Time `json:"expires"`
}

// tokenPayload is what the jwt strategy seals into the session cookie.
type tokenPayload struct {
	Subject string    `json:"sub"`
	Name    string    `json:"name,omitempty"`
	Email   string    `json:"email,omitempty"`
	Picture string    `json:"picture,omitempty"`
	Expires time.Time `json:"expires"`
}

// Manager applies one session strategy, fixed at configuration time.
type Manager struct {
	Strategy  Strategy
	MaxAge    time.Duration
	UpdateAge time.Duration
	Secrets   []string
	Cookies   cookie.Names
	Adapter   adapter.Adapter
	Logger    log.Logger
}

func (m *Manager) maxAge() time.Duration {
	if m.MaxAge > 0 {
		return m.MaxAge
	}
	return DefaultMaxAge
}

func (m *Manager) updateAge() time.Duration {
	if m.UpdateAge > 0 {
		return m.UpdateAge
	}
	return DefaultUpdateAge
}

func (m *Manager) cookieOptions() cookie.Option {
	opt := m.Cookies.SessionToken.Options
	opt.MaxAge = int(m.maxAge().Seconds())
	return opt
}

// Create mints the session artifact for an authenticated user and adds
// its cookies to the jar.
func (m *Manager) Create(ctx context.Context, user *adapter.User, r *http.Request, jar *cookie.Jar) error {
	switch m.Strategy {
	case StrategyDatabase:
		return m.createDatabase(ctx, user, jar)
	default:
		return m.createJWT(user, r, jar)
	}
}

func (m *Manager) createJWT(user *adapter.User, r *http.Request, jar *cookie.Jar) error {
	name := m.Cookies.SessionToken.Name
	payload := tokenPayload{
		Subject: user.ID,
		Name:    user.Name,
		Email:   user.Email,
		Picture: user.Image,
		Expires: time.Now().Add(m.maxAge()),
	}

	token, err := sealed.Encode(payload, m.Secrets, name, m.maxAge())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSignin, err)
	}

	store := cookie.NewChunkStore(name, r)
	jar.Add(store.Chunk(token, m.cookieOptions())...)
	return nil
}

func (m *Manager) createDatabase(ctx context.Context, user *adapter.User, jar *cookie.Jar) error {
	record := &adapter.Session{
		SessionToken: uuid.NewString(),
		UserID:       user.ID,
		Expires:      time.Now().Add(m.maxAge()),
	}
	if _, err := m.Adapter.CreateSession(ctx, record); err != nil {
		return fmt.Errorf("%w: %v", ErrSignin, err)
	}

	jar.Add(cookie.New(m.Cookies.SessionToken.Name, record.SessionToken, m.cookieOptions()))
	return nil
}

// Read returns the current session or nil when unauthenticated. Decode
// and storage failures degrade to nil: the offending cookies are
// cleared via the jar and the cause stays in the server log. A
// successful read refreshes the session's expiry, throttled by
// updateAge.
func (m *Manager) Read(ctx context.Context, r *http.Request, jar *cookie.Jar) (*Session, error) {
	switch m.Strategy {
	case StrategyDatabase:
		return m.readDatabase(ctx, r, jar)
	default:
		return m.readJWT(r, jar), nil
	}
}

func (m *Manager) readJWT(r *http.Request, jar *cookie.Jar) *Session {
	name := m.Cookies.SessionToken.Name
	store := cookie.NewChunkStore(name, r)
	token := store.Value()
	if token == "" {
		return nil
	}

	var payload tokenPayload
	if err := sealed.Decode(token, m.Secrets, name, &payload); err != nil {
		m.Logger.Debug("session token rejected", map[string]any{"error": err.Error()})
		jar.Add(store.Clean(m.Cookies.SessionToken.Options)...)
		return nil
	}

	// Re-seal with a fresh expiry once per updateAge window.
	if time.Now().After(payload.Expires.Add(m.updateAge() - m.maxAge())) {
		payload.Expires = time.Now().Add(m.maxAge())
		refreshed, err := sealed.Encode(payload, m.Secrets, name, m.maxAge())
		if err != nil {
			m.Logger.Warn("failed to refresh session token", map[string]any{"error": err.Error()})
		} else {
			jar.Add(store.Chunk(refreshed, m.cookieOptions())...)
		}
	}

	return &Session{
		User:    User{Name: payload.Name, Email: payload.Email, Image: payload.Picture},
		Expires: payload.Expires,
	}
}

func (m *Manager) readDatabase(ctx context.Context, r *http.Request, jar *cookie.Jar) (*Session, error) {
	name := m.Cookies.SessionToken.Name
	c, err := r.Cookie(name)
	if err != nil || c.Value == "" {
		return nil, nil
	}

	record, user, err := m.Adapter.GetSessionAndUser(ctx, c.Value)
	if err != nil {
		if !adapter.IsNotFound(err) {
			m.Logger.Error("session lookup failed", map[string]any{"error": err.Error()})
		}
		jar.Delete(name, m.Cookies.SessionToken.Options)
		return nil, nil
	}

	now := time.Now()
	if record.Expires.Before(now) {
		if err := m.Adapter.DeleteSession(ctx, record.SessionToken); err != nil {
			m.Logger.Warn("failed to delete expired session", map[string]any{"error": err.Error()})
		}
		jar.Delete(name, m.Cookies.SessionToken.Options)
		return nil, nil
	}

	// Extend expiry at most once per updateAge window.
	if now.After(record.Expires.Add(m.updateAge() - m.maxAge())) {
		record.Expires = now.Add(m.maxAge())
		if _, err := m.Adapter.UpdateSession(ctx, record); err != nil {
			m.Logger.Warn("failed to extend session expiry", map[string]any{"error": err.Error()})
		}
	}

	jar.Add(cookie.New(name, record.SessionToken, m.cookieOptions()))
	return &Session{
		User:    User{Name: user.Name, Email: user.Email, Image: user.Image},
		Expires: record.Expires,
	}, nil
}

// Destroy terminates the session: the storage record is deleted under
// the database strategy, and the cookie chunks are cleared regardless
// of whether that deletion succeeded.
func (m *Manager) Destroy(ctx context.Context, r *http.Request, jar *cookie.Jar) {
	if m.Strategy == StrategyDatabase {
		if c, err := r.Cookie(m.Cookies.SessionToken.Name); err == nil && c.Value != "" {
			if err := m.Adapter.DeleteSession(ctx, c.Value); err != nil {
				m.Logger.Warn("failed to delete session record", map[string]any{"error": err.Error()})
			}
		}
	}

	store := cookie.NewChunkStore(m.Cookies.SessionToken.Name, r)
	cleaned := store.Clean(m.Cookies.SessionToken.Options)
	if len(cleaned) == 0 {
		jar.Delete(m.Cookies.SessionToken.Name, m.Cookies.SessionToken.Options)
		return
	}
	jar.Add(cleaned...)
}
