// Package checks implements the one-time, cookie-backed anti-replay
// checks of the authorization-code flow: state, nonce, and PKCE, plus
// the WebAuthn challenge. Each check seals a random value into its own
// short-lived cookie at authorization time and consumes it exactly once
// at callback time. The signed cookie is the only server-side memory an
// in-flight flow has, which keeps the handler stateless; swapping in
// server-side storage would only require another implementation of this
// package's surface.
package checks

import (
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/dgellow/authgate/internal/cookie"
	"github.com/dgellow/authgate/internal/crypto"
	"github.com/dgellow/authgate/internal/provider"
	"github.com/dgellow/authgate/internal/sealed"
)

// ErrInvalidCheck is returned when a required check cookie is absent or
// cannot be decoded. Callers surface it as a generic error; the cookie
// itself is always cleared so the value cannot be replayed.
var ErrInvalidCheck = errors.New("check cookie missing or invalid")

// DefaultMaxAge bounds how long an authorization round trip may take.
const DefaultMaxAge = 15 * time.Minute

// Engine creates and consumes check cookies.
type Engine struct {
	Secrets []string
	Cookies cookie.Names
	MaxAge  time.Duration
}

// payload is what gets sealed into a check cookie. Origin is only used
// by the state check when a redirect proxy is configured.
type payload struct {
	Value  string `json:"value"`
	Origin string `json:"origin,omitempty"`
}

func (e *Engine) maxAge() time.Duration {
	if e.MaxAge > 0 {
		return e.MaxAge
	}
	return DefaultMaxAge
}

// create seals value into the named cookie. The cookie name doubles as
// the key-derivation salt so check cookies of different purposes are
// not interchangeable.
func (e *Engine) create(name cookie.NameOption, value, origin string) (*http.Cookie, error) {
	token, err := sealed.Encode(payload{Value: value, Origin: origin}, e.Secrets, name.Name, e.maxAge())
	if err != nil {
		return nil, fmt.Errorf("sealing %s cookie: %w", name.Name, err)
	}
	opt := name.Options
	opt.MaxAge = int(e.maxAge().Seconds())
	return cookie.New(name.Name, token, opt), nil
}

// use consumes the named cookie: whatever happens next, its deletion is
// scheduled on the jar first so the value is single-use.
func (e *Engine) use(r *http.Request, jar *cookie.Jar, name cookie.NameOption) (payload, error) {
	jar.Delete(name.Name, name.Options)

	c, err := r.Cookie(name.Name)
	if err != nil || c.Value == "" {
		return payload{}, fmt.Errorf("%w: %s not present", ErrInvalidCheck, name.Name)
	}

	var p payload
	if err := sealed.Decode(c.Value, e.Secrets, name.Name, &p); err != nil {
		return payload{}, fmt.Errorf("%w: %s unreadable", ErrInvalidCheck, name.Name)
	}
	return p, nil
}

// CreateState mints the state cookie and returns the state parameter for
// the authorization URL. origin rides along inside the sealed payload
// when a redirect proxy needs to restore the original target. Returns a
// nil cookie when the provider does not require the check.
func (e *Engine) CreateState(p *provider.Config, origin string) (*http.Cookie, string, error) {
	if !p.HasCheck(provider.CheckState) {
		return nil, "", nil
	}
	value, err := crypto.GenerateSecureToken()
	if err != nil {
		return nil, "", err
	}
	c, err := e.create(e.Cookies.State, value, origin)
	if err != nil {
		return nil, "", err
	}
	return c, value, nil
}

// UseState consumes the state cookie and returns the expected state
// value plus the embedded origin, if any.
func (e *Engine) UseState(r *http.Request, jar *cookie.Jar, p *provider.Config) (value, origin string, err error) {
	if !p.HasCheck(provider.CheckState) {
		return "", "", nil
	}
	pl, err := e.use(r, jar, e.Cookies.State)
	if err != nil {
		return "", "", err
	}
	return pl.Value, pl.Origin, nil
}

// CreateNonce mints the nonce cookie and returns the nonce for the
// authorization URL.
func (e *Engine) CreateNonce(p *provider.Config) (*http.Cookie, string, error) {
	if !p.HasCheck(provider.CheckNonce) {
		return nil, "", nil
	}
	value, err := crypto.GenerateSecureToken()
	if err != nil {
		return nil, "", err
	}
	c, err := e.create(e.Cookies.Nonce, value, "")
	if err != nil {
		return nil, "", err
	}
	return c, value, nil
}

// UseNonce consumes the nonce cookie and returns the nonce the ID token
// must echo.
func (e *Engine) UseNonce(r *http.Request, jar *cookie.Jar, p *provider.Config) (string, error) {
	if !p.HasCheck(provider.CheckNonce) {
		return "", nil
	}
	pl, err := e.use(r, jar, e.Cookies.Nonce)
	if err != nil {
		return "", err
	}
	return pl.Value, nil
}

// CreatePKCE mints the verifier cookie and returns the derived S256
// challenge for the authorization URL. The verifier never leaves the
// sealed cookie.
func (e *Engine) CreatePKCE(p *provider.Config) (c *http.Cookie, challenge string, err error) {
	if !p.HasCheck(provider.CheckPKCE) {
		return nil, "", nil
	}
	verifier, err := crypto.GenerateSecureToken()
	if err != nil {
		return nil, "", err
	}
	c, err = e.create(e.Cookies.PKCEVerifier, verifier, "")
	if err != nil {
		return nil, "", err
	}
	return c, Challenge(verifier), nil
}

// UsePKCE consumes the verifier cookie and returns the code_verifier for
// the token exchange.
func (e *Engine) UsePKCE(r *http.Request, jar *cookie.Jar, p *provider.Config) (string, error) {
	if !p.HasCheck(provider.CheckPKCE) {
		return "", nil
	}
	pl, err := e.use(r, jar, e.Cookies.PKCEVerifier)
	if err != nil {
		return "", err
	}
	return pl.Value, nil
}

// CreateChallenge mints the WebAuthn challenge cookie.
func (e *Engine) CreateChallenge() (*http.Cookie, string, error) {
	value, err := crypto.GenerateSecureToken()
	if err != nil {
		return nil, "", err
	}
	c, err := e.create(e.Cookies.Challenge, value, "")
	if err != nil {
		return nil, "", err
	}
	return c, value, nil
}

// UseChallenge consumes the WebAuthn challenge cookie.
func (e *Engine) UseChallenge(r *http.Request, jar *cookie.Jar) (string, error) {
	pl, err := e.use(r, jar, e.Cookies.Challenge)
	if err != nil {
		return "", err
	}
	return pl.Value, nil
}

// Challenge derives the S256 code challenge from a PKCE verifier.
func Challenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
