// Package provider defines the normalized provider record the rest of
// the pipeline consumes. Deployments describe providers through the
// built-in constructors or by filling a Config directly; either way the
// record is resolved once at startup, never lazily per request.
package provider

import (
	"context"
	"crypto/rsa"
	"fmt"
	"net/url"
	"time"

	"golang.org/x/oauth2"

	"github.com/dgellow/authgate/internal/adapter"
)

// Type discriminates the sign-in protocol a provider speaks.
type Type string

const (
	TypeOAuth2      Type = "oauth"
	TypeOIDC        Type = "oidc"
	TypeEmail       Type = "email"
	TypeCredentials Type = "credentials"
	TypeWebAuthn    Type = "webauthn"
)

// Check names one anti-replay check of the authorization-code flow.
type Check string

const (
	CheckPKCE  Check = "pkce"
	CheckState Check = "state"
	CheckNonce Check = "nonce"
)

// ClientAuthMethod selects how the token endpoint authenticates us.
type ClientAuthMethod string

const (
	AuthMethodBasic         ClientAuthMethod = "client_secret_basic"
	AuthMethodPost          ClientAuthMethod = "client_secret_post"
	AuthMethodSecretJWT     ClientAuthMethod = "client_secret_jwt"
	AuthMethodPrivateKeyJWT ClientAuthMethod = "private_key_jwt"
)

// Endpoint is one provider endpoint plus the static query parameters it
// is always called with.
type Endpoint struct {
	URL    string
	Params url.Values
}

// Profile is the raw identity document a provider returns, either
// ID-token claims or the userinfo response body.
type Profile map[string]any

// ProfileFunc maps a raw profile and token set into a user record.
type ProfileFunc func(profile Profile, token *oauth2.Token) (*adapter.User, error)

// AuthorizeFunc validates submitted credentials for a credentials
// provider.
type AuthorizeFunc func(ctx context.Context, credentials url.Values) (*adapter.User, error)

// SendVerificationFunc hands a magic link to the outbound delivery
// mechanism of an email provider.
type SendVerificationFunc func(ctx context.Context, email, link string, expires time.Time) error

// Config is the normalized provider record.
type Config struct {
	ID   string
	Name string
	Type Type

	// Issuer enables OIDC discovery when the endpoints below are not
	// set statically.
	Issuer string

	Authorization Endpoint
	Token         Endpoint
	UserInfo      Endpoint

	ClientID     string
	ClientSecret string
	ClientAuth   ClientAuthMethod

	// Signing key for private_key_jwt client assertions.
	ClientAssertionKey   *rsa.PrivateKey
	ClientAssertionKeyID string

	Scopes []string

	// Checks lists the anti-replay checks this provider requires. A
	// check not listed here is skipped without a cookie ever being set.
	Checks []Check

	// DisableIDToken forces a userinfo fetch even when the token
	// response carries an ID token.
	DisableIDToken bool

	// AllowDangerousEmailAccountLinking permits signing in to an
	// existing user record via a provider that was never linked to it,
	// keyed only on a matching email address.
	AllowDangerousEmailAccountLinking bool

	// RedirectProxyURL, when set, replaces the redirect URI sent to the
	// provider; the original origin travels inside the sealed state
	// cookie and is restored at callback time.
	RedirectProxyURL string

	ProfileFunc ProfileFunc

	// Email provider fields.
	SendVerification SendVerificationFunc
	// TokenMaxAge bounds verification token lifetime. Zero means 24h.
	TokenMaxAge time.Duration

	// Credentials provider field.
	Authorize AuthorizeFunc
}

// HasCheck reports whether the provider requires the named check.
func (c *Config) HasCheck(check Check) bool {
	for _, have := range c.Checks {
		if have == check {
			return true
		}
	}
	return false
}

// AccountType returns the account type recorded for sign-ins through
// this provider.
func (c *Config) AccountType() string {
	return string(c.Type)
}

// Validate performs the structural checks run at configuration time.
func (c *Config) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("provider has no id")
	}
	switch c.Type {
	case TypeOAuth2, TypeOIDC:
		if c.ClientID == "" {
			return fmt.Errorf("provider %q: clientId is required", c.ID)
		}
		if c.Issuer == "" && (c.Authorization.URL == "" || c.Token.URL == "") {
			return fmt.Errorf("provider %q: either issuer or authorization and token endpoints are required", c.ID)
		}
		if c.Type == TypeOAuth2 && c.UserInfo.URL == "" {
			return fmt.Errorf("provider %q: userinfo endpoint is required for plain OAuth2", c.ID)
		}
		switch c.ClientAuth {
		case "", AuthMethodBasic, AuthMethodPost, AuthMethodSecretJWT:
		case AuthMethodPrivateKeyJWT:
			if c.ClientAssertionKey == nil {
				return fmt.Errorf("provider %q: private_key_jwt requires a client assertion key", c.ID)
			}
		default:
			return fmt.Errorf("provider %q: unknown client auth method %q", c.ID, c.ClientAuth)
		}
	case TypeEmail:
		if c.SendVerification == nil {
			return fmt.Errorf("provider %q: email provider requires a verification sender", c.ID)
		}
	case TypeCredentials:
		if c.Authorize == nil {
			return fmt.Errorf("provider %q: credentials provider requires an authorize handler", c.ID)
		}
	case TypeWebAuthn:
	default:
		return fmt.Errorf("provider %q: unknown type %q", c.ID, c.Type)
	}
	return nil
}

// DefaultProfile maps standard OIDC claims into a user record. Used
// when a provider does not override ProfileFunc.
func DefaultProfile(profile Profile, _ *oauth2.Token) (*adapter.User, error) {
	sub, _ := profile["sub"].(string)
	if sub == "" {
		return nil, fmt.Errorf("profile has no subject")
	}
	name, _ := profile["name"].(string)
	email, _ := profile["email"].(string)
	picture, _ := profile["picture"].(string)
	return &adapter.User{
		ID:    sub,
		Name:  name,
		Email: email,
		Image: picture,
	}, nil
}
