// Package config holds the resolved runtime options of the auth handler
// plus the JSON file loader used by the standalone binary. Options are
// normalized and validated once at startup; nothing in here is consulted
// lazily per request.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/dgellow/authgate/internal/adapter"
	"github.com/dgellow/authgate/internal/cookie"
	"github.com/dgellow/authgate/internal/log"
	"github.com/dgellow/authgate/internal/provider"
	"github.com/dgellow/authgate/internal/session"
)

// SessionOptions configures the session strategy and lifetimes.
type SessionOptions struct {
	// Strategy overrides the default, which is "database" when an
	// adapter is configured and "jwt" otherwise.
	Strategy  session.Strategy `json:"strategy,omitempty"`
	MaxAge    time.Duration    `json:"-"`
	UpdateAge time.Duration    `json:"-"`
}

// Pages holds optional custom page URLs. When set, the corresponding
// action redirects there instead of rendering the built-in page.
type Pages struct {
	SignIn        string `json:"signIn,omitempty"`
	SignOut       string `json:"signOut,omitempty"`
	Error         string `json:"error,omitempty"`
	VerifyRequest string `json:"verifyRequest,omitempty"`
}

// Options is the resolved configuration of one handler instance.
type Options struct {
	// BaseURL is the externally visible URL of the handler, including
	// its path prefix, e.g. "https://app.example.com/auth".
	BaseURL string

	// TrustHost accepts the incoming Host header as the deployment
	// host. Required when the handler sits behind a proxy that
	// terminates TLS.
	TrustHost bool

	// Secrets used for sealing cookies, newest first. Older entries
	// are decode-only, which is what makes rotation possible.
	Secrets []Secret

	Providers []*provider.Config

	// Adapter enables database sessions and account persistence. Nil
	// means stateless jwt sessions only.
	Adapter adapter.Adapter

	Session SessionOptions

	// Cookies overrides the default cookie names and attributes.
	Cookies *cookie.Names

	// CheckMaxAge bounds the lifetime of the state/nonce/pkce cookies.
	CheckMaxAge time.Duration

	Pages Pages

	// AllowedCallbackHosts lists additional hosts a post-sign-in
	// callback URL may point at. The handler's own host is always
	// allowed.
	AllowedCallbackHosts []string

	Logger log.Logger

	// normalized state
	secure  bool
	baseURL *url.URL
}

// Normalize fills defaults and resolves derived state. It must be
// called before Validate or any accessor.
func (o *Options) Normalize() error {
	if o.BaseURL == "" {
		return fmt.Errorf("baseURL is required")
	}
	u, err := url.Parse(o.BaseURL)
	if err != nil {
		return fmt.Errorf("parsing baseURL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("baseURL must be http or https, got %q", o.BaseURL)
	}
	o.baseURL = u
	o.secure = u.Scheme == "https"
	o.BaseURL = strings.TrimSuffix(o.BaseURL, "/")

	if o.Cookies == nil {
		names := cookie.DefaultNames(o.secure)
		o.Cookies = &names
	}

	if o.Session.Strategy == "" {
		if o.Adapter != nil {
			o.Session.Strategy = session.StrategyDatabase
		} else {
			o.Session.Strategy = session.StrategyJWT
		}
	}
	if o.Session.MaxAge == 0 {
		o.Session.MaxAge = session.DefaultMaxAge
	}
	if o.Session.UpdateAge == 0 {
		o.Session.UpdateAge = session.DefaultUpdateAge
	}

	if o.Logger == nil {
		o.Logger = log.Default("authgate")
	}

	return nil
}

// Secure reports whether the deployment is served over HTTPS.
func (o *Options) Secure() bool {
	return o.secure
}

// Host returns the host of the normalized base URL.
func (o *Options) Host() string {
	return o.baseURL.Host
}

// BasePath returns the path prefix of the base URL, without a trailing
// slash.
func (o *Options) BasePath() string {
	return strings.TrimSuffix(o.baseURL.Path, "/")
}

// SecretStrings returns the sealing secrets as plain strings for the
// crypto layer.
func (o *Options) SecretStrings() []string {
	out := make([]string, len(o.Secrets))
	for i, s := range o.Secrets {
		out[i] = string(s)
	}
	return out
}

// Provider returns the provider with the given id, or nil.
func (o *Options) Provider(id string) *provider.Config {
	for _, p := range o.Providers {
		if p.ID == id {
			return p
		}
	}
	return nil
}
