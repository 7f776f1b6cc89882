// Package flow drives the OAuth/OIDC authorization-code exchange. Stage
// one builds the provider authorization URL and writes the check
// cookies; stage two validates the callback, exchanges the code, and
// maps the raw profile into a user and account. All network calls go
// through golang.org/x/oauth2 or a bounded-timeout HTTP client; nothing
// is retried, because authorization codes and PKCE verifiers are
// single-use.
package flow

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/dgellow/authgate/internal/checks"
	"github.com/dgellow/authgate/internal/cookie"
	"github.com/dgellow/authgate/internal/log"
	"github.com/dgellow/authgate/internal/provider"
)

// Driver executes the two stages of the authorization-code flow.
type Driver struct {
	Checks   *checks.Engine
	Resolver *provider.Resolver

	// BaseURL is the externally visible URL of the auth handler,
	// e.g. "https://app.example.com/auth".
	BaseURL string

	Logger log.Logger
}

// RedirectURI returns the callback URI registered with the provider, or
// the proxy URI when the provider routes callbacks through one.
func (d *Driver) RedirectURI(p *provider.Config) string {
	if p.RedirectProxyURL != "" {
		return p.RedirectProxyURL
	}
	return strings.TrimSuffix(d.BaseURL, "/") + "/callback/" + url.PathEscape(p.ID)
}

// Authorize assembles the provider authorization URL, writing the check
// cookies for every check the provider requires. overrides are request
// query parameters layered on top of the provider's static ones.
func (d *Driver) Authorize(ctx context.Context, p *provider.Config, overrides url.Values, jar *cookie.Jar) (string, error) {
	md, err := d.Resolver.Resolve(ctx, p)
	if err != nil {
		return "", fmt.Errorf("resolving endpoints: %w", err)
	}

	params := url.Values{}
	params.Set("response_type", "code")
	params.Set("client_id", p.ClientID)
	params.Set("redirect_uri", d.RedirectURI(p))
	if len(p.Scopes) > 0 {
		params.Set("scope", strings.Join(p.Scopes, " "))
	}
	for key, values := range p.Authorization.Params {
		for _, v := range values {
			params.Set(key, v)
		}
	}
	for key, values := range overrides {
		switch key {
		// Protocol-critical parameters cannot be overridden by the
		// incoming request.
		case "response_type", "client_id", "redirect_uri", "state", "nonce", "code_challenge", "code_challenge_method":
			continue
		}
		for _, v := range values {
			params.Set(key, v)
		}
	}

	// When callbacks ride through a proxy, the state payload carries
	// the origin so the proxy can restore the original target.
	origin := ""
	if p.RedirectProxyURL != "" {
		origin = strings.TrimSuffix(d.BaseURL, "/") + "/callback/" + url.PathEscape(p.ID)
	}

	stateCookie, state, err := d.Checks.CreateState(p, origin)
	if err != nil {
		return "", fmt.Errorf("creating state: %w", err)
	}
	if stateCookie != nil {
		jar.Add(stateCookie)
		params.Set("state", state)
	}

	pkceCookie, challenge, err := d.Checks.CreatePKCE(p)
	if err != nil {
		return "", fmt.Errorf("creating pkce verifier: %w", err)
	}
	if pkceCookie != nil {
		jar.Add(pkceCookie)
		params.Set("code_challenge", challenge)
		params.Set("code_challenge_method", "S256")
	}

	nonceCookie, nonce, err := d.Checks.CreateNonce(p)
	if err != nil {
		return "", fmt.Errorf("creating nonce: %w", err)
	}
	if nonceCookie != nil {
		jar.Add(nonceCookie)
		params.Set("nonce", nonce)
	}

	authURL, err := url.Parse(md.AuthorizationEndpoint)
	if err != nil {
		return "", fmt.Errorf("parsing authorization endpoint: %w", err)
	}
	query := authURL.Query()
	for key, values := range params {
		query[key] = values
	}
	authURL.RawQuery = query.Encode()

	d.Logger.Debug("built authorization redirect", map[string]any{
		"provider": p.ID,
		"endpoint": md.AuthorizationEndpoint,
	})
	return authURL.String(), nil
}
