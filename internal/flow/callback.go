package flow

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"

	"github.com/dgellow/authgate/internal/adapter"
	"github.com/dgellow/authgate/internal/autherr"
	"github.com/dgellow/authgate/internal/cookie"
	"github.com/dgellow/authgate/internal/provider"
)

// Outcome is the result of a successful callback: the mapped user, the
// account record to link, and the raw profile for callers that add
// custom claims.
type Outcome struct {
	User    *adapter.User
	Account *adapter.Account
	Profile provider.Profile

	// Origin is the redirect target recovered from the state payload
	// when the flow went through a redirect proxy.
	Origin string
}

// HandleCallback validates the provider callback and exchanges the code
// for tokens and a profile. Check failures, provider errors, and
// mapping failures each come back as a categorized autherr; the caller
// redirects on the category alone and logs the cause.
func (d *Driver) HandleCallback(ctx context.Context, p *provider.Config, r *http.Request, jar *cookie.Jar) (*Outcome, error) {
	query := r.URL.Query()

	if errParam := query.Get("error"); errParam != "" {
		code := autherr.CodeOAuthCallback
		if errParam == "access_denied" {
			code = autherr.CodeAccessDenied
		}
		return nil, autherr.Newf(code, "provider returned error=%s description=%q", errParam, query.Get("error_description"))
	}

	// Check cookies are consumed before anything else: whatever happens
	// below, their deletions are already in the jar.
	expectedState, origin, err := d.Checks.UseState(r, jar, p)
	if err != nil {
		return nil, autherr.New(autherr.CodeOAuthCallback, err)
	}
	verifier, err := d.Checks.UsePKCE(r, jar, p)
	if err != nil {
		return nil, autherr.New(autherr.CodeOAuthCallback, err)
	}
	expectedNonce, err := d.Checks.UseNonce(r, jar, p)
	if err != nil {
		return nil, autherr.New(autherr.CodeOAuthCallback, err)
	}

	if p.HasCheck(provider.CheckState) {
		got := query.Get("state")
		if got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(expectedState)) != 1 {
			return nil, autherr.Newf(autherr.CodeOAuthCallback, "state mismatch for provider %q", p.ID)
		}
	}

	code := query.Get("code")
	if code == "" {
		return nil, autherr.Newf(autherr.CodeOAuthCallback, "callback for provider %q has no code", p.ID)
	}

	md, err := d.Resolver.Resolve(ctx, p)
	if err != nil {
		return nil, autherr.New(autherr.CodeOAuthCallback, err)
	}

	style, secret, opts, err := clientAuth(p, md.TokenEndpoint)
	if err != nil {
		return nil, autherr.New(autherr.CodeConfiguration, err)
	}

	conf := oauth2.Config{
		ClientID:     p.ClientID,
		ClientSecret: secret,
		RedirectURL:  d.RedirectURI(p),
		Endpoint: oauth2.Endpoint{
			TokenURL:  md.TokenEndpoint,
			AuthStyle: style,
		},
	}
	if verifier != "" {
		opts = append(opts, oauth2.VerifierOption(verifier))
	}

	token, err := conf.Exchange(ctx, code, opts...)
	if err != nil {
		return nil, autherr.Newf(autherr.CodeOAuthCallback, "token exchange with provider %q failed: %w", p.ID, err)
	}

	profile, err := d.resolveProfile(ctx, p, md, &conf, token, expectedNonce)
	if err != nil {
		return nil, err
	}

	mapProfile := p.ProfileFunc
	if mapProfile == nil {
		mapProfile = provider.DefaultProfile
	}
	user, err := mapProfile(profile, token)
	if err != nil {
		return nil, autherr.Newf(autherr.CodeOAuthCallback, "profile mapping for provider %q failed: %w", p.ID, err)
	}

	account := &adapter.Account{
		Provider:          p.ID,
		Type:              p.AccountType(),
		ProviderAccountID: user.ID,
		AccessToken:       token.AccessToken,
		RefreshToken:      token.RefreshToken,
		TokenType:         token.TokenType,
		IDToken:           rawIDToken(token),
	}
	if scope, ok := token.Extra("scope").(string); ok {
		account.Scope = scope
	}
	if !token.Expiry.IsZero() {
		expiry := token.Expiry
		account.ExpiresAt = &expiry
	}

	return &Outcome{
		User:    user,
		Account: account,
		Profile: profile,
		Origin:  origin,
	}, nil
}

// resolveProfile picks the identity document: ID-token claims for OIDC
// providers unless disabled, the userinfo endpoint otherwise.
func (d *Driver) resolveProfile(ctx context.Context, p *provider.Config, md *provider.Metadata, conf *oauth2.Config, token *oauth2.Token, expectedNonce string) (provider.Profile, error) {
	if p.Type == provider.TypeOIDC && !p.DisableIDToken {
		raw := rawIDToken(token)
		if raw == "" {
			return nil, autherr.Newf(autherr.CodeOAuthCallback, "provider %q returned no id_token", p.ID)
		}

		claims, err := idTokenClaims(raw)
		if err != nil {
			return nil, autherr.Newf(autherr.CodeOAuthCallback, "parsing id_token from provider %q: %w", p.ID, err)
		}

		if p.HasCheck(provider.CheckNonce) {
			nonce, _ := claims["nonce"].(string)
			if nonce == "" || subtle.ConstantTimeCompare([]byte(nonce), []byte(expectedNonce)) != 1 {
				return nil, autherr.Newf(autherr.CodeOAuthCallback, "nonce mismatch for provider %q", p.ID)
			}
		}
		return provider.Profile(claims), nil
	}

	return d.fetchUserInfo(ctx, p, md, conf, token)
}

// idTokenClaims extracts claims from the ID token. The token arrived
// over the TLS-protected token endpoint in direct response to our
// authenticated exchange, which is what binds it to this flow; the
// nonce claim is still checked against the sealed cookie.
func idTokenClaims(raw string) (jwt.MapClaims, error) {
	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(raw, claims); err != nil {
		return nil, err
	}

	now := time.Now()
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil && now.After(exp.Time) {
		return nil, fmt.Errorf("id_token expired")
	}
	return claims, nil
}

func (d *Driver) fetchUserInfo(ctx context.Context, p *provider.Config, md *provider.Metadata, conf *oauth2.Config, token *oauth2.Token) (provider.Profile, error) {
	if md.UserInfoEndpoint == "" {
		return nil, autherr.Newf(autherr.CodeConfiguration, "provider %q has no userinfo endpoint", p.ID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, md.UserInfoEndpoint, nil)
	if err != nil {
		return nil, autherr.New(autherr.CodeOAuthCallback, err)
	}
	if len(p.UserInfo.Params) > 0 {
		q := req.URL.Query()
		for key, values := range p.UserInfo.Params {
			q[key] = values
		}
		req.URL.RawQuery = q.Encode()
	}

	resp, err := conf.Client(ctx, token).Do(req)
	if err != nil {
		return nil, autherr.Newf(autherr.CodeOAuthCallback, "userinfo request to provider %q failed: %w", p.ID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, autherr.Newf(autherr.CodeOAuthCallback, "userinfo request to provider %q returned status %d: %s", p.ID, resp.StatusCode, body)
	}

	var profile provider.Profile
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return nil, autherr.Newf(autherr.CodeOAuthCallback, "decoding userinfo from provider %q: %w", p.ID, err)
	}
	return profile, nil
}

func rawIDToken(token *oauth2.Token) string {
	raw, _ := token.Extra("id_token").(string)
	return raw
}
