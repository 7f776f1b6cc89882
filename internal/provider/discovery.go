package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Metadata is the subset of the OIDC discovery document the flow needs.
type Metadata struct {
	Issuer                string `json:"issuer"`
	AuthorizationEndpoint string `json:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint"`
	UserInfoEndpoint      string `json:"userinfo_endpoint"`
}

// Resolver turns a provider record into concrete endpoints, fetching the
// .well-known document for issuer-based providers. Documents are cached
// for the lifetime of the process and concurrent fetches for the same
// issuer are collapsed into one request.
type Resolver struct {
	HTTPClient *http.Client

	group singleflight.Group
	mu    sync.RWMutex
	cache map[string]*Metadata
}

// NewResolver creates a discovery resolver with a bounded HTTP timeout.
func NewResolver() *Resolver {
	return &Resolver{
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
		cache:      make(map[string]*Metadata),
	}
}

// Resolve returns the endpoints for cfg: the statically configured ones
// when present, otherwise the discovered ones.
func (r *Resolver) Resolve(ctx context.Context, cfg *Config) (*Metadata, error) {
	if cfg.Authorization.URL != "" && cfg.Token.URL != "" {
		return &Metadata{
			Issuer:                cfg.Issuer,
			AuthorizationEndpoint: cfg.Authorization.URL,
			TokenEndpoint:         cfg.Token.URL,
			UserInfoEndpoint:      cfg.UserInfo.URL,
		}, nil
	}

	if cfg.Issuer == "" {
		return nil, fmt.Errorf("provider %q: no endpoints and no issuer to discover them from", cfg.ID)
	}

	r.mu.RLock()
	cached, ok := r.cache[cfg.Issuer]
	r.mu.RUnlock()
	if ok {
		return overlay(cached, cfg), nil
	}

	v, err, _ := r.group.Do(cfg.Issuer, func() (any, error) {
		metadata, err := r.fetch(ctx, cfg.Issuer)
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		r.cache[cfg.Issuer] = metadata
		r.mu.Unlock()
		return metadata, nil
	})
	if err != nil {
		return nil, err
	}
	return overlay(v.(*Metadata), cfg), nil
}

// overlay lets a static endpoint override its discovered counterpart.
func overlay(discovered *Metadata, cfg *Config) *Metadata {
	out := *discovered
	if cfg.Authorization.URL != "" {
		out.AuthorizationEndpoint = cfg.Authorization.URL
	}
	if cfg.Token.URL != "" {
		out.TokenEndpoint = cfg.Token.URL
	}
	if cfg.UserInfo.URL != "" {
		out.UserInfoEndpoint = cfg.UserInfo.URL
	}
	return &out
}

func (r *Resolver) fetch(ctx context.Context, issuer string) (*Metadata, error) {
	wellKnown := strings.TrimSuffix(issuer, "/") + "/.well-known/openid-configuration"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, wellKnown, nil)
	if err != nil {
		return nil, fmt.Errorf("building discovery request: %w", err)
	}

	resp, err := r.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch discovery document: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("discovery endpoint returned status %d: %s", resp.StatusCode, body)
	}

	var metadata Metadata
	if err := json.NewDecoder(resp.Body).Decode(&metadata); err != nil {
		return nil, fmt.Errorf("failed to decode discovery document: %w", err)
	}

	if metadata.AuthorizationEndpoint == "" || metadata.TokenEndpoint == "" {
		return nil, fmt.Errorf("discovery document missing required endpoints")
	}

	return &metadata, nil
}
