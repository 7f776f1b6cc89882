package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discoveryServer(t *testing.T, hits *atomic.Int64) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/.well-known/openid-configuration" {
			http.NotFound(w, r)
			return
		}
		if hits != nil {
			hits.Add(1)
		}
		base := "http://" + r.Host
		fmt.Fprintf(w, `{
			"issuer": %q,
			"authorization_endpoint": %q,
			"token_endpoint": %q,
			"userinfo_endpoint": %q
		}`, base, base+"/authorize", base+"/token", base+"/userinfo")
	}))
	t.Cleanup(server.Close)
	return server
}

func TestResolveStaticEndpointsSkipDiscovery(t *testing.T) {
	r := NewResolver()
	r.HTTPClient = nil // any network access would panic

	metadata, err := r.Resolve(context.Background(), &Config{
		ID:            "static",
		Authorization: Endpoint{URL: "https://static.test/authorize"},
		Token:         Endpoint{URL: "https://static.test/token"},
		UserInfo:      Endpoint{URL: "https://static.test/userinfo"},
	})
	require.NoError(t, err)
	assert.Equal(t, "https://static.test/authorize", metadata.AuthorizationEndpoint)
	assert.Equal(t, "https://static.test/token", metadata.TokenEndpoint)
	assert.Equal(t, "https://static.test/userinfo", metadata.UserInfoEndpoint)
}

func TestResolveFetchesAndCaches(t *testing.T) {
	var hits atomic.Int64
	server := discoveryServer(t, &hits)

	r := NewResolver()
	cfg := &Config{ID: "acme", Issuer: server.URL}

	metadata, err := r.Resolve(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, server.URL+"/authorize", metadata.AuthorizationEndpoint)
	assert.Equal(t, server.URL+"/token", metadata.TokenEndpoint)

	_, err = r.Resolve(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, int64(1), hits.Load(), "second resolve must hit the cache")
}

func TestResolveOverlaysStaticEndpoint(t *testing.T) {
	server := discoveryServer(t, nil)

	r := NewResolver()
	metadata, err := r.Resolve(context.Background(), &Config{
		ID:       "acme",
		Issuer:   server.URL,
		UserInfo: Endpoint{URL: "https://override.test/userinfo"},
	})
	require.NoError(t, err)
	assert.Equal(t, server.URL+"/token", metadata.TokenEndpoint)
	assert.Equal(t, "https://override.test/userinfo", metadata.UserInfoEndpoint)
}

func TestResolveWithoutIssuerFails(t *testing.T) {
	r := NewResolver()
	_, err := r.Resolve(context.Background(), &Config{ID: "broken"})
	assert.Error(t, err)
}

func TestResolveRejectsIncompleteDocument(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"issuer": "x"}`)
	}))
	defer server.Close()

	r := NewResolver()
	_, err := r.Resolve(context.Background(), &Config{ID: "acme", Issuer: server.URL})
	assert.ErrorContains(t, err, "missing required endpoints")
}

func TestResolveSurfacesHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer server.Close()

	r := NewResolver()
	_, err := r.Resolve(context.Background(), &Config{ID: "acme", Issuer: server.URL})
	assert.ErrorContains(t, err, "status 500")
}
