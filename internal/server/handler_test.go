package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/dgellow/authgate/internal/adapter"
	"github.com/dgellow/authgate/internal/config"
	"github.com/dgellow/authgate/internal/log"
	"github.com/dgellow/authgate/internal/provider"
)

// browser drives the handler the way a cookie-respecting client would,
// carrying Set-Cookie results into subsequent requests.
type browser struct {
	t       *testing.T
	handler http.Handler
	cookies map[string]*http.Cookie
}

func newBrowser(t *testing.T, h http.Handler) *browser {
	return &browser{t: t, handler: h, cookies: make(map[string]*http.Cookie)}
}

func (b *browser) do(method, target string, form url.Values) *httptest.ResponseRecorder {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	r := httptest.NewRequest(method, target, body)
	if form != nil {
		r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	for _, c := range b.cookies {
		r.AddCookie(c)
	}

	w := httptest.NewRecorder()
	b.handler.ServeHTTP(w, r)

	for _, c := range w.Result().Cookies() {
		if c.MaxAge < 0 {
			delete(b.cookies, c.Name)
		} else {
			b.cookies[c.Name] = c
		}
	}
	return w
}

func (b *browser) csrfToken() string {
	b.t.Helper()
	w := b.do(http.MethodGet, "http://app.test/auth/csrf", nil)
	require.Equal(b.t, http.StatusOK, w.Code)

	var payload struct {
		CSRFToken string `json:"csrfToken"`
	}
	require.NoError(b.t, json.Unmarshal(w.Body.Bytes(), &payload))
	require.NotEmpty(b.t, payload.CSRFToken)
	return payload.CSRFToken
}

func newTestHandler(t *testing.T, mutate func(*config.Options)) *Handler {
	t.Helper()
	opts := &config.Options{
		BaseURL: "http://app.test/auth",
		Secrets: []config.Secret{"test-secret"},
		Logger:  log.Discard(),
	}
	if mutate != nil {
		mutate(opts)
	}
	h, err := New(opts)
	require.NoError(t, err)
	return h
}

// fakeProvider runs an in-process token and userinfo endpoint and
// returns a provider record wired to it.
func fakeProvider(t *testing.T) *provider.Config {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "at-123",
			"token_type":   "bearer",
		})
	})
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"id": "acct-1", "email": "t@example.com", "name": "Test User"})
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return &provider.Config{
		ID:            "acme",
		Name:          "Acme",
		Type:          provider.TypeOAuth2,
		ClientID:      "client-id",
		ClientSecret:  "client-secret",
		Checks:        []provider.Check{provider.CheckState, provider.CheckPKCE},
		Authorization: provider.Endpoint{URL: "https://acme.test/authorize"},
		Token:         provider.Endpoint{URL: server.URL + "/token"},
		UserInfo:      provider.Endpoint{URL: server.URL + "/userinfo"},
		ProfileFunc: func(profile provider.Profile, _ *oauth2.Token) (*adapter.User, error) {
			id, _ := profile["id"].(string)
			name, _ := profile["name"].(string)
			email, _ := profile["email"].(string)
			return &adapter.User{ID: id, Name: name, Email: email}, nil
		},
	}
}

func credentialsProvider() *provider.Config {
	return provider.Credentials("Password", func(ctx context.Context, credentials url.Values) (*adapter.User, error) {
		if credentials.Get("email") == "t@example.com" && credentials.Get("password") == "hunter2" {
			return &adapter.User{ID: "user-1", Name: "Test User", Email: "t@example.com"}, nil
		}
		return nil, nil
	})
}

func TestCSRFEndpointIssuesTokenAndCookie(t *testing.T) {
	h := newTestHandler(t, func(o *config.Options) {
		o.Providers = []*provider.Config{credentialsProvider()}
	})
	b := newBrowser(t, h)

	token := b.csrfToken()
	c, ok := b.cookies["authgate.csrf-token"]
	require.True(t, ok, "commitment cookie must be set")
	assert.True(t, strings.HasPrefix(c.Value, token+"|"))

	// A second request with a valid cookie returns the same token and
	// does not reissue.
	assert.Equal(t, token, b.csrfToken())
}

func TestSessionEndpointEmptyWhenUnauthenticated(t *testing.T) {
	h := newTestHandler(t, func(o *config.Options) {
		o.Providers = []*provider.Config{credentialsProvider()}
	})
	b := newBrowser(t, h)

	w := b.do(http.MethodGet, "http://app.test/auth/session", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{}`, w.Body.String())
}

func TestProvidersEndpoint(t *testing.T) {
	h := newTestHandler(t, func(o *config.Options) {
		o.Providers = []*provider.Config{fakeProvider(t)}
		o.Adapter = adapter.NewMemoryAdapter()
	})
	b := newBrowser(t, h)

	w := b.do(http.MethodGet, "http://app.test/auth/providers", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var out map[string]struct {
		Name        string `json:"name"`
		Type        string `json:"type"`
		SigninURL   string `json:"signinUrl"`
		CallbackURL string `json:"callbackUrl"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	require.Contains(t, out, "acme")
	assert.Equal(t, "Acme", out["acme"].Name)
	assert.Equal(t, "oauth", out["acme"].Type)
	assert.Equal(t, "http://app.test/auth/signin/acme", out["acme"].SigninURL)
	assert.Equal(t, "http://app.test/auth/callback/acme", out["acme"].CallbackURL)
}

func TestSigninRejectsMissingCSRF(t *testing.T) {
	h := newTestHandler(t, func(o *config.Options) {
		o.Providers = []*provider.Config{credentialsProvider()}
	})
	b := newBrowser(t, h)

	w := b.do(http.MethodPost, "http://app.test/auth/signin/credentials", url.Values{"email": {"t@example.com"}})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "csrf_mismatch")
}

func TestOAuthSignInRoundTrip(t *testing.T) {
	store := adapter.NewMemoryAdapter()
	h := newTestHandler(t, func(o *config.Options) {
		o.Providers = []*provider.Config{fakeProvider(t)}
		o.Adapter = store
	})
	b := newBrowser(t, h)

	w := b.do(http.MethodPost, "http://app.test/auth/signin/acme", url.Values{
		"csrfToken":   {b.csrfToken()},
		"callbackUrl": {"/dashboard"},
	})
	require.Equal(t, http.StatusFound, w.Code)

	authURL, err := url.Parse(w.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "acme.test", authURL.Host)
	state := authURL.Query().Get("state")
	require.NotEmpty(t, state)

	w = b.do(http.MethodGet, "http://app.test/auth/callback/acme?code=abc&state="+url.QueryEscape(state), nil)
	require.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "http://app.test/dashboard", w.Header().Get("Location"))

	// Identity persisted: user row plus linked account.
	user, err := store.GetUserByAccount(context.Background(), "acme", "acct-1")
	require.NoError(t, err)
	assert.Equal(t, "t@example.com", user.Email)

	// The browser now holds a session.
	w = b.do(http.MethodGet, "http://app.test/auth/session", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var sess struct {
		User struct {
			Email string `json:"email"`
		} `json:"user"`
		Expires time.Time `json:"expires"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sess))
	assert.Equal(t, "t@example.com", sess.User.Email)
	assert.True(t, sess.Expires.After(time.Now()))
}

func TestOAuthCallbackRefusesUnlinkedEmailMatch(t *testing.T) {
	store := adapter.NewMemoryAdapter()
	_, err := store.CreateUser(context.Background(), &adapter.User{Email: "t@example.com"})
	require.NoError(t, err)

	h := newTestHandler(t, func(o *config.Options) {
		o.Providers = []*provider.Config{fakeProvider(t)}
		o.Adapter = store
	})
	b := newBrowser(t, h)

	w := b.do(http.MethodPost, "http://app.test/auth/signin/acme", url.Values{"csrfToken": {b.csrfToken()}})
	require.Equal(t, http.StatusFound, w.Code)
	authURL, err := url.Parse(w.Header().Get("Location"))
	require.NoError(t, err)
	state := authURL.Query().Get("state")

	w = b.do(http.MethodGet, "http://app.test/auth/callback/acme?code=abc&state="+url.QueryEscape(state), nil)
	require.Equal(t, http.StatusFound, w.Code)
	assert.Contains(t, w.Header().Get("Location"), "error=OAuthAccountNotLinked")

	_, err = store.GetUserByAccount(context.Background(), "acme", "acct-1")
	assert.True(t, adapter.IsNotFound(err), "no account may be linked")
}

func TestOAuthCallbackLinksWhenExplicitlyAllowed(t *testing.T) {
	store := adapter.NewMemoryAdapter()
	existing, err := store.CreateUser(context.Background(), &adapter.User{Email: "t@example.com"})
	require.NoError(t, err)

	p := fakeProvider(t)
	p.AllowDangerousEmailAccountLinking = true
	h := newTestHandler(t, func(o *config.Options) {
		o.Providers = []*provider.Config{p}
		o.Adapter = store
	})
	b := newBrowser(t, h)

	w := b.do(http.MethodPost, "http://app.test/auth/signin/acme", url.Values{"csrfToken": {b.csrfToken()}})
	require.Equal(t, http.StatusFound, w.Code)
	authURL, err := url.Parse(w.Header().Get("Location"))
	require.NoError(t, err)

	w = b.do(http.MethodGet, "http://app.test/auth/callback/acme?code=abc&state="+url.QueryEscape(authURL.Query().Get("state")), nil)
	require.Equal(t, http.StatusFound, w.Code)
	assert.NotContains(t, w.Header().Get("Location"), "error=")

	linked, err := store.GetUserByAccount(context.Background(), "acme", "acct-1")
	require.NoError(t, err)
	assert.Equal(t, existing.ID, linked.ID)
}

func TestOAuthCallbackStateMismatchRedirectsToErrorPage(t *testing.T) {
	h := newTestHandler(t, func(o *config.Options) {
		o.Providers = []*provider.Config{fakeProvider(t)}
		o.Adapter = adapter.NewMemoryAdapter()
	})
	b := newBrowser(t, h)

	w := b.do(http.MethodPost, "http://app.test/auth/signin/acme", url.Values{"csrfToken": {b.csrfToken()}})
	require.Equal(t, http.StatusFound, w.Code)

	w = b.do(http.MethodGet, "http://app.test/auth/callback/acme?code=abc&state=forged", nil)
	require.Equal(t, http.StatusFound, w.Code)
	assert.Contains(t, w.Header().Get("Location"), "/auth/error?error=OAuthCallback")
}

func TestCredentialsSignIn(t *testing.T) {
	h := newTestHandler(t, func(o *config.Options) {
		o.Providers = []*provider.Config{credentialsProvider()}
	})
	b := newBrowser(t, h)

	w := b.do(http.MethodPost, "http://app.test/auth/signin/credentials", url.Values{
		"csrfToken": {b.csrfToken()},
		"email":     {"t@example.com"},
		"password":  {"hunter2"},
	})
	require.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "http://app.test/auth", w.Header().Get("Location"))

	w = b.do(http.MethodGet, "http://app.test/auth/session", nil)
	assert.Contains(t, w.Body.String(), "t@example.com")
}

func TestCredentialsSignInRejected(t *testing.T) {
	h := newTestHandler(t, func(o *config.Options) {
		o.Providers = []*provider.Config{credentialsProvider()}
	})
	b := newBrowser(t, h)

	w := b.do(http.MethodPost, "http://app.test/auth/signin/credentials", url.Values{
		"csrfToken": {b.csrfToken()},
		"email":     {"t@example.com"},
		"password":  {"wrong"},
	})
	require.Equal(t, http.StatusFound, w.Code)
	assert.Contains(t, w.Header().Get("Location"), "error=CredentialsSignin")

	w = b.do(http.MethodGet, "http://app.test/auth/session", nil)
	assert.JSONEq(t, `{}`, w.Body.String())
}

func TestEmailSignInRoundTrip(t *testing.T) {
	var sentLink string
	store := adapter.NewMemoryAdapter()
	h := newTestHandler(t, func(o *config.Options) {
		o.Providers = []*provider.Config{
			provider.Email(func(ctx context.Context, email, link string, expires time.Time) error {
				sentLink = link
				return nil
			}),
		}
		o.Adapter = store
	})
	b := newBrowser(t, h)

	w := b.do(http.MethodPost, "http://app.test/auth/signin/email", url.Values{
		"csrfToken": {b.csrfToken()},
		"email":     {"t@example.com"},
	})
	require.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "http://app.test/auth/verify-request", w.Header().Get("Location"))
	require.NotEmpty(t, sentLink)
	assert.True(t, strings.HasPrefix(sentLink, "http://app.test/auth/callback/email?"), sentLink)
	assert.Contains(t, sentLink, "email=t%40example.com")

	w = b.do(http.MethodGet, sentLink, nil)
	require.Equal(t, http.StatusFound, w.Code)
	assert.NotContains(t, w.Header().Get("Location"), "error=")

	user, err := store.GetUserByEmail(context.Background(), "t@example.com")
	require.NoError(t, err)
	require.NotNil(t, user.EmailVerified)

	w = b.do(http.MethodGet, "http://app.test/auth/session", nil)
	assert.Contains(t, w.Body.String(), "t@example.com")

	// Magic links are single use.
	b2 := newBrowser(t, h)
	w = b2.do(http.MethodGet, sentLink, nil)
	require.Equal(t, http.StatusFound, w.Code)
	assert.Contains(t, w.Header().Get("Location"), "error=Verification")
}

func TestSignoutDestroysSession(t *testing.T) {
	h := newTestHandler(t, func(o *config.Options) {
		o.Providers = []*provider.Config{credentialsProvider()}
	})
	b := newBrowser(t, h)

	b.do(http.MethodPost, "http://app.test/auth/signin/credentials", url.Values{
		"csrfToken": {b.csrfToken()},
		"email":     {"t@example.com"},
		"password":  {"hunter2"},
	})

	w := b.do(http.MethodPost, "http://app.test/auth/signout", url.Values{"csrfToken": {b.csrfToken()}})
	require.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "http://app.test/auth", w.Header().Get("Location"))

	w = b.do(http.MethodGet, "http://app.test/auth/session", nil)
	assert.JSONEq(t, `{}`, w.Body.String())
}

func TestSignoutCallbackURLPolicy(t *testing.T) {
	h := newTestHandler(t, func(o *config.Options) {
		o.Providers = []*provider.Config{credentialsProvider()}
		o.AllowedCallbackHosts = []string{"trusted.test"}
	})

	cases := []struct {
		requested string
		want      string
	}{
		{"/dashboard", "http://app.test/dashboard"},
		{"http://app.test/home", "http://app.test/home"},
		{"https://trusted.test/after", "https://trusted.test/after"},
		{"https://evil.test/steal", "http://app.test/auth"},
		{"javascript:alert(1)", "http://app.test/auth"},
	}
	for _, tc := range cases {
		b := newBrowser(t, h)
		w := b.do(http.MethodPost, "http://app.test/auth/signout", url.Values{
			"csrfToken":   {b.csrfToken()},
			"callbackUrl": {tc.requested},
		})
		require.Equal(t, http.StatusFound, w.Code, tc.requested)
		assert.Equal(t, tc.want, w.Header().Get("Location"), tc.requested)
	}
}

func TestSigninPageListsProviders(t *testing.T) {
	h := newTestHandler(t, func(o *config.Options) {
		o.Providers = []*provider.Config{fakeProvider(t), credentialsProvider()}
		o.Adapter = adapter.NewMemoryAdapter()
		o.Session.Strategy = "jwt"
	})
	b := newBrowser(t, h)

	w := b.do(http.MethodGet, "http://app.test/auth/signin", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, "Acme")
	assert.Contains(t, body, "csrfToken")
	assert.Contains(t, body, "/auth/signin/acme")
}

func TestSigninPageDefersToCustomPage(t *testing.T) {
	h := newTestHandler(t, func(o *config.Options) {
		o.Providers = []*provider.Config{credentialsProvider()}
		o.Pages.SignIn = "https://app.test/login"
	})
	b := newBrowser(t, h)

	w := b.do(http.MethodGet, "http://app.test/auth/signin?error=AccessDenied", nil)
	require.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "https://app.test/login?error=AccessDenied", w.Header().Get("Location"))
}

func TestErrorPage(t *testing.T) {
	h := newTestHandler(t, func(o *config.Options) {
		o.Providers = []*provider.Config{credentialsProvider()}
	})
	b := newBrowser(t, h)

	w := b.do(http.MethodGet, "http://app.test/auth/error?error=OAuthAccountNotLinked", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "already associated with another sign-in method")
}

func TestClientLogEndpoint(t *testing.T) {
	h := newTestHandler(t, func(o *config.Options) {
		o.Providers = []*provider.Config{credentialsProvider()}
	})

	r := httptest.NewRequest(http.MethodPost, "http://app.test/auth/_log", strings.NewReader(`{"level":"error","message":"boom"}`))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	assert.Equal(t, http.StatusOK, w.Code)

	r = httptest.NewRequest(http.MethodPost, "http://app.test/auth/_log", strings.NewReader(`not json`))
	w = httptest.NewRecorder()
	h.ServeHTTP(w, r)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// recordingLogger captures error messages and fields for assertions.
type recordingLogger struct {
	errors []map[string]any
}

func (l *recordingLogger) Debug(string, map[string]any) {}
func (l *recordingLogger) Info(string, map[string]any)  {}
func (l *recordingLogger) Warn(string, map[string]any)  {}
func (l *recordingLogger) Error(message string, fields map[string]any) {
	l.errors = append(l.errors, fields)
}

// faultySessionStore fails session lookups so adapter diagnostics can be
// observed end to end.
type faultySessionStore struct {
	adapter.Adapter
}

func (faultySessionStore) GetSessionAndUser(ctx context.Context, sessionToken string) (*adapter.Session, *adapter.User, error) {
	return nil, nil, errors.New("backend down")
}

func TestNewDecoratesAdapterWithLogging(t *testing.T) {
	store := adapter.NewMemoryAdapter()
	h := newTestHandler(t, func(o *config.Options) {
		o.Providers = []*provider.Config{fakeProvider(t)}
		o.Adapter = store
	})

	u, ok := h.opts.Adapter.(interface{ Unwrap() adapter.Adapter })
	require.True(t, ok, "configured adapter must be decorated")
	assert.Same(t, store, u.Unwrap())
}

func TestAdapterFaultIsLoggedWithMethodName(t *testing.T) {
	logger := &recordingLogger{}
	h := newTestHandler(t, func(o *config.Options) {
		o.Providers = []*provider.Config{fakeProvider(t)}
		o.Adapter = faultySessionStore{adapter.NewMemoryAdapter()}
		o.Logger = logger
	})

	r := httptest.NewRequest(http.MethodGet, "http://app.test/auth/session", nil)
	r.AddCookie(&http.Cookie{Name: "authgate.session-token", Value: "tok"})
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	assert.JSONEq(t, `{}`, w.Body.String(), "read failures degrade to signed-out")
	require.NotEmpty(t, logger.errors)
	assert.Contains(t, logger.errors[0]["error"], "adapter GetSessionAndUser")
}

func TestVerificationStoreRequiresInnerCapability(t *testing.T) {
	bare := struct{ adapter.Adapter }{adapter.NewMemoryAdapter()}
	_, ok := verificationStore(adapter.WithLogging(bare, log.Discard()))
	assert.False(t, ok, "decorator must not advertise a capability the storage lacks")

	store, ok := verificationStore(adapter.WithLogging(adapter.NewMemoryAdapter(), log.Discard()))
	require.True(t, ok)
	require.NoError(t, store.CreateVerificationToken(context.Background(), &adapter.VerificationToken{
		Identifier: "a@example.com", Token: "hashed", Expires: time.Now().Add(time.Hour),
	}))
}

func TestNewRejectsInvalidConfiguration(t *testing.T) {
	_, err := New(&config.Options{BaseURL: "http://app.test/auth", Logger: log.Discard()})
	assert.ErrorContains(t, err, "invalid configuration")
}
