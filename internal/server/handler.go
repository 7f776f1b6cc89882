// Package server wires the authentication pipeline into HTTP. One
// Handler serves every auth action under the configured base path;
// deployments mount it on their own mux or run the standalone
// HTTPServer.
package server

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/dgellow/authgate/internal/adapter"
	"github.com/dgellow/authgate/internal/autherr"
	"github.com/dgellow/authgate/internal/checks"
	"github.com/dgellow/authgate/internal/config"
	"github.com/dgellow/authgate/internal/cookie"
	"github.com/dgellow/authgate/internal/crypto"
	"github.com/dgellow/authgate/internal/flow"
	"github.com/dgellow/authgate/internal/log"
	"github.com/dgellow/authgate/internal/provider"
	"github.com/dgellow/authgate/internal/session"
)

// Handler serves the authentication actions.
type Handler struct {
	opts     *config.Options
	csrf     crypto.CSRFProtection
	checks   *checks.Engine
	driver   *flow.Driver
	sessions *session.Manager
	logger   log.Logger
	mux      *http.ServeMux
}

// New normalizes and validates opts and builds the handler.
func New(opts *config.Options) (*Handler, error) {
	if err := opts.Normalize(); err != nil {
		return nil, err
	}
	if result := config.Validate(opts); !result.IsValid() {
		messages := make([]string, len(result.Errors))
		for i, e := range result.Errors {
			messages[i] = e.Path + ": " + e.Message
		}
		return nil, fmt.Errorf("invalid configuration: %s", strings.Join(messages, "; "))
	}

	// Every storage call made on behalf of a request goes through the
	// logging decorator, so adapter faults carry the offending method.
	if opts.Adapter != nil {
		opts.Adapter = adapter.WithLogging(opts.Adapter, opts.Logger)
	}

	secrets := opts.SecretStrings()
	engine := &checks.Engine{
		Secrets: secrets,
		Cookies: *opts.Cookies,
		MaxAge:  opts.CheckMaxAge,
	}

	h := &Handler{
		opts:   opts,
		csrf:   crypto.NewCSRFProtection(secrets[0]),
		checks: engine,
		driver: &flow.Driver{
			Checks:   engine,
			Resolver: provider.NewResolver(),
			BaseURL:  opts.BaseURL,
			Logger:   opts.Logger,
		},
		sessions: &session.Manager{
			Strategy:  opts.Session.Strategy,
			MaxAge:    opts.Session.MaxAge,
			UpdateAge: opts.Session.UpdateAge,
			Secrets:   secrets,
			Cookies:   *opts.Cookies,
			Adapter:   opts.Adapter,
			Logger:    opts.Logger,
		},
		logger: opts.Logger,
	}
	h.routes()
	return h, nil
}

func (h *Handler) routes() {
	base := h.opts.BasePath()
	mux := http.NewServeMux()

	mux.HandleFunc("GET "+base+"/providers", h.providersHandler)
	mux.HandleFunc("GET "+base+"/session", h.sessionHandler)
	mux.HandleFunc("GET "+base+"/csrf", h.csrfHandler)
	mux.HandleFunc("GET "+base+"/signin", h.signinPageHandler)
	mux.HandleFunc("POST "+base+"/signin/{provider}", h.signinHandler)
	mux.HandleFunc("GET "+base+"/signout", h.signoutPageHandler)
	mux.HandleFunc("POST "+base+"/signout", h.signoutHandler)
	mux.HandleFunc("GET "+base+"/callback/{provider}", h.callbackHandler)
	mux.HandleFunc("POST "+base+"/callback/{provider}", h.postCallbackHandler)
	mux.HandleFunc("GET "+base+"/verify-request", h.verifyRequestHandler)
	mux.HandleFunc("GET "+base+"/error", h.errorPageHandler)
	mux.HandleFunc("POST "+base+"/_log", h.clientLogHandler)

	h.mux = mux
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// redirect flushes the cookie jar and issues the 302 every action ends
// with.
func (h *Handler) redirect(w http.ResponseWriter, r *http.Request, jar *cookie.Jar, target string) {
	jar.Flush(w)
	http.Redirect(w, r, target, http.StatusFound)
}

// errorRedirect logs the full cause server-side and redirects the
// browser to the error page carrying only the coarse category.
func (h *Handler) errorRedirect(w http.ResponseWriter, r *http.Request, jar *cookie.Jar, err error, fallback autherr.Code) {
	code := autherr.CodeOf(err, fallback)
	h.logger.Error("auth action failed", map[string]any{
		"path":  r.URL.Path,
		"code":  string(code),
		"error": err.Error(),
	})

	target := h.opts.Pages.Error
	if target == "" {
		target = h.opts.BaseURL + "/error"
	}
	h.redirect(w, r, jar, target+"?error="+url.QueryEscape(string(code)))
}

// pageURL returns the custom page URL if configured, the built-in one
// otherwise.
func (h *Handler) pageURL(custom, builtin string) string {
	if custom != "" {
		return custom
	}
	return h.opts.BaseURL + builtin
}

// verifyCSRF runs the double-submit check for a state-changing request
// and schedules a fresh commitment cookie when needed. The submitted
// token comes from the form body or the X-Auth-CSRF-Token header.
func (h *Handler) verifyCSRF(r *http.Request, jar *cookie.Jar) (crypto.CSRFCheck, error) {
	name := h.opts.Cookies.CSRFToken
	cookieValue := ""
	if c, err := r.Cookie(name.Name); err == nil {
		cookieValue = c.Value
	}

	submitted := r.PostFormValue("csrfToken")
	if submitted == "" {
		submitted = r.Header.Get("X-Auth-CSRF-Token")
	}

	check, err := h.csrf.Check(cookieValue, r.Method == http.MethodPost, submitted)
	if err != nil {
		return check, err
	}
	if check.CookieValue != "" {
		jar.Add(cookie.New(name.Name, check.CookieValue, name.Options))
	}
	return check, nil
}

// saveCallbackURL sanitizes the requested post-sign-in target and pins
// it in the callback-url cookie for the callback leg.
func (h *Handler) saveCallbackURL(r *http.Request, jar *cookie.Jar) {
	requested := r.FormValue("callbackUrl")
	if requested == "" {
		return
	}
	name := h.opts.Cookies.CallbackURL
	jar.Add(cookie.New(name.Name, h.sanitizeCallbackURL(requested), name.Options))
}

// resolveCallbackURL returns the post-sign-in redirect target: the
// pinned cookie value if present, the base URL otherwise. The cookie is
// consumed.
func (h *Handler) resolveCallbackURL(r *http.Request, jar *cookie.Jar) string {
	name := h.opts.Cookies.CallbackURL
	c, err := r.Cookie(name.Name)
	if err != nil || c.Value == "" {
		return h.opts.BaseURL
	}
	jar.Delete(name.Name, name.Options)
	return h.sanitizeCallbackURL(c.Value)
}

// sanitizeCallbackURL enforces the open-redirect policy: relative paths
// resolve against the deployment, absolute URLs must point at the
// deployment host or an explicitly allowed one. Anything else collapses
// to the base URL.
func (h *Handler) sanitizeCallbackURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return h.opts.BaseURL
	}

	if !u.IsAbs() {
		if !strings.HasPrefix(u.Path, "/") {
			return h.opts.BaseURL
		}
		scheme := "http"
		if h.opts.Secure() {
			scheme = "https"
		}
		return scheme + "://" + h.opts.Host() + u.String()
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return h.opts.BaseURL
	}
	if u.Host == h.opts.Host() {
		return u.String()
	}
	for _, allowed := range h.opts.AllowedCallbackHosts {
		if u.Host == allowed {
			return u.String()
		}
	}
	return h.opts.BaseURL
}
