package server

import (
	"context"
	"net/http"
	"time"

	"github.com/dgellow/authgate/internal/adapter"
	"github.com/dgellow/authgate/internal/autherr"
	"github.com/dgellow/authgate/internal/cookie"
	"github.com/dgellow/authgate/internal/provider"
)

// callbackHandler completes a sign-in on the provider's redirect back.
func (h *Handler) callbackHandler(w http.ResponseWriter, r *http.Request) {
	jar := &cookie.Jar{}

	p := h.opts.Provider(r.PathValue("provider"))
	if p == nil {
		h.errorRedirect(w, r, jar, autherr.Newf(autherr.CodeConfiguration, "callback for unknown provider %q", r.PathValue("provider")), autherr.CodeConfiguration)
		return
	}

	switch p.Type {
	case provider.TypeOAuth2, provider.TypeOIDC:
		h.oauthCallback(w, r, jar, p)
	case provider.TypeEmail:
		h.emailCallback(w, r, jar, p)
	default:
		h.errorRedirect(w, r, jar, autherr.Newf(autherr.CodeCallback, "provider %q has no GET callback", p.ID), autherr.CodeCallback)
	}
}

// postCallbackHandler serves the form-post callbacks: credentials
// sign-ins, and providers that return the authorization response via
// response_mode=form_post.
func (h *Handler) postCallbackHandler(w http.ResponseWriter, r *http.Request) {
	jar := &cookie.Jar{}

	p := h.opts.Provider(r.PathValue("provider"))
	if p == nil {
		h.errorRedirect(w, r, jar, autherr.Newf(autherr.CodeConfiguration, "callback for unknown provider %q", r.PathValue("provider")), autherr.CodeConfiguration)
		return
	}

	switch p.Type {
	case provider.TypeCredentials:
		check, err := h.verifyCSRF(r, jar)
		if err != nil || !check.Verified {
			jar.Flush(w)
			w.WriteHeader(http.StatusForbidden)
			return
		}
		h.saveCallbackURL(r, jar)
		h.credentialsSignin(w, r, jar, p)

	case provider.TypeOAuth2, provider.TypeOIDC:
		// form_post responses carry code/state in the body; fold them
		// into the query so the shared path applies.
		if err := r.ParseForm(); err == nil && r.URL.RawQuery == "" {
			r.URL.RawQuery = r.PostForm.Encode()
		}
		h.oauthCallback(w, r, jar, p)

	default:
		h.errorRedirect(w, r, jar, autherr.Newf(autherr.CodeCallback, "provider %q has no POST callback", p.ID), autherr.CodeCallback)
	}
}

func (h *Handler) oauthCallback(w http.ResponseWriter, r *http.Request, jar *cookie.Jar, p *provider.Config) {
	outcome, err := h.driver.HandleCallback(r.Context(), p, r, jar)
	if err != nil {
		h.errorRedirect(w, r, jar, err, autherr.CodeOAuthCallback)
		return
	}

	user, err := h.persistSignIn(r.Context(), p, outcome.User, outcome.Account)
	if err != nil {
		h.errorRedirect(w, r, jar, err, autherr.CodeOAuthCallback)
		return
	}

	if err := h.sessions.Create(r.Context(), user, r, jar); err != nil {
		h.errorRedirect(w, r, jar, autherr.New(autherr.CodeOAuthCallback, err), autherr.CodeOAuthCallback)
		return
	}

	target := h.resolveCallbackURL(r, jar)
	if outcome.Origin != "" {
		target = h.sanitizeCallbackURL(outcome.Origin)
	}
	h.redirect(w, r, jar, target)
}

// persistSignIn reconciles the provider identity with stored users and
// accounts. Without an adapter the provider profile is the user. With
// one, the account row is the source of truth; a matching email alone
// is not enough to sign in to an existing user unless the provider
// explicitly allows that linking.
func (h *Handler) persistSignIn(ctx context.Context, p *provider.Config, profileUser *adapter.User, account *adapter.Account) (*adapter.User, error) {
	if h.opts.Adapter == nil {
		return profileUser, nil
	}

	existing, err := h.opts.Adapter.GetUserByAccount(ctx, account.Provider, account.ProviderAccountID)
	if err == nil {
		return existing, nil
	}
	if !adapter.IsNotFound(err) {
		return nil, autherr.New(autherr.CodeOAuthCallback, err)
	}

	// No account row yet. Look for a user with the same email before
	// creating a fresh one.
	var user *adapter.User
	if profileUser.Email != "" {
		byEmail, err := h.opts.Adapter.GetUserByEmail(ctx, profileUser.Email)
		switch {
		case err == nil:
			if !p.AllowDangerousEmailAccountLinking {
				return nil, autherr.Newf(autherr.CodeOAuthAccountNotLinked,
					"user %s exists but has no %s account", profileUser.Email, p.ID)
			}
			user = byEmail
		case !adapter.IsNotFound(err):
			return nil, autherr.New(autherr.CodeOAuthCallback, err)
		}
	}

	if user == nil {
		created, err := h.opts.Adapter.CreateUser(ctx, &adapter.User{
			Name:  profileUser.Name,
			Email: profileUser.Email,
			Image: profileUser.Image,
		})
		if err != nil {
			return nil, autherr.New(autherr.CodeOAuthCallback, err)
		}
		user = created
	}

	account.UserID = user.ID
	if err := h.opts.Adapter.LinkAccount(ctx, account); err != nil {
		return nil, autherr.New(autherr.CodeOAuthCallback, err)
	}
	return user, nil
}

// emailCallback consumes a magic-link token and signs the identified
// address in. The token row is deleted on first use whether or not the
// comparison succeeds.
func (h *Handler) emailCallback(w http.ResponseWriter, r *http.Request, jar *cookie.Jar, p *provider.Config) {
	query := r.URL.Query()
	token := query.Get("token")
	email := query.Get("email")
	if token == "" || email == "" {
		h.errorRedirect(w, r, jar, autherr.Newf(autherr.CodeVerification, "magic link missing token or email"), autherr.CodeVerification)
		return
	}

	store, ok := verificationStore(h.opts.Adapter)
	if !ok {
		h.errorRedirect(w, r, jar, autherr.Newf(autherr.CodeConfiguration, "adapter cannot store verification tokens"), autherr.CodeConfiguration)
		return
	}

	record, err := store.UseVerificationToken(r.Context(), email, h.hashVerificationToken(token))
	if err != nil {
		h.errorRedirect(w, r, jar, autherr.New(autherr.CodeVerification, err), autherr.CodeVerification)
		return
	}
	if record.Expires.Before(time.Now()) {
		h.errorRedirect(w, r, jar, autherr.Newf(autherr.CodeVerification, "magic link for %s expired", email), autherr.CodeVerification)
		return
	}

	user, err := h.opts.Adapter.GetUserByEmail(r.Context(), email)
	if adapter.IsNotFound(err) {
		now := time.Now()
		user, err = h.opts.Adapter.CreateUser(r.Context(), &adapter.User{
			Email:         email,
			EmailVerified: &now,
		})
	}
	if err != nil {
		h.errorRedirect(w, r, jar, autherr.New(autherr.CodeVerification, err), autherr.CodeVerification)
		return
	}

	if user.EmailVerified == nil {
		now := time.Now()
		user.EmailVerified = &now
		if user, err = h.opts.Adapter.UpdateUser(r.Context(), user); err != nil {
			h.errorRedirect(w, r, jar, autherr.New(autherr.CodeVerification, err), autherr.CodeVerification)
			return
		}
	}

	if err := h.sessions.Create(r.Context(), user, r, jar); err != nil {
		h.errorRedirect(w, r, jar, autherr.New(autherr.CodeSignin, err), autherr.CodeSignin)
		return
	}
	h.redirect(w, r, jar, h.resolveCallbackURL(r, jar))
}

// verificationStore returns the verification-token capability of the
// adapter. The innermost adapter decides whether the capability exists;
// decorators stay in the returned store so their logging still applies.
func verificationStore(a adapter.Adapter) (adapter.VerificationTokenStore, bool) {
	if a == nil || !adapter.SupportsVerificationTokens(a) {
		return nil, false
	}
	for a != nil {
		if store, ok := a.(adapter.VerificationTokenStore); ok {
			return store, true
		}
		u, ok := a.(interface{ Unwrap() adapter.Adapter })
		if !ok {
			return nil, false
		}
		a = u.Unwrap()
	}
	return nil, false
}
