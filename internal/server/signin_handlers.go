package server

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/url"
	"time"

	"github.com/dgellow/authgate/internal/adapter"
	"github.com/dgellow/authgate/internal/autherr"
	"github.com/dgellow/authgate/internal/cookie"
	"github.com/dgellow/authgate/internal/crypto"
	jsonwriter "github.com/dgellow/authgate/internal/json"
	"github.com/dgellow/authgate/internal/provider"
)

// defaultVerificationMaxAge bounds email magic-link lifetime when the
// provider does not set one.
const defaultVerificationMaxAge = 24 * time.Hour

// signinHandler starts a sign-in through the named provider. OAuth and
// OIDC providers redirect out to the authorization endpoint; email
// providers send a magic link; credentials providers validate inline.
func (h *Handler) signinHandler(w http.ResponseWriter, r *http.Request) {
	jar := &cookie.Jar{}

	p := h.opts.Provider(r.PathValue("provider"))
	if p == nil {
		h.errorRedirect(w, r, jar, autherr.Newf(autherr.CodeConfiguration, "unknown provider %q", r.PathValue("provider")), autherr.CodeConfiguration)
		return
	}

	check, err := h.verifyCSRF(r, jar)
	if err != nil {
		h.errorRedirect(w, r, jar, err, autherr.CodeSignin)
		return
	}
	if !check.Verified {
		jar.Flush(w)
		jsonwriter.WriteError(w, http.StatusForbidden, "csrf_mismatch", "CSRF token missing or invalid")
		return
	}

	h.saveCallbackURL(r, jar)

	switch p.Type {
	case provider.TypeOAuth2, provider.TypeOIDC:
		authURL, err := h.driver.Authorize(r.Context(), p, r.URL.Query(), jar)
		if err != nil {
			h.errorRedirect(w, r, jar, err, autherr.CodeOAuthSignin)
			return
		}
		h.redirect(w, r, jar, authURL)

	case provider.TypeEmail:
		h.emailSignin(w, r, jar, p)

	case provider.TypeCredentials:
		h.credentialsSignin(w, r, jar, p)

	default:
		h.errorRedirect(w, r, jar, autherr.Newf(autherr.CodeConfiguration, "provider %q cannot start a sign-in", p.ID), autherr.CodeConfiguration)
	}
}

// emailSignin issues a single-use verification token, hands the magic
// link to the provider's sender, and parks the browser on the
// verify-request page.
func (h *Handler) emailSignin(w http.ResponseWriter, r *http.Request, jar *cookie.Jar, p *provider.Config) {
	email := r.PostFormValue("email")
	if email == "" {
		h.errorRedirect(w, r, jar, autherr.Newf(autherr.CodeEmailSignin, "email sign-in without an email address"), autherr.CodeEmailSignin)
		return
	}

	store, ok := verificationStore(h.opts.Adapter)
	if !ok {
		h.errorRedirect(w, r, jar, autherr.Newf(autherr.CodeConfiguration, "adapter cannot store verification tokens"), autherr.CodeConfiguration)
		return
	}

	token, err := crypto.GenerateSecureToken()
	if err != nil {
		h.errorRedirect(w, r, jar, autherr.New(autherr.CodeEmailSignin, err), autherr.CodeEmailSignin)
		return
	}

	maxAge := p.TokenMaxAge
	if maxAge <= 0 {
		maxAge = defaultVerificationMaxAge
	}
	expires := time.Now().Add(maxAge)

	// Only the hash is stored, so a storage leak does not leak usable
	// links.
	record := &adapter.VerificationToken{
		Identifier: email,
		Token:      h.hashVerificationToken(token),
		Expires:    expires,
	}
	if err := store.CreateVerificationToken(r.Context(), record); err != nil {
		h.errorRedirect(w, r, jar, autherr.New(autherr.CodeEmailSignin, err), autherr.CodeEmailSignin)
		return
	}

	query := url.Values{}
	query.Set("token", token)
	query.Set("email", email)
	link := h.opts.BaseURL + "/callback/" + p.ID + "?" + query.Encode()
	if err := p.SendVerification(r.Context(), email, link, expires); err != nil {
		h.errorRedirect(w, r, jar, autherr.New(autherr.CodeEmailSignin, err), autherr.CodeEmailSignin)
		return
	}

	h.redirect(w, r, jar, h.pageURL(h.opts.Pages.VerifyRequest, "/verify-request"))
}

// credentialsSignin validates submitted credentials and mints a session
// on success. Failures surface as CredentialsSignin with no detail.
func (h *Handler) credentialsSignin(w http.ResponseWriter, r *http.Request, jar *cookie.Jar, p *provider.Config) {
	if err := r.ParseForm(); err != nil {
		h.errorRedirect(w, r, jar, autherr.New(autherr.CodeCredentialsSignin, err), autherr.CodeCredentialsSignin)
		return
	}

	user, err := p.Authorize(r.Context(), r.PostForm)
	if err != nil || user == nil {
		h.errorRedirect(w, r, jar, autherr.Newf(autherr.CodeCredentialsSignin, "credentials rejected for provider %q", p.ID), autherr.CodeCredentialsSignin)
		return
	}

	if err := h.sessions.Create(r.Context(), user, r, jar); err != nil {
		h.errorRedirect(w, r, jar, autherr.New(autherr.CodeSignin, err), autherr.CodeSignin)
		return
	}
	h.redirect(w, r, jar, h.resolveCallbackURL(r, jar))
}

// hashVerificationToken commits a magic-link token to the newest secret
// before storage.
func (h *Handler) hashVerificationToken(token string) string {
	sum := sha256.Sum256([]byte(token + string(h.opts.Secrets[0])))
	return hex.EncodeToString(sum[:])
}
