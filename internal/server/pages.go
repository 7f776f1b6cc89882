package server

import (
	"net/http"

	"github.com/dgellow/authgate/internal/autherr"
	"github.com/dgellow/authgate/internal/cookie"
)

// signinPageData feeds the built-in sign-in page template.
type signinPageData struct {
	Providers   []signinProviderData
	CSRFToken   string
	CallbackURL string
	Error       string
}

type signinProviderData struct {
	ID        string
	Name      string
	Type      string
	SigninURL string
}

// signinPageHandler renders the built-in provider chooser, or defers to
// the configured custom page.
func (h *Handler) signinPageHandler(w http.ResponseWriter, r *http.Request) {
	if h.opts.Pages.SignIn != "" {
		target := h.opts.Pages.SignIn
		if r.URL.RawQuery != "" {
			target += "?" + r.URL.RawQuery
		}
		http.Redirect(w, r, target, http.StatusFound)
		return
	}

	jar := &cookie.Jar{}
	check, err := h.verifyCSRF(r, jar)
	if err != nil {
		h.errorRedirect(w, r, jar, err, autherr.CodeConfiguration)
		return
	}

	data := signinPageData{
		CSRFToken:   check.Token,
		CallbackURL: r.URL.Query().Get("callbackUrl"),
		Error:       errorMessage(autherr.Code(r.URL.Query().Get("error"))),
	}
	for _, p := range h.opts.Providers {
		data.Providers = append(data.Providers, signinProviderData{
			ID:        p.ID,
			Name:      p.Name,
			Type:      string(p.Type),
			SigninURL: h.opts.BaseURL + "/signin/" + p.ID,
		})
	}

	jar.Flush(w)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := signinPageTemplate.Execute(w, data); err != nil {
		h.logger.Error("rendering sign-in page", map[string]any{"error": err.Error()})
	}
}

// signoutPageData feeds the built-in sign-out confirmation page.
type signoutPageData struct {
	CSRFToken  string
	SignoutURL string
}

func (h *Handler) signoutPageHandler(w http.ResponseWriter, r *http.Request) {
	if h.opts.Pages.SignOut != "" {
		http.Redirect(w, r, h.opts.Pages.SignOut, http.StatusFound)
		return
	}

	jar := &cookie.Jar{}
	check, err := h.verifyCSRF(r, jar)
	if err != nil {
		h.errorRedirect(w, r, jar, err, autherr.CodeConfiguration)
		return
	}

	jar.Flush(w)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	data := signoutPageData{CSRFToken: check.Token, SignoutURL: h.opts.BaseURL + "/signout"}
	if err := signoutPageTemplate.Execute(w, data); err != nil {
		h.logger.Error("rendering sign-out page", map[string]any{"error": err.Error()})
	}
}

func (h *Handler) verifyRequestHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := verifyRequestPageTemplate.Execute(w, nil); err != nil {
		h.logger.Error("rendering verify-request page", map[string]any{"error": err.Error()})
	}
}

// errorPageData feeds the built-in error page.
type errorPageData struct {
	Code      string
	Message   string
	SigninURL string
}

func (h *Handler) errorPageHandler(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("error")
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	data := errorPageData{
		Code:      code,
		Message:   errorMessage(autherr.Code(code)),
		SigninURL: h.opts.BaseURL + "/signin",
	}
	if err := errorPageTemplate.Execute(w, data); err != nil {
		h.logger.Error("rendering error page", map[string]any{"error": err.Error()})
	}
}

// errorMessage maps a public error category to the sentence shown on
// the built-in pages. Unknown or empty codes produce no message.
func errorMessage(code autherr.Code) string {
	switch code {
	case "":
		return ""
	case autherr.CodeAccessDenied:
		return "Access was denied."
	case autherr.CodeOAuthAccountNotLinked:
		return "This email is already associated with another sign-in method."
	case autherr.CodeVerification:
		return "The sign-in link is no longer valid. It may have been used already or it may have expired."
	case autherr.CodeCredentialsSignin:
		return "Sign in failed. Check the details you provided are correct."
	case autherr.CodeSessionRequired:
		return "Please sign in to access this page."
	case autherr.CodeConfiguration:
		return "There is a problem with the server configuration."
	default:
		return "Something went wrong while signing you in. Try again."
	}
}
