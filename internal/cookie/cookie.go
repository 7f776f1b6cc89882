package cookie

import (
	"net/http"
	"time"
)

// Option holds the attributes applied to a cookie when it is written.
type Option struct {
	Path     string
	Domain   string
	Secure   bool
	HTTPOnly bool
	SameSite http.SameSite
	// MaxAge in seconds. Zero means session cookie, negative deletes.
	MaxAge  int
	Expires time.Time
}

// NameOption pairs a cookie name with the attributes it is always
// written with.
type NameOption struct {
	Name    string
	Options Option
}

// Names enumerates every cookie the handler may set. Defaults follow
// browser prefix conventions: __Secure- under HTTPS, and the stricter
// __Host- for the CSRF cookie since it must never be scoped to a domain.
type Names struct {
	SessionToken NameOption
	CallbackURL  NameOption
	CSRFToken    NameOption
	PKCEVerifier NameOption
	State        NameOption
	Nonce        NameOption
	Challenge    NameOption
}

// DefaultNames returns the default cookie configuration. secure should be
// true when the deployment is served over HTTPS.
func DefaultNames(secure bool) Names {
	securePrefix := ""
	hostPrefix := ""
	if secure {
		securePrefix = "__Secure-"
		hostPrefix = "__Host-"
	}

	lax := Option{
		Path:     "/",
		HTTPOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   secure,
	}

	return Names{
		SessionToken: NameOption{Name: securePrefix + "authgate.session-token", Options: lax},
		CallbackURL:  NameOption{Name: securePrefix + "authgate.callback-url", Options: lax},
		CSRFToken:    NameOption{Name: hostPrefix + "authgate.csrf-token", Options: lax},
		PKCEVerifier: NameOption{Name: securePrefix + "authgate.pkce.code_verifier", Options: lax},
		State:        NameOption{Name: securePrefix + "authgate.state", Options: lax},
		Nonce:        NameOption{Name: securePrefix + "authgate.nonce", Options: lax},
		Challenge:    NameOption{Name: securePrefix + "authgate.challenge", Options: lax},
	}
}

// New builds an http.Cookie from a name, value, and options.
func New(name, value string, opt Option) *http.Cookie {
	c := &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     opt.Path,
		Domain:   opt.Domain,
		Secure:   opt.Secure,
		HttpOnly: opt.HTTPOnly,
		SameSite: opt.SameSite,
		MaxAge:   opt.MaxAge,
		Expires:  opt.Expires,
	}
	if opt.MaxAge > 0 && opt.Expires.IsZero() {
		c.Expires = time.Now().Add(time.Duration(opt.MaxAge) * time.Second)
	}
	return c
}

// Deletion builds a cookie that instructs the browser to drop name.
func Deletion(name string, opt Option) *http.Cookie {
	opt.MaxAge = -1
	opt.Expires = time.Unix(0, 0)
	return New(name, "", opt)
}

// Jar collects the Set-Cookie values produced while processing one
// request. It preserves insertion order and is always flushed to the
// response, including on error paths, so invalid cookies get cleared.
type Jar struct {
	cookies []*http.Cookie
}

// Add appends cookies to the jar. A later cookie with the same name
// replaces the earlier entry so a flow can change its mind mid-request.
func (j *Jar) Add(cookies ...*http.Cookie) {
	for _, c := range cookies {
		replaced := false
		for i, existing := range j.cookies {
			if existing.Name == c.Name {
				j.cookies[i] = c
				replaced = true
				break
			}
		}
		if !replaced {
			j.cookies = append(j.cookies, c)
		}
	}
}

// Delete schedules the removal of a cookie.
func (j *Jar) Delete(name string, opt Option) {
	j.Add(Deletion(name, opt))
}

// Cookies returns the collected cookies in insertion order.
func (j *Jar) Cookies() []*http.Cookie {
	return j.cookies
}

// Flush writes every collected cookie to the response.
func (j *Jar) Flush(w http.ResponseWriter) {
	for _, c := range j.cookies {
		http.SetCookie(w, c)
	}
}
