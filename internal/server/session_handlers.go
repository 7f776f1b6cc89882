package server

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/dgellow/authgate/internal/cookie"
	jsonwriter "github.com/dgellow/authgate/internal/json"
)

// sessionResponse is the wire shape of GET /session.
type sessionResponse struct {
	User    sessionUser `json:"user"`
	Expires time.Time   `json:"expires"`
}

type sessionUser struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	Image string `json:"image,omitempty"`
}

// sessionHandler returns the current session, or an empty object when
// the request is unauthenticated. Read failures degrade to the empty
// object; the cause is only logged.
func (h *Handler) sessionHandler(w http.ResponseWriter, r *http.Request) {
	jar := &cookie.Jar{}

	sess, err := h.sessions.Read(r.Context(), r, jar)
	jar.Flush(w)
	if err != nil || sess == nil {
		_ = jsonwriter.Write(w, map[string]any{})
		return
	}

	_ = jsonwriter.Write(w, sessionResponse{
		User: sessionUser{
			Name:  sess.User.Name,
			Email: sess.User.Email,
			Image: sess.User.Image,
		},
		Expires: sess.Expires,
	})
}

// csrfHandler issues or re-confirms the CSRF commitment and returns the
// token the client must echo on POSTs.
func (h *Handler) csrfHandler(w http.ResponseWriter, r *http.Request) {
	jar := &cookie.Jar{}

	check, err := h.verifyCSRF(r, jar)
	if err != nil {
		jar.Flush(w)
		jsonwriter.WriteInternalServerError(w, "failed to issue CSRF token")
		return
	}

	jar.Flush(w)
	_ = jsonwriter.Write(w, map[string]string{"csrfToken": check.Token})
}

// providerInfo is the wire shape of one GET /providers entry.
type providerInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Type        string `json:"type"`
	SigninURL   string `json:"signinUrl"`
	CallbackURL string `json:"callbackUrl"`
}

// providersHandler lists the configured providers with their action
// URLs. Secrets never appear here.
func (h *Handler) providersHandler(w http.ResponseWriter, r *http.Request) {
	out := make(map[string]providerInfo, len(h.opts.Providers))
	for _, p := range h.opts.Providers {
		out[p.ID] = providerInfo{
			ID:          p.ID,
			Name:        p.Name,
			Type:        string(p.Type),
			SigninURL:   h.opts.BaseURL + "/signin/" + p.ID,
			CallbackURL: h.opts.BaseURL + "/callback/" + p.ID,
		}
	}
	_ = jsonwriter.Write(w, out)
}

// signoutHandler destroys the session and redirects. The cookie is
// cleared even when the storage deletion fails.
func (h *Handler) signoutHandler(w http.ResponseWriter, r *http.Request) {
	jar := &cookie.Jar{}

	check, err := h.verifyCSRF(r, jar)
	if err != nil || !check.Verified {
		jar.Flush(w)
		jsonwriter.WriteError(w, http.StatusForbidden, "csrf_mismatch", "CSRF token missing or invalid")
		return
	}

	h.sessions.Destroy(r.Context(), r, jar)

	target := h.opts.BaseURL
	if requested := r.FormValue("callbackUrl"); requested != "" {
		target = h.sanitizeCallbackURL(requested)
	}
	h.redirect(w, r, jar, target)
}

// clientLogEntry is one browser-side log line forwarded to the server
// log.
type clientLogEntry struct {
	Level   string         `json:"level"`
	Message string         `json:"message"`
	Fields  map[string]any `json:"fields,omitempty"`
}

// clientLogHandler accepts log lines from browser-side code so client
// failures land next to server ones. Bodies are bounded; malformed
// entries are dropped with a 400.
func (h *Handler) clientLogHandler(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 4096))
	if err != nil {
		jsonwriter.WriteBadRequest(w, "unreadable body")
		return
	}

	var entry clientLogEntry
	if err := json.Unmarshal(body, &entry); err != nil || entry.Message == "" {
		jsonwriter.WriteBadRequest(w, "expected {level, message}")
		return
	}

	fields := map[string]any{"source": "client"}
	for k, v := range entry.Fields {
		fields[k] = v
	}
	switch entry.Level {
	case "error":
		h.logger.Error(entry.Message, fields)
	case "warn":
		h.logger.Warn(entry.Message, fields)
	default:
		h.logger.Debug(entry.Message, fields)
	}

	w.WriteHeader(http.StatusOK)
}
