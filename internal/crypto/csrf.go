package crypto

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"
)

// CSRFProtection implements the double-submit cookie pattern. The cookie
// stores "token|hash" where hash commits the token to the server secret,
// so an attacker able to plant cookies cannot forge a pair that the
// server would accept.
type CSRFProtection struct {
	secret string
}

// NewCSRFProtection creates a new CSRF protection instance. The secret is
// the newest application secret; older secrets are deliberately not tried
// because a stale cookie is simply reissued.
func NewCSRFProtection(secret string) CSRFProtection {
	return CSRFProtection{secret: secret}
}

// CSRFCheck is the outcome of inspecting one request's CSRF material.
type CSRFCheck struct {
	// Token is the value the client must submit on state-changing requests.
	Token string

	// CookieValue is the "token|hash" pair to set, empty when the
	// incoming cookie was already valid.
	CookieValue string

	// Verified reports that this request proved possession of the token
	// and may perform state-changing work.
	Verified bool
}

// Check validates or (re)issues the CSRF commitment for a request.
// cookieValue is the raw value of the CSRF cookie, empty if absent.
// submitted is the token from the request body or header, empty if absent.
func (c CSRFProtection) Check(cookieValue string, isPost bool, submitted string) (CSRFCheck, error) {
	if cookieValue != "" {
		token, hash, ok := strings.Cut(cookieValue, "|")
		if ok && validHash(token, hash, c.secret) {
			return CSRFCheck{
				Token:    token,
				Verified: isPost && submitted != "" && subtle.ConstantTimeCompare([]byte(submitted), []byte(token)) == 1,
			}, nil
		}
		// Tampered or minted under a rotated-out secret: fall through
		// and issue a fresh commitment.
	}

	token, err := GenerateSecureToken()
	if err != nil {
		return CSRFCheck{}, fmt.Errorf("failed to generate CSRF token: %w", err)
	}

	return CSRFCheck{
		Token:       token,
		CookieValue: token + "|" + hashToken(token, c.secret),
		// A request that arrived without a valid commitment can never be
		// verified, even if it carried a matching body token.
		Verified: false,
	}, nil
}

func hashToken(token, secret string) string {
	sum := sha256.Sum256([]byte(token + secret))
	return hex.EncodeToString(sum[:])
}

func validHash(token, hash, secret string) bool {
	expected := hashToken(token, secret)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(hash)) == 1
}
