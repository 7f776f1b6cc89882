package crypto

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateSecureToken(t *testing.T) {
	token, err := GenerateSecureToken()
	require.NoError(t, err)
	assert.NotEmpty(t, token)

	token2, err := GenerateSecureToken()
	require.NoError(t, err)
	assert.NotEqual(t, token, token2)
	assert.GreaterOrEqual(t, len(token), 40)
}

func TestCSRFIssueAndVerify(t *testing.T) {
	csrf := NewCSRFProtection("secret")

	// First contact: no cookie, a commitment is issued.
	issued, err := csrf.Check("", false, "")
	require.NoError(t, err)
	assert.NotEmpty(t, issued.Token)
	assert.NotEmpty(t, issued.CookieValue)
	assert.False(t, issued.Verified)
	assert.True(t, strings.HasPrefix(issued.CookieValue, issued.Token+"|"))

	// POST echoing the token verifies.
	verified, err := csrf.Check(issued.CookieValue, true, issued.Token)
	require.NoError(t, err)
	assert.True(t, verified.Verified)
	assert.Equal(t, issued.Token, verified.Token)
	assert.Empty(t, verified.CookieValue, "valid cookie must not be reissued")
}

func TestCSRFRejectsWrongSubmittedToken(t *testing.T) {
	csrf := NewCSRFProtection("secret")
	issued, err := csrf.Check("", false, "")
	require.NoError(t, err)

	check, err := csrf.Check(issued.CookieValue, true, "some-other-token")
	require.NoError(t, err)
	assert.False(t, check.Verified)
}

func TestCSRFRejectsMissingSubmittedToken(t *testing.T) {
	csrf := NewCSRFProtection("secret")
	issued, err := csrf.Check("", false, "")
	require.NoError(t, err)

	check, err := csrf.Check(issued.CookieValue, true, "")
	require.NoError(t, err)
	assert.False(t, check.Verified)
}

func TestCSRFReissuesOnTamperedHash(t *testing.T) {
	csrf := NewCSRFProtection("secret")
	issued, err := csrf.Check("", false, "")
	require.NoError(t, err)

	tampered := issued.Token + "|" + strings.Repeat("0", 64)
	check, err := csrf.Check(tampered, true, issued.Token)
	require.NoError(t, err)
	assert.False(t, check.Verified, "tampered cookie can never verify")
	assert.NotEmpty(t, check.CookieValue, "fresh commitment must be issued")
	assert.NotEqual(t, issued.Token, check.Token)
}

func TestCSRFReissuesUnderRotatedSecret(t *testing.T) {
	old := NewCSRFProtection("old-secret")
	issued, err := old.Check("", false, "")
	require.NoError(t, err)

	// A cookie minted under the old secret is invalid after rotation and
	// simply gets replaced.
	current := NewCSRFProtection("new-secret")
	check, err := current.Check(issued.CookieValue, true, issued.Token)
	require.NoError(t, err)
	assert.False(t, check.Verified)
	assert.NotEmpty(t, check.CookieValue)
}

func TestCSRFGetNeverVerifies(t *testing.T) {
	csrf := NewCSRFProtection("secret")
	issued, err := csrf.Check("", false, "")
	require.NoError(t, err)

	check, err := csrf.Check(issued.CookieValue, false, issued.Token)
	require.NoError(t, err)
	assert.False(t, check.Verified)
}
