package adapter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgellow/authgate/internal/log"
)

func TestCreateUserAssignsID(t *testing.T) {
	m := NewMemoryAdapter()

	created, err := m.CreateUser(context.Background(), &User{Email: "a@example.com"})
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)

	got, err := m.GetUser(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, "a@example.com", got.Email)
}

func TestGetUserByEmail(t *testing.T) {
	m := NewMemoryAdapter()
	_, err := m.CreateUser(context.Background(), &User{Email: "a@example.com"})
	require.NoError(t, err)

	got, err := m.GetUserByEmail(context.Background(), "a@example.com")
	require.NoError(t, err)
	assert.Equal(t, "a@example.com", got.Email)

	_, err = m.GetUserByEmail(context.Background(), "missing@example.com")
	assert.True(t, IsNotFound(err))
}

func TestLinkAndLookupAccount(t *testing.T) {
	m := NewMemoryAdapter()
	user, err := m.CreateUser(context.Background(), &User{Email: "a@example.com"})
	require.NoError(t, err)

	err = m.LinkAccount(context.Background(), &Account{
		UserID:            user.ID,
		Type:              "oidc",
		Provider:          "google",
		ProviderAccountID: "g-123",
		AccessToken:       "at",
	})
	require.NoError(t, err)

	got, err := m.GetUserByAccount(context.Background(), "google", "g-123")
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)

	accounts, err := m.ListAccounts(context.Background(), user.ID)
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	assert.Equal(t, "g-123", accounts[0].ProviderAccountID)

	require.NoError(t, m.UnlinkAccount(context.Background(), "google", "g-123"))
	_, err = m.GetUserByAccount(context.Background(), "google", "g-123")
	assert.True(t, IsNotFound(err))
}

func TestLinkAccountRequiresIdentity(t *testing.T) {
	m := NewMemoryAdapter()
	assert.Error(t, m.LinkAccount(context.Background(), &Account{UserID: "u"}))
}

func TestDeleteUserCascades(t *testing.T) {
	m := NewMemoryAdapter()
	user, err := m.CreateUser(context.Background(), &User{Email: "a@example.com"})
	require.NoError(t, err)
	require.NoError(t, m.LinkAccount(context.Background(), &Account{
		UserID: user.ID, Provider: "google", ProviderAccountID: "g-1",
	}))
	_, err = m.CreateSession(context.Background(), &Session{
		SessionToken: "tok", UserID: user.ID, Expires: time.Now().Add(time.Hour),
	})
	require.NoError(t, err)

	require.NoError(t, m.DeleteUser(context.Background(), user.ID))

	_, err = m.GetUserByAccount(context.Background(), "google", "g-1")
	assert.True(t, IsNotFound(err))
	_, _, err = m.GetSessionAndUser(context.Background(), "tok")
	assert.True(t, IsNotFound(err))
}

func TestSessionLifecycle(t *testing.T) {
	m := NewMemoryAdapter()
	user, err := m.CreateUser(context.Background(), &User{Email: "a@example.com"})
	require.NoError(t, err)

	created, err := m.CreateSession(context.Background(), &Session{
		SessionToken: "tok", UserID: user.ID, Expires: time.Now().Add(time.Hour),
	})
	require.NoError(t, err)

	record, got, err := m.GetSessionAndUser(context.Background(), "tok")
	require.NoError(t, err)
	assert.Equal(t, created.Expires.Unix(), record.Expires.Unix())
	assert.Equal(t, user.ID, got.ID)

	record.Expires = record.Expires.Add(time.Hour)
	_, err = m.UpdateSession(context.Background(), record)
	require.NoError(t, err)

	require.NoError(t, m.DeleteSession(context.Background(), "tok"))
	_, _, err = m.GetSessionAndUser(context.Background(), "tok")
	assert.True(t, IsNotFound(err))
}

func TestCopiesAreReturned(t *testing.T) {
	m := NewMemoryAdapter()
	user, err := m.CreateUser(context.Background(), &User{Email: "a@example.com"})
	require.NoError(t, err)

	got, err := m.GetUser(context.Background(), user.ID)
	require.NoError(t, err)
	got.Email = "mutated@example.com"

	again, err := m.GetUser(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Equal(t, "a@example.com", again.Email, "caller mutation must not leak into storage")
}

func TestVerificationTokenSingleUse(t *testing.T) {
	m := NewMemoryAdapter()
	token := &VerificationToken{
		Identifier: "a@example.com",
		Token:      "hashed-token",
		Expires:    time.Now().Add(time.Hour),
	}
	require.NoError(t, m.CreateVerificationToken(context.Background(), token))

	got, err := m.UseVerificationToken(context.Background(), "a@example.com", "hashed-token")
	require.NoError(t, err)
	assert.Equal(t, token.Expires.Unix(), got.Expires.Unix())

	_, err = m.UseVerificationToken(context.Background(), "a@example.com", "hashed-token")
	assert.True(t, IsNotFound(err), "second use must fail")
}

func TestSupportsVerificationTokensUnwrapsDecorators(t *testing.T) {
	m := NewMemoryAdapter()
	assert.True(t, SupportsVerificationTokens(m))
	assert.True(t, SupportsVerificationTokens(WithLogging(m, log.Discard())))
}

func TestLoggingDecoratorForwardsAndUnwraps(t *testing.T) {
	m := NewMemoryAdapter()
	wrapped := WithLogging(m, log.Discard())

	user, err := wrapped.CreateUser(context.Background(), &User{Email: "a@example.com"})
	require.NoError(t, err)

	got, err := wrapped.GetUser(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)

	_, err = wrapped.GetUser(context.Background(), "missing")
	assert.True(t, IsNotFound(err), "sentinels must survive the decorator")
}
