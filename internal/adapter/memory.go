package adapter

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Ensure MemoryAdapter implements the full capability set
var _ Adapter = (*MemoryAdapter)(nil)
var _ VerificationTokenStore = (*MemoryAdapter)(nil)

// MemoryAdapter is a thread-safe in-memory adapter. It backs tests and
// single-process deployments; nothing survives a restart.
type MemoryAdapter struct {
	mu       sync.RWMutex
	users    map[string]*User              // id -> user
	accounts map[string]*Account           // provider:providerAccountID -> account
	sessions map[string]*Session           // sessionToken -> session
	tokens   map[string]*VerificationToken // identifier:token -> token
}

// NewMemoryAdapter creates an empty in-memory adapter.
func NewMemoryAdapter() *MemoryAdapter {
	return &MemoryAdapter{
		users:    make(map[string]*User),
		accounts: make(map[string]*Account),
		sessions: make(map[string]*Session),
		tokens:   make(map[string]*VerificationToken),
	}
}

func accountKey(provider, providerAccountID string) string {
	return provider + ":" + providerAccountID
}

func (m *MemoryAdapter) CreateUser(ctx context.Context, user *User) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	created := *user
	if created.ID == "" {
		created.ID = uuid.NewString()
	}
	m.users[created.ID] = &created
	return &created, nil
}

func (m *MemoryAdapter) GetUser(ctx context.Context, id string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	user, ok := m.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	userCopy := *user
	return &userCopy, nil
}

func (m *MemoryAdapter) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, user := range m.users {
		if user.Email == email {
			userCopy := *user
			return &userCopy, nil
		}
	}
	return nil, ErrUserNotFound
}

func (m *MemoryAdapter) GetUserByAccount(ctx context.Context, provider, providerAccountID string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	account, ok := m.accounts[accountKey(provider, providerAccountID)]
	if !ok {
		return nil, ErrUserNotFound
	}
	user, ok := m.users[account.UserID]
	if !ok {
		return nil, ErrUserNotFound
	}
	userCopy := *user
	return &userCopy, nil
}

func (m *MemoryAdapter) UpdateUser(ctx context.Context, user *User) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.users[user.ID]; !ok {
		return nil, ErrUserNotFound
	}
	updated := *user
	m.users[user.ID] = &updated
	return &updated, nil
}

func (m *MemoryAdapter) DeleteUser(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.users, id)
	for key, account := range m.accounts {
		if account.UserID == id {
			delete(m.accounts, key)
		}
	}
	for token, session := range m.sessions {
		if session.UserID == id {
			delete(m.sessions, token)
		}
	}
	return nil
}

func (m *MemoryAdapter) LinkAccount(ctx context.Context, account *Account) error {
	if account.Provider == "" || account.ProviderAccountID == "" {
		return fmt.Errorf("account missing provider identity")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	accountCopy := *account
	m.accounts[accountKey(account.Provider, account.ProviderAccountID)] = &accountCopy
	return nil
}

func (m *MemoryAdapter) UnlinkAccount(ctx context.Context, provider, providerAccountID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.accounts, accountKey(provider, providerAccountID))
	return nil
}

func (m *MemoryAdapter) ListAccounts(ctx context.Context, userID string) ([]Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var accounts []Account
	for _, account := range m.accounts {
		if account.UserID == userID {
			accounts = append(accounts, *account)
		}
	}
	return accounts, nil
}

func (m *MemoryAdapter) CreateSession(ctx context.Context, session *Session) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	created := *session
	m.sessions[created.SessionToken] = &created
	return &created, nil
}

func (m *MemoryAdapter) GetSessionAndUser(ctx context.Context, sessionToken string) (*Session, *User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, ok := m.sessions[sessionToken]
	if !ok {
		return nil, nil, ErrSessionNotFound
	}
	user, ok := m.users[session.UserID]
	if !ok {
		return nil, nil, ErrSessionNotFound
	}
	sessionCopy := *session
	userCopy := *user
	return &sessionCopy, &userCopy, nil
}

func (m *MemoryAdapter) UpdateSession(ctx context.Context, session *Session) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[session.SessionToken]; !ok {
		return nil, ErrSessionNotFound
	}
	updated := *session
	m.sessions[session.SessionToken] = &updated
	return &updated, nil
}

func (m *MemoryAdapter) DeleteSession(ctx context.Context, sessionToken string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.sessions, sessionToken)
	return nil
}

func (m *MemoryAdapter) CreateVerificationToken(ctx context.Context, token *VerificationToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tokenCopy := *token
	m.tokens[token.Identifier+":"+token.Token] = &tokenCopy
	return nil
}

func (m *MemoryAdapter) UseVerificationToken(ctx context.Context, identifier, token string) (*VerificationToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := identifier + ":" + token
	stored, ok := m.tokens[key]
	if !ok {
		return nil, ErrTokenNotFound
	}
	delete(m.tokens, key)
	tokenCopy := *stored
	return &tokenCopy, nil
}
