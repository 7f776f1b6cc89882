package adapter

import (
	"context"
	"fmt"

	"github.com/dgellow/authgate/internal/log"
)

// WithLogging wraps an adapter so every call is logged at debug level
// with its method name and arguments, and every failure is wrapped with
// the offending method name. A storage fault then surfaces in logs with
// enough context to reproduce without crashing the request.
func WithLogging(a Adapter, logger log.Logger) Adapter {
	return &loggingAdapter{next: a, logger: logger}
}

type loggingAdapter struct {
	next   Adapter
	logger log.Logger
}

// Unwrap exposes the decorated adapter for capability checks.
func (l *loggingAdapter) Unwrap() Adapter { return l.next }

func (l *loggingAdapter) call(method string, args map[string]any, err error) error {
	l.logger.Debug("adapter call", map[string]any{"method": method, "args": args, "error": err})
	if err != nil && !IsNotFound(err) {
		return fmt.Errorf("adapter %s: %w", method, err)
	}
	return err
}

func (l *loggingAdapter) CreateUser(ctx context.Context, user *User) (*User, error) {
	out, err := l.next.CreateUser(ctx, user)
	return out, l.call("CreateUser", map[string]any{"email": user.Email}, err)
}

func (l *loggingAdapter) GetUser(ctx context.Context, id string) (*User, error) {
	out, err := l.next.GetUser(ctx, id)
	return out, l.call("GetUser", map[string]any{"id": id}, err)
}

func (l *loggingAdapter) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	out, err := l.next.GetUserByEmail(ctx, email)
	return out, l.call("GetUserByEmail", map[string]any{"email": email}, err)
}

func (l *loggingAdapter) GetUserByAccount(ctx context.Context, provider, providerAccountID string) (*User, error) {
	out, err := l.next.GetUserByAccount(ctx, provider, providerAccountID)
	return out, l.call("GetUserByAccount", map[string]any{"provider": provider, "providerAccountId": providerAccountID}, err)
}

func (l *loggingAdapter) UpdateUser(ctx context.Context, user *User) (*User, error) {
	out, err := l.next.UpdateUser(ctx, user)
	return out, l.call("UpdateUser", map[string]any{"id": user.ID}, err)
}

func (l *loggingAdapter) DeleteUser(ctx context.Context, id string) error {
	return l.call("DeleteUser", map[string]any{"id": id}, l.next.DeleteUser(ctx, id))
}

func (l *loggingAdapter) LinkAccount(ctx context.Context, account *Account) error {
	args := map[string]any{"provider": account.Provider, "providerAccountId": account.ProviderAccountID, "userId": account.UserID}
	return l.call("LinkAccount", args, l.next.LinkAccount(ctx, account))
}

func (l *loggingAdapter) UnlinkAccount(ctx context.Context, provider, providerAccountID string) error {
	args := map[string]any{"provider": provider, "providerAccountId": providerAccountID}
	return l.call("UnlinkAccount", args, l.next.UnlinkAccount(ctx, provider, providerAccountID))
}

func (l *loggingAdapter) ListAccounts(ctx context.Context, userID string) ([]Account, error) {
	out, err := l.next.ListAccounts(ctx, userID)
	return out, l.call("ListAccounts", map[string]any{"userId": userID}, err)
}

func (l *loggingAdapter) CreateSession(ctx context.Context, session *Session) (*Session, error) {
	out, err := l.next.CreateSession(ctx, session)
	return out, l.call("CreateSession", map[string]any{"userId": session.UserID}, err)
}

func (l *loggingAdapter) GetSessionAndUser(ctx context.Context, sessionToken string) (*Session, *User, error) {
	s, u, err := l.next.GetSessionAndUser(ctx, sessionToken)
	return s, u, l.call("GetSessionAndUser", nil, err)
}

func (l *loggingAdapter) UpdateSession(ctx context.Context, session *Session) (*Session, error) {
	out, err := l.next.UpdateSession(ctx, session)
	return out, l.call("UpdateSession", map[string]any{"userId": session.UserID}, err)
}

func (l *loggingAdapter) DeleteSession(ctx context.Context, sessionToken string) error {
	return l.call("DeleteSession", nil, l.next.DeleteSession(ctx, sessionToken))
}

// CreateVerificationToken and UseVerificationToken are forwarded only
// when the wrapped adapter has the capability; the wrapper advertises it
// through the same interface check callers use.
func (l *loggingAdapter) CreateVerificationToken(ctx context.Context, token *VerificationToken) error {
	store, ok := l.next.(VerificationTokenStore)
	if !ok {
		return fmt.Errorf("adapter CreateVerificationToken: not supported")
	}
	args := map[string]any{"identifier": token.Identifier}
	return l.call("CreateVerificationToken", args, store.CreateVerificationToken(ctx, token))
}

func (l *loggingAdapter) UseVerificationToken(ctx context.Context, identifier, token string) (*VerificationToken, error) {
	store, ok := l.next.(VerificationTokenStore)
	if !ok {
		return nil, fmt.Errorf("adapter UseVerificationToken: not supported")
	}
	out, err := store.UseVerificationToken(ctx, identifier, token)
	return out, l.call("UseVerificationToken", map[string]any{"identifier": identifier}, err)
}
