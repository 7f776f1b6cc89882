package adapter

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Ensure FirestoreAdapter implements the full capability set
var _ Adapter = (*FirestoreAdapter)(nil)
var _ VerificationTokenStore = (*FirestoreAdapter)(nil)

// FirestoreAdapter persists users, accounts, sessions, and verification
// tokens in Google Cloud Firestore. Document IDs are derived from the
// natural keys so every lookup is a direct document get except
// email-based user search, which uses a single-field query.
type FirestoreAdapter struct {
	client *firestore.Client

	users    string
	accounts string
	sessions string
	tokens   string
}

// userDoc mirrors User with firestore tags.
type userDoc struct {
	ID            string     `firestore:"id"`
	Name          string     `firestore:"name,omitempty"`
	Email         string     `firestore:"email,omitempty"`
	EmailVerified *time.Time `firestore:"email_verified,omitempty"`
	Image         string     `firestore:"image,omitempty"`
}

type accountDoc struct {
	UserID            string     `firestore:"user_id"`
	Type              string     `firestore:"type"`
	Provider          string     `firestore:"provider"`
	ProviderAccountID string     `firestore:"provider_account_id"`
	AccessToken       string     `firestore:"access_token,omitempty"`
	RefreshToken      string     `firestore:"refresh_token,omitempty"`
	TokenType         string     `firestore:"token_type,omitempty"`
	Scope             string     `firestore:"scope,omitempty"`
	IDToken           string     `firestore:"id_token,omitempty"`
	ExpiresAt         *time.Time `firestore:"expires_at,omitempty"`
}

type sessionDoc struct {
	SessionToken string    `firestore:"session_token"`
	UserID       string    `firestore:"user_id"`
	Expires      time.Time `firestore:"expires"`
}

type verificationTokenDoc struct {
	Identifier string    `firestore:"identifier"`
	Token      string    `firestore:"token"`
	Expires    time.Time `firestore:"expires"`
}

// NewFirestoreAdapter creates a Firestore-backed adapter. collectionPrefix
// namespaces the four collections so several deployments can share a
// database.
func NewFirestoreAdapter(ctx context.Context, projectID, database, collectionPrefix string) (*FirestoreAdapter, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID is required")
	}
	if collectionPrefix == "" {
		collectionPrefix = "authgate"
	}

	var client *firestore.Client
	var err error
	if database != "" && database != "(default)" {
		client, err = firestore.NewClientWithDatabase(ctx, projectID, database)
	} else {
		client, err = firestore.NewClient(ctx, projectID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}

	return &FirestoreAdapter{
		client:   client,
		users:    collectionPrefix + "_users",
		accounts: collectionPrefix + "_accounts",
		sessions: collectionPrefix + "_sessions",
		tokens:   collectionPrefix + "_verification_tokens",
	}, nil
}

// Close releases the Firestore client.
func (f *FirestoreAdapter) Close() error {
	return f.client.Close()
}

// docID escapes a natural key for use as a Firestore document ID, which
// must not contain forward slashes.
func docID(parts ...string) string {
	id := ""
	for i, p := range parts {
		if i > 0 {
			id += ":"
		}
		id += url.PathEscape(p)
	}
	return id
}

func (f *FirestoreAdapter) CreateUser(ctx context.Context, user *User) (*User, error) {
	created := *user
	if created.ID == "" {
		created.ID = uuid.NewString()
	}

	doc := userDoc{
		ID:            created.ID,
		Name:          created.Name,
		Email:         created.Email,
		EmailVerified: created.EmailVerified,
		Image:         created.Image,
	}
	if _, err := f.client.Collection(f.users).Doc(created.ID).Set(ctx, doc); err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return &created, nil
}

func (f *FirestoreAdapter) GetUser(ctx context.Context, id string) (*User, error) {
	snap, err := f.client.Collection(f.users).Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return userFromSnap(snap)
}

func (f *FirestoreAdapter) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	iter := f.client.Collection(f.users).Where("email", "==", email).Limit(1).Documents(ctx)
	defer iter.Stop()

	snap, err := iter.Next()
	if err == iterator.Done {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query user by email: %w", err)
	}
	return userFromSnap(snap)
}

func (f *FirestoreAdapter) GetUserByAccount(ctx context.Context, provider, providerAccountID string) (*User, error) {
	snap, err := f.client.Collection(f.accounts).Doc(docID(provider, providerAccountID)).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}

	var account accountDoc
	if err := snap.DataTo(&account); err != nil {
		return nil, fmt.Errorf("failed to unmarshal account: %w", err)
	}
	return f.GetUser(ctx, account.UserID)
}

func (f *FirestoreAdapter) UpdateUser(ctx context.Context, user *User) (*User, error) {
	ref := f.client.Collection(f.users).Doc(user.ID)
	if _, err := ref.Get(ctx); err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	doc := userDoc{
		ID:            user.ID,
		Name:          user.Name,
		Email:         user.Email,
		EmailVerified: user.EmailVerified,
		Image:         user.Image,
	}
	if _, err := ref.Set(ctx, doc); err != nil {
		return nil, fmt.Errorf("failed to update user: %w", err)
	}
	updated := *user
	return &updated, nil
}

func (f *FirestoreAdapter) DeleteUser(ctx context.Context, id string) error {
	if _, err := f.client.Collection(f.users).Doc(id).Delete(ctx); err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}

	// Best effort cleanup of dependent records.
	for _, q := range []firestore.Query{
		f.client.Collection(f.accounts).Where("user_id", "==", id),
		f.client.Collection(f.sessions).Where("user_id", "==", id),
	} {
		iter := q.Documents(ctx)
		for {
			snap, err := iter.Next()
			if err == iterator.Done {
				break
			}
			if err != nil {
				iter.Stop()
				return fmt.Errorf("failed to list dependent records: %w", err)
			}
			if _, err := snap.Ref.Delete(ctx); err != nil {
				iter.Stop()
				return fmt.Errorf("failed to delete dependent record: %w", err)
			}
		}
		iter.Stop()
	}
	return nil
}

func (f *FirestoreAdapter) LinkAccount(ctx context.Context, account *Account) error {
	doc := accountDoc{
		UserID:            account.UserID,
		Type:              account.Type,
		Provider:          account.Provider,
		ProviderAccountID: account.ProviderAccountID,
		AccessToken:       account.AccessToken,
		RefreshToken:      account.RefreshToken,
		TokenType:         account.TokenType,
		Scope:             account.Scope,
		IDToken:           account.IDToken,
		ExpiresAt:         account.ExpiresAt,
	}
	ref := f.client.Collection(f.accounts).Doc(docID(account.Provider, account.ProviderAccountID))
	if _, err := ref.Set(ctx, doc); err != nil {
		return fmt.Errorf("failed to link account: %w", err)
	}
	return nil
}

func (f *FirestoreAdapter) UnlinkAccount(ctx context.Context, provider, providerAccountID string) error {
	ref := f.client.Collection(f.accounts).Doc(docID(provider, providerAccountID))
	if _, err := ref.Delete(ctx); err != nil {
		return fmt.Errorf("failed to unlink account: %w", err)
	}
	return nil
}

func (f *FirestoreAdapter) ListAccounts(ctx context.Context, userID string) ([]Account, error) {
	iter := f.client.Collection(f.accounts).Where("user_id", "==", userID).Documents(ctx)
	defer iter.Stop()

	var accounts []Account
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list accounts: %w", err)
		}

		var doc accountDoc
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("failed to unmarshal account: %w", err)
		}
		accounts = append(accounts, Account{
			UserID:            doc.UserID,
			Type:              doc.Type,
			Provider:          doc.Provider,
			ProviderAccountID: doc.ProviderAccountID,
			AccessToken:       doc.AccessToken,
			RefreshToken:      doc.RefreshToken,
			TokenType:         doc.TokenType,
			Scope:             doc.Scope,
			IDToken:           doc.IDToken,
			ExpiresAt:         doc.ExpiresAt,
		})
	}
	return accounts, nil
}

func (f *FirestoreAdapter) CreateSession(ctx context.Context, session *Session) (*Session, error) {
	doc := sessionDoc{
		SessionToken: session.SessionToken,
		UserID:       session.UserID,
		Expires:      session.Expires,
	}
	ref := f.client.Collection(f.sessions).Doc(docID(session.SessionToken))
	if _, err := ref.Set(ctx, doc); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	created := *session
	return &created, nil
}

func (f *FirestoreAdapter) GetSessionAndUser(ctx context.Context, sessionToken string) (*Session, *User, error) {
	snap, err := f.client.Collection(f.sessions).Doc(docID(sessionToken)).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, nil, ErrSessionNotFound
		}
		return nil, nil, fmt.Errorf("failed to get session: %w", err)
	}

	var doc sessionDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}

	user, err := f.GetUser(ctx, doc.UserID)
	if err != nil {
		if IsNotFound(err) {
			return nil, nil, ErrSessionNotFound
		}
		return nil, nil, err
	}

	return &Session{
		SessionToken: doc.SessionToken,
		UserID:       doc.UserID,
		Expires:      doc.Expires,
	}, user, nil
}

func (f *FirestoreAdapter) UpdateSession(ctx context.Context, session *Session) (*Session, error) {
	ref := f.client.Collection(f.sessions).Doc(docID(session.SessionToken))
	if _, err := ref.Get(ctx); err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	doc := sessionDoc{
		SessionToken: session.SessionToken,
		UserID:       session.UserID,
		Expires:      session.Expires,
	}
	if _, err := ref.Set(ctx, doc); err != nil {
		return nil, fmt.Errorf("failed to update session: %w", err)
	}
	updated := *session
	return &updated, nil
}

func (f *FirestoreAdapter) DeleteSession(ctx context.Context, sessionToken string) error {
	ref := f.client.Collection(f.sessions).Doc(docID(sessionToken))
	if _, err := ref.Delete(ctx); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

func (f *FirestoreAdapter) CreateVerificationToken(ctx context.Context, token *VerificationToken) error {
	doc := verificationTokenDoc{
		Identifier: token.Identifier,
		Token:      token.Token,
		Expires:    token.Expires,
	}
	ref := f.client.Collection(f.tokens).Doc(docID(token.Identifier, token.Token))
	if _, err := ref.Set(ctx, doc); err != nil {
		return fmt.Errorf("failed to create verification token: %w", err)
	}
	return nil
}

func (f *FirestoreAdapter) UseVerificationToken(ctx context.Context, identifier, token string) (*VerificationToken, error) {
	ref := f.client.Collection(f.tokens).Doc(docID(identifier, token))
	snap, err := ref.Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, ErrTokenNotFound
		}
		return nil, fmt.Errorf("failed to get verification token: %w", err)
	}

	// Single use: delete before returning, matching or not.
	if _, err := ref.Delete(ctx); err != nil {
		return nil, fmt.Errorf("failed to consume verification token: %w", err)
	}

	var doc verificationTokenDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal verification token: %w", err)
	}
	return &VerificationToken{
		Identifier: doc.Identifier,
		Token:      doc.Token,
		Expires:    doc.Expires,
	}, nil
}

func userFromSnap(snap *firestore.DocumentSnapshot) (*User, error) {
	var doc userDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal user: %w", err)
	}
	return &User{
		ID:            doc.ID,
		Name:          doc.Name,
		Email:         doc.Email,
		EmailVerified: doc.EmailVerified,
		Image:         doc.Image,
	}, nil
}
