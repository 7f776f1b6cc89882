package config

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/dgellow/authgate/internal/adapter"
	"github.com/dgellow/authgate/internal/provider"
	"github.com/dgellow/authgate/internal/session"
)

// File is the on-disk configuration consumed by the standalone binary.
// Secrets must be {"$env": "VAR"} references so they never live in the
// file itself.
type File struct {
	BaseURL   string   `json:"baseURL"`
	Addr      string   `json:"addr"`
	TrustHost bool     `json:"trustHost"`
	Secrets   []Secret `json:"-"`

	Session  SessionFile             `json:"session"`
	Storage  StorageFile             `json:"storage"`
	Provider map[string]ProviderFile `json:"providers"`

	Pages                Pages    `json:"pages"`
	AllowedCallbackHosts []string `json:"allowedCallbackHosts"`
}

// SessionFile mirrors SessionOptions with duration strings.
type SessionFile struct {
	Strategy  string `json:"strategy"`
	MaxAge    string `json:"maxAge"`
	UpdateAge string `json:"updateAge"`
}

// StorageFile selects the adapter backing the handler.
type StorageFile struct {
	Kind string `json:"kind"` // "", "memory", or "firestore"

	// Firestore settings.
	GCPProject       string `json:"gcpProject,omitempty"`
	Database         string `json:"database,omitempty"`
	CollectionPrefix string `json:"collectionPrefix,omitempty"`
}

// ProviderFile is the file form of one provider entry. The map key is
// the provider id; "google" and "github" get the built-in endpoints.
type ProviderFile struct {
	Type         string   `json:"type,omitempty"`
	Name         string   `json:"name,omitempty"`
	Issuer       string   `json:"issuer,omitempty"`
	ClientID     string   `json:"-"`
	ClientSecret Secret   `json:"-"`
	Scopes       []string `json:"scopes,omitempty"`
	Checks       []string `json:"checks,omitempty"`

	AuthorizationURL string `json:"authorizationUrl,omitempty"`
	TokenURL         string `json:"tokenUrl,omitempty"`
	UserInfoURL      string `json:"userInfoUrl,omitempty"`

	AllowDangerousEmailAccountLinking bool `json:"allowDangerousEmailAccountLinking,omitempty"`

	// Users enables a file-backed credentials provider: bcrypt hashes
	// only, compared at sign-in time.
	Users []CredentialsUser `json:"users,omitempty"`
}

// CredentialsUser is one entry of a file-backed credentials provider.
type CredentialsUser struct {
	Email        string `json:"email"`
	Name         string `json:"name,omitempty"`
	PasswordHash string `json:"passwordHash"`
}

// UnmarshalJSON resolves {"$env": "VAR"} references for the secret
// fields.
func (f *File) UnmarshalJSON(data []byte) error {
	type rawFile File
	type withRefs struct {
		rawFile
		SecretsRaw []json.RawMessage `json:"secrets"`
	}

	var raw withRefs
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*f = File(raw.rawFile)

	for i, ref := range raw.SecretsRaw {
		value, err := resolveValue(ref)
		if err != nil {
			return fmt.Errorf("parsing secrets[%d]: %w", i, err)
		}
		f.Secrets = append(f.Secrets, Secret(value))
	}
	return nil
}

// UnmarshalJSON resolves client credentials, requiring an env reference
// for the client secret.
func (p *ProviderFile) UnmarshalJSON(data []byte) error {
	type rawProvider ProviderFile
	type withRefs struct {
		rawProvider
		ClientIDRaw     json.RawMessage `json:"clientId"`
		ClientSecretRaw json.RawMessage `json:"clientSecret"`
	}

	var raw withRefs
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*p = ProviderFile(raw.rawProvider)

	if raw.ClientIDRaw != nil {
		value, err := resolveValue(raw.ClientIDRaw)
		if err != nil {
			return fmt.Errorf("parsing clientId: %w", err)
		}
		p.ClientID = value
	}
	if raw.ClientSecretRaw != nil {
		var plain string
		if err := json.Unmarshal(raw.ClientSecretRaw, &plain); err == nil {
			return fmt.Errorf("clientSecret must use {\"$env\": \"VAR_NAME\"} instead of plain text")
		}
		value, err := resolveValue(raw.ClientSecretRaw)
		if err != nil {
			return fmt.Errorf("parsing clientSecret: %w", err)
		}
		p.ClientSecret = Secret(value)
	}
	return nil
}

// resolveValue accepts a plain JSON string or an {"$env": "VAR"}
// reference.
func resolveValue(raw json.RawMessage) (string, error) {
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		return str, nil
	}

	var ref map[string]string
	if err := json.Unmarshal(raw, &ref); err != nil {
		return "", fmt.Errorf("value must be a string or reference object")
	}
	envVar, ok := ref["$env"]
	if !ok {
		return "", fmt.Errorf("unknown reference type, expected {\"$env\": \"VAR_NAME\"}")
	}
	value := os.Getenv(envVar)
	if value == "" {
		return "", fmt.Errorf("environment variable %s not set", envVar)
	}
	return value, nil
}

// Load reads the config file and builds the normalized, validated
// options. The returned cleanup closes any storage client the loader
// opened.
func Load(ctx context.Context, path string) (*Options, *File, func() error, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("reading config file: %w", err)
	}

	var file File
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, nil, nil, fmt.Errorf("parsing config: %w", err)
	}

	opts := &Options{
		BaseURL:              file.BaseURL,
		TrustHost:            file.TrustHost,
		Secrets:              file.Secrets,
		Pages:                file.Pages,
		AllowedCallbackHosts: file.AllowedCallbackHosts,
		Session: SessionOptions{
			Strategy: session.Strategy(file.Session.Strategy),
		},
	}
	if file.Session.MaxAge != "" {
		opts.Session.MaxAge, err = time.ParseDuration(file.Session.MaxAge)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("parsing session.maxAge: %w", err)
		}
	}
	if file.Session.UpdateAge != "" {
		opts.Session.UpdateAge, err = time.ParseDuration(file.Session.UpdateAge)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("parsing session.updateAge: %w", err)
		}
	}

	cleanup := func() error { return nil }
	switch file.Storage.Kind {
	case "", "memory":
		if file.Storage.Kind == "memory" {
			opts.Adapter = adapter.NewMemoryAdapter()
		}
	case "firestore":
		if file.Storage.GCPProject == "" {
			return nil, nil, nil, fmt.Errorf("storage.gcpProject is required for firestore storage")
		}
		fs, err := adapter.NewFirestoreAdapter(ctx, file.Storage.GCPProject, file.Storage.Database, file.Storage.CollectionPrefix)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("connecting to firestore: %w", err)
		}
		opts.Adapter = fs
		cleanup = fs.Close
	default:
		return nil, nil, nil, fmt.Errorf("unknown storage kind %q", file.Storage.Kind)
	}

	for id, pf := range file.Provider {
		p, err := buildProvider(id, pf)
		if err != nil {
			return nil, nil, nil, err
		}
		opts.Providers = append(opts.Providers, p)
	}

	if err := opts.Normalize(); err != nil {
		return nil, nil, nil, err
	}
	return opts, &file, cleanup, nil
}

func buildProvider(id string, pf ProviderFile) (*provider.Config, error) {
	var p *provider.Config
	switch {
	case id == "google" && pf.Type == "":
		p = provider.Google(pf.ClientID, string(pf.ClientSecret))
	case id == "github" && pf.Type == "":
		p = provider.GitHub(pf.ClientID, string(pf.ClientSecret))
	case pf.Type == "oidc" || (pf.Type == "" && pf.Issuer != ""):
		p = provider.OIDC(id, pf.Name, pf.Issuer, pf.ClientID, string(pf.ClientSecret))
	case pf.Type == "oauth":
		p = &provider.Config{
			ID:            id,
			Name:          pf.Name,
			Type:          provider.TypeOAuth2,
			ClientID:      pf.ClientID,
			ClientSecret:  string(pf.ClientSecret),
			Authorization: provider.Endpoint{URL: pf.AuthorizationURL},
			Token:         provider.Endpoint{URL: pf.TokenURL},
			UserInfo:      provider.Endpoint{URL: pf.UserInfoURL},
			Checks:        []provider.Check{provider.CheckState, provider.CheckPKCE},
		}
	case pf.Type == "credentials":
		if len(pf.Users) == 0 {
			return nil, fmt.Errorf("provider %q: credentials provider requires users", id)
		}
		p = provider.Credentials(pf.Name, credentialsAuthorize(pf.Users))
		p.ID = id
	default:
		return nil, fmt.Errorf("provider %q: unknown type %q", id, pf.Type)
	}

	if pf.Name != "" {
		p.Name = pf.Name
	}
	if len(pf.Scopes) > 0 {
		p.Scopes = pf.Scopes
	}
	if len(pf.Checks) > 0 {
		p.Checks = p.Checks[:0]
		for _, c := range pf.Checks {
			p.Checks = append(p.Checks, provider.Check(c))
		}
	}
	p.AllowDangerousEmailAccountLinking = pf.AllowDangerousEmailAccountLinking
	return p, nil
}

// credentialsAuthorize builds the authorize handler of a file-backed
// credentials provider. Lookups are by lowercased email; passwords are
// compared against the stored bcrypt hash.
func credentialsAuthorize(users []CredentialsUser) provider.AuthorizeFunc {
	byEmail := make(map[string]CredentialsUser, len(users))
	for _, u := range users {
		byEmail[strings.ToLower(u.Email)] = u
	}

	return func(_ context.Context, credentials url.Values) (*adapter.User, error) {
		email := strings.ToLower(credentials.Get("email"))
		password := credentials.Get("password")
		u, ok := byEmail[email]
		if !ok {
			// Burn a comparison anyway so unknown emails cost the same.
			_ = bcrypt.CompareHashAndPassword([]byte("$2a$10$0000000000000000000000000000000000000000000000000000"), []byte(password))
			return nil, fmt.Errorf("unknown user")
		}
		if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
			return nil, fmt.Errorf("wrong password")
		}
		return &adapter.User{ID: u.Email, Name: u.Name, Email: u.Email}, nil
	}
}
