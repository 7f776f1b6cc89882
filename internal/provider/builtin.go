package provider

import (
	"fmt"
	"net/url"
	"strconv"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"

	"github.com/dgellow/authgate/internal/adapter"
)

// Google returns the provider record for Google sign-in. Google is a
// full OIDC provider, so all three checks run and the profile comes
// from ID-token claims.
func Google(clientID, clientSecret string) *Config {
	return &Config{
		ID:           "google",
		Name:         "Google",
		Type:         TypeOIDC,
		Issuer:       "https://accounts.google.com",
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Scopes:       []string{"openid", "email", "profile"},
		Checks:       []Check{CheckPKCE, CheckState, CheckNonce},
		Authorization: Endpoint{
			Params: url.Values{
				"access_type": {"offline"},
				"prompt":      {"consent"},
			},
		},
		ProfileFunc: DefaultProfile,
	}
}

// GitHub returns the provider record for GitHub sign-in. GitHub speaks
// plain OAuth2: no ID token, no nonce, profile always fetched from the
// user API.
func GitHub(clientID, clientSecret string) *Config {
	return &Config{
		ID:           "github",
		Name:         "GitHub",
		Type:         TypeOAuth2,
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Scopes:       []string{"read:user", "user:email"},
		Checks:       []Check{CheckState},
		Authorization: Endpoint{
			URL: github.Endpoint.AuthURL,
		},
		Token: Endpoint{
			URL: github.Endpoint.TokenURL,
		},
		UserInfo: Endpoint{
			URL: "https://api.github.com/user",
		},
		ProfileFunc: githubProfile,
	}
}

func githubProfile(profile Profile, _ *oauth2.Token) (*adapter.User, error) {
	var id string
	switch v := profile["id"].(type) {
	case float64:
		// json numbers decode as float64; GitHub ids fit in int64
		id = strconv.FormatInt(int64(v), 10)
	case string:
		id = v
	default:
		return nil, fmt.Errorf("github profile has no id")
	}
	name, _ := profile["name"].(string)
	if name == "" {
		name, _ = profile["login"].(string)
	}
	email, _ := profile["email"].(string)
	avatar, _ := profile["avatar_url"].(string)
	return &adapter.User{
		ID:    id,
		Name:  name,
		Email: email,
		Image: avatar,
	}, nil
}

// OIDC returns a generic OIDC provider record driven by discovery.
func OIDC(id, name, issuer, clientID, clientSecret string) *Config {
	return &Config{
		ID:           id,
		Name:         name,
		Type:         TypeOIDC,
		Issuer:       issuer,
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Scopes:       []string{"openid", "email", "profile"},
		Checks:       []Check{CheckPKCE, CheckState, CheckNonce},
		ProfileFunc:  DefaultProfile,
	}
}

// Email returns an email magic-link provider record. send is the
// outbound delivery hook; the handler never sends mail itself.
func Email(send SendVerificationFunc) *Config {
	return &Config{
		ID:               "email",
		Name:             "Email",
		Type:             TypeEmail,
		SendVerification: send,
	}
}

// Credentials returns a credentials provider record. authorize decides
// whether a set of submitted credentials identifies a user.
func Credentials(name string, authorize AuthorizeFunc) *Config {
	return &Config{
		ID:        "credentials",
		Name:      name,
		Type:      TypeCredentials,
		Authorize: authorize,
	}
}
