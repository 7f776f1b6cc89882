package flow

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/dgellow/authgate/internal/provider"
)

const assertionType = "urn:ietf:params:oauth:client-assertion-type:jwt-bearer"

// clientAuth translates the provider's token-endpoint authentication
// method into an oauth2 auth style plus extra exchange parameters.
// JWT-based methods replace the shared secret with a signed assertion,
// so the returned secret is empty for those.
func clientAuth(p *provider.Config, tokenURL string) (style oauth2.AuthStyle, secret string, opts []oauth2.AuthCodeOption, err error) {
	switch p.ClientAuth {
	case "", provider.AuthMethodBasic:
		return oauth2.AuthStyleInHeader, p.ClientSecret, nil, nil

	case provider.AuthMethodPost:
		return oauth2.AuthStyleInParams, p.ClientSecret, nil, nil

	case provider.AuthMethodSecretJWT:
		assertion, err := signAssertion(p, tokenURL, jwt.SigningMethodHS256, []byte(p.ClientSecret))
		if err != nil {
			return 0, "", nil, err
		}
		return oauth2.AuthStyleInParams, "", assertionOpts(assertion), nil

	case provider.AuthMethodPrivateKeyJWT:
		assertion, err := signAssertion(p, tokenURL, jwt.SigningMethodRS256, p.ClientAssertionKey)
		if err != nil {
			return 0, "", nil, err
		}
		return oauth2.AuthStyleInParams, "", assertionOpts(assertion), nil

	default:
		return 0, "", nil, fmt.Errorf("unknown client auth method %q", p.ClientAuth)
	}
}

func assertionOpts(assertion string) []oauth2.AuthCodeOption {
	return []oauth2.AuthCodeOption{
		oauth2.SetAuthURLParam("client_assertion_type", assertionType),
		oauth2.SetAuthURLParam("client_assertion", assertion),
	}
}

// signAssertion builds the private_key_jwt / client_secret_jwt client
// assertion: a short-lived JWT identifying the client to the token
// endpoint.
func signAssertion(p *provider.Config, tokenURL string, method jwt.SigningMethod, key any) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(method, jwt.MapClaims{
		"iss": p.ClientID,
		"sub": p.ClientID,
		"aud": tokenURL,
		"iat": now.Unix(),
		"exp": now.Add(5 * time.Minute).Unix(),
		"jti": uuid.NewString(),
	})
	if p.ClientAssertionKeyID != "" {
		token.Header["kid"] = p.ClientAssertionKeyID
	}

	signed, err := token.SignedString(key)
	if err != nil {
		return "", fmt.Errorf("signing client assertion: %w", err)
	}
	return signed, nil
}
