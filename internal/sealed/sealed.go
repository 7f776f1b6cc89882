// Package sealed encrypts compact structured payloads into opaque tokens.
// A token is a JWE (direct key agreement, A256CBC-HS512) whose content
// encryption key is derived from an application secret plus a
// purpose-specific salt, so tokens minted for one cookie purpose cannot
// be replayed as another even under the same secret.
package sealed

import (
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/google/uuid"
	"golang.org/x/crypto/hkdf"
)

// ErrDecode is returned for any token that cannot be decoded: wrong
// secret, tampered ciphertext, malformed envelope, or expired. Callers
// treat all of these identically (token absent), so the distinction is
// deliberately not exposed.
var ErrDecode = errors.New("sealed token could not be decoded")

// ClockSkew is the tolerance applied to expiry checks so that slightly
// desynchronized clocks between issuing and validating hosts do not
// reject fresh tokens.
const ClockSkew = 15 * time.Second

// keySize is the content encryption key size for A256CBC-HS512.
const keySize = 64

// envelope wraps the caller payload with the standard claims enforced at
// decode time.
type envelope struct {
	Data      json.RawMessage `json:"data"`
	IssuedAt  int64           `json:"iat"`
	ExpiresAt int64           `json:"exp"`
	ID        string          `json:"jti"`
}

// Encode seals v into a token valid for maxAge. secrets is ordered
// newest first; encoding always uses the newest entry. A maxAge of zero
// produces an already-expired token, used when issuing deletion cookies.
func Encode(v any, secrets []string, salt string, maxAge time.Duration) (string, error) {
	if len(secrets) == 0 {
		return "", fmt.Errorf("no secret configured")
	}

	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshaling payload: %w", err)
	}

	now := time.Now()
	env := envelope{
		Data:     data,
		IssuedAt: now.Unix(),
		ID:       uuid.NewString(),
	}
	if maxAge > 0 {
		env.ExpiresAt = now.Add(maxAge).Unix()
	} else {
		env.ExpiresAt = now.Add(-ClockSkew).Unix()
	}

	plaintext, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("marshaling envelope: %w", err)
	}

	key := deriveKey(secrets[0], salt)
	enc, err := jose.NewEncrypter(
		jose.A256CBC_HS512,
		jose.Recipient{Algorithm: jose.DIRECT, Key: key},
		(&jose.EncrypterOptions{}).WithContentType("JWT"),
	)
	if err != nil {
		return "", fmt.Errorf("creating encrypter: %w", err)
	}

	obj, err := enc.Encrypt(plaintext)
	if err != nil {
		return "", fmt.Errorf("encrypting: %w", err)
	}

	return obj.CompactSerialize()
}

// Decode opens a token into v. Every secret is tried in order, newest
// first, so tokens minted before a secret rotation keep decoding until
// they expire. Any failure is reported as ErrDecode.
func Decode(token string, secrets []string, salt string, v any) error {
	if token == "" || len(secrets) == 0 {
		return ErrDecode
	}

	obj, err := jose.ParseEncrypted(token,
		[]jose.KeyAlgorithm{jose.DIRECT},
		[]jose.ContentEncryption{jose.A256CBC_HS512},
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDecode, err)
	}

	var plaintext []byte
	decrypted := false
	for _, secret := range secrets {
		plaintext, err = obj.Decrypt(deriveKey(secret, salt))
		if err == nil {
			decrypted = true
			break
		}
	}
	if !decrypted {
		return fmt.Errorf("%w: no configured secret matched", ErrDecode)
	}

	var env envelope
	if err := json.Unmarshal(plaintext, &env); err != nil {
		return fmt.Errorf("%w: %v", ErrDecode, err)
	}

	if env.ExpiresAt > 0 && time.Now().After(time.Unix(env.ExpiresAt, 0).Add(ClockSkew)) {
		return fmt.Errorf("%w: token expired", ErrDecode)
	}

	if err := json.Unmarshal(env.Data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return nil
}

// deriveKey stretches (secret, salt) into the content encryption key.
// The salt doubles as HKDF info so each cookie purpose gets an
// independent key.
func deriveKey(secret, salt string) []byte {
	info := "authgate encryption key (" + salt + ")"
	r := hkdf.New(sha256.New, []byte(secret), []byte(salt), []byte(info))
	key := make([]byte, keySize)
	if _, err := io.ReadFull(r, key); err != nil {
		// Only possible if the reader is exhausted, which cannot
		// happen for a 64 byte read from HKDF-SHA256.
		panic(err)
	}
	return key
}
