package session

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"golang.org/x/crypto/hkdf"

	"scriptstudio/pkg/domain"
)

// MinSecretLength is the shortest secret accepted for session signing.
const MinSecretLength = 32

const keyInfo = "scriptstudio session v1"

// Strict decoding rejects non-zero trailing bits so that every bit of the
// token is covered by verification.
var encoding = base64.RawURLEncoding.Strict()

var ErrSecretTooShort = fmt.Errorf("session secret must be at least %d characters", MinSecretLength)

// Payload is the signed content of a session token. IssuedAt is informational;
// tokens carry no expiry of their own and rely on the cookie Max-Age.
type Payload struct {
	Subject  string `json:"sub"`
	Email    string `json:"email,omitempty"`
	Name     string `json:"name,omitempty"`
	IssuedAt int64  `json:"iat"`
}

// Codec creates and parses HMAC-SHA256 signed session tokens of the form
// base64url(payload) "." base64url(mac), where mac covers the JSON payload bytes.
type Codec struct {
	key []byte
	now func() time.Time
}

// NewCodec derives the signing key once from secret.
func NewCodec(secret string) (*Codec, error) {
	if len(secret) < MinSecretLength {
		return nil, ErrSecretTooShort
	}
	key := make([]byte, sha256.Size)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(keyInfo)), key); err != nil {
		return nil, fmt.Errorf("derive session key: %w", err)
	}
	return &Codec{key: key, now: time.Now}, nil
}

// Create signs a session token for identity.
func (c *Codec) Create(identity domain.Identity) (string, error) {
	if strings.TrimSpace(identity.Subject) == "" {
		return "", errors.New("session subject required")
	}
	body, err := json.Marshal(Payload{
		Subject:  identity.Subject,
		Email:    identity.Email,
		Name:     identity.Name,
		IssuedAt: c.now().Unix(),
	})
	if err != nil {
		return "", err
	}
	return encoding.EncodeToString(body) + "." + encoding.EncodeToString(c.sign(body)), nil
}

// Parse verifies token and returns its payload. Any malformed, tampered or
// undecodable token yields false.
func (c *Codec) Parse(token string) (Payload, bool) {
	encoded, sig, ok := strings.Cut(strings.TrimSpace(token), ".")
	if !ok || encoded == "" || sig == "" || strings.Contains(sig, ".") {
		return Payload{}, false
	}
	gotSig, err := encoding.DecodeString(sig)
	if err != nil {
		return Payload{}, false
	}
	body, err := encoding.DecodeString(encoded)
	if err != nil {
		return Payload{}, false
	}
	if !hmac.Equal(gotSig, c.sign(body)) {
		return Payload{}, false
	}
	var p Payload
	if err := json.Unmarshal(body, &p); err != nil {
		return Payload{}, false
	}
	if strings.TrimSpace(p.Subject) == "" {
		return Payload{}, false
	}
	return p, true
}

func (c *Codec) sign(body []byte) []byte {
	mac := hmac.New(sha256.New, c.key)
	mac.Write(body)
	return mac.Sum(nil)
}
