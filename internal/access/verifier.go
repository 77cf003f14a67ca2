package access

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"scriptstudio/pkg/domain"
)

const (
	defaultLeeway       = 30 * time.Second
	defaultJWKSCacheTTL = 5 * time.Minute
)

var (
	errUnknownKey = errors.New("unknown token key")
	errNoSubject  = errors.New("token subject missing")
)

var defaultAlgorithms = []string{"RS256", "RS384", "RS512", "ES256", "ES384"}

// Status is the outcome class of a verification.
type Status int

const (
	StatusUnauthorized Status = iota
	StatusSuccess
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusError:
		return "error"
	default:
		return "unauthorized"
	}
}

// Result is the three-way verification outcome. Identity is set only on
// success and Err only on error.
type Result struct {
	Status   Status
	Identity domain.Identity
	Err      error
}

func Unauthorized() Result               { return Result{Status: StatusUnauthorized} }
func Success(id domain.Identity) Result { return Result{Status: StatusSuccess, Identity: id} }
func Failure(err error) Result          { return Result{Status: StatusError, Err: err} }

// Config configures assertion verification.
type Config struct {
	Settings   Settings
	Leeway     time.Duration
	HTTPClient *http.Client
}

// Verifier validates identity-provider assertions against a remote JWKS.
// Keys are fetched lazily and refreshed on expiry or unknown kid.
type Verifier struct {
	audience   string
	issuer     string
	algorithms []string
	leeway     time.Duration
	jwksURL    string
	httpClient *http.Client

	mu         sync.RWMutex
	keys       map[string]any
	keysExpire time.Time
}

type accessClaims struct {
	jwt.RegisteredClaims
	Email         string `json:"email"`
	IdentityEmail string `json:"identity_email"`
	Name          string `json:"name"`
	CommonName    string `json:"common_name"`
}

// NewVerifier creates an assertion verifier.
func NewVerifier(cfg Config) (*Verifier, error) {
	audience := strings.TrimSpace(cfg.Settings.Audience)
	if audience == "" {
		return nil, errors.New("token verifier requires audience")
	}
	jwksURL := strings.TrimSpace(cfg.Settings.JWKSURL)
	if jwksURL == "" {
		return nil, errors.New("token verifier requires jwksURL")
	}
	leeway := cfg.Leeway
	if leeway <= 0 {
		leeway = defaultLeeway
	}
	algorithms := defaultAlgorithms
	if alg := strings.TrimSpace(cfg.Settings.Algorithm); alg != "" {
		algorithms = []string{alg}
	}
	v := &Verifier{
		audience:   audience,
		issuer:     strings.TrimSpace(cfg.Settings.Issuer),
		algorithms: algorithms,
		leeway:     leeway,
		jwksURL:    jwksURL,
		httpClient: cfg.HTTPClient,
	}
	if v.httpClient == nil {
		v.httpClient = &http.Client{Timeout: 5 * time.Second}
	}
	return v, nil
}

// Verify checks token and never panics past this boundary.
func (v *Verifier) Verify(ctx context.Context, token string) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = Failure(fmt.Errorf("verify panic: %v", r))
		}
	}()
	token = strings.TrimSpace(token)
	if token == "" {
		return Unauthorized()
	}
	claims, err := v.verifyJWKS(ctx, token)
	if err != nil {
		return Failure(err)
	}
	subject := strings.TrimSpace(claims.Subject)
	if subject == "" {
		return Failure(errNoSubject)
	}
	return Success(domain.Identity{
		Subject: subject,
		Email:   firstNonEmpty(claims.Email, claims.IdentityEmail),
		Name:    firstNonEmpty(claims.Name, claims.CommonName),
		Issuer:  claims.Issuer,
		Token:   token,
	})
}

func (v *Verifier) verifyJWKS(ctx context.Context, token string) (accessClaims, error) {
	if v.keysExpired() {
		if err := v.refreshJWKS(ctx); err != nil {
			return accessClaims{}, err
		}
	}
	claims, err := v.parseJWKS(token)
	if err == nil || !errors.Is(err, errUnknownKey) {
		return claims, err
	}
	if refreshErr := v.refreshJWKS(ctx); refreshErr != nil {
		return claims, refreshErr
	}
	return v.parseJWKS(token)
}

func (v *Verifier) parseJWKS(token string) (accessClaims, error) {
	claims := accessClaims{}
	keys := v.copyKeys()
	opts := []jwt.ParserOption{
		jwt.WithValidMethods(v.algorithms),
		jwt.WithAudience(v.audience),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(v.leeway),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		kid = strings.TrimSpace(kid)
		if kid == "" {
			return nil, errUnknownKey
		}
		key, ok := keys[kid]
		if !ok {
			return nil, errUnknownKey
		}
		return key, nil
	}, opts...)
	if err != nil || !parsed.Valid {
		if err == nil {
			err = errors.New("invalid token")
		}
		return claims, err
	}
	return claims, nil
}

func (v *Verifier) keysExpired() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.keys) == 0 || time.Now().UTC().After(v.keysExpire)
}

func (v *Verifier) copyKeys() map[string]any {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make(map[string]any, len(v.keys))
	for kid, key := range v.keys {
		out[kid] = key
	}
	return out
}

type jwk struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Crv string `json:"crv"`
	N   string `json:"n"`
	E   string `json:"e"`
	X   string `json:"x"`
	Y   string `json:"y"`
}

func (v *Verifier) refreshJWKS(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.jwksURL, nil)
	if err != nil {
		return err
	}
	resp, err := v.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("fetch jwks: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch jwks: status %d", resp.StatusCode)
	}

	var payload struct {
		Keys []jwk `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return fmt.Errorf("decode jwks: %w", err)
	}

	keys := make(map[string]any, len(payload.Keys))
	for _, k := range payload.Keys {
		kid := strings.TrimSpace(k.Kid)
		if kid == "" {
			continue
		}
		var (
			pub any
			err error
		)
		switch strings.ToUpper(strings.TrimSpace(k.Kty)) {
		case "RSA":
			pub, err = parseRSAPublicKey(k.N, k.E)
		case "EC":
			pub, err = parseECPublicKey(k.Crv, k.X, k.Y)
		default:
			continue
		}
		if err != nil {
			continue
		}
		keys[kid] = pub
	}
	if len(keys) == 0 {
		return errors.New("jwks contains no usable keys")
	}

	ttl := parseCacheMaxAge(resp.Header.Get("Cache-Control"))
	if ttl <= 0 {
		ttl = defaultJWKSCacheTTL
	}

	v.mu.Lock()
	v.keys = keys
	v.keysExpire = time.Now().UTC().Add(ttl)
	v.mu.Unlock()
	return nil
}

func parseRSAPublicKey(nRaw, eRaw string) (any, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(strings.TrimSpace(nRaw))
	if err != nil {
		return nil, err
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(strings.TrimSpace(eRaw))
	if err != nil {
		return nil, err
	}
	n := new(big.Int).SetBytes(nBytes)
	eBig := new(big.Int).SetBytes(eBytes)
	if n.Sign() <= 0 || !eBig.IsInt64() {
		return nil, errors.New("invalid rsa key")
	}
	e := int(eBig.Int64())
	if e <= 0 {
		return nil, errors.New("invalid rsa exponent")
	}
	return &rsa.PublicKey{N: n, E: e}, nil
}

func parseECPublicKey(crv, xRaw, yRaw string) (any, error) {
	var curve elliptic.Curve
	switch strings.TrimSpace(crv) {
	case "P-256":
		curve = elliptic.P256()
	case "P-384":
		curve = elliptic.P384()
	default:
		return nil, fmt.Errorf("unsupported curve %q", crv)
	}
	xBytes, err := base64.RawURLEncoding.DecodeString(strings.TrimSpace(xRaw))
	if err != nil {
		return nil, err
	}
	yBytes, err := base64.RawURLEncoding.DecodeString(strings.TrimSpace(yRaw))
	if err != nil {
		return nil, err
	}
	x := new(big.Int).SetBytes(xBytes)
	y := new(big.Int).SetBytes(yBytes)
	if !curve.IsOnCurve(x, y) {
		return nil, errors.New("ec point not on curve")
	}
	return &ecdsa.PublicKey{Curve: curve, X: x, Y: y}, nil
}

func parseCacheMaxAge(cacheControl string) time.Duration {
	cacheControl = strings.TrimSpace(cacheControl)
	if cacheControl == "" {
		return 0
	}
	for _, part := range strings.Split(cacheControl, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if !strings.HasPrefix(part, "max-age=") {
			continue
		}
		secs, err := time.ParseDuration(strings.TrimSpace(strings.TrimPrefix(part, "max-age=")) + "s")
		if err != nil {
			return 0
		}
		return secs
	}
	return 0
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
