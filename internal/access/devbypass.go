package access

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"scriptstudio/pkg/domain"
)

const (
	HeaderDevAuth  = "x-dev-auth"
	HeaderDevSub   = "x-dev-sub"
	HeaderDevEmail = "x-dev-email"
	HeaderDevName  = "x-dev-name"

	// DevBypassToken marks identities produced by the dev bypass.
	DevBypassToken = "dev-bypass"

	defaultDevSubject = "dev-user"
	defaultDevEmail   = "dev@localhost"
	defaultDevName    = "Developer"
)

// DevBypass resolves a synthetic identity from request headers when the
// caller presents the shared secret. A nil *DevBypass never matches.
type DevBypass struct {
	secret []byte
}

// NewDevBypass returns nil unless development mode is on and a secret is set.
func NewDevBypass(secret string, development bool) *DevBypass {
	secret = strings.TrimSpace(secret)
	if secret == "" || !development {
		return nil
	}
	return &DevBypass{secret: []byte(secret)}
}

// Identify returns the bypass identity when the x-dev-auth header matches.
func (d *DevBypass) Identify(r *http.Request) (domain.Identity, bool) {
	if d == nil || len(d.secret) == 0 || r == nil {
		return domain.Identity{}, false
	}
	got := strings.TrimSpace(r.Header.Get(HeaderDevAuth))
	if got == "" || subtle.ConstantTimeCompare([]byte(got), d.secret) != 1 {
		return domain.Identity{}, false
	}
	return domain.Identity{
		Subject: headerOr(r, HeaderDevSub, defaultDevSubject),
		Email:   headerOr(r, HeaderDevEmail, defaultDevEmail),
		Name:    headerOr(r, HeaderDevName, defaultDevName),
		Token:   DevBypassToken,
	}, true
}

func headerOr(r *http.Request, name, fallback string) string {
	if v := strings.TrimSpace(r.Header.Get(name)); v != "" {
		return v
	}
	return fallback
}
