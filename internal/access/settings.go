package access

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/caarlos0/env/v11"
)

const (
	certsPath = "/cdn-cgi/access/certs"
	loginPath = "/cdn-cgi/access/login"
)

// Settings is the resolved identity-provider configuration. It is resolved
// once at start and shared read-only afterwards.
type Settings struct {
	Audience string
	JWKSURL  string
	LoginURL string
	// Algorithm pins the accepted signing algorithm when non-empty.
	Algorithm string
	Issuer    string
}

type rawSettings struct {
	Audience   string `env:"CF_ACCESS_AUD"`
	TeamDomain string `env:"CF_ACCESS_TEAM_DOMAIN"`
	JWKSURL    string `env:"CF_ACCESS_JWKS_URL"`
	LoginURL   string `env:"CF_ACCESS_LOGIN_URL"`
	Algorithm  string `env:"CF_ACCESS_ALG"`
	Issuer     string `env:"CF_ACCESS_ISSUER"`
}

// ResolveSettings reads identity-provider settings from environ, or from the
// process environment when environ is nil.
func ResolveSettings(environ map[string]string) (Settings, error) {
	var raw rawSettings
	opts := env.Options{}
	if environ != nil {
		opts.Environment = environ
	}
	if err := env.ParseWithOptions(&raw, opts); err != nil {
		return Settings{}, fmt.Errorf("parse env: %w", err)
	}
	return raw.resolve()
}

func (r rawSettings) resolve() (Settings, error) {
	audience := strings.TrimSpace(r.Audience)
	if audience == "" {
		return Settings{}, errors.New("CF_ACCESS_AUD is required")
	}
	team := normalizeTeamDomain(r.TeamDomain)

	jwksURL := strings.TrimSpace(r.JWKSURL)
	if jwksURL == "" {
		if team == "" {
			return Settings{}, errors.New("CF_ACCESS_JWKS_URL or CF_ACCESS_TEAM_DOMAIN is required")
		}
		jwksURL = "https://" + team + certsPath
	}
	if _, err := url.ParseRequestURI(jwksURL); err != nil {
		return Settings{}, fmt.Errorf("invalid jwks url: %w", err)
	}

	loginURL := strings.TrimSpace(r.LoginURL)
	if loginURL == "" {
		switch {
		case strings.HasSuffix(jwksURL, "/certs"):
			loginURL = strings.TrimSuffix(jwksURL, "/certs") + "/login"
		case team != "":
			loginURL = "https://" + team + loginPath
		default:
			return Settings{}, errors.New("CF_ACCESS_LOGIN_URL is required when it cannot be derived from the jwks url")
		}
	}

	return Settings{
		Audience:  audience,
		JWKSURL:   jwksURL,
		LoginURL:  loginURL,
		Algorithm: strings.TrimSpace(r.Algorithm),
		Issuer:    strings.TrimSpace(r.Issuer),
	}, nil
}

func normalizeTeamDomain(raw string) string {
	team := strings.TrimSpace(raw)
	team = strings.TrimPrefix(team, "https://")
	team = strings.TrimPrefix(team, "http://")
	return strings.TrimRight(team, "/")
}
