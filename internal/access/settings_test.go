package access

import "testing"

func TestResolveSettings(t *testing.T) {
	tests := []struct {
		name      string
		environ   map[string]string
		wantErr   bool
		wantJWKS  string
		wantLogin string
	}{
		{
			name:    "missing audience",
			environ: map[string]string{"CF_ACCESS_TEAM_DOMAIN": "acme.cloudflareaccess.com"},
			wantErr: true,
		},
		{
			name:    "missing key source",
			environ: map[string]string{"CF_ACCESS_AUD": "aud-1"},
			wantErr: true,
		},
		{
			name: "derived from team domain",
			environ: map[string]string{
				"CF_ACCESS_AUD":         "aud-1",
				"CF_ACCESS_TEAM_DOMAIN": "https://acme.cloudflareaccess.com/",
			},
			wantJWKS:  "https://acme.cloudflareaccess.com/cdn-cgi/access/certs",
			wantLogin: "https://acme.cloudflareaccess.com/cdn-cgi/access/login",
		},
		{
			name: "explicit jwks derives login",
			environ: map[string]string{
				"CF_ACCESS_AUD":      "aud-1",
				"CF_ACCESS_JWKS_URL": "https://idp.example.com/keys/certs",
			},
			wantJWKS:  "https://idp.example.com/keys/certs",
			wantLogin: "https://idp.example.com/keys/login",
		},
		{
			name: "explicit login wins",
			environ: map[string]string{
				"CF_ACCESS_AUD":       "aud-1",
				"CF_ACCESS_JWKS_URL":  "https://idp.example.com/jwks.json",
				"CF_ACCESS_LOGIN_URL": "https://idp.example.com/signin",
			},
			wantJWKS:  "https://idp.example.com/jwks.json",
			wantLogin: "https://idp.example.com/signin",
		},
		{
			name: "underivable login",
			environ: map[string]string{
				"CF_ACCESS_AUD":      "aud-1",
				"CF_ACCESS_JWKS_URL": "https://idp.example.com/jwks.json",
			},
			wantErr: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ResolveSettings(tc.environ)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("resolve settings: %v", err)
			}
			if got.JWKSURL != tc.wantJWKS {
				t.Fatalf("jwks url = %q, want %q", got.JWKSURL, tc.wantJWKS)
			}
			if got.LoginURL != tc.wantLogin {
				t.Fatalf("login url = %q, want %q", got.LoginURL, tc.wantLogin)
			}
			if got.Audience != "aud-1" {
				t.Fatalf("audience = %q", got.Audience)
			}
		})
	}
}
