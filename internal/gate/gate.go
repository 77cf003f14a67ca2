package gate

import (
	"context"
	"net/http"
	"net/url"
	"path"
	"strings"

	"scriptstudio/internal/access"
	"scriptstudio/internal/util"
	"scriptstudio/pkg/domain"
)

const (
	HeaderAssertion = "cf-access-jwt-assertion"
	CookieAssertion = "CF_Authorization"

	HeaderUserSub   = "x-user-sub"
	HeaderUserEmail = "x-user-email"
	HeaderUserName  = "x-user-name"

	DefaultSessionCookie = "studio_session"
	SessionMaxAge        = 7 * 24 * 60 * 60
)

var defaultPublicPaths = []string{"/healthz", "/favicon.ico", "/robots.txt"}

var staticExtensions = map[string]struct{}{
	".css": {}, ".js": {}, ".map": {}, ".png": {}, ".jpg": {}, ".jpeg": {}, ".gif": {},
	".svg": {}, ".ico": {}, ".webp": {}, ".woff": {}, ".woff2": {}, ".ttf": {}, ".txt": {},
}

// Verifier checks an identity-provider assertion.
type Verifier interface {
	Verify(ctx context.Context, token string) access.Result
}

// SessionIssuer mints session tokens for verified identities.
type SessionIssuer interface {
	Create(identity domain.Identity) (string, error)
}

// Config wires the gate. A nil Sessions disables session issuance.
type Config struct {
	Verifier       Verifier
	DevBypass      *access.DevBypass
	Sessions       SessionIssuer
	LoginURL       string
	Development    bool
	PublicPaths    []string
	CookieName     string
	TrustedProxies *util.TrustedProxies
}

// Gate authenticates every non-public request before it reaches next.
type Gate struct {
	verifier    Verifier
	devBypass   *access.DevBypass
	sessions    SessionIssuer
	loginURL    string
	development bool
	public      map[string]struct{}
	cookieName  string
	proxies     *util.TrustedProxies
}

// New builds a gate from cfg.
func New(cfg Config) *Gate {
	public := make(map[string]struct{})
	paths := cfg.PublicPaths
	if len(paths) == 0 {
		paths = defaultPublicPaths
	}
	for _, p := range paths {
		if p = strings.TrimSpace(p); p != "" {
			public[p] = struct{}{}
		}
	}
	cookieName := strings.TrimSpace(cfg.CookieName)
	if cookieName == "" {
		cookieName = DefaultSessionCookie
	}
	return &Gate{
		verifier:    cfg.Verifier,
		devBypass:   cfg.DevBypass,
		sessions:    cfg.Sessions,
		loginURL:    cfg.LoginURL,
		development: cfg.Development,
		public:      public,
		cookieName:  cookieName,
		proxies:     cfg.TrustedProxies,
	}
}

// CookieName returns the session cookie name the gate issues.
func (g *Gate) CookieName() string {
	return g.cookieName
}

// Wrap returns next guarded by the gate.
func (g *Gate) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Identity headers are only ever set by the gate itself.
		r.Header.Del(HeaderUserSub)
		r.Header.Del(HeaderUserEmail)
		r.Header.Del(HeaderUserName)

		if r.Method == http.MethodOptions || g.isPublic(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		res := g.verifier.Verify(r.Context(), assertion(r))
		if res.Status == access.StatusUnauthorized && g.development {
			if id, ok := g.devBypass.Identify(r); ok {
				res = access.Success(id)
				g.audit(r, "gate.dev_bypass", "success", "sub", id.Subject)
			}
		}

		switch res.Status {
		case access.StatusSuccess:
		case access.StatusError:
			g.audit(r, "gate.verify", "error", "err", res.Err)
			g.redirectToLogin(w, r)
			return
		default:
			g.audit(r, "gate.verify", "fail", "reason", "missing_assertion")
			g.redirectToLogin(w, r)
			return
		}

		id := res.Identity
		r.Header.Set(HeaderUserSub, id.Subject)
		if id.Email != "" {
			r.Header.Set(HeaderUserEmail, id.Email)
		}
		if id.Name != "" {
			r.Header.Set(HeaderUserName, id.Name)
		}
		g.issueSession(w, r, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey{}, id)))
	})
}

func (g *Gate) issueSession(w http.ResponseWriter, r *http.Request, id domain.Identity) {
	if g.sessions == nil {
		return
	}
	token, err := g.sessions.Create(id)
	if err != nil {
		util.LoggerFromContext(r.Context()).Error("session issue failed", "err", err)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     g.cookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   SessionMaxAge,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   !g.development,
	})
}

func (g *Gate) redirectToLogin(w http.ResponseWriter, r *http.Request) {
	target := g.loginURL
	if u, err := url.Parse(g.loginURL); err == nil {
		q := u.Query()
		q.Set("redirect_url", originalURL(r))
		u.RawQuery = q.Encode()
		target = u.String()
	}
	http.Redirect(w, r, target, http.StatusFound)
}

func (g *Gate) isPublic(p string) bool {
	if _, ok := g.public[p]; ok {
		return true
	}
	if strings.HasPrefix(p, "/static/") {
		return true
	}
	_, ok := staticExtensions[strings.ToLower(path.Ext(p))]
	return ok
}

func (g *Gate) audit(r *http.Request, event, outcome string, attrs ...any) {
	logAttrs := []any{
		"event", event,
		"outcome", outcome,
		"path", r.URL.Path,
		"method", r.Method,
		"ip", util.ClientIP(r, g.proxies),
	}
	logAttrs = append(logAttrs, attrs...)
	logger := util.LoggerFromContext(r.Context())
	if outcome == "success" {
		logger.Info("security_event", logAttrs...)
		return
	}
	logger.Warn("security_event", logAttrs...)
}

func assertion(r *http.Request) string {
	if v := strings.TrimSpace(r.Header.Get(HeaderAssertion)); v != "" {
		return v
	}
	if c, err := r.Cookie(CookieAssertion); err == nil {
		return strings.TrimSpace(c.Value)
	}
	return ""
}

func originalURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil || strings.EqualFold(strings.TrimSpace(r.Header.Get("X-Forwarded-Proto")), "https") {
		scheme = "https"
	}
	host := r.Host
	if host == "" {
		host = r.URL.Host
	}
	return scheme + "://" + host + r.URL.RequestURI()
}

type identityKey struct{}

// IdentityFromRequest returns the identity the gate verified for r. The
// x-user-* headers are informational for downstream proxies and are never
// read back.
func IdentityFromRequest(r *http.Request) (domain.Identity, bool) {
	id, ok := r.Context().Value(identityKey{}).(domain.Identity)
	if !ok || strings.TrimSpace(id.Subject) == "" {
		return domain.Identity{}, false
	}
	return id, true
}
