package auth

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// DefaultBypassPaths are served without looking at the Authorization header.
var DefaultBypassPaths = []string{
	"/api/v1/auth/login",
	"/api/v1/auth/register",
	"/api/v1/auth/logout",
}

// TokenAuthenticator resolves a bearer token. Authenticator satisfies it.
type TokenAuthenticator interface {
	Authenticate(ctx context.Context, token string, now time.Time) (*Principal, error)
}

// Gate is the per-request authentication middleware.
//
// It attaches a Principal to the request context when a valid bearer token
// is presented and otherwise lets the request continue anonymously. It never
// writes a response; rejection is the Policy's job.
type Gate struct {
	auth   TokenAuthenticator
	bypass map[string]struct{}
	logger *slog.Logger
	now    func() time.Time
}

// NewGate creates a Gate. Paths in bypass are matched exactly.
func NewGate(a TokenAuthenticator, bypass []string, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	set := make(map[string]struct{}, len(bypass))
	for _, p := range bypass {
		set[p] = struct{}{}
	}
	return &Gate{
		auth:   a,
		bypass: set,
		logger: logger,
		now:    time.Now,
	}
}

// Middleware wraps next with token resolution.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, skip := g.bypass[r.URL.Path]; skip {
			next.ServeHTTP(w, r)
			return
		}

		token, ok := BearerToken(r)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		principal, err := g.auth.Authenticate(r.Context(), token, g.now())
		if err != nil {
			g.logger.Debug("bearer token rejected",
				"path", r.URL.Path,
				"reason", err.Error(),
			)
			next.ServeHTTP(w, r)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
	})
}

// BearerToken extracts the token from an "Authorization: Bearer <token>"
// header. The scheme is matched case-insensitively.
func BearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", false
	}
	return token, true
}
