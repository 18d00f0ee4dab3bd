package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"brandline/internal/domain"
	"brandline/internal/repo"
)

type AuthConfig struct {
	JWTSecret string
	// TrustedHeaders accepts X-Actor-Id/X-Actor-Role from a fronting gateway.
	TrustedHeaders bool
	CacheSize      int
	CacheTTL       time.Duration
	Logger         *slog.Logger
}

// Principal is the verified caller.
type Principal struct {
	domain.Actor
	Source string
}

type principalKey struct{}

func (c AuthConfig) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

func withPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func principalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

func actorFromContext(ctx context.Context) (domain.Actor, huma.StatusError) {
	if p, ok := principalFromContext(ctx); ok && p.ID != "" {
		return p.Actor, nil
	}
	return domain.Actor{}, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
}

type jwtClaims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

func authenticateJWT(token string, secret string) (Principal, error) {
	if strings.TrimSpace(secret) == "" {
		return Principal{}, errors.New("jwt secret not configured")
	}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	claims := &jwtClaims{}
	parsed, err := parser.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	})
	if err != nil {
		return Principal{}, err
	}
	if !parsed.Valid {
		return Principal{}, errors.New("invalid token")
	}
	if claims.Subject == "" {
		return Principal{}, errors.New("subject claim required")
	}
	role, err := domain.ParseRole(claims.Role)
	if err != nil {
		return Principal{}, err
	}
	return Principal{Actor: domain.Actor{ID: claims.Subject, Role: role}, Source: "jwt"}, nil
}

// keyAuthenticator resolves API keys to users. Lookups are cached by key hash
// so a hot client does not hit SQLite on every request.
type keyAuthenticator struct {
	repo  repo.Repo
	cache *expirable.LRU[string, Principal]
}

func newKeyAuthenticator(r repo.Repo, size int, ttl time.Duration) *keyAuthenticator {
	if size <= 0 {
		size = 512
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &keyAuthenticator{repo: r, cache: expirable.NewLRU[string, Principal](size, nil, ttl)}
}

func (k *keyAuthenticator) authenticate(ctx context.Context, key string) (Principal, error) {
	if strings.TrimSpace(key) == "" {
		return Principal{}, errors.New("api key required")
	}
	hash := repo.HashAPIKey(key)
	if p, ok := k.cache.Get(hash); ok {
		return p, nil
	}
	u, err := k.repo.UserByAPIKeyHash(ctx, hash)
	if err != nil {
		return Principal{}, err
	}
	if !u.Active {
		return Principal{}, errors.New("user inactive")
	}
	p := Principal{Actor: domain.Actor{ID: u.ID, Role: u.Role}, Source: "api_key"}
	k.cache.Add(hash, p)
	return p, nil
}

// forget evicts every cached key of a user, so a deactivation applies to the
// next request instead of after the TTL.
func (k *keyAuthenticator) forget(userID string) {
	for _, hash := range k.cache.Keys() {
		if p, ok := k.cache.Peek(hash); ok && p.ID == userID {
			k.cache.Remove(hash)
		}
	}
}

func bearerToken(authz string) (string, bool) {
	parts := strings.Fields(authz)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	return parts[1], true
}

func newAuthMiddleware(basePath string, cfg AuthConfig, keys *keyAuthenticator) func(http.Handler) http.Handler {
	healthPath := path.Join(basePath, "health")
	specPath := path.Join(basePath, "openapi.json")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if !strings.HasPrefix(req.URL.Path, basePath) || req.URL.Path == healthPath || req.URL.Path == specPath {
				next.ServeHTTP(w, req)
				return
			}

			authz := strings.TrimSpace(req.Header.Get("Authorization"))
			apiKeyHeader := strings.TrimSpace(req.Header.Get("X-Api-Key"))
			headerActor := strings.TrimSpace(req.Header.Get("X-Actor-Id"))

			if authz != "" {
				token, ok := bearerToken(authz)
				if !ok {
					respondStatusError(w, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil))
					return
				}
				principal, err := authenticateJWT(token, cfg.JWTSecret)
				if err != nil {
					cfg.logger().Debug("jwt rejected", "error", err)
					respondStatusError(w, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil))
					return
				}
				next.ServeHTTP(w, req.WithContext(withPrincipal(req.Context(), principal)))
				return
			}

			if apiKeyHeader != "" {
				principal, err := keys.authenticate(req.Context(), apiKeyHeader)
				if err != nil {
					cfg.logger().Debug("api key rejected", "error", err)
					respondStatusError(w, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil))
					return
				}
				next.ServeHTTP(w, req.WithContext(withPrincipal(req.Context(), principal)))
				return
			}

			if headerActor != "" && cfg.TrustedHeaders {
				role, err := domain.ParseRole(strings.TrimSpace(req.Header.Get("X-Actor-Role")))
				if err != nil {
					respondStatusError(w, newAPIError(http.StatusUnauthorized, "invalid_credentials", "X-Actor-Role: "+err.Error(), nil))
					return
				}
				ctx := withPrincipal(req.Context(), Principal{
					Actor:  domain.Actor{ID: headerActor, Role: role},
					Source: "trusted_header",
				})
				next.ServeHTTP(w, req.WithContext(ctx))
				return
			}

			respondStatusError(w, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil))
		})
	}
}

func respondStatusError(w http.ResponseWriter, err huma.StatusError) {
	status := http.StatusInternalServerError
	if e, ok := err.(interface{ GetStatus() int }); ok {
		status = e.GetStatus()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(err)
}
