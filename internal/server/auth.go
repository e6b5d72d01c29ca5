package server

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/golang-jwt/jwt/v5"

	"ckdt/internal/domain"
	"ckdt/internal/engine"
	"ckdt/internal/engine/auth"
)

type AuthConfig struct {
	// JWTSecret signs login tokens. When empty a random per-process secret is
	// generated, so tokens do not survive a restart.
	JWTSecret string
	TokenTTL  time.Duration
	Logger    *log.Logger
	Now       func() time.Time
}

// Principal is the authenticated caller of a request.
type Principal struct {
	User   domain.User
	Actor  auth.Actor
	Source string
}

type principalKey struct{}

func (c AuthConfig) logger() *log.Logger {
	return logger(c.Logger)
}

func (c AuthConfig) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

func (c *AuthConfig) ensureSecret() error {
	if strings.TrimSpace(c.JWTSecret) != "" {
		return nil
	}
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return err
	}
	c.JWTSecret = hex.EncodeToString(buf)
	c.logger().Printf("WARNING: no JWT secret configured; generated an ephemeral one, tokens will not survive a restart")
	return nil
}

func withPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func principalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// actorFromContext returns the caller, or the zero actor for anonymous requests.
func actorFromContext(ctx context.Context) auth.Actor {
	if p, ok := principalFromContext(ctx); ok {
		return p.Actor
	}
	return auth.Actor{}
}

// requireActor fails with 401 for anonymous requests.
func requireActor(ctx context.Context) (auth.Actor, huma.StatusError) {
	if a := actorFromContext(ctx); a.ID != "" {
		return a, nil
	}
	return auth.Actor{}, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
}

type jwtClaims struct {
	jwt.RegisteredClaims
	Admin bool `json:"adm,omitempty"`
}

func signToken(cfg AuthConfig, u domain.User) (string, time.Time, error) {
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	now := cfg.now()
	exp := now.Add(ttl)
	claims := jwtClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			Issuer:    "ckdt",
		},
		Admin: u.IsAdmin,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(cfg.JWTSecret))
	return token, exp, err
}

func authenticateJWT(token string, cfg AuthConfig) (string, error) {
	if strings.TrimSpace(cfg.JWTSecret) == "" {
		return "", errors.New("jwt secret not configured")
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(cfg.now),
		jwt.WithExpirationRequired(),
	)
	claims := &jwtClaims{}
	parsed, err := parser.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return []byte(cfg.JWTSecret), nil
	})
	if err != nil {
		return "", err
	}
	if !parsed.Valid {
		return "", errors.New("invalid token")
	}
	if claims.Subject == "" {
		return "", errors.New("subject claim required")
	}
	return claims.Subject, nil
}

func bearerToken(authz string) (string, bool) {
	parts := strings.Fields(authz)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	return parts[1], true
}

// newAuthMiddleware attaches a Principal when credentials are sent. Requests
// without credentials pass through anonymously; bad credentials get a 401.
// The admin flag is read from the store on every request, so demoted or
// removed accounts lose access before their token expires.
func newAuthMiddleware(basePath string, cfg AuthConfig, e engine.Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			// Only enforce for API base path.
			if basePath != "" && !strings.HasPrefix(req.URL.Path, basePath) {
				next.ServeHTTP(w, req)
				return
			}
			authz := strings.TrimSpace(req.Header.Get("Authorization"))
			apiKeyHeader := strings.TrimSpace(req.Header.Get("X-Api-Key"))
			denied := newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil)

			switch {
			case authz != "":
				token, ok := bearerToken(authz)
				if !ok {
					respondStatusError(w, denied)
					return
				}
				userID, err := authenticateJWT(token, cfg)
				if err != nil {
					respondStatusError(w, denied)
					return
				}
				actor, user, err := e.ActorOf(req.Context(), userID)
				if err != nil {
					cfg.logger().Printf("auth: token for unknown user %s: %v", userID, err)
					respondStatusError(w, denied)
					return
				}
				ctx := withPrincipal(req.Context(), Principal{User: user, Actor: actor, Source: "jwt"})
				next.ServeHTTP(w, req.WithContext(ctx))
			case apiKeyHeader != "":
				actor, user, err := e.ResolveAPIKey(req.Context(), apiKeyHeader)
				if err != nil {
					respondStatusError(w, denied)
					return
				}
				ctx := withPrincipal(req.Context(), Principal{User: user, Actor: actor, Source: "api_key"})
				next.ServeHTTP(w, req.WithContext(ctx))
			default:
				next.ServeHTTP(w, req)
			}
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
