package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const identityKey contextKey = "identity"

// Common authentication errors.
var (
	ErrMissingAuthorization = errors.New("missing authorization")
	ErrInvalidAuthFormat    = errors.New("invalid authorization header format")
)

// Claims is the bearer-token claims structure. The engine only verifies
// identity; token minting and user management live elsewhere.
type Claims struct {
	jwt.RegisteredClaims
	Username string   `json:"username,omitempty"`
	Roles    []string `json:"roles,omitempty"`
}

// Identity is the authenticated caller, injected into the request context.
type Identity struct {
	UserID   string
	Username string
	Roles    []string
}

// IdentityFromContext retrieves the caller identity set by the auth
// interceptor. Returns false when the request was not authenticated.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(identityKey).(*Identity)
	return id, ok
}

// WithIdentity returns a context carrying the given identity. Tests and
// internal callers use it to simulate an authenticated request.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// AuthConfig controls the bearer-token interceptor.
type AuthConfig struct {
	// Secret is the HMAC key tokens are verified against.
	Secret string
	// EnableVerification, when false, accepts every request as the
	// anonymous local user. Local development only.
	EnableVerification bool
}

// Authenticator validates bearer tokens and injects the caller identity.
type Authenticator struct {
	cfg    AuthConfig
	logger *zap.Logger
}

// NewAuthenticator creates the bearer-token interceptor.
func NewAuthenticator(cfg AuthConfig, logger *zap.Logger) *Authenticator {
	return &Authenticator{cfg: cfg, logger: logger.Named("auth")}
}

// RequireAuth validates the bearer token and sets the identity in context.
func (a *Authenticator) RequireAuth() Interceptor {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !a.cfg.EnableVerification {
				ctx := WithIdentity(r.Context(), &Identity{UserID: "local", Username: "local"})
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			claims, err := a.validateRequest(r)
			if err != nil {
				a.logger.Debug("Request rejected",
					zap.String("path", r.URL.Path),
					zap.Error(err))
				unauthorized(w, "Authentication required")
				return
			}

			id := &Identity{
				UserID:   claims.Subject,
				Username: claims.Username,
				Roles:    claims.Roles,
			}
			if id.Username == "" {
				id.Username = id.UserID
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

// RequireRole validates the token and additionally requires one of the
// given roles. Used for the admin surfaces (settings, audit signing).
func (a *Authenticator) RequireRole(roles ...string) Interceptor {
	require := a.RequireAuth()
	return func(next http.Handler) http.Handler {
		return require(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !a.cfg.EnableVerification {
				next.ServeHTTP(w, r)
				return
			}
			id, ok := IdentityFromContext(r.Context())
			if !ok || !hasAnyRole(id.Roles, roles) {
				forbidden(w, "Insufficient role")
				return
			}
			next.ServeHTTP(w, r)
		}))
	}
}

func (a *Authenticator) validateRequest(r *http.Request) (*Claims, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return nil, ErrMissingAuthorization
	}
	parts := strings.Split(header, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return nil, ErrInvalidAuthFormat
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(parts[1], claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return []byte(a.cfg.Secret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("validate token: %w", err)
	}
	if !token.Valid || claims.Subject == "" {
		return nil, errors.New("token has no subject")
	}
	return claims, nil
}

func hasAnyRole(have, want []string) bool {
	for _, h := range have {
		for _, w := range want {
			if strings.EqualFold(h, w) {
				return true
			}
		}
	}
	return false
}

func unauthorized(w http.ResponseWriter, message string) {
	writeAuthError(w, http.StatusUnauthorized, "unauthorized", message)
}

func forbidden(w http.ResponseWriter, message string) {
	writeAuthError(w, http.StatusForbidden, "forbidden", message)
}

func writeAuthError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   code,
		"message": message,
	})
}
