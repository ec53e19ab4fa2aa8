package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/facturaIA/invoice-insight/internal/config"
	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const claimsKey contextKey = "claims"

var ErrNoClaims = errors.New("no claims in context")

// Claims carried by every API token
type Claims struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Tenant string `json:"tenant"`
	Name   string `json:"name"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// Authenticator issues and verifies tenant tokens
type Authenticator struct {
	secret []byte
	expire time.Duration
	public map[string]bool
}

// NewAuthenticator creates an authenticator. An empty secret disables
// verification and every request runs as the default tenant.
func NewAuthenticator(cfg config.AuthConfig) *Authenticator {
	hours := cfg.TokenExpireHours
	if hours <= 0 {
		hours = 24
	}
	return &Authenticator{
		secret: []byte(cfg.JWTSecret),
		expire: time.Duration(hours) * time.Hour,
		public: map[string]bool{"/health": true, "/api/login": true},
	}
}

// Enabled reports whether tokens are verified
func (a *Authenticator) Enabled() bool {
	return len(a.secret) > 0
}

// GenerateToken signs a token for a user
func (a *Authenticator) GenerateToken(userID, email, tenant, name, role string) (string, time.Time, error) {
	if !a.Enabled() {
		return "", time.Time{}, errors.New("JWT secret not configured")
	}
	now := time.Now()
	expiresAt := now.Add(a.expire)

	claims := Claims{
		UserID: userID,
		Email:  email,
		Tenant: tenant,
		Name:   name,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, expiresAt, nil
}

// ParseToken validates a token and returns its claims
func (a *Authenticator) ParseToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

// JWTMiddleware rejects requests without a valid bearer token, except for
// the public paths.
func (a *Authenticator) JWTMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.Enabled() || a.public[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			unauthorized(w, "authorization header required")
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			unauthorized(w, "invalid authorization header format")
			return
		}

		claims, err := a.ParseToken(parts[1])
		if err != nil {
			unauthorized(w, "invalid or expired token")
			return
		}

		next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
	})
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// WithClaims stores claims in a context
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, claimsKey, claims)
}

// GetClaimsFromContext returns the claims stored by the middleware
func GetClaimsFromContext(ctx context.Context) (*Claims, error) {
	claims, ok := ctx.Value(claimsKey).(*Claims)
	if !ok || claims == nil {
		return nil, ErrNoClaims
	}
	return claims, nil
}

// TenantFromContext returns the caller's tenant, empty for the default tenant
func TenantFromContext(ctx context.Context) string {
	claims, err := GetClaimsFromContext(ctx)
	if err != nil {
		return ""
	}
	return claims.Tenant
}
