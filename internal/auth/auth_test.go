package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/facturaIA/invoice-insight/internal/config"
	"github.com/facturaIA/invoice-insight/internal/db"
	"github.com/golang-jwt/jwt/v5"
)

var testCfg = config.AuthConfig{JWTSecret: "test-secret-key", TokenExpireHours: 24}

func protected(a *Authenticator) http.Handler {
	return a.JWTMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(TenantFromContext(r.Context())))
	}))
}

func TestGenerateToken(t *testing.T) {
	a := NewAuthenticator(testCfg)
	token, expiresAt, err := a.GenerateToken("u1", "ana@acme.test", "acme", "Ana", "admin")
	if err != nil {
		t.Fatalf("Failed to generate token: %v", err)
	}

	expectedExpiry := time.Now().Add(24 * time.Hour)
	if expiresAt.Before(expectedExpiry.Add(-time.Minute)) || expiresAt.After(expectedExpiry.Add(time.Minute)) {
		t.Errorf("Expiry time %v is not within expected range of %v", expiresAt, expectedExpiry)
	}

	claims, err := a.ParseToken(token)
	if err != nil {
		t.Fatalf("ParseToken failed: %v", err)
	}
	if claims.Tenant != "acme" || claims.UserID != "u1" || claims.Role != "admin" {
		t.Errorf("Expected round-tripped claims, got %+v", claims)
	}

	if _, _, err := NewAuthenticator(config.AuthConfig{}).GenerateToken("u1", "", "", "", ""); err == nil {
		t.Error("Expected error without a secret")
	}
}

func TestJWTMiddleware(t *testing.T) {
	a := NewAuthenticator(testCfg)
	token, _, err := a.GenerateToken("u1", "ana@acme.test", "acme", "Ana", "admin")
	if err != nil {
		t.Fatalf("Failed to generate token: %v", err)
	}
	forged, _, _ := NewAuthenticator(config.AuthConfig{JWTSecret: "other"}).GenerateToken("u1", "", "acme", "", "")

	tests := []struct {
		name           string
		path           string
		authHeader     string
		expectedStatus int
		expectedBody   string
	}{
		{"valid token", "/api/invoices", "Bearer " + token, http.StatusOK, "acme"},
		{"missing header", "/api/invoices", "", http.StatusUnauthorized, ""},
		{"invalid format", "/api/invoices", token, http.StatusUnauthorized, ""},
		{"invalid token", "/api/invoices", "Bearer invalid.token.here", http.StatusUnauthorized, ""},
		{"wrong secret", "/api/invoices", "Bearer " + forged, http.StatusUnauthorized, ""},
		{"public health", "/health", "", http.StatusOK, ""},
		{"public login", "/api/login", "", http.StatusOK, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", tt.path, nil)
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}
			w := httptest.NewRecorder()
			protected(a).ServeHTTP(w, req)

			if w.Code != tt.expectedStatus {
				t.Errorf("Expected status %d, got %d", tt.expectedStatus, w.Code)
			}
			if tt.expectedStatus == http.StatusOK && w.Body.String() != tt.expectedBody {
				t.Errorf("Expected tenant %q, got %q", tt.expectedBody, w.Body.String())
			}
		})
	}
}

func TestJWTMiddlewareExpiredToken(t *testing.T) {
	claims := Claims{
		UserID: "u1",
		Tenant: "acme",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now().Add(-2 * time.Hour)),
		},
	}
	tokenString, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testCfg.JWTSecret))

	req := httptest.NewRequest("GET", "/api/invoices", nil)
	req.Header.Set("Authorization", "Bearer "+tokenString)
	w := httptest.NewRecorder()
	protected(NewAuthenticator(testCfg)).ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected status %d for expired token, got %d", http.StatusUnauthorized, w.Code)
	}
}

func TestJWTMiddlewareDisabled(t *testing.T) {
	req := httptest.NewRequest("GET", "/api/invoices", nil)
	w := httptest.NewRecorder()
	protected(NewAuthenticator(config.AuthConfig{})).ServeHTTP(w, req)

	if w.Code != http.StatusOK || w.Body.String() != "" {
		t.Errorf("Expected pass-through with default tenant, got %d %q", w.Code, w.Body.String())
	}
}

func TestGetClaimsFromContext(t *testing.T) {
	if _, err := GetClaimsFromContext(context.Background()); err != ErrNoClaims {
		t.Errorf("Expected ErrNoClaims, got %v", err)
	}
	ctx := WithClaims(context.Background(), &Claims{Tenant: "acme"})
	if got := TenantFromContext(ctx); got != "acme" {
		t.Errorf("Expected acme, got %s", got)
	}
}

func TestLoginHandler(t *testing.T) {
	a := NewAuthenticator(testCfg)
	users := db.NewMemoryUserStore()
	hash, err := HashPassword("s3cret")
	if err != nil {
		t.Fatalf("HashPassword failed: %v", err)
	}
	users.CreateUser(context.Background(), db.User{
		ID: "u1", Tenant: "acme", Email: "ana@acme.test", Name: "Ana", Role: "admin", PasswordHash: hash,
	})

	login := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest("POST", "/api/login", bytes.NewBufferString(body))
		w := httptest.NewRecorder()
		LoginHandler(a, users).ServeHTTP(w, req)
		return w
	}

	w := login(`{"tenant":"acme","email":"ANA@acme.test","password":"s3cret"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp LoginResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	claims, err := a.ParseToken(resp.Token)
	if err != nil {
		t.Fatalf("Expected a valid token, got %v", err)
	}
	if claims.Tenant != "acme" || resp.Role != "admin" {
		t.Errorf("Expected acme admin, got %+v", resp)
	}

	tests := []struct {
		body string
		code int
	}{
		{`{"tenant":"acme","email":"ana@acme.test","password":"wrong"}`, http.StatusUnauthorized},
		{`{"tenant":"other","email":"ana@acme.test","password":"s3cret"}`, http.StatusUnauthorized},
		{`{"tenant":"acme","email":"ana@acme.test"}`, http.StatusBadRequest},
		{`not json`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		if w := login(tt.body); w.Code != tt.code {
			t.Errorf("%s: expected %d, got %d", tt.body, tt.code, w.Code)
		}
	}
}
