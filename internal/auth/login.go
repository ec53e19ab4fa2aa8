package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/facturaIA/invoice-insight/internal/db"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// UserStore looks up accounts for login
type UserStore interface {
	FindUser(ctx context.Context, tenant, email string) (*db.User, error)
	RecordLogin(userID string)
}

// LoginRequest represents the login request body
type LoginRequest struct {
	Tenant   string `json:"tenant"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResponse represents the successful login response
type LoginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	UserID    string    `json:"user_id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Role      string    `json:"role"`
	Tenant    string    `json:"tenant"`
}

// HashPassword returns the bcrypt hash stored for an account
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// LoginHandler handles user authentication
func LoginHandler(a *Authenticator, users UserStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		if users == nil {
			http.Error(w, `{"error":"authentication service unavailable"}`, http.StatusServiceUnavailable)
			return
		}

		var req LoginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
			return
		}
		if req.Email == "" || req.Password == "" {
			http.Error(w, `{"error":"email and password are required"}`, http.StatusBadRequest)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
		defer cancel()

		user, err := users.FindUser(ctx, req.Tenant, req.Email)
		if err != nil {
			if !errors.Is(err, db.ErrUserNotFound) {
				zap.L().Error("auth.login.lookup_failed", zap.String("tenant", req.Tenant), zap.Error(err))
			}
			http.Error(w, `{"error":"invalid credentials"}`, http.StatusUnauthorized)
			return
		}
		if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
			http.Error(w, `{"error":"invalid credentials"}`, http.StatusUnauthorized)
			return
		}

		token, expiresAt, err := a.GenerateToken(user.ID, user.Email, user.Tenant, user.Name, user.Role)
		if err != nil {
			zap.L().Error("auth.login.token_failed", zap.Error(err))
			http.Error(w, `{"error":"failed to generate token"}`, http.StatusInternalServerError)
			return
		}

		users.RecordLogin(user.ID)

		json.NewEncoder(w).Encode(LoginResponse{
			Token:     token,
			ExpiresAt: expiresAt,
			UserID:    user.ID,
			Email:     user.Email,
			Name:      user.Name,
			Role:      user.Role,
			Tenant:    user.Tenant,
		})
	}
}
