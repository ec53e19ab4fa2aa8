package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// User is an account allowed to log in to a tenant
type User struct {
	ID           string
	Tenant       string
	Email        string
	Name         string
	Role         string
	PasswordHash string
}

// PostgresUserStore reads accounts from public.users
type PostgresUserStore struct {
	pool *pgxpool.Pool
}

func NewPostgresUserStore(pool *pgxpool.Pool) *PostgresUserStore {
	return &PostgresUserStore{pool: pool}
}

// FindUser looks up an active account by tenant and email
func (s *PostgresUserStore) FindUser(ctx context.Context, tenant, email string) (*User, error) {
	if s.pool == nil {
		return nil, ErrNoDatabase
	}

	query := `SELECT id, tenant, email, name, role, password_hash
	          FROM public.users
	          WHERE tenant = $1 AND lower(email) = lower($2) AND active`

	var u User
	var id uuid.UUID
	err := s.pool.QueryRow(ctx, query, tenant, strings.TrimSpace(email)).Scan(
		&id, &u.Tenant, &u.Email, &u.Name, &u.Role, &u.PasswordHash,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	u.ID = id.String()
	return &u, nil
}

// RecordLogin stamps the last login time in the background
func (s *PostgresUserStore) RecordLogin(userID string) {
	if s.pool == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := s.pool.Exec(ctx, `UPDATE public.users SET last_login = NOW() WHERE id = $1::uuid`, userID); err != nil {
			zap.L().Warn("db.users.record_login.failed", zap.String("user_id", userID), zap.Error(err))
		}
	}()
}

// CreateUser inserts an account with an already hashed password
func (s *PostgresUserStore) CreateUser(ctx context.Context, u User) (string, error) {
	if s.pool == nil {
		return "", ErrNoDatabase
	}
	id := uuid.New()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO public.users (id, tenant, email, name, role, password_hash)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		id, u.Tenant, strings.TrimSpace(u.Email), u.Name, u.Role, u.PasswordHash,
	)
	if err != nil {
		return "", fmt.Errorf("failed to create user: %w", err)
	}
	return id.String(), nil
}

// MemoryUserStore keeps accounts in memory for development and tests
type MemoryUserStore struct {
	mu    sync.RWMutex
	users map[string]User
}

func NewMemoryUserStore() *MemoryUserStore {
	return &MemoryUserStore{users: make(map[string]User)}
}

func userKey(tenant, email string) string {
	return tenant + "\x00" + strings.ToLower(strings.TrimSpace(email))
}

func (s *MemoryUserStore) FindUser(ctx context.Context, tenant, email string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[userKey(tenant, email)]
	if !ok {
		return nil, ErrUserNotFound
	}
	return &u, nil
}

func (s *MemoryUserStore) RecordLogin(userID string) {}

func (s *MemoryUserStore) CreateUser(ctx context.Context, u User) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	s.users[userKey(u.Tenant, u.Email)] = u
	return u.ID, nil
}
