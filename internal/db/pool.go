package db

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

var (
	ErrNoDatabase      = errors.New("database not available")
	ErrInvoiceNotFound = errors.New("invoice not found")
	ErrUserNotFound    = errors.New("user not found")
)

// Pool is the global database connection pool
var Pool *pgxpool.Pool

// Init initializes the database connection pool. An empty URL leaves the
// service running without Postgres and returns ErrNoDatabase.
func Init(databaseURL string) error {
	if databaseURL == "" {
		zap.L().Info("db.disabled", zap.String("reason", "no DATABASE_URL configured"))
		return ErrNoDatabase
	}

	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return fmt.Errorf("failed to parse database URL: %w", err)
	}

	// Connection pool settings optimized for PgBouncer
	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = 1 * time.Hour
	config.MaxConnIdleTime = 30 * time.Minute
	config.HealthCheckPeriod = 1 * time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Verify connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	Pool = pool
	zap.L().Info("db.pool.ready", zap.Int32("max_conns", config.MaxConns))
	return nil
}

// Close closes the database connection pool
func Close() {
	if Pool != nil {
		Pool.Close()
		zap.L().Info("db.pool.closed")
	}
}

// GetPool returns the current connection pool
func GetPool() *pgxpool.Pool {
	return Pool
}

var unsafeSchemaChars = regexp.MustCompile(`[^a-z0-9_]`)

// SchemaForTenant returns the schema holding a tenant's invoices
func SchemaForTenant(tenant string) string {
	tenant = unsafeSchemaChars.ReplaceAllString(strings.ToLower(tenant), "")
	if tenant == "" {
		return "public"
	}
	return "tenant_" + tenant
}

const sharedDDL = `
CREATE TABLE IF NOT EXISTS public.users (
	id            UUID PRIMARY KEY,
	tenant        TEXT NOT NULL DEFAULT '',
	email         TEXT NOT NULL,
	name          TEXT NOT NULL DEFAULT '',
	role          TEXT NOT NULL DEFAULT 'user',
	password_hash TEXT NOT NULL,
	active        BOOLEAN NOT NULL DEFAULT TRUE,
	last_login    TIMESTAMPTZ,
	UNIQUE (tenant, email)
);
CREATE TABLE IF NOT EXISTS public.vendor_mappings (
	id                BIGSERIAL PRIMARY KEY,
	vendor_name       TEXT NOT NULL,
	normalized_vendor TEXT NOT NULL,
	category          TEXT NOT NULL,
	confidence        DOUBLE PRECISION NOT NULL,
	count             INTEGER NOT NULL,
	last_used         TIMESTAMPTZ NOT NULL,
	average_amount    NUMERIC(14,4) NOT NULL DEFAULT 0,
	min_amount        NUMERIC(14,4) NOT NULL DEFAULT 0,
	max_amount        NUMERIC(14,4) NOT NULL DEFAULT 0,
	user_corrections  INTEGER NOT NULL DEFAULT 0,
	auto_assigned     BOOLEAN NOT NULL DEFAULT TRUE,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE (normalized_vendor, category)
);
CREATE INDEX IF NOT EXISTS vendor_mappings_vendor_idx
	ON public.vendor_mappings (normalized_vendor, confidence DESC, count DESC);
`

const invoicesDDL = `
CREATE SCHEMA IF NOT EXISTS %[1]s;
CREATE TABLE IF NOT EXISTS %[1]s.invoices (
	id                 UUID PRIMARY KEY,
	vendor             TEXT NOT NULL,
	invoice_date       DATE,
	amount             NUMERIC(14,4) NOT NULL,
	tax                NUMERIC(14,4) NOT NULL DEFAULT 0,
	subtotal           NUMERIC(14,4) NOT NULL DEFAULT 0,
	line_items         JSONB NOT NULL DEFAULT '[]',
	category           TEXT NOT NULL DEFAULT '',
	parsing_confidence INTEGER NOT NULL DEFAULT 0,
	overall_confidence INTEGER NOT NULL DEFAULT 0,
	needs_review       BOOLEAN NOT NULL DEFAULT FALSE,
	document_key       TEXT NOT NULL DEFAULT '',
	raw_text           TEXT NOT NULL DEFAULT '',
	created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at         TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS invoices_dup_idx ON %[1]s.invoices (invoice_date, amount);
`

// Migrate creates the shared tables and the invoice tables of the given tenants
func Migrate(ctx context.Context, pool *pgxpool.Pool, tenants ...string) error {
	if pool == nil {
		return ErrNoDatabase
	}
	if _, err := pool.Exec(ctx, sharedDDL); err != nil {
		return fmt.Errorf("failed to migrate shared tables: %w", err)
	}
	for _, tenant := range append([]string{""}, tenants...) {
		if err := migrateTenant(ctx, pool, SchemaForTenant(tenant)); err != nil {
			return err
		}
	}
	return nil
}

func migrateTenant(ctx context.Context, pool *pgxpool.Pool, schema string) error {
	if _, err := pool.Exec(ctx, fmt.Sprintf(invoicesDDL, schema)); err != nil {
		return fmt.Errorf("failed to migrate schema %s: %w", schema, err)
	}
	return nil
}
