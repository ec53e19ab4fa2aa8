package db

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/facturaIA/invoice-insight/internal/models"
	"github.com/facturaIA/invoice-insight/internal/services"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// InvoiceStore persists processed invoices per tenant
type InvoiceStore interface {
	SaveInvoice(ctx context.Context, tenant string, inv *models.StoredInvoice) error
	GetInvoice(ctx context.Context, tenant string, id uuid.UUID) (*models.StoredInvoice, error)
	ListInvoices(ctx context.Context, tenant string, limit int) ([]models.StoredInvoice, error)
	UpdateCategory(ctx context.Context, tenant string, id uuid.UUID, category string) (*models.StoredInvoice, error)
	DeleteInvoice(ctx context.Context, tenant string, id uuid.UUID) (*models.StoredInvoice, error)
	// FindDuplicateCandidates returns stored invoices inside the window around fp
	FindDuplicateCandidates(ctx context.Context, tenant string, fp models.InvoiceFingerprint, w services.Window) ([]models.StoredInvoice, error)
}

const invoiceColumns = `id, vendor, invoice_date, amount, tax, subtotal, line_items,
	category, parsing_confidence, overall_confidence, needs_review, document_key, raw_text, created_at, updated_at`

// PostgresInvoiceStore keeps each tenant's invoices in its own schema.
// A tenant's schema is created the first time the store touches it.
type PostgresInvoiceStore struct {
	pool     *pgxpool.Pool
	migrated sync.Map // schema -> struct{}
}

func NewPostgresInvoiceStore(pool *pgxpool.Pool) *PostgresInvoiceStore {
	return &PostgresInvoiceStore{pool: pool}
}

func (s *PostgresInvoiceStore) schema(ctx context.Context, tenant string) (string, error) {
	schema := SchemaForTenant(tenant)
	if _, ok := s.migrated.Load(schema); ok {
		return schema, nil
	}
	if err := migrateTenant(ctx, s.pool, schema); err != nil {
		return "", err
	}
	s.migrated.Store(schema, struct{}{})
	return schema, nil
}

func scanInvoice(row pgx.Row, tenant string) (*models.StoredInvoice, error) {
	inv := models.StoredInvoice{Tenant: tenant}
	var date *time.Time
	err := row.Scan(
		&inv.ID, &inv.Vendor, &date, &inv.Amount, &inv.Tax, &inv.Subtotal, &inv.LineItems,
		&inv.Category, &inv.ParsingConfidence, &inv.OverallConfidence, &inv.NeedsReview,
		&inv.DocumentKey, &inv.RawText, &inv.CreatedAt, &inv.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrInvoiceNotFound
	}
	if err != nil {
		return nil, err
	}
	if date != nil {
		inv.Date = *date
	}
	return &inv, nil
}

func (s *PostgresInvoiceStore) SaveInvoice(ctx context.Context, tenant string, inv *models.StoredInvoice) error {
	if s.pool == nil {
		return ErrNoDatabase
	}
	schema, err := s.schema(ctx, tenant)
	if err != nil {
		return err
	}

	if inv.ID == uuid.Nil {
		inv.ID = uuid.New()
	}
	if inv.LineItems == nil {
		inv.LineItems = []models.LineItem{}
	}
	var date *time.Time
	if !inv.Date.IsZero() {
		date = &inv.Date
	}

	query := fmt.Sprintf(`
		INSERT INTO %s.invoices (
			id, vendor, invoice_date, amount, tax, subtotal, line_items, category,
			parsing_confidence, overall_confidence, needs_review, document_key, raw_text
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING created_at
	`, schema)

	err = s.pool.QueryRow(ctx, query,
		inv.ID, inv.Vendor, date, inv.Amount, inv.Tax, inv.Subtotal, inv.LineItems, inv.Category,
		inv.ParsingConfidence, inv.OverallConfidence, inv.NeedsReview, inv.DocumentKey, inv.RawText,
	).Scan(&inv.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save invoice: %w", err)
	}
	inv.Tenant = tenant
	return nil
}

func (s *PostgresInvoiceStore) GetInvoice(ctx context.Context, tenant string, id uuid.UUID) (*models.StoredInvoice, error) {
	if s.pool == nil {
		return nil, ErrNoDatabase
	}
	schema, err := s.schema(ctx, tenant)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`SELECT %s FROM %s.invoices WHERE id = $1`, invoiceColumns, schema)
	return scanInvoice(s.pool.QueryRow(ctx, query, id), tenant)
}

func (s *PostgresInvoiceStore) ListInvoices(ctx context.Context, tenant string, limit int) ([]models.StoredInvoice, error) {
	if s.pool == nil {
		return nil, ErrNoDatabase
	}
	schema, err := s.schema(ctx, tenant)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`SELECT %s FROM %s.invoices ORDER BY created_at DESC LIMIT $1`,
		invoiceColumns, schema)
	return s.query(ctx, tenant, query, limit)
}

func (s *PostgresInvoiceStore) UpdateCategory(ctx context.Context, tenant string, id uuid.UUID, category string) (*models.StoredInvoice, error) {
	if s.pool == nil {
		return nil, ErrNoDatabase
	}
	schema, err := s.schema(ctx, tenant)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`UPDATE %s.invoices SET category = $2, updated_at = $3 WHERE id = $1 RETURNING %s`,
		schema, invoiceColumns)
	return scanInvoice(s.pool.QueryRow(ctx, query, id, category, time.Now()), tenant)
}

func (s *PostgresInvoiceStore) DeleteInvoice(ctx context.Context, tenant string, id uuid.UUID) (*models.StoredInvoice, error) {
	if s.pool == nil {
		return nil, ErrNoDatabase
	}
	schema, err := s.schema(ctx, tenant)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`DELETE FROM %s.invoices WHERE id = $1 RETURNING %s`, schema, invoiceColumns)
	return scanInvoice(s.pool.QueryRow(ctx, query, id), tenant)
}

// FindDuplicateCandidates narrows by date and amount in SQL; the vendor
// containment check runs in Go so it matches services.Window exactly.
func (s *PostgresInvoiceStore) FindDuplicateCandidates(ctx context.Context, tenant string, fp models.InvoiceFingerprint, w services.Window) ([]models.StoredInvoice, error) {
	if s.pool == nil {
		return nil, ErrNoDatabase
	}
	if fp.Date.IsZero() {
		return []models.StoredInvoice{}, nil
	}
	schema, err := s.schema(ctx, tenant)
	if err != nil {
		return nil, err
	}

	// |a-b| <= tol*max(a,b) implies a(1-tol) <= b <= a/(1-tol)
	keep := decimal.NewFromInt(1).Sub(decimal.NewFromFloat(w.AmountTolerance))
	if !keep.IsPositive() {
		keep = decimal.RequireFromString("0.01")
	}
	low := fp.Amount.Mul(keep)
	high := fp.Amount.Div(keep)

	query := fmt.Sprintf(`SELECT %s FROM %s.invoices
		WHERE invoice_date BETWEEN $1 AND $2 AND amount BETWEEN $3 AND $4
		ORDER BY created_at DESC LIMIT 200`, invoiceColumns, schema)

	rows, err := s.query(ctx, tenant, query,
		fp.Date.AddDate(0, 0, -w.Days), fp.Date.AddDate(0, 0, w.Days), decimal.Min(low, high), decimal.Max(low, high))
	if err != nil {
		return nil, err
	}

	out := make([]models.StoredInvoice, 0, len(rows))
	for _, inv := range rows {
		if w.Contains(fp, inv.Fingerprint()) {
			out = append(out, inv)
		}
	}
	return out, nil
}

func (s *PostgresInvoiceStore) query(ctx context.Context, tenant, query string, args ...any) ([]models.StoredInvoice, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	invoices := []models.StoredInvoice{}
	for rows.Next() {
		inv, err := scanInvoice(rows, tenant)
		if err != nil {
			return nil, err
		}
		invoices = append(invoices, *inv)
	}
	return invoices, rows.Err()
}
