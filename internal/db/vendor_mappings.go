package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/facturaIA/invoice-insight/internal/learning"
	"github.com/facturaIA/invoice-insight/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const mappingColumns = `id, vendor_name, normalized_vendor, category, confidence, count, last_used,
	average_amount, min_amount, max_amount, user_corrections, auto_assigned, created_at`

// VendorMappingRepository stores learned mappings in Postgres. Row updates
// run in a transaction holding the row lock.
type VendorMappingRepository struct {
	pool *pgxpool.Pool
}

// NewVendorMappingRepository creates a mapping store on the vendor_mappings table
func NewVendorMappingRepository(pool *pgxpool.Pool) *VendorMappingRepository {
	return &VendorMappingRepository{pool: pool}
}

func scanMapping(row pgx.Row) (models.VendorMapping, error) {
	var m models.VendorMapping
	err := row.Scan(
		&m.ID, &m.VendorName, &m.NormalizedVendor, &m.Category, &m.Confidence, &m.Count, &m.LastUsed,
		&m.AverageAmount, &m.MinAmount, &m.MaxAmount, &m.UserCorrections, &m.AutoAssigned, &m.CreatedAt,
	)
	return m, err
}

func (r *VendorMappingRepository) FindByVendor(ctx context.Context, normalizedVendor string, limit int) ([]models.VendorMapping, error) {
	if r.pool == nil {
		return nil, ErrNoDatabase
	}

	query := `SELECT ` + mappingColumns + `
		FROM public.vendor_mappings
		WHERE normalized_vendor = $1
		ORDER BY confidence DESC, count DESC, category ASC`
	args := []any{normalizedVendor}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.VendorMapping{}
	for rows.Next() {
		m, err := scanMapping(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Upsert locks the row with SELECT ... FOR UPDATE. When the row does not
// exist yet, a concurrent insert is detected through ON CONFLICT and the
// winner's row is locked and updated instead.
func (r *VendorMappingRepository) Upsert(ctx context.Context, obs learning.Observation) (models.VendorMapping, error) {
	if r.pool == nil {
		return models.VendorMapping{}, ErrNoDatabase
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return models.VendorMapping{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	existing, err := r.lockRow(ctx, tx, obs.NormalizedVendor, obs.Category)
	if err != nil {
		return models.VendorMapping{}, err
	}

	var result models.VendorMapping
	if existing == nil {
		fresh := learning.ApplyObservation(nil, obs)
		result, err = scanMapping(tx.QueryRow(ctx, `
			INSERT INTO public.vendor_mappings (
				vendor_name, normalized_vendor, category, confidence, count, last_used,
				average_amount, min_amount, max_amount, user_corrections, auto_assigned, created_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			ON CONFLICT (normalized_vendor, category) DO NOTHING
			RETURNING `+mappingColumns,
			fresh.VendorName, fresh.NormalizedVendor, fresh.Category, fresh.Confidence, fresh.Count, fresh.LastUsed,
			fresh.AverageAmount, fresh.MinAmount, fresh.MaxAmount, fresh.UserCorrections, fresh.AutoAssigned, fresh.CreatedAt,
		))
		if err == nil {
			return result, r.commit(ctx, tx)
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return models.VendorMapping{}, fmt.Errorf("failed to insert mapping: %w", err)
		}
		// another writer inserted the row first
		existing, err = r.lockRow(ctx, tx, obs.NormalizedVendor, obs.Category)
		if err != nil {
			return models.VendorMapping{}, err
		}
		if existing == nil {
			return models.VendorMapping{}, fmt.Errorf("mapping %s/%s vanished during upsert", obs.NormalizedVendor, obs.Category)
		}
	}

	updated := learning.ApplyObservation(existing, obs)
	result, err = scanMapping(tx.QueryRow(ctx, `
		UPDATE public.vendor_mappings SET
			vendor_name = $2, confidence = $3, count = $4, last_used = $5,
			average_amount = $6, min_amount = $7, max_amount = $8, user_corrections = $9
		WHERE id = $1
		RETURNING `+mappingColumns,
		updated.ID, updated.VendorName, updated.Confidence, updated.Count, updated.LastUsed,
		updated.AverageAmount, updated.MinAmount, updated.MaxAmount, updated.UserCorrections,
	))
	if err != nil {
		return models.VendorMapping{}, fmt.Errorf("failed to update mapping: %w", err)
	}
	return result, r.commit(ctx, tx)
}

func (r *VendorMappingRepository) lockRow(ctx context.Context, tx pgx.Tx, normalizedVendor, category string) (*models.VendorMapping, error) {
	m, err := scanMapping(tx.QueryRow(ctx, `SELECT `+mappingColumns+`
		FROM public.vendor_mappings
		WHERE normalized_vendor = $1 AND category = $2
		FOR UPDATE`, normalizedVendor, category))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock mapping: %w", err)
	}
	return &m, nil
}

func (r *VendorMappingRepository) commit(ctx context.Context, tx pgx.Tx) error {
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit mapping: %w", err)
	}
	return nil
}

// DecaySiblings is a single multiplicative UPDATE; it commutes with
// concurrent increments on other rows.
func (r *VendorMappingRepository) DecaySiblings(ctx context.Context, normalizedVendor, winningCategory string, factor float64) (int, error) {
	if r.pool == nil {
		return 0, ErrNoDatabase
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE public.vendor_mappings
		SET confidence = confidence * $3
		WHERE normalized_vendor = $1 AND category <> $2`,
		normalizedVendor, winningCategory, factor)
	if err != nil {
		return 0, fmt.Errorf("failed to decay mappings: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
