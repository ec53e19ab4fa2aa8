package learning

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode"

	"github.com/facturaIA/invoice-insight/internal/models"
	"github.com/shopspring/decimal"
)

var (
	ErrEmptyVendor   = errors.New("vendor name is empty after normalization")
	ErrEmptyCategory = errors.New("category is empty")
)

// Repository stores VendorMapping rows keyed by (NormalizedVendor, Category).
// Upsert must apply an observation atomically per row.
type Repository interface {
	// FindByVendor returns up to limit rows ordered by confidence then count, both descending
	FindByVendor(ctx context.Context, normalizedVendor string, limit int) ([]models.VendorMapping, error)
	// Upsert finds or creates the row for obs and applies it with ApplyObservation
	Upsert(ctx context.Context, obs Observation) (models.VendorMapping, error)
	// DecaySiblings multiplies the confidence of every other category of the vendor by factor
	DecaySiblings(ctx context.Context, normalizedVendor, winningCategory string, factor float64) (int, error)
}

// Observation is one confirmed vendor/category pairing
type Observation struct {
	VendorName       string
	NormalizedVendor string
	Category         string
	Amount           decimal.Decimal
	UserCorrected    bool
	At               time.Time
}

// NormalizeVendor lower-cases s, drops everything that is not a letter,
// digit or space, and collapses whitespace. It is idempotent.
func NormalizeVendor(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteByte(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// ApplyObservation returns the row after recording obs. existing is nil for
// a new (vendor, category) pair.
func ApplyObservation(existing *models.VendorMapping, obs Observation) models.VendorMapping {
	if existing == nil {
		m := models.VendorMapping{
			VendorName:       obs.VendorName,
			NormalizedVendor: obs.NormalizedVendor,
			Category:         obs.Category,
			Confidence:       50,
			Count:            1,
			LastUsed:         obs.At,
			AverageAmount:    obs.Amount,
			MinAmount:        obs.Amount,
			MaxAmount:        obs.Amount,
			AutoAssigned:     !obs.UserCorrected,
			CreatedAt:        obs.At,
		}
		if obs.UserCorrected {
			m.Confidence = 70
			m.UserCorrections = 1
		}
		return m
	}

	m := *existing
	m.Count++
	m.LastUsed = obs.At
	if obs.VendorName != "" {
		m.VendorName = obs.VendorName
	}

	// running average over all observations
	n := decimal.NewFromInt(int64(m.Count))
	m.AverageAmount = m.AverageAmount.Mul(n.Sub(decimal.NewFromInt(1))).Add(obs.Amount).Div(n).Round(4)
	if obs.Amount.LessThan(m.MinAmount) {
		m.MinAmount = obs.Amount
	}
	if obs.Amount.GreaterThan(m.MaxAmount) {
		m.MaxAmount = obs.Amount
	}

	if obs.UserCorrected {
		m.UserCorrections++
		m.Confidence = min(100, m.Confidence+10)
	} else {
		m.Confidence = min(100, float64(50+(m.Count-1)*5+m.UserCorrections*10))
	}
	return m
}
