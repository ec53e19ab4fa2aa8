package learning

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/facturaIA/invoice-insight/internal/models"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	SourceLearned = "learned"

	DefaultPredictLimit = 5
	DefaultDecayFactor  = 0.95

	alternativeCount = 2
)

// Engine learns vendor to category associations from confirmed invoices
type Engine struct {
	repo   Repository
	limit  int
	decay  float64
	now    func() time.Time
	logger *zap.Logger
}

// Option configures an Engine
type Option func(*Engine)

// WithClock overrides the time source used for recency
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithPredictLimit sets how many rows Predict considers
func WithPredictLimit(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.limit = n
		}
	}
}

// WithDecayFactor sets the multiplier applied to sibling categories
func WithDecayFactor(f float64) Option {
	return func(e *Engine) {
		if f > 0 && f <= 1 {
			e.decay = f
		}
	}
}

// WithLogger sets the logger for learning events
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewEngine creates a learning engine backed by repo
func NewEngine(repo Repository, opts ...Option) *Engine {
	e := &Engine{
		repo:   repo,
		limit:  DefaultPredictLimit,
		decay:  DefaultDecayFactor,
		now:    time.Now,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Update records that vendor was filed under category, then decays the
// vendor's other categories.
func (e *Engine) Update(ctx context.Context, vendor, category string, amount decimal.Decimal, userCorrected bool) (models.VendorMapping, error) {
	normalized := NormalizeVendor(vendor)
	if normalized == "" {
		return models.VendorMapping{}, ErrEmptyVendor
	}
	category = strings.TrimSpace(category)
	if category == "" {
		return models.VendorMapping{}, ErrEmptyCategory
	}

	m, err := e.repo.Upsert(ctx, Observation{
		VendorName:       strings.TrimSpace(vendor),
		NormalizedVendor: normalized,
		Category:         category,
		Amount:           amount,
		UserCorrected:    userCorrected,
		At:               e.now(),
	})
	if err != nil {
		return models.VendorMapping{}, fmt.Errorf("failed to update mapping: %w", err)
	}

	n, err := e.repo.DecaySiblings(ctx, normalized, category, e.decay)
	if err != nil {
		return m, fmt.Errorf("failed to decay sibling mappings: %w", err)
	}

	e.logger.Debug("learning.update",
		zap.String("vendor", normalized),
		zap.String("category", category),
		zap.Float64("confidence", m.Confidence),
		zap.Int("count", m.Count),
		zap.Bool("corrected", userCorrected),
		zap.Int("decayed", n),
	)
	return m, nil
}

type scored struct {
	m     models.VendorMapping
	score float64
}

// Predict suggests a category for vendor. It returns nil when the vendor
// has never been seen.
func (e *Engine) Predict(ctx context.Context, vendor string, amount decimal.Decimal) (*models.Prediction, error) {
	normalized := NormalizeVendor(vendor)
	if normalized == "" {
		return nil, nil
	}

	rows, err := e.repo.FindByVendor(ctx, normalized, e.limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load mappings: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	now := e.now()
	candidates := make([]scored, len(rows))
	for i, m := range rows {
		candidates[i] = scored{m: m, score: e.score(m, amount, now)}
	}
	// rows arrive ordered by confidence, ties keep that order
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})

	best := candidates[0].m
	p := &models.Prediction{
		Category:     best.Category,
		Confidence:   roundConfidence(best.Confidence),
		Reason:       reason(best),
		Alternatives: []models.Alternative{},
		Source:       SourceLearned,
	}
	for _, c := range candidates[1:] {
		if len(p.Alternatives) == alternativeCount {
			break
		}
		p.Alternatives = append(p.Alternatives, models.Alternative{
			Category:   c.m.Category,
			Confidence: roundConfidence(c.m.Confidence),
		})
	}
	return p, nil
}

// Mappings lists every stored category for vendor, best first
func (e *Engine) Mappings(ctx context.Context, vendor string) ([]models.VendorMapping, error) {
	normalized := NormalizeVendor(vendor)
	if normalized == "" {
		return nil, ErrEmptyVendor
	}
	return e.repo.FindByVendor(ctx, normalized, 0)
}

func (e *Engine) score(m models.VendorMapping, amount decimal.Decimal, now time.Time) float64 {
	s := m.Confidence
	s += 10 * math.Log10(float64(m.Count)+1)

	switch age := now.Sub(m.LastUsed); {
	case age < 30*24*time.Hour:
		s += 10
	case age < 90*24*time.Hour:
		s += 5
	}

	s += 15 * float64(m.UserCorrections)

	if m.MinAmount.IsPositive() && m.MaxAmount.IsPositive() && amount.IsPositive() {
		low := m.MinAmount.Mul(decimal.NewFromFloat(0.5))
		high := m.MaxAmount.Mul(decimal.NewFromInt(2))
		if amount.LessThan(low) || amount.GreaterThan(high) {
			s -= 5
		}
	}
	return s
}

func roundConfidence(c float64) int {
	return int(math.Max(0, math.Min(100, math.Round(c))))
}

func reason(m models.VendorMapping) string {
	r := fmt.Sprintf("%s was categorized as %s %d %s", m.VendorName, m.Category, m.Count, pluralTimes(m.Count))
	if m.UserCorrections > 0 {
		r += fmt.Sprintf(", confirmed by a user %d %s", m.UserCorrections, pluralTimes(m.UserCorrections))
	}
	return r
}

func pluralTimes(n int) string {
	if n == 1 {
		return "time"
	}
	return "times"
}
