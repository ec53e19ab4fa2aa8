package learning

import (
	"context"

	"github.com/facturaIA/invoice-insight/internal/models"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Strategy proposes a category. A nil prediction means no opinion.
type Strategy interface {
	Name() string
	Predict(ctx context.Context, vendor string, amount decimal.Decimal) (*models.Prediction, error)
}

type learnedStrategy struct{ engine *Engine }

func (s learnedStrategy) Name() string { return SourceLearned }

func (s learnedStrategy) Predict(ctx context.Context, vendor string, amount decimal.Decimal) (*models.Prediction, error) {
	return s.engine.Predict(ctx, vendor, amount)
}

type ruleStrategy struct{ rules *RuleSet }

func (s ruleStrategy) Name() string { return SourceRules }

func (s ruleStrategy) Predict(_ context.Context, vendor string, _ decimal.Decimal) (*models.Prediction, error) {
	return s.rules.Match(vendor), nil
}

// Categorizer tries strategies in order and falls back to the default
// category. It never fails.
type Categorizer struct {
	strategies      []Strategy
	defaultCategory string
	logger          *zap.Logger
}

// NewCategorizer builds the chain learned → rules → default. engine and
// rules may be nil.
func NewCategorizer(engine *Engine, rules *RuleSet, logger *zap.Logger) *Categorizer {
	var strategies []Strategy
	if engine != nil {
		strategies = append(strategies, learnedStrategy{engine})
	}
	if rules != nil {
		strategies = append(strategies, ruleStrategy{rules})
	}
	return NewCategorizerWith(strategies, DefaultCategory, logger)
}

func NewCategorizerWith(strategies []Strategy, defaultCategory string, logger *zap.Logger) *Categorizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if defaultCategory == "" {
		defaultCategory = DefaultCategory
	}
	return &Categorizer{strategies: strategies, defaultCategory: defaultCategory, logger: logger}
}

func (c *Categorizer) Categorize(ctx context.Context, vendor string, amount decimal.Decimal) models.Prediction {
	for _, s := range c.strategies {
		p, err := s.Predict(ctx, vendor, amount)
		if err != nil {
			c.logger.Warn("learning.predict.failed",
				zap.String("strategy", s.Name()),
				zap.String("vendor", vendor),
				zap.Error(err),
			)
			continue
		}
		if p != nil {
			return *p
		}
	}
	return models.Prediction{
		Category:     c.defaultCategory,
		Confidence:   0,
		Reason:       "No learned mapping or rule matched",
		Alternatives: []models.Alternative{},
		Source:       SourceDefault,
	}
}
