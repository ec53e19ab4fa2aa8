package pipeline

import (
	"context"
	"errors"
	"strings"

	"github.com/facturaIA/invoice-insight/internal/ai"
	"github.com/facturaIA/invoice-insight/internal/models"
	"github.com/facturaIA/invoice-insight/internal/parser"
)

var errNoText = errors.New("no text to parse")

// ParseStrategy turns extracted text into invoice fields
type ParseStrategy interface {
	Name() string
	Parse(ctx context.Context, text string, meta models.ExtractionMetadata) (models.ParsedInvoiceData, error)
}

type ruleStrategy struct {
	parser *parser.Parser
}

// RuleStrategy wraps the regular-expression parser. It never fails.
func RuleStrategy(p *parser.Parser) ParseStrategy {
	return ruleStrategy{parser: p}
}

func (s ruleStrategy) Name() string { return parser.Source }

func (s ruleStrategy) Parse(_ context.Context, text string, meta models.ExtractionMetadata) (models.ParsedInvoiceData, error) {
	return s.parser.Parse(text, meta), nil
}

type llmStrategy struct {
	extractor *ai.Extractor
}

// LLMStrategy asks a language model for the fields
func LLMStrategy(e *ai.Extractor) ParseStrategy {
	return llmStrategy{extractor: e}
}

func (s llmStrategy) Name() string { return s.extractor.Name() }

func (s llmStrategy) Parse(ctx context.Context, text string, _ models.ExtractionMetadata) (models.ParsedInvoiceData, error) {
	if strings.TrimSpace(text) == "" {
		return models.ParsedInvoiceData{}, errNoText
	}
	return s.extractor.Extract(ctx, text)
}
