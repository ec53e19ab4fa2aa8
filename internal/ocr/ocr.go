package ocr

import (
	"context"
	"fmt"
	"strings"

	"github.com/facturaIA/invoice-insight/internal/config"
	"github.com/facturaIA/invoice-insight/internal/models"
	"go.uber.org/zap"
)

// Strategy pulls raw text out of a stored document
type Strategy interface {
	Name() string
	Supports(contentType string) bool
	Extract(ctx context.Context, path string) (models.RawExtraction, error)
}

// Chain tries strategies in order until one yields text
type Chain struct {
	strategies []Strategy
	logger     *zap.Logger
}

// NewChain creates a chain over the given strategies
func NewChain(logger *zap.Logger, strategies ...Strategy) *Chain {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Chain{strategies: strategies, logger: logger}
}

// NewFromConfig builds the default chain: embedded text first, then the
// configured optical engine.
func NewFromConfig(cfg config.OCRConfig, logger *zap.Logger) (*Chain, error) {
	strategies := []Strategy{PlainText{}, NativePDF{}}

	switch strings.ToLower(cfg.Engine) {
	case "", "tesseract":
		strategies = append(strategies, NewTesseract(cfg, nil, logger))
	case "azure":
		azure, err := NewAzure(cfg.Azure.Endpoint, cfg.Azure.APIKey, cfg.Language)
		if err != nil {
			return nil, err
		}
		strategies = append(strategies, azure, NewTesseract(cfg, nil, logger))
	case "none":
	default:
		return nil, fmt.Errorf("unknown OCR engine: %s", cfg.Engine)
	}

	return NewChain(logger, strategies...), nil
}

// Extract never fails. When every strategy fails the result carries no
// text, zero confidence and one warning per failure.
func (c *Chain) Extract(ctx context.Context, path, contentType string) models.RawExtraction {
	contentType = normalizeContentType(contentType)

	var warnings []string
	var lastMethod models.ExtractionMethod
	for _, s := range c.strategies {
		if !s.Supports(contentType) {
			continue
		}
		if err := ctx.Err(); err != nil {
			warnings = append(warnings, err.Error())
			break
		}

		raw, err := s.Extract(ctx, path)
		lastMethod = raw.Method
		if err != nil {
			c.logger.Warn("ocr.strategy.failed",
				zap.String("strategy", s.Name()),
				zap.String("content_type", contentType),
				zap.Error(err),
			)
			warnings = append(warnings, fmt.Sprintf("%s: %v", s.Name(), err))
			continue
		}
		if strings.TrimSpace(raw.Text) == "" {
			warnings = append(warnings, fmt.Sprintf("%s: no text found", s.Name()))
			continue
		}

		raw.Engine = s.Name()
		raw.Warnings = append(warnings, raw.Warnings...)
		c.logger.Debug("ocr.extract.ok",
			zap.String("strategy", s.Name()),
			zap.Int("pages", raw.PageCount),
			zap.Float64("confidence", raw.Confidence),
		)
		return raw
	}

	if len(warnings) == 0 {
		warnings = append(warnings, fmt.Sprintf("no extraction strategy for %q", contentType))
	}
	return models.RawExtraction{
		Method:     lastMethod,
		Confidence: 0,
		Warnings:   warnings,
	}
}

func normalizeContentType(ct string) string {
	ct = strings.ToLower(strings.TrimSpace(ct))
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	return ct
}

func isImage(contentType string) bool {
	return strings.HasPrefix(contentType, "image/")
}
