package pipeline

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/facturaIA/invoice-insight/internal/db"
	"github.com/facturaIA/invoice-insight/internal/logger"
	"github.com/facturaIA/invoice-insight/internal/models"
	"github.com/facturaIA/invoice-insight/internal/parser"
	"github.com/facturaIA/invoice-insight/internal/services"
	"github.com/facturaIA/invoice-insight/internal/storage"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultMinConfidence is the parse confidence that stops the strategy chain
const DefaultMinConfidence = 60

// TextExtractor pulls raw text out of a stored document
type TextExtractor interface {
	Extract(ctx context.Context, path, contentType string) models.RawExtraction
}

// Categorizer suggests an expense category
type Categorizer interface {
	Categorize(ctx context.Context, vendor string, amount decimal.Decimal) models.Prediction
}

// Learner records category observations
type Learner interface {
	Update(ctx context.Context, vendor, category string, amount decimal.Decimal, userCorrected bool) (models.VendorMapping, error)
}

// Document is an uploaded file waiting to be processed
type Document struct {
	Path        string // local copy
	Filename    string // archive object name
	ContentType string
	Size        int64
}

// Processor runs documents and text through extraction, parsing,
// validation, duplicate detection and categorization.
type Processor struct {
	parsers       []ParseStrategy
	rules         *parser.Parser
	validator     *services.Validator
	ocr           TextExtractor
	store         db.InvoiceStore
	archive       storage.Archive
	categorizer   Categorizer
	learner       Learner
	window        services.Window
	minConfidence int
	logger        *zap.Logger
}

type Option func(*Processor)

// WithParser adds a parse strategy ahead of the rule parser
func WithParser(s ParseStrategy) Option {
	return func(p *Processor) { p.parsers = append(p.parsers, s) }
}

func WithOCR(x TextExtractor) Option {
	return func(p *Processor) { p.ocr = x }
}

func WithStore(s db.InvoiceStore) Option {
	return func(p *Processor) { p.store = s }
}

func WithArchive(a storage.Archive) Option {
	return func(p *Processor) { p.archive = a }
}

func WithLearner(l Learner) Option {
	return func(p *Processor) { p.learner = l }
}

func WithWindow(w services.Window) Option {
	return func(p *Processor) { p.window = w }
}

func WithMinConfidence(c int) Option {
	return func(p *Processor) {
		if c > 0 {
			p.minConfidence = c
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(p *Processor) {
		if l != nil {
			p.logger = l
		}
	}
}

// New creates a processor. The rule parser always runs last.
func New(rules *parser.Parser, validator *services.Validator, categorizer Categorizer, opts ...Option) *Processor {
	p := &Processor{
		rules:         rules,
		validator:     validator,
		categorizer:   categorizer,
		window:        services.DefaultWindow,
		minConfidence: DefaultMinConfidence,
		logger:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.parsers = append(p.parsers, RuleStrategy(rules))
	return p
}

// ProcessFile extracts, analyzes and stores an uploaded document. The
// archive upload runs alongside text extraction.
func (p *Processor) ProcessFile(ctx context.Context, tenant string, doc Document) *models.ProcessResult {
	log := logger.From(ctx, p.logger)
	start := time.Now()

	var raw models.RawExtraction
	var documentKey string
	var archiveErr error

	g, gctx := errgroup.WithContext(ctx)
	if p.archive != nil {
		g.Go(func() error {
			documentKey, archiveErr = p.archiveDocument(gctx, tenant, doc)
			return nil
		})
	}
	if p.ocr != nil {
		raw = p.ocr.Extract(ctx, doc.Path, doc.ContentType)
	} else {
		raw = models.RawExtraction{Warnings: []string{"no text extractor configured"}}
	}
	g.Wait()

	if raw.Text == "" {
		log.Warn("pipeline.extract.failed", zap.Strings("warnings", raw.Warnings))
	}

	result := p.Analyze(ctx, tenant, raw.Text, raw.Metadata())
	result.Extraction = &raw
	result.Warnings = append(append([]string{}, raw.Warnings...), result.Warnings...)
	if archiveErr != nil {
		log.Warn("pipeline.archive.failed", zap.Error(archiveErr))
		result.Warnings = append(result.Warnings, "document not archived")
	}

	p.save(ctx, tenant, result, documentKey, raw.Text)

	log.Info("pipeline.process.done",
		zap.String("engine", raw.Engine),
		zap.String("parser", result.Parsed.Source),
		zap.Int("confidence", result.Validation.OverallConfidence),
		zap.Duration("elapsed", time.Since(start)),
	)
	return result
}

// ProcessText analyzes already extracted text and stores the invoice
func (p *Processor) ProcessText(ctx context.Context, tenant, text string, meta models.ExtractionMetadata) *models.ProcessResult {
	result := p.Analyze(ctx, tenant, text, meta)
	p.save(ctx, tenant, result, "", text)
	return result
}

// Analyze parses text, then validates and scans for duplicates in
// parallel, then predicts a category. Nothing is stored.
func (p *Processor) Analyze(ctx context.Context, tenant, text string, meta models.ExtractionMetadata) *models.ProcessResult {
	data, warnings := p.parse(ctx, text, meta)

	result := &models.ProcessResult{
		Parsed:     data,
		Duplicates: []models.DuplicateCandidate{},
		Warnings:   warnings,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		result.Validation = p.validator.Validate(data, meta)
		return nil
	})
	g.Go(func() error {
		result.Duplicates = p.duplicates(gctx, tenant, data)
		return nil
	})
	g.Wait()

	if p.categorizer != nil {
		prediction := p.categorizer.Categorize(ctx, data.Vendor, data.Amount)
		result.Category = &prediction
	}
	return result
}

// parse walks the strategy chain. The first result at or above the
// minimum confidence wins, otherwise the most confident one.
func (p *Processor) parse(ctx context.Context, text string, meta models.ExtractionMetadata) (models.ParsedInvoiceData, []string) {
	log := logger.From(ctx, p.logger)

	var warnings []string
	var best models.ParsedInvoiceData
	found := false
	for _, s := range p.parsers {
		data, err := s.Parse(ctx, text, meta)
		if err != nil {
			log.Warn("pipeline.parse.failed", zap.String("parser", s.Name()), zap.Error(err))
			warnings = append(warnings, fmt.Sprintf("%s: %v", s.Name(), err))
			continue
		}
		if data.ParsingConfidence >= p.minConfidence {
			return data, warnings
		}
		if !found || data.ParsingConfidence > best.ParsingConfidence {
			best, found = data, true
		}
	}
	if !found {
		best = p.rules.Parse(text, meta)
	}
	return best, warnings
}

// duplicates never fails; a store error yields no candidates
func (p *Processor) duplicates(ctx context.Context, tenant string, data models.ParsedInvoiceData) []models.DuplicateCandidate {
	if p.store == nil {
		return []models.DuplicateCandidate{}
	}
	fp := models.InvoiceFingerprint{Vendor: data.Vendor, Amount: data.Amount, Date: data.Date}
	stored, err := p.store.FindDuplicateCandidates(ctx, tenant, fp, p.window)
	if err != nil {
		logger.From(ctx, p.logger).Warn("pipeline.duplicates.failed", zap.Error(err))
		return []models.DuplicateCandidate{}
	}
	return services.FindDuplicates(data.Vendor, data.Amount, data.Date, stored)
}

func (p *Processor) archiveDocument(ctx context.Context, tenant string, doc Document) (string, error) {
	f, err := os.Open(doc.Path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	size := doc.Size
	if size <= 0 {
		if info, err := f.Stat(); err == nil {
			size = info.Size()
		}
	}
	name := doc.Filename
	if name == "" {
		name = uuid.NewString() + storage.GetFileExtension(doc.ContentType)
	}
	return p.archive.UploadDocument(ctx, tenant, name, f, size, doc.ContentType)
}

// save persists the result when a store is configured. Failures only add a
// warning.
func (p *Processor) save(ctx context.Context, tenant string, result *models.ProcessResult, documentKey, text string) {
	if p.store == nil {
		return
	}
	inv := &models.StoredInvoice{
		Vendor:            result.Parsed.Vendor,
		Date:              result.Parsed.Date,
		Amount:            result.Parsed.Amount,
		Tax:               result.Parsed.Tax,
		Subtotal:          result.Parsed.Subtotal,
		LineItems:         result.Parsed.LineItems,
		ParsingConfidence: result.Parsed.ParsingConfidence,
		OverallConfidence: result.Validation.OverallConfidence,
		NeedsReview:       result.Validation.NeedsReview,
		DocumentKey:       documentKey,
		RawText:           text,
	}
	if result.Category != nil {
		inv.Category = result.Category.Category
	}
	if err := p.store.SaveInvoice(ctx, tenant, inv); err != nil {
		logger.From(ctx, p.logger).Warn("pipeline.save.failed", zap.Error(err))
		result.Warnings = append(result.Warnings, "invoice not saved")
		return
	}
	result.InvoiceID = inv.ID.String()
}

// ConfirmCategory feeds a category decision to the learning engine.
// Failures are logged and swallowed.
func (p *Processor) ConfirmCategory(ctx context.Context, tenant, vendor, category string, amount decimal.Decimal, corrected bool) {
	if p.learner == nil {
		return
	}
	if _, err := p.learner.Update(ctx, vendor, category, amount, corrected); err != nil {
		logger.From(ctx, p.logger).Warn("pipeline.learning.update.failed",
			zap.String("tenant", tenant),
			zap.String("vendor", vendor),
			zap.String("category", category),
			zap.Error(err),
		)
	}
}

// CorrectCategory stores a user's category for an invoice and teaches the
// learning engine. A change from the stored category counts as a correction.
func (p *Processor) CorrectCategory(ctx context.Context, tenant string, id uuid.UUID, category string) (*models.StoredInvoice, error) {
	if p.store == nil {
		return nil, db.ErrNoDatabase
	}
	current, err := p.store.GetInvoice(ctx, tenant, id)
	if err != nil {
		return nil, err
	}
	updated, err := p.store.UpdateCategory(ctx, tenant, id, category)
	if err != nil {
		return nil, err
	}
	p.ConfirmCategory(ctx, tenant, updated.Vendor, category, updated.Amount, current.Category != category)
	return updated, nil
}

// DeleteInvoice removes an invoice and its archived document
func (p *Processor) DeleteInvoice(ctx context.Context, tenant string, id uuid.UUID) error {
	if p.store == nil {
		return db.ErrNoDatabase
	}
	inv, err := p.store.DeleteInvoice(ctx, tenant, id)
	if err != nil {
		return err
	}
	if p.archive != nil && inv.DocumentKey != "" {
		if err := p.archive.DeleteDocument(ctx, inv.DocumentKey); err != nil {
			logger.From(ctx, p.logger).Warn("pipeline.archive.delete.failed",
				zap.String("document_key", inv.DocumentKey), zap.Error(err))
		}
	}
	return nil
}

// Store exposes the invoice store, nil when persistence is disabled
func (p *Processor) Store() db.InvoiceStore {
	return p.store
}

// Archive exposes the document archive, nil when disabled
func (p *Processor) Archive() storage.Archive {
	return p.archive
}
