package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/facturaIA/invoice-insight/internal/models"
	"github.com/facturaIA/invoice-insight/internal/parser"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	violationPenalty    = 5
	maxViolationPenalty = 20
	datePenalty         = 15
	maxQuantity         = 1000
)

var ErrMalformedResponse = errors.New("AI response is not a JSON object")

// payloadSchema grades a reply. Violations lower confidence, they never
// reject the payload.
const payloadSchema = `{
	"type": "object",
	"required": ["vendor", "date", "total"],
	"properties": {
		"vendor": {"type": "string", "minLength": 1},
		"date": {"type": "string", "pattern": "^\\d{4}-\\d{2}-\\d{2}$"},
		"total": {"type": "number", "minimum": 0},
		"subtotal": {"type": "number", "minimum": 0},
		"tax": {"type": "number", "minimum": 0},
		"line_items": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["description", "amount"],
				"properties": {
					"description": {"type": "string"},
					"amount": {"type": "number"},
					"quantity": {"type": "integer", "minimum": 1}
				}
			}
		}
	}
}`

var compiledSchema = jsonschema.MustCompileString("invoice.json", payloadSchema)

// Extractor parses invoice text with a language model
type Extractor struct {
	provider Provider
	timeout  time.Duration
	now      func() time.Time
	logger   *zap.Logger
}

type Option func(*Extractor)

func WithTimeout(d time.Duration) Option {
	return func(e *Extractor) { e.timeout = d }
}

func WithClock(now func() time.Time) Option {
	return func(e *Extractor) { e.now = now }
}

func WithLogger(l *zap.Logger) Option {
	return func(e *Extractor) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewExtractor creates a new AI extractor
func NewExtractor(provider Provider, opts ...Option) *Extractor {
	e := &Extractor{provider: provider, now: time.Now, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name identifies the extractor in parse results
func (e *Extractor) Name() string {
	if e.provider == nil {
		return "llm"
	}
	return "llm:" + e.provider.Name()
}

// Extract asks the model for the invoice fields and coerces the reply
func (e *Extractor) Extract(ctx context.Context, text string) (models.ParsedInvoiceData, error) {
	if e.provider == nil {
		return e.degraded(), ErrNoProvider
	}
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	start := time.Now()
	response, err := e.provider.Complete(ctx, e.buildPrompt(text))
	if err != nil {
		e.logger.Warn("ai.extract.failed", zap.String("provider", e.provider.Name()), zap.Error(err))
		return e.degraded(), fmt.Errorf("AI extraction failed: %w", err)
	}
	e.logger.Debug("ai.extract.response",
		zap.String("provider", e.provider.Name()),
		zap.Int("response_len", len(response)),
		zap.Duration("elapsed", time.Since(start)),
	)

	return e.Coerce(response, text)
}

func (e *Extractor) buildPrompt(text string) string {
	return fmt.Sprintf(`Extract the invoice fields from the text below.

Return ONLY a JSON object with these keys:
{
  "vendor": "name of the business that issued the invoice",
  "date": "invoice issue date as YYYY-MM-DD",
  "total": number (final amount charged),
  "subtotal": number (amount before tax, 0 if absent),
  "tax": number (tax amount, 0 if absent),
  "line_items": [{"description": "...", "amount": unit price as number, "quantity": integer}]
}

Rules:
1. Amounts are plain numbers without currency symbols or thousands separators.
2. Never invent values; use 0 for missing numbers and "" for missing text.
3. The vendor is the seller, not the customer.
4. If the year is not visible assume %d.

Invoice text:
%s`, e.now().Year(), text)
}

// rawPayload accepts numbers as JSON numbers or strings
type rawPayload struct {
	Vendor    string      `json:"vendor"`
	Date      string      `json:"date"`
	Total     interface{} `json:"total"`
	Amount    interface{} `json:"amount"` // alternative field name
	Subtotal  interface{} `json:"subtotal"`
	Tax       interface{} `json:"tax"`
	LineItems []rawItem   `json:"line_items"`
	Items     []rawItem   `json:"items"` // alternative field name
}

type rawItem struct {
	Description string      `json:"description"`
	Amount      interface{} `json:"amount"`
	UnitPrice   interface{} `json:"unit_price"`
	Quantity    interface{} `json:"quantity"`
}

// Coerce converts a model reply into ParsedInvoiceData. It tolerates code
// fences, string numbers, missing fields and implausible dates. A reply
// without a decodable JSON object yields a zero-confidence record and
// ErrMalformedResponse.
func (e *Extractor) Coerce(response, text string) (models.ParsedInvoiceData, error) {
	obj, ok := isolateJSON(response)
	if !ok {
		return e.degraded(), ErrMalformedResponse
	}

	dec := json.NewDecoder(bytes.NewReader(obj))
	dec.UseNumber()
	var raw rawPayload
	if err := dec.Decode(&raw); err != nil {
		return e.degraded(), fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	now := e.now()
	data := models.ParsedInvoiceData{
		Vendor:    strings.TrimSpace(raw.Vendor),
		Amount:    parseDecimal(raw.Total),
		Subtotal:  parseDecimal(raw.Subtotal),
		Tax:       parseDecimal(raw.Tax),
		LineItems: []models.LineItem{},
		Source:    e.Name(),
	}
	if data.Amount.IsZero() {
		data.Amount = parseDecimal(raw.Amount)
	}
	if data.Vendor == "" {
		data.Vendor = parser.UnknownVendor
	}

	items := raw.LineItems
	if len(items) == 0 {
		items = raw.Items
	}
	for _, item := range items {
		amount := parseDecimal(item.Amount)
		if amount.IsZero() {
			amount = parseDecimal(item.UnitPrice)
		}
		data.LineItems = append(data.LineItems, models.LineItem{
			Description: strings.TrimSpace(item.Description),
			Amount:      amount,
			Quantity:    clampQuantity(parseDecimal(item.Quantity)),
		})
	}

	dateOK := false
	if d, ok := parseDate(raw.Date); ok && plausibleDate(d, now) {
		data.Date = d
		dateOK = true
	} else {
		data.Date = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	}

	confidence := parser.ScoreConfidence(data, text, now)
	if !dateOK {
		confidence -= datePenalty
		e.logger.Debug("ai.coerce.date_replaced", zap.String("date", raw.Date))
	}
	if n := schemaViolations(obj); n > 0 {
		confidence -= min(n*violationPenalty, maxViolationPenalty)
	}
	data.ParsingConfidence = max(0, min(100, confidence))
	return data, nil
}

func (e *Extractor) degraded() models.ParsedInvoiceData {
	now := e.now()
	return models.ParsedInvoiceData{
		Vendor:            parser.UnknownVendor,
		Date:              time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC),
		Amount:            decimal.Zero,
		LineItems:         []models.LineItem{},
		ParsingConfidence: 0,
		Source:            e.Name(),
	}
}

// isolateJSON strips code fences and returns the outermost {...} span
func isolateJSON(response string) ([]byte, bool) {
	cleaned := strings.TrimSpace(response)
	fence := string([]byte{96, 96, 96})
	cleaned = strings.ReplaceAll(cleaned, fence+"json", "")
	cleaned = strings.ReplaceAll(cleaned, fence, "")

	start := strings.IndexByte(cleaned, '{')
	end := strings.LastIndexByte(cleaned, '}')
	if start < 0 || end <= start {
		return nil, false
	}
	return []byte(cleaned[start : end+1]), true
}

// schemaViolations counts the leaf errors of validating obj
func schemaViolations(obj []byte) int {
	var v any
	if err := json.Unmarshal(obj, &v); err != nil {
		return 1
	}
	err := compiledSchema.Validate(v)
	if err == nil {
		return 0
	}
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return 1
	}
	return countLeaves(ve)
}

func countLeaves(ve *jsonschema.ValidationError) int {
	if len(ve.Causes) == 0 {
		return 1
	}
	n := 0
	for _, c := range ve.Causes {
		n += countLeaves(c)
	}
	return n
}

func parseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	formats := []string{
		"2006-01-02",
		"2006/01/02",
		"01/02/2006",
		"02.01.2006",
		"January 2, 2006",
		"Jan 2, 2006",
		"2 January 2006",
		time.RFC3339,
	}
	for _, format := range formats {
		if t, err := time.Parse(format, s); err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), true
		}
	}
	return time.Time{}, false
}

// plausibleDate accepts [now-2y, now+1y]
func plausibleDate(d, now time.Time) bool {
	return !d.Before(now.AddDate(-2, 0, 0)) && !d.After(now.AddDate(1, 0, 0))
}

func parseDecimal(v interface{}) decimal.Decimal {
	switch val := v.(type) {
	case nil:
		return decimal.Zero
	case json.Number:
		d, err := decimal.NewFromString(string(val))
		if err != nil {
			return decimal.Zero
		}
		return d
	case float64:
		return decimal.NewFromFloat(val)
	case string:
		cleaned := strings.TrimSpace(val)
		cleaned = strings.TrimLeft(cleaned, "$€£")
		cleaned = strings.ReplaceAll(cleaned, ",", "")
		cleaned = strings.TrimSpace(cleaned)
		if cleaned == "" {
			return decimal.Zero
		}
		d, err := decimal.NewFromString(cleaned)
		if err != nil {
			return decimal.Zero
		}
		return d
	default:
		return decimal.Zero
	}
}

func clampQuantity(q decimal.Decimal) int {
	n := int(q.IntPart())
	switch {
	case n < 1:
		return 1
	case n > maxQuantity:
		return maxQuantity
	}
	return n
}
