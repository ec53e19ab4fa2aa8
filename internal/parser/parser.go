package parser

import (
	"regexp"
	"strings"
	"time"

	"github.com/facturaIA/invoice-insight/internal/models"
	"github.com/shopspring/decimal"
)

// UnknownVendor is used when no vendor line can be identified
const UnknownVendor = "Unknown Vendor"

// Source tag of records produced by this package
const Source = "rules"

// Parser turns raw invoice text into ParsedInvoiceData using ordered
// regular-expression rule tables. It never fails.
type Parser struct {
	vendors []compiledVendor
	now     func() time.Time
}

// Option configures a Parser
type Option func(*Parser)

// WithClock overrides the time source used for date plausibility
func WithClock(now func() time.Time) Option {
	return func(p *Parser) { p.now = now }
}

// New compiles the rule tables
func New(rules Rules, opts ...Option) (*Parser, error) {
	vendors, err := compileVendors(rules.Vendors)
	if err != nil {
		return nil, err
	}
	p := &Parser{vendors: vendors, now: time.Now}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// NewDefault returns a parser over the built-in tables
func NewDefault(opts ...Option) *Parser {
	p, err := New(DefaultRules(), opts...)
	if err != nil {
		panic(err)
	}
	return p
}

// Parse extracts the invoice fields from text
func (p *Parser) Parse(text string, meta models.ExtractionMetadata) models.ParsedInvoiceData {
	now := p.now()
	lines := splitLines(text)

	vendor := p.ExtractVendor(lines)
	date := ExtractDate(text, now)
	amount := ExtractAmount(text)
	subtotal := ExtractSubtotal(text)
	tax := ExtractTax(lines, subtotal, amount)
	items := ExtractLineItems(lines)

	data := models.ParsedInvoiceData{
		Vendor:    vendor.Name,
		Date:      date,
		Amount:    amount,
		LineItems: items,
		Tax:       tax,
		Subtotal:  subtotal,
		Source:    Source,
	}
	data.ParsingConfidence = ScoreConfidence(data, text, now)
	return data
}

// IsSubscriptionVendor reports whether vendor matches a known recurring-billing vendor
func (p *Parser) IsSubscriptionVendor(vendor string) bool {
	for _, v := range p.vendors {
		if v.Subscription && v.re.MatchString(vendor) {
			return true
		}
	}
	return false
}

func splitLines(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	raw := strings.Split(text, "\n")
	lines := make([]string, 0, len(raw))
	for _, l := range raw {
		l = strings.Join(strings.Fields(l), " ")
		if l != "" {
			lines = append(lines, l)
		}
	}
	return lines
}

const (
	// money with thousands separators or plain digits, cents optional
	numPattern = `\d{1,3}(?:,\d{3})+(?:\.\d{1,2})?|\d+(?:\.\d{1,2})?`
	// money that must carry cents
	centsPattern = `\d{1,3}(?:,\d{3})+\.\d{2}|\d+\.\d{2}`
	// a currency-marked number or a number with cents
	moneyCapture = `(?:(?:USD\s*|US)?[$€£]\s?(` + numPattern + `)|(?:USD\s*)?(` + centsPattern + `))`
	// label to value: same line or the start of the next one
	labelGap = `[^\d$€£\n]{0,20}(?:\n[ \t]*)?`
)

var (
	maxAmount = decimal.NewFromInt(100000)

	moneyAnyRe = regexp.MustCompile(`[$€£]\s?(` + numPattern + `)|\b(` + centsPattern + `)\b`)
)

// firstGroup returns the first non-empty capture group
func firstGroup(m []string) string {
	for _, g := range m[1:] {
		if g != "" {
			return g
		}
	}
	return ""
}

func parseMoney(s string) (decimal.Decimal, bool) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if s == "" {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

// inRange reports lo < d <= hi
func inRange(d, lo, hi decimal.Decimal) bool {
	return d.GreaterThan(lo) && d.LessThanOrEqual(hi)
}

// moneyValues returns every currency-formatted number of s in order
func moneyValues(s string) []decimal.Decimal {
	var out []decimal.Decimal
	for _, loc := range moneyAnyRe.FindAllStringSubmatchIndex(s, -1) {
		// rates such as "8.25%" are not money
		if rest := strings.TrimLeft(s[loc[1]:], " "); strings.HasPrefix(rest, "%") {
			continue
		}
		if d, ok := parseMoney(groupAt(s, loc)); ok {
			out = append(out, d)
		}
	}
	return out
}
