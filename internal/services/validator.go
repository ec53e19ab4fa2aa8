package services

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/facturaIA/invoice-insight/internal/models"
	"github.com/shopspring/decimal"
)

const (
	minConfidence    = 20
	reviewConfidence = 80
	maxIssues        = 3
	maxLineItems     = 50
	maxQuantity      = 1000
	maxDecimalPlaces = 4
	lowOCRConfidence = 70
)

var (
	maxInvoiceAmount   = decimal.NewFromInt(10_000_000)
	reconcileTolerance = decimal.RequireFromString("0.02")
	lineItemTolerance  = decimal.RequireFromString("0.05")

	placeholderVendors = map[string]bool{
		"unknown vendor": true, "unknown": true, "vendor": true, "n/a": true,
		"na": true, "none": true, "test": true, "merchant": true, "store": true,
	}
	structuralVendorRe = regexp.MustCompile(`(?i)^(?:total|sub\s*total|invoice|receipt|tax|amount|date|balance|payment|due)\b`)
)

// SubscriptionChecker reports whether a vendor bills small recurring amounts
type SubscriptionChecker interface {
	IsSubscriptionVendor(vendor string) bool
}

// Validator checks plausibility of parsed invoice data. It never rejects a
// record: findings only lower the confidence and raise the review flag.
type Validator struct {
	subscriptions SubscriptionChecker
	now           func() time.Time
}

// NewValidator creates a validator. subscriptions may be nil.
func NewValidator(subscriptions SubscriptionChecker) *Validator {
	return &Validator{subscriptions: subscriptions, now: time.Now}
}

// WithClock returns a copy of v reading time from now
func (v *Validator) WithClock(now func() time.Time) *Validator {
	c := *v
	c.now = now
	return &c
}

// validation accumulates penalties and issues
type validation struct {
	result  models.ValidationResult
	penalty int
}

func (s *validation) add(penalty int, format string, args ...any) {
	s.penalty += penalty
	s.result.Issues = append(s.result.Issues, fmt.Sprintf(format, args...))
}

// Validate performs all checks on invoice data
func (v *Validator) Validate(data models.ParsedInvoiceData, meta models.ExtractionMetadata) models.ValidationResult {
	s := &validation{
		result: models.ValidationResult{
			IsValid:        true,
			Issues:         []string{},
			DateValid:      true,
			AmountValid:    true,
			VendorValid:    true,
			LineItemsValid: true,
		},
	}

	// 1. Field checks
	v.validateDate(data, s)
	v.validateAmount(data, s)
	v.validateVendor(data, s)
	v.validateLineItems(data, s)

	// 2. Extraction quality
	v.validateExtraction(meta, s)

	// 3. Cross-field consistency
	v.validateTotals(data, s)
	v.validateTaxRate(data, s)
	v.validateVendorAmount(data, s)

	confidence := 100 - s.penalty
	if confidence < minConfidence {
		confidence = minConfidence
	}
	if confidence > 100 {
		confidence = 100
	}
	s.result.OverallConfidence = confidence
	s.result.NeedsReview = confidence < reviewConfidence || len(s.result.Issues) > maxIssues

	return s.result
}

// validateDate requires a date inside [now-5y, now+2y]
func (v *Validator) validateDate(data models.ParsedInvoiceData, s *validation) {
	if data.Date.IsZero() {
		s.result.DateValid = false
		s.add(20, "Invoice date is missing")
		return
	}

	now := v.now()
	if data.Date.Before(now.AddDate(-5, 0, 0)) {
		s.result.DateValid = false
		s.add(15, "Invoice date %s is more than 5 years in the past", data.Date.Format("2006-01-02"))
	} else if data.Date.After(now.AddDate(2, 0, 0)) {
		s.result.DateValid = false
		s.add(15, "Invoice date %s is more than 2 years in the future", data.Date.Format("2006-01-02"))
	}
}

// validateAmount requires (0, 10,000,000] with at most 4 decimals
func (v *Validator) validateAmount(data models.ParsedInvoiceData, s *validation) {
	switch {
	case !data.Amount.IsPositive():
		s.result.AmountValid = false
		s.add(25, "Amount must be greater than zero")
		return
	case data.Amount.GreaterThan(maxInvoiceAmount):
		s.result.AmountValid = false
		s.add(20, "Amount %s exceeds the maximum of 10,000,000", data.Amount.String())
	}

	if decimalPlaces(data.Amount) > maxDecimalPlaces {
		s.result.AmountValid = false
		s.add(5, "Amount %s has more than %d decimal places", data.Amount.String(), maxDecimalPlaces)
	}
}

// validateVendor rejects short, placeholder, numeric or repetitive names
func (v *Validator) validateVendor(data models.ParsedInvoiceData, s *validation) {
	name := strings.TrimSpace(data.Vendor)
	runes := []rune(name)

	if len(runes) < 2 {
		s.result.VendorValid = false
		s.add(20, "Vendor name is too short")
		return
	}
	if len(runes) > 100 {
		s.result.VendorValid = false
		s.add(10, "Vendor name is longer than 100 characters")
	}

	lower := strings.ToLower(name)
	if placeholderVendors[lower] {
		s.result.VendorValid = false
		s.add(15, "Vendor name %q is a placeholder", name)
		return
	}

	letters, digits := 0, 0
	for _, r := range runes {
		switch {
		case unicode.IsLetter(r):
			letters++
		case unicode.IsDigit(r):
			digits++
		}
	}
	if letters == 0 {
		s.result.VendorValid = false
		if digits > 0 {
			s.add(15, "Vendor name %q is purely numeric", name)
		} else {
			s.add(15, "Vendor name %q contains no letters", name)
		}
		return
	}

	if isRepetitive(lower) {
		s.result.VendorValid = false
		s.add(10, "Vendor name %q is repetitive", name)
	}
	if structuralVendorRe.MatchString(name) {
		s.result.VendorValid = false
		s.add(15, "Vendor name %q looks like a document label", name)
	}
}

// validateLineItems checks count, amounts, quantities, duplicates and the sum
func (v *Validator) validateLineItems(data models.ParsedInvoiceData, s *validation) {
	items := data.LineItems
	if len(items) == 0 {
		return
	}

	if len(items) > maxLineItems {
		s.result.LineItemsValid = false
		s.add(5, "Too many line items (%d > %d)", len(items), maxLineItems)
	}

	badAmount, badQty := 0, 0
	seen := make(map[string]bool, len(items))
	duplicate := ""
	sum := decimal.Zero
	for _, item := range items {
		if !item.Amount.IsPositive() {
			badAmount++
		}
		if item.Quantity < 1 || item.Quantity > maxQuantity {
			badQty++
		}
		key := strings.ToLower(strings.TrimSpace(item.Description))
		if seen[key] && duplicate == "" {
			duplicate = item.Description
		}
		seen[key] = true
		sum = sum.Add(item.Amount.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}

	if badAmount > 0 {
		s.result.LineItemsValid = false
		s.add(min(3*badAmount, 10), "%d line item(s) have a non-positive amount", badAmount)
	}
	if badQty > 0 {
		s.result.LineItemsValid = false
		s.add(min(3*badQty, 10), "%d line item(s) have a quantity outside 1-%d", badQty, maxQuantity)
	}
	if duplicate != "" {
		s.result.LineItemsValid = false
		s.add(2, "Duplicate line item description %q", duplicate)
	}

	if data.Amount.IsPositive() && !within(sum, data.Amount, lineItemTolerance) {
		// items are often listed before tax
		if !data.Subtotal.IsPositive() || !within(sum, data.Subtotal, lineItemTolerance) {
			s.result.LineItemsValid = false
			s.add(5, "Line items sum %s differs from total %s by more than 5%%",
				sum.StringFixed(2), data.Amount.StringFixed(2))
		}
	}
}

// validateExtraction penalizes low OCR confidence and multi-page documents
func (v *Validator) validateExtraction(meta models.ExtractionMetadata, s *validation) {
	known := meta.Method != "" || meta.OCRConfidence > 0
	if known && meta.OCRConfidence < lowOCRConfidence {
		s.add(10, "Low OCR confidence (%.0f%%)", meta.OCRConfidence)
	}
	if meta.PageCount > 1 {
		s.add(3, "Multi-page document (%d pages)", meta.PageCount)
	}
}

// validateTotals checks subtotal + tax = amount
func (v *Validator) validateTotals(data models.ParsedInvoiceData, s *validation) {
	if !data.Subtotal.IsPositive() {
		return
	}
	expected := data.Subtotal.Add(data.Tax)
	if expected.Sub(data.Amount).Abs().GreaterThan(reconcileTolerance) {
		s.add(10, "Subtotal %s + tax %s does not match total %s",
			data.Subtotal.StringFixed(2), data.Tax.StringFixed(2), data.Amount.StringFixed(2))
	}
}

// validateTaxRate flags implausible tax rates relative to the subtotal
func (v *Validator) validateTaxRate(data models.ParsedInvoiceData, s *validation) {
	if !data.Subtotal.IsPositive() || !data.Tax.IsPositive() {
		return
	}
	rate, _ := data.Tax.Div(data.Subtotal).Float64()
	switch {
	case rate > 1:
		s.add(8, "Tax rate %.1f%% exceeds the subtotal", rate*100)
	case rate > 0.5:
		s.add(5, "Tax rate %.1f%% is unusually high", rate*100)
	case rate < 0.001:
		s.add(3, "Tax rate %.2f%% is unusually low", rate*100)
	}
}

// validateVendorAmount flags large charges from subscription vendors
func (v *Validator) validateVendorAmount(data models.ParsedInvoiceData, s *validation) {
	if v.subscriptions == nil || !v.subscriptions.IsSubscriptionVendor(data.Vendor) {
		return
	}
	switch {
	case data.Amount.GreaterThan(decimal.NewFromInt(5000)):
		s.add(3, "Amount %s is unusually high for subscription vendor %s", data.Amount.StringFixed(2), data.Vendor)
	case data.Amount.GreaterThan(decimal.NewFromInt(1000)):
		s.add(2, "Amount %s is high for subscription vendor %s", data.Amount.StringFixed(2), data.Vendor)
	}
}

// within reports |a-b| <= tol*b
func within(a, b, tol decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(b.Mul(tol))
}

func decimalPlaces(d decimal.Decimal) int {
	if d.Exponent() >= 0 {
		return 0
	}
	s := d.String()
	if i := strings.IndexByte(s, '.'); i >= 0 {
		return len(s) - i - 1
	}
	return 0
}

// isRepetitive reports names like "aaaa" or "abab"
func isRepetitive(s string) bool {
	s = strings.ReplaceAll(s, " ", "")
	runes := []rune(s)
	if len(runes) < 4 {
		return false
	}
	distinct := make(map[rune]bool)
	for _, r := range runes {
		distinct[r] = true
	}
	return len(distinct) <= 2
}
