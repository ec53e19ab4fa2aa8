package services

import (
	"strings"
	"testing"
	"time"

	"github.com/facturaIA/invoice-insight/internal/models"
	"github.com/shopspring/decimal"
)

var validatorNow = time.Date(2026, time.October, 16, 12, 0, 0, 0, time.UTC)

type subscriptionSet map[string]bool

func (s subscriptionSet) IsSubscriptionVendor(vendor string) bool { return s[vendor] }

func newTestValidator() *Validator {
	return NewValidator(subscriptionSet{"Midjourney Inc": true}).
		WithClock(func() time.Time { return validatorNow })
}

func goodInvoice() models.ParsedInvoiceData {
	return models.ParsedInvoiceData{
		Vendor:   "Acme Supplies",
		Date:     time.Date(2026, time.October, 1, 0, 0, 0, 0, time.UTC),
		Amount:   decimal.RequireFromString("118.00"),
		Subtotal: decimal.RequireFromString("100.00"),
		Tax:      decimal.RequireFromString("18.00"),
		LineItems: []models.LineItem{
			{Description: "Paper", Amount: decimal.RequireFromString("25.00"), Quantity: 2},
			{Description: "Toner", Amount: decimal.RequireFromString("50.00"), Quantity: 1},
		},
	}
}

func TestValidateCleanInvoice(t *testing.T) {
	result := newTestValidator().Validate(goodInvoice(), models.ExtractionMetadata{})

	if !result.IsValid {
		t.Error("Expected IsValid to always be true")
	}
	if result.OverallConfidence != 100 {
		t.Errorf("Expected confidence 100, got %d (issues: %v)", result.OverallConfidence, result.Issues)
	}
	if result.NeedsReview {
		t.Error("Expected no review for a clean invoice")
	}
	if !result.DateValid || !result.AmountValid || !result.VendorValid || !result.LineItemsValid {
		t.Errorf("Expected all field flags valid, got %+v", result)
	}
	if len(result.Issues) != 0 {
		t.Errorf("Expected no issues, got %v", result.Issues)
	}
}

func TestValidateFieldPenalties(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(d *models.ParsedInvoiceData)
		want   int
		check  func(r models.ValidationResult) bool
	}{
		{"zero amount", func(d *models.ParsedInvoiceData) {
			d.Amount, d.Subtotal, d.Tax, d.LineItems = decimal.Zero, decimal.Zero, decimal.Zero, nil
		}, 75, func(r models.ValidationResult) bool { return !r.AmountValid }},
		{"huge amount", func(d *models.ParsedInvoiceData) {
			d.Amount, d.Subtotal, d.Tax, d.LineItems = decimal.NewFromInt(20_000_000), decimal.Zero, decimal.Zero, nil
		}, 80, func(r models.ValidationResult) bool { return !r.AmountValid }},
		{"too many decimals", func(d *models.ParsedInvoiceData) {
			d.Amount, d.Subtotal, d.Tax, d.LineItems = decimal.RequireFromString("10.12345"), decimal.Zero, decimal.Zero, nil
		}, 95, func(r models.ValidationResult) bool { return !r.AmountValid }},
		{"missing date", func(d *models.ParsedInvoiceData) { d.Date = time.Time{} },
			80, func(r models.ValidationResult) bool { return !r.DateValid }},
		{"ancient date", func(d *models.ParsedInvoiceData) { d.Date = validatorNow.AddDate(-6, 0, 0) },
			85, func(r models.ValidationResult) bool { return !r.DateValid }},
		{"far future date", func(d *models.ParsedInvoiceData) { d.Date = validatorNow.AddDate(3, 0, 0) },
			85, func(r models.ValidationResult) bool { return !r.DateValid }},
		{"short vendor", func(d *models.ParsedInvoiceData) { d.Vendor = "A" },
			80, func(r models.ValidationResult) bool { return !r.VendorValid }},
		{"placeholder vendor", func(d *models.ParsedInvoiceData) { d.Vendor = "Unknown Vendor" },
			85, func(r models.ValidationResult) bool { return !r.VendorValid }},
		{"numeric vendor", func(d *models.ParsedInvoiceData) { d.Vendor = "123456" },
			85, func(r models.ValidationResult) bool { return !r.VendorValid }},
		{"repetitive vendor", func(d *models.ParsedInvoiceData) { d.Vendor = "aaaa" },
			90, func(r models.ValidationResult) bool { return !r.VendorValid }},
		{"structural vendor", func(d *models.ParsedInvoiceData) { d.Vendor = "Total Due" },
			85, func(r models.ValidationResult) bool { return !r.VendorValid }},
		{"long vendor", func(d *models.ParsedInvoiceData) { d.Vendor = strings.Repeat("Acme ", 25) },
			90, func(r models.ValidationResult) bool { return !r.VendorValid }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := goodInvoice()
			tt.mutate(&d)
			r := newTestValidator().Validate(d, models.ExtractionMetadata{})
			if r.OverallConfidence != tt.want {
				t.Errorf("Expected confidence %d, got %d (issues: %v)", tt.want, r.OverallConfidence, r.Issues)
			}
			if !tt.check(r) {
				t.Errorf("Expected field flag to be cleared, got %+v", r)
			}
			if !r.IsValid {
				t.Error("Expected IsValid to always be true")
			}
		})
	}
}

func TestValidateLineItems(t *testing.T) {
	d := goodInvoice()
	d.LineItems = []models.LineItem{
		{Description: "Paper", Amount: decimal.RequireFromString("25.00"), Quantity: 2},
		{Description: "paper", Amount: decimal.Zero, Quantity: 0},
		{Description: "Toner", Amount: decimal.RequireFromString("50.00"), Quantity: 5000},
	}
	r := newTestValidator().Validate(d, models.ExtractionMetadata{})

	// non-positive 3, quantity 2x3, duplicate 2, sum mismatch 5
	if r.OverallConfidence != 84 {
		t.Errorf("Expected confidence 84, got %d (issues: %v)", r.OverallConfidence, r.Issues)
	}
	if r.LineItemsValid {
		t.Error("Expected line items to be flagged")
	}
	if !r.NeedsReview {
		t.Error("Expected review with more than 3 issues")
	}
}

func TestValidateTooManyLineItems(t *testing.T) {
	d := goodInvoice()
	d.LineItems = nil
	for i := 0; i < 60; i++ {
		d.LineItems = append(d.LineItems, models.LineItem{
			Description: "Item " + string(rune('A'+i%26)) + strings.Repeat("x", i/26),
			Amount:      decimal.RequireFromString("1.6667"),
			Quantity:    1,
		})
	}
	r := newTestValidator().Validate(d, models.ExtractionMetadata{})
	if r.LineItemsValid {
		t.Error("Expected more than 50 items to be flagged")
	}
	if r.OverallConfidence != 95 {
		t.Errorf("Expected confidence 95, got %d (issues: %v)", r.OverallConfidence, r.Issues)
	}
}

func TestValidateAdditionalPenalties(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(d *models.ParsedInvoiceData)
		meta   models.ExtractionMetadata
		want   int
	}{
		{"low ocr confidence", func(d *models.ParsedInvoiceData) {},
			models.ExtractionMetadata{OCRConfidence: 55, Method: models.MethodOptical}, 90},
		{"degraded extraction", func(d *models.ParsedInvoiceData) {},
			models.ExtractionMetadata{Method: models.MethodOptical}, 90},
		{"good ocr confidence", func(d *models.ParsedInvoiceData) {},
			models.ExtractionMetadata{OCRConfidence: 92, Method: models.MethodOptical}, 100},
		{"multi page", func(d *models.ParsedInvoiceData) {},
			models.ExtractionMetadata{PageCount: 3}, 97},
		{"subtotal mismatch", func(d *models.ParsedInvoiceData) { d.Amount = decimal.RequireFromString("125.00") },
			models.ExtractionMetadata{}, 90},
		{"tax above half", func(d *models.ParsedInvoiceData) {
			d.Subtotal, d.Tax, d.Amount, d.LineItems = decimal.NewFromInt(100), decimal.NewFromInt(60), decimal.NewFromInt(160), nil
		}, models.ExtractionMetadata{}, 95},
		{"tax above subtotal", func(d *models.ParsedInvoiceData) {
			d.Subtotal, d.Tax, d.Amount, d.LineItems = decimal.NewFromInt(100), decimal.NewFromInt(150), decimal.NewFromInt(250), nil
		}, models.ExtractionMetadata{}, 92},
		{"tiny tax", func(d *models.ParsedInvoiceData) {
			d.Subtotal, d.Tax, d.Amount, d.LineItems = decimal.NewFromInt(1000), decimal.RequireFromString("0.01"), decimal.RequireFromString("1000.01"), nil
		}, models.ExtractionMetadata{}, 97},
		{"subscription vendor large", func(d *models.ParsedInvoiceData) {
			d.Vendor, d.Subtotal, d.Tax, d.Amount, d.LineItems = "Midjourney Inc", decimal.Zero, decimal.Zero, decimal.NewFromInt(1200), nil
		}, models.ExtractionMetadata{}, 98},
		{"subscription vendor huge", func(d *models.ParsedInvoiceData) {
			d.Vendor, d.Subtotal, d.Tax, d.Amount, d.LineItems = "Midjourney Inc", decimal.Zero, decimal.Zero, decimal.NewFromInt(6000), nil
		}, models.ExtractionMetadata{}, 97},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := goodInvoice()
			tt.mutate(&d)
			r := newTestValidator().Validate(d, tt.meta)
			if r.OverallConfidence != tt.want {
				t.Errorf("Expected confidence %d, got %d (issues: %v)", tt.want, r.OverallConfidence, r.Issues)
			}
		})
	}
}

func TestValidateConfidenceFloor(t *testing.T) {
	d := models.ParsedInvoiceData{
		Vendor: "",
		Amount: decimal.Zero,
		LineItems: []models.LineItem{
			{Description: "x", Amount: decimal.Zero, Quantity: 0},
			{Description: "x", Amount: decimal.Zero, Quantity: 0},
		},
	}
	r := newTestValidator().Validate(d, models.ExtractionMetadata{OCRConfidence: 10, PageCount: 4})

	if r.OverallConfidence != 20 {
		t.Errorf("Expected confidence clamped to 20, got %d", r.OverallConfidence)
	}
	if !r.NeedsReview {
		t.Error("Expected review below 80")
	}
	if !r.IsValid {
		t.Error("Expected IsValid to always be true")
	}
}

func TestNeedsReviewInvariant(t *testing.T) {
	inputs := []models.ParsedInvoiceData{goodInvoice(), {}, {Vendor: "aaaa", Amount: decimal.NewFromInt(5)}}
	for i, d := range inputs {
		r := newTestValidator().Validate(d, models.ExtractionMetadata{})
		want := r.OverallConfidence < 80 || len(r.Issues) > 3
		if r.NeedsReview != want {
			t.Errorf("input %d: NeedsReview %v but confidence %d and %d issues", i, r.NeedsReview, r.OverallConfidence, len(r.Issues))
		}
		if r.OverallConfidence < 20 || r.OverallConfidence > 100 {
			t.Errorf("input %d: confidence %d outside [20,100]", i, r.OverallConfidence)
		}
	}
}
