package parser

import (
	"regexp"
	"time"

	"github.com/facturaIA/invoice-insight/internal/models"
	"github.com/shopspring/decimal"
)

const maxConfidentItems = 20

var (
	structureKeywordRe = regexp.MustCompile(`(?i)total|tax|amount`)

	reconcileTol = decimal.RequireFromString("0.02")
)

// ScoreConfidence estimates how much the parsed fields can be trusted.
// It starts from 100 and subtracts per missing or implausible field.
// Subtotal reconciliation only counts when a subtotal was found.
func ScoreConfidence(data models.ParsedInvoiceData, text string, now time.Time) int {
	score := 100

	switch {
	case data.Vendor == "" || data.Vendor == UnknownVendor:
		score -= 20
	case len([]rune(data.Vendor)) < 3:
		score -= 15
	}

	switch {
	case data.Amount.IsZero():
		score -= 30
	case data.Amount.GreaterThan(maxAmount):
		score -= 10
	}

	if data.Date.IsZero() || data.Date.Before(now.AddDate(-1, 0, 0)) || data.Date.After(now.AddDate(1, 0, 0)) {
		score -= 15
	}

	switch n := len(data.LineItems); {
	case n == 0:
		score -= 10
	case n > maxConfidentItems:
		score -= 15
	}

	if data.Subtotal.IsPositive() {
		if data.Subtotal.Add(data.Tax).Sub(data.Amount).Abs().LessThanOrEqual(reconcileTol) {
			score += 5
		} else {
			score -= 10
		}
	}

	if !structureKeywordRe.MatchString(text) {
		score -= 15
	}

	return max(0, min(100, score))
}
