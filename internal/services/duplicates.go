package services

import (
	"sort"
	"strings"
	"time"

	"github.com/facturaIA/invoice-insight/internal/models"
	"github.com/shopspring/decimal"
)

var (
	fivePercent = decimal.RequireFromString("0.05")
	tenPercent  = decimal.RequireFromString("0.10")
	cent        = decimal.RequireFromString("0.005")
)

// Window is the prefilter a store applies before scoring
type Window struct {
	AmountTolerance float64 // fraction of the larger amount
	Days            int
}

// DefaultWindow matches vendor substring, amount ±5% and date ±1 day
var DefaultWindow = Window{AmountTolerance: 0.05, Days: 1}

// Contains reports whether stored falls inside the window around candidate
func (w Window) Contains(candidate, stored models.InvoiceFingerprint) bool {
	a, b := normalizeName(candidate.Vendor), normalizeName(stored.Vendor)
	if a == "" || b == "" || !(strings.Contains(a, b) || strings.Contains(b, a)) {
		return false
	}
	if !relativelyClose(candidate.Amount, stored.Amount, decimal.NewFromFloat(w.AmountTolerance)) {
		return false
	}
	return dayDistance(candidate.Date, stored.Date) <= w.Days
}

// Score rates how likely two invoices are the same document, 0-100.
// Score(a, b) == Score(b, a).
func Score(a, b models.InvoiceFingerprint) int {
	score := 0

	switch {
	case a.Amount.Sub(b.Amount).Abs().LessThan(cent):
		score += 40
	case relativelyClose(a.Amount, b.Amount, fivePercent):
		score += 30
	case relativelyClose(a.Amount, b.Amount, tenPercent):
		score += 20
	}

	va, vb := normalizeName(a.Vendor), normalizeName(b.Vendor)
	switch {
	case va == "" || vb == "":
	case va == vb:
		score += 30
	case strings.Contains(va, vb) || strings.Contains(vb, va):
		score += 20
	}

	if !a.Date.IsZero() && !b.Date.IsZero() {
		switch days := dayDistance(a.Date, b.Date); {
		case days == 0:
			score += 30
		case days <= 1:
			score += 20
		case days <= 7:
			score += 10
		}
	}

	if score > 100 {
		score = 100
	}
	return score
}

// FindDuplicates scores each stored invoice against the candidate and
// returns the non-zero matches, best first. The result is advisory.
func FindDuplicates(vendor string, amount decimal.Decimal, date time.Time, candidates []models.StoredInvoice) []models.DuplicateCandidate {
	probe := models.InvoiceFingerprint{Vendor: vendor, Amount: amount, Date: date}

	out := []models.DuplicateCandidate{}
	for _, c := range candidates {
		score := Score(probe, c.Fingerprint())
		if score == 0 {
			continue
		}
		out = append(out, models.DuplicateCandidate{
			InvoiceID:       c.ID.String(),
			Vendor:          c.Vendor,
			Amount:          c.Amount,
			Date:            c.Date,
			SimilarityScore: score,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].SimilarityScore != out[j].SimilarityScore {
			return out[i].SimilarityScore > out[j].SimilarityScore
		}
		return out[i].InvoiceID < out[j].InvoiceID
	})
	return out
}

func normalizeName(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// relativelyClose reports |a-b| <= tol * max(|a|,|b|)
func relativelyClose(a, b, tol decimal.Decimal) bool {
	base := a.Abs()
	if b.Abs().GreaterThan(base) {
		base = b.Abs()
	}
	if base.IsZero() {
		return true
	}
	return a.Sub(b).Abs().LessThanOrEqual(base.Mul(tol))
}

// dayDistance counts calendar days between two dates
func dayDistance(a, b time.Time) int {
	da := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	db := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	d := da.Sub(db)
	if d < 0 {
		d = -d
	}
	return int(d.Hours()/24 + 0.5)
}
