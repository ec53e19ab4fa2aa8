package parser

import (
	"regexp"

	"github.com/shopspring/decimal"
)

type amountPattern struct {
	label    string
	priority int
	re       *regexp.Regexp
}

func labelled(label string) *regexp.Regexp {
	return regexp.MustCompile(`(?im)` + label + labelGap + moneyCapture)
}

// amountPatterns is ordered by priority; equal priorities keep table order
var amountPatterns = []amountPattern{
	{"amount due", 10, labelled(`\bamount\s+due\b`)},
	{"total amount", 9, labelled(`\btotal\s+amount\b`)},
	{"total", 8, labelled(`^\s*total\b`)},
	{"grand total", 8, labelled(`\bgrand\s+total\b`)},
	{"balance due", 7, labelled(`\bbalance\s+due\b`)},
	{"usd due", 6, regexp.MustCompile(`(?i)[$]?\s?(` + numPattern + `)\s*USD\s+due\b`)},
}

// lines like "Total excluding tax" do not carry the invoice total
var totalQualifierRe = regexp.MustCompile(`(?i)^\s*total\s+(?:excl|excluding|before|pre|tax|vat|gst|savings|discount|items?|qty|quantity|weight|paid)`)

// ExtractAmount returns the invoice total: the highest-priority labelled
// amount, or else the largest currency figure in (0, 100000].
func ExtractAmount(text string) decimal.Decimal {
	for _, p := range amountPatterns {
		for _, m := range p.re.FindAllStringSubmatch(text, -1) {
			if p.label == "total" && totalQualifierRe.MatchString(m[0]) {
				continue
			}
			if d, ok := parseMoney(firstGroup(m)); ok && d.IsPositive() {
				return d
			}
		}
	}
	return largestAmount(text)
}

func largestAmount(text string) decimal.Decimal {
	best := decimal.Zero
	for _, d := range moneyValues(text) {
		if inRange(d, decimal.Zero, maxAmount) && d.GreaterThan(best) {
			best = d
		}
	}
	return best
}

var subtotalPatterns = []*regexp.Regexp{
	labelled(`\bsub\s*-?\s*total\b`),
	labelled(`\bnet\s+amount\b`),
}

// ExtractSubtotal returns the earliest subtotal or net amount in (0, 100000]
func ExtractSubtotal(text string) decimal.Decimal {
	bestPos := -1
	best := decimal.Zero
	for _, re := range subtotalPatterns {
		for _, loc := range re.FindAllStringSubmatchIndex(text, -1) {
			d, ok := parseMoney(groupAt(text, loc))
			if !ok || !inRange(d, decimal.Zero, maxAmount) {
				continue
			}
			if bestPos == -1 || loc[0] < bestPos {
				bestPos, best = loc[0], d
			}
			break
		}
	}
	return best
}

// groupAt returns the first non-empty capture group of a submatch index
func groupAt(text string, loc []int) string {
	for i := 2; i+1 < len(loc); i += 2 {
		if loc[i] >= 0 && loc[i+1] > loc[i] {
			return text[loc[i]:loc[i+1]]
		}
	}
	return ""
}

var (
	taxLabelRe    = regexp.MustCompile(`(?i)^(?:sales\s+)?(?:tax|vat|gst|igst|cgst|sgst|hst)\b`)
	taxKeywordRe  = regexp.MustCompile(`(?i)\b(?:tax|vat|gst|igst|cgst|sgst|hst)\b`)
	taxExcludeRe  = regexp.MustCompile(`(?i)\b(?:excl|excluding|before|pre-?tax|incl|including)\b`)
	endsInMoneyRe = regexp.MustCompile(`(?:[$€£]\s?(?:` + numPattern + `)|\b(?:` + centsPattern + `))\s*\)?\s*$`)
	moneyLineRe   = regexp.MustCompile(`^(?:USD\s*)?[$€£]\s?(` + numPattern + `)$`)
)

// ExtractTax finds the tax amount. A label line followed by a bare dollar
// line wins; otherwise the first inline tax figure that is neither the
// subtotal nor the total.
func ExtractTax(lines []string, subtotal, total decimal.Decimal) decimal.Decimal {
	for i := 0; i+1 < len(lines); i++ {
		if !taxLabelRe.MatchString(lines[i]) || endsInMoneyRe.MatchString(lines[i]) {
			continue
		}
		if m := moneyLineRe.FindStringSubmatch(lines[i+1]); m != nil {
			if d, ok := parseMoney(m[1]); ok && d.IsPositive() {
				return d
			}
		}
	}

	for _, line := range lines {
		loc := taxKeywordRe.FindStringIndex(line)
		if loc == nil || taxExcludeRe.MatchString(line) {
			continue
		}
		for _, d := range moneyValues(line[loc[1]:]) {
			if !d.IsPositive() || d.Equal(subtotal) || d.Equal(total) {
				continue
			}
			if total.IsPositive() && d.GreaterThan(total) {
				continue
			}
			return d
		}
	}
	return decimal.Zero
}
