package parser

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/facturaIA/invoice-insight/internal/models"
	"github.com/shopspring/decimal"
)

var (
	// subscription invoices: plan name, billing period, then "1$10.0018%$10.00"
	planLineRe    = regexp.MustCompile(`(?i)\b(?:plan|subscription|membership|seats?|license|tier)\b`)
	periodLineRe  = regexp.MustCompile(`(?i)^[a-z]{3,9}\.?\s+\d{1,2}(?:,?\s+\d{4})?\s*[-–—]\s*[a-z]{3,9}\.?\s+\d{1,2},?\s+\d{4}$`)
	compactLineRe = regexp.MustCompile(`^(\d{1,4})\s*[$€£]\s?(` + centsPattern + `)\s*(?:(\d{1,2}(?:\.\d+)?)\s*%)?\s*[$€£]\s?(` + centsPattern + `)$`)

	// description qty unit total
	tableRowRe = regexp.MustCompile(`^(.+?)\s+(\d{1,4})\s*[xX@]?\s+[$€£]?\s?(` + centsPattern + `)\s+[$€£]?\s?(` + centsPattern + `)$`)
	// description $amount
	dollarRowRe = regexp.MustCompile(`^(.+?)\s*[$€£]\s?(` + centsPattern + `)$`)
	// description amount
	bareRowRe = regexp.MustCompile(`^(.+?)\s+(` + centsPattern + `)$`)

	summaryTailRe = regexp.MustCompile(`(?i)\b(?:total|subtotal|sub-total|tax|taxes|vat|gst|igst|cgst|sgst|hst|pst|tip|gratuity|due|balance|paid|payment|discount|change|cash|amount)\b\s*:?\s*(?:\([^)]*\))?\s*[:\-]?$`)
	summaryHeadRe = regexp.MustCompile(`(?i)^(?:total|sub\s*-?\s*total|tax|amount|balance|invoice|receipt|date|due|payment|paid|visa|mastercard|amex|card|change|cash|tip|page)\b`)
)

// ExtractLineItems recognises the subscription cluster first, then generic
// row shapes. Rows whose description reads like a total, tax or tip line
// are skipped.
func ExtractLineItems(lines []string) []models.LineItem {
	items := []models.LineItem{}
	used := make([]bool, len(lines))

	for i := 0; i+2 < len(lines); i++ {
		if !planLineRe.MatchString(lines[i]) || len(moneyValues(lines[i])) > 0 {
			continue
		}
		if !periodLineRe.MatchString(lines[i+1]) {
			continue
		}
		m := compactLineRe.FindStringSubmatch(lines[i+2])
		if m == nil {
			continue
		}
		amount, ok := parseMoney(m[4])
		if !ok {
			continue
		}
		items = append(items, models.LineItem{
			Description: lines[i] + " (" + lines[i+1] + ")",
			Amount:      amount,
			Quantity:    quantity(m[1]),
		})
		used[i], used[i+1], used[i+2] = true, true, true
		i += 2
	}

	for i, line := range lines {
		if used[i] {
			continue
		}
		if item, ok := parseRow(line); ok {
			items = append(items, item)
		}
	}
	return items
}

func parseRow(line string) (models.LineItem, bool) {
	var (
		desc   string
		amount decimal.Decimal
		qty    = 1
		ok     bool
	)

	if m := tableRowRe.FindStringSubmatch(line); m != nil {
		desc, qty = m[1], quantity(m[2])
		amount, ok = parseMoney(m[3])
	} else if m := dollarRowRe.FindStringSubmatch(line); m != nil {
		desc = m[1]
		amount, ok = parseMoney(m[2])
	} else if m := bareRowRe.FindStringSubmatch(line); m != nil {
		desc = m[1]
		amount, ok = parseMoney(m[2])
	}
	if !ok {
		return models.LineItem{}, false
	}

	desc = strings.TrimRight(strings.TrimSpace(desc), ":-–")
	desc = strings.TrimSpace(desc)
	if !validDescription(desc) {
		return models.LineItem{}, false
	}
	return models.LineItem{Description: desc, Amount: amount, Quantity: qty}, true
}

func validDescription(desc string) bool {
	if len(desc) < 2 {
		return false
	}
	hasLetter := false
	for _, r := range desc {
		if unicode.IsLetter(r) {
			hasLetter = true
			break
		}
	}
	if !hasLetter {
		return false
	}
	return !summaryTailRe.MatchString(desc) && !summaryHeadRe.MatchString(desc)
}

func quantity(s string) int {
	q, err := strconv.Atoi(s)
	if err != nil || q < 1 {
		return 1
	}
	return q
}
