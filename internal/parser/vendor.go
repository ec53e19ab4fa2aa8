package parser

import (
	"regexp"
	"strings"
	"unicode"
)

// Vendor priorities below the known-vendor table
const (
	priorityCompany   = 7
	priorityStore     = 6
	priorityFirstLine = 1

	// only the letterhead area is scanned
	vendorScanLines = 8
	maxVendorLength = 100
)

// VendorMatch is the winning vendor candidate
type VendorMatch struct {
	Name     string
	Priority int // 0 when nothing matched
}

var (
	companyRe = regexp.MustCompile(`(?i)^[a-z0-9][a-z0-9&.,'’\- ]{0,60}?[\s,]+(?:llc|l\.l\.c|inc|incorporated|corp|corporation|ltd|limited|co|gmbh|pbc|llp|plc|s\.a|srl)\.?$`)
	storeRe   = regexp.MustCompile(`(?i)^[a-z0-9][a-z0-9&'’\- ]{1,40}\s(?:store|shop|market|mart|supermarket|cafe|café|coffee|restaurant|pharmacy|bakery|deli|grill|bistro|bar|pub|kitchen|station|outlet|boutique)\b`)

	headerLineRe  = regexp.MustCompile(`(?i)^(?:invoice|receipt|bill(?:ed)?\s+to|ship\s+to|sold\s+to|date|due|total|sub\s*-?\s*total|amount|balance|tax|page\s+\d|order|payment|paid|description|qty|quantity|thank|customer|account)\b`)
	dateLineRe    = regexp.MustCompile(`(?i)^(?:\d{1,4}[/.\-]\d{1,2}[/.\-]\d{1,4}|(?:jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec)[a-z]*\.?\s+\d{1,2})`)
	addressLineRe = regexp.MustCompile(`(?i)^\d+\s+\S+.*\b(?:st|street|ave|avenue|rd|road|blvd|boulevard|suite|ste|floor|fl|dr|drive|lane|ln|way|court|ct|hwy|highway|pkwy|parkway)\b`)
	cityStateRe   = regexp.MustCompile(`\b[A-Z]{2}\s+\d{5}(?:-\d{4})?\b`)
	contactLineRe = regexp.MustCompile(`(?i)@|https?://|www\.|\bphone\b|\btel\b|\bfax\b|\(\d{3}\)\s*\d{3}-\d{4}|\b\d{3}[-.\s]\d{3}[-.\s]\d{4}\b`)
	numericLineRe = regexp.MustCompile(`^[\d\s$€£.,:#%/\-]+$`)
)

// ExtractVendor picks the highest-priority vendor candidate among the first
// lines. Ties keep the earlier line.
func (p *Parser) ExtractVendor(lines []string) VendorMatch {
	best := VendorMatch{Name: UnknownVendor}

	limit := len(lines)
	if limit > vendorScanLines {
		limit = vendorScanLines
	}

	for _, line := range lines[:limit] {
		if headerLineRe.MatchString(line) || isNonVendorLine(line) {
			continue
		}

		for _, v := range p.vendors {
			loc := v.re.FindStringIndex(line)
			if loc == nil || v.Priority <= best.Priority {
				continue
			}
			name := v.Name
			if loc[0] == 0 {
				name = cleanVendor(line)
			}
			best = VendorMatch{Name: name, Priority: v.Priority}
		}

		if priorityCompany > best.Priority && companyRe.MatchString(line) {
			best = VendorMatch{Name: cleanVendor(line), Priority: priorityCompany}
		}
		if priorityStore > best.Priority && storeRe.MatchString(line) {
			best = VendorMatch{Name: cleanVendor(line), Priority: priorityStore}
		}
		if priorityFirstLine > best.Priority && isSubstantial(line) {
			best = VendorMatch{Name: cleanVendor(line), Priority: priorityFirstLine}
		}
	}

	if best.Name == "" {
		best = VendorMatch{Name: UnknownVendor}
	}
	return best
}

func isNonVendorLine(line string) bool {
	return dateLineRe.MatchString(line) ||
		addressLineRe.MatchString(line) ||
		cityStateRe.MatchString(line) ||
		contactLineRe.MatchString(line) ||
		numericLineRe.MatchString(line)
}

func isSubstantial(line string) bool {
	if len(line) < 3 || len(line) > 50 {
		return false
	}
	if unicode.IsDigit(rune(line[0])) {
		return false
	}
	letters := 0
	for _, r := range line {
		if unicode.IsLetter(r) {
			letters++
		}
	}
	return letters >= 3
}

func cleanVendor(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	s = strings.Trim(s, " ,.:;|-*#•")
	if r := []rune(s); len(r) > maxVendorLength {
		s = strings.TrimSpace(string(r[:maxVendorLength]))
	}
	return s
}
