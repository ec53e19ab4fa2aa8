package parser

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

const monthNames = `jan(?:uary)?|feb(?:ruary)?|mar(?:ch)?|apr(?:il)?|may|jun(?:e)?|jul(?:y)?|aug(?:ust)?|sep(?:t(?:ember)?)?|oct(?:ober)?|nov(?:ember)?|dec(?:ember)?`

var (
	monthDayYearRe = regexp.MustCompile(`(?i)\b(` + monthNames + `)\.?\s+(\d{1,2})(?:st|nd|rd|th)?,?\s+(\d{4})\b`)
	dayMonthYearRe = regexp.MustCompile(`(?i)\b(\d{1,2})(?:st|nd|rd|th)?\s+(` + monthNames + `)\.?,?\s+(\d{4})\b`)
	isoDateRe      = regexp.MustCompile(`\b(\d{4})-(\d{1,2})-(\d{1,2})\b`)
	slashDateRe    = regexp.MustCompile(`\b(\d{1,2})[/.\-](\d{1,2})[/.\-](\d{2,4})\b`)

	issueLabelRe = regexp.MustCompile(`(?i)\bdate\s+of\s+issue\b(.*)$`)
	dateLabelRe  = regexp.MustCompile(`(?i)\bdate\b\s*[:\-]?(.*)$`)
	dueLabelRe   = regexp.MustCompile(`(?i)\bdue\b(?:\s+date)?\s*[:\-]?(.*)$`)
	dueDateRe    = regexp.MustCompile(`(?i)\bdue\s+date\b`)

	months = map[string]time.Month{
		"jan": time.January, "feb": time.February, "mar": time.March,
		"apr": time.April, "may": time.May, "jun": time.June,
		"jul": time.July, "aug": time.August, "sep": time.September,
		"oct": time.October, "nov": time.November, "dec": time.December,
	}
)

// ExtractDate walks the date patterns in order: date of issue, "date:",
// "due:", month-name, ISO and slash dates. The first parsed date inside
// [now-2y, now+1y] wins; otherwise today.
func ExtractDate(text string, now time.Time) time.Time {
	lines := splitLines(text)
	lo, hi := now.AddDate(-2, 0, 0), now.AddDate(1, 0, 0)
	plausible := func(d time.Time) bool {
		return !d.Before(startOfDay(lo)) && !d.After(hi)
	}

	labelled := []struct {
		re   *regexp.Regexp
		skip func(string) bool
	}{
		{issueLabelRe, nil},
		{dateLabelRe, dueDateRe.MatchString},
		{dueLabelRe, nil},
	}
	for _, l := range labelled {
		for _, line := range lines {
			if l.skip != nil && l.skip(line) {
				continue
			}
			m := l.re.FindStringSubmatch(line)
			if m == nil {
				continue
			}
			d, ok := parseDateText(m[1])
			if !ok {
				continue
			}
			if plausible(d) {
				return d
			}
			break
		}
	}

	for _, parse := range []func(string) (time.Time, bool){
		parseMonthName, parseISO, parseSlash,
	} {
		if d, ok := parse(text); ok && plausible(d) {
			return d
		}
	}

	return startOfDay(now)
}

// parseDateText parses the first date of any supported shape in s
func parseDateText(s string) (time.Time, bool) {
	for _, parse := range []func(string) (time.Time, bool){
		parseMonthName, parseISO, parseSlash,
	} {
		if d, ok := parse(s); ok {
			return d, true
		}
	}
	return time.Time{}, false
}

func parseMonthName(s string) (time.Time, bool) {
	mdy := monthDayYearRe.FindStringSubmatchIndex(s)
	dmy := dayMonthYearRe.FindStringSubmatchIndex(s)

	if mdy != nil && (dmy == nil || mdy[0] <= dmy[0]) {
		return makeDate(atoi(s[mdy[6]:mdy[7]]), monthOf(s[mdy[2]:mdy[3]]), atoi(s[mdy[4]:mdy[5]]))
	}
	if dmy != nil {
		return makeDate(atoi(s[dmy[6]:dmy[7]]), monthOf(s[dmy[4]:dmy[5]]), atoi(s[dmy[2]:dmy[3]]))
	}
	return time.Time{}, false
}

func parseISO(s string) (time.Time, bool) {
	m := isoDateRe.FindStringSubmatch(s)
	if m == nil {
		return time.Time{}, false
	}
	return makeDate(atoi(m[1]), time.Month(atoi(m[2])), atoi(m[3]))
}

// parseSlash reads month/day/year, switching to day/month/year when the
// first field cannot be a month
func parseSlash(s string) (time.Time, bool) {
	m := slashDateRe.FindStringSubmatch(s)
	if m == nil {
		return time.Time{}, false
	}
	first, second, year := atoi(m[1]), atoi(m[2]), atoi(m[3])
	if len(m[3]) == 2 {
		year += 2000
	}
	if first > 12 && second <= 12 {
		first, second = second, first
	}
	return makeDate(year, time.Month(first), second)
}

func makeDate(year int, month time.Month, day int) (time.Time, bool) {
	if month < time.January || month > time.December || day < 1 || day > 31 || year < 1900 {
		return time.Time{}, false
	}
	d := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	// reject overflow such as February 30
	if d.Month() != month || d.Day() != day {
		return time.Time{}, false
	}
	return d, true
}

func monthOf(name string) time.Month {
	name = strings.ToLower(name)
	if len(name) > 3 {
		name = name[:3]
	}
	return months[name]
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
