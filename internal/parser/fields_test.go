package parser

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestExtractVendor(t *testing.T) {
	p := testParser(t)

	tests := []struct {
		name     string
		text     string
		want     string
		priority int
	}{
		{"known vendor at top", "Midjourney Inc\nInvoice", "Midjourney Inc", 10},
		{"company suffix", "INVOICE\nAcme Widgets LLC\n42 Elm Street", "Acme Widgets LLC", 7},
		{"known vendor beats company", "Acme Widgets LLC\nInvoice\nGitHub", "GitHub", 9},
		{"known vendor inside line", "Statement from OpenAI, LLC", "OpenAI", 10},
		{"store suffix", "Receipt\n123 Main St\nBlue Door Bistro", "Blue Door Bistro", 6},
		{"first substantial line", "Receipt\nZephyr Holdings\nTotal $5.00", "Zephyr Holdings", 1},
		{"trailing punctuation", "Northwind Traders Inc.\n", "Northwind Traders Inc", 7},
		{"nothing usable", "12/01/2026\n$5.00\n", UnknownVendor, 0},
		{"contact line naming a known vendor", "Acme Consulting LLC\n500 Market Street Suite 2\nQuestions? support@github.com", "Acme Consulting LLC", 7},
		{"address line naming a known vendor", "Blue Door Bistro\n1 Amazon Way Suite 4", "Blue Door Bistro", 6},
		{"overlong first line", "Receipt\nQuarterly statement prepared for the northern district HQ\nTotal $5.00", UnknownVendor, 0},
		{"known vendor below the letterhead", "Invoice\n12/01/2026\nInvoice #42\nDate: 12/01/2026\nDue: 12/31/2026\nTotal $5.00\n$5.00\nPaid\nGitHub", UnknownVendor, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := p.ExtractVendor(splitLines(tt.text))
			if got.Name != tt.want {
				t.Errorf("Expected vendor %q, got %q", tt.want, got.Name)
			}
			if got.Priority != tt.priority {
				t.Errorf("Expected priority %d, got %d", tt.priority, got.Priority)
			}
		})
	}
}

func TestExtractAmount(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{"amount due wins over total", "Total $90.00\nAmount due $95.00", "95.00"},
		{"total amount", "Total amount: 1,234.56", "1234.56"},
		{"total skips excluding tax", "Total excluding tax $10.00\nTotal $11.80", "11.80"},
		{"grand total", "Grand Total $42.00", "42.00"},
		{"balance due", "Balance due $7.25", "7.25"},
		{"usd due", "$10.00 USD due October 16, 2026", "10.00"},
		{"label on previous line", "Amount due\n$11.80", "11.80"},
		{"fallback largest", "Thanks\nItem A 5.00\nItem B 7.50", "7.50"},
		{"fallback ignores huge", "Ref 250000.00\npaid 12.00", "12.00"},
		{"fallback ignores rates", "Rate 99.00%\nFee 3.00", "3.00"},
		{"nothing", "hello world", "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractAmount(tt.text)
			if !got.Equal(decimal.RequireFromString(tt.want)) {
				t.Errorf("Expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestExtractSubtotal(t *testing.T) {
	tests := []struct {
		text string
		want string
	}{
		{"Subtotal $12.25\nTotal $13.26", "12.25"},
		{"Sub-total: 99.99", "99.99"},
		{"Net amount 40.00\nSubtotal 50.00", "40.00"},
		{"Subtotal\n$10.00", "10.00"},
		{"Subtotal $0.00", "0"},
		{"no subtotal here", "0"},
	}
	for _, tt := range tests {
		got := ExtractSubtotal(tt.text)
		if !got.Equal(decimal.RequireFromString(tt.want)) {
			t.Errorf("ExtractSubtotal(%q): expected %s, got %s", tt.text, tt.want, got)
		}
	}
}

func TestExtractTax(t *testing.T) {
	d := decimal.RequireFromString
	tests := []struct {
		name     string
		text     string
		subtotal string
		total    string
		want     string
	}{
		{"adjacent lines", "Tax (18%)\n$1.80\nTotal\n$11.80", "10.00", "11.80", "1.80"},
		{"inline", "Sales Tax $1.01", "12.25", "13.26", "1.01"},
		{"inline skips subtotal figure", "Tax on $100.00: $8.00", "100.00", "108.00", "8.00"},
		{"inline skips rate", "GST 5% $2.50", "50.00", "52.50", "2.50"},
		{"igst", "IGST @18% 18.00", "100.00", "118.00", "18.00"},
		{"skips total including tax", "Total including tax $11.80", "10.00", "11.80", "0"},
		{"no tax", "Subtotal $5.00\nTotal $5.00", "5.00", "5.00", "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractTax(splitLines(tt.text), d(tt.subtotal), d(tt.total))
			if !got.Equal(d(tt.want)) {
				t.Errorf("Expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestExtractDate(t *testing.T) {
	day := func(y int, m time.Month, d int) time.Time {
		return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	}

	tests := []struct {
		name string
		text string
		want time.Time
	}{
		{"date of issue", "Date of issue October 16, 2026", day(2026, time.October, 16)},
		{"explicit date label", "Date: 2026-09-30", day(2026, time.September, 30)},
		{"implausible label falls through to due", "Date: 2019-01-01\nDue: 2026-11-01", day(2026, time.November, 1)},
		{"due date line is not the issue date", "Due date: 2026-12-01\nDate: 2026-10-01", day(2026, time.October, 1)},
		{"month name", "Thanks for shopping Mar 3, 2026", day(2026, time.March, 3)},
		{"day month year", "Issued 5 March 2026", day(2026, time.March, 5)},
		{"iso", "ref 2025-12-24 x", day(2025, time.December, 24)},
		{"slash us", "10/02/2026", day(2026, time.October, 2)},
		{"slash day first", "13/10/2026", day(2026, time.October, 13)},
		{"two digit year", "4/1/26", day(2026, time.April, 1)},
		{"too old falls back to today", "January 1, 2001", day(2026, time.October, 16)},
		{"invalid day falls back to today", "2026-02-30", day(2026, time.October, 16)},
		{"no date", "nothing to see", day(2026, time.October, 16)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractDate(tt.text, testNow)
			if !got.Equal(tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestExtractLineItems(t *testing.T) {
	text := `Description Qty Unit Total
Widget 3 2.00 6.00
Gadget x $4.00
Service fee $15.00
Consulting 120.00
Subtotal $141.00
Tax $11.28
Tip: $5.00
Total $157.28`

	items := ExtractLineItems(splitLines(text))

	want := []struct {
		desc   string
		amount string
		qty    int
	}{
		{"Widget", "2.00", 3},
		{"Gadget x", "4.00", 1},
		{"Service fee", "15.00", 1},
		{"Consulting", "120.00", 1},
	}
	if len(items) != len(want) {
		t.Fatalf("Expected %d items, got %d: %+v", len(want), len(items), items)
	}
	for i, w := range want {
		if items[i].Description != w.desc {
			t.Errorf("item %d: expected description %q, got %q", i, w.desc, items[i].Description)
		}
		if !items[i].Amount.Equal(decimal.RequireFromString(w.amount)) {
			t.Errorf("item %d: expected amount %s, got %s", i, w.amount, items[i].Amount)
		}
		if items[i].Quantity != w.qty {
			t.Errorf("item %d: expected quantity %d, got %d", i, w.qty, items[i].Quantity)
		}
	}
}

func TestExtractLineItemsSubscriptionCluster(t *testing.T) {
	lines := splitLines("Pro Plan\nJan 1 – Feb 1, 2026\n2$20.00$40.00\nTotal $40.00")
	items := ExtractLineItems(lines)
	if len(items) != 1 {
		t.Fatalf("Expected 1 item, got %d: %+v", len(items), items)
	}
	if items[0].Quantity != 2 {
		t.Errorf("Expected quantity 2, got %d", items[0].Quantity)
	}
	if !items[0].Amount.Equal(decimal.NewFromInt(40)) {
		t.Errorf("Expected amount 40, got %s", items[0].Amount)
	}
	if items[0].Description != "Pro Plan (Jan 1 – Feb 1, 2026)" {
		t.Errorf("Unexpected description %q", items[0].Description)
	}
}
