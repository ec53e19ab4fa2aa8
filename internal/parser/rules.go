package parser

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// VendorPattern is a known-vendor rule. Priority is 6-10.
type VendorPattern struct {
	Name         string `yaml:"name"`
	Pattern      string `yaml:"pattern"`
	Priority     int    `yaml:"priority"`
	Subscription bool   `yaml:"subscription"` // recurring SaaS billing, usually small amounts
}

// Rules holds the data driven tables of the field extractor
type Rules struct {
	Vendors []VendorPattern `yaml:"vendors"`
}

type compiledVendor struct {
	VendorPattern
	re *regexp.Regexp
}

// DefaultVendors is the built-in known-vendor table
var DefaultVendors = []VendorPattern{
	{Name: "Midjourney Inc", Pattern: `(?i)\bmidjourney\b`, Priority: 10, Subscription: true},
	{Name: "OpenAI", Pattern: `(?i)\bopen\s?ai\b`, Priority: 10, Subscription: true},
	{Name: "Anthropic", Pattern: `(?i)\banthropic\b`, Priority: 10, Subscription: true},
	{Name: "GitHub", Pattern: `(?i)\bgithub\b`, Priority: 9, Subscription: true},
	{Name: "Amazon Web Services", Pattern: `(?i)\b(amazon web services|aws)\b`, Priority: 9},
	{Name: "Google Cloud", Pattern: `(?i)\bgoogle\s+(cloud|workspace)\b`, Priority: 9, Subscription: true},
	{Name: "Microsoft", Pattern: `(?i)\bmicrosoft\b`, Priority: 8, Subscription: true},
	{Name: "Adobe", Pattern: `(?i)\badobe\b`, Priority: 8, Subscription: true},
	{Name: "Slack", Pattern: `(?i)\bslack\b`, Priority: 8, Subscription: true},
	{Name: "Zoom", Pattern: `(?i)\bzoom\s+video\b|^zoom\b`, Priority: 8, Subscription: true},
	{Name: "Notion", Pattern: `(?i)\bnotion\s+labs\b|^notion\b`, Priority: 8, Subscription: true},
	{Name: "Dropbox", Pattern: `(?i)\bdropbox\b`, Priority: 8, Subscription: true},
	{Name: "Figma", Pattern: `(?i)\bfigma\b`, Priority: 8, Subscription: true},
	{Name: "Atlassian", Pattern: `(?i)\batlassian\b`, Priority: 8, Subscription: true},
	{Name: "Vercel", Pattern: `(?i)\bvercel\b`, Priority: 7, Subscription: true},
	{Name: "DigitalOcean", Pattern: `(?i)\bdigital\s?ocean\b`, Priority: 7},
	{Name: "Heroku", Pattern: `(?i)\bheroku\b`, Priority: 7, Subscription: true},
	{Name: "Uber", Pattern: `(?i)^uber\b`, Priority: 7},
	{Name: "Lyft", Pattern: `(?i)^lyft\b`, Priority: 7},
	{Name: "Amazon", Pattern: `(?i)\bamazon(\.com)?\b`, Priority: 6},
	{Name: "Apple", Pattern: `(?i)^apple\b`, Priority: 6},
	{Name: "Starbucks", Pattern: `(?i)\bstarbucks\b`, Priority: 6},
	{Name: "Walmart", Pattern: `(?i)\bwal-?mart\b`, Priority: 6},
	{Name: "Target", Pattern: `(?i)^target\b`, Priority: 6},
	{Name: "Costco", Pattern: `(?i)\bcostco\b`, Priority: 6},
	{Name: "The Home Depot", Pattern: `(?i)\bhome\s+depot\b`, Priority: 6},
	{Name: "Staples", Pattern: `(?i)^staples\b`, Priority: 6},
	{Name: "FedEx", Pattern: `(?i)\bfedex\b`, Priority: 6},
	{Name: "UPS", Pattern: `(?i)^ups\b|\bunited parcel service\b`, Priority: 6},
}

// DefaultRules returns the built-in tables
func DefaultRules() Rules {
	return Rules{Vendors: append([]VendorPattern(nil), DefaultVendors...)}
}

// LoadRules reads a YAML rules file. Vendors from the file are tried before
// the built-in ones.
func LoadRules(path string) (Rules, error) {
	rules := DefaultRules()
	if path == "" {
		return rules, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return rules, fmt.Errorf("failed to read rules file: %w", err)
	}

	var file Rules
	if err := yaml.Unmarshal(data, &file); err != nil {
		return rules, fmt.Errorf("failed to parse rules file: %w", err)
	}
	rules.Vendors = append(file.Vendors, rules.Vendors...)
	return rules, nil
}

func compileVendors(patterns []VendorPattern) ([]compiledVendor, error) {
	out := make([]compiledVendor, 0, len(patterns))
	for _, p := range patterns {
		if p.Priority < 6 || p.Priority > 10 {
			return nil, fmt.Errorf("vendor %q: priority %d outside 6-10", p.Name, p.Priority)
		}
		re, err := regexp.Compile(p.Pattern)
		if err != nil {
			return nil, fmt.Errorf("vendor %q: %w", p.Name, err)
		}
		out = append(out, compiledVendor{VendorPattern: p, re: re})
	}
	return out, nil
}
