package learning

import (
	"fmt"
	"os"
	"regexp"
	"sort"

	"github.com/facturaIA/invoice-insight/internal/models"
	"gopkg.in/yaml.v3"
)

const (
	SourceRules   = "rules"
	SourceDefault = "default"

	DefaultCategory = "5000"
)

// CategoryRule maps vendors matching Pattern to Category. Higher Priority
// rules are tried first; Priority is 1-10.
type CategoryRule struct {
	Pattern  string `yaml:"pattern"`
	Category string `yaml:"category"`
	Priority int    `yaml:"priority"`
}

// DefaultCategoryRules is the built-in rule table
var DefaultCategoryRules = []CategoryRule{
	{Pattern: `(?i)midjourney|openai|anthropic|hugging\s?face|replicate`, Category: "5020", Priority: 10},
	{Pattern: `(?i)amazon web services|\baws\b|google cloud|azure|digital\s?ocean|heroku|vercel|cloudflare`, Category: "5020", Priority: 9},
	{Pattern: `(?i)github|atlassian|slack|notion|figma|adobe|dropbox|zoom|microsoft|jetbrains`, Category: "5010", Priority: 8},
	{Pattern: `(?i)uber|lyft|airline|airways|hotel|marriott|hilton|airbnb|expedia`, Category: "5040", Priority: 7},
	{Pattern: `(?i)starbucks|restaurant|cafe|coffee|pizza|grill|bistro|doordash|grubhub`, Category: "5050", Priority: 7},
	{Pattern: `(?i)comcast|verizon|at&t|t-mobile|electric|power|water|internet`, Category: "5060", Priority: 6},
	{Pattern: `(?i)\blaw\b|legal|consulting|accounting|cpa|attorney`, Category: "5070", Priority: 6},
	{Pattern: `(?i)fedex|\bups\b|usps|dhl|shipping`, Category: "5080", Priority: 6},
	{Pattern: `(?i)facebook|meta platforms|google ads|linkedin|twitter|advertis`, Category: "5090", Priority: 6},
	{Pattern: `(?i)staples|office depot|officemax|paper|toner`, Category: "5030", Priority: 5},
}

type compiledRule struct {
	CategoryRule
	re *regexp.Regexp
}

// RuleSet is the compiled static rule table, ordered by priority
type RuleSet struct {
	rules []compiledRule
}

type ruleFile struct {
	CategoryRules []CategoryRule `yaml:"category_rules"`
}

// LoadCategoryRules reads the category_rules section of a YAML rules file
// and merges it with the defaults. An empty path yields the defaults.
func LoadCategoryRules(path string) ([]CategoryRule, error) {
	rules := append([]CategoryRule(nil), DefaultCategoryRules...)
	if path == "" {
		return rules, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return rules, fmt.Errorf("failed to read rules file: %w", err)
	}
	var f ruleFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return rules, fmt.Errorf("failed to parse rules file: %w", err)
	}
	return append(f.CategoryRules, rules...), nil
}

// NewRuleSet compiles rules. Among equal priorities, earlier rules win.
func NewRuleSet(rules []CategoryRule) (*RuleSet, error) {
	compiled := make([]compiledRule, 0, len(rules))
	for _, r := range rules {
		if r.Category == "" {
			return nil, fmt.Errorf("rule %q: empty category", r.Pattern)
		}
		if r.Priority < 1 || r.Priority > 10 {
			return nil, fmt.Errorf("rule %q: priority %d outside 1-10", r.Pattern, r.Priority)
		}
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("rule %q: %w", r.Pattern, err)
		}
		compiled = append(compiled, compiledRule{CategoryRule: r, re: re})
	}
	sort.SliceStable(compiled, func(i, j int) bool {
		return compiled[i].Priority > compiled[j].Priority
	})
	return &RuleSet{rules: compiled}, nil
}

// Match returns the prediction of the highest priority rule matching vendor,
// or nil. Confidence is 40 + 4×priority.
func (s *RuleSet) Match(vendor string) *models.Prediction {
	for _, r := range s.rules {
		if !r.re.MatchString(vendor) {
			continue
		}
		return &models.Prediction{
			Category:     r.Category,
			Confidence:   40 + 4*r.Priority,
			Reason:       fmt.Sprintf("%s matches the %s category rule", vendor, r.Category),
			Alternatives: []models.Alternative{},
			Source:       SourceRules,
		}
	}
	return nil
}
