package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// VendorMapping is the learned association between a vendor and a category.
// One row exists per (NormalizedVendor, Category).
type VendorMapping struct {
	ID               int64           `json:"id"`
	VendorName       string          `json:"vendorName"`       // raw name as last seen
	NormalizedVendor string          `json:"normalizedVendor"` // key, see learning.NormalizeVendor
	Category         string          `json:"category"`
	Confidence       float64         `json:"confidence"` // 0-100
	Count            int             `json:"count"`      // observations
	LastUsed         time.Time       `json:"lastUsed"`
	AverageAmount    decimal.Decimal `json:"averageAmount"`
	MinAmount        decimal.Decimal `json:"minAmount"`
	MaxAmount        decimal.Decimal `json:"maxAmount"`
	UserCorrections  int             `json:"userCorrections"`
	AutoAssigned     bool            `json:"autoAssigned"`
	CreatedAt        time.Time       `json:"createdAt"`
}

// Alternative is a runner-up category in a prediction
type Alternative struct {
	Category   string `json:"category"`
	Confidence int    `json:"confidence"`
}

// Prediction is a suggested category for a vendor
type Prediction struct {
	Category     string        `json:"category"`
	Confidence   int           `json:"confidence"` // 0-100
	Reason       string        `json:"reason"`
	Alternatives []Alternative `json:"alternatives,omitempty"`
	Source       string        `json:"source"` // learned, rules or default
}

// Category is an entry of the expense chart of accounts
type Category struct {
	Code string `json:"code" yaml:"code"`
	Name string `json:"name" yaml:"name"`
}
