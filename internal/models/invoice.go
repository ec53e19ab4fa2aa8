package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ExtractionMethod tells how the raw text of a document was obtained
type ExtractionMethod string

const (
	MethodNativeText ExtractionMethod = "native-text" // embedded text layer (PDF, plain text)
	MethodOptical    ExtractionMethod = "optical"     // OCR over a rendered image
)

// RawExtraction is the text pulled out of a source document before parsing
type RawExtraction struct {
	Text       string           `json:"text"`
	PageCount  int              `json:"pageCount"`
	Method     ExtractionMethod `json:"method"`
	Confidence float64          `json:"confidence"`         // 0-100
	Engine     string           `json:"engine,omitempty"`   // strategy that produced the text
	Warnings   []string         `json:"warnings,omitempty"` // failures of earlier strategies
}

// Metadata returns the extraction facts the validator needs
func (r RawExtraction) Metadata() ExtractionMetadata {
	return ExtractionMetadata{
		OCRConfidence: r.Confidence,
		PageCount:     r.PageCount,
		Method:        r.Method,
	}
}

// ExtractionMetadata travels alongside parsed text
type ExtractionMetadata struct {
	OCRConfidence float64          `json:"ocrConfidence,omitempty"` // 0-100, zero when unknown
	PageCount     int              `json:"pageCount,omitempty"`
	Method        ExtractionMethod `json:"method,omitempty"`
}

// LineItem is a single billed line
type LineItem struct {
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`   // unit price
	Quantity    int             `json:"quantity"` // always >= 1 once parsed
}

// ParsedInvoiceData is the structured result of parsing invoice text
type ParsedInvoiceData struct {
	Vendor            string          `json:"vendor"`
	Date              time.Time       `json:"date"`
	Amount            decimal.Decimal `json:"amount"`
	LineItems         []LineItem      `json:"lineItems"`
	Tax               decimal.Decimal `json:"tax"`
	Subtotal          decimal.Decimal `json:"subtotal"`
	ParsingConfidence int             `json:"parsingConfidence"` // 0-100
	Source            string          `json:"source,omitempty"`  // parser that produced the record
}

// ValidationResult is the outcome of the validation engine
type ValidationResult struct {
	IsValid           bool     `json:"isValid"` // permissive: always true
	OverallConfidence int      `json:"overallConfidence"`
	Issues            []string `json:"issues"`
	NeedsReview       bool     `json:"needsReview"`
	DateValid         bool     `json:"dateValid"`
	AmountValid       bool     `json:"amountValid"`
	VendorValid       bool     `json:"vendorValid"`
	LineItemsValid    bool     `json:"lineItemsValid"`
}

// InvoiceFingerprint is the subset of an invoice used for duplicate scoring
type InvoiceFingerprint struct {
	Vendor string          `json:"vendor"`
	Amount decimal.Decimal `json:"amount"`
	Date   time.Time       `json:"date"`
}

// DuplicateCandidate is a previously stored invoice that may be the same document
type DuplicateCandidate struct {
	InvoiceID       string          `json:"invoiceId"`
	Vendor          string          `json:"vendor"`
	Amount          decimal.Decimal `json:"amount"`
	Date            time.Time       `json:"date"`
	SimilarityScore int             `json:"similarityScore"` // 0-100
}

// StoredInvoice is a processed invoice as persisted per tenant
type StoredInvoice struct {
	ID                uuid.UUID       `json:"id"`
	Tenant            string          `json:"tenant,omitempty"`
	Vendor            string          `json:"vendor"`
	Date              time.Time       `json:"date"`
	Amount            decimal.Decimal `json:"amount"`
	Tax               decimal.Decimal `json:"tax"`
	Subtotal          decimal.Decimal `json:"subtotal"`
	LineItems         []LineItem      `json:"lineItems,omitempty"`
	Category          string          `json:"category,omitempty"`
	ParsingConfidence int             `json:"parsingConfidence"`
	OverallConfidence int             `json:"overallConfidence"`
	NeedsReview       bool            `json:"needsReview"`
	DocumentKey       string          `json:"documentKey,omitempty"` // object key in the archive bucket
	RawText           string          `json:"rawText,omitempty"`
	CreatedAt         time.Time       `json:"createdAt"`
	UpdatedAt         *time.Time      `json:"updatedAt,omitempty"`
}

// Fingerprint returns the duplicate-scoring view of a stored invoice
func (s StoredInvoice) Fingerprint() InvoiceFingerprint {
	return InvoiceFingerprint{Vendor: s.Vendor, Amount: s.Amount, Date: s.Date}
}

// ProcessResult is returned by the processing pipeline
type ProcessResult struct {
	InvoiceID  string               `json:"invoiceId,omitempty"`
	Extraction *RawExtraction       `json:"extraction,omitempty"`
	Parsed     ParsedInvoiceData    `json:"parsed"`
	Validation ValidationResult     `json:"validation"`
	Duplicates []DuplicateCandidate `json:"duplicates"`
	Category   *Prediction          `json:"category,omitempty"`
	Warnings   []string             `json:"warnings,omitempty"`
}
