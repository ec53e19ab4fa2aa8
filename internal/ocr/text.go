package ocr

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/facturaIA/invoice-insight/internal/models"
	"github.com/ledongthuc/pdf"
)

// PlainText reads text/plain uploads as-is
type PlainText struct{}

func (PlainText) Name() string { return "plain-text" }

func (PlainText) Supports(contentType string) bool {
	return contentType == "text/plain"
}

func (PlainText) Extract(ctx context.Context, path string) (models.RawExtraction, error) {
	raw := models.RawExtraction{Method: models.MethodNativeText}
	data, err := os.ReadFile(path)
	if err != nil {
		return raw, fmt.Errorf("failed to read text file: %w", err)
	}
	raw.Text = strings.TrimSpace(string(data))
	raw.PageCount = 1
	raw.Confidence = 100
	return raw, nil
}

// NativePDF reads the embedded text layer of a PDF. Scanned PDFs have
// none and fall through to the optical engines.
type NativePDF struct{}

func (NativePDF) Name() string { return "pdf-text" }

func (NativePDF) Supports(contentType string) bool {
	return contentType == "application/pdf"
}

func (NativePDF) Extract(ctx context.Context, path string) (raw models.RawExtraction, err error) {
	raw.Method = models.MethodNativeText

	// the reader panics on some malformed cross-reference tables
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("malformed PDF: %v", r)
		}
	}()

	f, r, err := pdf.Open(path)
	if err != nil {
		return raw, fmt.Errorf("failed to open PDF: %w", err)
	}
	defer f.Close()

	plain, err := r.GetPlainText()
	if err != nil {
		return raw, fmt.Errorf("failed to read PDF text: %w", err)
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(plain); err != nil {
		return raw, fmt.Errorf("failed to read PDF text: %w", err)
	}

	raw.Text = strings.TrimSpace(buf.String())
	raw.PageCount = r.NumPage()
	if raw.Text != "" {
		raw.Confidence = 100
	}
	return raw, nil
}
