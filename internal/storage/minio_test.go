package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/facturaIA/invoice-insight/internal/config"
)

var _ Archive = (*MinioArchive)(nil)

func TestObjectName(t *testing.T) {
	at := time.Date(2026, time.March, 5, 0, 0, 0, 0, time.UTC)

	if got := ObjectName("acme", "inv.pdf", at); got != "acme/2026/03/inv.pdf" {
		t.Errorf("Expected acme/2026/03/inv.pdf, got %s", got)
	}
	if got := ObjectName("", "inv.pdf", at); got != "public/2026/03/inv.pdf" {
		t.Errorf("Expected public prefix, got %s", got)
	}
}

func TestStripBucket(t *testing.T) {
	tests := []struct {
		path     string
		expected string
	}{
		{"invoice-documents/acme/2026/03/inv.pdf", "acme/2026/03/inv.pdf"},
		{"acme/2026/03/inv.pdf", "acme/2026/03/inv.pdf"},
		{"invoice-documents", "invoice-documents"},
	}
	for _, tt := range tests {
		if got := stripBucket("invoice-documents", tt.path); got != tt.expected {
			t.Errorf("stripBucket(%q): expected %q, got %q", tt.path, tt.expected, got)
		}
	}
}

func TestGetFileExtension(t *testing.T) {
	tests := map[string]string{
		"image/jpeg":      ".jpg",
		"image/png":       ".png",
		"application/pdf": ".pdf",
		"text/plain":      ".txt",
		"video/mp4":       ".bin",
	}
	for ct, expected := range tests {
		if got := GetFileExtension(ct); got != expected {
			t.Errorf("GetFileExtension(%s): expected %s, got %s", ct, expected, got)
		}
	}
}

func TestNewMinioArchiveUnconfigured(t *testing.T) {
	_, err := NewMinioArchive(context.Background(), config.StorageConfig{})
	if !errors.Is(err, ErrNoStorage) {
		t.Errorf("Expected ErrNoStorage, got %v", err)
	}
}
