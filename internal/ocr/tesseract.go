package ocr

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/facturaIA/invoice-insight/internal/config"
	"github.com/facturaIA/invoice-insight/internal/models"
	"go.uber.org/zap"
)

// Tesseract runs the tesseract CLI over an image
type Tesseract struct {
	binary     string
	language   string
	preprocess bool
	tsv        bool
	runner     Runner
	logger     *zap.Logger
}

// NewTesseract creates the engine. A nil runner executes real commands.
func NewTesseract(cfg config.OCRConfig, runner Runner, logger *zap.Logger) *Tesseract {
	if logger == nil {
		logger = zap.NewNop()
	}
	if runner == nil {
		runner = execRunner{logger: logger}
	}
	t := &Tesseract{
		binary:     cfg.TesseractPath,
		language:   cfg.Language,
		preprocess: cfg.Preprocess,
		tsv:        cfg.TSVConfidence,
		runner:     runner,
		logger:     logger,
	}
	if t.binary == "" {
		t.binary = "tesseract"
	}
	if t.language == "" {
		t.language = "eng"
	}
	return t
}

func (t *Tesseract) Name() string { return "tesseract" }

func (t *Tesseract) Supports(contentType string) bool {
	return isImage(contentType)
}

func (t *Tesseract) Extract(ctx context.Context, path string) (models.RawExtraction, error) {
	raw := models.RawExtraction{Method: models.MethodOptical, PageCount: 1}

	input := path
	if t.preprocess {
		dir, err := os.MkdirTemp("", "ocr-*")
		if err == nil {
			defer os.RemoveAll(dir)
			if processed, err := Preprocess(path, dir); err == nil {
				input = processed
			} else {
				t.logger.Warn("ocr.preprocess.failed", zap.String("path", path), zap.Error(err))
				raw.Warnings = append(raw.Warnings, err.Error())
			}
		}
	}

	// tesseract <file> stdout -l <lang>
	out, errb, err := t.runner.Run(ctx, t.binary, input, "stdout", "-l", t.language)
	if err != nil {
		if msg := strings.TrimSpace(string(errb)); msg != "" {
			return raw, fmt.Errorf("tesseract: %w: %s", err, truncate(msg, 512))
		}
		return raw, fmt.Errorf("tesseract: %w", err)
	}
	raw.Text = strings.TrimSpace(reBoxNoise.ReplaceAllString(string(out), ""))

	var engineConf float64
	if t.tsv {
		c, err := t.wordConfidence(ctx, input)
		if err != nil {
			raw.Warnings = append(raw.Warnings, err.Error())
		}
		engineConf = c
	}
	raw.Confidence = blendConfidence(engineConf, heuristicConfidence(raw.Text))
	return raw, nil
}

// wordConfidence runs tesseract in TSV mode and averages word confidences
func (t *Tesseract) wordConfidence(ctx context.Context, path string) (float64, error) {
	out, _, err := t.runner.Run(ctx, t.binary, path, "stdout", "-l", t.language, "tsv")
	if err != nil {
		return 0, fmt.Errorf("tesseract tsv: %w", err)
	}
	return meanTSVConfidence(string(out)), nil
}

func meanTSVConfidence(tsv string) float64 {
	var sum, n float64
	for i, line := range strings.Split(tsv, "\n") {
		if i == 0 || line == "" {
			continue
		}
		cols := strings.Split(line, "\t")
		if len(cols) < 12 {
			continue
		}
		// conf is column 11; text follows it
		v, err := strconv.ParseFloat(strings.TrimSpace(cols[10]), 64)
		if err != nil || v < 0 {
			continue
		}
		sum += v
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / n
}
