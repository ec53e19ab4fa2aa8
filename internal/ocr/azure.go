package ocr

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/Azure/azure-sdk-for-go/services/cognitiveservices/v3.0/computervision"
	"github.com/Azure/go-autorest/autorest"
	"github.com/facturaIA/invoice-insight/internal/models"
)

type printedTextRecognizer interface {
	RecognizePrintedTextInStream(ctx context.Context, detectOrientation bool, image io.ReadCloser, language computervision.OcrLanguages) (computervision.OcrResult, error)
}

// Azure uses Azure Computer Vision printed-text OCR
type Azure struct {
	client   printedTextRecognizer
	language computervision.OcrLanguages
}

// NewAzure creates the engine from an endpoint and subscription key
func NewAzure(endpoint, apiKey, language string) (*Azure, error) {
	if endpoint == "" || apiKey == "" {
		return nil, errors.New("azure OCR requires an endpoint and an API key")
	}
	client := computervision.New(endpoint)
	client.Authorizer = autorest.NewCognitiveServicesAuthorizer(apiKey)
	return &Azure{client: client, language: azureLanguage(language)}, nil
}

func (a *Azure) Name() string { return "azure" }

func (a *Azure) Supports(contentType string) bool {
	return isImage(contentType)
}

func (a *Azure) Extract(ctx context.Context, path string) (models.RawExtraction, error) {
	raw := models.RawExtraction{Method: models.MethodOptical, PageCount: 1}

	f, err := os.Open(path)
	if err != nil {
		return raw, fmt.Errorf("failed to open image: %w", err)
	}
	defer f.Close()

	result, err := a.client.RecognizePrintedTextInStream(ctx, true, io.NopCloser(f), a.language)
	if err != nil {
		return raw, fmt.Errorf("azure OCR failed: %w", err)
	}

	raw.Text = ocrResultText(result)
	raw.Confidence = heuristicConfidence(raw.Text)
	return raw, nil
}

// ocrResultText joins words into lines, region by region
func ocrResultText(result computervision.OcrResult) string {
	if result.Regions == nil {
		return ""
	}
	var lines []string
	for _, region := range *result.Regions {
		if region.Lines == nil {
			continue
		}
		for _, line := range *region.Lines {
			if line.Words == nil {
				continue
			}
			words := make([]string, 0, len(*line.Words))
			for _, word := range *line.Words {
				if word.Text != nil {
					words = append(words, *word.Text)
				}
			}
			if len(words) > 0 {
				lines = append(lines, strings.Join(words, " "))
			}
		}
	}
	return strings.Join(lines, "\n")
}

func azureLanguage(lang string) computervision.OcrLanguages {
	switch strings.ToLower(lang) {
	case "eng", "en":
		return computervision.En
	case "spa", "es":
		return computervision.Es
	case "fra", "fr":
		return computervision.Fr
	case "deu", "de":
		return computervision.De
	case "por", "pt":
		return computervision.Pt
	}
	return computervision.Unk
}
