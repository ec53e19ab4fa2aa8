package ocr

import (
	"regexp"
	"strings"
)

var (
	reDateCue     = regexp.MustCompile(`\b\d{4}[-/.]\d{1,2}[-/.]\d{1,2}\b|\b\d{1,2}[-/.]\d{1,2}[-/.]\d{2,4}\b|\b(jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec)[a-z]*\.? \d{1,2}\b`)
	reCurrencyCue = regexp.MustCompile(`\b(usd|eur|gbp|cad|aud|mxn|dop)\b|[$£€]`)
	reAmountCue   = regexp.MustCompile(`\b\d{1,3}(,\d{3})*\.\d{2}\b|\b\d+\.\d{2}\b`)
	reBoxNoise    = regexp.MustCompile(`[|_]{3,}`)
)

// heuristicConfidence scores text on invoice cues, 0-100
func heuristicConfidence(text string) float64 {
	lower := strings.ToLower(text)
	score := 20.0
	if reDateCue.MatchString(lower) {
		score += 20
	}
	if reCurrencyCue.MatchString(lower) {
		score += 15
	}
	if reAmountCue.MatchString(lower) {
		score += 15
	}
	if len(strings.TrimSpace(text)) > 120 {
		score += 10
	}
	return score
}

// blendConfidence weights an engine score over the heuristic
func blendConfidence(engine, heuristic float64) float64 {
	if engine <= 0 {
		return heuristic
	}
	return min(100, 0.7*engine+0.3*heuristic)
}
