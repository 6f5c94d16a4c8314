package client

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/menta2k/glyph-classifier/pkg/types"
)

var (
	reBlock    = regexp.MustCompile(`(?s)/\*.*?\*/`)
	reLine     = regexp.MustCompile(`(?m)^\s*//.*$`)
	reInline   = regexp.MustCompile(`(?m)//.*$`)
	reTrailing = regexp.MustCompile(`,(\s*[}\]])`)
)

// ParseGlyphReading parses a model answer into a reading. Answers that are
// not JSON but consist of a single character are accepted as that character
// with an unknown (zero) confidence; anything else yields an empty reading.
func ParseGlyphReading(raw string) *types.GlyphReading {
	raw = SanitizeModelJSON(raw)

	if !strings.HasPrefix(raw, "{") {
		if r := []rune(strings.Trim(raw, `"' .`)); len(r) == 1 {
			return &types.GlyphReading{Char: string(r)}
		}
		return &types.GlyphReading{}
	}

	var reading types.GlyphReading
	if err := json.Unmarshal([]byte(raw), &reading); err != nil {
		return &types.GlyphReading{}
	}
	reading.Char = strings.TrimSpace(reading.Char)
	if reading.Confidence < 0 {
		reading.Confidence = 0
	}
	if reading.Confidence > 1 {
		reading.Confidence = 1
	}
	return &reading
}

// SanitizeModelJSON removes code fences, comments, and trailing commas from JSON response
func SanitizeModelJSON(raw string) string {
	raw = strings.TrimSpace(raw)

	// Strip triple-backtick fences if present
	if strings.HasPrefix(raw, "```") {
		if i := strings.Index(raw, "\n"); i >= 0 {
			raw = raw[i+1:]
		}
		if j := strings.LastIndex(raw, "```"); j >= 0 {
			raw = raw[:j]
		}
	}
	raw = strings.TrimSpace(raw)
	raw = strings.Trim(raw, "`")

	raw = reBlock.ReplaceAllString(raw, "")
	raw = reLine.ReplaceAllString(raw, "")
	raw = reInline.ReplaceAllString(raw, "")
	raw = reTrailing.ReplaceAllString(raw, "$1")

	// Keep only the outermost {...}
	if start := strings.Index(raw, "{"); start >= 0 {
		if end := strings.LastIndex(raw, "}"); end > start {
			raw = raw[start : end+1]
		}
	}
	return strings.TrimSpace(raw)
}
