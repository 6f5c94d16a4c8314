package detection

import (
	"context"
	"fmt"
	"image"

	"github.com/rs/zerolog/log"

	"github.com/menta2k/glyph-classifier/pkg/client"
	"github.com/menta2k/glyph-classifier/pkg/labels"
	"github.com/menta2k/glyph-classifier/pkg/processing"
	"github.com/menta2k/glyph-classifier/pkg/types"
)

// SimpleTestPrompt for testing if the model can see images
const SimpleTestPrompt = `What do you see in this image? Describe it briefly.`

// DefaultPrompt asks for a single character from the 62-class alphabet
const DefaultPrompt = `You are a handwriting recognizer.

The image shows exactly one handwritten character in black ink on a white background.
It is one of: digits 0-9, uppercase letters A-Z, lowercase letters a-z.

Return JSON only:
{"char": "x", "confidence": 0.0}

HARD RULES
- "char" is exactly one character from the set above.
- "confidence" is your probability in [0,1] that "char" is correct.
- Distinguish case carefully (o/O, s/S, c/C, x/X, z/Z...).
- JSON only. No markdown, no code fences, no comments, no trailing commas.`

// DefaultConfidence is assumed when the model names a character but no confidence
const DefaultConfidence = 0.5

// renderSize is the short side, in pixels, of the image sent to the model
const renderSize = 224

// VisionClassifier turns a vision model's reading into a label distribution
type VisionClassifier struct {
	client client.VisionClient
	model  string
	prompt string
	width  int
	height int
}

// NewVisionClassifier creates a classifier for width x height feature vectors
func NewVisionClassifier(c client.VisionClient, model string, width, height int) *VisionClassifier {
	return &VisionClassifier{
		client: c,
		model:  model,
		prompt: DefaultPrompt,
		width:  width,
		height: height,
	}
}

// SetPrompt overrides DefaultPrompt
func (v *VisionClassifier) SetPrompt(prompt string) {
	v.prompt = prompt
}

// Classify renders the features, asks the model and spreads its answer over the alphabet
func (v *VisionClassifier) Classify(ctx context.Context, features types.FeatureVector) ([]float32, error) {
	if len(features) != v.width*v.height {
		return nil, fmt.Errorf("expected %d features, got %d: %w", v.width*v.height, len(features), types.ErrInvalidArgument)
	}

	imgB64, err := processing.PrepareImageForModel(Render(features, v.width, v.height), "png", renderSize, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to encode glyph: %w", err)
	}

	reading, err := v.client.ReadGlyph(ctx, v.model, v.prompt, imgB64)
	if err != nil {
		return nil, err
	}

	probs := Distribution(reading)
	if probs == nil {
		log.Warn().Str("component", "DETECTION").Str("model", v.model).Str("char", reading.Char).
			Msg("model answer is not a known character")
		probs = uniform()
	}
	return probs, nil
}

// Probe checks that the model can see images at all
func (v *VisionClassifier) Probe(ctx context.Context, features types.FeatureVector) (string, error) {
	imgB64, err := processing.PrepareImageForModel(Render(features, v.width, v.height), "png", renderSize, 0)
	if err != nil {
		return "", err
	}
	return v.client.SimpleQuery(ctx, v.model, SimpleTestPrompt, imgB64)
}

// Render draws a feature grid as dark ink on a light background
func Render(features types.FeatureVector, width, height int) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, width, height))
	for i, f := range features {
		if i >= width*height {
			break
		}
		img.Pix[i] = uint8((1 - clamp(f)) * 255)
	}
	return img
}

// Distribution puts the reading's confidence on its character and shares the
// rest evenly. It returns nil if the reading is not a single known character.
func Distribution(reading *types.GlyphReading) []float32 {
	if reading == nil {
		return nil
	}
	r := []rune(reading.Char)
	if len(r) != 1 {
		return nil
	}
	idx, ok := labels.CharToIndex(r[0])
	if !ok {
		return nil
	}

	conf := reading.Confidence
	if conf <= 0 {
		conf = DefaultConfidence
	}
	if conf > 1 {
		conf = 1
	}

	rest := float32((1 - conf) / float64(labels.Size-1))
	probs := make([]float32, labels.Size)
	for i := range probs {
		probs[i] = rest
	}
	probs[idx] = float32(conf)
	return probs
}

func uniform() []float32 {
	probs := make([]float32, labels.Size)
	for i := range probs {
		probs[i] = 1 / float32(labels.Size)
	}
	return probs
}

func clamp(v float32) float32 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
