package detection

import (
	"context"
	"encoding/base64"
	"errors"
	"image/png"
	"strings"
	"testing"

	"github.com/menta2k/glyph-classifier/pkg/labels"
	"github.com/menta2k/glyph-classifier/pkg/types"
)

type stubVisionClient struct {
	reading *types.GlyphReading
	err     error
	imgB64  string
	prompt  string
}

func (s *stubVisionClient) SimpleQuery(ctx context.Context, model, prompt, imgB64 string) (string, error) {
	return "a handwritten letter", nil
}

func (s *stubVisionClient) ReadGlyph(ctx context.Context, model, prompt, imgB64 string) (*types.GlyphReading, error) {
	s.imgB64 = imgB64
	s.prompt = prompt
	return s.reading, s.err
}

func TestClassifyDistributesConfidence(t *testing.T) {
	stub := &stubVisionClient{reading: &types.GlyphReading{Char: "K", Confidence: 0.9}}
	vc := NewVisionClassifier(stub, "llava", 28, 28)

	probs, err := vc.Classify(context.Background(), make(types.FeatureVector, 784))
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}
	if len(probs) != labels.Size {
		t.Fatalf("expected %d probabilities, got %d", labels.Size, len(probs))
	}
	idx, p := labels.ArgMax(probs)
	if labels.IndexToChar(idx) != 'K' || p != 0.9 {
		t.Errorf("expected K at 0.9, got %q at %v", labels.IndexToChar(idx), p)
	}
	var sum float32
	for _, v := range probs {
		sum += v
	}
	if sum < 0.999 || sum > 1.001 {
		t.Errorf("probabilities should sum to 1, got %v", sum)
	}
	if !strings.Contains(stub.prompt, "handwriting") {
		t.Error("expected the default prompt to be sent")
	}
}

func TestClassifySendsUpscaledPNG(t *testing.T) {
	stub := &stubVisionClient{reading: &types.GlyphReading{Char: "1"}}
	vc := NewVisionClassifier(stub, "m", 28, 28)

	if _, err := vc.Classify(context.Background(), make(types.FeatureVector, 784)); err != nil {
		t.Fatal(err)
	}

	data, err := base64.StdEncoding.DecodeString(stub.imgB64)
	if err != nil {
		t.Fatalf("image is not base64: %v", err)
	}
	img, err := png.Decode(strings.NewReader(string(data)))
	if err != nil {
		t.Fatalf("image is not a PNG: %v", err)
	}
	if img.Bounds().Dx() != renderSize {
		t.Errorf("expected %dpx wide image, got %d", renderSize, img.Bounds().Dx())
	}
}

func TestClassifyUnknownAnswerIsUniform(t *testing.T) {
	stub := &stubVisionClient{reading: &types.GlyphReading{Char: "#", Confidence: 1}}
	probs, err := NewVisionClassifier(stub, "m", 28, 28).Classify(context.Background(), make(types.FeatureVector, 784))
	if err != nil {
		t.Fatal(err)
	}
	for i, p := range probs {
		if p != 1/float32(labels.Size) {
			t.Fatalf("probability %d = %v, expected uniform", i, p)
		}
	}
}

func TestClassifyErrors(t *testing.T) {
	vc := NewVisionClassifier(&stubVisionClient{}, "m", 28, 28)
	if _, err := vc.Classify(context.Background(), make(types.FeatureVector, 10)); !errors.Is(err, types.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument for a short vector, got %v", err)
	}

	boom := errors.New("boom")
	vc = NewVisionClassifier(&stubVisionClient{err: boom}, "m", 28, 28)
	if _, err := vc.Classify(context.Background(), make(types.FeatureVector, 784)); !errors.Is(err, boom) {
		t.Errorf("expected client error to propagate, got %v", err)
	}
}

func TestDistributionDefaultConfidence(t *testing.T) {
	probs := Distribution(&types.GlyphReading{Char: "z"})
	if probs[61] != DefaultConfidence {
		t.Errorf("expected default confidence for z, got %v", probs[61])
	}
	if Distribution(&types.GlyphReading{Char: "ab"}) != nil {
		t.Error("expected nil for multi-character answers")
	}
}

func TestRenderInvertsInk(t *testing.T) {
	fv := make(types.FeatureVector, 4)
	fv[1] = 1
	img := Render(fv, 2, 2)
	if img.Pix[0] != 255 || img.Pix[1] != 0 {
		t.Errorf("expected background white and ink black, got %v", img.Pix)
	}
}
