package client

import (
	"context"

	"github.com/menta2k/glyph-classifier/pkg/types"
)

// Classifier scores a preprocessed feature vector. The result holds one
// probability per label, in label index order.
type Classifier interface {
	Classify(ctx context.Context, features types.FeatureVector) ([]float32, error)
}

// Labeler is implemented by classifiers that ship their own class names.
// Labels returns one name per output index, or nil to use the built-in alphabet.
type Labeler interface {
	Labels() []string
}

// VisionClient is a multimodal model that can read a character off an image
type VisionClient interface {
	SimpleQuery(ctx context.Context, model, prompt, imgB64 string) (string, error)
	ReadGlyph(ctx context.Context, model, prompt, imgB64 string) (*types.GlyphReading, error)
}
