package types

import (
	"errors"
	"sort"

	"github.com/menta2k/glyph-classifier/pkg/labels"
)

// ErrInvalidArgument is returned when a caller passes an image or size the
// pipeline cannot work with (nil or empty images, crops larger than the source).
var ErrInvalidArgument = errors.New("invalid argument")

// FeatureVector is the row-major input grid handed to a classifier
type FeatureVector []float32

// Prediction is the decoded result of a single classification
type Prediction struct {
	Char          string    `json:"char"`
	Index         int       `json:"index"`
	Confidence    float32   `json:"confidence"`
	Probabilities []float32 `json:"probabilities,omitempty"`
	// Labels overrides the built-in alphabet when the classifier names its classes
	Labels []string `json:"-"`
}

// Candidate is one entry of a ranked prediction
type Candidate struct {
	Char       string  `json:"char"`
	Index      int     `json:"index"`
	Confidence float32 `json:"confidence"`
}

// Top returns the k most probable candidates, highest first. Ties keep index order.
func (p *Prediction) Top(k int) []Candidate {
	if k <= 0 || len(p.Probabilities) == 0 {
		return nil
	}
	idx := make([]int, len(p.Probabilities))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return p.Probabilities[idx[a]] > p.Probabilities[idx[b]]
	})
	if k > len(idx) {
		k = len(idx)
	}
	out := make([]Candidate, 0, k)
	for _, i := range idx[:k] {
		out = append(out, Candidate{
			Char:       p.label(i),
			Index:      i,
			Confidence: p.Probabilities[i],
		})
	}
	return out
}

func (p *Prediction) label(i int) string {
	if len(p.Labels) == len(p.Probabilities) {
		return p.Labels[i]
	}
	return string(labels.IndexToChar(i))
}

// GlyphReading is what a vision model reports for a single character image
type GlyphReading struct {
	Char       string  `json:"char"`
	Confidence float64 `json:"confidence"`
}

// DebugOptions controls how intermediate snapshots are written
type DebugOptions struct {
	Dir      string
	Format   string
	Quality  int
	Lossless bool
	Async    bool
}
