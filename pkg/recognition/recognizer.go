// Package recognition runs the full path from a captured canvas to a decoded character.
package recognition

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/menta2k/glyph-classifier/internal/metrics"
	"github.com/menta2k/glyph-classifier/pkg/client"
	"github.com/menta2k/glyph-classifier/pkg/labels"
	"github.com/menta2k/glyph-classifier/pkg/processing"
	"github.com/menta2k/glyph-classifier/pkg/raster"
	"github.com/menta2k/glyph-classifier/pkg/types"
)

// ErrUnexpectedOutput is returned when a classifier answers with the wrong number of classes
var ErrUnexpectedOutput = errors.New("unexpected classifier output")

// Recognizer couples a processor with a classifier backend
type Recognizer struct {
	processor  *processing.Processor
	classifier client.Classifier
	backend    string
}

// New creates a recognizer. backend names the classifier in logs and metrics.
func New(processor *processing.Processor, classifier client.Classifier, backend string) *Recognizer {
	return &Recognizer{
		processor:  processor,
		classifier: classifier,
		backend:    backend,
	}
}

// Processor returns the preprocessing pipeline in use
func (r *Recognizer) Processor() *processing.Processor {
	return r.processor
}

// Recognize classifies a freehand canvas
func (r *Recognizer) Recognize(ctx context.Context, img *raster.Image) (*types.Prediction, error) {
	features, err := r.processor.ProcessTexture(img)
	if err != nil {
		metrics.Failures.WithLabelValues("preprocess").Inc()
		return nil, fmt.Errorf("preprocess: %w", err)
	}
	return r.RecognizeFeatures(ctx, features)
}

// RecognizeScreenshot crops the drawing area out of a screen capture and classifies it
func (r *Recognizer) RecognizeScreenshot(ctx context.Context, img *raster.Image) (*types.Prediction, error) {
	features, err := r.processor.ProcessScreenshot(img)
	if err != nil {
		metrics.Failures.WithLabelValues("preprocess").Inc()
		return nil, fmt.Errorf("preprocess: %w", err)
	}
	return r.RecognizeFeatures(ctx, features)
}

// RecognizeFeatures classifies an already processed feature vector
func (r *Recognizer) RecognizeFeatures(ctx context.Context, features types.FeatureVector) (*types.Prediction, error) {
	if want := r.processor.FeatureLen(); len(features) != want {
		metrics.Failures.WithLabelValues("input").Inc()
		return nil, fmt.Errorf("expected %d features, got %d: %w", want, len(features), types.ErrInvalidArgument)
	}

	start := time.Now()
	probs, err := r.classifier.Classify(ctx, features)
	elapsed := time.Since(start)
	metrics.InferenceDuration.WithLabelValues(r.backend).Observe(elapsed.Seconds())
	if err != nil {
		metrics.Failures.WithLabelValues("inference").Inc()
		return nil, fmt.Errorf("classify: %w", err)
	}
	if len(probs) != labels.Size {
		metrics.Failures.WithLabelValues("inference").Inc()
		return nil, fmt.Errorf("%w: %d classes, expected %d", ErrUnexpectedOutput, len(probs), labels.Size)
	}

	idx, conf := labels.ArgMax(probs)
	metrics.Predictions.WithLabelValues(labels.Class(idx)).Inc()

	prediction := &types.Prediction{
		Char:          string(labels.IndexToChar(idx)),
		Index:         idx,
		Confidence:    conf,
		Probabilities: probs,
	}
	if names := r.classNames(); names != nil {
		prediction.Char = names[idx]
		prediction.Labels = names
	}

	log.Debug().Str("component", "RECOGNITION").Str("backend", r.backend).
		Str("char", prediction.Char).Float32("confidence", conf).
		Dur("inference", elapsed).Msg("prediction")

	return prediction, nil
}

// classNames returns the classifier's own labels when it provides a full set
func (r *Recognizer) classNames() []string {
	l, ok := r.classifier.(client.Labeler)
	if !ok {
		return nil
	}
	names := l.Labels()
	if len(names) != labels.Size {
		return nil
	}
	return names
}
