// Package glyphclassifier recognizes single handwritten characters.
//
// A captured canvas is binarized at its native resolution, downscaled to the
// 28x28 grid an EMNIST "byclass" model expects and classified into one of 62
// labels (0-9, A-Z, a-z). Screen captures are center-cropped to the drawing
// area first.
//
// Basic usage:
//
//	gc, err := glyphclassifier.New()
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer gc.Close()
//
//	pred, err := gc.ClassifyFile(ctx, "glyph.png", false)
//	if err != nil {
//		log.Fatal(err)
//	}
//	fmt.Printf("%s (%.2f)\n", pred.Char, pred.Confidence)
//
// The classifier backend is chosen by configuration: a local ONNX model, or a
// vision LLM served by Ollama or llama.cpp.
package glyphclassifier

import (
	"context"
	"fmt"
	"image"
	"io"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/menta2k/glyph-classifier/internal/config"
	"github.com/menta2k/glyph-classifier/pkg/client"
	"github.com/menta2k/glyph-classifier/pkg/cropper"
	"github.com/menta2k/glyph-classifier/pkg/detection"
	"github.com/menta2k/glyph-classifier/pkg/llamacpp"
	"github.com/menta2k/glyph-classifier/pkg/ollama"
	"github.com/menta2k/glyph-classifier/pkg/onnx"
	"github.com/menta2k/glyph-classifier/pkg/processing"
	"github.com/menta2k/glyph-classifier/pkg/raster"
	"github.com/menta2k/glyph-classifier/pkg/recognition"
	"github.com/menta2k/glyph-classifier/pkg/types"
)

// Version of the glyph classifier library
const Version = "1.0.0"

// Default server URLs for the LLM backends
const (
	DefaultOllamaURL   = "http://localhost:11434/api/chat"
	DefaultLlamaCppURL = "http://localhost:8080"
)

// GlyphClassifier ties the preprocessing pipeline to a classifier backend
type GlyphClassifier struct {
	recognizer *recognition.Recognizer
	backend    string
	sink       *processing.DirSink
	closer     io.Closer
}

// New creates a classifier from the default configuration
func New() (*GlyphClassifier, error) {
	return NewWithConfig(config.Default())
}

// NewWithConfig validates cfg and builds the configured backend
func NewWithConfig(cfg *config.Config) (*GlyphClassifier, error) {
	if err := validate(cfg); err != nil {
		return nil, err
	}
	processor, sink, err := newProcessor(cfg)
	if err != nil {
		return nil, err
	}

	backend := strings.ToLower(cfg.Classifier.Backend)
	classifier, closer, err := newClassifier(cfg, processor, backend)
	if err != nil {
		return nil, fmt.Errorf("%s backend: %w", backend, err)
	}

	return &GlyphClassifier{
		recognizer: recognition.New(processor, classifier, backend),
		backend:    backend,
		sink:       sink,
		closer:     closer,
	}, nil
}

// NewWithClassifier uses cfg for preprocessing and debug output but classifies
// with the given backend. backend names it in logs and metrics.
func NewWithClassifier(cfg *config.Config, classifier client.Classifier, backend string) (*GlyphClassifier, error) {
	if err := validate(cfg); err != nil {
		return nil, err
	}
	if classifier == nil {
		return nil, fmt.Errorf("nil classifier: %w", types.ErrInvalidArgument)
	}
	processor, sink, err := newProcessor(cfg)
	if err != nil {
		return nil, err
	}
	return &GlyphClassifier{
		recognizer: recognition.New(processor, classifier, backend),
		backend:    backend,
		sink:       sink,
	}, nil
}

func validate(cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("nil configuration: %w", types.ErrInvalidArgument)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func newProcessor(cfg *config.Config) (*processing.Processor, *processing.DirSink, error) {
	processor, err := processing.NewProcessorWithConfig(processing.Config{
		TargetWidth:  cfg.Preprocess.TargetWidth,
		TargetHeight: cfg.Preprocess.TargetHeight,
		Threshold:    cfg.Preprocess.Threshold,
		Resampler:    cfg.Preprocess.Resampler,
	})
	if err != nil {
		return nil, nil, err
	}
	processor.SetCropper(cropper.NewWithConfig(cropper.CropConfig{
		Width:  cfg.Crop.Width,
		Height: cfg.Crop.Height,
	}))

	var sink *processing.DirSink
	if cfg.Debug.Enabled {
		sink = processing.NewDirSink(types.DebugOptions{
			Dir:      cfg.Debug.Dir,
			Format:   cfg.Debug.Format,
			Quality:  cfg.Debug.Quality,
			Lossless: cfg.Debug.Lossless,
			Async:    cfg.Debug.Async,
		})
		processor.SetDebugSink(sink)
	}
	return processor, sink, nil
}

func newClassifier(cfg *config.Config, processor *processing.Processor, backend string) (client.Classifier, io.Closer, error) {
	pc := processor.Config()
	switch backend {
	case "onnx":
		session, err := onnx.NewSession(onnx.Options{
			ModelPath:         cfg.Classifier.ModelPath,
			MetadataPath:      cfg.Classifier.MetadataPath,
			SharedLibraryPath: cfg.Classifier.SharedLibraryPath,
			FeatureLen:        processor.FeatureLen(),
		})
		if err != nil {
			return nil, nil, err
		}
		return session, session, nil
	case "ollama":
		url := cfg.Classifier.URL
		if url == "" {
			url = DefaultOllamaURL
		}
		c, err := ollama.NewClient(url)
		if err != nil {
			return nil, nil, err
		}
		return detection.NewVisionClassifier(c, cfg.Classifier.Model, pc.TargetWidth, pc.TargetHeight), nil, nil
	case "llamacpp":
		url := cfg.Classifier.URL
		if url == "" {
			url = DefaultLlamaCppURL
		}
		c, err := llamacpp.NewClient(url)
		if err != nil {
			return nil, nil, err
		}
		return detection.NewVisionClassifier(c, cfg.Classifier.Model, pc.TargetWidth, pc.TargetHeight), nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown backend %q", backend)
	}
}

// Backend names the classifier in use
func (gc *GlyphClassifier) Backend() string {
	return gc.backend
}

// Recognizer exposes the underlying recognizer, e.g. for the HTTP server
func (gc *GlyphClassifier) Recognizer() *recognition.Recognizer {
	return gc.recognizer
}

// LoadImage reads a file path or http(s) URL
func (gc *GlyphClassifier) LoadImage(source string) (image.Image, error) {
	return processing.LoadImageSmart(source)
}

// Classify recognizes the character drawn on a freehand canvas
func (gc *GlyphClassifier) Classify(ctx context.Context, img image.Image) (*types.Prediction, error) {
	if img == nil {
		return nil, fmt.Errorf("classify: nil image: %w", types.ErrInvalidArgument)
	}
	return gc.recognizer.Recognize(ctx, raster.FromImage(img))
}

// ClassifyScreenshot recognizes the character in a full screen capture
func (gc *GlyphClassifier) ClassifyScreenshot(ctx context.Context, img image.Image) (*types.Prediction, error) {
	if img == nil {
		return nil, fmt.Errorf("classify screenshot: nil image: %w", types.ErrInvalidArgument)
	}
	return gc.recognizer.RecognizeScreenshot(ctx, raster.FromImage(img))
}

// ClassifyFile loads source and classifies it, as a screenshot when screenshot is set
func (gc *GlyphClassifier) ClassifyFile(ctx context.Context, source string, screenshot bool) (*types.Prediction, error) {
	img, err := gc.LoadImage(source)
	if err != nil {
		return nil, fmt.Errorf("failed to load image: %w", err)
	}
	if screenshot {
		return gc.ClassifyScreenshot(ctx, img)
	}
	return gc.Classify(ctx, img)
}

// Close flushes pending debug snapshots and releases the backend
func (gc *GlyphClassifier) Close() error {
	if gc.sink != nil {
		gc.sink.Wait()
	}
	if gc.closer != nil {
		if err := gc.closer.Close(); err != nil {
			log.Warn().Err(err).Str("component", "GLYPH").Str("backend", gc.backend).Msg("close failed")
			return err
		}
	}
	return nil
}

// GetVersion returns the library version
func GetVersion() string {
	return Version
}
