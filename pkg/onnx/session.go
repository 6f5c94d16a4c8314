package onnx

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/sasha-s/go-deadlock"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/menta2k/glyph-classifier/pkg/types"
)

// Options configures a Session
type Options struct {
	ModelPath         string
	MetadataPath      string
	SharedLibraryPath string
	FeatureLen        int
}

var (
	envMu   sync.Mutex
	envRefs int
)

// Session runs an ONNX classifier. The input and output tensors are
// allocated once and reused, so Classify calls are serialized.
type Session struct {
	mu           deadlock.Mutex
	session      *ort.AdvancedSession
	Metadata     Metadata
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
	closed       bool
}

// NewSession loads the model and allocates its tensors. Close releases them.
func NewSession(opts Options) (*Session, error) {
	metadata, err := LoadMetadata(opts.MetadataPath)
	if err != nil {
		return nil, err
	}
	if opts.FeatureLen == 0 {
		opts.FeatureLen = metadata.InputLen()
	}
	if err := metadata.Validate(opts.FeatureLen); err != nil {
		return nil, fmt.Errorf("invalid model metadata: %w", err)
	}

	if err := acquireEnvironment(opts.SharedLibraryPath); err != nil {
		return nil, err
	}

	s := &Session{Metadata: metadata}
	if err := s.init(opts.ModelPath); err != nil {
		s.destroy()
		releaseEnvironment()
		return nil, err
	}

	log.Info().Str("component", "ONNX").Str("model", opts.ModelPath).
		Ints64("input", metadata.InputShape).Ints64("output", metadata.OutputShape).
		Msg("model loaded")
	return s, nil
}

func (s *Session) init(modelPath string) error {
	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(s.Metadata.InputShape...))
	if err != nil {
		return fmt.Errorf("failed to create input tensor: %w", err)
	}
	s.inputTensor = inputTensor

	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(s.Metadata.OutputShape...))
	if err != nil {
		return fmt.Errorf("failed to create output tensor: %w", err)
	}
	s.outputTensor = outputTensor

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{s.Metadata.InputName}, []string{s.Metadata.OutputName},
		[]ort.ArbitraryTensor{inputTensor}, []ort.ArbitraryTensor{outputTensor},
		nil)
	if err != nil {
		return fmt.Errorf("failed to create ONNX session: %w", err)
	}
	s.session = session
	return nil
}

// Classify copies the features into the input tensor, runs the model and
// returns a copy of the output.
func (s *Session) Classify(ctx context.Context, features types.FeatureVector) ([]float32, error) {
	if len(features) != s.Metadata.InputLen() {
		return nil, fmt.Errorf("expected %d features, got %d: %w", s.Metadata.InputLen(), len(features), types.ErrInvalidArgument)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("onnx session is closed")
	}

	copy(s.inputTensor.GetData(), features)
	if err := s.session.Run(); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	out := make([]float32, s.Metadata.OutputLen())
	copy(out, s.outputTensor.GetData())
	return out, nil
}

// Labels returns the class names from the metadata file, if it lists any
func (s *Session) Labels() []string {
	return s.Metadata.Classes
}

// Close releases the tensors, the session and this session's hold on the runtime
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.destroy()
	releaseEnvironment()
	return nil
}

func (s *Session) destroy() {
	if s.session != nil {
		s.session.Destroy()
		s.session = nil
	}
	if s.inputTensor != nil {
		s.inputTensor.Destroy()
		s.inputTensor = nil
	}
	if s.outputTensor != nil {
		s.outputTensor.Destroy()
		s.outputTensor = nil
	}
}

func acquireEnvironment(sharedLibraryPath string) error {
	envMu.Lock()
	defer envMu.Unlock()
	if envRefs == 0 {
		if sharedLibraryPath != "" {
			ort.SetSharedLibraryPath(sharedLibraryPath)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			return fmt.Errorf("failed to initialize ONNX environment: %w", err)
		}
	}
	envRefs++
	return nil
}

func releaseEnvironment() {
	envMu.Lock()
	defer envMu.Unlock()
	envRefs--
	if envRefs == 0 {
		if err := ort.DestroyEnvironment(); err != nil {
			log.Warn().Err(err).Str("component", "ONNX").Msg("failed to destroy environment")
		}
	}
}
