package onnx

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/menta2k/glyph-classifier/pkg/labels"
)

// Metadata describes the model's tensors
type Metadata struct {
	InputName   string   `json:"input_name"`
	OutputName  string   `json:"output_name"`
	InputShape  []int64  `json:"input_shape"`
	OutputShape []int64  `json:"output_shape"`
	Classes     []string `json:"classes,omitempty"`
}

// DefaultMetadata matches an EMNIST byclass model taking a 1x28x28x1 grid
func DefaultMetadata() Metadata {
	return Metadata{
		InputName:   "input",
		OutputName:  "output",
		InputShape:  []int64{1, 28, 28, 1},
		OutputShape: []int64{1, labels.Size},
	}
}

// LoadMetadata reads metadata from a JSON file. Missing fields keep their defaults.
func LoadMetadata(path string) (Metadata, error) {
	meta := DefaultMetadata()
	if path == "" {
		return meta, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Metadata{}, fmt.Errorf("failed to read metadata: %w", err)
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return Metadata{}, fmt.Errorf("failed to parse metadata: %w", err)
	}
	return meta, nil
}

// InputLen is the number of values the input tensor holds
func (m Metadata) InputLen() int {
	return volume(m.InputShape)
}

// OutputLen is the number of values the output tensor holds
func (m Metadata) OutputLen() int {
	return volume(m.OutputShape)
}

// Validate checks the metadata against the feature length and alphabet
func (m Metadata) Validate(featureLen int) error {
	if m.InputName == "" || m.OutputName == "" {
		return fmt.Errorf("input and output tensor names are required")
	}
	if m.InputLen() != featureLen {
		return fmt.Errorf("input shape %v holds %d values, pipeline produces %d", m.InputShape, m.InputLen(), featureLen)
	}
	if m.OutputLen() != labels.Size {
		return fmt.Errorf("output shape %v holds %d values, expected %d classes", m.OutputShape, m.OutputLen(), labels.Size)
	}
	if len(m.Classes) > 0 && len(m.Classes) != labels.Size {
		return fmt.Errorf("metadata lists %d classes, expected %d", len(m.Classes), labels.Size)
	}
	return nil
}

func volume(shape []int64) int {
	if len(shape) == 0 {
		return 0
	}
	n := int64(1)
	for _, d := range shape {
		n *= d
	}
	return int(n)
}
