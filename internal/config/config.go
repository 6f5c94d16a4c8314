package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/menta2k/glyph-classifier/pkg/processing"
	"github.com/menta2k/glyph-classifier/pkg/resample"
)

// Config holds the application configuration
type Config struct {
	Preprocess PreprocessConfig `json:"preprocess"`
	Crop       CropConfig       `json:"crop"`
	Classifier ClassifierConfig `json:"classifier"`
	Debug      DebugConfig      `json:"debug"`
	Server     ServerConfig     `json:"server"`
}

// PreprocessConfig holds the pipeline parameters. The defaults are the
// model's input contract.
type PreprocessConfig struct {
	TargetWidth  int     `json:"target_width"`
	TargetHeight int     `json:"target_height"`
	Threshold    float32 `json:"threshold"`
	Resampler    string  `json:"resampler"`
}

// CropConfig is the centered crop applied to screenshots
type CropConfig struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// ClassifierConfig selects and configures the inference backend
type ClassifierConfig struct {
	Backend           string `json:"backend"`
	ModelPath         string `json:"model_path"`
	MetadataPath      string `json:"metadata_path"`
	SharedLibraryPath string `json:"shared_library_path"`
	URL               string `json:"url"`
	Model             string `json:"model"`
}

// DebugConfig controls intermediate image dumps
type DebugConfig struct {
	Enabled  bool   `json:"enabled"`
	Dir      string `json:"dir"`
	Format   string `json:"format"`
	Quality  int    `json:"quality"`
	Lossless bool   `json:"lossless"`
	Async    bool   `json:"async"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Addr           string `json:"addr"`
	MaxUploadBytes int64  `json:"max_upload_bytes"`
	MaxPixels      int    `json:"max_pixels"`
}

// Backends lists the supported classifier backends
var Backends = []string{"onnx", "ollama", "llamacpp"}

// Default returns a configuration with default values
func Default() *Config {
	return &Config{
		Preprocess: PreprocessConfig{
			TargetWidth:  28,
			TargetHeight: 28,
			Threshold:    0.5,
			Resampler:    resample.Default,
		},
		Crop: CropConfig{
			Width:  980,
			Height: 980,
		},
		Classifier: ClassifierConfig{
			Backend:      "onnx",
			ModelPath:    "models/emnist_byclass.onnx",
			MetadataPath: "",
			URL:          "",
			Model:        "llava",
		},
		Debug: DebugConfig{
			Enabled: false,
			Dir:     "./debug",
			Format:  "png",
			Quality: 92,
			Async:   true,
		},
		Server: ServerConfig{
			Addr:           ":8080",
			MaxUploadBytes: 10 << 20,
			MaxPixels:      processing.DefaultMaxPixels,
		},
	}
}

// LoadFromFile loads configuration from a JSON file. Fields absent from the
// file keep their default values.
func LoadFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration to a JSON file
func (c *Config) SaveToFile(filename string) error {
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Preprocess.TargetWidth < 1 || c.Preprocess.TargetHeight < 1 {
		return fmt.Errorf("preprocess.target_width and target_height must be positive")
	}

	if c.Preprocess.Threshold < 0 || c.Preprocess.Threshold > 1 {
		return fmt.Errorf("preprocess.threshold must be between 0 and 1")
	}

	if _, err := resample.ByName(c.Preprocess.Resampler); err != nil {
		return fmt.Errorf("preprocess.resampler: %w", err)
	}

	if c.Crop.Width < 1 || c.Crop.Height < 1 {
		return fmt.Errorf("crop.width and crop.height must be positive")
	}

	switch strings.ToLower(c.Classifier.Backend) {
	case "onnx":
		if c.Classifier.ModelPath == "" {
			return fmt.Errorf("classifier.model_path is required for the onnx backend")
		}
	case "ollama", "llamacpp":
		if c.Classifier.Model == "" {
			return fmt.Errorf("classifier.model is required for the %s backend", c.Classifier.Backend)
		}
	default:
		return fmt.Errorf("classifier.backend must be one of %s", strings.Join(Backends, ", "))
	}

	if c.Debug.Enabled {
		if c.Debug.Dir == "" {
			return fmt.Errorf("debug.dir cannot be empty when debug is enabled")
		}
		switch strings.ToLower(c.Debug.Format) {
		case "png", "jpg", "jpeg", "webp":
		default:
			return fmt.Errorf("debug.format must be png, jpg or webp")
		}
		if c.Debug.Quality < 1 || c.Debug.Quality > 100 {
			return fmt.Errorf("debug.quality must be between 1 and 100")
		}
	}

	if c.Server.MaxUploadBytes < 1 {
		return fmt.Errorf("server.max_upload_bytes must be positive")
	}

	if c.Server.MaxPixels < 1 {
		return fmt.Errorf("server.max_pixels must be positive")
	}

	return nil
}

// GetConfigPath returns the default configuration file path
func GetConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./config.json"
	}
	return filepath.Join(home, ".config", "glyph-classifier", "config.json")
}
