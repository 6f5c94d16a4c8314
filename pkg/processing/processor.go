package processing

import (
	"fmt"
	"image"
	"time"

	"github.com/disintegration/imaging"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/ksuid"

	"github.com/menta2k/glyph-classifier/internal/metrics"
	"github.com/menta2k/glyph-classifier/pkg/cropper"
	"github.com/menta2k/glyph-classifier/pkg/raster"
	"github.com/menta2k/glyph-classifier/pkg/resample"
	"github.com/menta2k/glyph-classifier/pkg/types"
)

// Luma weights (ITU-R BT.601)
const (
	lumaR = 0.299
	lumaG = 0.587
	lumaB = 0.114
)

// Snapshot names handed to the debug sink
const (
	SnapshotScreenshot = "screenshot"
	SnapshotCropped    = "cropped"
	SnapshotBinarized  = "binarized"
	SnapshotProcessed  = "processed"
)

// Config holds the preprocessing parameters. The defaults are the input
// contract of the EMNIST classifier and should only change together with the model.
type Config struct {
	TargetWidth  int
	TargetHeight int
	Threshold    float32
	Resampler    string
}

// DefaultConfig returns the 28x28, 0.5 threshold configuration
func DefaultConfig() Config {
	return Config{
		TargetWidth:  28,
		TargetHeight: 28,
		Threshold:    0.5,
		Resampler:    resample.Default,
	}
}

// Processor turns captured canvases into classifier input
type Processor struct {
	config    Config
	resampler resample.Resampler
	cropper   *cropper.Cropper
	sink      DebugSink
	debug     bool
}

// NewProcessor creates a new image processor with the default configuration
func NewProcessor() *Processor {
	p, err := NewProcessorWithConfig(DefaultConfig())
	if err != nil {
		// the default configuration is always valid
		panic(err)
	}
	return p
}

// NewProcessorWithConfig creates a processor with custom parameters
func NewProcessorWithConfig(config Config) (*Processor, error) {
	if config.TargetWidth <= 0 || config.TargetHeight <= 0 {
		return nil, fmt.Errorf("target size %dx%d must be positive: %w",
			config.TargetWidth, config.TargetHeight, types.ErrInvalidArgument)
	}
	if config.Threshold < 0 || config.Threshold > 1 {
		return nil, fmt.Errorf("threshold %v must be between 0 and 1: %w", config.Threshold, types.ErrInvalidArgument)
	}
	r, err := resample.ByName(config.Resampler)
	if err != nil {
		return nil, err
	}
	config.Resampler = r.Name()

	return &Processor{
		config:    config,
		resampler: r,
		cropper:   cropper.New(),
		sink:      NopSink{},
	}, nil
}

// Config returns the parameters in use
func (p *Processor) Config() Config {
	return p.config
}

// SetDebugSink sets where intermediate images are written. nil disables dumps.
func (p *Processor) SetDebugSink(sink DebugSink) {
	if sink == nil {
		sink = NopSink{}
	}
	_, nop := sink.(NopSink)
	p.sink = sink
	p.debug = !nop
}

// snapshot hands a stage image to the sink. render is only called when a
// real sink is installed, so the default pipeline makes no extra copies.
func (p *Processor) snapshot(id, name string, render func() image.Image) {
	if !p.debug {
		return
	}
	p.sink.Save(id, name, render())
}

// SetCropper sets the cropper used for screenshots
func (p *Processor) SetCropper(c *cropper.Cropper) {
	p.cropper = c
}

// FeatureLen is the length of every vector this processor returns
func (p *Processor) FeatureLen() int {
	return p.config.TargetWidth * p.config.TargetHeight
}

// ProcessTexture converts a freehand canvas into a feature vector:
// flip, grayscale, threshold, invert, then bilinear downscale.
func (p *Processor) ProcessTexture(img *raster.Image) (types.FeatureVector, error) {
	return p.processTexture(ksuid.New().String(), img)
}

// ProcessScreenshot crops the drawing area out of a screen capture before
// running ProcessTexture on it.
func (p *Processor) ProcessScreenshot(img *raster.Image) (types.FeatureVector, error) {
	if img.Empty() {
		return nil, fmt.Errorf("screenshot: empty image: %w", types.ErrInvalidArgument)
	}
	id := ksuid.New().String()
	p.snapshot(id, SnapshotScreenshot, func() image.Image { return img.ToImage() })

	cropped, err := p.cropper.Crop(img)
	if err != nil {
		return nil, err
	}
	p.snapshot(id, SnapshotCropped, func() image.Image { return cropped.ToImage() })

	return p.processTexture(id, cropped)
}

func (p *Processor) processTexture(id string, img *raster.Image) (types.FeatureVector, error) {
	start := time.Now()

	grid, err := p.Binarize(img)
	if err != nil {
		return nil, err
	}
	p.snapshot(id, SnapshotBinarized, func() image.Image { return grid.ToImage() })

	features, processed, err := p.Downscale(grid)
	if err != nil {
		return nil, err
	}
	p.snapshot(id, SnapshotProcessed, func() image.Image { return processed })

	elapsed := time.Since(start)
	metrics.PreprocessDuration.Observe(elapsed.Seconds())
	log.Debug().Str("component", "PROCESSING").Str("request", id).
		Int("width", img.Width()).Int("height", img.Height()).
		Dur("elapsed", elapsed).Msg("texture processed")

	return features, nil
}

// Binarize flips the capture to top-down order and reduces every pixel to
// 1 (ink) or 0 (background) at the native resolution.
func (p *Processor) Binarize(img *raster.Image) (*raster.Grid, error) {
	if img.Empty() {
		return nil, fmt.Errorf("binarize: empty image: %w", types.ErrInvalidArgument)
	}

	width, height := img.Width(), img.Height()
	grid := raster.NewGrid(width, height)
	for y := 0; y < height; y++ {
		src := img.Row(height - 1 - y)
		dst := grid.Values[y*width : (y+1)*width]
		for x := range dst {
			r, g, b := src[x*3], src[x*3+1], src[x*3+2]
			dst[x] = binarizeValue(luma(r, g, b), p.config.Threshold)
		}
	}
	return grid, nil
}

// Downscale renders the grid as an 8-bit image, resamples it to the target
// size and reads the luma of every output pixel back into a vector.
// The resampled image is returned alongside for inspection.
func (p *Processor) Downscale(grid *raster.Grid) (types.FeatureVector, *image.NRGBA, error) {
	if grid == nil || grid.Width == 0 || grid.Height == 0 {
		return nil, nil, fmt.Errorf("downscale: empty grid: %w", types.ErrInvalidArgument)
	}

	tw, th := p.config.TargetWidth, p.config.TargetHeight
	resized := imaging.Clone(p.resampler.Resize(grid.ToImage(), tw, th))

	features := make(types.FeatureVector, 0, tw*th)
	for y := 0; y < th; y++ {
		for x := 0; x < tw; x++ {
			i := resized.PixOffset(x, y)
			r := float32(resized.Pix[i+0]) / 255
			g := float32(resized.Pix[i+1]) / 255
			b := float32(resized.Pix[i+2]) / 255
			features = append(features, clampUnit(luma(r, g, b)))
		}
	}
	return features, resized, nil
}

func luma(r, g, b float32) float32 {
	return lumaR*r + lumaG*g + lumaB*b
}

// binarizeValue thresholds a luma value and inverts it, so dark ink becomes 1
func binarizeValue(gray, threshold float32) float32 {
	var bw float32
	if gray > threshold {
		bw = 1
	}
	return 1 - bw
}

func clampUnit(v float32) float32 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
