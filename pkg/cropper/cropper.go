package cropper

import (
	"fmt"
	"image"

	"github.com/menta2k/glyph-classifier/pkg/raster"
	"github.com/menta2k/glyph-classifier/pkg/types"
)

// Cropper cuts the drawing area out of a full-screen capture
type Cropper struct {
	config CropConfig
}

// CropConfig holds the size of the centered crop
type CropConfig struct {
	Width  int
	Height int
}

// DefaultCropConfig matches the on-screen drawing board of the capture app
var DefaultCropConfig = CropConfig{Width: 980, Height: 980}

// New creates a new Cropper with default configuration
func New() *Cropper {
	return &Cropper{config: DefaultCropConfig}
}

// NewWithConfig creates a new Cropper with custom configuration
func NewWithConfig(config CropConfig) *Cropper {
	return &Cropper{config: config}
}

// Config returns the crop size in use
func (c *Cropper) Config() CropConfig {
	return c.config
}

// CropResult contains the result of a cropping operation
type CropResult struct {
	Image *raster.Image
	// Region is the crop rectangle in source capture coordinates
	Region image.Rectangle
}

// Crop cuts the configured size out of the center of img
func (c *Cropper) Crop(img *raster.Image) (*raster.Image, error) {
	res, err := c.CropToSize(img, c.config.Width, c.config.Height)
	if err != nil {
		return nil, err
	}
	return res.Image, nil
}

// CropToSize cuts targetWidth x targetHeight out of the center of img
func (c *Cropper) CropToSize(img *raster.Image, targetWidth, targetHeight int) (CropResult, error) {
	region, err := centeredRegion(img, targetWidth, targetHeight)
	if err != nil {
		return CropResult{}, err
	}

	return CropResult{
		Image:  copyRegion(img, region),
		Region: region,
	}, nil
}

// CenterCrop is CropToSize without a configured Cropper
func CenterCrop(img *raster.Image, targetWidth, targetHeight int) (*raster.Image, error) {
	region, err := centeredRegion(img, targetWidth, targetHeight)
	if err != nil {
		return nil, err
	}
	return copyRegion(img, region), nil
}

func centeredRegion(img *raster.Image, targetWidth, targetHeight int) (image.Rectangle, error) {
	if img.Empty() {
		return image.Rectangle{}, fmt.Errorf("crop: empty source image: %w", types.ErrInvalidArgument)
	}
	if targetWidth <= 0 || targetHeight <= 0 {
		return image.Rectangle{}, fmt.Errorf("crop: target size %dx%d must be positive: %w",
			targetWidth, targetHeight, types.ErrInvalidArgument)
	}

	originalWidth, originalHeight := img.Width(), img.Height()
	if targetWidth > originalWidth || targetHeight > originalHeight {
		return image.Rectangle{}, fmt.Errorf("crop: target size (%dx%d) is larger than original (%dx%d): %w",
			targetWidth, targetHeight, originalWidth, originalHeight, types.ErrInvalidArgument)
	}

	x := (originalWidth - targetWidth) / 2
	y := (originalHeight - targetHeight) / 2
	return image.Rect(x, y, x+targetWidth, y+targetHeight), nil
}

func copyRegion(img *raster.Image, region image.Rectangle) *raster.Image {
	out := raster.New(region.Dx(), region.Dy())
	for y := 0; y < region.Dy(); y++ {
		src := img.Row(region.Min.Y + y)
		copy(out.Row(y), src[region.Min.X*3:region.Max.X*3])
	}
	return out
}
