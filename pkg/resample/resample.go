// Package resample provides the bilinear scalers used to shrink the
// binarized canvas down to the classifier's input grid.
//
// All implementations clamp samples at the image edges, so a blank border
// stays blank after scaling.
package resample

import (
	"fmt"
	"image"
	"sort"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/nfnt/resize"
	"golang.org/x/image/draw"

	"github.com/menta2k/glyph-classifier/pkg/types"
)

// Resampler scales an image to exactly width x height
type Resampler interface {
	Name() string
	Resize(src image.Image, width, height int) image.Image
}

// Default is the resampler used when none is configured
const Default = "imaging"

var registry = map[string]Resampler{
	"imaging": Imaging{},
	"nfnt":    NFNT{},
	"xdraw":   XDraw{},
}

// ByName looks up a resampler. An empty name selects Default.
func ByName(name string) (Resampler, error) {
	if name == "" {
		name = Default
	}
	r, ok := registry[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("unknown resampler %q (available: %s): %w",
			name, strings.Join(Names(), ", "), types.ErrInvalidArgument)
	}
	return r, nil
}

// Names lists the registered resamplers
func Names() []string {
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Imaging uses the linear (tent) filter of disintegration/imaging.
// The filter support grows with the scale factor, so every source pixel
// contributes to the downscaled result.
type Imaging struct{}

func (Imaging) Name() string { return "imaging" }

func (Imaging) Resize(src image.Image, width, height int) image.Image {
	return imaging.Resize(src, width, height, imaging.Linear)
}

// NFNT uses nfnt/resize with its bilinear kernel
type NFNT struct{}

func (NFNT) Name() string { return "nfnt" }

func (NFNT) Resize(src image.Image, width, height int) image.Image {
	return resize.Resize(uint(width), uint(height), src, resize.Bilinear)
}

// XDraw uses the bilinear kernel from golang.org/x/image/draw
type XDraw struct{}

func (XDraw) Name() string { return "xdraw" }

func (XDraw) Resize(src image.Image, width, height int) image.Image {
	dst := image.NewNRGBA(image.Rect(0, 0, width, height))
	draw.BiLinear.Scale(dst, dst.Rect, src, src.Bounds(), draw.Src, nil)
	return dst
}
