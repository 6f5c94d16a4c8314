package processing

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"

	"github.com/menta2k/glyph-classifier/pkg/types"
)

// MaxDownloadBytes bounds the size of images fetched over HTTP
const MaxDownloadBytes = 20 << 20

// DefaultMaxPixels bounds the decoded size of any loaded image (4096x4096).
// Headers are checked before pixels are allocated.
const DefaultMaxPixels = 4096 * 4096

// ErrImageTooLarge is returned when an image header claims more pixels than allowed
var ErrImageTooLarge = fmt.Errorf("image too large: %w", types.ErrInvalidArgument)

var httpClient = &http.Client{Timeout: 30 * time.Second}

// LoadImageFromURL downloads and decodes an image over http or https
func LoadImageFromURL(imageURL string) (image.Image, error) {
	u, err := url.Parse(imageURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported URL scheme %q: %w", u.Scheme, types.ErrInvalidArgument)
	}

	req, err := http.NewRequest(http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "glyph-classifier/1.0")
	req.Header.Set("Accept", "image/*")

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to download image: %s", resp.Status)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "image/") {
		return nil, fmt.Errorf("%s is not an image (Content-Type: %s)", imageURL, ct)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxDownloadBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read image data: %w", err)
	}
	if len(data) > MaxDownloadBytes {
		return nil, fmt.Errorf("image at %s exceeds %d bytes: %w", imageURL, MaxDownloadBytes, types.ErrInvalidArgument)
	}
	return DecodeImage(data)
}

// LoadImage loads an image file. EXIF orientation is applied to photos of
// paper glyphs; formats imaging cannot read fall back to DecodeImage.
func LoadImage(path string) (image.Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := checkDimensions(data, DefaultMaxPixels); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true)); err == nil {
		return img, nil
	}
	img, err := DecodeImage(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return img, nil
}

// LoadImageSmart loads an image from either a file path or URL
func LoadImageSmart(source string) (image.Image, error) {
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		return LoadImageFromURL(source)
	}
	return LoadImage(source)
}

// DecodeImage decodes PNG, JPEG, GIF or WebP bytes of at most DefaultMaxPixels
func DecodeImage(data []byte) (image.Image, error) {
	return DecodeImageLimited(data, DefaultMaxPixels)
}

// DecodeImageLimited decodes an image whose header claims at most maxPixels
// pixels. Larger images fail with ErrImageTooLarge before any pixel is read.
func DecodeImageLimited(data []byte, maxPixels int) (image.Image, error) {
	if err := checkDimensions(data, maxPixels); err != nil {
		return nil, err
	}

	if img, _, err := image.Decode(bytes.NewReader(data)); err == nil {
		return img, nil
	}

	if img, err := webp.Decode(bytes.NewReader(data)); err == nil {
		return img, nil
	}

	return nil, errUnsupported
}

var errUnsupported = fmt.Errorf("decode image: unknown or unsupported format: %w", types.ErrInvalidArgument)

// checkDimensions reads only the image header
func checkDimensions(data []byte, maxPixels int) error {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		if cfg, err = webp.DecodeConfig(bytes.NewReader(data)); err != nil {
			return errUnsupported
		}
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return fmt.Errorf("image header claims %dx%d: %w", cfg.Width, cfg.Height, types.ErrInvalidArgument)
	}
	if maxPixels > 0 && int64(cfg.Width)*int64(cfg.Height) > int64(maxPixels) {
		return fmt.Errorf("%w: %dx%d exceeds %d pixels", ErrImageTooLarge, cfg.Width, cfg.Height, maxPixels)
	}
	return nil
}

// EncodeImage writes img to w in the given format (png, jpg or webp)
func EncodeImage(w io.Writer, img image.Image, format string, quality int, lossless bool) error {
	switch strings.ToLower(format) {
	case "webp":
		return webp.Encode(w, img, &webp.Options{Lossless: lossless, Quality: float32(quality)})
	case "jpg", "jpeg":
		return jpeg.Encode(w, img, &jpeg.Options{Quality: quality})
	case "png", "":
		return png.Encode(w, img)
	default:
		return fmt.Errorf("unsupported output format: %s", format)
	}
}

// SaveImage saves an image to a file with the specified format and quality
func SaveImage(img image.Image, path, format string, quality int, lossless bool) error {
	switch strings.ToLower(format) {
	case "webp":
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		return EncodeImage(f, img, format, quality, lossless)
	case "png", "":
		return imaging.Save(img, path)
	case "jpg", "jpeg":
		return imaging.Save(img, path, imaging.JPEGQuality(quality))
	default:
		return fmt.Errorf("unsupported output format: %s", format)
	}
}

// PrepareImageForModel upscales a small image with nearest-neighbour (so
// strokes stay crisp) and returns it base64-encoded for vision models.
func PrepareImageForModel(img image.Image, format string, minDim int, quality int) (string, error) {
	if minDim > 0 {
		b := img.Bounds()
		w, h := b.Dx(), b.Dy()
		if w < minDim || h < minDim {
			if w <= h {
				img = imaging.Resize(img, minDim, 0, imaging.NearestNeighbor)
			} else {
				img = imaging.Resize(img, 0, minDim, imaging.NearestNeighbor)
			}
		}
	}

	var buf bytes.Buffer
	if err := EncodeImage(&buf, img, format, quality, false); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// FormatExt maps a configured format to a file extension
func FormatExt(format string) string {
	switch strings.ToLower(format) {
	case "jpg", "jpeg":
		return "jpg"
	case "webp":
		return "webp"
	default:
		return "png"
	}
}
