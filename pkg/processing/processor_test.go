package processing

import (
	"errors"
	"image"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/menta2k/glyph-classifier/pkg/raster"
	"github.com/menta2k/glyph-classifier/pkg/resample"
	"github.com/menta2k/glyph-classifier/pkg/types"
)

// createDiskCanvas creates a white canvas with a solid black disk
func createDiskCanvas(width, height, cx, cy, radius int) *raster.Image {
	img := raster.NewFilled(width, height, 1, 1, 1)
	for y := cy - radius; y <= cy+radius; y++ {
		for x := cx - radius; x <= cx+radius; x++ {
			if x < 0 || y < 0 || x >= width || y >= height {
				continue
			}
			dx, dy := x-cx, y-cy
			if dx*dx+dy*dy <= radius*radius {
				img.Set(x, y, 0, 0, 0)
			}
		}
	}
	return img
}

type recordingSink struct {
	mu    sync.Mutex
	ids   []string
	names []string
	sizes []image.Point
}

func (s *recordingSink) Save(requestID, name string, img image.Image) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids = append(s.ids, requestID)
	s.names = append(s.names, name)
	s.sizes = append(s.sizes, img.Bounds().Size())
}

func TestNewProcessor(t *testing.T) {
	p := NewProcessor()
	cfg := p.Config()
	if cfg.TargetWidth != 28 || cfg.TargetHeight != 28 {
		t.Errorf("Expected 28x28 target, got %dx%d", cfg.TargetWidth, cfg.TargetHeight)
	}
	if cfg.Threshold != 0.5 {
		t.Errorf("Expected threshold 0.5, got %v", cfg.Threshold)
	}
	if cfg.Resampler != resample.Default {
		t.Errorf("Expected resampler %s, got %s", resample.Default, cfg.Resampler)
	}
	if p.FeatureLen() != 784 {
		t.Errorf("Expected feature length 784, got %d", p.FeatureLen())
	}
}

func TestNewProcessorWithConfigRejectsBadValues(t *testing.T) {
	bad := []Config{
		{TargetWidth: 0, TargetHeight: 28, Threshold: 0.5},
		{TargetWidth: 28, TargetHeight: 28, Threshold: 1.5},
		{TargetWidth: 28, TargetHeight: 28, Threshold: 0.5, Resampler: "cubic"},
	}
	for _, cfg := range bad {
		if _, err := NewProcessorWithConfig(cfg); !errors.Is(err, types.ErrInvalidArgument) {
			t.Errorf("config %+v: expected ErrInvalidArgument, got %v", cfg, err)
		}
	}
}

func TestBinarizeFlipsVertically(t *testing.T) {
	const n = 5
	img := raster.NewFilled(n, n, 1, 1, 1)
	img.Set(2, 0, 0, 0, 0)

	grid, err := NewProcessor().Binarize(img)
	if err != nil {
		t.Fatalf("Binarize failed: %v", err)
	}

	for y := 0; y < n; y++ {
		for x := 0; x < n; x++ {
			want := float32(0)
			if x == 2 && y == n-1 {
				want = 1
			}
			if got := grid.At(x, y); got != want {
				t.Errorf("grid(%d,%d) = %v, want %v", x, y, got, want)
			}
		}
	}
}

func TestBinarizeValuesAreBinary(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	img := raster.New(64, 48)
	for i := range img.Pix {
		img.Pix[i] = rng.Float32()
	}

	grid, err := NewProcessor().Binarize(img)
	if err != nil {
		t.Fatalf("Binarize failed: %v", err)
	}
	if len(grid.Values) != 64*48 {
		t.Fatalf("Expected %d values, got %d", 64*48, len(grid.Values))
	}
	for i, v := range grid.Values {
		if v != 0 && v != 1 {
			t.Fatalf("value %d is %v, expected 0 or 1", i, v)
		}
	}
}

func TestBinarizeValueThresholdIsStrict(t *testing.T) {
	if got := binarizeValue(0.5, 0.5); got != 1 {
		t.Errorf("gray exactly at the threshold must count as ink, got %v", got)
	}
	if got := binarizeValue(0.5001, 0.5); got != 0 {
		t.Errorf("gray above the threshold must be background, got %v", got)
	}
	if got := binarizeValue(0, 0.5); got != 1 {
		t.Errorf("black must be ink, got %v", got)
	}
}

func TestBinarizeUsesLumaWeights(t *testing.T) {
	// pure green is bright (0.587), pure blue is dark (0.114)
	img := raster.New(2, 1)
	img.Set(0, 0, 0, 1, 0)
	img.Set(1, 0, 0, 0, 1)

	grid, err := NewProcessor().Binarize(img)
	if err != nil {
		t.Fatalf("Binarize failed: %v", err)
	}
	if grid.At(0, 0) != 0 {
		t.Error("green should be background")
	}
	if grid.At(1, 0) != 1 {
		t.Error("blue should be ink")
	}
}

func TestProcessTextureLength(t *testing.T) {
	p := NewProcessor()
	sizes := [][2]int{{28, 28}, {50, 30}, {980, 980}, {3, 200}}
	for _, sz := range sizes {
		fv, err := p.ProcessTexture(createDiskCanvas(sz[0], sz[1], sz[0]/2, sz[1]/2, sz[0]/4))
		if err != nil {
			t.Fatalf("%dx%d: ProcessTexture failed: %v", sz[0], sz[1], err)
		}
		if len(fv) != 28*28 {
			t.Errorf("%dx%d: expected 784 values, got %d", sz[0], sz[1], len(fv))
		}
	}
}

func TestProcessTextureIsDeterministic(t *testing.T) {
	p := NewProcessor()
	img := createDiskCanvas(300, 200, 120, 90, 40)

	a, err := p.ProcessTexture(img)
	if err != nil {
		t.Fatal(err)
	}
	b, err := p.ProcessTexture(img)
	if err != nil {
		t.Fatal(err)
	}
	for i := range a {
		if math.Float32bits(a[i]) != math.Float32bits(b[i]) {
			t.Fatalf("value %d differs between runs: %v vs %v", i, a[i], b[i])
		}
	}
}

func TestProcessTextureDisk(t *testing.T) {
	fv, err := NewProcessor().ProcessTexture(createDiskCanvas(980, 980, 490, 490, 150))
	if err != nil {
		t.Fatalf("ProcessTexture failed: %v", err)
	}
	if len(fv) != 784 {
		t.Fatalf("Expected 784 values, got %d", len(fv))
	}

	if center := fv[14*28+14]; center < 0.9 {
		t.Errorf("Expected the disk center to be on, got %v", center)
	}
	for _, corner := range []int{0, 27, 27 * 28, 28*28 - 1} {
		if fv[corner] != 0 {
			t.Errorf("Expected corner %d to be off, got %v", corner, fv[corner])
		}
	}

	// 980/28 = 35 source pixels per cell; the disk covers roughly cells 9..18
	for y := 0; y < 28; y++ {
		for x := 0; x < 28; x++ {
			v := fv[y*28+x]
			if v < 0 || v > 1 {
				t.Fatalf("value at (%d,%d) out of range: %v", x, y, v)
			}
			if v > 0.5 && (x < 8 || x > 19 || y < 8 || y > 19) {
				t.Errorf("unexpected ink at (%d,%d): %v", x, y, v)
			}
		}
	}
}

func TestProcessTextureSoftensEdges(t *testing.T) {
	fv, err := NewProcessor().ProcessTexture(createDiskCanvas(980, 980, 490, 490, 150))
	if err != nil {
		t.Fatal(err)
	}
	var partial int
	for _, v := range fv {
		if v > 0 && v < 1 {
			partial++
		}
	}
	if partial == 0 {
		t.Error("Expected anti-aliased values along the disk edge")
	}
}

func TestProcessTextureAllResamplers(t *testing.T) {
	for _, name := range resample.Names() {
		cfg := DefaultConfig()
		cfg.Resampler = name
		p, err := NewProcessorWithConfig(cfg)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		fv, err := p.ProcessTexture(createDiskCanvas(280, 280, 140, 140, 60))
		if err != nil {
			t.Fatalf("%s: ProcessTexture failed: %v", name, err)
		}
		if len(fv) != 784 {
			t.Errorf("%s: expected 784 values, got %d", name, len(fv))
		}
		if fv[14*28+14] < 0.9 || fv[0] != 0 {
			t.Errorf("%s: unexpected center %v / corner %v", name, fv[14*28+14], fv[0])
		}
	}
}

func TestProcessTextureRejectsEmpty(t *testing.T) {
	p := NewProcessor()
	if _, err := p.ProcessTexture(nil); !errors.Is(err, types.ErrInvalidArgument) {
		t.Errorf("Expected ErrInvalidArgument for nil image, got %v", err)
	}
	if _, err := p.ProcessTexture(raster.New(0, 5)); !errors.Is(err, types.ErrInvalidArgument) {
		t.Errorf("Expected ErrInvalidArgument for empty image, got %v", err)
	}
}

func TestProcessScreenshot(t *testing.T) {
	p := NewProcessor()
	sink := &recordingSink{}
	p.SetDebugSink(sink)

	fv, err := p.ProcessScreenshot(createDiskCanvas(1080, 1920, 540, 960, 150))
	if err != nil {
		t.Fatalf("ProcessScreenshot failed: %v", err)
	}
	if len(fv) != 784 {
		t.Fatalf("Expected 784 values, got %d", len(fv))
	}
	if fv[14*28+14] < 0.9 {
		t.Errorf("Expected ink at the center, got %v", fv[14*28+14])
	}

	wantNames := []string{SnapshotScreenshot, SnapshotCropped, SnapshotBinarized, SnapshotProcessed}
	wantSizes := []image.Point{{1080, 1920}, {980, 980}, {980, 980}, {28, 28}}
	if len(sink.names) != len(wantNames) {
		t.Fatalf("Expected %d snapshots, got %v", len(wantNames), sink.names)
	}
	for i := range wantNames {
		if sink.names[i] != wantNames[i] || sink.sizes[i] != wantSizes[i] {
			t.Errorf("snapshot %d: got %s %v, want %s %v", i, sink.names[i], sink.sizes[i], wantNames[i], wantSizes[i])
		}
		if sink.ids[i] != sink.ids[0] {
			t.Errorf("snapshot %d belongs to a different request", i)
		}
	}
}

func TestSnapshotRendersOnlyWithSink(t *testing.T) {
	p := NewProcessor()
	rendered := 0
	render := func() image.Image {
		rendered++
		return image.NewGray(image.Rect(0, 0, 1, 1))
	}

	p.snapshot("id", SnapshotBinarized, render)
	p.SetDebugSink(nil)
	p.snapshot("id", SnapshotBinarized, render)
	if rendered != 0 {
		t.Errorf("snapshot rendered %d times without a debug sink", rendered)
	}

	sink := &recordingSink{}
	p.SetDebugSink(sink)
	p.snapshot("id", SnapshotBinarized, render)
	if rendered != 1 || len(sink.names) != 1 {
		t.Errorf("expected one rendered snapshot, got rendered=%d saved=%d", rendered, len(sink.names))
	}
}

func TestProcessScreenshotTooSmall(t *testing.T) {
	_, err := NewProcessor().ProcessScreenshot(createDiskCanvas(500, 500, 250, 250, 50))
	if !errors.Is(err, types.ErrInvalidArgument) {
		t.Errorf("Expected ErrInvalidArgument, got %v", err)
	}
}

func TestDirSinkWritesSnapshots(t *testing.T) {
	dir := t.TempDir()
	sink := NewDirSink(types.DebugOptions{Dir: dir, Format: "png", Async: true})

	p := NewProcessor()
	p.SetDebugSink(sink)
	if _, err := p.ProcessTexture(createDiskCanvas(100, 100, 50, 50, 20)); err != nil {
		t.Fatal(err)
	}
	sink.Wait()

	for _, name := range []string{SnapshotBinarized, SnapshotProcessed} {
		matches, _ := filepath.Glob(filepath.Join(dir, "*-"+name+".png"))
		if len(matches) != 1 {
			t.Errorf("Expected one %s snapshot, found %v", name, matches)
		}
	}
}

func TestDirSinkFailureDoesNotFailPipeline(t *testing.T) {
	// a regular file where the directory should be
	blocker := filepath.Join(t.TempDir(), "blocker")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	p := NewProcessor()
	p.SetDebugSink(NewDirSink(types.DebugOptions{Dir: filepath.Join(blocker, "debug")}))

	fv, err := p.ProcessTexture(createDiskCanvas(100, 100, 50, 50, 20))
	if err != nil {
		t.Fatalf("debug failures must not surface: %v", err)
	}
	if len(fv) != 784 {
		t.Errorf("Expected 784 values, got %d", len(fv))
	}
}

func BenchmarkProcessTexture(b *testing.B) {
	p := NewProcessor()
	img := createDiskCanvas(980, 980, 490, 490, 150)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		p.ProcessTexture(img)
	}
}
