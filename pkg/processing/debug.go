package processing

import (
	"fmt"
	"image"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/menta2k/glyph-classifier/internal/metrics"
	"github.com/menta2k/glyph-classifier/internal/utils"
	"github.com/menta2k/glyph-classifier/pkg/types"
)

// DebugSink receives intermediate images of a pipeline run. Implementations
// must not fail the pipeline: errors are logged and dropped.
// The image is owned by the sink once handed over.
type DebugSink interface {
	Save(requestID, name string, img image.Image)
}

// NopSink discards every snapshot
type NopSink struct{}

func (NopSink) Save(string, string, image.Image) {}

// DirSink writes snapshots into a directory as <request>-<name>.<ext>
type DirSink struct {
	opts types.DebugOptions
	wg   sync.WaitGroup
}

// NewDirSink creates a sink writing to opts.Dir
func NewDirSink(opts types.DebugOptions) *DirSink {
	if opts.Format == "" {
		opts.Format = "png"
	}
	if opts.Quality <= 0 {
		opts.Quality = 92
	}
	return &DirSink{opts: opts}
}

// Save writes img, synchronously or on a background goroutine
func (s *DirSink) Save(requestID, name string, img image.Image) {
	if !s.opts.Async {
		s.write(requestID, name, img)
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.write(requestID, name, img)
	}()
}

// Wait blocks until every pending asynchronous write has finished
func (s *DirSink) Wait() {
	s.wg.Wait()
}

// Path returns where a snapshot is written
func (s *DirSink) Path(requestID, name string) string {
	return filepath.Join(s.opts.Dir, fmt.Sprintf("%s-%s.%s", requestID, name, FormatExt(s.opts.Format)))
}

func (s *DirSink) write(requestID, name string, img image.Image) {
	path := s.Path(requestID, name)
	err := utils.EnsureDir(s.opts.Dir)
	if err == nil {
		err = SaveImage(img, path, s.opts.Format, s.opts.Quality, s.opts.Lossless)
	}
	if err != nil {
		metrics.DebugWriteFailures.Inc()
		log.Warn().Err(err).Str("component", "DEBUG_SINK").Str("path", path).Msg("debug snapshot not written")
		return
	}
	log.Debug().Str("component", "DEBUG_SINK").Str("path", path).Msg("debug snapshot written")
}
