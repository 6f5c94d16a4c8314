// Package watch feeds newly created image files in a directory to a handler.
package watch

import (
	"context"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"

	"github.com/menta2k/glyph-classifier/internal/utils"
)

// DefaultSettle is how long a file must go without events before it is handled
const DefaultSettle = 300 * time.Millisecond

// Handler is called once per settled file, from a single goroutine
type Handler func(path string)

// Watcher debounces create/write events so a file is handled once its writer is done
type Watcher struct {
	dir     string
	settle  time.Duration
	handler Handler
}

// New creates a watcher for dir
func New(dir string, settle time.Duration, handler Handler) *Watcher {
	if settle <= 0 {
		settle = DefaultSettle
	}
	return &Watcher{dir: dir, settle: settle, handler: handler}
}

// Run blocks until ctx is cancelled or the underlying watcher fails
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()
	if err := fw.Add(w.dir); err != nil {
		return err
	}
	log.Info().Str("component", "WATCH").Str("dir", w.dir).Dur("settle", w.settle).Msg("watching")

	pending := map[string]time.Time{}
	ticker := time.NewTicker(w.settle / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if !utils.IsImageFile(ev.Name) {
				continue
			}
			pending[filepath.Clean(ev.Name)] = time.Now()
		case now := <-ticker.C:
			for _, name := range settled(pending, now, w.settle) {
				w.handler(name)
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Str("component", "WATCH").Msg("watch error")
		}
	}
}

// settled removes and returns, in lexical order, the files quiet for at least settle
func settled(pending map[string]time.Time, now time.Time, settle time.Duration) []string {
	var out []string
	for name, t := range pending {
		if now.Sub(t) >= settle {
			out = append(out, name)
			delete(pending, name)
		}
	}
	sort.Strings(out)
	return out
}
