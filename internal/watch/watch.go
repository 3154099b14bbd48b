// Package watch reports when a worker executable is rebuilt in place.
package watch

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/steveyegge/sidecar/internal/constants"
)

// Watcher watches the directory holding a set of files and signals Changed
// once writes to any of them settle for the debounce period.
type Watcher struct {
	fs       *fsnotify.Watcher
	names    map[string]bool
	debounce time.Duration
	changed  chan string
	log      *zap.Logger

	mu    sync.Mutex
	timer *time.Timer
}

// New watches paths. Their parent directories are watched rather than the
// files, because build tools usually replace a binary by rename.
func New(log *zap.Logger, paths ...string) (*Watcher, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("watch: no paths")
	}
	if log == nil {
		log = zap.NewNop()
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch: %w", err)
	}
	w := &Watcher{
		fs:       fw,
		names:    make(map[string]bool),
		debounce: constants.WatchDebounce,
		changed:  make(chan string, 1),
		log:      log.Named("watch"),
	}
	dirs := make(map[string]bool)
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			fw.Close()
			return nil, fmt.Errorf("watch: %w", err)
		}
		w.names[abs] = true
		dirs[filepath.Dir(abs)] = true
	}
	for d := range dirs {
		if err := fw.Add(d); err != nil {
			fw.Close()
			return nil, fmt.Errorf("watch %s: %w", d, err)
		}
	}
	return w, nil
}

// SetDebounce overrides the settle period. Call before Run.
func (w *Watcher) SetDebounce(d time.Duration) { w.debounce = d }

// Changed delivers the path of a file that changed. Bursts collapse into one
// value; a value not yet received absorbs later ones.
func (w *Watcher) Changed() <-chan string { return w.changed }

// Run processes events until ctx is done, then closes the watcher.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fs.Close()
	defer w.stopTimer()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			name, err := filepath.Abs(ev.Name)
			if err != nil || !w.names[name] {
				continue
			}
			w.schedule(name)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) schedule(name string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		w.log.Info("worker binary changed", zap.String("path", name))
		select {
		case w.changed <- name:
		default:
		}
	})
}

func (w *Watcher) stopTimer() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
}
