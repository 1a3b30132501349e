package prediction

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"heartrisk/ml"
)

// ErrWatcherFailed wraps errors from creating the fsnotify watcher.
var ErrWatcherFailed = errors.New("failed to initialize artifact watcher")

const DefaultReloadDebounce = 500 * time.Millisecond

// ReloadFunc is told the outcome of every reload attempt.
type ReloadFunc func(generation uint64, err error)

// Watcher reloads the artifact store when any artifact file in dir changes.
// Bursts of events within the debounce interval trigger a single reload.
type Watcher struct {
	dir      string
	store    *ArtifactStore
	logger   *zap.Logger
	debounce time.Duration
	onReload ReloadFunc

	watcher  *fsnotify.Watcher
	started  atomic.Bool
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewWatcher creates an fsnotify watcher for dir. onReload may be nil.
func NewWatcher(dir string, store *ArtifactStore, logger *zap.Logger, onReload ReloadFunc) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWatcherFailed, err)
	}
	return &Watcher{
		dir:      dir,
		store:    store,
		logger:   logger,
		debounce: DefaultReloadDebounce,
		onReload: onReload,
		watcher:  w,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}, nil
}

// SetDebounce changes the quiet period; call before Start.
func (w *Watcher) SetDebounce(d time.Duration) {
	if d > 0 {
		w.debounce = d
	}
}

// Start watches dir until ctx ends or Stop is called. When dir cannot be
// watched the underlying fsnotify watcher is closed and the Watcher is spent.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.watcher.Add(w.dir); err != nil {
		w.Stop()
		return fmt.Errorf("watching %s: %w", w.dir, err)
	}
	w.started.Store(true)
	go w.processEvents(ctx)
	return nil
}

// Stop ends the event loop and waits for it to exit.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stop)
		_ = w.watcher.Close()
	})
	if w.started.Load() {
		<-w.done
	}
}

func (w *Watcher) processEvents(ctx context.Context) {
	defer close(w.done)

	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-w.stop:
			return
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !isArtifactEvent(event) {
				continue
			}
			w.logger.Debug("artifact changed", zap.String("file", event.Name), zap.String("op", event.Op.String()))
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			w.reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("artifact watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) reload() {
	err := w.store.Load()
	generation := w.store.Generation()
	if err != nil {
		w.logger.Warn("artifact reload failed, keeping current artifacts",
			zap.Uint64("generation", generation), zap.Error(err))
	} else {
		w.logger.Info("artifacts reloaded", zap.Uint64("generation", generation))
	}
	if w.onReload != nil {
		w.onReload(generation, err)
	}
}

func isArtifactEvent(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
		return false
	}
	switch filepath.Base(event.Name) {
	case ml.PipelineFile, ml.ColumnsFile, ml.ExplainerFile:
		return true
	}
	return false
}
