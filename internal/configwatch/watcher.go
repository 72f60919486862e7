// Package configwatch reloads the batching configuration when the config
// file changes and applies the difference to a running batcher.
package configwatch

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/bft-labs/notibatch/internal/domain"
	"github.com/bft-labs/notibatch/internal/ports"
)

// DefaultDebounceDelay is how long to wait after the last change event.
const DefaultDebounceDelay = 100 * time.Millisecond

// Updater applies a configuration patch.
type Updater interface {
	UpdateConfig(patch domain.ConfigPatch, resetAdaptive bool) error
}

// LoadFunc rebuilds the batching configuration from its sources.
type LoadFunc func() (domain.Config, error)

// Watcher watches one config file.
type Watcher struct {
	path     string
	load     LoadFunc
	updater  Updater
	logger   ports.Logger
	debounce time.Duration

	mu    sync.Mutex
	last  domain.Config
	timer *time.Timer

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a watcher for path. initial is the configuration the batcher
// was started with; only fields that differ from the last applied
// configuration are patched.
func New(path string, initial domain.Config, load LoadFunc, updater Updater, logger ports.Logger) *Watcher {
	return &Watcher{
		path:     path,
		load:     load,
		updater:  updater,
		logger:   logger,
		debounce: DefaultDebounceDelay,
		last:     initial,
	}
}

// Start begins watching. The file's directory is watched so editors that
// replace the file on save are handled.
func (w *Watcher) Start(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		fw.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(w.path), err)
	}

	watchCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	w.wg.Add(1)
	go w.watchLoop(watchCtx, fw)

	w.logger.Info("watching config file", ports.String("path", w.path))
	return nil
}

// Stop ends watching and waits for the loop to exit.
func (w *Watcher) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()

	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()
}

func (w *Watcher) watchLoop(ctx context.Context, fw *fsnotify.Watcher) {
	defer w.wg.Done()
	defer fw.Close()

	name := filepath.Base(w.path)
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-fw.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != name {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.scheduleReload(ctx)

		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			w.logger.Error("config watcher error", ports.Err(err))
		}
	}
}

func (w *Watcher) scheduleReload(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		if ctx.Err() != nil {
			return
		}
		if err := w.Reload(); err != nil {
			w.logger.Warn("config reload failed, keeping current configuration", ports.Err(err))
		}
	})
}

// Reload loads the configuration and applies what changed since the last
// successful reload.
func (w *Watcher) Reload() error {
	next, err := w.load()
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	patch := w.last.Diff(next)
	if patch.Empty() {
		return nil
	}
	if err := w.updater.UpdateConfig(patch, false); err != nil {
		return fmt.Errorf("apply config: %w", err)
	}
	w.last = next

	w.logger.Info("config reloaded", ports.String("path", w.path))
	return nil
}
