package events

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/hugo-lorenzo-mato/switchboard/internal/logging"
)

// hooksFile is the on-disk layout of the command hook list.
type hooksFile struct {
	Hooks []CommandSpec `yaml:"hooks"`
}

// LoadCommandSpecs reads command hook definitions from a YAML file. A
// missing file yields no hooks.
func LoadCommandSpecs(path string) ([]CommandSpec, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading hooks file: %w", err)
	}
	var f hooksFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing hooks file %s: %w", path, err)
	}
	return f.Hooks, nil
}

// Watcher reloads command hooks when the hooks file changes.
type Watcher struct {
	path     string
	registry *Registry
	logger   *logging.Logger
	debounce time.Duration
	watcher  *fsnotify.Watcher
	wg       sync.WaitGroup
}

// NewWatcher loads the hooks file once and prepares to watch it.
func NewWatcher(path string, registry *Registry, logger *logging.Logger) (*Watcher, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	w := &Watcher{
		path:     filepath.Clean(path),
		registry: registry,
		logger:   logger,
		debounce: 200 * time.Millisecond,
	}
	if err := w.reload(); err != nil {
		return nil, err
	}
	return w, nil
}

// Start watches the parent directory, since editors replace files by rename.
// It returns when ctx is cancelled.
func (w *Watcher) Start(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		fw.Close()
		return fmt.Errorf("watching %s: %w", filepath.Dir(w.path), err)
	}
	w.watcher = fw

	w.wg.Add(1)
	go w.loop(ctx)
	return nil
}

// Wait blocks until the watch loop exits.
func (w *Watcher) Wait() {
	w.wg.Wait()
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.wg.Done()
	defer w.watcher.Close()

	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			if err := w.reload(); err != nil {
				w.logger.Warn("reloading hooks failed", "path", w.path, "error", err)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("hooks watcher error", "error", err)
		}
	}
}

func (w *Watcher) reload() error {
	specs, err := LoadCommandSpecs(w.path)
	if err != nil {
		return err
	}
	if err := w.registry.ReplaceCommands(specs, w.logger); err != nil {
		return err
	}
	w.logger.Debug("command hooks loaded", "path", w.path, "count", len(specs))
	return nil
}
