package config

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/driftwatch/driftwatch/internal/log"
)

// Watcher watches the configuration file for changes and reloads it
// through the provider. Reloaded configurations are handed to an
// onChange callback.
type Watcher struct {
	provider Provider
	path     string
	watcher  *fsnotify.Watcher
	onChange func(*Config) error
}

// NewWatcher creates a new file watcher for the configuration at path.
// The configuration file itself may not exist yet; the parent directory
// is watched so a later creation still triggers a reload.
func NewWatcher(provider Provider, path string, onChange func(*Config) error) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	w := &Watcher{
		provider: provider,
		path:     path,
		watcher:  fw,
		onChange: onChange,
	}

	// Watch the directory for atomic renames and late file creation.
	if err := w.watcher.Add(filepath.Dir(path)); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("failed to watch config directory: %w", err)
	}

	if err := w.watcher.Add(path); err != nil {
		log.Warnf("config: cannot watch %s directly: %v", path, err)
	}

	return w, nil
}

// Run monitors file system events until the context is cancelled or the
// watcher is closed.
func (w *Watcher) Run(ctx context.Context) {
	log.Infof("config: watching %s for changes", w.path)

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}

			// Directory watches surface sibling files too.
			if event.Name != w.path && filepath.Base(event.Name) != filepath.Base(w.path) {
				continue
			}

			// Create matters as much as Write: editors and AtomicWrite
			// replace the file instead of writing in place.
			if event.Op&fsnotify.Write == fsnotify.Write || event.Op&fsnotify.Create == fsnotify.Create {
				log.Infof("config: %s changed, reloading", w.path)
				if err := w.reload(); err != nil {
					log.Errorf("config: reload failed: %v", err)
				}
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Errorf("config: watcher error: %v", err)

		case <-ctx.Done():
			log.Info("config: watcher stopping")
			return
		}
	}
}

// reload loads the configuration and triggers the onChange callback.
func (w *Watcher) reload() error {
	cfg, err := w.provider.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if w.onChange != nil {
		if err := w.onChange(cfg); err != nil {
			return fmt.Errorf("onChange callback failed: %w", err)
		}
	}

	log.Info("config: reloaded")
	return nil
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
