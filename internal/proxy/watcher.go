package proxy

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"toolgate/internal/config"
	"toolgate/pkg/logging"
)

// defaultDebounce is how long the watcher waits for a burst of file
// events to settle before reloading a backend.
const defaultDebounce = 500 * time.Millisecond

// Watcher watches the backends configuration directory and applies
// descriptor changes to the running proxy without a restart. Editors
// emit bursts of events per save, so changes are debounced per file.
type Watcher struct {
	dir      string
	proxy    *Proxy
	debounce time.Duration

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	pending map[string]*time.Timer
	running bool
}

// NewWatcher creates a watcher over the given backends directory.
func NewWatcher(dir string, proxy *Proxy) *Watcher {
	return &Watcher{
		dir:      dir,
		proxy:    proxy,
		debounce: defaultDebounce,
		pending:  make(map[string]*time.Timer),
	}
}

// Start begins watching. Stops when the context is cancelled.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.mu.Unlock()
		return err
	}
	if err := watcher.Add(w.dir); err != nil {
		watcher.Close()
		w.mu.Unlock()
		return err
	}
	w.watcher = watcher
	w.running = true
	w.mu.Unlock()

	go w.processEvents(ctx)

	logging.Info("Watcher", "Watching %s for backend changes", w.dir)
	return nil
}

// Stop closes the watcher and cancels pending reloads.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return
	}
	w.running = false
	w.watcher.Close()
	for _, timer := range w.pending {
		timer.Stop()
	}
	w.pending = make(map[string]*time.Timer)
}

func (w *Watcher) processEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(ctx, event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.Error("Watcher", err, "Filesystem watcher error")
		}
	}
}

func (w *Watcher) handleEvent(ctx context.Context, event fsnotify.Event) {
	if !isYAMLFile(event.Name) {
		return
	}

	removed := event.Op&(fsnotify.Remove|fsnotify.Rename) != 0
	changed := event.Op&(fsnotify.Create|fsnotify.Write) != 0
	if !removed && !changed {
		return
	}

	w.scheduleReload(ctx, event.Name, removed)
}

// scheduleReload debounces per file: a later event replaces the pending
// one.
func (w *Watcher) scheduleReload(ctx context.Context, path string, removed bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return
	}

	if timer, ok := w.pending[path]; ok {
		timer.Stop()
	}
	w.pending[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()
		w.applyChange(ctx, path, removed)
	})
}

func (w *Watcher) applyChange(ctx context.Context, path string, removed bool) {
	if removed {
		name := backendNameFromPath(path)
		logging.Info("Watcher", "Backend file %s removed, dropping backend %s", path, name)
		if err := w.proxy.RemoveBackend(name); err != nil {
			logging.Warn("Watcher", "Removing backend %s: %v", name, err)
		}
		return
	}

	descriptor, err := config.LoadBackendFile(path)
	if err != nil {
		logging.Error("Watcher", err, "Ignoring unparseable backend file %s", path)
		return
	}
	if err := config.ValidateBackend(descriptor); err != nil {
		logging.Error("Watcher", err, "Ignoring invalid backend file %s", path)
		return
	}

	logging.Info("Watcher", "Backend file %s changed, reloading backend %s", path, descriptor.Name)
	if err := w.proxy.ReloadBackend(ctx, descriptor); err != nil {
		logging.Error("Watcher", err, "Reloading backend %s", descriptor.Name)
	}
}

func backendNameFromPath(path string) string {
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, ".yaml")
	return strings.TrimSuffix(base, ".yml")
}

func isYAMLFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}
