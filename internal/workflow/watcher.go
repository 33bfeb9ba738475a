package workflow

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"maestro/internal/logging"
)

// Watcher monitors a directory of workflow YAML files and keeps the
// engine's registrations in sync. Created or modified files are decoded
// and re-registered; files that fail validation are logged and left
// alone so a half-saved edit never wipes a working definition.
type Watcher struct {
	engine *Engine
	dir    string

	mu      sync.Mutex
	pending map[string]*time.Timer

	watcher *fsnotify.Watcher
	done    chan struct{}
	once    sync.Once
}

// Editors write files in bursts (truncate, write, rename). Reloads are
// debounced per file so each burst yields a single registration.
const reloadDebounce = 200 * time.Millisecond

// NewWatcher loads every workflow file in dir into the engine, then
// starts watching the directory for changes.
func NewWatcher(engine *Engine, dir string) (*Watcher, error) {
	workflows, err := LoadDir(dir)
	if err != nil {
		logging.Debugf("[watcher] initial load: %v", err)
	}
	for _, wf := range workflows {
		if _, err := engine.ReplaceWorkflow(wf); err != nil {
			logging.Debugf("[watcher] skipping workflow %s: %v", wf.ID, err)
		}
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	w := &Watcher{
		engine:  engine,
		dir:     dir,
		pending: make(map[string]*time.Timer),
		watcher: fw,
		done:    make(chan struct{}),
	}
	go w.watch()
	return w, nil
}

func (w *Watcher) watch() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !isWorkflowFile(filepath.Base(event.Name)) {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0 {
				w.scheduleReload(event.Name)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.Debugf("[watcher] error: %v", err)
		}
	}
}

func (w *Watcher) scheduleReload(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if t, ok := w.pending[path]; ok {
		t.Stop()
	}
	w.pending[path] = time.AfterFunc(reloadDebounce, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()
		w.reload(path)
	})
}

func (w *Watcher) reload(path string) {
	wf, err := LoadFile(path)
	if err != nil {
		logging.Debugf("[watcher] failed to load %s: %v", path, err)
		return
	}
	if _, err := w.engine.ReplaceWorkflow(wf); err != nil {
		logging.Debugf("[watcher] failed to register %s: %v", path, err)
		return
	}
	logging.Debugf("[watcher] reloaded workflow %s from %s", wf.ID, path)
}

// Close stops the watcher. Pending debounced reloads are cancelled.
func (w *Watcher) Close() {
	w.once.Do(func() {
		close(w.done)
		w.watcher.Close()

		w.mu.Lock()
		for path, t := range w.pending {
			t.Stop()
			delete(w.pending, path)
		}
		w.mu.Unlock()
	})
}
