package template

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"conductor/pkg/logging"
)

// Op is what happened to a template file.
type Op string

const (
	OpUpsert Op = "upsert"
	OpRemove Op = "remove"
)

// Event reports a settled change to one template file.
type Event struct {
	Op   Op
	Path string
	Name string
}

// Watcher emits debounced events for YAML files in a template directory.
// Rapid successive writes to one file produce a single event.
type Watcher struct {
	mu sync.Mutex

	dir      string
	debounce time.Duration
	watcher  *fsnotify.Watcher
	pending  map[string]*pendingEvent
	stopCh   chan struct{}
	running  bool
}

type pendingEvent struct {
	event Event
	timer *time.Timer
}

// NewWatcher creates a watcher for dir. A zero debounce uses 500ms.
func NewWatcher(dir string, debounce time.Duration) *Watcher {
	if debounce == 0 {
		debounce = 500 * time.Millisecond
	}
	return &Watcher{
		dir:      dir,
		debounce: debounce,
		pending:  make(map[string]*pendingEvent),
		stopCh:   make(chan struct{}),
	}
}

// Start creates the directory if needed and begins delivering events to
// changes until ctx is done or Stop is called.
func (w *Watcher) Start(ctx context.Context, changes chan<- Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return nil
	}

	if err := os.MkdirAll(w.dir, 0755); err != nil {
		return err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(w.dir); err != nil {
		watcher.Close()
		return err
	}

	w.watcher = watcher
	w.stopCh = make(chan struct{})
	w.running = true
	go w.loop(ctx, watcher, w.stopCh, changes)

	logging.Info("TemplateWatcher", "Watching %s for composition template changes", w.dir)
	return nil
}

func (w *Watcher) loop(ctx context.Context, watcher *fsnotify.Watcher, stopCh <-chan struct{}, changes chan<- Event) {
	defer w.cancelPending()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			w.handle(ev, changes)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logging.Error("TemplateWatcher", err, "Filesystem watcher error")
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event, changes chan<- Event) {
	if !isYAMLFile(ev.Name) {
		return
	}

	var op Op
	switch {
	case ev.Has(fsnotify.Create), ev.Has(fsnotify.Write):
		op = OpUpsert
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		// A rename shows up as a create under the new name.
		op = OpRemove
	default:
		return
	}

	name := strings.TrimSuffix(filepath.Base(ev.Name), filepath.Ext(ev.Name))
	w.schedule(Event{Op: op, Path: ev.Name, Name: name}, changes)
}

// schedule delays ev by the debounce interval. A newer event for the same
// file replaces a pending one, so the last operation wins.
func (w *Watcher) schedule(ev Event, changes chan<- Event) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if p, ok := w.pending[ev.Path]; ok {
		p.timer.Stop()
	}

	timer := time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		p, ok := w.pending[ev.Path]
		if ok {
			delete(w.pending, ev.Path)
		}
		stopCh := w.stopCh
		w.mu.Unlock()
		if !ok {
			return
		}

		select {
		case changes <- p.event:
			logging.Debug("TemplateWatcher", "Emitted %s for %s", p.event.Op, p.event.Path)
		case <-stopCh:
		}
	})
	w.pending[ev.Path] = &pendingEvent{event: ev, timer: timer}
}

func (w *Watcher) cancelPending() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, p := range w.pending {
		p.timer.Stop()
	}
	w.pending = make(map[string]*pendingEvent)
}

// Stop ends the watch.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return nil
	}
	w.running = false
	close(w.stopCh)

	err := w.watcher.Close()
	w.watcher = nil
	logging.Info("TemplateWatcher", "Stopped watching %s", w.dir)
	return err
}
