package livestream

import (
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// dirWatcher turns fsnotify callbacks into a channel of settled file paths.
// A path is emitted only after no write has hit it for the settle window, so
// the encoder's partially-written segments are never picked up.
type dirWatcher struct {
	fsw    *fsnotify.Watcher
	events chan string
	settle time.Duration
	logger *zap.Logger

	mu     sync.Mutex
	timers map[string]*time.Timer
	closed bool
}

func newDirWatcher(dir string, settle time.Duration, logger *zap.Logger) (*dirWatcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, err
	}
	w := &dirWatcher{
		fsw:    fsw,
		events: make(chan string, 64),
		settle: settle,
		logger: logger,
		timers: make(map[string]*time.Timer),
	}
	go w.run()
	return w, nil
}

// Events yields settled file paths. The channel is closed when the watcher is.
func (w *dirWatcher) Events() <-chan string { return w.events }

func (w *dirWatcher) run() {
	defer close(w.events)
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			w.debounce(ev.Name)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher error", zap.Error(err))
		}
	}
}

// debounce (re)arms the per-path settle timer.
func (w *dirWatcher) debounce(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	if t, ok := w.timers[path]; ok {
		t.Reset(w.settle)
		return
	}
	w.timers[path] = time.AfterFunc(w.settle, func() {
		w.mu.Lock()
		if w.closed {
			w.mu.Unlock()
			return
		}
		delete(w.timers, path)
		w.mu.Unlock()
		select {
		case w.events <- path:
		default:
			w.logger.Warn("watcher event dropped, upload loop behind", zap.String("path", path))
		}
	})
}

func (w *dirWatcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	for _, t := range w.timers {
		t.Stop()
	}
	w.timers = nil
	w.mu.Unlock()
	return w.fsw.Close()
}
