package persona

import (
	"errors"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	. "github.com/roelfdiedericks/companion/internal/logging"
)

// DefaultDebounce coalesces the burst of events editors produce on save.
const DefaultDebounce = 300 * time.Millisecond

// Watcher reloads a file-backed Source when the file changes and calls
// onChange after the text actually changed.
type Watcher struct {
	source   *Source
	onChange func()
	debounce time.Duration

	watcher *fsnotify.Watcher
	stopCh  chan struct{}
	wg      sync.WaitGroup

	mu           sync.Mutex
	stopped      bool
	pendingTimer *time.Timer
}

// Watch starts watching the source's file. The parent directory is watched
// rather than the file, so editors that save by rename are still seen.
func Watch(source *Source, debounce time.Duration, onChange func()) (*Watcher, error) {
	if source.Path() == "" {
		return nil, errors.New("persona: static source cannot be watched")
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(source.Path())
	if err := fsWatcher.Add(dir); err != nil {
		fsWatcher.Close()
		return nil, err
	}

	w := &Watcher{
		source:   source,
		onChange: onChange,
		debounce: debounce,
		watcher:  fsWatcher,
		stopCh:   make(chan struct{}),
	}
	w.wg.Add(1)
	go w.run()

	L_debug("persona: watching", "path", source.Path())
	return w, nil
}

func (w *Watcher) run() {
	defer w.wg.Done()
	target := filepath.Clean(w.source.Path())
	for {
		select {
		case <-w.stopCh:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			L_trace("persona: file event", "path", event.Name, "op", event.Op.String())
			w.triggerReload()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			L_warn("persona: watcher error", "error", err)
		}
	}
}

func (w *Watcher) triggerReload() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	if w.pendingTimer != nil {
		w.pendingTimer.Stop()
	}
	w.pendingTimer = time.AfterFunc(w.debounce, w.reload)
}

func (w *Watcher) reload() {
	w.mu.Lock()
	w.pendingTimer = nil
	stopped := w.stopped
	w.mu.Unlock()
	if stopped {
		return
	}

	changed, err := w.source.Reload()
	if err != nil {
		// Mid-save the file may briefly be missing; the next event retries.
		L_debug("persona: reload failed", "error", err)
		return
	}
	if !changed {
		return
	}
	L_info("persona: changed, resetting conversations", "path", w.source.Path())
	if w.onChange != nil {
		w.onChange()
	}
}

// Stop stops watching and waits for the event loop to exit.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return nil
	}
	w.stopped = true
	if w.pendingTimer != nil {
		w.pendingTimer.Stop()
	}
	w.mu.Unlock()

	close(w.stopCh)
	err := w.watcher.Close()
	w.wg.Wait()
	return err
}
