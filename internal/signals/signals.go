// Package signals watches the workspace signals directory for operator
// stop and pause files. Mission execution and the CLI check these between
// phases so a running fan-out can be halted without killing the process.
package signals

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

const (
	stopFile  = "stop"
	pauseFile = "pause"
)

// Watcher tracks stop/pause signal files in a directory.
type Watcher struct {
	dir string

	mu     sync.RWMutex
	stop   bool
	paused bool

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// New creates the signals directory and starts watching it. A failed
// fsnotify setup is not fatal: stat-based polling in ShouldStop and
// ShouldPause still works.
func New(dir string) (*Watcher, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	w := &Watcher{dir: dir, done: make(chan struct{})}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return w, nil
	}
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return w, nil
	}
	w.watcher = fw
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
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			w.mu.Lock()
			switch filepath.Base(event.Name) {
			case stopFile:
				w.stop = true
			case pauseFile:
				w.paused = true
			}
			w.mu.Unlock()
		case <-w.watcher.Errors:
			// Keep watching.
		}
	}
}

// ShouldStop reports whether a stop signal exists. The file is also
// stat-checked directly in case the watcher missed the event.
func (w *Watcher) ShouldStop() bool {
	return w.check(stopFile, &w.stop)
}

// ShouldPause reports whether a pause signal exists.
func (w *Watcher) ShouldPause() bool {
	return w.check(pauseFile, &w.paused)
}

func (w *Watcher) check(name string, flag *bool) bool {
	if _, err := os.Stat(filepath.Join(w.dir, name)); err == nil {
		w.mu.Lock()
		*flag = true
		w.mu.Unlock()
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	return *flag
}

// Clear removes both signal files and resets the flags.
func (w *Watcher) Clear() error {
	w.mu.Lock()
	w.stop = false
	w.paused = false
	w.mu.Unlock()
	for _, name := range []string{stopFile, pauseFile} {
		if err := os.Remove(filepath.Join(w.dir, name)); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

// Close stops the watcher goroutine.
func (w *Watcher) Close() {
	close(w.done)
	if w.watcher != nil {
		w.watcher.Close()
	}
}
