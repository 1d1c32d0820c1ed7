package config

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads the configuration file when it changes on disk and
// emits the parsed result. Editors that replace the file (rename over
// it) are handled by watching the parent directory.
type Watcher struct {
	watcher *fsnotify.Watcher
	path    string
	updates chan Config
	errors  chan error
	done    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// NewWatcher creates a watcher for the config file at path. The
// watcher must be started with Start() before it emits updates.
func NewWatcher(path string) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %s: %w", path, err)
	}

	return &Watcher{
		watcher: fsw,
		path:    abs,
		updates: make(chan Config, 1),
		errors:  make(chan error, 10),
		done:    make(chan struct{}),
	}, nil
}

// Start begins watching the config file's directory.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return fmt.Errorf("watcher already running")
	}

	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("failed to watch config directory: %w", err)
	}

	w.running = true
	w.wg.Add(1)
	go w.processEvents()

	return nil
}

// Stop stops the watcher and closes the update channels. It blocks
// until the event goroutine has exited.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	w.mu.Unlock()

	close(w.done)

	if err := w.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}

	w.wg.Wait()

	close(w.updates)
	close(w.errors)

	return nil
}

// Updates returns the channel emitting reloaded configurations. The
// channel has a one-slot buffer; a rapid burst of edits collapses to
// the latest parseable state.
func (w *Watcher) Updates() <-chan Config {
	return w.updates
}

// Errors returns the channel emitting reload failures. A config file
// with a syntax error reports here and the previous configuration
// stays in effect.
func (w *Watcher) Errors() <-chan error {
	return w.errors
}

// IsRunning reports whether the watcher is active.
func (w *Watcher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *Watcher) processEvents() {
	defer w.wg.Done()

	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !w.relevant(event) {
				continue
			}

			config, err := Load(w.path)
			if err != nil {
				select {
				case w.errors <- err:
				case <-w.done:
					return
				}
				continue
			}

			// Collapse to the latest state if nobody drained yet.
			select {
			case w.updates <- config:
			default:
				select {
				case <-w.updates:
				default:
				}
				select {
				case w.updates <- config:
				default:
				}
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			select {
			case w.errors <- err:
			case <-w.done:
				return
			}
		}
	}
}

// relevant filters directory events down to writes of the config file
// itself. Create covers the rename-over save pattern.
func (w *Watcher) relevant(event fsnotify.Event) bool {
	abs, err := filepath.Abs(event.Name)
	if err != nil || abs != w.path {
		return false
	}
	return event.Has(fsnotify.Write) || event.Has(fsnotify.Create)
}
