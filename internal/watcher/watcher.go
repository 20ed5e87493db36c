package watcher

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Op is the kind of change observed.
type Op int

const (
	Created Op = iota + 1
	Removed
	Renamed
)

func (o Op) String() string {
	switch o {
	case Created:
		return "created"
	case Removed:
		return "removed"
	case Renamed:
		return "renamed"
	default:
		return "unknown"
	}
}

// Event is a change to a file directly inside the watched directory.
type Event struct {
	Name string // base name
	Op   Op
}

// Watcher watches one directory with fsnotify.
type Watcher struct {
	dir    string
	fsw    *fsnotify.Watcher
	events chan Event
	log    *slog.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates the directory if needed and starts watching it. Call Start to
// begin delivering events.
func New(dir string, log *slog.Logger) (*Watcher, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", dir, err)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	return &Watcher{
		dir:    dir,
		fsw:    fsw,
		events: make(chan Event, 16),
		log:    log.With(slog.String("component", "watcher")),
		stopCh: make(chan struct{}),
	}, nil
}

// Events returns the event channel. It is closed by Stop.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Start begins translating fsnotify events.
func (w *Watcher) Start() {
	w.wg.Add(1)
	go w.run()
}

func (w *Watcher) run() {
	defer w.wg.Done()
	defer close(w.events)

	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			out, ok := w.translate(ev)
			if !ok {
				continue
			}
			select {
			case w.events <- out:
			case <-w.stopCh:
				return
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn("watch error", slog.Any("error", err))
		case <-w.stopCh:
			return
		}
	}
}

func (w *Watcher) translate(ev fsnotify.Event) (Event, bool) {
	name := filepath.Base(ev.Name)
	if strings.HasPrefix(name, ".") || filepath.Dir(ev.Name) != filepath.Clean(w.dir) {
		return Event{}, false
	}

	switch {
	case ev.Has(fsnotify.Create):
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			return Event{}, false
		}
		return Event{Name: name, Op: Created}, true
	case ev.Has(fsnotify.Remove):
		return Event{Name: name, Op: Removed}, true
	case ev.Has(fsnotify.Rename):
		return Event{Name: name, Op: Renamed}, true
	}
	return Event{}, false
}

// Stop halts the watcher and closes the event channel.
func (w *Watcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.stopCh)
		err = w.fsw.Close()
		w.wg.Wait()
	})
	return err
}
