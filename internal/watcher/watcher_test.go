package watcher

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestWatcher(t *testing.T) (*Watcher, string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "downloads")
	w, err := New(dir, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	w.Start()
	t.Cleanup(func() { w.Stop() })
	return w, dir
}

// waitFor returns the first event matching name and op.
func waitFor(t *testing.T, w *Watcher, name string, op Op) {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-w.Events():
			if !ok {
				t.Fatal("event channel closed")
			}
			if ev.Name == name && ev.Op == op {
				return
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s %s", op, name)
		}
	}
}

func TestNew_CreatesDirectory(t *testing.T) {
	_, dir := newTestWatcher(t)
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		t.Fatalf("download directory not created: %v", err)
	}
}

func TestCreateAndRemove(t *testing.T) {
	w, dir := newTestWatcher(t)
	path := filepath.Join(dir, "Manual Drop.zip")

	if err := os.WriteFile(path, []byte("zip"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	waitFor(t, w, "Manual Drop.zip", Created)

	if err := os.Remove(path); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	waitFor(t, w, "Manual Drop.zip", Removed)
}

func TestIgnoresHiddenAndDirectories(t *testing.T) {
	w, dir := newTestWatcher(t)

	if err := os.WriteFile(filepath.Join(dir, ".partial"), nil, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0o755); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "real.zip"), nil, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	select {
	case ev := <-w.Events():
		if ev.Name != "real.zip" {
			t.Errorf("first event = %+v, want real.zip", ev)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestStop_ClosesEvents(t *testing.T) {
	w, _ := newTestWatcher(t)
	if err := w.Stop(); err != nil {
		t.Fatalf("Stop() error: %v", err)
	}
	if err := w.Stop(); err != nil {
		t.Errorf("second Stop() error: %v", err)
	}
	select {
	case _, ok := <-w.Events():
		if ok {
			t.Error("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatal("event channel not closed")
	}
}

func TestOpString(t *testing.T) {
	if Created.String() != "created" || Removed.String() != "removed" || Renamed.String() != "renamed" {
		t.Error("unexpected Op strings")
	}
	if Op(0).String() != "unknown" {
		t.Error("zero Op should be unknown")
	}
}
