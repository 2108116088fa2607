package signals

import (
	"os"
	"path/filepath"
	"testing"
)

func TestShouldStop_SeesFileWithoutWatcherEvent(t *testing.T) {
	dir := t.TempDir()
	w, err := New(filepath.Join(dir, "signals"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer w.Close()

	if w.ShouldStop() {
		t.Fatal("stop reported before any signal")
	}
	if err := os.WriteFile(filepath.Join(dir, "signals", "stop"), nil, 0644); err != nil {
		t.Fatal(err)
	}
	// Stat fallback must see it even if the fsnotify event has not landed.
	if !w.ShouldStop() {
		t.Error("stop signal not detected")
	}
	if w.ShouldPause() {
		t.Error("pause reported from a stop file")
	}
}

func TestClear_ResetsSignals(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "signals")
	w, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer w.Close()

	for _, name := range []string{"stop", "pause"} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0644); err != nil {
			t.Fatal(err)
		}
	}
	if !w.ShouldStop() || !w.ShouldPause() {
		t.Fatal("signals not detected")
	}
	if err := w.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if w.ShouldStop() || w.ShouldPause() {
		t.Error("signals survived Clear")
	}
}
