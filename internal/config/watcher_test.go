package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatcher_ReloadOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, FileName)
	if err := os.WriteFile(path, []byte(`trace = "off"`), 0o644); err != nil {
		t.Fatal(err)
	}

	reloaded := make(chan struct{}, 4)
	w, err := NewWatcher(path, func() { reloaded <- struct{}{} }, WithDebounce(20*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	defer w.Close()

	if err := os.WriteFile(path, []byte(`trace = "verbose"`), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case <-reloaded:
	case <-time.After(3 * time.Second):
		t.Fatal("Reload callback never fired")
	}
}

func TestWatcher_DebouncesBursts(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, FileName)
	if err := os.WriteFile(path, []byte(`trace = "off"`), 0o644); err != nil {
		t.Fatal(err)
	}

	reloaded := make(chan struct{}, 16)
	w, err := NewWatcher(path, func() { reloaded <- struct{}{} }, WithDebounce(100*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	defer w.Close()

	for i := 0; i < 5; i++ {
		if err := os.WriteFile(path, []byte(`trace = "messages"`), 0o644); err != nil {
			t.Fatal(err)
		}
		time.Sleep(5 * time.Millisecond)
	}

	select {
	case <-reloaded:
	case <-time.After(3 * time.Second):
		t.Fatal("Reload callback never fired")
	}

	// A burst yields one callback, not five.
	select {
	case <-reloaded:
		t.Error("Burst was not debounced")
	case <-time.After(300 * time.Millisecond):
	}
}

func TestWatcher_MissingFile(t *testing.T) {
	if _, err := NewWatcher(filepath.Join(t.TempDir(), "absent.toml"), func() {}); err == nil {
		t.Error("NewWatcher() should fail for a missing file")
	}
}
