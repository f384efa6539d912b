package storage

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	base := t.TempDir()
	s, err := NewStore(filepath.Join(base, "uploads"), filepath.Join(base, "screenshots"))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return s
}

func TestSaveOriginalRoundTrip(t *testing.T) {
	s := newTestStore(t)

	path, size, err := s.SaveOriginal("lecture.mp4", strings.NewReader("media bytes"))
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if size != int64(len("media bytes")) {
		t.Fatalf("size = %d, want %d", size, len("media bytes"))
	}
	if !s.OriginalExists(path) {
		t.Fatal("saved original should exist")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "media bytes" {
		t.Fatalf("content = %q", string(data))
	}
}

func TestSaveOriginalSanitizesFilename(t *testing.T) {
	s := newTestStore(t)

	path, _, err := s.SaveOriginal("../../etc/passwd", strings.NewReader("x"))
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if !s.OriginalExists(path) {
		t.Fatal("sanitized original should land inside the upload dir")
	}
	if strings.Contains(filepath.Base(path), "..") {
		t.Fatalf("unsanitized name in %s", path)
	}
}

func TestRemoveOriginalRefusesOutsidePaths(t *testing.T) {
	s := newTestStore(t)

	outside := filepath.Join(t.TempDir(), "victim.txt")
	if err := os.WriteFile(outside, []byte("keep me"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := s.RemoveOriginal(outside); err == nil {
		t.Fatal("expected refusal for a path outside the upload dir")
	}
	if _, err := os.Stat(outside); err != nil {
		t.Fatal("outside file should be untouched")
	}
}

func TestResetClearsEverything(t *testing.T) {
	s := newTestStore(t)

	path, _, err := s.SaveOriginal("a.wav", strings.NewReader("x"))
	if err != nil {
		t.Fatal(err)
	}
	dir := s.ScreenshotDir(7)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "screenshot_0000.jpg"), []byte("jpg"), 0644); err != nil {
		t.Fatal(err)
	}

	if err := s.Reset(); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if s.OriginalExists(path) {
		t.Fatal("original should be gone after reset")
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Fatal("screenshot dir should be gone after reset")
	}
}
