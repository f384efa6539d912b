// Package storage manages the durable on-disk layout: original uploads kept
// for re-transcription, and per-job screenshot directories.
package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/google/uuid"
)

type Store struct {
	uploadPath     string
	screenshotPath string
}

func NewStore(uploadPath, screenshotPath string) (*Store, error) {
	for _, dir := range []string{uploadPath, screenshotPath} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return &Store{uploadPath: uploadPath, screenshotPath: screenshotPath}, nil
}

// SaveOriginal copies an upload into the originals directory under a
// collision-free name and returns its path and size. The original is not a
// temp file: it stays until the retention sweep or an admin clear removes it.
func (s *Store) SaveOriginal(filename string, r io.Reader) (string, int64, error) {
	name := sanitizeFilename(filename)
	path := filepath.Join(s.uploadPath, uuid.NewString()[:8]+"_"+name)

	f, err := os.Create(path)
	if err != nil {
		return "", 0, fmt.Errorf("create original: %w", err)
	}
	size, err := io.Copy(f, r)
	closeErr := f.Close()
	if err != nil {
		os.Remove(path)
		return "", 0, fmt.Errorf("write original: %w", err)
	}
	if closeErr != nil {
		os.Remove(path)
		return "", 0, closeErr
	}
	return path, size, nil
}

// OriginalExists reports whether a stored original is still resolvable.
func (s *Store) OriginalExists(path string) bool {
	if !s.contains(s.uploadPath, path) {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.Size() > 0
}

// RemoveOriginal deletes a stored original. Paths outside the upload
// directory are refused.
func (s *Store) RemoveOriginal(path string) error {
	if !s.contains(s.uploadPath, path) {
		return os.ErrPermission
	}
	return os.Remove(path)
}

// ScreenshotDir returns the per-job slide directory.
func (s *Store) ScreenshotDir(transcriptionID int64) string {
	return filepath.Join(s.screenshotPath, strconv.FormatInt(transcriptionID, 10))
}

// RemoveScreenshots deletes the given image files; missing files are ignored.
func (s *Store) RemoveScreenshots(paths []string) int {
	removed := 0
	for _, p := range paths {
		if !s.contains(s.screenshotPath, p) {
			continue
		}
		if err := os.Remove(p); err == nil {
			removed++
		}
	}
	return removed
}

// Reset wipes every original and screenshot from disk. Used by the
// administrative bulk-clear.
func (s *Store) Reset() error {
	for _, dir := range []string{s.uploadPath, s.screenshotPath} {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return err
		}
		for _, e := range entries {
			os.RemoveAll(filepath.Join(dir, e.Name()))
		}
	}
	return nil
}

// DiskUsage reports total and free bytes on the volume backing the store.
func (s *Store) DiskUsage() (total, free uint64, err error) {
	var st syscall.Statfs_t
	if err := syscall.Statfs(s.uploadPath, &st); err != nil {
		return 0, 0, err
	}
	return st.Blocks * uint64(st.Bsize), st.Bavail * uint64(st.Bsize), nil
}

// contains guards against path traversal out of a managed directory.
func (s *Store) contains(base, path string) bool {
	absBase, err := filepath.Abs(base)
	if err != nil {
		return false
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	return absPath != absBase && strings.HasPrefix(absPath, absBase+string(os.PathSeparator))
}

func sanitizeFilename(name string) string {
	name = filepath.Base(name)
	name = strings.ReplaceAll(name, "..", "")
	if name == "" || name == "." || name == string(os.PathSeparator) {
		name = "upload"
	}
	return name
}
