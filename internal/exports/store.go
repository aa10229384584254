// Package exports manages the settlement CSV files on disk.
package exports

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"commenergy/internal/core"
)

// ErrInvalidName rejects filenames that would escape the export directory.
var ErrInvalidName = errors.New("invalid export filename")

// ErrExists reports a name collision with an export already on disk.
var ErrExists = errors.New("export file already exists")

// FileInfo describes one generated export artifact.
type FileInfo struct {
	Name     string    `json:"name"`
	Size     int64     `json:"size"`
	Modified time.Time `json:"modified"`
}

// Store writes and serves settlement exports from a single directory.
// Filenames are always resolved inside that directory; anything that would
// escape it is rejected.
type Store struct {
	dir string
}

func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create export directory: %w", err)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve export directory: %w", err)
	}
	return &Store{dir: abs}, nil
}

// Filename builds the timestamped settlement name, e.g.
// "decompte-2026-08-29-14-05.csv".
func Filename(t time.Time) string {
	return "decompte-" + t.Format("2006-01-02-15-04") + ".csv"
}

// Write stores content under name and returns the full path. An existing
// file under the same name is never overwritten; the collision comes back
// as ErrExists so the caller decides what a second run in the same minute
// means.
func (s *Store) Write(name string, content []byte) (string, error) {
	path, err := s.resolve(name)
	if err != nil {
		return "", err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if errors.Is(err, os.ErrExist) {
		return "", fmt.Errorf("%w: %q", ErrExists, name)
	}
	if err != nil {
		return "", fmt.Errorf("write export %s: %w", name, err)
	}
	if _, err := f.Write(content); err != nil {
		f.Close()
		return "", fmt.Errorf("write export %s: %w", name, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("write export %s: %w", name, err)
	}
	return path, nil
}

// Remove deletes a provisional export, typically after a failed close step.
func (s *Store) Remove(name string) error {
	path, err := s.resolve(name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove export %s: %w", name, err)
	}
	return nil
}

// Read returns the raw bytes of a previously generated export.
func (s *Store) Read(name string) ([]byte, error) {
	path, err := s.resolve(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("export %s: %w", name, core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read export %s: %w", name, err)
	}
	return data, nil
}

// List enumerates export files, most recently modified first.
func (s *Store) List() ([]FileInfo, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read export directory: %w", err)
	}

	var files []FileInfo
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			return nil, fmt.Errorf("stat export %s: %w", entry.Name(), err)
		}
		files = append(files, FileInfo{
			Name:     entry.Name(),
			Size:     info.Size(),
			Modified: info.ModTime(),
		})
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].Modified.After(files[j].Modified)
	})
	return files, nil
}

// resolve joins name onto the export directory and rejects traversal.
func (s *Store) resolve(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || strings.Contains(name, "..") {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	path := filepath.Join(s.dir, name)
	if !strings.HasPrefix(path, s.dir+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return path, nil
}
