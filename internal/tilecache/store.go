// Package tilecache implements the file-backed tile store shared by all
// elevation models of a process. Entries are keyed by cache-relative paths
// (dataset/level/row/column) and published atomically, so a reader can never
// observe a partially written tile.
package tilecache

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gruppe-adler/terrain/internal/monitoring"
)

// Store is a tile store rooted at a single directory. The zero value is not
// usable; construct with NewStore. A Store may be shared by multiple models
// concurrently.
type Store struct {
	root string
}

// NewStore opens (creating if necessary) a store rooted at dir.
func NewStore(dir string) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("tilecache: store directory must not be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("tilecache: create store root: %w", err)
	}
	return &Store{root: dir}, nil
}

// Root returns the store's root directory.
func (s *Store) Root() string { return s.root }

// fullPath maps a cache-relative path onto the filesystem.
func (s *Store) fullPath(path string) string {
	return filepath.Join(s.root, filepath.FromSlash(path))
}

// Locate returns the absolute path of a stored entry, or false when the
// entry does not exist.
func (s *Store) Locate(path string) (string, bool) {
	full := s.fullPath(path)
	info, err := os.Stat(full)
	if err != nil || info.IsDir() {
		return "", false
	}
	return full, true
}

// LocateIfFresh behaves like Locate but treats entries last modified before
// expiry as misses. Expired entries are removed so the next successful
// retrieval replaces them. A zero expiry disables the check.
func (s *Store) LocateIfFresh(path string, expiry time.Time) (string, bool) {
	full, ok := s.Locate(path)
	if !ok {
		return "", false
	}
	if expiry.IsZero() {
		return full, true
	}
	info, err := os.Stat(full)
	if err != nil {
		return "", false
	}
	if info.ModTime().Before(expiry) {
		if err := os.Remove(full); err != nil {
			monitoring.Logf("tilecache: remove expired entry %s: %v", path, err)
		}
		return "", false
	}
	return full, true
}

// Read returns the content of a stored entry.
func (s *Store) Read(path string) ([]byte, error) {
	data, err := os.ReadFile(s.fullPath(path))
	if err != nil {
		return nil, fmt.Errorf("tilecache: read %s: %w", path, err)
	}
	return data, nil
}

// Put stores an entry. The content is staged in a temporary file next to the
// destination and renamed into place, so concurrent readers either see the
// previous content or the complete new content, never a partial write.
func (s *Store) Put(path string, data []byte) error {
	full := s.fullPath(path)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("tilecache: create entry directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(full), filepath.Base(full)+".tmp*")
	if err != nil {
		return fmt.Errorf("tilecache: stage %s: %w", path, err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("tilecache: stage %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("tilecache: stage %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), full); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("tilecache: publish %s: %w", path, err)
	}
	return nil
}

// Remove deletes an entry. Removing a missing entry is not an error.
func (s *Store) Remove(path string) error {
	err := os.Remove(s.fullPath(path))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("tilecache: remove %s: %w", path, err)
	}
	return nil
}
