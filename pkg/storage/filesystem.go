package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ErrOutsideBase is returned for paths that escape the storage directory.
var ErrOutsideBase = errors.New("path escapes storage directory")

const (
	dirMode  = 0o755
	fileMode = 0o644
	// partialPrefix marks files still being written by Save.
	partialPrefix = ".partial-"
)

// LocalStorage keeps generated artifacts (report exports, lesson plan PDFs)
// below one directory. Callers only ever see slash separated relative names.
type LocalStorage struct {
	root string
	now  func() time.Time
}

// NewLocalStorage creates root when missing. An empty root means ./exports.
func NewLocalStorage(root string) (*LocalStorage, error) {
	if root == "" {
		root = "./exports"
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve storage directory: %w", err)
	}
	if err := os.MkdirAll(abs, dirMode); err != nil {
		return nil, fmt.Errorf("create storage directory: %w", err)
	}
	return &LocalStorage{root: abs, now: time.Now}, nil
}

// Save publishes data under name. Readers see either the previous file or the
// complete new one, never a partial write.
func (s *LocalStorage) Save(name string, data []byte) (string, error) {
	path, err := s.resolve(name)
	if err != nil {
		return "", err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, dirMode); err != nil {
		return "", fmt.Errorf("prepare %s: %w", name, err)
	}

	tmp, err := os.CreateTemp(dir, partialPrefix+"*")
	if err != nil {
		return "", fmt.Errorf("stage %s: %w", name, err)
	}
	staged := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(staged)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("write %s: %w", name, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("sync %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close %s: %w", name, err)
	}
	if err := os.Chmod(staged, fileMode); err != nil {
		return "", fmt.Errorf("chmod %s: %w", name, err)
	}
	if err := os.Rename(staged, path); err != nil {
		return "", fmt.Errorf("publish %s: %w", name, err)
	}
	committed = true
	return filepath.ToSlash(s.rel(path)), nil
}

// Open returns a read-only handle. Missing files satisfy errors.Is(err, fs.ErrNotExist).
func (s *LocalStorage) Open(name string) (*os.File, error) {
	path, err := s.resolve(name)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	return file, nil
}

// Delete removes name. Deleting a missing file is not an error.
func (s *LocalStorage) Delete(name string) error {
	path, err := s.resolve(name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete %s: %w", name, err)
	}
	return nil
}

// CleanupOlderThan removes files last modified more than ttl ago, including
// partial writes abandoned by a crash, and returns the names it removed.
func (s *LocalStorage) CleanupOlderThan(ttl time.Duration) ([]string, error) {
	cutoff := s.now().Add(-ttl)
	var removed []string
	walkErr := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		if err != nil {
			return err
		}
		if !info.ModTime().Before(cutoff) {
			return nil
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		if !strings.HasPrefix(d.Name(), partialPrefix) {
			removed = append(removed, filepath.ToSlash(s.rel(path)))
		}
		return nil
	})
	if walkErr != nil {
		return removed, fmt.Errorf("cleanup storage: %w", walkErr)
	}
	return removed, nil
}

// resolve maps a relative name onto the filesystem, refusing absolute names
// and anything that climbs out of root.
func (s *LocalStorage) resolve(name string) (string, error) {
	if name == "" || filepath.IsAbs(name) || strings.HasPrefix(name, "/") {
		return "", ErrOutsideBase
	}
	path := filepath.Join(s.root, filepath.FromSlash(name))
	if path == s.root || !strings.HasPrefix(path, s.root+string(filepath.Separator)) {
		return "", ErrOutsideBase
	}
	return path, nil
}

func (s *LocalStorage) rel(path string) string {
	rel, err := filepath.Rel(s.root, path)
	if err != nil {
		return path
	}
	return rel
}
