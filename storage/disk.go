package storage

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Disk implements Store using the local file system. Keys map directly
// to paths under the base directory.
type Disk struct {
	baseDir string
}

// NewDisk creates a new disk-based artifact store.
// baseDir is the directory where artifacts will be stored.
func NewDisk(baseDir string) (*Disk, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create artifact directory: %w", err)
	}

	return &Disk{
		baseDir: baseDir,
	}, nil
}

// BaseDir returns the directory backing the store.
func (d *Disk) BaseDir() string {
	return d.baseDir
}

// Put writes data at key, creating intermediate directories as needed.
func (d *Disk) Put(ctx context.Context, key string, data []byte) error {
	path := d.resolvePath(key)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", key, err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

// Get reads the content at key. A missing file is a miss, not an error.
func (d *Disk) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := os.ReadFile(d.resolvePath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return data, true, nil
}

// Exists reports whether key is present on disk.
func (d *Disk) Exists(ctx context.Context, key string) (bool, error) {
	_, err := os.Stat(d.resolvePath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat %s: %w", key, err)
	}
	return true, nil
}

// List walks the directory under prefix and returns the keys in
// descending lexicographic order. A missing prefix directory yields an
// empty list.
func (d *Disk) List(ctx context.Context, prefix string) ([]string, error) {
	root := d.resolvePath(prefix)

	var keys []string
	err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(d.baseDir, path)
		if err != nil {
			return err
		}
		keys = append(keys, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list %s: %w", prefix, err)
	}

	sort.Sort(sort.Reverse(sort.StringSlice(keys)))
	return keys, nil
}

// Clear removes the whole base directory and recreates it empty.
// os.RemoveAll is idempotent, a missing directory is not an error.
func (d *Disk) Clear(ctx context.Context) error {
	if err := os.RemoveAll(d.baseDir); err != nil {
		return fmt.Errorf("failed to remove artifact directory: %w", err)
	}
	if err := os.MkdirAll(d.baseDir, 0755); err != nil {
		return fmt.Errorf("failed to recreate artifact directory: %w", err)
	}
	return nil
}

// Close performs cleanup operations.
func (d *Disk) Close() error {
	// No cleanup needed for disk storage
	return nil
}

// resolvePath converts a slash-delimited key to a path under baseDir.
func (d *Disk) resolvePath(key string) string {
	normalized := strings.TrimLeft(key, "/")
	return filepath.Join(d.baseDir, filepath.FromSlash(normalized))
}
