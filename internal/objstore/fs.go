package objstore

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// FS is a Store backed by a local directory. Buckets map to top-level
// directories under the root.
type FS struct {
	root string
}

// NewFS creates a filesystem store rooted at dir.
func NewFS(dir string) (*FS, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create object store root: %w", err)
	}
	return &FS{root: dir}, nil
}

func (f *FS) path(bucket, key string) string {
	return filepath.Join(f.root, bucket, filepath.FromSlash(key))
}

// Get returns the full contents of bucket/key.
func (f *FS) Get(_ context.Context, bucket, key string) ([]byte, error) {
	data, err := os.ReadFile(f.path(bucket, key))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, bucket, key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s/%s: %w", bucket, key, err)
	}
	return data, nil
}

// Put writes contents to bucket/key.
func (f *FS) Put(_ context.Context, bucket, key string, data []byte) error {
	p := f.path(bucket, key)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("failed to create parent directory: %w", err)
	}
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s/%s: %w", bucket, key, err)
	}
	return nil
}

// Exists reports whether bucket/key is present.
func (f *FS) Exists(_ context.Context, bucket, key string) (bool, error) {
	_, err := os.Stat(f.path(bucket, key))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to stat %s/%s: %w", bucket, key, err)
	}
	return true, nil
}

// List returns keys under the given prefix.
func (f *FS) List(_ context.Context, bucket, prefix string) ([]string, error) {
	bucketDir := filepath.Join(f.root, bucket)
	var keys []string
	err := filepath.WalkDir(bucketDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return filepath.SkipAll
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(bucketDir, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list %s/%s: %w", bucket, prefix, err)
	}
	return keys, nil
}
