package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// LocalStore keeps objects as files below a root directory.
type LocalStore struct {
	root string
}

// NewLocalStore creates a store rooted at dir.
func NewLocalStore(dir string) *LocalStore {
	if abs, err := filepath.Abs(dir); err == nil {
		dir = abs
	}
	return &LocalStore{root: dir}
}

// Root returns the root directory.
func (s *LocalStore) Root() string {
	return s.root
}

// Location returns the absolute file path of key.
func (s *LocalStore) Location(key string) string {
	return filepath.Join(s.root, filepath.FromSlash(key))
}

// Get reads the file at key.
func (s *LocalStore) Get(_ context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(s.Location(key))
	if err != nil {
		return nil, mapLocalError(key, err)
	}
	return data, nil
}

// Put writes r to key, creating parent directories as needed.
func (s *LocalStore) Put(_ context.Context, key string, r io.Reader) error {
	path := s.Location(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", key, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %w", key, err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := io.Copy(tmp, r); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

// PutIfAbsent writes data to key through a hard link so that exactly one of
// several concurrent writers succeeds.
func (s *LocalStore) PutIfAbsent(_ context.Context, key string, data []byte) error {
	path := s.Location(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", key, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %w", key, err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}

	if err := os.Link(tmp.Name(), path); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("%s: %w", key, ErrExist)
		}
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

// Stat returns the size and modification time of key.
func (s *LocalStore) Stat(_ context.Context, key string) (*ObjectInfo, error) {
	fi, err := os.Stat(s.Location(key))
	if err != nil {
		return nil, mapLocalError(key, err)
	}
	return &ObjectInfo{Key: key, Size: fi.Size(), ModTime: fi.ModTime().UTC()}, nil
}

// List returns the regular files directly below prefix.
func (s *LocalStore) List(_ context.Context, prefix string) ([]ObjectInfo, error) {
	entries, err := os.ReadDir(s.Location(prefix))
	if err != nil {
		return nil, mapLocalError(prefix, err)
	}

	objects := make([]ObjectInfo, 0, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		objects = append(objects, ObjectInfo{
			Key:     joinKey(prefix, e.Name()),
			Size:    info.Size(),
			ModTime: info.ModTime().UTC(),
		})
	}
	sort.Slice(objects, func(i, j int) bool { return objects[i].Key < objects[j].Key })
	return objects, nil
}

func mapLocalError(key string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%s: %w", key, ErrNotExist)
	}
	return fmt.Errorf("failed to access %s: %w", key, err)
}

var _ Store = (*LocalStore)(nil)
