// Package blob provides filesystem-backed blob storage for user uploads
// (exercise videos, progress photos, document attachments). Objects live
// under a configured root, keyed by slash-separated paths such as
// users/<userID>/exercises/video.mp4.
package blob

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Store is a filesystem-backed blob store.
type Store struct {
	root string
}

// NewStore creates a blob store rooted at the given directory, creating it
// if necessary.
func NewStore(root string) (*Store, error) {
	if root == "" {
		return nil, fmt.Errorf("blob store root is empty")
	}
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create blob root %s: %w", root, err)
	}
	return &Store{root: root}, nil
}

// UserPrefix returns the storage prefix holding all of a user's blobs.
func UserPrefix(userID string) string {
	return "users/" + userID
}

// Put writes a blob at the given key, creating parent directories as needed.
func (s *Store) Put(key string, r io.Reader) error {
	path, err := s.resolve(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = io.Copy(f, r)
	return err
}

// Exists reports whether a blob exists at the given key.
func (s *Store) Exists(key string) (bool, error) {
	path, err := s.resolve(key)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// DeletePrefix removes every blob under the given prefix and returns how
// many were removed. A missing prefix is not an error.
func (s *Store) DeletePrefix(prefix string) (int, error) {
	dir, err := s.resolve(prefix)
	if err != nil {
		return 0, err
	}

	count := 0
	err = filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			count++
		}
		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	if err := os.RemoveAll(dir); err != nil {
		return 0, err
	}
	return count, nil
}

// resolve maps a key to an absolute path under the root, rejecting keys
// that would escape it.
func (s *Store) resolve(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) || filepath.IsAbs(clean) {
		return "", fmt.Errorf("invalid blob key: %s", key)
	}
	return filepath.Join(s.root, clean), nil
}
