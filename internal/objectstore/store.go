// internal/objectstore/store.go
package objectstore

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// ErrObjectNotFound is returned when a hash has no stored object.
// A lookup miss is a normal outcome, not a storage failure.
var ErrObjectNotFound = errors.New("object not found")

// Store is a content-addressed blob store. Objects are keyed by the hex
// SHA-256 digest of their bytes and sharded into subdirectories by the
// first two hex characters to bound directory fan-out.
type Store struct {
	baseDir string
	mu      sync.RWMutex
}

// New creates a Store rooted at baseDir
func New(baseDir string) (*Store, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("create object dir: %w", err)
	}
	return &Store{baseDir: baseDir}, nil
}

// Hash returns the hex SHA-256 digest of data
func Hash(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// objectPath returns the sharded path for a hash
func (s *Store) objectPath(hash string) string {
	return filepath.Join(s.baseDir, hash[:2], hash)
}

// Store writes data and returns its hash. Storing identical content any
// number of times produces exactly one physical copy; an existing object
// is never rewritten.
func (s *Store) Store(data []byte) (string, error) {
	hash := Hash(data)

	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.objectPath(hash)
	if _, err := os.Stat(path); err == nil {
		return hash, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("create shard dir: %w", err)
	}

	// Write via temp file then rename so a crash never leaves a partial
	// object at its final path
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-"+hash[:8]+"-*")
	if err != nil {
		return "", fmt.Errorf("create temp object: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("write object: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("close object: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("finalize object: %w", err)
	}

	return hash, nil
}

// Has reports whether an object with the given hash exists
func (s *Store) Has(hash string) bool {
	if len(hash) < 3 {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, err := os.Stat(s.objectPath(hash))
	return err == nil
}

// Get returns the bytes for a hash, or ErrObjectNotFound
func (s *Store) Get(hash string) ([]byte, error) {
	if len(hash) < 3 {
		return nil, ErrObjectNotFound
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.objectPath(hash))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrObjectNotFound
		}
		return nil, fmt.Errorf("read object %s: %w", hash, err)
	}
	return data, nil
}

// Size returns the stored size for a hash, or ErrObjectNotFound
func (s *Store) Size(hash string) (int64, error) {
	if len(hash) < 3 {
		return 0, ErrObjectNotFound
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	info, err := os.Stat(s.objectPath(hash))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, ErrObjectNotFound
		}
		return 0, err
	}
	return info.Size(), nil
}

// Remove deletes an object. Removing a missing object is not an error.
func (s *Store) Remove(hash string) error {
	if len(hash) < 3 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.objectPath(hash))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// List returns the hashes of all stored objects
func (s *Store) List() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	shards, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var hashes []string
	for _, shard := range shards {
		if !shard.IsDir() || len(shard.Name()) != 2 {
			continue
		}
		entries, err := os.ReadDir(filepath.Join(s.baseDir, shard.Name()))
		if err != nil {
			continue
		}
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			name := entry.Name()
			// Skip leftover temp files from interrupted writes
			if len(name) != 64 {
				continue
			}
			hashes = append(hashes, name)
		}
	}
	return hashes, nil
}
