package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
)

const (
	storeDirName = "store"
	filePerms    = 0600 // Owner read/write only
)

var unsafeKeyChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// FileKV stores each key as its own file under dataDir/store.
type FileKV struct {
	mu  sync.RWMutex
	dir string
}

// NewFileKV creates the store directory if needed.
func NewFileKV(dataDir string) (*FileKV, error) {
	dir := filepath.Join(dataDir, storeDirName)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	return &FileKV{dir: dir}, nil
}

func (f *FileKV) path(key string) string {
	return filepath.Join(f.dir, unsafeKeyChars.ReplaceAllString(key, "_")+".json")
}

func (f *FileKV) Get(key string) (string, bool, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	data, err := os.ReadFile(f.path(key))
	if os.IsNotExist(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return string(data), true, nil
}

// Set writes to a temp file first, then renames it over the target so a
// reader never observes a half-written document.
func (f *FileKV) Set(key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	target := f.path(key)
	tmpPath := target + ".tmp"
	if err := os.WriteFile(tmpPath, []byte(value), filePerms); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}

	if err := os.Rename(tmpPath, target); err != nil {
		_ = os.Remove(tmpPath) // Best-effort cleanup of temp file
		return fmt.Errorf("failed to save %s: %w", key, err)
	}
	return nil
}

func (f *FileKV) Delete(key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.Remove(f.path(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}
