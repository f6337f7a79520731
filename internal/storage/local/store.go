// Package local implements the on-disk archive file store.
package local

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Config captures the parameters for the archive store.
type Config struct {
	// BaseDir is the archive root every relative path resolves against.
	BaseDir string `mapstructure:"base_dir"`
}

// Store reads and writes archive files below a root directory. Writes are
// atomic: data lands in a temp file that is renamed over the target, so a
// crash never leaves a half-written document behind.
type Store struct {
	baseDir string
}

// New creates the root directory if needed and checks that it is writable.
func New(cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}

	info, err := os.Stat(cfg.BaseDir)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to stat base directory: %w", err)
		}
		if mkErr := os.MkdirAll(cfg.BaseDir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("failed to create base directory: %w", mkErr)
		}
	} else if !info.IsDir() {
		return nil, fmt.Errorf("base directory path is not a directory")
	}

	testFile := filepath.Join(cfg.BaseDir, ".writable_test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return nil, fmt.Errorf("base directory is not writable: %w", err)
	}
	if err := os.Remove(testFile); err != nil {
		return nil, fmt.Errorf("failed to clean up test file: %w", err)
	}

	return &Store{baseDir: filepath.Clean(cfg.BaseDir)}, nil
}

// Root returns the archive root directory.
func (s *Store) Root() string {
	return s.baseDir
}

// Path resolves rel against the root, rejecting escapes.
func (s *Store) Path(rel string) (string, error) {
	if strings.TrimSpace(rel) == "" {
		return "", fmt.Errorf("path is required")
	}
	full := filepath.Clean(filepath.Join(s.baseDir, rel))
	if !strings.HasPrefix(full, s.baseDir+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal detected: %q", rel)
	}
	return full, nil
}

// Write atomically replaces rel with data, creating parent directories.
func (s *Store) Write(rel string, data []byte) error {
	full, err := s.Path(rel)
	if err != nil {
		return err
	}
	dir := filepath.Dir(full)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("failed to create parent directories: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(full)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("failed to write %s: %w", rel, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("failed to sync %s: %w", rel, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("failed to close %s: %w", rel, err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		cleanup()
		return fmt.Errorf("failed to chmod %s: %w", rel, err)
	}
	if err := os.Rename(tmpName, full); err != nil {
		cleanup()
		return fmt.Errorf("failed to rename %s: %w", rel, err)
	}
	return nil
}

// Read returns the contents of rel.
func (s *Store) Read(rel string) ([]byte, error) {
	full, err := s.Path(rel)
	if err != nil {
		return nil, err
	}
	// #nosec G304 -- full is confined to the archive root by Path.
	data, err := os.ReadFile(full)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", rel, err)
	}
	return data, nil
}

// Exists reports whether rel exists as a file or directory.
func (s *Store) Exists(rel string) bool {
	full, err := s.Path(rel)
	if err != nil {
		return false
	}
	_, err = os.Stat(full)
	return err == nil
}

// IsDir reports whether rel exists and is a directory.
func (s *Store) IsDir(rel string) bool {
	full, err := s.Path(rel)
	if err != nil {
		return false
	}
	info, err := os.Stat(full)
	return err == nil && info.IsDir()
}

// MkdirAll creates rel and any missing parents.
func (s *Store) MkdirAll(rel string) error {
	full, err := s.Path(rel)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(full, 0o750); err != nil {
		return fmt.Errorf("failed to create %s: %w", rel, err)
	}
	return nil
}

// Remove deletes rel if present.
func (s *Store) Remove(rel string) error {
	full, err := s.Path(rel)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove %s: %w", rel, err)
	}
	return nil
}
