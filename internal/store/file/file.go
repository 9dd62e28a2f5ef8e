// Package file stores the last-known address as a plain text file.
package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

const DefaultPath = "config/old_ip.tmp"

type Store struct {
	path string
}

func New(path string) *Store {
	if path == "" {
		path = DefaultPath
	}
	return &Store{path: path}
}

func (s *Store) Path() string {
	return s.path
}

func (s *Store) Load(_ context.Context) (string, bool, error) {
	b, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read address file %s: %w", s.path, err)
	}
	return string(b), true, nil
}

// Save replaces the file contents. It writes a sibling temp file and renames
// it so a crash never leaves a truncated record behind.
func (s *Store) Save(_ context.Context, addr string) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create address dir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*")
	if err != nil {
		return fmt.Errorf("create temp address file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.WriteString(addr); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write address file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close address file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace address file %s: %w", s.path, err)
	}
	return nil
}

func (s *Store) Close() error { return nil }
