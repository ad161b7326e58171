package session

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/samcharles93/talkloop/internal/lm"
)

// FileStore keeps a session in a single file. An exclusive lock on
// "<path>.lock" is held until Close.
type FileStore struct {
	path     string
	capacity int
	lock     *os.File
}

// OpenFile locks the session at path. capacity bounds the number of tokens
// Load accepts; 0 disables the check.
func OpenFile(path string, capacity int) (*FileStore, error) {
	if path == "" {
		return nil, errors.New("session: path is required")
	}
	lock, err := os.OpenFile(path+".lock", os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("session: open lock: %w", err)
	}
	if err := lockFile(lock); err != nil {
		_ = lock.Close()
		return nil, err
	}
	return &FileStore{path: path, capacity: capacity, lock: lock}, nil
}

func (s *FileStore) Path() string { return s.path }

func (s *FileStore) Load(_ context.Context) ([]lm.Token, error) {
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, s.path)
	}
	if err != nil {
		return nil, fmt.Errorf("session: read %s: %w", s.path, err)
	}
	tokens, err := Decode(raw, s.capacity)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", s.path, err)
	}
	return tokens, nil
}

// Save replaces the session file. The payload goes to a temporary file in
// the same directory which is synced and renamed over the target, so a crash
// leaves either the old or the new session.
func (s *FileStore) Save(_ context.Context, tokens []lm.Token) error {
	dir, base := filepath.Split(s.path)
	if dir == "" {
		dir = "."
	}
	tmp, err := os.CreateTemp(dir, base+".tmp-*")
	if err != nil {
		return fmt.Errorf("session: create temp: %w", err)
	}
	cleanup := func(err error) error {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if _, err := tmp.Write(Encode(tokens)); err != nil {
		return cleanup(fmt.Errorf("session: write %s: %w", tmp.Name(), err))
	}
	if err := tmp.Sync(); err != nil {
		return cleanup(fmt.Errorf("session: sync %s: %w", tmp.Name(), err))
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("session: close %s: %w", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("session: rename to %s: %w", s.path, err)
	}
	return nil
}

func (s *FileStore) Close() error {
	if s == nil || s.lock == nil {
		return nil
	}
	err := errors.Join(unlockFile(s.lock), s.lock.Close())
	s.lock = nil
	return err
}
