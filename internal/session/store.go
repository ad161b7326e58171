// Package session persists the language model token cache between runs.
package session

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"github.com/samcharles93/talkloop/internal/lm"
)

var (
	// ErrNotFound means no session was stored yet. It wraps fs.ErrNotExist.
	ErrNotFound = fmt.Errorf("session: not found: %w", fs.ErrNotExist)
	// ErrCorrupt means a stored session could not be decoded.
	ErrCorrupt = errors.New("session: corrupt")
	// ErrLocked means another process holds the session.
	ErrLocked = errors.New("session: locked by another process")
)

// Store loads and saves one session's token cache.
type Store interface {
	Load(ctx context.Context) ([]lm.Token, error)
	Save(ctx context.Context, tokens []lm.Token) error
	Close() error
}
