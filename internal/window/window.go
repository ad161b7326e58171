// Package window tracks the token sequence held by the language model and
// decides what has to be evaluated next.
//
// Positions are absolute: cache[k] and history[k] both describe the token
// at model position k until an overflow eviction shifts the live window.
// After an eviction the model no longer holds a simple prefix, so session
// persistence is switched off for the rest of the run.
package window

import (
	"errors"
	"fmt"

	"github.com/samcharles93/talkloop/internal/lm"
)

// ErrInvalidConfig reports window limits that cannot hold the keep-prefix
// plus the carried tail.
var ErrInvalidConfig = errors.New("window: invalid config")

// Config fixes the window geometry for a run.
type Config struct {
	// ContextSize is n_ctx, the maximum number of positions.
	ContextSize int
	// Keep is n_keep, the prefix that is never evicted.
	Keep int
	// Prev is n_prev, the number of history tokens carried over on eviction.
	Prev int
	// Persist enables growth of the session cache.
	Persist bool
}

func (c Config) validate() error {
	switch {
	case c.ContextSize <= 0:
		return fmt.Errorf("%w: context size %d", ErrInvalidConfig, c.ContextSize)
	case c.Keep < 0 || c.Keep > c.ContextSize:
		return fmt.Errorf("%w: keep %d outside [0, %d]", ErrInvalidConfig, c.Keep, c.ContextSize)
	case c.Prev < 0:
		return fmt.Errorf("%w: negative prev %d", ErrInvalidConfig, c.Prev)
	case c.Keep+c.Prev >= c.ContextSize:
		return fmt.Errorf("%w: keep %d + prev %d must be below context size %d", ErrInvalidConfig, c.Keep, c.Prev, c.ContextSize)
	}
	return nil
}

// Manager owns n_past, the evaluated history and the session cache cursor.
// It is not safe for concurrent use.
type Manager struct {
	cfg       Config
	nPast     int
	nConsumed int
	history   []lm.Token
	cache     []lm.Token
	persist   bool
}

// New returns a manager with nothing evaluated. cache is the loaded session
// (possibly empty); the manager keeps its own copy.
func New(cfg Config, cache []lm.Token) (*Manager, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Manager{
		cfg:     cfg,
		cache:   append([]lm.Token(nil), cache...),
		persist: cfg.Persist,
	}, nil
}

// PrepareForOverflow makes room for pending when evaluating it at n_past
// would exceed the context. n_past drops back to the keep-prefix and the
// last Prev tokens of history are prepended to the batch. The second result
// reports whether eviction happened.
func (m *Manager) PrepareForOverflow(pending []lm.Token) ([]lm.Token, bool) {
	if m.nPast+len(pending) <= m.cfg.ContextSize {
		return pending, false
	}
	m.nPast = m.cfg.Keep
	m.persist = false

	n := min(m.cfg.Prev, len(m.history))
	batch := make([]lm.Token, 0, n+len(pending))
	batch = append(batch, m.history[len(m.history)-n:]...)
	batch = append(batch, pending...)
	return batch, true
}

// ReconcileWithCache skips the leading tokens of pending that the session
// cache already holds at the same positions. Every hit advances n_past and
// n_consumed; the first miss truncates the cache to n_consumed. The
// remainder that still needs evaluating is returned.
func (m *Manager) ReconcileWithCache(pending []lm.Token) []lm.Token {
	if m.nPast != m.nConsumed {
		// the cache cursor no longer lines up with the model position
		return pending
	}
	i := 0
	for i < len(pending) && m.nConsumed < len(m.cache) {
		if pending[i] != m.cache[m.nConsumed] {
			m.cache = m.cache[:m.nConsumed]
			break
		}
		m.history = append(m.history, pending[i])
		m.nPast++
		m.nConsumed++
		i++
	}
	return pending[i:]
}

// CommitEvaluated records tokens about to be evaluated in the cache while
// persistence is active.
func (m *Manager) CommitEvaluated(tokens []lm.Token) {
	if !m.persist || len(tokens) == 0 {
		return
	}
	m.cache = append(m.cache, tokens...)
	m.nConsumed = len(m.cache)
}

// Advance accounts for tokens the model has evaluated at n_past.
func (m *Manager) Advance(evaluated []lm.Token) {
	m.history = append(m.history, evaluated...)
	m.nPast += len(evaluated)
}

// DropUnconsumed truncates the cache to the confirmed prefix. The engine
// rewinds to n_past when a batch is served entirely from the cache, so any
// cached tokens beyond n_consumed no longer describe model positions.
func (m *Manager) DropUnconsumed() {
	if len(m.cache) > m.nConsumed {
		m.cache = m.cache[:m.nConsumed]
	}
}

// NPast is the position at which the next batch is evaluated.
func (m *Manager) NPast() int { return m.nPast }

func (m *Manager) NConsumed() int { return m.nConsumed }

// Persisting reports whether the cache may still grow.
func (m *Manager) Persisting() bool { return m.persist }

func (m *Manager) Config() Config { return m.cfg }

// Cache returns a copy of the session cache.
func (m *Manager) Cache() []lm.Token {
	return append([]lm.Token(nil), m.cache...)
}

// History returns a copy of every token evaluated this run.
func (m *Manager) History() []lm.Token {
	return append([]lm.Token(nil), m.history...)
}

// Tail returns up to n of the most recent history tokens.
func (m *Manager) Tail(n int) []lm.Token {
	n = min(n, len(m.history))
	return append([]lm.Token(nil), m.history[len(m.history)-n:]...)
}
