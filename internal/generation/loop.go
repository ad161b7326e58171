// Package generation runs one dialogue turn against the language model:
// evaluate pending tokens, sample, and stop when the reply hands the floor
// back to the user.
package generation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/samcharles93/talkloop/internal/lm"
	"github.com/samcharles93/talkloop/internal/logger"
	"github.com/samcharles93/talkloop/internal/session"
	"github.com/samcharles93/talkloop/internal/window"
)

var (
	// ErrDecode means the engine rejected a batch. The model state is
	// unknown afterwards, so callers treat it as fatal.
	ErrDecode = errors.New("generation: decode failed")
	// ErrCancelled means the turn was abandoned on request.
	ErrCancelled = errors.New("generation: cancelled")
)

// Canceller is polled once per step.
type Canceller interface {
	Cancelled() bool
}

// Config holds the turn-independent settings of a Loop.
type Config struct {
	// Antiprompts end a turn when the reply ends with one of them.
	Antiprompts []string
	// MaxTokens caps sampled tokens per turn; 0 means no cap.
	MaxTokens int
	// OnPiece receives every visible piece as it is sampled.
	OnPiece func(string)
}

// Result is the outcome of one turn.
type Result struct {
	// Text is the reply with the antiprompt removed.
	Text string
	// Antiprompt is the stop string that ended the turn, if any.
	Antiprompt string
	// Sampled counts sampling steps, end-of-sequence included.
	Sampled   int
	Truncated bool
	Elapsed   time.Duration
}

// Loop drives an Engine through a window.Manager. It is not safe for
// concurrent use; the turn controller runs one turn at a time.
type Loop struct {
	cfg      Config
	engine   lm.Engine
	win      *window.Manager
	store    session.Store
	stop     *StopDetector
	log      logger.Logger
	needSave bool
}

// New wires a loop. store may be nil when no session is kept.
func New(engine lm.Engine, win *window.Manager, store session.Store, cfg Config, log logger.Logger) (*Loop, error) {
	if engine == nil {
		return nil, errors.New("generation: engine is required")
	}
	if win == nil {
		return nil, errors.New("generation: window is required")
	}
	if len(cfg.Antiprompts) == 0 {
		return nil, errors.New("generation: at least one antiprompt is required")
	}
	if cfg.MaxTokens < 0 {
		return nil, fmt.Errorf("generation: negative max tokens %d", cfg.MaxTokens)
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Loop{
		cfg:    cfg,
		engine: engine,
		win:    win,
		store:  store,
		stop:   NewStopDetector(cfg.Antiprompts),
		log:    logger.Component(log, "generation"),
	}, nil
}

// Window exposes the context bookkeeping for status reporting and for
// recording user input.
func (l *Loop) Window() *window.Manager { return l.win }

// ArmSave requests a session save before the next sampling step.
func (l *Loop) ArmSave() { l.needSave = true }

// SavePending reports whether a save is armed.
func (l *Loop) SavePending() bool { return l.needSave }

// Feed evaluates pending without sampling. It evicts on overflow, skips the
// part already held by the session cache and records the rest in the cache.
func (l *Loop) Feed(ctx context.Context, pending []lm.Token) error {
	if len(pending) == 0 {
		return nil
	}
	batch, evicted := l.win.PrepareForOverflow(pending)
	if evicted {
		l.log.Info("context full, evicting history",
			"n_keep", l.win.Config().Keep,
			"carried", len(batch)-len(pending),
			"session_persistence", false,
		)
	}
	residual := l.win.ReconcileWithCache(batch)
	if len(residual) == 0 {
		// every token came from the cache; recompute the last one so the
		// engine's next distribution belongs to position n_past
		pos := l.win.NPast() - 1
		last := batch[len(batch)-1]
		if err := l.engine.Evaluate(ctx, []lm.Token{last}, pos); err != nil {
			return l.decodeError(ctx, err, pos, 1)
		}
		l.win.DropUnconsumed()
		return nil
	}
	if skipped := len(batch) - len(residual); skipped > 0 {
		l.log.Debug("reused session tokens", "skipped", skipped, "n_past", l.win.NPast())
	}

	l.win.CommitEvaluated(residual)
	pos := l.win.NPast()
	if err := l.engine.Evaluate(ctx, residual, pos); err != nil {
		return l.decodeError(ctx, err, pos, len(residual))
	}
	l.win.Advance(residual)
	return nil
}

func (l *Loop) decodeError(ctx context.Context, err error, pos, n int) error {
	if ctx.Err() != nil {
		return fmt.Errorf("%w: %w", ErrCancelled, err)
	}
	return fmt.Errorf("%w: %d tokens at position %d: %w", ErrDecode, n, pos, err)
}

// Run plays one turn starting from input. It returns when the reply ends
// with an antiprompt, MaxTokens is reached, or the turn is cancelled. An
// end-of-sequence token produces no output and does not end the turn.
// On cancellation the partial result is returned with ErrCancelled.
func (l *Loop) Run(ctx context.Context, cancel Canceller, input []lm.Token) (Result, error) {
	start := time.Now()
	l.stop.Reset()

	var (
		out     strings.Builder
		res     Result
		pending = input
		done    bool
		eos     = l.engine.EOS()
	)
	finish := func() Result {
		res.Text = out.String()
		if res.Antiprompt != "" {
			res.Text = strings.TrimSuffix(res.Text, res.Antiprompt)
		}
		res.Elapsed = time.Since(start)
		return res
	}

	for {
		if cancel != nil && cancel.Cancelled() {
			return finish(), ErrCancelled
		}
		if err := l.Feed(ctx, pending); err != nil {
			return finish(), err
		}
		pending = nil
		if done {
			break
		}

		l.saveIfArmed(ctx)

		tok, err := l.engine.Sample(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return finish(), fmt.Errorf("%w: %w", ErrCancelled, err)
			}
			return finish(), fmt.Errorf("%w: sample at %d: %w", ErrDecode, l.win.NPast(), err)
		}
		res.Sampled++

		if tok != eos {
			piece, err := l.engine.Piece(ctx, tok)
			if err != nil {
				return finish(), fmt.Errorf("%w: piece for token %d: %w", ErrDecode, tok, err)
			}
			pending = append(pending, tok)
			out.WriteString(piece)
			if l.cfg.OnPiece != nil {
				l.cfg.OnPiece(piece)
			}
			if a, ok := l.stop.Push(piece); ok {
				res.Antiprompt = a
				done = true
				l.needSave = true
			}
		}

		if !done && l.cfg.MaxTokens > 0 && res.Sampled >= l.cfg.MaxTokens {
			res.Truncated = true
			done = true
		}
	}
	return finish(), nil
}

func (l *Loop) saveIfArmed(ctx context.Context) {
	if !l.needSave || l.store == nil || !l.win.Persisting() {
		return
	}
	l.needSave = false
	cache := l.win.Cache()
	if err := l.store.Save(ctx, cache); err != nil {
		l.log.Warn("session save failed", "error", err)
		return
	}
	l.log.Debug("session saved", "tokens", len(cache))
}
