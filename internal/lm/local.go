package lm

import (
	"context"
	"fmt"

	"github.com/samcharles93/talkloop/internal/logits"
)

// Model is a token-at-a-time forward pass. ForwardToken appends id to the
// model's internal context and returns the logits for the next position.
type Model interface {
	ForwardToken(id int) ([]float32, error)
	Reset()
}

// Tokenizer converts between text and ids.
type Tokenizer interface {
	Encode(text string) ([]int, error)
	Decode(ids []int) (string, error)
}

// LocalConfig configures a Local engine.
type LocalConfig struct {
	Model     Model
	Tokenizer Tokenizer
	Sampler   *logits.Sampler
	// ContextSize bounds the number of positions; 0 means unbounded.
	ContextSize int
	BOS         Token
	EOS         Token
}

// Local drives an in-process Model. It rewinds by resetting the model and
// replaying the kept prefix, since a plain forward pass has no seekable
// cache.
type Local struct {
	cfg    LocalConfig
	tokens []Token
	logits []float32
}

// NewLocal validates cfg and returns an engine with an empty context.
func NewLocal(cfg LocalConfig) (*Local, error) {
	if cfg.Model == nil {
		return nil, fmt.Errorf("%w: model is required", ErrEngineInit)
	}
	if cfg.Tokenizer == nil {
		return nil, fmt.Errorf("%w: tokenizer is required", ErrEngineInit)
	}
	if cfg.Sampler == nil {
		return nil, fmt.Errorf("%w: sampler is required", ErrEngineInit)
	}
	if cfg.ContextSize < 0 {
		return nil, fmt.Errorf("%w: negative context size %d", ErrEngineInit, cfg.ContextSize)
	}
	return &Local{cfg: cfg}, nil
}

func (e *Local) Evaluate(ctx context.Context, batch []Token, pos int) error {
	if pos < 0 || pos > len(e.tokens) {
		return fmt.Errorf("%w: pos %d, evaluated %d", ErrPosition, pos, len(e.tokens))
	}
	if e.cfg.ContextSize > 0 && pos+len(batch) > e.cfg.ContextSize {
		return fmt.Errorf("%w: %d + %d > %d", ErrContextFull, pos, len(batch), e.cfg.ContextSize)
	}
	if pos < len(e.tokens) {
		if err := e.rewind(ctx, pos); err != nil {
			return err
		}
	}
	for _, id := range batch {
		if err := ctx.Err(); err != nil {
			return err
		}
		out, err := safeForward(e.cfg.Model, id)
		if err != nil {
			return fmt.Errorf("forward token %d at %d: %w", id, len(e.tokens), err)
		}
		e.tokens = append(e.tokens, id)
		e.logits = out
	}
	return nil
}

// Restore replays tokens from an empty context.
func (e *Local) Restore(ctx context.Context, tokens []Token) error {
	if err := safeReset(e.cfg.Model); err != nil {
		return err
	}
	e.tokens = e.tokens[:0]
	e.logits = nil
	return e.Evaluate(ctx, tokens, 0)
}

func (e *Local) rewind(ctx context.Context, pos int) error {
	keep := append([]Token(nil), e.tokens[:pos]...)
	return e.Restore(ctx, keep)
}

func (e *Local) Sample(ctx context.Context) (Token, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if len(e.logits) == 0 {
		return 0, ErrNotEvaluated
	}
	// the sampler must not see the engine's copy; the next Evaluate owns it
	scratch := append([]float32(nil), e.logits...)
	return safeSample(e.cfg.Sampler, scratch)
}

func (e *Local) Piece(_ context.Context, tok Token) (string, error) {
	return e.cfg.Tokenizer.Decode([]int{int(tok)})
}

func (e *Local) Tokenize(_ context.Context, text string, addBOS bool) ([]Token, error) {
	ids, err := safeEncode(e.cfg.Tokenizer, text)
	if err != nil {
		return nil, err
	}
	out := make([]Token, 0, len(ids)+1)
	if addBOS {
		out = append(out, e.cfg.BOS)
	}
	return append(out, FromInts(ids)...), nil
}

func (e *Local) EOS() Token { return e.cfg.EOS }

func (e *Local) ContextSize() int { return e.cfg.ContextSize }

// Evaluated returns a copy of the tokens the model has consumed.
func (e *Local) Evaluated() []Token {
	return append([]Token(nil), e.tokens...)
}

func (e *Local) Close() error {
	if closer, ok := e.cfg.Model.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}

func safeForward(m Model, id Token) (out []float32, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic in ForwardToken: %v", rec)
		}
	}()
	return m.ForwardToken(int(id))
}

func safeReset(m Model) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic in Reset: %v", rec)
		}
	}()
	m.Reset()
	return nil
}

func safeEncode(tok Tokenizer, text string) (ids []int, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic in Encode: %v", rec)
		}
	}()
	return tok.Encode(text)
}

func safeSample(s *logits.Sampler, scores []float32) (tok Token, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic in Sample: %v", rec)
		}
	}()
	return Token(s.Sample(scores)), nil
}
