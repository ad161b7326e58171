// Package lm defines the language model collaborator used by the dialogue
// loop and ships the engines talkloop can drive: a local engine over a
// token-at-a-time model, a llama.cpp server client, and a deterministic toy.
package lm

import (
	"context"
	"errors"
)

// Token is an opaque vocabulary id.
type Token int32

// Engine is an incremental decoder with a positional context.
//
// Evaluate feeds batch at positions [pos, pos+len(batch)). A pos lower than
// the number of tokens the engine has seen rewinds the context to pos first;
// a pos beyond it is an error. Sample draws the next token from the output
// distribution of the last evaluated position.
type Engine interface {
	Evaluate(ctx context.Context, batch []Token, pos int) error
	Sample(ctx context.Context) (Token, error)
	Piece(ctx context.Context, tok Token) (string, error)
	Tokenize(ctx context.Context, text string, addBOS bool) ([]Token, error)
	EOS() Token
	ContextSize() int
	Close() error
}

// Restorer is implemented by engines that can re-establish their state for
// a previously evaluated token prefix, e.g. one loaded from a session cache.
type Restorer interface {
	Restore(ctx context.Context, tokens []Token) error
}

var (
	// ErrEngineInit is wrapped by engine constructors.
	ErrEngineInit = errors.New("lm: engine init failed")
	// ErrPosition reports an Evaluate call that would leave a gap.
	ErrPosition = errors.New("lm: evaluate position beyond context")
	// ErrContextFull reports a batch that does not fit the context window.
	ErrContextFull = errors.New("lm: context window full")
	// ErrNotEvaluated reports Sample before any Evaluate.
	ErrNotEvaluated = errors.New("lm: nothing evaluated")
)

// Ints converts tokens to plain ints for display.
func Ints(toks []Token) []int {
	out := make([]int, len(toks))
	for i, t := range toks {
		out[i] = int(t)
	}
	return out
}

// FromInts converts plain ints to tokens.
func FromInts(ids []int) []Token {
	out := make([]Token, len(ids))
	for i, id := range ids {
		out[i] = Token(id)
	}
	return out
}
