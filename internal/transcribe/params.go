// Package transcribe turns speech segments into cleaned-up text through a
// speech recognizer.
package transcribe

import (
	"context"
	"errors"
	"fmt"

	"github.com/samcharles93/talkloop/internal/audio"
)

var (
	// ErrTranscription means the recognizer failed on a segment. The turn is
	// abandoned and listening resumes.
	ErrTranscription = errors.New("transcribe: recognizer failed")
	// ErrEmptyTranscript means nothing usable was left after cleanup.
	ErrEmptyTranscript = errors.New("transcribe: empty transcript")
	// ErrAborted means the abort predicate fired before the recognizer ran.
	ErrAborted = errors.New("transcribe: aborted")
	// ErrInvalidParams reports decoding parameters that make no sense.
	ErrInvalidParams = errors.New("transcribe: invalid params")
)

// Recognizer converts a speech segment to raw text.
type Recognizer interface {
	Transcribe(ctx context.Context, seg audio.Segment, p Params) (string, error)
}

// Func adapts a plain function to Recognizer.
type Func func(ctx context.Context, seg audio.Segment, p Params) (string, error)

func (f Func) Transcribe(ctx context.Context, seg audio.Segment, p Params) (string, error) {
	return f(ctx, seg, p)
}

// Strategy is the recognizer's decoding search.
type Strategy int

const (
	Greedy Strategy = iota
	BeamSearch
)

func (s Strategy) String() string {
	if s == BeamSearch {
		return "beam"
	}
	return "greedy"
}

// Params are the decoding settings passed with every segment.
type Params struct {
	Language  string
	Translate bool

	BeamSize int
	BestOf   int

	Temperature float32
	// TemperatureInc is the fallback step applied when a decode is rejected.
	TemperatureInc float32
	NoFallback     bool

	EntropyThreshold  float32
	LogprobThreshold  float32
	NoSpeechThreshold float32

	// Grammar is a GBNF grammar; GrammarRule names its start rule.
	Grammar        string
	GrammarRule    string
	GrammarPenalty float32

	InitialPrompt string

	// Progress receives percentages when set. ProgressStep is the granularity.
	Progress     func(percent int)
	ProgressStep int
	// Abort is checked before each recognizer step.
	Abort func() bool
}

// DefaultParams mirrors whisper's talk-llama defaults.
func DefaultParams() Params {
	return Params{
		Language:          "en",
		BeamSize:          5,
		BestOf:            5,
		TemperatureInc:    0.2,
		EntropyThreshold:  2.4,
		LogprobThreshold:  -1,
		NoSpeechThreshold: 0.6,
		GrammarPenalty:    100,
		ProgressStep:      5,
	}
}

// Strategy selects beam search when the beam is wider than one or a grammar
// constrains decoding.
func (p Params) Strategy() Strategy {
	if p.BeamSize > 1 || p.Grammar != "" {
		return BeamSearch
	}
	return Greedy
}

// FallbackIncrement is the temperature step, zero when fallback is off.
func (p Params) FallbackIncrement() float32 {
	if p.NoFallback {
		return 0
	}
	return p.TemperatureInc
}

func (p Params) Validate() error {
	switch {
	case p.BeamSize < 0:
		return fmt.Errorf("%w: beam size %d", ErrInvalidParams, p.BeamSize)
	case p.BestOf < 0:
		return fmt.Errorf("%w: best of %d", ErrInvalidParams, p.BestOf)
	case p.Temperature < 0 || p.Temperature > 1:
		return fmt.Errorf("%w: temperature %.2f outside [0, 1]", ErrInvalidParams, p.Temperature)
	case p.TemperatureInc < 0:
		return fmt.Errorf("%w: temperature increment %.2f", ErrInvalidParams, p.TemperatureInc)
	case p.NoSpeechThreshold < 0 || p.NoSpeechThreshold > 1:
		return fmt.Errorf("%w: no-speech threshold %.2f outside [0, 1]", ErrInvalidParams, p.NoSpeechThreshold)
	case p.GrammarRule != "" && p.Grammar == "":
		return fmt.Errorf("%w: grammar rule %q without a grammar", ErrInvalidParams, p.GrammarRule)
	case p.ProgressStep < 0 || p.ProgressStep > 100:
		return fmt.Errorf("%w: progress step %d", ErrInvalidParams, p.ProgressStep)
	}
	return nil
}

func (p Params) aborted() bool { return p.Abort != nil && p.Abort() }

func (p Params) report(percent int) {
	if p.Progress != nil {
		p.Progress(percent)
	}
}
