package lm

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/samcharles93/talkloop/internal/logits"
)

type recordingModel struct {
	fed    []int
	resets int
}

func (m *recordingModel) ForwardToken(id int) ([]float32, error) {
	m.fed = append(m.fed, id)
	out := make([]float32, 8)
	out[(id+1)%8] = 1
	return out, nil
}

func (m *recordingModel) Reset() {
	m.fed = m.fed[:0]
	m.resets++
}

type panicModel struct{}

func (panicModel) ForwardToken(int) ([]float32, error) { panic("boom") }
func (panicModel) Reset()                              {}

type failingModel struct{}

func (failingModel) ForwardToken(int) ([]float32, error) { return nil, errors.New("forced forward failure") }
func (failingModel) Reset()                              {}

func newTestLocal(t *testing.T, m Model, nCtx int) *Local {
	t.Helper()
	e, err := NewLocal(LocalConfig{
		Model:       m,
		Tokenizer:   ByteTokenizer{},
		Sampler:     logits.NewSampler(logits.SamplerConfig{}),
		ContextSize: nCtx,
		BOS:         ToyBOS,
		EOS:         ToyEOS,
	})
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	return e
}

func TestNewLocalValidates(t *testing.T) {
	t.Parallel()
	_, err := NewLocal(LocalConfig{})
	if !errors.Is(err, ErrEngineInit) {
		t.Fatalf("expected ErrEngineInit, got %v", err)
	}
}

func TestLocalEvaluateAndSample(t *testing.T) {
	t.Parallel()
	m := &recordingModel{}
	e := newTestLocal(t, m, 0)
	ctx := context.Background()

	if _, err := e.Sample(ctx); !errors.Is(err, ErrNotEvaluated) {
		t.Fatalf("expected ErrNotEvaluated, got %v", err)
	}
	if err := e.Evaluate(ctx, []Token{3, 4}, 0); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	tok, err := e.Sample(ctx)
	if err != nil {
		t.Fatalf("sample: %v", err)
	}
	if tok != 5 {
		t.Fatalf("expected greedy token 5, got %d", tok)
	}
}

func TestLocalEvaluateRejectsGap(t *testing.T) {
	t.Parallel()
	e := newTestLocal(t, &recordingModel{}, 0)
	err := e.Evaluate(context.Background(), []Token{1}, 2)
	if !errors.Is(err, ErrPosition) {
		t.Fatalf("expected ErrPosition, got %v", err)
	}
}

func TestLocalEvaluateRespectsContextSize(t *testing.T) {
	t.Parallel()
	e := newTestLocal(t, &recordingModel{}, 4)
	ctx := context.Background()
	if err := e.Evaluate(ctx, []Token{1, 2, 3}, 0); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if err := e.Evaluate(ctx, []Token{4, 5}, 3); !errors.Is(err, ErrContextFull) {
		t.Fatalf("expected ErrContextFull, got %v", err)
	}
}

func TestLocalRewindReplaysPrefix(t *testing.T) {
	t.Parallel()
	m := &recordingModel{}
	e := newTestLocal(t, m, 0)
	ctx := context.Background()

	if err := e.Evaluate(ctx, []Token{1, 2, 3, 4, 5}, 0); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if err := e.Evaluate(ctx, []Token{7}, 2); err != nil {
		t.Fatalf("rewind evaluate: %v", err)
	}
	if m.resets != 1 {
		t.Fatalf("expected one reset, got %d", m.resets)
	}
	if want := []int{1, 2, 7}; !reflect.DeepEqual(m.fed, want) {
		t.Fatalf("model fed %v, want %v", m.fed, want)
	}
	if want := []Token{1, 2, 7}; !reflect.DeepEqual(e.Evaluated(), want) {
		t.Fatalf("evaluated %v, want %v", e.Evaluated(), want)
	}
}

func TestLocalConvertsForwardPanic(t *testing.T) {
	t.Parallel()
	e := newTestLocal(t, panicModel{}, 0)
	err := e.Evaluate(context.Background(), []Token{1}, 0)
	if err == nil || !strings.Contains(err.Error(), "panic in ForwardToken") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLocalReturnsForwardError(t *testing.T) {
	t.Parallel()
	e := newTestLocal(t, failingModel{}, 0)
	err := e.Evaluate(context.Background(), []Token{1}, 0)
	if err == nil || !strings.Contains(err.Error(), "forced forward failure") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLocalTokenizeAddsBOS(t *testing.T) {
	t.Parallel()
	e := newTestLocal(t, &recordingModel{}, 0)
	toks, err := e.Tokenize(context.Background(), "hi", true)
	if err != nil {
		t.Fatalf("tokenize: %v", err)
	}
	want := []Token{ToyBOS, 'h' + byteOffset, 'i' + byteOffset}
	if !reflect.DeepEqual(toks, want) {
		t.Fatalf("got %v, want %v", toks, want)
	}
	piece, err := e.Piece(context.Background(), toks[1])
	if err != nil || piece != "h" {
		t.Fatalf("piece: %q %v", piece, err)
	}
}

func TestToyRepeatsScript(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e, err := NewToy("ok\nBob:", 0, logits.SamplerConfig{})
	if err != nil {
		t.Fatalf("NewToy: %v", err)
	}
	prompt, _ := e.Tokenize(ctx, " hi\nAura:", true)
	if err := e.Evaluate(ctx, prompt, 0); err != nil {
		t.Fatalf("evaluate: %v", err)
	}

	var out strings.Builder
	pos := len(prompt)
	for i := 0; i < len("ok\nBob:"); i++ {
		tok, err := e.Sample(ctx)
		if err != nil {
			t.Fatalf("sample: %v", err)
		}
		piece, _ := e.Piece(ctx, tok)
		out.WriteString(piece)
		if err := e.Evaluate(ctx, []Token{tok}, pos); err != nil {
			t.Fatalf("evaluate: %v", err)
		}
		pos++
	}
	if out.String() != "ok\nBob:" {
		t.Fatalf("toy produced %q", out.String())
	}
}
