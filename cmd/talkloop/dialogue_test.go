package main

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"

	"github.com/samcharles93/talkloop/internal/lm"
	"github.com/samcharles93/talkloop/internal/logger"
	"github.com/samcharles93/talkloop/internal/logits"
	"github.com/samcharles93/talkloop/internal/session"
)

var testDialogue = dialogueOptions{
	Person: "Georgi",
	Bot:    "Aura",
	Prompt: "{0}{4} hi\n{1}{4} hello\n{0}{4}",
}

func newToy(t *testing.T) *lm.Local {
	t.Helper()
	e, err := lm.NewToy("Yes.\nGeorgi:", 512, logits.SamplerConfig{})
	if err != nil {
		t.Fatalf("NewToy: %v", err)
	}
	return e
}

func TestRenderPrompt(t *testing.T) {
	t.Parallel()
	got, err := renderPrompt(testDialogue, time.Now())
	if err != nil {
		t.Fatalf("renderPrompt: %v", err)
	}
	if got != " Georgi: hi\nAura: hello\nGeorgi:" {
		t.Fatalf("prompt %q", got)
	}
	if _, err := renderPrompt(dialogueOptions{Bot: "Aura"}, time.Now()); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig without a person, got %v", err)
	}
}

func TestBuildEngineRejectsUnknown(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	if _, err := buildEngine(ctx, engineOptions{Engine: "gpt"}); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig, got %v", err)
	}
	if _, err := buildEngine(ctx, engineOptions{Engine: "toy"}); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig for zero context, got %v", err)
	}
	e, err := buildEngine(ctx, engineOptions{Engine: "toy", ContextSize: 64, ToyReply: "x"})
	if err != nil || e.ContextSize() != 64 {
		t.Fatalf("buildEngine toy: %v", err)
	}
}

func TestStartDialogueReusesSession(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "talk.session")
	text, err := renderPrompt(testDialogue, time.Now())
	if err != nil {
		t.Fatalf("renderPrompt: %v", err)
	}
	cfg := dialogueConfig{Person: "Georgi", NPrev: 64}

	// first run: nothing stored, the prompt is evaluated and saved with the
	// first turn
	engine := newToy(t)
	store, err := openSession(sessionOptions{Path: path}, engine.ContextSize(), logger.Nop())
	if err != nil {
		t.Fatalf("openSession: %v", err)
	}
	loop, reuse, err := startDialogue(ctx, engine, store, text, cfg, logger.Nop())
	if err != nil {
		t.Fatalf("startDialogue: %v", err)
	}
	if reuse.Kind != session.ReuseNone || !reuse.NeedSave || !loop.SavePending() {
		t.Fatalf("first run reuse %+v, save pending %v", reuse, loop.SavePending())
	}
	prompt, _ := engine.Tokenize(ctx, text, true)
	if loop.Window().NPast() != len(prompt) {
		t.Fatalf("n_past %d, want %d", loop.Window().NPast(), len(prompt))
	}
	input, _ := engine.Tokenize(ctx, " hi\nAura:", false)
	res, err := loop.Run(ctx, nil, input)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Antiprompt != "Georgi:" {
		t.Fatalf("turn did not end on the person cue: %+v", res)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// second run: the stored prefix covers the whole prompt
	engine = newToy(t)
	store, err = openSession(sessionOptions{Path: path}, engine.ContextSize(), logger.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = store.Close() }()
	loop, reuse, err = startDialogue(ctx, engine, store, text, cfg, logger.Nop())
	if err != nil {
		t.Fatalf("startDialogue: %v", err)
	}
	if reuse.Kind != session.ReuseExact || reuse.NeedSave || loop.SavePending() {
		t.Fatalf("second run reuse %+v", reuse)
	}
	if !reflect.DeepEqual(engine.Evaluated(), prompt) {
		t.Fatalf("engine holds %d tokens, want the %d prompt tokens", len(engine.Evaluated()), len(prompt))
	}
	if loop.Window().NPast() != len(prompt) {
		t.Fatalf("n_past %d, want %d", loop.Window().NPast(), len(prompt))
	}

	// the stored turn past the prompt must not be taken as evaluated
	input, _ = engine.Tokenize(ctx, " hello again\nAura:", false)
	res, err = loop.Run(ctx, nil, input)
	if err != nil {
		t.Fatalf("turn after restart: %v", err)
	}
	if res.Antiprompt != "Georgi:" {
		t.Fatalf("turn after restart: %+v", res)
	}
	if got := len(engine.Evaluated()); got != loop.Window().NPast() {
		t.Fatalf("engine holds %d tokens, n_past %d", got, loop.Window().NPast())
	}
}

func TestStartDialogueRejectsLongPrompt(t *testing.T) {
	t.Parallel()
	e, err := lm.NewToy("x", 16, logits.SamplerConfig{})
	if err != nil {
		t.Fatalf("NewToy: %v", err)
	}
	_, _, err = startDialogue(context.Background(), e, nil, strings.Repeat("a", 40), dialogueConfig{Person: "Georgi"}, logger.Nop())
	if !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig, got %v", err)
	}
}

func TestStartDialogueClampsPrev(t *testing.T) {
	t.Parallel()
	e, err := lm.NewToy("x", 32, logits.SamplerConfig{})
	if err != nil {
		t.Fatalf("NewToy: %v", err)
	}
	loop, _, err := startDialogue(context.Background(), e, nil, " Georgi:", dialogueConfig{Person: "Georgi", NPrev: 64}, logger.Nop())
	if err != nil {
		t.Fatalf("startDialogue: %v", err)
	}
	w := loop.Window().Config()
	if w.Keep+w.Prev >= w.ContextSize {
		t.Fatalf("window %+v does not fit", w)
	}
}

func TestInspectSession(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "talk.session")
	store, err := session.OpenFile(path, 0)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	engine := newToy(t)
	text, _ := renderPrompt(testDialogue, time.Now())
	prompt, _ := engine.Tokenize(ctx, text, true)
	if err := store.Save(ctx, prompt[:len(prompt)/4]); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	var out strings.Builder
	o := inspectOptions{
		engine:   engineOptions{Engine: "toy", ContextSize: 512, ToyReply: "x"},
		dialogue: testDialogue,
		session:  sessionOptions{Path: path},
		head:     3,
		reuse:    true,
		asJSON:   true,
	}
	if err := inspectSession(ctx, o, &out); err != nil {
		t.Fatalf("inspectSession: %v", err)
	}
	var rep SessionReport
	if err := json.Unmarshal([]byte(out.String()), &rep); err != nil {
		t.Fatalf("decode %q: %v", out.String(), err)
	}
	if rep.Tokens != len(prompt)/4 || len(rep.Head) != 3 || rep.Backend != "file" {
		t.Fatalf("report %+v", rep)
	}
	if rep.Reuse == nil || rep.Reuse.Kind != "low" || !rep.Reuse.NeedSave || rep.Reuse.Matched != len(prompt)/4 {
		t.Fatalf("reuse %+v", rep.Reuse)
	}

	out.Reset()
	o.asJSON = false
	o.reuse = false
	if err := inspectSession(ctx, o, &out); err != nil {
		t.Fatalf("inspectSession: %v", err)
	}
	if !strings.Contains(out.String(), "tokens:") {
		t.Fatalf("plain output %q", out.String())
	}
}
