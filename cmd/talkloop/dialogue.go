package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/samcharles93/talkloop/internal/generation"
	"github.com/samcharles93/talkloop/internal/lm"
	"github.com/samcharles93/talkloop/internal/logger"
	"github.com/samcharles93/talkloop/internal/logits"
	"github.com/samcharles93/talkloop/internal/prompt"
	"github.com/samcharles93/talkloop/internal/session"
	"github.com/samcharles93/talkloop/internal/window"
)

// ErrConfig marks invalid flag or config file values.
var ErrConfig = errors.New("invalid configuration")

func errConfigf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfig, fmt.Sprintf(format, args...))
}

func buildEngine(ctx context.Context, o engineOptions) (lm.Engine, error) {
	sampler := logits.SamplerConfig{
		Seed:        o.Seed,
		Temperature: float32(o.Temperature),
		TopK:        int(o.TopK),
		TopP:        float32(o.TopP),
	}
	switch strings.ToLower(strings.TrimSpace(o.Engine)) {
	case "toy":
		if o.ContextSize <= 0 {
			return nil, errConfigf("--ctx-size must be positive, got %d", o.ContextSize)
		}
		e, err := lm.NewToy(o.ToyReply, int(o.ContextSize), sampler)
		if err != nil {
			return nil, err
		}
		return e, nil
	case "server", "":
		e, err := lm.NewServer(ctx, lm.ServerConfig{
			BaseURL: o.LlamaURL,
			APIKey:  o.LlamaAPIKey,
			Sampler: sampler,
			EOS:     lm.Token(o.EOS),
		})
		if err != nil {
			return nil, err
		}
		return e, nil
	default:
		return nil, errConfigf("unknown engine %q (want server or toy)", o.Engine)
	}
}

// renderPrompt resolves the template from --prompt, --prompt-file or the
// built-in dialogue and fills it in.
func renderPrompt(d dialogueOptions, now time.Time) (string, error) {
	if strings.TrimSpace(d.Person) == "" || strings.TrimSpace(d.Bot) == "" {
		return "", errConfigf("person and bot names are required")
	}
	tmpl := d.Prompt
	if tmpl == "" {
		var err error
		if tmpl, err = prompt.Load(d.PromptFile); err != nil {
			return "", err
		}
	}
	return prompt.Render(tmpl, prompt.Vars{Person: d.Person, Bot: d.Bot, Now: now}), nil
}

// openSession opens the configured store. No --session means no store.
func openSession(o sessionOptions, capacity int, log logger.Logger) (session.Store, error) {
	if o.Path == "" {
		return nil, nil
	}
	switch strings.ToLower(o.Backend) {
	case "", "file":
		s, err := session.OpenFile(o.Path, capacity)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "badger":
		s, err := session.OpenBadger(session.BadgerOptions{
			Dir:      o.Path,
			Name:     o.Name,
			Capacity: capacity,
			Logger:   log,
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, errConfigf("unknown session backend %q (want file or badger)", o.Backend)
	}
}

// loadSession treats a missing session as empty.
func loadSession(ctx context.Context, store session.Store) ([]lm.Token, error) {
	if store == nil {
		return nil, nil
	}
	cache, err := store.Load(ctx)
	if errors.Is(err, session.ErrNotFound) {
		return nil, nil
	}
	return cache, err
}

type dialogueConfig struct {
	Person    string
	NPrev     int
	MaxTokens int
	OnPiece   func(string)
}

// startDialogue evaluates the rendered prompt, reusing whatever prefix the
// stored session already holds, and returns the loop ready for the first
// turn.
func startDialogue(ctx context.Context, engine lm.Engine, store session.Store, text string, cfg dialogueConfig, log logger.Logger) (*generation.Loop, session.Reuse, error) {
	nCtx := engine.ContextSize()
	toks, err := engine.Tokenize(ctx, text, true)
	if err != nil {
		return nil, session.Reuse{}, fmt.Errorf("tokenize prompt: %w", err)
	}
	if len(toks) > nCtx-4 {
		return nil, session.Reuse{}, errConfigf("prompt is too long (%d tokens, context holds %d)", len(toks), nCtx)
	}

	cache, err := loadSession(ctx, store)
	if err != nil {
		return nil, session.Reuse{}, err
	}
	reuse := session.Classify(cache, toks)
	if store != nil {
		log.Info("session loaded",
			"tokens", len(cache),
			"reuse", reuse.Kind.String(),
			"matched", reuse.Matched,
			"prompt_tokens", reuse.Total,
		)
	}
	if len(cache) > 0 {
		if r, ok := engine.(lm.Restorer); ok {
			err = r.Restore(ctx, cache)
		} else {
			err = engine.Evaluate(ctx, cache, 0)
		}
		if err != nil {
			return nil, reuse, fmt.Errorf("%w: restore session: %w", generation.ErrDecode, err)
		}
	}

	prev := cfg.NPrev
	if room := nCtx - len(toks) - 1; prev > room {
		log.Warn("n_prev does not fit next to the prompt, clamping", "n_prev", prev, "clamped", room)
		prev = room
	}
	win, err := window.New(window.Config{
		ContextSize: nCtx,
		Keep:        len(toks),
		Prev:        prev,
		Persist:     store != nil,
	}, cache)
	if err != nil {
		return nil, reuse, err
	}
	loop, err := generation.New(engine, win, store, generation.Config{
		Antiprompts: []string{prompt.Antiprompt(cfg.Person)},
		MaxTokens:   cfg.MaxTokens,
		OnPiece:     cfg.OnPiece,
	}, log)
	if err != nil {
		return nil, reuse, err
	}
	if err := loop.Feed(ctx, toks); err != nil {
		return nil, reuse, err
	}
	if store != nil && reuse.NeedSave {
		loop.ArmSave()
	}
	return loop, reuse, nil
}
