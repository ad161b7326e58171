package main

import (
	"context"
	"fmt"
	"io"
	"slices"
	"time"

	json "github.com/goccy/go-json"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/talkloop/internal/lm"
	"github.com/samcharles93/talkloop/internal/logger"
	"github.com/samcharles93/talkloop/internal/session"
)

func sessionCmd() *cli.Command {
	return &cli.Command{
		Name:  "session",
		Usage: "Work with stored sessions",
		Commands: []*cli.Command{
			sessionInspectCmd(),
		},
	}
}

type inspectOptions struct {
	engine   engineOptions
	dialogue dialogueOptions
	session  sessionOptions
	head     int64
	reuse    bool
	asJSON   bool
}

// SessionReport is what session inspect prints.
type SessionReport struct {
	Path    string       `json:"path"`
	Backend string       `json:"backend"`
	Tokens  int          `json:"tokens"`
	Head    []lm.Token   `json:"head,omitempty"`
	Reuse   *ReuseReport `json:"reuse,omitempty"`
}

type ReuseReport struct {
	Kind     string `json:"kind"`
	Matched  int    `json:"matched"`
	Prompt   int    `json:"prompt_tokens"`
	NeedSave bool   `json:"need_save"`
}

func sessionInspectCmd() *cli.Command {
	var o inspectOptions
	return &cli.Command{
		Name:  "inspect",
		Usage: "Print the size of a stored session and how well it matches the current prompt",
		Flags: slices.Concat(
			sessionFlags(&o.session),
			engineFlags(&o.engine),
			dialogueFlags(&o.dialogue),
			[]cli.Flag{
				&cli.Int64Flag{
					Name:        "head",
					Usage:       "number of leading token ids to print",
					Value:       16,
					Destination: &o.head,
				},
				&cli.BoolFlag{
					Name:        "reuse",
					Usage:       "tokenize the prompt with the engine and report the reusable prefix",
					Destination: &o.reuse,
				},
				&cli.BoolFlag{
					Name:        "json",
					Usage:       "print the report as JSON",
					Destination: &o.asJSON,
				},
			},
		),
		Action: func(ctx context.Context, c *cli.Command) error {
			applyEngineConfig(c, fileConfig, &o.engine, &o.dialogue, &o.session)
			if o.session.Path == "" {
				return cli.Exit("session inspect: --session is required", 1)
			}
			if err := inspectSession(ctx, o, c.Root().Writer); err != nil {
				return cli.Exit(fmt.Sprintf("session inspect: %v", err), 1)
			}
			return nil
		},
	}
}

func inspectSession(ctx context.Context, o inspectOptions, w io.Writer) error {
	log := logger.FromContext(ctx)
	store, err := openSession(o.session, 0, log)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()
	cache, err := loadSession(ctx, store)
	if err != nil {
		return err
	}

	rep := SessionReport{Path: o.session.Path, Backend: o.session.Backend, Tokens: len(cache)}
	if rep.Backend == "" {
		rep.Backend = "file"
	}
	rep.Head = cache[:min(int(o.head), len(cache))]

	if o.reuse {
		engine, err := buildEngine(ctx, o.engine)
		if err != nil {
			return err
		}
		defer func() { _ = engine.Close() }()
		text, err := renderPrompt(o.dialogue, time.Now())
		if err != nil {
			return err
		}
		toks, err := engine.Tokenize(ctx, text, true)
		if err != nil {
			return fmt.Errorf("tokenize prompt: %w", err)
		}
		r := session.Classify(cache, toks)
		rep.Reuse = &ReuseReport{Kind: r.Kind.String(), Matched: r.Matched, Prompt: r.Total, NeedSave: r.NeedSave}
	}

	if o.asJSON {
		out, err := json.MarshalIndent(rep, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(w, "%s\n", out)
		return err
	}
	_, _ = fmt.Fprintf(w, "session:  %s (%s)\n", rep.Path, rep.Backend)
	_, _ = fmt.Fprintf(w, "tokens:   %d\n", rep.Tokens)
	if len(rep.Head) > 0 {
		_, _ = fmt.Fprintf(w, "head:     %v\n", rep.Head)
	}
	if rep.Reuse != nil {
		_, _ = fmt.Fprintf(w, "reuse:    %s, %d of %d prompt tokens match\n", rep.Reuse.Kind, rep.Reuse.Matched, rep.Reuse.Prompt)
		if rep.Reuse.NeedSave {
			_, _ = fmt.Fprintln(w, "          the next run will rewrite this session")
		}
	}
	return nil
}
