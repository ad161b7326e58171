package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"sync"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/talkloop/internal/audio"
	"github.com/samcharles93/talkloop/internal/control"
	"github.com/samcharles93/talkloop/internal/logger"
	"github.com/samcharles93/talkloop/internal/prompt"
	"github.com/samcharles93/talkloop/internal/speak"
	"github.com/samcharles93/talkloop/internal/transcribe"
	"github.com/samcharles93/talkloop/internal/turn"
)

type runOptions struct {
	engine     engineOptions
	dialogue   dialogueOptions
	session    sessionOptions
	capture    captureOptions
	recognizer recognizerOptions
	output     outputOptions
}

func runCmd() *cli.Command {
	var o runOptions
	return &cli.Command{
		Name:  "run",
		Usage: "Listen, answer and speak until interrupted",
		Flags: slices.Concat(
			engineFlags(&o.engine),
			dialogueFlags(&o.dialogue),
			sessionFlags(&o.session),
			captureFlags(&o.capture),
			recognizerFlags(&o.recognizer),
			outputFlags(&o.output),
		),
		Action: func(ctx context.Context, c *cli.Command) error {
			applyRunConfig(c, fileConfig, &o)
			if err := runConversation(ctx, o, os.Stdin, c.Root().Writer); err != nil {
				return cli.Exit(fmt.Sprintf("run: %v", err), 1)
			}
			return nil
		},
	}
}

func segmenterConfig(o captureOptions) audio.SegmenterConfig {
	cfg := audio.DefaultSegmenterConfig()
	cfg.VAD.EnergyThreshold = float32(o.VADThreshold)
	cfg.VAD.HighPassCutoffHz = float32(o.FreqCutoff)
	cfg.ProbeMs = int(o.VADMs)
	cfg.CommandMs = int(o.CommandMs)
	return cfg
}

func recognizerParams(o recognizerOptions, log logger.Logger) transcribe.Params {
	p := transcribe.DefaultParams()
	p.Language = o.Language
	p.Translate = o.Translate
	p.BeamSize = int(o.BeamSize)
	p.BestOf = int(o.BestOf)
	p.Temperature = float32(o.Temperature)
	p.TemperatureInc = float32(o.TemperatureInc)
	p.NoFallback = o.NoFallback
	p.EntropyThreshold = float32(o.Entropy)
	p.LogprobThreshold = float32(o.Logprob)
	p.NoSpeechThreshold = float32(o.NoSpeech)
	p.Grammar = o.Grammar
	p.GrammarRule = o.GrammarRule
	p.GrammarPenalty = float32(o.GrammarPenalty)
	p.InitialPrompt = o.InitialPrompt
	p.ProgressStep = int(o.ProgressStep)
	if o.PrintProgress {
		p.Progress = func(percent int) { log.Info("transcribing", "progress", percent) }
	}
	return p
}

// transcript mirrors the dialogue on stdout the way the model sees it.
type transcript struct {
	mu  sync.Mutex
	w   io.Writer
	bot string
}

func (t *transcript) write(s string) {
	t.mu.Lock()
	_, _ = io.WriteString(t.w, s)
	t.mu.Unlock()
}

func (t *transcript) piece(p string) { t.write(p) }

func (t *transcript) heard(text string) {
	t.write(" " + text + "\n" + t.bot + prompt.ChatSymbol)
}

func runConversation(ctx context.Context, o runOptions, stdin io.Reader, stdout io.Writer) error {
	log := logger.FromContext(ctx)
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	format, err := audio.ParseFormat(o.capture.Format)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConfig, err)
	}
	segCfg := segmenterConfig(o.capture)
	if err := segCfg.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrConfig, err)
	}
	params := recognizerParams(o.recognizer, log)
	if err := params.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrConfig, err)
	}
	var speaker speak.Speaker = speak.Nop{}
	if o.output.Speak != "" {
		cmd := speak.Command{
			Command: o.output.Speak,
			File:    o.output.SpeakFile,
			VoiceID: int(o.output.VoiceID),
			Logger:  log,
		}
		if err := cmd.Validate(); err != nil {
			return fmt.Errorf("%w: %w", ErrConfig, err)
		}
		if err := os.MkdirAll(filepath.Dir(cmd.File), 0o755); err != nil {
			return fmt.Errorf("speak file directory: %w", err)
		}
		speaker = cmd
	}
	text, err := renderPrompt(o.dialogue, time.Now())
	if err != nil {
		return err
	}

	engine, err := buildEngine(ctx, o.engine)
	if err != nil {
		return err
	}
	defer func() { _ = engine.Close() }()
	log.Info("engine ready", "engine", o.engine.Engine, "n_ctx", engine.ContextSize())

	store, err := openSession(o.session, engine.ContextSize(), log)
	if err != nil {
		return err
	}
	if store != nil {
		defer func() { _ = store.Close() }()
	}

	if o.dialogue.VerbosePrompt {
		_, _ = fmt.Fprintf(stdout, "%s\n\n", text)
	}
	tr := &transcript{w: stdout, bot: o.dialogue.Bot}
	loop, _, err := startDialogue(ctx, engine, store, text, dialogueConfig{
		Person:    o.dialogue.Person,
		NPrev:     int(o.output.NPrev),
		MaxTokens: int(o.output.MaxTokens),
		OnPiece:   tr.piece,
	}, log)
	if err != nil {
		return err
	}

	capture, err := openCapture(ctx, o.capture, stdin, stdinIsTerminal)
	if err != nil {
		return err
	}
	defer func() {
		if err := capture.close(); err != nil {
			log.Warn("capture shutdown", "error", err)
		}
	}()
	ring := audio.NewRingBuffer(audio.SampleRate, int(o.capture.BufferMs))
	src := audio.NewSource(capture.r, format, ring, log)
	src.Start(ctx)
	defer func() { _ = src.Close() }()
	segmenter, err := audio.NewSegmenter(ring, segCfg)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConfig, err)
	}

	recognizer, err := transcribe.NewOpenAI(transcribe.OpenAIConfig{
		BaseURL: o.recognizer.URL,
		APIKey:  o.recognizer.APIKey,
		Model:   o.recognizer.Model,
		Logger:  log,
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConfig, err)
	}

	commands := make(chan turn.Command, 8)
	useStdin, err := wantCommands(o.output.Commands, capture.usesStdin)
	if err != nil {
		return err
	}
	if useStdin {
		go readCommands(ctx, stdin, commands, log)
	}

	cfg := turn.DefaultConfig()
	cfg.Bot = o.dialogue.Bot
	cfg.PollInterval = time.Duration(o.capture.PollMs) * time.Millisecond
	cfg.WarmUp = time.Duration(o.capture.WarmUpMs) * time.Millisecond
	cfg.Params = params
	cfg.PrintEnergy = o.capture.PrintEnergy
	cfg.OnHeard = tr.heard
	ctrl, err := turn.New(cfg, turn.Deps{
		Listener:   segmenter,
		Mute:       src,
		Recognizer: recognizer,
		Engine:     engine,
		Loop:       loop,
		Speaker:    speaker,
		Commands:   commands,
		Logger:     log,
	})
	if err != nil {
		return err
	}

	if o.output.ControlAddr != "" {
		srv := control.NewServer(ctrl, commands)
		go func() {
			if err := control.Start(ctx, o.output.ControlAddr, srv, 10*time.Second); err != nil {
				log.Error("control server stopped", "error", err)
			}
		}()
	}

	tr.write(o.dialogue.Person + prompt.ChatSymbol)
	err = ctrl.Run(ctx)
	tr.write("\n")
	switch {
	case err == nil:
		log.Info("capture finished", "turns", ctrl.Status().Turns)
		return src.Err()
	case errors.Is(err, turn.ErrCancelled):
		log.Info("stopped", "turns", ctrl.Status().Turns)
		return nil
	default:
		return err
	}
}
