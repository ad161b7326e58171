// Package turn runs the conversation: listen for an utterance, transcribe
// it, let the model answer and speak the answer, until told to stop.
package turn

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/samcharles93/talkloop/internal/audio"
	"github.com/samcharles93/talkloop/internal/generation"
	"github.com/samcharles93/talkloop/internal/lm"
	"github.com/samcharles93/talkloop/internal/logger"
	"github.com/samcharles93/talkloop/internal/prompt"
	"github.com/samcharles93/talkloop/internal/speak"
	"github.com/samcharles93/talkloop/internal/transcribe"
)

// ErrCancelled is returned by Run after a requested shutdown.
var ErrCancelled = errors.New("turn: cancelled")

// Listener yields utterance candidates from live capture.
type Listener interface {
	Next(ctx context.Context) (audio.Segment, audio.Decision, bool, error)
	Clear()
	Drained() bool
}

type Config struct {
	Bot string
	// PollInterval separates capture probes.
	PollInterval time.Duration
	// WarmUp is waited out once before listening; buffered audio is then
	// dropped.
	WarmUp time.Duration
	// Params are passed to the recognizer on every turn. Abort is set by
	// the controller.
	Params      transcribe.Params
	PrintEnergy bool
	// OnHeard receives each accepted transcript before generation starts.
	OnHeard func(text string)
}

func DefaultConfig() Config {
	return Config{
		Bot:          "Aura",
		PollInterval: 100 * time.Millisecond,
		WarmUp:       3 * time.Second,
		Params:       transcribe.DefaultParams(),
	}
}

// Muter silences capture while a reply is played back.
type Muter interface {
	Pause()
	Resume()
}

// Deps are the collaborators of a Controller. Commands and Mute may be nil.
type Deps struct {
	Listener   Listener
	Mute       Muter
	Recognizer transcribe.Recognizer
	Engine     lm.Engine
	Loop       *generation.Loop
	Speaker    speak.Speaker
	Commands   <-chan Command
	Logger     logger.Logger
}

// Controller owns the turn cycle. Run is single-threaded; Status may be
// called from any goroutine.
type Controller struct {
	cfg  Config
	deps Deps
	log  logger.Logger

	mu     sync.Mutex
	status Status
}

func New(cfg Config, deps Deps) (*Controller, error) {
	switch {
	case deps.Listener == nil:
		return nil, errors.New("turn: listener is required")
	case deps.Recognizer == nil:
		return nil, errors.New("turn: recognizer is required")
	case deps.Engine == nil:
		return nil, errors.New("turn: engine is required")
	case deps.Loop == nil:
		return nil, errors.New("turn: generation loop is required")
	case cfg.Bot == "":
		return nil, errors.New("turn: bot name is required")
	case cfg.PollInterval < 0 || cfg.WarmUp < 0:
		return nil, errors.New("turn: negative delay")
	}
	if err := cfg.Params.Validate(); err != nil {
		return nil, err
	}
	if deps.Speaker == nil {
		deps.Speaker = speak.Nop{}
	}
	log := deps.Logger
	if log == nil {
		log = logger.Nop()
	}
	c := &Controller{cfg: cfg, deps: deps, log: logger.Component(log, "turn")}
	c.status.Online = true
	c.refreshWindow()
	return c, nil
}

// Status returns a snapshot for reporting.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.status.State = s
	c.mu.Unlock()
}

func (c *Controller) refreshWindow() {
	w := c.deps.Loop.Window()
	c.mu.Lock()
	c.status.NPast = w.NPast()
	c.status.Persisting = w.Persisting()
	c.mu.Unlock()
}

// Run loops until the context is cancelled, a shutdown command arrives,
// capture ends or a fatal error occurs. A requested stop returns
// ErrCancelled; the end of capture returns nil.
func (c *Controller) Run(ctx context.Context) error {
	cancel := NewCancel(ctx)
	defer cancel.Cancel()
	defer c.setState(StateShutdown)
	ctx = cancel.Context()

	if c.cfg.WarmUp > 0 {
		if !c.sleep(cancel, c.cfg.WarmUp) {
			return ErrCancelled
		}
	}
	c.deps.Listener.Clear()
	c.log.Info("listening", "poll_interval", c.cfg.PollInterval)

	for {
		c.drainCommands(cancel)
		if cancel.Cancelled() {
			return ErrCancelled
		}
		if !c.sleep(cancel, c.cfg.PollInterval) {
			return ErrCancelled
		}

		c.setState(StateListening)
		seg, d, ok, err := c.deps.Listener.Next(ctx)
		if err != nil {
			if cancel.Cancelled() {
				return ErrCancelled
			}
			return fmt.Errorf("turn: capture: %w", err)
		}
		if c.cfg.PrintEnergy {
			c.log.Info("energy", "all", d.EnergyAll, "last", d.EnergyLast, "speech", d.Speech)
		}
		if !ok {
			if c.deps.Listener.Drained() {
				c.log.Info("capture ended")
				return nil
			}
			c.setState(StateIdle)
			continue
		}
		if err := c.turn(ctx, cancel, seg); err != nil {
			return err
		}
		c.setState(StateIdle)
	}
}

func (c *Controller) turn(ctx context.Context, cancel *Cancel, seg audio.Segment) error {
	id := uuid.NewString()
	log := c.log.With("turn_id", id)

	c.setState(StateTranscribing)
	params := c.cfg.Params
	params.Abort = cancel.Cancelled
	started := time.Now()
	text, err := transcribe.Transcribe(ctx, c.deps.Recognizer, seg, params)
	switch {
	case err == nil:
	case cancel.Cancelled() || errors.Is(err, transcribe.ErrAborted):
		return ErrCancelled
	case errors.Is(err, transcribe.ErrEmptyTranscript):
		c.deps.Listener.Clear()
		return nil
	default:
		log.Warn("transcription failed", "error", err)
		c.deps.Listener.Clear()
		return nil
	}
	log.Info("heard", "text", text, "audio", seg.Duration(), "elapsed", time.Since(started))

	heard, err := c.deps.Engine.Tokenize(ctx, text, false)
	if err != nil {
		return fmt.Errorf("%w: tokenize transcript: %w", generation.ErrDecode, err)
	}
	if len(heard) == 0 {
		c.deps.Listener.Clear()
		return nil
	}
	input, err := c.deps.Engine.Tokenize(ctx, prompt.Turn(text, c.cfg.Bot), false)
	if err != nil {
		return fmt.Errorf("%w: tokenize turn: %w", generation.ErrDecode, err)
	}
	if c.cfg.OnHeard != nil {
		c.cfg.OnHeard(text)
	}

	c.setState(StateGenerating)
	res, err := c.deps.Loop.Run(ctx, cancel, input)
	c.refreshWindow()
	if err != nil {
		if errors.Is(err, generation.ErrCancelled) {
			return ErrCancelled
		}
		return err
	}
	reply := strings.TrimSpace(res.Text)
	log.Info("reply", "tokens", res.Sampled, "elapsed", res.Elapsed, "truncated", res.Truncated)

	c.setState(StateSpeaking)
	if c.deps.Mute != nil {
		c.deps.Mute.Pause()
	}
	err = c.deps.Speaker.Speak(ctx, reply)
	if c.deps.Mute != nil {
		c.deps.Mute.Resume()
	}
	if err != nil {
		if cancel.Cancelled() {
			return ErrCancelled
		}
		log.Warn("speech failed", "error", err)
	}
	c.deps.Listener.Clear()

	c.mu.Lock()
	c.status.Turns++
	c.status.LastTurnID = id
	c.status.LastHeard = text
	c.status.LastReply = reply
	c.mu.Unlock()
	return nil
}

// drainCommands applies every queued command without blocking.
func (c *Controller) drainCommands(cancel *Cancel) {
	if c.deps.Commands == nil {
		return
	}
	for {
		select {
		case cmd, ok := <-c.deps.Commands:
			if !ok {
				c.deps.Commands = nil
				return
			}
			c.apply(cmd, cancel)
		default:
			return
		}
	}
}

func (c *Controller) apply(cmd Command, cancel *Cancel) {
	switch cmd {
	case CmdNetworkOnline, CmdNetworkOffline:
		online := cmd == CmdNetworkOnline
		c.mu.Lock()
		changed := c.status.Online != online
		c.status.Online = online
		c.mu.Unlock()
		if changed {
			c.log.Info("network state changed", "online", online)
		}
	case CmdShutdown:
		c.log.Info("shutdown requested")
		cancel.Cancel()
	default:
		c.log.Warn("ignoring unknown command", "command", cmd)
	}
}

func (c *Controller) sleep(cancel *Cancel, d time.Duration) bool {
	if d <= 0 {
		return !cancel.Cancelled()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-cancel.Done():
		return false
	case <-t.C:
		return true
	}
}
