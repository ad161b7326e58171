// Package speak hands finished replies to a text-to-speech program.
package speak

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/samcharles93/talkloop/internal/logger"
)

// Speaker renders one reply. Implementations block until playback ends.
type Speaker interface {
	Speak(ctx context.Context, text string) error
}

// Func adapts a plain function to Speaker.
type Func func(ctx context.Context, text string) error

func (f Func) Speak(ctx context.Context, text string) error { return f(ctx, text) }

// Nop discards replies.
type Nop struct{}

func (Nop) Speak(context.Context, string) error { return nil }

// Command writes the reply to a scratch file and runs
// "<command> <voice id> <file>", the convention of the talk-llama speak
// scripts.
type Command struct {
	// Command may carry its own arguments; it is split on whitespace.
	Command string
	File    string
	VoiceID int
	Logger  logger.Logger
}

func (c Command) Validate() error {
	if len(strings.Fields(c.Command)) == 0 {
		return errors.New("speak: command is required")
	}
	if c.File == "" {
		return errors.New("speak: scratch file is required")
	}
	return nil
}

func (c Command) Speak(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if err := c.Validate(); err != nil {
		return err
	}
	if err := os.WriteFile(c.File, []byte(text), 0o644); err != nil {
		return fmt.Errorf("speak: write %s: %w", c.File, err)
	}

	fields := strings.Fields(c.Command)
	args := append(fields[1:], strconv.Itoa(c.VoiceID), c.File)
	cmd := exec.CommandContext(ctx, fields[0], args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return fmt.Errorf("speak: %s: %w: %s", fields[0], err, msg)
		}
		return fmt.Errorf("speak: %s: %w", fields[0], err)
	}
	if c.Logger != nil {
		c.Logger.Debug("reply spoken", "voice", c.VoiceID, "chars", len(text))
	}
	return nil
}
