package main

import (
	"bufio"
	"context"
	"io"
	"strings"

	"github.com/samcharles93/talkloop/internal/logger"
	"github.com/samcharles93/talkloop/internal/turn"
)

// readCommands forwards ON/OFF/QUIT lines from r until r ends or ctx is
// done. Unknown lines are logged and skipped.
func readCommands(ctx context.Context, r io.Reader, out chan<- turn.Command, log logger.Logger) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		cmd, err := turn.ParseCommand(line)
		if err != nil {
			log.Warn("ignoring stdin line", "line", line)
			continue
		}
		select {
		case out <- cmd:
		case <-ctx.Done():
			return
		}
	}
	if err := sc.Err(); err != nil {
		log.Warn("stdin command reader stopped", "error", err)
	}
}

// wantCommands decides whether stdin carries commands.
func wantCommands(mode string, captureUsesStdin bool) (bool, error) {
	switch strings.ToLower(mode) {
	case "", "auto":
		return !captureUsesStdin, nil
	case "on":
		if captureUsesStdin {
			return false, errConfigf("--commands=on needs stdin, but audio is captured from stdin")
		}
		return true, nil
	case "off":
		return false, nil
	default:
		return false, errConfigf("unknown --commands mode %q (want auto, on or off)", mode)
	}
}
