package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
)

// captureStream is the raw audio input and how to release it.
type captureStream struct {
	r         io.Reader
	close     func() error
	usesStdin bool
}

// openCapture resolves --capture-cmd or --capture into a byte stream.
func openCapture(ctx context.Context, o captureOptions, stdin io.Reader, isTerminal func() bool) (captureStream, error) {
	if fields := strings.Fields(o.Command); len(fields) > 0 {
		cmd := exec.CommandContext(ctx, fields[0], fields[1:]...)
		out, err := cmd.StdoutPipe()
		if err != nil {
			return captureStream{}, fmt.Errorf("capture command: %w", err)
		}
		if err := cmd.Start(); err != nil {
			return captureStream{}, fmt.Errorf("start capture command %q: %w", fields[0], err)
		}
		return captureStream{r: out, close: func() error {
			_ = cmd.Process.Kill()
			err := cmd.Wait()
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				// killed above
				return nil
			}
			return err
		}}, nil
	}

	switch o.Source {
	case "", "-":
		if isTerminal() {
			return captureStream{}, fmt.Errorf("%w: stdin is a terminal; pipe raw audio in or set --capture-cmd", ErrConfig)
		}
		return captureStream{r: stdin, close: func() error { return nil }, usesStdin: true}, nil
	default:
		f, err := os.Open(o.Source)
		if err != nil {
			return captureStream{}, fmt.Errorf("open capture: %w", err)
		}
		return captureStream{r: f, close: func() error {
			if err := f.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
				return err
			}
			return nil
		}}, nil
	}
}
