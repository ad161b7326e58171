package transcribe

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/samcharles93/talkloop/internal/audio"
)

var (
	bracketed     = regexp.MustCompile(`\[.*?\]`)
	parenthesized = regexp.MustCompile(`\(.*?\)`)
	disallowed    = regexp.MustCompile(`[^a-zA-Z0-9.,?!\s:'-]`)
)

// Clean strips recognizer annotations such as "[BLANK_AUDIO]" or
// "(laughs)", drops characters outside plain punctuated text, keeps the
// first line and trims surrounding whitespace.
func Clean(text string) string {
	text = bracketed.ReplaceAllString(text, "")
	text = parenthesized.ReplaceAllString(text, "")
	text = disallowed.ReplaceAllString(text, "")
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		text = text[:i]
	}
	return strings.TrimSpace(text)
}

// Transcribe runs r on seg and cleans the result. An empty cleaned text is
// reported as ErrEmptyTranscript; recognizer failures wrap ErrTranscription.
func Transcribe(ctx context.Context, r Recognizer, seg audio.Segment, p Params) (string, error) {
	if p.aborted() {
		return "", ErrAborted
	}
	raw, err := r.Transcribe(ctx, seg, p)
	if err != nil {
		if errors.Is(err, ErrTranscription) || errors.Is(err, ErrAborted) || ctx.Err() != nil {
			return "", err
		}
		return "", fmt.Errorf("%w: %w", ErrTranscription, err)
	}
	text := Clean(raw)
	if text == "" {
		return "", ErrEmptyTranscript
	}
	return text, nil
}
