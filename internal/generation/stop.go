package generation

import "strings"

// minStopWindow is the number of pieces kept before the newest one when no
// antiprompt needs more.
const minStopWindow = 16

// StopDetector watches decoded pieces for an antiprompt at the very end of
// the text. It keeps the last K pieces, where K covers the longest
// antiprompt even if every piece were a single byte.
type StopDetector struct {
	antiprompts []string
	window      int
	pieces      []string
}

func NewStopDetector(antiprompts []string) *StopDetector {
	longest := 0
	kept := make([]string, 0, len(antiprompts))
	for _, a := range antiprompts {
		if a == "" {
			continue
		}
		kept = append(kept, a)
		longest = max(longest, len(a))
	}
	return &StopDetector{
		antiprompts: kept,
		window:      max(minStopWindow, longest) + 1,
	}
}

// Window is the number of pieces the detector keeps.
func (d *StopDetector) Window() int { return d.window }

// Push adds the newest piece and reports the antiprompt the tail now ends
// with, if any.
func (d *StopDetector) Push(piece string) (string, bool) {
	d.pieces = append(d.pieces, piece)
	if over := len(d.pieces) - d.window; over > 0 {
		d.pieces = d.pieces[over:]
	}
	return d.Match(d.Tail())
}

// Match reports the first antiprompt that tail ends with.
func (d *StopDetector) Match(tail string) (string, bool) {
	for _, a := range d.antiprompts {
		if strings.HasSuffix(tail, a) {
			return a, true
		}
	}
	return "", false
}

func (d *StopDetector) Tail() string { return strings.Join(d.pieces, "") }

func (d *StopDetector) Reset() { d.pieces = d.pieces[:0] }
