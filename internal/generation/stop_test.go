package generation

import (
	"strings"
	"testing"
)

func TestStopDetectorExactSuffix(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name   string
		pieces []string
		fires  bool
	}{
		{name: "suffix", pieces: []string{"...see", " you", " soon", "Bob", ":"}, fires: true},
		{name: "single-piece", pieces: []string{"see you soonBob:"}, fires: true},
		{name: "missing-last-char", pieces: []string{"see you soon", "Bob"}, fires: false},
		{name: "contained-not-suffix", pieces: []string{"Bob:", " hello"}, fires: false},
		{name: "case-differs", pieces: []string{"bob:"}, fires: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := NewStopDetector([]string{"Bob:"})
			fired := false
			for _, p := range tc.pieces {
				_, fired = d.Push(p)
			}
			if fired != tc.fires {
				t.Fatalf("fired %v, want %v (tail %q)", fired, tc.fires, d.Tail())
			}
		})
	}
}

func TestStopDetectorWindowCoversLongAntiprompt(t *testing.T) {
	t.Parallel()
	long := "Professor Archibald:"
	d := NewStopDetector([]string{"Bob:", long, ""})
	if d.Window() != len(long)+1 {
		t.Fatalf("window %d, want %d", d.Window(), len(long)+1)
	}
	var got string
	var fired bool
	for _, r := range "well " + long {
		got, fired = d.Push(string(r))
	}
	if !fired || got != long {
		t.Fatalf("byte-wise pieces missed %q (tail %q)", long, d.Tail())
	}
}

func TestStopDetectorDropsOldPieces(t *testing.T) {
	t.Parallel()
	d := NewStopDetector([]string{"Bob:"})
	for i := 0; i < 40; i++ {
		d.Push("x")
	}
	if d.Tail() != strings.Repeat("x", d.Window()) {
		t.Fatalf("tail %q", d.Tail())
	}
	d.Reset()
	if d.Tail() != "" {
		t.Fatalf("tail after reset %q", d.Tail())
	}
}
