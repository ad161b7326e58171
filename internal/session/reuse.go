package session

import "github.com/samcharles93/talkloop/internal/lm"

// ReuseKind grades how much of a loaded cache matches a new prompt.
type ReuseKind int

const (
	ReuseNone ReuseKind = iota
	ReuseExact
	ReuseLow
	ReusePartial
)

func (k ReuseKind) String() string {
	switch k {
	case ReuseNone:
		return "none"
	case ReuseExact:
		return "exact"
	case ReuseLow:
		return "low"
	case ReusePartial:
		return "partial"
	default:
		return "unknown"
	}
}

// Reuse describes the common prefix of a cache and a prompt.
type Reuse struct {
	Matched int
	Total   int
	Kind    ReuseKind
	// NeedSave is set when less than three quarters of the prompt matched and
	// the stored session is worth rewriting.
	NeedSave bool
}

// Classify compares a loaded cache with the tokenized prompt.
func Classify(cache, prompt []lm.Token) Reuse {
	m := CommonPrefix(cache, prompt)
	r := Reuse{
		Matched:  m,
		Total:    len(prompt),
		NeedSave: m < len(prompt)*3/4,
	}
	switch {
	case len(cache) == 0:
		r.Kind = ReuseNone
	case m >= len(prompt):
		r.Kind = ReuseExact
	case m < len(prompt)/2:
		r.Kind = ReuseLow
	default:
		r.Kind = ReusePartial
	}
	return r
}

// CommonPrefix returns the length of the longest common prefix of a and b.
func CommonPrefix(a, b []lm.Token) int {
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return i
		}
	}
	return n
}
