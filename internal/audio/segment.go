package audio

import (
	"context"
	"errors"
	"time"
)

// Segment is a span of captured speech handed to a recognizer.
type Segment struct {
	Samples    []float32
	SampleRate int
}

func (s Segment) Duration() time.Duration {
	if s.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(s.Samples)) * time.Second / time.Duration(s.SampleRate)
}

// WAV encodes the segment as a 16-bit mono WAV file.
func (s Segment) WAV() []byte { return EncodeWAV(s.Samples, s.SampleRate) }

// SegmenterConfig holds the probe and capture lengths used per poll.
type SegmenterConfig struct {
	VAD VADParams
	// ProbeMs is how much recent audio is checked for an utterance.
	ProbeMs int
	// CommandMs is how much audio is handed on once one is found.
	CommandMs int
}

func DefaultSegmenterConfig() SegmenterConfig {
	return SegmenterConfig{VAD: DefaultVADParams(), ProbeMs: 1500, CommandMs: 3000}
}

func (c SegmenterConfig) Validate() error {
	switch {
	case c.VAD.EnergyThreshold <= 0:
		return errors.New("audio: vad threshold must be positive")
	case c.VAD.HighPassCutoffHz < 0:
		return errors.New("audio: high-pass cutoff must not be negative")
	case c.VAD.AnalysisWindowMs <= 0:
		return errors.New("audio: analysis window must be positive")
	case c.ProbeMs <= c.VAD.AnalysisWindowMs:
		return errors.New("audio: probe length must exceed the analysis window")
	case c.CommandMs <= 0:
		return errors.New("audio: command length must be positive")
	}
	return nil
}

// Segmenter turns the rolling capture buffer into utterance candidates.
type Segmenter struct {
	ring *RingBuffer
	cfg  SegmenterConfig
}

func NewSegmenter(ring *RingBuffer, cfg SegmenterConfig) (*Segmenter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Segmenter{ring: ring, cfg: cfg}, nil
}

// Next probes the buffer once. When the probe holds a finished utterance it
// returns the last CommandMs of audio and true.
func (s *Segmenter) Next(ctx context.Context) (Segment, Decision, bool, error) {
	probe, err := s.ring.Snapshot(ctx, s.cfg.ProbeMs)
	if err != nil {
		return Segment{}, Decision{}, false, err
	}
	d := DetectSpeech(probe, s.ring.SampleRate(), s.cfg.VAD)
	if !d.Speech {
		return Segment{}, d, false, nil
	}
	samples, err := s.ring.Snapshot(ctx, s.cfg.CommandMs)
	if err != nil {
		return Segment{}, d, false, err
	}
	return Segment{Samples: samples, SampleRate: s.ring.SampleRate()}, d, true, nil
}

// Clear drops buffered audio so the next probe starts fresh.
func (s *Segmenter) Clear() { s.ring.Clear() }

// Drained reports that capture has ended. The buffer no longer changes, so
// a probe that found no utterance will not find one later.
func (s *Segmenter) Drained() bool { return s.ring.Closed() }
