package audio

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/zaf/g711"

	"github.com/samcharles93/talkloop/internal/logger"
)

// Format is the sample encoding of a raw capture stream. Streams are mono.
type Format string

const (
	FormatS16LE Format = "s16le"
	FormatF32LE Format = "f32le"
	FormatULaw  Format = "ulaw"
	FormatALaw  Format = "alaw"
)

func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatS16LE, FormatF32LE, FormatULaw, FormatALaw:
		return f, nil
	default:
		return "", fmt.Errorf("audio: unknown format %q (want s16le, f32le, ulaw or alaw)", s)
	}
}

// BytesPerSample is the encoded width of one sample.
func (f Format) BytesPerSample() int {
	switch f {
	case FormatF32LE:
		return 4
	case FormatULaw, FormatALaw:
		return 1
	default:
		return 2
	}
}

// Decode converts whole samples of raw to float32 in [-1, 1]. Trailing
// bytes that do not form a full sample are ignored.
func Decode(f Format, raw []byte) []float32 {
	raw = raw[:len(raw)-len(raw)%f.BytesPerSample()]
	switch f {
	case FormatF32LE:
		out := make([]float32, len(raw)/4)
		for i := range out {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
		}
		return out
	case FormatULaw:
		return s16ToFloat(g711.DecodeUlaw(raw))
	case FormatALaw:
		return s16ToFloat(g711.DecodeAlaw(raw))
	default:
		return s16ToFloat(raw)
	}
}

func s16ToFloat(pcm []byte) []float32 {
	out := make([]float32, len(pcm)/2)
	for i := range out {
		out[i] = float32(int16(binary.LittleEndian.Uint16(pcm[i*2:]))) / 32768
	}
	return out
}

// Source pumps a raw PCM stream (typically arecord or sox on stdin) into a
// RingBuffer on its own goroutine.
type Source struct {
	r      io.Reader
	format Format
	ring   *RingBuffer
	log    logger.Logger

	paused    atomic.Bool
	done      chan struct{}
	err       error
	startOnce sync.Once
	closeOnce sync.Once
}

func NewSource(r io.Reader, format Format, ring *RingBuffer, log logger.Logger) *Source {
	if log == nil {
		log = logger.Nop()
	}
	return &Source{
		r:      r,
		format: format,
		ring:   ring,
		log:    logger.Component(log, "capture"),
		done:   make(chan struct{}),
	}
}

// Start begins reading. The ring buffer is closed when the stream ends.
func (s *Source) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		go s.run(ctx)
	})
}

func (s *Source) run(ctx context.Context) {
	defer close(s.done)
	defer func() { _ = s.ring.Close() }()

	frame := s.format.BytesPerSample()
	buf := make([]byte, 4096)
	pending := 0
	for {
		if ctx.Err() != nil {
			return
		}
		n, err := s.r.Read(buf[pending:])
		n += pending
		whole := n - n%frame
		if whole > 0 && !s.paused.Load() {
			if _, werr := s.ring.Write(Decode(s.format, buf[:whole])); werr != nil {
				return
			}
		}
		pending = copy(buf, buf[whole:n])
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrClosedPipe) {
				s.err = fmt.Errorf("audio: read capture: %w", err)
				s.log.Error("capture stopped", "error", err)
			} else {
				s.log.Info("capture stream ended")
			}
			return
		}
	}
}

// Pause drops incoming samples until Resume.
func (s *Source) Pause() { s.paused.Store(true) }

func (s *Source) Resume() { s.paused.Store(false) }

// Done is closed when the reader goroutine exits.
func (s *Source) Done() <-chan struct{} { return s.done }

// Err reports the read error that stopped the source, if any. It is valid
// after Done is closed.
func (s *Source) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// Close closes the underlying reader when it is an io.Closer and the ring.
func (s *Source) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if c, ok := s.r.(io.Closer); ok {
			err = c.Close()
		}
		err = errors.Join(err, s.ring.Close())
	})
	return err
}
