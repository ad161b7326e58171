package audio

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrClosed is returned by writes to a closed RingBuffer.
var ErrClosed = errors.New("audio: buffer closed")

// RingBuffer keeps the most recent samples of a capture stream. Writes
// overwrite the oldest samples once the buffer is full. It is safe for one
// producer and any number of readers.
type RingBuffer struct {
	rate        int
	writeNotify chan struct{}

	mu         sync.Mutex
	buf        []float32
	head, tail int64
	closed     bool
}

// NewRingBuffer holds up to capacityMs of audio at rate samples per second.
func NewRingBuffer(rate, capacityMs int) *RingBuffer {
	n := max(rate*capacityMs/1000, 1)
	return &RingBuffer{
		rate:        rate,
		writeNotify: make(chan struct{}, 1),
		buf:         make([]float32, n),
	}
}

func (rb *RingBuffer) SampleRate() int { return rb.rate }

// Write appends samples, discarding the oldest ones when full.
func (rb *RingBuffer) Write(p []float32) (int, error) {
	rb.mu.Lock()
	if rb.closed {
		rb.mu.Unlock()
		return 0, ErrClosed
	}
	size := int64(len(rb.buf))
	src := p
	if int64(len(src)) > size {
		// only the newest size samples survive
		rb.tail += int64(len(src)) - size
		src = src[int64(len(src))-size:]
	}
	for len(src) > 0 {
		at := int(rb.tail % size)
		n := copy(rb.buf[at:], src)
		src = src[n:]
		rb.tail += int64(n)
	}
	if rb.tail-rb.head > size {
		rb.head = rb.tail - size
	}
	rb.mu.Unlock()

	select {
	case rb.writeNotify <- struct{}{}:
	default:
	}
	return len(p), nil
}

// Available reports how many samples are buffered.
func (rb *RingBuffer) Available() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return int(rb.tail - rb.head)
}

// Snapshot returns a copy of up to the last ms milliseconds of audio. An
// empty buffer waits for the producer, at most ms long. A closed buffer
// returns immediately.
func (rb *RingBuffer) Snapshot(ctx context.Context, ms int) ([]float32, error) {
	want := min(rb.rate*ms/1000, len(rb.buf))
	deadline := time.NewTimer(time.Duration(ms) * time.Millisecond)
	defer deadline.Stop()

	for {
		rb.mu.Lock()
		avail := int(rb.tail - rb.head)
		if avail > 0 || rb.closed {
			out := rb.lastLocked(min(avail, want))
			rb.mu.Unlock()
			return out, nil
		}
		rb.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, nil
		case <-rb.writeNotify:
		}
	}
}

func (rb *RingBuffer) lastLocked(n int) []float32 {
	out := make([]float32, n)
	size := int64(len(rb.buf))
	start := rb.tail - int64(n)
	for i := range out {
		out[i] = rb.buf[(start+int64(i))%size]
	}
	return out
}

// Clear drops all buffered samples.
func (rb *RingBuffer) Clear() {
	rb.mu.Lock()
	rb.head = rb.tail
	rb.mu.Unlock()
}

// Close stops further writes and wakes a waiting Snapshot.
func (rb *RingBuffer) Close() error {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	if rb.closed {
		return nil
	}
	rb.closed = true
	select {
	case rb.writeNotify <- struct{}{}:
	default:
	}
	return nil
}

// Closed reports whether Close was called.
func (rb *RingBuffer) Closed() bool {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.closed
}
