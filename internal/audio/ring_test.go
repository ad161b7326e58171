package audio

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"
)

func TestRingBufferKeepsNewest(t *testing.T) {
	t.Parallel()
	rb := NewRingBuffer(1000, 5) // 5 samples
	ctx := context.Background()

	_, _ = rb.Write([]float32{1, 2, 3})
	_, _ = rb.Write([]float32{4, 5, 6, 7})
	got, err := rb.Snapshot(ctx, 5)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if want := []float32{3, 4, 5, 6, 7}; !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}

	_, _ = rb.Write([]float32{10, 11, 12, 13, 14, 15, 16})
	got, _ = rb.Snapshot(ctx, 3)
	if want := []float32{14, 15, 16}; !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	if rb.Available() != 5 {
		t.Fatalf("available %d, want 5", rb.Available())
	}
}

func TestRingBufferSnapshotReturnsWhatItHas(t *testing.T) {
	t.Parallel()
	rb := NewRingBuffer(1000, 100)
	_, _ = rb.Write([]float32{1, 2})
	got, err := rb.Snapshot(context.Background(), 50)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if want := []float32{1, 2}; !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestRingBufferSnapshotWaitsWhenEmpty(t *testing.T) {
	t.Parallel()
	rb := NewRingBuffer(1000, 100)
	go func() {
		time.Sleep(10 * time.Millisecond)
		_, _ = rb.Write([]float32{9})
	}()
	got, err := rb.Snapshot(context.Background(), 2000)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if want := []float32{9}; !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestRingBufferSnapshotTimesOut(t *testing.T) {
	t.Parallel()
	rb := NewRingBuffer(1000, 100)
	start := time.Now()
	got, err := rb.Snapshot(context.Background(), 20)
	if err != nil || len(got) != 0 {
		t.Fatalf("got %v, %v", got, err)
	}
	if time.Since(start) < 20*time.Millisecond {
		t.Fatalf("returned before the requested duration")
	}
}

func TestRingBufferSnapshotHonoursContext(t *testing.T) {
	t.Parallel()
	rb := NewRingBuffer(1000, 100)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := rb.Snapshot(ctx, 1000); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestRingBufferClearAndClose(t *testing.T) {
	t.Parallel()
	rb := NewRingBuffer(1000, 100)
	_, _ = rb.Write([]float32{1, 2, 3})
	rb.Clear()
	if rb.Available() != 0 {
		t.Fatalf("available after clear: %d", rb.Available())
	}
	if err := rb.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !rb.Closed() {
		t.Fatalf("expected closed")
	}
	if _, err := rb.Write([]float32{1}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	got, err := rb.Snapshot(context.Background(), 1000)
	if err != nil || len(got) != 0 {
		t.Fatalf("closed snapshot: %v %v", got, err)
	}
}
