package logits

import "testing"

// TestSamplerDeterminism checks that two samplers with the same seed agree
// over a run of draws.
func TestSamplerDeterminism(t *testing.T) {
	logs := []float32{0, 1, 2, 3, 4, 5}
	s1 := NewSampler(SamplerConfig{Seed: 42, Temperature: 0.9, TopK: 4, TopP: 0.95})
	s2 := NewSampler(SamplerConfig{Seed: 42, Temperature: 0.9, TopK: 4, TopP: 0.95})
	for i := 0; i < 50; i++ {
		a := s1.Sample(logs)
		b := s2.Sample(logs)
		if a != b {
			t.Fatalf("draw %d: expected deterministic sample, got %d vs %d", i, a, b)
		}
	}
}

func TestSamplerGreedyAtZeroTemperature(t *testing.T) {
	logs := []float32{-1, 5, 3, 7, 2}
	s := NewSampler(SamplerConfig{Seed: 99, Temperature: 0, TopK: 40, TopP: 0.5})
	if !s.Greedy() {
		t.Fatal("expected greedy sampler")
	}
	for i := 0; i < 10; i++ {
		if idx := s.Sample(logs); idx != 3 {
			t.Fatalf("expected greedy index 3, got %d", idx)
		}
	}
}

func TestSamplerGreedyTieKeepsFirst(t *testing.T) {
	s := NewSampler(SamplerConfig{})
	if idx := s.Sample([]float32{1, 4, 4, 0}); idx != 1 {
		t.Fatalf("expected first maximum, got %d", idx)
	}
}

// TestSamplerTopK restricts the draw to the k best candidates.
func TestSamplerTopK(t *testing.T) {
	logs := []float32{0, 9, 1, 8, 2}
	s := NewSampler(SamplerConfig{Seed: 3, Temperature: 5, TopK: 2, TopP: 1})
	for i := 0; i < 200; i++ {
		idx := s.Sample(logs)
		if idx != 1 && idx != 3 {
			t.Fatalf("top-k returned index %d outside the two best", idx)
		}
	}
}

// TestSamplerTopP: the first candidate alone carries more than TopP of the
// mass, so it is the only survivor.
func TestSamplerTopP(t *testing.T) {
	logs := []float32{10, 0, 0, 0, 0}
	s := NewSampler(SamplerConfig{Seed: 7, Temperature: 1.0, TopK: 5, TopP: 0.5})
	for i := 0; i < 10; i++ {
		if idx := s.Sample(logs); idx != 0 {
			t.Fatalf("top-p sampling returned unexpected index %d", idx)
		}
	}
}

// TestSamplerTemperatureAppliesAfterTopP: a huge temperature flattens the
// survivors but cannot resurrect candidates removed by top-p.
func TestSamplerTemperatureAppliesAfterTopP(t *testing.T) {
	logs := []float32{5, 5, -20, -20}
	s := NewSampler(SamplerConfig{Seed: 11, Temperature: 100, TopK: 4, TopP: 0.9})
	seen := map[int]bool{}
	for i := 0; i < 500; i++ {
		seen[s.Sample(logs)] = true
	}
	if seen[2] || seen[3] {
		t.Fatalf("temperature resurrected filtered candidates: %v", seen)
	}
	if !seen[0] || !seen[1] {
		t.Fatalf("expected both surviving candidates to be drawn: %v", seen)
	}
}

func TestSamplerDefaultsTopP(t *testing.T) {
	s := NewSampler(SamplerConfig{Temperature: 0.3, TopP: 0})
	if got := s.Config().TopP; got != 1 {
		t.Fatalf("expected TopP clamped to 1, got %v", got)
	}
}
