package logits

import (
	"math"
	"math/rand"
)

// SamplerConfig configures a Sampler. A Temperature of zero or below selects
// greedy decoding and the other fields are ignored.
type SamplerConfig struct {
	Seed        int64
	Temperature float32
	TopK        int
	TopP        float32
}

// Sampler draws one token index from a logits vector.
//
// The stochastic chain runs in a fixed order:
//
//  1. top-k keeps the k largest logits (k <= 0 keeps all of them),
//  2. top-p keeps the smallest prefix whose softmax mass reaches TopP,
//  3. the survivors are divided by Temperature,
//  4. an index is drawn from their softmax with the seeded RNG.
//
// A Sampler is not safe for concurrent use.
type Sampler struct {
	rng    *rand.Rand
	cfg    SamplerConfig
	greedy bool
	topIdx []int
	topVal []float32
	prob   []float64
}

// NewSampler returns a sampler for cfg.
func NewSampler(cfg SamplerConfig) *Sampler {
	if cfg.TopP <= 0 || cfg.TopP > 1 {
		cfg.TopP = 1
	}
	return &Sampler{
		rng:    rand.New(rand.NewSource(cfg.Seed)),
		cfg:    cfg,
		greedy: cfg.Temperature <= 0,
	}
}

// Greedy reports whether the sampler always returns the arg-max.
func (s *Sampler) Greedy() bool {
	return s.greedy
}

// Config returns the effective configuration.
func (s *Sampler) Config() SamplerConfig {
	return s.cfg
}

// Sample returns an index into logits. It panics on an empty vector.
func (s *Sampler) Sample(logits []float32) int {
	if s.greedy {
		return argmax(logits)
	}

	k := s.cfg.TopK
	if k <= 0 || k > len(logits) {
		k = len(logits)
	}
	idx, val := s.topK(logits, k)
	if len(idx) == 1 {
		return idx[0]
	}

	// top-p on the unscaled distribution
	prob := s.softmax(val, 1)
	cut := len(prob)
	if s.cfg.TopP < 1 {
		var c float64
		for i, p := range prob {
			c += p
			if c >= float64(s.cfg.TopP) {
				cut = i + 1
				break
			}
		}
	}
	idx, val = idx[:cut], val[:cut]
	if cut == 1 {
		return idx[0]
	}

	prob = s.softmax(val, s.cfg.Temperature)
	r := s.rng.Float64()
	var c float64
	for i, p := range prob {
		c += p
		if r < c {
			return idx[i]
		}
	}
	return idx[len(idx)-1]
}

// softmax fills s.prob with the tempered softmax of val. val is ordered
// largest first so val[0] is the stabilising maximum.
func (s *Sampler) softmax(val []float32, temp float32) []float64 {
	if cap(s.prob) < len(val) {
		s.prob = make([]float64, len(val))
	}
	prob := s.prob[:len(val)]
	maxv := float64(val[0])
	t := float64(temp)
	var sum float64
	for i, v := range val {
		e := math.Exp((float64(v) - maxv) / t)
		prob[i] = e
		sum += e
	}
	if sum == 0 || math.IsNaN(sum) {
		for i := range prob {
			prob[i] = 0
		}
		prob[0] = 1
		return prob
	}
	for i := range prob {
		prob[i] /= sum
	}
	return prob
}

// argmax returns the index of the largest value, preferring the lowest index
// on ties.
func argmax(x []float32) int {
	if len(x) == 0 {
		panic("logits: argmax of empty slice")
	}
	bestI := 0
	bestV := x[0]
	for i := 1; i < len(x); i++ {
		if x[i] > bestV {
			bestV = x[i]
			bestI = i
		}
	}
	return bestI
}

// topK returns the k largest logits and their indices, largest first. It is
// an insertion pass, O(V*k), which is fine for the small k used in dialogue.
func (s *Sampler) topK(logits []float32, k int) ([]int, []float32) {
	if len(logits) == 0 {
		panic("logits: sample from empty slice")
	}
	if cap(s.topIdx) < k+1 {
		s.topIdx = make([]int, 0, k+1)
		s.topVal = make([]float32, 0, k+1)
	}
	topIdx := s.topIdx[:0]
	topVal := s.topVal[:0]

	for i, v := range logits {
		pos := len(topVal)
		for pos > 0 && topVal[pos-1] < v {
			pos--
		}
		if pos >= k {
			continue
		}
		topIdx = append(topIdx, 0)
		topVal = append(topVal, 0)
		copy(topIdx[pos+1:], topIdx[pos:])
		copy(topVal[pos+1:], topVal[pos:])
		topIdx[pos] = i
		topVal[pos] = v
		if len(topVal) > k {
			topIdx = topIdx[:k]
			topVal = topVal[:k]
		}
	}
	s.topIdx = topIdx
	s.topVal = topVal
	return topIdx, topVal
}
