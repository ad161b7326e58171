// Package audio segments a live capture stream into utterances.
package audio

import "math"

// SampleRate is the rate recognizers expect. Capture is resampled upstream.
const SampleRate = 16000

// VADParams configures DetectSpeech.
type VADParams struct {
	// EnergyThreshold is the fraction of the whole-buffer energy the last
	// window must stay under for the utterance to count as finished.
	EnergyThreshold float32
	// HighPassCutoffHz removes rumble below this frequency; 0 disables it.
	HighPassCutoffHz float32
	// AnalysisWindowMs is the trailing window compared against the buffer.
	AnalysisWindowMs int
}

// DefaultVADParams matches the usual talk-llama settings.
func DefaultVADParams() VADParams {
	return VADParams{EnergyThreshold: 0.4, HighPassCutoffHz: 100, AnalysisWindowMs: 1000}
}

// Decision is the outcome of DetectSpeech. The energies are the mean
// absolute amplitudes of the whole buffer and of the trailing window.
type Decision struct {
	Speech     bool
	EnergyAll  float32
	EnergyLast float32
}

// DetectSpeech decides whether samples hold a finished utterance: the buffer
// as a whole carries energy while its trailing window has fallen back below
// EnergyThreshold times that level. Buffers shorter than the window never
// qualify. samples is not modified.
func DetectSpeech(samples []float32, sampleRate int, p VADParams) Decision {
	nLast := sampleRate * p.AnalysisWindowMs / 1000
	if nLast <= 0 || nLast >= len(samples) {
		return Decision{}
	}

	data := samples
	if p.HighPassCutoffHz > 0 {
		data = make([]float32, len(samples))
		copy(data, samples)
		HighPass(data, p.HighPassCutoffHz, sampleRate)
	}

	var all, last float64
	for i, s := range data {
		a := math.Abs(float64(s))
		all += a
		if i >= len(data)-nLast {
			last += a
		}
	}
	d := Decision{
		EnergyAll:  float32(all / float64(len(data))),
		EnergyLast: float32(last / float64(nLast)),
	}
	// digital silence has no utterance to end
	if d.EnergyAll <= 0 {
		return d
	}
	d.Speech = d.EnergyLast <= p.EnergyThreshold*d.EnergyAll
	return d
}

// HighPass applies a first-order high-pass filter in place.
func HighPass(data []float32, cutoff float32, sampleRate int) {
	if len(data) == 0 {
		return
	}
	rc := 1.0 / (2.0 * math.Pi * float64(cutoff))
	dt := 1.0 / float64(sampleRate)
	alpha := float32(rc / (rc + dt))

	y := data[0]
	prev := data[0]
	for i := 1; i < len(data); i++ {
		cur := data[i]
		y = alpha * (y + cur - prev)
		prev = cur
		data[i] = y
	}
}
