package lm

import (
	"fmt"

	"github.com/samcharles93/talkloop/internal/logits"
)

// Byte-level vocabulary used by the toy engine: ids 0..2 are specials and
// every byte b maps to b+byteOffset.
const (
	ToyPAD     Token = 0
	ToyBOS     Token = 1
	ToyEOS     Token = 2
	byteOffset       = 3
	toyVocab         = 256 + byteOffset
)

// ByteTokenizer maps each byte of UTF-8 text to one id.
type ByteTokenizer struct{}

func (ByteTokenizer) Encode(text string) ([]int, error) {
	ids := make([]int, len(text))
	for i := 0; i < len(text); i++ {
		ids[i] = int(text[i]) + byteOffset
	}
	return ids, nil
}

func (ByteTokenizer) Decode(ids []int) (string, error) {
	buf := make([]byte, 0, len(ids))
	for _, id := range ids {
		switch {
		case id < byteOffset:
			// specials render as nothing
		case id < toyVocab:
			buf = append(buf, byte(id-byteOffset))
		default:
			return "", fmt.Errorf("toy: id %d outside vocabulary", id)
		}
	}
	return string(buf), nil
}

// ScriptedModel is a toy language model that always favours the next byte
// of a fixed reply. The cursor advances only when the token it predicted is
// fed back, so prompt tokens leave it in place and the reply loops forever.
type ScriptedModel struct {
	script []int
	cursor int
	steps  int
}

// NewScriptedModel builds a model that keeps saying reply.
func NewScriptedModel(reply string) *ScriptedModel {
	ids, _ := ByteTokenizer{}.Encode(reply)
	return &ScriptedModel{script: ids}
}

func (m *ScriptedModel) ForwardToken(id int) ([]float32, error) {
	if id < 0 || id >= toyVocab {
		return nil, fmt.Errorf("toy: token %d outside vocabulary", id)
	}
	m.steps++
	if len(m.script) > 0 && id == m.script[m.cursor] {
		m.cursor = (m.cursor + 1) % len(m.script)
	}
	out := make([]float32, toyVocab)
	if len(m.script) == 0 {
		out[ToyEOS] = 10
		return out, nil
	}
	out[m.script[m.cursor]] = 10
	return out, nil
}

func (m *ScriptedModel) Reset() {
	m.cursor = 0
	m.steps = 0
}

// Steps reports how many forward passes ran since the last Reset.
func (m *ScriptedModel) Steps() int { return m.steps }

// NewToy returns a Local engine over a ScriptedModel and ByteTokenizer.
func NewToy(reply string, contextSize int, sampler logits.SamplerConfig) (*Local, error) {
	return NewLocal(LocalConfig{
		Model:       NewScriptedModel(reply),
		Tokenizer:   ByteTokenizer{},
		Sampler:     logits.NewSampler(sampler),
		ContextSize: contextSize,
		BOS:         ToyBOS,
		EOS:         ToyEOS,
	})
}
