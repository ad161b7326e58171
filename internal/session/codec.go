package session

import (
	"encoding/binary"
	"fmt"

	"github.com/samcharles93/talkloop/internal/lm"
)

const (
	magic      = "TLSS"
	version    = uint32(1)
	headerSize = 12
	tokenSize  = 4
)

// Encode serializes tokens as magic, version, count and count little-endian
// int32 ids.
func Encode(tokens []lm.Token) []byte {
	out := make([]byte, headerSize+tokenSize*len(tokens))
	copy(out[0:4], magic)
	binary.LittleEndian.PutUint32(out[4:8], version)
	binary.LittleEndian.PutUint32(out[8:12], uint32(len(tokens)))
	for i, tok := range tokens {
		off := headerSize + i*tokenSize
		binary.LittleEndian.PutUint32(out[off:off+tokenSize], uint32(tok))
	}
	return out
}

// Decode parses a payload written by Encode. capacity bounds the token count
// (the model's context size); 0 disables the check.
func Decode(raw []byte, capacity int) ([]lm.Token, error) {
	if len(raw) < headerSize {
		return nil, fmt.Errorf("%w: short header (%d bytes)", ErrCorrupt, len(raw))
	}
	if string(raw[0:4]) != magic {
		return nil, fmt.Errorf("%w: bad magic %q", ErrCorrupt, raw[0:4])
	}
	if v := binary.LittleEndian.Uint32(raw[4:8]); v != version {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorrupt, v)
	}
	count := int(binary.LittleEndian.Uint32(raw[8:12]))
	if capacity > 0 && count > capacity {
		return nil, fmt.Errorf("%w: %d tokens exceed capacity %d", ErrCorrupt, count, capacity)
	}
	payload := raw[headerSize:]
	if len(payload) != count*tokenSize {
		return nil, fmt.Errorf("%w: count %d does not match %d payload bytes", ErrCorrupt, count, len(payload))
	}
	tokens := make([]lm.Token, count)
	for i := range tokens {
		off := i * tokenSize
		tokens[i] = lm.Token(int32(binary.LittleEndian.Uint32(payload[off : off+tokenSize])))
	}
	return tokens, nil
}
