package audio

import (
	"encoding/binary"
	"math"
)

// EncodeWAV renders mono float samples as a 16-bit PCM WAV file.
func EncodeWAV(samples []float32, sampleRate int) []byte {
	const (
		bitsPerSample  = 16
		audioFormatPCM = 1
		headerSize     = 44
	)
	dataSize := len(samples) * 2
	out := make([]byte, headerSize+dataSize)

	copy(out[0:4], "RIFF")
	binary.LittleEndian.PutUint32(out[4:8], uint32(36+dataSize))
	copy(out[8:12], "WAVE")
	copy(out[12:16], "fmt ")
	binary.LittleEndian.PutUint32(out[16:20], 16)
	binary.LittleEndian.PutUint16(out[20:22], audioFormatPCM)
	binary.LittleEndian.PutUint16(out[22:24], 1)
	binary.LittleEndian.PutUint32(out[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(out[28:32], uint32(sampleRate*bitsPerSample/8))
	binary.LittleEndian.PutUint16(out[32:34], bitsPerSample/8)
	binary.LittleEndian.PutUint16(out[34:36], bitsPerSample)
	copy(out[36:40], "data")
	binary.LittleEndian.PutUint32(out[40:44], uint32(dataSize))

	for i, s := range samples {
		v := math.Max(-1, math.Min(1, float64(s)))
		binary.LittleEndian.PutUint16(out[headerSize+i*2:], uint16(int16(math.Round(v*32767))))
	}
	return out
}
