package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// DecodePCM16LE converts a little-endian Int16Array payload to samples.
func DecodePCM16LE(data []byte) ([]int16, error) {
	if len(data)%2 != 0 {
		return nil, fmt.Errorf("pcm16 payload has odd length %d", len(data))
	}
	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(data[2*i:]))
	}
	return samples, nil
}

// EncodePCM16LE is the inverse of DecodePCM16LE.
func EncodePCM16LE(pcm []int16) []byte {
	out := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		binary.LittleEndian.PutUint16(out[2*i:], uint16(s))
	}
	return out
}

// EncodeWAV wraps PCM16 mono samples in a minimal RIFF/WAVE container.
func EncodeWAV(pcm []int16, sampleRate int) []byte {
	dataBytes := len(pcm) * 2
	var b bytes.Buffer
	b.Grow(44 + dataBytes)

	// RIFF header
	b.WriteString("RIFF")
	_ = binary.Write(&b, binary.LittleEndian, uint32(36+dataBytes))
	b.WriteString("WAVE")

	// fmt chunk
	b.WriteString("fmt ")
	_ = binary.Write(&b, binary.LittleEndian, uint32(16))           // chunk size
	_ = binary.Write(&b, binary.LittleEndian, uint16(1))            // PCM
	_ = binary.Write(&b, binary.LittleEndian, uint16(1))            // channels
	_ = binary.Write(&b, binary.LittleEndian, uint32(sampleRate))   // sample rate
	_ = binary.Write(&b, binary.LittleEndian, uint32(sampleRate*2)) // byte rate
	_ = binary.Write(&b, binary.LittleEndian, uint16(2))            // block align
	_ = binary.Write(&b, binary.LittleEndian, uint16(16))           // bits per sample

	// data chunk
	b.WriteString("data")
	_ = binary.Write(&b, binary.LittleEndian, uint32(dataBytes))
	b.Write(EncodePCM16LE(pcm))

	return b.Bytes()
}
