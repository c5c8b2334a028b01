// Package audio holds the PCM plumbing around the speech client: sample
// buffers, format conversion, the WAV container, and audio output.
//
// Samples are float32 in [-1, 1] while in memory and 16-bit little-endian PCM
// on the wire and on disk.
package audio

import (
	"encoding/binary"
	"time"
)

// Buffer is a block of interleaved float32 samples.
type Buffer struct {
	Samples    []float32
	SampleRate int
	Channels   int
}

// Frames returns the number of sample frames (samples per channel).
func (b Buffer) Frames() int {
	if b.Channels <= 0 {
		return 0
	}
	return len(b.Samples) / b.Channels
}

// Duration returns the playback length of the buffer.
func (b Buffer) Duration() time.Duration {
	if b.SampleRate <= 0 {
		return 0
	}
	return time.Duration(b.Frames()) * time.Second / time.Duration(b.SampleRate)
}

// Int16ToFloat32 normalises 16-bit samples into [-1, 1) by dividing by 32768.
func Int16ToFloat32(samples []int16) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(s) / 32768.0
	}
	return out
}

// Float32ToInt16 clamps samples to [-1, 1] and scales them asymmetrically:
// negatives by 32768 and positives by 32767, so both extremes are reachable.
func Float32ToInt16(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		out[i] = floatToInt16(s)
	}
	return out
}

func floatToInt16(s float32) int16 {
	s = max(-1, min(1, s))
	if s < 0 {
		return int16(s * 0x8000)
	}
	return int16(s * 0x7FFF)
}

// PCM16 encodes samples as 16-bit little-endian PCM bytes.
func PCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(floatToInt16(s)))
	}
	return out
}
