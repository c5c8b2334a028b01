package tts

import "github.com/MrWong99/xfspeech/pkg/audio"

// SampleRate is the fixed rate of synthesized audio.
const SampleRate = 16000

// Assembler accumulates PCM chunks in arrival order. It is not safe for
// concurrent use; a session feeds it from a single goroutine.
type Assembler struct {
	chunks [][]int16
	total  int
}

// Append adds one chunk. Empty chunks are ignored.
func (a *Assembler) Append(chunk []int16) {
	if len(chunk) == 0 {
		return
	}
	a.chunks = append(a.chunks, chunk)
	a.total += len(chunk)
}

// Len returns the number of samples accumulated so far.
func (a *Assembler) Len() int { return a.total }

// Reset drops all chunks.
func (a *Assembler) Reset() {
	a.chunks = nil
	a.total = 0
}

// Buffer concatenates all chunks and normalises them to float32 mono audio
// at [SampleRate].
func (a *Assembler) Buffer() audio.Buffer {
	samples := make([]float32, 0, a.total)
	for _, c := range a.chunks {
		samples = append(samples, audio.Int16ToFloat32(c)...)
	}
	return audio.Buffer{Samples: samples, SampleRate: SampleRate, Channels: 1}
}
