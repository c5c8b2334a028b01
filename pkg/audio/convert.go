package audio

import (
	"fmt"
	"log/slog"
	"sync"
)

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// SpeechFormat is the format the speech service accepts and produces:
// 16 kHz mono.
var SpeechFormat = Format{SampleRate: 16000, Channels: 1}

func (f Format) String() string {
	return formatString(f.SampleRate, f.Channels)
}

// Converter converts buffers to a target format. It logs a warning on the
// first format mismatch. Create one per input source; not designed for shared
// use across goroutines.
type Converter struct {
	Target         Format
	warnedMismatch sync.Once
}

// Convert converts buf to the target format. If the source format already
// matches, buf is returned unchanged. Conversion order: downmix first, then
// resample, so multi-channel input is only resampled once.
func (c *Converter) Convert(buf Buffer) Buffer {
	if buf.SampleRate == c.Target.SampleRate && buf.Channels == c.Target.Channels {
		return buf
	}

	c.warnedMismatch.Do(func() {
		slog.Warn("audio format mismatch: converting",
			"from", formatString(buf.SampleRate, buf.Channels),
			"to", c.Target.String(),
		)
	})

	samples := buf.Samples
	channels := buf.Channels
	if channels > 1 && c.Target.Channels == 1 {
		samples = Downmix(samples, channels)
		channels = 1
	}
	rate := buf.SampleRate
	if channels == 1 && rate != c.Target.SampleRate {
		samples = Resample(samples, rate, c.Target.SampleRate)
		rate = c.Target.SampleRate
	}
	return Buffer{Samples: samples, SampleRate: rate, Channels: channels}
}

// ToSpeechFormat converts buf to [SpeechFormat].
func ToSpeechFormat(buf Buffer) Buffer {
	c := Converter{Target: SpeechFormat}
	return c.Convert(buf)
}

// Downmix averages interleaved frames of the given channel count into mono.
// A trailing partial frame is dropped.
func Downmix(samples []float32, channels int) []float32 {
	if channels <= 1 {
		return samples
	}
	frames := len(samples) / channels
	out := make([]float32, frames)
	for i := range frames {
		var sum float32
		for ch := range channels {
			sum += samples[i*channels+ch]
		}
		out[i] = sum / float32(channels)
	}
	return out
}

// Resample resamples mono samples from srcRate to dstRate using linear
// interpolation. If the rates match or either is non-positive, the input is
// returned unchanged.
func Resample(samples []float32, srcRate, dstRate int) []float32 {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(samples) == 0 {
		return samples
	}
	n := int(int64(len(samples)) * int64(dstRate) / int64(srcRate))
	if n == 0 {
		return nil
	}

	out := make([]float32, n)
	ratio := float64(srcRate) / float64(dstRate)
	for i := range n {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := float32(pos - float64(idx))

		s0 := samples[idx]
		s1 := s0
		if idx+1 < len(samples) {
			s1 = samples[idx+1]
		}
		out[i] = s0*(1-frac) + s1*frac
	}
	return out
}

// formatString returns a human-readable string for a sample rate and channel count,
// e.g. "16000Hz mono".
func formatString(rate, channels int) string {
	ch := "mono"
	if channels == 2 {
		ch = "stereo"
	} else if channels > 2 {
		ch = fmt.Sprintf("%dch", channels)
	}
	return fmt.Sprintf("%dHz %s", rate, ch)
}
