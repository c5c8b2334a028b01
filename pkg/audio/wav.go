package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// WAVHeaderSize is the size of the canonical PCM WAV header written by
// [EncodeWAV].
const WAVHeaderSize = 44

// wavHeader is the canonical 44-byte RIFF/WAVE header with a single fmt
// chunk followed by the data chunk header.
type wavHeader struct {
	RIFF          [4]byte
	ChunkSize     uint32
	WAVE          [4]byte
	Fmt           [4]byte
	FmtSize       uint32
	AudioFormat   uint16
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	Data          [4]byte
	DataSize      uint32
}

// EncodeWAV wraps mono float32 samples in a 16-bit PCM WAV container.
// Samples are clamped to [-1, 1] before scaling. A non-positive sampleRate
// has no valid header and yields nil; use [WriteWAV] to get the error.
func EncodeWAV(samples []float32, sampleRate int) []byte {
	if sampleRate <= 0 {
		return nil
	}
	var buf bytes.Buffer
	buf.Grow(WAVHeaderSize + len(samples)*2)
	if err := WriteWAV(&buf, samples, sampleRate); err != nil {
		return nil
	}
	return buf.Bytes()
}

// WriteWAV writes mono float32 samples to w as a 16-bit PCM WAV stream.
func WriteWAV(w io.Writer, samples []float32, sampleRate int) error {
	const (
		numChannels   = 1
		bitsPerSample = 16
		audioFormat   = 1 // PCM
	)
	if sampleRate <= 0 {
		return fmt.Errorf("audio: invalid sample rate %d", sampleRate)
	}

	dataSize := uint32(len(samples) * bitsPerSample / 8)
	h := wavHeader{
		RIFF:          [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + dataSize,
		WAVE:          [4]byte{'W', 'A', 'V', 'E'},
		Fmt:           [4]byte{'f', 'm', 't', ' '},
		FmtSize:       16,
		AudioFormat:   audioFormat,
		NumChannels:   numChannels,
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate * numChannels * bitsPerSample / 8),
		BlockAlign:    numChannels * bitsPerSample / 8,
		BitsPerSample: bitsPerSample,
		Data:          [4]byte{'d', 'a', 't', 'a'},
		DataSize:      dataSize,
	}
	if err := binary.Write(w, binary.LittleEndian, h); err != nil {
		return fmt.Errorf("audio: write wav header: %w", err)
	}
	if _, err := w.Write(PCM16(samples)); err != nil {
		return fmt.Errorf("audio: write wav data: %w", err)
	}
	return nil
}

// WAVInfo is the format portion of a parsed canonical WAV header.
type WAVInfo struct {
	AudioFormat   int
	Channels      int
	SampleRate    int
	BitsPerSample int
	DataSize      int
}

// ParseWAVHeader parses a canonical 44-byte header as written by [WriteWAV].
func ParseWAVHeader(b []byte) (WAVInfo, error) {
	if len(b) < WAVHeaderSize {
		return WAVInfo{}, fmt.Errorf("audio: wav header too short: %d bytes", len(b))
	}
	var h wavHeader
	if err := binary.Read(bytes.NewReader(b[:WAVHeaderSize]), binary.LittleEndian, &h); err != nil {
		return WAVInfo{}, fmt.Errorf("audio: read wav header: %w", err)
	}
	if string(h.RIFF[:]) != "RIFF" || string(h.WAVE[:]) != "WAVE" || string(h.Data[:]) != "data" {
		return WAVInfo{}, errors.New("audio: not a canonical wav header")
	}
	return WAVInfo{
		AudioFormat:   int(h.AudioFormat),
		Channels:      int(h.NumChannels),
		SampleRate:    int(h.SampleRate),
		BitsPerSample: int(h.BitsPerSample),
		DataSize:      int(h.DataSize),
	}, nil
}

// ErrInvalidWAV is returned by [DecodeWAV] for input that is not a PCM WAV
// file.
var ErrInvalidWAV = errors.New("audio: invalid wav file")

// DecodeWAV reads a PCM WAV file of any channel count and 8, 16, 24, or
// 32-bit depth and returns its samples normalised to [-1, 1].
func DecodeWAV(r io.ReadSeeker) (Buffer, error) {
	d := wav.NewDecoder(r)
	if !d.IsValidFile() {
		return Buffer{}, ErrInvalidWAV
	}
	pcm, err := d.FullPCMBuffer()
	if err != nil {
		return Buffer{}, fmt.Errorf("audio: decode wav: %w", err)
	}

	depth := int(d.BitDepth)
	samples := make([]float32, len(pcm.Data))
	switch depth {
	case 8:
		for i, v := range pcm.Data {
			samples[i] = float32(v-128) / 128
		}
	case 16, 24, 32:
		scale := float32(int64(1) << (depth - 1))
		for i, v := range pcm.Data {
			samples[i] = float32(v) / scale
		}
	default:
		return Buffer{}, fmt.Errorf("%w: unsupported bit depth %d", ErrInvalidWAV, depth)
	}

	return Buffer{
		Samples:    samples,
		SampleRate: pcm.Format.SampleRate,
		Channels:   pcm.Format.NumChannels,
	}, nil
}

// WriteWAVFile encodes buf as a 16-bit PCM WAV stream on w using the go-audio
// encoder. Unlike [WriteWAV] it supports multi-channel buffers.
func WriteWAVFile(w io.WriteSeeker, buf Buffer) error {
	if buf.SampleRate <= 0 || buf.Channels <= 0 {
		return fmt.Errorf("audio: invalid format %s", formatString(buf.SampleRate, buf.Channels))
	}
	ints := make([]int, len(buf.Samples))
	for i, s := range buf.Samples {
		ints[i] = int(floatToInt16(s))
	}
	enc := wav.NewEncoder(w, buf.SampleRate, 16, buf.Channels, 1)
	if err := enc.Write(&goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: buf.Channels, SampleRate: buf.SampleRate},
		Data:           ints,
		SourceBitDepth: 16,
	}); err != nil {
		return fmt.Errorf("audio: encode wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("audio: finalise wav: %w", err)
	}
	return nil
}
