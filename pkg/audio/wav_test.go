package audio_test

import (
	"bytes"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/MrWong99/xfspeech/pkg/audio"
)

func TestEncodeWAV_Header(t *testing.T) {
	t.Parallel()

	samples := make([]float32, 32000) // 2 s of silence at 16 kHz
	wav := audio.EncodeWAV(samples, 16000)

	if len(wav) != audio.WAVHeaderSize+len(samples)*2 {
		t.Fatalf("len = %d, want %d", len(wav), audio.WAVHeaderSize+len(samples)*2)
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" || string(wav[36:40]) != "data" {
		t.Fatalf("bad chunk ids: %q %q %q", wav[0:4], wav[8:12], wav[36:40])
	}
	if got := binary.LittleEndian.Uint32(wav[4:8]); got != uint32(36+len(samples)*2) {
		t.Errorf("riff size = %d", got)
	}
	if got := binary.LittleEndian.Uint32(wav[28:32]); got != 32000 {
		t.Errorf("byte rate = %d, want 32000", got)
	}
	if got := binary.LittleEndian.Uint16(wav[32:34]); got != 2 {
		t.Errorf("block align = %d, want 2", got)
	}

	info, err := audio.ParseWAVHeader(wav)
	if err != nil {
		t.Fatalf("ParseWAVHeader: %v", err)
	}
	want := audio.WAVInfo{AudioFormat: 1, Channels: 1, SampleRate: 16000, BitsPerSample: 16, DataSize: 64000}
	if info != want {
		t.Errorf("info = %+v, want %+v", info, want)
	}
}

func TestEncodeWAV_SampleScaling(t *testing.T) {
	t.Parallel()

	wav := audio.EncodeWAV([]float32{-1, 1, 0, 1.5}, 16000)
	data := wav[audio.WAVHeaderSize:]
	want := []int16{-32768, 32767, 0, 32767}
	for i, w := range want {
		got := int16(binary.LittleEndian.Uint16(data[i*2:]))
		if got != w {
			t.Errorf("sample %d: got %d, want %d", i, got, w)
		}
	}
}

func TestEncodeWAV_InvalidSampleRate(t *testing.T) {
	t.Parallel()

	for _, rate := range []int{0, -16000} {
		if got := audio.EncodeWAV([]float32{0.5}, rate); got != nil {
			t.Errorf("EncodeWAV(rate %d) = %d bytes, want nil", rate, len(got))
		}
		if err := audio.WriteWAV(new(bytes.Buffer), []float32{0.5}, rate); err == nil {
			t.Errorf("WriteWAV(rate %d) succeeded, want error", rate)
		}
	}
}

func TestEncodeDecodeWAV_RoundTrip(t *testing.T) {
	t.Parallel()

	for _, rate := range []int{8000, 16000, 44100} {
		in := make([]float32, rate/10)
		for i := range in {
			in[i] = float32(i%200)/200 - 0.5
		}
		buf, err := audio.DecodeWAV(bytes.NewReader(audio.EncodeWAV(in, rate)))
		if err != nil {
			t.Fatalf("rate %d: DecodeWAV: %v", rate, err)
		}
		if buf.SampleRate != rate || buf.Channels != 1 {
			t.Errorf("rate %d: format = %dHz/%dch", rate, buf.SampleRate, buf.Channels)
		}
		if len(buf.Samples) != len(in) {
			t.Fatalf("rate %d: samples = %d, want %d", rate, len(buf.Samples), len(in))
		}
		for i := range in {
			if !approxEqual2(buf.Samples[i], in[i]) {
				t.Fatalf("rate %d sample %d: got %v, want %v", rate, i, buf.Samples[i], in[i])
			}
		}
	}
}

// approxEqual2 tolerates 16-bit quantisation error.
func approxEqual2(a, b float32) bool {
	d := a - b
	return d < 1.0/16384 && d > -1.0/16384
}

func TestDecodeWAV_Invalid(t *testing.T) {
	t.Parallel()

	_, err := audio.DecodeWAV(bytes.NewReader([]byte("definitely not a wav file, just text")))
	if !errors.Is(err, audio.ErrInvalidWAV) {
		t.Fatalf("err = %v, want ErrInvalidWAV", err)
	}
}

func TestParseWAVHeader_TooShort(t *testing.T) {
	t.Parallel()

	if _, err := audio.ParseWAVHeader([]byte("RIFF")); err == nil {
		t.Fatal("expected error")
	}
}

func TestWriteWAVFile_Stereo(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "stereo.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	in := audio.Buffer{Samples: []float32{0.5, -0.5, 0.25, -0.25}, SampleRate: 22050, Channels: 2}
	if err := audio.WriteWAVFile(f, in); err != nil {
		t.Fatalf("WriteWAVFile: %v", err)
	}
	f.Close()

	r, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	got, err := audio.DecodeWAV(r)
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if got.Channels != 2 || got.SampleRate != 22050 || len(got.Samples) != 4 {
		t.Fatalf("got %dch %dHz %d samples", got.Channels, got.SampleRate, len(got.Samples))
	}
	if !approxEqual2(got.Samples[1], -0.5) {
		t.Errorf("sample 1 = %v, want -0.5", got.Samples[1])
	}
}
