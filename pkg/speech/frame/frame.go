// Package frame encodes outbound control frames and decodes inbound result
// frames of the speech WebSocket protocol.
//
// Outbound control frames are JSON objects of the form
//
//	{"common":{"app_id":"…"},"business":{…},"data":{"status":0,…}}
//
// where common and business are only present on the first frame of a
// session. Inbound frames carry a status code, an optional base64 PCM audio
// chunk (synthesis), and an optional word-segmented result (recognition).
//
// Everything in this package is pure: no I/O and no shared state.
package frame

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"iter"

	"github.com/MrWong99/xfspeech/pkg/audio"
)

// Phase is the data.status value of a frame.
type Phase int

const (
	// PhaseFirst opens a session.
	PhaseFirst Phase = 0

	// PhaseContinue carries intermediate payload.
	PhaseContinue Phase = 1

	// PhaseLast is the final frame in either direction.
	PhaseLast Phase = 2
)

// Valid reports whether p is one of the three wire phases.
func (p Phase) Valid() bool {
	return p >= PhaseFirst && p <= PhaseLast
}

// Audio descriptors used on the wire.
const (
	// FormatL16 is 16 kHz, 16-bit little-endian mono PCM.
	FormatL16 = "audio/L16;rate=16000"

	// EncodingRaw marks uncompressed PCM payloads.
	EncodingRaw = "raw"
)

// Common identifies the application. Only sent on the first frame.
type Common struct {
	AppID string `json:"app_id"`
}

// Data is the data object of an outbound frame.
type Data struct {
	Status   Phase  `json:"status"`
	Text     string `json:"text,omitempty"`
	Format   string `json:"format,omitempty"`
	Encoding string `json:"encoding,omitempty"`
	Audio    string `json:"audio,omitempty"`
}

type controlFrame struct {
	Common   *Common `json:"common,omitempty"`
	Business any     `json:"business,omitempty"`
	Data     Data    `json:"data"`
}

// EncodeControlFrame serialises one outbound control frame. common and
// business may be nil, in which case the keys are omitted.
func EncodeControlFrame(common *Common, business any, data Data) ([]byte, error) {
	if !data.Status.Valid() {
		return nil, fmt.Errorf("frame: invalid status %d", data.Status)
	}
	b, err := json.Marshal(controlFrame{Common: common, Business: business, Data: data})
	if err != nil {
		return nil, fmt.Errorf("frame: encode control frame: %w", err)
	}
	return b, nil
}

// EncodeText base64-encodes UTF-8 text for a synthesis payload.
func EncodeText(text string) string {
	return base64.StdEncoding.EncodeToString([]byte(text))
}

// EncodeAudio base64-encodes an audio slice for JSON-framed uploads.
func EncodeAudio(chunk []byte) string {
	return base64.StdEncoding.EncodeToString(chunk)
}

// BuildWAVContainer wraps mono samples in the 16-bit PCM WAV container the
// recognition service accepts as upload payload. A non-positive sampleRate
// yields nil.
func BuildWAVContainer(samples []float32, sampleRate int) []byte {
	return audio.EncodeWAV(samples, sampleRate)
}

// SliceAudio yields consecutive slices of at most frameSize bytes from buf.
// The final slice may be shorter. The yielded slices alias buf. A
// non-positive frameSize or empty buf yields nothing.
func SliceAudio(buf []byte, frameSize int) iter.Seq[[]byte] {
	return func(yield func([]byte) bool) {
		if frameSize <= 0 {
			return
		}
		for start := 0; start < len(buf); start += frameSize {
			end := min(start+frameSize, len(buf))
			if !yield(buf[start:end:end]) {
				return
			}
		}
	}
}

// CountSlices returns how many slices [SliceAudio] yields for n bytes.
func CountSlices(n, frameSize int) int {
	if frameSize <= 0 || n <= 0 {
		return 0
	}
	return (n + frameSize - 1) / frameSize
}

// ── Inbound ──────────────────────────────────────────────────────────────────

// Inbound is a decoded result frame.
type Inbound struct {
	Code    int
	Message string
	SID     string

	// HasData is false for frames without a data object, typically error
	// frames.
	HasData bool
	Status  Phase

	// Audio holds the decoded PCM samples of a synthesis frame.
	Audio []int16

	// Tokens holds the recognised words of this frame in order.
	Tokens []string

	// Seq and Last mirror result.sn and result.ls.
	Seq  int
	Last bool
}

// Final reports whether this frame terminates the session.
func (in Inbound) Final() bool {
	return in.HasData && in.Status == PhaseLast
}

type wireWord struct {
	W string `json:"w"`
}

type wireWordGroup struct {
	CW []wireWord `json:"cw"`
}

type wireResult struct {
	SN int             `json:"sn"`
	LS bool            `json:"ls"`
	WS []wireWordGroup `json:"ws"`
}

type wireData struct {
	Status Phase       `json:"status"`
	Audio  string      `json:"audio"`
	Ced    string      `json:"ced"`
	Result *wireResult `json:"result"`
}

type wireInbound struct {
	Code    int       `json:"code"`
	Message string    `json:"message"`
	SID     string    `json:"sid"`
	Data    *wireData `json:"data"`
}

// ErrOddAudio is returned when an audio payload is not a whole number of
// 16-bit samples.
var ErrOddAudio = errors.New("frame: audio payload has odd length")

// DecodeInbound parses one inbound frame.
func DecodeInbound(raw []byte) (Inbound, error) {
	var w wireInbound
	if err := json.Unmarshal(raw, &w); err != nil {
		return Inbound{}, fmt.Errorf("frame: decode inbound: %w", err)
	}

	in := Inbound{Code: w.Code, Message: w.Message, SID: w.SID}
	if w.Data == nil {
		return in, nil
	}
	in.HasData = true
	in.Status = w.Data.Status

	if w.Data.Audio != "" {
		pcm, err := base64.StdEncoding.DecodeString(w.Data.Audio)
		if err != nil {
			return Inbound{}, fmt.Errorf("frame: decode audio: %w", err)
		}
		samples, err := PCM16LE(pcm)
		if err != nil {
			return Inbound{}, err
		}
		in.Audio = samples
	}

	if r := w.Data.Result; r != nil {
		in.Seq = r.SN
		in.Last = r.LS
		for _, group := range r.WS {
			for _, cw := range group.CW {
				if cw.W != "" {
					in.Tokens = append(in.Tokens, cw.W)
				}
			}
		}
	}
	return in, nil
}

// PCM16LE reinterprets little-endian bytes as signed 16-bit samples.
func PCM16LE(b []byte) ([]int16, error) {
	if len(b)%2 != 0 {
		return nil, ErrOddAudio
	}
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(b[2*i:]))
	}
	return out, nil
}
