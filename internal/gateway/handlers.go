package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/MrWong99/xfspeech/internal/events"
	"github.com/MrWong99/xfspeech/internal/observe"
	"github.com/MrWong99/xfspeech/internal/resilience"
	"github.com/MrWong99/xfspeech/pkg/audio"
	"github.com/MrWong99/xfspeech/pkg/speech"
	"github.com/MrWong99/xfspeech/pkg/speech/asr"
	"github.com/MrWong99/xfspeech/pkg/speech/frame"
	"github.com/MrWong99/xfspeech/pkg/speech/tts"
)

// synthesizeRequest is the body of POST /v1/synthesize. Zero voice fields
// take the server's default voice.
type synthesizeRequest struct {
	Text   string         `json:"text"`
	Voice  string         `json:"voice,omitempty"`
	Speed  int            `json:"speed,omitempty"`
	Volume int            `json:"volume,omitempty"`
	Pitch  int            `json:"pitch,omitempty"`
	Extra  map[string]any `json:"extra,omitempty"`
}

type recognizeResponse struct {
	Text string `json:"text"`
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
	// ServiceCode and SID are set for errors reported by the speech service.
	ServiceCode int    `json:"service_code,omitempty"`
	SID         string `json:"sid,omitempty"`
}

var errEmptyBody = errors.New("empty body")

func (s *Server) handleSynthesize(w http.ResponseWriter, r *http.Request) {
	var req synthesizeRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.respondError(w, r, &inputError{err})
		return
	}

	opts := tts.Options{
		Voice:  req.Voice,
		Speed:  req.Speed,
		Volume: req.Volume,
		Pitch:  req.Pitch,
		Extra:  req.Extra,
	}.Merge(s.Voice())

	ctx := r.Context()
	buf, err := resilience.ExecuteWithResult(s.synths, func(syn *tts.Synthesizer) (audio.Buffer, error) {
		host, _ := syn.Endpoint()
		ctx, span := observe.StartUpstreamSpan(ctx, speech.KindSynthesis, host)
		buf, err := syn.Synthesize(ctx, req.Text, opts)
		observe.EndSpan(span, err)
		return buf, err
	})
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	s.publish(ctx, func(p events.Publisher) error {
		return p.PublishSynthesis(ctx, events.Synthesis{
			Voice:      opts.Voice,
			TextBytes:  len(req.Text),
			Samples:    len(buf.Samples),
			DurationMS: buf.Duration().Milliseconds(),
		})
	})

	w.Header().Set("X-Audio-Duration-Ms", strconv.FormatInt(buf.Duration().Milliseconds(), 10))
	if r.URL.Query().Get("format") == "pcm" {
		w.Header().Set("Content-Type", "audio/L16; rate="+strconv.Itoa(buf.SampleRate)+"; channels=1")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(audio.PCM16(buf.Samples))
		return
	}
	w.Header().Set("Content-Type", "audio/wav")
	w.WriteHeader(http.StatusOK)
	if err := audio.WriteWAV(w, buf.Samples, buf.SampleRate); err != nil {
		observe.Logger(ctx, s.log).Warn("failed to write wav response", "err", err)
	}
}

func (s *Server) handleRecognize(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBody))
	if err != nil {
		s.respondError(w, r, &inputError{fmt.Errorf("read body: %w", err)})
		return
	}
	if len(body) == 0 {
		s.respondError(w, r, &inputError{errEmptyBody})
		return
	}
	buf, err := audio.DecodeWAV(bytes.NewReader(body))
	if err != nil {
		s.respondError(w, r, &inputError{err})
		return
	}
	clip := audio.ToSpeechFormat(buf)
	if len(clip.Samples) == 0 {
		s.respondError(w, r, &inputError{asr.ErrEmptyPayload})
		return
	}
	payload := frame.BuildWAVContainer(clip.Samples, clip.SampleRate)

	ctx := r.Context()
	var observer asr.Observer
	if s.publishPartials {
		observer = func(partial string) {
			s.publish(ctx, func(p events.Publisher) error {
				return p.PublishTranscript(ctx, events.Transcript{Text: partial})
			})
		}
	}

	text, err := resilience.ExecuteWithResult(s.recs, func(rec *asr.Recognizer) (string, error) {
		host, _ := rec.Endpoint()
		ctx, span := observe.StartUpstreamSpan(ctx, speech.KindRecognition, host)
		text, err := rec.RecognizePayloadWithObserver(ctx, payload, observer)
		observe.EndSpan(span, err)
		return text, err
	})
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	s.publish(ctx, func(p events.Publisher) error {
		return p.PublishTranscript(ctx, events.Transcript{Text: text, Final: true})
	})
	respondJSON(w, http.StatusOK, recognizeResponse{Text: text})
}

// publish emits an event. Failures are logged and never fail the request.
func (s *Server) publish(ctx context.Context, fn func(events.Publisher) error) {
	if err := fn(s.events); err != nil {
		observe.Logger(ctx, s.log).Warn("failed to publish event", "err", err)
	}
}

func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return err
	}
	return nil
}

// ── errors ───────────────────────────────────────────────────────────────────

// inputError marks a request the caller must fix.
type inputError struct{ err error }

func (e *inputError) Error() string { return e.err.Error() }
func (e *inputError) Unwrap() error { return e.err }

// statusFor maps an error to an HTTP status and a short code.
//
// Errors the speech packages return without a failure class are argument
// checks made before dialing and count as bad input.
func statusFor(err error) (int, string) {
	var (
		ie       *inputError
		tooLarge *http.MaxBytesError
	)
	switch {
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge, "body_too_large"
	case errors.As(err, &ie):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, resilience.ErrCircuitOpen):
		return http.StatusServiceUnavailable, "upstream_unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	case errors.Is(err, speech.ErrProtocol):
		return http.StatusBadGateway, "upstream_rejected"
	case errors.Is(err, speech.ErrIncomplete):
		return http.StatusGatewayTimeout, "upstream_incomplete"
	case errors.Is(err, speech.ErrTransport):
		return http.StatusBadGateway, "upstream_unreachable"
	case errors.Is(err, speech.ErrSigning):
		return http.StatusInternalServerError, "signing_failed"
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, "cancelled"
	default:
		return http.StatusBadRequest, "invalid_request"
	}
}

func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	body := errorResponse{Error: err.Error(), Code: code}
	var pe *speech.ProtocolError
	if errors.As(err, &pe) {
		body.ServiceCode = pe.Code
		body.SID = pe.SID
	}
	level := s.log.Warn
	if status < http.StatusInternalServerError {
		level = s.log.Debug
	}
	level("request failed",
		"path", r.URL.Path,
		"status", status,
		"code", code,
		"trace_id", observe.CorrelationID(r.Context()),
		"err", err,
	)
	respondJSON(w, status, body)
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
