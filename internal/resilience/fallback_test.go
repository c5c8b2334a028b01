package resilience

import (
	"errors"
	"log/slog"
	"slices"
	"testing"
	"time"

	"github.com/MrWong99/xfspeech/pkg/speech"
)

// host stands in for a per-host speech client.
type host string

const (
	primary = host("tts-api.xfyun.cn")
	backup  = host("tts-backup.example.test")
)

// hostGroup builds a two-host group whose breakers open after maxFailures.
func hostGroup(maxFailures int, shouldFailover func(error) bool) *FallbackGroup[host] {
	fg := NewFallbackGroup(primary, string(primary), FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{
			MaxFailures:  maxFailures,
			ResetTimeout: time.Hour,
			IsFailure:    UpstreamFailure,
			Logger:       slog.New(slog.DiscardHandler),
		},
		ShouldFailover: shouldFailover,
	})
	fg.AddFallback(string(backup), backup)
	return fg
}

// failing returns a session func that fails with err on the given hosts and
// records every host it ran against.
func failing(err error, calls *[]host, down ...host) func(host) (string, error) {
	return func(h host) (string, error) {
		*calls = append(*calls, h)
		if slices.Contains(down, h) {
			return "", err
		}
		return "sid@" + string(h), nil
	}
}

func TestExecuteWithResult_PrimaryServes(t *testing.T) {
	t.Parallel()
	fg := hostGroup(3, nil)

	var calls []host
	sid, err := ExecuteWithResult(fg, failing(errDial, &calls))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sid != "sid@tts-api.xfyun.cn" || len(calls) != 1 {
		t.Errorf("sid = %q, calls = %v; want primary only", sid, calls)
	}
}

func TestExecuteWithResult_FailsOverOnTransportError(t *testing.T) {
	t.Parallel()
	fg := hostGroup(3, nil)

	var calls []host
	sid, err := ExecuteWithResult(fg, failing(errDial, &calls, primary))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sid != "sid@tts-backup.example.test" {
		t.Errorf("sid = %q, want the backup's", sid)
	}
	if !slices.Equal(calls, []host{primary, backup}) {
		t.Errorf("calls = %v", calls)
	}
}

func TestExecuteWithResult_AllHostsDown(t *testing.T) {
	t.Parallel()
	fg := hostGroup(3, nil)

	var calls []host
	_, err := ExecuteWithResult(fg, failing(errDial, &calls, primary, backup))
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
	if !errors.Is(err, speech.ErrTransport) {
		t.Errorf("err = %v, want the last transport failure wrapped", err)
	}
}

func TestExecuteWithResult_SkipsOpenHost(t *testing.T) {
	t.Parallel()
	fg := hostGroup(2, nil)

	var calls []host
	for range 2 {
		_, _ = ExecuteWithResult(fg, failing(errDial, &calls, primary))
	}

	calls = nil
	if _, err := ExecuteWithResult(fg, failing(errDial, &calls, primary)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !slices.Equal(calls, []host{backup}) {
		t.Errorf("calls = %v, want the open primary skipped", calls)
	}
}

func TestExecuteWithResult_RejectionIsNotRetried(t *testing.T) {
	t.Parallel()
	transportOnly := func(err error) bool { return errors.Is(err, speech.ErrTransport) }
	fg := hostGroup(1, transportOnly)

	rejected := &speech.ProtocolError{Code: 10163, Message: "invalid text length"}
	var calls []host
	_, err := ExecuteWithResult(fg, failing(rejected, &calls, primary, backup))
	if !errors.Is(err, speech.ErrProtocol) || errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want the rejection unwrapped", err)
	}
	if len(calls) != 1 {
		t.Errorf("calls = %v, want primary only", calls)
	}
}

func TestFallbackGroup_InputErrorsLeaveBreakersClosed(t *testing.T) {
	t.Parallel()
	fg := hostGroup(1, UpstreamFailure)

	errInput := errors.New("text is empty")
	var calls int
	err := fg.Execute(func(host) error {
		calls++
		return errInput
	})
	if !errors.Is(err, errInput) || calls != 1 {
		t.Fatalf("err = %v after %d calls, want the input error from the primary", err, calls)
	}
	for _, st := range fg.Status() {
		if st.State != StateClosed || st.ConsecutiveFailures != 0 {
			t.Errorf("%s: %+v, input errors must not count", st.Name, st)
		}
	}
}

func TestFallbackGroup_StatusAndAvailable(t *testing.T) {
	t.Parallel()
	fg := hostGroup(1, nil)

	if !fg.Available() {
		t.Fatal("fresh group should be available")
	}
	_ = fg.Execute(func(host) error { return errDial })
	_ = fg.Execute(func(host) error { return errDial })

	st := fg.Status()
	if len(st) != 2 || st[0].Name != string(primary) || st[1].Name != string(backup) {
		t.Fatalf("Status() = %+v", st)
	}
	for _, s := range st {
		if s.State != StateOpen || s.Trips != 1 || s.Rejected != 1 {
			t.Errorf("%s: %+v, want open with one trip and one rejection", s.Name, s)
		}
	}
	if fg.Available() {
		t.Error("group with every breaker open should be unavailable")
	}
}
