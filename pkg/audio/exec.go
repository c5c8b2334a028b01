package audio

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/mattn/go-shellwords"
)

// Built-in command templates for [ExecPlayer]. The placeholders {rate} and
// {channels} are substituted before the command line is parsed. Each command
// reads signed 16-bit little-endian PCM from stdin.
var (
	CommandFFPlay  = "ffplay -f s16le -ar {rate} -ac {channels} -nodisp -autoexit -loglevel quiet -"
	CommandSoxPlay = "play -q -t raw -r {rate} -e signed -b 16 -c {channels} -"
	CommandAPlay   = "aplay -q -f S16_LE -r {rate} -c {channels} -"
)

// ErrNoPlayer is returned by [DetectCommand] when no known audio player is
// installed.
var ErrNoPlayer = errors.New("audio: no supported player found (install ffplay, sox, or aplay)")

// DetectCommand returns the first built-in command template whose binary is
// on PATH, preferring ffplay, then sox, then aplay.
func DetectCommand() (string, error) {
	for _, tmpl := range []string{CommandFFPlay, CommandSoxPlay, CommandAPlay} {
		bin, _, _ := strings.Cut(tmpl, " ")
		if _, err := exec.LookPath(bin); err == nil {
			return tmpl, nil
		}
	}
	return "", ErrNoPlayer
}

// ExecPlayer plays audio by piping raw PCM into an external command such as
// ffplay or aplay.
type ExecPlayer struct {
	// Command is the command template; see [CommandFFPlay].
	Command string
}

// Start implements [Player]. It returns once the process has started; the
// PCM is written in the background.
func (p ExecPlayer) Start(ctx context.Context, buf Buffer) (Playback, error) {
	if len(buf.Samples) == 0 {
		return nil, ErrEmptyBuffer
	}
	args, err := p.args(buf)
	if err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("audio: stdin pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("audio: start %s: %w", args[0], err)
	}

	pb := &execPlayback{cmd: cmd, done: make(chan struct{})}
	pcm := PCM16(buf.Samples)
	go func() {
		defer close(pb.done)
		_, werr := stdin.Write(pcm)
		cerr := stdin.Close()
		waitErr := cmd.Wait()
		switch {
		case pb.stopped():
			// Killed on request.
		case werr != nil:
			pb.err = fmt.Errorf("audio: write to %s: %w", args[0], werr)
		case cerr != nil:
			pb.err = fmt.Errorf("audio: close stdin: %w", cerr)
		case waitErr != nil:
			pb.err = fmt.Errorf("audio: %s: %w", args[0], waitErr)
		}
	}()
	return pb, nil
}

func (p ExecPlayer) args(buf Buffer) ([]string, error) {
	tmpl := p.Command
	if tmpl == "" {
		var err error
		if tmpl, err = DetectCommand(); err != nil {
			return nil, err
		}
	}
	channels := buf.Channels
	if channels <= 0 {
		channels = 1
	}
	line := strings.NewReplacer(
		"{rate}", strconv.Itoa(buf.SampleRate),
		"{channels}", strconv.Itoa(channels),
	).Replace(tmpl)

	args, err := shellwords.Parse(line)
	if err != nil {
		return nil, fmt.Errorf("audio: parse player command %q: %w", p.Command, err)
	}
	if len(args) == 0 {
		return nil, errors.New("audio: empty player command")
	}
	return args, nil
}

type execPlayback struct {
	cmd  *exec.Cmd
	done chan struct{}
	err  error

	mu     sync.Mutex
	killed bool
}

func (pb *execPlayback) Wait() error {
	<-pb.done
	return pb.err
}

func (pb *execPlayback) Stop() error {
	pb.mu.Lock()
	if pb.killed {
		pb.mu.Unlock()
		return nil
	}
	pb.killed = true
	pb.mu.Unlock()

	select {
	case <-pb.done:
		return nil
	default:
	}
	if err := pb.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("audio: stop player: %w", err)
	}
	return nil
}

func (pb *execPlayback) stopped() bool {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	return pb.killed
}
