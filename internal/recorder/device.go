package recorder

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/gennadis/voicechat/internal/chat"
)

const (
	defaultFrameSamples = 1600
	defaultFrameBuffer  = 64
)

// Frame is a chunk of mono float samples in [-1, 1].
type Frame []float32

// Stream delivers frames from an open device. Frames is closed once the
// stream ends, either because Close was called or the source ran dry.
type Stream interface {
	Frames() <-chan Frame
	Err() error
	Close() error
}

// Device opens audio input streams.
type Device interface {
	Open(ctx context.Context) (Stream, error)
}

// Exclusive lets at most one stream of the wrapped device be open at a time.
type Exclusive struct {
	dev Device

	mu   sync.Mutex
	held bool
}

func NewExclusive(dev Device) *Exclusive {
	return &Exclusive{dev: dev}
}

func (e *Exclusive) Open(ctx context.Context) (Stream, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.held {
		return nil, chat.ErrDeviceBusy
	}
	s, err := e.dev.Open(ctx)
	if err != nil {
		return nil, err
	}
	e.held = true
	return &heldStream{Stream: s, release: e.release}, nil
}

func (e *Exclusive) release() {
	e.mu.Lock()
	e.held = false
	e.mu.Unlock()
}

type heldStream struct {
	Stream
	once    sync.Once
	release func()
}

func (h *heldStream) Close() error {
	err := h.Stream.Close()
	h.once.Do(h.release)
	return err
}

// CommandDevice captures audio by running an external command that writes
// little-endian float32 mono samples to stdout, e.g.
// "arecord -q -t raw -f FLOAT_LE -c 1 -r 16000".
type CommandDevice struct {
	Command      string
	FrameSamples int
	FrameBuffer  int
}

func NewCommandDevice(command string) *CommandDevice {
	return &CommandDevice{
		Command:      command,
		FrameSamples: defaultFrameSamples,
		FrameBuffer:  defaultFrameBuffer,
	}
}

func (d *CommandDevice) Open(ctx context.Context) (Stream, error) {
	args := strings.Fields(d.Command)
	if len(args) == 0 {
		return nil, fmt.Errorf("%w: no capture command configured", chat.ErrDevice)
	}
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", chat.ErrDevice, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: start %s: %v", chat.ErrDevice, args[0], err)
	}

	frameSamples := d.FrameSamples
	if frameSamples <= 0 {
		frameSamples = defaultFrameSamples
	}
	buffer := d.FrameBuffer
	if buffer <= 0 {
		buffer = defaultFrameBuffer
	}
	s := &commandStream{
		cmd:    cmd,
		frames: make(chan Frame, buffer),
		done:   make(chan struct{}),
	}
	go s.read(bufio.NewReader(stdout), frameSamples)

	slog.Debug("capture command started", slog.String("command", args[0]), slog.Int("pid", cmd.Process.Pid))
	return s, nil
}

type commandStream struct {
	cmd    *exec.Cmd
	frames chan Frame
	done   chan struct{}

	mu      sync.Mutex
	err     error
	closing bool
}

func (s *commandStream) Frames() <-chan Frame { return s.frames }

func (s *commandStream) read(r io.Reader, frameSamples int) {
	defer close(s.done)
	defer close(s.frames)

	buf := make([]byte, frameSamples*4)
	for {
		n, err := io.ReadFull(r, buf)
		if n >= 4 {
			frame := make(Frame, n/4)
			for i := range frame {
				frame[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
			}
			s.frames <- frame
		}
		if err == nil {
			continue
		}
		if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
			s.setErr(err)
		}
		if err := s.cmd.Wait(); err != nil {
			s.setErr(fmt.Errorf("capture command exited: %w", err))
		}
		return
	}
}

// setErr records the first failure that Close did not cause.
func (s *commandStream) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closing && s.err == nil {
		s.err = fmt.Errorf("%w: %v", chat.ErrDevice, err)
	}
}

func (s *commandStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close stops the capture command and waits for the remaining frames to be
// delivered and the command to be reaped.
func (s *commandStream) Close() error {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return nil
	}
	s.closing = true
	s.mu.Unlock()

	if err := s.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		slog.Debug("capture command kill", "error", err)
	}
	<-s.done
	return nil
}
