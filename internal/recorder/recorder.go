// Package recorder turns a microphone stream into a single WAV clip.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gennadis/voicechat/internal/chat"
	"github.com/gennadis/voicechat/internal/media"
)

type State int

const (
	Idle State = iota
	Recording
	Error
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Recording:
		return "recording"
	case Error:
		return "error"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Session records one clip at a time from a device.
type Session struct {
	dev        Device
	sampleRate int

	mu      sync.Mutex
	state   State
	stream  Stream
	frames  []Frame
	done    chan struct{}
	onState func(State)
}

func NewSession(dev Device, sampleRate int) *Session {
	return &Session{
		dev:        dev,
		sampleRate: sampleRate,
		onState:    func(State) {},
	}
}

// OnState registers a callback fired on every state transition.
func (s *Session) OnState(fn func(State)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if fn == nil {
		fn = func(State) {}
	}
	s.onState = fn
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// setState must be called with s.mu held.
func (s *Session) setState(st State) {
	s.state = st
	s.onState(st)
}

// Start opens the device and begins buffering frames. A denied or missing
// device yields chat.ErrDevice, a device held elsewhere chat.ErrDeviceBusy.
// Both leave the session Idle.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Recording {
		return chat.ErrAlreadyRecording
	}

	stream, err := s.dev.Open(ctx)
	if err != nil {
		s.setState(Error)
		s.setState(Idle)
		slog.Error("Failed to open audio device", "error", err)
		if errors.Is(err, chat.ErrDevice) || errors.Is(err, chat.ErrDeviceBusy) {
			return err
		}
		return fmt.Errorf("%w: %v", chat.ErrDevice, err)
	}

	s.stream = stream
	s.frames = nil
	s.done = make(chan struct{})
	s.setState(Recording)
	go s.collect(stream.Frames(), s.done)

	slog.Debug("recording started", slog.Int("sample_rate", s.sampleRate))
	return nil
}

func (s *Session) collect(frames <-chan Frame, done chan struct{}) {
	defer close(done)
	for f := range frames {
		s.mu.Lock()
		s.frames = append(s.frames, f)
		s.mu.Unlock()
	}
}

// Stop releases the device and returns the buffered frames as one WAV blob.
// If the device failed while recording, the clip is dropped and the device
// error returned. Stop on an idle session returns nil, nil.
func (s *Session) Stop() (*media.Blob, error) {
	s.mu.Lock()
	if s.state != Recording {
		s.mu.Unlock()
		return nil, nil
	}
	stream, done := s.stream, s.done
	s.mu.Unlock()

	closeErr := stream.Close()
	<-done

	streamErr := stream.Err()

	s.mu.Lock()
	frames := s.frames
	s.frames = nil
	s.stream = nil
	if streamErr != nil {
		s.setState(Error)
	}
	s.setState(Idle)
	s.mu.Unlock()

	if closeErr != nil {
		slog.Error("Failed to release audio device", "error", closeErr)
	}
	if streamErr != nil {
		slog.Error("Recording aborted", "error", streamErr)
		return nil, streamErr
	}

	var duration time.Duration
	n := 0
	for _, f := range frames {
		duration += media.SamplesDuration(len(f), s.sampleRate)
		n += len(f)
	}
	samples := make([]float32, 0, n)
	for _, f := range frames {
		samples = append(samples, f...)
	}
	blob, err := media.WAVBlob(samples, s.sampleRate)
	if err != nil {
		return nil, err
	}
	blob.Duration = duration

	slog.Debug("recording stopped",
		slog.Int("frames", len(frames)),
		slog.Duration("duration", duration),
	)
	return blob, nil
}
