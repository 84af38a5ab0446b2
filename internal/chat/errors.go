package chat

import (
	"errors"
	"fmt"
)

var (
	ErrNetwork          = errors.New("network error")
	ErrDecode           = errors.New("malformed payload")
	ErrDevice           = errors.New("audio device unavailable")
	ErrDeviceBusy       = errors.New("audio device busy")
	ErrStorageQuota     = errors.New("storage quota exceeded")
	ErrImageCapReached  = errors.New("image limit reached for session")
	ErrNotConfirmed     = errors.New("action not confirmed")
	ErrNoSession        = errors.New("no current session")
	ErrAlreadyRecording = errors.New("already recording")
	ErrEmptyMessage     = errors.New("message is empty")
	ErrCacheMiss        = errors.New("not cached")
)

// NetworkError is a failed call to the remote chat API: either a transport
// failure or a non-2xx status.
type NetworkError struct {
	Op      string
	Status  int
	Message string
	Err     error
}

func (e *NetworkError) Error() string {
	switch {
	case e.Status != 0 && e.Message != "":
		return fmt.Sprintf("%s: status code %d, message %s", e.Op, e.Status, e.Message)
	case e.Status != 0:
		return fmt.Sprintf("%s: status code %d", e.Op, e.Status)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return e.Op + ": request failed"
}

func (e *NetworkError) Unwrap() error { return e.Err }

func (e *NetworkError) Is(target error) bool { return target == ErrNetwork }

// DecodeError reports a response or stored payload with an unexpected shape.
type DecodeError struct {
	What string
	Err  error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode %s: %v", e.What, e.Err)
	}
	return "decode " + e.What
}

func (e *DecodeError) Unwrap() error { return e.Err }

func (e *DecodeError) Is(target error) bool { return target == ErrDecode }
