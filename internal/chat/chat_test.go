package chat

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestNewSession_DefaultTitle(t *testing.T) {
	s := NewSession("abc", "  ")
	if s.Title != DefaultTitle || s.ID != "abc" || s.Local {
		t.Fatalf("unexpected session %+v", s)
	}
}

func TestNewLocalSession(t *testing.T) {
	a, err := NewLocalSession("")
	if err != nil {
		t.Fatalf("new local session: %v", err)
	}
	b, err := NewLocalSession("x")
	if err != nil {
		t.Fatalf("new local session: %v", err)
	}
	if !a.Local || !IsLocalID(a.ID) || !strings.HasPrefix(a.ID, "local-") {
		t.Fatalf("unexpected local session %+v", a)
	}
	if a.ID == b.ID {
		t.Fatalf("local ids must be unique")
	}
	if IsLocalID("chat-1") {
		t.Fatalf("server codes are not local")
	}
}

func TestMessage_AttachmentsByKind(t *testing.T) {
	m := Message{Attachments: []Attachment{
		{Kind: AttachmentImage, URL: "a.png"},
		{Kind: AttachmentAudio, URL: "a.mp3"},
		{Kind: AttachmentImage, URL: "b.png"},
	}}
	if len(m.Images()) != 2 || len(m.Audio()) != 1 {
		t.Fatalf("unexpected split: %d images, %d audio", len(m.Images()), len(m.Audio()))
	}
}

func TestErrors_Match(t *testing.T) {
	netErr := fmt.Errorf("wrapped: %w", &NetworkError{Op: "send message", Status: 500, Message: "boom"})
	if !errors.Is(netErr, ErrNetwork) || errors.Is(netErr, ErrDecode) {
		t.Fatalf("network error misclassified")
	}
	if got := (&NetworkError{Op: "list chats", Status: 404}).Error(); got != "list chats: status code 404" {
		t.Fatalf("unexpected message %q", got)
	}

	cause := errors.New("bad json")
	decErr := &DecodeError{What: "history", Err: cause}
	if !errors.Is(decErr, ErrDecode) || !errors.Is(decErr, cause) {
		t.Fatalf("decode error misclassified")
	}
}
