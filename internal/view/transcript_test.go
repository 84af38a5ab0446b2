package view

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/gennadis/voicechat/internal/chat"
)

func newTestTranscript(t *testing.T) (*Transcript, *bytes.Buffer) {
	t.Helper()
	prev := color.NoColor
	color.NoColor = true
	t.Cleanup(func() { color.NoColor = prev })
	buf := &bytes.Buffer{}
	return NewTranscript(buf, "http://host"), buf
}

func TestTranscript_Render(t *testing.T) {
	tr, buf := newTestTranscript(t)
	tr.Render([]chat.Message{
		{ID: 1, Sender: chat.ChatRoleUser, Text: "Hello"},
		{ID: 2, Sender: chat.ChatRoleAssistant, Text: "Hi there", Attachments: []chat.Attachment{
			{Kind: chat.AttachmentAudio, URL: "audio/1.mp3"},
			{Kind: chat.AttachmentImage, URL: "/media/images/1.png"},
		}},
	})

	out := buf.String()
	for _, want := range []string{
		"You: Hello\n",
		"Assistant: Hi there\n",
		"[audio] http://host/media/audio/1.mp3",
		"[image] http://host/media/images/1.png",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in\n%s", want, out)
		}
	}
	if strings.Index(out, "You:") > strings.Index(out, "Assistant:") {
		t.Fatalf("messages out of order:\n%s", out)
	}
}

func TestTranscript_SkipsUndecodableAttachment(t *testing.T) {
	tr, buf := newTestTranscript(t)
	tr.AppendMessage(chat.Message{ID: 1, Sender: chat.ChatRoleAssistant, Text: "pics", Attachments: []chat.Attachment{
		{Kind: chat.AttachmentImage, Data: "!!not base64!!"},
		{Kind: chat.AttachmentImage, Data: "aGk=", MIMEType: "image/png"},
	}})

	out := buf.String()
	if strings.Count(out, "[image]") != 1 || !strings.Contains(out, "2 bytes image/png") {
		t.Fatalf("expected only the valid image, got\n%s", out)
	}
}

func TestTranscript_Alert(t *testing.T) {
	tr, buf := newTestTranscript(t)
	tr.Alert(&chat.NetworkError{Op: "send message", Status: 500, Message: "boom"})
	tr.Alert(errors.New("plain failure"))
	tr.Warn("Local storage is full")
	tr.Alert(nil)

	out := buf.String()
	for _, want := range []string{"send message failed (HTTP 500): boom", "plain failure", "~ Local storage is full"} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in\n%s", want, out)
		}
	}
	if n := strings.Count(out, "! "); n != 2 {
		t.Fatalf("expected 2 alerts, got %d in\n%s", n, out)
	}
}

func TestTranscript_Sessions(t *testing.T) {
	tr, buf := newTestTranscript(t)
	tr.Sessions(nil, "")
	if !strings.Contains(buf.String(), "No chats yet.") {
		t.Fatalf("expected empty notice, got %q", buf.String())
	}

	buf.Reset()
	tr.Sessions([]chat.Session{
		{ID: "b", Title: "Second", UpdatedAt: time.Now()},
		{ID: "a", Title: chat.UntitledTitle},
	}, "a")
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %q", lines)
	}
	if !strings.HasPrefix(lines[1], "*") || !strings.Contains(lines[1], chat.UntitledTitle) {
		t.Fatalf("current session not marked: %q", lines[1])
	}
	if strings.HasPrefix(lines[0], "*") {
		t.Fatalf("only the current session is marked: %q", lines[0])
	}
}

func TestTranscript_ClearThenRender(t *testing.T) {
	tr, buf := newTestTranscript(t)
	tr.AppendMessage(chat.Message{Sender: chat.ChatRoleUser, Text: "old"})
	tr.Clear()
	if !strings.Contains(buf.String(), strings.Repeat("-", 40)) {
		t.Fatalf("expected divider after clear")
	}
}
