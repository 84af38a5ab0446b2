// Package view renders chat state to a terminal. It never mutates that state
// and performs no network or storage I/O.
package view

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/gennadis/voicechat/internal/chat"
	"github.com/gennadis/voicechat/internal/media"
)

const clearScreen = "\033[H\033[2J"

type Transcript struct {
	w            io.Writer
	mediaBaseURL string

	mu        sync.Mutex
	user      *color.Color
	assistant *color.Color
	attach    *color.Color
	alert     *color.Color
	warn      *color.Color
	current   *color.Color
}

func NewTranscript(w io.Writer, mediaBaseURL string) *Transcript {
	return &Transcript{
		w:            w,
		mediaBaseURL: mediaBaseURL,
		user:         color.New(color.FgCyan, color.Bold),
		assistant:    color.New(color.FgGreen, color.Bold),
		attach:       color.New(color.FgHiBlack),
		alert:        color.New(color.FgRed, color.Bold),
		warn:         color.New(color.FgYellow),
		current:      color.New(color.FgMagenta, color.Bold),
	}
}

// Render replaces the transcript with msgs.
func (t *Transcript) Render(msgs []chat.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.clear()
	for _, m := range msgs {
		t.appendMessage(m)
	}
}

func (t *Transcript) AppendMessage(m chat.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.appendMessage(m)
}

func (t *Transcript) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.clear()
}

func (t *Transcript) clear() {
	if color.NoColor {
		fmt.Fprintln(t.w, strings.Repeat("-", 40))
		return
	}
	fmt.Fprint(t.w, clearScreen)
}

func (t *Transcript) appendMessage(m chat.Message) {
	label, c := "You", t.user
	if m.Sender == chat.ChatRoleAssistant {
		label, c = "Assistant", t.assistant
	}
	c.Fprintf(t.w, "%s:", label)
	if m.Text != "" {
		fmt.Fprintf(t.w, " %s", m.Text)
	}
	fmt.Fprintln(t.w)

	for _, a := range m.Attachments {
		line, err := t.describe(a)
		if err != nil {
			slog.Error("skipping attachment", slog.String("session_id", m.SessionID), slog.Int64("message_id", m.ID), "error", err)
			continue
		}
		t.attach.Fprintf(t.w, "  %s\n", line)
	}
}

func (t *Transcript) describe(a chat.Attachment) (string, error) {
	if a.URL != "" {
		return fmt.Sprintf("[%s] %s", a.Kind, media.ResolveURL(t.mediaBaseURL, a.URL)), nil
	}
	if a.Data == "" {
		return "", &chat.DecodeError{What: string(a.Kind) + " attachment: no payload"}
	}
	data, err := media.DecodeBase64(a.Data)
	if err != nil {
		return "", err
	}
	mimeType := a.MIMEType
	if mimeType == "" {
		mimeType = "unknown"
	}
	return fmt.Sprintf("[%s] %d bytes %s (local)", a.Kind, len(data), mimeType), nil
}

// Alert reports a failed operation. A nil error is ignored.
func (t *Transcript) Alert(err error) {
	if err == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	msg := err.Error()
	var netErr *chat.NetworkError
	if errors.As(err, &netErr) && netErr.Status != 0 {
		msg = fmt.Sprintf("%s failed (HTTP %d)", netErr.Op, netErr.Status)
		if netErr.Message != "" {
			msg += ": " + netErr.Message
		}
	}
	t.alert.Fprintf(t.w, "! %s\n", msg)
}

// Warn shows a non-blocking notice.
func (t *Transcript) Warn(msg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.warn.Fprintf(t.w, "~ %s\n", msg)
}

func (t *Transcript) Info(msg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintln(t.w, msg)
}

// Sessions lists sessions in the given order, marking the current one.
func (t *Transcript) Sessions(list []chat.Session, currentID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(list) == 0 {
		fmt.Fprintln(t.w, "No chats yet.")
		return
	}
	for i, s := range list {
		updated := "-"
		if !s.UpdatedAt.IsZero() {
			updated = s.UpdatedAt.Local().Format(time.DateTime)
		}
		marker := " "
		if s.ID == currentID {
			marker = "*"
		}
		line := fmt.Sprintf("%s %2d. %s  [%s]  %s", marker, i+1, s.Title, s.ID, updated)
		if s.ID == currentID {
			t.current.Fprintln(t.w, line)
			continue
		}
		fmt.Fprintln(t.w, line)
	}
}
