package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gennadis/voicechat/internal/chat"
	"github.com/gennadis/voicechat/internal/client"
	"github.com/gennadis/voicechat/internal/media"
	"github.com/gennadis/voicechat/internal/recorder"
	"github.com/gennadis/voicechat/internal/session"
	"github.com/gennadis/voicechat/internal/view"
)

const helpText = `Commands:
  /new                 start a new chat
  /list                list chats
  /open <n|code>       open a chat from the last listing
  /delete <n|code>     delete a chat
  /history             reload the current chat
  /record              start or stop recording and send the clip
  /audio <file>        send an audio file
  /image               toggle image generation for sent messages
  /transcribe <file>   transcribe an audio file
  /tts <text>          synthesize speech to a file
  /imagine <prompt>    generate an image to a file
  /summary [text]      summarize text or the current chat
  /quit                exit
Anything else is sent as a message.`

type repl struct {
	in         *bufio.Reader
	out        io.Writer
	manager    *session.Manager
	mic        *recorder.Session
	transcript *view.Transcript

	generateImage bool
	listed        []chat.SessionSummary
}

func (r *repl) handle(ctx context.Context, line string) bool {
	if !strings.HasPrefix(line, "/") {
		r.send(ctx, client.Input{Text: line})
		return false
	}
	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	var err error
	switch cmd {
	case "/quit", "/exit":
		return true
	case "/help":
		r.transcript.Info(helpText)
	case "/new":
		_, err = r.manager.NewChat(ctx)
	case "/list":
		err = r.list(ctx)
	case "/open":
		var id string
		if id, err = r.resolve(arg); err == nil {
			err = r.manager.Open(ctx, id)
		}
	case "/delete":
		var id string
		if id, err = r.resolve(arg); err == nil {
			err = r.manager.DeleteSession(ctx, id, r.confirm)
		}
	case "/history":
		cur := r.manager.Current()
		if cur == nil {
			err = chat.ErrNoSession
			break
		}
		_, err = r.manager.LoadHistory(ctx, cur.ID)
	case "/record":
		err = r.toggleRecording(ctx)
	case "/audio":
		var blob *media.Blob
		if blob, err = readAudio(arg); err == nil {
			r.send(ctx, client.Input{Audio: blob})
		}
	case "/image":
		r.generateImage = !r.generateImage
		r.transcript.Info(fmt.Sprintf("Image generation %s.", onOff(r.generateImage)))
	case "/transcribe":
		var blob *media.Blob
		if blob, err = readAudio(arg); err == nil {
			var text string
			if text, err = r.manager.Transcribe(ctx, blob); err == nil {
				r.transcript.Info(text)
			}
		}
	case "/tts":
		var blob *media.Blob
		if blob, err = r.manager.Speak(ctx, arg); err == nil {
			err = r.save("speech", blob.Kind.Ext(), blob.Data)
		}
	case "/imagine":
		var img []byte
		if img, err = r.manager.Imagine(ctx, arg); err == nil {
			err = r.save("image", ".png", img)
		}
	case "/summary":
		var summary string
		if summary, err = r.manager.Summarize(ctx, arg); err == nil {
			r.transcript.Info(summary)
		}
	default:
		err = fmt.Errorf("unknown command %s, try /help", cmd)
	}
	if err != nil {
		r.transcript.Alert(err)
	}
	return false
}

func (r *repl) send(ctx context.Context, in client.Input) {
	if _, err := r.manager.SendMessage(ctx, in, r.generateImage); err != nil {
		r.transcript.Alert(err)
	}
}

func (r *repl) toggleRecording(ctx context.Context) error {
	if r.mic.State() != recorder.Recording {
		if err := r.mic.Start(ctx); err != nil {
			return err
		}
		r.transcript.Info("Recording... type /record again to send.")
		return nil
	}
	blob, err := r.mic.Stop()
	if err != nil {
		return err
	}
	if blob == nil || blob.Duration == 0 {
		r.transcript.Warn("Nothing was recorded.")
		return nil
	}
	r.transcript.Info(fmt.Sprintf("Sending %s of audio.", blob.Duration.Round(time.Millisecond)))
	r.send(ctx, client.Input{Audio: blob})
	return nil
}

func (r *repl) list(ctx context.Context) error {
	list, err := r.manager.ListSessions(ctx)
	if err != nil {
		cached, cerr := r.manager.CachedSessions(ctx)
		if cerr != nil || len(cached) == 0 {
			return err
		}
		r.transcript.Alert(err)
		r.transcript.Warn("Showing cached chats.")
		list = cached
	}
	r.listed = list
	current := ""
	if cur := r.manager.Current(); cur != nil {
		current = cur.ID
	}
	r.transcript.Sessions(list, current)
	return nil
}

// resolve maps a 1-based index into the last listing, or returns arg as a code.
func (r *repl) resolve(arg string) (string, error) {
	if arg == "" {
		if cur := r.manager.Current(); cur != nil {
			return cur.ID, nil
		}
		return "", chat.ErrNoSession
	}
	if n, err := strconv.Atoi(arg); err == nil {
		if n < 1 || n > len(r.listed) {
			return "", fmt.Errorf("no chat #%d in the last listing", n)
		}
		return r.listed[n-1].ID, nil
	}
	return arg, nil
}

func (r *repl) confirm(prompt string) bool {
	fmt.Fprintf(r.out, "%s [y/N] ", prompt)
	answer, err := r.in.ReadString('\n')
	if err != nil {
		return false
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}

func (r *repl) save(prefix, ext string, data []byte) error {
	name := fmt.Sprintf("%s-%d%s", prefix, time.Now().Unix(), ext)
	if err := os.WriteFile(name, data, 0o644); err != nil {
		return err
	}
	r.transcript.Info("Saved " + name)
	return nil
}

func readAudio(path string) (*media.Blob, error) {
	if path == "" {
		return nil, errors.New("missing file name")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return media.Detect(data, filepath.Base(path)), nil
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
