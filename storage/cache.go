package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gennadis/voicechat/internal/chat"
	"github.com/gennadis/voicechat/internal/media"
)

const prefCurrentChatCode = "currentChatCode"

// WarnFunc surfaces a non-fatal problem to the user.
type WarnFunc func(msg string)

// Cache is the local, non-authoritative copy of chat state. Writes are
// fail-soft: a full store drops the write and raises a warning instead of
// failing the caller.
type Cache struct {
	backend     Backend
	Sessions    *Sessions
	Messages    *Messages
	Attachments *Attachments
	warn        WarnFunc
}

func NewCache(backend Backend, maxImages int) *Cache {
	return &Cache{
		backend:     backend,
		Sessions:    NewSessions(backend),
		Messages:    NewMessages(backend),
		Attachments: NewAttachments(backend, maxImages),
		warn:        func(string) {},
	}
}

// OnWarn sets the receiver of user-visible cache warnings.
func (c *Cache) OnWarn(fn WarnFunc) {
	if fn == nil {
		fn = func(string) {}
	}
	c.warn = fn
}

func (c *Cache) Close() error {
	return c.backend.Close()
}

func (c *Cache) soft(what string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, chat.ErrStorageQuota):
		slog.Warn("cache write dropped", slog.String("what", what), "error", err)
		c.warn(fmt.Sprintf("Local storage is full: %s was not saved.", what))
		return nil
	case errors.Is(err, chat.ErrImageCapReached):
		slog.Warn("cache write rejected", slog.String("what", what), "error", err)
		c.warn(fmt.Sprintf("Image limit reached: %s was not saved.", what))
		return err
	default:
		slog.Error("cache write failed", slog.String("what", what), "error", err)
		return err
	}
}

func (c *Cache) SaveSession(ctx context.Context, session chat.Session) error {
	return c.soft("session "+session.ID, c.Sessions.Write(ctx, session))
}

// ReplaceSessions mirrors a server session listing.
func (c *Cache) ReplaceSessions(ctx context.Context, sessions []chat.Session) error {
	return c.soft("session list", c.Sessions.Replace(ctx, sessions))
}

func (c *Cache) SaveTranscript(ctx context.Context, sessionID string, msgs []chat.Message) error {
	return c.soft("history of "+sessionID, c.Messages.Write(ctx, sessionID, msgs))
}

func (c *Cache) AppendTranscript(ctx context.Context, sessionID string, msgs ...chat.Message) error {
	return c.soft("messages of "+sessionID, c.Messages.Append(ctx, sessionID, msgs...))
}

// Transcript returns the cached transcript, chat.ErrCacheMiss when absent.
func (c *Cache) Transcript(ctx context.Context, sessionID string) ([]chat.Message, error) {
	return c.Messages.ReadBySessionID(ctx, sessionID)
}

func (c *Cache) SaveAudio(ctx context.Context, sessionID, mimeType string, data []byte) error {
	rec := AudioRecord{MIMEType: mimeType, Data: media.EncodeBase64(data)}
	return c.soft("audio of "+sessionID, c.Attachments.PutAudio(ctx, sessionID, rec))
}

// Audio returns the decoded audio payload of a session.
func (c *Cache) Audio(ctx context.Context, sessionID string) (*media.Blob, error) {
	rec, err := c.Attachments.Audio(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	data, err := media.DecodeBase64(rec.Data)
	if err != nil {
		return nil, err
	}
	return media.NewBlob(data, media.KindForContentType(rec.MIMEType)), nil
}

func (c *Cache) AppendImage(ctx context.Context, sessionID string, data []byte) error {
	return c.soft("image of "+sessionID, c.Attachments.AppendImage(ctx, sessionID, media.EncodeBase64(data)))
}

// Images returns the decoded images of a session. Entries that do not decode
// are logged and skipped.
func (c *Cache) Images(ctx context.Context, sessionID string) ([][]byte, error) {
	encoded, err := c.Attachments.Images(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	out := make([][]byte, 0, len(encoded))
	for i, e := range encoded {
		data, err := media.DecodeBase64(e)
		if err != nil {
			slog.Error("skipping cached image", slog.String("session_id", sessionID), slog.Int("index", i), "error", err)
			continue
		}
		out = append(out, data)
	}
	return out, nil
}

// CurrentChatCode returns the persisted current session id, "" if none.
func (c *Cache) CurrentChatCode(ctx context.Context) (string, error) {
	raw, err := c.backend.Get(ctx, CollectionPrefs, prefCurrentChatCode)
	if isMiss(err) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// SetCurrentChatCode persists the current session id; "" clears it.
func (c *Cache) SetCurrentChatCode(ctx context.Context, code string) error {
	if code == "" {
		return c.soft("current chat", c.backend.Delete(ctx, CollectionPrefs, prefCurrentChatCode))
	}
	return c.soft("current chat", c.backend.Put(ctx, CollectionPrefs, prefCurrentChatCode, []byte(code)))
}

// DeleteSession removes a session and everything keyed by its id.
func (c *Cache) DeleteSession(ctx context.Context, sessionID string) error {
	if err := c.Sessions.Delete(ctx, sessionID); err != nil {
		return err
	}
	if err := c.Messages.Delete(ctx, sessionID); err != nil {
		return err
	}
	if err := c.Attachments.Delete(ctx, sessionID); err != nil {
		return err
	}
	code, err := c.CurrentChatCode(ctx)
	if err == nil && code == sessionID {
		return c.SetCurrentChatCode(ctx, "")
	}
	return nil
}

// Rekey moves every entry of a session from one id to another, used when a
// locally created session receives its server code.
func (c *Cache) Rekey(ctx context.Context, from, to string) error {
	for _, collection := range []string{CollectionSessions, CollectionMessages, CollectionAudio, CollectionImages} {
		raw, err := c.backend.Get(ctx, collection, from)
		if isMiss(err) {
			continue
		}
		if err != nil {
			return err
		}
		if collection == CollectionSessions {
			raw, err = rekeySession(raw, to)
			if err != nil {
				return err
			}
		}
		if collection == CollectionMessages {
			raw, err = rekeyMessages(raw, to)
			if err != nil {
				return err
			}
		}
		if err := c.move(ctx, collection, from, to, raw); err != nil {
			return err
		}
	}
	code, err := c.CurrentChatCode(ctx)
	if err == nil && code == from {
		return c.SetCurrentChatCode(ctx, to)
	}
	return nil
}

// move writes raw under to and drops from. When the store is too full to
// hold both copies at once, from is dropped first to make room; if raw still
// does not fit, the original entry is put back.
func (c *Cache) move(ctx context.Context, collection, from, to string, raw []byte) error {
	err := c.backend.Put(ctx, collection, to, raw)
	if err == nil {
		return c.backend.Delete(ctx, collection, from)
	}
	if !errors.Is(err, chat.ErrStorageQuota) {
		return c.soft(collection+" of "+to, err)
	}

	orig, gerr := c.backend.Get(ctx, collection, from)
	if gerr != nil {
		return gerr
	}
	if err := c.backend.Delete(ctx, collection, from); err != nil {
		return err
	}
	err = c.backend.Put(ctx, collection, to, raw)
	if errors.Is(err, chat.ErrStorageQuota) {
		if rerr := c.backend.Put(ctx, collection, from, orig); rerr != nil {
			slog.Error("Failed to restore cache entry", slog.String("key", collection+"/"+from), "error", rerr)
		}
	}
	return c.soft(collection+" of "+to, err)
}

func rekeySession(raw []byte, to string) ([]byte, error) {
	var session chat.Session
	if err := json.Unmarshal(raw, &session); err != nil {
		return nil, &chat.DecodeError{What: "cached session", Err: err}
	}
	session.ID = to
	session.Local = false
	return json.Marshal(session)
}

func rekeyMessages(raw []byte, to string) ([]byte, error) {
	var msgs []chat.Message
	if err := json.Unmarshal(raw, &msgs); err != nil {
		return nil, &chat.DecodeError{What: "cached messages", Err: err}
	}
	for i := range msgs {
		msgs[i].SessionID = to
	}
	return json.Marshal(msgs)
}
