package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gennadis/voicechat/internal/chat"
	"github.com/gennadis/voicechat/internal/client"
	"github.com/gennadis/voicechat/internal/media"
	"github.com/gennadis/voicechat/storage"
)

const defaultPageSize = 100

// API is the part of the remote chat API the manager uses.
type API interface {
	CreateChat(ctx context.Context, title string) (string, error)
	SendMessage(ctx context.Context, req client.SendRequest) (*client.SendResponse, error)
	History(ctx context.Context, code string, page, perPage int) ([]client.HistoryItem, error)
	DeleteChat(ctx context.Context, code string) error
	ListChats(ctx context.Context) ([]client.ChatSummary, error)
	Transcribe(ctx context.Context, blob *media.Blob) (string, error)
	TTS(ctx context.Context, text string) (*media.Blob, error)
	GenerateImage(ctx context.Context, prompt string) ([]byte, error)
	GenerateSummary(ctx context.Context, text string) (string, error)
	FetchMedia(ctx context.Context, path string) ([]byte, error)
}

// View receives transcript updates.
type View interface {
	Render(msgs []chat.Message)
	AppendMessage(m chat.Message)
	Clear()
	Warn(msg string)
}

// Confirmer asks the user to approve a destructive action.
type Confirmer func(prompt string) bool

type Options struct {
	PageSize   int
	Offline    bool
	CacheMedia bool
}

// Manager owns the current session and its transcript, and keeps the local
// cache in step with the remote API. The cache is never the source of truth.
type Manager struct {
	api   API
	cache *storage.Cache
	view  View
	opts  Options

	mu         sync.Mutex
	current    *chat.Session
	transcript []chat.Message
}

func NewManager(api API, cache *storage.Cache, view View, opts Options) *Manager {
	if opts.PageSize <= 0 || opts.PageSize > defaultPageSize {
		opts.PageSize = defaultPageSize
	}
	if view == nil {
		view = nopView{}
	}
	cache.OnWarn(view.Warn)
	return &Manager{api: api, cache: cache, view: view, opts: opts}
}

// Current returns a copy of the current session, nil if there is none.
func (m *Manager) Current() *chat.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return nil
	}
	s := *m.current
	return &s
}

// Transcript returns a copy of the current transcript.
func (m *Manager) Transcript() []chat.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]chat.Message(nil), m.transcript...)
}

// CreateSession creates a session and makes it current. On failure the
// previous session stays current.
func (m *Manager) CreateSession(ctx context.Context, title string) (string, error) {
	if strings.TrimSpace(title) == "" {
		title = chat.DefaultTitle
	}

	var session *chat.Session
	if m.opts.Offline {
		s, err := chat.NewLocalSession(title)
		if err != nil {
			return "", fmt.Errorf("create local session: %w", err)
		}
		session = s
	} else {
		code, err := m.api.CreateChat(ctx, title)
		if err != nil {
			return "", err
		}
		session = chat.NewSession(code, title)
	}

	m.mu.Lock()
	m.current = session
	m.transcript = nil
	m.view.Clear()
	m.mu.Unlock()

	m.logCache(m.cache.SaveSession(ctx, *session))
	m.logCache(m.cache.SetCurrentChatCode(ctx, session.ID))

	slog.Info("session created", slog.String("id", session.ID), slog.Bool("local", session.Local))
	return session.ID, nil
}

// SendMessage sends in on the current session, creating one first if none is
// current. On success the user message and the reply are appended to the
// transcript together; on failure the transcript is left unchanged.
func (m *Manager) SendMessage(ctx context.Context, in client.Input, generateImage bool) (chat.Exchange, error) {
	if in.Empty() {
		return chat.Exchange{}, chat.ErrEmptyMessage
	}

	cur := m.Current()
	if cur == nil {
		if _, err := m.CreateSession(ctx, ""); err != nil {
			return chat.Exchange{}, err
		}
		cur = m.Current()
	}

	req := client.SendRequest{
		ChatCode:      cur.ID,
		NewChat:       chat.IsLocalID(cur.ID),
		Input:         in,
		GenerateImage: generateImage,
	}
	resp, err := m.api.SendMessage(ctx, req)
	if err != nil {
		return chat.Exchange{}, err
	}

	id := cur.ID
	if req.NewChat && resp.Code != "" && resp.Code != id {
		m.rekey(ctx, id, resp.Code)
		id = resp.Code
	}

	now := time.Now()
	user := chat.Message{
		SessionID: id,
		Sender:    chat.ChatRoleUser,
		Text:      in.Text,
		Timestamp: now,
	}
	if in.Audio != nil {
		user.Text = resp.InputText
		user.Attachments = []chat.Attachment{{
			Kind:     chat.AttachmentAudio,
			MIMEType: in.Audio.MIMEType(),
			Data:     media.EncodeBase64(in.Audio.Data),
		}}
	}
	assistant := chat.Message{
		SessionID:   id,
		Sender:      chat.ChatRoleAssistant,
		Text:        *resp.OutputText,
		Attachments: attachmentsOf(resp.Files),
		Timestamp:   now,
	}

	m.mu.Lock()
	if m.current != nil && m.current.ID == id {
		var next int64 = 1
		if n := len(m.transcript); n > 0 {
			next = m.transcript[n-1].ID + 1
		}
		user.ID, assistant.ID = next, next
		m.transcript = append(m.transcript, user, assistant)
		m.view.AppendMessage(user)
		m.view.AppendMessage(assistant)
	} else {
		slog.Debug("reply for a session that is no longer current", slog.String("id", id))
	}
	m.mu.Unlock()

	m.logCache(m.cache.AppendTranscript(ctx, id, user, assistant))
	m.touch(ctx, id, resp.Title, now)
	if m.opts.CacheMedia {
		m.cacheMedia(ctx, id, in, resp.Files)
	}

	return chat.Exchange{User: user, Assistant: assistant}, nil
}

func attachmentsOf(files []client.File) []chat.Attachment {
	var out []chat.Attachment
	for _, f := range files {
		if f.OutputAudio != "" {
			out = append(out, chat.Attachment{Kind: chat.AttachmentAudio, URL: f.OutputAudio})
		}
		if f.OutputImage != "" {
			out = append(out, chat.Attachment{Kind: chat.AttachmentImage, URL: f.OutputImage})
		}
	}
	return out
}

// touch bumps the cached session record after a send.
func (m *Manager) touch(ctx context.Context, id, title string, at time.Time) {
	session, err := m.cache.Sessions.Get(ctx, id)
	if err != nil {
		session = chat.NewSession(id, "")
	}
	if title != "" {
		session.Title = title
	}
	session.UpdatedAt = at

	m.mu.Lock()
	if m.current != nil && m.current.ID == id {
		m.current.UpdatedAt = at
		if title != "" {
			m.current.Title = title
		}
	}
	m.mu.Unlock()

	m.logCache(m.cache.SaveSession(ctx, *session))
}

func (m *Manager) cacheMedia(ctx context.Context, id string, in client.Input, files []client.File) {
	if in.Audio != nil {
		m.logCache(m.cache.SaveAudio(ctx, id, in.Audio.MIMEType(), in.Audio.Data))
	}
	for _, f := range files {
		if f.OutputImage == "" {
			continue
		}
		data, err := m.api.FetchMedia(ctx, f.OutputImage)
		if err != nil {
			slog.Error("Failed to fetch image for cache", slog.String("path", f.OutputImage), "error", err)
			continue
		}
		if err := m.cache.AppendImage(ctx, id, data); errors.Is(err, chat.ErrImageCapReached) {
			return
		}
	}
}

// rekey moves a local session to the code the server assigned it.
func (m *Manager) rekey(ctx context.Context, from, to string) {
	m.mu.Lock()
	if m.current != nil && m.current.ID == from {
		m.current.ID = to
		m.current.Local = false
		for i := range m.transcript {
			m.transcript[i].SessionID = to
		}
	}
	m.mu.Unlock()

	if err := m.cache.Rekey(ctx, from, to); err != nil {
		slog.Error("Failed to rekey cached session", slog.String("from", from), slog.String("to", to), "error", err)
	}
	slog.Info("local session registered", slog.String("from", from), slog.String("to", to))
}

// LoadHistory fetches the history of a session, ordered by message id. It is
// idempotent and writes the result through to the cache. Loading the current
// session re-renders the view.
func (m *Manager) LoadHistory(ctx context.Context, id string) ([]chat.Message, error) {
	var msgs []chat.Message
	if chat.IsLocalID(id) {
		cached, err := m.CachedHistory(ctx, id)
		if err != nil {
			return nil, err
		}
		msgs = cached
	} else {
		items, err := m.api.History(ctx, id, 1, m.opts.PageSize)
		if err != nil {
			return nil, err
		}
		msgs = historyMessages(id, items)
		m.logCache(m.cache.SaveTranscript(ctx, id, msgs))
	}

	m.mu.Lock()
	if m.current != nil && m.current.ID == id {
		m.transcript = append([]chat.Message(nil), msgs...)
		m.view.Render(m.transcript)
	}
	m.mu.Unlock()

	slog.Debug("history loaded", slog.String("id", id), slog.Int("count", len(msgs)))
	return msgs, nil
}

// historyMessages turns history items into user/assistant pairs sharing the
// item id, sorted ascending.
func historyMessages(id string, items []client.HistoryItem) []chat.Message {
	sorted := append([]client.HistoryItem(nil), items...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	msgs := make([]chat.Message, 0, len(sorted)*2)
	for _, it := range sorted {
		var ts time.Time
		if it.CreatedAt != nil {
			ts = client.ParseTime(*it.CreatedAt)
		}
		msgs = append(msgs,
			chat.Message{ID: it.ID, SessionID: id, Sender: chat.ChatRoleUser, Text: it.InputText, Timestamp: ts},
			chat.Message{ID: it.ID, SessionID: id, Sender: chat.ChatRoleAssistant, Text: it.OutputText, Attachments: attachmentsOf(it.Files), Timestamp: ts},
		)
	}
	return msgs
}

// CachedHistory returns the last cached transcript of a session, empty if
// nothing is cached.
func (m *Manager) CachedHistory(ctx context.Context, id string) ([]chat.Message, error) {
	msgs, err := m.cache.Transcript(ctx, id)
	if errors.Is(err, chat.ErrCacheMiss) {
		return []chat.Message{}, nil
	}
	return msgs, err
}

// DeleteSession deletes a session after confirm approves it, then purges
// everything cached for it.
func (m *Manager) DeleteSession(ctx context.Context, id string, confirm Confirmer) error {
	if confirm == nil || !confirm(fmt.Sprintf("Delete chat %s?", id)) {
		return chat.ErrNotConfirmed
	}
	if !chat.IsLocalID(id) {
		if err := m.api.DeleteChat(ctx, id); err != nil {
			return err
		}
	}
	if err := m.cache.DeleteSession(ctx, id); err != nil {
		slog.Error("Failed to purge cached session", slog.String("id", id), "error", err)
	}

	m.mu.Lock()
	if m.current != nil && m.current.ID == id {
		m.current = nil
		m.transcript = nil
		m.view.Clear()
	}
	m.mu.Unlock()

	slog.Info("session deleted", slog.String("id", id))
	return nil
}

// ListSessions returns every session, most recently updated first. Sessions
// not yet registered with the server are included from the cache.
func (m *Manager) ListSessions(ctx context.Context) ([]chat.SessionSummary, error) {
	summaries, err := m.api.ListChats(ctx)
	if err != nil {
		return nil, err
	}
	list := make([]chat.SessionSummary, 0, len(summaries))
	for _, s := range summaries {
		title := s.Title
		if strings.TrimSpace(title) == "" {
			title = chat.UntitledTitle
		}
		list = append(list, chat.SessionSummary{ID: s.Code, Title: title, UpdatedAt: client.ParseTime(s.UpdatedAt)})
	}
	m.logCache(m.cache.ReplaceSessions(ctx, list))

	cached, err := m.cache.Sessions.Read(ctx)
	if err != nil {
		slog.Error("Failed to read cached sessions", "error", err)
	}
	for _, s := range cached {
		if s.Local {
			list = append(list, s)
		}
	}
	sortSessions(list)
	return list, nil
}

// CachedSessions returns the cached session list for offline display.
func (m *Manager) CachedSessions(ctx context.Context) ([]chat.SessionSummary, error) {
	list, err := m.cache.Sessions.Read(ctx)
	if err != nil {
		return nil, err
	}
	sortSessions(list)
	return list, nil
}

func sortSessions(list []chat.SessionSummary) {
	sort.SliceStable(list, func(i, j int) bool { return list[i].UpdatedAt.After(list[j].UpdatedAt) })
}

// Open makes id the current session and renders its history. When the
// history cannot be fetched the cached copy is shown and the error returned.
func (m *Manager) Open(ctx context.Context, id string) error {
	session, err := m.cache.Sessions.Get(ctx, id)
	if err != nil {
		session = chat.NewSession(id, "")
		session.Local = chat.IsLocalID(id)
	}

	m.mu.Lock()
	m.current = session
	m.transcript = nil
	m.view.Clear()
	m.mu.Unlock()
	m.logCache(m.cache.SetCurrentChatCode(ctx, id))

	if _, err := m.LoadHistory(ctx, id); err != nil {
		cached, cerr := m.CachedHistory(ctx, id)
		if cerr == nil && len(cached) > 0 {
			m.mu.Lock()
			if m.current != nil && m.current.ID == id {
				m.transcript = cached
				m.view.Render(cached)
			}
			m.mu.Unlock()
		}
		return err
	}
	return nil
}

// NewChat drops the current session and starts a fresh one.
func (m *Manager) NewChat(ctx context.Context) (string, error) {
	m.mu.Lock()
	m.current = nil
	m.transcript = nil
	m.view.Clear()
	m.mu.Unlock()
	m.logCache(m.cache.SetCurrentChatCode(ctx, ""))

	return m.CreateSession(ctx, "")
}

// Restore reopens the session that was current in a previous run, if any.
func (m *Manager) Restore(ctx context.Context) (bool, error) {
	code, err := m.cache.CurrentChatCode(ctx)
	if err != nil {
		return false, err
	}
	if code == "" {
		return false, nil
	}
	return true, m.Open(ctx, code)
}

func (m *Manager) Transcribe(ctx context.Context, blob *media.Blob) (string, error) {
	return m.api.Transcribe(ctx, blob)
}

func (m *Manager) Speak(ctx context.Context, text string) (*media.Blob, error) {
	if strings.TrimSpace(text) == "" {
		return nil, chat.ErrEmptyMessage
	}
	return m.api.TTS(ctx, text)
}

// Imagine generates an image and caches it with the current session.
func (m *Manager) Imagine(ctx context.Context, prompt string) ([]byte, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, chat.ErrEmptyMessage
	}
	img, err := m.api.GenerateImage(ctx, prompt)
	if err != nil {
		return nil, err
	}
	if cur := m.Current(); cur != nil && m.opts.CacheMedia {
		m.logCache(m.cache.AppendImage(ctx, cur.ID, img))
	}
	return img, nil
}

// Summarize summarizes text, or the current transcript when text is empty.
func (m *Manager) Summarize(ctx context.Context, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		var lines []string
		for _, msg := range m.Transcript() {
			if msg.Text != "" {
				lines = append(lines, fmt.Sprintf("%s: %s", msg.Sender, msg.Text))
			}
		}
		if len(lines) == 0 {
			return "", chat.ErrEmptyMessage
		}
		text = strings.Join(lines, "\n")
	}
	return m.api.GenerateSummary(ctx, text)
}

// logCache notes cache failures that survived the fail-soft layer. They
// never fail the calling operation.
func (m *Manager) logCache(err error) {
	if err != nil {
		slog.Debug("cache not updated", "error", err)
	}
}

type nopView struct{}

func (nopView) Render([]chat.Message) {}

func (nopView) AppendMessage(chat.Message) {}

func (nopView) Clear() {}

func (nopView) Warn(string) {}
