package storage

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/gennadis/voicechat/internal/chat"
)

// Messages is a storage for session transcripts
type Messages struct {
	backend Backend
}

// NewMessages creates a new Messages storage
func NewMessages(backend Backend) *Messages {
	return &Messages{backend: backend}
}

// ReadBySessionID returns the cached transcript of a session in insertion order
func (m *Messages) ReadBySessionID(ctx context.Context, sessionID string) ([]chat.Message, error) {
	var messages []chat.Message
	if err := getJSON(ctx, m.backend, CollectionMessages, sessionID, &messages); err != nil {
		return nil, fmt.Errorf("failed to get messages for session_id %s: %w", sessionID, err)
	}

	slog.Debug("read messages by session_id",
		slog.String("session_id", sessionID),
		slog.Int("count", len(messages)),
	)
	return messages, nil
}

// Write replaces the cached transcript of a session
func (m *Messages) Write(ctx context.Context, sessionID string, messages []chat.Message) error {
	sorted := append([]chat.Message(nil), messages...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	if err := putJSON(ctx, m.backend, CollectionMessages, sessionID, sorted); err != nil {
		return fmt.Errorf("failed to write messages for session_id %s: %w", sessionID, err)
	}

	slog.Debug("messages written",
		slog.String("session_id", sessionID),
		slog.Int("count", len(sorted)),
	)
	return nil
}

// Append adds messages at the end of the cached transcript
func (m *Messages) Append(ctx context.Context, sessionID string, messages ...chat.Message) error {
	existing, err := m.ReadBySessionID(ctx, sessionID)
	if err != nil && !isMiss(err) {
		return err
	}
	existing = append(existing, messages...)
	if err := putJSON(ctx, m.backend, CollectionMessages, sessionID, existing); err != nil {
		return fmt.Errorf("failed to append messages for session_id %s: %w", sessionID, err)
	}
	return nil
}

// Delete deletes the transcript of a session from the storage
func (m *Messages) Delete(ctx context.Context, sessionID string) error {
	if err := m.backend.Delete(ctx, CollectionMessages, sessionID); err != nil {
		return fmt.Errorf("failed to delete messages by session_id %s: %w", sessionID, err)
	}

	slog.Debug("messages deleted",
		slog.String("session_id", sessionID),
	)
	return nil
}
