package storage

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/gennadis/voicechat/internal/chat"
)

// Sessions is a storage for session records
type Sessions struct {
	backend Backend
}

// NewSessions creates a new Sessions storage
func NewSessions(backend Backend) *Sessions {
	return &Sessions{backend: backend}
}

// Read returns all sessions, most recently updated first. Records that fail
// to decode are skipped.
func (s *Sessions) Read(ctx context.Context) ([]chat.Session, error) {
	keys, err := s.backend.Keys(ctx, CollectionSessions)
	if err != nil {
		return nil, fmt.Errorf("failed to get sessions: %w", err)
	}

	sessions := make([]chat.Session, 0, len(keys))
	for _, id := range keys {
		var session chat.Session
		if err := getJSON(ctx, s.backend, CollectionSessions, id, &session); err != nil {
			slog.Error("skipping cached session", slog.String("id", id), "error", err)
			continue
		}
		sessions = append(sessions, session)
	}
	sort.SliceStable(sessions, func(i, j int) bool {
		return sessions[i].UpdatedAt.After(sessions[j].UpdatedAt)
	})

	slog.Debug("read sessions",
		slog.Int("count", len(sessions)),
	)
	return sessions, nil
}

// Get returns one session record
func (s *Sessions) Get(ctx context.Context, id string) (*chat.Session, error) {
	var session chat.Session
	if err := getJSON(ctx, s.backend, CollectionSessions, id, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// Write writes a session to the storage, replacing a previous record
func (s *Sessions) Write(ctx context.Context, session chat.Session) error {
	if session.UpdatedAt.IsZero() {
		session.UpdatedAt = time.Now()
	}
	if err := putJSON(ctx, s.backend, CollectionSessions, session.ID, session); err != nil {
		return fmt.Errorf("failed to write session %s: %w", session.ID, err)
	}

	slog.Debug("session written",
		slog.String("id", session.ID),
		slog.String("title", session.Title),
		slog.Time("updated_at", session.UpdatedAt),
	)
	return nil
}

// Replace makes the stored records equal to sessions
func (s *Sessions) Replace(ctx context.Context, sessions []chat.Session) error {
	keep := make(map[string]struct{}, len(sessions))
	for _, session := range sessions {
		keep[session.ID] = struct{}{}
		if err := s.Write(ctx, session); err != nil {
			return err
		}
	}
	keys, err := s.backend.Keys(ctx, CollectionSessions)
	if err != nil {
		return fmt.Errorf("failed to get sessions: %w", err)
	}
	for _, id := range keys {
		if _, ok := keep[id]; ok {
			continue
		}
		// local sessions are unknown to the server until their first send
		if chat.IsLocalID(id) {
			continue
		}
		if err := s.Delete(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// Delete deletes the given session by id from the storage
func (s *Sessions) Delete(ctx context.Context, id string) error {
	if err := s.backend.Delete(ctx, CollectionSessions, id); err != nil {
		return fmt.Errorf("failed to delete session by id %s: %w", id, err)
	}

	slog.Debug("session deleted from sessions",
		slog.String("id", id),
	)
	return nil
}
