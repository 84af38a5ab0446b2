package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gennadis/voicechat/internal/chat"
)

const DefaultMaxImages = 100

// AudioRecord is the cached audio payload of a session.
type AudioRecord struct {
	MIMEType string `json:"mime_type"`
	Data     string `json:"data"` // base64
}

// Attachments stores audio and image payloads keyed by their owning session.
// A session holds at most one audio payload and at most maxImages images;
// appends beyond the image cap are rejected.
type Attachments struct {
	backend   Backend
	maxImages int
}

func NewAttachments(backend Backend, maxImages int) *Attachments {
	if maxImages <= 0 {
		maxImages = DefaultMaxImages
	}
	return &Attachments{backend: backend, maxImages: maxImages}
}

// PutAudio stores the audio payload of a session, replacing the previous one.
func (a *Attachments) PutAudio(ctx context.Context, sessionID string, rec AudioRecord) error {
	if err := putJSON(ctx, a.backend, CollectionAudio, sessionID, rec); err != nil {
		return fmt.Errorf("failed to write audio for session_id %s: %w", sessionID, err)
	}
	return nil
}

func (a *Attachments) Audio(ctx context.Context, sessionID string) (*AudioRecord, error) {
	var rec AudioRecord
	if err := getJSON(ctx, a.backend, CollectionAudio, sessionID, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// AppendImage adds a base64 image to the session's list. It returns
// chat.ErrImageCapReached without writing when the list is full.
func (a *Attachments) AppendImage(ctx context.Context, sessionID, imageBase64 string) error {
	images, err := a.Images(ctx, sessionID)
	if err != nil && !isMiss(err) {
		return err
	}
	if len(images) >= a.maxImages {
		return fmt.Errorf("session_id %s holds %d images: %w", sessionID, len(images), chat.ErrImageCapReached)
	}
	images = append(images, imageBase64)
	if err := putJSON(ctx, a.backend, CollectionImages, sessionID, images); err != nil {
		return fmt.Errorf("failed to write images for session_id %s: %w", sessionID, err)
	}

	slog.Debug("image cached",
		slog.String("session_id", sessionID),
		slog.Int("count", len(images)),
	)
	return nil
}

func (a *Attachments) Images(ctx context.Context, sessionID string) ([]string, error) {
	var images []string
	if err := getJSON(ctx, a.backend, CollectionImages, sessionID, &images); err != nil {
		return nil, err
	}
	return images, nil
}

// Delete removes every attachment of a session.
func (a *Attachments) Delete(ctx context.Context, sessionID string) error {
	if err := a.backend.Delete(ctx, CollectionAudio, sessionID); err != nil {
		return err
	}
	return a.backend.Delete(ctx, CollectionImages, sessionID)
}
