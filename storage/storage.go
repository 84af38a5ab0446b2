package storage

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/gennadis/voicechat/internal/chat"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // sqlite driver
)

// Logical collections of the cache.
const (
	CollectionSessions = "sessions"
	CollectionMessages = "messages"
	CollectionAudio    = "audio"
	CollectionImages   = "images"
	CollectionPrefs    = "prefs"
)

// Backend is a durable key-value space partitioned into collections. Get
// returns chat.ErrCacheMiss for absent keys; Put returns chat.ErrStorageQuota
// when the write would exceed the size budget.
type Backend interface {
	Put(ctx context.Context, collection, key string, value []byte) error
	Get(ctx context.Context, collection, key string) ([]byte, error)
	Delete(ctx context.Context, collection, key string) error
	Keys(ctx context.Context, collection string) ([]string, error)
	Close() error
}

// NewSqliteDB creates a new sqlite database
func NewSqliteDB(file string) (*sqlx.DB, error) {
	db, err := sqlx.Connect("sqlite", file)
	if err != nil {
		return nil, err
	}
	// a single connection keeps ":memory:" databases shared and serializes writers
	db.SetMaxOpenConns(1)
	return db, nil
}

func getJSON(ctx context.Context, b Backend, collection, key string, v any) error {
	raw, err := b.Get(ctx, collection, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return &chat.DecodeError{What: collection + "/" + key, Err: err}
	}
	return nil
}

func putJSON(ctx context.Context, b Backend, collection, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.Put(ctx, collection, key, raw)
}

func isMiss(err error) bool {
	return errors.Is(err, chat.ErrCacheMiss)
}
