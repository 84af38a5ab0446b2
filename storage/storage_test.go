package storage

import (
	"bytes"
	"context"
	"errors"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gennadis/voicechat/internal/chat"
)

func openTestBackend(t *testing.T, quota int64) *SQLite {
	t.Helper()
	db, err := NewSqliteDB(":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	backend, err := NewSQLite(db, quota)
	if err != nil {
		t.Fatalf("new sqlite backend: %v", err)
	}
	t.Cleanup(func() { backend.Close() })
	return backend
}

func TestSQLite_PutGetDelete(t *testing.T) {
	ctx := context.Background()
	b := openTestBackend(t, 0)

	if _, err := b.Get(ctx, CollectionPrefs, "missing"); !errors.Is(err, chat.ErrCacheMiss) {
		t.Fatalf("expected cache miss, got %v", err)
	}
	if err := b.Put(ctx, CollectionPrefs, "k", []byte("v1")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := b.Put(ctx, CollectionPrefs, "k", []byte("v2")); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	got, err := b.Get(ctx, CollectionPrefs, "k")
	if err != nil || string(got) != "v2" {
		t.Fatalf("expected v2, got %q err=%v", got, err)
	}
	keys, err := b.Keys(ctx, CollectionPrefs)
	if err != nil || len(keys) != 1 || keys[0] != "k" {
		t.Fatalf("unexpected keys %v err=%v", keys, err)
	}
	if err := b.Delete(ctx, CollectionPrefs, "k"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := b.Get(ctx, CollectionPrefs, "k"); !errors.Is(err, chat.ErrCacheMiss) {
		t.Fatalf("expected miss after delete, got %v", err)
	}
}

func TestSQLite_Quota(t *testing.T) {
	ctx := context.Background()
	b := openTestBackend(t, 10)

	if err := b.Put(ctx, CollectionAudio, "a", make([]byte, 8)); err != nil {
		t.Fatalf("put within quota: %v", err)
	}
	if err := b.Put(ctx, CollectionAudio, "b", make([]byte, 3)); !errors.Is(err, chat.ErrStorageQuota) {
		t.Fatalf("expected quota error, got %v", err)
	}
	// replacing an entry only counts its new size
	if err := b.Put(ctx, CollectionAudio, "a", make([]byte, 10)); err != nil {
		t.Fatalf("replace within quota: %v", err)
	}
	used, err := b.Size(ctx)
	if err != nil || used != 10 {
		t.Fatalf("expected 10 bytes used, got %d err=%v", used, err)
	}
}

func TestCache_QuotaIsFailSoft(t *testing.T) {
	ctx := context.Background()
	cache := NewCache(openTestBackend(t, 64), 0)
	var warnings []string
	cache.OnWarn(func(msg string) { warnings = append(warnings, msg) })

	if err := cache.SaveAudio(ctx, "s1", "audio/wav", make([]byte, 1024)); err != nil {
		t.Fatalf("quota errors must be swallowed, got %v", err)
	}
	if len(warnings) != 1 {
		t.Fatalf("expected one warning, got %v", warnings)
	}
	if _, err := cache.Audio(ctx, "s1"); !errors.Is(err, chat.ErrCacheMiss) {
		t.Fatalf("dropped write must not be stored, got %v", err)
	}
}

func TestSessions_ReadSortedByUpdatedAt(t *testing.T) {
	ctx := context.Background()
	sessions := NewSessions(openTestBackend(t, 0))
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	for i, id := range []string{"old", "newest", "middle"} {
		offset := map[string]time.Duration{"old": 0, "newest": 2 * time.Hour, "middle": time.Hour}[id]
		if err := sessions.Write(ctx, chat.Session{ID: id, Title: "t" + strconv.Itoa(i), UpdatedAt: base.Add(offset)}); err != nil {
			t.Fatalf("write %s: %v", id, err)
		}
	}

	got, err := sessions.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	want := []string{"newest", "middle", "old"}
	for i, id := range want {
		if got[i].ID != id {
			t.Fatalf("position %d: expected %s, got %s", i, id, got[i].ID)
		}
	}
}

func TestSessions_ReplaceKeepsLocalSessions(t *testing.T) {
	ctx := context.Background()
	sessions := NewSessions(openTestBackend(t, 0))
	local, err := chat.NewLocalSession("")
	if err != nil {
		t.Fatalf("local session: %v", err)
	}
	for _, s := range []chat.Session{*local, {ID: "gone", Title: "x"}} {
		if err := sessions.Write(ctx, s); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	if err := sessions.Replace(ctx, []chat.Session{{ID: "server", Title: "y"}}); err != nil {
		t.Fatalf("replace: %v", err)
	}
	got, err := sessions.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	ids := map[string]bool{}
	for _, s := range got {
		ids[s.ID] = true
	}
	if !ids["server"] || !ids[local.ID] || ids["gone"] || len(ids) != 2 {
		t.Fatalf("unexpected sessions after replace: %v", ids)
	}
}

func TestCache_ImageCapRejectsBeyondLimit(t *testing.T) {
	ctx := context.Background()
	cache := NewCache(openTestBackend(t, 0), DefaultMaxImages)
	var warned int
	cache.OnWarn(func(string) { warned++ })

	for i := 0; i < DefaultMaxImages; i++ {
		if err := cache.AppendImage(ctx, "s1", []byte{byte(i)}); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
	for i := 0; i < 5; i++ {
		if err := cache.AppendImage(ctx, "s1", []byte("extra")); !errors.Is(err, chat.ErrImageCapReached) {
			t.Fatalf("expected cap error, got %v", err)
		}
	}

	images, err := cache.Images(ctx, "s1")
	if err != nil {
		t.Fatalf("images: %v", err)
	}
	if len(images) != DefaultMaxImages {
		t.Fatalf("expected %d images, got %d", DefaultMaxImages, len(images))
	}
	// reject policy: the oldest entries survive
	if images[0][0] != 0 || images[DefaultMaxImages-1][0] != byte(DefaultMaxImages-1) {
		t.Fatalf("stored images were reordered or evicted")
	}
	if warned != 5 {
		t.Fatalf("expected 5 warnings, got %d", warned)
	}
}

func TestCache_ImagesSkipUndecodable(t *testing.T) {
	ctx := context.Background()
	backend := openTestBackend(t, 0)
	cache := NewCache(backend, 0)

	if err := backend.Put(ctx, CollectionImages, "s1", []byte(`["aGk=","@@@","data:image/jpeg;base64,aGk="]`)); err != nil {
		t.Fatalf("seed: %v", err)
	}
	images, err := cache.Images(ctx, "s1")
	if err != nil {
		t.Fatalf("images: %v", err)
	}
	if len(images) != 2 || string(images[0]) != "hi" || string(images[1]) != "hi" {
		t.Fatalf("unexpected images %q", images)
	}
}

func TestCache_DeleteSessionCascades(t *testing.T) {
	ctx := context.Background()
	cache := NewCache(openTestBackend(t, 0), 0)

	if err := cache.SaveSession(ctx, chat.Session{ID: "s1", Title: "a"}); err != nil {
		t.Fatalf("save session: %v", err)
	}
	if err := cache.SaveSession(ctx, chat.Session{ID: "s2", Title: "b"}); err != nil {
		t.Fatalf("save session: %v", err)
	}
	if err := cache.SaveTranscript(ctx, "s1", []chat.Message{{ID: 1, SessionID: "s1", Sender: chat.ChatRoleUser, Text: "hi"}}); err != nil {
		t.Fatalf("save transcript: %v", err)
	}
	if err := cache.SaveAudio(ctx, "s1", "audio/wav", []byte("RIFF")); err != nil {
		t.Fatalf("save audio: %v", err)
	}
	if err := cache.AppendImage(ctx, "s1", []byte("jpeg")); err != nil {
		t.Fatalf("append image: %v", err)
	}
	if err := cache.AppendImage(ctx, "s2", []byte("jpeg")); err != nil {
		t.Fatalf("append image: %v", err)
	}
	if err := cache.SetCurrentChatCode(ctx, "s1"); err != nil {
		t.Fatalf("set current: %v", err)
	}

	if err := cache.DeleteSession(ctx, "s1"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	if _, err := cache.Sessions.Get(ctx, "s1"); !errors.Is(err, chat.ErrCacheMiss) {
		t.Fatalf("session should be gone, got %v", err)
	}
	if _, err := cache.Transcript(ctx, "s1"); !errors.Is(err, chat.ErrCacheMiss) {
		t.Fatalf("transcript should be gone, got %v", err)
	}
	if _, err := cache.Audio(ctx, "s1"); !errors.Is(err, chat.ErrCacheMiss) {
		t.Fatalf("audio should be gone, got %v", err)
	}
	if _, err := cache.Images(ctx, "s1"); !errors.Is(err, chat.ErrCacheMiss) {
		t.Fatalf("images should be gone, got %v", err)
	}
	if code, _ := cache.CurrentChatCode(ctx); code != "" {
		t.Fatalf("current chat code should be cleared, got %q", code)
	}
	if images, err := cache.Images(ctx, "s2"); err != nil || len(images) != 1 {
		t.Fatalf("other sessions must be untouched: %v %v", images, err)
	}
}

func TestCache_AudioRoundTrip(t *testing.T) {
	ctx := context.Background()
	cache := NewCache(openTestBackend(t, 0), 0)
	payload := bytes.Repeat([]byte{0, 1, 2, 250}, 64)

	if err := cache.SaveAudio(ctx, "s1", "audio/wav", payload); err != nil {
		t.Fatalf("save audio: %v", err)
	}
	blob, err := cache.Audio(ctx, "s1")
	if err != nil {
		t.Fatalf("audio: %v", err)
	}
	if !bytes.Equal(blob.Data, payload) || blob.MIMEType() != "audio/wav" {
		t.Fatalf("audio payload changed")
	}
}

func TestCache_RekeyMovesEntries(t *testing.T) {
	ctx := context.Background()
	cache := NewCache(openTestBackend(t, 0), 0)
	local, err := chat.NewLocalSession("")
	if err != nil {
		t.Fatalf("local session: %v", err)
	}

	if err := cache.SaveSession(ctx, *local); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := cache.AppendTranscript(ctx, local.ID, chat.Message{ID: 1, SessionID: local.ID, Text: "hi"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := cache.SetCurrentChatCode(ctx, local.ID); err != nil {
		t.Fatalf("set current: %v", err)
	}

	if err := cache.Rekey(ctx, local.ID, "server-code"); err != nil {
		t.Fatalf("rekey: %v", err)
	}

	s, err := cache.Sessions.Get(ctx, "server-code")
	if err != nil || s.ID != "server-code" || s.Local {
		t.Fatalf("unexpected rekeyed session %+v err=%v", s, err)
	}
	msgs, err := cache.Transcript(ctx, "server-code")
	if err != nil || len(msgs) != 1 || msgs[0].SessionID != "server-code" {
		t.Fatalf("unexpected rekeyed transcript %+v err=%v", msgs, err)
	}
	if _, err := cache.Sessions.Get(ctx, local.ID); !errors.Is(err, chat.ErrCacheMiss) {
		t.Fatalf("old key should be gone, got %v", err)
	}
	if code, _ := cache.CurrentChatCode(ctx); code != "server-code" {
		t.Fatalf("current chat code should follow, got %q", code)
	}
}

func seedLocalTranscript(t *testing.T, cache *Cache, id string) {
	t.Helper()
	ctx := context.Background()
	if err := cache.SaveSession(ctx, *chat.NewSession(id, "offline")); err != nil {
		t.Fatalf("save: %v", err)
	}
	msg := chat.Message{ID: 1, SessionID: id, Text: strings.Repeat("x", 300)}
	if err := cache.AppendTranscript(ctx, id, msg); err != nil {
		t.Fatalf("append: %v", err)
	}
}

func TestCache_RekeyUnderTightQuota(t *testing.T) {
	ctx := context.Background()
	backend := openTestBackend(t, 0)
	var warnings []string
	cache := NewCache(backend, 0)
	cache.OnWarn(func(msg string) { warnings = append(warnings, msg) })
	seedLocalTranscript(t, cache, "local-x")

	used, err := backend.Size(ctx)
	if err != nil {
		t.Fatalf("size: %v", err)
	}
	// room for one copy of the session, not two
	backend.quotaBytes = used + 16

	if err := cache.Rekey(ctx, "local-x", "chat-9"); err != nil {
		t.Fatalf("rekey: %v", err)
	}
	if len(warnings) != 0 {
		t.Fatalf("unexpected warnings %v", warnings)
	}
	msgs, err := cache.Transcript(ctx, "chat-9")
	if err != nil || len(msgs) != 1 || msgs[0].SessionID != "chat-9" {
		t.Fatalf("transcript lost during rekey: %+v err=%v", msgs, err)
	}
	if _, err := cache.Transcript(ctx, "local-x"); !errors.Is(err, chat.ErrCacheMiss) {
		t.Fatalf("old key should be gone, got %v", err)
	}
}

func TestCache_RekeyKeepsOriginalWhenTargetDoesNotFit(t *testing.T) {
	ctx := context.Background()
	backend := openTestBackend(t, 0)
	var warnings []string
	cache := NewCache(backend, 0)
	cache.OnWarn(func(msg string) { warnings = append(warnings, msg) })
	seedLocalTranscript(t, cache, "local-x")

	used, err := backend.Size(ctx)
	if err != nil {
		t.Fatalf("size: %v", err)
	}
	backend.quotaBytes = used

	to := "server-code-" + strings.Repeat("9", 40)
	if err := cache.Rekey(ctx, "local-x", to); err != nil {
		t.Fatalf("rekey: %v", err)
	}
	if len(warnings) == 0 {
		t.Fatalf("expected a quota warning")
	}
	msgs, err := cache.Transcript(ctx, "local-x")
	if err != nil || len(msgs) != 1 {
		t.Fatalf("original transcript should survive: %+v err=%v", msgs, err)
	}
	if _, err := cache.Transcript(ctx, to); !errors.Is(err, chat.ErrCacheMiss) {
		t.Fatalf("target should not be cached, got %v", err)
	}
}

func TestRedis_PutGetDelete(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	ctx := context.Background()
	b, err := NewRedis(ctx, addr, os.Getenv("REDIS_PASSWORD"), 15, 0)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer b.Close()

	key := "test-" + strconv.FormatInt(time.Now().UnixNano(), 10)
	if err := b.Put(ctx, CollectionPrefs, key, []byte("v")); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := b.Get(ctx, CollectionPrefs, key)
	if err != nil || string(got) != "v" {
		t.Fatalf("expected v, got %q err=%v", got, err)
	}
	if err := b.Delete(ctx, CollectionPrefs, key); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := b.Get(ctx, CollectionPrefs, key); !errors.Is(err, chat.ErrCacheMiss) {
		t.Fatalf("expected miss, got %v", err)
	}
}
