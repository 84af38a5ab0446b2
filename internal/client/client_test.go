package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gennadis/voicechat/internal/apitest"
	"github.com/gennadis/voicechat/internal/auth"
	"github.com/gennadis/voicechat/internal/chat"
	"github.com/gennadis/voicechat/internal/config"
	"github.com/gennadis/voicechat/internal/media"
)

func newTestClient(t *testing.T, baseURL, mediaURL string) *Client {
	t.Helper()
	csrf, err := auth.NewCSRFHandler(baseURL, apitest.CSRFToken)
	if err != nil {
		t.Fatalf("csrf handler: %v", err)
	}
	cfg := &config.Config{BaseURL: baseURL, MediaBaseURL: mediaURL, RequestTimeout: 5 * time.Second}
	return NewClient(cfg, csrf)
}

func TestClient_CreateAndSend(t *testing.T) {
	srv := apitest.Start(t)
	c := newTestClient(t, srv.BaseURL(), srv.URL)
	ctx := context.Background()

	code, err := c.CreateChat(ctx, "New chat")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	resp, err := c.SendMessage(ctx, SendRequest{ChatCode: code, Input: Input{Text: "Hello"}, GenerateImage: true})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if *resp.OutputText != "echo: Hello" {
		t.Fatalf("unexpected output %q", *resp.OutputText)
	}
	if len(resp.Files) != 1 || resp.Files[0].OutputImage == "" {
		t.Fatalf("expected one image file, got %+v", resp.Files)
	}

	reqs := srv.Requests()
	last := reqs[len(reqs)-1]
	if last.CSRF != apitest.CSRFToken {
		t.Fatalf("csrf header not sent, got %q", last.CSRF)
	}
	want := map[string]string{"input_type": "text", "input_content": "Hello", "generate_image": "true", "chat_code": code}
	for k, v := range want {
		if last.Form[k] != v {
			t.Fatalf("form field %s: expected %q, got %q", k, v, last.Form[k])
		}
	}
	if _, ok := last.Form["new_chat"]; ok {
		t.Fatalf("new_chat must only be sent for local sessions")
	}
}

func TestClient_SendAudio(t *testing.T) {
	srv := apitest.Start(t)
	c := newTestClient(t, srv.BaseURL(), srv.URL)
	ctx := context.Background()

	blob, err := media.WAVBlob([]float32{0, 0.5, -0.5}, 16000)
	if err != nil {
		t.Fatalf("wav: %v", err)
	}
	resp, err := c.SendMessage(ctx, SendRequest{ChatCode: "local-x", NewChat: true, Input: Input{Audio: blob}})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if resp.Code == "" || resp.InputText == "" {
		t.Fatalf("expected server code and input text, got %+v", resp)
	}
	if len(resp.Files) != 1 || resp.Files[0].OutputAudio == "" {
		t.Fatalf("expected audio file, got %+v", resp.Files)
	}

	reqs := srv.Requests()
	last := reqs[len(reqs)-1]
	if last.Form["input_type"] != "audio" || last.Form["new_chat"] != "true" {
		t.Fatalf("unexpected form %v", last.Form)
	}
	if string(last.Audio) != string(blob.Data) {
		t.Fatalf("audio payload changed in transit")
	}
}

func TestClient_ServerErrorIsNetworkError(t *testing.T) {
	srv := apitest.Start(t)
	c := newTestClient(t, srv.BaseURL(), srv.URL)
	srv.FailNext(http.MethodPost, "/chat", http.StatusInternalServerError)

	_, err := c.SendMessage(context.Background(), SendRequest{ChatCode: "x", Input: Input{Text: "hi"}})
	var netErr *chat.NetworkError
	if !errors.As(err, &netErr) {
		t.Fatalf("expected NetworkError, got %v", err)
	}
	if netErr.Status != http.StatusInternalServerError || netErr.Message != "injected failure" {
		t.Fatalf("unexpected error %+v", netErr)
	}
	if !errors.Is(err, chat.ErrNetwork) {
		t.Fatalf("expected errors.Is ErrNetwork")
	}
}

func TestClient_TransportErrorIsNetworkError(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()

	c := newTestClient(t, url, url)
	if _, err := c.ListChats(context.Background()); !errors.Is(err, chat.ErrNetwork) {
		t.Fatalf("expected network error, got %v", err)
	}
}

func TestClient_MissingCSRF(t *testing.T) {
	srv := apitest.Start(t)
	csrf, err := auth.NewCSRFHandler(srv.BaseURL(), "")
	if err != nil {
		t.Fatalf("csrf handler: %v", err)
	}
	c := NewClient(&config.Config{BaseURL: srv.BaseURL()}, csrf)

	_, err = c.CreateChat(context.Background(), "t")
	var netErr *chat.NetworkError
	if !errors.As(err, &netErr) || netErr.Status != http.StatusForbidden {
		t.Fatalf("expected 403, got %v", err)
	}

	if err := csrf.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if _, err := c.CreateChat(context.Background(), "t"); err != nil {
		t.Fatalf("create after refresh: %v", err)
	}
}

func TestClient_ResponseShapeValidation(t *testing.T) {
	cases := map[string]string{
		"/api/chat":        `{"files": []}`,
		"/api/chat/create": `{}`,
		"/api/list_chats":  `{"not": "a list"}`,
	}
	mux := http.NewServeMux()
	for path, body := range cases {
		body := body
		mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(body))
		})
	}
	ts := httptest.NewServer(mux)
	defer ts.Close()
	c := newTestClient(t, ts.URL+"/api", ts.URL)
	ctx := context.Background()

	if _, err := c.SendMessage(ctx, SendRequest{ChatCode: "x", Input: Input{Text: "hi"}}); !errors.Is(err, chat.ErrDecode) {
		t.Fatalf("send: expected decode error, got %v", err)
	}
	if _, err := c.CreateChat(ctx, "t"); !errors.Is(err, chat.ErrDecode) {
		t.Fatalf("create: expected decode error, got %v", err)
	}
	if _, err := c.ListChats(ctx); !errors.Is(err, chat.ErrDecode) {
		t.Fatalf("list: expected decode error, got %v", err)
	}
	if _, err := c.History(ctx, "x", 1, 100); !errors.Is(err, chat.ErrDecode) {
		t.Fatalf("history: expected decode error, got %v", err)
	}
}

func TestClient_HistoryListDelete(t *testing.T) {
	srv := apitest.Start(t)
	c := newTestClient(t, srv.BaseURL(), srv.URL)
	ctx := context.Background()
	srv.AddChat("c1", "", time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), 3, 1, 2)

	items, err := c.History(ctx, "c1", 1, 100)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("expected 3 items, got %d", len(items))
	}

	chats, err := c.ListChats(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(chats) != 1 || chats[0].Code != "c1" || chats[0].Title != "" {
		t.Fatalf("unexpected list %+v", chats)
	}
	if got := ParseTime(chats[0].UpdatedAt); !got.Equal(time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected updated_at %v", got)
	}

	if err := c.DeleteChat(ctx, "c1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if srv.HasChat("c1") {
		t.Fatalf("chat still on server")
	}
}

func TestClient_Passthroughs(t *testing.T) {
	srv := apitest.Start(t)
	c := newTestClient(t, srv.BaseURL(), srv.URL)
	ctx := context.Background()

	text, err := c.Transcribe(ctx, media.NewBlob([]byte("abcd"), media.KindWebM))
	if err != nil || text != "4 bytes of audio/webm" {
		t.Fatalf("transcribe: %q %v", text, err)
	}

	blob, err := c.TTS(ctx, "hello")
	if err != nil || blob.Kind != media.KindMP3 || string(blob.Data) != apitest.AudioBytes {
		t.Fatalf("tts: %+v %v", blob, err)
	}

	img, err := c.GenerateImage(ctx, "a cat")
	if err != nil || string(img) != apitest.ImageBytes {
		t.Fatalf("image: %q %v", img, err)
	}

	summary, err := c.GenerateSummary(ctx, "one two three four five")
	if err != nil || summary != "one two three" {
		t.Fatalf("summary: %q %v", summary, err)
	}

	data, err := c.FetchMedia(ctx, "images/1.png")
	if err != nil || string(data) != apitest.ImageBytes {
		t.Fatalf("media: %q %v", data, err)
	}
}

func TestParseTime(t *testing.T) {
	for _, s := range []string{"2024-03-01T10:00:00Z", "2024-03-01T10:00:00.123456", "2024-03-01 10:00:00"} {
		if ParseTime(s).IsZero() {
			t.Fatalf("failed to parse %q", s)
		}
	}
	if !ParseTime("yesterday").IsZero() {
		t.Fatalf("expected zero time for garbage")
	}
}
