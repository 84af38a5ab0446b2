package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gennadis/voicechat/internal/chat"
	"github.com/gennadis/voicechat/internal/media"
)

// Input is the content of one send: typed text or a recorded/uploaded clip.
type Input struct {
	Text  string
	Audio *media.Blob
}

func (in Input) Type() chat.InputType {
	if in.Audio != nil {
		return chat.InputAudio
	}
	return chat.InputText
}

func (in Input) Empty() bool {
	if in.Audio != nil {
		return len(in.Audio.Data) == 0
	}
	return strings.TrimSpace(in.Text) == ""
}

type SendRequest struct {
	ChatCode      string
	NewChat       bool
	Input         Input
	GenerateImage bool
}

// File is one media artifact of an assistant reply. Both fields are media
// paths resolvable with Client.MediaURL.
type File struct {
	OutputAudio string `json:"output_audio,omitempty"`
	OutputImage string `json:"output_image,omitempty"`
}

type SendResponse struct {
	OutputText *string `json:"output_text"`
	Files      []File  `json:"files"`
	InputText  string  `json:"input_text,omitempty"`
	Code       string  `json:"code,omitempty"`
	Title      string  `json:"title,omitempty"`
}

type createChatRequest struct {
	Title string `json:"title"`
}

type createChatResponse struct {
	Code string `json:"code"`
}

type HistoryItem struct {
	ID         int64   `json:"id"`
	InputText  string  `json:"input_text"`
	OutputText string  `json:"output_text"`
	Files      []File  `json:"files"`
	CreatedAt  *string `json:"created_at,omitempty"`
}

type historyResponse struct {
	History *[]HistoryItem `json:"history"`
}

type ChatSummary struct {
	Code      string `json:"code"`
	Title     string `json:"title"`
	UpdatedAt string `json:"updated_at"`
}

type textRequest struct {
	Text string `json:"text"`
}

type transcribeResponse struct {
	Transcription *string `json:"transcription"`
}

type imageResponse struct {
	ImageBase64 *string `json:"image_base64"`
}

type summaryResponse struct {
	SummaryText *string `json:"summary_text"`
}

// CreateChat registers a new chat and returns its code.
func (c *Client) CreateChat(ctx context.Context, title string) (string, error) {
	const op = "create chat"
	body, _, err := c.postJSON(ctx, op, "/chat/create", createChatRequest{Title: title})
	if err != nil {
		return "", err
	}
	resp := createChatResponse{}
	if err := decode("create chat response", body, &resp); err != nil {
		return "", err
	}
	if resp.Code == "" {
		return "", &chat.DecodeError{What: "create chat response: missing code"}
	}

	slog.Debug("chat created", slog.String("code", resp.Code))
	return resp.Code, nil
}

// SendMessage posts one user input and returns the assistant reply.
func (c *Client) SendMessage(ctx context.Context, sr SendRequest) (*SendResponse, error) {
	const op = "send message"
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)

	fields := [][2]string{
		{"input_type", string(sr.Input.Type())},
		{"generate_image", strconv.FormatBool(sr.GenerateImage)},
		{"chat_code", sr.ChatCode},
	}
	if sr.NewChat {
		fields = append(fields, [2]string{"new_chat", "true"})
	}
	if sr.Input.Audio == nil {
		fields = append(fields, [2]string{"input_content", sr.Input.Text})
	}
	for _, f := range fields {
		if err := w.WriteField(f[0], f[1]); err != nil {
			return nil, fmt.Errorf("%s: write field %s: %w", op, f[0], err)
		}
	}
	if sr.Input.Audio != nil {
		if err := writeAudioPart(w, sr.Input.Audio); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("%s: close form: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/chat", nil), buf)
	if err != nil {
		slog.Error("Failed to build send request", "error", err)
		return nil, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	body, _, err := c.do(op, req)
	if err != nil {
		return nil, err
	}
	resp := SendResponse{}
	if err := decode("chat response", body, &resp); err != nil {
		return nil, err
	}
	if resp.OutputText == nil {
		return nil, &chat.DecodeError{What: "chat response: missing output_text"}
	}

	slog.Debug("message sent",
		slog.String("chat_code", sr.ChatCode),
		slog.String("input_type", string(sr.Input.Type())),
		slog.Int("files", len(resp.Files)),
	)
	return &resp, nil
}

// History returns one page of a chat's history as sent by the server.
func (c *Client) History(ctx context.Context, code string, page, perPage int) ([]HistoryItem, error) {
	const op = "load history"
	query := url.Values{
		"chat_code": {code},
		"page":      {strconv.Itoa(page)},
		"per_page":  {strconv.Itoa(perPage)},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("/chat", query), nil)
	if err != nil {
		slog.Error("Failed to build history request", "error", err)
		return nil, err
	}
	body, _, err := c.do(op, req)
	if err != nil {
		return nil, err
	}
	resp := historyResponse{}
	if err := decode("history response", body, &resp); err != nil {
		return nil, err
	}
	if resp.History == nil {
		return nil, &chat.DecodeError{What: "history response: missing history"}
	}
	return *resp.History, nil
}

// DeleteChat removes a chat on the server.
func (c *Client) DeleteChat(ctx context.Context, code string) error {
	const op = "delete chat"
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.endpoint("/chat", url.Values{"chat_code": {code}}), nil)
	if err != nil {
		slog.Error("Failed to build delete request", "error", err)
		return err
	}
	if _, _, err := c.do(op, req); err != nil {
		return err
	}
	slog.Debug("chat deleted", slog.String("code", code))
	return nil
}

// ListChats returns the chats known to the server in server order.
func (c *Client) ListChats(ctx context.Context) ([]ChatSummary, error) {
	const op = "list chats"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("/list_chats", nil), nil)
	if err != nil {
		slog.Error("Failed to build list request", "error", err)
		return nil, err
	}
	body, _, err := c.do(op, req)
	if err != nil {
		return nil, err
	}
	var chats []ChatSummary
	if err := decode("chat list", body, &chats); err != nil {
		return nil, err
	}
	for i, s := range chats {
		if s.Code == "" {
			return nil, &chat.DecodeError{What: fmt.Sprintf("chat list: entry %d has no code", i)}
		}
	}
	return chats, nil
}

// Transcribe converts a clip to text.
func (c *Client) Transcribe(ctx context.Context, blob *media.Blob) (string, error) {
	const op = "transcribe"
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)
	if err := writeAudioPart(w, blob); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("%s: close form: %w", op, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/transcribe", nil), buf)
	if err != nil {
		slog.Error("Failed to build transcribe request", "error", err)
		return "", err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	body, _, err := c.do(op, req)
	if err != nil {
		return "", err
	}
	resp := transcribeResponse{}
	if err := decode("transcribe response", body, &resp); err != nil {
		return "", err
	}
	if resp.Transcription == nil {
		return "", &chat.DecodeError{What: "transcribe response: missing transcription"}
	}
	return *resp.Transcription, nil
}

// TTS synthesizes speech for text and returns the audio payload.
func (c *Client) TTS(ctx context.Context, text string) (*media.Blob, error) {
	const op = "tts"
	body, header, err := c.postJSON(ctx, op, "/tts", textRequest{Text: text})
	if err != nil {
		return nil, err
	}
	if len(body) == 0 {
		return nil, &chat.DecodeError{What: "tts response: empty body"}
	}
	kind := media.KindForContentType(header.Get("Content-Type"))
	if kind == media.KindUnknown {
		return media.Detect(body, ""), nil
	}
	return media.NewBlob(body, kind), nil
}

// GenerateImage returns the decoded image generated for a prompt.
func (c *Client) GenerateImage(ctx context.Context, prompt string) ([]byte, error) {
	const op = "generate image"
	body, _, err := c.postJSON(ctx, op, "/generate-image", textRequest{Text: prompt})
	if err != nil {
		return nil, err
	}
	resp := imageResponse{}
	if err := decode("image response", body, &resp); err != nil {
		return nil, err
	}
	if resp.ImageBase64 == nil {
		return nil, &chat.DecodeError{What: "image response: missing image_base64"}
	}
	return media.DecodeBase64(*resp.ImageBase64)
}

// GenerateSummary summarizes text.
func (c *Client) GenerateSummary(ctx context.Context, text string) (string, error) {
	const op = "generate summary"
	body, _, err := c.postJSON(ctx, op, "/generate-summary", textRequest{Text: text})
	if err != nil {
		return "", err
	}
	resp := summaryResponse{}
	if err := decode("summary response", body, &resp); err != nil {
		return "", err
	}
	if resp.SummaryText == nil {
		return "", &chat.DecodeError{What: "summary response: missing summary_text"}
	}
	return *resp.SummaryText, nil
}

// FetchMedia downloads a media path returned by the API.
func (c *Client) FetchMedia(ctx context.Context, path string) ([]byte, error) {
	const op = "fetch media"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.MediaURL(path), nil)
	if err != nil {
		slog.Error("Failed to build media request", "error", err)
		return nil, err
	}
	req.Header.Set("Accept", "*/*")
	body, _, err := c.do(op, req)
	if err != nil {
		return nil, err
	}
	return body, nil
}

func writeAudioPart(w *multipart.Writer, blob *media.Blob) error {
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="audio"; filename="%s"`, blob.Filename()))
	h.Set("Content-Type", blob.MIMEType())
	part, err := w.CreatePart(h)
	if err != nil {
		return fmt.Errorf("create audio part: %w", err)
	}
	if _, err := io.Copy(part, bytes.NewReader(blob.Data)); err != nil {
		return fmt.Errorf("write audio part: %w", err)
	}
	return nil
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02 15:04:05.999999-07:00",
	"2006-01-02 15:04:05",
}

// ParseTime parses the timestamps the API emits. The zero time is returned
// for empty or unknown formats.
func ParseTime(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	slog.Debug("unparsed timestamp", slog.String("value", s))
	return time.Time{}
}
