package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gennadis/voicechat/internal/auth"
	"github.com/gennadis/voicechat/internal/chat"
	"github.com/gennadis/voicechat/internal/config"
	"github.com/gennadis/voicechat/internal/media"
)

const (
	JSONContentType = "application/json"
)

type ApiErrorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Detail  string `json:"detail"`
	Error   string `json:"error"`
}

// Client talks to the remote chat API. It holds no chat state of its own.
type Client struct {
	httpClient   *http.Client
	baseURL      string
	mediaBaseURL string
	CSRF         *auth.CSRFHandler
}

// NewClient creates a client for cfg.BaseURL sharing the cookie jar of csrf.
func NewClient(cfg *config.Config, csrf *auth.CSRFHandler) *Client {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &Client{
		httpClient:   &http.Client{Timeout: timeout, Jar: csrf.Jar()},
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		mediaBaseURL: cfg.MediaBaseURL,
		CSRF:         csrf,
	}
}

// MediaURL resolves a media path returned by the API.
func (c *Client) MediaURL(path string) string {
	return media.ResolveURL(c.mediaBaseURL, path)
}

func (c *Client) endpoint(path string, query url.Values) string {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

func (c *Client) postJSON(ctx context.Context, op, path string, payload any) ([]byte, http.Header, error) {
	reqBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: marshal request: %w", op, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(path, nil), bytes.NewReader(reqBytes))
	if err != nil {
		slog.Error("Failed to build request", slog.String("op", op), "error", err)
		return nil, nil, err
	}
	req.Header.Set("Content-Type", JSONContentType)
	return c.do(op, req)
}

// do sends an authorized request and returns the body of a 2xx response.
func (c *Client) do(op string, req *http.Request) ([]byte, http.Header, error) {
	c.authorize(req)

	res, err := c.httpClient.Do(req)
	if err != nil {
		slog.Error("Failed to send request", slog.String("op", op), "error", err)
		return nil, nil, &chat.NetworkError{Op: op, Err: err}
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		slog.Error("Failed to read response body", slog.String("op", op), "error", err)
		return nil, nil, &chat.NetworkError{Op: op, Status: res.StatusCode, Err: err}
	}

	if err := handleApiError(op, res, body); err != nil {
		slog.Error("Api request failed", slog.String("op", op), "error", err)
		return nil, nil, err
	}
	return body, res.Header, nil
}

func handleApiError(op string, res *http.Response, body []byte) error {
	if res.StatusCode >= 200 && res.StatusCode < 300 {
		return nil
	}
	apiErr := ApiErrorResponse{}
	message := ""
	if err := json.Unmarshal(body, &apiErr); err == nil {
		for _, m := range []string{apiErr.Message, apiErr.Detail, apiErr.Error} {
			if m != "" {
				message = m
				break
			}
		}
	} else {
		slog.Debug("non-json error response", slog.String("op", op), slog.Int("status", res.StatusCode))
	}
	return &chat.NetworkError{Op: op, Status: res.StatusCode, Message: message}
}

func decode(what string, body []byte, v any) error {
	if err := json.Unmarshal(body, v); err != nil {
		return &chat.DecodeError{What: what, Err: err}
	}
	return nil
}
