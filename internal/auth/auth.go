package auth

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
)

const (
	CSRFCookieName = "csrftoken"
	CSRFHeaderName = "X-CSRFToken"
)

// CSRFHandler keeps the session cookies of the chat API and hands out the
// CSRF token the API expects on every request.
type CSRFHandler struct {
	baseURL    *url.URL
	jar        http.CookieJar
	httpClient *http.Client

	mu    sync.RWMutex
	token string
}

// NewCSRFHandler creates a handler with a fresh cookie jar for baseURL. A
// static token, if given, is used until the server sets its own cookie.
func NewCSRFHandler(baseURL, staticToken string) (*CSRFHandler, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url %q: %w", baseURL, err)
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}
	return &CSRFHandler{
		baseURL:    u,
		jar:        jar,
		httpClient: &http.Client{Jar: jar},
		token:      staticToken,
	}, nil
}

// Jar returns the cookie jar to share with the API client.
func (h *CSRFHandler) Jar() http.CookieJar {
	return h.jar
}

// Token returns the current CSRF token, preferring the cookie set by the server.
func (h *CSRFHandler) Token() string {
	for _, c := range h.jar.Cookies(h.baseURL) {
		if c.Name == CSRFCookieName {
			return c.Value
		}
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.token
}

// SetCookieHeader seeds the jar from a raw Cookie header, e.g. one copied from
// an authenticated browser session.
func (h *CSRFHandler) SetCookieHeader(header string) {
	var cookies []*http.Cookie
	for _, part := range strings.Split(header, ";") {
		name, _, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok || name == "" {
			continue
		}
		value, _ := ReadCookie(header, name)
		cookies = append(cookies, &http.Cookie{Name: name, Value: value, Path: "/"})
	}
	if len(cookies) == 0 {
		return
	}
	h.jar.SetCookies(h.baseURL, cookies)
	if token, ok := ReadCookie(header, CSRFCookieName); ok {
		h.mu.Lock()
		h.token = token
		h.mu.Unlock()
	}
}

// Refresh performs a plain GET against the API root so the server can issue
// its csrftoken cookie.
func (h *CSRFHandler) Refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.baseURL.String(), nil)
	if err != nil {
		slog.Error("Failed to build csrf request", "error", err)
		return err
	}
	res, err := h.httpClient.Do(req)
	if err != nil {
		slog.Error("Failed to send csrf request", "error", err)
		return err
	}
	defer res.Body.Close()

	if h.Token() == "" {
		return fmt.Errorf("server did not set %s cookie (status %d)", CSRFCookieName, res.StatusCode)
	}
	slog.Debug("csrf token refreshed", slog.String("url", h.baseURL.String()))
	return nil
}
