package client

import (
	"net/http"

	"github.com/gennadis/voicechat/internal/auth"
	"github.com/google/uuid"
)

const requestIDHeader = "X-Request-ID"

// authorize adds the CSRF token and a fresh request id to req.
func (c *Client) authorize(req *http.Request) {
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", JSONContentType)
	}
	req.Header.Set(requestIDHeader, uuid.NewString())
	if c.CSRF == nil {
		return
	}
	if token := c.CSRF.Token(); token != "" {
		req.Header.Set(auth.CSRFHeaderName, token)
	}
}
