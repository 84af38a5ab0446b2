package auth

import (
	"net/url"
	"strings"
)

// ReadCookie extracts the value of the named cookie from a Cookie header
// string ("a=1; csrftoken=abc"). Values are percent-decoded.
func ReadCookie(cookieHeader, name string) (string, bool) {
	if cookieHeader == "" || name == "" {
		return "", false
	}
	prefix := name + "="
	for _, part := range strings.Split(cookieHeader, ";") {
		part = strings.TrimSpace(part)
		if !strings.HasPrefix(part, prefix) {
			continue
		}
		raw := part[len(prefix):]
		value, err := url.PathUnescape(raw)
		if err != nil {
			return raw, true
		}
		return value, true
	}
	return "", false
}
