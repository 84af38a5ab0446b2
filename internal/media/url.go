package media

import "strings"

const mediaPrefix = "/media/"

// ResolveURL turns a media path returned by the chat API into an absolute
// URL under base. Paths without the /media/ prefix get it prepended;
// absolute http(s) URLs are returned unchanged.
func ResolveURL(base, path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	if !strings.HasPrefix(path, mediaPrefix) {
		path = mediaPrefix + strings.TrimLeft(path, "/")
	}
	return strings.TrimRight(base, "/") + path
}
