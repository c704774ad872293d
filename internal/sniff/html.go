package sniff

import (
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

const htmlMIME = "text/html"

// IsHTMLContentType reports whether a Content-Type header names an HTML
// document. Parameters such as charset are ignored.
func IsHTMLContentType(contentType string) bool {
	return mediaType(contentType) == htmlMIME
}

// IsHTML decides from the Content-Type, and from the leading body bytes when
// the header is missing or generic.
func IsHTML(contentType string, head []byte) bool {
	if IsHTMLContentType(contentType) {
		return true
	}
	switch mediaType(contentType) {
	case "", "application/octet-stream", "text/plain":
		if len(head) == 0 {
			return false
		}
		return mimetype.Detect(head).Is(htmlMIME)
	}
	return false
}

func mediaType(contentType string) string {
	mt, _, _ := strings.Cut(contentType, ";")
	return strings.ToLower(strings.TrimSpace(mt))
}
