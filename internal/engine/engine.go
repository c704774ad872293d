// Package engine holds what the streaming and heuristics transforms share:
// their options and the failures a rewriter session can be poisoned with.
package engine

import (
	"bytes"
	"errors"
	"log/slog"
)

var (
	ErrNotHTML        = errors.New("input is not html")
	ErrBufferExceeded = errors.New("buffer limit exceeded")
	ErrNoContent      = errors.New("no readable content")
	ErrTooSmall       = errors.New("too small output")
)

const (
	DefaultMaxBufferSize   = 8 << 20
	DefaultMinOutputLength = 0

	// sniffLen is how much of the first chunk is inspected for binary data.
	sniffLen = 512
)

// Options configures both transforms. Presentation fields only affect the
// heuristics output wrapper.
type Options struct {
	MaxBufferSize   int
	MinOutputLength int

	Theme       string
	FontFamily  string
	FontSize    string
	ColumnWidth string
}

func DefaultOptions() Options {
	return Options{
		MaxBufferSize:   DefaultMaxBufferSize,
		MinOutputLength: DefaultMinOutputLength,
	}
}

func (o Options) HasPresentation() bool {
	return o.Theme != "" || o.FontFamily != "" || o.FontSize != "" || o.ColumnWidth != ""
}

func (o Options) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("max-buffer-size", o.MaxBufferSize),
		slog.Int("min-output-length", o.MinOutputLength),
		slog.String("theme", o.Theme),
		slog.String("font-family", o.FontFamily),
		slog.String("font-size", o.FontSize),
		slog.String("column-width", o.ColumnWidth),
	)
}

// LooksBinary reports whether the leading bytes of a document contain a NUL
// byte, which never appears in markup.
func LooksBinary(p []byte) bool {
	if len(p) > sniffLen {
		p = p[:sniffLen]
	}
	return bytes.IndexByte(p, 0) >= 0
}
