// Package heuristics extracts the readable part of an arbitrary article page
// by scoring its blocks. The whole document is buffered; output is produced
// once, at End.
package heuristics

import (
	"bytes"
	"context"
	"fmt"
	"html"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/sunbk201/speedreader/internal/engine"
)

// Product is an extracted article.
type Product struct {
	Meta    Meta
	Content string
}

// Extract builds the reader view of body. base resolves relative links and
// may be nil.
func Extract(ctx context.Context, body []byte, base *url.URL, opts engine.Options) (*Product, error) {
	if engine.LooksBinary(body) {
		return nil, engine.ErrNotHTML
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("goquery.NewDocumentFromReader: %w", err)
	}

	meta := extractMetadata(doc.Nodes[0])
	meta.Title = cleanTitle(doc, meta.Title)

	preprocess(doc)
	sc := newScorer(ctx, doc)
	top, err := sc.topCandidate()
	if err != nil {
		return nil, err
	}
	top = sc.appendRelatedSiblings(top)
	clean(top, sc, meta, base)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if opts.MinOutputLength > 0 && textLen(top) < opts.MinOutputLength {
		return nil, engine.ErrTooSmall
	}
	if textLen(top) == 0 && top.Find("img, picture, video").Length() == 0 {
		return nil, engine.ErrNoContent
	}

	isBody := top.Is("body")
	postProcess(top, meta)
	inner, err := top.Html()
	if err != nil {
		return nil, fmt.Errorf("render article: %w", err)
	}
	inner = sanitize(inner)

	var b strings.Builder
	if opts.HasPresentation() {
		b.WriteString("<html")
		writeAttr(&b, "data-theme", opts.Theme)
		writeAttr(&b, "data-font-family", opts.FontFamily)
		writeAttr(&b, "data-font-size", opts.FontSize)
		writeAttr(&b, "data-column-width", opts.ColumnWidth)
		b.WriteString(">")
	}
	if meta.Title != "" {
		b.WriteString("<title>" + html.EscapeString(meta.Title) + "</title>")
	}
	if meta.Charset != "" {
		b.WriteString(`<meta charset="` + html.EscapeString(meta.Charset) + `"/>`)
	}
	if isBody {
		b.WriteString(`<body id="article">` + inner + `</body>`)
	} else {
		b.WriteString(`<body id="article"><main><article>` + inner + `</article></main></body>`)
	}
	if opts.HasPresentation() {
		b.WriteString("</html>")
	}

	return &Product{Meta: meta, Content: b.String()}, nil
}

func writeAttr(b *strings.Builder, key, val string) {
	if val == "" {
		return
	}
	b.WriteString(" " + key + `="` + html.EscapeString(val) + `"`)
}

// Engine buffers a document and extracts it at End.
type Engine struct {
	ctx  context.Context
	base *url.URL
	opts engine.Options
	out  func([]byte)
	buf  bytes.Buffer
}

func New(ctx context.Context, base *url.URL, opts engine.Options, out func([]byte)) *Engine {
	if opts.MaxBufferSize <= 0 {
		opts.MaxBufferSize = engine.DefaultMaxBufferSize
	}
	return &Engine{ctx: ctx, base: base, opts: opts, out: out}
}

func (e *Engine) Write(p []byte) error {
	if e.buf.Len() == 0 && engine.LooksBinary(p) {
		return engine.ErrNotHTML
	}
	if e.buf.Len()+len(p) > e.opts.MaxBufferSize {
		return engine.ErrBufferExceeded
	}
	e.buf.Write(p)
	return nil
}

func (e *Engine) End() error {
	product, err := Extract(e.ctx, e.buf.Bytes(), e.base, e.opts)
	e.buf.Reset()
	if err != nil {
		return err
	}
	e.out([]byte(product.Content))
	return nil
}

func (e *Engine) Close() error {
	e.buf = bytes.Buffer{}
	return nil
}
