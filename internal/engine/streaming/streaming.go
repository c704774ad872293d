// Package streaming implements the site-specific rewrite: elements matched by
// the site's main content selectors are copied through verbatim, everything
// else is dropped, and output is produced while input is still arriving.
package streaming

import (
	"bytes"
	"strings"

	"github.com/andybalholm/cascadia"
	"github.com/sunbk201/speedreader/internal/engine"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

type Engine struct {
	rules   *Rules
	main    []cascadia.Selector
	cleanup []cascadia.Selector
	out     func([]byte)

	chunker chunker
	stack   *stack
	// captureAt and skipAt index the open element that started the copied
	// region and the dropped region inside it; -1 when inactive.
	captureAt int
	skipAt    int

	buf     bytes.Buffer
	started bool
	emitted bool
}

func New(config []byte, opts engine.Options, out func([]byte)) (*Engine, error) {
	rules, err := ParseRules(config)
	if err != nil {
		return nil, err
	}
	return NewWithRules(rules, opts, out)
}

func NewWithRules(rules *Rules, opts engine.Options, out func([]byte)) (*Engine, error) {
	main, cleanup, err := rules.compile()
	if err != nil {
		return nil, err
	}
	return &Engine{
		rules:     rules,
		main:      main,
		cleanup:   cleanup,
		out:       out,
		chunker:   chunker{maxBuf: opts.MaxBufferSize},
		stack:     newStack(),
		captureAt: -1,
		skipAt:    -1,
	}, nil
}

func (e *Engine) Write(p []byte) error {
	if len(p) == 0 {
		return nil
	}
	if !e.started {
		e.started = true
		if engine.LooksBinary(p) {
			return engine.ErrNotHTML
		}
	}
	err := e.chunker.feed(p, false, e.handle)
	e.flush()
	return err
}

func (e *Engine) End() error {
	if err := e.chunker.feed(nil, true, e.handle); err != nil {
		e.flush()
		return err
	}
	if e.captureAt >= 0 {
		// Close what the truncated document left open.
		for i := len(e.stack.open) - 1; i >= e.captureAt; i-- {
			if e.skipAt >= 0 && i >= e.skipAt {
				continue
			}
			e.buf.WriteString("</" + e.stack.open[i].Data + ">")
		}
		e.endCapture(e.captureAt)
	}
	if e.emitted && e.rules.ContentScript != "" {
		e.buf.WriteString("<script>")
		e.buf.WriteString(e.rules.ContentScript)
		e.buf.WriteString("</script>")
	}
	e.flush()
	if !e.emitted {
		return engine.ErrNoContent
	}
	return nil
}

// Close releases the parser state. Output already delivered is unaffected.
func (e *Engine) Close() error {
	e.chunker.reset()
	e.stack = newStack()
	e.buf = bytes.Buffer{}
	return nil
}

func (e *Engine) flush() {
	if e.buf.Len() == 0 {
		return
	}
	e.emitted = true
	e.out(e.buf.Bytes())
	e.buf.Reset()
}

func (e *Engine) capturing() bool {
	return e.captureAt >= 0 && e.skipAt < 0
}

func (e *Engine) handle(t *token) error {
	switch t.Type {
	case html.TextToken:
		if e.capturing() {
			e.buf.Write(t.raw)
		}
	case html.StartTagToken, html.SelfClosingTagToken:
		e.startTag(t)
	case html.EndTagToken:
		e.endTag(t)
	}
	// Comments and doctypes never reach the output.
	return nil
}

func (e *Engine) startTag(t *token) {
	if i := e.stack.impliedEnd(t.DataAtom); i >= 0 {
		e.closeFrom(i)
	}

	void := voidElements[t.DataAtom] || (t.Type == html.SelfClosingTagToken && !rawTextElements[t.DataAtom])
	n := e.stack.insert(t.Token, void)
	depth := len(e.stack.open) - 1

	switch {
	case e.skipAt >= 0:
	case e.captureAt >= 0:
		if e.dropped(n) {
			if e.rules.FixEmbeds && t.DataAtom == atom.Iframe {
				e.writeEmbedLink(t.Token)
			}
			if !void {
				e.skipAt = depth
			}
			return
		}
		e.writeStartTag(t)
	case matchAny(e.main, n):
		e.writeStartTag(t)
		if !void {
			e.captureAt = depth
		}
	}
}

func (e *Engine) endTag(t *token) {
	i := e.stack.lookupName(t.Data)
	if i < 0 {
		return
	}
	if e.captureAt >= 0 && i >= e.captureAt && (e.skipAt < 0 || i < e.skipAt) {
		e.buf.Write(t.raw)
	}
	e.closeFrom(i)
}

// closeFrom pops the element at index i and its descendants, ending any
// copied or dropped region they started.
func (e *Engine) closeFrom(i int) {
	if e.skipAt >= i {
		e.skipAt = -1
	}
	if e.captureAt >= i {
		e.endCapture(i)
		return
	}
	e.stack.popTo(i)
}

func (e *Engine) endCapture(i int) {
	e.captureAt = -1
	e.skipAt = -1
	e.stack.popTo(i)
}

func (e *Engine) dropped(n *html.Node) bool {
	switch n.DataAtom {
	case atom.Script, atom.Style, atom.Noscript:
		return true
	case atom.Iframe:
		if e.rules.FixEmbeds {
			return true
		}
	}
	return matchAny(e.cleanup, n)
}

func (e *Engine) writeStartTag(t *token) {
	if e.rules.Delazify && (t.DataAtom == atom.Img || t.DataAtom == atom.Source) {
		if attrs, ok := delazify(t.Attr); ok {
			tok := t.Token
			tok.Attr = attrs
			e.buf.WriteString(tok.String())
			return
		}
	}
	e.buf.Write(t.raw)
}

func (e *Engine) writeEmbedLink(t html.Token) {
	src := attr(t.Attr, "src")
	if src == "" {
		return
	}
	e.buf.WriteString(`<p class="embed"><a href="`)
	e.buf.WriteString(html.EscapeString(src))
	e.buf.WriteString(`">`)
	e.buf.WriteString(html.EscapeString(embedTitle(t, src)))
	e.buf.WriteString("</a></p>")
}

func embedTitle(t html.Token, src string) string {
	if title := strings.TrimSpace(attr(t.Attr, "title")); title != "" {
		return title
	}
	return src
}

var lazyAttrs = []struct{ from, to string }{
	{"data-src", "src"},
	{"data-lazy-src", "src"},
	{"data-original", "src"},
	{"data-srcset", "srcset"},
	{"data-lazy-srcset", "srcset"},
}

// delazify promotes lazy-loading attributes to the ones a browser loads
// eagerly.
func delazify(attrs []html.Attribute) ([]html.Attribute, bool) {
	out := make([]html.Attribute, 0, len(attrs))
	promoted := map[string]string{}
	for _, a := range attrs {
		moved := false
		for _, l := range lazyAttrs {
			if a.Key == l.from && a.Val != "" {
				if _, ok := promoted[l.to]; !ok {
					promoted[l.to] = a.Val
				}
				moved = true
				break
			}
		}
		if !moved {
			out = append(out, a)
		}
	}
	if len(promoted) == 0 {
		return attrs, false
	}
	for i := range out {
		if v, ok := promoted[out[i].Key]; ok {
			out[i].Val = v
			delete(promoted, out[i].Key)
		}
	}
	for _, key := range []string{"src", "srcset"} {
		if v, ok := promoted[key]; ok {
			out = append(out, html.Attribute{Key: key, Val: v})
		}
	}
	return out, true
}

func attr(attrs []html.Attribute, key string) string {
	for _, a := range attrs {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func matchAny(sels []cascadia.Selector, n *html.Node) bool {
	for _, s := range sels {
		if s.Match(n) {
			return true
		}
	}
	return false
}
