package streaming

import (
	"bytes"

	"github.com/sunbk201/speedreader/internal/engine"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

type token struct {
	html.Token
	raw []byte
}

// chunker turns arbitrarily split input into whole tokens. Each feed
// re-tokenizes the unconsumed tail and commits every token but the last,
// which a later chunk may still extend.
type chunker struct {
	pending []byte
	// rawTag is the raw-text element the tail starts inside of, so that a
	// restarted tokenizer does not read script or style text as markup.
	rawTag string
	maxBuf int
}

func (c *chunker) feed(p []byte, final bool, emit func(*token) error) error {
	c.pending = append(c.pending, p...)

	z := html.NewTokenizerFragment(bytes.NewReader(c.pending), c.rawTag)
	var (
		held     *token
		consumed int
	)
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			break
		}
		t := &token{raw: append([]byte(nil), z.Raw()...)}
		t.Token = z.Token()
		if held != nil {
			if err := c.commit(held, &consumed, emit); err != nil {
				return err
			}
		}
		held = t
	}
	if final {
		if held != nil {
			if err := c.commit(held, &consumed, emit); err != nil {
				return err
			}
		}
		c.pending = nil
		c.rawTag = ""
		return nil
	}

	c.pending = append(c.pending[:0], c.pending[consumed:]...)
	// A single token may not grow without bound.
	if c.maxBuf > 0 && len(c.pending) > c.maxBuf {
		return engine.ErrBufferExceeded
	}
	return nil
}

func (c *chunker) commit(t *token, consumed *int, emit func(*token) error) error {
	*consumed += len(t.raw)
	c.rawTag = ""
	// The tokenizer enters raw text after <script/> as well.
	if (t.Type == html.StartTagToken || t.Type == html.SelfClosingTagToken) && rawTextElements[t.DataAtom] {
		c.rawTag = t.Data
	}
	return emit(t)
}

func (c *chunker) reset() {
	c.pending = nil
	c.rawTag = ""
}

var rawTextElements = map[atom.Atom]bool{
	atom.Iframe:    true,
	atom.Noembed:   true,
	atom.Noframes:  true,
	atom.Noscript:  true,
	atom.Plaintext: true,
	atom.Script:    true,
	atom.Style:     true,
	atom.Textarea:  true,
	atom.Title:     true,
	atom.Xmp:       true,
}
