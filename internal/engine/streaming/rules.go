package streaming

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/andybalholm/cascadia"
	"google.golang.org/protobuf/encoding/protowire"
)

// Rules is the site payload carried by a streaming whitelist entry.
type Rules struct {
	MainContent        []string `yaml:"main-content" json:"main-content"`
	MainContentCleanup []string `yaml:"main-content-cleanup,omitempty" json:"main-content-cleanup,omitempty"`
	Delazify           bool     `yaml:"delazify,omitempty" json:"delazify,omitempty"`
	FixEmbeds          bool     `yaml:"fix-embeds,omitempty" json:"fix-embeds,omitempty"`
	ContentScript      string   `yaml:"content-script,omitempty" json:"content-script,omitempty"`
}

const (
	fieldMainContent        protowire.Number = 1
	fieldMainContentCleanup protowire.Number = 2
	fieldDelazify           protowire.Number = 3
	fieldFixEmbeds          protowire.Number = 4
	fieldContentScript      protowire.Number = 5
)

var ErrNoMainContent = errors.New("streaming rules: no main content selector")

// Marshal encodes the rules with the protobuf wire format.
func (r *Rules) Marshal() []byte {
	var b []byte
	for _, s := range r.MainContent {
		b = protowire.AppendTag(b, fieldMainContent, protowire.BytesType)
		b = protowire.AppendString(b, s)
	}
	for _, s := range r.MainContentCleanup {
		b = protowire.AppendTag(b, fieldMainContentCleanup, protowire.BytesType)
		b = protowire.AppendString(b, s)
	}
	if r.Delazify {
		b = protowire.AppendTag(b, fieldDelazify, protowire.VarintType)
		b = protowire.AppendVarint(b, 1)
	}
	if r.FixEmbeds {
		b = protowire.AppendTag(b, fieldFixEmbeds, protowire.VarintType)
		b = protowire.AppendVarint(b, 1)
	}
	if r.ContentScript != "" {
		b = protowire.AppendTag(b, fieldContentScript, protowire.BytesType)
		b = protowire.AppendString(b, r.ContentScript)
	}
	return b
}

// ParseRules decodes and validates a rules payload. Unknown fields are
// skipped.
func ParseRules(b []byte) (*Rules, error) {
	r := &Rules{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("streaming rules: %w", protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == fieldMainContent && typ == protowire.BytesType:
			var v string
			v, n = protowire.ConsumeString(b)
			r.MainContent = append(r.MainContent, v)
		case num == fieldMainContentCleanup && typ == protowire.BytesType:
			var v string
			v, n = protowire.ConsumeString(b)
			r.MainContentCleanup = append(r.MainContentCleanup, v)
		case num == fieldDelazify && typ == protowire.VarintType:
			var v uint64
			v, n = protowire.ConsumeVarint(b)
			r.Delazify = v != 0
		case num == fieldFixEmbeds && typ == protowire.VarintType:
			var v uint64
			v, n = protowire.ConsumeVarint(b)
			r.FixEmbeds = v != 0
		case num == fieldContentScript && typ == protowire.BytesType:
			r.ContentScript, n = protowire.ConsumeString(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return nil, fmt.Errorf("streaming rules field %d: %w", num, protowire.ParseError(n))
		}
		b = b[n:]
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// Validate checks that every selector compiles.
func (r *Rules) Validate() error {
	_, _, err := r.compile()
	return err
}

func (r *Rules) compile() (main, cleanup []cascadia.Selector, err error) {
	if len(r.MainContent) == 0 {
		return nil, nil, ErrNoMainContent
	}
	if main, err = compileAll(r.MainContent); err != nil {
		return nil, nil, err
	}
	if cleanup, err = compileAll(r.MainContentCleanup); err != nil {
		return nil, nil, err
	}
	return main, cleanup, nil
}

func compileAll(selectors []string) ([]cascadia.Selector, error) {
	out := make([]cascadia.Selector, 0, len(selectors))
	for _, s := range selectors {
		sel, err := cascadia.Compile(s)
		if err != nil {
			return nil, fmt.Errorf("selector %q: %w", s, err)
		}
		out = append(out, sel)
	}
	return out, nil
}

func (r *Rules) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Any("main-content", r.MainContent),
		slog.Any("main-content-cleanup", r.MainContentCleanup),
		slog.Bool("delazify", r.Delazify),
		slog.Bool("fix-embeds", r.FixEmbeds),
		slog.Int("content-script", len(r.ContentScript)),
	)
}
