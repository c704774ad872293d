// Package speedreader is the entry point for deciding whether a page is
// rewritten and for starting rewriter sessions.
package speedreader

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sunbk201/speedreader/internal/common"
	"github.com/sunbk201/speedreader/internal/engine"
	"github.com/sunbk201/speedreader/internal/rewriter"
	"github.com/sunbk201/speedreader/internal/whitelist"
)

var ErrNoSiteRules = errors.New("streaming rewrite requested for a site without rules")

const (
	DefaultCacheSize = 1024
	DefaultCacheTTL  = 10 * time.Minute
)

type Option func(*SpeedReader)

func WithEngineOptions(opts engine.Options) Option {
	return func(s *SpeedReader) {
		s.opts = opts
	}
}

// WithCache sizes the URL resolution cache.
func WithCache(size int, ttl time.Duration) Option {
	return func(s *SpeedReader) {
		s.cacheSize = size
		s.cacheTTL = ttl
	}
}

// WithBuilder replaces the engines sessions are built with.
func WithBuilder(b rewriter.Builder) Option {
	return func(s *SpeedReader) {
		s.build = b
	}
}

// resolution remembers which whitelist a cached answer came from, so an
// answer computed just before a swap is never served after it.
type resolution struct {
	whitelist *whitelist.Whitelist
	entry     *whitelist.Entry
}

type SpeedReader struct {
	store *whitelist.Store
	opts  engine.Options
	build rewriter.Builder

	cacheSize int
	cacheTTL  time.Duration
	cache     *expirable.LRU[string, resolution]
}

func New(store *whitelist.Store, opts ...Option) *SpeedReader {
	s := &SpeedReader{
		store:     store,
		opts:      engine.DefaultOptions(),
		cacheSize: DefaultCacheSize,
		cacheTTL:  DefaultCacheTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.build == nil {
		s.build = rewriter.NewBuilder(s.opts)
	}
	if s.cacheSize <= 0 {
		s.cacheSize = DefaultCacheSize
	}
	s.cache = expirable.NewLRU[string, resolution](s.cacheSize, nil, s.cacheTTL)
	store.Subscribe(func(*whitelist.Whitelist) {
		s.cache.Purge()
	})
	return s
}

func (s *SpeedReader) Store() *whitelist.Store {
	return s.store
}

func (s *SpeedReader) EngineOptions() engine.Options {
	return s.opts
}

// ReadableURL reports whether rawURL is an http(s) page the whitelist
// covers.
func (s *SpeedReader) ReadableURL(rawURL string) bool {
	_, ok := s.Entry(rawURL)
	return ok
}

// RewriterTypeForURL is the whitelisted type for rawURL, or RewriterUnknown.
func (s *SpeedReader) RewriterTypeForURL(rawURL string) common.RewriterType {
	e, ok := s.Entry(rawURL)
	if !ok {
		return common.RewriterUnknown
	}
	return e.Type
}

// Entry resolves rawURL against the current whitelist.
func (s *SpeedReader) Entry(rawURL string) (*whitelist.Entry, bool) {
	u, ok := parseWebURL(rawURL)
	if !ok {
		return nil, false
	}
	w := s.store.Current()
	if r, ok := s.cache.Get(rawURL); ok && r.whitelist == w {
		return r.entry, r.entry != nil
	}
	e, _ := w.Lookup(u)
	s.cache.Add(rawURL, resolution{whitelist: w, entry: e})
	return e, e != nil
}

// RewriterNew starts a session for rawURL. RewriterUnknown takes the
// whitelisted type and falls back to heuristics for pages the whitelist does
// not cover. Streaming needs site rules.
func (s *SpeedReader) RewriterNew(ctx context.Context, rawURL string, typ common.RewriterType, opts ...rewriter.Option) (*rewriter.Rewriter, error) {
	e, found := s.Entry(rawURL)
	var config []byte
	switch typ {
	case common.RewriterUnknown:
		typ = common.RewriterHeuristics
		if found {
			typ = e.Type
			config = e.Config
		}
	case common.RewriterStreaming:
		if !found || e.Type != common.RewriterStreaming {
			return nil, ErrNoSiteRules
		}
		config = e.Config
	case common.RewriterHeuristics:
	default:
		return nil, rewriter.ErrUnknownType
	}
	return rewriter.New(ctx, rawURL, typ, s.build, config, opts...)
}

func parseWebURL(rawURL string) (*url.URL, bool) {
	if rawURL == "" {
		return nil, false
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, false
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return nil, false
	}
	if u.Hostname() == "" {
		return nil, false
	}
	return u, true
}
