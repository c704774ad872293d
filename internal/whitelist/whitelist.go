// Package whitelist holds the site rules that decide which pages are
// rewritten and how. A Whitelist is immutable once built; updates replace it
// wholesale through a Store.
package whitelist

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"slices"
	"strings"

	"github.com/dlclark/regexp2"
	"github.com/sunbk201/speedreader/internal/common"
	"github.com/sunbk201/speedreader/internal/engine/streaming"
)

var (
	ErrNoDomains        = errors.New("whitelist entry has no domains")
	ErrEntryType        = errors.New("whitelist entry type must be streaming or heuristics")
	ErrDuplicateDomain  = errors.New("whitelist domain listed twice")
	ErrEmptyWhitelist   = errors.New("whitelist has no entries")
	ErrInvalidDomain    = errors.New("whitelist domain is invalid")
	ErrInvalidURLRule   = errors.New("whitelist url rule does not compile")
	ErrInvalidSiteRules = errors.New("whitelist streaming entry has invalid rules")
)

// Entry maps a set of domains to a rewriter type and its site payload.
type Entry struct {
	Domains []string
	Type    common.RewriterType
	// URLRules optionally narrow the entry to matching URLs.
	URLRules []string
	// Config is opaque here. Streaming entries carry encoded
	// streaming.Rules.
	Config []byte

	urlRules []*regexp2.Regexp
}

func (e *Entry) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Any("domains", e.Domains),
		slog.String("type", e.Type.String()),
		slog.Int("url-rules", len(e.URLRules)),
		slog.Int("config", len(e.Config)),
	)
}

// compile validates e and returns a normalized copy with its url rules
// compiled. e itself is left as it was.
func (e *Entry) compile() (*Entry, error) {
	if len(e.Domains) == 0 {
		return nil, ErrNoDomains
	}
	if !e.Type.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrEntryType, e.Type)
	}
	c := &Entry{
		Domains:  make([]string, 0, len(e.Domains)),
		Type:     e.Type,
		URLRules: slices.Clone(e.URLRules),
		Config:   slices.Clone(e.Config),
		urlRules: make([]*regexp2.Regexp, 0, len(e.URLRules)),
	}
	for _, d := range e.Domains {
		norm := normalizeHost(d)
		if norm == "" || strings.ContainsAny(norm, "/:* ") {
			return nil, fmt.Errorf("%w: %q", ErrInvalidDomain, d)
		}
		c.Domains = append(c.Domains, norm)
	}
	for _, rule := range c.URLRules {
		re, err := regexp2.Compile(rule, regexp2.IgnoreCase)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %w", ErrInvalidURLRule, rule, err)
		}
		c.urlRules = append(c.urlRules, re)
	}
	if c.Type == common.RewriterStreaming {
		if _, err := streaming.ParseRules(c.Config); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidSiteRules, err)
		}
	}
	return c, nil
}

// Rules decodes the streaming payload of the entry.
func (e *Entry) Rules() (*streaming.Rules, error) {
	return streaming.ParseRules(e.Config)
}

func (e *Entry) matchURL(rawURL string) bool {
	if len(e.urlRules) == 0 {
		return true
	}
	for _, re := range e.urlRules {
		if ok, _ := re.MatchString(rawURL); ok {
			return true
		}
	}
	return false
}

// Whitelist is an indexed, read-only set of entries.
type Whitelist struct {
	Version uint32
	Entries []*Entry

	index map[string]*Entry
}

// New validates entries and indexes normalized copies of them by domain.
func New(version uint32, entries []*Entry) (*Whitelist, error) {
	if len(entries) == 0 {
		return nil, ErrEmptyWhitelist
	}
	w := &Whitelist{
		Version: version,
		Entries: make([]*Entry, 0, len(entries)),
		index:   make(map[string]*Entry),
	}
	for i, raw := range entries {
		e, err := raw.compile()
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		w.Entries = append(w.Entries, e)
		for _, d := range e.Domains {
			if _, ok := w.index[d]; ok {
				return nil, fmt.Errorf("entry %d: %w: %s", i, ErrDuplicateDomain, d)
			}
			w.index[d] = e
		}
	}
	return w, nil
}

func (w *Whitelist) Len() int {
	return len(w.Entries)
}

// Lookup finds the entry for u. Domains match the host exactly or as a
// suffix at a label boundary, most specific first.
func (w *Whitelist) Lookup(u *url.URL) (*Entry, bool) {
	if w == nil || u == nil {
		return nil, false
	}
	host := normalizeHost(u.Hostname())
	raw := u.String()
	for host != "" {
		if e, ok := w.index[host]; ok && e.matchURL(raw) {
			return e, true
		}
		i := strings.IndexByte(host, '.')
		if i < 0 {
			break
		}
		host = host[i+1:]
	}
	return nil, false
}

func normalizeHost(h string) string {
	return strings.Trim(strings.ToLower(strings.TrimSpace(h)), ".")
}
