package common

import (
	"fmt"
	"strings"
)

// RewriterType selects the transform applied to a document.
type RewriterType int

const (
	// RewriterUnknown lets the resolver decide. It is never the effective
	// type of a running session.
	RewriterUnknown RewriterType = iota
	// RewriterStreaming is the site-specific declarative rewrite.
	RewriterStreaming
	// RewriterHeuristics is the generic readability extraction.
	RewriterHeuristics
)

func (t RewriterType) String() string {
	switch t {
	case RewriterStreaming:
		return "streaming"
	case RewriterHeuristics:
		return "heuristics"
	default:
		return "unknown"
	}
}

func (t RewriterType) Valid() bool {
	return t == RewriterStreaming || t == RewriterHeuristics
}

func ParseRewriterType(s string) (RewriterType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "unknown":
		return RewriterUnknown, nil
	case "streaming":
		return RewriterStreaming, nil
	case "heuristics":
		return RewriterHeuristics, nil
	default:
		return RewriterUnknown, fmt.Errorf("unknown rewriter type: %q", s)
	}
}

func (t RewriterType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *RewriterType) UnmarshalText(text []byte) error {
	v, err := ParseRewriterType(string(text))
	if err != nil {
		return err
	}
	*t = v
	return nil
}
