package log

import (
	"bytes"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
)

const subscriberBuffer = 256

// Filter selects the log lines a subscriber receives. The zero Filter
// passes everything.
type Filter struct {
	// Contains keeps lines holding this substring, e.g. "rewrite".
	Contains string
	// Level keeps lines at or above it, e.g. "warn". Lines without a
	// level attribute are always kept.
	Level string
}

func (f Filter) match(line []byte) bool {
	if f.Contains != "" && !bytes.Contains(line, []byte(f.Contains)) {
		return false
	}
	if f.Level == "" {
		return true
	}
	lvl, ok := lineLevel(line)
	return !ok || lvl >= ParseLevel(f.Level)
}

// lineLevel reads the level attribute of a text handler line.
func lineLevel(line []byte) (slog.Level, bool) {
	i := bytes.Index(line, []byte("level="))
	if i < 0 {
		return 0, false
	}
	v := line[i+len("level="):]
	if end := bytes.IndexAny(v, " \n"); end >= 0 {
		v = v[:end]
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText(v); err != nil {
		return 0, false
	}
	return lvl, true
}

// Subscription is one /logs reader.
type Subscription struct {
	lines   chan []byte
	filter  Filter
	dropped atomic.Int64
}

// Lines is closed on Unsubscribe.
func (s *Subscription) Lines() <-chan []byte {
	return s.lines
}

// Dropped counts lines lost because the reader fell behind.
func (s *Subscription) Dropped() int64 {
	return s.dropped.Load()
}

// Broadcaster copies every log line to the matching subscribers. A
// subscriber that falls behind loses lines instead of blocking the logger.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[*Subscription]struct{}
}

var _ io.Writer = (*Broadcaster)(nil)

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subscribers: make(map[*Subscription]struct{}),
	}
}

func (b *Broadcaster) Write(p []byte) (int, error) {
	var line []byte
	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subscribers {
		if !sub.filter.match(p) {
			continue
		}
		if line == nil {
			line = append([]byte(nil), p...)
		}
		select {
		case sub.lines <- line:
		default:
			sub.dropped.Add(1)
		}
	}
	return len(p), nil
}

func (b *Broadcaster) Subscribe(f Filter) *Subscription {
	sub := &Subscription{
		lines:  make(chan []byte, subscriberBuffer),
		filter: f,
	}
	b.mu.Lock()
	b.subscribers[sub] = struct{}{}
	b.mu.Unlock()
	return sub
}

func (b *Broadcaster) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subscribers[sub]; !ok {
		return
	}
	delete(b.subscribers, sub)
	close(sub.lines)
}

func (b *Broadcaster) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
