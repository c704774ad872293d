package whitelist

import (
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
)

// Store holds the current whitelist. Readers never lock; a load parses the
// new blob fully before swapping it in, so a failed load leaves the previous
// whitelist in place.
type Store struct {
	current atomic.Pointer[Whitelist]

	mu          sync.Mutex
	subscribers []func(*Whitelist)
}

func NewStore(w *Whitelist) *Store {
	s := &Store{}
	s.current.Store(w)
	return s
}

// NewDefaultStore starts from the built-in whitelist.
func NewDefaultStore() *Store {
	return NewStore(Default())
}

// Current is the whitelist snapshot in use.
func (s *Store) Current() *Whitelist {
	return s.current.Load()
}

// Load replaces the whitelist with the one encoded in blob.
func (s *Store) Load(blob []byte) error {
	w, err := Unmarshal(blob)
	if err != nil {
		return err
	}
	s.Swap(w)
	return nil
}

func (s *Store) LoadFile(path string) error {
	blob, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("os.ReadFile: %w", err)
	}
	if err := s.Load(blob); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// Swap installs w and notifies subscribers.
func (s *Store) Swap(w *Whitelist) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current.Store(w)
	for _, fn := range s.subscribers {
		fn(w)
	}
	slog.Info("Whitelist updated", slog.Uint64("version", uint64(w.Version)), slog.Int("entries", w.Len()))
}

// Subscribe registers fn to run after every swap.
func (s *Store) Subscribe(fn func(*Whitelist)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribers = append(s.subscribers, fn)
}
