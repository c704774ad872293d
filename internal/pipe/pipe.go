// Package pipe is a bounded, flow-controlled byte pipe with one producer and
// one consumer. Non-blocking calls report ErrShouldWait instead of blocking;
// the Readable and Writable channels signal when retrying may succeed.
package pipe

import (
	"context"
	"errors"
	"io"
	"sync"
)

var (
	// ErrShouldWait means no progress is possible until the peer acts.
	ErrShouldWait = errors.New("pipe: should wait")
	// ErrFailedPrecondition means the peer is closed: a producer can no
	// longer be read from, or a consumer no longer accepts data.
	ErrFailedPrecondition = errors.New("pipe: peer closed")
)

const DefaultCapacity = 64 << 10

type pipe struct {
	mu       sync.Mutex
	buf      []byte
	capacity int

	producerClosed bool
	consumerClosed bool

	readable chan struct{}
	writable chan struct{}
}

// New creates a pipe holding at most capacity unread bytes.
func New(capacity int) (*Producer, *Consumer) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	p := &pipe{
		capacity: capacity,
		readable: make(chan struct{}, 1),
		writable: make(chan struct{}, 1),
	}
	return &Producer{p: p}, &Consumer{p: p}
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

type Producer struct {
	p *pipe
}

// TryWrite copies as much of b as fits and never blocks.
func (w *Producer) TryWrite(b []byte) (int, error) {
	p := w.p
	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case p.producerClosed:
		return 0, io.ErrClosedPipe
	case p.consumerClosed:
		return 0, ErrFailedPrecondition
	case len(b) == 0:
		return 0, nil
	}
	space := p.capacity - len(p.buf)
	if space == 0 {
		return 0, ErrShouldWait
	}
	n := min(space, len(b))
	p.buf = append(p.buf, b[:n]...)
	signal(p.readable)
	return n, nil
}

// Writable fires after the consumer frees space or closes.
func (w *Producer) Writable() <-chan struct{} {
	return w.p.writable
}

// Write blocks until all of b is written, the consumer closes, or ctx is
// done.
func (w *Producer) Write(ctx context.Context, b []byte) (int, error) {
	written := 0
	for written < len(b) {
		n, err := w.TryWrite(b[written:])
		written += n
		switch {
		case errors.Is(err, ErrShouldWait):
			select {
			case <-ctx.Done():
				return written, ctx.Err()
			case <-w.p.writable:
			}
		case err != nil:
			return written, err
		}
	}
	return written, nil
}

// Close marks the end of data. Buffered bytes stay readable.
func (w *Producer) Close() error {
	p := w.p
	p.mu.Lock()
	defer p.mu.Unlock()
	p.producerClosed = true
	signal(p.readable)
	return nil
}

type Consumer struct {
	p *pipe
}

// TryRead copies buffered bytes into b and never blocks. Once the producer
// is closed and the buffer drained it reports ErrFailedPrecondition.
func (r *Consumer) TryRead(b []byte) (int, error) {
	p := r.p
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.consumerClosed {
		return 0, io.ErrClosedPipe
	}
	if len(p.buf) > 0 {
		n := copy(b, p.buf)
		p.buf = p.buf[n:]
		if len(p.buf) == 0 {
			p.buf = nil
		}
		signal(p.writable)
		return n, nil
	}
	if p.producerClosed {
		return 0, ErrFailedPrecondition
	}
	return 0, ErrShouldWait
}

// Readable fires after the producer writes or closes.
func (r *Consumer) Readable() <-chan struct{} {
	return r.p.readable
}

// Read blocks until data is available and reports io.EOF once the producer
// is closed and everything was read.
func (r *Consumer) Read(b []byte) (int, error) {
	if len(b) == 0 {
		return 0, nil
	}
	for {
		n, err := r.TryRead(b)
		switch {
		case errors.Is(err, ErrShouldWait):
			<-r.p.readable
		case errors.Is(err, ErrFailedPrecondition):
			return 0, io.EOF
		default:
			return n, err
		}
	}
}

// Close discards unread data. A blocked producer wakes up and fails.
func (r *Consumer) Close() error {
	p := r.p
	p.mu.Lock()
	defer p.mu.Unlock()
	p.consumerClosed = true
	p.buf = nil
	signal(p.writable)
	signal(p.readable)
	return nil
}
