// Package rewriter wraps one transform engine run over one document: the
// write/end protocol, the poisoned state, and buffered or sink delivery.
package rewriter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/sunbk201/speedreader/internal/common"
)

var (
	ErrUnknownType = errors.New("rewriter type must be streaming or heuristics")
	ErrEnded       = errors.New("rewriter already ended")
	ErrPoisoned    = errors.New("rewriter is poisoned")
	ErrClosed      = errors.New("rewriter is closed")
)

// Sink receives output chunks in the order the engine produces them. The
// slice is only valid for the duration of the call.
type Sink func(p []byte)

// Engine is the transform a session drives.
type Engine interface {
	Write(p []byte) error
	End() error
	Close() error
}

// Builder creates the engine for a session. config is the site payload from
// the whitelist and may be nil.
type Builder func(ctx context.Context, u *url.URL, typ common.RewriterType, config []byte, sink Sink) (Engine, error)

// Error is a failure recorded by a session.
type Error struct {
	Op   string
	URL  string
	Type common.RewriterType
	// Diagnostic is the human readable reason, kept for logs only.
	Diagnostic string
	Err        error
}

func (e *Error) Error() string {
	return fmt.Sprintf("rewriter %s %s (%s): %s", e.Op, e.URL, e.Type, e.Diagnostic)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("op", e.Op),
		slog.String("url", e.URL),
		slog.String("type", e.Type.String()),
		slog.String("diagnostic", e.Diagnostic),
	)
}

type state int

const (
	stateWriting state = iota
	stateEnded
	statePoisoned
	stateClosed
)

type Option func(*Rewriter)

// WithSink delivers output through fn as soon as the engine produces it.
// Output then always reports empty.
func WithSink(fn Sink) Option {
	return func(r *Rewriter) {
		r.sink = fn
	}
}

// Rewriter is one session. It is not safe for concurrent use.
type Rewriter struct {
	ctx    context.Context
	url    string
	typ    common.RewriterType
	engine Engine
	sink   Sink
	buf    bytes.Buffer
	state  state
	poison *Error
	last   error
}

// New binds a session to rawURL and an effective type. ctx cancels the
// session: once it is done, Write and End fail and poison it.
func New(ctx context.Context, rawURL string, typ common.RewriterType, build Builder, config []byte, opts ...Option) (*Rewriter, error) {
	if !typ.Valid() {
		return nil, ErrUnknownType
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("url.Parse: %w", err)
	}

	r := &Rewriter{
		ctx: ctx,
		url: rawURL,
		typ: typ,
	}
	for _, opt := range opts {
		opt(r)
	}

	out := r.sink
	if out == nil {
		out = func(p []byte) {
			r.buf.Write(p)
		}
	}
	r.engine, err = build(ctx, u, typ, config, out)
	if err != nil {
		return nil, r.newError("new", err)
	}
	return r, nil
}

func (r *Rewriter) URL() string {
	return r.url
}

func (r *Rewriter) Type() common.RewriterType {
	return r.typ
}

// Write feeds p to the engine. The sink may be called any number of times.
func (r *Rewriter) Write(p []byte) (int, error) {
	if err := r.check(); err != nil {
		return 0, err
	}
	if err := r.ctx.Err(); err != nil {
		return 0, r.fail("write", err)
	}
	if err := r.engine.Write(p); err != nil {
		return 0, r.fail("write", err)
	}
	return len(p), nil
}

// End flushes and finalizes the engine. A second call fails.
func (r *Rewriter) End() error {
	if err := r.check(); err != nil {
		return err
	}
	if err := r.ctx.Err(); err != nil {
		return r.fail("end", err)
	}
	if err := r.engine.End(); err != nil {
		return r.fail("end", err)
	}
	r.state = stateEnded
	r.release()
	return nil
}

// Output is the accumulated output of an ended buffering session.
func (r *Rewriter) Output() []byte {
	if r.sink != nil || r.state != stateEnded {
		return nil
	}
	return r.buf.Bytes()
}

// Close releases the engine without finalizing output. It may be called any
// number of times and after End.
func (r *Rewriter) Close() error {
	if r.state == stateWriting {
		r.state = stateClosed
	}
	r.release()
	return nil
}

// TakeLastError returns and clears the last error this session recorded.
func (r *Rewriter) TakeLastError() error {
	err := r.last
	r.last = nil
	return err
}

func (r *Rewriter) check() error {
	var err error
	switch r.state {
	case stateEnded:
		err = ErrEnded
	case statePoisoned:
		err = fmt.Errorf("%w: %w", ErrPoisoned, r.poison)
	case stateClosed:
		err = ErrClosed
	default:
		return nil
	}
	r.last = err
	return err
}

func (r *Rewriter) fail(op string, err error) error {
	e := r.newError(op, err)
	r.state = statePoisoned
	r.poison = e
	r.release()
	return e
}

func (r *Rewriter) newError(op string, err error) *Error {
	e := &Error{
		Op:         op,
		URL:        r.url,
		Type:       r.typ,
		Diagnostic: err.Error(),
		Err:        err,
	}
	r.last = e
	return e
}

func (r *Rewriter) release() {
	if r.engine == nil {
		return
	}
	if err := r.engine.Close(); err != nil {
		slog.Debug("rewriter.release", slog.String("url", r.url), slog.Any("error", err))
	}
	r.engine = nil
}
