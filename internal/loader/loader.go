// Package loader sits between an upstream response and the client that
// receives it. Eligible HTML bodies are buffered, rewritten on the worker
// pool and sent on through a fresh pipe; everything else is left alone.
package loader

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync/atomic"

	"github.com/sunbk201/speedreader/internal/pipe"
)

type State int32

const (
	StateWaitForBody State = iota
	StateLoading
	StateSending
	StateCompleted
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateWaitForBody:
		return "WaitForBody"
	case StateLoading:
		return "Loading"
	case StateSending:
		return "Sending"
	case StateCompleted:
		return "Completed"
	case StateAborted:
		return "Aborted"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Header marks rewritten responses; its value is the rewriter type.
const Header = "X-Speedreader"

type ResponseHead struct {
	StatusCode    int
	Header        http.Header
	ContentLength int64
}

func (h *ResponseHead) clone() *ResponseHead {
	c := *h
	c.Header = h.Header.Clone()
	if c.Header == nil {
		c.Header = make(http.Header)
	}
	return &c
}

type CompletionStatus struct {
	Err               error
	DecodedBodyLength int64
}

// Client receives the response the loader produces. Calls come from the
// loader goroutine, in order: head, body, completion.
type Client interface {
	OnReceiveResponse(head *ResponseHead)
	OnStartLoadingResponseBody(body *pipe.Consumer)
	OnComplete(status CompletionStatus)
}

const readChunk = 32 << 10

type Loader struct {
	throttle *Throttle
	client   Client
	url      string
	head     *ResponseHead

	tasks chan func()
	done  chan struct{}
	state atomic.Int32

	src       *pipe.Consumer
	chunk     []byte
	buf       []byte
	rewriting bool

	dst  *pipe.Producer
	body []byte
	sent int

	pending   *CompletionStatus
	forwarded bool
	stopped   bool
}

func newLoader(t *Throttle, rawURL string, head *ResponseHead, client Client) *Loader {
	l := &Loader{
		throttle: t,
		client:   client,
		url:      rawURL,
		head:     head,
		tasks:    make(chan func()),
		done:     make(chan struct{}),
	}
	l.setState(StateWaitForBody)
	go l.run()
	return l
}

func (l *Loader) State() State {
	return State(l.state.Load())
}

// Done is closed once the loader stopped and will make no more calls on its
// client.
func (l *Loader) Done() <-chan struct{} {
	return l.done
}

// OnStartLoadingResponseBody hands the loader the upstream body.
func (l *Loader) OnStartLoadingResponseBody(src *pipe.Consumer) {
	if !l.post(func() { l.onStartLoading(src) }) {
		_ = src.Close()
	}
}

// OnComplete reports the end of the upstream load.
func (l *Loader) OnComplete(status CompletionStatus) {
	l.post(func() { l.onComplete(status) })
}

func (l *Loader) post(task func()) bool {
	select {
	case l.tasks <- task:
		return true
	case <-l.done:
		return false
	}
}

func (l *Loader) setState(s State) {
	l.state.Store(int32(s))
	if obs := l.throttle.opts.Observer; obs != nil {
		obs(s)
	}
}

func (l *Loader) finished() bool {
	switch l.State() {
	case StateAborted:
		return true
	case StateCompleted:
		return l.forwarded || l.stopped
	}
	return false
}

func (l *Loader) run() {
	defer close(l.done)
	for !l.finished() {
		var readable, writable <-chan struct{}
		switch l.State() {
		case StateLoading:
			if l.src != nil && !l.rewriting {
				readable = l.src.Readable()
			}
		case StateSending:
			writable = l.dst.Writable()
		}
		select {
		case <-l.throttle.Done():
			if l.State() == StateCompleted {
				l.stopped = true
				continue
			}
			l.abort()
		case task := <-l.tasks:
			task()
		case <-readable:
			l.readMore()
		case <-writable:
			l.sendMore()
		}
	}
}

func (l *Loader) onStartLoading(src *pipe.Consumer) {
	if l.State() != StateWaitForBody || l.src != nil {
		_ = src.Close()
		return
	}
	l.src = src
	l.chunk = make([]byte, readChunk)
	l.setState(StateLoading)
	l.readMore()
}

func (l *Loader) onComplete(status CompletionStatus) {
	switch l.State() {
	case StateWaitForBody:
		l.throttle.Resume()
		if status.Err == nil {
			// nothing was ever streamed; the client still needs the head
			l.client.OnReceiveResponse(l.head)
		}
		l.setState(StateCompleted)
		l.forward(status)
	case StateLoading, StateSending:
		l.pending = &status
	case StateCompleted:
		l.forward(status)
	}
}

func (l *Loader) forward(status CompletionStatus) {
	l.forwarded = true
	l.client.OnComplete(status)
}

func (l *Loader) readMore() {
	for {
		if l.throttle.gone() {
			l.abort()
			return
		}
		n, err := l.src.TryRead(l.chunk)
		switch {
		case err == nil:
			l.buf = append(l.buf, l.chunk[:n]...)
		case errors.Is(err, pipe.ErrShouldWait):
			return
		case errors.Is(err, pipe.ErrFailedPrecondition):
			_ = l.src.Close()
			l.src, l.chunk = nil, nil
			l.startRewrite()
			return
		default:
			l.abort()
			return
		}
	}
}

func (l *Loader) startRewrite() {
	if l.upstreamFailed() {
		l.failUpstream(Result{URL: l.url, InputBytes: len(l.buf), Err: errUpstreamFailed})
		return
	}
	l.rewriting = true
	rawURL, head, body := l.url, l.head, l.buf
	t := l.throttle
	t.pool.Go(t.ctx, func(ctx context.Context) {
		out, res := t.rewrite(ctx, rawURL, head, body)
		l.post(func() { l.onRewriteDone(out, res) })
	})
}

func (l *Loader) upstreamFailed() bool {
	return l.pending != nil && l.pending.Err != nil
}

func (l *Loader) onRewriteDone(out []byte, res Result) {
	l.rewriting = false
	if l.throttle.gone() {
		l.abort()
		return
	}
	if l.upstreamFailed() {
		res.Rewritten, res.Err, res.OutputBytes = false, errUpstreamFailed, 0
		l.failUpstream(res)
		return
	}
	l.throttle.report(res)

	head := l.head.clone()
	head.ContentLength = int64(len(out))
	head.Header.Set("Content-Length", strconv.Itoa(len(out)))
	if res.Rewritten {
		head.Header.Set("Content-Type", "text/html; charset=utf-8")
		head.Header.Set(Header, res.Type.String())
	}
	l.throttle.Resume()
	l.client.OnReceiveResponse(head)

	dst, body := pipe.New(l.throttle.opts.PipeCapacity)
	l.dst, l.body, l.sent = dst, out, 0
	l.buf = nil
	l.client.OnStartLoadingResponseBody(body)
	l.setState(StateSending)
	l.sendMore()
}

// failUpstream ends a load whose upstream broke off. The partial body is
// dropped and only the error completion goes out, so the client can never
// take a short body for the whole response.
func (l *Loader) failUpstream(res Result) {
	l.throttle.report(res)
	l.buf = nil
	l.throttle.Resume()
	l.setState(StateCompleted)
	l.forward(*l.pending)
}

func (l *Loader) sendMore() {
	for l.sent < len(l.body) {
		if l.throttle.gone() {
			l.abort()
			return
		}
		n, err := l.dst.TryWrite(l.body[l.sent:])
		l.sent += n
		switch {
		case err == nil:
		case errors.Is(err, pipe.ErrShouldWait):
			return
		default:
			l.abort()
			return
		}
	}
	_ = l.dst.Close()
	l.dst, l.body = nil, nil
	l.setState(StateCompleted)
	if l.pending != nil {
		l.forward(*l.pending)
	}
}

// abort releases both pipes. The client hears nothing more; a reader of the
// destination sees the body end early.
func (l *Loader) abort() {
	if l.src != nil {
		_ = l.src.Close()
		l.src = nil
	}
	if l.dst != nil {
		_ = l.dst.Close()
		l.dst = nil
	}
	l.buf, l.body, l.chunk = nil, nil, nil
	l.setState(StateAborted)
}
