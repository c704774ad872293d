package loader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/sunbk201/speedreader/internal/common"
	"github.com/sunbk201/speedreader/internal/engine"
	"github.com/sunbk201/speedreader/internal/pipe"
	"github.com/sunbk201/speedreader/internal/sniff"
	"github.com/sunbk201/speedreader/internal/speedreader"
	"github.com/sunbk201/speedreader/internal/worker"
	"golang.org/x/net/html/charset"
)

var (
	ErrIneligible     = errors.New("url is no longer eligible")
	ErrBodyTooLarge   = errors.New("body exceeds max body size")
	errUpstreamFailed = errors.New("upstream load failed")
)

const (
	DefaultMaxBodySize = 8 << 20
	sniffLen           = 512
)

type Options struct {
	// HeuristicsFallback rewrites pages the whitelist does not cover.
	HeuristicsFallback bool
	MaxBodySize        int
	PipeCapacity       int

	// Observer sees every state a loader enters, in order.
	Observer func(State)
	// Reporter receives the outcome of every rewrite attempt.
	Reporter func(Result)
}

// Result describes one rewrite attempt. Err is set when the original body
// was sent instead.
type Result struct {
	URL         string
	Type        common.RewriterType
	Rewritten   bool
	Err         error
	InputBytes  int
	OutputBytes int
	Duration    time.Duration
}

func (r Result) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("url", r.URL),
		slog.String("type", r.Type.String()),
		slog.Bool("rewritten", r.Rewritten),
		slog.Int("in", r.InputBytes),
		slog.Int("out", r.OutputBytes),
		slog.Duration("took", r.Duration),
	}
	if r.Err != nil {
		attrs = append(attrs, slog.Any("error", r.Err))
	}
	return slog.GroupValue(attrs...)
}

// Throttle decides whether one response goes through a loader and owns that
// loader's lifetime: once it is closed, the loader aborts at its next step.
type Throttle struct {
	sr   *speedreader.SpeedReader
	pool *worker.Pool
	opts Options

	ctx    context.Context
	cancel context.CancelFunc

	resumed    chan struct{}
	resumeOnce sync.Once
}

func NewThrottle(ctx context.Context, sr *speedreader.SpeedReader, pool *worker.Pool, opts Options) *Throttle {
	if opts.MaxBodySize <= 0 {
		opts.MaxBodySize = DefaultMaxBodySize
	}
	if opts.PipeCapacity <= 0 {
		opts.PipeCapacity = pipe.DefaultCapacity
	}
	ctx, cancel := context.WithCancel(ctx)
	return &Throttle{
		sr:      sr,
		pool:    pool,
		opts:    opts,
		ctx:     ctx,
		cancel:  cancel,
		resumed: make(chan struct{}),
	}
}

// Reasons a response is passed through untouched.
const (
	ReasonStatus          = "status"
	ReasonContentType     = "content-type"
	ReasonContentEncoding = "content-encoding"
	ReasonTooLarge        = "too large"
	ReasonNotWhitelisted  = "not whitelisted"
)

// WillProcessResponse starts a loader when the response can be rewritten.
// Otherwise it returns false and the caller passes the response through.
func (t *Throttle) WillProcessResponse(rawURL string, head *ResponseHead, client Client) (*Loader, bool) {
	if t.PassReason(rawURL, head) != "" {
		return nil, false
	}
	return newLoader(t, rawURL, head, client), true
}

// PassReason explains why a response would not be processed, or returns ""
// when it would.
func (t *Throttle) PassReason(rawURL string, head *ResponseHead) string {
	switch {
	case head == nil || head.StatusCode != 200:
		return ReasonStatus
	case head.ContentLength > int64(t.opts.MaxBodySize):
		return ReasonTooLarge
	}
	// the body is sniffed once buffered when no type is given
	if ct := head.Header.Get("Content-Type"); ct != "" && !sniff.IsHTMLContentType(ct) {
		return ReasonContentType
	}
	switch strings.ToLower(head.Header.Get("Content-Encoding")) {
	case "", "identity":
	default:
		return ReasonContentEncoding
	}
	if !t.Candidate(rawURL) {
		return ReasonNotWhitelisted
	}
	return ""
}

// Candidate reports whether pages at rawURL are rewritten at all.
func (t *Throttle) Candidate(rawURL string) bool {
	if t.sr.ReadableURL(rawURL) {
		return true
	}
	return t.opts.HeuristicsFallback && isWebURL(rawURL)
}

func isWebURL(rawURL string) bool {
	lower := strings.ToLower(rawURL)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

// Resume releases the deferred response. The loader calls it right before
// handing its client a head or a completion.
func (t *Throttle) Resume() {
	t.resumeOnce.Do(func() { close(t.resumed) })
}

// Resumed is closed once the loader has a response for the client. Until
// then nothing may be written downstream.
func (t *Throttle) Resumed() <-chan struct{} {
	return t.resumed
}

func (t *Throttle) Done() <-chan struct{} {
	return t.ctx.Done()
}

// Close destroys the throttle.
func (t *Throttle) Close() {
	t.cancel()
}

func (t *Throttle) gone() bool {
	select {
	case <-t.ctx.Done():
		return true
	default:
		return false
	}
}

func (t *Throttle) report(r Result) {
	if t.opts.Reporter != nil {
		t.opts.Reporter(r)
	}
}

// rewrite runs on the worker pool. It returns the bytes to send, which are
// the original body whenever anything goes wrong.
func (t *Throttle) rewrite(ctx context.Context, rawURL string, head *ResponseHead, body []byte) ([]byte, Result) {
	start := time.Now()
	res := Result{URL: rawURL, InputBytes: len(body)}
	out, err := t.transform(ctx, rawURL, head, body, &res)
	res.Duration = time.Since(start)
	if err != nil {
		res.Err = err
		return body, res
	}
	res.Rewritten = true
	res.OutputBytes = len(out)
	return out, res
}

func (t *Throttle) transform(ctx context.Context, rawURL string, head *ResponseHead, body []byte, res *Result) ([]byte, error) {
	if !t.Candidate(rawURL) {
		return nil, ErrIneligible
	}
	if len(body) > t.opts.MaxBodySize {
		return nil, ErrBodyTooLarge
	}
	contentType := head.Header.Get("Content-Type")
	if !sniff.IsHTML(contentType, body[:min(len(body), sniffLen)]) {
		return nil, engine.ErrNotHTML
	}
	doc, err := decode(body, contentType)
	if err != nil {
		return nil, err
	}

	r, err := t.sr.RewriterNew(ctx, rawURL, common.RewriterUnknown)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	res.Type = r.Type()

	if _, err := r.Write(doc); err != nil {
		return nil, err
	}
	if err := r.End(); err != nil {
		return nil, err
	}
	out := r.Output()
	if len(out) == 0 {
		return nil, engine.ErrNoContent
	}
	return out, nil
}

// decode converts body to UTF-8 using the charset named by the header, a
// BOM or a meta tag.
func decode(body []byte, contentType string) ([]byte, error) {
	enc, name, _ := charset.DetermineEncoding(body, contentType)
	if name == "utf-8" {
		return body, nil
	}
	out, err := enc.NewDecoder().Bytes(body)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", name, err)
	}
	return out, nil
}
