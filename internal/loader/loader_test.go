package loader

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sunbk201/speedreader/internal/common"
	"github.com/sunbk201/speedreader/internal/engine"
	"github.com/sunbk201/speedreader/internal/pipe"
	"github.com/sunbk201/speedreader/internal/speedreader"
	"github.com/sunbk201/speedreader/internal/whitelist"
	"github.com/sunbk201/speedreader/internal/worker"
)

const (
	cnnArticle = "https://cnn.com/news/article/topic/index.html"
	cnnPage    = `<html><head><title>t</title></head><body><nav>menu</nav>` +
		`<div class="pg-headline">hello world</div><p>other</p></body></html>`
	headline = `<div class="pg-headline">hello world</div>`
)

type event struct {
	kind   string
	head   *ResponseHead
	body   *pipe.Consumer
	status CompletionStatus
}

type recorder struct {
	events chan event
}

func newRecorder() *recorder {
	return &recorder{events: make(chan event, 8)}
}

func (r *recorder) OnReceiveResponse(head *ResponseHead) {
	r.events <- event{kind: "head", head: head}
}

func (r *recorder) OnStartLoadingResponseBody(body *pipe.Consumer) {
	r.events <- event{kind: "body", body: body}
}

func (r *recorder) OnComplete(status CompletionStatus) {
	r.events <- event{kind: "complete", status: status}
}

func (r *recorder) next(t *testing.T, kind string) event {
	t.Helper()
	select {
	case ev := <-r.events:
		require.Equal(t, kind, ev.kind)
		return ev
	case <-time.After(5 * time.Second):
		t.Fatalf("no %s event", kind)
	}
	return event{}
}

func (r *recorder) empty(t *testing.T) {
	t.Helper()
	select {
	case ev := <-r.events:
		t.Fatalf("unexpected %s event", ev.kind)
	default:
	}
}

func htmlHead() *ResponseHead {
	return &ResponseHead{
		StatusCode:    http.StatusOK,
		Header:        http.Header{"Content-Type": {"text/html; charset=utf-8"}},
		ContentLength: -1,
	}
}

func newThrottle(t *testing.T, opts Options) *Throttle {
	t.Helper()
	sr := speedreader.New(whitelist.NewDefaultStore())
	pool := worker.New(2, 5*time.Second)
	th := NewThrottle(context.Background(), sr, pool, opts)
	t.Cleanup(func() {
		th.Close()
		_ = pool.Close()
	})
	return th
}

// upload streams body into the loader the way the proxy does. A failed load
// is reported before the body pipe closes.
func upload(l *Loader, body string, loadErr error) {
	w, r := pipe.New(16)
	l.OnStartLoadingResponseBody(r)
	go func() {
		n, err := w.Write(context.Background(), []byte(body))
		status := CompletionStatus{Err: loadErr, DecodedBodyLength: int64(n)}
		if loadErr == nil && err != nil {
			status.Err = err
		}
		if status.Err != nil {
			l.OnComplete(status)
			_ = w.Close()
			return
		}
		_ = w.Close()
		l.OnComplete(status)
	}()
}

func waitDone(t *testing.T, l *Loader) {
	t.Helper()
	select {
	case <-l.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("loader stuck in %s", l.State())
	}
}

func TestLoaderStateOrder(t *testing.T) {
	var (
		mu  sync.Mutex
		log []string
	)
	record := func(s string) {
		mu.Lock()
		defer mu.Unlock()
		log = append(log, s)
	}
	th := newThrottle(t, Options{
		PipeCapacity: 8,
		Observer:     func(s State) { record(s.String()) },
		Reporter:     func(Result) { record("rewritten") },
	})
	client := newRecorder()

	l, ok := th.WillProcessResponse(cnnArticle, htmlHead(), client)
	require.True(t, ok)
	upload(l, cnnPage, nil)

	head := client.next(t, "head").head
	assert.Equal(t, http.StatusOK, head.StatusCode)
	assert.Equal(t, "streaming", head.Header.Get(Header))
	assert.Equal(t, "text/html; charset=utf-8", head.Header.Get("Content-Type"))
	assert.Equal(t, strconv.Itoa(len(headline)), head.Header.Get("Content-Length"))
	assert.Equal(t, int64(len(headline)), head.ContentLength)

	body := client.next(t, "body").body
	got, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, headline, string(got))

	status := client.next(t, "complete").status
	assert.NoError(t, status.Err)
	assert.Equal(t, int64(len(cnnPage)), status.DecodedBodyLength)

	waitDone(t, l)
	assert.Equal(t, StateCompleted, l.State())
	mu.Lock()
	assert.Equal(t, []string{"WaitForBody", "Loading", "rewritten", "Sending", "Completed"}, log)
	mu.Unlock()

	select {
	case <-th.Resumed():
	default:
		t.Fatal("throttle was not resumed")
	}
}

func TestWillProcessResponse(t *testing.T) {
	tests := []struct {
		name     string
		url      string
		head     func(*ResponseHead)
		fallback bool
		want     bool
	}{
		{"whitelisted", cnnArticle, nil, false, true},
		{"not whitelisted", "https://example.com/post", nil, false, false},
		{"heuristics fallback", "https://example.com/post", nil, true, true},
		{"fallback needs http", "ftp://example.com/post", nil, true, false},
		{"not found", cnnArticle, func(h *ResponseHead) { h.StatusCode = http.StatusNotFound }, false, false},
		{"json", cnnArticle, func(h *ResponseHead) { h.Header.Set("Content-Type", "application/json") }, false, false},
		{"no content type", cnnArticle, func(h *ResponseHead) { h.Header.Del("Content-Type") }, false, true},
		{"gzip", cnnArticle, func(h *ResponseHead) { h.Header.Set("Content-Encoding", "gzip") }, false, false},
		{"identity", cnnArticle, func(h *ResponseHead) { h.Header.Set("Content-Encoding", "identity") }, false, true},
		{"too large", cnnArticle, func(h *ResponseHead) { h.ContentLength = DefaultMaxBodySize + 1 }, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			th := newThrottle(t, Options{HeuristicsFallback: tt.fallback})
			head := htmlHead()
			if tt.head != nil {
				tt.head(head)
			}
			l, ok := th.WillProcessResponse(tt.url, head, newRecorder())
			assert.Equal(t, tt.want, ok)
			if ok {
				th.Close()
				waitDone(t, l)
				assert.Equal(t, StateAborted, l.State())
			} else {
				assert.Nil(t, l)
			}
		})
	}
}

func TestRewriteFailureSendsOriginal(t *testing.T) {
	results := make(chan Result, 1)
	th := newThrottle(t, Options{Reporter: func(r Result) { results <- r }})
	client := newRecorder()

	page := `<html><body><p>no headline here</p></body></html>`
	l, ok := th.WillProcessResponse(cnnArticle, htmlHead(), client)
	require.True(t, ok)
	upload(l, page, nil)

	head := client.next(t, "head").head
	assert.Empty(t, head.Header.Get(Header))
	assert.Equal(t, "text/html; charset=utf-8", head.Header.Get("Content-Type"))
	assert.Equal(t, strconv.Itoa(len(page)), head.Header.Get("Content-Length"))

	got, err := io.ReadAll(client.next(t, "body").body)
	require.NoError(t, err)
	assert.Equal(t, page, string(got))
	assert.NoError(t, client.next(t, "complete").status.Err)

	res := <-results
	assert.False(t, res.Rewritten)
	assert.Equal(t, common.RewriterStreaming, res.Type)
	assert.ErrorIs(t, res.Err, engine.ErrNoContent)
	waitDone(t, l)
}

func TestBinaryBodySentUnchanged(t *testing.T) {
	results := make(chan Result, 1)
	th := newThrottle(t, Options{Reporter: func(r Result) { results <- r }})
	client := newRecorder()

	head := htmlHead()
	head.Header.Del("Content-Type")
	page := "\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"
	l, ok := th.WillProcessResponse(cnnArticle, head, client)
	require.True(t, ok)
	upload(l, page, nil)

	client.next(t, "head")
	got, err := io.ReadAll(client.next(t, "body").body)
	require.NoError(t, err)
	assert.Equal(t, page, string(got))
	client.next(t, "complete")
	assert.ErrorIs(t, (<-results).Err, engine.ErrNotHTML)
	waitDone(t, l)
}

func TestHeuristicsFallbackDecodesCharset(t *testing.T) {
	th := newThrottle(t, Options{HeuristicsFallback: true})
	client := newRecorder()

	para := "<p>Le caf\xe9 du coin sert des croissants chaque matin, avec du beurre, " +
		"de la confiture et un journal pour les habitu\xe9s du quartier.</p>"
	page := "<html><head><title>Caf\xe9</title></head><body><div class=\"article-content\">" +
		strings.Repeat(para, 4) + "</div></body></html>"
	head := htmlHead()
	head.Header.Set("Content-Type", "text/html; charset=ISO-8859-1")

	l, ok := th.WillProcessResponse("https://example.com/cafe", head, client)
	require.True(t, ok)
	upload(l, page, nil)

	out := client.next(t, "head").head
	assert.Equal(t, "heuristics", out.Header.Get(Header))
	assert.Equal(t, "text/html; charset=utf-8", out.Header.Get("Content-Type"))
	got, err := io.ReadAll(client.next(t, "body").body)
	require.NoError(t, err)
	assert.Contains(t, string(got), "Le café du coin")
	assert.Contains(t, string(got), "habitués")
	client.next(t, "complete")
	waitDone(t, l)
}

func TestCompleteWithErrorBeforeBody(t *testing.T) {
	var states []State
	th := newThrottle(t, Options{Observer: func(s State) { states = append(states, s) }})
	client := newRecorder()

	l, ok := th.WillProcessResponse(cnnArticle, htmlHead(), client)
	require.True(t, ok)
	l.OnComplete(CompletionStatus{Err: io.ErrUnexpectedEOF})

	assert.ErrorIs(t, client.next(t, "complete").status.Err, io.ErrUnexpectedEOF)
	waitDone(t, l)
	client.empty(t)
	assert.Equal(t, []State{StateWaitForBody, StateCompleted}, states)
	select {
	case <-th.Resumed():
	default:
		t.Fatal("throttle was not resumed")
	}
}

func TestCompleteWithoutBody(t *testing.T) {
	th := newThrottle(t, Options{})
	client := newRecorder()

	l, ok := th.WillProcessResponse(cnnArticle, htmlHead(), client)
	require.True(t, ok)
	l.OnComplete(CompletionStatus{})

	assert.Equal(t, http.StatusOK, client.next(t, "head").head.StatusCode)
	assert.NoError(t, client.next(t, "complete").status.Err)
	waitDone(t, l)
	assert.Equal(t, StateCompleted, l.State())
}

func TestUpstreamFailureDropsPartialBody(t *testing.T) {
	var (
		mu     sync.Mutex
		states []State
	)
	results := make(chan Result, 1)
	th := newThrottle(t, Options{
		Reporter: func(r Result) { results <- r },
		Observer: func(s State) {
			mu.Lock()
			states = append(states, s)
			mu.Unlock()
		},
	})
	client := newRecorder()

	l, ok := th.WillProcessResponse(cnnArticle, htmlHead(), client)
	require.True(t, ok)
	partial := cnnPage + strings.Repeat("<p>more text</p>", 1<<12)
	upload(l, partial, io.ErrUnexpectedEOF)

	assert.ErrorIs(t, client.next(t, "complete").status.Err, io.ErrUnexpectedEOF)
	res := <-results
	assert.False(t, res.Rewritten)
	assert.Equal(t, len(partial), res.InputBytes)
	waitDone(t, l)
	client.empty(t)

	select {
	case <-th.Resumed():
	default:
		t.Fatal("throttle was not resumed")
	}
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []State{StateWaitForBody, StateLoading, StateCompleted}, states)
}

func TestThrottleGoneAborts(t *testing.T) {
	th := newThrottle(t, Options{})
	client := newRecorder()

	l, ok := th.WillProcessResponse(cnnArticle, htmlHead(), client)
	require.True(t, ok)

	w, r := pipe.New(16)
	l.OnStartLoadingResponseBody(r)
	_, err := w.Write(context.Background(), []byte("<html><body>"))
	require.NoError(t, err)

	th.Close()
	waitDone(t, l)
	assert.Equal(t, StateAborted, l.State())
	client.empty(t)

	_, err = w.Write(context.Background(), []byte("more"))
	assert.ErrorIs(t, err, pipe.ErrFailedPrecondition, "the source pipe is released")

	// late calls are dropped
	l.OnComplete(CompletionStatus{})
	client.empty(t)
}

func TestConsumerGoneAborts(t *testing.T) {
	th := newThrottle(t, Options{PipeCapacity: 4})
	client := newRecorder()

	l, ok := th.WillProcessResponse(cnnArticle, htmlHead(), client)
	require.True(t, ok)
	upload(l, cnnPage, nil)

	client.next(t, "head")
	body := client.next(t, "body").body
	buf := make([]byte, 2)
	_, err := io.ReadFull(body, buf)
	require.NoError(t, err)
	assert.Equal(t, "<d", string(buf))
	require.NoError(t, body.Close())

	waitDone(t, l)
	assert.Equal(t, StateAborted, l.State())
	client.empty(t)
}

func TestPassReason(t *testing.T) {
	th := newThrottle(t, Options{MaxBodySize: 100})
	head := func(mod func(*ResponseHead)) *ResponseHead {
		h := htmlHead()
		mod(h)
		return h
	}
	assert.Equal(t, "", th.PassReason(cnnArticle, htmlHead()))
	assert.Equal(t, ReasonStatus, th.PassReason(cnnArticle, nil))
	assert.Equal(t, ReasonStatus, th.PassReason(cnnArticle, head(func(h *ResponseHead) { h.StatusCode = http.StatusNotModified })))
	assert.Equal(t, ReasonTooLarge, th.PassReason(cnnArticle, head(func(h *ResponseHead) { h.ContentLength = 101 })))
	assert.Equal(t, ReasonContentType, th.PassReason(cnnArticle, head(func(h *ResponseHead) { h.Header.Set("Content-Type", "image/png") })))
	assert.Equal(t, ReasonContentEncoding, th.PassReason(cnnArticle, head(func(h *ResponseHead) { h.Header.Set("Content-Encoding", "br") })))
	assert.Equal(t, ReasonNotWhitelisted, th.PassReason("https://example.com/", htmlHead()))
	assert.False(t, th.Candidate("https://example.com/"))
	assert.True(t, th.Candidate("http://edition.cnn.com/x"))
}
