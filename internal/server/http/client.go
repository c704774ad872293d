package http

import (
	"net"
	"net/http"
	"net/url"

	"github.com/sunbk201/speedreader/internal/loader"
	"github.com/sunbk201/speedreader/internal/pipe"
)

type eventKind int

const (
	eventHead eventKind = iota
	eventBody
	eventComplete
)

type event struct {
	kind   eventKind
	head   *loader.ResponseHead
	body   *pipe.Consumer
	status loader.CompletionStatus
}

// responseClient turns the loader's callbacks into one ordered stream of
// events for the handler goroutine. A loader makes at most three calls, so
// the buffer never fills.
type responseClient struct {
	events chan event
}

func newResponseClient() *responseClient {
	return &responseClient{events: make(chan event, 4)}
}

func (c *responseClient) OnReceiveResponse(head *loader.ResponseHead) {
	c.events <- event{kind: eventHead, head: head}
}

func (c *responseClient) OnStartLoadingResponseBody(body *pipe.Consumer) {
	c.events <- event{kind: eventBody, body: body}
}

func (c *responseClient) OnComplete(status loader.CompletionStatus) {
	c.events <- event{kind: eventComplete, status: status}
}

// next returns the next event. Once done is closed no event is added, so
// whatever is still buffered is drained before reporting false.
func (c *responseClient) next(done <-chan struct{}) (event, bool) {
	select {
	case ev := <-c.events:
		return ev, true
	case <-done:
	}
	select {
	case ev := <-c.events:
		return ev, true
	default:
		return event{}, false
	}
}

func copyHeader(dst, src http.Header) {
	for k, vv := range src {
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}

func removeHopHeaders(h http.Header) {
	for _, k := range hopHeaders {
		h.Del(k)
	}
}

func hostPort(host, defaultPort string) string {
	if _, _, err := net.SplitHostPort(host); err == nil {
		return host
	}
	return net.JoinHostPort(host, defaultPort)
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	return u.Hostname()
}
