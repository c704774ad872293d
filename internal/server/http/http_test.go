package http

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sunbk201/speedreader/internal/common"
	"github.com/sunbk201/speedreader/internal/config"
	"github.com/sunbk201/speedreader/internal/engine/streaming"
	"github.com/sunbk201/speedreader/internal/loader"
	"github.com/sunbk201/speedreader/internal/speedreader"
	"github.com/sunbk201/speedreader/internal/statistics"
	"github.com/sunbk201/speedreader/internal/whitelist"
	"github.com/sunbk201/speedreader/internal/worker"
)

const (
	articlePage = `<html><head><title>t</title></head><body><nav>menu</nav>` +
		`<div class="pg-headline">hello world</div><p>other</p></body></html>`
	headline = `<div class="pg-headline">hello world</div>`
)

// truncatedPage is sent under a much larger Content-Length, and is big
// enough to get past any write buffering between proxy and client.
var truncatedPage = `<html><body><div class="pg-headline">cut</div>` + strings.Repeat("<p>lorem ipsum dolor sit amet</p>", 6000)

type originServer struct {
	listener net.Listener
	server   *http.Server
	addr     string

	mu             sync.Mutex
	acceptEncoding []string
}

func newOriginServer(t *testing.T) *originServer {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to create origin listener: %v", err)
	}
	o := &originServer{listener: listener, addr: listener.Addr().String()}

	mux := http.NewServeMux()
	mux.HandleFunc("/news/", func(w http.ResponseWriter, r *http.Request) {
		o.mu.Lock()
		o.acceptEncoding = append(o.acceptEncoding, r.Header.Get("Accept-Encoding"))
		o.mu.Unlock()
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(articlePage))
	})
	mux.HandleFunc("/plain", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("OK"))
	})
	mux.HandleFunc("/truncated", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Header().Set("Content-Length", "1000000")
		_, _ = w.Write([]byte(truncatedPage))
		w.(http.Flusher).Flush()
		panic(http.ErrAbortHandler)
	})
	o.server = &http.Server{Handler: mux}
	go func() {
		_ = o.server.Serve(listener)
	}()
	t.Cleanup(func() { _ = o.server.Close() })
	return o
}

func (o *originServer) lastAcceptEncoding() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.acceptEncoding) == 0 {
		return "<none>"
	}
	return o.acceptEncoding[len(o.acceptEncoding)-1]
}

func testStore(t *testing.T) *whitelist.Store {
	t.Helper()
	w, err := whitelist.New(7, []*whitelist.Entry{{
		Domains: []string{"example.com"},
		Type:    common.RewriterStreaming,
		Config:  (&streaming.Rules{MainContent: []string{".pg-headline"}}).Marshal(),
	}})
	require.NoError(t, err)
	return whitelist.NewStore(w)
}

// startProxy runs a proxy whose upstream dials for *.test and example.com
// land on the origin server, and whose dials for down.test fail.
func startProxy(t *testing.T, origin *originServer) *Server {
	t.Helper()
	cfg := &config.Config{
		BindAddress: "127.0.0.1",
		ListenAddr:  "127.0.0.1:0",
		LogLevel:    "error",
	}

	pool := worker.New(2, 5*time.Second)
	recorder := statistics.New(func(name string) string { return filepath.Join(t.TempDir(), name) })
	s := New(cfg, speedreader.New(testStore(t)), pool, recorder, nil)
	s.transport.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
		if strings.HasPrefix(addr, "down.test") {
			return nil, errors.New("connection refused")
		}
		var d net.Dialer
		return d.DialContext(ctx, network, origin.addr)
	}
	require.NoError(t, s.Start())
	t.Cleanup(func() {
		_ = s.Close()
		_ = pool.Close()
	})
	return s
}

func proxyClient(t *testing.T, s *Server) *http.Client {
	proxyURL, err := url.Parse("http://" + s.Addr())
	require.NoError(t, err)
	return &http.Client{
		Transport: &http.Transport{
			Proxy:              http.ProxyURL(proxyURL),
			DisableCompression: true,
		},
		Timeout: 5 * time.Second,
	}
}

func TestHTTPProxyRewritesWhitelistedPage(t *testing.T) {
	origin := newOriginServer(t)
	s := startProxy(t, origin)
	client := proxyClient(t, s)

	req, err := http.NewRequest(http.MethodGet, "http://www.example.com/news/story", nil)
	require.NoError(t, err)
	req.Header.Set("Accept-Encoding", "gzip, br")

	resp, err := client.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, headline, string(body))
	assert.Equal(t, "streaming", resp.Header.Get(loader.Header))
	assert.Equal(t, "text/html; charset=utf-8", resp.Header.Get("Content-Type"))
	assert.Equal(t, int64(len(headline)), resp.ContentLength)
	assert.Empty(t, origin.lastAcceptEncoding(), "candidates are fetched without compression")
}

func TestHTTPProxyPassesThrough(t *testing.T) {
	origin := newOriginServer(t)
	s := startProxy(t, origin)
	client := proxyClient(t, s)

	tests := []struct {
		name   string
		method string
		url    string
		want   string
	}{
		{"non-html", http.MethodGet, "http://www.example.com/plain", "OK"},
		{"not whitelisted", http.MethodGet, "http://other.test/news/story", articlePage},
		{"not a GET", http.MethodPost, "http://www.example.com/news/story", articlePage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(tt.method, tt.url, strings.NewReader(""))
			require.NoError(t, err)
			resp, err := client.Do(req)
			require.NoError(t, err)
			defer func() { _ = resp.Body.Close() }()

			body, err := io.ReadAll(resp.Body)
			require.NoError(t, err)
			assert.Equal(t, http.StatusOK, resp.StatusCode)
			assert.Equal(t, tt.want, string(body))
			assert.Empty(t, resp.Header.Get(loader.Header))
		})
	}
}

func TestHTTPProxyBadGateway(t *testing.T) {
	origin := newOriginServer(t)
	s := startProxy(t, origin)
	client := proxyClient(t, s)

	resp, err := client.Get("http://down.test/news/story")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestHTTPProxyTruncatedUpstream(t *testing.T) {
	origin := newOriginServer(t)
	s := startProxy(t, origin)
	client := proxyClient(t, s)

	resp, err := client.Get("http://www.example.com/truncated")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Empty(t, resp.Header.Get(loader.Header))
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.NotContains(t, string(body), "<html>", "no part of the truncated page is sent")
}

func TestHTTPProxyRejectsOriginForm(t *testing.T) {
	origin := newOriginServer(t)
	s := startProxy(t, origin)

	resp, err := http.Get("http://" + s.Addr() + "/news/story")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func dialTunnel(t *testing.T, s *Server, target string) (net.Conn, *bufio.Reader) {
	t.Helper()
	conn, err := net.Dial("tcp", s.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))

	_, err = fmt.Fprintf(conn, "CONNECT %s HTTP/1.1\r\nHost: %s\r\n\r\n", target, target)
	require.NoError(t, err)

	br := bufio.NewReader(conn)
	resp, err := http.ReadResponse(br, &http.Request{Method: http.MethodConnect})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	return conn, br
}

func TestHTTPProxyCONNECTRewritesPlainHTTP(t *testing.T) {
	origin := newOriginServer(t)
	s := startProxy(t, origin)
	conn, br := dialTunnel(t, s, "www.example.com:80")

	_, err := fmt.Fprintf(conn, "GET /news/story HTTP/1.1\r\nHost: www.example.com\r\n\r\n")
	require.NoError(t, err)

	resp, err := http.ReadResponse(br, nil)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, headline, string(body))
	assert.Equal(t, "streaming", resp.Header.Get(loader.Header))
}

func TestHTTPProxyCONNECTRelaysOtherTraffic(t *testing.T) {
	echo, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer func() { _ = echo.Close() }()
	go func() {
		for {
			c, err := echo.Accept()
			if err != nil {
				return
			}
			go func() {
				defer func() { _ = c.Close() }()
				_, _ = io.Copy(c, c)
			}()
		}
	}()

	origin := newOriginServer(t)
	s := startProxy(t, origin)
	conn, br := dialTunnel(t, s, echo.Addr().String())

	msg := "\x00\x01binary hello\n"
	_, err = conn.Write([]byte(msg))
	require.NoError(t, err)
	got := make([]byte, len(msg))
	_, err = io.ReadFull(br, got)
	require.NoError(t, err)
	assert.Equal(t, msg, string(got))
}
