// Package http is the forward proxy: plain HTTP responses go through the
// reader-mode loader, CONNECT tunnels are relayed untouched unless they turn
// out to carry plain HTTP.
package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/sunbk201/speedreader/internal/config"
	"github.com/sunbk201/speedreader/internal/loader"
	"github.com/sunbk201/speedreader/internal/metrics"
	"github.com/sunbk201/speedreader/internal/pipe"
	"github.com/sunbk201/speedreader/internal/sniff"
	"github.com/sunbk201/speedreader/internal/speedreader"
	"github.com/sunbk201/speedreader/internal/statistics"
	"github.com/sunbk201/speedreader/internal/worker"
)

const (
	uploadChunk     = 32 << 10
	shutdownTimeout = 5 * time.Second

	reasonMethod = "method"
)

// hop-by-hop headers, dropped in both directions
var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

type Server struct {
	cfg       *config.Config
	sr        *speedreader.SpeedReader
	pool      *worker.Pool
	recorder  *statistics.Recorder
	metrics   *metrics.Metrics
	transport *http.Transport

	server   *http.Server
	listener net.Listener
}

// New creates the proxy. m may be nil.
func New(cfg *config.Config, sr *speedreader.SpeedReader, pool *worker.Pool, recorder *statistics.Recorder, m *metrics.Metrics) *Server {
	return &Server{
		cfg:      cfg,
		sr:       sr,
		pool:     pool,
		recorder: recorder,
		metrics:  m,
		transport: &http.Transport{
			Proxy: nil,
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: time.Second,
			// bodies are relayed as the origin encoded them
			DisableCompression: true,
		},
	}
}

func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("net.Listen: %w", err)
	}
	s.listener = ln
	s.server = &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       90 * time.Second,
	}
	slog.Info("HTTP proxy started", slog.String("addr", ln.Addr().String()))

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("s.server.Serve", slog.Any("error", err))
		}
	}()
	return nil
}

// Addr is the address the proxy listens on once started.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.cfg.ListenAddr
	}
	return s.listener.Addr().String()
}

func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := s.server.Shutdown(ctx)
	s.transport.CloseIdleConnections()
	return err
}

func (s *Server) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if req.Method == http.MethodConnect {
		s.handleTunneling(w, req)
		return
	}
	if !req.URL.IsAbs() {
		http.Error(w, "not a proxy request", http.StatusBadRequest)
		return
	}
	s.handleHTTP(w, req, "")
}

func (s *Server) loaderOptions() loader.Options {
	return loader.Options{
		HeuristicsFallback: s.cfg.SpeedReader.HeuristicsFallback,
		MaxBodySize:        s.cfg.SpeedReader.MaxBodySize,
		PipeCapacity:       s.cfg.SpeedReader.PipeCapacity,
		Reporter:           s.report,
	}
}

// handleHTTP forwards one absolute-form request. A non-empty upstream
// replaces the dialled address, for requests read out of a CONNECT tunnel.
func (s *Server) handleHTTP(w http.ResponseWriter, req *http.Request, upstream string) {
	rawURL := req.URL.String()
	if upstream == "" {
		record := &statistics.ConnectionRecord{
			Protocol:  sniff.HTTP,
			SrcAddr:   req.RemoteAddr,
			DestAddr:  hostPort(req.URL.Host, "80"),
			StartTime: time.Now(),
		}
		s.connectionOpened(record)
		defer s.connectionClosed(record)
	}

	slog.Debug("HTTP request", slog.String("src", req.RemoteAddr), slog.String("url", rawURL))

	throttle := loader.NewThrottle(req.Context(), s.sr, s.pool, s.loaderOptions())
	defer throttle.Close()

	out := req.Clone(req.Context())
	out.RequestURI = ""
	if upstream != "" {
		out.URL.Host = upstream
		out.Host = req.URL.Host
	}
	removeHopHeaders(out.Header)
	candidate := req.Method == http.MethodGet && throttle.Candidate(rawURL)
	if candidate {
		// only an identity body can be rewritten
		out.Header.Del("Accept-Encoding")
	}

	resp, err := s.transport.RoundTrip(out)
	if err != nil {
		slog.Warn("transport.RoundTrip", slog.String("url", rawURL), slog.Any("error", err))
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Debug("resp.Body.Close", slog.String("url", rawURL), slog.Any("error", err))
		}
	}()
	removeHopHeaders(resp.Header)

	head := &loader.ResponseHead{
		StatusCode:    resp.StatusCode,
		Header:        resp.Header,
		ContentLength: resp.ContentLength,
	}
	if !candidate {
		reason := loader.ReasonNotWhitelisted
		if req.Method != http.MethodGet {
			reason = reasonMethod
		}
		s.passThrough(w, resp, req.URL.Hostname(), reason)
		return
	}
	client := newResponseClient()
	l, ok := throttle.WillProcessResponse(rawURL, head, client)
	if !ok {
		s.passThrough(w, resp, req.URL.Hostname(), throttle.PassReason(rawURL, head))
		return
	}
	go s.upload(req.Context(), l, resp.Body)
	s.deliver(w, throttle, l, client)
}

func (s *Server) passThrough(w http.ResponseWriter, resp *http.Response, host, reason string) {
	s.recorder.AddPassThrough(&statistics.PassThroughRecord{Host: host, Reason: reason})
	if s.metrics != nil {
		s.metrics.ObservePassThrough(reason)
	}
	copyHeader(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		slog.Debug("passThrough io.Copy", slog.String("host", host), slog.Any("error", err))
	}
}

// upload feeds the upstream body into the loader. A failed read is reported
// before the pipe closes so the loader never treats a truncated body as
// complete.
func (s *Server) upload(ctx context.Context, l *loader.Loader, body io.Reader) {
	w, r := pipe.New(s.cfg.SpeedReader.PipeCapacity)
	l.OnStartLoadingResponseBody(r)

	buf := make([]byte, uploadChunk)
	var total int64
	for {
		n, err := body.Read(buf)
		if n > 0 {
			if _, werr := w.Write(ctx, buf[:n]); werr != nil {
				// the loader went away
				_ = w.Close()
				return
			}
			total += int64(n)
		}
		switch {
		case errors.Is(err, io.EOF):
			_ = w.Close()
			l.OnComplete(loader.CompletionStatus{DecodedBodyLength: total})
			return
		case err != nil:
			l.OnComplete(loader.CompletionStatus{Err: err, DecodedBodyLength: total})
			_ = w.Close()
			return
		}
	}
}

// deliver writes what the loader produces. Nothing goes downstream until the
// throttle resumes. A load that fails or aborts after the header was sent
// tears the client connection down.
func (s *Server) deliver(w http.ResponseWriter, t *loader.Throttle, l *loader.Loader, c *responseClient) {
	select {
	case <-t.Resumed():
	case <-l.Done():
	}
	wroteHeader := false
	for {
		ev, ok := c.next(l.Done())
		if !ok {
			if !wroteHeader {
				http.Error(w, "response aborted", http.StatusBadGateway)
				return
			}
			panic(http.ErrAbortHandler)
		}
		switch ev.kind {
		case eventHead:
			copyHeader(w.Header(), ev.head.Header)
			w.WriteHeader(ev.head.StatusCode)
			wroteHeader = true
		case eventBody:
			if _, err := io.Copy(w, ev.body); err != nil {
				slog.Debug("deliver io.Copy", slog.Any("error", err))
			}
			_ = ev.body.Close()
		case eventComplete:
			if ev.status.Err == nil {
				return
			}
			slog.Warn("upstream load failed", slog.Any("error", ev.status.Err))
			if !wroteHeader {
				http.Error(w, ev.status.Err.Error(), http.StatusBadGateway)
				return
			}
			panic(http.ErrAbortHandler)
		}
	}
}

func (s *Server) report(res loader.Result) {
	if res.Rewritten {
		slog.Info("Page rewritten", slog.Any("result", res))
	} else {
		slog.Debug("Rewrite fell back", slog.Any("result", res))
	}
	record := &statistics.RewriteRecord{
		Host:     hostOf(res.URL),
		Type:     res.Type.String(),
		InBytes:  int64(res.InputBytes),
		OutBytes: int64(res.OutputBytes),
		Duration: res.Duration,
	}
	if !res.Rewritten {
		record.Fallbacks = 1
		if res.Err != nil {
			record.LastError = res.Err.Error()
		}
	}
	s.recorder.AddRewrite(record)
	if s.metrics != nil {
		s.metrics.ObserveRewrite(res.Type.String(), res.Rewritten, res.InputBytes, res.OutputBytes, res.Duration)
	}
}

func (s *Server) connectionOpened(r *statistics.ConnectionRecord) {
	s.recorder.AddConnection(r)
	if s.metrics != nil {
		s.metrics.ConnectionOpened(string(r.Protocol))
	}
}

func (s *Server) connectionClosed(r *statistics.ConnectionRecord) {
	s.recorder.RemoveConnection(r)
	if s.metrics != nil {
		s.metrics.ConnectionClosed(string(r.Protocol))
	}
}
