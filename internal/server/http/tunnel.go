package http

import (
	"bufio"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/sunbk201/speedreader/internal/server/utils"
	"github.com/sunbk201/speedreader/internal/sniff"
	"github.com/sunbk201/speedreader/internal/statistics"
)

// sniffTimeout bounds how long a tunnel waits for the client to speak first.
// Protocols where the server speaks first are relayed once it expires.
const sniffTimeout = 500 * time.Millisecond

func (s *Server) handleTunneling(w http.ResponseWriter, req *http.Request) {
	destAddr := hostPort(req.Host, "443")
	slog.Debug("HTTP CONNECT request", slog.String("src", req.RemoteAddr), slog.String("dest", destAddr))

	hijacker, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, "Hijacking not supported", http.StatusInternalServerError)
		return
	}
	client, rw, err := hijacker.Hijack()
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	if _, err := client.Write([]byte("HTTP/1.1 200 Connection Established\r\n\r\n")); err != nil {
		slog.Warn("client.Write", slog.String("src", req.RemoteAddr), slog.Any("error", err))
		_ = client.Close()
		return
	}

	s.ServeTunnel(client, rw.Reader, req.RemoteAddr, destAddr)
}

// ServeTunnel takes over an established client tunnel to destAddr. Plain
// HTTP inside it goes through the proxy handler; anything else is relayed.
// br holds bytes already read from client and may be nil.
func (s *Server) ServeTunnel(client net.Conn, br *bufio.Reader, src, destAddr string) {
	if br == nil {
		br = bufio.NewReader(client)
	}
	proto := sniffTunnel(client, br)
	record := &statistics.ConnectionRecord{
		Protocol:  proto,
		SrcAddr:   src,
		DestAddr:  destAddr,
		StartTime: time.Now(),
	}
	s.connectionOpened(record)
	defer s.connectionClosed(record)

	conn := &bufferedConn{Conn: client, r: br}
	if proto == sniff.HTTP {
		host, _, err := net.SplitHostPort(destAddr)
		if err != nil {
			host = destAddr
		}
		s.serveTunnelHTTP(conn, host, destAddr)
		return
	}

	target, err := utils.Connect(destAddr)
	if err != nil {
		slog.Warn("utils.Connect", slog.String("dest", destAddr), slog.Any("error", err))
		_ = client.Close()
		return
	}
	utils.Relay(conn, target)
}

// sniffTunnel waits briefly for the first bytes of the tunnel and classifies
// them. Nothing is consumed.
func sniffTunnel(conn net.Conn, br *bufio.Reader) sniff.Protocol {
	if br.Buffered() == 0 {
		_ = conn.SetReadDeadline(time.Now().Add(sniffTimeout))
		_, err := br.Peek(1)
		_ = conn.SetReadDeadline(time.Time{})
		if err != nil {
			if !errors.Is(err, os.ErrDeadlineExceeded) {
				slog.Debug("br.Peek", slog.Any("error", err))
			}
			return sniff.TCP
		}
	}
	return sniff.Sniff(br)
}

// serveTunnelHTTP runs the proxy handler over the requests of one tunnel.
// They arrive in origin form, so scheme and host are filled in before
// eligibility is judged. host stands in for a missing Host header.
func (s *Server) serveTunnelHTTP(conn net.Conn, host, destAddr string) {
	ln := newConnListener(conn)
	srv := &http.Server{
		Handler: http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			req.URL.Scheme = "http"
			if req.Host != "" {
				req.URL.Host = req.Host
			} else {
				req.URL.Host = host
			}
			s.handleHTTP(w, req, destAddr)
		}),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       90 * time.Second,
		ConnState: func(_ net.Conn, state http.ConnState) {
			if state == http.StateClosed || state == http.StateHijacked {
				_ = ln.Close()
			}
		},
	}
	if err := srv.Serve(ln); err != nil && !errors.Is(err, net.ErrClosed) {
		slog.Debug("tunnel srv.Serve", slog.String("dest", destAddr), slog.Any("error", err))
	}
}

// bufferedConn reads through the bufio.Reader the tunnel was sniffed with.
type bufferedConn struct {
	net.Conn
	r *bufio.Reader
}

func (c *bufferedConn) Read(b []byte) (int, error) {
	return c.r.Read(b)
}

func (c *bufferedConn) CloseWrite() error {
	if cw, ok := c.Conn.(interface{ CloseWrite() error }); ok {
		return cw.CloseWrite()
	}
	return c.Conn.Close()
}

func (c *bufferedConn) CloseRead() error {
	if cr, ok := c.Conn.(interface{ CloseRead() error }); ok {
		return cr.CloseRead()
	}
	return c.Conn.Close()
}

// connListener hands out a single connection, then blocks until closed.
type connListener struct {
	conn   net.Conn
	once   sync.Once
	accept chan net.Conn
	closed chan struct{}
}

func newConnListener(conn net.Conn) *connListener {
	l := &connListener{
		conn:   conn,
		accept: make(chan net.Conn, 1),
		closed: make(chan struct{}),
	}
	l.accept <- conn
	return l
}

func (l *connListener) Accept() (net.Conn, error) {
	select {
	case c := <-l.accept:
		return c, nil
	case <-l.closed:
		return nil, net.ErrClosed
	}
}

func (l *connListener) Close() error {
	l.once.Do(func() { close(l.closed) })
	return nil
}

func (l *connListener) Addr() net.Addr {
	return l.conn.LocalAddr()
}
