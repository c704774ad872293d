package utils

import (
	"io"
	"log/slog"
	"net"
	"time"
)

const dialTimeout = 10 * time.Second

// Connect dials the target address and returns the connection.
func Connect(addr string) (net.Conn, error) {
	slog.Debug("Connecting", slog.String("dest", addr))
	target, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		return nil, err
	}
	slog.Debug("Connected", slog.String("dest", addr))
	return target, nil
}

type closeWriter interface {
	CloseWrite() error
}

type closeReader interface {
	CloseRead() error
}

// CopyHalf copies from src to dst and half-closes both sides when done, so
// the opposite direction can still drain.
func CopyHalf(dst, src net.Conn) {
	defer func() {
		if cw, ok := dst.(closeWriter); ok {
			_ = cw.CloseWrite()
		} else {
			_ = dst.Close()
		}
		if cr, ok := src.(closeReader); ok {
			_ = cr.CloseRead()
		} else {
			_ = src.Close()
		}
		slog.Debug("Connections half-closed",
			slog.String("src", src.RemoteAddr().String()),
			slog.String("dest", dst.RemoteAddr().String()))
	}()
	_, _ = io.Copy(dst, src)
}

// Relay copies both directions and returns once both are done.
func Relay(client, target net.Conn) {
	done := make(chan struct{})
	go func() {
		CopyHalf(client, target)
		close(done)
	}()
	CopyHalf(target, client)
	<-done
	_ = client.Close()
	_ = target.Close()
}
