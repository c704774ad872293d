// Package sniff tells what a byte stream carries: the protocol spoken inside
// a CONNECT tunnel, and whether a response body is an HTML document.
package sniff

import (
	"bufio"
	"bytes"
	"io"
)

// Protocol seen at the start of a tunnelled stream.
type Protocol string

const (
	TCP  Protocol = "TCP"
	HTTP Protocol = "HTTP"
	TLS  Protocol = "TLS"
)

// Sniff peeks at the start of a tunnel without consuming it.
func Sniff(br *bufio.Reader) Protocol {
	if SniffTLSClientHello(br) {
		return TLS
	}
	if ok, _ := SniffHTTP(br); ok {
		return HTTP
	}
	return TCP
}

// peekLine returns the first buffered line without its CRLF, without
// consuming anything.
func peekLine(br *bufio.Reader, maxSize int) ([]byte, error) {
	n := min(maxSize, br.Buffered())
	if n == 0 {
		return nil, io.EOF
	}
	buf, err := br.Peek(n)
	if err != nil {
		return nil, err
	}
	i := bytes.IndexByte(buf, '\n')
	if i < 0 {
		return nil, io.EOF
	}
	return bytes.TrimSuffix(buf[:i], []byte{'\r'}), nil
}
