// Package socks5 is a SOCKS5 inbound for clients that cannot use an HTTP
// proxy. Every CONNECT becomes a tunnel served by the HTTP proxy, so plain
// HTTP inside it is rewritten the same way.
package socks5

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/sunbk201/speedreader/internal/config"
)

// SOCKS5 constants
const (
	socksVer5    = 0x05
	socksNoAuth  = 0x00
	socksNoMatch = 0xff
	socksCmdConn = 0x01

	socksATYPv4    = 0x01
	socksATYDomain = 0x03
	socksATYPv6    = 0x04

	repSucceeded        = 0x00
	repCmdNotSupported  = 0x07
	repAddrNotSupported = 0x08

	handshakeTimeout = 10 * time.Second
)

var (
	ErrInvalidSocksVersion = errors.New("invalid socks version")
	ErrInvalidSocksCmd     = errors.New("invalid socks cmd")
	ErrInvalidAddrType     = errors.New("invalid socks address type")
	ErrNoAcceptableAuth    = errors.New("no acceptable auth method")
)

// Tunneler serves an established tunnel to destAddr.
type Tunneler interface {
	ServeTunnel(client net.Conn, br *bufio.Reader, src, destAddr string)
}

type Server struct {
	cfg      *config.Config
	tunnel   Tunneler
	listener net.Listener

	wg        sync.WaitGroup
	closed    chan struct{}
	closeOnce sync.Once
}

func New(cfg *config.Config, tunnel Tunneler) *Server {
	return &Server{
		cfg:    cfg,
		tunnel: tunnel,
		closed: make(chan struct{}),
	}
}

// Start begins listening for SOCKS5 clients.
func (s *Server) Start() (err error) {
	if s.listener, err = net.Listen("tcp", s.cfg.SOCKS5ListenAddr); err != nil {
		return fmt.Errorf("net.Listen: %w", err)
	}
	slog.Info("SOCKS5 server started", slog.String("addr", s.listener.Addr().String()))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			client, err := s.listener.Accept()
			if err != nil {
				select {
				case <-s.closed:
					return
				default:
				}
				slog.Error("s.listener.Accept", slog.Any("error", err))
				time.Sleep(10 * time.Millisecond)
				continue
			}
			slog.Debug("Accept connection", slog.String("src", client.RemoteAddr().String()))
			go s.handleClient(client)
		}
	}()
	return nil
}

func (s *Server) Addr() string {
	if s.listener == nil {
		return s.cfg.SOCKS5ListenAddr
	}
	return s.listener.Addr().String()
}

// Close stops accepting. Established tunnels run until either side ends.
func (s *Server) Close() (err error) {
	if s.listener == nil {
		return nil
	}
	s.closeOnce.Do(func() {
		close(s.closed)
		err = s.listener.Close()
		s.wg.Wait()
	})
	return err
}

// handleClient performs SOCKS5 negotiation and hands the tunnel over.
func (s *Server) handleClient(client net.Conn) {
	src := client.RemoteAddr().String()
	br := bufio.NewReader(client)

	_ = client.SetDeadline(time.Now().Add(handshakeTimeout))
	if err := s.socks5Auth(client, br); err != nil {
		slog.Debug("socks5Auth", slog.String("src", src), slog.Any("error", err))
		_ = client.Close()
		return
	}
	destAddrPort, err := s.parseSocks5Request(client, br)
	if err != nil {
		slog.Debug("parseSocks5Request", slog.String("src", src), slog.Any("error", err))
		_ = client.Close()
		return
	}
	// Reply success (bind set to 0.0.0.0:0)
	if _, err := client.Write([]byte{socksVer5, repSucceeded, 0x00, socksATYPv4, 0, 0, 0, 0, 0, 0}); err != nil {
		slog.Debug("client.Write", slog.String("src", src), slog.Any("error", err))
		_ = client.Close()
		return
	}
	_ = client.SetDeadline(time.Time{})

	slog.Debug("SOCKS5 CONNECT", slog.String("src", src), slog.String("dest", destAddrPort))
	s.tunnel.ServeTunnel(client, br, src, destAddrPort)
}

// socks5Auth performs a minimal "no-auth" negotiation.
func (s *Server) socks5Auth(client net.Conn, br *bufio.Reader) error {
	var head [2]byte
	if _, err := io.ReadFull(br, head[:]); err != nil {
		return fmt.Errorf("read header: %w", err)
	}
	if head[0] != socksVer5 {
		return ErrInvalidSocksVersion
	}
	methods := make([]byte, head[1])
	if _, err := io.ReadFull(br, methods); err != nil {
		return fmt.Errorf("read methods: %w", err)
	}
	for _, m := range methods {
		if m == socksNoAuth {
			_, err := client.Write([]byte{socksVer5, socksNoAuth})
			return err
		}
	}
	_, _ = client.Write([]byte{socksVer5, socksNoMatch})
	return ErrNoAcceptableAuth
}

// parseSocks5Request reads a single CONNECT request and returns host:port.
// Other commands are refused.
func (s *Server) parseSocks5Request(client net.Conn, br *bufio.Reader) (string, error) {
	var head [4]byte
	if _, err := io.ReadFull(br, head[:]); err != nil {
		return "", fmt.Errorf("read header: %w", err)
	}
	ver, cmd, atyp := head[0], head[1], head[3]
	if ver != socksVer5 {
		return "", ErrInvalidSocksVersion
	}
	if cmd != socksCmdConn {
		reply(client, repCmdNotSupported)
		return "", fmt.Errorf("%w: %d", ErrInvalidSocksCmd, cmd)
	}

	var host string
	switch atyp {
	case socksATYPv4, socksATYPv6:
		ip := make(net.IP, net.IPv4len)
		if atyp == socksATYPv6 {
			ip = make(net.IP, net.IPv6len)
		}
		if _, err := io.ReadFull(br, ip); err != nil {
			return "", fmt.Errorf("read ip: %w", err)
		}
		host = ip.String()
	case socksATYDomain:
		n, err := br.ReadByte()
		if err != nil {
			return "", fmt.Errorf("read hostname length: %w", err)
		}
		name := make([]byte, n)
		if _, err := io.ReadFull(br, name); err != nil {
			return "", fmt.Errorf("read hostname: %w", err)
		}
		host = string(name)
	default:
		reply(client, repAddrNotSupported)
		return "", fmt.Errorf("%w: %d", ErrInvalidAddrType, atyp)
	}

	var port [2]byte
	if _, err := io.ReadFull(br, port[:]); err != nil {
		return "", fmt.Errorf("read port: %w", err)
	}
	return net.JoinHostPort(host, strconv.Itoa(int(binary.BigEndian.Uint16(port[:])))), nil
}

func reply(client net.Conn, rep byte) {
	_, _ = client.Write([]byte{socksVer5, rep, 0x00, socksATYPv4, 0, 0, 0, 0, 0, 0})
}
