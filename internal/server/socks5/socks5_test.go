package socks5

import (
	"bufio"
	"encoding/binary"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sunbk201/speedreader/internal/config"
)

// echoTunnel answers every tunnel by echoing what the client sends.
type echoTunnel struct {
	mu    sync.Mutex
	dests []string
}

func (e *echoTunnel) ServeTunnel(client net.Conn, br *bufio.Reader, src, destAddr string) {
	e.mu.Lock()
	e.dests = append(e.dests, destAddr)
	e.mu.Unlock()
	defer client.Close()
	_, _ = io.Copy(client, br)
}

func (e *echoTunnel) last() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.dests) == 0 {
		return ""
	}
	return e.dests[len(e.dests)-1]
}

func startServer(t *testing.T) (*Server, *echoTunnel) {
	t.Helper()
	tunnel := &echoTunnel{}
	s := New(&config.Config{SOCKS5ListenAddr: "127.0.0.1:0"}, tunnel)
	require.NoError(t, s.Start())
	t.Cleanup(func() { _ = s.Close() })
	return s, tunnel
}

func dial(t *testing.T, s *Server) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", s.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))
	return conn
}

func handshake(t *testing.T, conn net.Conn) {
	t.Helper()
	_, err := conn.Write([]byte{socksVer5, 1, socksNoAuth})
	require.NoError(t, err)
	resp := make([]byte, 2)
	_, err = io.ReadFull(conn, resp)
	require.NoError(t, err)
	require.Equal(t, []byte{socksVer5, socksNoAuth}, resp)
}

func connectRequest(atyp byte, addr []byte, port uint16) []byte {
	req := []byte{socksVer5, socksCmdConn, 0x00, atyp}
	if atyp == socksATYDomain {
		req = append(req, byte(len(addr)))
	}
	req = append(req, addr...)
	return binary.BigEndian.AppendUint16(req, port)
}

func TestSocks5Connect(t *testing.T) {
	tests := []struct {
		name string
		atyp byte
		addr []byte
		want string
	}{
		{"domain", socksATYDomain, []byte("www.example.com"), "www.example.com:80"},
		{"ipv4", socksATYPv4, net.ParseIP("10.1.2.3").To4(), "10.1.2.3:80"},
		{"ipv6", socksATYPv6, net.ParseIP("2001:db8::1"), "[2001:db8::1]:80"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, tunnel := startServer(t)
			conn := dial(t, s)
			handshake(t, conn)

			// the first tunnel bytes ride along with the request
			req := append(connectRequest(tt.atyp, tt.addr, 80), []byte("ping")...)
			_, err := conn.Write(req)
			require.NoError(t, err)

			resp := make([]byte, 10)
			_, err = io.ReadFull(conn, resp)
			require.NoError(t, err)
			assert.Equal(t, byte(repSucceeded), resp[1])

			got := make([]byte, 4)
			_, err = io.ReadFull(conn, got)
			require.NoError(t, err)
			assert.Equal(t, "ping", string(got))
			assert.Equal(t, tt.want, tunnel.last())
		})
	}
}

func TestSocks5RejectsOtherCommands(t *testing.T) {
	s, tunnel := startServer(t)
	conn := dial(t, s)
	handshake(t, conn)

	// BIND
	_, err := conn.Write([]byte{socksVer5, 0x02, 0x00, socksATYPv4, 127, 0, 0, 1, 0, 80})
	require.NoError(t, err)
	resp := make([]byte, 10)
	_, err = io.ReadFull(conn, resp)
	require.NoError(t, err)
	assert.Equal(t, byte(repCmdNotSupported), resp[1])
	assert.Empty(t, tunnel.last())
}

func TestSocks5RequiresNoAuth(t *testing.T) {
	s, _ := startServer(t)
	conn := dial(t, s)

	// username/password only
	_, err := conn.Write([]byte{socksVer5, 1, 0x02})
	require.NoError(t, err)
	resp := make([]byte, 2)
	_, err = io.ReadFull(conn, resp)
	require.NoError(t, err)
	assert.Equal(t, []byte{socksVer5, socksNoMatch}, resp)
}

func TestSocks5InvalidVersion(t *testing.T) {
	s, _ := startServer(t)
	conn := dial(t, s)

	_, err := conn.Write([]byte{0x04, 1, socksNoAuth})
	require.NoError(t, err)
	_, err = conn.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF)
}

func TestSocks5Close(t *testing.T) {
	s, _ := startServer(t)
	addr := s.Addr()
	require.NoError(t, s.Close())
	_, err := net.DialTimeout("tcp", addr, time.Second)
	assert.Error(t, err)
}
