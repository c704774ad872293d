package sniff

import "bufio"

// SniffTLSClientHello reports whether the stream opens with a TLS handshake
// record.
func SniffTLSClientHello(br *bufio.Reader) bool {
	header, err := br.Peek(3)
	if err != nil {
		return false
	}
	// record type 0x16 is handshake
	if header[0] != 0x16 || header[1] != 0x03 {
		return false
	}
	return header[2] >= 0x01 && header[2] <= 0x04
}
