package sniff

import (
	"bufio"
	"bytes"
)

var methods = [...]string{
	"GET", "POST", "HEAD", "CONNECT", "PUT", "DELETE", "OPTIONS", "PATCH", "TRACE",
}

const maxMethodLen = 7

type node struct {
	next map[byte]*node
	end  bool
}

var methodTrie = func() *node {
	root := &node{next: make(map[byte]*node)}
	for _, m := range methods {
		n := root
		for i := 0; i < len(m); i++ {
			c := m[i]
			if n.next[c] == nil {
				n.next[c] = &node{next: make(map[byte]*node)}
			}
			n = n.next[c]
		}
		n.end = true
	}
	return root
}()

// beginsWithMethod walks the method trie over the peeked prefix.
func beginsWithMethod(br *bufio.Reader) (bool, error) {
	n := methodTrie
	seen := 0
	for size := 3; size <= maxMethodLen; size++ {
		buf, err := br.Peek(size)
		if err != nil {
			return false, err
		}
		for _, c := range buf[seen:] {
			next, ok := n.next[c]
			if !ok {
				return false, nil
			}
			n = next
			if n.end {
				return true, nil
			}
		}
		seen = len(buf)
	}
	return false, nil
}

// SniffHTTP reports whether the stream opens with an HTTP/1.x request line.
// A line that is not buffered yet is judged by its method alone.
func SniffHTTP(br *bufio.Reader) (bool, error) {
	ok, err := beginsWithMethod(br)
	if err != nil || !ok {
		return false, err
	}
	line, err := peekLine(br, 256)
	if err != nil {
		return true, nil
	}
	fields := bytes.Split(line, []byte{' '})
	if len(fields) != 3 {
		return true, nil
	}
	proto := string(fields[2])
	return proto == "HTTP/1.1" || proto == "HTTP/1.0", nil
}
