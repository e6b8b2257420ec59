// Package transport implements the send/recv primitives of spec.md §4.2:
// length-framed TCP for client<->peer and client<->server traffic, and
// unframed UDP datagrams for intra-server worker dispatch. Every socket
// handle returned here is a plain *net.TCPConn/*net.UDPConn — callers are
// responsible for closing it on every exit path (spec.md §9 "Raw socket
// handles"), exactly as the teacher's socket.go treats its sockets as
// scoped resources.
package transport

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/anacrolix/missinggo/v2"
)

const lengthPrefixSize = 8

var tcpListenConfig = net.ListenConfig{
	KeepAlive: -1, // TCP keep-alive probes are disabled
}

// OpenListener binds a TCP listener on port (0 requests an ephemeral port)
// and returns the listener and the bound port.
func OpenListener(host string, port int) (*net.TCPListener, int, error) {
	for {
		l, err := tcpListenConfig.Listen(context.Background(), "tcp4", net.JoinHostPort(host, strconv.Itoa(port)))
		if err != nil {
			if port == 0 && missinggo.IsAddrInUse(err) {
				continue
			}
			return nil, 0, err
		}
		tcpL := l.(*net.TCPListener)
		return tcpL, missinggo.AddrPort(tcpL.Addr()), nil
	}
}

// Connect dials a TCP peer, failing if the handshake does not complete
// within timeout.
func Connect(addr string, timeout time.Duration) (net.Conn, error) {
	d := net.Dialer{Timeout: timeout, FallbackDelay: -1, KeepAlive: -1}
	return d.Dial("tcp4", addr)
}

// SendFramed writes an 8-byte big-endian length followed by payload,
// retrying short writes until the whole frame is on the wire. It fails iff
// any underlying Write returns an error.
func SendFramed(w io.Writer, payload []byte) error {
	var lenBuf [lengthPrefixSize]byte
	binary.BigEndian.PutUint64(lenBuf[:], uint64(len(payload)))
	if err := writeFull(w, lenBuf[:]); err != nil {
		return fmt.Errorf("transport: writing length prefix: %w", err)
	}
	if err := writeFull(w, payload); err != nil {
		return fmt.Errorf("transport: writing payload: %w", err)
	}
	return nil
}

func writeFull(w io.Writer, b []byte) error {
	for len(b) > 0 {
		n, err := w.Write(b)
		if n > 0 {
			b = b[n:]
		}
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
	}
	return nil
}

type deadlineConn interface {
	SetReadDeadline(time.Time) error
}

// RecvFramed reads exactly the 8-byte length prefix (failing on EOF or
// timeout) and then exactly that many body bytes, returning the body alone.
// The timeout is applied per-read, matching spec.md §4.2.
func RecvFramed(r io.Reader, timeout time.Duration) ([]byte, error) {
	if dc, ok := r.(deadlineConn); ok && timeout > 0 {
		_ = dc.SetReadDeadline(time.Now().Add(timeout))
	}
	var lenBuf [lengthPrefixSize]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, fmt.Errorf("transport: reading length prefix: %w", err)
	}
	n := binary.BigEndian.Uint64(lenBuf[:])
	body := make([]byte, n)
	if dc, ok := r.(deadlineConn); ok && timeout > 0 {
		_ = dc.SetReadDeadline(time.Now().Add(timeout))
	}
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("transport: reading body: %w", err)
	}
	return body, nil
}
