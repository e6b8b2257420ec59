package transport

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/anacrolix/missinggo/v2"
)

// OpenUDPSocket binds a UDP socket on port (0 for ephemeral) and returns it
// plus the bound port. Used for the worker request/election sockets (C6/C7)
// and the dispatcher<->worker datagrams (C8).
func OpenUDPSocket(host string, port int) (*net.UDPConn, int, error) {
	for {
		addr := &net.UDPAddr{IP: net.ParseIP(host), Port: port}
		if addr.IP == nil {
			addr.IP = net.IPv4zero
		}
		conn, err := net.ListenUDP("udp4", addr)
		if err != nil {
			if port == 0 && missinggo.IsAddrInUse(err) {
				continue
			}
			return nil, 0, err
		}
		return conn, missinggo.AddrPort(conn.LocalAddr()), nil
	}
}

// SendUDP writes payload as a single unframed datagram to addr.
func SendUDP(conn *net.UDPConn, addr *net.UDPAddr, payload []byte, timeout time.Duration) error {
	if timeout > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(timeout))
	}
	n, err := conn.WriteToUDP(payload, addr)
	if err != nil {
		return fmt.Errorf("transport: udp send to %s: %w", addr, err)
	}
	if n != len(payload) {
		return fmt.Errorf("transport: udp short write to %s: %d/%d", addr, n, len(payload))
	}
	return nil
}

// RecvUDP blocks for at most timeout waiting for a single datagram, unframed
// (spec.md §4.2: "single worker message per datagram").
func RecvUDP(conn *net.UDPConn, timeout time.Duration, maxSize int) ([]byte, *net.UDPAddr, error) {
	if timeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(timeout))
	}
	buf := make([]byte, maxSize)
	n, from, err := conn.ReadFromUDP(buf)
	if err != nil {
		return nil, nil, err
	}
	return buf[:n], from, nil
}

// JoinHostPort is a tiny convenience wrapper kept next to the rest of the
// transport address helpers so callers don't need net/strconv directly.
func JoinHostPort(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// IsTimeout reports whether err is a network timeout, distinguishing
// "nobody answered" from a genuine protocol failure.
func IsTimeout(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}
