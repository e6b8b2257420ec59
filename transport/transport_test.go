package transport

import (
	"bytes"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendRecvFramed(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte("hello, framed world")
	require.NoError(t, SendFramed(&buf, payload))

	got, err := RecvFramed(&buf, 0)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestSendRecvFramedEmptyPayload(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, SendFramed(&buf, nil))
	got, err := RecvFramed(&buf, 0)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestTCPListenerEphemeralPort(t *testing.T) {
	l, port, err := OpenListener("127.0.0.1", 0)
	require.NoError(t, err)
	defer l.Close()
	assert.NotZero(t, port)
}

func TestTCPConnectTimeout(t *testing.T) {
	// 203.0.113.0/24 is TEST-NET-3 (RFC 5737), reserved and unroutable.
	_, err := Connect("203.0.113.1:9", 200*time.Millisecond)
	assert.Error(t, err)
}

func TestUDPSendRecv(t *testing.T) {
	a, aPort, err := OpenUDPSocket("127.0.0.1", 0)
	require.NoError(t, err)
	defer a.Close()
	b, _, err := OpenUDPSocket("127.0.0.1", 0)
	require.NoError(t, err)
	defer b.Close()

	dst := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: aPort}
	require.NoError(t, SendUDP(b, dst, []byte("ping"), time.Second))

	data, _, err := RecvUDP(a, time.Second, 1024)
	require.NoError(t, err)
	assert.Equal(t, []byte("ping"), data)
}

func TestUDPRecvTimeout(t *testing.T) {
	a, _, err := OpenUDPSocket("127.0.0.1", 0)
	require.NoError(t, err)
	defer a.Close()

	_, _, err = RecvUDP(a, 50*time.Millisecond, 1024)
	require.Error(t, err)
	assert.True(t, IsTimeout(err))
}
