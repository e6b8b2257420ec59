package download_test

import (
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/anacrolix/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mjffraser/dfd/download"
	"github.com/mjffraser/dfd/peer"
	"github.com/mjffraser/dfd/transport"
	"github.com/mjffraser/dfd/wire"
)

// startSeeder spins up a real peer.Seeder on an ephemeral TCP port serving
// fileID from content, and returns its address. The seeder and listener are
// shut down through t.Cleanup.
func startSeeder(t *testing.T, peerID wire.PeerID, fileID wire.FileID, content []byte) wire.PeerAddress {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "src.bin")
	require.NoError(t, os.WriteFile(path, content, 0o644))

	l, port, err := transport.OpenListener("127.0.0.1", 0)
	require.NoError(t, err)

	files := peer.NewSharedFiles()
	files.Add(fileID, peer.FileEntry{Path: path, Size: uint64(len(content))})
	s := peer.NewSeeder(files, log.Default, 5)
	go s.Serve(l)
	t.Cleanup(func() { s.Shutdown(); l.Close() })

	addr, ok := wire.AddressFromNetIP(net.IPv4(127, 0, 0, 1), uint16(port), peerID)
	require.True(t, ok)
	return addr
}

func TestDownloadSinglePeerSingleChunk(t *testing.T) {
	addr := startSeeder(t, 1, 0x0102030405060708, []byte{0x41})

	dir := t.TempDir()
	cfg := download.DefaultConfig()
	cfg.ChunkSize = 4096

	result, err := download.Download(0x0102030405060708, []wire.PeerAddress{addr}, dir, cfg)
	require.NoError(t, err)
	assert.Empty(t, result.BadPeers)

	got, err := os.ReadFile(filepath.Join(dir, result.Name))
	require.NoError(t, err)
	assert.Equal(t, []byte{0x41}, got)
}

func TestDownloadTwoPeersMultiChunk(t *testing.T) {
	content := make([]byte, 10000)
	for i := range content {
		content[i] = byte(i % 251)
	}
	a1 := startSeeder(t, 10, 2, content)
	a2 := startSeeder(t, 11, 2, content)

	dir := t.TempDir()
	cfg := download.DefaultConfig()
	cfg.ChunkSize = 4096

	result, err := download.Download(2, []wire.PeerAddress{a1, a2}, dir, cfg)
	require.NoError(t, err)
	assert.Empty(t, result.BadPeers)

	got, err := os.ReadFile(filepath.Join(dir, result.Name))
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestDownloadBadPeerEviction(t *testing.T) {
	content := make([]byte, 10000)
	for i := range content {
		content[i] = byte(i % 251)
	}
	good := startSeeder(t, 20, 3, content)

	// A peer that accepts connections and closes each one immediately,
	// before answering the handshake.
	l, port, err := transport.OpenListener("127.0.0.1", 0)
	require.NoError(t, err)
	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()
	t.Cleanup(func() { l.Close() })
	badAddr, ok := wire.AddressFromNetIP(net.IPv4(127, 0, 0, 1), uint16(port), 21)
	require.True(t, ok)

	dir := t.TempDir()
	cfg := download.DefaultConfig()
	cfg.ChunkSize = 4096

	result, err := download.Download(3, []wire.PeerAddress{good, badAddr}, dir, cfg)
	require.NoError(t, err)

	got, err := os.ReadFile(filepath.Join(dir, result.Name))
	require.NoError(t, err)
	assert.Equal(t, content, got)

	var evicted bool
	for _, p := range result.BadPeers {
		if p.PeerID == badAddr.PeerID {
			evicted = true
		}
	}
	assert.True(t, evicted, "misbehaving peer should be evicted into BadPeers")
}

// startFlakySeeder serves the handshake and exactly one chunk request per
// connection correctly, then closes the connection on any later request on
// that same connection, standing in for a peer that goes bad mid-session.
func startFlakySeeder(t *testing.T, peerID wire.PeerID, fileID wire.FileID, content []byte, chunkSize uint64) wire.PeerAddress {
	t.Helper()
	l, port, err := transport.OpenListener("127.0.0.1", 0)
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })

	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			go func(conn net.Conn) {
				defer conn.Close()
				served := false
				for {
					frame, err := transport.RecvFramed(conn, 0)
					if err != nil {
						return
					}
					op, body, err := wire.Split(frame)
					if err != nil {
						return
					}
					switch op {
					case wire.DOWNLOAD_INIT:
						if _, ok := wire.ParseDownloadInit(body); !ok {
							return
						}
						reply := wire.CreateDownloadConfirm(wire.DownloadConfirm{Size: uint64(len(content)), Name: "flaky.bin"})
						if err := transport.SendFramed(conn, reply); err != nil {
							return
						}
					case wire.REQUEST_CHUNK:
						req, ok := wire.ParseRequestChunk(body)
						if !ok {
							return
						}
						if served {
							// Misbehave on any request past the first.
							return
						}
						served = true
						start := req.Index * chunkSize
						end := start + chunkSize
						if end > uint64(len(content)) {
							end = uint64(len(content))
						}
						reply := wire.CreateDataChunk(wire.DataChunk{Index: req.Index, Payload: content[start:end]})
						if err := transport.SendFramed(conn, reply); err != nil {
							return
						}
					case wire.FINISH_DOWNLOAD:
						return
					default:
						return
					}
				}
			}(conn)
		}
	}()

	addr, ok := wire.AddressFromNetIP(net.IPv4(127, 0, 0, 1), uint16(port), peerID)
	require.True(t, ok)
	return addr
}

func TestDownloadFlakyPeerNotMarkedBadAfterSuccess(t *testing.T) {
	content := make([]byte, 10000)
	for i := range content {
		content[i] = byte(i % 251)
	}
	cfg := download.DefaultConfig()
	cfg.ChunkSize = 4096

	flaky := startFlakySeeder(t, 30, 4, content, cfg.ChunkSize)

	dir := t.TempDir()
	result, err := download.Download(4, []wire.PeerAddress{flaky}, dir, cfg)
	require.NoError(t, err)

	got, err := os.ReadFile(filepath.Join(dir, result.Name))
	require.NoError(t, err)
	assert.Equal(t, content, got)

	for _, p := range result.BadPeers {
		assert.NotEqual(t, flaky.PeerID, p.PeerID, "a peer that delivered a chunk this session must not be marked bad")
	}
}
