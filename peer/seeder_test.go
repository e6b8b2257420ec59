package peer

import (
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/anacrolix/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mjffraser/dfd/transport"
	"github.com/mjffraser/dfd/wire"
)

func TestSeederHandshakeAndChunkServe(t *testing.T) {
	dir := t.TempDir()
	content := []byte("hello seeder world")
	path := filepath.Join(dir, "f.bin")
	require.NoError(t, os.WriteFile(path, content, 0o644))

	files := NewSharedFiles()
	files.Add(42, FileEntry{Path: path, Size: uint64(len(content))})

	s := NewSeeder(files, log.Default, 1)

	client, server := net.Pipe()
	defer client.Close()
	go s.handle(server)

	require.NoError(t, transport.SendFramed(client, wire.CreateDownloadInit(wire.DownloadInit{FileID: 42, ChunkSize: 4096})))
	frame, err := transport.RecvFramed(client, 0)
	require.NoError(t, err)
	op, body, err := wire.Split(frame)
	require.NoError(t, err)
	require.Equal(t, wire.DOWNLOAD_CONFIRM, op)
	confirm, ok := wire.ParseDownloadConfirm(body)
	require.True(t, ok)
	assert.Equal(t, uint64(len(content)), confirm.Size)
	assert.Equal(t, "f.bin", confirm.Name)

	require.NoError(t, transport.SendFramed(client, wire.CreateRequestChunk(wire.RequestChunk{Index: 0})))
	frame, err = transport.RecvFramed(client, 0)
	require.NoError(t, err)
	op, body, err = wire.Split(frame)
	require.NoError(t, err)
	require.Equal(t, wire.DATA_CHUNK, op)
	chunk, ok := wire.ParseDataChunk(body)
	require.True(t, ok)
	assert.Equal(t, content, chunk.Payload)

	require.NoError(t, transport.SendFramed(client, wire.CreateFinishDownload()))
}

func TestSeederRejectsUnknownFile(t *testing.T) {
	files := NewSharedFiles()
	s := NewSeeder(files, log.Default, 1)

	client, server := net.Pipe()
	defer client.Close()
	go s.handle(server)

	require.NoError(t, transport.SendFramed(client, wire.CreateDownloadInit(wire.DownloadInit{FileID: 7})))
	frame, err := transport.RecvFramed(client, 0)
	require.NoError(t, err)
	op, _, err := wire.Split(frame)
	require.NoError(t, err)
	assert.Equal(t, wire.FAIL, op)
}
