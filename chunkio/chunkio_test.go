package chunkio

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNumChunks(t *testing.T) {
	assert.EqualValues(t, 0, NumChunks(0, 4096))
	assert.EqualValues(t, 1, NumChunks(1, 4096))
	assert.EqualValues(t, 1, NumChunks(4096, 4096))
	assert.EqualValues(t, 2, NumChunks(4097, 4096))
	assert.EqualValues(t, 3, NumChunks(10000, 4096))
}

func TestSplitMergeRoundTrip(t *testing.T) {
	dir := t.TempDir()
	const chunkSize = 4096
	content := make([]byte, 10000)
	for i := range content {
		content[i] = byte(i % 251)
	}
	srcPath := filepath.Join(dir, "src.bin")
	require.NoError(t, os.WriteFile(srcPath, content, 0o644))

	numChunks := NumChunks(uint64(len(content)), chunkSize)
	require.EqualValues(t, 3, numChunks)

	for i := uint64(0); i < numChunks; i++ {
		data, err := PackageChunk(srcPath, i, chunkSize)
		require.NoError(t, err)
		require.NoError(t, UnpackChunk(dir, "dst.bin", i, data))
	}

	dst, err := OpenAssembly(dir, "dst.bin")
	require.NoError(t, err)
	for i := uint64(1); i < numChunks; i++ {
		require.NoError(t, MergeChunk(dst, dir, "dst.bin", i, chunkSize))
	}
	require.NoError(t, dst.Close())

	got, err := os.ReadFile(filepath.Join(dir, "dst.bin"))
	require.NoError(t, err)
	assert.Equal(t, content, got)

	for i := uint64(0); i < numChunks; i++ {
		_, err := os.Stat(filepath.Join(dir, chunkFileName("dst.bin", i)))
		assert.True(t, os.IsNotExist(err))
	}
}

func TestUnpackChunkFailsIfExists(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, UnpackChunk(dir, "f", 0, []byte("a")))
	err := UnpackChunk(dir, "f", 0, []byte("b"))
	assert.Error(t, err)
}

func TestLastChunkShorterThanChunkSize(t *testing.T) {
	dir := t.TempDir()
	content := []byte("hello world") // 11 bytes, chunkSize 4 -> last chunk is 3 bytes
	srcPath := filepath.Join(dir, "s.bin")
	require.NoError(t, os.WriteFile(srcPath, content, 0o644))

	last, err := PackageChunk(srcPath, 2, 4)
	require.NoError(t, err)
	assert.Len(t, last, 3)
	assert.Equal(t, content[8:11], last)
}
