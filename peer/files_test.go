package peer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mjffraser/dfd/wire"
)

func TestSharedFilesAddLookupRemove(t *testing.T) {
	sf := NewSharedFiles()
	_, ok := sf.Lookup(1)
	assert.False(t, ok)

	sf.Add(1, FileEntry{Path: "/tmp/a", Size: 10})
	entry, ok := sf.Lookup(1)
	require.True(t, ok)
	assert.Equal(t, uint64(10), entry.Size)

	sf.Remove(1)
	_, ok = sf.Lookup(1)
	assert.False(t, ok)
}

func TestSharedFilesSnapshotIsolation(t *testing.T) {
	sf := NewSharedFiles()
	sf.Add(1, FileEntry{Path: "/tmp/a", Size: 1})

	entry, ok := sf.Lookup(1)
	require.True(t, ok)

	sf.Add(2, FileEntry{Path: "/tmp/b", Size: 2})
	sf.Remove(1)

	// The earlier lookup's value must be unaffected by later mutation.
	assert.Equal(t, FileEntry{Path: "/tmp/a", Size: 1}, entry)

	_, stillThere := sf.Lookup(wire.FileID(1))
	assert.False(t, stillThere)
}
