package catalog

import (
	"net"
	"path/filepath"
	"testing"

	"github.com/anacrolix/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mjffraser/dfd/wire"
)

func openTest(t *testing.T) *BoltCatalog {
	path := filepath.Join(t.TempDir(), "catalog.db")
	c, err := OpenBoltCatalog(path, log.Default)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func addr(id wire.PeerID, port uint16) wire.PeerAddress {
	a, ok := wire.AddressFromNetIP(net.IPv4(127, 0, 0, 1), port, id)
	if !ok {
		panic("bad test address")
	}
	return a
}

func TestIndexAndSources(t *testing.T) {
	c := openTest(t)
	require.NoError(t, c.Index(1, 4096, addr(10, 9001)))
	require.NoError(t, c.Index(1, 4096, addr(11, 9002)))

	got, err := c.Sources(1)
	require.NoError(t, err)
	assert.Len(t, got, 2)

	none, err := c.Sources(2)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestIndexTwiceIsIdempotent(t *testing.T) {
	c := openTest(t)
	require.NoError(t, c.Index(1, 4096, addr(10, 9001)))
	require.NoError(t, c.Index(1, 4096, addr(10, 9001)))

	got, err := c.Sources(1)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestDropRemovesRowNotFound(t *testing.T) {
	c := openTest(t)
	require.NoError(t, c.Index(1, 4096, addr(10, 9001)))
	require.NoError(t, c.Drop(1, 10))

	got, err := c.Sources(1)
	require.NoError(t, err)
	assert.Empty(t, got)

	err = c.Drop(1, 10)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReregisterUpdatesAddress(t *testing.T) {
	c := openTest(t)
	require.NoError(t, c.Index(1, 4096, addr(10, 9001)))
	require.NoError(t, c.Reregister(addr(10, 9999)))

	got, err := c.Sources(1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.EqualValues(t, 9999, got[0].Port)
}

func TestBackupMergeRoundTrip(t *testing.T) {
	src := openTest(t)
	require.NoError(t, src.Index(1, 4096, addr(10, 9001)))
	require.NoError(t, src.Index(2, 8192, addr(11, 9002)))

	snapshot := filepath.Join(t.TempDir(), "snapshot.db")
	require.NoError(t, src.Backup(snapshot))

	dst := openTest(t)
	require.NoError(t, dst.Index(2, 123, addr(99, 1234))) // pre-existing row, must survive merge untouched
	require.NoError(t, dst.Merge(snapshot))

	got1, err := dst.Sources(1)
	require.NoError(t, err)
	assert.Len(t, got1, 1)

	got2, err := dst.Sources(2)
	require.NoError(t, err)
	assert.Len(t, got2, 2)

	require.NoError(t, dst.Merge(snapshot)) // merging twice must not duplicate
	got2Again, err := dst.Sources(2)
	require.NoError(t, err)
	assert.Len(t, got2Again, 2)
}
