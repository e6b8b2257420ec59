package server

import (
	"net"
	"sync"
	"testing"

	"github.com/anacrolix/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mjffraser/dfd/catalog"
	"github.com/mjffraser/dfd/wire"
)

// fakeCatalog is a minimal in-memory catalog.Catalog for exercising
// Worker.handle without touching bbolt.
type fakeCatalog struct {
	mu    sync.Mutex
	index map[wire.FileID]map[wire.PeerID]wire.PeerAddress
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{index: make(map[wire.FileID]map[wire.PeerID]wire.PeerAddress)}
}

func (c *fakeCatalog) Index(fileID wire.FileID, _ uint64, addr wire.PeerAddress) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.index[fileID] == nil {
		c.index[fileID] = make(map[wire.PeerID]wire.PeerAddress)
	}
	c.index[fileID][addr.PeerID] = addr
	return nil
}

func (c *fakeCatalog) Drop(fileID wire.FileID, peerID wire.PeerID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	row, ok := c.index[fileID]
	if !ok {
		return catalog.ErrNotFound
	}
	if _, ok := row[peerID]; !ok {
		return catalog.ErrNotFound
	}
	delete(row, peerID)
	return nil
}

func (c *fakeCatalog) Reregister(addr wire.PeerAddress) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, row := range c.index {
		if _, ok := row[addr.PeerID]; ok {
			row[addr.PeerID] = addr
		}
	}
	return nil
}

func (c *fakeCatalog) Sources(fileID wire.FileID) ([]wire.PeerAddress, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []wire.PeerAddress
	for _, a := range c.index[fileID] {
		out = append(out, a)
	}
	return out, nil
}

func (c *fakeCatalog) Backup(string) error { return nil }
func (c *fakeCatalog) Merge(string) error  { return nil }
func (c *fakeCatalog) Close() error        { return nil }

var _ catalog.Catalog = (*fakeCatalog)(nil)

func newTestCtx(t *testing.T) *ServerCtx {
	self, ok := wire.AddressFromNetIP(net.IPv4(127, 0, 0, 1), 9000, 1)
	require.True(t, ok)
	ctx := NewServerCtx(self, newFakeCatalog(), log.Default)
	t.Cleanup(func() { ctx.Stop() })
	return ctx
}

func testAddr(id wire.PeerID, port uint16) wire.PeerAddress {
	a, _ := wire.AddressFromNetIP(net.IPv4(127, 0, 0, 1), port, id)
	return a
}

func TestWorkerSourceRequestAnyWorker(t *testing.T) {
	ctx := newTestCtx(t)
	w, err := newWorker(ctx, 0)
	require.NoError(t, err)

	require.NoError(t, ctx.Catalog.Index(1, 4096, testAddr(10, 9001)))

	reply := w.handle(wire.CreateSourceRequest(wire.SourceRequest{FileID: 1}))
	op, body, err := wire.Split(reply)
	require.NoError(t, err)
	require.Equal(t, wire.SOURCE_LIST, op)
	list, ok := wire.ParseSourceList(body)
	require.True(t, ok)
	assert.Len(t, list.Addrs, 1)
}

func TestWorkerIndexRequestRejectedByReader(t *testing.T) {
	ctx := newTestCtx(t)
	w, err := newWorker(ctx, 0) // NumWorkers-1 is the writer; 0 is a reader
	require.NoError(t, err)

	reply := w.handle(wire.CreateIndexRequest(wire.IndexRequest{FileID: 1, Size: 10, Addr: testAddr(1, 9001)}))
	op, _, err := wire.Split(reply)
	require.NoError(t, err)
	assert.Equal(t, wire.FAIL, op)
}

func TestWorkerIndexRequestAcceptedByWriter(t *testing.T) {
	ctx := newTestCtx(t)
	w, err := newWorker(ctx, NumWorkers-1)
	require.NoError(t, err)

	reply := w.handle(wire.CreateIndexRequest(wire.IndexRequest{FileID: 1, Size: 10, Addr: testAddr(1, 9001)}))
	op, _, err := wire.Split(reply)
	require.NoError(t, err)
	assert.Equal(t, wire.INDEX_OK, op)

	got, err := ctx.Catalog.Sources(1)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestWorkerWriteForwardAppliesRegardlessOfRole(t *testing.T) {
	ctx := newTestCtx(t)
	w, err := newWorker(ctx, 0) // a reader still applies forwards
	require.NoError(t, err)

	fwd := wire.CreateIndexForward(wire.IndexRequest{FileID: 2, Size: 20, Addr: testAddr(2, 9002)})
	reply := w.handle(fwd)
	op, _, err := wire.Split(reply)
	require.NoError(t, err)
	assert.Equal(t, wire.FORWARD_OK, op)

	got, err := ctx.Catalog.Sources(2)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestWorkerDropForwardMissingRowIsOK(t *testing.T) {
	ctx := newTestCtx(t)
	w, err := newWorker(ctx, 0)
	require.NoError(t, err)

	fwd := wire.CreateDropForward(wire.DropRequest{FileID: 99, PeerID: 1})
	reply := w.handle(fwd)
	op, _, err := wire.Split(reply)
	require.NoError(t, err)
	assert.Equal(t, wire.FORWARD_OK, op)
}
