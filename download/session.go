// Package download implements the client-side parallel chunked download
// engine (spec.md §4.5, C5): source discovery, sequential peer probing for
// the initial chunk, a bounded worker pool pulling chunk indices off a
// shared queue, and bad-peer eviction.
package download

import (
	"net"
	"strconv"

	"github.com/RoaringBitmap/roaring"
	"github.com/anacrolix/chansync"
	g "github.com/anacrolix/generics"
	"github.com/anacrolix/sync"

	"github.com/mjffraser/dfd/wire"
)

func addrString(a wire.PeerAddress) string {
	return net.JoinHostPort(a.IPString(), strconv.Itoa(int(a.Port)))
}

// peerTracker is the shared {peers, peer_busy, bad_peers} state workers
// contend for (spec.md §3 DownloadSession, §9 shared-resource table).
// peer_busy is monotone false->true->false per peer within a session
// (invariant 4): acquire marks busy, release clears it.
type peerTracker struct {
	mu    sync.Mutex
	peers []wire.PeerAddress
	busy  *roaring.Bitmap
	bad   map[wire.PeerID]struct{}
}

func newPeerTracker(peers []wire.PeerAddress, preBad []wire.PeerAddress) *peerTracker {
	t := &peerTracker{
		peers: peers,
		busy:  roaring.New(),
		bad:   make(map[wire.PeerID]struct{}, len(preBad)),
	}
	for _, p := range preBad {
		t.bad[p.PeerID] = struct{}{}
	}
	return t
}

// acquireFree picks the lowest-indexed free, non-bad peer, marks it busy,
// and returns it. The address is unset (Option.Ok == false) when every peer
// is busy or bad.
func (t *peerTracker) acquireFree() (idx int, addr g.Option[wire.PeerAddress]) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, p := range t.peers {
		if t.busy.Contains(uint32(i)) {
			continue
		}
		if _, bad := t.bad[p.PeerID]; bad {
			continue
		}
		t.busy.Add(uint32(i))
		addr.Set(p)
		return i, addr
	}
	return 0, addr
}

// release clears the busy bit for the peer at idx.
func (t *peerTracker) release(idx int) {
	t.mu.Lock()
	t.busy.Remove(uint32(idx))
	t.mu.Unlock()
}

// markBad evicts id from future selection; release is implied since a bad
// peer is never matched by acquireFree again.
func (t *peerTracker) markBad(id wire.PeerID) {
	t.mu.Lock()
	t.bad[id] = struct{}{}
	t.mu.Unlock()
}

// badAddrs returns the PeerAddress for every peer currently marked bad.
func (t *peerTracker) badAddrs() []wire.PeerAddress {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []wire.PeerAddress
	g.MakeSliceWithCap(&out, len(t.bad))
	for _, p := range t.peers {
		if _, bad := t.bad[p.PeerID]; bad {
			out = append(out, p)
		}
	}
	return out
}

// goodAddrs returns every peer not currently marked bad.
func (t *peerTracker) goodAddrs() []wire.PeerAddress {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []wire.PeerAddress
	g.MakeSliceWithCap(&out, len(t.peers)-len(t.bad))
	for _, p := range t.peers {
		if _, bad := t.bad[p.PeerID]; !bad {
			out = append(out, p)
		}
	}
	return out
}

// chunkQueue is the `remaining` work queue (spec.md §3, §4.5 step 4d).
type chunkQueue struct {
	mu    sync.Mutex
	items []uint64
}

func newChunkQueue(numChunks uint64) *chunkQueue {
	q := &chunkQueue{}
	if numChunks > 0 {
		g.MakeSliceWithCap(&q.items, int(numChunks-1))
	}
	for i := uint64(1); i < numChunks; i++ {
		q.items = append(q.items, i)
	}
	return q
}

func (q *chunkQueue) pop() (uint64, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return 0, false
	}
	idx := q.items[0]
	q.items = q.items[1:]
	return idx, true
}

func (q *chunkQueue) pushBack(idx uint64) {
	q.mu.Lock()
	q.items = append(q.items, idx)
	q.mu.Unlock()
}

// doneTracker is the `done` queue (spec.md §3) the main thread drains to
// merge chunks, signaled via a broadcast condition rather than a raw
// sync.Cond so multiple waiters (tests, the merge loop) can share it.
type doneTracker struct {
	mu      sync.Mutex
	cond    chansync.BroadcastCond
	pending []uint64
	total   int
}

func (d *doneTracker) push(idx uint64) {
	d.mu.Lock()
	d.pending = append(d.pending, idx)
	d.total++
	d.mu.Unlock()
	d.cond.Broadcast()
}

func (d *doneTracker) drain() []uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := d.pending
	d.pending = nil
	return out
}

func (d *doneTracker) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.total
}
