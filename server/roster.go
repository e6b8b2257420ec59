package server

import (
	"fmt"
	"sync"

	g "github.com/anacrolix/generics"
	"github.com/cespare/xxhash/v2"

	"github.com/mjffraser/dfd/wire"
)

// Roster is the known-servers set every server maintains (spec.md §3
// ServerState.known_servers, §9 shared-resource table "Known-servers list:
// mutex"). Entries are keyed by PeerID, so a server re-joining with the same
// id but a changed address replaces its entry. Snapshot additionally
// deduplicates by an xxhash of ip:port, so two ids at the same endpoint
// appear once in its output (Len still counts both).
type Roster struct {
	mu   sync.Mutex
	byID map[wire.PeerID]wire.PeerAddress
}

func NewRoster() *Roster {
	return &Roster{byID: make(map[wire.PeerID]wire.PeerAddress)}
}

func addrHash(a wire.PeerAddress) uint64 {
	return xxhash.Sum64String(fmt.Sprintf("%s:%d", a.IPString(), a.Port))
}

// Add inserts or replaces addr in the roster.
func (r *Roster) Add(addr wire.PeerAddress) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[addr.PeerID] = addr
}

// Remove evicts a server by id, e.g. after it fails to ack a forward
// broadcast (spec.md §4.8).
func (r *Roster) Remove(id wire.PeerID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byID, id)
}

// Snapshot returns every known server address, deduplicated by address
// hash so two ids that somehow resolve to the same endpoint only appear
// once in a broadcast.
func (r *Roster) Snapshot() []wire.PeerAddress {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := make(map[uint64]struct{}, len(r.byID))
	var out []wire.PeerAddress
	g.MakeSliceWithCap(&out, len(r.byID))
	for _, a := range r.byID {
		h := addrHash(a)
		if _, ok := seen[h]; ok {
			continue
		}
		seen[h] = struct{}{}
		out = append(out, a)
	}
	return out
}

func (r *Roster) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}
