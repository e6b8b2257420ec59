// Package catalog defines the Catalog contract each index server owns
// (spec.md §3, §4.6, C10): the three relations PEERS, FILES, INDEX and the
// index/drop/reregister/sources/backup/merge operations over them. Per
// spec.md §1 this contract is the only thing the rest of the core depends
// on — callers never reach past it into storage details.
package catalog

import (
	"errors"

	"github.com/mjffraser/dfd/wire"
)

// ErrNotFound is returned by Drop when the (peer_id, file_id) pair is not
// in INDEX.
var ErrNotFound = errors.New("catalog: not found")

// Catalog is the opaque store a server's workers operate on (spec.md §4.6).
// Implementations must uphold spec.md §3 invariants 1 and 2: every INDEX row
// has a matching PEERS row and FILES row, and (peer_id, file_id) is unique.
type Catalog interface {
	// Index publishes that peer holds fileID (size bytes), upserting PEERS
	// and FILES as needed. Indexing the same (peer, file) pair twice leaves
	// the catalog's size unchanged (spec.md §8).
	Index(fileID wire.FileID, size uint64, addr wire.PeerAddress) error

	// Drop removes the (peerID, fileID) row from INDEX. Returns
	// ErrNotFound if the pair was not present.
	Drop(fileID wire.FileID, peerID wire.PeerID) error

	// Reregister updates (or inserts) a peer's address in PEERS.
	Reregister(addr wire.PeerAddress) error

	// Sources returns every peer address currently indexing fileID, with no
	// duplicate peer ids.
	Sources(fileID wire.FileID) ([]wire.PeerAddress, error)

	// Backup writes a point-in-time snapshot of the catalog to path, for
	// cluster onboarding (C9).
	Backup(path string) error

	// Merge folds another catalog's snapshot (at path) into this one.
	// Existing rows are left untouched — merge is idempotent on primary
	// keys, so a record already present is never overwritten or duplicated.
	Merge(path string) error

	Close() error
}
