package catalog

import (
	"encoding/binary"
	"fmt"

	"github.com/anacrolix/log"
	"go.etcd.io/bbolt"

	"github.com/mjffraser/dfd/wire"
)

// BoltCatalog is the default Catalog, adapted from the teacher's
// storage.NewBoltDB piece-storage pattern: PEERS/FILES/INDEX become three
// top-level buckets instead of three SQL tables.
type BoltCatalog struct {
	db     *bbolt.DB
	logger log.Logger
	lock   dbLock
}

var (
	peersBucket = []byte("peers") // peer_id(8) -> ip(4) ∥ port(2)
	filesBucket = []byte("files") // file_id(8) -> size(8)
	indexBucket = []byte("index") // file_id(8) ∥ peer_id(8) -> (empty marker)
)

// OpenBoltCatalog opens (creating if absent) a bbolt-backed catalog at path.
func OpenBoltCatalog(path string, logger log.Logger) (*BoltCatalog, error) {
	db, err := bbolt.Open(path, 0o644, nil)
	if err != nil {
		return nil, fmt.Errorf("catalog: opening bolt db %s: %w", path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, b := range [][]byte{peersBucket, filesBucket, indexBucket} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("catalog: initializing buckets: %w", err)
	}
	return &BoltCatalog{db: db, logger: logger}, nil
}

func peerKey(id wire.PeerID) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(id))
	return b[:]
}

func fileKey(id wire.FileID) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(id))
	return b[:]
}

func indexKey(fileID wire.FileID, peerID wire.PeerID) []byte {
	b := make([]byte, 16)
	binary.BigEndian.PutUint64(b[0:8], uint64(fileID))
	binary.BigEndian.PutUint64(b[8:16], uint64(peerID))
	return b
}

func encodePeerValue(addr wire.PeerAddress) []byte {
	v := make([]byte, 6)
	copy(v[0:4], addr.IP[:])
	binary.BigEndian.PutUint16(v[4:6], addr.Port)
	return v
}

func decodePeerValue(id wire.PeerID, v []byte) (wire.PeerAddress, bool) {
	if len(v) != 6 {
		return wire.PeerAddress{}, false
	}
	a := wire.PeerAddress{PeerID: id, Port: binary.BigEndian.Uint16(v[4:6])}
	copy(a.IP[:], v[0:4])
	return a, true
}

// Index, Drop and Reregister each hold c.lock for the duration of the bbolt
// write transaction: bbolt already serializes its own writers, but taking
// the catalog's own rw-lock here gives readers (Sources) an explicit,
// short, Go-level wait instead of relying solely on bbolt's internal one.
func (c *BoltCatalog) Index(fileID wire.FileID, size uint64, addr wire.PeerAddress) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	err := c.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(peersBucket).Put(peerKey(addr.PeerID), encodePeerValue(addr)); err != nil {
			return err
		}
		var sizeBuf [8]byte
		binary.BigEndian.PutUint64(sizeBuf[:], size)
		if err := tx.Bucket(filesBucket).Put(fileKey(fileID), sizeBuf[:]); err != nil {
			return err
		}
		return tx.Bucket(indexBucket).Put(indexKey(fileID, addr.PeerID), []byte{1})
	})
	if err == nil {
		c.lock.Defer(func() {
			c.logger.Printf("catalog: indexed file_id=%x peer_id=%d", uint64(fileID), uint64(addr.PeerID))
		})
	}
	return err
}

func (c *BoltCatalog) Drop(fileID wire.FileID, peerID wire.PeerID) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(indexBucket)
		k := indexKey(fileID, peerID)
		if b.Get(k) == nil {
			return ErrNotFound
		}
		return b.Delete(k)
	})
}

func (c *BoltCatalog) Reregister(addr wire.PeerAddress) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(peersBucket).Put(peerKey(addr.PeerID), encodePeerValue(addr))
	})
}

func (c *BoltCatalog) Sources(fileID wire.FileID) ([]wire.PeerAddress, error) {
	c.lock.RLock()
	defer c.lock.RUnlock()
	var out []wire.PeerAddress
	err := c.db.View(func(tx *bbolt.Tx) error {
		cur := tx.Bucket(indexBucket).Cursor()
		prefix := fileKey(fileID)
		peers := tx.Bucket(peersBucket)
		for k, _ := cur.Seek(prefix); k != nil && hasPrefix(k, prefix); k, _ = cur.Next() {
			peerID := wire.PeerID(binary.BigEndian.Uint64(k[8:16]))
			v := peers.Get(peerKey(peerID))
			if v == nil {
				c.logger.WithDefaultLevel(log.Warning).Printf("catalog: index row for peer %d with no PEERS entry", peerID)
				continue
			}
			addr, ok := decodePeerValue(peerID, v)
			if !ok {
				continue
			}
			out = append(out, addr)
		}
		return nil
	})
	return out, err
}

func hasPrefix(b, prefix []byte) bool {
	return len(b) >= len(prefix) && string(b[:len(prefix)]) == string(prefix)
}

// Backup writes a consistent point-in-time copy of the catalog (spec.md
// §4.9 C9 snapshot).
func (c *BoltCatalog) Backup(path string) error {
	c.lock.RLock()
	defer c.lock.RUnlock()
	return c.db.View(func(tx *bbolt.Tx) error {
		return tx.CopyFile(path, 0o644)
	})
}

// Merge folds another catalog snapshot into this one with insert-or-ignore
// semantics on every primary key, so merging is safe to run more than once.
func (c *BoltCatalog) Merge(path string) error {
	other, err := bbolt.Open(path, 0o444, &bbolt.Options{ReadOnly: true})
	if err != nil {
		return fmt.Errorf("catalog: opening snapshot %s: %w", path, err)
	}
	defer other.Close()

	c.lock.Lock()
	defer c.lock.Unlock()
	return c.db.Update(func(tx *bbolt.Tx) error {
		return other.View(func(otx *bbolt.Tx) error {
			for _, name := range [][]byte{peersBucket, filesBucket, indexBucket} {
				dst := tx.Bucket(name)
				src := otx.Bucket(name)
				if src == nil {
					continue
				}
				if err := src.ForEach(func(k, v []byte) error {
					if dst.Get(k) != nil {
						return nil // already present: insert-or-ignore
					}
					return dst.Put(append([]byte(nil), k...), append([]byte(nil), v...))
				}); err != nil {
					return err
				}
			}
			return nil
		})
	})
}

func (c *BoltCatalog) Close() error { return c.db.Close() }

var _ Catalog = (*BoltCatalog)(nil)
