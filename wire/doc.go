package wire

// Codec contract (spec.md §4.1, §9 "Template serialization helpers"):
//
// Every Create* function produces a complete payload (opcode byte plus
// body) or an empty byte slice on any encoding error. Every Parse* function
// takes the body that Split returns (the opcode byte already removed and
// checked by the caller) and validates its length and sub-fields, returning
// ok=false (with a zero-valued result) on any malformation. Parsers never
// read past the slice they were given — every fixed-width read is
// length-checked before the slice is sliced.
//
// Multi-byte integers travel big-endian. IPv4 addresses travel as 4 raw
// bytes in dotted-octet order. String fields (FAIL's error text,
// DOWNLOAD_CONFIRM's name) carry no length prefix — they run to the end of
// the frame, which is why transport.RecvFramed must deliver exactly one
// frame's bytes and no more.

// PeerID is a peer's stable 64-bit identifier. Zero means invalid/absent.
type PeerID uint64

// FileID is a file's 64-bit identifier, the big-endian first 8 bytes of a
// SHA-256 over the file's content. Zero means invalid/absent.
type FileID uint64

// Valid reports whether the id is non-zero, per spec.md §3 invariant that
// zero is reserved for "invalid / absent".
func (p PeerID) Valid() bool { return p != 0 }

// Valid reports whether the id is non-zero.
func (f FileID) Valid() bool { return f != 0 }
