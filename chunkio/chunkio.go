// Package chunkio splits and reassembles files into fixed-size chunks on
// disk (spec.md §4.3). Distinct chunks address disjoint byte ranges and
// distinct per-chunk files, so concurrent writers never overlap; the
// assembly file itself is touched by a single thread, the caller's
// responsibility to uphold (spec.md §4.3 "Concurrency on disk").
package chunkio

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/edsrzf/mmap-go"
)

// DefaultChunkSize is CHUNK_SIZE's default, 1 MiB, per spec.md §3 invariant
// 6 (a strictly positive power of two by convention).
const DefaultChunkSize uint64 = 1 << 20

// NumChunks returns ceil(size / chunkSize), with NumChunks(0, _) == 0.
func NumChunks(size, chunkSize uint64) uint64 {
	if size == 0 {
		return 0
	}
	return (size + chunkSize - 1) / chunkSize
}

// chunkFileName is the per-chunk file name, "<base_name>-><index>".
func chunkFileName(baseName string, index uint64) string {
	return fmt.Sprintf("%s->%d", baseName, index)
}

// PackageChunk reads bytes [index*chunkSize, min((index+1)*chunkSize, size))
// from path via a memory map, so the OS handles the read-ahead for large
// seeded files instead of a ReadAt copy.
func PackageChunk(path string, index, chunkSize uint64) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("chunkio: open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("chunkio: stat %s: %w", path, err)
	}
	size := uint64(info.Size())
	start := index * chunkSize
	if start >= size {
		return nil, fmt.Errorf("chunkio: chunk %d out of range for %s (size %d)", index, path, size)
	}
	end := start + chunkSize
	if end > size {
		end = size
	}
	if end == start {
		return []byte{}, nil
	}

	m, err := mmap.MapRegion(f, int(size), mmap.RDONLY, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("chunkio: mmap %s: %w", path, err)
	}
	defer m.Unmap()

	out := make([]byte, end-start)
	copy(out, m[start:end])
	return out, nil
}

// UnpackChunk writes data to the per-chunk file in dir, failing if the
// chunk file already exists (spec.md §4.3).
func UnpackChunk(dir, baseName string, index uint64, data []byte) error {
	path := filepath.Join(dir, chunkFileName(baseName, index))
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("chunkio: chunk file %s already exists or cannot be created: %w", path, err)
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("chunkio: writing chunk file %s: %w", path, err)
	}
	return nil
}

// OpenAssembly consumes chunk 0 (required to already exist on disk),
// creates the destination file populated with chunk 0's bytes, deletes
// chunk 0's per-chunk file, and returns an append handle for subsequent
// MergeChunk calls.
func OpenAssembly(dir, baseName string) (*os.File, error) {
	chunk0Path := filepath.Join(dir, chunkFileName(baseName, 0))
	data, err := os.ReadFile(chunk0Path)
	if err != nil {
		return nil, fmt.Errorf("chunkio: chunk 0 missing for %s: %w", baseName, err)
	}

	destPath := filepath.Join(dir, baseName)
	dst, err := os.OpenFile(destPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("chunkio: creating %s: %w", destPath, err)
	}
	if _, err := dst.Write(data); err != nil {
		dst.Close()
		return nil, fmt.Errorf("chunkio: writing chunk 0 into %s: %w", destPath, err)
	}
	_ = os.Remove(chunk0Path)
	return dst, nil
}

// MergeChunk seeks the assembly handle to index*chunkSize, writes the
// per-chunk file's content there, and deletes the per-chunk file.
func MergeChunk(dst *os.File, dir, baseName string, index, chunkSize uint64) error {
	chunkPath := filepath.Join(dir, chunkFileName(baseName, index))
	data, err := os.ReadFile(chunkPath)
	if err != nil {
		return fmt.Errorf("chunkio: reading chunk file %s: %w", chunkPath, err)
	}
	if _, err := dst.Seek(int64(index*chunkSize), 0); err != nil {
		return fmt.Errorf("chunkio: seeking assembly file: %w", err)
	}
	if _, err := dst.Write(data); err != nil {
		return fmt.Errorf("chunkio: writing merged chunk %d: %w", index, err)
	}
	_ = os.Remove(chunkPath)
	return nil
}

// RemoveChunkFile deletes a per-chunk file that was never merged, used to
// clean up stragglers when a download session aborts.
func RemoveChunkFile(dir, baseName string, index uint64) error {
	return os.Remove(filepath.Join(dir, chunkFileName(baseName, index)))
}
