// Package peer implements the server side of the peer-to-peer download
// protocol (spec.md §4.4, C4): the seeder that answers another peer's
// DOWNLOAD_INIT/REQUEST_CHUNK traffic out of the locally shared files.
package peer

import (
	"net"
	"path/filepath"
	"time"

	"github.com/anacrolix/chansync"
	"github.com/anacrolix/log"

	"github.com/mjffraser/dfd/chunkio"
	"github.com/mjffraser/dfd/transport"
	"github.com/mjffraser/dfd/wire"
)

// DefaultMaxConcurrentSeeders is the semaphore bound on concurrent seeder
// connections (spec.md §4.4, default 5).
const DefaultMaxConcurrentSeeders = 5

// DefaultChunkSize is handed to a downloader that asks for the peer's
// default (DownloadInit.ChunkSize == 0).
const DefaultChunkSize = chunkio.DefaultChunkSize

// RecvTimeout bounds each framed read inside a seeder connection; a slow or
// dead downloader is dropped rather than blocking the slot forever.
const RecvTimeout = 30 * time.Second

// Seeder serves locally indexed files to other peers.
type Seeder struct {
	files    *SharedFiles
	logger   log.Logger
	sem      chan struct{}
	shutdown chansync.SetOnce
}

// NewSeeder builds a seeder bounded to maxConcurrent simultaneous
// connections.
func NewSeeder(files *SharedFiles, logger log.Logger, maxConcurrent int) *Seeder {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentSeeders
	}
	return &Seeder{
		files:  files,
		logger: logger,
		sem:    make(chan struct{}, maxConcurrent),
	}
}

// Shutdown signals every in-flight and future seeder connection to wind
// down after finishing its current reply.
func (s *Seeder) Shutdown() { s.shutdown.Set() }

// Serve accepts connections from l until the listener errors (e.g. is
// closed), spawning one goroutine per connection, bounded by the seeder's
// semaphore. Shutdown alone does not stop the accept loop; Serve returns
// nil if Shutdown was called before the listener error, else the error.
func (s *Seeder) Serve(l net.Listener) error {
	for {
		conn, err := l.Accept()
		if err != nil {
			if s.shutdown.IsSet() {
				return nil
			}
			return err
		}
		select {
		case s.sem <- struct{}{}:
			go func() {
				defer func() { <-s.sem }()
				s.handle(conn)
			}()
		default:
			// At capacity: refuse rather than queue unboundedly.
			_ = transport.SendFramed(conn, wire.CreateFail("seeder at capacity"))
			conn.Close()
		}
	}
}

// handle drives one seeder connection through DOWNLOAD_INIT, then the
// REQUEST_CHUNK/DATA_CHUNK loop, until FINISH_DOWNLOAD or the connection
// dies (spec.md §4.4 steps 1-3).
func (s *Seeder) handle(conn net.Conn) {
	defer conn.Close()

	frame, err := transport.RecvFramed(conn, RecvTimeout)
	if err != nil {
		return
	}
	op, body, err := wire.Split(frame)
	if err != nil || op != wire.DOWNLOAD_INIT {
		_ = transport.SendFramed(conn, wire.CreateFail("expected DOWNLOAD_INIT"))
		return
	}
	init, ok := wire.ParseDownloadInit(body)
	if !ok {
		_ = transport.SendFramed(conn, wire.CreateFail("malformed DOWNLOAD_INIT"))
		return
	}

	entry, ok := s.files.Lookup(init.FileID)
	if !ok {
		_ = transport.SendFramed(conn, wire.CreateFail("file not held"))
		return
	}

	chunkSize := init.ChunkSize
	if chunkSize == 0 {
		chunkSize = DefaultChunkSize
	}

	confirm := wire.CreateDownloadConfirm(wire.DownloadConfirm{
		Size: entry.Size,
		Name: filepath.Base(entry.Path),
	})
	if confirm == nil {
		s.logger.WithDefaultLevel(log.Warning).Printf("peer: seeder: empty filename for %d", init.FileID)
		return
	}
	if err := transport.SendFramed(conn, confirm); err != nil {
		return
	}

	for {
		if s.shutdown.IsSet() {
			return
		}
		frame, err := transport.RecvFramed(conn, RecvTimeout)
		if err != nil {
			return
		}
		op, body, err := wire.Split(frame)
		if err != nil {
			return
		}
		switch op {
		case wire.REQUEST_CHUNK:
			req, ok := wire.ParseRequestChunk(body)
			if !ok {
				_ = transport.SendFramed(conn, wire.CreateFail("malformed REQUEST_CHUNK"))
				continue
			}
			data, err := chunkio.PackageChunk(entry.Path, req.Index, chunkSize)
			if err != nil {
				_ = transport.SendFramed(conn, wire.CreateFail(err.Error()))
				continue
			}
			if err := transport.SendFramed(conn, wire.CreateDataChunk(wire.DataChunk{
				Index:   req.Index,
				Payload: data,
			})); err != nil {
				return
			}
		case wire.FINISH_DOWNLOAD:
			return
		default:
			_ = transport.SendFramed(conn, wire.CreateFail("unexpected opcode in seeder loop"))
			return
		}
	}
}
