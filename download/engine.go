package download

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mjffraser/dfd/chunkio"
	"github.com/mjffraser/dfd/transport"
	"github.com/mjffraser/dfd/wire"
)

// Config bounds a download's timeouts and parallelism (spec.md §5).
type Config struct {
	ConnectTimeout  time.Duration
	ResponseTimeout time.Duration
	ChunkSize       uint64
	MaxWorkers      int
}

// DefaultConfig matches spec.md §5's stated defaults (connect 2s, response
// 1.75s) and §4.3's default chunk size.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout:  2 * time.Second,
		ResponseTimeout: 1750 * time.Millisecond,
		ChunkSize:       chunkio.DefaultChunkSize,
		MaxWorkers:      5,
	}
}

// FetchSources asks each server in turn for fileID's source list
// (SOURCE_REQUEST -> SOURCE_LIST), trying the next server on FAIL or
// timeout. It returns the first successful reply (spec.md §4.5 step 1).
func FetchSources(servers []wire.PeerAddress, fileID wire.FileID, cfg Config) ([]wire.PeerAddress, error) {
	var lastErr error
	for _, s := range servers {
		addrs, err := fetchSourcesFrom(s, fileID, cfg)
		if err != nil {
			lastErr = err
			continue
		}
		return addrs, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("download: no servers given")
	}
	return nil, fmt.Errorf("download: every known server failed source lookup: %w", lastErr)
}

func fetchSourcesFrom(server wire.PeerAddress, fileID wire.FileID, cfg Config) ([]wire.PeerAddress, error) {
	conn, err := transport.Connect(addrString(server), cfg.ConnectTimeout)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if err := transport.SendFramed(conn, wire.CreateSourceRequest(wire.SourceRequest{FileID: fileID})); err != nil {
		return nil, err
	}
	frame, err := transport.RecvFramed(conn, cfg.ResponseTimeout)
	if err != nil {
		return nil, err
	}
	op, body, err := wire.Split(frame)
	if err != nil {
		return nil, err
	}
	if op == wire.FAIL {
		fail, _ := wire.ParseFail(body)
		return nil, fmt.Errorf("download: server replied FAIL: %s", fail.Text)
	}
	if op != wire.SOURCE_LIST {
		return nil, fmt.Errorf("download: unexpected reply opcode %s", op)
	}
	list, ok := wire.ParseSourceList(body)
	if !ok {
		return nil, fmt.Errorf("download: malformed SOURCE_LIST")
	}
	return list.Addrs, nil
}

// Result is what a Download call reports back to the caller (spec.md §4.5
// step 6): the peers evicted during the session, so the caller may issue
// DROP_REQUESTs against them.
type Result struct {
	Name     string
	Size     uint64
	BadPeers []wire.PeerAddress
}

// Download runs the full parallel chunked download algorithm of spec.md
// §4.5 steps 2-6 against peers, writing the assembled file into dir.
func Download(fileID wire.FileID, peers []wire.PeerAddress, dir string, cfg Config) (Result, error) {
	if len(peers) == 0 {
		return Result{}, fmt.Errorf("download: no peers given")
	}
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = chunkio.DefaultChunkSize
	}

	confirm, chunk0, _, probeBad, err := probeInitialPeer(fileID, peers, cfg)
	if err != nil {
		return Result{}, err
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Result{}, fmt.Errorf("download: creating %s: %w", dir, err)
	}
	numChunks := chunkio.NumChunks(confirm.Size, cfg.ChunkSize)

	if err := chunkio.UnpackChunk(dir, confirm.Name, 0, chunk0); err != nil {
		return Result{}, fmt.Errorf("download: writing chunk 0: %w", err)
	}
	dst, err := chunkio.OpenAssembly(dir, confirm.Name)
	if err != nil {
		return Result{}, fmt.Errorf("download: opening assembly file: %w", err)
	}

	tracker := newPeerTracker(peers, probeBad)
	queue := newChunkQueue(numChunks)
	done := &doneTracker{}
	done.push(0) // chunk 0 already merged into the assembly file

	numThreads := numWorkers(len(tracker.goodAddrs()), int(numChunks-1), cfg.MaxWorkers)

	workersDone := make(chan struct{})
	var eg errgroup.Group
	for i := 0; i < numThreads; i++ {
		eg.Go(func() error {
			runWorker(fileID, dir, confirm.Name, cfg, tracker, queue, done)
			return nil
		})
	}
	go func() {
		eg.Wait()
		close(workersDone)
	}()

	var merged int64
	mergeLoop(done, workersDone, dst, dir, confirm.Name, cfg.ChunkSize, &merged)

	if cerr := dst.Close(); cerr != nil && err == nil {
		err = cerr
	}

	if done.count() < int(numChunks) {
		_ = os.Remove(filepath.Join(dir, confirm.Name))
		for i := uint64(0); i < numChunks; i++ {
			_ = chunkio.RemoveChunkFile(dir, confirm.Name, i)
		}
		for _, p := range tracker.peers {
			tracker.markBad(p.PeerID)
		}
		return Result{}, fmt.Errorf("download: only %d/%d chunks completed", done.count(), numChunks)
	}

	return Result{Name: confirm.Name, Size: confirm.Size, BadPeers: tracker.badAddrs()}, nil
}

func numWorkers(availablePeers, remainingChunks, max int) int {
	n := availablePeers
	if cpu := runtime.GOMAXPROCS(0); cpu < n {
		n = cpu
	}
	if remainingChunks < n {
		n = remainingChunks
	}
	if max < n {
		n = max
	}
	if n < 0 {
		n = 0
	}
	return n
}

// probeInitialPeer tries peers in order until one completes the
// DOWNLOAD_INIT handshake and serves chunk 0 (spec.md §4.5 step 2).
func probeInitialPeer(fileID wire.FileID, peers []wire.PeerAddress, cfg Config) (wire.DownloadConfirm, []byte, wire.PeerAddress, []wire.PeerAddress, error) {
	var bad []wire.PeerAddress
	for _, p := range peers {
		confirm, chunk0, err := tryInitialPeer(fileID, p, cfg)
		if err != nil {
			bad = append(bad, p)
			continue
		}
		return confirm, chunk0, p, bad, nil
	}
	return wire.DownloadConfirm{}, nil, wire.PeerAddress{}, bad, fmt.Errorf("download: no peer completed the initial handshake")
}

func tryInitialPeer(fileID wire.FileID, p wire.PeerAddress, cfg Config) (wire.DownloadConfirm, []byte, error) {
	conn, err := transport.Connect(addrString(p), cfg.ConnectTimeout)
	if err != nil {
		return wire.DownloadConfirm{}, nil, err
	}
	defer conn.Close()

	if err := transport.SendFramed(conn, wire.CreateDownloadInit(wire.DownloadInit{FileID: fileID, ChunkSize: cfg.ChunkSize})); err != nil {
		return wire.DownloadConfirm{}, nil, err
	}
	frame, err := transport.RecvFramed(conn, cfg.ResponseTimeout)
	if err != nil {
		return wire.DownloadConfirm{}, nil, err
	}
	op, body, err := wire.Split(frame)
	if err != nil || op != wire.DOWNLOAD_CONFIRM {
		return wire.DownloadConfirm{}, nil, fmt.Errorf("download: peer refused handshake")
	}
	confirm, ok := wire.ParseDownloadConfirm(body)
	if !ok {
		return wire.DownloadConfirm{}, nil, fmt.Errorf("download: malformed DOWNLOAD_CONFIRM")
	}

	if err := transport.SendFramed(conn, wire.CreateRequestChunk(wire.RequestChunk{Index: 0})); err != nil {
		return wire.DownloadConfirm{}, nil, err
	}
	frame, err = transport.RecvFramed(conn, cfg.ResponseTimeout)
	if err != nil {
		return wire.DownloadConfirm{}, nil, err
	}
	op, body, err = wire.Split(frame)
	if err != nil || op != wire.DATA_CHUNK {
		return wire.DownloadConfirm{}, nil, fmt.Errorf("download: peer refused chunk 0")
	}
	chunk, ok := wire.ParseDataChunk(body)
	if !ok || chunk.Index != 0 {
		return wire.DownloadConfirm{}, nil, fmt.Errorf("download: malformed chunk 0")
	}

	_ = transport.SendFramed(conn, wire.CreateFinishDownload())
	return confirm, chunk.Payload, nil
}

// runWorker is one download worker's loop (spec.md §4.5 step 4): acquire a
// free peer, connect, handshake, drain the chunk queue against that peer
// until it either empties or the peer misbehaves.
func runWorker(fileID wire.FileID, dir, name string, cfg Config, tracker *peerTracker, queue *chunkQueue, done *doneTracker) {
	for {
		queue.mu.Lock()
		empty := len(queue.items) == 0
		queue.mu.Unlock()
		if empty {
			return
		}
		idx, addr := tracker.acquireFree()
		if !addr.Ok {
			return
		}

		_ = workOnePeer(fileID, dir, name, cfg, addr.Value, queue, done, tracker)
		tracker.release(idx)
	}
}

// workOnePeer runs the chunk-request loop against one connected peer and
// returns once the peer is exhausted, misbehaves, or the queue empties.
func workOnePeer(fileID wire.FileID, dir, name string, cfg Config, addr wire.PeerAddress, queue *chunkQueue, done *doneTracker, tracker *peerTracker) bool {
	conn, err := transport.Connect(addrString(addr), cfg.ConnectTimeout)
	if err != nil {
		tracker.markBad(addr.PeerID)
		return false
	}
	defer conn.Close()

	if err := transport.SendFramed(conn, wire.CreateDownloadInit(wire.DownloadInit{FileID: fileID, ChunkSize: cfg.ChunkSize})); err != nil {
		tracker.markBad(addr.PeerID)
		return false
	}
	frame, err := transport.RecvFramed(conn, cfg.ResponseTimeout)
	if err != nil {
		tracker.markBad(addr.PeerID)
		return false
	}
	if op, _, err := wire.Split(frame); err != nil || op != wire.DOWNLOAD_CONFIRM {
		tracker.markBad(addr.PeerID)
		return false
	}

	receivedAny := false
	for {
		chunkIdx, ok := queue.pop()
		if !ok {
			break
		}
		if err := transport.SendFramed(conn, wire.CreateRequestChunk(wire.RequestChunk{Index: chunkIdx})); err != nil {
			// Peer likely slow or full: requeue and give up this peer,
			// without marking it bad.
			queue.pushBack(chunkIdx)
			break
		}
		frame, err := transport.RecvFramed(conn, cfg.ResponseTimeout)
		if err != nil {
			if !receivedAny {
				tracker.markBad(addr.PeerID)
			}
			queue.pushBack(chunkIdx)
			break
		}
		op, body, err := wire.Split(frame)
		if err != nil || op != wire.DATA_CHUNK {
			if !receivedAny {
				tracker.markBad(addr.PeerID)
			}
			queue.pushBack(chunkIdx)
			break
		}
		chunk, ok := wire.ParseDataChunk(body)
		if !ok || chunk.Index != chunkIdx {
			if !receivedAny {
				tracker.markBad(addr.PeerID)
			}
			queue.pushBack(chunkIdx)
			break
		}
		if err := chunkio.UnpackChunk(dir, name, chunkIdx, chunk.Payload); err != nil {
			queue.pushBack(chunkIdx)
			break
		}
		done.push(chunkIdx)
		receivedAny = true
	}

	_ = transport.SendFramed(conn, wire.CreateFinishDownload())
	return receivedAny
}

// mergeLoop is the main thread of spec.md §4.5 step 5: wake on every
// done-queue signal, merge whatever arrived, and drain stragglers once
// every worker has exited.
func mergeLoop(done *doneTracker, workersDone <-chan struct{}, dst *os.File, dir, name string, chunkSize uint64, merged *int64) {
	mergeAll := func() {
		for _, idx := range done.drain() {
			if idx == 0 {
				continue // already folded into the assembly file by OpenAssembly
			}
			if err := chunkio.MergeChunk(dst, dir, name, idx, chunkSize); err == nil {
				atomic.AddInt64(merged, 1)
			}
		}
	}

	for {
		sig := done.cond.Signaled()
		mergeAll()
		select {
		case <-workersDone:
			mergeAll()
			return
		case <-sig:
			continue
		}
	}
}
