package server

import (
	"net"
	"time"

	"github.com/anacrolix/log"

	"github.com/mjffraser/dfd/transport"
	"github.com/mjffraser/dfd/wire"
)

// WorkerRecvTimeout bounds each worker's request-socket read (spec.md §4.6,
// "50 ms by convention").
const WorkerRecvTimeout = 50 * time.Millisecond

// maxDatagramSize bounds a single UDP read; dispatcher<->worker traffic
// only ever carries small fixed-size requests/replies, never chunk bodies.
const maxDatagramSize = 4096

// Worker is one reader or writer in a server's pool (spec.md §4.6). Worker
// N-1 is the writer/leader unless an election has reassigned it.
type Worker struct {
	Index   int
	ctx     *ServerCtx
	reqConn *net.UDPConn
	reqPort int

	electConn *net.UDPConn
	electPort int
	replyCh   chan struct{} // signaled when a BULLY reply lands during our own election
}

// newWorker binds a worker's request and election sockets on ephemeral
// ports and registers it with ctx.
func newWorker(ctx *ServerCtx, index int) (*Worker, error) {
	reqConn, reqPort, err := transport.OpenUDPSocket("127.0.0.1", 0)
	if err != nil {
		return nil, err
	}
	electConn, electPort, err := transport.OpenUDPSocket("127.0.0.1", 0)
	if err != nil {
		reqConn.Close()
		return nil, err
	}
	w := &Worker{
		Index:     index,
		ctx:       ctx,
		reqConn:   reqConn,
		reqPort:   reqPort,
		electConn: electConn,
		electPort: electPort,
		replyCh:   make(chan struct{}, 1),
	}
	ctx.registerWorker(w)
	return w, nil
}

func (w *Worker) isWriter() bool { return w.ctx.LeaderIndex() == w.Index }

// Run is the worker's request-socket loop: receive one dispatcher
// datagram, handle it against the catalog, reply. It returns when the
// server stops or the worker is marked dead (by the dispatcher's strike
// count).
func (w *Worker) Run() {
	for w.ctx.Running() && w.ctx.workerAliveAt(w.Index) {
		data, from, err := transport.RecvUDP(w.reqConn, WorkerRecvTimeout, maxDatagramSize)
		if err != nil {
			continue // timeout: loop and re-check liveness
		}
		reply := w.handle(data)
		if reply != nil {
			_ = transport.SendUDP(w.reqConn, from, reply, time.Second)
		}
	}
}

func (w *Worker) handle(data []byte) []byte {
	op, body, err := wire.Split(data)
	if err != nil {
		return wire.CreateFail("empty request")
	}

	switch op {
	case wire.SOURCE_REQUEST:
		req, ok := wire.ParseSourceRequest(body)
		if !ok {
			return wire.CreateFail("malformed SOURCE_REQUEST")
		}
		addrs, err := w.ctx.Catalog.Sources(req.FileID)
		if err != nil {
			return wire.CreateFail(err.Error())
		}
		return wire.CreateSourceList(wire.SourceList{Addrs: addrs})

	case wire.INDEX_REQUEST:
		if !w.isWriter() {
			return wire.CreateFail("not the writer")
		}
		req, ok := wire.ParseIndexRequest(body)
		if !ok {
			return wire.CreateFail("malformed INDEX_REQUEST")
		}
		if err := w.ctx.Catalog.Index(req.FileID, req.Size, req.Addr); err != nil {
			return wire.CreateFail(err.Error())
		}
		return wire.CreateIndexOK()

	case wire.DROP_REQUEST:
		if !w.isWriter() {
			return wire.CreateFail("not the writer")
		}
		req, ok := wire.ParseDropRequest(body)
		if !ok {
			return wire.CreateFail("malformed DROP_REQUEST")
		}
		if err := w.ctx.Catalog.Drop(req.FileID, req.PeerID); err != nil {
			return wire.CreateFail(err.Error())
		}
		return wire.CreateDropOK()

	case wire.REREGISTER_REQUEST:
		if !w.isWriter() {
			return wire.CreateFail("not the writer")
		}
		req, ok := wire.ParseReregisterRequest(body)
		if !ok {
			return wire.CreateFail("malformed REREGISTER_REQUEST")
		}
		if err := w.ctx.Catalog.Reregister(req.Addr); err != nil {
			return wire.CreateFail(err.Error())
		}
		return wire.CreateReregisterOK()

	case wire.WRITE_FORWARD:
		return w.handleForward(body)

	case wire.ELECT_LEADER:
		go w.ctx.RunElection(w.Index)
		return nil

	default:
		return wire.CreateFail("unexpected opcode at worker")
	}
}

func (w *Worker) handleForward(body []byte) []byte {
	fwd, ok := wire.ParseWriteForward(body)
	if !ok {
		return wire.CreateFail("malformed forward")
	}
	if err := applyForward(w.ctx.Catalog, fwd); err != nil {
		return wire.CreateFail(err.Error())
	}
	return wire.CreateForwardOK()
}

func (w *Worker) Logger() log.Logger { return w.ctx.Logger }
