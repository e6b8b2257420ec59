package server

import (
	"net"
	"strconv"
	"time"

	"github.com/mjffraser/dfd/transport"
	"github.com/mjffraser/dfd/wire"
)

func opcodeLabel(op wire.Opcode) string { return op.String() }

const (
	// MaxDispatchAttempts caps retries per request (spec.md §4.8 step 6).
	MaxDispatchAttempts = 10
	// WorkerReplyWait bounds how long the dispatcher waits for a worker's
	// UDP reply before striking it (spec.md §4.8 step 4).
	WorkerReplyWait = 500 * time.Millisecond
	// KeepAliveInterval is a one-second KEEP_ALIVE cadence. dispatch runs no
	// keep-alive task and sends no KEEP_ALIVE frames; nothing reads this
	// constant.
	KeepAliveInterval = time.Second
	// MaxStrikes is the failure count at which a reader worker is marked
	// dead (spec.md §4.8 step 5).
	MaxStrikes = 5
)

// Listener is the TCP accept loop: one goroutine per connection, one
// request dispatched per connection (spec.md §4.8).
type Listener struct {
	ctx *ServerCtx
	ln  *net.TCPListener
}

func NewListener(ctx *ServerCtx, ln *net.TCPListener) *Listener {
	return &Listener{ctx: ctx, ln: ln}
}

func (l *Listener) Run() {
	for l.ctx.Running() {
		_ = l.ln.SetDeadline(time.Now().Add(electionListenTimeout))
		conn, err := l.ln.Accept()
		if err != nil {
			continue
		}
		go l.handleConn(conn)
	}
}

func (l *Listener) handleConn(conn net.Conn) {
	defer conn.Close()
	body, err := transport.RecvFramed(conn, 0)
	if err != nil {
		return
	}

	op, payload, err := wire.Split(body)
	if err == nil && op == wire.SERVER_REG {
		reg, ok := wire.ParseServerReg(payload)
		if !ok {
			_ = transport.SendFramed(conn, wire.CreateFail("malformed SERVER_REG"))
			return
		}
		l.handleServerReg(conn, reg)
		return
	}

	reply := l.dispatch(body)
	if reply != nil {
		_ = transport.SendFramed(conn, reply)
	}
}

// dispatch implements the retry loop of spec.md §4.8: pick a worker,
// send, wait, strike on timeout, and on a reply forward it to the client
// and (for writes the worker did not answer with FAIL) replicate
// asynchronously.
func (l *Listener) dispatch(req []byte) []byte {
	op, _, err := wire.Split(req)
	if err != nil {
		return wire.CreateFail("malformed request")
	}

	isWrite := op == wire.INDEX_REQUEST || op == wire.DROP_REQUEST || op == wire.REREGISTER_REQUEST
	RequestsTotal.WithLabelValues(opcodeLabel(op)).Inc()

	sock, _, err := transport.OpenUDPSocket("127.0.0.1", 0)
	if err != nil {
		return wire.CreateFail("dispatcher: no socket available")
	}
	defer sock.Close()

	readerCursor := 0
	for attempt := 0; attempt < MaxDispatchAttempts; attempt++ {
		workerIdx, port, ok := l.pickWorker(op, &readerCursor)
		if !ok {
			return wire.CreateFail("Database appears to be down")
		}

		_ = transport.SendUDP(sock, electionAddr(port), req, time.Second)
		reply, _, err := transport.RecvUDP(sock, WorkerReplyWait, maxDatagramSize)
		if err != nil {
			l.strike(workerIdx)
			continue
		}

		if isWrite {
			if rop, _, err := wire.Split(reply); err == nil && rop != wire.FAIL {
				l.ctx.recordIfActive(req)
				go l.replicate(op, req)
			}
		}
		return reply
	}
	return wire.CreateFail("Database appears to be down")
}

func (l *Listener) pickWorker(op wire.Opcode, readerCursor *int) (idx int, port int, ok bool) {
	if op == wire.SOURCE_REQUEST {
		ports := l.ctx.readerPorts()
		if len(ports) == 0 {
			return 0, 0, false
		}
		p := ports[*readerCursor%len(ports)]
		*readerCursor++
		return l.workerIndexForPort(p), p, true
	}
	port, ok = l.ctx.leaderPort()
	if !ok {
		return 0, 0, false
	}
	return l.ctx.LeaderIndex(), port, true
}

func (l *Listener) workerIndexForPort(port int) int {
	for i := 0; i < NumWorkers; i++ {
		w := l.ctx.workers[i]
		if w != nil && w.reqPort == port {
			return i
		}
	}
	return -1
}

// strike counts a worker failure. Readers die at MaxStrikes; the writer
// triggers an election instead of being marked dead (spec.md §4.8 step 5).
func (l *Listener) strike(workerIdx int) {
	if workerIdx < 0 {
		return
	}
	n := l.ctx.strikes[workerIdx].Add(1)
	StrikesTotal.WithLabelValues(strconv.Itoa(workerIdx)).Inc()
	if workerIdx == l.ctx.LeaderIndex() {
		go l.ctx.RunElection(workerIdx)
		return
	}
	if n >= MaxStrikes {
		l.ctx.setWorkerAlive(workerIdx, false)
	}
}

// replicate broadcasts a committed write to every known server as the
// appropriate FORWARD variant (spec.md §4.8 "Broadcast to known
// servers"), pruning any peer that times out or NACKs.
func (l *Listener) replicate(op wire.Opcode, req []byte) {
	fwd := toForward(op, req)
	if fwd == nil {
		return
	}
	for _, peer := range l.ctx.Roster.Snapshot() {
		ok := sendForward(peer, fwd)
		if !ok {
			l.ctx.Roster.Remove(peer.PeerID)
		}
	}
}

func toForward(op wire.Opcode, req []byte) []byte {
	_, body, err := wire.Split(req)
	if err != nil {
		return nil
	}
	switch op {
	case wire.INDEX_REQUEST:
		m, ok := wire.ParseIndexRequest(body)
		if !ok {
			return nil
		}
		return wire.CreateIndexForward(m)
	case wire.DROP_REQUEST:
		m, ok := wire.ParseDropRequest(body)
		if !ok {
			return nil
		}
		return wire.CreateDropForward(m)
	case wire.REREGISTER_REQUEST:
		m, ok := wire.ParseReregisterRequest(body)
		if !ok {
			return nil
		}
		return wire.CreateReregisterForward(m)
	default:
		return nil
	}
}

func sendForward(peer wire.PeerAddress, fwd []byte) bool {
	conn, err := transport.Connect(net.JoinHostPort(peer.IPString(), strconv.Itoa(int(peer.Port))), time.Second)
	if err != nil {
		return false
	}
	defer conn.Close()
	if err := transport.SendFramed(conn, fwd); err != nil {
		return false
	}
	reply, err := transport.RecvFramed(conn, WorkerReplyWait)
	if err != nil {
		return false
	}
	op, _, err := wire.Split(reply)
	if err != nil {
		return false
	}
	return op == wire.FORWARD_OK
}
