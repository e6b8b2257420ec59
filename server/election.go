package server

import (
	"net"
	"time"

	"github.com/mjffraser/dfd/transport"
	"github.com/mjffraser/dfd/wire"
)

// ElectionReplyWait is the bully algorithm's reply window (spec.md §4.7:
// "wait up to 100 µs for any reply").
const ElectionReplyWait = 100 * time.Microsecond

// electionListenTimeout bounds the companion election task's recv so it
// can re-check server_running/worker_alive between reads (spec.md §4.7
// "cancellation is polled").
const electionListenTimeout = 50 * time.Millisecond

func electionAddr(port int) *net.UDPAddr {
	return &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port}
}

// RunElection runs worker i's bid to become writer (spec.md §4.7). It is
// a no-op if another election is already in progress on this server,
// since the election lock (invariant 3) allows only one at a time.
func (ctx *ServerCtx) RunElection(i int) {
	if !ctx.electionMu.TryLock() {
		return
	}
	defer ctx.electionMu.Unlock()

	w := ctx.workers[i]
	if w == nil {
		return
	}
	ElectionsTotal.Inc()

	select {
	case <-w.replyCh:
	default:
	}

	challenge := wire.CreateElectX(wire.ElectX{WorkerIndex: byte(i)})
	higherAlive := false
	for j := i + 1; j < NumWorkers; j++ {
		peer := ctx.workers[j]
		if peer == nil || !ctx.workerAliveAt(j) {
			continue
		}
		higherAlive = true
		_ = transport.SendUDP(w.electConn, electionAddr(peer.electPort), challenge, time.Millisecond)
	}

	if higherAlive {
		select {
		case <-w.replyCh:
			return // outranked: someone above us answered BULLY
		case <-time.After(ElectionReplyWait):
		}
	}

	ctx.setLeader(i)
	win := wire.CreateLeaderX(wire.LeaderX{WinnerIndex: byte(i)})
	for j := 0; j < NumWorkers; j++ {
		if j == i {
			continue
		}
		peer := ctx.workers[j]
		if peer == nil || !ctx.workerAliveAt(j) {
			continue
		}
		_ = transport.SendUDP(w.electConn, electionAddr(peer.electPort), win, time.Millisecond)
	}
}

// electionListen is a worker's companion election task: it owns the
// election socket for the worker's whole lifetime, replying to
// challenges from lower-ranked workers and updating the leader on
// LEADER_X, independent of any election this worker itself initiated.
func (w *Worker) electionListen() {
	for w.ctx.Running() && w.ctx.workerAliveAt(w.Index) {
		data, from, err := transport.RecvUDP(w.electConn, electionListenTimeout, maxDatagramSize)
		if err != nil {
			continue
		}
		op, body, err := wire.Split(data)
		if err != nil {
			continue
		}
		switch op {
		case wire.ELECT_X:
			m, ok := wire.ParseElectX(body)
			if !ok {
				continue
			}
			if int(m.WorkerIndex) < w.Index {
				_ = transport.SendUDP(w.electConn, from, wire.CreateBully(), time.Millisecond)
				go w.ctx.RunElection(w.Index)
			}

		case wire.BULLY:
			select {
			case w.replyCh <- struct{}{}:
			default:
			}

		case wire.LEADER_X:
			m, ok := wire.ParseLeaderX(body)
			if !ok {
				continue
			}
			w.ctx.setLeader(int(m.WinnerIndex))
		}
	}
}
