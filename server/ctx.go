package server

import (
	"sync"
	"sync/atomic"

	"github.com/anacrolix/log"

	"github.com/mjffraser/dfd/catalog"
	"github.com/mjffraser/dfd/wire"
)

// NumWorkers is N from spec.md §4.6: workers 0..N-2 are readers, worker
// N-1 starts as the writer/leader.
const NumWorkers = 5

// ServerCtx is the process-scoped state a server's workers, dispatcher and
// election tasks all share (spec.md §9 "Global state"): worker ports,
// worker liveness, the current leader index, the election lock, and the
// cluster roster. It is threaded explicitly rather than kept in package
// globals.
type ServerCtx struct {
	SelfAddr wire.PeerAddress
	Catalog  catalog.Catalog
	Logger   log.Logger
	Roster   *Roster

	workers [NumWorkers]*Worker

	leaderIdx   int32 // atomic; index into workers
	running     int32 // atomic bool; 0 = stopped
	electionMu  tryMutex
	workerAlive [NumWorkers]int32 // atomic bools
	strikes     [NumWorkers]count

	recording    int32 // atomic bool; true while onboarding a joining server
	deferredMu   sync.Mutex
	deferredLog  [][]byte // raw write-request frames recorded while recording
}

// NewServerCtx builds a ServerCtx with no workers registered yet; call
// registerWorker for each spawned worker before serving traffic.
func NewServerCtx(self wire.PeerAddress, cat catalog.Catalog, logger log.Logger) *ServerCtx {
	ctx := &ServerCtx{
		SelfAddr: self,
		Catalog:  cat,
		Logger:   logger,
		Roster:   NewRoster(),
	}
	ctx.leaderIdx = NumWorkers - 1
	ctx.running = 1
	ctx.electionMu = newTryMutex()
	return ctx
}

func (ctx *ServerCtx) registerWorker(w *Worker) {
	ctx.workers[w.Index] = w
	atomic.StoreInt32(&ctx.workerAlive[w.Index], 1)
}

func (ctx *ServerCtx) Running() bool { return atomic.LoadInt32(&ctx.running) != 0 }
func (ctx *ServerCtx) Stop()         { atomic.StoreInt32(&ctx.running, 0) }

func (ctx *ServerCtx) LeaderIndex() int { return int(atomic.LoadInt32(&ctx.leaderIdx)) }
func (ctx *ServerCtx) setLeader(i int)  { atomic.StoreInt32(&ctx.leaderIdx, int32(i)) }

func (ctx *ServerCtx) workerAliveAt(i int) bool {
	return atomic.LoadInt32(&ctx.workerAlive[i]) != 0
}

func (ctx *ServerCtx) setWorkerAlive(i int, alive bool) {
	v := int32(0)
	if alive {
		v = 1
	}
	atomic.StoreInt32(&ctx.workerAlive[i], v)
}

// readerPorts returns the request-socket port of every live reader
// (workers 0..N-2), skipping dead ones, for the dispatcher's round-robin.
func (ctx *ServerCtx) readerPorts() []int {
	var ports []int
	for i := 0; i < NumWorkers-1; i++ {
		w := ctx.workers[i]
		if w == nil || !ctx.workerAliveAt(i) {
			continue
		}
		ports = append(ports, w.reqPort)
	}
	return ports
}

// beginRecording starts deferring writes for a joining server (spec.md
// §4.9 step 1). The deferred log is cleared so a prior onboarding's
// leftovers never bleed into a new one.
func (ctx *ServerCtx) beginRecording() {
	ctx.deferredMu.Lock()
	ctx.deferredLog = nil
	ctx.deferredMu.Unlock()
	atomic.StoreInt32(&ctx.recording, 1)
}

// recordIfActive appends req to the deferred-write queue when an
// onboarding is in progress. Called with the raw request frame for every
// committed write, so late writers see exactly what was replicated.
func (ctx *ServerCtx) recordIfActive(req []byte) {
	if atomic.LoadInt32(&ctx.recording) == 0 {
		return
	}
	cp := append([]byte(nil), req...)
	ctx.deferredMu.Lock()
	ctx.deferredLog = append(ctx.deferredLog, cp)
	ctx.deferredMu.Unlock()
}

// drainDeferred stops recording and returns (and clears) everything
// queued during the onboarding window (spec.md §4.9 step 3).
func (ctx *ServerCtx) drainDeferred() [][]byte {
	atomic.StoreInt32(&ctx.recording, 0)
	ctx.deferredMu.Lock()
	defer ctx.deferredMu.Unlock()
	out := ctx.deferredLog
	ctx.deferredLog = nil
	return out
}

func (ctx *ServerCtx) leaderPort() (int, bool) {
	i := ctx.LeaderIndex()
	w := ctx.workers[i]
	if w == nil || !ctx.workerAliveAt(i) {
		return 0, false
	}
	return w.reqPort, true
}
