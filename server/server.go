package server

import (
	"net"
	"strconv"
	"time"

	"github.com/anacrolix/log"

	"github.com/mjffraser/dfd/catalog"
	"github.com/mjffraser/dfd/transport"
	"github.com/mjffraser/dfd/wire"
)

// SupervisorInterval is the dead-worker poll cadence (spec.md §4.6
// "Worker restart": "a supervisor thread polls every 30 s").
const SupervisorInterval = 30 * time.Second

// Server wires a ServerCtx to a live TCP listener, its worker pool, and
// the background supervisor that respawns dead workers.
type Server struct {
	ctx      *ServerCtx
	listener *Listener
	ln       *net.TCPListener
}

// NewServer binds the TCP listener at selfAddr's port, spawns all
// NumWorkers workers (each with its request and election sockets live),
// and returns a Server ready for Serve.
func NewServer(selfAddr wire.PeerAddress, cat catalog.Catalog, logger log.Logger) (*Server, error) {
	ctx := NewServerCtx(selfAddr, cat, logger)

	ln, _, err := transport.OpenListener("127.0.0.1", int(selfAddr.Port))
	if err != nil {
		return nil, err
	}

	for i := 0; i < NumWorkers; i++ {
		w, err := newWorker(ctx, i)
		if err != nil {
			ln.Close()
			return nil, err
		}
		go w.Run()
		go w.electionListen()
	}

	return &Server{
		ctx:      ctx,
		listener: NewListener(ctx, ln),
		ln:       ln,
	}, nil
}

// Context exposes the server's shared state, e.g. for JoinCluster.
func (s *Server) Context() *ServerCtx { return s.ctx }

// Serve runs the supervisor in the background and blocks on the TCP
// accept loop until the server is stopped.
func (s *Server) Serve() {
	go s.supervise()
	s.listener.Run()
}

// Stop halts the accept loop, worker loops, and supervisor; workers exit
// on their next recv timeout.
func (s *Server) Stop() {
	s.ctx.Stop()
	_ = s.ln.Close()
}

// supervise polls for dead workers and respawns them under the election
// lock, so a restart never races a concurrent election (spec.md §4.6).
func (s *Server) supervise() {
	ticker := time.NewTicker(SupervisorInterval)
	defer ticker.Stop()
	for s.ctx.Running() {
		<-ticker.C
		for i := 0; i < NumWorkers; i++ {
			if s.ctx.workerAliveAt(i) {
				continue
			}
			s.ctx.electionMu.Lock()
			w, err := newWorker(s.ctx, i)
			s.ctx.electionMu.Unlock()
			if err != nil {
				s.ctx.Logger.WithDefaultLevel(log.Warning).Printf("server: failed to respawn worker %d: %v", i, err)
				continue
			}
			go w.Run()
			go w.electionListen()
			WorkerRestartsTotal.WithLabelValues(strconv.Itoa(i)).Inc()
		}
	}
}
