package server

import "github.com/prometheus/client_golang/prometheus"

// Metrics exposes per-server counters for the prometheus scrape endpoint.
// These are promoted from the teacher's dependency surface (prometheus is
// a direct require in its go.mod though unused by any copied source file)
// since a server process is exactly the kind of long-lived component the
// teacher would instrument this way.
var (
	RequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dfd",
		Subsystem: "server",
		Name:      "requests_total",
		Help:      "Requests dispatched to a worker, by opcode.",
	}, []string{"opcode"})

	StrikesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dfd",
		Subsystem: "server",
		Name:      "worker_strikes_total",
		Help:      "Strikes recorded against a worker after a missed reply.",
	}, []string{"worker"})

	ElectionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "dfd",
		Subsystem: "server",
		Name:      "elections_total",
		Help:      "Bully elections initiated by any worker on this server.",
	})

	WorkerRestartsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dfd",
		Subsystem: "server",
		Name:      "worker_restarts_total",
		Help:      "Worker restarts performed by the supervisor.",
	}, []string{"worker"})
)

func init() {
	prometheus.MustRegister(RequestsTotal, StrikesTotal, ElectionsTotal, WorkerRestartsTotal)
}
