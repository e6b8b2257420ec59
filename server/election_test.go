package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestElectionHighestIndexWins starts every worker's companion election
// task and has a low-index worker call for an election; the highest
// live index should always win (spec.md §4.7).
func TestElectionHighestIndexWins(t *testing.T) {
	ctx := newTestCtx(t)
	for i := 0; i < NumWorkers; i++ {
		w, err := newWorker(ctx, i)
		require.NoError(t, err)
		go w.electionListen()
	}
	t.Cleanup(ctx.Stop)

	ctx.RunElection(0)

	require.Eventually(t, func() bool {
		return ctx.LeaderIndex() == NumWorkers-1
	}, time.Second, time.Millisecond)
}

func TestElectionSkipsDeadHigherWorkers(t *testing.T) {
	ctx := newTestCtx(t)
	for i := 0; i < NumWorkers; i++ {
		w, err := newWorker(ctx, i)
		require.NoError(t, err)
		go w.electionListen()
	}
	t.Cleanup(ctx.Stop)
	ctx.setWorkerAlive(NumWorkers-1, false)

	ctx.RunElection(NumWorkers - 2)

	require.Eventually(t, func() bool {
		return ctx.LeaderIndex() == NumWorkers-2
	}, time.Second, time.Millisecond)
	assert.NotEqual(t, NumWorkers-1, ctx.LeaderIndex())
}
