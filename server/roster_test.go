package server

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mjffraser/dfd/wire"
)

func TestRosterAddSnapshotRemove(t *testing.T) {
	r := NewRoster()
	a1, ok := wire.AddressFromNetIP(net.IPv4(127, 0, 0, 1), 9001, 1)
	require.True(t, ok)
	a2, ok := wire.AddressFromNetIP(net.IPv4(127, 0, 0, 1), 9002, 2)
	require.True(t, ok)

	r.Add(a1)
	r.Add(a2)
	assert.Equal(t, 2, r.Len())

	snap := r.Snapshot()
	assert.Len(t, snap, 2)

	r.Remove(a1.PeerID)
	assert.Equal(t, 1, r.Len())
}

func TestRosterSnapshotDedupesByAddress(t *testing.T) {
	r := NewRoster()
	a1, ok := wire.AddressFromNetIP(net.IPv4(127, 0, 0, 1), 9001, 1)
	require.True(t, ok)
	a1Reregistered := a1
	a1Reregistered.PeerID = 2 // different id, same ip:port

	r.Add(a1)
	r.Add(a1Reregistered)
	assert.Len(t, r.Snapshot(), 1)
}
