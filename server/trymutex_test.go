package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTryMutexSecondTryLockFails(t *testing.T) {
	m := newTryMutex()
	assert.True(t, m.TryLock())
	assert.False(t, m.TryLock())
	m.Unlock()
	assert.True(t, m.TryLock())
}

func TestTryMutexUnlockWithoutLockPanics(t *testing.T) {
	m := newTryMutex()
	assert.Panics(t, func() { m.Unlock() })
}
