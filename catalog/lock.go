package catalog

import (
	xsync "github.com/anacrolix/sync"
)

// dbLock is the catalog's writer-commits-block-readers discipline, adapted
// from the teacher's lockWithDeferreds: a RWMutex that can run a batch of
// queued actions when the current writer unlocks, so a write path can queue
// post-commit work (metrics, wakeups) without branching on it inline. The
// actions run inside Unlock before the write lock is released, so they
// still hold the lock while they run. Stripped of the teacher's goroutine-id
// debug tracking, which this module has no use for.
type dbLock struct {
	internal      xsync.RWMutex
	unlockActions []func()
}

func (l *dbLock) Lock()    { l.internal.Lock() }
func (l *dbLock) Unlock()  { l.runUnlockActions(); l.internal.Unlock() }
func (l *dbLock) RLock()   { l.internal.RLock() }
func (l *dbLock) RUnlock() { l.internal.RUnlock() }

// Defer queues f to run when the current writer unlocks. Only meaningful
// between Lock and Unlock; f runs inline on the next Unlock call, before
// the lock itself is released.
func (l *dbLock) Defer(f func()) {
	l.unlockActions = append(l.unlockActions, f)
}

func (l *dbLock) runUnlockActions() {
	actions := l.unlockActions
	l.unlockActions = nil
	for _, f := range actions {
		f()
	}
}
