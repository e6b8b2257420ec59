package server

import (
	"strconv"
	"sync/atomic"
)

// count is a small atomic counter, adapted from the teacher's Count type,
// used here for the per-worker dispatcher strike counts that many
// goroutines touch concurrently.
type count struct {
	n int64
}

func (c *count) Add(n int64) int64   { return atomic.AddInt64(&c.n, n) }
func (c *count) Load() int64         { return atomic.LoadInt64(&c.n) }
func (c *count) Store(n int64)       { atomic.StoreInt64(&c.n, n) }
func (c *count) String() string      { return strconv.FormatInt(c.Load(), 10) }
func (c *count) Reset()              { atomic.StoreInt64(&c.n, 0) }
