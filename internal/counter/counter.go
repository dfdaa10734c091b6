// Package counter provides a generic atomic counter, adapted from the
// teacher's common/counter package. ConnectionMetrics' tx/rx fields are
// built on this so the hot relay path never takes a lock to update them.
package counter

import "sync/atomic"

// Counter is a generic, atomic read/write/add counter.
type Counter[T int32 | int64] interface {
	Get() T
	Set(T) (old T)
	Add(T) (new T)
}

type counter64 struct {
	value int64
}

// New64 constructs an int64 atomic counter.
func New64(initial int64) Counter[int64] {
	return &counter64{value: initial}
}

func (c *counter64) Get() int64        { return atomic.LoadInt64(&c.value) }
func (c *counter64) Set(v int64) int64 { return atomic.SwapInt64(&c.value, v) }
func (c *counter64) Add(d int64) int64 { return atomic.AddInt64(&c.value, d) }
