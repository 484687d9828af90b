// Package pool provides the QueuedPackage free-list: allocations come from a
// single bounded pool with a process-wide ceiling (default 1024
// outstanding); allocation beyond the ceiling fails rather than growing
// unbounded. Built as a typed sync.Pool plus an atomic ceiling counter,
// following the shape of a pooled-buffer allocator with a hard cap.
package pool

import (
	"sync"
	"sync/atomic"

	"github.com/peismesh/kernel/wire"
)

// AckCallback is invoked exactly once when a QueuedPackage's fate is
// decided: success on ack receipt, failure on RED-drop, queue-full,
// retries-exhausted, or connection close.
type AckCallback func(ok bool, failCode int, userData any)

const maxAckCallbacks = 3

// QueuedPackage is a wire.Package plus its queueing metadata.
type QueuedPackage struct {
	Pkg          wire.Package
	EnqueuedAt   int64 // clock.Mono() at enqueue time
	Retries      int
	Deadline     int64 // clock.Mono() retry deadline, valid only in the pending-ack queue
	Callbacks    [maxAckCallbacks]ackCB
	numCallbacks int
	next         *QueuedPackage // single-linked queue chaining
}

type ackCB struct {
	fn   AckCallback
	data any
}

// AddCallback attaches an ack callback; silently drops beyond
// maxAckCallbacks.
func (q *QueuedPackage) AddCallback(fn AckCallback, data any) {
	if fn == nil || q.numCallbacks >= maxAckCallbacks {
		return
	}
	q.Callbacks[q.numCallbacks] = ackCB{fn: fn, data: data}
	q.numCallbacks++
}

// Next returns the queue-chaining successor pointer for single-linked
// queue chaining.
func (q *QueuedPackage) Next() *QueuedPackage { return q.next }

// SetNext sets the queue-chaining successor pointer.
func (q *QueuedPackage) SetNext(n *QueuedPackage) { q.next = n }

// Fire invokes every attached callback exactly once with the given outcome.
func (q *QueuedPackage) Fire(ok bool, failCode int) {
	for i := 0; i < q.numCallbacks; i++ {
		cb := q.Callbacks[i]
		q.Callbacks[i] = ackCB{}
		if cb.fn != nil {
			cb.fn(ok, failCode, cb.data)
		}
	}
	q.numCallbacks = 0
}

// Pool is the process-wide QueuedPackage free-list with a hard ceiling on
// outstanding (in-flight) allocations.
type Pool struct {
	sp          sync.Pool
	ceiling     int64
	outstanding atomic.Int64
}

func New(ceiling int) *Pool {
	if ceiling <= 0 {
		ceiling = 1024
	}
	p := &Pool{ceiling: int64(ceiling)}
	p.sp.New = func() any { return &QueuedPackage{} }
	return p
}

// Get allocates a QueuedPackage, or returns nil if the process-wide
// ceiling has been reached.
func (p *Pool) Get() *QueuedPackage {
	if p.outstanding.Add(1) > p.ceiling {
		p.outstanding.Add(-1)
		return nil
	}
	q := p.sp.Get().(*QueuedPackage)
	*q = QueuedPackage{}
	return q
}

// Put returns a QueuedPackage to the free-list. The caller must already
// have fired (or intentionally skipped) its ack callbacks.
func (p *Pool) Put(q *QueuedPackage) {
	q.next = nil
	p.sp.Put(q)
	p.outstanding.Add(-1)
}

// Outstanding reports the current number of allocated-but-not-yet-returned
// QueuedPackages, for diagnostics/stats.
func (p *Pool) Outstanding() int64 { return p.outstanding.Load() }
