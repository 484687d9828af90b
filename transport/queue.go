// Package transport implements the message plane's per-link state: the
// Connection type with its four priority queues, RED admission, outbound
// draining and the pending-ack retry store. This is a raw byte-oriented
// per-link queue pipeline — see DESIGN.md for the full adaptation note —
// keeping an async-queue-plus-completion-callback shape.
package transport

import (
	"math/rand"

	"github.com/peismesh/kernel/pool"
)

// Priority selects one of a Connection's four outgoing queues.
type Priority int

const (
	PriHigh Priority = iota
	PriAck           // the pending-ack retry store; never targeted directly by Enqueue
	PriNormal
	PriBulk
)

// queue is a FIFO of *pool.QueuedPackage with an explicit tail pointer, so
// that removals from the middle (AckMgr plucking an acked package out of
// the pending-ack queue) never leave the tail stale: this invariant must
// hold for correctness of the FIFO ordering across interleaved append/remove.
type queue struct {
	head, tail *pool.QueuedPackage
	count      int
	cap        int
}

func newQueue(capacity int) *queue { return &queue{cap: capacity} }

func (q *queue) pushBack(p *pool.QueuedPackage) {
	p.SetNext(nil)
	if q.tail == nil {
		q.head, q.tail = p, p
	} else {
		q.tail.SetNext(p)
		q.tail = p
	}
	q.count++
}

func (q *queue) popFront() *pool.QueuedPackage {
	p := q.head
	if p == nil {
		return nil
	}
	q.head = p.Next()
	if q.head == nil {
		q.tail = nil
	}
	p.SetNext(nil)
	q.count--
	return p
}

// remove deletes p from the middle of the queue (used by AckMgr), keeping
// head/tail consistent. O(n) in queue length; queues are small and bounded.
func (q *queue) remove(p *pool.QueuedPackage) bool {
	var prev *pool.QueuedPackage
	cur := q.head
	for cur != nil {
		if cur == p {
			if prev == nil {
				q.head = cur.Next()
			} else {
				prev.SetNext(cur.Next())
			}
			if cur == q.tail {
				q.tail = prev
			}
			cur.SetNext(nil)
			q.count--
			return true
		}
		prev = cur
		cur = cur.Next()
	}
	return false
}

func (q *queue) Len() int { return q.count }

// redFillRate computes Σ_{p<=priority} count_p / capacity for the RED
// admission check. queues is ordered PriHigh..PriBulk.
func redFillRate(queues [4]*queue, upTo Priority) float64 {
	var sum, capSum int
	for i := PriHigh; i <= upTo; i++ {
		sum += queues[i].count
		capSum += queues[i].cap
	}
	if capSum == 0 {
		return 0
	}
	return float64(sum) / float64(capSum)
}

// redAdmit applies Random Early Detection: above 50% fill, drop with
// probability 2*(fillrate-0.5).
func redAdmit(fillrate float64) bool {
	if fillrate <= 0.5 {
		return true
	}
	dropProb := 2 * (fillrate - 0.5)
	return rand.Float64() >= dropProb
}
