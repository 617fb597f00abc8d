// Package queue implements the unbounded multi-producer queue that sits
// between Add and the BatchAssembler, grounded on the mutex-guarded
// swap-the-slice technique the teacher's poller.BatchWriter uses to move a
// pending buffer out from under concurrent producers before a flush.
package queue

import (
	"sync"
	"sync/atomic"

	"github.com/nmslite/docwriter/internal/writeop"
)

// PendingQueue is an unbounded FIFO of writeop.WriteOp. Append and TakeUpTo hold
// the mutex only long enough to mutate the backing slice; Drain swaps the
// backing slice for a fresh one under the same mutex so producers racing a
// drain either land in the old slice (and are returned by this Drain) or the
// new one (and are left for the next drain), never lost and never double
// counted.
type PendingQueue struct {
	mu     sync.Mutex
	items  []writeop.WriteOp
	length atomic.Int64
}

// New returns an empty PendingQueue.
func New() *PendingQueue {
	return &PendingQueue{}
}

// Append adds op to the tail of the queue. Never blocks.
func (q *PendingQueue) Append(op writeop.WriteOp) {
	q.mu.Lock()
	q.items = append(q.items, op)
	q.mu.Unlock()
	q.length.Add(1)
}

// Len returns the approximate current length without blocking on the mutex.
func (q *PendingQueue) Len() int {
	return int(q.length.Load())
}

// TakeUpTo removes and returns up to n items from the head of the queue,
// fewer if the queue holds less. Used by the batch assembler's fire path,
// which tolerates a short batch if a concurrent producer hasn't finished
// appending yet.
func (q *PendingQueue) TakeUpTo(n int) []writeop.WriteOp {
	if n <= 0 {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil
	}
	if n > len(q.items) {
		n = len(q.items)
	}
	taken := make([]writeop.WriteOp, n)
	copy(taken, q.items[:n])
	remaining := len(q.items) - n
	if remaining > 0 {
		copy(q.items, q.items[n:])
	}
	q.items = q.items[:remaining]
	q.length.Add(-int64(n))
	return taken
}

// Drain atomically removes and returns every item currently in the queue,
// leaving it empty. Appends that begin after Drain returns are guaranteed
// not to be part of the returned slice; appends racing concurrently with
// Drain land on one side of the mutex swap or the other, never both.
func (q *PendingQueue) Drain() []writeop.WriteOp {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil
	}
	drained := q.items
	q.items = nil
	q.length.Add(-int64(len(drained)))
	return drained
}
