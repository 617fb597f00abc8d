package batch

import (
	"sync/atomic"

	"github.com/nmslite/docwriter/internal/queue"
	"github.com/nmslite/docwriter/internal/roster"
	"github.com/nmslite/docwriter/internal/writeop"
)

// SubmitFunc receives a fully-assembled WriteBatch for dispatch. The
// coordinator supplies one that wraps the batch in a BatchTask and hands it
// to the CompletionPool; assembler itself has no notion of tasks or pools,
// which keeps it free of any dependency on the pool package.
type SubmitFunc func(WriteBatch)

// Assembler accepts WriteOps from producers without blocking and fires a
// SubmitFunc exactly once per BatchSize ops, using batchCounter.Add as the
// sole coordination point: because it is a single atomic increment, exactly
// one producer's return value is divisible by BatchSize for any given
// boundary, so exactly one producer proceeds to assemble and submit that
// boundary's batch. No lock is needed to decide who fires.
type Assembler struct {
	pending *queue.PendingQueue
	roster  *atomic.Pointer[roster.Roster]

	batchSize       int
	defaultMetadata any
	hasDefaultMeta  bool

	batchCounter atomic.Uint64
	batchNumber  atomic.Uint64

	submit SubmitFunc
}

// Config bundles the assembler's immutable-after-start parameters.
type Config struct {
	BatchSize       int
	DefaultMetadata any
	HasDefaultMeta  bool
}

// New constructs an Assembler. rosterPtr must already hold a non-nil Roster;
// the assembler only ever reads it, taking one local snapshot per Add call
// so a concurrent topology change cannot split one batch across two roster
// generations.
func New(pending *queue.PendingQueue, rosterPtr *atomic.Pointer[roster.Roster], cfg Config, submit SubmitFunc) *Assembler {
	return &Assembler{
		pending:         pending,
		roster:          rosterPtr,
		batchSize:       cfg.BatchSize,
		defaultMetadata: cfg.DefaultMetadata,
		hasDefaultMeta:  cfg.HasDefaultMeta,
		submit:          submit,
	}
}

// Add appends op to the pending queue and, if this call happens to land on a
// batch boundary, assembles and submits the batch.
func (a *Assembler) Add(op writeop.WriteOp) {
	a.pending.Append(op)

	recordNum := a.batchCounter.Add(1)
	if a.batchSize <= 0 || recordNum%uint64(a.batchSize) != 0 {
		return
	}

	a.fire()
}

// fire allocates the next batch number, picks the target host, pulls up to
// BatchSize ops off the pending queue, and submits the resulting batch. A
// concurrent producer may not have finished its Append yet, so fewer than
// BatchSize ops is tolerated (best-effort ordering, never a hang).
func (a *Assembler) fire() {
	r := a.roster.Load()
	if r.Len() == 0 {
		return
	}

	// Batch numbers start at 1; batch 1 goes to roster index 0.
	batchNumber := a.batchNumber.Add(1)
	host := r.At(batchNumber - 1)

	ops := a.pending.TakeUpTo(a.batchSize)
	if len(ops) == 0 {
		return
	}

	wb := WriteBatch{
		BatchNumber: batchNumber,
		Host:        host,
		Ops:         ops,
	}

	if a.hasDefaultMeta {
		wb.Ops = append([]writeop.WriteOp{writeop.DefaultMetadataOp(a.defaultMetadata)}, wb.Ops...)
		if wb.RealOpCount() == 0 {
			return
		}
	}

	a.submit(wb)
}

// ResetBatchCounter zeroes the input-item counter. Called by Flush after it
// drains the pending queue so the next natural Add starts a fresh batch
// boundary rather than inheriting a stale offset.
func (a *Assembler) ResetBatchCounter() {
	a.batchCounter.Store(0)
}

// NextBatchNumber allocates and returns the next batch number and its target
// host, for callers (Flush) that assemble batches outside the normal Add
// trigger path but still need round-robin host assignment.
func (a *Assembler) NextBatchNumber() (uint64, roster.HostEntry, bool) {
	r := a.roster.Load()
	if r.Len() == 0 {
		return 0, roster.HostEntry{}, false
	}
	n := a.batchNumber.Add(1)
	return n, r.At(n - 1), true
}

// PrependDefaultMetadata inserts the synthetic marker op into ops if a
// default metadata handle is configured, used by Flush when it carves up the
// drained queue into chunks itself.
func (a *Assembler) PrependDefaultMetadata(ops []writeop.WriteOp) []writeop.WriteOp {
	if !a.hasDefaultMeta {
		return ops
	}
	return append([]writeop.WriteOp{writeop.DefaultMetadataOp(a.defaultMetadata)}, ops...)
}

// BatchSize returns the configured batch size.
func (a *Assembler) BatchSize() int {
	return a.batchSize
}
