// Package batch turns a stream of WriteOp submissions into WriteBatch units,
// choosing a target host by round-robin and using an atomic sequence counter
// as the sole coordination point between concurrent producers.
package batch

import (
	"github.com/nmslite/docwriter/internal/roster"
	"github.com/nmslite/docwriter/internal/writeop"
)

// WriteBatch is an immutable unit of work: an ordered list of ops destined
// for one host. It is discarded after listener dispatch; nothing retains a
// reference to it once its BatchTask reaches a terminal state.
type WriteBatch struct {
	BatchNumber        uint64
	Host               roster.HostEntry
	Ops                []writeop.WriteOp
	Transform          string
	TemporalCollection string
}

// Size returns the number of ops in the batch, including any synthetic
// default-metadata marker.
func (b WriteBatch) Size() int {
	return len(b.Ops)
}

// RealOpCount returns the number of ops excluding the synthetic
// default-metadata marker, used to decide whether a batch is worth
// submitting at all.
func (b WriteBatch) RealOpCount() int {
	n := 0
	for _, op := range b.Ops {
		if !op.IsDefaultMetadata() {
			n++
		}
	}
	return n
}
