// Package writeop defines the document write operation that flows through the
// coordinator: from PendingQueue, through BatchAssembler, to a BatchTask.
package writeop

import "io"

// OpType identifies the kind of write a WriteOp performs.
type OpType int

const (
	// OpCreate inserts or overwrites a document at URI.
	OpCreate OpType = iota
	// OpReplace overwrites an existing document's content and/or metadata.
	OpReplace
	// OpDelete removes the document at URI; Content is ignored.
	OpDelete
	// OpPatch applies a partial update; Content carries the patch payload.
	OpPatch
	// OpDefaultMetadata is a synthetic marker op prepended by the assembler
	// when a coordinator-wide default metadata handle is configured. It is
	// never produced by caller code.
	OpDefaultMetadata
)

func (t OpType) String() string {
	switch t {
	case OpCreate:
		return "create"
	case OpReplace:
		return "replace"
	case OpDelete:
		return "delete"
	case OpPatch:
		return "patch"
	case OpDefaultMetadata:
		return "default-metadata"
	default:
		return "unknown"
	}
}

// WriteOp is one document operation submitted by a caller. Metadata and
// Content are opaque handles owned by the caller; the coordinator only
// inspects them for an io.Closer contract at batch-task completion time.
type WriteOp struct {
	URI      string
	Metadata any
	Content  any
	OpType   OpType
}

// IsDefaultMetadata reports whether this op is the synthetic marker prepended
// by the assembler rather than a real caller submission.
func (w WriteOp) IsDefaultMetadata() bool {
	return w.OpType == OpDefaultMetadata
}

// DefaultMetadataOp constructs the synthetic marker op the assembler prepends
// to a batch when the coordinator has a default metadata handle configured.
func DefaultMetadataOp(metadata any) WriteOp {
	return WriteOp{URI: "", Metadata: metadata, OpType: OpDefaultMetadata}
}

// Close releases Content and Metadata if either exposes an io.Closer
// contract. It attempts both closes even if the first fails, returning the
// last error encountered so BatchTask can surface it without masking a
// preceding one silently.
func (w WriteOp) Close() error {
	var last error
	if c, ok := w.Content.(io.Closer); ok {
		if err := c.Close(); err != nil {
			last = err
		}
	}
	if c, ok := w.Metadata.(io.Closer); ok {
		if err := c.Close(); err != nil {
			last = err
		}
	}
	return last
}
