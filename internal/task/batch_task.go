// Package task implements BatchTask, the unit of work the CompletionPool
// executes: write one WriteBatch through its HostClient, then run exactly
// one of the coordinator's success or failure hooks.
package task

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/nmslite/docwriter/internal/batch"
)

// SuccessHook is invoked once, after a successful write, with the batch that
// succeeded. Coordinator implementations use it to advance itemsSoFar and
// fan out to success listeners.
type SuccessHook func(batch.WriteBatch)

// FailureHook is invoked once, after a failed write (or a failed close), with
// the batch and the error. Coordinator implementations use it to fan out to
// failure listeners; it may be nil to suppress that dispatch entirely (used
// by Retry, as opposed to RetryWithFailureListeners).
type FailureHook func(batch.WriteBatch, error)

// BeforeWriteHook runs immediately before the HostClient write. A non-nil
// error aborts the write and is treated the same as a transport failure.
type BeforeWriteHook func() error

// TransportError wraps an error a HostClient returned from Write or
// WriteTemporal, identifying which host produced it. It is what reaches
// OnFailure and, through it, the coordinator's failure listeners;
// BeforeWrite and close errors are not transport errors and are passed
// through unwrapped.
type TransportError struct {
	Host string
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("task: transport error writing to host %q: %v", e.Host, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// BatchTask wraps one WriteBatch plus the callbacks needed to run it.
// Identity (ID) is what the CompletionPool uses as its task-registry key;
// a task produced by failover re-submission gets a fresh ID even though it
// carries the same underlying BatchNumber, which is exactly what lets
// CompletionPool.ReplaceTask retarget an in-flight AwaitCompletion snapshot.
type BatchTask struct {
	id                       string
	Batch                    batch.WriteBatch
	BeforeWrite              BeforeWriteHook
	OnSuccess                SuccessHook
	OnFailure                FailureHook
	SuppressFailureListeners bool
}

// New constructs a BatchTask. It panics if the batch has zero ops: running a
// zero-op batch would be an internal invariant violation in the assembler or
// Flush, never a reachable state from valid caller input.
func New(wb batch.WriteBatch, before BeforeWriteHook, onSuccess SuccessHook, onFailure FailureHook) *BatchTask {
	if wb.Size() == 0 {
		panic("task: BatchTask constructed with zero ops")
	}
	return &BatchTask{
		id:          uuid.NewString(),
		Batch:       wb,
		BeforeWrite: before,
		OnSuccess:   onSuccess,
		OnFailure:   onFailure,
	}
}

// ID returns the task's pool-registry identity.
func (t *BatchTask) ID() string {
	return t.id
}

// Run executes the write, closes every closeable op handle, and dispatches
// exactly one of OnSuccess/OnFailure. The close pass always runs, even after
// a write failure, so caller-owned streams are never leaked; if both the
// write and a close fail, the write's error takes precedence since it is the
// more informative of the two and closes are best-effort cleanup.
func (t *BatchTask) Run(ctx context.Context) error {
	var writeErr error

	if t.BeforeWrite != nil {
		writeErr = t.BeforeWrite()
	}

	if writeErr == nil {
		client := t.Batch.Host.Client
		if client == nil {
			writeErr = fmt.Errorf("task: batch %d has no host client", t.Batch.BatchNumber)
		} else {
			var clientErr error
			if t.Batch.TemporalCollection != "" {
				clientErr = client.WriteTemporal(ctx, t.Batch.Ops, t.Batch.Transform, t.Batch.TemporalCollection)
			} else {
				clientErr = client.Write(ctx, t.Batch.Ops, t.Batch.Transform)
			}
			if clientErr != nil {
				writeErr = &TransportError{Host: t.Batch.Host.HostName, Err: clientErr}
			}
		}
	}

	closeErr := closeAll(t.Batch)
	if writeErr == nil {
		writeErr = closeErr
	}

	if writeErr != nil {
		if t.OnFailure != nil && !t.SuppressFailureListeners {
			t.OnFailure(t.Batch, writeErr)
		}
		return writeErr
	}

	if t.OnSuccess != nil {
		t.OnSuccess(t.Batch)
	}
	return nil
}

func closeAll(wb batch.WriteBatch) error {
	var last error
	for _, op := range wb.Ops {
		if err := op.Close(); err != nil {
			last = err
		}
	}
	return last
}
