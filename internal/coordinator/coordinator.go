// Package coordinator implements the asynchronous batched write coordinator:
// the public surface that owns lifecycle, configuration, listener
// dispatch, flush/quiesce, and failover re-queuing on top of the batch,
// pool, queue, roster, and task packages.
package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nmslite/docwriter/internal/batch"
	"github.com/nmslite/docwriter/internal/pool"
	"github.com/nmslite/docwriter/internal/queue"
	"github.com/nmslite/docwriter/internal/roster"
	"github.com/nmslite/docwriter/internal/task"
	"github.com/nmslite/docwriter/internal/writeop"
)

// BatchSuccessListener is notified once, after a batch writes successfully.
type BatchSuccessListener func(batch.WriteBatch)

// BatchFailureListener is notified once, after a batch fails to write.
type BatchFailureListener func(batch.WriteBatch, error)

// JobTicket identifies the caller that started a coordinator run. adminapi
// verifies one out of a bearer JWT before it will act on a running
// coordinator; Start accepts whatever the embedding application already
// verified.
type JobTicket struct {
	JobID   string
	JobName string
}

// Coordinator is the public surface described in SPEC_FULL.md. Zero value is
// not usable; construct with New.
type Coordinator struct {
	logger *slog.Logger

	// initMu serializes the Configurable->Running transition (doInitialize)
	// and guards jobStart. started is the fast-path check everything else
	// reads without taking initMu, matching the teacher's runMu/running
	// idiom in SchedulerImpl.Run.
	initMu  sync.Mutex
	started atomic.Bool
	stopped atomic.Bool

	// stopMu serializes doInitialize, Stop, and the roster rebuild in
	// WithForestConfig against each other, so failover never races pool
	// creation or shutdown.
	stopMu sync.Mutex

	// Pre-start configuration. configErr is sticky: once a setter records
	// it, it is returned by Start and by every later submission and Flush
	// call, rather than silently discarding the caller's intent.
	configErr           error
	batchSize           int
	threadCount         int
	jobName             string
	jobID               string
	transform           string
	temporalCollection  string
	defaultMetadata     any
	hasDefaultMetadata  bool

	forestConfig roster.ForestConfiguration
	hostFactory  roster.HostFactory
	rosterPtr    atomic.Pointer[roster.Roster]

	pending   *queue.PendingQueue
	assembler *batch.Assembler
	pool      *pool.Pool

	ticket     JobTicket
	jobStart   time.Time
	jobEnd     time.Time
	itemsSoFar atomic.Uint64

	listenerMu       sync.Mutex
	successListeners []BatchSuccessListener
	failureListeners []BatchFailureListener

	journal JournalWriter
}

// New constructs a Coordinator in the Configurable state. A nil logger
// falls back to slog.Default().
func New(logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Coordinator{
		logger:    logger,
		batchSize: 1,
	}
	c.rosterPtr.Store(roster.New())
	return c
}

// --- fluent configuration (pre-start only) ---

func (c *Coordinator) setConfigErr(reason string) {
	if c.configErr == nil {
		c.configErr = &ConfigError{Reason: reason}
	}
}

// WithBatchSize sets the number of ops per batch. Values below 1 are raised
// to 1 and logged rather than rejected.
func (c *Coordinator) WithBatchSize(n int) *Coordinator {
	if c.started.Load() {
		c.setConfigErr("WithBatchSize called after start")
		return c
	}
	if n < 1 {
		c.logger.Warn("coordinator: batch size below 1, raising to 1", "requested", n)
		n = 1
	}
	c.batchSize = n
	return c
}

// WithThreadCount sets the CompletionPool's worker count. Values below 1
// mean "default to the roster size at start time".
func (c *Coordinator) WithThreadCount(n int) *Coordinator {
	if c.started.Load() {
		c.setConfigErr("WithThreadCount called after start")
		return c
	}
	c.threadCount = n
	return c
}

// WithJobName sets the human-readable job name surfaced via adminapi. It
// fills JobTicket().JobName when the ticket given to Start has none.
func (c *Coordinator) WithJobName(name string) *Coordinator {
	if c.started.Load() {
		c.setConfigErr("WithJobName called after start")
		return c
	}
	c.jobName = name
	return c
}

// WithJobID sets the job identifier surfaced via adminapi. It fills
// JobTicket().JobID when the ticket given to Start has none.
func (c *Coordinator) WithJobID(id string) *Coordinator {
	if c.started.Load() {
		c.setConfigErr("WithJobID called after start")
		return c
	}
	c.jobID = id
	return c
}

// WithTransform sets the transform name passed to every HostClient write.
func (c *Coordinator) WithTransform(transform string) *Coordinator {
	if c.started.Load() {
		c.setConfigErr("WithTransform called after start")
		return c
	}
	c.transform = transform
	return c
}

// WithTemporalCollection routes every batch through the temporal write path
// against the named collection.
func (c *Coordinator) WithTemporalCollection(collection string) *Coordinator {
	if c.started.Load() {
		c.setConfigErr("WithTemporalCollection called after start")
		return c
	}
	c.temporalCollection = collection
	return c
}

// WithDefaultMetadata configures a synthetic metadata handle prepended to
// every assembled batch.
func (c *Coordinator) WithDefaultMetadata(metadata any) *Coordinator {
	if c.started.Load() {
		c.setConfigErr("WithDefaultMetadata called after start")
		return c
	}
	c.defaultMetadata = metadata
	c.hasDefaultMetadata = true
	return c
}

// WithJournal attaches an optional audit writer. Every terminal batch
// outcome is appended to it; Stop flushes and closes it.
func (c *Coordinator) WithJournal(w JournalWriter) *Coordinator {
	c.journal = w
	return c
}

// WithForestConfig is callable at any time. It records the topology oracle
// and client factory and rebuilds the roster immediately. Before Start this
// just replaces the (empty) roster; no failover machinery runs because the
// pool has nothing queued yet. After Start, any host that left triggers
// failover re-queuing of affected work.
func (c *Coordinator) WithForestConfig(cfg roster.ForestConfiguration, factory roster.HostFactory) *Coordinator {
	c.stopMu.Lock()
	c.forestConfig = cfg
	c.hostFactory = factory
	c.stopMu.Unlock()

	if !c.stopped.Load() {
		c.rebuildRoster(context.Background())
	}
	return c
}

// ForestConfig returns the configured topology oracle, or nil.
func (c *Coordinator) ForestConfig() roster.ForestConfiguration {
	return c.forestConfig
}

// --- lifecycle ---

// Start transitions Configurable->Running, recording ticket as the job's
// identity. Calling Start a second time returns a ConfigError; Add/Flush
// trigger the same transition implicitly if Start was never called.
func (c *Coordinator) Start(ticket JobTicket) error {
	if c.configErr != nil {
		return c.configErr
	}
	if c.stopped.Load() {
		return &StoppedError{Op: "Start"}
	}

	c.initMu.Lock()
	defer c.initMu.Unlock()
	if c.started.Load() {
		return &ConfigError{Reason: "Start called after the coordinator was already running"}
	}
	c.ticket = ticket
	c.doInitialize()
	return nil
}

// RequireStarted returns a StateError naming op if the coordinator has not
// left Configurable yet. Add/Flush auto-initialize and never need this, but
// callers that must not trigger that lazy transition themselves (adminapi's
// introspection and await endpoints, which should report "not started"
// rather than silently starting a job nobody asked to run) call this first.
func (c *Coordinator) RequireStarted(op string) error {
	if !c.started.Load() {
		return &StateError{Reason: op + " requires the coordinator to be started"}
	}
	return nil
}

// ensureStarted performs the same Configurable->Running transition as
// Start, but idempotently and without an explicit ticket, for callers that
// reach the coordinator through Add/Flush without calling Start first.
func (c *Coordinator) ensureStarted() {
	if c.started.Load() {
		return
	}
	c.initMu.Lock()
	defer c.initMu.Unlock()
	if c.started.Load() {
		return
	}
	c.doInitialize()
}

// doInitialize must be called with initMu held and started known false.
func (c *Coordinator) doInitialize() {
	c.stopMu.Lock()
	defer c.stopMu.Unlock()

	if c.ticket.JobID == "" {
		c.ticket.JobID = c.jobID
	}
	if c.ticket.JobName == "" {
		c.ticket.JobName = c.jobName
	}
	if c.batchSize < 1 {
		c.batchSize = 1
	}
	threadCount := c.threadCount
	if threadCount < 1 {
		threadCount = c.rosterPtr.Load().Len()
		if threadCount < 1 {
			threadCount = 1
		}
	}
	c.threadCount = threadCount

	c.pending = queue.New()
	c.pool = pool.New(threadCount, c.logger)
	c.assembler = batch.New(c.pending, &c.rosterPtr, batch.Config{
		BatchSize:       c.batchSize,
		DefaultMetadata: c.defaultMetadata,
		HasDefaultMeta:  c.hasDefaultMetadata,
	}, c.submitBatch)

	c.jobStart = time.Now()
	c.started.Store(true)
}

// Stop transitions Running->Stopped. Idempotent: a second call is a no-op.
func (c *Coordinator) Stop() error {
	if !c.stopped.CompareAndSwap(false, true) {
		return nil
	}
	c.stopMu.Lock()
	defer c.stopMu.Unlock()
	if c.pool != nil {
		c.pool.ShutdownNow()
	}
	c.jobEnd = time.Now()

	if c.journal != nil {
		if err := c.journal.Close(); err != nil {
			c.logger.Error("coordinator: journal close failed", "error", err)
		}
	}
	return nil
}

// --- submission ---

// Add submits a create op with no metadata handle.
func (c *Coordinator) Add(uri string, content any) error {
	return c.AddOp(writeop.WriteOp{URI: uri, Content: content, OpType: writeop.OpCreate})
}

// AddWithMetadata submits a create op carrying a metadata handle.
func (c *Coordinator) AddWithMetadata(uri string, metadata, content any) error {
	return c.AddOp(writeop.WriteOp{URI: uri, Metadata: metadata, Content: content, OpType: writeop.OpCreate})
}

// AddOp submits a fully-formed WriteOp.
func (c *Coordinator) AddOp(op writeop.WriteOp) error {
	if c.configErr != nil {
		return c.configErr
	}
	if c.stopped.Load() {
		return &StoppedError{Op: "Add"}
	}
	c.ensureStarted()
	c.assembler.Add(op)
	return nil
}

// AddOps submits each op in order, stopping at the first error.
func (c *Coordinator) AddOps(ops ...writeop.WriteOp) error {
	for _, op := range ops {
		if err := c.AddOp(op); err != nil {
			return err
		}
	}
	return nil
}

// AddAll drains ch and submits each op received, until ch closes or ctx is
// done. Equivalent to calling AddOp for each op received, in order.
func (c *Coordinator) AddAll(ctx context.Context, ch <-chan writeop.WriteOp) error {
	for {
		select {
		case op, ok := <-ch:
			if !ok {
				return nil
			}
			if err := c.AddOp(op); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// AddAs JSON-marshals v and submits it as the content of a create op at uri.
func (c *Coordinator) AddAs(uri string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("coordinator: AddAs marshal: %w", err)
	}
	return c.Add(uri, data)
}

// --- flush ---

// FlushAsync drains the pending queue into batches and submits them without
// waiting for them to complete.
func (c *Coordinator) FlushAsync() error {
	return c.flush(context.Background(), false)
}

// FlushAndWait drains the pending queue into batches, submits them, and
// blocks until they have all completed or ctx is done.
func (c *Coordinator) FlushAndWait(ctx context.Context) error {
	return c.flush(ctx, true)
}

func (c *Coordinator) flush(ctx context.Context, wait bool) error {
	if c.configErr != nil {
		return c.configErr
	}
	if c.stopped.Load() {
		return &StoppedError{Op: "Flush"}
	}
	c.ensureStarted()

	drained := c.pending.Drain()
	c.assembler.ResetBatchCounter()

	batchSize := c.assembler.BatchSize()
	if batchSize < 1 {
		batchSize = 1
	}

	abandoned := 0
	for i := 0; i < len(drained); i += batchSize {
		if c.stopped.Load() {
			abandoned += len(drained) - i
			break
		}
		end := i + batchSize
		if end > len(drained) {
			end = len(drained)
		}
		chunk := drained[i:end]

		num, host, ok := c.assembler.NextBatchNumber()
		if !ok {
			abandoned += len(chunk)
			continue
		}

		ops := c.assembler.PrependDefaultMetadata(chunk)
		wb := batch.WriteBatch{
			BatchNumber:        num,
			Host:               host,
			Ops:                ops,
			Transform:          c.transform,
			TemporalCollection: c.temporalCollection,
		}
		if wb.RealOpCount() == 0 {
			continue
		}
		c.submitBatch(wb)
	}

	if abandoned > 0 {
		c.logger.Warn("coordinator: flush abandoned ops because the coordinator stopped mid-flush or the roster is empty", "count", abandoned)
	}

	if wait {
		c.pool.AwaitCompletionContext(ctx)
	}
	return nil
}

// --- completion ---

// AwaitCompletion blocks until every batch submitted before this call
// completes, or timeout elapses.
func (c *Coordinator) AwaitCompletion(timeout time.Duration) bool {
	if c.pool == nil {
		return true
	}
	return c.pool.AwaitCompletion(timeout)
}

// AwaitCompletionContext blocks until every batch submitted before this call
// completes, or ctx is done.
func (c *Coordinator) AwaitCompletionContext(ctx context.Context) bool {
	if c.pool == nil {
		return true
	}
	return c.pool.AwaitCompletionContext(ctx)
}

// --- retry ---

// Retry synchronously runs wb on the calling goroutine. Failure listeners
// are suppressed; any write error is returned directly to the caller.
func (c *Coordinator) Retry(wb batch.WriteBatch) error {
	if c.stopped.Load() {
		c.logger.Info("coordinator: retry skipped, coordinator is stopped", "batch_number", wb.BatchNumber)
		return nil
	}
	bt := task.New(wb, nil, c.onSuccessHook, nil)
	return bt.Run(context.Background())
}

// RetryWithFailureListeners synchronously runs wb on the calling goroutine.
// Failure listeners fire on error, unlike Retry.
func (c *Coordinator) RetryWithFailureListeners(wb batch.WriteBatch) error {
	if c.stopped.Load() {
		c.logger.Info("coordinator: retry skipped, coordinator is stopped", "batch_number", wb.BatchNumber)
		return nil
	}
	bt := task.New(wb, nil, c.onSuccessHook, c.onFailureHook)
	return bt.Run(context.Background())
}

// --- listeners ---

// OnBatchSuccess appends a success listener. Permitted at any time.
func (c *Coordinator) OnBatchSuccess(l BatchSuccessListener) error {
	if l == nil {
		return &ConfigError{Reason: "OnBatchSuccess: nil listener"}
	}
	c.listenerMu.Lock()
	c.successListeners = append(c.successListeners, l)
	c.listenerMu.Unlock()
	return nil
}

// OnBatchFailure appends a failure listener. Permitted at any time.
func (c *Coordinator) OnBatchFailure(l BatchFailureListener) error {
	if l == nil {
		return &ConfigError{Reason: "OnBatchFailure: nil listener"}
	}
	c.listenerMu.Lock()
	c.failureListeners = append(c.failureListeners, l)
	c.listenerMu.Unlock()
	return nil
}

// SetBatchSuccessListeners replaces the success listener list wholesale.
// Only permitted before Start.
func (c *Coordinator) SetBatchSuccessListeners(ls ...BatchSuccessListener) error {
	if c.started.Load() {
		return &ConfigError{Reason: "SetBatchSuccessListeners called after start"}
	}
	for _, l := range ls {
		if l == nil {
			return &ConfigError{Reason: "SetBatchSuccessListeners: nil listener"}
		}
	}
	c.listenerMu.Lock()
	c.successListeners = append([]BatchSuccessListener(nil), ls...)
	c.listenerMu.Unlock()
	return nil
}

// SetBatchFailureListeners replaces the failure listener list wholesale.
// Only permitted before Start.
func (c *Coordinator) SetBatchFailureListeners(ls ...BatchFailureListener) error {
	if c.started.Load() {
		return &ConfigError{Reason: "SetBatchFailureListeners called after start"}
	}
	for _, l := range ls {
		if l == nil {
			return &ConfigError{Reason: "SetBatchFailureListeners: nil listener"}
		}
	}
	c.listenerMu.Lock()
	c.failureListeners = append([]BatchFailureListener(nil), ls...)
	c.listenerMu.Unlock()
	return nil
}

// --- batch task hooks ---

func (c *Coordinator) submitBatch(wb batch.WriteBatch) {
	wb.Transform = c.transform
	wb.TemporalCollection = c.temporalCollection
	bt := task.New(wb, nil, c.onSuccessHook, c.onFailureHook)
	c.pool.Submit(bt)
}

func (c *Coordinator) onSuccessHook(wb batch.WriteBatch) {
	c.itemsSoFar.Add(uint64(wb.RealOpCount()))
	c.dispatchSuccess(wb)
	c.appendJournal(wb, "success", nil)
}

func (c *Coordinator) onFailureHook(wb batch.WriteBatch, err error) {
	c.dispatchFailure(wb, err)
	c.appendJournal(wb, "failure", err)
}

func (c *Coordinator) appendJournal(wb batch.WriteBatch, outcome string, writeErr error) {
	if c.journal == nil {
		return
	}
	rec := JournalRecord{
		BatchNumber: wb.BatchNumber,
		Host:        wb.Host.HostName,
		ItemCount:   wb.RealOpCount(),
		Outcome:     outcome,
		RecordedAt:  time.Now(),
	}
	if writeErr != nil {
		rec.Err = writeErr.Error()
	}
	if err := c.journal.Append(context.Background(), rec); err != nil {
		c.logger.Error("coordinator: journal append failed", "batch_number", wb.BatchNumber, "error", err)
	}
}

func (c *Coordinator) dispatchSuccess(wb batch.WriteBatch) {
	c.listenerMu.Lock()
	listeners := append([]BatchSuccessListener(nil), c.successListeners...)
	c.listenerMu.Unlock()
	for _, l := range listeners {
		c.safeSuccess(l, wb)
	}
}

func (c *Coordinator) dispatchFailure(wb batch.WriteBatch, err error) {
	c.listenerMu.Lock()
	listeners := append([]BatchFailureListener(nil), c.failureListeners...)
	c.listenerMu.Unlock()
	for _, l := range listeners {
		c.safeFailure(l, wb, err)
	}
}

func (c *Coordinator) safeSuccess(l BatchSuccessListener, wb batch.WriteBatch) {
	defer func() {
		if r := recover(); r != nil {
			lerr := &ListenerError{ListenerKind: "success", Value: r}
			c.logger.Error(lerr.Error())
		}
	}()
	l(wb)
}

func (c *Coordinator) safeFailure(l BatchFailureListener, wb batch.WriteBatch, err error) {
	defer func() {
		if r := recover(); r != nil {
			lerr := &ListenerError{ListenerKind: "failure", Value: r}
			c.logger.Error(lerr.Error())
		}
	}()
	l(wb, err)
}

// --- failover ---

func (c *Coordinator) rebuildRoster(ctx context.Context) {
	forests, err := c.forestConfig.Forests(ctx)
	if err != nil {
		c.logger.Error("coordinator: failed to refresh forest configuration", "error", err)
		return
	}

	c.stopMu.Lock()
	defer c.stopMu.Unlock()

	old := c.rosterPtr.Load()
	result := roster.Rebuild(old, forests, c.hostFactory)
	c.rosterPtr.Store(result.Roster)

	if len(result.Removed) > 0 {
		c.handleFailover(result.Removed)
	}
}

func (c *Coordinator) handleFailover(removed map[string]bool) {
	if c.pool == nil {
		return
	}
	drained := c.pool.DrainPending()
	current := c.rosterPtr.Load()

	for _, t := range drained {
		bt, ok := t.(*task.BatchTask)
		if !ok {
			c.pool.Resubmit(t)
			continue
		}

		if !removed[bt.Batch.Host.HostName] {
			c.pool.ReplaceTask(bt, bt)
			continue
		}

		if current.Len() == 0 {
			c.logger.Error("coordinator: failover dropped a batch, no hosts remain", "batch_number", bt.Batch.BatchNumber)
			continue
		}

		newBatch := bt.Batch
		newBatch.Host = current.At(newBatch.BatchNumber)

		originalFailure := bt.OnFailure
		wrappedFailure := func(wb batch.WriteBatch, err error) {
			wrapped := &RetryFailed{BatchNumber: wb.BatchNumber, Err: err}
			if originalFailure != nil {
				originalFailure(wb, wrapped)
			}
		}

		newTask := task.New(newBatch, bt.BeforeWrite, bt.OnSuccess, wrappedFailure)
		c.pool.ReplaceTask(bt, newTask)
	}
}

// --- introspection ---

// BatchSize returns the configured batch size.
func (c *Coordinator) BatchSize() int { return c.batchSize }

// ThreadCount returns the configured (or defaulted-at-start) worker count.
func (c *Coordinator) ThreadCount() int { return c.threadCount }

// JobStartTime returns the time the coordinator left Configurable. Zero
// value if it never has.
func (c *Coordinator) JobStartTime() time.Time { return c.jobStart }

// JobEndTime returns the time Stop was called. Zero value if Stop has not
// been called.
func (c *Coordinator) JobEndTime() time.Time { return c.jobEnd }

// JobTicket returns the ticket passed to Start, with an empty JobID or
// JobName filled from WithJobID/WithJobName.
func (c *Coordinator) JobTicket() JobTicket { return c.ticket }

// Transform returns the configured transform name.
func (c *Coordinator) Transform() string { return c.transform }

// TemporalCollection returns the configured temporal collection name.
func (c *Coordinator) TemporalCollection() string { return c.temporalCollection }

// DocumentMetadata returns the configured default metadata handle and
// whether one was set.
func (c *Coordinator) DocumentMetadata() (any, bool) { return c.defaultMetadata, c.hasDefaultMetadata }

// ItemsSoFar returns the cumulative count of ops in successfully written
// batches.
func (c *Coordinator) ItemsSoFar() uint64 { return c.itemsSoFar.Load() }

// Roster returns a defensive copy of the current host roster, for
// adminapi's /forests endpoint.
func (c *Coordinator) Roster() []roster.HostEntry { return c.rosterPtr.Load().Entries() }
