package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/nmslite/docwriter/internal/batch"
	"github.com/nmslite/docwriter/internal/roster"
	"github.com/nmslite/docwriter/internal/writeop"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discardWriter{}, nil))
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

// recordingClient is an in-memory roster.HostClient that records every
// batch of ops it receives, optionally failing a configured number of times
// first and optionally blocking until released.
type recordingClient struct {
	mu        sync.Mutex
	host      string
	writes    [][]writeop.WriteOp
	failTimes int
	failErr   error
	block     chan struct{}
}

func newRecordingClient(host string) *recordingClient {
	return &recordingClient{host: host}
}

func (c *recordingClient) Host() string { return c.host }

func (c *recordingClient) Write(ctx context.Context, ops []writeop.WriteOp, transform string) error {
	if c.block != nil {
		<-c.block
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failTimes > 0 {
		c.failTimes--
		if c.failErr != nil {
			return c.failErr
		}
		return fmt.Errorf("recordingClient: forced failure on %s", c.host)
	}
	c.writes = append(c.writes, ops)
	return nil
}

func (c *recordingClient) WriteTemporal(ctx context.Context, ops []writeop.WriteOp, transform, coll string) error {
	return c.Write(ctx, ops, transform)
}

func (c *recordingClient) writeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.writes)
}

func (c *recordingClient) totalOps() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, w := range c.writes {
		n += len(w)
	}
	return n
}

// staticForests is a fixed ForestConfiguration used directly (not through
// hostclient, which would introduce an import cycle back into coordinator).
type staticForests struct {
	hosts []string
}

func (s staticForests) Forests(ctx context.Context) ([]roster.Forest, error) {
	out := make([]roster.Forest, len(s.hosts))
	for i, h := range s.hosts {
		out[i] = roster.Forest{Host: h}
	}
	return out, nil
}

func newOp(uri string) writeop.WriteOp {
	return writeop.WriteOp{URI: uri, OpType: writeop.OpCreate}
}

func TestCoordinator_RoundRobinAcrossTwoHosts(t *testing.T) {
	h1 := newRecordingClient("h1")
	h2 := newRecordingClient("h2")
	clients := map[string]roster.HostClient{"h1": h1, "h2": h2}
	factory := func(host string) roster.HostClient { return clients[host] }

	c := New(discardLogger()).WithBatchSize(2).WithThreadCount(2)
	c.WithForestConfig(staticForests{hosts: []string{"h1", "h2"}}, factory)
	if err := c.Start(JobTicket{JobID: "job1"}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer c.Stop()

	for i := 0; i < 8; i++ {
		if err := c.AddOp(newOp(fmt.Sprintf("uri-%d", i))); err != nil {
			t.Fatalf("AddOp failed: %v", err)
		}
	}

	if !c.AwaitCompletion(2 * time.Second) {
		t.Fatalf("expected all batches to complete")
	}

	if h1.writeCount() != 2 || h2.writeCount() != 2 {
		t.Fatalf("expected 2 batches on each host, got h1=%d h2=%d", h1.writeCount(), h2.writeCount())
	}
	if h1.totalOps()+h2.totalOps() != 8 {
		t.Fatalf("expected 8 total ops written, got %d", h1.totalOps()+h2.totalOps())
	}
}

func TestCoordinator_PartialFinalBatchViaFlush(t *testing.T) {
	h1 := newRecordingClient("h1")
	factory := func(host string) roster.HostClient { return h1 }

	c := New(discardLogger()).WithBatchSize(10)
	c.WithForestConfig(staticForests{hosts: []string{"h1"}}, factory)
	if err := c.Start(JobTicket{JobID: "job2"}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer c.Stop()

	for i := 0; i < 3; i++ {
		if err := c.AddOp(newOp(fmt.Sprintf("uri-%d", i))); err != nil {
			t.Fatalf("AddOp failed: %v", err)
		}
	}
	if h1.writeCount() != 0 {
		t.Fatalf("expected no batch before the boundary or a flush, got %d", h1.writeCount())
	}

	if err := c.FlushAndWait(context.Background()); err != nil {
		t.Fatalf("FlushAndWait failed: %v", err)
	}

	if h1.writeCount() != 1 {
		t.Fatalf("expected exactly one partial batch submitted by flush, got %d", h1.writeCount())
	}
	if h1.totalOps() != 3 {
		t.Fatalf("expected the partial batch to carry all 3 ops, got %d", h1.totalOps())
	}
}

func TestCoordinator_FailoverMidFlightRequeuesToSurvivingHost(t *testing.T) {
	h1 := newRecordingClient("h1")
	h1.block = make(chan struct{})
	h2 := newRecordingClient("h2")
	clients := map[string]roster.HostClient{"h1": h1, "h2": h2}
	factory := func(host string) roster.HostClient { return clients[host] }

	c := New(discardLogger()).WithBatchSize(1).WithThreadCount(1)
	c.WithForestConfig(staticForests{hosts: []string{"h1"}}, factory)
	if err := c.Start(JobTicket{JobID: "job3"}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer c.Stop()

	// First op's batch is immediately picked up by the single worker and
	// blocks inside h1.Write; the second queues behind it.
	if err := c.AddOp(newOp("uri-0")); err != nil {
		t.Fatalf("AddOp failed: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if err := c.AddOp(newOp("uri-1")); err != nil {
		t.Fatalf("AddOp failed: %v", err)
	}

	// h1 leaves the roster while uri-1's batch is still queued; failover
	// should retarget it to h2.
	c.WithForestConfig(staticForests{hosts: []string{"h2"}}, factory)

	close(h1.block)

	if !c.AwaitCompletion(2 * time.Second) {
		t.Fatalf("expected both batches to eventually complete")
	}

	if h2.writeCount() != 1 {
		t.Fatalf("expected the queued batch to fail over to h2, got h2 writes=%d", h2.writeCount())
	}
}

func TestCoordinator_CallerRunsBackpressure(t *testing.T) {
	h1 := newRecordingClient("h1")
	h1.block = make(chan struct{})
	factory := func(host string) roster.HostClient { return h1 }

	c := New(discardLogger()).WithBatchSize(1).WithThreadCount(1)
	c.WithForestConfig(staticForests{hosts: []string{"h1"}}, factory)
	if err := c.Start(JobTicket{JobID: "job4"}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer c.Stop()

	// With threadCount=1, the pool's internal queue has capacity 3. The
	// first batch is picked up by the worker and blocks in h1.Write; the
	// next ones fill the queue; the overflow runs inline on this goroutine,
	// so that AddOp waits in h1.Write until the client is released below.
	go func() {
		time.Sleep(100 * time.Millisecond)
		close(h1.block)
	}()
	for i := 0; i < 5; i++ {
		if err := c.AddOp(newOp(fmt.Sprintf("uri-%d", i))); err != nil {
			t.Fatalf("AddOp %d failed: %v", i, err)
		}
	}
	if !c.AwaitCompletion(2 * time.Second) {
		t.Fatalf("expected all five batches to complete")
	}
	if h1.writeCount() != 5 {
		t.Fatalf("expected all five batches written, got %d", h1.writeCount())
	}
}

func TestCoordinator_ListenerPanicDoesNotBreakDispatch(t *testing.T) {
	h1 := newRecordingClient("h1")
	factory := func(host string) roster.HostClient { return h1 }

	c := New(discardLogger()).WithBatchSize(1)
	c.WithForestConfig(staticForests{hosts: []string{"h1"}}, factory)
	if err := c.Start(JobTicket{JobID: "job5"}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer c.Stop()

	secondCalled := make(chan struct{}, 1)
	if err := c.OnBatchSuccess(func(batch.WriteBatch) { panic("boom") }); err != nil {
		t.Fatalf("OnBatchSuccess failed: %v", err)
	}
	if err := c.OnBatchSuccess(func(batch.WriteBatch) { secondCalled <- struct{}{} }); err != nil {
		t.Fatalf("OnBatchSuccess failed: %v", err)
	}

	if err := c.AddOp(newOp("uri-0")); err != nil {
		t.Fatalf("AddOp failed: %v", err)
	}

	select {
	case <-secondCalled:
	case <-time.After(time.Second):
		t.Fatalf("expected the second listener to run despite the first panicking")
	}
}

func TestCoordinator_FlushAfterStopReturnsStoppedError(t *testing.T) {
	h1 := newRecordingClient("h1")
	factory := func(host string) roster.HostClient { return h1 }

	c := New(discardLogger()).WithBatchSize(1)
	c.WithForestConfig(staticForests{hosts: []string{"h1"}}, factory)
	if err := c.Start(JobTicket{JobID: "job6"}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	for i := 0; i < 3; i++ {
		c.pending.Append(newOp(fmt.Sprintf("uri-%d", i)))
	}

	if err := c.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	if err := c.FlushAsync(); !errors.As(err, new(*StoppedError)) {
		t.Fatalf("expected FlushAsync after Stop to return a StoppedError, got %v", err)
	}
}

func TestCoordinator_ConfigSetterAfterStartIsSticky(t *testing.T) {
	h1 := newRecordingClient("h1")
	factory := func(host string) roster.HostClient { return h1 }

	c := New(discardLogger())
	c.WithForestConfig(staticForests{hosts: []string{"h1"}}, factory)
	if err := c.Start(JobTicket{JobID: "job7"}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer c.Stop()

	c.WithBatchSize(5)

	if err := c.AddOp(newOp("uri-0")); err == nil {
		t.Fatalf("expected AddOp to surface the sticky config error from the post-start setter call")
	} else if !errors.As(err, new(*ConfigError)) {
		t.Fatalf("expected a ConfigError, got %v", err)
	}
}

func TestCoordinator_WithForestConfigRebuildsRosterBeforeStart(t *testing.T) {
	h1 := newRecordingClient("h1")
	factory := func(host string) roster.HostClient { return h1 }

	c := New(discardLogger())
	if len(c.Roster()) != 0 {
		t.Fatalf("expected an empty roster before any WithForestConfig call")
	}
	c.WithForestConfig(staticForests{hosts: []string{"h1"}}, factory)

	if len(c.Roster()) != 1 {
		t.Fatalf("expected WithForestConfig to rebuild the roster immediately, even before Start, got %d entries", len(c.Roster()))
	}
}

func TestCoordinator_JournalRecordsSuccessAndFailure(t *testing.T) {
	h1 := newRecordingClient("h1")
	h1.failTimes = 1
	factory := func(host string) roster.HostClient { return h1 }

	jw := &fakeJournal{}
	c := New(discardLogger()).WithBatchSize(1)
	c.WithJournal(jw)
	c.WithForestConfig(staticForests{hosts: []string{"h1"}}, factory)
	if err := c.Start(JobTicket{JobID: "job8"}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if err := c.AddOp(newOp("uri-0")); err != nil {
		t.Fatalf("AddOp failed: %v", err)
	}
	if err := c.AddOp(newOp("uri-1")); err != nil {
		t.Fatalf("AddOp failed: %v", err)
	}
	if !c.AwaitCompletion(time.Second) {
		t.Fatalf("expected both batches to complete")
	}
	if err := c.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	recs := jw.records()
	if len(recs) != 2 {
		t.Fatalf("expected 2 journal records, got %d", len(recs))
	}
	if !jw.closed {
		t.Fatalf("expected Stop to close the journal writer")
	}

	var sawSuccess, sawFailure bool
	for _, r := range recs {
		if r.Outcome == "success" {
			sawSuccess = true
		}
		if r.Outcome == "failure" {
			sawFailure = true
		}
	}
	if !sawSuccess || !sawFailure {
		t.Fatalf("expected one success and one failure record, got %+v", recs)
	}
}

type fakeJournal struct {
	mu     sync.Mutex
	recs   []JournalRecord
	closed bool
}

func (f *fakeJournal) Append(ctx context.Context, rec JournalRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recs = append(f.recs, rec)
	return nil
}

func (f *fakeJournal) Close() error {
	f.closed = true
	return nil
}

func (f *fakeJournal) records() []JournalRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]JournalRecord, len(f.recs))
	copy(out, f.recs)
	return out
}
