package batch

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/nmslite/docwriter/internal/queue"
	"github.com/nmslite/docwriter/internal/roster"
	"github.com/nmslite/docwriter/internal/writeop"
)

type stubClient struct{ host string }

func (s *stubClient) Host() string { return s.host }
func (s *stubClient) Write(ctx context.Context, ops []writeop.WriteOp, transform string) error {
	return nil
}
func (s *stubClient) WriteTemporal(ctx context.Context, ops []writeop.WriteOp, transform, coll string) error {
	return nil
}

func singleHostRoster() *atomic.Pointer[roster.Roster] {
	var p atomic.Pointer[roster.Roster]
	p.Store(roster.New(&stubClient{host: "h1"}))
	return &p
}

func twoHostRoster() *atomic.Pointer[roster.Roster] {
	var p atomic.Pointer[roster.Roster]
	p.Store(roster.New(&stubClient{host: "h1"}, &stubClient{host: "h2"}))
	return &p
}

func TestAssembler_FiresExactlyOnceAtBoundary(t *testing.T) {
	pending := queue.New()
	var submitted []WriteBatch
	var mu sync.Mutex
	a := New(pending, singleHostRoster(), Config{BatchSize: 3}, func(wb WriteBatch) {
		mu.Lock()
		submitted = append(submitted, wb)
		mu.Unlock()
	})

	for i := 0; i < 2; i++ {
		a.Add(writeop.WriteOp{URI: "u", OpType: writeop.OpCreate})
	}
	if len(submitted) != 0 {
		t.Fatalf("expected no submission before boundary, got %d", len(submitted))
	}
	a.Add(writeop.WriteOp{URI: "u", OpType: writeop.OpCreate})

	if len(submitted) != 1 {
		t.Fatalf("expected exactly one submission at the boundary, got %d", len(submitted))
	}
	if submitted[0].Size() != 3 {
		t.Fatalf("expected batch size 3, got %d", submitted[0].Size())
	}
	if pending.Len() != 0 {
		t.Fatalf("expected pending queue drained by the fired batch, got len %d", pending.Len())
	}
}

func TestAssembler_BatchSizeOneFiresEveryAdd(t *testing.T) {
	pending := queue.New()
	var count atomic.Int32
	a := New(pending, singleHostRoster(), Config{BatchSize: 1}, func(wb WriteBatch) {
		count.Add(1)
	})
	for i := 0; i < 5; i++ {
		a.Add(writeop.WriteOp{URI: "u", OpType: writeop.OpCreate})
	}
	if count.Load() != 5 {
		t.Fatalf("expected 5 fires for BatchSize=1, got %d", count.Load())
	}
}

func TestAssembler_RoundRobinAcrossTwoHosts(t *testing.T) {
	pending := queue.New()
	var hosts []string
	a := New(pending, twoHostRoster(), Config{BatchSize: 1}, func(wb WriteBatch) {
		hosts = append(hosts, wb.Host.HostName)
	})
	for i := 0; i < 4; i++ {
		a.Add(writeop.WriteOp{URI: "u", OpType: writeop.OpCreate})
	}
	want := []string{"h1", "h2", "h1", "h2"}
	for i := range want {
		if hosts[i] != want[i] {
			t.Fatalf("host[%d] = %s, want %s", i, hosts[i], want[i])
		}
	}
}

func TestAssembler_EmptyRosterSkipsFire(t *testing.T) {
	pending := queue.New()
	var empty atomic.Pointer[roster.Roster]
	empty.Store(roster.New())

	fired := false
	a := New(pending, &empty, Config{BatchSize: 1}, func(wb WriteBatch) {
		fired = true
	})
	a.Add(writeop.WriteOp{URI: "u", OpType: writeop.OpCreate})

	if fired {
		t.Fatalf("expected no submission against an empty roster")
	}
	if pending.Len() != 1 {
		t.Fatalf("expected the op to remain queued, got len %d", pending.Len())
	}
}

func TestAssembler_DefaultMetadataPrependedAndSuppressedWhenEmpty(t *testing.T) {
	pending := queue.New()
	var submitted []WriteBatch
	a := New(pending, singleHostRoster(), Config{
		BatchSize:       1,
		DefaultMetadata: "meta",
		HasDefaultMeta:  true,
	}, func(wb WriteBatch) {
		submitted = append(submitted, wb)
	})

	a.Add(writeop.WriteOp{URI: "u", OpType: writeop.OpCreate})
	if len(submitted) != 1 {
		t.Fatalf("expected one submission, got %d", len(submitted))
	}
	if submitted[0].Size() != 2 {
		t.Fatalf("expected marker + real op, got size %d", submitted[0].Size())
	}
	if submitted[0].RealOpCount() != 1 {
		t.Fatalf("expected RealOpCount 1, got %d", submitted[0].RealOpCount())
	}
	if !submitted[0].Ops[0].IsDefaultMetadata() {
		t.Fatalf("expected default metadata marker to be prepended first")
	}
}

func TestAssembler_ResetBatchCounter(t *testing.T) {
	pending := queue.New()
	var count atomic.Int32
	a := New(pending, singleHostRoster(), Config{BatchSize: 3}, func(wb WriteBatch) {
		count.Add(1)
	})
	a.Add(writeop.WriteOp{URI: "u", OpType: writeop.OpCreate})
	a.Add(writeop.WriteOp{URI: "u", OpType: writeop.OpCreate})
	a.ResetBatchCounter()
	// Two more ops: without the reset the first of them would have hit the
	// boundary (3rd op overall); after the reset it takes a fresh 3 to fire.
	a.Add(writeop.WriteOp{URI: "u", OpType: writeop.OpCreate})
	a.Add(writeop.WriteOp{URI: "u", OpType: writeop.OpCreate})
	if count.Load() != 0 {
		t.Fatalf("expected no fire yet after counter reset, got %d", count.Load())
	}
	a.Add(writeop.WriteOp{URI: "u", OpType: writeop.OpCreate})
	if count.Load() != 1 {
		t.Fatalf("expected exactly one fire once 3 ops accumulate post-reset, got %d", count.Load())
	}
}

func TestAssembler_NextBatchNumberAllocatesAndRoundRobins(t *testing.T) {
	pending := queue.New()
	a := New(pending, twoHostRoster(), Config{BatchSize: 10}, func(wb WriteBatch) {})

	n1, h1, ok1 := a.NextBatchNumber()
	n2, h2, ok2 := a.NextBatchNumber()
	if !ok1 || !ok2 {
		t.Fatalf("expected both allocations to succeed")
	}
	if n1 == n2 {
		t.Fatalf("expected distinct batch numbers, got %d and %d", n1, n2)
	}
	if h1.HostName == h2.HostName {
		t.Fatalf("expected round-robin across two hosts, got %s twice", h1.HostName)
	}
}

func TestAssembler_PrependDefaultMetadataNoopWithoutConfig(t *testing.T) {
	pending := queue.New()
	a := New(pending, singleHostRoster(), Config{BatchSize: 10}, func(wb WriteBatch) {})
	ops := []writeop.WriteOp{{URI: "u", OpType: writeop.OpCreate}}
	out := a.PrependDefaultMetadata(ops)
	if len(out) != 1 {
		t.Fatalf("expected PrependDefaultMetadata to be a no-op without a default handle, got len %d", len(out))
	}
}

func TestAssembler_ConcurrentAddsFireExactlyOncePerBoundary(t *testing.T) {
	pending := queue.New()
	var fires atomic.Int32
	const batchSize = 10
	const producers = 50
	a := New(pending, singleHostRoster(), Config{BatchSize: batchSize}, func(wb WriteBatch) {
		fires.Add(1)
	})

	var wg sync.WaitGroup
	wg.Add(producers)
	for i := 0; i < producers; i++ {
		go func() {
			defer wg.Done()
			a.Add(writeop.WriteOp{URI: "u", OpType: writeop.OpCreate})
		}()
	}
	wg.Wait()

	want := int32(producers / batchSize)
	if fires.Load() != want {
		t.Fatalf("expected exactly %d fires for %d concurrent adds at batch size %d, got %d", want, producers, batchSize, fires.Load())
	}
}
