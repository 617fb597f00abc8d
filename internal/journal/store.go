// Package journal is a Postgres-backed audit trail of batch outcomes,
// batching inserts internally via the pgx COPY protocol on its own flush
// timer, independent of the coordinator's own batch size. Grounded on the
// teacher's poller.BatchWriter, which uses the same submit-channel plus
// size-or-interval flush shape for its metrics pipeline.
package journal

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nmslite/docwriter/internal/coordinator"
)

// Store implements coordinator.JournalWriter.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger

	batchSize     int
	flushInterval time.Duration

	submitCh chan coordinator.JournalRecord

	batchMu      sync.Mutex
	currentBatch []coordinator.JournalRecord

	stopCh    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewStore constructs a Store. batchSize and flushInterval below 1 default
// to 500 records / 2 seconds, mirroring NewBatchWriter's defaulting.
func NewStore(pool *pgxpool.Pool, batchSize int, flushInterval time.Duration, logger *slog.Logger) *Store {
	if batchSize <= 0 {
		batchSize = 500
	}
	if flushInterval <= 0 {
		flushInterval = 2 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		pool:          pool,
		logger:        logger,
		batchSize:     batchSize,
		flushInterval: flushInterval,
		submitCh:      make(chan coordinator.JournalRecord, batchSize*2),
		currentBatch:  make([]coordinator.JournalRecord, 0, batchSize),
		stopCh:        make(chan struct{}),
	}
}

// Append enqueues rec for the next flush. Blocks only if the submit channel
// is full; returns ctx's error if ctx is done first.
func (s *Store) Append(ctx context.Context, rec coordinator.JournalRecord) error {
	select {
	case s.submitCh <- rec:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("journal: append cancelled: %w", ctx.Err())
	}
}

// Run drives the flush loop until ctx is done or Close is called. Intended
// to be started in its own goroutine by the embedding application, exactly
// how main starts poller.BatchWriter.Run.
func (s *Store) Run(ctx context.Context) error {
	s.wg.Add(1)
	defer s.wg.Done()

	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := s.flush(context.Background()); err != nil {
				s.logger.Error("journal: final flush failed", "error", err)
			}
			return ctx.Err()

		case <-s.stopCh:
			if err := s.flush(context.Background()); err != nil {
				s.logger.Error("journal: final flush failed", "error", err)
			}
			return nil

		case rec := <-s.submitCh:
			s.batchMu.Lock()
			s.currentBatch = append(s.currentBatch, rec)
			full := len(s.currentBatch) >= s.batchSize
			s.batchMu.Unlock()

			if full {
				if err := s.flush(ctx); err != nil {
					s.logger.Error("journal: flush on batch size failed", "error", err)
				}
			}

		case <-ticker.C:
			s.batchMu.Lock()
			hasData := len(s.currentBatch) > 0
			s.batchMu.Unlock()

			if hasData {
				if err := s.flush(ctx); err != nil {
					s.logger.Error("journal: periodic flush failed", "error", err)
				}
			}
		}
	}
}

func (s *Store) flush(ctx context.Context) error {
	s.batchMu.Lock()
	if len(s.currentBatch) == 0 {
		s.batchMu.Unlock()
		return nil
	}
	batch := s.currentBatch
	s.currentBatch = make([]coordinator.JournalRecord, 0, s.batchSize)
	s.batchMu.Unlock()

	rows := make([][]any, len(batch))
	for i, rec := range batch {
		rows[i] = []any{rec.BatchNumber, rec.Host, rec.ItemCount, rec.Outcome, rec.Err, rec.RecordedAt}
	}

	_, err := s.pool.CopyFrom(
		ctx,
		pgx.Identifier{"batch_journal"},
		[]string{"batch_number", "host", "item_count", "outcome", "error", "recorded_at"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("journal: copy into batch_journal: %w", err)
	}
	return nil
}

// Close signals Run to flush whatever remains and stop, then waits for it
// to exit.
func (s *Store) Close() error {
	s.closeOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
	return nil
}
