package coordinator

import (
	"context"
	"time"
)

// JournalRecord is one durable audit row for a completed BatchTask. The
// concrete writer (internal/journal) batches these internally; the
// coordinator appends one per terminal outcome and does not wait for the
// write to land.
type JournalRecord struct {
	BatchNumber uint64
	Host        string
	ItemCount   int
	Outcome     string
	Err         string
	RecordedAt  time.Time
}

// JournalWriter is the out-of-process audit sink. internal/journal ships a
// Postgres-backed implementation; the coordinator only depends on this
// interface so it never needs to import pgx.
type JournalWriter interface {
	Append(ctx context.Context, rec JournalRecord) error
	Close() error
}
