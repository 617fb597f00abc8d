// Package roster tracks the current set of hosts with writable shards and
// the per-host client used to dispatch batches to them. Rebuilding the
// roster on a topology change is the trigger for coordinator failover.
package roster

import (
	"context"

	"github.com/nmslite/docwriter/internal/writeop"
)

// HostClient is the out-of-scope collaborator that actually moves bytes to
// one cluster host. Production callers supply their own implementation;
// internal/hostclient ships a reference HTTP-based one.
type HostClient interface {
	// Host returns the stable identity used for round-robin equality and
	// roster membership comparisons.
	Host() string
	// Write performs a bulk write of ops using transform (empty for none).
	Write(ctx context.Context, ops []writeop.WriteOp, transform string) error
	// WriteTemporal performs a bulk write into a temporal collection using
	// content-format "unknown", per the plain-vs-temporal split in the
	// BatchTask write path.
	WriteTemporal(ctx context.Context, ops []writeop.WriteOp, transform, temporalCollection string) error
}

// Forest describes one writable shard as reported by a ForestConfiguration.
type Forest struct {
	DatabaseName string
	Host         string
}

// ForestConfiguration is the cluster-topology oracle. Forests is called by
// WithForestConfig to compute the new host set; it is otherwise opaque to
// this package.
type ForestConfiguration interface {
	Forests(ctx context.Context) ([]Forest, error)
}

// HostFactory mints a HostClient for a newly-seen host name. It is supplied
// by the embedding application (e.g. an HTTP client pool keyed by host).
type HostFactory func(host string) HostClient

// HostEntry pairs a host name with the client used to write to it.
type HostEntry struct {
	HostName string
	Client   HostClient
}

// Roster is the ordered, immutable-once-built set of currently writable
// hosts. Index is the round-robin dispatch key; a new Roster is built
// wholesale on every topology change rather than mutated in place.
type Roster struct {
	entries []HostEntry
}

// New builds a roster directly from a list of clients, preserving order and
// deduplicating by host name (first occurrence wins). Used for the initial
// roster and by tests; production topology changes go through Rebuild.
func New(clients ...HostClient) *Roster {
	seen := make(map[string]bool, len(clients))
	entries := make([]HostEntry, 0, len(clients))
	for _, c := range clients {
		if seen[c.Host()] {
			continue
		}
		seen[c.Host()] = true
		entries = append(entries, HostEntry{HostName: c.Host(), Client: c})
	}
	return &Roster{entries: entries}
}

// Len reports the number of hosts in the roster.
func (r *Roster) Len() int {
	if r == nil {
		return 0
	}
	return len(r.entries)
}

// At returns the entry at the given round-robin index, wrapping modulo the
// roster length. Panics if the roster is empty; callers must check Len()
// first (the coordinator refuses to assemble batches against an empty
// roster).
func (r *Roster) At(index uint64) HostEntry {
	n := uint64(len(r.entries))
	return r.entries[index%n]
}

// Entries returns a defensive copy of the roster's entries in order.
func (r *Roster) Entries() []HostEntry {
	if r == nil {
		return nil
	}
	out := make([]HostEntry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Contains reports whether host is present in the roster.
func (r *Roster) Contains(host string) bool {
	if r == nil {
		return false
	}
	for _, e := range r.entries {
		if e.HostName == host {
			return true
		}
	}
	return false
}

// RebuildResult is the outcome of reconciling an old roster against a fresh
// host set: the new roster plus the set of hosts that left.
type RebuildResult struct {
	Roster  *Roster
	Removed map[string]bool
}

// Rebuild reconciles old against the host names present in forests,
// preserving HostEntry (and therefore HostClient) for hosts that are still
// present and minting a client via factory for hosts seen for the first
// time. Hosts present in old but absent from forests are reported in
// RebuildResult.Removed. Their clients are not released by this package
// (HostClient has no release method); the old Roster is left unchanged.
func Rebuild(old *Roster, forests []Forest, factory HostFactory) RebuildResult {
	wanted := make(map[string]bool, len(forests))
	order := make([]string, 0, len(forests))
	for _, f := range forests {
		if wanted[f.Host] {
			continue
		}
		wanted[f.Host] = true
		order = append(order, f.Host)
	}

	existing := make(map[string]HostEntry)
	if old != nil {
		for _, e := range old.entries {
			existing[e.HostName] = e
		}
	}

	entries := make([]HostEntry, 0, len(order))
	for _, host := range order {
		if e, ok := existing[host]; ok {
			entries = append(entries, e)
			continue
		}
		entries = append(entries, HostEntry{HostName: host, Client: factory(host)})
	}

	removed := make(map[string]bool)
	if old != nil {
		for _, e := range old.entries {
			if !wanted[e.HostName] {
				removed[e.HostName] = true
			}
		}
	}

	return RebuildResult{Roster: &Roster{entries: entries}, Removed: removed}
}
