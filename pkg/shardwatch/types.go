// Package shardwatch implements a supervisor that discovers every local
// shard database whose name carries a configured suffix, keeps one
// change-feed reader running per shard, and surfaces found/created/deleted/
// change events to an application-supplied Callback.
package shardwatch

import (
	"strings"

	"github.com/edgeflare/pgo/pkg/pipeline/cdc"
	"github.com/jackc/pglogrepl"
)

// ShardName identifies one physical shard database, e.g.
// "acct.suff.0123456789".
type ShardName string

// Sequence is the opaque, monotonically-usable resume token produced by a
// shard's change feed. Zero denotes "from the beginning"; PostgresDialer
// starts such a feed at the server's current WAL position instead.
type Sequence = pglogrepl.LSN

// NoSequence is the zero value of Sequence, the position a shard without a
// recorded checkpoint is read from.
const NoSequence Sequence = 0

// WorkerID identifies a single live Change-Reader goroutine.
type WorkerID string

// DesignDocPrefix marks a row as a reserved/system row. When
// Options.SkipDesignDocs is set, rows whose ID carries this prefix never
// reach the Callback's DBChange.
const DesignDocPrefix = "_design/"

// IsDesignDoc reports whether id carries the reserved design-document prefix.
func IsDesignDoc(id string) bool {
	return strings.HasPrefix(id, DesignDocPrefix)
}

// SuffixOf returns the trailing dotted component of a shard or database
// name, e.g. SuffixOf("acct.suff.0123456789") == "0123456789".
func SuffixOf(name string) string {
	idx := strings.LastIndex(name, ".")
	if idx < 0 {
		return name
	}
	return name[idx+1:]
}

// Row is one change-feed record handed from a Reader to the Supervisor.
type Row struct {
	// ID is the row's primary-key-derived identifier, used for the
	// design-document filter.
	ID string
	// Deleted reports whether this row represents a deletion.
	Deleted bool
	// Event is the decoded CDC payload (before/after images, source metadata).
	Event cdc.Event
}

// CheckpointEntry is the Supervisor's per-shard bookkeeping record
// (spec.md §3 "Checkpoint entry").
type CheckpointEntry struct {
	Shard         ShardName
	EndSeq        Sequence
	RescanPending bool
	// Worker is empty when no reader is currently running for this shard.
	Worker WorkerID
}

func (e CheckpointEntry) hasWorker() bool { return e.Worker != "" }
