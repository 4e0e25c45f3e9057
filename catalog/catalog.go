// Package catalog implements the root/meta table model: a shared, cluster-
// visible record of every region's descriptor, current host, and (once
// split) the two child region names. Grounded on the teacher's cassandra
// registry (gocql, static Config/Connection) for the cluster-visible backend
// and fs.StoreRepository's lock-list/read/mutate/write-tmp/finalize/unlock
// sequence for the filesystem-backed fallback used offline and in tests.
package catalog

import (
	"context"
	"time"

	rs "github.com/sharedcode/regionserver"
	"github.com/sharedcode/regionserver/storefile"
)

// Row is one catalog entry: a region's descriptor plus its current
// assignment, keyed by RegionInfo.Name(). info:splitA/info:splitB record a
// split parent's children; nothing in this module clears them.
type Row struct {
	Info      rs.RegionInfo `json:"info"`
	Server    string        `json:"server"`
	StartCode int64         `json:"start_code"`
	SplitA    string        `json:"split_a,omitempty"`
	SplitB    string        `json:"split_b,omitempty"`
	// ParentRefs records, per family, a freshly split child's references into
	// its parent's still-live store files (region.CloseAndSplit's
	// leftRefs/rightRefs). It is stored with the row only: opening a region
	// does not read it, and nothing in this module clears it.
	ParentRefs map[string][]storefile.FileRef `json:"parent_refs,omitempty"`
}

// Backend is the storage abstraction both the Cassandra-backed and
// filesystem-backed catalog implementations satisfy.
type Backend interface {
	// Get returns the row for name, or ok=false if absent.
	Get(ctx context.Context, name string) (Row, bool, error)
	// Put inserts or replaces the row for name.
	Put(ctx context.Context, row Row) error
	// Delete removes the row for name, if present.
	Delete(ctx context.Context, name string) error
	// ListTable returns every row for the given table name.
	ListTable(ctx context.Context, table string) ([]Row, error)
	// Lock acquires an exclusive, TTL-bounded lock over the given row names, for
	// the duration of a merge's read-mutate-write sequence; the returned func
	// releases it. Acquiring a lock already held by another caller fails.
	Lock(ctx context.Context, names []string, duration time.Duration) (unlock func(), err error)
}

const defaultLockDuration = 10 * time.Minute
