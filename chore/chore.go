// Package chore implements the region server's background maintenance
// threads: periodic flush, compact-or-split check, and log roll. Grounded on
// the teacher's TaskRunner/JobProcessor errgroup wrapper, each chore runs its
// own ticker loop and snapshots the registry under its read lock rather than
// holding it across the I/O each pass performs.
package chore

import (
	"context"
	log "log/slog"
	"time"

	rs "github.com/sharedcode/regionserver"
	"github.com/sharedcode/regionserver/registry"
	"github.com/sharedcode/regionserver/storefile"
	"github.com/sharedcode/regionserver/wal"
)

// flushable is the subset of region.Region behavior the Flusher chore needs;
// satisfied structurally by *region.Region without chore importing package
// region (which would otherwise own both directions of this dependency).
type flushable interface {
	registry.Region
	SizeBytes() int64
	Flush(ctx context.Context) error
}

// compactable is the subset the SplitOrCompactChecker chore needs for its
// compaction half.
type compactable interface {
	registry.Region
	NeedsCompaction(minFilesToCompact int) bool
	Compact(ctx context.Context, filesPerRun int) error
}

// splitable is the subset the SplitOrCompactChecker chore needs for its
// size-triggered split half (spec §4.4.2).
type splitable interface {
	registry.Region
	LargestStoreSize(ctx context.Context) (family string, size int64, err error)
	MidKey(family string) (midKey []byte, ok bool, err error)
	CloseAndSplit(ctx context.Context, splitKey []byte) (left, right rs.RegionInfo, leftRefs, rightRefs map[string][]storefile.FileRef, err error)
}

// SplitReporter is notified once a region has been split, so the catalog's
// two new child rows can be written and the master told about it on the next
// heartbeat — collaborators the chore itself is deliberately not given a
// direct reference to (spec §9's "pass explicit collaborator objects rather
// than a whole-server reference").
type SplitReporter interface {
	ReportSplit(ctx context.Context, parent string, left, right rs.RegionInfo, leftRefs, rightRefs map[string][]storefile.FileRef)
}

// Flusher periodically flushes any region whose memcache has grown past
// threshold bytes, the chore-driven half of hbase.hregion.max.filesize-style sizing.
type Flusher struct {
	reg       *registry.Registry
	threshold int64
	period    time.Duration
}

// NewFlusher returns a Flusher that checks every period for regions whose
// in-memory size exceeds threshold bytes.
func NewFlusher(reg *registry.Registry, threshold int64, period time.Duration) *Flusher {
	return &Flusher{reg: reg, threshold: threshold, period: period}
}

// Run blocks, flushing oversized regions every period until ctx is canceled.
// A DroppedSnapshot error from any one region's flush is fatal and is
// returned immediately, matching the region server's abort-rather-than-limp convention.
func (f *Flusher) Run(ctx context.Context) error {
	ticker := time.NewTicker(f.period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := f.pass(ctx); err != nil {
				return err
			}
		}
	}
}

func (f *Flusher) pass(ctx context.Context) error {
	for _, reg := range f.reg.Snapshot() {
		fr, ok := reg.(flushable)
		if !ok || fr.SizeBytes() < f.threshold {
			continue
		}
		log.Info("chore: flushing region", "region", fr.Name(), "bytes", fr.SizeBytes())
		if err := fr.Flush(ctx); err != nil {
			if rsErr, isRsErr := err.(rs.Error); isRsErr && rsErr.IsFatal() {
				return err
			}
			log.Warn("chore: flush failed, will retry next pass", "region", fr.Name(), "error", err)
		}
	}
	return nil
}

// SplitOrCompactChecker periodically compacts any region that has
// accumulated minFiles or more store files in a family, then checks each
// region's largest store against maxFilesize and splits it at the middle
// row of that store when it is over threshold (spec §4.4.2).
type SplitOrCompactChecker struct {
	reg         *registry.Registry
	minFiles    int
	filesPerRun int
	maxFilesize int64
	reporter    SplitReporter
	period      time.Duration
}

// NewSplitOrCompactChecker returns a checker that runs every period.
// reporter may be nil, in which case a completed split is simply logged
// (acceptable for a single-node setup with no catalog/master to tell).
func NewSplitOrCompactChecker(reg *registry.Registry, minFiles, filesPerRun int, maxFilesize int64, reporter SplitReporter, period time.Duration) *SplitOrCompactChecker {
	return &SplitOrCompactChecker{reg: reg, minFiles: minFiles, filesPerRun: filesPerRun, maxFilesize: maxFilesize, reporter: reporter, period: period}
}

// Run blocks, compacting and splitting eligible regions every period until ctx is canceled.
func (c *SplitOrCompactChecker) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.pass(ctx)
		}
	}
}

func (c *SplitOrCompactChecker) pass(ctx context.Context) {
	for _, reg := range c.reg.Snapshot() {
		if cr, ok := reg.(compactable); ok && cr.NeedsCompaction(c.minFiles) {
			log.Info("chore: compacting region", "region", cr.Name())
			if err := cr.Compact(ctx, c.filesPerRun); err != nil {
				log.Warn("chore: compaction failed, will retry next pass", "region", cr.Name(), "error", err)
			}
		}
		c.maybeSplit(ctx, reg)
	}
}

func (c *SplitOrCompactChecker) maybeSplit(ctx context.Context, reg registry.Region) {
	if c.maxFilesize <= 0 {
		return
	}
	sr, ok := reg.(splitable)
	if !ok {
		return
	}
	family, size, err := sr.LargestStoreSize(ctx)
	if err != nil {
		log.Warn("chore: largest store size check failed", "region", sr.Name(), "error", err)
		return
	}
	if family == "" || size <= c.maxFilesize {
		return
	}
	midKey, ok, err := sr.MidKey(family)
	if err != nil {
		log.Warn("chore: mid key computation failed", "region", sr.Name(), "family", family, "error", err)
		return
	}
	if !ok {
		return
	}
	log.Info("chore: splitting oversized region", "region", sr.Name(), "family", family, "size", size, "max", c.maxFilesize)
	left, right, leftRefs, rightRefs, err := sr.CloseAndSplit(ctx, midKey)
	if err != nil {
		log.Warn("chore: split failed, will retry next pass", "region", sr.Name(), "error", err)
		return
	}
	if c.reporter != nil {
		c.reporter.ReportSplit(ctx, sr.Name(), left, right, leftRefs, rightRefs)
	} else {
		log.Info("chore: split completed with no reporter configured", "left", left.Name(), "right", right.Name())
	}
}

// LogRoller rolls the shared write-ahead log once it accumulates maxEntries,
// matching hbase.regionserver.maxlogentries.
type LogRoller struct {
	log        *wal.Log
	maxEntries int
	period     time.Duration
}

// NewLogRoller returns a roller that checks every period.
func NewLogRoller(l *wal.Log, maxEntries int, period time.Duration) *LogRoller {
	return &LogRoller{log: l, maxEntries: maxEntries, period: period}
}

// Run blocks, rolling the log every period it is over threshold, until ctx is canceled.
func (r *LogRoller) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if r.log.EntryCount() < r.maxEntries {
				continue
			}
			log.Info("chore: rolling write-ahead log", "entries", r.log.EntryCount())
			if err := r.log.Roll(); err != nil {
				log.Error("chore: log roll failed", "error", err)
			}
		}
	}
}
