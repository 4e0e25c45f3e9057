package region

import (
	"context"
	"sort"

	rs "github.com/sharedcode/regionserver"
	"github.com/sharedcode/regionserver/wal"
)

// Get returns the newest version of (row, column), or nil if absent/deleted.
func (r *Region) Get(ctx context.Context, row []byte, column string) (*rs.Cell, error) {
	cells, err := r.GetFull(ctx, row, column, 1)
	if err != nil || len(cells) == 0 {
		return nil, err
	}
	return &cells[0], nil
}

// GetFull returns up to nVersions versions of (row, column), newest first,
// merged across the memcache and every store file in the family, with
// tombstones suppressing older on-disk versions.
func (r *Region) GetFull(ctx context.Context, row []byte, column string, nVersions int) ([]rs.Cell, error) {
	if err := r.requireOpenForRead(); err != nil {
		return nil, err
	}
	family, _, err := splitColumn(column)
	if err != nil {
		return nil, rs.NewError(rs.Io, err, column)
	}
	s, err := r.store(family)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	fromMem := s.memcache.rawColumn(row, column)
	s.mu.RUnlock()

	diskCells, err := s.diskColumn(row, column)
	if err != nil {
		return nil, err
	}
	all := append(append([]rs.Cell(nil), fromMem...), diskCells...)
	sort.SliceStable(all, func(i, j int) bool { return all[i].Less(all[j]) })

	var out []rs.Cell
	tombstoned := false
	for _, c := range all {
		if len(out) > 0 && out[len(out)-1].Timestamp == c.Timestamp {
			continue
		}
		if c.Tombstone {
			tombstoned = true
			continue
		}
		if tombstoned {
			continue
		}
		out = append(out, c)
		if nVersions > 0 && len(out) >= nVersions {
			break
		}
	}
	return out, nil
}

// StartUpdate acquires row's lock and returns a lock id the caller uses for
// subsequent put/delete/commit/abort calls against the same row.
func (r *Region) StartUpdate(ctx context.Context, row []byte) (rs.UUID, error) {
	if err := r.requireOpenForWrite(); err != nil {
		return rs.NilUUID, err
	}
	lockID := r.txns.begin(row)
	r.locks.acquire(row, lockID)
	return lockID, nil
}

// Put buffers a cell write under lockID, to be applied on Commit.
func (r *Region) Put(ctx context.Context, lockID rs.UUID, column string, timestamp int64, value []byte) error {
	if err := r.requireOpenForWrite(); err != nil {
		return err
	}
	return r.txns.append(lockID, rs.Cell{Column: column, Timestamp: timestamp, Value: value})
}

// Delete buffers a tombstone write under lockID, to be applied on Commit.
func (r *Region) Delete(ctx context.Context, lockID rs.UUID, column string, timestamp int64) error {
	if err := r.requireOpenForWrite(); err != nil {
		return err
	}
	return r.txns.append(lockID, rs.Cell{Column: column, Timestamp: timestamp, Tombstone: true})
}

// DeleteAll buffers tombstones for every qualifier previously seen at row in
// the given family, reading its current columns from both the memcache and
// every store file so a column already flushed (and evicted from memcache)
// still gets tombstoned.
func (r *Region) DeleteAll(ctx context.Context, lockID rs.UUID, family string, timestamp int64) error {
	if err := r.requireOpenForWrite(); err != nil {
		return err
	}
	row, err := r.txns.row(lockID)
	if err != nil {
		return err
	}

	s, err := r.store(family)
	if err != nil {
		return err
	}
	cols, err := s.columnsForRow(row)
	if err != nil {
		return err
	}
	for _, col := range cols {
		if err := r.txns.append(lockID, rs.Cell{Column: col, Timestamp: timestamp, Tombstone: true}); err != nil {
			return err
		}
	}
	return nil
}

// Commit appends the buffered edits to the shared write-ahead log, applies
// them to each family's memcache, and releases row's lock. A WAL append
// failure leaves the row locked (the caller must retry or abort) and the edits unapplied.
func (r *Region) Commit(ctx context.Context, lockID rs.UUID) error {
	if err := r.requireOpenForWrite(); err != nil {
		return err
	}
	p, err := r.txns.take(lockID)
	if err != nil {
		return err
	}
	if len(p.cells) == 0 {
		r.locks.release(p.row, lockID)
		return nil
	}

	entries := make([]wal.Entry, len(p.cells))
	byFamily := make(map[string][]rs.Cell)
	for i, c := range p.cells {
		c.Row = p.row
		seq := r.log.NextSequenceID()
		entries[i] = wal.Entry{
			SequenceID: seq,
			Region:     r.Name(),
			Row:        p.row,
			Column:     c.Column,
			Timestamp:  c.Timestamp,
			Value:      c.Value,
			Tombstone:  c.Tombstone,
		}
		family, _, ferr := splitColumn(c.Column)
		if ferr != nil {
			r.locks.release(p.row, lockID)
			return rs.NewError(rs.Io, ferr, c.Column)
		}
		byFamily[family] = append(byFamily[family], c)
	}

	if err := r.log.Append(ctx, entries); err != nil {
		// The edits never became durable: put them back so lockID stays valid
		// for a retried Commit or an explicit Abort, instead of stranding the
		// row locked with its pending update already gone.
		r.txns.restore(lockID, p)
		return rs.NewError(rs.Io, err, r.Name())
	}

	for family, cells := range byFamily {
		s, err := r.store(family)
		if err != nil {
			continue
		}
		s.apply(cells)
	}

	r.mu.Lock()
	if last := entries[len(entries)-1].SequenceID; last > r.maxSeq {
		r.maxSeq = last
	}
	r.mu.Unlock()

	r.locks.release(p.row, lockID)
	return nil
}

// Abort discards the buffered edits for lockID and releases row's lock.
func (r *Region) Abort(ctx context.Context, lockID rs.UUID) error {
	p, err := r.txns.take(lockID)
	if err != nil {
		return err
	}
	r.locks.release(p.row, lockID)
	return nil
}

// Flush snapshots and persists every family's memcache. A DroppedSnapshot
// error from any one family is fatal and must be propagated to the caller,
// per the teacher's fatal-abort-the-server convention for an unrecoverable write path.
func (r *Region) Flush(ctx context.Context) error {
	r.mu.RLock()
	seq := r.maxSeq
	stores := make([]*Store, 0, len(r.stores))
	for _, s := range r.stores {
		stores = append(stores, s)
	}
	r.mu.RUnlock()

	for _, s := range stores {
		if err := s.flush(ctx, seq); err != nil {
			return err
		}
	}
	return nil
}

// Compact merges each family's oldest store files, dropping TTL/MaxVersions-expired data.
func (r *Region) Compact(ctx context.Context, filesPerRun int) error {
	r.mu.RLock()
	stores := make([]*Store, 0, len(r.stores))
	for _, s := range r.stores {
		stores = append(stores, s)
	}
	r.mu.RUnlock()

	for _, s := range stores {
		if err := s.compact(ctx, filesPerRun); err != nil {
			return err
		}
	}
	return nil
}

// SizeBytes sums the memcache occupancy of every family, for the Flusher chore's threshold check.
func (r *Region) SizeBytes() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var total int64
	for _, s := range r.stores {
		total += s.sizeBytes()
	}
	return total
}

// NeedsCompaction reports whether any family has accumulated enough files to compact.
func (r *Region) NeedsCompaction(minFilesToCompact int) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.stores {
		if s.needsCompaction(minFilesToCompact) {
			return true
		}
	}
	return false
}

// LargestStoreSize returns the family name and on-disk byte size of the
// region's largest store, for the SplitOrCompactChecker chore's size-based
// split trigger (spec §4.4.2).
func (r *Region) LargestStoreSize(ctx context.Context) (family string, size int64, err error) {
	r.mu.RLock()
	stores := make(map[string]*Store, len(r.stores))
	for name, s := range r.stores {
		stores[name] = s
	}
	r.mu.RUnlock()

	for name, s := range stores {
		n, serr := s.diskSizeBytes()
		if serr != nil {
			return "", 0, serr
		}
		if n > size {
			family, size = name, n
		}
	}
	return family, size, nil
}

// MidKey returns the row key that bisects family's current row set — the
// middle element of its sorted distinct row keys — the split point spec
// §4.4.2 calls for ("compute midKey = middle row of largest store"). ok is
// false when the family has fewer than two distinct rows to split between.
func (r *Region) MidKey(family string) (midKey []byte, ok bool, err error) {
	s, err := r.store(family)
	if err != nil {
		return nil, false, err
	}
	rows, err := s.distinctRows()
	if err != nil {
		return nil, false, err
	}
	if len(rows) < 2 {
		return nil, false, nil
	}
	return rows[len(rows)/2], true, nil
}

func nextRow(row []byte) []byte {
	out := append([]byte(nil), row...)
	return append(out, 0x00)
}
