package region

import (
	"context"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	rs "github.com/sharedcode/regionserver"
	"github.com/sharedcode/regionserver/cache"
	"github.com/sharedcode/regionserver/storefile"
)

// diskColumnCacheCapacity bounds the L1 cache's size: a get/scan-heavy region
// keeps its hottest (fileset-generation, row, column) lookups resident instead
// of re-reading every on-disk store file on each request.
const diskColumnCacheCapacity = 4096

// Store is all cells of one column family within one region: a memcache plus
// an ordered (newest-first) list of immutable store files. Guarded by a
// single lock per the concurrency model: writers are flush/compact's file-list
// swap and memcache apply; readers are scan-iterator construction.
type Store struct {
	mu     sync.RWMutex
	family rs.FamilyDescriptor
	dir    string

	memcache *memcache
	files    []*storefile.File
	refs     []storefile.FileRef

	nextFileID int
	flushSeq   uint64

	// fileGen increments every time the file list changes (flush or compact),
	// invalidating any readCache entry computed against the previous file set.
	fileGen   int
	readCache cache.Cache[string, []rs.Cell]

	// archive is non-nil when the family opts into cold off-box durability:
	// every file compaction produces is also uploaded here, best-effort.
	archive     *storefile.S3Archive
	archiveName string
}

func newStore(regionDir, regionName string, family rs.FamilyDescriptor) *Store {
	s := &Store{
		family:      family,
		dir:         filepath.Join(regionDir, regionName, family.Name),
		memcache:    newMemcache(),
		readCache:   cache.NewCache[string, []rs.Cell](diskColumnCacheCapacity/2, diskColumnCacheCapacity),
		archiveName: regionName + "/" + family.Name,
	}
	if family.ArchiveBucket != "" {
		s.archive = storefile.NewS3Archive(storefile.S3Config{
			HostEndpointURL: family.ArchiveEndpoint,
			Region:          family.ArchiveRegion,
			AccessKeyID:     family.ArchiveAccessKeyID,
			SecretAccessKey: family.ArchiveSecretAccessKey,
			Bucket:          family.ArchiveBucket,
		})
	}
	return s
}

// apply commits cells into the memcache under the store lock; readers never
// observe a half-applied commit because this is the only path that mutates it.
func (s *Store) apply(cells []rs.Cell) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.memcache.put(cells)
}

// sizeBytes approximates memcache occupancy for the Flusher chore's threshold check.
func (s *Store) sizeBytes() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.memcache.sizeBytes()
}

// flush snapshots the memcache, writes it to a new store file in sorted
// order, and atomically promotes the file into the file list. If writing
// the snapshot fails, flush returns DroppedSnapshot (fatal): the memcache
// has already been swapped to empty.
func (s *Store) flush(ctx context.Context, flushSeq uint64) error {
	s.mu.Lock()
	snapshot := s.memcache.snapshot()
	s.mu.Unlock()

	if len(snapshot) == 0 {
		return nil
	}

	sort.Slice(snapshot, func(i, j int) bool { return snapshot[i].Less(snapshot[j]) })

	s.mu.Lock()
	path := s.nextFilePathLocked()
	s.mu.Unlock()

	f, err := s.writeStoreFile(path, snapshot, s.family.IsValueDataActivelyPersisted)
	if err != nil {
		// Snapshot bytes never made it to disk; memcache already swapped to empty
		// means this data is gone unless the WAL still covers it on replay.
		return rs.NewError(rs.DroppedSnapshot, err, s.dir)
	}

	s.mu.Lock()
	s.files = append([]*storefile.File{f}, s.files...) // newest first
	s.flushSeq = flushSeq
	s.fileGen++
	s.mu.Unlock()
	return nil
}

// flushSeqID is the WAL sequence id as of the last successful flush; used by
// replay to skip entries a region no longer needs from the WAL tail.
func (s *Store) flushSeqID() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.flushSeq
}

// needsCompaction reports whether the store has accumulated enough small
// files to be worth merging, per the SplitOrCompactChecker chore.
func (s *Store) needsCompaction(minFilesToCompact int) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.files) >= minFilesToCompact
}

// compact merges the oldest files into one, dropping cells shadowed by a
// tombstone older than the family TTL or beyond MaxVersions, fsyncs the
// result, then atomically swaps the file list and deletes the inputs.
func (s *Store) compact(ctx context.Context, n int) error {
	s.mu.Lock()
	if len(s.files) < 2 {
		s.mu.Unlock()
		return nil
	}
	if n <= 0 || n > len(s.files) {
		n = len(s.files)
	}
	// Oldest files are at the tail (list is newest-first).
	toMerge := s.files[len(s.files)-n:]
	s.mu.Unlock()

	var all []rs.Cell
	for _, f := range toMerge {
		cells, err := s.readStoreFile(f)
		if err != nil {
			return rs.NewError(rs.Io, err, f.Path)
		}
		all = append(all, cells...)
	}
	merged := s.dropObsolete(all)

	s.mu.Lock()
	path := s.nextFilePathLocked()
	s.mu.Unlock()

	newFile, err := s.writeStoreFile(path, merged, false)
	if err != nil {
		return rs.NewError(rs.Io, err, path)
	}

	s.mu.Lock()
	kept := s.files[:len(s.files)-n]
	s.files = append(kept, newFile)
	s.fileGen++
	s.mu.Unlock()

	for _, f := range toMerge {
		_ = storefile.DeleteFile(f, s.erasureConfig())
	}

	if s.archive != nil {
		// Best-effort: a failed upload just means this generation's data stays
		// local-disk-only until the next compaction retries it.
		_ = s.archive.ArchiveCells(ctx, s.archiveName+"/"+filepath.Base(newFile.Path), merged)
	}
	return nil
}

// dropObsolete applies the family's TTL and MaxVersions retention policy,
// suppressing versions shadowed by a tombstone.
func (s *Store) dropObsolete(cells []rs.Cell) []rs.Cell {
	sort.Slice(cells, func(i, j int) bool { return cells[i].Less(cells[j]) })

	var out []rs.Cell
	var curRow, curCol string
	versions := 0
	tombstoneAt := int64(-1)
	for _, c := range cells {
		if string(c.Row) != curRow || c.Column != curCol {
			curRow, curCol = string(c.Row), c.Column
			versions = 0
			tombstoneAt = -1
		}
		if tombstoneAt >= 0 && c.Timestamp <= tombstoneAt {
			continue
		}
		if c.Tombstone {
			tombstoneAt = c.Timestamp
		}
		if s.family.TTL > 0 && isExpired(c.Timestamp, s.family.TTL) {
			continue
		}
		if s.family.MaxVersions > 0 && versions >= s.family.MaxVersions {
			continue
		}
		versions++
		out = append(out, c)
	}
	return out
}

// erasureConfig translates the family's flat erasure fields into the
// storefile package's config struct, applying a sane default shard split
// when the family enables erasure coding without naming explicit counts.
func (s *Store) erasureConfig() storefile.ErasureCodingConfig {
	cfg := storefile.ErasureCodingConfig{DataShards: s.family.ErasureDataShards, ParityShards: s.family.ErasureParityShards}
	if cfg.DataShards <= 0 {
		cfg.DataShards = 2
	}
	if cfg.ParityShards <= 0 {
		cfg.ParityShards = 1
	}
	return cfg
}

// writeStoreFile persists cells per the family's durability policy:
// erasure-coded shards when the family opts in, else a single file through
// the direct-I/O-or-buffered path chosen by useDirectIO.
func (s *Store) writeStoreFile(path string, cells []rs.Cell, useDirectIO bool) (*storefile.File, error) {
	if s.family.ErasureCoded {
		if err := storefile.WriteErasureCoded(path, cells, s.erasureConfig()); err != nil {
			return nil, err
		}
		return &storefile.File{Path: path, Count: len(cells), ErasureCoded: true}, nil
	}
	return storefile.Write(path, cells, useDirectIO)
}

// readStoreFile loads f's cells back, following whichever format it was
// written in.
func (s *Store) readStoreFile(f *storefile.File) ([]rs.Cell, error) {
	if f.ErasureCoded {
		return storefile.ReadErasureCoded(f.Path, s.erasureConfig())
	}
	return storefile.Read(f.Path)
}

func (s *Store) nextFilePathLocked() string {
	id := s.nextFileID
	s.nextFileID++
	return filepath.Join(s.dir, rs.NewUUID().String()+"-"+itoa(id))
}

// storefileHandle is a read-only handle to one immutable store file, scoped
// to a FileRef's bounds when the file is a split child's parent reference.
type storefileHandle struct {
	path         string
	erasureCoded bool
	erasureCfg   storefile.ErasureCodingConfig
	ref          *storefile.FileRef
}

// fileHandles returns a handle per current store file; caller must hold at
// least a read lock on the Store.
func (s *Store) fileHandles() []*storefileHandle {
	handles := make([]*storefileHandle, len(s.files))
	for i, f := range s.files {
		handles[i] = &storefileHandle{path: f.Path, erasureCoded: f.ErasureCoded, erasureCfg: s.erasureConfig()}
	}
	return handles
}

// diskColumn returns every on-disk version of (row, column) across the
// store's current file set, serving from the L1 read cache when the file set
// hasn't changed since the entry was computed. Caller must not hold s.mu.
func (s *Store) diskColumn(row []byte, column string) ([]rs.Cell, error) {
	s.mu.RLock()
	gen := s.fileGen
	files := s.fileHandles()
	s.mu.RUnlock()

	key := strconv.Itoa(gen) + ":" + string(row) + ":" + column
	if hit := s.readCache.Get([]string{key}); len(hit) == 1 && hit[0] != nil {
		return hit[0], nil
	}

	var out []rs.Cell
	for _, f := range files {
		cells, err := f.readColumn(row, column)
		if err != nil {
			return nil, err
		}
		out = append(out, cells...)
	}
	s.readCache.Set([]rs.KeyValuePair[string, []rs.Cell]{{Key: key, Value: out}})
	return out, nil
}

// diskSizeBytes sums the on-disk footprint of the store's current file set
// (memcache is tracked separately by sizeBytes), for the SplitOrCompactChecker
// chore's size-based split trigger.
func (s *Store) diskSizeBytes() (int64, error) {
	s.mu.RLock()
	files := append([]*storefile.File(nil), s.files...)
	cfg := s.erasureConfig()
	s.mu.RUnlock()

	var total int64
	for _, f := range files {
		n, err := storefile.Size(f, cfg)
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

// distinctRows returns the store's distinct row keys, across the memcache
// and every current store file, in ascending order — used to compute the
// split midpoint (spec §4.4.2's "middle row of largest store").
func (s *Store) distinctRows() ([][]byte, error) {
	s.mu.RLock()
	fromMem := s.memcache.raw(nil, nil)
	files := s.fileHandles()
	s.mu.RUnlock()

	seen := make(map[string]struct{})
	var rows [][]byte
	add := func(row []byte) {
		k := string(row)
		if _, ok := seen[k]; ok {
			return
		}
		seen[k] = struct{}{}
		rows = append(rows, row)
	}
	for _, c := range fromMem {
		add(c.Row)
	}
	for _, f := range files {
		fileRows, err := f.distinctRows()
		if err != nil {
			return nil, err
		}
		for _, row := range fileRows {
			add(row)
		}
	}
	sort.Slice(rows, func(i, j int) bool { return string(rows[i]) < string(rows[j]) })
	return rows, nil
}

// columnsForRow returns the distinct set of columns row has any version of,
// in the memcache or in any current store file, for DeleteAll — a row whose
// cells have all been flushed and evicted from memcache must still have its
// columns enumerable here, or DeleteAll would silently tombstone nothing.
func (s *Store) columnsForRow(row []byte) ([]string, error) {
	s.mu.RLock()
	fromMem := s.memcache.raw(row, nextRow(row))
	files := s.fileHandles()
	s.mu.RUnlock()

	seen := make(map[string]struct{})
	var out []string
	add := func(column string) {
		if _, ok := seen[column]; ok {
			return
		}
		seen[column] = struct{}{}
		out = append(out, column)
	}
	for _, c := range fromMem {
		add(c.Column)
	}
	for _, f := range files {
		cols, err := f.columnsForRow(row)
		if err != nil {
			return nil, err
		}
		for _, col := range cols {
			add(col)
		}
	}
	return out, nil
}

// columnsForRow returns the distinct columns row has any version of in the
// handle's file.
func (h *storefileHandle) columnsForRow(row []byte) ([]string, error) {
	if h.ref != nil && !h.ref.InBounds(row) {
		return nil, nil
	}
	var cells []rs.Cell
	var err error
	if h.erasureCoded {
		cells, err = storefile.ReadErasureCoded(h.path, h.erasureCfg)
	} else {
		cells, err = storefile.Read(h.path)
	}
	if err != nil {
		return nil, rs.NewError(rs.Io, err, h.path)
	}
	seen := make(map[string]struct{})
	var out []string
	for _, c := range cells {
		if string(c.Row) != string(row) {
			continue
		}
		if _, ok := seen[c.Column]; ok {
			continue
		}
		seen[c.Column] = struct{}{}
		out = append(out, c.Column)
	}
	return out, nil
}

// distinctRows returns the distinct row keys present in the handle's file.
func (h *storefileHandle) distinctRows() ([][]byte, error) {
	var cells []rs.Cell
	var err error
	if h.erasureCoded {
		cells, err = storefile.ReadErasureCoded(h.path, h.erasureCfg)
	} else {
		cells, err = storefile.Read(h.path)
	}
	if err != nil {
		return nil, rs.NewError(rs.Io, err, h.path)
	}
	seen := make(map[string]struct{})
	var out [][]byte
	for _, c := range cells {
		if h.ref != nil && !h.ref.InBounds(c.Row) {
			continue
		}
		k := string(c.Row)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, c.Row)
	}
	return out, nil
}

// readColumn loads every version of (row, column) from the handle's file.
func (h *storefileHandle) readColumn(row []byte, column string) ([]rs.Cell, error) {
	if h.ref != nil && !h.ref.InBounds(row) {
		return nil, nil
	}
	var cells []rs.Cell
	var err error
	if h.erasureCoded {
		cells, err = storefile.ReadErasureCoded(h.path, h.erasureCfg)
	} else {
		cells, err = storefile.Read(h.path)
	}
	if err != nil {
		return nil, rs.NewError(rs.Io, err, h.path)
	}
	var out []rs.Cell
	for _, c := range cells {
		if string(c.Row) == string(row) && c.Column == column {
			out = append(out, c)
		}
	}
	return out, nil
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var b []byte
	for n > 0 {
		b = append([]byte{byte('0' + n%10)}, b...)
		n /= 10
	}
	if neg {
		b = append([]byte{'-'}, b...)
	}
	return string(b)
}

func isExpired(ts int64, ttl time.Duration) bool {
	return time.Since(time.UnixMilli(ts)) > ttl
}
